// Package binding resolves each data slot of a tool to its input channel.
//
// A slot is fed either by an uploaded file or by a path on the backend host.
// A third channel, the result of a previous job, is reserved and cannot be
// selected yet. Switching a slot's mode always discards its value.
package binding

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/toolbox-runner/toolbox/internal/model"
)

var (
	ErrUnknownSlot  = errors.New("binding: unknown data slot")
	ErrUnknownMode  = errors.New("binding: unknown mode")
	ErrModeDisabled = errors.New("binding: mode is not available")
	ErrModeMismatch = errors.New("binding: value does not match the active mode")
)

// Mode is the input channel selected for a slot.
type Mode string

const (
	ModeUpload Mode = "upload"
	ModePath   Mode = "path"
	ModeJob    Mode = "job"
)

// ModeInfo describes a selectable mode.
type ModeInfo struct {
	Mode     Mode
	Label    string
	Disabled bool
}

// Modes lists the modes in presentation order.
func Modes() []ModeInfo {
	return []ModeInfo{
		{Mode: ModeUpload, Label: "Upload File"},
		{Mode: ModePath, Label: "Host Path"},
		{Mode: ModeJob, Label: "Job Result", Disabled: true},
	}
}

// DefaultMode is the mode every slot starts in.
const DefaultMode = ModeUpload

// Kind identifies the value held by a Binding.
type Kind uint8

const (
	KindUnset Kind = iota
	KindUpload
	KindPath
	KindJobResult
)

func (k Kind) String() string {
	switch k {
	case KindUpload:
		return "upload"
	case KindPath:
		return "path"
	case KindJobResult:
		return "job"
	}
	return "unset"
}

// Binding is the resolved value of one slot. Exactly one of File or Path is
// meaningful, selected by Kind. ID is a synthetic identifier stamped on every
// upload so that two uploads sharing a filename stay distinguishable.
type Binding struct {
	Kind Kind
	File *File
	Path string
	ID   uuid.UUID
}

// IsSet reports whether the slot carries a value.
func (b Binding) IsSet() bool { return b.Kind != KindUnset }

// DataBinding maps slot names to their bindings.
type DataBinding map[string]Binding

// Resolver tracks the active mode and value of every data slot of a tool.
// It is safe for concurrent use.
type Resolver struct {
	slots  []string
	exts   map[string]model.Extensions
	logger *slog.Logger

	mu        sync.Mutex
	modes     map[string]Mode
	values    map[string]Binding
	listeners []func(DataBinding)
}

// NewResolver creates a resolver with every declared slot unset and in the
// default mode.
func NewResolver(tool model.Tool, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Resolver{
		slots:  tool.SlotNames(),
		exts:   make(map[string]model.Extensions, len(tool.Data)),
		logger: logger.With("tool", tool.Name),
		modes:  make(map[string]Mode, len(tool.Data)),
		values: make(map[string]Binding, len(tool.Data)),
	}
	for _, s := range r.slots {
		r.modes[s] = DefaultMode
		r.values[s] = Binding{}
		r.exts[s] = tool.Data[s].Extension
	}
	return r
}

// Slots returns the slot names in sorted order.
func (r *Resolver) Slots() []string { return slices.Clone(r.slots) }

// Mode returns the active mode of slot.
func (r *Resolver) Mode(slot string) (Mode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.modes[slot]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownSlot, slot)
	}
	return m, nil
}

// SetMode activates mode for slot and clears the slot's value.
func (r *Resolver) SetMode(slot string, mode Mode) error {
	switch mode {
	case ModeUpload, ModePath:
	case ModeJob:
		return fmt.Errorf("%w: %s", ErrModeDisabled, mode)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	return r.update(slot, func(current Mode) (Binding, error) {
		r.modes[slot] = mode
		return Binding{}, nil
	})
}

// SetUpload binds f to slot. The slot must be in upload mode. A nil file
// clears the slot.
func (r *Resolver) SetUpload(slot string, f *File) error {
	return r.update(slot, func(current Mode) (Binding, error) {
		if current != ModeUpload {
			return Binding{}, fmt.Errorf("%w: %q is in %s mode", ErrModeMismatch, slot, current)
		}
		if f == nil {
			return Binding{}, nil
		}
		b := Binding{Kind: KindUpload, File: f, ID: uuid.New()}
		r.logger.Debug("binding: upload", "slot", slot, "file", f.Name, "binding_id", b.ID)
		if want := r.exts[slot]; !want.Accepts(f.Name) {
			r.logger.Warn("binding: upload extension mismatch", "slot", slot, "file", f.Name, "extension", []string(want))
		}
		return b, nil
	})
}

// ExtensionWarnings describes every uploaded file whose name does not carry
// one of its slot's declared extensions. The backend does not enforce
// extensions, so these are advisory.
func (r *Resolver) ExtensionWarnings() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, slot := range r.slots {
		b := r.values[slot]
		if b.Kind != KindUpload || r.exts[slot].Accepts(b.File.Name) {
			continue
		}
		out = append(out, fmt.Sprintf("%s: %s does not match extension %s",
			slot, b.File.Name, strings.Join(r.exts[slot], ", ")))
	}
	return out
}

// SetPath binds a host path to slot. The slot must be in path mode. An empty
// path is still a bound value.
func (r *Resolver) SetPath(slot, path string) error {
	return r.update(slot, func(current Mode) (Binding, error) {
		if current != ModePath {
			return Binding{}, fmt.Errorf("%w: %q is in %s mode", ErrModeMismatch, slot, current)
		}
		return Binding{Kind: KindPath, Path: path}, nil
	})
}

// Clear unsets slot without changing its mode.
func (r *Resolver) Clear(slot string) error {
	return r.update(slot, func(Mode) (Binding, error) { return Binding{}, nil })
}

// Get returns the current binding of slot.
func (r *Resolver) Get(slot string) (Binding, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.values[slot]
	if !ok {
		return Binding{}, fmt.Errorf("%w: %q", ErrUnknownSlot, slot)
	}
	return b, nil
}

// Resolve returns the binding of every slot, unset ones included.
func (r *Resolver) Resolve() DataBinding {
	r.mu.Lock()
	defer r.mu.Unlock()
	return maps.Clone(DataBinding(r.values))
}

// OnChange registers fn to be called with the resolved binding after every
// successful edit.
func (r *Resolver) OnChange(fn func(DataBinding)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(slices.Clip(r.listeners), fn)
}

func (r *Resolver) update(slot string, fn func(current Mode) (Binding, error)) error {
	r.mu.Lock()
	current, ok := r.modes[slot]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownSlot, slot)
	}
	b, err := fn(current)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	r.values[slot] = b
	snapshot := maps.Clone(DataBinding(r.values))
	listeners := r.listeners
	r.mu.Unlock()

	for _, l := range listeners {
		l(snapshot)
	}
	return nil
}
