package params

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/toolbox-runner/toolbox/internal/model"
)

var (
	// ErrUnknownParameter is returned when editing a name the tool does not declare.
	ErrUnknownParameter = errors.New("params: unknown parameter")

	// ErrTypeMismatch is returned when a value does not fit the declared type.
	ErrTypeMismatch = errors.New("params: type mismatch")

	// ErrIncomplete is returned when a required parameter has no entry.
	ErrIncomplete = errors.New("params: required parameters missing")
)

// Builder maintains the parameterization of one tool across a sequence of
// edits. It is safe for concurrent use.
type Builder struct {
	tool model.Tool

	mu        sync.RWMutex
	current   Parameterization
	listeners []func(Parameterization)

	// defaults that could not be converted to their declared type.
	badDefaults []Violation
}

// NewBuilder seeds a builder with the declared defaults of tool. Parameters
// without a default stay absent until a value is supplied. A default that
// cannot be converted to its declared type is left out and reported by Check.
func NewBuilder(tool model.Tool) *Builder {
	b := &Builder{tool: tool, current: Parameterization{}}
	for _, name := range tool.ParameterNames() {
		p := tool.Parameters[name]
		if !p.HasDefault() {
			continue
		}
		v, err := Convert(p, p.Default)
		if err != nil {
			b.badDefaults = append(b.badDefaults, Violation{
				Parameter: name,
				Message:   fmt.Sprintf("declared default %v is unusable: %v", p.Default, err),
			})
			continue
		}
		b.current[name] = v
	}
	return b
}

// Tool returns the schema the builder was created for.
func (b *Builder) Tool() model.Tool {
	return b.tool
}

// Set replaces the entry for name. The value's kind must match the declared
// type; range and enum membership are not checked here (see Check).
func (b *Builder) Set(name string, v Value) error {
	p, ok := b.tool.Parameters[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownParameter, name)
	}
	if !compatible(p, v) {
		return mismatch(p, v.kind.String())
	}

	b.mu.Lock()
	b.current = b.current.with(name, v)
	snapshot := b.current
	listeners := b.listeners
	b.mu.Unlock()

	for _, fn := range listeners {
		fn(snapshot)
	}
	return nil
}

// SetAny converts raw according to the declared type and then calls Set.
func (b *Builder) SetAny(name string, raw any) error {
	p, ok := b.tool.Parameters[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownParameter, name)
	}
	v, err := Convert(p, raw)
	if err != nil {
		return err
	}
	return b.Set(name, v)
}

// SetAll applies SetAny for every entry, stopping at the first error.
// Entries are applied in sorted key order.
func (b *Builder) SetAll(values map[string]any) error {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		if err := b.SetAny(k, values[k]); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the current value for name.
func (b *Builder) Get(name string) (Value, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.current[name]
	return v, ok
}

// Parameterization returns the current map. Each edit produces a new map, so
// the returned value is never modified afterwards and must not be modified
// by the caller either.
func (b *Builder) Parameterization() Parameterization {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.current
}

// OnChange registers fn to be called with the new parameterization after
// every successful edit.
func (b *Builder) OnChange(fn func(Parameterization)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(slices.Clip(b.listeners), fn)
}

// IsValid reports whether every non-optional parameter has an entry. The
// value itself is not inspected: an explicit empty string counts as present.
func (b *Builder) IsValid() bool {
	return len(b.Missing()) == 0
}

// Missing returns the required parameter names that have no entry, sorted.
func (b *Builder) Missing() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var missing []string
	for _, name := range b.tool.ParameterNames() {
		if b.tool.Parameters[name].Required() && !b.current.Has(name) {
			missing = append(missing, name)
		}
	}
	return missing
}

// Validate returns ErrIncomplete naming the missing parameters, or nil.
func (b *Builder) Validate() error {
	missing := b.Missing()
	if len(missing) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrIncomplete, missing)
}

// Violation is an advisory problem with an assigned value.
type Violation struct {
	Parameter string
	Message   string
}

func (v Violation) String() string {
	return v.Parameter + ": " + v.Message
}

// Check reports out-of-range numbers, enum values outside the declared set,
// and unusable defaults. These are presentation concerns and never block
// submission.
func (b *Builder) Check() []Violation {
	b.mu.RLock()
	current := b.current
	b.mu.RUnlock()

	out := slices.Clone(b.badDefaults)
	for _, name := range b.tool.ParameterNames() {
		v, ok := current[name]
		if !ok {
			continue
		}
		p := b.tool.Parameters[name]
		items := []Value{v}
		if list, isList := v.AsList(); isList {
			items = list
		}
		for _, item := range items {
			if msg := checkItem(p, item); msg != "" {
				out = append(out, Violation{Parameter: name, Message: msg})
			}
		}
	}
	return out
}

func checkItem(p model.Parameter, v Value) string {
	if p.Type == model.ParamEnum {
		s, _ := v.AsString()
		if !slices.Contains(p.Values, s) {
			return fmt.Sprintf("%q is not one of %v", s, p.Values)
		}
		return ""
	}
	n, ok := v.AsFloat()
	if !ok {
		return ""
	}
	if p.Min != nil && n < *p.Min {
		return fmt.Sprintf("%v is below minimum %v", n, *p.Min)
	}
	if p.Max != nil && n > *p.Max {
		return fmt.Sprintf("%v is above maximum %v", n, *p.Max)
	}
	return ""
}
