// Package model defines the domain types exchanged with the tool runner backend.
//
// Tools are declarative schemas (parameters + data slots) published by the
// backend catalog. Jobs are invocations of a tool tracked through the
// backend's execution lifecycle. Both are immutable from the client's point
// of view: they are replaced wholesale on refresh, never patched.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParamType is the declared type of a tool parameter.
type ParamType string

const (
	ParamString   ParamType = "string"
	ParamInteger  ParamType = "integer"
	ParamFloat    ParamType = "float"
	ParamBoolean  ParamType = "boolean"
	ParamEnum     ParamType = "enum"
	ParamDate     ParamType = "date"
	ParamTime     ParamType = "time"
	ParamDateTime ParamType = "datetime"
	ParamStruct   ParamType = "struct"
	// ParamAsset is a string-valued reference used by some tool images.
	ParamAsset ParamType = "asset"
)

// Valid reports whether t is a known parameter type.
func (t ParamType) Valid() bool {
	switch t {
	case ParamString, ParamInteger, ParamFloat, ParamBoolean, ParamEnum,
		ParamDate, ParamTime, ParamDateTime, ParamStruct, ParamAsset:
		return true
	}
	return false
}

// IsNumeric reports whether values of this type are numbers.
func (t ParamType) IsNumeric() bool {
	return t == ParamInteger || t == ParamFloat
}

// IsTemporal reports whether values of this type are ISO-8601 strings.
func (t ParamType) IsTemporal() bool {
	return t == ParamDate || t == ParamTime || t == ParamDateTime
}

// IsStringLike reports whether values of this type travel as JSON strings.
func (t ParamType) IsStringLike() bool {
	return t == ParamString || t == ParamEnum || t == ParamAsset || t.IsTemporal()
}

// Parameter is one declared input parameter of a tool.
type Parameter struct {
	Name        string    `json:"name" yaml:"name"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Type        ParamType `json:"type" yaml:"type"`
	Array       bool      `json:"array,omitempty" yaml:"array,omitempty"`
	Optional    bool      `json:"optional,omitempty" yaml:"optional,omitempty"`
	Default     any       `json:"default,omitempty" yaml:"default,omitempty"`
	Min         *float64  `json:"min,omitempty" yaml:"min,omitempty"`
	Max         *float64  `json:"max,omitempty" yaml:"max,omitempty"`
	Values      []string  `json:"values,omitempty" yaml:"values,omitempty"`
}

// HasDefault reports whether the schema declares a default value.
func (p Parameter) HasDefault() bool {
	return p.Default != nil
}

// Required reports whether the parameter must be present before submission.
func (p Parameter) Required() bool {
	return !p.Optional
}

// Validate checks the declaration itself, not a value assigned to it.
func (p Parameter) Validate() error {
	if p.Name == "" {
		return errors.New("parameter name is required")
	}
	if !p.Type.Valid() {
		return fmt.Errorf("parameter %q: unknown type %q", p.Name, p.Type)
	}
	if p.Type == ParamEnum && len(p.Values) == 0 {
		return fmt.Errorf("parameter %q: enum requires values", p.Name)
	}
	if p.Min != nil && p.Max != nil && *p.Min > *p.Max {
		return fmt.Errorf("parameter %q: min %v exceeds max %v", p.Name, *p.Min, *p.Max)
	}
	if (p.Min != nil || p.Max != nil) && !p.Type.IsNumeric() {
		return fmt.Errorf("parameter %q: min/max only apply to numeric types, got %q", p.Name, p.Type)
	}
	return nil
}

// Extensions lists acceptable file suffixes for a data slot. On the wire it
// is either a single string or an array of strings.
type Extensions []string

// UnmarshalJSON accepts a string, an array of strings, or null.
func (e *Extensions) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*e = nil
		return nil
	}
	var single string
	if err := json.Unmarshal(b, &single); err == nil {
		*e = Extensions{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return fmt.Errorf("extension must be a string or list of strings: %w", err)
	}
	*e = many
	return nil
}

// MarshalJSON writes a single extension as a plain string.
func (e Extensions) MarshalJSON() ([]byte, error) {
	if len(e) == 1 {
		return json.Marshal(e[0])
	}
	return json.Marshal([]string(e))
}

// UnmarshalYAML accepts a scalar or a sequence.
func (e *Extensions) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var single string
		if err := value.Decode(&single); err != nil {
			return err
		}
		*e = Extensions{single}
		return nil
	case yaml.SequenceNode:
		var many []string
		if err := value.Decode(&many); err != nil {
			return err
		}
		*e = many
		return nil
	}
	return fmt.Errorf("extension must be a string or list of strings (line %d)", value.Line)
}

// Accepts reports whether filename carries one of the extensions. An empty
// list accepts everything. The check is advisory; the backend does not
// enforce it.
func (e Extensions) Accepts(filename string) bool {
	if len(e) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(filename))
	for _, want := range e {
		want = strings.ToLower(strings.TrimSpace(want))
		if want == "" {
			continue
		}
		if !strings.HasPrefix(want, ".") {
			want = "." + want
		}
		if ext == want {
			return true
		}
	}
	return false
}

// DataSlot is a named data dependency of a tool, such as an input raster.
// The backend reports the slot name in the "path" field.
type DataSlot struct {
	Name        string     `json:"path" yaml:"path,omitempty"`
	Description string     `json:"description,omitempty" yaml:"description,omitempty"`
	Example     string     `json:"example,omitempty" yaml:"example,omitempty"`
	Extension   Extensions `json:"extension,omitempty" yaml:"extension,omitempty"`
}

// Tool is a backend-executable unit with a declared parameter and data schema.
type Tool struct {
	Name        string               `json:"name"`
	Title       string               `json:"title"`
	Description string               `json:"description"`
	Version     string               `json:"version,omitempty"`
	Parameters  map[string]Parameter `json:"parameters"`
	Data        map[string]DataSlot  `json:"data,omitempty"`
	DockerImage string               `json:"docker_image"`
}

// UnmarshalJSON decodes a tool and fills parameter and slot names from their
// map keys. The data field may also be a plain list of slot names.
func (t *Tool) UnmarshalJSON(b []byte) error {
	type alias Tool
	var raw struct {
		alias
		Version *string         `json:"version"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*t = Tool(raw.alias)
	if raw.Version != nil {
		t.Version = *raw.Version
	}

	data, err := decodeSlots(raw.Data)
	if err != nil {
		return fmt.Errorf("tool %q: %w", t.Name, err)
	}
	t.Data = data
	t.normalize()
	return nil
}

func decodeSlots(raw json.RawMessage) (map[string]DataSlot, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var slots map[string]DataSlot
	if err := json.Unmarshal(raw, &slots); err == nil {
		return slots, nil
	}
	var names []string
	if err := json.Unmarshal(raw, &names); err != nil {
		return nil, fmt.Errorf("data must be an object or a list of names: %w", err)
	}
	slots = make(map[string]DataSlot, len(names))
	for _, name := range names {
		slots[name] = DataSlot{Name: name}
	}
	return slots, nil
}

// Normalize fills empty parameter and slot names from their map keys.
// Decoders call it; callers building a Tool by hand should too.
func (t *Tool) Normalize() {
	t.normalize()
}

func (t *Tool) normalize() {
	if t.Parameters == nil {
		t.Parameters = map[string]Parameter{}
	}
	for key, p := range t.Parameters {
		if p.Name == "" {
			p.Name = key
			t.Parameters[key] = p
		}
	}
	for key, d := range t.Data {
		if d.Name == "" {
			d.Name = key
			t.Data[key] = d
		}
	}
}

// DisplayName returns the title, or the name when no title is set.
func (t Tool) DisplayName() string {
	if t.Title != "" {
		return t.Title
	}
	return t.Name
}

// ParameterNames returns the declared parameter names in sorted order.
func (t Tool) ParameterNames() []string {
	return sortedKeys(t.Parameters)
}

// SlotNames returns the declared data slot names in sorted order.
func (t Tool) SlotNames() []string {
	return sortedKeys(t.Data)
}

// Validate checks every parameter declaration and returns all problems found.
func (t Tool) Validate() error {
	if t.Name == "" {
		return errors.New("tool name is required")
	}
	var errs []error
	for _, name := range t.ParameterNames() {
		if err := t.Parameters[name].Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
