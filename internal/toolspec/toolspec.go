// Package toolspec reads tool-spec files: the tool.yml a tool image ships
// under /src, parameter files, and the inputs.json a tool container reads.
package toolspec

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/toolbox-runner/toolbox/internal/model"
	"github.com/toolbox-runner/toolbox/internal/params"
)

// ErrToolNotFound is returned when a tool.yml does not declare the requested tool.
var ErrToolNotFound = errors.New("toolspec: tool not declared")

type specFile struct {
	Tools map[string]toolEntry `yaml:"tools"`
}

type toolEntry struct {
	Title       string                     `yaml:"title"`
	Description string                     `yaml:"description"`
	Version     string                     `yaml:"version"`
	Parameters  map[string]model.Parameter `yaml:"parameters"`
	Data        yaml.Node                  `yaml:"data"`
}

// Parse decodes a tool.yml document into tools sorted by name. Parameter and
// slot names are taken from their map keys; data may be given as a list of
// slot names or as a map of slot declarations. dockerImage is attached to
// every tool.
func Parse(data []byte, dockerImage string) ([]model.Tool, error) {
	var f specFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("toolspec: parse: %w", err)
	}
	if len(f.Tools) == 0 {
		return nil, errors.New("toolspec: no tools declared")
	}

	names := make([]string, 0, len(f.Tools))
	for name := range f.Tools {
		names = append(names, name)
	}
	slices.Sort(names)

	tools := make([]model.Tool, 0, len(names))
	for _, name := range names {
		entry := f.Tools[name]
		slots, err := decodeSlots(&entry.Data)
		if err != nil {
			return nil, fmt.Errorf("toolspec: tool %q: %w", name, err)
		}
		t := model.Tool{
			Name:        name,
			Title:       entry.Title,
			Description: entry.Description,
			Version:     entry.Version,
			Parameters:  entry.Parameters,
			Data:        slots,
			DockerImage: dockerImage,
		}
		if t.Parameters == nil {
			t.Parameters = map[string]model.Parameter{}
		}
		t.Normalize()
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("toolspec: tool %q: %w", name, err)
		}
		tools = append(tools, t)
	}
	return tools, nil
}

func decodeSlots(node *yaml.Node) (map[string]model.DataSlot, error) {
	switch node.Kind {
	case 0:
		return nil, nil
	case yaml.SequenceNode:
		var names []string
		if err := node.Decode(&names); err != nil {
			return nil, fmt.Errorf("data: %w", err)
		}
		slots := make(map[string]model.DataSlot, len(names))
		for _, n := range names {
			slots[n] = model.DataSlot{Name: n}
		}
		return slots, nil
	case yaml.MappingNode:
		var slots map[string]model.DataSlot
		if err := node.Decode(&slots); err != nil {
			return nil, fmt.Errorf("data: %w", err)
		}
		return slots, nil
	}
	return nil, fmt.Errorf("data: expected a list or a map, got %s", nodeKind(node.Kind))
}

func nodeKind(k yaml.Kind) string {
	switch k {
	case yaml.ScalarNode:
		return "a scalar"
	case yaml.AliasNode:
		return "an alias"
	case yaml.DocumentNode:
		return "a document"
	}
	return "an unknown node"
}

// Load reads and parses a tool.yml file.
func Load(file, dockerImage string) ([]model.Tool, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("toolspec: %w", err)
	}
	return Parse(data, dockerImage)
}

// Find returns the tool called name.
func Find(tools []model.Tool, name string) (model.Tool, error) {
	i := slices.IndexFunc(tools, func(t model.Tool) bool { return t.Name == name })
	if i < 0 {
		return model.Tool{}, fmt.Errorf("%w: %q", ErrToolNotFound, name)
	}
	return tools[i], nil
}

// LoadParameters reads a parameter file for Builder.SetAll. Files ending in
// .json are decoded as JSON; anything else as YAML. A file holding the
// inputs.json shape {tool: {parameters: ...}} is unwrapped when it has a
// single top-level key whose value carries a "parameters" object.
func LoadParameters(file string) (map[string]any, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("toolspec: %w", err)
	}
	var out map[string]any
	if strings.EqualFold(filepath.Ext(file), ".json") {
		err = json.Unmarshal(data, &out)
	} else {
		err = yaml.Unmarshal(data, &out)
	}
	if err != nil {
		return nil, fmt.Errorf("toolspec: parameters %s: %w", file, err)
	}
	if len(out) == 1 {
		for _, v := range out {
			if inner, ok := v.(map[string]any); ok {
				if p, ok := inner["parameters"].(map[string]any); ok {
					return p, nil
				}
			}
		}
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

// InputsOptions controls InputsFile.
type InputsOptions struct {
	// RenameInputs rewrites each data path to the location the runner copies
	// it to: /in/<slot><extension>.
	RenameInputs bool
}

// InputsFile renders the inputs.json document for tool:
//
//	{"<tool>": {"parameters": {...}, "data": {"<slot>": "<path>"}}}
//
// Declared optional parameters without a value are written as null. A
// missing required parameter is an error wrapping params.ErrIncomplete.
func InputsFile(tool model.Tool, p params.Parameterization, data map[string]string, opts InputsOptions) ([]byte, error) {
	values := make(map[string]any, len(tool.Parameters))
	var missing []string
	for _, name := range tool.ParameterNames() {
		if v, ok := p[name]; ok {
			values[name] = v.Interface()
			continue
		}
		if tool.Parameters[name].Required() {
			missing = append(missing, name)
			continue
		}
		values[name] = nil
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("toolspec: %w: %v", params.ErrIncomplete, missing)
	}

	paths := make(map[string]string, len(data))
	for slot, p := range data {
		if _, ok := tool.Data[slot]; !ok {
			return nil, fmt.Errorf("toolspec: tool %q has no data slot %q", tool.Name, slot)
		}
		if opts.RenameInputs {
			p = path.Join("/in", slot+filepath.Ext(p))
		}
		paths[slot] = p
	}

	doc := map[string]any{
		tool.Name: map[string]any{
			"parameters": values,
			"data":       paths,
		},
	}
	return json.MarshalIndent(doc, "", "    ")
}
