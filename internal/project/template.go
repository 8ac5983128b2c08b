package project

import (
	_ "embed"
	"encoding/json"
	"os"

	"github.com/FocuswithJustin/apfingest/core/errors"
)

//go:embed default_project.json
var defaultProject []byte

// Template is an exported-project JSON document used as the base of every
// generated project. It is never modified; Assemble works on a clone.
type Template map[string]any

// DefaultTemplate returns the built-in project template with the custom
// event span, relation and entity layers.
func DefaultTemplate() Template {
	t, err := parseTemplate(defaultProject, "default_project.json")
	if err != nil {
		panic("project: invalid built-in template: " + err.Error())
	}
	return t
}

// LoadTemplate reads a project template from a JSON file.
func LoadTemplate(path string) (Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewIO("read", path, err)
	}
	return parseTemplate(data, path)
}

func parseTemplate(data []byte, path string) (Template, error) {
	var t Template
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, &errors.ParseError{Format: "project template", Path: path, Message: err.Error()}
	}
	if t == nil {
		return nil, &errors.ParseError{Format: "project template", Path: path, Message: "template is not a JSON object"}
	}
	for _, key := range []string{"source_documents", "project_permissions"} {
		switch t[key].(type) {
		case nil:
			t[key] = []any{}
		case []any:
		default:
			return nil, &errors.ParseError{Format: "project template", Path: path, Message: key + " is not a list"}
		}
	}
	return t, nil
}

// Clone returns a deep copy of t.
func (t Template) Clone() Template {
	return deepCopy(map[string]any(t)).(map[string]any)
}

func deepCopy(v any) any {
	switch v := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[k] = deepCopy(val)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = deepCopy(val)
		}
		return out
	default:
		return v
	}
}

// setProjectName rewrites every project_name field at any depth.
func setProjectName(v any, name string) {
	switch v := v.(type) {
	case Template:
		setProjectName(map[string]any(v), name)
	case map[string]any:
		for k, val := range v {
			if k == "project_name" {
				v[k] = name
				continue
			}
			setProjectName(val, name)
		}
	case []any:
		for _, val := range v {
			setProjectName(val, name)
		}
	}
}
