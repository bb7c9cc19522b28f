package module

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
)

// rootField names the params document itself in ValidationError.Field.
const rootField = "params"

// Validate checks params against the action's input schema. It is pure: it
// never touches the module executable.
//
// A structural pass (types, required fields, nested properties and items)
// runs first so the error can name the offending field; the remaining JSON
// Schema keywords are then enforced by the resolved schema.
func Validate(a *Action, params json.RawMessage) error {
	var doc any
	if len(bytes.TrimSpace(params)) > 0 {
		if err := json.Unmarshal(params, &doc); err != nil {
			return a.invalid(rootField, "not valid JSON")
		}
	}

	if field, reason, ok := checkStructure(a.Input, doc, rootField); !ok {
		return a.invalid(field, reason)
	}
	if a.input != nil {
		if err := a.input.Validate(doc); err != nil {
			return a.invalid(rootField, err.Error())
		}
	}
	return nil
}

func (a *Action) invalid(field, reason string) *ValidationError {
	return &ValidationError{Module: a.Module.Name, Action: a.Name, Field: field, Reason: reason}
}

func checkStructure(s *jsonschema.Schema, v any, path string) (string, string, bool) {
	if s == nil {
		return "", "", true
	}

	if types := declaredTypes(s); len(types) > 0 && !typeMatches(types, v) {
		return path, fmt.Sprintf("expected %s, got %s", strings.Join(types, " or "), jsonType(v)), false
	}

	switch val := v.(type) {
	case map[string]any:
		for _, name := range s.Required {
			if _, ok := val[name]; !ok {
				return path + "." + name, "required field is missing", false
			}
		}
		names := make([]string, 0, len(s.Properties))
		for name := range s.Properties {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fv, ok := val[name]
			if !ok {
				continue
			}
			if f, r, ok := checkStructure(s.Properties[name], fv, path+"."+name); !ok {
				return f, r, false
			}
		}
	case []any:
		if s.Items != nil {
			for i, item := range val {
				if f, r, ok := checkStructure(s.Items, item, fmt.Sprintf("%s[%d]", path, i)); !ok {
					return f, r, false
				}
			}
		}
	}
	return "", "", true
}

func declaredTypes(s *jsonschema.Schema) []string {
	if s.Type != "" {
		return []string{s.Type}
	}
	return s.Types
}

func typeMatches(types []string, v any) bool {
	actual := jsonType(v)
	for _, t := range types {
		if t == actual {
			return true
		}
		if t == "integer" && actual == "number" {
			if f, ok := v.(float64); ok && f == math.Trunc(f) {
				return true
			}
		}
	}
	return false
}

func jsonType(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64, json.Number:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
