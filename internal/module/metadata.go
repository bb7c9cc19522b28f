package module

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
)

// MetadataArg is the reserved first argument that asks an executable to
// describe itself instead of running an action.
const MetadataArg = "metadata"

const metaSchemaJSON = `{
  "type": "object",
  "required": ["name", "actions"],
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "description": {"type": "string"},
    "actions": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "input"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "description": {"type": "string"},
          "input": {"type": "object"},
          "output": {"type": "object"}
        }
      }
    }
  }
}`

var metaSchema = mustResolve(metaSchemaJSON)

func mustResolve(raw string) *jsonschema.Resolved {
	var s jsonschema.Schema
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		panic(fmt.Sprintf("module: bad built-in schema: %v", err))
	}
	rs, err := s.Resolve(nil)
	if err != nil {
		panic(fmt.Sprintf("module: bad built-in schema: %v", err))
	}
	return rs
}

type actionDoc struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Input       json.RawMessage `json:"input"`
	Output      json.RawMessage `json:"output"`
}

type metadataDoc struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Actions     []actionDoc `json:"actions"`
}

// ParseMetadata checks a self-description document against the meta-schema
// and builds the Module it describes. path is recorded as the module's
// executable and may be empty.
func ParseMetadata(raw []byte, path string) (*Module, error) {
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("metadata is not valid JSON: %w", err)
	}
	if err := metaSchema.Validate(generic); err != nil {
		return nil, fmt.Errorf("metadata does not match the meta-schema: %w", err)
	}

	var doc metadataDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}

	m := &Module{
		Name:        strings.TrimSpace(doc.Name),
		Description: doc.Description,
		Path:        path,
		Actions:     make([]*Action, 0, len(doc.Actions)),
		index:       make(map[string]*Action, len(doc.Actions)),
	}
	if m.Name == "" {
		return nil, errors.New("metadata declares an empty module name")
	}

	for _, ad := range doc.Actions {
		if _, dup := m.index[ad.Name]; dup {
			return nil, fmt.Errorf("action '%s' is declared more than once", ad.Name)
		}
		a, err := newAction(m, ad)
		if err != nil {
			return nil, err
		}
		m.Actions = append(m.Actions, a)
		m.index[a.Name] = a
	}
	return m, nil
}

// NewBuiltin builds an in-process module from the same self-description
// document external modules print.
func NewBuiltin(raw []byte, inv Invoker) (*Module, error) {
	if inv == nil {
		return nil, errors.New("built-in module needs an invoker")
	}
	m, err := ParseMetadata(raw, "")
	if err != nil {
		return nil, err
	}
	m.Invoker = inv
	return m, nil
}

func newAction(m *Module, ad actionDoc) (*Action, error) {
	a := &Action{Module: m, Name: ad.Name, Description: ad.Description}

	in, err := decodeSchema(ad.Input)
	if err != nil {
		return nil, fmt.Errorf("action '%s': input schema: %w", ad.Name, err)
	}
	rs, err := in.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("action '%s': input schema: %w", ad.Name, err)
	}
	a.Input, a.input = in, rs

	if len(ad.Output) > 0 {
		out, err := decodeSchema(ad.Output)
		if err != nil {
			return nil, fmt.Errorf("action '%s': output schema: %w", ad.Name, err)
		}
		if _, err := out.Resolve(nil); err != nil {
			return nil, fmt.Errorf("action '%s': output schema: %w", ad.Name, err)
		}
		a.Output = out
	}
	return a, nil
}

func decodeSchema(raw json.RawMessage) (*jsonschema.Schema, error) {
	var s jsonschema.Schema
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
