package llm

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// Schema names the JSON shape a structured call must return.
type Schema struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// SchemaFor reflects v (a struct value or pointer) into an inline JSON
// schema without $ref indirections.
func SchemaFor(name, description string, v any) (Schema, error) {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	raw, err := json.Marshal(r.Reflect(v))
	if err != nil {
		return Schema{}, fmt.Errorf("marshal schema: %w", err)
	}
	var params map[string]any
	if err := json.Unmarshal(raw, &params); err != nil {
		return Schema{}, fmt.Errorf("decode schema: %w", err)
	}
	delete(params, "$schema")
	delete(params, "$id")
	return Schema{Name: name, Description: description, Parameters: params}, nil
}

// MustSchema is SchemaFor for package-level schemas.
func MustSchema(name, description string, v any) Schema {
	s, err := SchemaFor(name, description, v)
	if err != nil {
		panic(err)
	}
	return s
}
