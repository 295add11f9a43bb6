package tool

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

func compileSchema(name string, parameters map[string]interface{}) (*jsonschema.Schema, error) {
	if len(parameters) == 0 {
		parameters = map[string]interface{}{"type": "object"}
	}

	data, err := json.Marshal(parameters)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}

	location := name + ".schema.json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(location, doc); err != nil {
		return nil, err
	}
	return c.Compile(location)
}

// validateInput checks that input is a JSON object accepted by schema.
func validateInput(schema *jsonschema.Schema, input json.RawMessage) error {
	trimmed := bytes.TrimSpace(input)
	if len(trimmed) == 0 {
		trimmed = []byte("{}")
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(trimmed))
	if err != nil {
		return fmt.Errorf("invalid JSON input: %w", err)
	}
	if _, ok := inst.(map[string]any); !ok {
		return fmt.Errorf("arguments must be a JSON object")
	}
	if schema == nil {
		return nil
	}
	return schema.Validate(inst)
}
