package tool

import (
	"encoding/json"

	invopop "github.com/invopop/jsonschema"
)

// ReflectSchema derives a parameter schema from a Go struct. Fields without omitempty are required.
func ReflectSchema(v interface{}) map[string]interface{} {
	r := &invopop.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}

	data, err := json.Marshal(r.Reflect(v))
	if err != nil {
		return map[string]interface{}{"type": "object"}
	}

	var schema map[string]interface{}
	if err := json.Unmarshal(data, &schema); err != nil {
		return map[string]interface{}{"type": "object"}
	}
	delete(schema, "$schema")
	delete(schema, "$id")
	return schema
}
