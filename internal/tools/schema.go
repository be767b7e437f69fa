package tools

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// ReflectSchema builds the JSON schema of a tool input struct.
func ReflectSchema(v any) json.RawMessage {
	r := &jsonschema.Reflector{
		Anonymous:      true,
		DoNotReference: true,
	}
	data, err := json.Marshal(r.Reflect(v))
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return data
}
