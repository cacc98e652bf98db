package config

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// Schema returns the JSON Schema for the strand.yaml file, for editor
// integration and the docs site.
func Schema() ([]byte, error) {
	r := &jsonschema.Reflector{FieldNameTag: "yaml"}
	schema := r.Reflect(&fileConfig{})
	return json.MarshalIndent(schema, "", "  ")
}
