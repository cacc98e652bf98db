// Package builtin ships the stock tools every agent session gets: a
// weather lookup, a streaming counter for exercising the incremental
// tool path end to end, a sequential-thinking planner, and constructors
// for the standard sandbox tools.
package builtin

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// mustSchema derives an inline JSON Schema object from an argument
// struct. Definitions are static, so reflection failures are programmer
// errors and panic.
func mustSchema(v any) json.RawMessage {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	schema := r.Reflect(v)
	data, err := json.Marshal(schema)
	if err != nil {
		panic(err)
	}
	return data
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func floatArg(args map[string]any, key string, def float64) float64 {
	if f, ok := args[key].(float64); ok {
		return f
	}
	return def
}

func boolArg(args map[string]any, key string) bool {
	b, _ := args[key].(bool)
	return b
}
