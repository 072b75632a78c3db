package eval

import (
	"sort"

	"mcp-cert/internal/mcp"
)

// TestCases are the three canonical payload classes generated for one tool.
// The generator is pure and deterministic so runs of the same target are
// reproducible.
type TestCases struct {
	// Valid is built from declared examples or type-appropriate defaults.
	Valid map[string]any
	// Boundary omits every declared field and adds one undeclared field,
	// to probe the server's schema validation.
	Boundary map[string]any
	// Null is the absent payload, to probe defensive error handling.
	Null map[string]any
}

// GenerateTestCases derives the payload classes from a tool's input schema.
// A nil schema still yields boundary and null cases; the valid case falls
// back to a generic marker payload.
func GenerateTestCases(schema *mcp.Schema) TestCases {
	cases := TestCases{
		Boundary: map[string]any{"unexpected_probe_field": "boundary"},
		Null:     nil,
	}
	if schema == nil || len(schema.Properties) == 0 {
		cases.Valid = map[string]any{"test": true}
		return cases
	}

	valid := make(map[string]any, len(schema.Properties))
	for _, name := range sortedKeys(schema.Properties) {
		valid[name] = valueForProperty(schema.Properties[name])
	}
	cases.Valid = valid
	return cases
}

func valueForProperty(prop mcp.Property) any {
	if len(prop.Examples) > 0 {
		return prop.Examples[0]
	}
	if prop.Default != nil {
		return prop.Default
	}
	switch prop.Type {
	case "string":
		return "probe-value"
	case "number", "integer":
		return 1
	case "boolean":
		return true
	case "array":
		return []any{}
	case "object":
		return map[string]any{}
	default:
		return "probe-value"
	}
}

// InjectString replaces the first string-typed field of a valid payload
// with the given text, used by security probes. The original map is not
// modified. Returns the payload and whether a string slot was found.
func InjectString(payload map[string]any, text string) (map[string]any, bool) {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = v
	}
	keys := make([]string, 0, len(out))
	for k := range out {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, ok := out[k].(string); ok {
			out[k] = text
			return out, true
		}
	}
	return out, false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
