package trident

import "encoding/json"

// MockOutput synthesizes a dry-run output matching a node's declared schema.
// Text nodes get a fixed placeholder. JSON nodes get a per-field placeholder
// value by type, plus the whole object JSON-encoded under "text" so
// downstream templates render the same shape a real run would.
func MockOutput(schema OutputSchema) map[string]any {
	if schema.Format != "json" {
		return map[string]any{"text": "[DRY RUN] Mock text response"}
	}

	out := make(map[string]any, len(schema.Fields)+1)
	for name, spec := range schema.Fields {
		out[name] = mockValue(name, spec.Type)
	}
	if data, err := json.Marshal(out); err == nil {
		out["text"] = string(data)
	}
	return out
}

func mockValue(name, typ string) any {
	switch typ {
	case "number", "integer":
		return 0
	case "boolean":
		return true
	case "array":
		return []any{}
	case "object":
		return map[string]any{}
	default:
		return "[mock_" + name + "]"
	}
}
