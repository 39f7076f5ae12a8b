package trident

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Node outputs flow through the DAG as map[string]any. GetPath is the single
// accessor used by edge mappings, conditions, and template rendering, so the
// three subsystems agree on what a dotted path means.

// GetPath resolves a dotted path ("status", "output.items.count") against a
// nested map. It returns nil when any component is missing or a non-map value
// is traversed.
func GetPath(data map[string]any, path string) any {
	parts := strings.Split(path, ".")
	var current any = data
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current, ok = m[part]
		if !ok {
			return nil
		}
	}
	return current
}

// CopyValue deep-copies a JSON-shaped value via a marshal round trip.
// Level fan-out hands each node a snapshot so sibling tasks never share
// mutable maps.
func CopyValue(v map[string]any) (map[string]any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("copy value: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("copy value: %w", err)
	}
	return out, nil
}

// Stringify renders a value for template substitution. Maps and slices are
// JSON-encoded; scalars use their natural formatting. Whole-number floats
// print without a trailing ".0" so JSON-decoded integers read back cleanly.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	case map[string]any, []any:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(data)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
