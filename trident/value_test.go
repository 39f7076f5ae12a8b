package trident

import "testing"

func TestGetPath(t *testing.T) {
	data := map[string]any{
		"status": "done",
		"output": map[string]any{
			"items": map[string]any{"count": float64(3)},
		},
	}

	t.Run("top-level field", func(t *testing.T) {
		if got := GetPath(data, "status"); got != "done" {
			t.Errorf("expected 'done', got %v", got)
		}
	})

	t.Run("nested path", func(t *testing.T) {
		if got := GetPath(data, "output.items.count"); got != float64(3) {
			t.Errorf("expected 3, got %v", got)
		}
	})

	t.Run("missing component returns nil", func(t *testing.T) {
		if got := GetPath(data, "output.missing.count"); got != nil {
			t.Errorf("expected nil, got %v", got)
		}
	})

	t.Run("traversing a scalar returns nil", func(t *testing.T) {
		if got := GetPath(data, "status.deeper"); got != nil {
			t.Errorf("expected nil, got %v", got)
		}
	})
}

func TestCopyValue(t *testing.T) {
	t.Run("copies are independent", func(t *testing.T) {
		original := map[string]any{"nested": map[string]any{"n": float64(1)}}
		copied, err := CopyValue(original)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		copied["nested"].(map[string]any)["n"] = float64(2)
		if original["nested"].(map[string]any)["n"] != float64(1) {
			t.Error("mutating the copy changed the original")
		}
	})

	t.Run("nil copies to nil", func(t *testing.T) {
		copied, err := CopyValue(nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if copied != nil {
			t.Errorf("expected nil, got %v", copied)
		}
	})
}

func TestStringify(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, ""},
		{"string", "hello", "hello"},
		{"whole float drops decimal", float64(42), "42"},
		{"fractional float", 2.5, "2.5"},
		{"bool", true, "true"},
		{"map is JSON", map[string]any{"a": float64(1)}, `{"a":1}`},
		{"slice is JSON", []any{"x", "y"}, `["x","y"]`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Stringify(tc.in); got != tc.want {
				t.Errorf("expected %q, got %q", tc.want, got)
			}
		})
	}
}
