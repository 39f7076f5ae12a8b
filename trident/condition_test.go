package trident

import (
	"errors"
	"testing"
)

func TestEvalCondition(t *testing.T) {
	output := map[string]any{
		"score":  float64(7),
		"status": "done",
		"empty":  "",
		"flag":   true,
	}

	cases := []struct {
		name string
		expr string
		want bool
	}{
		{"empty expression is true", "", true},
		{"whitespace expression is true", "   ", true},
		{"comparison true", "score > 5", true},
		{"comparison false", "score > 10", false},
		{"string equality", `status == "done"`, true},
		{"boolean field", "flag", true},
		{"and", `score > 5 and status == "done"`, true},
		{"or", `score > 100 or flag`, true},
		{"not", "not flag", false},
		{"output alias", "output.score > 5", true},
		{"null literal", "output.missing == null", true},
		{"empty string is falsy", "empty", false},
		{"missing field is falsy", "nonexistent", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := EvalCondition(tc.expr, output)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("EvalCondition(%q) = %v, want %v", tc.expr, got, tc.want)
			}
		})
	}

	t.Run("compile failure returns ConditionError", func(t *testing.T) {
		_, err := EvalCondition("score >>", output)
		var cerr *ConditionError
		if !errors.As(err, &cerr) {
			t.Fatalf("expected ConditionError, got %v", err)
		}
		if cerr.Expr != "score >>" {
			t.Errorf("expected expression in error, got %q", cerr.Expr)
		}
	})

	t.Run("nil output", func(t *testing.T) {
		got, err := EvalCondition("1 < 2", nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !got {
			t.Error("expected literal comparison to hold with nil output")
		}
	})
}
