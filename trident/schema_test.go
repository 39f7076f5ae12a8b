package trident

import (
	"errors"
	"testing"
)

func TestValidateOutput(t *testing.T) {
	schema := OutputSchema{Format: "json", Fields: map[string]FieldSpec{
		"summary":    {Type: "string"},
		"confidence": {Type: "number"},
	}}

	t.Run("valid output", func(t *testing.T) {
		err := ValidateOutput("n1", schema, map[string]any{
			"summary":    "short",
			"confidence": 0.9,
		})
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("extra fields are allowed", func(t *testing.T) {
		err := ValidateOutput("n1", schema, map[string]any{
			"summary":    "short",
			"confidence": 0.9,
			"text":       "raw response",
		})
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("missing declared field fails", func(t *testing.T) {
		err := ValidateOutput("n1", schema, map[string]any{"summary": "short"})
		var serr *SchemaValidationError
		if !errors.As(err, &serr) {
			t.Fatalf("expected SchemaValidationError, got %v", err)
		}
	})

	t.Run("wrong type fails", func(t *testing.T) {
		err := ValidateOutput("n1", schema, map[string]any{
			"summary":    "short",
			"confidence": "very",
		})
		if err == nil {
			t.Fatal("expected type error")
		}
	})

	t.Run("integer satisfies number", func(t *testing.T) {
		err := ValidateOutput("n1", schema, map[string]any{
			"summary":    "short",
			"confidence": 1,
		})
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("text format skips validation", func(t *testing.T) {
		err := ValidateOutput("n1", OutputSchema{Format: "text"}, map[string]any{"anything": true})
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("unknown declared type coerces to string", func(t *testing.T) {
		loose := OutputSchema{Format: "json", Fields: map[string]FieldSpec{
			"value": {Type: "mystery"},
		}}
		if err := ValidateOutput("n1", loose, map[string]any{"value": "ok"}); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

func TestJSONSchemaFor(t *testing.T) {
	doc := JSONSchemaFor(OutputSchema{Format: "json", Fields: map[string]FieldSpec{
		"score": {Type: "number", Description: "0 to 1"},
	}})

	if doc["type"] != "object" {
		t.Errorf("type = %v", doc["type"])
	}
	props := doc["properties"].(map[string]any)
	score := props["score"].(map[string]any)
	if score["type"] != "number" || score["description"] != "0 to 1" {
		t.Errorf("score property = %v", score)
	}
	required := doc["required"].([]string)
	if len(required) != 1 || required[0] != "score" {
		t.Errorf("required = %v", required)
	}
}
