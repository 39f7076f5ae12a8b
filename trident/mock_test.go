package trident

import (
	"encoding/json"
	"testing"
)

func TestMockOutput(t *testing.T) {
	t.Run("text schema", func(t *testing.T) {
		out := MockOutput(OutputSchema{Format: "text"})
		if out["text"] != "[DRY RUN] Mock text response" {
			t.Errorf("text = %v", out["text"])
		}
	})

	t.Run("json schema synthesizes per-field placeholders", func(t *testing.T) {
		out := MockOutput(OutputSchema{Format: "json", Fields: map[string]FieldSpec{
			"summary": {Type: "string"},
			"score":   {Type: "number"},
			"count":   {Type: "integer"},
			"ok":      {Type: "boolean"},
			"items":   {Type: "array"},
			"meta":    {Type: "object"},
		}})

		if out["summary"] != "[mock_summary]" {
			t.Errorf("summary = %v", out["summary"])
		}
		if out["score"] != 0 || out["count"] != 0 {
			t.Errorf("numeric placeholders = %v, %v", out["score"], out["count"])
		}
		if out["ok"] != true {
			t.Errorf("ok = %v", out["ok"])
		}
		if items, yes := out["items"].([]any); !yes || len(items) != 0 {
			t.Errorf("items = %v", out["items"])
		}
		if meta, yes := out["meta"].(map[string]any); !yes || len(meta) != 0 {
			t.Errorf("meta = %v", out["meta"])
		}
	})

	t.Run("json schema includes serialized text field", func(t *testing.T) {
		out := MockOutput(OutputSchema{Format: "json", Fields: map[string]FieldSpec{
			"answer": {Type: "string"},
		}})

		text, yes := out["text"].(string)
		if !yes {
			t.Fatalf("text = %v", out["text"])
		}
		var parsed map[string]any
		if err := json.Unmarshal([]byte(text), &parsed); err != nil {
			t.Fatalf("text is not valid JSON: %v", err)
		}
		if parsed["answer"] != "[mock_answer]" {
			t.Errorf("parsed text = %v", parsed)
		}
	})
}
