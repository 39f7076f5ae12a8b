package provider

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestForModel(t *testing.T) {
	t.Run("resolves vendor and bare name", func(t *testing.T) {
		mock := NewMock()
		Register("acme", func() (Provider, error) { return mock, nil })

		p, bare, err := ForModel("acme/frontier-1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p != mock || bare != "frontier-1" {
			t.Errorf("p = %v, bare = %q", p, bare)
		}
	})

	t.Run("missing vendor prefix", func(t *testing.T) {
		_, _, err := ForModel("gpt-4o")
		var perr *Error
		if !errors.As(err, &perr) {
			t.Fatalf("expected provider Error, got %v", err)
		}
		if !strings.Contains(perr.Message, "vendor prefix") {
			t.Errorf("message = %q", perr.Message)
		}
	})

	t.Run("unregistered vendor", func(t *testing.T) {
		_, _, err := ForModel("nosuch/model-1")
		var perr *Error
		if !errors.As(err, &perr) || perr.Provider != "nosuch" {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("last registration wins", func(t *testing.T) {
		first := NewMock("first")
		second := NewMock("second")
		Register("swap", func() (Provider, error) { return first, nil })
		Register("swap", func() (Provider, error) { return second, nil })

		p, _, err := ForModel("swap/model-1")
		if err != nil {
			t.Fatal(err)
		}
		result, err := p.Complete(context.Background(), "hi", CompletionConfig{})
		if err != nil {
			t.Fatal(err)
		}
		if result.Content != "second" {
			t.Errorf("content = %q", result.Content)
		}
	})
}

func TestMock(t *testing.T) {
	t.Run("replays scripted responses in order", func(t *testing.T) {
		mock := NewMock("one", "two")
		for _, want := range []string{"one", "two"} {
			result, err := mock.Complete(context.Background(), "p", CompletionConfig{})
			if err != nil {
				t.Fatal(err)
			}
			if result.Content != want {
				t.Errorf("content = %q, want %q", result.Content, want)
			}
		}
	})

	t.Run("synthesizes json from the schema when exhausted", func(t *testing.T) {
		mock := NewMock()
		result, err := mock.Complete(context.Background(), "p", CompletionConfig{
			Format: "json",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"summary": map[string]any{"type": "string"},
				},
			},
		})
		if err != nil {
			t.Fatal(err)
		}
		var parsed map[string]any
		if err := json.Unmarshal([]byte(result.Content), &parsed); err != nil {
			t.Fatalf("content is not JSON: %q", result.Content)
		}
		if parsed["summary"] != "mock" {
			t.Errorf("parsed = %v", parsed)
		}
	})

	t.Run("records prompts", func(t *testing.T) {
		mock := NewMock("x")
		_, _ = mock.Complete(context.Background(), "first prompt", CompletionConfig{})
		if calls := mock.Calls(); len(calls) != 1 || calls[0] != "first prompt" {
			t.Errorf("calls = %v", calls)
		}
	})

	t.Run("fail with", func(t *testing.T) {
		wantErr := &Error{Provider: "mock", Message: "down"}
		mock := NewMock().FailWith(wantErr)
		_, err := mock.Complete(context.Background(), "p", CompletionConfig{})
		if !errors.Is(err, wantErr) {
			t.Errorf("err = %v", err)
		}
	})
}
