package provider

import (
	"context"
	"encoding/json"
	"sync"
)

// Mock is a scriptable in-memory provider for tests and dry runs. Responses
// are returned in order; when the script is exhausted it synthesizes a
// response matching the requested format.
type Mock struct {
	mu        sync.Mutex
	responses []string
	calls     []string
	err       error
}

// NewMock creates a mock that replays the given responses.
func NewMock(responses ...string) *Mock {
	return &Mock{responses: responses}
}

// FailWith makes every Complete call return err.
func (m *Mock) FailWith(err error) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// Name implements Provider.
func (m *Mock) Name() string { return "mock" }

// Complete implements Provider.
func (m *Mock) Complete(_ context.Context, prompt string, cfg CompletionConfig) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, prompt)
	if m.err != nil {
		return nil, m.err
	}

	var content string
	if len(m.responses) > 0 {
		content = m.responses[0]
		m.responses = m.responses[1:]
	} else if cfg.Format == "json" {
		fields := make(map[string]any)
		if props, ok := cfg.Schema["properties"].(map[string]any); ok {
			for name := range props {
				fields[name] = "mock"
			}
		}
		data, _ := json.Marshal(fields)
		content = string(data)
	} else {
		content = "mock response"
	}

	return &Result{
		Content:      content,
		Model:        cfg.Model,
		InputTokens:  len(prompt) / 4,
		OutputTokens: len(content) / 4,
	}, nil
}

// Calls returns the prompts received so far.
func (m *Mock) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}
