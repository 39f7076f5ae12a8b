package agent

import (
	"context"
	"sync"
)

// Mock is a scriptable agent for tests. Each Execute call pops the next
// response text and parses it per the configured output format.
type Mock struct {
	mu        sync.Mutex
	name      string
	responses []string
	prompts   []string
	configs   []Config
	err       error
}

// NewMock creates a mock agent registered under the given provider name.
func NewMock(name string, responses ...string) *Mock {
	return &Mock{name: name, responses: responses}
}

// FailWith makes every Execute call return err.
func (m *Mock) FailWith(err error) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// Name implements Agent.
func (m *Mock) Name() string { return m.name }

// Execute implements Agent.
func (m *Mock) Execute(_ context.Context, prompt string, cfg Config) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.prompts = append(m.prompts, prompt)
	m.configs = append(m.configs, cfg)
	if m.err != nil {
		return nil, m.err
	}

	text := "mock agent response"
	if len(m.responses) > 0 {
		text = m.responses[0]
		m.responses = m.responses[1:]
	}

	output, err := ParseOutput(text, cfg.OutputFormat)
	if err != nil {
		return nil, err
	}
	return &Result{
		Output:    output,
		Text:      text,
		SessionID: "mock-session",
		NumTurns:  1,
	}, nil
}

// Prompts returns the prompts received so far.
func (m *Mock) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.prompts))
	copy(out, m.prompts)
	return out
}

// Configs returns the configs received so far, one per Execute call.
func (m *Mock) Configs() []Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Config, len(m.configs))
	copy(out, m.configs)
	return out
}
