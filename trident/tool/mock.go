package tool

import (
	"context"
	"sync"
)

// Mock is a scriptable runner for tests. Outputs are keyed by tool id; an
// unknown id echoes the inputs back.
type Mock struct {
	mu      sync.Mutex
	outputs map[string]map[string]any
	errs    map[string]error
	calls   []string
}

// NewMock creates an empty mock runner.
func NewMock() *Mock {
	return &Mock{
		outputs: make(map[string]map[string]any),
		errs:    make(map[string]error),
	}
}

// Respond sets the output for a tool id.
func (m *Mock) Respond(toolID string, output map[string]any) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outputs[toolID] = output
	return m
}

// FailWith makes a tool id return err.
func (m *Mock) FailWith(toolID string, err error) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[toolID] = err
	return m
}

// Execute implements Runner.
func (m *Mock) Execute(_ context.Context, def Def, inputs map[string]any) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, def.ID)
	if err := m.errs[def.ID]; err != nil {
		return nil, err
	}
	if out, ok := m.outputs[def.ID]; ok {
		return out, nil
	}
	return inputs, nil
}

// Calls returns the tool ids executed so far.
func (m *Mock) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}
