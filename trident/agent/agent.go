// Package agent runs autonomous multi-turn LLM loops with tool access.
// Unlike a prompt node's single completion, an agent keeps calling its model
// until the model stops requesting tools or the turn budget runs out.
package agent

import (
	"context"
	"fmt"
	"sync"
)

// ToolSpec describes one tool exposed to the agent.
type ToolSpec struct {
	Name        string
	Description string
	// InputSchema is a JSON Schema object for the tool's arguments.
	InputSchema map[string]any
}

// ToolHandler executes a tool call requested by the agent.
type ToolHandler func(ctx context.Context, name string, args map[string]any) (any, error)

// MCPServerSpec describes how to launch one MCP server over stdio.
type MCPServerSpec struct {
	Command string
	Args    []string
	Env     map[string]string
}

// Config carries everything one agent execution needs.
type Config struct {
	Model           string
	MaxTurns        int
	PermissionMode  string
	CWD             string
	Tools           []ToolSpec
	Handler         ToolHandler
	MCPServers      map[string]MCPServerSpec
	ResumeSessionID string

	// OutputFormat is "text" or "json"; Schema is the expected JSON Schema
	// for json output.
	OutputFormat string
	Schema       map[string]any

	// OnMessage, when set, receives each intermediate assistant message for
	// progress reporting.
	OnMessage func(text string)
}

// Result is one completed agent execution.
type Result struct {
	// Output is the parsed structured output for json format, or
	// {"text": ...} for text format.
	Output map[string]any

	// Text is the final assistant message verbatim.
	Text string

	SessionID    string
	NumTurns     int
	CostUSD      float64
	InputTokens  int
	OutputTokens int
}

// Agent executes a rendered prompt to completion.
type Agent interface {
	Name() string
	Execute(ctx context.Context, prompt string, cfg Config) (*Result, error)
}

// OutputError indicates the agent finished but its response could not be
// turned into the expected structured output.
type OutputError struct {
	Message string
	Raw     string
}

func (e *OutputError) Error() string {
	raw := e.Raw
	if len(raw) > 200 {
		raw = raw[:200] + "..."
	}
	return fmt.Sprintf("agent output: %s: %q", e.Message, raw)
}

// DefaultProvider is the agent used when a node names none.
const DefaultProvider = "claude"

var (
	mu       sync.RWMutex
	registry = make(map[string]Agent)
)

// Register installs an agent under a provider name. Last registration wins,
// which lets tests install fakes.
func Register(a Agent) {
	mu.Lock()
	defer mu.Unlock()
	registry[a.Name()] = a
}

// ForName resolves an agent provider; empty name means DefaultProvider.
func ForName(name string) (Agent, error) {
	if name == "" {
		name = DefaultProvider
	}
	mu.RLock()
	defer mu.RUnlock()
	a, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("no agent provider registered for %q", name)
	}
	return a, nil
}
