// Package tool executes deterministic function tools declared in a project
// manifest. Runners exist for python modules, shell scripts, and HTTP
// endpoints; each receives the gathered edge-mapping inputs as named
// arguments and returns a field map.
package tool

import (
	"context"
	"fmt"
)

// Def mirrors a manifest tool declaration.
type Def struct {
	ID          string
	Type        string // "python", "shell", "http"
	Module      string
	Function    string
	Path        string
	Description string
}

// Runner executes one tool kind.
type Runner interface {
	Execute(ctx context.Context, def Def, inputs map[string]any) (map[string]any, error)
}

// Dispatcher routes a tool definition to the runner for its type.
type Dispatcher struct {
	runners map[string]Runner
}

// NewDispatcher creates a dispatcher with the standard runners for a project
// root: python, shell, and http.
func NewDispatcher(projectRoot string) *Dispatcher {
	return &Dispatcher{runners: map[string]Runner{
		"python": NewPythonRunner(projectRoot),
		"shell":  NewShellRunner(projectRoot),
		"http":   NewHTTPRunner(),
	}}
}

// WithRunner overrides the runner for a tool type; tests install mocks this
// way.
func (d *Dispatcher) WithRunner(toolType string, r Runner) *Dispatcher {
	d.runners[toolType] = r
	return d
}

// Execute runs the tool. A non-map return value from the underlying callable
// is wrapped as {"output": value} by the runners.
func (d *Dispatcher) Execute(ctx context.Context, def Def, inputs map[string]any) (map[string]any, error) {
	runner, ok := d.runners[def.Type]
	if !ok {
		return nil, fmt.Errorf("tool %s: unsupported type %q", def.ID, def.Type)
	}
	return runner.Execute(ctx, def, inputs)
}
