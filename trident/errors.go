// Package trident provides the core workflow execution runtime.
package trident

import (
	"errors"
	"fmt"
	"strings"
)

// Process exit codes. Errors carry them through the Coder interface; the
// interface uses a plain int so error types in other packages implement it
// without importing this one.
const (
	ExitSuccess         = 0
	ExitRuntimeError    = 1
	ExitValidationError = 2
	ExitProviderError   = 3
	ExitTimeout         = 4
)

// Coder is implemented by errors that carry an exit code.
type Coder interface {
	ExitCode() int
}

// CodeFor returns the exit code for err, walking the unwrap chain.
// Unknown errors map to ExitRuntimeError; nil maps to ExitSuccess.
func CodeFor(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var c Coder
	if errors.As(err, &c) {
		return c.ExitCode()
	}
	return ExitRuntimeError
}

// SetupError indicates an unrecoverable configuration problem detected
// before any node executes: missing entrypoint, DAG cycle, missing resume
// target, unknown provider for a declared model.
type SetupError struct {
	Message string
}

func (e *SetupError) Error() string { return e.Message }
func (e *SetupError) ExitCode() int { return ExitRuntimeError }

// ParseError indicates an unreadable or malformed project file.
type ParseError struct {
	Path    string
	Message string
	Cause   error
}

func (e *ParseError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

func (e *ParseError) Unwrap() error { return e.Cause }
func (e *ParseError) ExitCode() int { return ExitValidationError }

// ValidationError indicates an invalid project structure.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }
func (e *ValidationError) ExitCode() int { return ExitValidationError }

// DAGError indicates a structural defect in the execution graph
// (cycles, edges referencing unknown nodes).
type DAGError struct {
	Message string
}

func (e *DAGError) Error() string { return e.Message }
func (e *DAGError) ExitCode() int { return ExitValidationError }

// SchemaValidationError indicates a node output that does not match its
// declared schema, or a missing required input at dispatch time.
type SchemaValidationError struct {
	Message string
}

func (e *SchemaValidationError) Error() string { return e.Message }
func (e *SchemaValidationError) ExitCode() int { return ExitRuntimeError }

// ConditionError indicates a condition expression that failed to compile
// or evaluate.
type ConditionError struct {
	Expr    string
	Message string
	Cause   error
}

func (e *ConditionError) Error() string {
	return fmt.Sprintf("condition %q: %s", e.Expr, e.Message)
}

func (e *ConditionError) Unwrap() error { return e.Cause }
func (e *ConditionError) ExitCode() int { return ExitRuntimeError }

// ToolError indicates a tool invocation failure.
type ToolError struct {
	Tool    string
	Message string
	Cause   error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s: %s", e.Tool, e.Message)
}

func (e *ToolError) Unwrap() error { return e.Cause }
func (e *ToolError) ExitCode() int { return ExitRuntimeError }

// NodeExecutionError wraps a node failure with full context: which node
// failed, what kind it was, the inputs it received, and the original cause.
// The cause's exit code is preserved so provider failures still exit 3.
type NodeExecutionError struct {
	NodeID   string
	NodeKind NodeKind
	Message  string
	Inputs   map[string]any
	Cause    error
}

func (e *NodeExecutionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "node %q (%s) failed: %s", e.NodeID, e.NodeKind, e.Message)
	if e.Cause != nil {
		fmt.Fprintf(&b, "\n  caused by: %v", e.Cause)
	}
	if len(e.Inputs) > 0 {
		fmt.Fprintf(&b, "\n  inputs: %s", summarizeInputs(e.Inputs))
	}
	return b.String()
}

func (e *NodeExecutionError) Unwrap() error { return e.Cause }

func (e *NodeExecutionError) ExitCode() int {
	if e.Cause != nil {
		return CodeFor(e.Cause)
	}
	return ExitRuntimeError
}

// BranchError indicates a sub-workflow failure: the sub-run itself failed,
// the loop hit max iterations, or a loop condition could not be evaluated.
type BranchError struct {
	Message       string
	Iteration     int
	MaxIterations int
	Cause         error
}

func (e *BranchError) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if e.MaxIterations > 0 {
		fmt.Fprintf(&b, " (iteration %d/%d)", e.Iteration+1, e.MaxIterations)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

func (e *BranchError) Unwrap() error { return e.Cause }
func (e *BranchError) ExitCode() int { return ExitRuntimeError }

// summarizeInputs renders inputs for error messages, truncating large values.
func summarizeInputs(inputs map[string]any) string {
	const maxLen = 100
	parts := make([]string, 0, len(inputs))
	for _, k := range sortedKeys(inputs) {
		v := fmt.Sprintf("%v", inputs[k])
		if len(v) > maxLen {
			v = v[:maxLen] + "..."
		}
		parts = append(parts, fmt.Sprintf("%s=%s", k, v))
	}
	return strings.Join(parts, " ")
}
