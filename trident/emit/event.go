// Package emit provides pluggable observability for workflow execution.
package emit

// Event is one observability event from the executor.
//
// Events cover the run lifecycle (run_start, run_complete, run_failed),
// node execution (node_start, node_complete, node_skipped, node_failed),
// checkpoint writes, and signal emission. Meta carries event-specific
// structured data; common keys are "duration_ms", "error", "model",
// "tokens_in", "tokens_out", "cost_usd", and "iteration".
type Event struct {
	// RunID identifies the workflow execution.
	RunID string

	// Workflow is the project name.
	Workflow string

	// NodeID identifies the node, empty for run-level events.
	NodeID string

	// Msg names the event, e.g. "node_start".
	Msg string

	// Meta holds additional structured data.
	Meta map[string]any
}
