package trident

import (
	"fmt"
	"strings"
	"time"
)

// NodeTrace records one node execution: timing, resolved inputs, output, and
// failure or skip state. Agent nodes additionally carry session id, cost, and
// turn count.
type NodeTrace struct {
	NodeID    string         `json:"node_id"`
	StartedAt time.Time      `json:"started_at"`
	EndedAt   time.Time      `json:"ended_at"`
	Inputs    map[string]any `json:"inputs,omitempty"`
	Output    map[string]any `json:"output,omitempty"`
	Model     string         `json:"model,omitempty"`
	TokensIn  int            `json:"tokens_in,omitempty"`
	TokensOut int            `json:"tokens_out,omitempty"`
	Skipped   bool           `json:"skipped,omitempty"`
	Error     string         `json:"error,omitempty"`
	ErrorType string         `json:"error_type,omitempty"`
	CostUSD   float64        `json:"cost_usd,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	NumTurns  int            `json:"num_turns,omitempty"`
}

// Duration is the wall time the node took.
func (t *NodeTrace) Duration() time.Duration {
	return t.EndedAt.Sub(t.StartedAt)
}

// ExecutionTrace is the ordered record of a whole run. Entries for a level
// are appended in node-id order after the level completes, so traces are
// deterministic for deterministic nodes.
type ExecutionTrace struct {
	RunID     string       `json:"run_id"`
	StartedAt time.Time    `json:"started_at"`
	EndedAt   time.Time    `json:"ended_at"`
	Nodes     []*NodeTrace `json:"nodes"`
	Error     string       `json:"error,omitempty"`
}

// ExecutionResult is what Run returns. Node failures never propagate as the
// function's error; they land in Err with the trace and partial outputs
// intact.
type ExecutionResult struct {
	RunID   string
	Outputs map[string]any
	Trace   *ExecutionTrace
	Err     error
}

// Success reports whether the run completed without a node failure.
func (r *ExecutionResult) Success() bool { return r.Err == nil }

// Summary renders a short human-readable report of the run.
func (r *ExecutionResult) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s: ", r.RunID)
	if r.Success() {
		b.WriteString("completed")
	} else {
		fmt.Fprintf(&b, "failed: %v", r.Err)
	}
	if r.Trace != nil {
		executed, skipped := 0, 0
		var cost float64
		for _, nt := range r.Trace.Nodes {
			if nt.Skipped {
				skipped++
			} else {
				executed++
			}
			cost += nt.CostUSD
		}
		fmt.Fprintf(&b, "\n  nodes: %d executed, %d skipped", executed, skipped)
		fmt.Fprintf(&b, "\n  duration: %s", r.Trace.EndedAt.Sub(r.Trace.StartedAt).Round(time.Millisecond))
		if cost > 0 {
			fmt.Fprintf(&b, "\n  cost: $%.4f", cost)
		}
	}
	return b.String()
}
