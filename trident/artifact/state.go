// Package artifact owns the on-disk layout of workflow runs: checkpoints,
// traces, outputs, branch iteration state, the run index, and orchestration
// signals.
package artifact

import "time"

// Checkpoint statuses.
const (
	StatusRunning     = "running"
	StatusInterrupted = "interrupted"
	StatusCompleted   = "completed"
	StatusFailed      = "failed"
)

// CheckpointNodeData is the persisted result of one completed node.
type CheckpointNodeData struct {
	Outputs     map[string]any `json:"outputs"`
	CompletedAt time.Time      `json:"completed_at"`
	SessionID   string         `json:"session_id,omitempty"`
	CostUSD     float64        `json:"cost_usd,omitempty"`
	NumTurns    int            `json:"num_turns,omitempty"`
}

// Checkpoint is the resumable state of a run. It is rewritten whole after
// each level completes, so a crash loses at most the level in flight.
type Checkpoint struct {
	RunID          string                         `json:"run_id"`
	ProjectName    string                         `json:"project_name"`
	StartedAt      time.Time                      `json:"started_at"`
	UpdatedAt      time.Time                      `json:"updated_at"`
	Status         string                         `json:"status"`
	CompletedNodes map[string]*CheckpointNodeData `json:"completed_nodes"`
	PendingNodes   []string                       `json:"pending_nodes"`
	TotalCostUSD   float64                        `json:"total_cost_usd"`
	Inputs         map[string]any                 `json:"inputs,omitempty"`
	Entrypoint     string                         `json:"entrypoint,omitempty"`
	BranchStates   map[string]int                 `json:"branch_states,omitempty"`
}

// NewCheckpoint creates a running checkpoint with every node pending.
func NewCheckpoint(runID, projectName string, pending []string, inputs map[string]any, entrypoint string) *Checkpoint {
	now := time.Now().UTC()
	return &Checkpoint{
		RunID:          runID,
		ProjectName:    projectName,
		StartedAt:      now,
		UpdatedAt:      now,
		Status:         StatusRunning,
		CompletedNodes: make(map[string]*CheckpointNodeData),
		PendingNodes:   append([]string(nil), pending...),
		Inputs:         inputs,
		Entrypoint:     entrypoint,
		BranchStates:   make(map[string]int),
	}
}

// MarkCompleted records a node's outputs and removes it from the pending set.
func (c *Checkpoint) MarkCompleted(nodeID string, data *CheckpointNodeData) {
	if c.CompletedNodes == nil {
		c.CompletedNodes = make(map[string]*CheckpointNodeData)
	}
	c.CompletedNodes[nodeID] = data
	c.TotalCostUSD += data.CostUSD
	pending := c.PendingNodes[:0]
	for _, id := range c.PendingNodes {
		if id != nodeID {
			pending = append(pending, id)
		}
	}
	c.PendingNodes = pending
	c.UpdatedAt = time.Now().UTC()
}

// BranchIterationState is the persisted record of one sub-workflow iteration.
type BranchIterationState struct {
	BranchID  string         `json:"branch_id"`
	Iteration int            `json:"iteration"`
	Inputs    map[string]any `json:"inputs,omitempty"`
	Outputs   map[string]any `json:"outputs,omitempty"`
	StartedAt time.Time      `json:"started_at"`
	EndedAt   time.Time      `json:"ended_at"`
	Success   bool           `json:"success"`
	Error     string         `json:"error,omitempty"`
}

// RunEntry is one row in the project's run history.
type RunEntry struct {
	RunID       string     `json:"run_id"`
	ProjectName string     `json:"project_name"`
	Entrypoint  string     `json:"entrypoint,omitempty"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	Success     *bool      `json:"success,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// RunMetadata describes one run directory.
type RunMetadata struct {
	RunID       string    `json:"run_id"`
	ProjectName string    `json:"project_name"`
	Entrypoint  string    `json:"entrypoint,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	DryRun      bool      `json:"dry_run,omitempty"`
}

// Signal types.
const (
	SignalStarted   = "started"
	SignalCompleted = "completed"
	SignalFailed    = "failed"
	SignalReady     = "ready"
)

// Signal is a workflow-wide state marker persisted as one file per
// (workflow, type). New emissions overwrite the previous file.
type Signal struct {
	Type        string         `json:"type"`
	RunID       string         `json:"run_id"`
	Timestamp   time.Time      `json:"timestamp"`
	Workflow    string         `json:"workflow"`
	OutputsPath string         `json:"outputs_path,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}
