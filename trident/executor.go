package trident

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/trident-go/trident/artifact"
	"github.com/dshills/trident-go/trident/emit"
	"github.com/dshills/trident-go/trident/tool"
)

// RunOptions configures one workflow execution.
type RunOptions struct {
	// Entrypoint overrides the project's default entrypoint node.
	Entrypoint string

	// Inputs is the initial input map, seeded into every input node.
	Inputs map[string]any

	// DryRun synthesizes mock outputs instead of calling providers.
	DryRun bool

	// Verbose enables node-level progress events.
	Verbose bool

	// EmitSignals forces signal emission even when the manifest leaves it
	// disabled.
	EmitSignals bool

	// RunID fixes the run id; otherwise a resumed checkpoint's id or a new
	// UUID is used.
	RunID string

	// Resume names a prior run id, or "latest", whose checkpoint seeds this
	// run. Completed nodes replay their recorded outputs.
	Resume string

	// StartFrom re-executes from a node, reusing only its ancestors'
	// checkpointed outputs.
	StartFrom string

	// ResumeSessions maps agent node ids to provider session ids.
	ResumeSessions map[string]string

	// ArtifactDir overrides the .trident artifact root.
	ArtifactDir string

	// NoArtifacts disables checkpoint, trace, and output persistence.
	NoArtifacts bool

	// PublishTo additionally writes final outputs to this path.
	PublishTo string

	// OnAgentMessage receives each intermediate agent message, for progress
	// display beyond the emitter's agent_message events.
	OnAgentMessage func(nodeID, text string)

	// Emitter receives execution events; nil means none.
	Emitter emit.Emitter

	// Metrics records Prometheus metrics; nil means none.
	Metrics *Metrics

	// Tools overrides the tool dispatcher; tests install mocks here.
	Tools *tool.Dispatcher

	// Manager overrides the artifact manager. Branch nodes use this to nest
	// sub-run artifacts under the parent run.
	Manager *artifact.Manager

	// Index overrides the run index backend (file, sqlite, mysql).
	Index artifact.RunIndex
}

// executor holds the per-run state shared by the level loop and dispatch.
type executor struct {
	project *Project
	dag     *DAG
	opts    RunOptions
	mgr     *artifact.Manager
	emitter emit.Emitter
	tools   *tool.Dispatcher
	costs   *CostTracker
	mu      sync.Mutex

	runID      string
	entrypoint string
	inputs     map[string]any
	checkpoint *artifact.Checkpoint
	resumed    *artifact.Checkpoint
	outputs    map[string]map[string]any
	trace      *ExecutionTrace
	signals    bool

	// ancestors of StartFrom, when set.
	startFromAncestors map[string]struct{}
}

// Run executes a project. Node failures are captured in the result, never
// returned; the error return is reserved for setup problems (missing
// entrypoint, DAG cycle, missing resume target, unresolvable model).
//
//	result, err := trident.Run(ctx, project, trident.RunOptions{
//	    Inputs: map[string]any{"topic": "tides"},
//	})
//	if err != nil { ... }        // setup failure, nothing ran
//	if !result.Success() { ... } // a node failed; result.Trace has details
func Run(ctx context.Context, p *Project, opts RunOptions) (*ExecutionResult, error) {
	ex, err := newExecutor(p, opts)
	if err != nil {
		return nil, err
	}
	return ex.run(ctx), nil
}

func newExecutor(p *Project, opts RunOptions) (*executor, error) {
	dag, err := BuildDAG(p)
	if err != nil {
		return nil, err
	}

	ex := &executor{
		project: p,
		dag:     dag,
		opts:    opts,
		emitter: opts.Emitter,
		tools:   opts.Tools,
		outputs: make(map[string]map[string]any),
	}
	if ex.emitter == nil {
		ex.emitter = emit.Null{}
	}
	if ex.tools == nil {
		ex.tools = tool.NewDispatcher(p.Root)
	}

	ex.entrypoint = opts.Entrypoint
	if ex.entrypoint == "" && len(p.Entrypoints) > 0 {
		ex.entrypoint = p.Entrypoints[0]
	}
	if ex.entrypoint != "" {
		if _, known := p.KindOf(ex.entrypoint); !known {
			return nil, &SetupError{Message: fmt.Sprintf("entrypoint %q is not a known node", ex.entrypoint)}
		}
	} else if len(p.InputNodes) > 0 {
		return nil, &SetupError{Message: "no entrypoint: project declares input nodes but names no entrypoint"}
	}

	if err := ex.resolveResume(); err != nil {
		return nil, err
	}
	ex.resolveRunID()
	if err := ex.checkModels(); err != nil {
		return nil, err
	}

	ex.mgr = opts.Manager
	if ex.mgr == nil {
		cfg := artifact.Config{
			BaseDir:            filepath.Join(p.Root, artifact.DefaultBaseDirName),
			DisableCheckpoint:  opts.NoArtifacts,
			DisableTrace:       opts.NoArtifacts,
			DisableOutputs:     opts.NoArtifacts,
			DisableBranchState: opts.NoArtifacts,
		}
		if opts.ArtifactDir != "" {
			cfg.BaseDir = opts.ArtifactDir
		}
		ex.mgr = artifact.NewManager(cfg, ex.runID)
	}
	ex.mgr.WithIndex(opts.Index)

	ex.inputs = opts.Inputs
	if ex.inputs == nil {
		ex.inputs = make(map[string]any)
	}
	if ex.resumed != nil && len(opts.Inputs) == 0 {
		ex.inputs = ex.resumed.Inputs
	}

	if err := ex.resolveStartFrom(); err != nil {
		return nil, err
	}

	ex.signals = opts.EmitSignals || p.Orchestration.Signals.Enabled
	return ex, nil
}

func (ex *executor) resolveResume() error {
	if ex.opts.Resume == "" {
		return nil
	}

	resumeID := ex.opts.Resume
	if resumeID == "latest" {
		latest, err := artifact.FindLatestRun(ex.project.Root)
		if err != nil || latest == "" {
			return &SetupError{Message: "resume target: no prior runs found"}
		}
		resumeID = latest
	}

	base := ex.opts.ArtifactDir
	if base == "" {
		base = filepath.Join(ex.project.Root, artifact.DefaultBaseDirName)
	}
	mgr := artifact.NewManager(artifact.Config{BaseDir: base}, resumeID)
	cp, err := mgr.LoadCheckpoint()
	if err != nil {
		return &SetupError{Message: fmt.Sprintf("resume target %s: %v", resumeID, err)}
	}
	if cp == nil {
		return &SetupError{Message: fmt.Sprintf("resume target %s: no checkpoint found", resumeID)}
	}
	ex.resumed = cp
	return nil
}

// resolveRunID applies the precedence: explicit > resumed checkpoint > new.
func (ex *executor) resolveRunID() {
	switch {
	case ex.opts.RunID != "":
		ex.runID = ex.opts.RunID
	case ex.resumed != nil:
		ex.runID = ex.resumed.RunID
	default:
		ex.runID = uuid.NewString()
	}
}

// checkModels verifies every prompt node resolves to a model before anything
// runs. Dry runs skip provider resolution since no call will be made.
func (ex *executor) checkModels() error {
	for _, id := range sortedKeys(ex.project.Prompts) {
		if ex.resolveModel(ex.project.Prompts[id]) == "" {
			return &SetupError{Message: fmt.Sprintf(
				"prompt %q has no model and the project sets no default", id)}
		}
	}
	return nil
}

func (ex *executor) resolveModel(node *PromptNode) string {
	if node.Model != "" {
		return node.Model
	}
	return ex.project.Defaults.Model
}

func (ex *executor) resolveStartFrom() error {
	if ex.opts.StartFrom == "" {
		return nil
	}
	if _, known := ex.project.KindOf(ex.opts.StartFrom); !known {
		return &SetupError{Message: fmt.Sprintf("start-from %q is not a known node", ex.opts.StartFrom)}
	}
	if ex.resumed == nil {
		return &SetupError{Message: "start-from requires --resume: there is no checkpoint to reuse"}
	}

	ex.startFromAncestors = ex.dag.Ancestors(ex.opts.StartFrom)
	for id := range ex.startFromAncestors {
		if _, done := ex.resumed.CompletedNodes[id]; !done {
			return &SetupError{Message: fmt.Sprintf(
				"start-from %s: ancestor %q is not in the checkpoint", ex.opts.StartFrom, id)}
		}
	}
	return nil
}

// shouldReplay reports whether a node's checkpointed output is reused
// instead of executing it.
func (ex *executor) shouldReplay(nodeID string) (*artifact.CheckpointNodeData, bool) {
	if ex.resumed == nil {
		return nil, false
	}
	data, done := ex.resumed.CompletedNodes[nodeID]
	if !done {
		return nil, false
	}
	// start-from narrows replay to the target's ancestors.
	if ex.startFromAncestors != nil {
		if _, isAncestor := ex.startFromAncestors[nodeID]; !isAncestor {
			return nil, false
		}
	}
	return data, true
}

func (ex *executor) run(ctx context.Context) *ExecutionResult {
	ex.trace = &ExecutionTrace{RunID: ex.runID, StartedAt: time.Now().UTC()}
	ex.costs = NewCostTracker(ex.runID)
	ex.checkpoint = artifact.NewCheckpoint(ex.runID, ex.project.Name, ex.dag.Order, ex.inputs, ex.entrypoint)
	if ex.resumed != nil {
		ex.checkpoint.BranchStates = ex.resumed.BranchStates
	}

	if err := ex.mgr.EnsureDirs(); err == nil {
		_ = ex.mgr.RegisterRun(ex.project.Name, ex.entrypoint)
		_ = ex.mgr.SaveMetadata(&artifact.RunMetadata{
			RunID:       ex.runID,
			ProjectName: ex.project.Name,
			Entrypoint:  ex.entrypoint,
			StartedAt:   ex.trace.StartedAt,
			DryRun:      ex.opts.DryRun,
		})
	}
	if ex.signals {
		_ = ex.mgr.ClearSignals(ex.project.Name)
		_ = ex.mgr.EmitSignal(artifact.SignalStarted, ex.project.Name, "", nil)
	}
	ex.emit("run_start", "", nil)

	var runErr error
	for _, level := range ex.dag.Levels {
		if err := ex.executeLevel(ctx, level); err != nil {
			runErr = err
			break
		}
	}

	return ex.finalize(runErr)
}

type levelResult struct {
	nodeID string
	trace  *NodeTrace
	err    error
}

// executeLevel runs every node of a level concurrently and folds the results
// back in node-id order. The level always runs to completion; the first
// failure aborts subsequent levels, not siblings.
func (ex *executor) executeLevel(ctx context.Context, level []string) error {
	pending := make([]string, 0, len(level))
	for _, nodeID := range level {
		if data, replay := ex.shouldReplay(nodeID); replay {
			ex.replayNode(nodeID, data)
			continue
		}
		pending = append(pending, nodeID)
	}
	if len(pending) == 0 {
		return nil
	}

	results := make(chan levelResult, len(pending))
	var wg sync.WaitGroup
	for _, nodeID := range pending {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			trace, err := ex.dispatch(ctx, id)
			results <- levelResult{nodeID: id, trace: trace, err: err}
		}(nodeID)
	}
	wg.Wait()
	close(results)

	collected := make([]levelResult, 0, len(pending))
	for r := range results {
		collected = append(collected, r)
	}
	sort.Slice(collected, func(i, j int) bool { return collected[i].nodeID < collected[j].nodeID })

	var firstErr error
	for _, r := range collected {
		ex.trace.Nodes = append(ex.trace.Nodes, r.trace)
		if r.err != nil {
			if firstErr == nil {
				firstErr = r.err
			}
			continue
		}
		// A skipped branch still passes its inputs through as output;
		// skipped nodes with no output contribute nothing downstream.
		if !r.trace.Skipped || r.trace.Output != nil {
			ex.outputs[r.nodeID] = r.trace.Output
			ex.checkpoint.MarkCompleted(r.nodeID, &artifact.CheckpointNodeData{
				Outputs:     r.trace.Output,
				CompletedAt: r.trace.EndedAt,
				SessionID:   r.trace.SessionID,
				CostUSD:     r.trace.CostUSD,
				NumTurns:    r.trace.NumTurns,
			})
		}
	}
	_ = ex.mgr.SaveCheckpoint(ex.checkpoint)
	return firstErr
}

// replayNode materializes a trace from checkpoint data without executing.
func (ex *executor) replayNode(nodeID string, data *artifact.CheckpointNodeData) {
	ex.outputs[nodeID] = data.Outputs
	now := time.Now().UTC()
	ex.trace.Nodes = append(ex.trace.Nodes, &NodeTrace{
		NodeID:    nodeID,
		StartedAt: now,
		EndedAt:   now,
		Output:    data.Outputs,
		SessionID: data.SessionID,
		CostUSD:   data.CostUSD,
		NumTurns:  data.NumTurns,
	})
	ex.checkpoint.MarkCompleted(nodeID, data)
	ex.emit("node_replayed", nodeID, nil)
}

func (ex *executor) finalize(runErr error) *ExecutionResult {
	ex.trace.EndedAt = time.Now().UTC()

	finalOutputs := ex.collectFinalOutputs()

	status := artifact.StatusCompleted
	if runErr != nil {
		status = artifact.StatusFailed
		ex.trace.Error = runErr.Error()
	}
	ex.checkpoint.Status = status
	_ = ex.mgr.SaveCheckpoint(ex.checkpoint)
	_ = ex.mgr.SaveTrace(ex.trace)

	if runErr == nil {
		publish := artifact.PublishOptions{
			Workflow: ex.project.Name,
			Alias:    ex.project.Orchestration.Publish.Alias,
		}
		if path := ex.project.Orchestration.Publish.Path; path != "" {
			publish.Path = ex.absPath(path)
		}
		if ex.opts.PublishTo != "" {
			publish.OverridePath = ex.absPath(ex.opts.PublishTo)
		}
		_ = ex.mgr.SaveOutputs(finalOutputs, publish)
	}

	summary := ""
	if runErr != nil {
		summary = runErr.Error()
	}
	_ = ex.mgr.UpdateRunStatus(status, runErr == nil, summary)

	if ex.signals {
		if runErr == nil {
			_ = ex.mgr.EmitSignal(artifact.SignalCompleted, ex.project.Name, ex.mgr.OutputsPath(), nil)
			_ = ex.mgr.EmitSignal(artifact.SignalReady, ex.project.Name, ex.mgr.OutputsPath(), nil)
		} else {
			_ = ex.mgr.EmitSignal(artifact.SignalFailed, ex.project.Name, "", map[string]any{
				"error": runErr.Error(),
			})
		}
	}

	meta := map[string]any{"cost_usd": ex.costs.Total()}
	if runErr != nil {
		meta["error"] = runErr.Error()
		ex.emit("run_failed", "", meta)
	} else {
		ex.emit("run_complete", "", meta)
	}
	ex.opts.Metrics.RunFinished(status, ex.costs.Total())

	return &ExecutionResult{
		RunID:   ex.runID,
		Outputs: finalOutputs,
		Trace:   ex.trace,
		Err:     runErr,
	}
}

// collectFinalOutputs keys each output node's map under its id. A project
// with no output nodes falls back to the last node in execution order.
func (ex *executor) collectFinalOutputs() map[string]any {
	final := make(map[string]any)
	if len(ex.project.OutputNodes) > 0 {
		for _, id := range sortedKeys(ex.project.OutputNodes) {
			if out, ok := ex.outputs[id]; ok {
				final[id] = out
			}
		}
		return final
	}
	for i := len(ex.dag.Order) - 1; i >= 0; i-- {
		id := ex.dag.Order[i]
		if out, ok := ex.outputs[id]; ok {
			final[id] = out
			break
		}
	}
	return final
}

func (ex *executor) absPath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(ex.project.Root, path)
}

func (ex *executor) emit(msg, nodeID string, meta map[string]any) {
	ex.emitter.Emit(emit.Event{
		RunID:    ex.runID,
		Workflow: ex.project.Name,
		NodeID:   nodeID,
		Msg:      msg,
		Meta:     meta,
	})
}
