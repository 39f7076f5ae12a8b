package trident

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/trident-go/trident/artifact"
)

// executeBranch runs a sub-workflow, looping while the loop_while condition
// holds. Each iteration gets a nested artifact manager under
// branches/<id>/iter_<n>/, and its flattened outputs are persisted so a
// resumed run picks up after the last completed iteration.
func (ex *executor) executeBranch(ctx context.Context, node *BranchNode, inputs map[string]any, trace *NodeTrace) error {
	// A false pre-condition skips the sub-workflow but passes the inputs
	// through unchanged so downstream nodes still receive data.
	if node.Condition != "" {
		ok, err := EvalCondition(node.Condition, inputs)
		if err != nil || !ok {
			trace.Skipped = true
			trace.Output = inputs
			return nil
		}
	}

	sub, err := ex.loadSubWorkflow(node.WorkflowPath)
	if err != nil {
		return &BranchError{Message: fmt.Sprintf("load workflow %s", node.WorkflowPath), Cause: err}
	}

	currentInputs := inputs
	start := 0
	if ex.resumed != nil {
		if last, resumed := ex.resumed.BranchStates[node.ID]; resumed {
			start = last + 1
			// A failed iteration may be persisted after the last completed
			// one; restore inputs from the completed iteration itself.
			if states, err := ex.mgr.LoadBranchIterations(node.ID); err == nil {
				for _, state := range states {
					if state.Iteration == last && state.Success {
						currentInputs = state.Outputs
					}
				}
			}
		}
	}

	var flat map[string]any
	for n := start; ; n++ {
		if node.MaxIterations > 0 && n >= node.MaxIterations {
			return &BranchError{
				Message:       "Max iterations reached",
				Iteration:     n - 1,
				MaxIterations: node.MaxIterations,
			}
		}

		startedAt := time.Now().UTC()
		subRunID := uuid.NewString()
		result, err := Run(ctx, sub, RunOptions{
			Inputs:  currentInputs,
			DryRun:  ex.opts.DryRun,
			Verbose: ex.opts.Verbose,
			RunID:   subRunID,
			Emitter: ex.emitter,
			Metrics: ex.opts.Metrics,
			Manager: ex.mgr.NestedManager(node.ID, n, subRunID),
		})
		if err != nil {
			return &BranchError{Message: "sub-workflow setup failed", Iteration: n, Cause: err}
		}
		if result.Err != nil {
			_ = ex.mgr.SaveBranchIteration(node.ID, &artifact.BranchIterationState{
				BranchID:  node.ID,
				Iteration: n,
				Inputs:    currentInputs,
				StartedAt: startedAt,
				EndedAt:   time.Now().UTC(),
				Error:     result.Err.Error(),
			})
			return &BranchError{Message: "sub-workflow failed", Iteration: n, Cause: result.Err}
		}

		flat = flattenOutputs(result.Outputs)
		trace.CostUSD += sumTraceCost(result.Trace)

		_ = ex.mgr.SaveBranchIteration(node.ID, &artifact.BranchIterationState{
			BranchID:  node.ID,
			Iteration: n,
			Inputs:    currentInputs,
			Outputs:   flat,
			StartedAt: startedAt,
			EndedAt:   time.Now().UTC(),
			Success:   true,
		})
		ex.recordBranchIteration(node.ID, n)
		ex.emitVerbose("branch_iteration", node.ID, map[string]any{"iteration": n})

		if node.LoopWhile == "" {
			break
		}
		again, err := EvalCondition(node.LoopWhile, flat)
		if err != nil {
			return &BranchError{Message: "loop condition could not be evaluated", Iteration: n, Cause: err}
		}
		if !again {
			break
		}
		currentInputs = flat
	}

	trace.Output = flat
	return nil
}

// executeTrigger starts another workflow as a side effect. Fire-and-forget
// spawns a detached process running the trident binary; wait executes the
// workflow in-process and can pass its outputs downstream.
func (ex *executor) executeTrigger(ctx context.Context, node *TriggerNode, inputs map[string]any, trace *NodeTrace) error {
	if node.Condition != "" {
		ok, err := EvalCondition(node.Condition, inputs)
		if err != nil || !ok {
			trace.Skipped = true
			return nil
		}
	}

	dir := ex.workflowDir(node.WorkflowPath)

	if node.Mode == TriggerWait {
		sub, err := ex.loadSubWorkflow(node.WorkflowPath)
		if err != nil {
			return fmt.Errorf("trigger %s: load workflow %s: %w", node.ID, node.WorkflowPath, err)
		}
		result, err := Run(ctx, sub, RunOptions{
			Inputs:      inputs,
			DryRun:      ex.opts.DryRun,
			Verbose:     ex.opts.Verbose,
			EmitSignals: node.EmitSignal,
			Emitter:     ex.emitter,
			Metrics:     ex.opts.Metrics,
		})
		if err != nil {
			return fmt.Errorf("trigger %s: %w", node.ID, err)
		}
		if result.Err != nil {
			return fmt.Errorf("trigger %s: workflow failed: %w", node.ID, result.Err)
		}

		output := map[string]any{"triggered": true, "status": "completed"}
		if node.PassOutputs {
			for k, v := range flattenOutputs(result.Outputs) {
				if _, taken := output[k]; !taken {
					output[k] = v
				}
			}
		}
		trace.Output = output
		return nil
	}

	if !ex.opts.DryRun {
		if err := ex.spawnDetached(dir, node.EmitSignal); err != nil {
			return fmt.Errorf("trigger %s: %w", node.ID, err)
		}
	}
	trace.Output = map[string]any{"triggered": true, "status": "started"}
	return nil
}

// spawnDetached launches this binary against the target workflow directory
// and releases the process so it outlives the current run.
func (ex *executor) spawnDetached(workflowDir string, emitSignal bool) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}
	args := []string{"project", "run", workflowDir}
	if emitSignal {
		args = append(args, "--emit-signal")
	}
	cmd := exec.Command(exe, args...)
	cmd.Dir = workflowDir
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start workflow: %w", err)
	}
	return cmd.Process.Release()
}

func (ex *executor) loadSubWorkflow(workflowPath string) (*Project, error) {
	if workflowPath == SelfWorkflow {
		return ex.project, nil
	}
	return LoadProject(ex.workflowDir(workflowPath))
}

func (ex *executor) workflowDir(workflowPath string) string {
	if workflowPath == SelfWorkflow {
		return ex.project.Root
	}
	if filepath.IsAbs(workflowPath) {
		return workflowPath
	}
	return filepath.Join(ex.project.Root, workflowPath)
}

// recordBranchIteration notes the last completed iteration in the checkpoint
// and persists it immediately, so a crash mid-loop never re-executes a
// completed iteration on resume. Branch nodes in the same level run
// concurrently, so the map and the write are guarded.
func (ex *executor) recordBranchIteration(branchID string, iteration int) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	ex.checkpoint.BranchStates[branchID] = iteration
	_ = ex.mgr.SaveCheckpoint(ex.checkpoint)
}

// flattenOutputs collapses a sub-run's final outputs for the parent node.
// A single output node contributes its contents directly; multiple output
// nodes merge in id order, later ids winning on field collisions.
func flattenOutputs(final map[string]any) map[string]any {
	flat := make(map[string]any)
	for _, id := range sortedKeys(final) {
		if contents, ok := final[id].(map[string]any); ok {
			for k, v := range contents {
				flat[k] = v
			}
			continue
		}
		flat[id] = final[id]
	}
	return flat
}

func sumTraceCost(trace *ExecutionTrace) float64 {
	if trace == nil {
		return 0
	}
	var total float64
	for _, nt := range trace.Nodes {
		total += nt.CostUSD
	}
	return total
}
