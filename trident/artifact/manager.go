package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// DefaultBaseDirName is the artifact root created inside a project.
const DefaultBaseDirName = ".trident"

// Config controls where artifacts live and which ones are persisted.
// The zero persist flags mean "persist everything"; use the Disable fields to
// opt out (--no-artifacts sets all three).
type Config struct {
	BaseDir            string
	DisableCheckpoint  bool
	DisableTrace       bool
	DisableOutputs     bool
	DisableBranchState bool
}

// Manager owns one run's slice of the artifact tree:
//
//	<base>/runs/manifest.json
//	<base>/runs/<run_id>/{metadata,checkpoint,trace,outputs}.json
//	<base>/runs/<run_id>/branches/<branch_id>/iteration_<n>.json
//	<base>/signals/<workflow>.<type>
//	<base>/outputs/<alias>.json
//
// All JSON files are written atomically (temp file + rename) with 2-space
// indentation.
type Manager struct {
	cfg   Config
	runID string
	index RunIndex
}

// NewManager creates a manager for a run, indexing runs in the file-backed
// manifest under BaseDir.
func NewManager(cfg Config, runID string) *Manager {
	return &Manager{
		cfg:   cfg,
		runID: runID,
		index: NewFileRunIndex(filepath.Join(cfg.BaseDir, "runs", "manifest.json")),
	}
}

// ForProject creates a manager rooted at <projectRoot>/.trident, or at
// artifactDir when non-empty.
func ForProject(projectRoot, runID, artifactDir string) *Manager {
	base := artifactDir
	if base == "" {
		base = filepath.Join(projectRoot, DefaultBaseDirName)
	}
	return NewManager(Config{BaseDir: base}, runID)
}

// WithIndex swaps the run index backend (file, sqlite, mysql).
func (m *Manager) WithIndex(index RunIndex) *Manager {
	if index != nil {
		m.index = index
	}
	return m
}

// RunID returns the run this manager serves.
func (m *Manager) RunID() string { return m.runID }

// BaseDir returns the artifact root.
func (m *Manager) BaseDir() string { return m.cfg.BaseDir }

// RunDir returns this run's directory.
func (m *Manager) RunDir() string {
	return filepath.Join(m.cfg.BaseDir, "runs", m.runID)
}

// CheckpointPath returns the checkpoint file location.
func (m *Manager) CheckpointPath() string { return filepath.Join(m.RunDir(), "checkpoint.json") }

// TracePath returns the trace file location.
func (m *Manager) TracePath() string { return filepath.Join(m.RunDir(), "trace.json") }

// OutputsPath returns the canonical outputs file location.
func (m *Manager) OutputsPath() string { return filepath.Join(m.RunDir(), "outputs.json") }

// MetadataPath returns the metadata file location.
func (m *Manager) MetadataPath() string { return filepath.Join(m.RunDir(), "metadata.json") }

// SignalsDir returns the signal directory.
func (m *Manager) SignalsDir() string { return filepath.Join(m.cfg.BaseDir, "signals") }

// AliasDir returns the published-outputs alias directory.
func (m *Manager) AliasDir() string { return filepath.Join(m.cfg.BaseDir, "outputs") }

func (m *Manager) branchesDir(branchID string) string {
	return filepath.Join(m.RunDir(), "branches", branchID)
}

func (m *Manager) iterationPath(branchID string, iteration int) string {
	return filepath.Join(m.branchesDir(branchID), fmt.Sprintf("iteration_%d.json", iteration))
}

// NestedManager creates the manager for one branch iteration, rooted at
// <run>/branches/<branch_id>/iter_<n>/. Sub-workflow runs nest arbitrarily.
func (m *Manager) NestedManager(branchID string, iteration int, runID string) *Manager {
	cfg := m.cfg
	cfg.BaseDir = filepath.Join(m.RunDir(), "branches", branchID, fmt.Sprintf("iter_%d", iteration))
	return NewManager(cfg, runID)
}

// EnsureDirs creates the run directory tree.
func (m *Manager) EnsureDirs() error {
	return os.MkdirAll(m.RunDir(), 0o755)
}

// RegisterRun upserts this run in the index with status running.
func (m *Manager) RegisterRun(projectName, entrypoint string) error {
	return m.index.Register(&RunEntry{
		RunID:       m.runID,
		ProjectName: projectName,
		Entrypoint:  entrypoint,
		Status:      StatusRunning,
		StartedAt:   time.Now().UTC(),
	})
}

// UpdateRunStatus finalizes this run's index entry.
func (m *Manager) UpdateRunStatus(status string, success bool, errorSummary string) error {
	now := time.Now().UTC()
	return m.index.Update(m.runID, RunUpdate{
		Status:  status,
		EndedAt: &now,
		Success: &success,
		Error:   errorSummary,
	})
}

// SaveCheckpoint writes the checkpoint atomically.
func (m *Manager) SaveCheckpoint(cp *Checkpoint) error {
	if m.cfg.DisableCheckpoint {
		return nil
	}
	return m.writeJSON(m.CheckpointPath(), cp)
}

// LoadCheckpoint reads the checkpoint, returning nil when none exists.
func (m *Manager) LoadCheckpoint() (*Checkpoint, error) {
	data, err := os.ReadFile(m.CheckpointPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	if cp.BranchStates == nil {
		cp.BranchStates = make(map[string]int)
	}
	return &cp, nil
}

// LoadCheckpointFor reads another run's checkpoint from the same tree.
func (m *Manager) LoadCheckpointFor(runID string) (*Checkpoint, error) {
	other := *m
	other.runID = runID
	return other.LoadCheckpoint()
}

// SaveTrace writes the execution trace.
func (m *Manager) SaveTrace(trace any) error {
	if m.cfg.DisableTrace {
		return nil
	}
	return m.writeJSON(m.TracePath(), trace)
}

// PublishOptions controls where outputs are written beyond the canonical
// per-run copy.
type PublishOptions struct {
	// Workflow is the project name, used for the alias symlink target.
	Workflow string
	// Path is the orchestration publish path from the manifest (absolute).
	Path string
	// Alias names a stable symlink under <base>/outputs/.
	Alias string
	// OverridePath is the CLI --publish-to override (absolute).
	OverridePath string
}

// SaveOutputs writes the canonical outputs file, any configured publish
// copies, and maintains the alias symlink.
func (m *Manager) SaveOutputs(outputs map[string]any, opts PublishOptions) error {
	if m.cfg.DisableOutputs {
		return nil
	}
	if err := m.writeJSON(m.OutputsPath(), outputs); err != nil {
		return err
	}

	published := m.OutputsPath()
	for _, extra := range []string{opts.Path, opts.OverridePath} {
		if extra == "" {
			continue
		}
		if err := m.writeJSON(extra, outputs); err != nil {
			return err
		}
		published = extra
	}

	if opts.Alias != "" {
		link := filepath.Join(m.AliasDir(), opts.Alias+".json")
		if err := os.MkdirAll(m.AliasDir(), 0o755); err != nil {
			return fmt.Errorf("save outputs: %w", err)
		}
		// Replace any stale alias; symlink creation fails on an existing name.
		_ = os.Remove(link)
		if err := os.Symlink(published, link); err != nil {
			return fmt.Errorf("save outputs: alias %s: %w", opts.Alias, err)
		}
	}
	return nil
}

// SaveMetadata writes the run metadata file.
func (m *Manager) SaveMetadata(meta *RunMetadata) error {
	return m.writeJSON(m.MetadataPath(), meta)
}

// SaveBranchIteration persists one sub-workflow iteration.
func (m *Manager) SaveBranchIteration(branchID string, state *BranchIterationState) error {
	if m.cfg.DisableBranchState {
		return nil
	}
	return m.writeJSON(m.iterationPath(branchID, state.Iteration), state)
}

// LoadBranchIterations returns all persisted iterations for a branch in
// iteration order. Unparseable files are skipped.
func (m *Manager) LoadBranchIterations(branchID string) ([]*BranchIterationState, error) {
	dir := m.branchesDir(branchID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("load branch iterations: %w", err)
	}

	var states []*BranchIterationState
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		var state BranchIterationState
		if err := json.Unmarshal(data, &state); err != nil {
			continue
		}
		states = append(states, &state)
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Iteration < states[j].Iteration })
	return states, nil
}

// LatestIteration returns the most recent iteration for a branch, or nil.
func (m *Manager) LatestIteration(branchID string) (*BranchIterationState, error) {
	states, err := m.LoadBranchIterations(branchID)
	if err != nil || len(states) == 0 {
		return nil, err
	}
	return states[len(states)-1], nil
}

// Runs returns the run history, newest last, limited to n entries when n > 0.
func (m *Manager) Runs(n int) ([]*RunEntry, error) {
	return m.index.List(n)
}

// writeJSON writes v as indented JSON via a temp file rename so readers never
// observe a partial file.
func (m *Manager) writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

// FindLatestRun returns the most recent run id recorded for a project root,
// or empty when no runs exist.
func FindLatestRun(projectRoot string) (string, error) {
	index := NewFileRunIndex(filepath.Join(projectRoot, DefaultBaseDirName, "runs", "manifest.json"))
	entry, err := index.Latest()
	if err != nil || entry == nil {
		return "", err
	}
	return entry.RunID, nil
}
