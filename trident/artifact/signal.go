package artifact

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// SignalTimeoutError is raised when a signal wait exceeds its deadline. It
// names the signals that never appeared.
type SignalTimeoutError struct {
	Missing []string
	Timeout time.Duration
}

func (e *SignalTimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for signals: %s",
		e.Timeout, strings.Join(e.Missing, ", "))
}

// ExitCode distinguishes wait timeouts (4) from runtime failures.
func (e *SignalTimeoutError) ExitCode() int { return 4 }

// EmitSignal writes the signal file for (workflow, type), overwriting any
// previous emission.
func (m *Manager) EmitSignal(signalType, workflow, outputsPath string, metadata map[string]any) error {
	sig := &Signal{
		Type:        signalType,
		RunID:       m.runID,
		Timestamp:   time.Now().UTC(),
		Workflow:    workflow,
		OutputsPath: outputsPath,
		Metadata:    metadata,
	}
	path := filepath.Join(m.SignalsDir(), workflow+"."+signalType)
	return m.writeJSON(path, sig)
}

// ClearSignals removes every signal file for a workflow. Runs call this at
// start so consumers never act on a stale signal from a previous run.
func (m *Manager) ClearSignals(workflow string) error {
	entries, err := os.ReadDir(m.SignalsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("clear signals: %w", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), workflow+".") {
			if err := os.Remove(filepath.Join(m.SignalsDir(), e.Name())); err != nil {
				return fmt.Errorf("clear signals: %w", err)
			}
		}
	}
	return nil
}

// ListSignals returns every signal currently present, sorted by file name.
func ListSignals(projectRoot string) ([]*Signal, error) {
	dir := filepath.Join(projectRoot, DefaultBaseDirName, "signals")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list signals: %w", err)
	}
	var signals []*Signal
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		sig, err := LoadSignal(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		signals = append(signals, sig)
	}
	return signals, nil
}

// ClearAllSignals removes every signal file under a project root.
func ClearAllSignals(projectRoot string) (int, error) {
	dir := filepath.Join(projectRoot, DefaultBaseDirName, "signals")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("clear signals: %w", err)
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			return removed, fmt.Errorf("clear signals: %w", err)
		}
		removed++
	}
	return removed, nil
}

// LoadSignal reads and parses one signal file.
func LoadSignal(path string) (*Signal, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sig Signal
	if err := json.Unmarshal(data, &sig); err != nil {
		return nil, fmt.Errorf("parse signal %s: %w", path, err)
	}
	return &sig, nil
}

// ResolveSignalPath turns a signal specification into a file path. Three
// forms are accepted:
//
//   - signal:<workflow>.<type> resolves under the project's signal directory
//   - a relative path resolves against the project root
//   - an absolute path is used as-is
func ResolveSignalPath(spec, projectRoot string) string {
	if name, ok := strings.CutPrefix(spec, "signal:"); ok {
		return filepath.Join(projectRoot, DefaultBaseDirName, "signals", name)
	}
	if filepath.IsAbs(spec) {
		return spec
	}
	return filepath.Join(projectRoot, spec)
}

// WaitConfig controls a signal wait.
type WaitConfig struct {
	// Specs are signal specifications accepted by ResolveSignalPath.
	Specs        []string
	ProjectRoot  string
	Timeout      time.Duration
	PollInterval time.Duration
}

// WaitForSignals polls until every requested signal file exists and parses,
// or the timeout elapses. It returns the signals keyed by resolved path.
// Cancellation of ctx returns ctx.Err.
func WaitForSignals(ctx context.Context, cfg WaitConfig) (map[string]*Signal, error) {
	if len(cfg.Specs) == 0 {
		return nil, nil
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3600 * time.Second
	}

	paths := make([]string, len(cfg.Specs))
	for i, spec := range cfg.Specs {
		paths[i] = ResolveSignalPath(spec, cfg.ProjectRoot)
	}

	found := make(map[string]*Signal, len(paths))
	deadline := time.Now().Add(cfg.Timeout)
	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	for {
		for _, path := range paths {
			if _, ok := found[path]; ok {
				continue
			}
			sig, err := LoadSignal(path)
			if err != nil {
				continue
			}
			found[path] = sig
		}
		if len(found) == len(paths) {
			return found, nil
		}
		if time.Now().After(deadline) {
			var missing []string
			for _, path := range paths {
				if _, ok := found[path]; !ok {
					missing = append(missing, path)
				}
			}
			return found, &SignalTimeoutError{Missing: missing, Timeout: cfg.Timeout}
		}
		select {
		case <-ctx.Done():
			return found, ctx.Err()
		case <-ticker.C:
		}
	}
}
