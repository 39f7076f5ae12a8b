package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// RunUpdate carries the fields a status transition changes.
type RunUpdate struct {
	Status  string
	EndedAt *time.Time
	Success *bool
	Error   string
}

// RunIndex records run history for a project. The default backend is a JSON
// manifest file; sqlite and mysql backends suit shared or long-lived
// deployments.
//
// Implementations assume one live run per project root; concurrent runs
// against the same index are unsupported.
type RunIndex interface {
	// Register upserts an entry keyed by run id.
	Register(entry *RunEntry) error
	// Update applies a status transition to an existing entry.
	Update(runID string, update RunUpdate) error
	// List returns entries oldest first, limited to the last n when n > 0.
	List(n int) ([]*RunEntry, error)
	// Latest returns the most recently started entry, or nil.
	Latest() (*RunEntry, error)
	// Get returns the entry for a run id, or nil.
	Get(runID string) (*RunEntry, error)
}

// FileRunIndex stores the run history as runs/manifest.json. The manifest is
// read, modified, and rewritten whole on every change; a corrupted file is
// treated as empty rather than failing the run.
type FileRunIndex struct {
	path string
}

// NewFileRunIndex creates an index over a manifest file path.
func NewFileRunIndex(path string) *FileRunIndex {
	return &FileRunIndex{path: path}
}

type manifestDoc struct {
	Runs []*RunEntry `json:"runs"`
}

func (f *FileRunIndex) load() *manifestDoc {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return &manifestDoc{}
	}
	var doc manifestDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return &manifestDoc{}
	}
	return &doc
}

func (f *FileRunIndex) save(doc *manifestDoc) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("save run manifest: %w", err)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("save run manifest: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".manifest-*")
	if err != nil {
		return fmt.Errorf("save run manifest: %w", err)
	}
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("save run manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("save run manifest: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("save run manifest: %w", err)
	}
	return nil
}

// Register upserts an entry keyed by run id.
func (f *FileRunIndex) Register(entry *RunEntry) error {
	doc := f.load()
	for i, existing := range doc.Runs {
		if existing.RunID == entry.RunID {
			doc.Runs[i] = entry
			return f.save(doc)
		}
	}
	doc.Runs = append(doc.Runs, entry)
	return f.save(doc)
}

// Update applies a status transition to an existing entry. Updating an
// unknown run id is a no-op.
func (f *FileRunIndex) Update(runID string, update RunUpdate) error {
	doc := f.load()
	for _, entry := range doc.Runs {
		if entry.RunID != runID {
			continue
		}
		if update.Status != "" {
			entry.Status = update.Status
		}
		if update.EndedAt != nil {
			entry.EndedAt = update.EndedAt
		}
		if update.Success != nil {
			entry.Success = update.Success
		}
		if update.Error != "" {
			entry.Error = update.Error
		}
		return f.save(doc)
	}
	return nil
}

// List returns entries oldest first, limited to the last n when n > 0.
func (f *FileRunIndex) List(n int) ([]*RunEntry, error) {
	doc := f.load()
	runs := doc.Runs
	if n > 0 && len(runs) > n {
		runs = runs[len(runs)-n:]
	}
	return runs, nil
}

// Latest returns the last registered entry, or nil.
func (f *FileRunIndex) Latest() (*RunEntry, error) {
	doc := f.load()
	if len(doc.Runs) == 0 {
		return nil, nil
	}
	return doc.Runs[len(doc.Runs)-1], nil
}

// Get returns the entry for a run id, or nil.
func (f *FileRunIndex) Get(runID string) (*RunEntry, error) {
	doc := f.load()
	for _, entry := range doc.Runs {
		if entry.RunID == runID {
			return entry, nil
		}
	}
	return nil, nil
}
