package artifact

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// NewSQLiteRunIndex opens (or creates) a SQLite-backed run index. The pure-Go
// driver keeps the binary cgo-free.
//
//	index, err := artifact.NewSQLiteRunIndex(".trident/runs.db")
//	mgr := artifact.ForProject(root, runID, "").WithIndex(index)
func NewSQLiteRunIndex(path string) (RunIndex, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite run index: %w", err)
	}
	// One live run per project; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	idx := &sqlRunIndex{
		db: db,
		upsert: `INSERT INTO workflow_runs (run_id, project_name, entrypoint, status, started_at)
		         VALUES (?, ?, ?, ?, ?)
		         ON CONFLICT(run_id) DO UPDATE SET
		           project_name = excluded.project_name,
		           entrypoint   = excluded.entrypoint,
		           status       = excluded.status,
		           started_at   = excluded.started_at`,
	}
	if err := idx.init(); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}
