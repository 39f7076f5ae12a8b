package artifact

import (
	"database/sql"
	"fmt"
)

// sqlRunIndex implements RunIndex over a SQL database. The sqlite and mysql
// constructors differ only in driver and upsert syntax.
type sqlRunIndex struct {
	db     *sql.DB
	upsert string
}

const runsSchema = `
CREATE TABLE IF NOT EXISTS workflow_runs (
	run_id       VARCHAR(64) PRIMARY KEY,
	project_name VARCHAR(255) NOT NULL,
	entrypoint   VARCHAR(255),
	status       VARCHAR(32) NOT NULL,
	started_at   TIMESTAMP NOT NULL,
	ended_at     TIMESTAMP NULL,
	success      BOOLEAN NULL,
	error        TEXT
)`

func (s *sqlRunIndex) init() error {
	if _, err := s.db.Exec(runsSchema); err != nil {
		return fmt.Errorf("run index schema: %w", err)
	}
	return nil
}

func (s *sqlRunIndex) Register(entry *RunEntry) error {
	_, err := s.db.Exec(s.upsert,
		entry.RunID, entry.ProjectName, entry.Entrypoint, entry.Status, entry.StartedAt)
	if err != nil {
		return fmt.Errorf("register run: %w", err)
	}
	return nil
}

func (s *sqlRunIndex) Update(runID string, update RunUpdate) error {
	var endedAt any
	if update.EndedAt != nil {
		endedAt = *update.EndedAt
	}
	var success any
	if update.Success != nil {
		success = *update.Success
	}
	_, err := s.db.Exec(
		`UPDATE workflow_runs
		 SET status = ?, ended_at = COALESCE(?, ended_at),
		     success = COALESCE(?, success), error = ?
		 WHERE run_id = ?`,
		update.Status, endedAt, success, update.Error, runID)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return nil
}

func (s *sqlRunIndex) List(n int) ([]*RunEntry, error) {
	query := `SELECT run_id, project_name, entrypoint, status, started_at, ended_at, success, error
	          FROM workflow_runs ORDER BY started_at`
	var rows *sql.Rows
	var err error
	if n > 0 {
		rows, err = s.db.Query(query+" DESC LIMIT ?", n)
	} else {
		rows, err = s.db.Query(query + " ASC")
	}
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var entries []*RunEntry
	for rows.Next() {
		entry, err := scanRunEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	// The limited query reads newest first; callers expect oldest first.
	if n > 0 {
		for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
			entries[i], entries[j] = entries[j], entries[i]
		}
	}
	return entries, nil
}

func (s *sqlRunIndex) Latest() (*RunEntry, error) {
	entries, err := s.List(1)
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return entries[0], nil
}

func (s *sqlRunIndex) Get(runID string) (*RunEntry, error) {
	rows, err := s.db.Query(
		`SELECT run_id, project_name, entrypoint, status, started_at, ended_at, success, error
		 FROM workflow_runs WHERE run_id = ?`, runID)
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanRunEntry(rows)
}

func scanRunEntry(rows *sql.Rows) (*RunEntry, error) {
	var entry RunEntry
	var entrypoint, errMsg sql.NullString
	var endedAt sql.NullTime
	var success sql.NullBool
	if err := rows.Scan(&entry.RunID, &entry.ProjectName, &entrypoint, &entry.Status,
		&entry.StartedAt, &endedAt, &success, &errMsg); err != nil {
		return nil, fmt.Errorf("scan run entry: %w", err)
	}
	entry.Entrypoint = entrypoint.String
	entry.Error = errMsg.String
	if endedAt.Valid {
		t := endedAt.Time
		entry.EndedAt = &t
	}
	if success.Valid {
		b := success.Bool
		entry.Success = &b
	}
	return &entry, nil
}
