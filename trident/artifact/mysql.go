package artifact

import (
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
)

// NewMySQLRunIndex opens a MySQL-backed run index for deployments where run
// history is shared across hosts. The DSN must include parseTime=true so
// timestamps scan into time.Time.
//
//	index, err := artifact.NewMySQLRunIndex("user:pass@tcp(db:3306)/trident?parseTime=true")
func NewMySQLRunIndex(dsn string) (RunIndex, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql run index: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect mysql run index: %w", err)
	}

	idx := &sqlRunIndex{
		db: db,
		upsert: `INSERT INTO workflow_runs (run_id, project_name, entrypoint, status, started_at)
		         VALUES (?, ?, ?, ?, ?)
		         ON DUPLICATE KEY UPDATE
		           project_name = VALUES(project_name),
		           entrypoint   = VALUES(entrypoint),
		           status       = VALUES(status),
		           started_at   = VALUES(started_at)`,
	}
	if err := idx.init(); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}
