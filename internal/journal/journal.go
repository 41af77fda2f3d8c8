// Package journal records sync runs and their diagnostics in SQLite.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/agentic-research/contentsync/internal/tree"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	kind        TEXT NOT NULL,
	target      TEXT NOT NULL DEFAULT '',
	started_at  INTEGER NOT NULL,
	finished_at INTEGER NOT NULL,
	changed     INTEGER NOT NULL,
	roots       INTEGER NOT NULL DEFAULT 0,
	nodes       INTEGER NOT NULL DEFAULT 0,
	backup      TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);

CREATE TABLE IF NOT EXISTS diagnostics (
	run_id    TEXT NOT NULL REFERENCES runs(id),
	seq       INTEGER NOT NULL,
	code      TEXT NOT NULL,
	severity  TEXT NOT NULL,
	batch     TEXT NOT NULL DEFAULT '',
	row       INTEGER NOT NULL DEFAULT 0,
	record_id TEXT NOT NULL DEFAULT '',
	detail    TEXT NOT NULL,
	PRIMARY KEY (run_id, seq)
) WITHOUT ROWID;
`

// Run is one journaled sync.
type Run struct {
	ID         string
	Kind       string // all, sheet, events, group, import, restore
	Target     string
	StartedAt  time.Time
	FinishedAt time.Time
	Changed    bool
	Roots      int
	Nodes      int
	Backup     string
	Err        string

	Diagnostics tree.Diagnostics
}

// Journal is a SQLite-backed run log. It is safe for concurrent use.
type Journal struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens or creates the journal at dbPath.
func Open(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close closes the database.
func (j *Journal) Close() error { return j.db.Close() }

// Record writes a run and its diagnostics in one transaction.
func (j *Journal) Record(ctx context.Context, r Run) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }() // no-op after commit

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, kind, target, started_at, finished_at, changed, roots, nodes, backup, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Kind, r.Target, r.StartedAt.UnixMilli(), r.FinishedAt.UnixMilli(),
		boolInt(r.Changed), r.Roots, r.Nodes, r.Backup, r.Err)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", r.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO diagnostics (run_id, seq, code, severity, batch, row, record_id, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare diagnostics: %w", err)
	}
	defer func() { _ = stmt.Close() }() // safe to ignore

	for i, d := range r.Diagnostics {
		if _, err := stmt.ExecContext(ctx, r.ID, i, string(d.Code), d.Severity.String(), d.Batch, d.Row, d.RecordID, d.Detail); err != nil {
			return fmt.Errorf("insert diagnostic: %w", err)
		}
	}
	return tx.Commit()
}

// Recent returns the last n runs, newest first, without diagnostics.
func (j *Journal) Recent(ctx context.Context, n int) ([]Run, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, kind, target, started_at, finished_at, changed, roots, nodes, backup, error
		FROM runs ORDER BY started_at DESC, id LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer func() { _ = rows.Close() }() // safe to ignore

	var out []Run
	for rows.Next() {
		var (
			r                 Run
			started, finished int64
			changed           int
		)
		if err := rows.Scan(&r.ID, &r.Kind, &r.Target, &started, &finished, &changed, &r.Roots, &r.Nodes, &r.Backup, &r.Err); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartedAt = time.UnixMilli(started)
		r.FinishedAt = time.UnixMilli(finished)
		r.Changed = changed != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// Diagnostics loads the diagnostics of one run in emission order.
func (j *Journal) Diagnostics(ctx context.Context, runID string) (tree.Diagnostics, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT code, batch, row, record_id, detail FROM diagnostics WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("query diagnostics: %w", err)
	}
	defer func() { _ = rows.Close() }() // safe to ignore

	var out tree.Diagnostics
	for rows.Next() {
		var d tree.Diagnostic
		var code string
		if err := rows.Scan(&code, &d.Batch, &d.Row, &d.RecordID, &d.Detail); err != nil {
			return nil, fmt.Errorf("scan diagnostic: %w", err)
		}
		d.Code = tree.Code(code)
		d.Severity = d.Code.Severity()
		out = append(out, d)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
