package ingest

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"
)

// Snapshot schema: one row per sheet row, idx 0 holding the header.
// cells is a JSON array of strings.
const snapshotSchema = `
CREATE TABLE IF NOT EXISTS sheet_rows (
	sheet TEXT NOT NULL,
	idx   INTEGER NOT NULL,
	cells TEXT NOT NULL,
	PRIMARY KEY (sheet, idx)
);
CREATE TABLE IF NOT EXISTS sheets (
	name     TEXT PRIMARY KEY,
	position INTEGER NOT NULL
);
`

// SQLiteSource reads batches from a snapshot database written by WriteSnapshot.
type SQLiteSource struct {
	Path       string
	Classifier Classifier
}

func (s *SQLiteSource) open() (*sql.DB, error) {
	db, err := sql.Open("sqlite", s.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", s.Path, err)
	}
	return db, nil
}

// Sheets lists snapshot sheets in their original tab order.
func (s *SQLiteSource) Sheets(ctx context.Context) ([]string, error) {
	db, err := s.open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }() // safe to ignore
	return listSheets(ctx, db)
}

func listSheets(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, "SELECT name FROM sheets ORDER BY position")
	if err != nil {
		return nil, fmt.Errorf("query sheets: %w", err)
	}
	defer func() { _ = rows.Close() }() // safe to ignore

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan sheet: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Fetch loads the named sheets, or all of them.
func (s *SQLiteSource) Fetch(ctx context.Context, names ...string) ([]Batch, error) {
	db, err := s.open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }() // safe to ignore

	if len(names) == 0 {
		if names, err = listSheets(ctx, db); err != nil {
			return nil, err
		}
	}
	out := make([]Batch, 0, len(names))
	for _, name := range names {
		b, err := s.load(ctx, db, name)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func (s *SQLiteSource) load(ctx context.Context, db *sql.DB, name string) (Batch, error) {
	rows, err := db.QueryContext(ctx, "SELECT idx, cells FROM sheet_rows WHERE sheet = ? ORDER BY idx", name)
	if err != nil {
		return Batch{}, fmt.Errorf("query rows of %s: %w", name, err)
	}
	defer func() { _ = rows.Close() }() // safe to ignore

	b := Batch{Name: name, Kind: s.Classifier.Classify(name)}
	found := false
	for rows.Next() {
		var (
			idx int
			raw string
		)
		if err := rows.Scan(&idx, &raw); err != nil {
			return Batch{}, fmt.Errorf("scan row: %w", err)
		}
		var cells []string
		if err := json.Unmarshal([]byte(raw), &cells); err != nil {
			return Batch{}, fmt.Errorf("parse cells of %s row %d: %w", name, idx, err)
		}
		found = true
		if idx == 0 {
			b.Header = cells
			continue
		}
		b.Rows = append(b.Rows, cells)
	}
	if err := rows.Err(); err != nil {
		return Batch{}, err
	}
	if !found {
		return Batch{}, fmt.Errorf("sheet %q not in snapshot %s", name, s.Path)
	}
	return b, nil
}

// WriteSnapshot stores batches in a SQLite database at dbPath, replacing any
// sheets of the same name.
func WriteSnapshot(ctx context.Context, dbPath string, batches []Batch) error {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	defer func() { _ = db.Close() }() // safe to ignore

	if _, err := db.ExecContext(ctx, snapshotSchema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }() // no-op after commit

	for pos, b := range batches {
		if _, err := tx.ExecContext(ctx, "DELETE FROM sheet_rows WHERE sheet = ?", b.Name); err != nil {
			return fmt.Errorf("clear %s: %w", b.Name, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO sheets (name, position) VALUES (?, ?) ON CONFLICT(name) DO UPDATE SET position = excluded.position",
			b.Name, pos); err != nil {
			return fmt.Errorf("insert sheet %s: %w", b.Name, err)
		}
		stmt, err := tx.PrepareContext(ctx, "INSERT INTO sheet_rows (sheet, idx, cells) VALUES (?, ?, ?)")
		if err != nil {
			return fmt.Errorf("prepare insert: %w", err)
		}
		all := append([][]string{b.Header}, b.Rows...)
		for idx, cells := range all {
			raw, err := json.Marshal(cells)
			if err != nil {
				_ = stmt.Close()
				return fmt.Errorf("marshal cells: %w", err)
			}
			if _, err := stmt.ExecContext(ctx, b.Name, idx, string(raw)); err != nil {
				_ = stmt.Close()
				return fmt.Errorf("insert %s row %d: %w", b.Name, idx, err)
			}
		}
		_ = stmt.Close()
	}
	return tx.Commit()
}
