// Package storage persists CI baselines, either in a single JSON file or in
// a SQLite database.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sw33tLie/airscope/pkg/gate"
)

// ErrNotFound is returned when no baseline exists for a URL.
var ErrNotFound = errors.New("baseline not found")

type DB struct {
	sql *sql.DB
}

func Open(path string) (*DB, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	// Ensure schema exists for convenience.
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS baselines (
  url             TEXT PRIMARY KEY,
  scoring_version TEXT NOT NULL DEFAULT '',
  captured_at     DATETIME NOT NULL,
  document        TEXT NOT NULL
);
    `); err != nil {
		return nil, err
	}
	return &DB{sql: db}, nil
}

func (d *DB) Close() error {
	if d == nil || d.sql == nil {
		return nil
	}
	return d.sql.Close()
}

// SaveBaseline stores b under its URL, replacing whatever was there.
func (d *DB) SaveBaseline(ctx context.Context, b gate.Baseline) error {
	if b.URL == "" {
		return errors.New("baseline has no url")
	}
	doc, err := b.Marshal()
	if err != nil {
		return err
	}
	_, err = d.sql.ExecContext(ctx, `
INSERT INTO baselines(url, scoring_version, captured_at, document) VALUES(?,?,?,?)
ON CONFLICT(url) DO UPDATE SET
  scoring_version = excluded.scoring_version,
  captured_at     = excluded.captured_at,
  document        = excluded.document`,
		b.URL, b.ScoringVersion, b.CapturedAt.UTC().Format(time.RFC3339Nano), string(doc))
	return err
}

// GetBaseline returns the baseline saved for url or ErrNotFound.
func (d *DB) GetBaseline(ctx context.Context, url string) (*gate.Baseline, error) {
	var doc string
	err := d.sql.QueryRowContext(ctx, "SELECT document FROM baselines WHERE url = ?", url).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w for %s", ErrNotFound, url)
	}
	if err != nil {
		return nil, err
	}
	return gate.ParseBaseline([]byte(doc))
}

// ListBaselines returns every stored baseline ordered by URL.
func (d *DB) ListBaselines(ctx context.Context) ([]gate.Baseline, error) {
	rows, err := d.sql.QueryContext(ctx, "SELECT document FROM baselines ORDER BY url")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []gate.Baseline
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		b, err := gate.ParseBaseline([]byte(doc))
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
