// Package store keeps a local registry of completed capture sessions
// and their aggregated results in SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	folder      TEXT PRIMARY KEY,
	created_at  TIMESTAMP NOT NULL,
	photo_count INTEGER NOT NULL,
	region1     INTEGER NOT NULL,
	region2     INTEGER NOT NULL,
	region3     INTEGER NOT NULL,
	region4     INTEGER NOT NULL,
	location    TEXT NOT NULL,
	saved_path  TEXT NOT NULL
);
`

// SessionRecord is one completed session with its averaged per-region
// results and storage destination.
type SessionRecord struct {
	Folder     string    `json:"folder"`
	CreatedAt  time.Time `json:"created_at"`
	PhotoCount int       `json:"photo_count"`
	Regions    [4]int    `json:"regions"`
	Location   string    `json:"location"`
	SavedPath  string    `json:"saved_path"`
}

// Store is the SQLite-backed session registry.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the registry at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create registry directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize registry schema: %w", err)
	}
	return &Store{db: db}, nil
}

// RecordSession upserts a completed session. Re-saving the same
// session overwrites its row rather than duplicating it.
func (s *Store) RecordSession(ctx context.Context, rec SessionRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO sessions
			(folder, created_at, photo_count, region1, region2, region3, region4, location, saved_path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Folder, rec.CreatedAt, rec.PhotoCount,
		rec.Regions[0], rec.Regions[1], rec.Regions[2], rec.Regions[3],
		rec.Location, rec.SavedPath,
	)
	if err != nil {
		return fmt.Errorf("record session %s: %w", rec.Folder, err)
	}
	return nil
}

// GetSession returns one session by folder id, or sql.ErrNoRows.
func (s *Store) GetSession(ctx context.Context, folder string) (*SessionRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT folder, created_at, photo_count, region1, region2, region3, region4, location, saved_path
		FROM sessions WHERE folder = ?`, folder)
	return scanSession(row)
}

// ListSessions returns all recorded sessions, most recent first.
func (s *Store) ListSessions(ctx context.Context) ([]SessionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT folder, created_at, photo_count, region1, region2, region3, region4, location, saved_path
		FROM sessions ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func scanSession(scanner interface{ Scan(dest ...any) error }) (*SessionRecord, error) {
	var rec SessionRecord
	err := scanner.Scan(
		&rec.Folder, &rec.CreatedAt, &rec.PhotoCount,
		&rec.Regions[0], &rec.Regions[1], &rec.Regions[2], &rec.Regions[3],
		&rec.Location, &rec.SavedPath,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
