// Package sqlite provides a SQLite-backed note content store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sqlitemigrate "github.com/duckviet/mind-notion-collab/internal/platform/storage/sqlitemigrate"
	"github.com/duckviet/mind-notion-collab/internal/services/collab/storage"
	"github.com/duckviet/mind-notion-collab/internal/services/collab/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store persists note content in SQLite.
type Store struct {
	sqlDB *sql.DB
}

// Open opens a SQLite note store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Load returns the stored content for a note, or the empty string when the
// note has never been saved.
func (s *Store) Load(ctx context.Context, noteID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s == nil || s.sqlDB == nil {
		return "", fmt.Errorf("storage is not configured")
	}
	noteID = strings.TrimSpace(noteID)
	if noteID == "" {
		return "", fmt.Errorf("note id is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT content FROM note_contents WHERE note_id = ?`,
		noteID,
	)
	var content string
	if err := row.Scan(&content); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("load note content: %w", err)
	}
	return content, nil
}

// Save upserts the content for a note.
func (s *Store) Save(ctx context.Context, noteID string, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	noteID = strings.TrimSpace(noteID)
	if noteID == "" {
		return fmt.Errorf("note id is required")
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO note_contents (note_id, content, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(note_id) DO UPDATE SET
		   content = excluded.content,
		   updated_at = excluded.updated_at`,
		noteID,
		content,
		time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save note content: %w", err)
	}
	return nil
}

var _ storage.Bridge = (*Store)(nil)
