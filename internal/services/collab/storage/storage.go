// Package storage defines the persistence boundary for note content.
package storage

import "context"

// Bridge loads and saves the plain-text content of a note. Load returns the
// empty string, not an error, when no content has been stored for the note.
type Bridge interface {
	Load(ctx context.Context, noteID string) (string, error)
	Save(ctx context.Context, noteID string, content string) error
}
