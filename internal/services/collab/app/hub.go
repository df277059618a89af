package server

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/duckviet/mind-notion-collab/internal/platform/timeouts"
	"github.com/duckviet/mind-notion-collab/internal/services/collab/session"
	"github.com/duckviet/mind-notion-collab/internal/services/collab/storage"
)

// sessionHub owns the live document sessions, one per note. Sessions are
// created on first acquire, seeded from the storage bridge, and torn down when
// the last participant releases them.
type sessionHub struct {
	mu       sync.Mutex
	sessions map[string]*session.Session
	bridge   storage.Bridge
}

func newSessionHub(bridge storage.Bridge) *sessionHub {
	return &sessionHub{
		sessions: make(map[string]*session.Session),
		bridge:   bridge,
	}
}

// acquire returns the live session for a note, creating it when absent. The
// initial content load runs outside the hub lock so a slow storage read for
// one note never stalls sessions for other notes.
func (h *sessionHub) acquire(ctx context.Context, noteID string) (*session.Session, error) {
	h.mu.Lock()
	if s, ok := h.sessions[noteID]; ok {
		h.mu.Unlock()
		return s, nil
	}
	h.mu.Unlock()

	content := ""
	if h.bridge != nil {
		loadCtx, cancel := context.WithTimeout(ctx, timeouts.StorageFlush)
		loaded, err := h.bridge.Load(loadCtx, noteID)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("load note content: %w", err)
		}
		content = loaded
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.sessions[noteID]; ok {
		// Another connection created the session while we were loading.
		return s, nil
	}
	s := session.New(noteID, content)
	h.sessions[noteID] = s
	return s, nil
}

// release tears the session down when it has no participants left. The
// closed-session check inside CloseIfEmpty guarantees a concurrent join either
// lands before teardown or retries against a fresh session.
func (h *sessionHub) release(noteID string, s *session.Session) {
	if !s.CloseIfEmpty() {
		return
	}
	h.mu.Lock()
	if current, ok := h.sessions[noteID]; ok && current == s {
		delete(h.sessions, noteID)
	}
	h.mu.Unlock()

	h.save(noteID, s)
}

// save writes the session content through the bridge when it has unsaved
// edits. Failures are logged, not surfaced: the live session keeps the edits
// and the next flush retries.
func (h *sessionHub) save(noteID string, s *session.Session) {
	if h.bridge == nil {
		return
	}
	content, dirty := s.FlushState()
	if !dirty {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeouts.StorageFlush)
	defer cancel()
	if err := h.bridge.Save(ctx, noteID, content); err != nil {
		log.Printf("collab: save note %q: %v", noteID, err)
	}
}

// flushDirty persists every session with unsaved edits.
func (h *sessionHub) flushDirty() {
	h.mu.Lock()
	live := make(map[string]*session.Session, len(h.sessions))
	for noteID, s := range h.sessions {
		live[noteID] = s
	}
	h.mu.Unlock()

	for noteID, s := range live {
		h.save(noteID, s)
	}
}

// runFlusher flushes dirty sessions on the given interval until the context
// ends, then performs a final flush. A non-positive interval disables the
// periodic flush but keeps the final one.
func (h *sessionHub) runFlusher(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		<-ctx.Done()
		h.flushDirty()
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.flushDirty()
		case <-ctx.Done():
			h.flushDirty()
			return
		}
	}
}
