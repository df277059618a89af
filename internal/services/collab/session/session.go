// Package session owns the canonical in-memory state for one note's live
// collaboration: its participants, content snapshot, and version counter.
package session

import (
	"sync"

	apperrors "github.com/duckviet/mind-notion-collab/internal/platform/errors"
	"github.com/duckviet/mind-notion-collab/internal/services/collab/protocol"
)

// Outlet delivers an envelope to one participant's connection. Delivery is
// best-effort and must not block; the transport layer buffers per connection.
type Outlet interface {
	Deliver(env protocol.Envelope)
}

type participant struct {
	id     string
	name   string
	color  string
	cursor protocol.Cursor
	outlet Outlet
}

func (p *participant) public() protocol.Participant {
	return protocol.Participant{
		ID:     p.id,
		Name:   p.name,
		Color:  p.color,
		Cursor: p.cursor,
	}
}

// Session is the live collaboration state for one note. All mutations take
// the session mutex so read-modify-write steps on participants, content, and
// version never interleave. Sessions for different notes are independent.
type Session struct {
	mu           sync.Mutex
	noteID       string
	participants map[string]*participant
	content      string
	version      int
	dirty        bool
	closed       bool
}

// New creates a session seeded with the note's persisted content at version 0.
func New(noteID string, content string) *Session {
	return &Session{
		noteID:       noteID,
		participants: make(map[string]*participant),
		content:      content,
	}
}

// NoteID returns the note this session collaborates on.
func (s *Session) NoteID() string {
	return s.noteID
}

// Join adds a participant and returns their snapshot of the session. The
// snapshot is delivered to the joiner's outlet and a user_joined event is
// broadcast to every other participant. Join reports false when the session
// has been closed by teardown; the caller should acquire a fresh session.
//
// A rejoin under an existing participant id replaces that participant's
// outlet, preserving identity across reconnects.
func (s *Session) Join(id string, name string, outlet Outlet) (protocol.Participant, bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return protocol.Participant{}, false
	}

	p, rejoined := s.participants[id]
	if rejoined {
		p.outlet = outlet
		if name != "" {
			p.name = name
		}
	} else {
		p = &participant{
			id:     id,
			name:   name,
			color:  colorFor(id),
			outlet: outlet,
		}
		s.participants[id] = p
	}

	self := p.public()
	init := protocol.InitPayload{
		Self:    self,
		Users:   s.publicsLocked(),
		Content: s.content,
		Version: s.version,
	}
	var peers []Outlet
	if !rejoined {
		peers = s.peersLocked(id)
	}
	s.mu.Unlock()

	outlet.Deliver(protocol.Envelope{
		Type:    protocol.TypeInit,
		Payload: protocol.MustPayload(init),
	})
	deliverAll(peers, protocol.Envelope{
		Type:    protocol.TypeUserJoined,
		Payload: protocol.MustPayload(self),
	})
	return self, true
}

// Leave removes a participant, announces it to the remaining participants,
// and reports whether the session is now empty. The outlet must be the one the
// participant registered in Join: when a participant has already rejoined on a
// new connection, the old connection's delayed teardown no longer owns the
// registration and must not evict the live one.
func (s *Session) Leave(id string, outlet Outlet) bool {
	s.mu.Lock()
	if p, ok := s.participants[id]; !ok || p.outlet != outlet {
		empty := len(s.participants) == 0
		s.mu.Unlock()
		return empty
	}
	delete(s.participants, id)
	peers := s.peersLocked(id)
	empty := len(s.participants) == 0
	s.mu.Unlock()

	deliverAll(peers, protocol.Envelope{
		Type:    protocol.TypeUserLeft,
		Payload: protocol.MustPayload(protocol.UserLeftPayload{ID: id}),
	})
	return empty
}

// CloseIfEmpty marks the session closed when no participants remain, so a
// concurrent join cannot land on a session that teardown is about to discard.
// It reports whether the session was closed.
func (s *Session) CloseIfEmpty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.participants) > 0 {
		return false
	}
	s.closed = true
	return true
}

// UpdateProfile renames a participant and broadcasts user_updated to every
// participant, the mutator included; re-applying the event is safe.
func (s *Session) UpdateProfile(id string, name string) error {
	s.mu.Lock()
	p, ok := s.participants[id]
	if !ok {
		s.mu.Unlock()
		return apperrors.New(apperrors.CodeParticipantNotFound, "participant is not in session")
	}
	if name != "" {
		p.name = name
	}
	updated := p.public()
	peers := s.peersLocked("")
	s.mu.Unlock()

	deliverAll(peers, protocol.Envelope{
		Type:    protocol.TypeUserUpdated,
		Payload: protocol.MustPayload(updated),
	})
	return nil
}

// UpdateCursor moves a participant's cursor and broadcasts it to every other
// participant. The sender never receives its own cursor echo.
func (s *Session) UpdateCursor(id string, cursor protocol.Cursor) error {
	if !cursor.Valid() {
		return apperrors.New(apperrors.CodeCursorInvalid, "cursor index and length must be non-negative")
	}

	s.mu.Lock()
	p, ok := s.participants[id]
	if !ok {
		s.mu.Unlock()
		return apperrors.New(apperrors.CodeParticipantNotFound, "participant is not in session")
	}
	p.cursor = cursor
	peers := s.peersLocked(id)
	s.mu.Unlock()

	deliverAll(peers, protocol.Envelope{
		Type: protocol.TypeCursor,
		Payload: protocol.MustPayload(protocol.CursorBroadcast{
			ID:     id,
			Cursor: cursor,
		}),
	})
	return nil
}

// UpdateContent applies a content edit under last-writer-wins: the payload is
// accepted unconditionally, the version counter increments by exactly one,
// and the authoritative doc_state is broadcast to every participant except
// the originator. The client's version is not consulted; concurrent edits can
// overwrite one another.
func (s *Session) UpdateContent(originID string, content string, clientVersion int) int {
	_ = clientVersion // last-writer-wins: the client's version is advisory only

	s.mu.Lock()
	s.content = content
	s.version++
	s.dirty = true
	version := s.version
	peers := s.peersLocked(originID)
	s.mu.Unlock()

	deliverAll(peers, protocol.Envelope{
		Type: protocol.TypeDocState,
		Payload: protocol.MustPayload(protocol.DocUpdatePayload{
			Content: content,
			Version: version,
		}),
	})
	return version
}

// Snapshot returns the current content and version.
func (s *Session) Snapshot() (string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.content, s.version
}

// FlushState returns the current content and clears the dirty flag. It
// reports false when nothing changed since the last flush.
func (s *Session) FlushState() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return "", false
	}
	s.dirty = false
	return s.content, true
}

// Participants returns the public view of every connected participant.
func (s *Session) Participants() []protocol.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.publicsLocked()
}

func (s *Session) publicsLocked() []protocol.Participant {
	users := make([]protocol.Participant, 0, len(s.participants))
	for _, p := range s.participants {
		users = append(users, p.public())
	}
	return users
}

// peersLocked collects outlets for every participant except excludeID.
func (s *Session) peersLocked(excludeID string) []Outlet {
	peers := make([]Outlet, 0, len(s.participants))
	for _, p := range s.participants {
		if p.id == excludeID {
			continue
		}
		peers = append(peers, p.outlet)
	}
	return peers
}

func deliverAll(peers []Outlet, env protocol.Envelope) {
	for _, peer := range peers {
		peer.Deliver(env)
	}
}
