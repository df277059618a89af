// Package protocol defines the JSON message vocabulary exchanged between the
// collaboration server and its clients over a note's WebSocket connection.
//
// Every message travels inside an Envelope whose Type selects one payload
// shape from the closed set below. The same vocabulary is shared by the
// server and the Go client agent so that both sides handle the full set
// exhaustively.
package protocol

import (
	"encoding/json"
	"log"
)

// Type identifies one message shape in the wire vocabulary.
type Type string

const (
	// TypeJoin announces or updates the sender's display name (client to server).
	TypeJoin Type = "join"
	// TypeInit carries the full session snapshot, sent once per connection on
	// admission (server to client).
	TypeInit Type = "init"
	// TypeUserJoined announces a peer joining the session.
	TypeUserJoined Type = "user_joined"
	// TypeUserLeft announces a peer leaving the session.
	TypeUserLeft Type = "user_left"
	// TypeUserUpdated announces a peer's profile change.
	TypeUserUpdated Type = "user_updated"
	// TypeCursor carries a cursor move. Clients send {index, length}; the
	// server rebroadcasts with the originating participant id filled in.
	TypeCursor Type = "cursor"
	// TypeDocUpdate carries an optimistic local edit (client to server).
	TypeDocUpdate Type = "doc_update"
	// TypeDocState carries the authoritative content broadcast (server to client).
	TypeDocState Type = "doc_state"
	// TypePing and TypePong keep idle connections verifiably alive.
	TypePing Type = "ping"
	TypePong Type = "pong"
	// TypeError carries an admission or frame-level failure. Admission errors
	// are terminal: the server closes the transport after writing one.
	TypeError Type = "error"
)

// Envelope is the wire frame wrapping every message.
type Envelope struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Cursor is a selection within a note's content.
type Cursor struct {
	Index  int `json:"index"`
	Length int `json:"length"`
}

// Valid reports whether the cursor describes a non-negative selection.
func (c Cursor) Valid() bool {
	return c.Index >= 0 && c.Length >= 0
}

// Participant is the public view of one connected editor.
type Participant struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Color  string `json:"color"`
	Cursor Cursor `json:"cursor"`
}

// JoinPayload is the payload for TypeJoin.
type JoinPayload struct {
	Name string `json:"name"`
}

// InitPayload is the payload for TypeInit.
type InitPayload struct {
	Self    Participant   `json:"self"`
	Users   []Participant `json:"users"`
	Content string        `json:"content"`
	Version int           `json:"version"`
}

// UserLeftPayload is the payload for TypeUserLeft.
type UserLeftPayload struct {
	ID string `json:"id"`
}

// CursorPayload is the client-to-server payload for TypeCursor.
type CursorPayload struct {
	Index  int `json:"index"`
	Length int `json:"length"`
}

// CursorBroadcast is the server-to-client payload for TypeCursor.
type CursorBroadcast struct {
	ID     string `json:"id"`
	Cursor Cursor `json:"cursor"`
}

// DocUpdatePayload is the payload for both TypeDocUpdate and TypeDocState.
type DocUpdatePayload struct {
	Content string `json:"content"`
	Version int    `json:"version"`
}

// Admission failure codes carried by ErrorPayload. Each rejection cause has a
// distinct code so clients can present distinct UX.
const (
	ErrorCodeMissingNoteID   = "missing_note_id"
	ErrorCodeMissingToken    = "missing_token"
	ErrorCodeInvalidToken    = "invalid_token"
	ErrorCodeScopeMismatch   = "token_scope_mismatch"
	ErrorCodeConnectionLimit = "connection_limit"
	ErrorCodeInvalidPayload  = "invalid_payload"
	ErrorCodeInternal        = "internal_error"
)

// ErrorPayload is the payload for TypeError.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// MustPayload marshals v for use as an envelope payload. Marshal failures are
// logged and produce a nil payload rather than aborting the caller.
func MustPayload(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		log.Printf("failed to marshal message payload: %v", err)
		return nil
	}
	return b
}
