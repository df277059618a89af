// Package client implements a Go agent for the collaborative note protocol.
//
// The agent keeps a local mirror of the note session: the caller's own
// participant record, the peer roster, and the authoritative content with its
// version. Local edits apply to the mirror first and then travel to the
// server, matching the optimistic editing model the protocol assumes.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	apperrors "github.com/duckviet/mind-notion-collab/internal/platform/errors"
	"github.com/duckviet/mind-notion-collab/internal/services/collab/protocol"
	"golang.org/x/net/websocket"
)

const (
	defaultInitialBackoff = 500 * time.Millisecond
	defaultMaxBackoff     = 30 * time.Second
	handshakeTimeout      = 10 * time.Second
)

// ErrClosed is returned by mutations after Close.
var ErrClosed = errors.New("collab client is closed")

// Config defines how the agent connects to a note session.
type Config struct {
	// BaseURL is the server root, e.g. "ws://localhost:1234".
	BaseURL string
	// NoteID selects the note session to join.
	NoteID string
	// Token is the note-scoped access token.
	Token string
	// ParticipantID is optional; the server assigns one when empty. Supplying
	// a stable id preserves identity across reconnects.
	ParticipantID string
	// Name is the display name announced on join.
	Name string
	// Reconnect enables automatic redial with exponential backoff after the
	// connection drops. Admission rejections stop the agent regardless.
	Reconnect      bool
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// OnConnectionChange is invoked when the agent connects or loses the
	// connection. Optional.
	OnConnectionChange func(connected bool)
}

// State is a point-in-time copy of the agent's session mirror.
type State struct {
	Self      protocol.Participant
	Users     []protocol.Participant
	Content   string
	Version   int
	Connected bool
}

// Client mirrors one note session over a websocket connection.
type Client struct {
	cfg Config

	mu     sync.Mutex
	sendMu sync.Mutex

	conn      *websocket.Conn
	self      protocol.Participant
	lifeCtx   context.Context
	lifeStop  context.CancelFunc
	users     map[string]protocol.Participant
	content   string
	version   int
	connected bool
	closed    bool
	termErr   error

	done chan struct{}
}

// Dial connects to the note session and blocks until the server either admits
// the connection (init received) or rejects it with a terminal error frame.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("base url is required")
	}
	if strings.TrimSpace(cfg.NoteID) == "" {
		return nil, apperrors.New(apperrors.CodeAdmissionMissingNoteID, "note id is required")
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaultInitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}

	c := &Client{
		cfg:   cfg,
		users: make(map[string]protocol.Participant),
		done:  make(chan struct{}),
	}
	// The lifetime context outlives the dial context and is cancelled by
	// Close, so an in-flight reconnect stops with the agent.
	c.lifeCtx, c.lifeStop = context.WithCancel(context.Background())
	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) wsURL() string {
	base := strings.TrimRight(strings.TrimSpace(c.cfg.BaseURL), "/")
	query := url.Values{}
	query.Set("token", c.cfg.Token)
	if strings.TrimSpace(c.cfg.ParticipantID) != "" {
		query.Set("user_id", c.cfg.ParticipantID)
	}
	if strings.TrimSpace(c.cfg.Name) != "" {
		query.Set("name", c.cfg.Name)
	}
	return base + "/ws/" + url.PathEscape(c.cfg.NoteID) + "?" + query.Encode()
}

func (c *Client) origin() string {
	base := strings.TrimSpace(c.cfg.BaseURL)
	if strings.HasPrefix(base, "ws") {
		return "http" + strings.TrimPrefix(base, "ws")
	}
	return base
}

// connect dials the server and consumes frames until the admission verdict.
func (c *Client) connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	conn, err := websocket.Dial(c.wsURL(), "", c.origin())
	if err != nil {
		return fmt.Errorf("dial collab server: %w", err)
	}

	deadline := time.Now().Add(handshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)

	for {
		var env protocol.Envelope
		if err := websocket.JSON.Receive(conn, &env); err != nil {
			_ = conn.Close()
			return fmt.Errorf("await admission: %w", err)
		}
		switch env.Type {
		case protocol.TypeInit:
			var init protocol.InitPayload
			if err := protocolUnmarshal(env.Payload, &init); err != nil {
				_ = conn.Close()
				return err
			}
			_ = conn.SetReadDeadline(time.Time{})
			c.applyInit(conn, init)
			return nil
		case protocol.TypeError:
			var failure protocol.ErrorPayload
			_ = protocolUnmarshal(env.Payload, &failure)
			_ = conn.Close()
			err := admissionError(failure)
			c.mu.Lock()
			c.termErr = err
			c.mu.Unlock()
			return err
		default:
			// Tolerate stray frames ahead of the admission verdict.
		}
	}
}

func (c *Client) applyInit(conn *websocket.Conn, init protocol.InitPayload) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.self = init.Self
	c.users = make(map[string]protocol.Participant, len(init.Users))
	for _, user := range init.Users {
		c.users[user.ID] = user
	}
	c.content = init.Content
	c.version = init.Version
	c.connected = true
	callback := c.cfg.OnConnectionChange
	c.mu.Unlock()

	if callback != nil {
		callback(true)
	}
	if strings.TrimSpace(c.cfg.Name) != "" {
		_ = c.send(protocol.Envelope{
			Type:    protocol.TypeJoin,
			Payload: protocol.MustPayload(protocol.JoinPayload{Name: c.cfg.Name}),
		})
	}
}

func (c *Client) readLoop() {
	for {
		c.mu.Lock()
		conn := c.conn
		closed := c.closed
		c.mu.Unlock()
		if closed || conn == nil {
			return
		}

		var env protocol.Envelope
		if err := websocket.JSON.Receive(conn, &env); err != nil {
			if !c.handleDisconnect(err) {
				return
			}
			continue
		}
		if terminal := c.handleFrame(env); terminal {
			return
		}
	}
}

// handleDisconnect marks the mirror disconnected and, when reconnection is
// enabled, redials with exponential backoff. It reports whether the read loop
// should continue.
func (c *Client) handleDisconnect(cause error) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.connected = false
	c.conn = nil
	callback := c.cfg.OnConnectionChange
	c.mu.Unlock()

	if callback != nil {
		callback(false)
	}
	if !c.cfg.Reconnect {
		return false
	}
	log.Printf("collab client: connection lost: %v", cause)

	backoff := c.cfg.InitialBackoff
	for {
		select {
		case <-c.done:
			return false
		case <-time.After(backoff):
		}
		err := c.connect(c.lifeCtx)
		if err == nil {
			return true
		}
		if c.lifeCtx.Err() != nil {
			return false
		}
		c.mu.Lock()
		terminal := c.termErr != nil
		c.mu.Unlock()
		if terminal {
			return false
		}
		log.Printf("collab client: reconnect failed: %v", err)
		backoff *= 2
		if backoff > c.cfg.MaxBackoff {
			backoff = c.cfg.MaxBackoff
		}
	}
}

// handleFrame folds one server frame into the mirror. It reports whether the
// frame was terminal.
func (c *Client) handleFrame(env protocol.Envelope) bool {
	switch env.Type {
	case protocol.TypeUserJoined:
		var user protocol.Participant
		if err := protocolUnmarshal(env.Payload, &user); err != nil {
			return false
		}
		c.mu.Lock()
		c.users[user.ID] = user
		c.mu.Unlock()
	case protocol.TypeUserLeft:
		var left protocol.UserLeftPayload
		if err := protocolUnmarshal(env.Payload, &left); err != nil {
			return false
		}
		c.mu.Lock()
		delete(c.users, left.ID)
		c.mu.Unlock()
	case protocol.TypeUserUpdated:
		var user protocol.Participant
		if err := protocolUnmarshal(env.Payload, &user); err != nil {
			return false
		}
		c.mu.Lock()
		c.users[user.ID] = user
		if user.ID == c.self.ID {
			c.self = user
		}
		c.mu.Unlock()
	case protocol.TypeCursor:
		var moved protocol.CursorBroadcast
		if err := protocolUnmarshal(env.Payload, &moved); err != nil {
			return false
		}
		c.mu.Lock()
		if user, ok := c.users[moved.ID]; ok {
			user.Cursor = moved.Cursor
			c.users[moved.ID] = user
		}
		c.mu.Unlock()
	case protocol.TypeDocState:
		var doc protocol.DocUpdatePayload
		if err := protocolUnmarshal(env.Payload, &doc); err != nil {
			return false
		}
		c.mu.Lock()
		c.content = doc.Content
		c.version = doc.Version
		c.mu.Unlock()
	case protocol.TypePong:
		// Liveness only.
	case protocol.TypeError:
		var failure protocol.ErrorPayload
		_ = protocolUnmarshal(env.Payload, &failure)
		if isTerminalCode(failure.Code) {
			c.mu.Lock()
			c.termErr = admissionError(failure)
			c.mu.Unlock()
			_ = c.Close()
			return true
		}
		log.Printf("collab client: server rejected frame: %s: %s", failure.Code, failure.Message)
	default:
		log.Printf("collab client: ignoring unknown frame type %q", env.Type)
	}
	return false
}

// Snapshot returns a copy of the current session mirror.
func (c *Client) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	users := make([]protocol.Participant, 0, len(c.users))
	for _, user := range c.users {
		users = append(users, user)
	}
	return State{
		Self:      c.self,
		Users:     users,
		Content:   c.content,
		Version:   c.version,
		Connected: c.connected,
	}
}

// Err returns the terminal error that stopped the agent, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.termErr
}

// SetContent applies an edit to the local mirror first and forwards it to the
// server. The session treats the latest received write as authoritative.
func (c *Client) SetContent(content string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.content = content
	c.version++
	version := c.version
	c.mu.Unlock()

	return c.send(protocol.Envelope{
		Type: protocol.TypeDocUpdate,
		Payload: protocol.MustPayload(protocol.DocUpdatePayload{
			Content: content,
			Version: version,
		}),
	})
}

// SetCursor reports the local selection to the session.
func (c *Client) SetCursor(index int, length int) error {
	cursor := protocol.Cursor{Index: index, Length: length}
	if !cursor.Valid() {
		return apperrors.New(apperrors.CodeCursorInvalid, "cursor selection must be non-negative")
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.self.Cursor = cursor
	c.mu.Unlock()

	return c.send(protocol.Envelope{
		Type:    protocol.TypeCursor,
		Payload: protocol.MustPayload(protocol.CursorPayload{Index: index, Length: length}),
	})
}

// SetName announces a new display name. The mirror updates when the server
// echoes the user_updated broadcast.
func (c *Client) SetName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name is required")
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.cfg.Name = name
	c.mu.Unlock()

	return c.send(protocol.Envelope{
		Type:    protocol.TypeJoin,
		Payload: protocol.MustPayload(protocol.JoinPayload{Name: name}),
	})
}

// Ping asks the server for a liveness pong.
func (c *Client) Ping() error {
	return c.send(protocol.Envelope{Type: protocol.TypePing})
}

func (c *Client) send(env protocol.Envelope) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errors.New("not connected")
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := websocket.JSON.Send(conn, env); err != nil {
		return fmt.Errorf("send %s: %w", env.Type, err)
	}
	return nil
}

// Close disconnects the agent and stops reconnection.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	c.lifeStop()
	close(c.done)
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func isTerminalCode(code string) bool {
	switch code {
	case protocol.ErrorCodeMissingNoteID,
		protocol.ErrorCodeMissingToken,
		protocol.ErrorCodeInvalidToken,
		protocol.ErrorCodeScopeMismatch,
		protocol.ErrorCodeConnectionLimit:
		return true
	}
	return false
}

// admissionError maps a wire error code to a typed error with a message a
// caller can show directly.
func admissionError(failure protocol.ErrorPayload) error {
	switch failure.Code {
	case protocol.ErrorCodeMissingNoteID:
		return apperrors.New(apperrors.CodeAdmissionMissingNoteID, "the connection did not name a note")
	case protocol.ErrorCodeMissingToken:
		return apperrors.New(apperrors.CodeAdmissionMissingToken, "an access token is required to edit this note")
	case protocol.ErrorCodeInvalidToken:
		return apperrors.New(apperrors.CodeTokenInvalid, "the access token was rejected")
	case protocol.ErrorCodeScopeMismatch:
		return apperrors.New(apperrors.CodeTokenScopeMismatch, "the access token belongs to a different note")
	case protocol.ErrorCodeConnectionLimit:
		return apperrors.New(apperrors.CodeAdmissionCapacityExceeded, "this note has too many active editors, try again later")
	default:
		message := strings.TrimSpace(failure.Message)
		if message == "" {
			message = "the server rejected the connection"
		}
		return apperrors.New(apperrors.CodeUnknown, message)
	}
}

func protocolUnmarshal(payload []byte, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}
