// Package server hosts the collaborative note-editing WebSocket process.
//
// Each connection targets one note. Admission control runs before the
// connection joins the note's session: the request must name a note, carry a
// token scoped to that note, and fit under the per-note connection cap.
// Admission failures are answered with a terminal error frame carrying a
// distinct code, then the transport is closed.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/duckviet/mind-notion-collab/internal/platform/errors"
	"github.com/duckviet/mind-notion-collab/internal/platform/id"
	"github.com/duckviet/mind-notion-collab/internal/platform/timeouts"
	"github.com/duckviet/mind-notion-collab/internal/services/collab/protocol"
	"github.com/duckviet/mind-notion-collab/internal/services/collab/registry"
	"github.com/duckviet/mind-notion-collab/internal/services/collab/session"
	"github.com/duckviet/mind-notion-collab/internal/services/collab/storage"
	"github.com/duckviet/mind-notion-collab/internal/services/collab/storage/sqlite"
	"github.com/duckviet/mind-notion-collab/internal/services/collab/token"
	"golang.org/x/net/websocket"
)

const (
	maxFramePayloadBytes   = 16 * 1024
	maxDecodeErrorsPerConn = 3

	defaultMaxConnectionsPerNote = 25
	defaultSaveInterval          = 30 * time.Second

	defaultParticipantName = "Anonymous"
)

// Config defines the inputs for the collab transport boundary.
type Config struct {
	HTTPAddr              string
	TokenSecret           string
	MaxConnectionsPerNote int
	StoragePath           string
	SaveInterval          time.Duration
	ReadHeaderTimeout     time.Duration
	ShutdownTimeout       time.Duration
}

// Server hosts the collab HTTP/WebSocket process.
type Server struct {
	httpAddr        string
	shutdownTimeout time.Duration
	httpServer      *http.Server
	hub             *sessionHub
	store           *sqlite.Store
	flusherStop     context.CancelFunc
	flusherDone     chan struct{}
}

// tokenVerifier verifies a note-scoped access token. The concrete verifier is
// injected so tests can substitute a fixed-clock or always-allow one.
type tokenVerifier interface {
	Verify(ctx context.Context, tokenString string, noteID string) (token.Claims, error)
}

// NewHandler creates collab routes over an in-memory hub without persistence.
// Intended for tests and offline paths.
func NewHandler(verifier tokenVerifier, maxConnectionsPerNote int) http.Handler {
	return newHandler(verifier, registry.New(), newSessionHub(nil), maxConnectionsPerNote)
}

func newHandler(verifier tokenVerifier, reg *registry.Registry, hub *sessionHub, maxConnectionsPerNote int) http.Handler {
	if maxConnectionsPerNote <= 0 {
		maxConnectionsPerNote = defaultMaxConnectionsPerNote
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	wsHandler := websocket.Handler(func(conn *websocket.Conn) {
		handleWSConn(conn, verifier, reg, hub, maxConnectionsPerNote)
	})

	mux.HandleFunc("/ws/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		wsHandler.ServeHTTP(w, r)
	})

	return mux
}

// handleWSConn runs admission control and the read loop for one connection.
//
// The capacity slot is claimed with a speculative increment: the counter goes
// up first, and a compensating decrement rolls it back when the admission
// check fails. The deferred decrement after a successful claim covers every
// exit path, unclean disconnects included.
func handleWSConn(conn *websocket.Conn, verifier tokenVerifier, reg *registry.Registry, hub *sessionHub, maxConnectionsPerNote int) {
	defer func() {
		_ = conn.Close()
	}()

	peer := newWSPeer(json.NewEncoder(conn))
	defer peer.close()

	request := conn.Request()
	if request == nil {
		return
	}
	ctx := request.Context()

	noteID := strings.TrimSpace(strings.TrimPrefix(request.URL.Path, "/ws/"))
	if noteID == "" {
		_ = writeWSError(peer, protocol.ErrorCodeMissingNoteID, "note id is required")
		return
	}

	tokenString := strings.TrimSpace(request.URL.Query().Get("token"))
	if tokenString == "" {
		log.Printf("collab: rejected connection to note %q: missing token", noteID)
		_ = writeWSError(peer, protocol.ErrorCodeMissingToken, "access token is required")
		return
	}

	verifyCtx, cancel := context.WithTimeout(ctx, timeouts.TokenVerify)
	claims, err := verifier.Verify(verifyCtx, tokenString, noteID)
	cancel()
	if err != nil {
		log.Printf("collab: rejected connection to note %q: %v", noteID, err)
		if apperrors.HasCode(err, apperrors.CodeTokenScopeMismatch) {
			_ = writeWSError(peer, protocol.ErrorCodeScopeMismatch, "token is scoped to a different note")
		} else {
			_ = writeWSError(peer, protocol.ErrorCodeInvalidToken, "access token is invalid")
		}
		return
	}

	if count := reg.Increment(noteID); count > maxConnectionsPerNote {
		reg.Decrement(noteID)
		log.Printf("collab: rejected connection to note %q: connection limit reached", noteID)
		_ = writeWSError(peer, protocol.ErrorCodeConnectionLimit, "note has reached its connection limit")
		return
	}
	defer reg.Decrement(noteID)

	participantID := strings.TrimSpace(request.URL.Query().Get("user_id"))
	if participantID == "" {
		participantID = strings.TrimSpace(claims.UserID)
	}
	if participantID == "" {
		generated, err := id.NewID()
		if err != nil {
			log.Printf("collab: generate participant id: %v", err)
			_ = writeWSError(peer, protocol.ErrorCodeInternal, "could not assign a participant id")
			return
		}
		participantID = generated
	}
	name := strings.TrimSpace(request.URL.Query().Get("name"))
	if name == "" {
		name = defaultParticipantName
	}

	// A session closed by concurrent teardown refuses the join; acquiring
	// again lands on a fresh session.
	var sess *session.Session
	var self protocol.Participant
	for {
		s, err := hub.acquire(ctx, noteID)
		if err != nil {
			log.Printf("collab: acquire session for note %q: %v", noteID, err)
			_ = writeWSError(peer, protocol.ErrorCodeInternal, "note session is unavailable")
			return
		}
		joined, ok := s.Join(participantID, name, peer)
		if ok {
			sess = s
			self = joined
			break
		}
	}
	defer func() {
		sess.Leave(participantID, peer)
		hub.release(noteID, sess)
	}()
	log.Printf("collab: participant %s joined note %s", self.ID, noteID)

	readLoop(conn, peer, sess, participantID)
}

// readLoop consumes one websocket message per frame so malformed input is
// dropped with the frame that carried it and never poisons later reads. Only
// consecutive malformed frames count against the decode budget; any valid
// frame resets it.
func readLoop(conn *websocket.Conn, peer *wsPeer, sess *session.Session, participantID string) {
	conn.MaxPayloadBytes = maxFramePayloadBytes
	decodeErrors := 0

	for {
		var raw []byte
		if err := websocket.Message.Receive(conn, &raw); err != nil {
			if errors.Is(err, websocket.ErrFrameTooLarge) {
				// The oversized frame is drained by the next Receive.
				_ = writeWSError(peer, protocol.ErrorCodeInvalidPayload, "payload too large")
				continue
			}
			return
		}

		var env protocol.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			decodeErrors++
			log.Printf("collab: dropped malformed frame from %s: %v", participantID, err)
			_ = writeWSError(peer, protocol.ErrorCodeInvalidPayload, "invalid message frame")
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0

		switch env.Type {
		case protocol.TypeJoin:
			handleJoinMessage(peer, sess, participantID, env)
		case protocol.TypeCursor:
			handleCursorMessage(peer, sess, participantID, env)
		case protocol.TypeDocUpdate:
			handleDocUpdateMessage(peer, sess, participantID, env)
		case protocol.TypePing:
			_ = peer.write(protocol.Envelope{Type: protocol.TypePong})
		default:
			_ = writeWSError(peer, protocol.ErrorCodeInvalidPayload, fmt.Sprintf("unsupported message type %q", env.Type))
		}
	}
}

func handleJoinMessage(peer *wsPeer, sess *session.Session, participantID string, env protocol.Envelope) {
	var payload protocol.JoinPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		_ = writeWSError(peer, protocol.ErrorCodeInvalidPayload, "invalid join payload")
		return
	}
	name := strings.TrimSpace(payload.Name)
	if name == "" {
		_ = writeWSError(peer, protocol.ErrorCodeInvalidPayload, "name is required")
		return
	}
	if err := sess.UpdateProfile(participantID, name); err != nil {
		log.Printf("collab: update profile for %s: %v", participantID, err)
	}
}

func handleCursorMessage(peer *wsPeer, sess *session.Session, participantID string, env protocol.Envelope) {
	var payload protocol.CursorPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		_ = writeWSError(peer, protocol.ErrorCodeInvalidPayload, "invalid cursor payload")
		return
	}
	cursor := protocol.Cursor{Index: payload.Index, Length: payload.Length}
	if err := sess.UpdateCursor(participantID, cursor); err != nil {
		if apperrors.HasCode(err, apperrors.CodeCursorInvalid) {
			_ = writeWSError(peer, protocol.ErrorCodeInvalidPayload, "cursor selection must be non-negative")
			return
		}
		log.Printf("collab: update cursor for %s: %v", participantID, err)
	}
}

func handleDocUpdateMessage(peer *wsPeer, sess *session.Session, participantID string, env protocol.Envelope) {
	var payload protocol.DocUpdatePayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		_ = writeWSError(peer, protocol.ErrorCodeInvalidPayload, "invalid doc_update payload")
		return
	}
	sess.UpdateContent(participantID, payload.Content, payload.Version)
}

// writeWSError writes an error frame synchronously so terminal admission
// errors are flushed before the connection closes.
func writeWSError(peer *wsPeer, code string, message string) error {
	return peer.write(protocol.Envelope{
		Type: protocol.TypeError,
		Payload: protocol.MustPayload(protocol.ErrorPayload{
			Code:    code,
			Message: message,
		}),
	})
}

// NewServer builds a configured collab server with its SQLite-backed
// persistence bridge.
func NewServer(config Config) (*Server, error) {
	httpAddr := strings.TrimSpace(config.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	if strings.TrimSpace(config.TokenSecret) == "" {
		return nil, errors.New("token secret is required")
	}
	if config.MaxConnectionsPerNote <= 0 {
		config.MaxConnectionsPerNote = defaultMaxConnectionsPerNote
	}
	// SaveInterval zero disables the periodic flush; sessions still flush on
	// teardown and shutdown.
	if config.SaveInterval < 0 {
		config.SaveInterval = defaultSaveInterval
	}
	if config.ReadHeaderTimeout <= 0 {
		config.ReadHeaderTimeout = timeouts.ReadHeader
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = timeouts.Shutdown
	}

	verifier, err := token.NewVerifier(config.TokenSecret, nil)
	if err != nil {
		return nil, fmt.Errorf("init token verifier: %w", err)
	}

	var store *sqlite.Store
	var bridge storage.Bridge
	if strings.TrimSpace(config.StoragePath) != "" {
		opened, err := sqlite.Open(config.StoragePath)
		if err != nil {
			return nil, fmt.Errorf("open note store: %w", err)
		}
		store = opened
		bridge = opened
	}

	hub := newSessionHub(bridge)
	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           newHandler(verifier, registry.New(), hub, config.MaxConnectionsPerNote),
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	flusherCtx, flusherStop := context.WithCancel(context.Background())
	flusherDone := make(chan struct{})
	go func() {
		defer close(flusherDone)
		hub.runFlusher(flusherCtx, config.SaveInterval)
	}()

	return &Server{
		httpAddr:        httpAddr,
		shutdownTimeout: config.ShutdownTimeout,
		httpServer:      httpServer,
		hub:             hub,
		store:           store,
		flusherStop:     flusherStop,
		flusherDone:     flusherDone,
	}, nil
}

// Run creates and serves a collab server until the context ends.
func Run(ctx context.Context, config Config) error {
	server, err := NewServer(config)
	if err != nil {
		return fmt.Errorf("init collab server: %w", err)
	}
	defer server.Close()

	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serve collab: %w", err)
	}
	return nil
}

// ListenAndServe runs the HTTP server until the context ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("collab server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	serveErr := make(chan error, 1)
	log.Printf("collab server listening on %s", s.httpAddr)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// Close flushes unsaved note content and releases server resources.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.flusherStop != nil {
		s.flusherStop()
	}
	if s.flusherDone != nil {
		<-s.flusherDone
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Printf("close note store: %v", err)
		}
	}
}
