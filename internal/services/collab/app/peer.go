package server

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/duckviet/mind-notion-collab/internal/services/collab/protocol"
)

const peerOutboxSize = 64

// wsPeer owns the write side of one websocket connection. Session broadcasts
// are queued on a bounded outbox drained by a single writer goroutine, so one
// stalled connection cannot block a broadcast to the rest of the session.
// Connection-local replies go through write, which shares the encoder mutex
// with the writer goroutine.
type wsPeer struct {
	mu      sync.Mutex
	encoder *json.Encoder
	outbox  chan protocol.Envelope
	done    chan struct{}
	once    sync.Once
}

func newWSPeer(encoder *json.Encoder) *wsPeer {
	p := &wsPeer{
		encoder: encoder,
		outbox:  make(chan protocol.Envelope, peerOutboxSize),
		done:    make(chan struct{}),
	}
	go p.writeLoop()
	return p
}

func (p *wsPeer) writeLoop() {
	for {
		select {
		case env := <-p.outbox:
			if err := p.write(env); err != nil {
				return
			}
		case <-p.done:
			return
		}
	}
}

// write encodes one envelope onto the connection.
func (p *wsPeer) write(env protocol.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.encoder.Encode(env)
}

// Deliver queues an envelope for the connection. It never blocks: when the
// outbox is full the envelope is dropped and the drop is logged.
func (p *wsPeer) Deliver(env protocol.Envelope) {
	select {
	case <-p.done:
	case p.outbox <- env:
	default:
		log.Printf("collab: dropping %s frame for slow consumer", env.Type)
	}
}

// close stops the writer goroutine. Envelopes still queued are discarded; the
// connection is going away.
func (p *wsPeer) close() {
	p.once.Do(func() {
		close(p.done)
	})
}
