// Package live pushes pipeline events to browser clients over websockets.
//
// A [Hub] is registered as a [pipeline.Observer] and mounted as an
// http.Handler. Every connected client first receives a snapshot of the
// current session and then every state change, live transcript line,
// completion, and error as JSON messages. Each client has a bounded send
// queue; a client that cannot keep up is disconnected instead of slowing the
// pipeline down.
package live

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/minutes/internal/pipeline"
	"github.com/MrWong99/minutes/pkg/meeting"
)

// Message types.
const (
	TypeSnapshot = "snapshot"
	TypeState    = "state"
	TypeLive     = "live"
	TypeComplete = "complete"
	TypeError    = "error"
)

const (
	defaultQueueSize = 64
	writeTimeout     = 5 * time.Second
)

// Message is the JSON envelope sent to clients. Exactly one payload field is
// set, matching Type.
type Message struct {
	Type     string             `json:"type"`
	Snapshot *pipeline.Snapshot `json:"snapshot,omitempty"`
	Event    *pipeline.Event    `json:"event,omitempty"`
	Live     *pipeline.LiveText `json:"live,omitempty"`
	Record   *meeting.Record    `json:"record,omitempty"`

	// SummaryUnavailable accompanies complete messages.
	SummaryUnavailable bool `json:"summary_unavailable,omitempty"`
}

// Option configures a [Hub].
type Option func(*Hub)

// WithQueueSize sets the per-client send queue length.
func WithQueueSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.queueSize = n
		}
	}
}

// WithSnapshot sets the function used to greet new clients.
func WithSnapshot(fn func() pipeline.Snapshot) Option {
	return func(h *Hub) { h.snapshot = fn }
}

// WithOriginPatterns allows cross-origin websocket handshakes from the given
// host patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Hub) { h.origins = patterns }
}

// Hub fans pipeline events out to websocket clients.
type Hub struct {
	queueSize int
	snapshot  func() pipeline.Snapshot
	origins   []string

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

var (
	_ pipeline.Observer = (*Hub)(nil)
	_ http.Handler      = (*Hub)(nil)
)

type client struct {
	send chan Message
	// gone is closed when the hub removes the client.
	gone chan struct{}
	once sync.Once
}

func (c *client) drop() {
	c.once.Do(func() { close(c.gone) })
}

// NewHub returns a Hub with no clients.
func NewHub(opts ...Option) *Hub {
	h := &Hub{queueSize: defaultQueueSize, clients: make(map[*client]struct{})}
	for _, o := range opts {
		o(h)
	}
	return h
}

// ServeHTTP upgrades the request and streams messages until the client goes
// away or is dropped.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		slog.Warn("live: websocket accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer conn.CloseNow()

	c := &client{send: make(chan Message, h.queueSize), gone: make(chan struct{})}
	if h.snapshot != nil {
		snap := h.snapshot()
		c.send <- Message{Type: TypeSnapshot, Snapshot: &snap}
	}
	if !h.add(c) {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer h.remove(c)

	slog.Debug("live: client connected", "remote", r.RemoteAddr)

	// Clients only listen; CloseRead handles control frames and cancels ctx
	// when the peer disconnects.
	ctx := conn.CloseRead(r.Context())

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.gone:
			if h.isClosed() {
				conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			slog.Warn("live: dropping slow client", "remote", r.RemoteAddr)
			conn.Close(websocket.StatusPolicyViolation, "slow consumer")
			return
		case msg := <-c.send:
			if err := write(ctx, conn, msg); err != nil {
				slog.Debug("live: write failed", "remote", r.RemoteAddr, "err", err)
				return
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, msg Message) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, msg)
}

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
	c.drop()
}

func (h *Hub) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast queues msg for every client. Clients whose queue is full are
// dropped.
func (h *Hub) Broadcast(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			delete(h.clients, c)
			c.drop()
		}
	}
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		c.drop()
	}
}

// OnStateChange implements [pipeline.Observer].
func (h *Hub) OnStateChange(e pipeline.Event) {
	h.Broadcast(Message{Type: TypeState, Event: &e})
}

// OnLiveTranscript implements [pipeline.Observer].
func (h *Hub) OnLiveTranscript(l pipeline.LiveText) {
	h.Broadcast(Message{Type: TypeLive, Live: &l})
}

// OnComplete implements [pipeline.Observer].
func (h *Hub) OnComplete(o pipeline.Outcome) {
	h.Broadcast(Message{Type: TypeComplete, Record: &o.Record, SummaryUnavailable: o.SummaryUnavailable})
}

// OnError implements [pipeline.Observer].
func (h *Hub) OnError(e pipeline.Event) {
	h.Broadcast(Message{Type: TypeError, Event: &e})
}
