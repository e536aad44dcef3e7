package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/asmcenter/voicecoach/internal/session"
	"github.com/asmcenter/voicecoach/internal/transcript"
)

// Event types sent on /events.
const (
	EventStatus     = "status"
	EventTranscript = "transcript"
	EventError      = "error"
)

// Event is one JSON message on the event stream.
type Event struct {
	Type    string           `json:"type"`
	Status  string           `json:"status,omitempty"`
	Item    *transcript.Item `json:"item,omitempty"`
	Message string           `json:"message,omitempty"`
}

const (
	clientBuffer = 32
	writeTimeout = 5 * time.Second
)

type client struct {
	send chan Event
}

// Hub fans session notifications out to WebSocket clients. A client that
// cannot keep up loses events instead of delaying the session.
type Hub struct {
	log *slog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
}

var _ session.Observer = (*Hub)(nil)

// NewHub returns an empty Hub.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{log: log, clients: make(map[*client]struct{})}
}

// OnStatusChange implements [session.Observer].
func (h *Hub) OnStatusChange(s session.Status) {
	h.broadcast(Event{Type: EventStatus, Status: s.String()})
}

// OnTranscriptAppended implements [session.Observer].
func (h *Hub) OnTranscriptAppended(it transcript.Item) {
	h.broadcast(Event{Type: EventTranscript, Item: &it})
}

// OnError implements [session.Observer].
func (h *Hub) OnError(msg string) {
	h.broadcast(Event{Type: EventError, Message: msg})
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) broadcast(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			h.log.Debug("api: event dropped for slow client", "type", ev.Type)
		}
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
}

// Serve upgrades the request to a WebSocket and streams events until the
// client disconnects. hello is sent first, before any broadcast event.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, hello ...Event) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.log.Warn("api: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	c := &client{send: make(chan Event, clientBuffer+len(hello))}
	for _, ev := range hello {
		c.send <- ev
	}
	h.add(c)
	defer h.remove(c)

	// Clients never send; CloseRead handles control frames and cancels ctx
	// when the peer goes away.
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-c.send:
			if err := write(ctx, conn, ev); err != nil {
				h.log.Debug("api: websocket write failed", "err", err)
				return
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, ev Event) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, ev)
}
