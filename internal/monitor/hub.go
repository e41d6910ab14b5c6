// Package monitor mirrors signaling events to WebSocket subscribers as JSON.
// It is an optional side channel for dashboards and debugging; nothing in
// the signaling path depends on a subscriber being present.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/1ureka/rtcgw/internal/signaling"
	"github.com/1ureka/rtcgw/internal/util"
)

const (
	writeDeadline = 5 * time.Second
	readDeadline  = 90 * time.Second
	pingInterval  = 30 * time.Second

	// Events beyond this many unsent ones are dropped for that subscriber.
	subscriberBacklog = 64
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Event is the JSON frame sent to subscribers.
type Event struct {
	Type   string `json:"type"`
	PeerID int    `json:"peer_id"`
	Name   string `json:"name,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// Event types.
const (
	TypeSignedIn         = "signed_in"
	TypeDisconnected     = "disconnected"
	TypePeerConnected    = "peer_connected"
	TypePeerDisconnected = "peer_disconnected"
	TypeMessage          = "message"
	TypeMessageSent      = "message_sent"
)

type subscriber struct {
	id   uuid.UUID
	conn *websocket.Conn
	send chan Event
}

// Hub fans events out to every connected subscriber. Publish never blocks
// the caller, which is the signaling run loop.
type Hub struct {
	mu     sync.RWMutex
	subs   map[uuid.UUID]*subscriber
	selfID func() int

	server   *http.Server
	listener net.Listener
	stopOnce sync.Once
}

var _ signaling.Observer = (*Hub)(nil)

// NewHub returns a hub. selfID, when set, supplies the local peer id for
// session-level events.
func NewHub(selfID func() int) *Hub {
	return &Hub{
		subs:   make(map[uuid.UUID]*subscriber),
		selfID: selfID,
	}
}

// Start serves the hub on addr and returns the bound address.
func (h *Hub) Start(ctx context.Context, addr string) (net.Addr, error) {
	if h.server != nil {
		return nil, errors.New("monitor: already started")
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("monitor: listen: %w", err)
	}
	h.listener = ln

	h.server = &http.Server{
		Handler:     h.Handler(),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	go func() {
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.LogError("monitor server: %v", err)
		}
	}()

	util.LogInfo("monitor feed on ws://%s/events", ln.Addr())
	return ln.Addr(), nil
}

// Handler returns the HTTP handler exposing /events.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/events", h.handleEvents)
	return mux
}

// Stop shuts the server down and disconnects every subscriber.
func (h *Hub) Stop() error {
	var stopErr error
	h.stopOnce.Do(func() {
		h.mu.Lock()
		subs := h.subs
		h.subs = make(map[uuid.UUID]*subscriber)
		h.mu.Unlock()

		var errs []error
		for _, s := range subs {
			errs = append(errs, s.conn.Close())
		}

		if h.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			errs = append(errs, h.server.Shutdown(ctx))
		}
		stopErr = errors.Join(errs...)
	})
	return stopErr
}

// Subscribers returns the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Publish queues ev for every subscriber. A subscriber whose backlog is full
// misses the event.
func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, s := range h.subs {
		select {
		case s.send <- ev:
		default:
			util.LogDebug("monitor subscriber %s is slow, dropping %s", s.id, ev.Type)
		}
	}
}

func (h *Hub) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		util.LogWarning("monitor upgrade failed: %v", err)
		return
	}

	s := &subscriber{
		id:   uuid.New(),
		conn: conn,
		send: make(chan Event, subscriberBacklog),
	}

	h.mu.Lock()
	h.subs[s.id] = s
	h.mu.Unlock()
	util.LogDebug("monitor subscriber %s connected from %s", s.id, conn.RemoteAddr())

	done := make(chan struct{})
	go h.writePump(s, done)
	h.readPump(s)
	close(done)

	h.mu.Lock()
	delete(h.subs, s.id)
	h.mu.Unlock()
	conn.Close()
	util.LogDebug("monitor subscriber %s disconnected", s.id)
}

// readPump discards inbound frames; it only exists to notice the peer going
// away and to process pongs.
func (h *Hub) readPump(s *subscriber) {
	_ = s.conn.SetReadDeadline(time.Now().Add(readDeadline))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				util.LogDebug("monitor subscriber %s read: %v", s.id, err)
			}
			return
		}
	}
}

func (h *Hub) writePump(s *subscriber, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case ev := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := s.conn.WriteJSON(ev); err != nil {
				util.LogDebug("monitor subscriber %s write: %v", s.id, err)
				s.conn.Close()
				return
			}

		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeDeadline)); err != nil {
				s.conn.Close()
				return
			}

		case <-done:
			return
		}
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// signaling.Observer
// ──────────────────────────────────────────────────────────────────────────────

func (h *Hub) self() int {
	if h.selfID == nil {
		return -1
	}
	return h.selfID()
}

func (h *Hub) OnSignedIn() {
	h.Publish(Event{Type: TypeSignedIn, PeerID: h.self()})
}

func (h *Hub) OnDisconnected() {
	h.Publish(Event{Type: TypeDisconnected, PeerID: -1})
}

func (h *Hub) OnPeerConnected(id int, name string) {
	h.Publish(Event{Type: TypePeerConnected, PeerID: id, Name: name})
}

func (h *Hub) OnPeerDisconnected(id int) {
	h.Publish(Event{Type: TypePeerDisconnected, PeerID: id})
}

// OnMessageFromPeer reports only the size of the payload; descriptions and
// candidates are not echoed to observers.
func (h *Hub) OnMessageFromPeer(id int, message string) {
	h.Publish(Event{Type: TypeMessage, PeerID: id, Detail: fmt.Sprintf("%d bytes", len(message))})
}

func (h *Hub) OnMessageSent(err error) {
	ev := Event{Type: TypeMessageSent, PeerID: h.self()}
	if err != nil {
		ev.Detail = err.Error()
	}
	h.Publish(ev)
}
