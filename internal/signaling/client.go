// Package signaling implements the long-polling rendezvous client and the
// single-peer server role on top of the protocol package.
//
// A Client is driven by one goroutine: Run (or a caller-owned loop around
// Dispatch) is the only place session state changes. Socket I/O happens in
// helper goroutines that merely post events, so the Roster, Queue and
// ConnectionState need no locking. Methods documented as loop-only must be
// called from Observer callbacks, from Post, or before Run starts.
package signaling

import (
	"context"
	"net"
	"time"

	"github.com/1ureka/rtcgw/internal/util"
)

// RetryDelay is the fixed wait before re-dialing a refused control socket.
const RetryDelay = 2000 * time.Millisecond

const eventBacklog = 64

// Dialer opens TCP connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithDialer replaces the dialer used for the control and hanging-get
// sockets.
func WithDialer(d Dialer) ClientOption {
	return func(c *Client) {
		c.dialer = d
	}
}

// WithAfterFunc replaces the timer used for connect retries. Tests inject a
// fake that captures the callback instead of waiting RetryDelay.
func WithAfterFunc(after func(time.Duration, func())) ClientOption {
	return func(c *Client) {
		c.afterFunc = after
	}
}

// Client is a rendezvous session plus the optional server role.
type Client struct {
	observer  Observer
	dialer    Dialer
	afterFunc func(time.Duration, func())

	events chan Event
	ctx    context.Context
	cancel context.CancelFunc

	state         ConnectionState
	myID          int
	name          string
	serverAddr    string
	onConnectData []byte
	roster        Roster

	control  socket
	hanging  socket
	accepted socket
	listener net.Listener

	// session changes on every Close so retry timers armed earlier fire
	// into a no-op.
	session      uint64
	retryPending bool
}

// NewClient returns an idle client. Events are processed once Run starts.
func NewClient(options ...ClientOption) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	c := &Client{
		observer:  NopObserver{},
		dialer:    &net.Dialer{Timeout: 10 * time.Second},
		afterFunc: func(d time.Duration, f func()) { time.AfterFunc(d, f) },
		events:    make(chan Event, eventBacklog),
		ctx:       ctx,
		cancel:    cancel,
		myID:      -1,
		control:   socket{id: Control},
		hanging:   socket{id: HangingGet},
		accepted:  socket{id: Accepted},
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// RegisterObserver sets the receiver of session events. Loop-only.
func (c *Client) RegisterObserver(o Observer) {
	if o == nil {
		o = NopObserver{}
	}
	c.observer = o
}

// Run dispatches events until ctx is cancelled, calling onTick every tick
// when both are set. A Client cannot be restarted after Run returns.
func (c *Client) Run(ctx context.Context, tick time.Duration, onTick func()) error {
	defer c.shutdown()

	var tickC <-chan time.Time
	if tick > 0 && onTick != nil {
		ticker := time.NewTicker(tick)
		defer ticker.Stop()
		tickC = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-c.events:
			c.Dispatch(ev)
		case <-tickC:
			onTick()
		}
	}
}

// Post schedules fn on the run loop. It is safe to call from any goroutine
// and reports false once the client has shut down.
func (c *Client) Post(fn func()) bool {
	return c.post(Event{Kind: EventCall, Call: fn})
}

func (c *Client) post(ev Event) bool {
	if c.ctx.Err() != nil {
		return false
	}
	select {
	case c.events <- ev:
		return true
	case <-c.ctx.Done():
		return false
	}
}

// Dispatch applies one event. Loop-only.
func (c *Client) Dispatch(ev Event) {
	switch ev.Kind {
	case EventCall:
		ev.Call()
		return
	case EventRetry:
		c.onRetry(ev.Gen)
		return
	case EventAccept:
		c.onAccept(ev.Conn)
		return
	}

	s := c.socketFor(ev.Socket)
	if s == nil || ev.Gen != s.gen {
		util.LogDebug("dropping stale %s event for %s socket", ev.Kind, ev.Socket)
		if ev.Conn != nil {
			ev.Conn.Close()
		}
		return
	}

	switch ev.Kind {
	case EventConnect:
		s.attach(ev.Conn)
		c.onConnect(s)

	case EventRead:
		util.Stats.AddRecv(len(ev.Data))
		s.frame.Feed(ev.Data)
		c.onRead(s)

	case EventClose:
		if s.id == Accepted && ev.Err == nil {
			c.onAcceptedEOF()
			return
		}
		if s.frame.Len() > 0 {
			util.LogDebug("discarding %d unframed bytes on %s socket", s.frame.Len(), s.id)
		}
		s.reset()
		c.onClose(s, ev.Err)
	}
}

func (c *Client) socketFor(id SocketID) *socket {
	switch id {
	case Control:
		return &c.control
	case HangingGet:
		return &c.hanging
	case Accepted:
		return &c.accepted
	}
	return nil
}

func (c *Client) onConnect(s *socket) {
	switch s.id {
	case Control:
		c.onControlConnect()
	case HangingGet:
		c.onHangingConnect()
	}
}

func (c *Client) onRead(s *socket) {
	switch s.id {
	case Control:
		c.onControlRead()
	case HangingGet:
		c.onHangingRead()
	case Accepted:
		c.onAcceptedRead()
	}
}

func (c *Client) onClose(s *socket, err error) {
	switch s.id {
	case Control:
		c.onControlClose(err)
	case HangingGet:
		c.onHangingClose(err)
	case Accepted:
		c.onAcceptedClose(err)
	}
}

// shutdown releases every socket once the loop has stopped.
func (c *Client) shutdown() {
	c.cancel()
	c.control.reset()
	c.hanging.reset()
	c.accepted.reset()
	if c.listener != nil {
		c.listener.Close()
		c.listener = nil
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Accessors (loop-only)
// ──────────────────────────────────────────────────────────────────────────────

// ID returns the id assigned by the rendezvous service, or -1.
func (c *Client) ID() int { return c.myID }

// IsConnected reports whether an id has been assigned.
func (c *Client) IsConnected() bool { return c.myID != -1 }

// State returns the session state.
func (c *Client) State() ConnectionState { return c.state }

// Name returns the name used to sign in.
func (c *Client) Name() string { return c.name }

// Peers returns the current roster ordered by id.
func (c *Client) Peers() []Peer { return c.roster.Snapshot() }

// PeerName looks up a roster entry.
func (c *Client) PeerName(id int) (string, bool) { return c.roster.Name(id) }

// IsSendingMessage reports whether the control socket is busy with an
// outbound request while signed in. A request waiting on a connect retry
// counts as busy.
func (c *Client) IsSendingMessage() bool {
	return c.state == Connected && c.controlBusy()
}

func (c *Client) controlBusy() bool {
	return !c.control.closed() || c.retryPending
}
