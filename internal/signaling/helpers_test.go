package signaling

import (
	"context"
	"net"
	"os"
	"sync/atomic"
	"syscall"
	"testing"
	"time"
)

// recorder is an Observer that keeps every callback. It is only touched on
// the loop, which in these tests is the test goroutine.
type recorder struct {
	signedIn     int
	disconnected int
	connected    []Peer
	gone         []int
	messages     []PendingMessage
	sent         []error
}

func (r *recorder) OnSignedIn()     { r.signedIn++ }
func (r *recorder) OnDisconnected() { r.disconnected++ }

func (r *recorder) OnPeerConnected(id int, name string) {
	r.connected = append(r.connected, Peer{ID: id, Name: name})
}

func (r *recorder) OnPeerDisconnected(id int) { r.gone = append(r.gone, id) }

func (r *recorder) OnMessageFromPeer(id int, message string) {
	r.messages = append(r.messages, PendingMessage{PeerID: id, Payload: message})
}

func (r *recorder) OnMessageSent(err error) { r.sent = append(r.sent, err) }

var _ Observer = (*recorder)(nil)

func newTestClient(t *testing.T, options ...ClientOption) (*Client, *recorder) {
	t.Helper()
	c := NewClient(options...)
	rec := &recorder{}
	c.RegisterObserver(rec)
	t.Cleanup(c.shutdown)
	return c, rec
}

// drive runs the loop on the test goroutine until cond holds.
func drive(t *testing.T, c *Client, cond func() bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for !cond() {
		select {
		case ev := <-c.events:
			c.Dispatch(ev)
		case <-deadline:
			t.Fatal("timed out driving the client loop")
		}
	}
}

// settle dispatches whatever arrives within d.
func settle(c *Client, d time.Duration) {
	timeout := time.After(d)
	for {
		select {
		case ev := <-c.events:
			c.Dispatch(ev)
		case <-timeout:
			return
		}
	}
}

func refusedErr() error {
	return &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}
}

// flakyDialer refuses while refuse is set and dials for real otherwise.
type flakyDialer struct {
	refuse atomic.Bool
	calls  atomic.Int32
	real   net.Dialer
}

func (d *flakyDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	d.calls.Add(1)
	if d.refuse.Load() {
		return nil, refusedErr()
	}
	return d.real.DialContext(ctx, network, addr)
}

// blockingDialer never completes until the client shuts down.
type blockingDialer struct{}

func (blockingDialer) DialContext(ctx context.Context, _, _ string) (net.Conn, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// fakeTimer captures retry callbacks instead of waiting.
type fakeTimer struct {
	delays []time.Duration
	fns    []func()
}

func (f *fakeTimer) after(d time.Duration, fn func()) {
	f.delays = append(f.delays, d)
	f.fns = append(f.fns, fn)
}

var (
	_ Dialer = (*flakyDialer)(nil)
	_ Dialer = blockingDialer{}
	_ Dialer = (*net.Dialer)(nil)
)

func contextWithTimeout(t *testing.T, d time.Duration) (context.Context, context.CancelFunc) {
	t.Helper()
	return context.WithTimeout(context.Background(), d)
}
