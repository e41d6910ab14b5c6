package signaling

import (
	"net"
	"strconv"

	"github.com/1ureka/rtcgw/internal/protocol"
	"github.com/1ureka/rtcgw/internal/util"
)

// ──────────────────────────────────────────────────────────────────────────────
// Session operations (loop-only)
// ──────────────────────────────────────────────────────────────────────────────

// Connect signs in to the rendezvous service at server:port as name. A
// non-positive port selects protocol.DefaultServerPort. The outcome is
// reported through OnSignedIn or OnDisconnected.
func (c *Client) Connect(server string, port int, name string) error {
	if c.state != NotConnected {
		util.LogWarning("sign-in to %s ignored: session is %s", server, c.state)
		return ErrAlreadyConnected
	}
	if server == "" {
		c.observer.OnDisconnected()
		return ErrEmptyServer
	}
	if name == "" {
		c.observer.OnDisconnected()
		return ErrEmptyName
	}
	if port <= 0 {
		port = protocol.DefaultServerPort
	}

	c.serverAddr = net.JoinHostPort(server, strconv.Itoa(port))
	c.name = name
	c.onConnectData = protocol.SignInRequest(name)
	c.state = SigningIn

	util.LogInfo("signing in to %s as %q", c.serverAddr, name)
	c.connectControl()
	return nil
}

// SignOut leaves the rendezvous service. When the control socket is still
// busy the sign-out is deferred until it goes idle. It always reports true.
func (c *Client) SignOut() bool {
	if c.state == NotConnected || c.state == SigningOut {
		return true
	}

	if !c.hanging.closed() {
		c.hanging.reset()
	}

	// A sign-in waiting on a retry is simply abandoned below.
	if !c.control.closed() || (c.retryPending && c.myID != -1) {
		c.state = SigningOutWaiting
		return true
	}

	c.state = SigningOut
	if c.myID == -1 {
		// Nothing to sign out of yet.
		c.Close()
		c.observer.OnDisconnected()
		return true
	}

	util.LogInfo("signing out of %s", c.serverAddr)
	c.onConnectData = protocol.SignOutRequest(c.myID)
	c.connectControl()
	return true
}

// Close forces the session back to NotConnected. It reports false when
// there was nothing to close. The server role is left untouched.
func (c *Client) Close() bool {
	if c.pristine() {
		return false
	}

	c.control.reset()
	c.hanging.reset()
	c.onConnectData = nil
	c.roster.Clear()
	c.myID = -1
	c.state = NotConnected
	c.session++
	c.retryPending = false
	return true
}

func (c *Client) pristine() bool {
	return c.state == NotConnected && c.myID == -1 &&
		c.control.closed() && c.hanging.closed() &&
		c.roster.Len() == 0 && c.onConnectData == nil && !c.retryPending
}

// SendToPeer delivers message to peer id. The sentinel id answers the
// connection accepted by the server role and then closes it; any other id is
// relayed through the rendezvous service, which requires an idle control
// socket.
func (c *Client) SendToPeer(id int, message string) error {
	if id == protocol.SentinelPeerID && !c.accepted.closed() {
		return c.reply(message)
	}

	if c.state != Connected {
		return ErrNotConnected
	}
	if id < 0 || c.myID == -1 {
		return ErrNoPeer
	}
	if c.controlBusy() {
		return ErrBusy
	}

	c.onConnectData = protocol.MessageRequest(c.myID, id, message)
	c.connectControl()
	return nil
}

// SendHangUp tells a peer the call is over.
func (c *Client) SendHangUp(id int) error {
	return c.SendToPeer(id, protocol.ByeMessage)
}

// ──────────────────────────────────────────────────────────────────────────────
// Control socket
// ──────────────────────────────────────────────────────────────────────────────

func (c *Client) connectControl() {
	c.dial(&c.control, c.serverAddr)
}

func (c *Client) onControlConnect() {
	data := c.onConnectData
	c.onConnectData = nil

	if len(data) == 0 {
		util.LogWarning("control socket connected with nothing to send")
		return
	}
	if err := c.control.write(data); err != nil {
		c.control.reset()
		c.onControlClose(err)
	}
}

func (c *Client) onControlRead() {
	for {
		u, ok := c.control.frame.Next()
		if !ok {
			c.logStalled(&c.control)
			return
		}
		util.Stats.AddUnit()

		gen := c.control.gen
		c.handleControlResponse(u)

		if c.control.gen != gen || c.control.closed() {
			return
		}
		if u.Close {
			c.control.reset()
			c.onControlClose(nil)
			return
		}
	}
}

func (c *Client) handleControlResponse(u protocol.Unit) {
	if !c.checkStatus(&c.control, u) {
		return
	}

	switch {
	case c.myID == -1:
		c.signedIn(u)
	case c.state == SigningOut:
		util.LogInfo("signed out of %s", c.serverAddr)
		c.Close()
		c.observer.OnDisconnected()
	}
}

// signedIn handles the first response of a session.
func (c *Client) signedIn(u protocol.Unit) {
	if u.PeerID < 0 {
		util.LogError("sign-in response from %s carries no peer id", c.serverAddr)
		c.Close()
		c.observer.OnDisconnected()
		return
	}

	c.myID = u.PeerID
	for _, e := range protocol.DecodeRoster(u.Body(), c.myID) {
		c.roster.Upsert(e.ID, e.Name)
		c.observer.OnPeerConnected(e.ID, e.Name)
	}

	if c.state == SigningIn {
		c.state = Connected
		if c.hanging.closed() {
			c.dial(&c.hanging, c.serverAddr)
		}
	}

	util.LogSuccess("signed in as %q with id %d (%d peers online)", c.name, c.myID, c.roster.Len())
	c.observer.OnSignedIn()
}

func (c *Client) onControlClose(err error) {
	if isRefused(err) {
		c.scheduleRetry()
		return
	}

	c.observer.OnMessageSent(err)

	if err != nil {
		util.LogError("control socket to %s failed: %v", c.serverAddr, err)
		c.Close()
		c.observer.OnDisconnected()
		return
	}

	if c.state == SigningOutWaiting {
		c.SignOut()
	}
}

// scheduleRetry arms at most one retry timer per session.
func (c *Client) scheduleRetry() {
	if c.retryPending {
		return
	}
	c.retryPending = true

	gen := c.session
	util.LogWarning("connection to %s refused; retrying in %s", c.serverAddr, RetryDelay)
	c.afterFunc(RetryDelay, func() {
		c.post(Event{Kind: EventRetry, Gen: gen})
	})
}

// onRetry re-dials the pending request unless the session moved on.
func (c *Client) onRetry(gen uint64) {
	if gen != c.session || !c.retryPending {
		util.LogDebug("ignoring stale retry")
		return
	}
	c.retryPending = false

	if !c.control.closed() || len(c.onConnectData) == 0 {
		return
	}
	c.connectControl()
}

// ──────────────────────────────────────────────────────────────────────────────
// Hanging-get socket
// ──────────────────────────────────────────────────────────────────────────────

func (c *Client) onHangingConnect() {
	if err := c.hanging.write(protocol.WaitRequest(c.myID)); err != nil {
		c.hanging.reset()
		c.onHangingClose(err)
	}
}

func (c *Client) onHangingRead() {
	for {
		u, ok := c.hanging.frame.Next()
		if !ok {
			c.logStalled(&c.hanging)
			return
		}
		util.Stats.AddUnit()

		gen := c.hanging.gen
		c.handleNotification(u)

		if c.hanging.gen != gen || c.hanging.closed() {
			return
		}
		if u.Close {
			c.hanging.reset()
			c.onHangingClose(nil)
			return
		}
	}
}

// handleNotification applies a long-poll result. A peer-id header equal to
// our own id announces a roster change; any other id attributes the body to
// that peer.
func (c *Client) handleNotification(u protocol.Unit) {
	if !c.checkStatus(&c.hanging, u) {
		return
	}
	if u.PeerID < 0 {
		util.LogWarning("dropping notification without peer id")
		return
	}

	if u.PeerID != c.myID {
		c.deliver(u.PeerID, u.Body())
		return
	}

	e, ok := protocol.DecodeEntry(u.Body())
	if !ok {
		util.LogWarning("dropping undecodable roster entry %q", u.Body())
		return
	}
	if e.ID == c.myID {
		return
	}

	if e.Connected {
		c.roster.Upsert(e.ID, e.Name)
		c.observer.OnPeerConnected(e.ID, e.Name)
	} else {
		c.roster.Remove(e.ID)
		c.observer.OnPeerDisconnected(e.ID)
	}
}

func (c *Client) onHangingClose(err error) {
	if isRefused(err) {
		util.LogError("hanging-get to %s refused", c.serverAddr)
		c.Close()
		c.observer.OnDisconnected()
		return
	}

	// One long-poll is kept outstanding for as long as we are signed in.
	if c.state == Connected {
		c.dial(&c.hanging, c.serverAddr)
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Shared helpers
// ──────────────────────────────────────────────────────────────────────────────

// deliver routes a peer payload; the BYE sentinel becomes a disconnect.
func (c *Client) deliver(id int, message string) {
	if message == protocol.ByeMessage {
		c.observer.OnPeerDisconnected(id)
		return
	}
	c.observer.OnMessageFromPeer(id, message)
}

// checkStatus validates a response status line. A line without a status is
// dropped; a status other than 200 ends the session.
func (c *Client) checkStatus(s *socket, u protocol.Unit) bool {
	status, ok := protocol.ResponseStatus(u.StartLine)
	if !ok {
		util.LogWarning("dropping malformed response %q on %s socket", u.StartLine, s.id)
		return false
	}
	if status != 200 {
		util.LogError("rendezvous service answered %d on %s socket", status, s.id)
		c.Close()
		c.observer.OnDisconnected()
		return false
	}
	return true
}

func (c *Client) logStalled(s *socket) {
	if s.frame.Stalled() {
		util.LogDebug("%s socket: header block without Content-Length, waiting for close", s.id)
	}
}
