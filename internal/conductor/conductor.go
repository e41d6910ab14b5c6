// Package conductor turns signaling events into WebRTC negotiation: it
// answers offers from one remote peer at a time, applies their candidates
// and queues the local description for delivery over the signaling link.
package conductor

import (
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/rtcgw/internal/protocol"
	"github.com/1ureka/rtcgw/internal/signaling"
	"github.com/1ureka/rtcgw/internal/util"
)

// ErrPeerBusy is returned by ConnectToPeer while a call is in progress.
var ErrPeerBusy = errors.New("already connected to a peer")

// Link is the part of the signaling client the conductor drives.
type Link interface {
	SendToPeer(id int, message string) error
	SendHangUp(id int) error
	IsSendingMessage() bool
	IsConnected() bool
	SignOut() bool
	Listen(addr string, port int) error
}

var _ Link = (*signaling.Client)(nil)

// Options configures a Conductor.
type Options struct {
	STUN []string // ICE servers; empty means host candidates only
}

// Conductor owns at most one PeerConnection. Like the signaling client it
// is confined to the run loop: pion callbacks are marshalled back through
// post before touching any field.
type Conductor struct {
	link Link
	post func(func()) bool
	stun []string

	listenIP string
	peerID   int
	pc       *webrtc.PeerConnection
	queued   bool // local description already queued for this pc
	queue    signaling.Queue
}

var _ signaling.Observer = (*Conductor)(nil)

// New creates a conductor for link. post must run its argument on the
// goroutine that drives link.
func New(link Link, post func(func()) bool, opts Options) *Conductor {
	return &Conductor{
		link:   link,
		post:   post,
		stun:   opts.STUN,
		peerID: -1,
	}
}

// PeerID returns the remote peer of the current call, or -1.
func (c *Conductor) PeerID() int { return c.peerID }

// Active reports whether a PeerConnection exists.
func (c *Conductor) Active() bool { return c.pc != nil }

// Pending returns the number of queued outbound messages.
func (c *Conductor) Pending() int { return c.queue.Len() }

// StartListen enables the server role on ip:port. Local candidates on ip
// release the local description early.
func (c *Conductor) StartListen(ip string, port int) error {
	c.listenIP = ip
	return c.link.Listen(ip, port)
}

// ──────────────────────────────────────────────────────────────────────────────
// signaling.Observer
// ──────────────────────────────────────────────────────────────────────────────

func (c *Conductor) OnSignedIn() {
	util.LogInfo("ready for calls")
}

func (c *Conductor) OnDisconnected() {
	util.LogInfo("disconnected from rendezvous service")
	c.deletePeerConnection()
}

func (c *Conductor) OnPeerConnected(id int, name string) {
	util.LogInfo("peer %d (%s) is online", id, name)
}

func (c *Conductor) OnPeerDisconnected(id int) {
	util.LogInfo("peer %d went away", id)
	if id == c.peerID {
		util.LogInfo("our peer disconnected")
		c.deletePeerConnection()
	}
}

func (c *Conductor) OnMessageSent(err error) {
	if err != nil {
		util.LogDebug("message delivery failed: %v", err)
	}
}

// OnMessageFromPeer adopts the first peer that writes to us and applies its
// session descriptions and candidates. Messages from other peers are
// ignored until the current call ends.
func (c *Conductor) OnMessageFromPeer(id int, message string) {
	if c.pc == nil {
		c.peerID = id
		if err := c.initPeerConnection(); err != nil {
			util.LogError("failed to initialize peer connection: %v", err)
			c.peerID = -1
			c.link.SignOut()
			return
		}
	} else if id != c.peerID {
		util.LogWarning("ignoring message from peer %d while in a call with peer %d", id, c.peerID)
		return
	}

	env, err := decodeEnvelope(message)
	if err != nil {
		util.LogWarning("received unknown message from peer %d: %v", id, err)
		return
	}

	if env.Type != "" {
		c.applyDescription(env)
		return
	}
	c.applyCandidate(env)
}

func (c *Conductor) applyDescription(env envelope) {
	desc, err := env.description()
	if err != nil {
		util.LogWarning("can't parse session description: %v", err)
		return
	}

	if err := c.pc.SetRemoteDescription(desc); err != nil {
		util.LogWarning("failed to set remote %s: %v", desc.Type, err)
		return
	}
	util.LogDebug("remote %s applied", desc.Type)

	if desc.Type != webrtc.SDPTypeOffer {
		return
	}

	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		util.LogError("CreateAnswer: %v", err)
		return
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		util.LogError("SetLocalDescription: %v", err)
		return
	}
	util.LogDebug("answer created, waiting for ICE candidates")
}

func (c *Conductor) applyCandidate(env envelope) {
	cand, err := env.candidate()
	if err != nil {
		util.LogWarning("can't parse candidate: %v", err)
		return
	}
	if err := c.pc.AddICECandidate(cand); err != nil {
		util.LogWarning("failed to apply candidate: %v", err)
		return
	}
	util.LogDebug("remote candidate applied")
}

// ──────────────────────────────────────────────────────────────────────────────
// Calls
// ──────────────────────────────────────────────────────────────────────────────

// ConnectToPeer places a call by sending id an offer.
func (c *Conductor) ConnectToPeer(id int) error {
	if c.pc != nil {
		return ErrPeerBusy
	}
	if id < 0 {
		return signaling.ErrNoPeer
	}

	if err := c.initPeerConnection(); err != nil {
		return fmt.Errorf("failed to initialize peer connection: %w", err)
	}
	c.peerID = id

	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		c.deletePeerConnection()
		return fmt.Errorf("CreateOffer: %w", err)
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		c.deletePeerConnection()
		return fmt.Errorf("SetLocalDescription: %w", err)
	}
	return nil
}

// DisconnectFromCurrentPeer hangs up the current call.
func (c *Conductor) DisconnectFromCurrentPeer() {
	if c.pc == nil {
		return
	}

	id := c.peerID
	err := c.link.SendHangUp(id)
	c.deletePeerConnection()

	switch {
	case err == nil:
	case errors.Is(err, signaling.ErrBusy):
		// Enqueued after deletePeerConnection, which empties the queue.
		if err := c.queue.Enqueue(id, protocol.ByeMessage); err != nil {
			util.LogWarning("dropping hang-up: %v", err)
		}
	default:
		util.LogWarning("hang-up to peer %d failed: %v", id, err)
	}
}

// DisconnectFromServer signs out when signed in.
func (c *Conductor) DisconnectFromServer() {
	if c.link.IsConnected() {
		c.link.SignOut()
	}
}

// Close signs out and drops the current call.
func (c *Conductor) Close() {
	c.link.SignOut()
	c.deletePeerConnection()
}

// QueueMessage addresses payload to the current peer.
func (c *Conductor) QueueMessage(payload string) {
	if err := c.queue.Enqueue(c.peerID, payload); err != nil {
		util.LogWarning("dropping outbound message: %v", err)
	}
}

// SendMessage delivers at most one queued message when the link is idle.
// It is meant to be called once per run-loop tick. A failed send while in a
// call signs out.
func (c *Conductor) SendMessage() {
	_, err := c.queue.DrainOne(
		func() bool { return !c.link.IsSendingMessage() },
		func(m signaling.PendingMessage) error { return c.link.SendToPeer(m.PeerID, m.Payload) },
	)
	if err == nil {
		return
	}

	util.LogError("%v", err)
	if c.peerID != -1 {
		c.DisconnectFromServer()
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// PeerConnection lifecycle
// ──────────────────────────────────────────────────────────────────────────────

func (c *Conductor) initPeerConnection() error {
	pc, err := newPeerConnection(c.stun)
	if err != nil {
		return err
	}
	c.pc = pc
	c.queued = false

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		c.post(func() { c.onICECandidate(pc, cand) })
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		c.post(func() { c.onConnectionState(pc, state) })
	})
	return nil
}

// onICECandidate queues the local description once: as soon as a candidate
// on the listen address shows up, or when gathering completes.
func (c *Conductor) onICECandidate(pc *webrtc.PeerConnection, cand *webrtc.ICECandidate) {
	if pc != c.pc || c.queued {
		return
	}

	if cand != nil {
		util.LogDebug("local candidate %s", cand)
		if c.listenIP == "" || cand.Address != c.listenIP {
			return
		}
	}

	desc := pc.LocalDescription()
	if desc == nil {
		return
	}
	payload, err := encodeDescription(desc)
	if err != nil {
		util.LogError("failed to encode local description: %v", err)
		return
	}

	c.queued = true
	c.QueueMessage(payload)
	util.LogDebug("queued local %s for peer %d", desc.Type, c.peerID)
}

func (c *Conductor) onConnectionState(pc *webrtc.PeerConnection, state webrtc.PeerConnectionState) {
	if pc != c.pc {
		return
	}
	switch state {
	case webrtc.PeerConnectionStateConnected:
		util.LogSuccess("media path to peer %d established", c.peerID)
	case webrtc.PeerConnectionStateFailed:
		util.LogWarning("peer connection to %d failed", c.peerID)
	default:
		util.LogDebug("peer connection state: %s", state)
	}
}

func (c *Conductor) deletePeerConnection() {
	if c.pc != nil {
		if err := c.pc.Close(); err != nil {
			util.LogDebug("closing peer connection: %v", err)
		}
	}
	if n := c.queue.Len(); n > 0 {
		util.LogDebug("dropping %d queued messages for peer %d", n, c.peerID)
	}
	c.queue.Clear()
	c.pc = nil
	c.peerID = -1
	c.queued = false
}
