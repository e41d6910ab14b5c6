package conductor

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/rtcgw/internal/protocol"
	"github.com/1ureka/rtcgw/internal/signaling"
)

type sentMessage struct {
	peer    int
	payload string
}

// fakeLink records what the conductor asks of the signaling client.
type fakeLink struct {
	sent      []sentMessage
	hangUps   []int
	signOuts  int
	busy      bool
	connected bool
	sendErr   error
	listened  string
}

func (l *fakeLink) SendToPeer(id int, message string) error {
	if l.sendErr != nil {
		return l.sendErr
	}
	l.sent = append(l.sent, sentMessage{peer: id, payload: message})
	return nil
}

func (l *fakeLink) SendHangUp(id int) error {
	if l.busy {
		return signaling.ErrBusy
	}
	l.hangUps = append(l.hangUps, id)
	return nil
}

func (l *fakeLink) IsSendingMessage() bool { return l.busy }
func (l *fakeLink) IsConnected() bool      { return l.connected }
func (l *fakeLink) SignOut() bool          { l.signOuts++; return true }

func (l *fakeLink) Listen(addr string, port int) error {
	l.listened = addr
	return nil
}

var _ Link = (*fakeLink)(nil)

// loop stands in for the signaling run loop: pion callbacks land on calls
// and the test goroutine runs them.
type loop struct {
	calls chan func()
}

func newLoop() *loop { return &loop{calls: make(chan func(), 256)} }

func (l *loop) post(fn func()) bool {
	l.calls <- fn
	return true
}

func (l *loop) runUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for !cond() {
		select {
		case fn := <-l.calls:
			fn()
		case <-deadline:
			t.Fatal("timed out waiting on posted callbacks")
		}
	}
}

func newTestConductor(t *testing.T) (*Conductor, *fakeLink, *loop) {
	t.Helper()
	link := &fakeLink{connected: true}
	lp := newLoop()
	c := New(link, lp.post, Options{})
	t.Cleanup(c.deletePeerConnection)
	return c, link, lp
}

// remoteOffer builds a complete offer from a real pion peer.
func remoteOffer(t *testing.T) (*webrtc.PeerConnection, string) {
	t.Helper()

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("NewPeerConnection: %v", err)
	}
	t.Cleanup(func() { pc.Close() })

	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio); err != nil {
		t.Fatalf("AddTransceiverFromKind: %v", err)
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		t.Fatalf("SetLocalDescription: %v", err)
	}
	<-gathered

	data, err := json.Marshal(map[string]string{"type": "offer", "sdp": pc.LocalDescription().SDP})
	if err != nil {
		t.Fatal(err)
	}
	return pc, string(data)
}

func TestAnswersOffer(t *testing.T) {
	c, link, lp := newTestConductor(t)
	remote, offer := remoteOffer(t)

	c.OnMessageFromPeer(3, offer)
	if c.PeerID() != 3 || !c.Active() {
		t.Fatalf("peer=%d active=%v", c.PeerID(), c.Active())
	}

	lp.runUntil(t, func() bool { return c.Pending() == 1 })
	c.SendMessage()

	if len(link.sent) != 1 || link.sent[0].peer != 3 {
		t.Fatalf("sent = %+v", link.sent)
	}

	var env envelope
	if err := json.Unmarshal([]byte(link.sent[0].payload), &env); err != nil {
		t.Fatalf("answer is not JSON: %v", err)
	}
	if env.Type != "answer" || env.SDP == "" {
		t.Fatalf("unexpected answer envelope: %+v", env)
	}
	if err := remote.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: env.SDP}); err != nil {
		t.Fatalf("remote rejected our answer: %v", err)
	}

	// Gathering finishing again must not queue a second description.
	c.onICECandidate(c.pc, nil)
	if c.Pending() != 0 {
		t.Fatalf("description queued twice, pending=%d", c.Pending())
	}
}

func TestIgnoresOtherPeersDuringCall(t *testing.T) {
	c, _, _ := newTestConductor(t)
	_, offer := remoteOffer(t)

	c.OnMessageFromPeer(3, offer)
	pc := c.pc

	c.OnMessageFromPeer(4, offer)
	if c.PeerID() != 3 || c.pc != pc {
		t.Fatal("a message from another peer must not replace the call")
	}
}

func TestMalformedMessages(t *testing.T) {
	testCases := []struct {
		name    string
		message string
	}{
		{"not json", "hello"},
		{"unknown type", `{"type":"bogus","sdp":"v=0"}`},
		{"description without sdp", `{"type":"offer"}`},
		{"candidate without mid", `{"candidate":"candidate:1 1 udp 1 10.0.0.1 9 typ host","sdpMLineIndex":0}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c, link, _ := newTestConductor(t)
			c.OnMessageFromPeer(3, tc.message)

			if c.Pending() != 0 || len(link.sent) != 0 || link.signOuts != 0 {
				t.Fatalf("malformed message had side effects: pending=%d sent=%v signOuts=%d",
					c.Pending(), link.sent, link.signOuts)
			}
		})
	}
}

func TestEnvelopeCandidate(t *testing.T) {
	env, err := decodeEnvelope(`{"sdpMid":"0","sdpMLineIndex":0,"candidate":"candidate:1 1 udp 2130706431 10.0.0.1 5000 typ host"}`)
	if err != nil {
		t.Fatal(err)
	}
	cand, err := env.candidate()
	if err != nil {
		t.Fatalf("candidate: %v", err)
	}
	if *cand.SDPMid != "0" || *cand.SDPMLineIndex != 0 {
		t.Fatalf("unexpected candidate init: %+v", cand)
	}
}

func TestPeerDisconnectEndsCall(t *testing.T) {
	c, _, _ := newTestConductor(t)
	_, offer := remoteOffer(t)
	c.OnMessageFromPeer(3, offer)

	c.OnPeerDisconnected(4)
	if !c.Active() {
		t.Fatal("another peer leaving must not end the call")
	}

	c.OnPeerDisconnected(3)
	if c.Active() || c.PeerID() != -1 {
		t.Fatal("our peer leaving must end the call")
	}
}

func TestEndingCallDropsQueuedMessages(t *testing.T) {
	testCases := []struct {
		name string
		end  func(c *Conductor)
	}{
		{"peer went away", func(c *Conductor) { c.OnPeerDisconnected(3) }},
		{"session lost", func(c *Conductor) { c.OnDisconnected() }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c, link, _ := newTestConductor(t)
			_, offer := remoteOffer(t)
			c.OnMessageFromPeer(3, offer)
			c.QueueMessage("stale-candidate")
			if c.Pending() == 0 {
				t.Fatal("message not queued")
			}

			tc.end(c)

			if c.Pending() != 0 {
				t.Fatalf("pending = %d after the call ended, want 0", c.Pending())
			}
			c.SendMessage()
			if len(link.sent) != 0 {
				t.Fatalf("old call leaked into the link: %+v", link.sent)
			}
		})
	}
}

func TestSendFailureSignsOut(t *testing.T) {
	c, link, _ := newTestConductor(t)
	c.peerID = 3
	c.QueueMessage("payload")
	link.sendErr = errors.New("socket gone")

	c.SendMessage()

	if link.signOuts != 1 {
		t.Fatalf("signOuts = %d, want 1", link.signOuts)
	}
	if c.Pending() != 0 {
		t.Fatal("a failed message is discarded")
	}
}

func TestSendMessageWaitsForIdleLink(t *testing.T) {
	c, link, _ := newTestConductor(t)
	c.peerID = 3
	c.QueueMessage("first")
	c.QueueMessage("second")

	link.busy = true
	c.SendMessage()
	if len(link.sent) != 0 {
		t.Fatal("nothing may be sent while the link is busy")
	}

	link.busy = false
	c.SendMessage()
	c.SendMessage()
	if len(link.sent) != 2 || link.sent[0].payload != "first" || link.sent[1].payload != "second" {
		t.Fatalf("sent = %+v", link.sent)
	}
}

func TestQueueMessageWithoutPeer(t *testing.T) {
	c, _, _ := newTestConductor(t)
	c.QueueMessage("orphan")
	if c.Pending() != 0 {
		t.Fatal("messages without a peer are rejected")
	}
}

func TestConnectToPeerOffers(t *testing.T) {
	c, link, lp := newTestConductor(t)

	if err := c.ConnectToPeer(5); err != nil {
		t.Fatalf("ConnectToPeer: %v", err)
	}
	if err := c.ConnectToPeer(6); !errors.Is(err, ErrPeerBusy) {
		t.Fatalf("second ConnectToPeer = %v, want ErrPeerBusy", err)
	}

	lp.runUntil(t, func() bool { return c.Pending() == 1 })
	c.SendMessage()

	var env envelope
	if err := json.Unmarshal([]byte(link.sent[0].payload), &env); err != nil || env.Type != "offer" {
		t.Fatalf("offer envelope = %+v, err %v", env, err)
	}
}

func TestDisconnectFromCurrentPeer(t *testing.T) {
	c, link, _ := newTestConductor(t)
	if err := c.ConnectToPeer(5); err != nil {
		t.Fatal(err)
	}

	c.DisconnectFromCurrentPeer()
	if len(link.hangUps) != 1 || link.hangUps[0] != 5 {
		t.Fatalf("hangUps = %v", link.hangUps)
	}
	if c.Active() {
		t.Fatal("call must be dropped")
	}

	// A busy link defers the hang-up to the queue.
	if err := c.ConnectToPeer(5); err != nil {
		t.Fatal(err)
	}
	link.busy = true
	c.DisconnectFromCurrentPeer()
	if c.queue.Len() == 0 {
		t.Fatal("hang-up must be queued while the link is busy")
	}

	link.busy = false
	for c.queue.Len() > 0 {
		c.SendMessage()
	}
	last := link.sent[len(link.sent)-1]
	if last.peer != 5 || last.payload != protocol.ByeMessage {
		t.Fatalf("last sent = %+v, want BYE to 5", last)
	}
}

func TestStartListenAndClose(t *testing.T) {
	c, link, _ := newTestConductor(t)

	if err := c.StartListen("127.0.0.1", 8888); err != nil {
		t.Fatal(err)
	}
	if link.listened != "127.0.0.1" || c.listenIP != "127.0.0.1" {
		t.Fatalf("listen ip not recorded: %q", link.listened)
	}

	c.OnDisconnected()
	c.Close()
	if link.signOuts != 1 || c.Active() {
		t.Fatalf("signOuts=%d active=%v", link.signOuts, c.Active())
	}
}
