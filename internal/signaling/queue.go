package signaling

import (
	"fmt"

	"github.com/1ureka/rtcgw/internal/util"
)

// PendingMessage is an opaque payload waiting to be sent to a peer. Its
// content is never interpreted here.
type PendingMessage struct {
	PeerID  int
	Payload string
}

// Queue is an unbounded FIFO of outbound peer messages. It is not safe for
// concurrent use; like the rest of the session it belongs to the run loop.
//
// Nothing is drained on a timer: the owner calls DrainOne once per loop
// tick, so tick frequency bounds delivery latency.
type Queue struct {
	items []PendingMessage
}

// Enqueue appends a payload for peerID. A negative id means no peer has been
// chosen yet and the message is rejected.
func (q *Queue) Enqueue(peerID int, payload string) error {
	if peerID < 0 {
		return ErrNoPeer
	}
	q.items = append(q.items, PendingMessage{PeerID: peerID, Payload: payload})
	util.Stats.AddQueued()
	return nil
}

// Len returns the number of queued messages.
func (q *Queue) Len() int { return len(q.items) }

// Clear drops every queued message.
func (q *Queue) Clear() {
	clear(q.items)
	q.items = q.items[:0]
}

// DrainOne pops the head and hands it to send, provided the queue is not
// empty and canSend allows it. The payload is discarded whether or not send
// succeeds; a failure is returned wrapped in ErrSendFailed. The boolean
// reports whether a message was taken.
func (q *Queue) DrainOne(canSend func() bool, send func(PendingMessage) error) (bool, error) {
	if len(q.items) == 0 || !canSend() {
		return false, nil
	}

	msg := q.items[0]
	q.items[0] = PendingMessage{}
	q.items = q.items[1:]

	if err := send(msg); err != nil {
		return true, fmt.Errorf("%w: peer %d: %w", ErrSendFailed, msg.PeerID, err)
	}

	util.Stats.AddDelivered()
	return true, nil
}
