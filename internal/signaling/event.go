package signaling

import "net"

// SocketID names one of the sockets owned by a Client.
type SocketID int

const (
	Control    SocketID = iota // sign-in, sign-out and relayed messages
	HangingGet                 // long-poll notifications
	Accepted                   // inbound peer connection of the server role
)

func (id SocketID) String() string {
	switch id {
	case Control:
		return "control"
	case HangingGet:
		return "hanging-get"
	case Accepted:
		return "accepted"
	default:
		return "unknown"
	}
}

// EventKind enumerates what happened to a socket or the loop.
type EventKind int

const (
	EventConnect EventKind = iota // dial completed, Conn is set
	EventRead                     // Data holds newly read bytes
	EventClose                    // socket closed; Err is nil on a clean close
	EventAccept                   // listener produced Conn
	EventRetry                    // retry timer fired for session Gen
	EventCall                     // run Call on the loop
)

func (k EventKind) String() string {
	switch k {
	case EventConnect:
		return "connect"
	case EventRead:
		return "read"
	case EventClose:
		return "close"
	case EventAccept:
		return "accept"
	case EventRetry:
		return "retry"
	case EventCall:
		return "call"
	default:
		return "unknown"
	}
}

// Event is one unit of work for Dispatch. Gen is the socket generation for
// socket events and the session generation for EventRetry; events carrying
// an outdated generation are dropped.
type Event struct {
	Kind   EventKind
	Socket SocketID
	Gen    uint64
	Data   []byte
	Err    error
	Conn   net.Conn
	Call   func()
}
