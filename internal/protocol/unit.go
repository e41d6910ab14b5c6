// Package protocol implements the HTTP-like wire format spoken with the
// rendezvous service and with peers that reach the gateway directly.
//
// It is deliberately not an HTTP stack: headers are located by prefix search
// before the end-of-headers marker, every unit must declare Content-Length,
// and roster entries are hand-parsed "name,id,connected" lines.
package protocol

// Wire constants.
const (
	HeaderTerminator = "\r\n\r\n"
	lineTerminator   = "\r\n"

	contentLengthHeader = "\r\nContent-Length: "
	connectionHeader    = "\r\nConnection: "
	peerIDHeader        = "\r\nPragma: " // the reference rendezvous service carries the peer id here

	// ByeMessage is the payload a peer sends to hang up.
	ByeMessage = "BYE"

	// SentinelPeerID identifies the single remote peer accepted by the
	// server role.
	SentinelPeerID = 7

	// DefaultServerPort is used when a caller passes a non-positive port.
	DefaultServerPort = 8888
)

// Unit is one complete request or response extracted from a byte stream.
// It only lives for the duration of one dispatch.
type Unit struct {
	Raw           []byte // header block, terminator and body
	HeaderEnd     int    // offset of the end-of-headers marker within Raw
	ContentLength int
	StartLine     string // status line or request line, without CRLF
	PeerID        int    // value of the peer-id header, -1 when absent
	Close         bool   // "Connection: close" was present
}

// Body returns the bytes after the end-of-headers marker.
func (u Unit) Body() string {
	return string(u.Raw[u.HeaderEnd+len(HeaderTerminator):])
}

// Header looks up a header by its "\r\nName: " pattern.
func (u Unit) Header(pattern string) (string, bool) {
	return HeaderValue(u.Raw, u.HeaderEnd, pattern)
}

// Len is the number of bytes the unit occupied in the stream.
func (u Unit) Len() int { return len(u.Raw) }
