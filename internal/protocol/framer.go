package protocol

import "bytes"

// Framer accumulates reads from one socket until a complete unit is
// buffered. Reads may split a unit at any byte; nothing is discarded until
// a unit is extracted or Reset is called.
type Framer struct {
	buf     []byte
	stalled bool
}

// Feed appends p to the buffer.
func (f *Framer) Feed(p []byte) {
	f.buf = append(f.buf, p...)
}

// Next extracts the first complete unit. It returns false while the header
// block is unterminated, while fewer than Content-Length body bytes have
// arrived, or when the headers carry no usable Content-Length at all. The
// last case is reported by Stalled; the buffer is retained either way.
func (f *Framer) Next() (Unit, bool) {
	f.stalled = false

	eoh := bytes.Index(f.buf, []byte(HeaderTerminator))
	if eoh < 0 {
		return Unit{}, false
	}

	length, ok := HeaderInt(f.buf, eoh, contentLengthHeader)
	if !ok || length < 0 {
		f.stalled = true
		return Unit{}, false
	}

	total := eoh + len(HeaderTerminator) + length
	if len(f.buf) < total {
		return Unit{}, false
	}

	raw := make([]byte, total)
	copy(raw, f.buf[:total])
	f.buf = append(f.buf[:0], f.buf[total:]...)

	return newUnit(raw, eoh, length), true
}

// Stalled reports whether the last Next call found a terminated header
// block without a Content-Length. Such a unit can never complete.
func (f *Framer) Stalled() bool { return f.stalled }

// Buffered returns the accumulated, not yet extracted bytes. The slice is
// only valid until the next Feed, Next or Reset.
func (f *Framer) Buffered() []byte { return f.buf }

// Len returns the number of buffered bytes.
func (f *Framer) Len() int { return len(f.buf) }

// Reset drops any partial unit, e.g. when the socket closes.
func (f *Framer) Reset() {
	f.buf = f.buf[:0]
	f.stalled = false
}

func newUnit(raw []byte, eoh, length int) Unit {
	u := Unit{
		Raw:           raw,
		HeaderEnd:     eoh,
		ContentLength: length,
		PeerID:        -1,
	}

	if i := bytes.Index(raw[:eoh], []byte(lineTerminator)); i >= 0 {
		u.StartLine = string(raw[:i])
	} else {
		u.StartLine = string(raw[:eoh])
	}

	if id, ok := HeaderInt(raw, eoh, peerIDHeader); ok {
		u.PeerID = id
	}

	if v, ok := HeaderValue(raw, eoh, connectionHeader); ok && v == "close" {
		u.Close = true
	}

	return u
}
