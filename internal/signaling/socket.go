package signaling

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/1ureka/rtcgw/internal/protocol"
	"github.com/1ureka/rtcgw/internal/util"
)

const (
	readBufferSize = 4096
	writeTimeout   = 5 * time.Second
)

type socketState int

const (
	socketClosed socketState = iota
	socketConnecting
	socketOpen
)

// socket is one connection slot owned by the Client. Its fields are only
// touched on the run loop; pump goroutines talk to it through events.
type socket struct {
	id    SocketID
	state socketState
	gen   uint64
	conn  net.Conn
	frame protocol.Framer
}

func (s *socket) closed() bool { return s.state == socketClosed }

// begin invalidates events from earlier connections and returns the new
// generation.
func (s *socket) begin(state socketState) uint64 {
	s.gen++
	s.state = state
	return s.gen
}

// attach installs an established connection.
func (s *socket) attach(conn net.Conn) {
	s.conn = conn
	s.state = socketOpen
	util.Stats.AddConn()
}

// reset closes the connection, drops any partial unit and invalidates
// events still in flight for it.
func (s *socket) reset() {
	if s.conn != nil {
		s.conn.Close()
		util.Stats.RemoveConn()
	}
	s.conn = nil
	s.state = socketClosed
	s.gen++
	s.frame.Reset()
}

func (s *socket) write(p []byte) error {
	if s.conn == nil {
		return fmt.Errorf("%s socket: %w", s.id, net.ErrClosed)
	}

	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := s.conn.Write(p); err != nil {
		return fmt.Errorf("failed to write %s socket: %w", s.id, err)
	}

	util.Stats.AddSent(len(p))
	return nil
}

// dial starts an asynchronous connect on s. The outcome arrives as
// EventConnect or EventClose, followed by reads from the pump.
func (c *Client) dial(s *socket, addr string) {
	id, gen := s.id, s.begin(socketConnecting)
	util.LogDebug("connecting %s socket to %s", id, addr)

	go func() {
		conn, err := c.dialer.DialContext(c.ctx, "tcp", addr)
		if err != nil {
			c.post(Event{Kind: EventClose, Socket: id, Gen: gen, Err: err})
			return
		}

		if !c.post(Event{Kind: EventConnect, Socket: id, Gen: gen, Conn: conn}) {
			conn.Close()
			return
		}
		c.pump(conn, id, gen)
	}()
}

// pump forwards reads from conn to the loop until the connection ends.
// io.EOF is reported as a clean close.
func (c *Client) pump(conn net.Conn, id SocketID, gen uint64) {
	buf := make([]byte, readBufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			if !c.post(Event{Kind: EventRead, Socket: id, Gen: gen, Data: data}) {
				conn.Close()
				return
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				err = nil
			}
			c.post(Event{Kind: EventClose, Socket: id, Gen: gen, Err: err})
			return
		}
	}
}
