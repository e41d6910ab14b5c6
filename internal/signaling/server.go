package signaling

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/1ureka/rtcgw/internal/protocol"
	"github.com/1ureka/rtcgw/internal/util"
)

// Listen binds the server role on addr:port. A negative port selects
// protocol.DefaultServerPort and zero lets the system pick one (see Addr).
// Each accepted connection replaces the previous one; its requests surface
// as the sentinel peer.
//
// The accept backlog is left to the operating system.
func (c *Client) Listen(addr string, port int) error {
	if c.listener != nil {
		return ErrAlreadyListening
	}
	if port < 0 {
		port = protocol.DefaultServerPort
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(addr, strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("failed to listen on %s:%d: %w", addr, port, err)
	}
	c.listener = ln

	util.LogInfo("listening for peers on %s", ln.Addr())
	go c.acceptLoop(ln)
	return nil
}

// Addr returns the bound address of the server role, or nil.
func (c *Client) Addr() net.Addr {
	if c.listener == nil {
		return nil
	}
	return c.listener.Addr()
}

func (c *Client) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				util.LogError("accept on %s failed: %v", ln.Addr(), err)
			}
			return
		}

		if !c.post(Event{Kind: EventAccept, Conn: conn}) {
			conn.Close()
			return
		}
	}
}

func (c *Client) onAccept(conn net.Conn) {
	if !c.accepted.closed() {
		util.LogWarning("replacing accepted connection from %s", c.accepted.conn.RemoteAddr())
	}
	c.accepted.reset()

	gen := c.accepted.begin(socketOpen)
	c.accepted.attach(conn)
	util.LogInfo("accepted peer connection [%d] from %s", gen, conn.RemoteAddr())

	go c.pump(conn, Accepted, gen)
}

// onAcceptedRead handles inbound requests, several per read when they are
// pipelined. A request that can never frame (no Content-Length) is still
// checked for the hang-up marker so a bare "GET /BYE" is honoured.
func (c *Client) onAcceptedRead() {
	s := &c.accepted

	for {
		u, ok := s.frame.Next()
		if !ok {
			if protocol.IsByeRequest(s.frame.Buffered()) {
				util.LogInfo("peer hung up")
				s.frame.Reset()
				c.observer.OnPeerDisconnected(protocol.SentinelPeerID)
			}
			return
		}
		util.Stats.AddUnit()

		gen := s.gen
		switch {
		case protocol.IsOfferRequest(u.StartLine):
			c.deliver(protocol.SentinelPeerID, u.Body())
		case protocol.IsByeRequest(u.Raw):
			util.LogInfo("peer hung up")
			c.observer.OnPeerDisconnected(protocol.SentinelPeerID)
		default:
			util.LogWarning("rejecting request %q", u.StartLine)
		}

		// The observer may already have replied, which closes the socket.
		if s.gen != gen || s.closed() {
			return
		}
	}
}

// onAcceptedEOF runs when the peer stops sending. The connection stays
// writable so a reply can still go out; it is released by reply, by the
// next accept, or at shutdown.
func (c *Client) onAcceptedEOF() {
	util.LogDebug("accepted peer [%d] finished sending", c.accepted.gen)
}

func (c *Client) onAcceptedClose(err error) {
	util.LogDebug("accepted connection failed: %v", err)
}

// reply answers the accepted connection and closes it.
func (c *Client) reply(message string) error {
	err := c.accepted.write(protocol.Reply(message))
	c.accepted.reset()
	if err != nil {
		return err
	}
	util.LogDebug("replied %d bytes to accepted peer", len(message))
	return nil
}
