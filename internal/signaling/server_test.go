package signaling

import (
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/1ureka/rtcgw/internal/protocol"
)

func listenLoopback(t *testing.T, c *Client) string {
	t.Helper()
	if err := c.Listen("127.0.0.1", 0); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	return c.Addr().String()
}

func dialPeer(t *testing.T, addr, request string) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if _, err := io.WriteString(conn, request); err != nil {
		t.Fatalf("write: %v", err)
	}
	return conn
}

func TestServerRoleOfferAndReply(t *testing.T) {
	c, rec := newTestClient(t)
	addr := listenLoopback(t, c)

	offer := `{"type":"offer","sdp":"v=0"}`
	conn := dialPeer(t, addr, "POST /OFFER HTTP/1.1\r\nHost: gw\r\nContent-Length: "+
		strconv.Itoa(len(offer))+"\r\n\r\n"+offer)

	drive(t, c, func() bool { return len(rec.messages) == 1 })
	if rec.messages[0] != (PendingMessage{PeerID: protocol.SentinelPeerID, Payload: offer}) {
		t.Fatalf("message = %+v", rec.messages[0])
	}

	if err := c.SendToPeer(protocol.SentinelPeerID, "answer"); err != nil {
		t.Fatalf("SendToPeer: %v", err)
	}
	if !c.accepted.closed() {
		t.Fatal("accepted socket must be closed after the reply")
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	reply, err := io.ReadAll(conn)
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	got := string(reply)
	for _, want := range []string{"HTTP/1.1 200 OK\r\n", "Server: RTC_GW/0.1\r\n", "Content-Length: 6\r\n"} {
		if !strings.Contains(got, want) {
			t.Errorf("reply %q missing %q", got, want)
		}
	}
	if !strings.HasSuffix(got, "\r\n\r\nanswer") {
		t.Errorf("reply body: %q", got)
	}

	// With no accepted connection the sentinel falls back to the client
	// role, which is not signed in.
	if err := c.SendToPeer(protocol.SentinelPeerID, "late"); err != ErrNotConnected {
		t.Fatalf("SendToPeer without connection = %v, want ErrNotConnected", err)
	}
}

func TestServerRoleRepliesAfterPeerHalfClose(t *testing.T) {
	c, rec := newTestClient(t)
	addr := listenLoopback(t, c)

	offer := `{"type":"offer","sdp":"v=0"}`
	conn := dialPeer(t, addr, "POST /OFFER HTTP/1.1\r\nContent-Length: "+
		strconv.Itoa(len(offer))+"\r\n\r\n"+offer)
	if err := conn.(*net.TCPConn).CloseWrite(); err != nil {
		t.Fatalf("CloseWrite: %v", err)
	}

	drive(t, c, func() bool { return len(rec.messages) == 1 })
	// Let the EOF that follows the request reach the loop.
	settle(c, 200*time.Millisecond)

	if c.accepted.closed() {
		t.Fatal("end of the peer's request must not close the accepted socket")
	}
	if err := c.SendToPeer(protocol.SentinelPeerID, "answer"); err != nil {
		t.Fatalf("SendToPeer: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	reply, err := io.ReadAll(conn)
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if !strings.HasSuffix(string(reply), "\r\n\r\nanswer") {
		t.Fatalf("reply = %q", reply)
	}
}

func TestServerRolePipelinedRequests(t *testing.T) {
	c, rec := newTestClient(t)
	addr := listenLoopback(t, c)

	frame := func(body string) string {
		return "POST /OFFER HTTP/1.1\r\nContent-Length: " + strconv.Itoa(len(body)) + "\r\n\r\n" + body
	}
	dialPeer(t, addr, frame("first")+frame("second"))

	drive(t, c, func() bool { return len(rec.messages) == 2 })
	if rec.messages[0].Payload != "first" || rec.messages[1].Payload != "second" {
		t.Fatalf("messages = %+v", rec.messages)
	}
}

func TestServerRoleHangUp(t *testing.T) {
	testCases := []struct {
		name    string
		request string
	}{
		{"bare bye without length", "GET /BYE HTTP/1.1\r\nHost: gw\r\n\r\n"},
		{"framed bye request", "POST /BYE HTTP/1.1\r\nContent-Length: 0\r\n\r\n"},
		{"offer carrying the bye payload", "POST /OFFER HTTP/1.1\r\nContent-Length: 3\r\n\r\nBYE"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c, rec := newTestClient(t)
			addr := listenLoopback(t, c)
			dialPeer(t, addr, tc.request)

			drive(t, c, func() bool { return len(rec.gone) == 1 })
			if rec.gone[0] != protocol.SentinelPeerID {
				t.Fatalf("gone = %v, want the sentinel", rec.gone)
			}
			if len(rec.messages) != 0 {
				t.Fatalf("BYE delivered as a message: %+v", rec.messages)
			}
		})
	}
}

func TestServerRoleRejectsOtherRequests(t *testing.T) {
	c, rec := newTestClient(t)
	addr := listenLoopback(t, c)

	dialPeer(t, addr, "POST /ANSWER HTTP/1.1\r\nContent-Length: 2\r\n\r\nhi")
	drive(t, c, func() bool { return !c.accepted.closed() })
	settle(c, 100*time.Millisecond)

	if len(rec.messages) != 0 || len(rec.gone) != 0 {
		t.Fatalf("unexpected events: messages=%v gone=%v", rec.messages, rec.gone)
	}
}

func TestListenTwice(t *testing.T) {
	c, _ := newTestClient(t)
	listenLoopback(t, c)

	if err := c.Listen("127.0.0.1", 0); err != ErrAlreadyListening {
		t.Fatalf("second Listen = %v, want ErrAlreadyListening", err)
	}
}
