package protocol

import "fmt"

// SignInRequest announces name to the rendezvous service.
func SignInRequest(name string) []byte {
	return fmt.Appendf(nil, "GET /sign_in?%s HTTP/1.0\r\n\r\n", name)
}

// WaitRequest opens a hanging get for notifications addressed to id.
func WaitRequest(id int) []byte {
	return fmt.Appendf(nil, "GET /wait?peer_id=%d HTTP/1.0\r\n\r\n", id)
}

// SignOutRequest removes id from the rendezvous service.
func SignOutRequest(id int) []byte {
	return fmt.Appendf(nil, "GET /sign_out?peer_id=%d HTTP/1.0\r\n\r\n", id)
}

// MessageRequest relays payload from one peer to another through the
// rendezvous service.
func MessageRequest(from, to int, payload string) []byte {
	b := fmt.Appendf(nil,
		"POST /message?peer_id=%d&to=%d HTTP/1.0\r\n"+
			"Content-Length: %d\r\n"+
			"Content-Type: text/plain\r\n"+
			"\r\n",
		from, to, len(payload))
	return append(b, payload...)
}

// Reply is the response the server role writes to an accepted peer.
func Reply(payload string) []byte {
	b := fmt.Appendf(nil,
		"HTTP/1.1 200 OK\r\n"+
			"Server: RTC_GW/0.1\r\n"+
			"Cache-Control: no-cache\r\n"+
			"Content-Length: %d\r\n"+
			"Content-Type: text/plain\r\n"+
			"\r\n",
		len(payload))
	return append(b, payload...)
}
