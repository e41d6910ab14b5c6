package signaling

// ConnectionState is the lifecycle of a rendezvous session.
type ConnectionState int

const (
	NotConnected ConnectionState = iota
	SigningIn
	Connected
	SigningOutWaiting // sign-out requested while the control socket was busy
	SigningOut
)

func (s ConnectionState) String() string {
	switch s {
	case NotConnected:
		return "not-connected"
	case SigningIn:
		return "signing-in"
	case Connected:
		return "connected"
	case SigningOutWaiting:
		return "signing-out-waiting"
	case SigningOut:
		return "signing-out"
	default:
		return "unknown"
	}
}
