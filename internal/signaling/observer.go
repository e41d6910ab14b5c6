package signaling

// Observer receives session and peer events. All methods are invoked on the
// client's run-loop goroutine and may call back into the Client directly.
type Observer interface {
	OnSignedIn()
	OnDisconnected()
	OnPeerConnected(id int, name string)
	OnPeerDisconnected(id int)
	OnMessageFromPeer(id int, message string)
	OnMessageSent(err error)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) OnSignedIn()                   {}
func (NopObserver) OnDisconnected()               {}
func (NopObserver) OnPeerConnected(int, string)   {}
func (NopObserver) OnPeerDisconnected(int)        {}
func (NopObserver) OnMessageFromPeer(int, string) {}
func (NopObserver) OnMessageSent(error)           {}

// MultiObserver fans every event out to each observer in order.
type MultiObserver []Observer

func (m MultiObserver) OnSignedIn() {
	for _, o := range m {
		o.OnSignedIn()
	}
}

func (m MultiObserver) OnDisconnected() {
	for _, o := range m {
		o.OnDisconnected()
	}
}

func (m MultiObserver) OnPeerConnected(id int, name string) {
	for _, o := range m {
		o.OnPeerConnected(id, name)
	}
}

func (m MultiObserver) OnPeerDisconnected(id int) {
	for _, o := range m {
		o.OnPeerDisconnected(id)
	}
}

func (m MultiObserver) OnMessageFromPeer(id int, message string) {
	for _, o := range m {
		o.OnMessageFromPeer(id, message)
	}
}

func (m MultiObserver) OnMessageSent(err error) {
	for _, o := range m {
		o.OnMessageSent(err)
	}
}

var (
	_ Observer = NopObserver{}
	_ Observer = MultiObserver(nil)
)
