package signaling

import (
	"errors"
	"syscall"
)

var (
	// ErrNoPeer is returned when a message is addressed to no peer.
	ErrNoPeer = errors.New("no peer id assigned")

	// ErrSendFailed wraps the error of a failed queue drain.
	ErrSendFailed = errors.New("send to peer failed")

	ErrNotConnected     = errors.New("not signed in")
	ErrAlreadyConnected = errors.New("already connected")
	ErrEmptyServer      = errors.New("empty server address")
	ErrEmptyName        = errors.New("empty client name")
	ErrBusy             = errors.New("control socket in use")
	ErrAlreadyListening = errors.New("already listening")
)

// isRefused reports whether err is the connection-refused class of dial
// failure, the only one that is retried.
func isRefused(err error) bool {
	return err != nil && errors.Is(err, syscall.ECONNREFUSED)
}
