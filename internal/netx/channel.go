package netx

import (
	"context"
	"errors"
)

// ErrChannelClosed reports a peer channel that is no longer open. It is
// peer-local and never fatal to the session; the owner demotes the peer to
// departed and the game continues.
var ErrChannelClosed = errors.New("channel closed")

// Channel is one ordered, reliable, size-limited bidirectional byte channel
// to a single remote peer. Implementations: the WebRTC DataChannel adapter
// and the in-process loopback used by tests and single-process demos.
type Channel interface {
	// Send writes one frame. It blocks while the outbound buffered bytes sit
	// above the high-water mark and fails with ErrChannelClosed once the
	// channel is down.
	Send(ctx context.Context, frame []byte) error
	// Frames yields inbound frames in the order the remote sent them.
	Frames() <-chan []byte
	// Done is closed when the channel closes, whichever side initiated it.
	Done() <-chan struct{}
	Close() error
}
