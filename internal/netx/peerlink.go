package netx

import (
	"context"
	"sync"

	"manhunt/internal/framer"
	"manhunt/internal/protocol"
	"manhunt/internal/telemetry"
)

// PeerLink binds one Framer to one raw channel to a specific peer. It owns
// both exclusively: nothing else reads the channel or touches the reassembly
// buffers.
type PeerLink struct {
	peer     protocol.PeerID
	ch       Channel
	maxChunk int

	msgs   chan []byte
	closed chan struct{}
	once   sync.Once
}

func NewPeerLink(peer protocol.PeerID, ch Channel, maxChunk int) *PeerLink {
	l := &PeerLink{
		peer:     peer,
		ch:       ch,
		maxChunk: maxChunk,
		msgs:     make(chan []byte, 64),
		closed:   make(chan struct{}),
	}
	telemetry.PeersConnected.Inc()
	go l.readLoop()
	return l
}

func (l *PeerLink) Peer() protocol.PeerID { return l.peer }

// Send frames one logical message and writes every chunk, blocking under
// channel backpressure. A failed or cancelled send never surfaces a partial
// message on the receive side: the remote framer only emits complete
// reassemblies and discards partials when the channel closes.
func (l *PeerLink) Send(ctx context.Context, payload []byte) error {
	select {
	case <-l.closed:
		return ErrChannelClosed
	default:
	}
	frames, err := framer.Split(protocol.NewMessageID(), payload, l.maxChunk)
	if err != nil {
		return err
	}
	for _, frame := range frames {
		if err := l.ch.Send(ctx, frame); err != nil {
			return err
		}
		telemetry.ChunksSent.Inc()
	}
	return nil
}

// Messages yields inbound logical messages until the channel closes, then
// terminates by closing the stream rather than reporting an error.
func (l *PeerLink) Messages() <-chan []byte { return l.msgs }

// Closed is closed once the link is torn down or the channel dropped.
func (l *PeerLink) Closed() <-chan struct{} { return l.closed }

// Close aborts in-flight sends and receives promptly and releases the framer
// buffers. Safe to call concurrently and more than once.
func (l *PeerLink) Close() {
	l.once.Do(func() {
		close(l.closed)
		_ = l.ch.Close()
		telemetry.PeersConnected.Dec()
	})
}

func (l *PeerLink) readLoop() {
	re := framer.NewReassembler()
	defer func() {
		// Partial buffers must not outlive the channel.
		re.DropSender(l.peer)
		close(l.msgs)
		l.Close()
	}()

	for {
		var first []byte
		select {
		case first = <-l.ch.Frames():
		case <-l.ch.Done():
			return
		case <-l.closed:
			return
		}

		// Drain whatever arrived alongside and reassemble the batch in one
		// pass. Within-batch order is preserved; the channel is ordered.
		burst := [][]byte{first}
	drain:
		for len(burst) < 128 {
			select {
			case frame := <-l.ch.Frames():
				burst = append(burst, frame)
			default:
				break drain
			}
		}
		telemetry.ChunksReceived.Add(float64(len(burst)))

		msgs, dropped := re.ConsumeBurst(l.peer, burst)
		if dropped > 0 {
			telemetry.ChunksDropped.Add(float64(dropped))
		}
		for _, msg := range msgs {
			select {
			case l.msgs <- msg:
			case <-l.closed:
				return
			}
		}
	}
}
