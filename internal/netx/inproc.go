package netx

import (
	"context"
	"sync"
)

// Inproc is a loopback channel pair. Handy for single-process demos and tests
// without sockets; the bounded buffers give the same backpressure shape as a
// real channel.

type Inproc struct {
	out  chan<- []byte
	in   <-chan []byte
	done chan struct{}
	once *sync.Once
}

// NewInprocPair returns two connected channel ends. Closing either end closes
// the pair.
func NewInprocPair() (*Inproc, *Inproc) {
	ab := make(chan []byte, 256)
	ba := make(chan []byte, 256)
	done := make(chan struct{})
	once := &sync.Once{}
	a := &Inproc{out: ab, in: ba, done: done, once: once}
	b := &Inproc{out: ba, in: ab, done: done, once: once}
	return a, b
}

func (c *Inproc) Send(ctx context.Context, frame []byte) error {
	// Copy so the caller may reuse its buffer.
	buf := make([]byte, len(frame))
	copy(buf, frame)
	select {
	case <-c.done:
		return ErrChannelClosed
	default:
	}
	select {
	case c.out <- buf:
		return nil
	case <-c.done:
		return ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Inproc) Frames() <-chan []byte  { return c.in }
func (c *Inproc) Done() <-chan struct{}  { return c.done }

func (c *Inproc) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}
