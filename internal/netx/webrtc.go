package netx

import (
	"context"
	"log"
	"sync"

	"github.com/pion/webrtc/v3"
)

// DataChannel adapts a *webrtc.DataChannel to the Channel interface. Outbound
// backpressure uses the buffered-amount low threshold: Send parks while the
// channel holds more than highWater unsent bytes and resumes on the drain
// signal.
type DataChannel struct {
	dc        *webrtc.DataChannel
	highWater uint64

	frames  chan []byte
	done    chan struct{}
	drained chan struct{}
	once    sync.Once
}

func NewDataChannel(dc *webrtc.DataChannel, highWater int) *DataChannel {
	c := &DataChannel{
		dc:        dc,
		highWater: uint64(highWater),
		frames:    make(chan []byte, 1024),
		done:      make(chan struct{}),
		drained:   make(chan struct{}, 1),
	}

	dc.SetBufferedAmountLowThreshold(c.highWater / 2)
	dc.OnBufferedAmountLow(func() {
		select {
		case c.drained <- struct{}{}:
		default:
		}
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		select {
		case c.frames <- msg.Data:
		case <-c.done:
		}
	})
	dc.OnClose(func() { c.markClosed() })
	dc.OnError(func(err error) {
		log.Printf("netx: data channel %q error: %v", dc.Label(), err)
		c.markClosed()
	})
	return c
}

func (c *DataChannel) markClosed() {
	c.once.Do(func() { close(c.done) })
}

func (c *DataChannel) Send(ctx context.Context, frame []byte) error {
	for c.dc.BufferedAmount() > c.highWater {
		select {
		case <-c.drained:
		case <-c.done:
			return ErrChannelClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	select {
	case <-c.done:
		return ErrChannelClosed
	default:
	}
	if err := c.dc.Send(frame); err != nil {
		c.markClosed()
		return ErrChannelClosed
	}
	return nil
}

func (c *DataChannel) Frames() <-chan []byte { return c.frames }
func (c *DataChannel) Done() <-chan struct{} { return c.done }

func (c *DataChannel) Close() error {
	c.markClosed()
	return c.dc.Close()
}
