package framer

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"log"

	"manhunt/internal/protocol"
)

// Chunk wire layout, big-endian:
//
//	[u8 id length][message id][u32 chunk index][u32 chunk count][payload]
//
// A logical message is split into count chunks; chunks of one message share a
// message id unique among the sender's in-flight messages.

// ErrMalformedChunk marks a chunk that cannot be decoded or whose header is
// inconsistent. Malformed chunks are dropped, never fatal.
var ErrMalformedChunk = errors.New("malformed chunk")

const headerOverhead = 1 + 4 + 4

type Chunk struct {
	MessageID string
	Index     uint32
	Count     uint32
	Payload   []byte
}

func EncodeChunk(c Chunk) ([]byte, error) {
	if len(c.MessageID) == 0 || len(c.MessageID) > 255 {
		return nil, fmt.Errorf("%w: message id length %d", ErrMalformedChunk, len(c.MessageID))
	}
	var buf bytes.Buffer
	buf.WriteByte(byte(len(c.MessageID)))
	buf.WriteString(c.MessageID)
	if err := binary.Write(&buf, binary.BigEndian, c.Index); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, c.Count); err != nil {
		return nil, err
	}
	buf.Write(c.Payload)
	return buf.Bytes(), nil
}

func DecodeChunk(b []byte) (Chunk, error) {
	var c Chunk
	if len(b) < 1 {
		return c, fmt.Errorf("%w: empty frame", ErrMalformedChunk)
	}
	idLen := int(b[0])
	if idLen == 0 || len(b) < 1+idLen+8 {
		return c, fmt.Errorf("%w: frame shorter than header", ErrMalformedChunk)
	}
	c.MessageID = string(b[1 : 1+idLen])
	c.Index = binary.BigEndian.Uint32(b[1+idLen:])
	c.Count = binary.BigEndian.Uint32(b[1+idLen+4:])
	c.Payload = b[1+idLen+8:]
	if c.Count == 0 {
		return c, fmt.Errorf("%w: zero chunk count", ErrMalformedChunk)
	}
	if c.Index >= c.Count {
		return c, fmt.Errorf("%w: index %d >= count %d", ErrMalformedChunk, c.Index, c.Count)
	}
	return c, nil
}

// Split frames payload into encoded chunks, each no larger than maxChunk.
// Empty payloads produce a single empty chunk so zero-byte messages round-trip.
func Split(messageID string, payload []byte, maxChunk int) ([][]byte, error) {
	budget := maxChunk - headerOverhead - len(messageID)
	if budget <= 0 {
		return nil, fmt.Errorf("max chunk size %d leaves no payload room", maxChunk)
	}
	count := (len(payload) + budget - 1) / budget
	if count == 0 {
		count = 1
	}
	frames := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		lo := i * budget
		hi := min(lo+budget, len(payload))
		frame, err := EncodeChunk(Chunk{
			MessageID: messageID,
			Index:     uint32(i),
			Count:     uint32(count),
			Payload:   payload[lo:hi],
		})
		if err != nil {
			return nil, err
		}
		frames = append(frames, frame)
	}
	return frames, nil
}

type partialKey struct {
	sender    protocol.PeerID
	messageID string
}

type partial struct {
	count    uint32
	received uint32
	parts    [][]byte
}

// Reassembler buffers incomplete messages keyed by (sender, message id) and
// emits each logical message once all of its chunks are present.
type Reassembler struct {
	partials map[partialKey]*partial
}

func NewReassembler() *Reassembler {
	return &Reassembler{partials: make(map[partialKey]*partial)}
}

// Consume processes one raw frame from sender. It returns the assembled
// logical message when the frame completes one, nil while a message is still
// partial, and ErrMalformedChunk for frames it dropped.
func (r *Reassembler) Consume(sender protocol.PeerID, raw []byte) ([]byte, error) {
	c, err := DecodeChunk(raw)
	if err != nil {
		return nil, err
	}

	if c.Count == 1 {
		// Single-chunk fast path; also clears any stale partial under the
		// same id from a sender reusing ids after reconnect.
		delete(r.partials, partialKey{sender, c.MessageID})
		return c.Payload, nil
	}

	key := partialKey{sender, c.MessageID}
	p, ok := r.partials[key]
	if !ok {
		p = &partial{count: c.Count, parts: make([][]byte, c.Count)}
		r.partials[key] = p
	}
	if p.count != c.Count {
		// The sequence can no longer be trusted; discard it whole.
		delete(r.partials, key)
		return nil, fmt.Errorf("%w: count changed mid-message (%d -> %d)", ErrMalformedChunk, p.count, c.Count)
	}
	if p.parts[c.Index] == nil {
		p.parts[c.Index] = c.Payload
		p.received++
	}
	if p.received < p.count {
		return nil, nil
	}

	delete(r.partials, key)
	var msg bytes.Buffer
	for _, part := range p.parts {
		msg.Write(part)
	}
	return msg.Bytes(), nil
}

// ConsumeBurst processes a batch of frames that arrived together in one pass,
// returning every logical message completed by the batch plus the number of
// frames dropped. Malformed frames are dropped and logged; they never abort
// the rest of the burst.
func (r *Reassembler) ConsumeBurst(sender protocol.PeerID, frames [][]byte) ([][]byte, int) {
	var msgs [][]byte
	dropped := 0
	for _, raw := range frames {
		msg, err := r.Consume(sender, raw)
		if err != nil {
			dropped++
			log.Printf("framer: dropping chunk from %s: %v", sender, err)
			continue
		}
		if msg != nil {
			msgs = append(msgs, msg)
		}
	}
	return msgs, dropped
}

// DropSender discards all partial buffers for a sender. Called when that
// sender's channel closes so nothing leaks.
func (r *Reassembler) DropSender(sender protocol.PeerID) {
	for key := range r.partials {
		if key.sender == sender {
			delete(r.partials, key)
		}
	}
}

// Pending reports how many partial messages are buffered.
func (r *Reassembler) Pending() int { return len(r.partials) }
