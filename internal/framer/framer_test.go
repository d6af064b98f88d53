package framer

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math/rand"
	"testing"

	"manhunt/internal/protocol"
)

const testMaxChunk = 1024

func roundTrip(t *testing.T, payload []byte) []byte {
	t.Helper()
	frames, err := Split(protocol.NewMessageID(), payload, testMaxChunk)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	for i, f := range frames {
		if len(f) > testMaxChunk {
			t.Fatalf("frame %d is %d bytes, exceeds max %d", i, len(f), testMaxChunk)
		}
	}
	r := NewReassembler()
	var out []byte
	done := false
	for _, f := range frames {
		msg, err := r.Consume("peer", f)
		if err != nil {
			t.Fatalf("Consume: %v", err)
		}
		if msg != nil {
			if done {
				t.Fatalf("message emitted twice")
			}
			done = true
			out = msg
		}
	}
	if !done {
		t.Fatalf("message never completed (%d frames)", len(frames))
	}
	return out
}

func TestRoundTripSizes(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	sizes := []int{0, 1, 100, testMaxChunk - 1, testMaxChunk, testMaxChunk + 1, testMaxChunk*5 + 35}
	for _, n := range sizes {
		payload := make([]byte, n)
		rng.Read(payload)
		got := roundTrip(t, payload)
		if !bytes.Equal(got, payload) {
			t.Fatalf("size %d: reassembled bytes differ", n)
		}
	}
}

func TestMultipartChunkCount(t *testing.T) {
	payload := make([]byte, testMaxChunk*3)
	frames, err := Split(protocol.NewMessageID(), payload, testMaxChunk)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(frames) < 4 {
		t.Fatalf("expected ≥4 frames for 3x max payload with header overhead, got %d", len(frames))
	}
}

func TestMalformedChunksDropped(t *testing.T) {
	mk := func(index, count uint32) []byte {
		id := "m1"
		var buf bytes.Buffer
		buf.WriteByte(byte(len(id)))
		buf.WriteString(id)
		binary.Write(&buf, binary.BigEndian, index)
		binary.Write(&buf, binary.BigEndian, count)
		buf.WriteString("data")
		return buf.Bytes()
	}

	r := NewReassembler()
	cases := [][]byte{
		mk(0, 0),        // zero count
		mk(5, 3),        // index >= count
		{},              // empty frame
		{9, 'x'},        // shorter than declared header
	}
	for i, raw := range cases {
		if _, err := r.Consume("peer", raw); !errors.Is(err, ErrMalformedChunk) {
			t.Fatalf("case %d: err = %v, want ErrMalformedChunk", i, err)
		}
	}
	if r.Pending() != 0 {
		t.Fatalf("malformed frames must not leave partial buffers")
	}
}

func TestConsumeBurstSkipsBadFrames(t *testing.T) {
	payload := bytes.Repeat([]byte{0xAB}, testMaxChunk*2)
	frames, err := Split("burst-msg", payload, testMaxChunk)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	// Sprinkle garbage between valid frames.
	batch := [][]byte{{0}}
	for _, f := range frames {
		batch = append(batch, f, []byte{1, 'z'})
	}

	r := NewReassembler()
	msgs, dropped := r.ConsumeBurst("peer", batch)
	if len(msgs) != 1 {
		t.Fatalf("burst produced %d messages, want 1", len(msgs))
	}
	if want := len(batch) - len(frames); dropped != want {
		t.Fatalf("burst dropped %d frames, want %d", dropped, want)
	}
	if !bytes.Equal(msgs[0], payload) {
		t.Fatalf("burst-reassembled bytes differ")
	}
}

func TestDropSenderDiscardsPartials(t *testing.T) {
	payload := make([]byte, testMaxChunk*2)
	frames, err := Split("partial-msg", payload, testMaxChunk)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}

	r := NewReassembler()
	if _, err := r.Consume("gone", frames[0]); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if r.Pending() != 1 {
		t.Fatalf("expected one buffered partial")
	}
	r.DropSender("gone")
	if r.Pending() != 0 {
		t.Fatalf("DropSender left %d partials buffered", r.Pending())
	}
}

func TestCountChangeMidMessageResetsPartial(t *testing.T) {
	payload := make([]byte, testMaxChunk*2)
	frames, err := Split("m2", payload, testMaxChunk)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	r := NewReassembler()
	if _, err := r.Consume("peer", frames[0]); err != nil {
		t.Fatalf("Consume: %v", err)
	}

	forged, err := EncodeChunk(Chunk{MessageID: "m2", Index: 0, Count: 99, Payload: []byte("x")})
	if err != nil {
		t.Fatalf("EncodeChunk: %v", err)
	}
	if _, err := r.Consume("peer", forged); !errors.Is(err, ErrMalformedChunk) {
		t.Fatalf("err = %v, want ErrMalformedChunk", err)
	}
	if r.Pending() != 0 {
		t.Fatalf("conflicting count must discard the partial")
	}
}

func TestDuplicateChunkIgnored(t *testing.T) {
	payload := make([]byte, testMaxChunk+10)
	frames, err := Split("m3", payload, testMaxChunk)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	r := NewReassembler()
	if _, err := r.Consume("peer", frames[0]); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if _, err := r.Consume("peer", frames[0]); err != nil {
		t.Fatalf("duplicate chunk must be absorbed, got %v", err)
	}
	msg, err := r.Consume("peer", frames[1])
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if !bytes.Equal(msg, payload) {
		t.Fatalf("reassembled bytes differ after duplicate chunk")
	}
}
