package protocol

import "testing"

func TestEnvelopeOrdering(t *testing.T) {
	a := EventEnvelope{Origin: "aaa", Seq: 1}
	b := EventEnvelope{Origin: "bbb", Seq: 1}
	c := EventEnvelope{Origin: "aaa", Seq: 2}

	if !a.Before(b) {
		t.Fatalf("same seq: expected lower PeerID first")
	}
	if b.Before(a) {
		t.Fatalf("ordering is not antisymmetric")
	}
	if !b.Before(c) {
		t.Fatalf("lower seq must precede regardless of PeerID")
	}
	if a.Before(a) {
		t.Fatalf("Before must be irreflexive")
	}
}

func TestSettingsValidate(t *testing.T) {
	s := DefaultSettings()
	s.PowerupLocations = nil
	if err := s.Validate(); err != ErrEmptyPowerupLocations {
		t.Fatalf("Validate = %v, want ErrEmptyPowerupLocations", err)
	}

	s.PowerupChance = 0
	if err := s.Validate(); err != nil {
		t.Fatalf("powerups disabled: Validate = %v, want nil", err)
	}

	s.PowerupChance = 25
	s.PowerupLocations = []Location{{Lat: 1, Long: 2}}
	if err := s.Validate(); err != nil {
		t.Fatalf("Validate = %v, want nil", err)
	}
}

func TestEnvelopeCodecRoundTrip(t *testing.T) {
	env := EventEnvelope{
		Origin: NewPeerID(),
		Seq:    7,
		Event:  PowerupSpawned("pu-1", Location{Lat: 51.5, Long: -0.1}),
	}
	b, err := EncodeEnvelope(env)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeEnvelope(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Origin != env.Origin || got.Seq != env.Seq {
		t.Fatalf("identity mismatch: got (%s,%d)", got.Origin, got.Seq)
	}
	if got.Event.Type != EvPowerupSpawned || got.Event.PowerupID != "pu-1" {
		t.Fatalf("event mismatch: %+v", got.Event)
	}
	if got.Event.Location == nil || got.Event.Location.Lat != 51.5 {
		t.Fatalf("location mismatch: %+v", got.Event.Location)
	}
}

func TestDecodeEnvelopeRejectsAnonymous(t *testing.T) {
	if _, err := DecodeEnvelope([]byte(`{"event":{"type":"GAME_ENDED"}}`)); err == nil {
		t.Fatalf("expected error for envelope without origin/seq")
	}
}

func TestRoomCodeValid(t *testing.T) {
	cases := []struct {
		code RoomCode
		ok   bool
	}{
		{"ABCD", true},
		{"abc123", true},
		{"AB", false},
		{"WAYTOOLONGCODE", false},
		{"AB CD", false},
		{"AB-CD", false},
	}
	for _, c := range cases {
		if got := c.code.Valid(); got != c.ok {
			t.Fatalf("Valid(%q) = %v, want %v", c.code, got, c.ok)
		}
	}
}

func TestSequence(t *testing.T) {
	var s Sequence
	if s.Next() != 1 || s.Next() != 2 {
		t.Fatalf("sequence must start at 1 and be gapless")
	}
	s.Observe(10)
	if s.Current() != 10 {
		t.Fatalf("Observe did not raise counter")
	}
	s.Observe(4)
	if s.Current() != 10 {
		t.Fatalf("Observe must never lower the counter")
	}
	if s.Next() != 11 {
		t.Fatalf("Next after Observe = %d, want 11", s.Current())
	}
}
