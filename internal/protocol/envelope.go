package protocol

// EventEnvelope wraps a GameEvent with its origin and a per-origin sequence
// number. Sequence numbers from one origin are strictly increasing and gapless
// as appended locally; (Origin, Seq) identifies an envelope for dedup.
type EventEnvelope struct {
	Origin PeerID    `json:"origin"`
	Seq    uint64    `json:"seq"`
	Event  GameEvent `json:"event"`
}

// EnvelopeKey is the dedup identity of an envelope.
type EnvelopeKey struct {
	Origin PeerID
	Seq    uint64
}

func (e EventEnvelope) Key() EnvelopeKey { return EnvelopeKey{Origin: e.Origin, Seq: e.Seq} }

// Before is the merged-order tie-break: origin sequence first, then PeerID.
// It is a logical ordering for conflict resolution, not a wall-clock order,
// and is identical on every peer that has seen the same envelopes.
func (e EventEnvelope) Before(o EventEnvelope) bool {
	if e.Seq != o.Seq {
		return e.Seq < o.Seq
	}
	return e.Origin < o.Origin
}
