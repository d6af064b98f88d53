package eventlog

import (
	"iter"
	"sort"
	"sync"

	"manhunt/internal/protocol"
)

// Log is the append-only record of game events for one session: this peer's
// own envelopes in strictly increasing, gapless sequence order, plus every
// merged remote envelope, kept in the deterministic global order
// (origin sequence, then origin PeerID). Two logs that merged the same set of
// envelopes hold the same order regardless of arrival order.
type Log struct {
	origin protocol.PeerID
	seq    protocol.Sequence

	mu     sync.RWMutex
	merged []protocol.EventEnvelope
	seen   map[protocol.EnvelopeKey]struct{}
}

func New(origin protocol.PeerID) *Log {
	return &Log{
		origin: origin,
		merged: make([]protocol.EventEnvelope, 0, 64),
		seen:   make(map[protocol.EnvelopeKey]struct{}),
	}
}

func (l *Log) Origin() protocol.PeerID { return l.origin }

// AppendLocal assigns the next local sequence number and returns the envelope
// for broadcasting. The envelope reaches the merged view through the same
// intake path as remote ones: the broadcast loopback feeds it to the
// replication engine, which merges it. That keeps a single writer ordering
// local and remote envelopes.
func (l *Log) AppendLocal(ev protocol.GameEvent) protocol.EventEnvelope {
	return protocol.EventEnvelope{Origin: l.origin, Seq: l.seq.Next(), Event: ev}
}

// Merge inserts an envelope at its merged-order position. Idempotent: an
// envelope already merged under the same (origin, seq) is a no-op and Merge
// reports false.
func (l *Log) Merge(env protocol.EventEnvelope) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, dup := l.seen[env.Key()]; dup {
		return false
	}
	l.seen[env.Key()] = struct{}{}

	at := sort.Search(len(l.merged), func(i int) bool {
		return env.Before(l.merged[i])
	})
	l.merged = append(l.merged, protocol.EventEnvelope{})
	copy(l.merged[at+1:], l.merged[at:])
	l.merged[at] = env
	return true
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.merged)
}

// Replay yields the envelopes in merged order. The sequence is finite and
// restartable; it ranges over a snapshot, so merging while replaying is safe.
func (l *Log) Replay() iter.Seq[protocol.EventEnvelope] {
	return func(yield func(protocol.EventEnvelope) bool) {
		for _, env := range l.Snapshot() {
			if !yield(env) {
				return
			}
		}
	}
}

// Snapshot copies the merged order. Used for replay and for the final history
// handoff at game end.
func (l *Log) Snapshot() []protocol.EventEnvelope {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]protocol.EventEnvelope, len(l.merged))
	copy(out, l.merged)
	return out
}
