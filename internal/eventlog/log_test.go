package eventlog

import (
	"math/rand"
	"testing"

	"manhunt/internal/protocol"
)

func TestAppendLocalSequencesAreGapless(t *testing.T) {
	l := New("me")
	for want := uint64(1); want <= 5; want++ {
		env := l.AppendLocal(protocol.GameEnded())
		if env.Seq != want {
			t.Fatalf("AppendLocal seq = %d, want %d", env.Seq, want)
		}
		if env.Origin != "me" {
			t.Fatalf("AppendLocal origin = %s", env.Origin)
		}
		if !l.Merge(env) {
			t.Fatalf("merging own envelope rejected")
		}
	}
	if l.Len() != 5 {
		t.Fatalf("Len = %d, want 5", l.Len())
	}
}

func TestMergeIsIdempotent(t *testing.T) {
	l := New("me")
	env := protocol.EventEnvelope{Origin: "other", Seq: 3, Event: protocol.GameEnded()}

	if !l.Merge(env) {
		t.Fatalf("first merge rejected")
	}
	if l.Merge(env) {
		t.Fatalf("duplicate merge accepted")
	}
	if l.Len() != 1 {
		t.Fatalf("Len = %d after duplicate merge, want 1", l.Len())
	}
}

func TestMergedOrderDeterministicUnderArrivalOrder(t *testing.T) {
	peers := []protocol.PeerID{"alpha", "bravo", "charlie"}
	var envs []protocol.EventEnvelope
	for _, p := range peers {
		for seq := uint64(1); seq <= 10; seq++ {
			envs = append(envs, protocol.EventEnvelope{Origin: p, Seq: seq, Event: protocol.HiderCaught(p)})
		}
	}

	rng := rand.New(rand.NewSource(7))
	var logs []*Log
	for trial := 0; trial < 5; trial++ {
		shuffled := make([]protocol.EventEnvelope, len(envs))
		copy(shuffled, envs)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

		l := New("observer")
		for _, env := range shuffled {
			l.Merge(env)
		}
		logs = append(logs, l)
	}

	want := logs[0].Snapshot()
	for i, env := range want {
		if i > 0 && !want[i-1].Before(env) {
			t.Fatalf("merged order violates (seq, PeerID) at %d: %+v then %+v", i, want[i-1], env)
		}
	}
	for trial, l := range logs[1:] {
		got := l.Snapshot()
		if len(got) != len(want) {
			t.Fatalf("trial %d: length %d, want %d", trial+1, len(got), len(want))
		}
		for i := range got {
			if got[i].Key() != want[i].Key() {
				t.Fatalf("trial %d: position %d differs: %+v vs %+v", trial+1, i, got[i], want[i])
			}
		}
	}
}

func TestReplayIsRestartable(t *testing.T) {
	l := New("me")
	for i := 0; i < 4; i++ {
		l.Merge(l.AppendLocal(protocol.GameEnded()))
	}

	seq := l.Replay()
	for pass := 0; pass < 2; pass++ {
		n := 0
		last := uint64(0)
		for env := range seq {
			if env.Seq <= last {
				t.Fatalf("pass %d: replay out of order", pass)
			}
			last = env.Seq
			n++
		}
		if n != 4 {
			t.Fatalf("pass %d: replayed %d envelopes, want 4", pass, n)
		}
	}
}

func TestReplayEarlyStop(t *testing.T) {
	l := New("me")
	for i := 0; i < 10; i++ {
		l.Merge(l.AppendLocal(protocol.GameEnded()))
	}
	n := 0
	for range l.Replay() {
		n++
		if n == 3 {
			break
		}
	}
	if n != 3 {
		t.Fatalf("early stop consumed %d, want 3", n)
	}
}
