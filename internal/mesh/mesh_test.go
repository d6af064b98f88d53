package mesh

import (
	"context"
	"testing"
	"time"

	"manhunt/internal/netx"
	"manhunt/internal/protocol"
	"manhunt/pkg/types"
)

func testConfig() types.Config {
	cfg := types.DefaultConfig()
	cfg.BroadcastTimeout = 500 * time.Millisecond
	return cfg
}

// pair wires two meshes together over an in-proc channel.
func pair(t *testing.T) (*Mesh, *Mesh) {
	t.Helper()
	idA, idB := protocol.NewPeerID(), protocol.NewPeerID()
	ma := New(idA, testConfig())
	mb := New(idB, testConfig())
	ca, cb := netx.NewInprocPair()
	ma.AddPeer(idB, ca)
	mb.AddPeer(idA, cb)
	t.Cleanup(func() { ma.Close(); mb.Close() })
	return ma, mb
}

func recvEnvelope(t *testing.T, m *Mesh, from protocol.PeerID) protocol.EventEnvelope {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case in := <-m.Inbound():
			if in.From == from {
				return in.Envelope
			}
		case <-deadline:
			t.Fatalf("no envelope from %s", from)
		}
	}
}

func drainJoin(t *testing.T, m *Mesh) {
	t.Helper()
	select {
	case n := <-m.Notices():
		if n.Kind != PeerJoined {
			t.Fatalf("first notice = %s, want joined", n.Kind)
		}
	case <-time.After(time.Second):
		t.Fatalf("no join notice")
	}
}

func TestBroadcastReachesPeerAndLocalIntake(t *testing.T) {
	ma, mb := pair(t)
	drainJoin(t, ma)
	drainJoin(t, mb)

	env := protocol.EventEnvelope{Origin: ma.Self(), Seq: 1, Event: protocol.GameEnded()}
	if err := ma.Broadcast(context.Background(), env); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}

	// Local loopback copy.
	local := recvEnvelope(t, ma, ma.Self())
	if local.Key() != env.Key() {
		t.Fatalf("loopback envelope mismatch: %+v", local)
	}
	// Remote delivery, attributed to the sending link.
	remote := recvEnvelope(t, mb, ma.Self())
	if remote.Key() != env.Key() || remote.Event.Type != protocol.EvGameEnded {
		t.Fatalf("remote envelope mismatch: %+v", remote)
	}
}

func TestPeerCloseRaisesDepartedNotice(t *testing.T) {
	ma, mb := pair(t)
	drainJoin(t, ma)
	drainJoin(t, mb)

	mb.Close()

	select {
	case n := <-ma.Notices():
		if n.Kind != PeerDeparted || n.Peer != mb.Self() {
			t.Fatalf("notice = %+v, want departed %s", n, mb.Self())
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no departed notice")
	}

	found := false
	for _, p := range ma.Peers() {
		if p.ID == mb.Self() {
			found = true
			if p.Status != StatusDeparted {
				t.Fatalf("peer status = %s, want departed", p.Status)
			}
		}
	}
	if !found {
		t.Fatalf("departed peer dropped from membership")
	}
}

func TestBroadcastSurvivesDeadPeer(t *testing.T) {
	idA := protocol.NewPeerID()
	ma := New(idA, testConfig())
	defer ma.Close()

	// Live peer.
	mb := New(protocol.NewPeerID(), testConfig())
	defer mb.Close()
	ca, cb := netx.NewInprocPair()
	ma.AddPeer(mb.Self(), ca)
	mb.AddPeer(idA, cb)

	// Dead peer: channel closed before the broadcast.
	deadID := protocol.NewPeerID()
	cd, cdRemote := netx.NewInprocPair()
	_ = cdRemote
	ma.AddPeer(deadID, cd)
	cd.Close()

	env := protocol.EventEnvelope{Origin: idA, Seq: 1, Event: protocol.HiderCaught(idA)}
	done := make(chan error, 1)
	go func() { done <- ma.Broadcast(context.Background(), env) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Broadcast: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("broadcast stalled on dead peer")
	}

	got := recvEnvelope(t, mb, idA)
	if got.Key() != env.Key() {
		t.Fatalf("live peer missed the broadcast")
	}
}
