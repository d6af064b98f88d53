package game

import (
	"math/rand"
	"testing"

	"manhunt/internal/eventlog"
	"manhunt/internal/protocol"
)

func started(seekers map[protocol.PeerID]bool, settings protocol.GameSettings) protocol.GameEvent {
	return protocol.GameStarted(protocol.StartInfo{Settings: settings, Seekers: seekers})
}

func TestFoldMinimalGame(t *testing.T) {
	seeker, hider := protocol.PeerID("s1"), protocol.PeerID("h1")
	l := eventlog.New(seeker)

	l.Merge(protocol.EventEnvelope{Origin: seeker, Seq: 1, Event: protocol.PlayerJoined(seeker, protocol.PlayerProfile{DisplayName: "s"})})
	l.Merge(protocol.EventEnvelope{Origin: hider, Seq: 1, Event: protocol.PlayerJoined(hider, protocol.PlayerProfile{DisplayName: "h"})})
	l.Merge(protocol.EventEnvelope{Origin: seeker, Seq: 2, Event: started(map[protocol.PeerID]bool{seeker: true, hider: false}, protocol.DefaultSettings())})

	st := Derive(l.Replay())
	if !st.Started || st.GameOver() {
		t.Fatalf("after start: started=%v over=%v", st.Started, st.GameOver())
	}
	if st.Caught[seeker] != true || st.Caught[hider] != false {
		t.Fatalf("initial teams wrong: %+v", st.Caught)
	}

	l.Merge(protocol.EventEnvelope{Origin: hider, Seq: 2, Event: protocol.HiderCaught(hider)})
	st = Derive(l.Replay())
	if !st.AllHidersCaught() || !st.GameOver() {
		t.Fatalf("all hiders caught must end the game")
	}
}

func TestFoldThreePeerCatchAll(t *testing.T) {
	s, h1, h2 := protocol.PeerID("s"), protocol.PeerID("h1"), protocol.PeerID("h2")
	l := eventlog.New(s)
	l.Merge(protocol.EventEnvelope{Origin: s, Seq: 1, Event: started(map[protocol.PeerID]bool{s: true, h1: false, h2: false}, protocol.DefaultSettings())})

	l.Merge(protocol.EventEnvelope{Origin: h1, Seq: 1, Event: protocol.HiderCaught(h1)})
	st := Derive(l.Replay())
	if st.GameOver() {
		t.Fatalf("game over with a hider still free")
	}

	l.Merge(protocol.EventEnvelope{Origin: h2, Seq: 1, Event: protocol.HiderCaught(h2)})
	st = Derive(l.Replay())
	if !st.GameOver() {
		t.Fatalf("both hiders caught: game must be over")
	}
	if st.CaughtDuringGame != 2 {
		t.Fatalf("CaughtDuringGame = %d, want 2", st.CaughtDuringGame)
	}
}

func TestGrabExclusivity(t *testing.T) {
	settings := protocol.DefaultSettings()
	settings.PowerupLocations = []protocol.Location{{Lat: 1, Long: 1}}
	host := protocol.PeerID("aaa-host")

	grabbers := []protocol.PeerID{"ccc", "bbb", "ddd", "eee"}
	base := []protocol.EventEnvelope{
		{Origin: host, Seq: 1, Event: started(map[protocol.PeerID]bool{host: true, "bbb": false, "ccc": false, "ddd": false, "eee": false}, settings)},
		{Origin: host, Seq: 2, Event: protocol.PowerupSpawned("pu-7", settings.PowerupLocations[0])},
	}
	// Same per-origin seq for every grab: the PeerID tie-break decides.
	var grabs []protocol.EventEnvelope
	for _, g := range grabbers {
		grabs = append(grabs, protocol.EventEnvelope{Origin: g, Seq: 5, Event: protocol.PowerupGrabbed("pu-7", g)})
	}

	rng := rand.New(rand.NewSource(3))
	for trial := 0; trial < 6; trial++ {
		shuffled := make([]protocol.EventEnvelope, len(grabs))
		copy(shuffled, grabs)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

		l := eventlog.New("observer")
		for _, env := range base {
			l.Merge(env)
		}
		for _, env := range shuffled {
			l.Merge(env)
		}

		st := Derive(l.Replay())
		winner, ok := st.Holder("pu-7")
		if !ok {
			t.Fatalf("trial %d: nobody holds the powerup", trial)
		}
		if winner != "bbb" {
			t.Fatalf("trial %d: winner = %s, want bbb (lowest PeerID at equal seq)", trial, winner)
		}
		if st.Available != nil {
			t.Fatalf("trial %d: powerup still shown available after grab", trial)
		}
		holders := 0
		for range st.Held {
			holders++
		}
		if holders != 1 {
			t.Fatalf("trial %d: %d holders, want exactly 1", trial, holders)
		}
	}
}

func TestGrabUnknownPowerupIsNoop(t *testing.T) {
	l := eventlog.New("me")
	l.Merge(protocol.EventEnvelope{Origin: "me", Seq: 1, Event: protocol.PowerupGrabbed("ghost", "me")})
	st := Derive(l.Replay())
	if _, ok := st.Holder("ghost"); ok {
		t.Fatalf("grab of unspawned powerup must not set a holder")
	}
}

func TestDepartedPeerRetainsCaughtEntryMidGame(t *testing.T) {
	s, h := protocol.PeerID("s"), protocol.PeerID("h")
	l := eventlog.New(s)
	l.Merge(protocol.EventEnvelope{Origin: s, Seq: 1, Event: started(map[protocol.PeerID]bool{s: true, h: false}, protocol.DefaultSettings())})
	l.Merge(protocol.EventEnvelope{Origin: s, Seq: 2, Event: protocol.PlayerLeft(h)})

	st := Derive(l.Replay())
	if !st.Departed[h] {
		t.Fatalf("peer not marked departed")
	}
	if _, ok := st.Caught[h]; !ok {
		t.Fatalf("mid-game departure must retain the caught entry")
	}
}

func TestPingFoldAndCaughtClearsPing(t *testing.T) {
	s, h := protocol.PeerID("s"), protocol.PeerID("h")
	l := eventlog.New(s)
	l.Merge(protocol.EventEnvelope{Origin: s, Seq: 1, Event: started(map[protocol.PeerID]bool{s: true, h: false}, protocol.DefaultSettings())})
	ping := protocol.PlayerPing{Loc: protocol.Location{Lat: 2, Long: 3}, DisplayPlayer: h, RealPlayer: h}
	l.Merge(protocol.EventEnvelope{Origin: h, Seq: 1, Event: protocol.PingFired(ping)})

	st := Derive(l.Replay())
	if got, ok := st.Pings[h]; !ok || got.Loc.Lat != 2 {
		t.Fatalf("ping not folded: %+v", st.Pings)
	}
	if st.LastPing == nil || st.LastPing.DisplayPlayer != h {
		t.Fatalf("LastPing not tracked")
	}

	l.Merge(protocol.EventEnvelope{Origin: h, Seq: 2, Event: protocol.HiderCaught(h)})
	st = Derive(l.Replay())
	if _, ok := st.Pings[h]; ok {
		t.Fatalf("caught player's ping must be cleared")
	}
}

func TestSettingsImmutableOnceStarted(t *testing.T) {
	host := protocol.PeerID("host")
	l := eventlog.New(host)
	committed := protocol.DefaultSettings()
	committed.HidingTimeSeconds = 45
	l.Merge(protocol.EventEnvelope{Origin: host, Seq: 1, Event: protocol.SettingsChanged(committed)})
	l.Merge(protocol.EventEnvelope{Origin: host, Seq: 2, Event: started(map[protocol.PeerID]bool{host: true}, committed)})

	late := committed
	late.HidingTimeSeconds = 999
	l.Merge(protocol.EventEnvelope{Origin: host, Seq: 3, Event: protocol.SettingsChanged(late)})

	st := Derive(l.Replay())
	if st.Settings.HidingTimeSeconds != 45 {
		t.Fatalf("settings mutated after start: %d", st.Settings.HidingTimeSeconds)
	}
}
