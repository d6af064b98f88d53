package game

import (
	"iter"

	"manhunt/internal/protocol"
)

// Powerup is the currently grabbable item on the map. At most one exists.
type Powerup struct {
	ID  string
	Loc protocol.Location
}

// HeldPowerup is a grabbed, not yet activated powerup in a player's pocket.
type HeldPowerup struct {
	ID   string
	Kind protocol.PowerupKind
}

// ForcePingDemand is an outstanding demand that a player publish its
// location. Key identifies the demanding envelope so the target answers each
// demand exactly once.
type ForcePingDemand struct {
	DisplayAs protocol.PeerID
	Key       protocol.EnvelopeKey
}

// State is derived by folding the merged event log from scratch. It is never
// mutated in place by callers; the replication engine recomputes it after
// each accepted envelope, so every peer that has seen the same envelopes
// holds an identical value.
type State struct {
	Started bool
	Ended   bool

	Settings protocol.GameSettings

	// Roster of everyone who ever joined. Departed peers stay listed so
	// their history remains attributable.
	Profiles map[protocol.PeerID]protocol.PlayerProfile
	Departed map[protocol.PeerID]bool

	// Caught doubles as the team map the way the original seeker/hider flag
	// works: seekers start caught, a caught hider becomes a seeker. The game
	// is over when every entry is true.
	Caught map[protocol.PeerID]bool

	// Pings holds the latest ping displayed per player; LastPing is the most
	// recent ping overall. ForcePings are demands not yet answered by their
	// target, cleared by the target's next ping.
	Pings      map[protocol.PeerID]protocol.PlayerPing
	LastPing   *protocol.PlayerPing
	ForcePings map[protocol.PeerID]ForcePingDemand

	// Available is the unclaimed spawned powerup, if any. GrabbedBy records
	// the merged-order winner per powerup id; Held maps holders to what they
	// carry.
	Available  *Powerup
	GrabbedBy  map[string]protocol.PeerID
	Held       map[protocol.PeerID]HeldPowerup
	SpawnCount int

	// CaughtDuringGame counts HiderCaught events folded; the Players(n)
	// start condition reads it.
	CaughtDuringGame int
}

func newState() State {
	return State{
		Profiles:   make(map[protocol.PeerID]protocol.PlayerProfile),
		Departed:   make(map[protocol.PeerID]bool),
		Caught:     make(map[protocol.PeerID]bool),
		Pings:      make(map[protocol.PeerID]protocol.PlayerPing),
		ForcePings: make(map[protocol.PeerID]ForcePingDemand),
		GrabbedBy:  make(map[string]protocol.PeerID),
		Held:       make(map[protocol.PeerID]HeldPowerup),
	}
}

// Derive folds a merged-order replay into a fresh State.
func Derive(replay iter.Seq[protocol.EventEnvelope]) State {
	s := newState()
	for env := range replay {
		s.apply(env)
	}
	return s
}

func (s *State) apply(env protocol.EventEnvelope) {
	ev := env.Event
	switch ev.Type {
	case protocol.EvPlayerJoined:
		if ev.Profile != nil {
			s.Profiles[ev.Player] = *ev.Profile
		} else {
			s.Profiles[ev.Player] = protocol.PlayerProfile{}
		}
		if _, ok := s.Caught[ev.Player]; !ok {
			s.Caught[ev.Player] = false
		}
		delete(s.Departed, ev.Player)

	case protocol.EvPlayerLeft:
		// Historical events stay; the caught entry is retained so the rest
		// of the game keeps a consistent view of the roster.
		s.Departed[ev.Player] = true
		delete(s.Pings, ev.Player)
		if !s.Started {
			delete(s.Caught, ev.Player)
		}

	case protocol.EvTeamSwitched:
		if !s.Started {
			s.Caught[ev.Player] = ev.Seeker
		}

	case protocol.EvSettingsChanged:
		if !s.Started && ev.Settings != nil {
			s.Settings = *ev.Settings
		}

	case protocol.EvGameStarted:
		if s.Started || ev.Start == nil {
			return
		}
		s.Started = true
		s.Settings = ev.Start.Settings
		for p, seeker := range ev.Start.Seekers {
			s.Caught[p] = seeker
		}

	case protocol.EvHiderCaught:
		if already := s.Caught[ev.Player]; already {
			return
		}
		s.Caught[ev.Player] = true
		s.CaughtDuringGame++
		delete(s.Pings, ev.Player)
		delete(s.Held, ev.Player)

	case protocol.EvPingFired:
		if ev.Ping == nil {
			return
		}
		ping := *ev.Ping
		s.Pings[ping.DisplayPlayer] = ping
		s.LastPing = &ping
		delete(s.ForcePings, ping.RealPlayer)

	case protocol.EvForcePing:
		// The targeted peer answers with a PingFired, which clears the
		// demand. Only the latest demand per target is kept.
		s.ForcePings[ev.Player] = ForcePingDemand{DisplayAs: ev.DisplayAs, Key: env.Key()}

	case protocol.EvPowerupSpawned:
		if ev.Location == nil {
			return
		}
		if _, spawned := s.GrabbedBy[ev.PowerupID]; spawned {
			return
		}
		s.GrabbedBy[ev.PowerupID] = "" // spawned, unclaimed
		s.Available = &Powerup{ID: ev.PowerupID, Loc: *ev.Location}
		s.SpawnCount++

	case protocol.EvPowerupGrabbed:
		winner, spawned := s.GrabbedBy[ev.PowerupID]
		if !spawned || winner != "" {
			// Unknown id, or a later grab in merged order: kept in the log
			// for replay fidelity, a no-op for derived state.
			return
		}
		s.GrabbedBy[ev.PowerupID] = ev.Player
		s.Held[ev.Player] = HeldPowerup{ID: ev.PowerupID, Kind: KindFor(s.Settings.RandomSeed, ev.PowerupID)}
		if s.Available != nil && s.Available.ID == ev.PowerupID {
			s.Available = nil
		}

	case protocol.EvPowerupActivated:
		if held, ok := s.Held[ev.Player]; ok && held.ID == ev.PowerupID {
			delete(s.Held, ev.Player)
		}

	case protocol.EvGameEnded:
		s.Ended = true
	}
}

// Clone deep-copies the state so published snapshots never share maps with
// the engine's working copy.
func (s State) Clone() State {
	out := s
	out.Profiles = make(map[protocol.PeerID]protocol.PlayerProfile, len(s.Profiles))
	for k, v := range s.Profiles {
		out.Profiles[k] = v
	}
	out.Departed = make(map[protocol.PeerID]bool, len(s.Departed))
	for k, v := range s.Departed {
		out.Departed[k] = v
	}
	out.Caught = make(map[protocol.PeerID]bool, len(s.Caught))
	for k, v := range s.Caught {
		out.Caught[k] = v
	}
	out.Pings = make(map[protocol.PeerID]protocol.PlayerPing, len(s.Pings))
	for k, v := range s.Pings {
		out.Pings[k] = v
	}
	out.ForcePings = make(map[protocol.PeerID]ForcePingDemand, len(s.ForcePings))
	for k, v := range s.ForcePings {
		out.ForcePings[k] = v
	}
	out.GrabbedBy = make(map[string]protocol.PeerID, len(s.GrabbedBy))
	for k, v := range s.GrabbedBy {
		out.GrabbedBy[k] = v
	}
	out.Held = make(map[protocol.PeerID]HeldPowerup, len(s.Held))
	for k, v := range s.Held {
		out.Held[k] = v
	}
	if s.LastPing != nil {
		ping := *s.LastPing
		out.LastPing = &ping
	}
	if s.Available != nil {
		pu := *s.Available
		out.Available = &pu
	}
	return out
}

// Holder reports who won the grab for a powerup id, if anyone has.
func (s *State) Holder(powerupID string) (protocol.PeerID, bool) {
	p, ok := s.GrabbedBy[powerupID]
	if !ok || p == "" {
		return "", false
	}
	return p, true
}

// AllHidersCaught is true once every roster entry is caught. Only meaningful
// after the game started.
func (s *State) AllHidersCaught() bool {
	if !s.Started || len(s.Caught) == 0 {
		return false
	}
	for _, caught := range s.Caught {
		if !caught {
			return false
		}
	}
	return true
}

// GameOver is the Seeking→Ended condition: every hider caught, or an explicit
// GameEnded observed.
func (s *State) GameOver() bool { return s.Ended || s.AllHidersCaught() }

// Seekers lists everyone currently seeking (initial seekers plus caught
// hiders), excluding departed peers.
func (s *State) Seekers() []protocol.PeerID {
	return s.byCaught(true)
}

// ActiveHiders lists hiders still in play.
func (s *State) ActiveHiders() []protocol.PeerID {
	return s.byCaught(false)
}

func (s *State) byCaught(caught bool) []protocol.PeerID {
	var out []protocol.PeerID
	for p, c := range s.Caught {
		if c == caught && !s.Departed[p] {
			out = append(out, p)
		}
	}
	return out
}
