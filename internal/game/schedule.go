package game

import (
	"hash/fnv"
	"math/rand"
	"strconv"
	"time"

	"manhunt/internal/protocol"
)

// Schedule derives ping and powerup timing from the shared seed and the
// derived state, never from per-peer randomness. Every peer computes the same
// decisions for the same tick; only the tick clock itself is local (each peer
// times from its own receipt of GameStarted, small skew tolerated).
type Schedule struct {
	settings protocol.GameSettings
}

func NewSchedule(s protocol.GameSettings) Schedule { return Schedule{settings: s} }

func minutes(d time.Duration) uint64 {
	if d < 0 {
		return 0
	}
	return uint64(d / time.Minute)
}

func (sc Schedule) conditionMet(cond protocol.StartCondition, st *State, sinceSeeking time.Duration) bool {
	switch cond.Kind {
	case protocol.StartInstant:
		return true
	case protocol.StartPlayers:
		return uint32(st.CaughtDuringGame) >= cond.N
	case protocol.StartMinutes:
		return minutes(sinceSeeking) >= uint64(cond.N)
	default:
		return false
	}
}

// PingsStarted reports whether the ping start-condition has been met,
// measured from seeker release.
func (sc Schedule) PingsStarted(st *State, sinceSeeking time.Duration) bool {
	return sc.conditionMet(sc.settings.PingStart, st, sinceSeeking)
}

// PingDue reports whether a global ping should fire now. lastPingMinute is
// the minute index of the previous firing, -1 before the first.
func (sc Schedule) PingDue(st *State, sinceSeeking time.Duration, lastPingMinute int64) (bool, int64) {
	if !sc.PingsStarted(st, sinceSeeking) {
		return false, lastPingMinute
	}
	tick := int64(minutes(sinceSeeking))
	interval := int64(sc.settings.PingIntervalMinutes)
	if lastPingMinute >= 0 && tick-lastPingMinute < interval {
		return false, lastPingMinute
	}
	return true, tick
}

// PowerupsStarted reports whether powerup rolls are open.
func (sc Schedule) PowerupsStarted(st *State, sinceSeeking time.Duration) bool {
	return sc.settings.PowerupsEnabled() &&
		sc.conditionMet(sc.settings.PowerupStart, st, sinceSeeking)
}

// PowerupRoll is the per-minute spawn decision. The draw depends only on
// (seed, tick), so peers agree regardless of how many draws each has made,
// and a peer that joined the schedule late still lands on the same answer.
func (sc Schedule) PowerupRoll(tick uint64) (bool, protocol.Location) {
	rng := rand.New(rand.NewSource(int64(sc.settings.RandomSeed ^ tick*0x9E3779B97F4A7C15)))
	spawn := uint32(rng.Intn(100)) < sc.settings.PowerupChance
	if !spawn || len(sc.settings.PowerupLocations) == 0 {
		return false, protocol.Location{}
	}
	loc := sc.settings.PowerupLocations[rng.Intn(len(sc.settings.PowerupLocations))]
	return true, loc
}

// PowerupDue gates a roll at the current minute: rolls must be open, no
// powerup may be on the map, and the cooldown since the last spawn minute
// must have elapsed.
func (sc Schedule) PowerupDue(st *State, sinceSeeking time.Duration, lastSpawnMinute int64) (bool, uint64) {
	if !sc.PowerupsStarted(st, sinceSeeking) || st.Available != nil {
		return false, 0
	}
	tick := int64(minutes(sinceSeeking))
	if lastSpawnMinute >= 0 && tick-lastSpawnMinute < int64(sc.settings.PowerupCooldownMinutes) {
		return false, 0
	}
	return true, uint64(tick)
}

// KindFor deterministically assigns the powerup kind for a spawn id. Grabs
// resolve to the same kind on every peer without carrying it on the wire.
func KindFor(seed uint64, powerupID string) protocol.PowerupKind {
	h := fnv.New64a()
	h.Write([]byte(powerupID))
	kinds := protocol.AllPowerupKinds
	return kinds[(seed^h.Sum64())%uint64(len(kinds))]
}

// SpawnID names a powerup spawn deterministically by its tick so every peer
// refers to the same id when verifying the roll.
func SpawnID(tick uint64) string {
	return "spawn-" + strconv.FormatUint(tick, 10)
}
