package protocol

import (
	"errors"
	"math/rand"
)

// ErrEmptyPowerupLocations is returned at settings-commit time when powerups
// are enabled without anywhere to spawn them.
var ErrEmptyPowerupLocations = errors.New("powerups enabled with no spawn locations")

type PowerupKind string

const (
	// PingSeeker lets a hider's next scheduled ping show a random seeker's
	// location attributed to the holder instead.
	PingSeeker PowerupKind = "PING_SEEKER"
	// PingAllSeekers reveals every seeker's location to the hiders.
	PingAllSeekers PowerupKind = "PING_ALL_SEEKERS"
	// ForcePingOther instantly pings one random other hider (a seeker when no
	// other hider remains).
	ForcePingOther PowerupKind = "FORCE_PING_OTHER"
)

var AllPowerupKinds = []PowerupKind{PingSeeker, PingAllSeekers, ForcePingOther}

type StartKind string

const (
	StartInstant StartKind = "INSTANT"
	StartPlayers StartKind = "PLAYERS"
	StartMinutes StartKind = "MINUTES"
)

// StartCondition gates when pings or powerup rolls begin. N is the player
// count for StartPlayers and the minute count for StartMinutes.
type StartCondition struct {
	Kind StartKind `json:"kind"`
	N    uint32    `json:"n,omitempty"`
}

func Instant() StartCondition { return StartCondition{Kind: StartInstant} }

func AfterPlayers(n uint32) StartCondition { return StartCondition{Kind: StartPlayers, N: n} }

func AfterMinutes(n uint32) StartCondition { return StartCondition{Kind: StartMinutes, N: n} }

// GameSettings are host-controlled and immutable once a lobby starts.
type GameSettings struct {
	// RandomSeed drives all shared randomness; every peer derives the same
	// ping/powerup schedule from it.
	RandomSeed             uint64         `json:"random_seed"`
	HidingTimeSeconds      uint32         `json:"hiding_time_seconds"`
	PingStart              StartCondition `json:"ping_start"`
	PingIntervalMinutes    uint32         `json:"ping_minutes_interval"`
	PowerupStart           StartCondition `json:"powerup_start"`
	PowerupChance          uint32         `json:"powerup_chance"` // percent per roll
	PowerupCooldownMinutes uint32         `json:"powerup_minutes_cooldown"`
	PowerupLocations       []Location     `json:"powerup_locations"`
}

func DefaultSettings() GameSettings {
	return GameSettings{
		RandomSeed:             rand.Uint64(),
		HidingTimeSeconds:      60,
		PingStart:              AfterPlayers(2),
		PingIntervalMinutes:    3,
		PowerupStart:           AfterMinutes(5),
		PowerupChance:          25,
		PowerupCooldownMinutes: 5,
	}
}

func (s GameSettings) PowerupsEnabled() bool { return s.PowerupChance > 0 }

// Validate is the commit-time check. A lobby never starts with settings that
// fail it.
func (s GameSettings) Validate() error {
	if s.PowerupsEnabled() && len(s.PowerupLocations) == 0 {
		return ErrEmptyPowerupLocations
	}
	return nil
}
