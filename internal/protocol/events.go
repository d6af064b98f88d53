package protocol

import "time"

type EventType string

const (
	EvPlayerJoined     EventType = "PLAYER_JOINED"
	EvPlayerLeft       EventType = "PLAYER_LEFT"
	EvTeamSwitched     EventType = "TEAM_SWITCHED"
	EvSettingsChanged  EventType = "SETTINGS_CHANGED"
	EvGameStarted      EventType = "GAME_STARTED"
	EvHiderCaught      EventType = "HIDER_CAUGHT"
	EvPingFired        EventType = "PING_FIRED"
	EvForcePing        EventType = "FORCE_PING"
	EvPowerupSpawned   EventType = "POWERUP_SPAWNED"
	EvPowerupGrabbed   EventType = "POWERUP_GRABBED"
	EvPowerupActivated EventType = "POWERUP_ACTIVATED"
	EvGameEnded        EventType = "GAME_ENDED"
)

// Location is a point on the map. Heading is optional.
type Location struct {
	Lat     float64  `json:"lat"`
	Long    float64  `json:"long"`
	Heading *float64 `json:"heading,omitempty"`
}

// PlayerProfile is the display info a peer shares when joining.
type PlayerProfile struct {
	DisplayName  string `json:"display_name"`
	AvatarBase64 string `json:"avatar_base64,omitempty"`
}

// PlayerPing is an on-map ping of a player. DisplayPlayer is who the ping is
// shown as; RealPlayer is who actually reported it. They differ when a powerup
// re-attributes a ping.
type PlayerPing struct {
	Loc           Location  `json:"loc"`
	Timestamp     time.Time `json:"timestamp"`
	DisplayPlayer PeerID    `json:"display_player"`
	RealPlayer    PeerID    `json:"real_player"`
}

// StartInfo travels with GameStarted so every peer folds an identical initial
// state: the committed settings plus the seeker assignment at start time.
type StartInfo struct {
	Settings GameSettings    `json:"settings"`
	Seekers  map[PeerID]bool `json:"seekers"`
}

// GameEvent is a tagged variant. Type selects which fields are meaningful;
// unused fields stay zero. Events are immutable once created.
type GameEvent struct {
	Type EventType `json:"type"`

	// Subject peer: the joiner, leaver, switcher, caught hider, grabber,
	// activator, or ForcePing target depending on Type.
	Player PeerID `json:"player,omitempty"`

	Seeker    bool           `json:"seeker,omitempty"`     // TeamSwitched
	Profile   *PlayerProfile `json:"profile,omitempty"`    // PlayerJoined
	Settings  *GameSettings  `json:"settings,omitempty"`   // SettingsChanged
	Start     *StartInfo     `json:"start,omitempty"`      // GameStarted
	Ping      *PlayerPing    `json:"ping,omitempty"`       // PingFired
	DisplayAs PeerID         `json:"display_as,omitempty"` // ForcePing attribution
	Location  *Location      `json:"location,omitempty"`   // PowerupSpawned
	PowerupID string         `json:"powerup_id,omitempty"` // PowerupSpawned/Grabbed/Activated
	Kind      PowerupKind    `json:"kind,omitempty"`       // PowerupActivated
}

func PlayerJoined(p PeerID, profile PlayerProfile) GameEvent {
	return GameEvent{Type: EvPlayerJoined, Player: p, Profile: &profile}
}

func PlayerLeft(p PeerID) GameEvent { return GameEvent{Type: EvPlayerLeft, Player: p} }

func TeamSwitched(p PeerID, seeker bool) GameEvent {
	return GameEvent{Type: EvTeamSwitched, Player: p, Seeker: seeker}
}

func SettingsChanged(s GameSettings) GameEvent {
	return GameEvent{Type: EvSettingsChanged, Settings: &s}
}

func GameStarted(info StartInfo) GameEvent {
	return GameEvent{Type: EvGameStarted, Start: &info}
}

func HiderCaught(p PeerID) GameEvent { return GameEvent{Type: EvHiderCaught, Player: p} }

func PingFired(ping PlayerPing) GameEvent { return GameEvent{Type: EvPingFired, Ping: &ping} }

// ForcePing directs target to publish its location, displayed as displayAs
// when non-empty.
func ForcePing(target, displayAs PeerID) GameEvent {
	return GameEvent{Type: EvForcePing, Player: target, DisplayAs: displayAs}
}

func PowerupSpawned(id string, loc Location) GameEvent {
	return GameEvent{Type: EvPowerupSpawned, PowerupID: id, Location: &loc}
}

func PowerupGrabbed(id string, p PeerID) GameEvent {
	return GameEvent{Type: EvPowerupGrabbed, PowerupID: id, Player: p}
}

func PowerupActivated(id string, p PeerID, kind PowerupKind) GameEvent {
	return GameEvent{Type: EvPowerupActivated, PowerupID: id, Player: p, Kind: kind}
}

func GameEnded() GameEvent { return GameEvent{Type: EvGameEnded} }
