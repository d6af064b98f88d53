package types

import "time"

// Config holds per-session runtime knobs that can be serialized and shared.
// Game rules live in protocol.GameSettings; this is plumbing only.
type Config struct {
	// MaxChunkSize bounds one framed chunk including its header. Must fit the
	// channel's maximum message size.
	MaxChunkSize int
	// SendHighWater is the outbound buffered-byte threshold past which sends
	// block until the channel drains.
	SendHighWater int
	// TickInterval drives the session scheduler (pings, powerup rolls).
	TickInterval time.Duration
	// BroadcastTimeout bounds delivery to a single peer during a broadcast;
	// exceeding it degrades that peer to Departed.
	BroadcastTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxChunkSize:     16 * 1024,
		SendHighWater:    1 << 20,
		TickInterval:     time.Second,
		BroadcastTimeout: 5 * time.Second,
	}
}
