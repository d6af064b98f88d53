package protocol

import (
	"crypto/rand"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// PeerID identifies one participant within a lobby. A peer that departs and
// rejoins gets a fresh PeerID; events stay attributed to the old one.
type PeerID string

// RoomCode identifies a lobby at the rendezvous service.
type RoomCode string

func NewPeerID() PeerID { return PeerID(uuid.NewString()) }

// NewMessageID generates an id for one in-flight framed message. ULIDs are
// unique per sender and cheap to compare.
func NewMessageID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

// Valid accepts short human-typed codes: 4-12 characters, letters and digits.
func (c RoomCode) Valid() bool {
	if len(c) < 4 || len(c) > 12 {
		return false
	}
	for _, r := range c {
		switch {
		case r >= 'A' && r <= 'Z':
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}
