// Package rendezvous gets peers connected. A lobby is identified by a short
// room code; joining yields one channel per peer already in the room, and
// everyone already there is handed a channel back to the joiner. Once the
// host marks the room started, no one else can join.
package rendezvous

import (
	"context"
	"crypto/rand"
	"errors"

	"manhunt/internal/netx"
	"manhunt/internal/protocol"
)

var (
	ErrRoomNotFound   = errors.New("rendezvous: room not found")
	ErrAlreadyStarted = errors.New("rendezvous: game already started")
)

// PeerChannel is a freshly established channel to one peer.
type PeerChannel struct {
	Peer protocol.PeerID
	Ch   netx.Channel
}

// Rendezvous is the lobby discovery and connection service. The returned
// channel keeps delivering PeerChannels as more players join the room; it is
// closed when the room goes away.
type Rendezvous interface {
	CreateLobby(ctx context.Context, self protocol.PeerID) (protocol.RoomCode, <-chan PeerChannel, error)
	JoinLobby(ctx context.Context, code protocol.RoomCode, self protocol.PeerID) (<-chan PeerChannel, error)
	RoomIsOpen(ctx context.Context, code protocol.RoomCode) (bool, error)
	MarkStarted(ctx context.Context, code protocol.RoomCode) error
}

// Ambiguous glyphs (0/O, 1/I) are left out of room codes.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const codeLength = 6

// NewRoomCode returns a random 6-character room code.
func NewRoomCode() protocol.RoomCode {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return protocol.RoomCode(buf)
}
