package rendezvous

import (
	"context"
	"sync"

	"manhunt/internal/netx"
	"manhunt/internal/protocol"
)

// Memory is an in-process Rendezvous. Every member of a room runs in the
// same process and gets wired up over inproc channel pairs. Used by tests
// and by the local multi-player mode of the CLI.
type Memory struct {
	mu    sync.Mutex
	rooms map[protocol.RoomCode]*memRoom
}

type memRoom struct {
	started bool
	members map[protocol.PeerID]chan PeerChannel
}

func NewMemory() *Memory {
	return &Memory{rooms: make(map[protocol.RoomCode]*memRoom)}
}

func (m *Memory) CreateLobby(ctx context.Context, self protocol.PeerID) (protocol.RoomCode, <-chan PeerChannel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var code protocol.RoomCode
	for {
		code = NewRoomCode()
		if _, taken := m.rooms[code]; !taken {
			break
		}
	}
	ch := make(chan PeerChannel, 16)
	m.rooms[code] = &memRoom{members: map[protocol.PeerID]chan PeerChannel{self: ch}}
	return code, ch, nil
}

func (m *Memory) JoinLobby(ctx context.Context, code protocol.RoomCode, self protocol.PeerID) (<-chan PeerChannel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[code]
	if !ok {
		return nil, ErrRoomNotFound
	}
	if room.started {
		return nil, ErrAlreadyStarted
	}
	ch := make(chan PeerChannel, 16)
	for peer, peerCh := range room.members {
		a, b := netx.NewInprocPair()
		ch <- PeerChannel{Peer: peer, Ch: a}
		peerCh <- PeerChannel{Peer: self, Ch: b}
	}
	room.members[self] = ch
	return ch, nil
}

func (m *Memory) RoomIsOpen(ctx context.Context, code protocol.RoomCode) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[code]
	if !ok {
		return false, ErrRoomNotFound
	}
	return !room.started, nil
}

func (m *Memory) MarkStarted(ctx context.Context, code protocol.RoomCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[code]
	if !ok {
		return ErrRoomNotFound
	}
	if room.started {
		return ErrAlreadyStarted
	}
	room.started = true
	return nil
}
