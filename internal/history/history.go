// Package history archives finished games. A record carries the settings the
// game ran with and the full merged event log, so a finished game can be
// replayed or inspected after the session is gone.
package history

import (
	"context"
	"sync"
	"time"

	"manhunt/internal/protocol"
)

// Record is one finished game.
type Record struct {
	Code     protocol.RoomCode        `json:"code"`
	Settings protocol.GameSettings    `json:"settings"`
	Events   []protocol.EventEnvelope `json:"events"`
	EndedAt  time.Time                `json:"ended_at"`
}

type Store interface {
	Save(ctx context.Context, rec Record) error
	List(ctx context.Context) ([]Record, error)
}

// MemoryStore keeps records for the life of the process.
type MemoryStore struct {
	mu      sync.Mutex
	records []Record
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (s *MemoryStore) Save(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.Events = append([]protocol.EventEnvelope(nil), rec.Events...)
	s.records = append(s.records, rec)
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out, nil
}
