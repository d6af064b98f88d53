package protocol

import "sync/atomic"

// Sequence hands out this peer's per-origin sequence numbers, starting at 1.
type Sequence struct{ v uint64 }

func (s *Sequence) Current() uint64 { return atomic.LoadUint64(&s.v) }
func (s *Sequence) Next() uint64    { return atomic.AddUint64(&s.v, 1) }

// Observe raises the counter to at least remote. Used when restoring a session
// so a rejoining origin never reissues a number it already used.
func (s *Sequence) Observe(remote uint64) uint64 {
	for {
		cur := atomic.LoadUint64(&s.v)
		if remote <= cur {
			return cur
		}
		if atomic.CompareAndSwapUint64(&s.v, cur, remote) {
			return remote
		}
	}
}
