// Package replication merges the envelope streams of every peer into one
// deterministic log and keeps a derived game state current.
//
// There is a single intake path: local events go out through the mesh
// broadcast, whose loopback copy arrives on the inbound queue alongside the
// remote traffic. The engine merges envelopes from that one stream, so local
// and remote events converge through exactly the same code.
package replication

import (
	"context"
	"sync"

	"manhunt/internal/eventlog"
	"manhunt/internal/game"
	"manhunt/internal/mesh"
	"manhunt/internal/protocol"
	"manhunt/internal/telemetry"
)

// Snapshot is an immutable view published after an envelope is accepted.
// Cause is the envelope whose merge produced this state, so callers can
// react to individual events (a force ping aimed at them) without walking
// the log themselves.
type Snapshot struct {
	State  game.State
	Cause  protocol.EventEnvelope
	Events int
}

// Engine folds the merged log into game state and fans snapshots out to
// subscribers.
type Engine struct {
	log *eventlog.Log
	net *mesh.Mesh

	mu    sync.RWMutex
	state game.State

	subMu   sync.Mutex
	subs    map[int]chan Snapshot
	nextSub int
}

// New builds an engine over an existing log and mesh. The initial state is
// derived from whatever the log already holds.
func New(log *eventlog.Log, net *mesh.Mesh) *Engine {
	return &Engine{
		log:   log,
		net:   net,
		state: game.Derive(log.Replay()),
		subs:  make(map[int]chan Snapshot),
	}
}

// Log exposes the underlying merged log, used for history capture and for
// replaying our own envelopes to late joiners.
func (e *Engine) Log() *eventlog.Log { return e.log }

// State returns a deep copy of the current derived state.
func (e *Engine) State() game.State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.Clone()
}

// Submit stamps a local event with the next origin sequence number and
// broadcasts it. The state does not change here; the loopback copy comes
// back through Run like any remote envelope.
func (e *Engine) Submit(ctx context.Context, ev protocol.GameEvent) (protocol.EventEnvelope, error) {
	env := e.log.AppendLocal(ev)
	if err := e.net.Broadcast(ctx, env); err != nil {
		return env, err
	}
	return env, nil
}

// Subscribe registers a snapshot channel. Delivery coalesces: a slow
// subscriber sees the latest snapshot, not every intermediate one. The
// returned func unsubscribes and closes the channel.
func (e *Engine) Subscribe() (<-chan Snapshot, func()) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	id := e.nextSub
	e.nextSub++
	ch := make(chan Snapshot, 1)
	e.subs[id] = ch
	return ch, func() {
		e.subMu.Lock()
		defer e.subMu.Unlock()
		if _, ok := e.subs[id]; ok {
			delete(e.subs, id)
			close(ch)
		}
	}
}

// Run consumes the mesh inbound queue until ctx is cancelled or the mesh
// closes. Duplicate envelopes are counted and dropped; accepted ones trigger
// a rederive and a publish.
func (e *Engine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case in, ok := <-e.net.Inbound():
			if !ok {
				return
			}
			e.apply(in.Envelope)
		}
	}
}

func (e *Engine) apply(env protocol.EventEnvelope) {
	if !e.log.Merge(env) {
		telemetry.EnvelopesMerged.WithLabelValues("duplicate").Inc()
		return
	}
	telemetry.EnvelopesMerged.WithLabelValues("accepted").Inc()

	e.mu.Lock()
	e.state = game.Derive(e.log.Replay())
	snap := Snapshot{State: e.state.Clone(), Cause: env, Events: e.log.Len()}
	e.mu.Unlock()

	e.publish(snap)
}

func (e *Engine) publish(snap Snapshot) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for _, ch := range e.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}
