// Package session runs one player's participation in a lobby: the phase
// machine from waiting room to finished game, the tick loop that fires
// scheduled pings and powerup spawns, and the validation in front of every
// local action before it becomes a replicated event.
package session

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"sync"
	"time"

	"manhunt/internal/eventlog"
	"manhunt/internal/game"
	"manhunt/internal/history"
	"manhunt/internal/mesh"
	"manhunt/internal/protocol"
	"manhunt/internal/rendezvous"
	"manhunt/internal/replication"
	"manhunt/pkg/types"
)

type Phase string

const (
	PhaseWaiting Phase = "waiting"
	PhaseHiding  Phase = "hiding"
	PhaseSeeking Phase = "seeking"
	PhaseEnded   Phase = "ended"
)

var (
	ErrNotHost        = errors.New("session: host-only action")
	ErrAlreadyStarted = errors.New("session: game already started")
	ErrNotStarted     = errors.New("session: game not started")
	ErrNoSeeker       = errors.New("session: need at least one seeker")
	ErrNoPowerup      = errors.New("session: no powerup to act on")
	ErrNotHider       = errors.New("session: hiders only")
)

// LocationSource reports the device position. ok is false when no fix is
// available; scheduled pings are skipped rather than faked.
type LocationSource interface {
	Current() (protocol.Location, bool)
}

// FixedLocation is a LocationSource pinned to one point.
type FixedLocation protocol.Location

func (f FixedLocation) Current() (protocol.Location, bool) {
	return protocol.Location(f), true
}

// Options carries the collaborators a session needs.
type Options struct {
	Config   types.Config
	Profile  protocol.PlayerProfile
	Rdv      rendezvous.Rendezvous
	Store    history.Store
	Location LocationSource
}

// Session is one peer's lobby membership. All mutation flows through Submit
// on the replication engine; the session only decides what to submit and
// when.
type Session struct {
	self protocol.PeerID
	code protocol.RoomCode
	host bool
	opts Options

	net    *mesh.Mesh
	engine *replication.Engine

	mu              sync.Mutex
	phase           Phase
	startedAt       time.Time // local receipt of GameStarted
	seekingAt       time.Time
	schedule        game.Schedule
	lastPingMinute  int64
	lastSpawnMinute int64
	answeredForce   protocol.EnvelopeKey
	saved           bool

	phases chan Phase
	cancel context.CancelFunc
	done   chan struct{}
}

// Host creates a lobby and returns the hosting session. The host commits
// default settings right away so joiners always see a concrete configuration.
func Host(ctx context.Context, opts Options) (*Session, error) {
	self := protocol.NewPeerID()
	code, peers, err := opts.Rdv.CreateLobby(ctx, self)
	if err != nil {
		return nil, err
	}
	s := newSession(self, code, true, opts)
	s.start(peers)
	if _, err := s.engine.Submit(ctx, protocol.PlayerJoined(self, opts.Profile)); err != nil {
		s.Close()
		return nil, err
	}
	if _, err := s.engine.Submit(ctx, protocol.SettingsChanged(protocol.DefaultSettings())); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Join enters an existing lobby by room code.
func Join(ctx context.Context, code protocol.RoomCode, opts Options) (*Session, error) {
	if !code.Valid() {
		return nil, rendezvous.ErrRoomNotFound
	}
	self := protocol.NewPeerID()
	peers, err := opts.Rdv.JoinLobby(ctx, code, self)
	if err != nil {
		return nil, err
	}
	s := newSession(self, code, false, opts)
	s.start(peers)
	if _, err := s.engine.Submit(ctx, protocol.PlayerJoined(self, opts.Profile)); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func newSession(self protocol.PeerID, code protocol.RoomCode, host bool, opts Options) *Session {
	net := mesh.New(self, opts.Config)
	return &Session{
		self:            self,
		code:            code,
		host:            host,
		opts:            opts,
		net:             net,
		engine:          replication.New(eventlog.New(self), net),
		phase:           PhaseWaiting,
		lastPingMinute:  -1,
		lastSpawnMinute: -1,
		phases:          make(chan Phase, 8),
		done:            make(chan struct{}),
	}
}

func (s *Session) start(peers <-chan rendezvous.PeerChannel) {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.engine.Run(ctx)
	go s.run(ctx, peers)
}

func (s *Session) Self() protocol.PeerID { return s.self }

func (s *Session) Code() protocol.RoomCode { return s.code }

func (s *Session) IsHost() bool { return s.host }

func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Phases delivers phase transitions. Slow readers miss intermediate phases,
// never the channel itself.
func (s *Session) Phases() <-chan Phase { return s.phases }

// GameState is the current derived state, safe to retain.
func (s *Session) GameState() game.State { return s.engine.State() }

// Updates exposes the replication snapshot stream for UIs.
func (s *Session) Updates() (<-chan replication.Snapshot, func()) {
	return s.engine.Subscribe()
}

// Done is closed when the session loop has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) run(ctx context.Context, peers <-chan rendezvous.PeerChannel) {
	defer close(s.done)
	snaps, unsub := s.engine.Subscribe()
	defer unsub()
	ticker := time.NewTicker(s.opts.Config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case pc, ok := <-peers:
			if !ok {
				peers = nil
				continue
			}
			s.net.AddPeer(pc.Peer, pc.Ch)
		case n := <-s.net.Notices():
			s.onNotice(ctx, n)
		case snap := <-snaps:
			s.onSnapshot(ctx, snap)
		case <-ticker.C:
			s.tick(ctx, time.Now())
		}
	}
}

// onNotice reacts to mesh membership changes. A fresh peer has none of our
// history, so we replay our own origin's envelopes at it; merge dedup makes
// this safe however many members do the same.
func (s *Session) onNotice(ctx context.Context, n mesh.Notice) {
	switch n.Kind {
	case mesh.PeerJoined:
		for env := range s.engine.Log().Replay() {
			if env.Origin != s.self {
				continue
			}
			if err := s.net.Send(ctx, n.Peer, env); err != nil {
				log.Printf("session: catch-up to %s: %v", n.Peer, err)
				return
			}
		}
	case mesh.PeerDeparted:
		if _, err := s.engine.Submit(ctx, protocol.PlayerLeft(n.Peer)); err != nil {
			log.Printf("session: record departure of %s: %v", n.Peer, err)
		}
	}
}

func (s *Session) onSnapshot(ctx context.Context, snap replication.Snapshot) {
	s.mu.Lock()
	if snap.State.Started && s.phase == PhaseWaiting {
		s.phase = PhaseHiding
		s.startedAt = time.Now()
		s.schedule = game.NewSchedule(snap.State.Settings)
		s.announce(PhaseHiding)
	}
	if snap.State.Available != nil && s.phase == PhaseSeeking {
		s.lastSpawnMinute = int64(time.Since(s.seekingAt) / time.Minute)
	}
	gameOver := snap.State.GameOver() && (s.phase == PhaseHiding || s.phase == PhaseSeeking)
	s.mu.Unlock()

	if gameOver {
		s.finish(ctx, snap.State)
	}

	// A demand aimed at us stays in state until our answering ping merges;
	// the key guard keeps retriggered snapshots from answering twice.
	if demand, ok := snap.State.ForcePings[s.self]; ok {
		s.mu.Lock()
		fresh := s.answeredForce != demand.Key
		if fresh {
			s.answeredForce = demand.Key
		}
		s.mu.Unlock()
		if fresh {
			s.answerForcePing(ctx, demand.DisplayAs)
		}
	}
}

// answerForcePing publishes our location on someone else's demand, shown as
// displayAs when the powerup re-attributes it.
func (s *Session) answerForcePing(ctx context.Context, displayAs protocol.PeerID) {
	loc, ok := s.opts.Location.Current()
	if !ok {
		return
	}
	display := s.self
	if displayAs != "" {
		display = displayAs
	}
	ping := protocol.PlayerPing{
		Loc:           loc,
		Timestamp:     time.Now(),
		DisplayPlayer: display,
		RealPlayer:    s.self,
	}
	if _, err := s.engine.Submit(ctx, protocol.PingFired(ping)); err != nil {
		log.Printf("session: forced ping: %v", err)
	}
}

func (s *Session) tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	if s.phase == PhaseHiding {
		hiding := time.Duration(s.engine.State().Settings.HidingTimeSeconds) * time.Second
		if now.Sub(s.startedAt) >= hiding {
			s.phase = PhaseSeeking
			s.seekingAt = now
			s.announce(PhaseSeeking)
		}
	}
	if s.phase != PhaseSeeking {
		s.mu.Unlock()
		return
	}
	sc := s.schedule
	sinceSeeking := now.Sub(s.seekingAt)
	lastPing := s.lastPingMinute
	lastSpawn := s.lastSpawnMinute
	s.mu.Unlock()

	st := s.engine.State()
	if st.GameOver() {
		s.finish(ctx, st)
		return
	}

	if !st.Caught[s.self] && !st.Departed[s.self] {
		if due, minute := sc.PingDue(&st, sinceSeeking, lastPing); due {
			s.firePing(ctx, st)
			s.mu.Lock()
			s.lastPingMinute = minute
			s.mu.Unlock()
		}
	}

	if s.spawnAuthority() {
		if due, tick := sc.PowerupDue(&st, sinceSeeking, lastSpawn); due {
			if spawn, loc := sc.PowerupRoll(tick); spawn {
				if _, err := s.engine.Submit(ctx, protocol.PowerupSpawned(game.SpawnID(tick), loc)); err != nil {
					log.Printf("session: powerup spawn: %v", err)
				}
			}
		}
	}
}

// firePing is the scheduled self-report every uncaught hider makes. A held
// PingSeeker powerup swaps the report for a seeker reveal attributed to us.
func (s *Session) firePing(ctx context.Context, st game.State) {
	held, holding := st.Held[s.self]
	if holding && held.Kind == protocol.PingSeeker {
		seekers := st.Seekers()
		if len(seekers) > 0 {
			target := seekers[rand.Intn(len(seekers))]
			if _, err := s.engine.Submit(ctx, protocol.PowerupActivated(held.ID, s.self, held.Kind)); err != nil {
				log.Printf("session: ping powerup: %v", err)
			}
			if _, err := s.engine.Submit(ctx, protocol.ForcePing(target, s.self)); err != nil {
				log.Printf("session: ping powerup: %v", err)
			}
			return
		}
	}
	loc, ok := s.opts.Location.Current()
	if !ok {
		return
	}
	ping := protocol.PlayerPing{
		Loc:           loc,
		Timestamp:     time.Now(),
		DisplayPlayer: s.self,
		RealPlayer:    s.self,
	}
	if _, err := s.engine.Submit(ctx, protocol.PingFired(ping)); err != nil {
		log.Printf("session: scheduled ping: %v", err)
	}
}

// spawnAuthority: exactly one connected peer emits spawn events, the lowest
// id. Everyone evaluates the same deterministic roll, so authority moving
// after a departure changes nothing about the outcome.
func (s *Session) spawnAuthority() bool {
	lowest := s.self
	for _, p := range s.net.Peers() {
		if p.Status == mesh.StatusConnected && p.ID < lowest {
			lowest = p.ID
		}
	}
	return lowest == s.self
}

// SwitchTeam flips our side while the lobby is still waiting.
func (s *Session) SwitchTeam(ctx context.Context, seeker bool) error {
	if s.Phase() != PhaseWaiting {
		return ErrAlreadyStarted
	}
	_, err := s.engine.Submit(ctx, protocol.TeamSwitched(s.self, seeker))
	return err
}

// CommitSettings validates and replicates a new configuration. Host only,
// waiting phase only.
func (s *Session) CommitSettings(ctx context.Context, settings protocol.GameSettings) error {
	if !s.host {
		return ErrNotHost
	}
	if s.Phase() != PhaseWaiting {
		return ErrAlreadyStarted
	}
	if err := settings.Validate(); err != nil {
		return err
	}
	_, err := s.engine.Submit(ctx, protocol.SettingsChanged(settings))
	return err
}

// StartGame freezes the roster and settings and starts the hiding phase on
// every peer. Host only.
func (s *Session) StartGame(ctx context.Context) error {
	if !s.host {
		return ErrNotHost
	}
	if s.Phase() != PhaseWaiting {
		return ErrAlreadyStarted
	}
	st := s.engine.State()
	if err := st.Settings.Validate(); err != nil {
		return err
	}
	seekers := make(map[protocol.PeerID]bool, len(st.Profiles))
	anySeeker := false
	for p := range st.Profiles {
		if st.Departed[p] {
			continue
		}
		seekers[p] = st.Caught[p]
		anySeeker = anySeeker || st.Caught[p]
	}
	if !anySeeker {
		return ErrNoSeeker
	}
	if err := s.opts.Rdv.MarkStarted(ctx, s.code); err != nil && !errors.Is(err, rendezvous.ErrAlreadyStarted) {
		return err
	}
	_, err := s.engine.Submit(ctx, protocol.GameStarted(protocol.StartInfo{
		Settings: st.Settings,
		Seekers:  seekers,
	}))
	return err
}

// MarkCaught reports ourselves caught. Idempotent: a second call is a no-op.
func (s *Session) MarkCaught(ctx context.Context) error {
	if p := s.Phase(); p != PhaseHiding && p != PhaseSeeking {
		return ErrNotStarted
	}
	if s.engine.State().Caught[s.self] {
		return nil
	}
	_, err := s.engine.Submit(ctx, protocol.HiderCaught(s.self))
	return err
}

// GrabPowerup claims the powerup currently on the map. The claim is
// optimistic; merged order picks the single winner when several peers grab.
func (s *Session) GrabPowerup(ctx context.Context) error {
	if s.Phase() != PhaseSeeking {
		return ErrNotStarted
	}
	st := s.engine.State()
	if st.Caught[s.self] {
		return ErrNotHider
	}
	if st.Available == nil {
		return ErrNoPowerup
	}
	_, err := s.engine.Submit(ctx, protocol.PowerupGrabbed(st.Available.ID, s.self))
	return err
}

// ActivatePowerup spends the held powerup. PingSeeker is passive (it rides
// the next scheduled ping), so activating it here is rejected the same as
// holding nothing would be.
func (s *Session) ActivatePowerup(ctx context.Context) error {
	if s.Phase() != PhaseSeeking {
		return ErrNotStarted
	}
	st := s.engine.State()
	held, ok := st.Held[s.self]
	if !ok || held.Kind == protocol.PingSeeker {
		return ErrNoPowerup
	}
	if _, err := s.engine.Submit(ctx, protocol.PowerupActivated(held.ID, s.self, held.Kind)); err != nil {
		return err
	}
	switch held.Kind {
	case protocol.PingAllSeekers:
		for _, target := range st.Seekers() {
			if _, err := s.engine.Submit(ctx, protocol.ForcePing(target, "")); err != nil {
				return err
			}
		}
	case protocol.ForcePingOther:
		target, ok := s.forcePingTarget(st)
		if !ok {
			return nil
		}
		if _, err := s.engine.Submit(ctx, protocol.ForcePing(target, "")); err != nil {
			return err
		}
	}
	return nil
}

// forcePingTarget picks a random other hider, falling back to a seeker when
// we are the last hider standing.
func (s *Session) forcePingTarget(st game.State) (protocol.PeerID, bool) {
	var pool []protocol.PeerID
	for _, p := range st.ActiveHiders() {
		if p != s.self {
			pool = append(pool, p)
		}
	}
	if len(pool) == 0 {
		pool = st.Seekers()
	}
	if len(pool) == 0 {
		return "", false
	}
	return pool[rand.Intn(len(pool))], true
}

// EndGame ends the game early. Host only.
func (s *Session) EndGame(ctx context.Context) error {
	if !s.host {
		return ErrNotHost
	}
	if p := s.Phase(); p != PhaseHiding && p != PhaseSeeking {
		return ErrNotStarted
	}
	_, err := s.engine.Submit(ctx, protocol.GameEnded())
	return err
}

// finish archives the game once and moves to the ended phase. The session
// stays alive for post-game browsing until Close.
func (s *Session) finish(ctx context.Context, st game.State) {
	s.mu.Lock()
	if s.saved || s.phase == PhaseEnded {
		s.mu.Unlock()
		return
	}
	s.saved = true
	s.phase = PhaseEnded
	s.announce(PhaseEnded)
	s.mu.Unlock()

	rec := history.Record{
		Code:     s.code,
		Settings: st.Settings,
		Events:   s.engine.Log().Snapshot(),
		EndedAt:  time.Now(),
	}
	if err := s.opts.Store.Save(ctx, rec); err != nil {
		log.Printf("session: archive game: %v", err)
	}
}

// Close announces our departure, stops the loops, and tears the mesh down.
func (s *Session) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	if _, err := s.engine.Submit(ctx, protocol.PlayerLeft(s.self)); err != nil {
		log.Printf("session: leave: %v", err)
	}
	cancel()
	if s.cancel != nil {
		s.cancel()
	}
	s.net.Close()
	<-s.done
}

// announce is called with s.mu held.
func (s *Session) announce(p Phase) {
	select {
	case s.phases <- p:
	default:
	}
}
