package mesh

import (
	"context"
	"log"
	"sync"

	"manhunt/internal/netx"
	"manhunt/internal/protocol"
	"manhunt/internal/telemetry"
	"manhunt/pkg/types"
)

type PeerStatus string

const (
	StatusConnected PeerStatus = "connected"
	StatusDeparted  PeerStatus = "departed"
)

type PeerInfo struct {
	ID     protocol.PeerID
	Status PeerStatus
}

// Inbound is one envelope delivered to the local intake stream. From is the
// link it arrived on; envelopes fed back by Broadcast carry the local id.
type Inbound struct {
	From     protocol.PeerID
	Envelope protocol.EventEnvelope
}

type NoticeKind string

const (
	PeerJoined   NoticeKind = "joined"
	PeerDeparted NoticeKind = "departed"
)

// Notice reports a membership change to the session.
type Notice struct {
	Peer protocol.PeerID
	Kind NoticeKind
}

// Mesh owns every PeerLink for one lobby session and aggregates all inbound
// messages into one stream. Links operate concurrently; the mesh lock only
// guards the membership map.
type Mesh struct {
	self protocol.PeerID
	cfg  types.Config

	mu     sync.RWMutex
	links  map[protocol.PeerID]*netx.PeerLink
	status map[protocol.PeerID]PeerStatus

	inbound chan Inbound
	notices chan Notice

	closed chan struct{}
	once   sync.Once
}

func New(self protocol.PeerID, cfg types.Config) *Mesh {
	return &Mesh{
		self:    self,
		cfg:     cfg,
		links:   make(map[protocol.PeerID]*netx.PeerLink),
		status:  make(map[protocol.PeerID]PeerStatus),
		inbound: make(chan Inbound, 256),
		notices: make(chan Notice, 64),
		closed:  make(chan struct{}),
	}
}

func (m *Mesh) Self() protocol.PeerID { return m.self }

// Inbound is the aggregated intake stream: every remote envelope plus the
// loopback copy of everything broadcast locally.
func (m *Mesh) Inbound() <-chan Inbound { return m.inbound }

// Notices reports peers joining and departing.
func (m *Mesh) Notices() <-chan Notice { return m.notices }

// AddPeer attaches a freshly established channel as a live link and starts
// pumping its messages into the intake stream.
func (m *Mesh) AddPeer(peer protocol.PeerID, ch netx.Channel) {
	link := netx.NewPeerLink(peer, ch, m.cfg.MaxChunkSize)

	m.mu.Lock()
	if old, ok := m.links[peer]; ok {
		old.Close()
	}
	m.links[peer] = link
	m.status[peer] = StatusConnected
	m.mu.Unlock()

	m.notify(Notice{Peer: peer, Kind: PeerJoined})
	go m.pump(link)
}

func (m *Mesh) pump(link *netx.PeerLink) {
	for msg := range link.Messages() {
		env, err := protocol.DecodeEnvelope(msg)
		if err != nil {
			// Corrupt logical message: peer-local, drop and continue.
			log.Printf("mesh: dropping message from %s: %v", link.Peer(), err)
			continue
		}
		select {
		case m.inbound <- Inbound{From: link.Peer(), Envelope: env}:
		case <-m.closed:
			return
		}
	}
	m.markDeparted(link.Peer())
}

// Broadcast sends the envelope to every connected peer, best-effort, and
// always also feeds it to the local intake stream. Delivery to each peer is
// bounded by the configured timeout; a peer that cannot be reached in time is
// demoted to departed rather than stalling the rest.
func (m *Mesh) Broadcast(ctx context.Context, env protocol.EventEnvelope) error {
	payload, err := protocol.EncodeEnvelope(env)
	if err != nil {
		return err
	}

	// Local feed first so the sender converges even with zero peers.
	select {
	case m.inbound <- Inbound{From: m.self, Envelope: env}:
	case <-m.closed:
		return netx.ErrChannelClosed
	}

	var wg sync.WaitGroup
	for _, link := range m.connected() {
		wg.Add(1)
		go func(link *netx.PeerLink) {
			defer wg.Done()
			m.deliver(ctx, link, payload)
		}(link)
	}
	wg.Wait()
	return nil
}

// Send unicasts the envelope to one peer with the same time bound as a
// broadcast leg.
func (m *Mesh) Send(ctx context.Context, peer protocol.PeerID, env protocol.EventEnvelope) error {
	payload, err := protocol.EncodeEnvelope(env)
	if err != nil {
		return err
	}
	m.mu.RLock()
	link, ok := m.links[peer]
	status := m.status[peer]
	m.mu.RUnlock()
	if !ok || status != StatusConnected {
		return netx.ErrChannelClosed
	}
	m.deliver(ctx, link, payload)
	return nil
}

func (m *Mesh) deliver(ctx context.Context, link *netx.PeerLink, payload []byte) {
	sendCtx, cancel := context.WithTimeout(ctx, m.cfg.BroadcastTimeout)
	defer cancel()
	if err := link.Send(sendCtx, payload); err != nil {
		if sendCtx.Err() != nil {
			telemetry.BroadcastTimeouts.Inc()
		}
		log.Printf("mesh: send to %s failed: %v", link.Peer(), err)
		link.Close()
		m.markDeparted(link.Peer())
	}
}

func (m *Mesh) connected() []*netx.PeerLink {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*netx.PeerLink, 0, len(m.links))
	for id, link := range m.links {
		if m.status[id] == StatusConnected {
			out = append(out, link)
		}
	}
	return out
}

// Peers reports current membership with connected/departed status. Departed
// peers stay listed; their historical events remain in the log.
func (m *Mesh) Peers() []PeerInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]PeerInfo, 0, len(m.status))
	for id, st := range m.status {
		out = append(out, PeerInfo{ID: id, Status: st})
	}
	return out
}

func (m *Mesh) markDeparted(peer protocol.PeerID) {
	m.mu.Lock()
	already := m.status[peer] == StatusDeparted
	if !already {
		m.status[peer] = StatusDeparted
	}
	m.mu.Unlock()
	if already {
		return
	}
	telemetry.PeersDeparted.Inc()
	log.Printf("mesh: peer departed: %s", peer)
	m.notify(Notice{Peer: peer, Kind: PeerDeparted})
}

func (m *Mesh) notify(n Notice) {
	select {
	case m.notices <- n:
	default:
		// A session that stopped draining notices must not deadlock links.
		log.Printf("mesh: dropping notice %s for %s", n.Kind, n.Peer)
	}
}

// Close tears down every link. Safe to call concurrently with in-flight sends
// and receives, and more than once.
func (m *Mesh) Close() {
	m.once.Do(func() {
		close(m.closed)
		m.mu.Lock()
		links := make([]*netx.PeerLink, 0, len(m.links))
		for _, l := range m.links {
			links = append(links, l)
		}
		m.mu.Unlock()
		for _, l := range links {
			l.Close()
		}
	})
}
