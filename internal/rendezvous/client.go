package rendezvous

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"

	"manhunt/internal/netx"
	"manhunt/internal/protocol"
)

// Signaling ops. The server is a plain relay: it owns room membership and
// forwards offer/answer/candidate between peers, nothing more.
const (
	opCreate    = "create"
	opCreated   = "created"
	opJoin      = "join"
	opJoined    = "joined"
	opQuery     = "query"
	opStatus    = "status"
	opStart     = "start"
	opOffer     = "offer"
	opAnswer    = "answer"
	opCandidate = "candidate"
	opError     = "error"
)

type signal struct {
	Op        string            `json:"op"`
	Room      protocol.RoomCode `json:"room,omitempty"`
	From      protocol.PeerID   `json:"from,omitempty"`
	To        protocol.PeerID   `json:"to,omitempty"`
	SDP       string            `json:"sdp,omitempty"`
	Candidate string            `json:"candidate,omitempty"`
	Peers     []protocol.PeerID `json:"peers,omitempty"`
	Open      bool              `json:"open,omitempty"`
	Err       string            `json:"error,omitempty"`
}

// Client is the production Rendezvous: a websocket connection to the
// signaling server plus one WebRTC peer connection per remote player. The
// peer who was in the room first answers; the joiner offers.
type Client struct {
	url       string
	highWater int
	ice       []webrtc.ICEServer

	mu    sync.Mutex
	self  protocol.PeerID
	conn  *websocket.Conn
	out   chan PeerChannel
	peers map[protocol.PeerID]*signalPeer

	writeMu sync.Mutex
}

// signalPeer tracks one in-flight WebRTC handshake. Candidates that arrive
// before the remote description are parked and flushed afterwards.
type signalPeer struct {
	pc      *webrtc.PeerConnection
	pending []webrtc.ICECandidateInit
	remote  bool
}

func NewClient(serverURL string, highWater int) *Client {
	return &Client{
		url:       serverURL,
		highWater: highWater,
		ice: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
		peers: make(map[protocol.PeerID]*signalPeer),
	}
}

func (c *Client) CreateLobby(ctx context.Context, self protocol.PeerID) (protocol.RoomCode, <-chan PeerChannel, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return "", nil, err
	}
	if err := writeSignal(conn, signal{Op: opCreate, From: self}); err != nil {
		conn.Close()
		return "", nil, err
	}
	resp, err := readSignal(conn)
	if err != nil {
		conn.Close()
		return "", nil, err
	}
	if resp.Op != opCreated {
		conn.Close()
		return "", nil, fmt.Errorf("rendezvous: create failed: %s", resp.Err)
	}

	c.attach(self, conn)
	return resp.Room, c.out, nil
}

func (c *Client) JoinLobby(ctx context.Context, code protocol.RoomCode, self protocol.PeerID) (<-chan PeerChannel, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	if err := writeSignal(conn, signal{Op: opJoin, Room: code, From: self}); err != nil {
		conn.Close()
		return nil, err
	}
	resp, err := readSignal(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if resp.Op != opJoined {
		conn.Close()
		return nil, joinError(resp.Err)
	}

	c.attach(self, conn)
	for _, peer := range resp.Peers {
		if err := c.offer(peer); err != nil {
			log.Printf("rendezvous: offer to %s: %v", peer, err)
		}
	}
	return c.out, nil
}

func (c *Client) RoomIsOpen(ctx context.Context, code protocol.RoomCode) (bool, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return false, err
	}
	defer conn.Close()
	if err := writeSignal(conn, signal{Op: opQuery, Room: code}); err != nil {
		return false, err
	}
	resp, err := readSignal(conn)
	if err != nil {
		return false, err
	}
	if resp.Op != opStatus {
		return false, joinError(resp.Err)
	}
	return resp.Open, nil
}

func (c *Client) MarkStarted(ctx context.Context, code protocol.RoomCode) error {
	return c.send(signal{Op: opStart, Room: code})
}

// Close tears down the signaling connection and every peer connection still
// handshaking. Established data channels are owned by the mesh and closed
// there.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	peers := c.peers
	c.peers = make(map[protocol.PeerID]*signalPeer)
	c.mu.Unlock()

	for _, sp := range peers {
		sp.pc.Close()
	}
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("rendezvous: dial %s: %w", c.url, err)
	}
	return conn, nil
}

func (c *Client) attach(self protocol.PeerID, conn *websocket.Conn) {
	c.mu.Lock()
	c.self = self
	c.conn = conn
	c.out = make(chan PeerChannel, 16)
	c.mu.Unlock()
	go c.readLoop(conn)
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer func() {
		c.mu.Lock()
		out := c.out
		c.mu.Unlock()
		if out != nil {
			close(out)
		}
	}()
	for {
		sig, err := readSignal(conn)
		if err != nil {
			return
		}
		switch sig.Op {
		case opOffer:
			if err := c.answer(sig); err != nil {
				log.Printf("rendezvous: answer to %s: %v", sig.From, err)
			}
		case opAnswer:
			c.acceptAnswer(sig)
		case opCandidate:
			c.addCandidate(sig)
		case opError:
			log.Printf("rendezvous: server error: %s", sig.Err)
		}
	}
}

// offer starts a handshake toward a peer that was in the room before us.
func (c *Client) offer(peer protocol.PeerID) error {
	sp, err := c.newPeer(peer)
	if err != nil {
		return err
	}
	dc, err := sp.pc.CreateDataChannel("game", nil)
	if err != nil {
		sp.pc.Close()
		return err
	}
	c.deliverOnOpen(peer, dc)

	offer, err := sp.pc.CreateOffer(nil)
	if err != nil {
		sp.pc.Close()
		return err
	}
	if err := sp.pc.SetLocalDescription(offer); err != nil {
		sp.pc.Close()
		return err
	}
	return c.send(signal{Op: opOffer, To: peer, From: c.self, SDP: offer.SDP})
}

// answer completes a handshake started by a later joiner.
func (c *Client) answer(sig signal) error {
	sp, err := c.newPeer(sig.From)
	if err != nil {
		return err
	}
	sp.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		c.deliverOnOpen(sig.From, dc)
	})

	if err := c.setRemote(sig.From, webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sig.SDP}); err != nil {
		return err
	}
	answer, err := sp.pc.CreateAnswer(nil)
	if err != nil {
		return err
	}
	if err := sp.pc.SetLocalDescription(answer); err != nil {
		return err
	}
	return c.send(signal{Op: opAnswer, To: sig.From, From: c.self, SDP: answer.SDP})
}

func (c *Client) acceptAnswer(sig signal) {
	desc := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sig.SDP}
	if err := c.setRemote(sig.From, desc); err != nil {
		log.Printf("rendezvous: answer from %s: %v", sig.From, err)
	}
}

func (c *Client) addCandidate(sig signal) {
	init := webrtc.ICECandidateInit{Candidate: sig.Candidate}
	c.mu.Lock()
	sp, ok := c.peers[sig.From]
	if ok && !sp.remote {
		sp.pending = append(sp.pending, init)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	if err := sp.pc.AddICECandidate(init); err != nil {
		log.Printf("rendezvous: candidate from %s: %v", sig.From, err)
	}
}

func (c *Client) setRemote(peer protocol.PeerID, desc webrtc.SessionDescription) error {
	c.mu.Lock()
	sp, ok := c.peers[peer]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("no handshake with %s", peer)
	}
	if err := sp.pc.SetRemoteDescription(desc); err != nil {
		return err
	}
	c.mu.Lock()
	sp.remote = true
	pending := sp.pending
	sp.pending = nil
	c.mu.Unlock()
	for _, init := range pending {
		if err := sp.pc.AddICECandidate(init); err != nil {
			log.Printf("rendezvous: parked candidate from %s: %v", peer, err)
		}
	}
	return nil
}

func (c *Client) newPeer(peer protocol.PeerID) (*signalPeer, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: c.ice})
	if err != nil {
		return nil, err
	}
	sp := &signalPeer{pc: pc}
	c.mu.Lock()
	c.peers[peer] = sp
	c.mu.Unlock()

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		if err := c.send(signal{Op: opCandidate, To: peer, From: c.self, Candidate: cand.ToJSON().Candidate}); err != nil {
			log.Printf("rendezvous: send candidate to %s: %v", peer, err)
		}
	})
	return sp, nil
}

func (c *Client) deliverOnOpen(peer protocol.PeerID, dc *webrtc.DataChannel) {
	ch := netx.NewDataChannel(dc, c.highWater)
	dc.OnOpen(func() {
		c.mu.Lock()
		out := c.out
		delete(c.peers, peer)
		c.mu.Unlock()
		if out == nil {
			return
		}
		select {
		case out <- PeerChannel{Peer: peer, Ch: ch}:
		default:
			log.Printf("rendezvous: dropping channel to %s: intake full", peer)
			ch.Close()
		}
	})
}

func (c *Client) send(sig signal) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrRoomNotFound
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return writeSignal(conn, sig)
}

func writeSignal(conn *websocket.Conn, sig signal) error {
	payload, err := json.Marshal(sig)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func readSignal(conn *websocket.Conn) (signal, error) {
	_, payload, err := conn.ReadMessage()
	if err != nil {
		return signal{}, err
	}
	var sig signal
	if err := json.Unmarshal(payload, &sig); err != nil {
		return signal{}, err
	}
	return sig, nil
}

func joinError(msg string) error {
	switch msg {
	case "room_not_found":
		return ErrRoomNotFound
	case "already_started":
		return ErrAlreadyStarted
	}
	return fmt.Errorf("rendezvous: %s", msg)
}
