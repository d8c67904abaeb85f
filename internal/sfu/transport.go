package sfu

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
)

// Direction names which side of a peer's media a transport carries,
// mirroring the client's perspective: send transports carry producers
// (client uploads), recv transports carry consumers (client downloads).
type Direction string

const (
	DirectionSend Direction = "send"
	DirectionRecv Direction = "recv"
)

// TransportParams is what create_transport returns to the client. Pion
// negotiates ICE/DTLS as part of a full SDP exchange rather than
// mediasoup's discrete ice/dtls parameter objects, so the server's offer
// (carrying the ICE ufrag/pwd and DTLS fingerprint inline) stands in for
// them; connect_transport supplies the matching client SDP answer.
type TransportParams struct {
	ID  uuid.UUID `json:"id"`
	SDP string    `json:"sdp"`
}

// Transport wraps one pion PeerConnection. Arena-held: a Router owns the
// authoritative map keyed by ID; a Peer only remembers which IDs are its
// own (spec.md §9 "arena + id handles").
type Transport struct {
	ID        uuid.UUID
	PeerID    uuid.UUID
	Direction Direction
	pc        *webrtc.PeerConnection

	mu      sync.Mutex
	closed  bool
	pending map[Kind]*Producer // produced-but-not-yet-bound-to-a-track
	logger  *slog.Logger
}

func newTransport(id, peerID uuid.UUID, direction Direction, pc *webrtc.PeerConnection, logger *slog.Logger) *Transport {
	t := &Transport{ID: id, PeerID: peerID, Direction: direction, pc: pc, pending: make(map[Kind]*Producer), logger: logger}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if state == webrtc.PeerConnectionStateClosed || state == webrtc.PeerConnectionStateFailed {
			t.logger.Info("transport self-closing on connection state change", "transport_id", id, "state", state.String())
			_ = t.Close()
		}
	})
	return t
}

// Connect performs DTLS against the remote's parameters. In pion terms,
// that's applying the remote description carrying those fingerprints;
// the caller is expected to have already created an offer/answer out of
// band and supply it as sdp.
func (t *Transport) Connect(remote webrtc.SessionDescription) error {
	return t.pc.SetRemoteDescription(remote)
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.pc.Close()
}

func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// awaitTrack registers a freshly produced Producer as awaiting its RTP
// binding: pion only learns of the actual track once SDP negotiation
// completes and OnTrack fires, which happens after produce()'s ack has
// already been sent.
func (t *Transport) awaitTrack(p *Producer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending[p.Kind] = p
}

// claimTrack pops the pending producer matching an incoming track's kind,
// if any. A track arriving with no matching pending producer is logged
// and dropped.
func (t *Transport) claimTrack(kind Kind) (*Producer, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.pending[kind]
	if ok {
		delete(t.pending, kind)
	}
	return p, ok
}
