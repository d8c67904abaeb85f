package sfu

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
)

// Kind tags a media stream as audio or video — the "dynamic dispatch on
// media kinds" spec.md §9 calls for modeling as a tagged variant.
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

func kindOf(codecType webrtc.RTPCodecType) Kind {
	if codecType == webrtc.RTPCodecTypeAudio {
		return KindAudio
	}
	return KindVideo
}

// RTPSink receives RTP packets forwarded from a Producer. WebRTC Consumers
// and the Recording Controller's UDP taps (internal/recording) both
// implement it, so a Producer forwards to either without knowing which.
type RTPSink interface {
	WriteRTP(pkt *rtp.Packet)
	Close()
}

// Producer is a server-side handle to a client's inbound media stream,
// tagged with the owning peer id in AppData so downstream consumers (and
// the recording controller) can attribute it (spec.md §4.4).
type Producer struct {
	ID       uuid.UUID
	PeerID   uuid.UUID
	RoomID   uuid.UUID
	Kind     Kind
	MimeType string

	track  *webrtc.TrackRemote
	mu     sync.RWMutex
	closed bool

	// subscribers are the sinks currently forwarding this producer's RTP,
	// keyed by sink id, so closing the producer can cascade.
	subscribers map[uuid.UUID]RTPSink

	logger *slog.Logger
}

func newProducer(id, peerID, roomID uuid.UUID, kind Kind, logger *slog.Logger) *Producer {
	return &Producer{
		ID:          id,
		PeerID:      peerID,
		RoomID:      roomID,
		Kind:        kind,
		subscribers: make(map[uuid.UUID]RTPSink),
		logger:      logger,
	}
}

// bind attaches the actual inbound RTP track once pion's negotiation
// completes and OnTrack fires (see Transport.awaitTrack/claimTrack). Ready
// reports whether forward() can be started; a producer signalled via
// produce() but never bound (client never actually sent media) just sits
// idle and closes cleanly with its peer.
func (p *Producer) bind(track *webrtc.TrackRemote) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.track = track
	p.MimeType = track.Codec().MimeType
}

func (p *Producer) Ready() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.track != nil
}

// forward reads RTP from the remote track until it ends or the producer
// closes, writing each packet to every current subscriber.
func (p *Producer) forward() {
	for {
		pkt, _, err := p.track.ReadRTP()
		if err != nil {
			p.logger.Debug("producer track ended", "producer_id", p.ID, "error", err)
			p.Close()
			return
		}

		p.mu.RLock()
		for _, sink := range p.subscribers {
			sink.WriteRTP(pkt)
		}
		p.mu.RUnlock()
	}
}

// AddSink registers a consumer or recording tap to receive this producer's
// forwarded RTP, keyed by an id the caller controls (a consumer id, or a
// tap id minted by the recording controller).
func (p *Producer) AddSink(id uuid.UUID, sink RTPSink) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribers[id] = sink
}

func (p *Producer) RemoveSink(id uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.subscribers, id)
}

// Close closes every subscribing sink (producerclose cascade per spec.md
// §4.4, §4.5) and marks the producer dead.
func (p *Producer) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	subs := make([]RTPSink, 0, len(p.subscribers))
	for _, sink := range p.subscribers {
		subs = append(subs, sink)
	}
	p.mu.Unlock()

	for _, sink := range subs {
		sink.Close()
	}
}

func (p *Producer) Closed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}
