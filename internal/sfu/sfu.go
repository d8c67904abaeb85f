// Package sfu implements the SFU Orchestrator (C5): per-room media
// routers, the peer/transport/producer/consumer graph, echo prevention,
// and producer discovery, built on pion/webrtc/v3 as the underlying media
// library the orchestrator drives rather than reimplements.
package sfu

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/observer/teatime/internal/fanout"
	"github.com/pion/webrtc/v3"
)

var (
	ErrRoomNotFound      = errors.New("media room not found")
	ErrPeerNotFound      = errors.New("peer not found")
	ErrTransportNotFound = errors.New("transport not found")
	ErrProducerNotFound  = errors.New("producer not found")
	ErrConsumerNotFound  = errors.New("consumer not found")
	ErrWrongDirection    = errors.New("transport does not support the requested operation")
	ErrOwnProducer       = errors.New("cannot-consume-own-producer")
	ErrIncompatibleCaps  = errors.New("peer capabilities cannot consume this producer")
)

// RecordingHooks lets the Recording Controller (C6) react to SFU events
// without the SFU importing it back; internal/recording.Controller
// satisfies this.
type RecordingHooks interface {
	ProducerCreated(ctx context.Context, roomID uuid.UUID)
	PeerRemoved(ctx context.Context, roomID uuid.UUID)
}

type noopHooks struct{}

func (noopHooks) ProducerCreated(ctx context.Context, roomID uuid.UUID) {}
func (noopHooks) PeerRemoved(ctx context.Context, roomID uuid.UUID)     {}

// NewProducerInfo is broadcast to the rest of the room on produce.
type NewProducerInfo struct {
	ProducerID uuid.UUID `json:"producer_id"`
	PeerID     uuid.UUID `json:"peer_id"`
	Kind       Kind      `json:"kind"`
	Username   string    `json:"username"`
}

// PeerLeftInfo is broadcast on leave_media_room/disconnect.
type PeerLeftInfo struct {
	PeerID uuid.UUID `json:"peer_id"`
}

// ConsumerDescriptor is returned from consume().
type ConsumerDescriptor struct {
	ID         uuid.UUID `json:"id"`
	ProducerID uuid.UUID `json:"producer_id"`
	Kind       Kind      `json:"kind"`
	Paused     bool      `json:"paused"`
}

const EventNewProducer = "new_producer"
const EventPeerLeft = "peer_left"

// SFU is C5. It owns one Router per active media room.
type SFU struct {
	pool      *WorkerPool
	net       NetConfig
	fanout    *fanout.Fanout
	recording RecordingHooks
	logger    *slog.Logger

	mu      sync.Mutex
	routers map[uuid.UUID]*Router
}

func New(pool *WorkerPool, net NetConfig, fanout *fanout.Fanout, logger *slog.Logger) *SFU {
	return &SFU{
		pool:      pool,
		net:       net,
		fanout:    fanout,
		recording: noopHooks{},
		logger:    logger,
		routers:   make(map[uuid.UUID]*Router),
	}
}

// SetRecordingHooks wires C6 in after construction, avoiding an import
// cycle (C6 depends on this package's types).
func (s *SFU) SetRecordingHooks(h RecordingHooks) {
	s.recording = h
}

func (s *SFU) getOrCreateRouter(roomID uuid.UUID) *Router {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.routers[roomID]; ok {
		return r
	}
	r := newRouter(roomID, s.pool.Next(), s.net)
	s.routers[roomID] = r
	s.logger.Info("sfu: router created", "room_id", roomID)
	return r
}

func (s *SFU) getRouter(roomID uuid.UUID) (*Router, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.routers[roomID]
	return r, ok
}

func (s *SFU) destroyRouterIfEmpty(roomID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.routers[roomID]
	if !ok || r.peerCount() > 0 {
		return
	}
	delete(s.routers, roomID)
	s.logger.Info("sfu: router destroyed", "room_id", roomID)
}

// Router exposes the room's router to collaborators (notably C6, which
// needs AllProducers/ActiveMediaPeerCount) without re-deriving it.
func (s *SFU) Router(roomID uuid.UUID) (*Router, bool) {
	return s.getRouter(roomID)
}

// JoinMediaRoom handles `join_media_room{roomId}`.
func (s *SFU) JoinMediaRoom(ctx context.Context, roomID, sessionID, userID uuid.UUID, username string) (RTPCapabilities, error) {
	router := s.getOrCreateRouter(roomID)
	router.addPeer(newPeer(sessionID, userID, username))
	return router.RTPCapabilities(), nil
}

// SetRTPCapabilities handles `set_rtp_capabilities{roomId, rtpCapabilities}`.
func (s *SFU) SetRTPCapabilities(roomID, peerID uuid.UUID, caps RTPCapabilities) error {
	router, ok := s.getRouter(roomID)
	if !ok {
		return ErrRoomNotFound
	}
	peer, ok := router.getPeer(peerID)
	if !ok {
		return ErrPeerNotFound
	}
	peer.Capabilities = caps
	return nil
}

// CreateTransport handles `create_transport{roomId, direction}`.
func (s *SFU) CreateTransport(ctx context.Context, roomID, peerID uuid.UUID, direction Direction) (*TransportParams, error) {
	router, ok := s.getRouter(roomID)
	if !ok {
		return nil, ErrRoomNotFound
	}
	peer, ok := router.getPeer(peerID)
	if !ok {
		return nil, ErrPeerNotFound
	}

	pc, err := router.worker.newPeerConnection(router.net)
	if err != nil {
		return nil, fmt.Errorf("create transport: %w", err)
	}

	transportID := uuid.New()
	transport := newTransport(transportID, peerID, direction, pc, s.logger)

	if direction == DirectionSend {
		pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
			s.bindIncomingTrack(router, transport, track)
		})
		peer.SendTransportID = &transportID
	} else {
		peer.RecvTransportID = &transportID
	}
	router.addTransport(transport)

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return nil, err
	}
	<-gatherComplete

	return &TransportParams{ID: transportID, SDP: pc.LocalDescription().SDP}, nil
}

// bindIncomingTrack attaches a freshly-negotiated remote track to whichever
// producer is awaiting a track of that kind on this transport, and starts
// forwarding it to current/future consumers.
func (s *SFU) bindIncomingTrack(router *Router, transport *Transport, track *webrtc.TrackRemote) {
	producer, ok := transport.claimTrack(kindOf(track.Kind()))
	if !ok {
		s.logger.Warn("sfu: incoming track with no matching pending producer", "transport_id", transport.ID, "kind", track.Kind().String())
		return
	}
	producer.bind(track)
	go producer.forward()
}

// ConnectTransport handles `connect_transport{roomId, transportId, dtlsParameters}`.
// dtlsParameters arrives here as the client's SDP answer (see TransportParams).
func (s *SFU) ConnectTransport(roomID, transportID uuid.UUID, clientSDP string) error {
	router, ok := s.getRouter(roomID)
	if !ok {
		return ErrRoomNotFound
	}
	transport, ok := router.getTransport(transportID)
	if !ok {
		return ErrTransportNotFound
	}
	return transport.Connect(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: clientSDP})
}

// Produce handles `produce{roomId, transportId, kind, rtpParameters, appData}`.
// The actual RTP track binds asynchronously once pion's negotiation
// completes (see bindIncomingTrack); the producer id is usable immediately.
func (s *SFU) Produce(ctx context.Context, roomID, peerID, transportID uuid.UUID, kind Kind) (uuid.UUID, error) {
	router, ok := s.getRouter(roomID)
	if !ok {
		return uuid.Nil, ErrRoomNotFound
	}
	peer, ok := router.getPeer(peerID)
	if !ok {
		return uuid.Nil, ErrPeerNotFound
	}
	transport, ok := router.getTransport(transportID)
	if !ok {
		return uuid.Nil, ErrTransportNotFound
	}
	if transport.Direction != DirectionSend {
		return uuid.Nil, ErrWrongDirection
	}

	producerID := uuid.New()
	producer := newProducer(producerID, peerID, roomID, kind, s.logger)
	router.addProducer(producer)
	peer.ProducerIDs[producerID] = true
	transport.awaitTrack(producer)

	s.fanout.Broadcast(ctx, roomID, peerID, EventNewProducer, NewProducerInfo{
		ProducerID: producerID, PeerID: peerID, Kind: kind, Username: peer.Username,
	})
	s.recording.ProducerCreated(ctx, roomID)

	return producerID, nil
}

// Consume handles `consume{roomId, producerId}`. The new consumer starts
// paused; the client must resume_consumer once ready (spec.md §4.4).
func (s *SFU) Consume(ctx context.Context, roomID, consumerPeerID, producerID uuid.UUID) (*ConsumerDescriptor, error) {
	router, ok := s.getRouter(roomID)
	if !ok {
		return nil, ErrRoomNotFound
	}
	peer, ok := router.getPeer(consumerPeerID)
	if !ok {
		return nil, ErrPeerNotFound
	}
	producer, ok := router.getProducer(producerID)
	if !ok {
		return nil, ErrProducerNotFound
	}
	if producer.PeerID == consumerPeerID {
		return nil, ErrOwnProducer
	}
	// A producer whose RTP track has not bound yet has no negotiated mime
	// type; fall back to its kind's default codec, as the recording taps do.
	mimeType := producer.MimeType
	if mimeType == "" {
		mimeType = webrtc.MimeTypeOpus
		if producer.Kind == KindVideo {
			mimeType = webrtc.MimeTypeVP8
		}
	}
	if !canConsume(peer.Capabilities, mimeType) {
		return nil, ErrIncompatibleCaps
	}
	if peer.RecvTransportID == nil {
		return nil, ErrTransportNotFound
	}
	recvTransport, ok := router.getTransport(*peer.RecvTransportID)
	if !ok {
		return nil, ErrTransportNotFound
	}

	codec := webrtc.RTPCodecCapability{MimeType: mimeType, ClockRate: 48000}
	if producer.Kind == KindVideo {
		codec.ClockRate = 90000
	}
	localTrack, err := webrtc.NewTrackLocalStaticRTP(codec, producer.ID.String(), producer.PeerID.String())
	if err != nil {
		return nil, err
	}
	sender, err := recvTransport.pc.AddTrack(localTrack)
	if err != nil {
		return nil, err
	}
	go drainRTCP(sender)

	consumerID := uuid.New()
	consumer := newConsumer(consumerID, consumerPeerID, producer, localTrack)
	router.addConsumer(consumer)
	peer.ConsumerIDs[consumerID] = true
	producer.AddSink(consumer.ID, consumer)

	return &ConsumerDescriptor{ID: consumerID, ProducerID: producerID, Kind: producer.Kind, Paused: true}, nil
}

// drainRTCP reads and discards RTCP (PLI/NACK/etc) on a sender, which pion
// requires to keep the underlying connection healthy.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// ResumeConsumer handles `resume_consumer{roomId, consumerId}`.
func (s *SFU) ResumeConsumer(roomID, consumerID uuid.UUID) error {
	router, ok := s.getRouter(roomID)
	if !ok {
		return ErrRoomNotFound
	}
	consumer, ok := router.getConsumer(consumerID)
	if !ok {
		return ErrConsumerNotFound
	}
	consumer.Resume()
	return nil
}

// GetProducers handles `get_producers{roomId}`.
func (s *SFU) GetProducers(roomID, requesterPeerID uuid.UUID) ([]NewProducerInfo, error) {
	router, ok := s.getRouter(roomID)
	if !ok {
		return nil, ErrRoomNotFound
	}
	var out []NewProducerInfo
	for _, p := range router.ProducersExcept(requesterPeerID) {
		peer, _ := router.getPeer(p.PeerID)
		username := ""
		if peer != nil {
			username = peer.Username
		}
		out = append(out, NewProducerInfo{ProducerID: p.ID, PeerID: p.PeerID, Kind: p.Kind, Username: username})
	}
	return out, nil
}

// LeaveMediaRoom handles `leave_media_room` and the disconnect cascade
// (spec.md §4.4, §4.7): close all of the peer's producers/consumers/
// transports, remove it from the room, notify the room, and destroy the
// router if it is now empty.
func (s *SFU) LeaveMediaRoom(ctx context.Context, roomID, peerID uuid.UUID) {
	router, ok := s.getRouter(roomID)
	if !ok {
		return
	}

	router.removePeer(peerID)
	s.recording.PeerRemoved(ctx, roomID)
	s.fanout.Broadcast(ctx, roomID, peerID, EventPeerLeft, PeerLeftInfo{PeerID: peerID})
	s.destroyRouterIfEmpty(roomID)
}
