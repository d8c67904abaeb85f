package sfu

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/observer/teatime/internal/fanout"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubMembers struct{}

func (stubMembers) ActiveParticipants(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error) {
	return nil, nil
}

type stubSessions struct{}

func (stubSessions) SessionsOf(userID uuid.UUID) []uuid.UUID { return nil }
func (stubSessions) Sessions() []uuid.UUID                   { return nil }

type stubEmitter struct{ sent []string }

func (e *stubEmitter) EmitToSession(sessionID uuid.UUID, event string, payload interface{}) {
	e.sent = append(e.sent, event)
}

func newTestSFU(t *testing.T) *SFU {
	t.Helper()
	pool, err := NewWorkerPool(1, NetConfig{}, silentLogger())
	require.NoError(t, err)
	fo := fanout.New(stubMembers{}, stubSessions{}, &stubEmitter{}, silentLogger())
	return New(pool, NetConfig{}, fo, silentLogger())
}

func TestJoinMediaRoom_CreatesRouterAndReturnsFixedCodecSet(t *testing.T) {
	s := newTestSFU(t)
	roomID, sessionID, userID := uuid.New(), uuid.New(), uuid.New()

	caps, err := s.JoinMediaRoom(context.Background(), roomID, sessionID, userID, "alice")
	require.NoError(t, err)
	assert.Len(t, caps.Codecs, 3)

	router, ok := s.Router(roomID)
	require.True(t, ok)
	assert.Equal(t, 1, router.peerCount())
}

func TestJoinMediaRoom_SecondPeerReusesSameRouter(t *testing.T) {
	s := newTestSFU(t)
	roomID := uuid.New()

	_, err := s.JoinMediaRoom(context.Background(), roomID, uuid.New(), uuid.New(), "alice")
	require.NoError(t, err)
	_, err = s.JoinMediaRoom(context.Background(), roomID, uuid.New(), uuid.New(), "bob")
	require.NoError(t, err)

	router, ok := s.Router(roomID)
	require.True(t, ok)
	assert.Equal(t, 2, router.peerCount())
}

func TestSetRTPCapabilities_UnknownRoomOrPeerFails(t *testing.T) {
	s := newTestSFU(t)
	roomID, sessionID, userID := uuid.New(), uuid.New(), uuid.New()
	_, err := s.JoinMediaRoom(context.Background(), roomID, sessionID, userID, "alice")
	require.NoError(t, err)

	assert.ErrorIs(t, s.SetRTPCapabilities(uuid.New(), sessionID, RTPCapabilities{}), ErrRoomNotFound)
	assert.ErrorIs(t, s.SetRTPCapabilities(roomID, uuid.New(), RTPCapabilities{}), ErrPeerNotFound)
	assert.NoError(t, s.SetRTPCapabilities(roomID, sessionID, RTPCapabilities{Codecs: []CodecCapability{{MimeType: "audio/opus"}}}))
}

func TestCreateTransport_ReturnsOfferSDPForBothDirections(t *testing.T) {
	s := newTestSFU(t)
	roomID, sessionID, userID := uuid.New(), uuid.New(), uuid.New()
	_, err := s.JoinMediaRoom(context.Background(), roomID, sessionID, userID, "alice")
	require.NoError(t, err)

	sendParams, err := s.CreateTransport(context.Background(), roomID, sessionID, DirectionSend)
	require.NoError(t, err)
	assert.NotEmpty(t, sendParams.SDP)

	recvParams, err := s.CreateTransport(context.Background(), roomID, sessionID, DirectionRecv)
	require.NoError(t, err)
	assert.NotEmpty(t, recvParams.SDP)
	assert.NotEqual(t, sendParams.ID, recvParams.ID)

	router, ok := s.Router(roomID)
	require.True(t, ok)
	peer, ok := router.getPeer(sessionID)
	require.True(t, ok)
	assert.Equal(t, sendParams.ID, *peer.SendTransportID)
	assert.Equal(t, recvParams.ID, *peer.RecvTransportID)
}

func TestCreateTransport_UnknownRoomOrPeerFails(t *testing.T) {
	s := newTestSFU(t)
	roomID, sessionID, userID := uuid.New(), uuid.New(), uuid.New()
	_, err := s.JoinMediaRoom(context.Background(), roomID, sessionID, userID, "alice")
	require.NoError(t, err)

	_, err = s.CreateTransport(context.Background(), uuid.New(), sessionID, DirectionSend)
	assert.ErrorIs(t, err, ErrRoomNotFound)

	_, err = s.CreateTransport(context.Background(), roomID, uuid.New(), DirectionSend)
	assert.ErrorIs(t, err, ErrPeerNotFound)
}

func TestProduce_RequiresSendTransport(t *testing.T) {
	s := newTestSFU(t)
	roomID, sessionID, userID := uuid.New(), uuid.New(), uuid.New()
	_, err := s.JoinMediaRoom(context.Background(), roomID, sessionID, userID, "alice")
	require.NoError(t, err)
	recvParams, err := s.CreateTransport(context.Background(), roomID, sessionID, DirectionRecv)
	require.NoError(t, err)

	_, err = s.Produce(context.Background(), roomID, sessionID, recvParams.ID, KindAudio)
	assert.ErrorIs(t, err, ErrWrongDirection)
}

func TestProduce_SucceedsOnSendTransportAndBroadcastsNewProducer(t *testing.T) {
	s := newTestSFU(t)
	roomID, sessionID, userID := uuid.New(), uuid.New(), uuid.New()
	_, err := s.JoinMediaRoom(context.Background(), roomID, sessionID, userID, "alice")
	require.NoError(t, err)
	sendParams, err := s.CreateTransport(context.Background(), roomID, sessionID, DirectionSend)
	require.NoError(t, err)

	producerID, err := s.Produce(context.Background(), roomID, sessionID, sendParams.ID, KindAudio)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, producerID)

	router, ok := s.Router(roomID)
	require.True(t, ok)
	producer, ok := router.getProducer(producerID)
	require.True(t, ok)
	assert.Equal(t, sessionID, producer.PeerID)
	assert.False(t, producer.Ready())
}

func TestConsume_RejectsOwnProducer(t *testing.T) {
	s := newTestSFU(t)
	roomID, sessionID, userID := uuid.New(), uuid.New(), uuid.New()
	_, err := s.JoinMediaRoom(context.Background(), roomID, sessionID, userID, "alice")
	require.NoError(t, err)
	sendParams, err := s.CreateTransport(context.Background(), roomID, sessionID, DirectionSend)
	require.NoError(t, err)
	producerID, err := s.Produce(context.Background(), roomID, sessionID, sendParams.ID, KindAudio)
	require.NoError(t, err)

	_, err = s.CreateTransport(context.Background(), roomID, sessionID, DirectionRecv)
	require.NoError(t, err)

	_, err = s.Consume(context.Background(), roomID, sessionID, producerID)
	assert.ErrorIs(t, err, ErrOwnProducer)
}

func TestConsume_RejectsIncompatibleCapabilities(t *testing.T) {
	s := newTestSFU(t)
	roomID := uuid.New()

	producerSession := uuid.New()
	_, err := s.JoinMediaRoom(context.Background(), roomID, producerSession, uuid.New(), "alice")
	require.NoError(t, err)
	sendParams, err := s.CreateTransport(context.Background(), roomID, producerSession, DirectionSend)
	require.NoError(t, err)
	producerID, err := s.Produce(context.Background(), roomID, producerSession, sendParams.ID, KindVideo)
	require.NoError(t, err)

	consumerSession := uuid.New()
	_, err = s.JoinMediaRoom(context.Background(), roomID, consumerSession, uuid.New(), "bob")
	require.NoError(t, err)
	_, err = s.CreateTransport(context.Background(), roomID, consumerSession, DirectionRecv)
	require.NoError(t, err)

	require.NoError(t, s.SetRTPCapabilities(roomID, consumerSession, RTPCapabilities{
		Codecs: []CodecCapability{{MimeType: "audio/opus"}},
	}))

	_, err = s.Consume(context.Background(), roomID, consumerSession, producerID)
	assert.ErrorIs(t, err, ErrIncompatibleCaps)
}

func TestConsume_SucceedsAndStartsPaused(t *testing.T) {
	s := newTestSFU(t)
	roomID := uuid.New()

	producerSession := uuid.New()
	_, err := s.JoinMediaRoom(context.Background(), roomID, producerSession, uuid.New(), "alice")
	require.NoError(t, err)
	sendParams, err := s.CreateTransport(context.Background(), roomID, producerSession, DirectionSend)
	require.NoError(t, err)
	producerID, err := s.Produce(context.Background(), roomID, producerSession, sendParams.ID, KindVideo)
	require.NoError(t, err)

	consumerSession := uuid.New()
	_, err = s.JoinMediaRoom(context.Background(), roomID, consumerSession, uuid.New(), "bob")
	require.NoError(t, err)
	_, err = s.CreateTransport(context.Background(), roomID, consumerSession, DirectionRecv)
	require.NoError(t, err)
	require.NoError(t, s.SetRTPCapabilities(roomID, consumerSession, RTPCapabilities{
		Codecs: []CodecCapability{{MimeType: "video/VP8"}},
	}))

	descriptor, err := s.Consume(context.Background(), roomID, consumerSession, producerID)
	require.NoError(t, err)
	assert.True(t, descriptor.Paused)
	assert.Equal(t, producerID, descriptor.ProducerID)

	require.NoError(t, s.ResumeConsumer(roomID, descriptor.ID))

	router, ok := s.Router(roomID)
	require.True(t, ok)
	consumer, ok := router.getConsumer(descriptor.ID)
	require.True(t, ok)
	assert.False(t, consumer.Paused())
}

func TestGetProducers_ExcludesRequesterAndClosedProducers(t *testing.T) {
	s := newTestSFU(t)
	roomID := uuid.New()

	a := uuid.New()
	_, err := s.JoinMediaRoom(context.Background(), roomID, a, uuid.New(), "alice")
	require.NoError(t, err)
	sendA, err := s.CreateTransport(context.Background(), roomID, a, DirectionSend)
	require.NoError(t, err)
	producerA, err := s.Produce(context.Background(), roomID, a, sendA.ID, KindAudio)
	require.NoError(t, err)

	b := uuid.New()
	_, err = s.JoinMediaRoom(context.Background(), roomID, b, uuid.New(), "bob")
	require.NoError(t, err)
	sendB, err := s.CreateTransport(context.Background(), roomID, b, DirectionSend)
	require.NoError(t, err)
	_, err = s.Produce(context.Background(), roomID, b, sendB.ID, KindAudio)
	require.NoError(t, err)

	fromA, err := s.GetProducers(roomID, a)
	require.NoError(t, err)
	require.Len(t, fromA, 1)
	assert.Equal(t, b, fromA[0].PeerID)

	router, ok := s.Router(roomID)
	require.True(t, ok)
	producer, ok := router.getProducer(producerA)
	require.True(t, ok)
	producer.Close()

	fromB, err := s.GetProducers(roomID, b)
	require.NoError(t, err)
	assert.Empty(t, fromB)
}

func TestLeaveMediaRoom_DestroysRouterWhenLastPeerLeaves(t *testing.T) {
	s := newTestSFU(t)
	roomID, sessionID, userID := uuid.New(), uuid.New(), uuid.New()
	_, err := s.JoinMediaRoom(context.Background(), roomID, sessionID, userID, "alice")
	require.NoError(t, err)

	s.LeaveMediaRoom(context.Background(), roomID, sessionID)

	_, ok := s.Router(roomID)
	assert.False(t, ok)
}

func TestLeaveMediaRoom_KeepsRouterAliveForRemainingPeers(t *testing.T) {
	s := newTestSFU(t)
	roomID := uuid.New()

	a, b := uuid.New(), uuid.New()
	_, err := s.JoinMediaRoom(context.Background(), roomID, a, uuid.New(), "alice")
	require.NoError(t, err)
	_, err = s.JoinMediaRoom(context.Background(), roomID, b, uuid.New(), "bob")
	require.NoError(t, err)

	s.LeaveMediaRoom(context.Background(), roomID, a)

	router, ok := s.Router(roomID)
	require.True(t, ok)
	assert.Equal(t, 1, router.peerCount())
}

func TestWorkerPool_RoundRobinsAcrossWorkers(t *testing.T) {
	pool, err := NewWorkerPool(3, NetConfig{}, silentLogger())
	require.NoError(t, err)

	ids := make(map[int]bool)
	for i := 0; i < 6; i++ {
		ids[pool.Next().id] = true
	}
	assert.Len(t, ids, 3)
}
