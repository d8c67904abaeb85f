package signalling

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/observer/teatime/internal/domain"
	"github.com/observer/teatime/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCalls struct {
	calls map[uuid.UUID]*domain.Call
}

func newStubCalls() *stubCalls {
	return &stubCalls{calls: make(map[uuid.UUID]*domain.Call)}
}

func (c *stubCalls) CreateCall(ctx context.Context, roomID, initiatorID uuid.UUID, callType domain.CallType) (*domain.Call, error) {
	call := &domain.Call{ID: uuid.New(), RoomID: roomID, InitiatorID: initiatorID, CallType: callType, Status: domain.CallStatusRinging}
	c.calls[call.ID] = call
	return call, nil
}

func (c *stubCalls) SetStatus(ctx context.Context, callID uuid.UUID, status domain.CallStatus) error {
	c.calls[callID].Status = status
	return nil
}

func (c *stubCalls) AddParticipant(ctx context.Context, callID, userID uuid.UUID, answered bool) error {
	return nil
}

func (c *stubCalls) GetByID(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	call, ok := c.calls[callID]
	if !ok {
		return nil, domain.ErrCallNotFound
	}
	return call, nil
}

func (c *stubCalls) GetActiveCallForRoom(ctx context.Context, roomID uuid.UUID) (*domain.Call, error) {
	for _, call := range c.calls {
		if call.RoomID == roomID && !call.Status.Terminal() {
			return call, nil
		}
	}
	return nil, nil
}

func (c *stubCalls) GetCallHistoryForRoom(ctx context.Context, roomID uuid.UUID, limit, offset int) ([]domain.Call, error) {
	var out []domain.Call
	for _, call := range c.calls {
		if call.RoomID == roomID {
			out = append(out, *call)
		}
	}
	return out, nil
}

type stubSessions struct {
	byUser map[uuid.UUID][]uuid.UUID
	bySess map[uuid.UUID]uuid.UUID
}

func (s *stubSessions) UserOf(sessionID uuid.UUID) (registry.Entry, bool) {
	userID, ok := s.bySess[sessionID]
	if !ok {
		return registry.Entry{}, false
	}
	return registry.Entry{UserID: userID}, true
}

func (s *stubSessions) SessionsOf(userID uuid.UUID) []uuid.UUID {
	return s.byUser[userID]
}

type recordingEmitter struct {
	events []emitted
}

type emitted struct {
	sessionID uuid.UUID
	event     string
	payload   interface{}
}

func (e *recordingEmitter) EmitToSession(sessionID uuid.UUID, event string, payload interface{}) {
	e.events = append(e.events, emitted{sessionID, event, payload})
}

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCallUser_EmitsIncomingCallAndRingsBackWhenCalleeOnline(t *testing.T) {
	callerUser, calleeUser := uuid.New(), uuid.New()
	callerSession, calleeSession := uuid.New(), uuid.New()
	roomID := uuid.New()

	calls := newStubCalls()
	sessions := &stubSessions{
		byUser: map[uuid.UUID][]uuid.UUID{calleeUser: {calleeSession}},
		bySess: map[uuid.UUID]uuid.UUID{callerSession: callerUser, calleeSession: calleeUser},
	}
	emitter := &recordingEmitter{}
	s := New(calls, sessions, emitter, silentLogger())

	err := s.CallUser(context.Background(), callerSession, callerUser, roomID, calleeUser, "sdp-offer", true)
	require.NoError(t, err)

	require.Len(t, emitter.events, 2)
	assert.Equal(t, calleeSession, emitter.events[0].sessionID)
	assert.Equal(t, EventIncomingCall, emitter.events[0].event)
	assert.Equal(t, callerSession, emitter.events[1].sessionID)
	assert.Equal(t, EventCallRinging, emitter.events[1].event)
}

func TestCallUser_NoRingBackWhenCalleeOffline(t *testing.T) {
	callerUser, calleeUser := uuid.New(), uuid.New()
	callerSession := uuid.New()
	roomID := uuid.New()

	calls := newStubCalls()
	sessions := &stubSessions{bySess: map[uuid.UUID]uuid.UUID{callerSession: callerUser}}
	emitter := &recordingEmitter{}
	s := New(calls, sessions, emitter, silentLogger())

	err := s.CallUser(context.Background(), callerSession, callerUser, roomID, calleeUser, "sdp-offer", false)
	require.NoError(t, err)

	require.Len(t, emitter.events, 1, "incoming_call is still attempted unconditionally")
	assert.Equal(t, EventIncomingCall, emitter.events[0].event)
}

func TestAnswerCall_TransitionsToOngoingAndNotifiesCaller(t *testing.T) {
	callerUser, calleeUser := uuid.New(), uuid.New()
	callerSession, calleeSession := uuid.New(), uuid.New()
	roomID := uuid.New()

	calls := newStubCalls()
	sessions := &stubSessions{
		bySess: map[uuid.UUID]uuid.UUID{callerSession: callerUser, calleeSession: calleeUser},
	}
	emitter := &recordingEmitter{}
	s := New(calls, sessions, emitter, silentLogger())

	require.NoError(t, s.CallUser(context.Background(), callerSession, callerUser, roomID, calleeUser, "offer", false))
	emitter.events = nil

	require.NoError(t, s.AnswerCall(context.Background(), calleeUser, roomID, callerSession, "answer-sdp"))

	var call *domain.Call
	for _, c := range calls.calls {
		call = c
	}
	assert.Equal(t, domain.CallStatusOngoing, call.Status)
	require.Len(t, emitter.events, 1)
	assert.Equal(t, EventCallAccepted, emitter.events[0].event)
	assert.Equal(t, callerSession, emitter.events[0].sessionID)
}

func TestEndCall_StillRinging_RecordsMissed(t *testing.T) {
	callerUser, calleeUser := uuid.New(), uuid.New()
	callerSession := uuid.New()
	roomID := uuid.New()

	calls := newStubCalls()
	sessions := &stubSessions{bySess: map[uuid.UUID]uuid.UUID{callerSession: callerUser}}
	emitter := &recordingEmitter{}
	s := New(calls, sessions, emitter, silentLogger())

	require.NoError(t, s.CallUser(context.Background(), callerSession, callerUser, roomID, calleeUser, "offer", false))

	require.NoError(t, s.EndCall(context.Background(), roomID, calleeUser))

	var call *domain.Call
	for _, c := range calls.calls {
		call = c
	}
	assert.Equal(t, domain.CallStatusMissed, call.Status)
}

func TestEndCall_Ongoing_RecordsCompleted(t *testing.T) {
	callerUser, calleeUser := uuid.New(), uuid.New()
	callerSession, calleeSession := uuid.New(), uuid.New()
	roomID := uuid.New()

	calls := newStubCalls()
	sessions := &stubSessions{bySess: map[uuid.UUID]uuid.UUID{callerSession: callerUser, calleeSession: calleeUser}}
	emitter := &recordingEmitter{}
	s := New(calls, sessions, emitter, silentLogger())

	require.NoError(t, s.CallUser(context.Background(), callerSession, callerUser, roomID, calleeUser, "offer", false))
	require.NoError(t, s.AnswerCall(context.Background(), calleeUser, roomID, callerSession, "answer"))

	require.NoError(t, s.EndCall(context.Background(), roomID, calleeSession))

	var call *domain.Call
	for _, c := range calls.calls {
		call = c
	}
	assert.Equal(t, domain.CallStatusCompleted, call.Status)
}

func TestRejectCall_DropsMappingAndNotifiesCaller(t *testing.T) {
	callerUser, calleeUser := uuid.New(), uuid.New()
	callerSession := uuid.New()
	roomID := uuid.New()

	calls := newStubCalls()
	sessions := &stubSessions{bySess: map[uuid.UUID]uuid.UUID{callerSession: callerUser}}
	emitter := &recordingEmitter{}
	s := New(calls, sessions, emitter, silentLogger())

	require.NoError(t, s.CallUser(context.Background(), callerSession, callerUser, roomID, calleeUser, "offer", false))
	emitter.events = nil

	require.NoError(t, s.RejectCall(context.Background(), roomID, callerSession))

	require.Len(t, emitter.events, 1)
	assert.Equal(t, EventCallRejected, emitter.events[0].event)

	_, err := s.resolveCallID(context.Background(), roomID)
	assert.NoError(t, err)
	s.mu.Lock()
	_, stillMapped := s.activeCalls[roomID]
	s.mu.Unlock()
	assert.False(t, stillMapped)
}

func TestIceCandidate_ForwardsWithFromTag(t *testing.T) {
	senderSession, recipientSession := uuid.New(), uuid.New()
	sessions := &stubSessions{bySess: map[uuid.UUID]uuid.UUID{recipientSession: uuid.New()}}
	emitter := &recordingEmitter{}
	s := New(newStubCalls(), sessions, emitter, silentLogger())

	s.IceCandidate(senderSession, recipientSession, map[string]string{"candidate": "..."})

	require.Len(t, emitter.events, 1)
	assert.Equal(t, recipientSession, emitter.events[0].sessionID)
	forward, ok := emitter.events[0].payload.(IceCandidateForward)
	require.True(t, ok)
	assert.Equal(t, senderSession, forward.From)
}
