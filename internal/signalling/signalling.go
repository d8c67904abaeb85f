// Package signalling implements the Signalling Bridge (C4): the four-event
// state machine (call_user/answer_call/reject_call/end_call) layered over a
// Call row keyed by room id, plus raw ICE candidate forwarding.
package signalling

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/observer/teatime/internal/domain"
	"github.com/observer/teatime/internal/registry"
)

const (
	EventIncomingCall = "incoming_call"
	EventCallRinging  = "call_ringing"
	EventCallAccepted = "call_accepted"
	EventCallRejected = "call_rejected"
	EventCallEnded    = "call_ended"
	EventIceCandidate = "ice_candidate"
)

// Calls is the persistence surface C4 needs. database.CallRepository
// satisfies this.
type Calls interface {
	CreateCall(ctx context.Context, roomID, initiatorID uuid.UUID, callType domain.CallType) (*domain.Call, error)
	SetStatus(ctx context.Context, callID uuid.UUID, status domain.CallStatus) error
	AddParticipant(ctx context.Context, callID, userID uuid.UUID, answered bool) error
	GetByID(ctx context.Context, callID uuid.UUID) (*domain.Call, error)
	GetActiveCallForRoom(ctx context.Context, roomID uuid.UUID) (*domain.Call, error)
	GetCallHistoryForRoom(ctx context.Context, roomID uuid.UUID, limit, offset int) ([]domain.Call, error)
}

// Sessions resolves the `to` address of a signalling event, which spec.md
// §4.6 allows to be either a literal session id or a user id. internal/
// registry.Registry satisfies this.
type Sessions interface {
	UserOf(sessionID uuid.UUID) (registry.Entry, bool)
	SessionsOf(userID uuid.UUID) []uuid.UUID
}

// Emitter delivers one event to one session.
type Emitter interface {
	EmitToSession(sessionID uuid.UUID, event string, payload interface{})
}

// IncomingCall is delivered to the callee.
type IncomingCall struct {
	From    uuid.UUID   `json:"from"`
	RoomID  uuid.UUID   `json:"room_id"`
	CallID  uuid.UUID   `json:"call_id"`
	Signal  interface{} `json:"signal"`
	IsVideo bool        `json:"is_video"`
}

// CallRinging is echoed to the caller once the callee is confirmed online.
type CallRinging struct {
	RoomID uuid.UUID `json:"room_id"`
	CallID uuid.UUID `json:"call_id"`
}

// CallAccepted carries the callee's answer signal back to the caller.
type CallAccepted struct {
	RoomID uuid.UUID   `json:"room_id"`
	CallID uuid.UUID   `json:"call_id"`
	Signal interface{} `json:"signal"`
}

// CallRejected/CallEnded carry no signal, just enough to identify the call.
type CallRejected struct {
	RoomID uuid.UUID `json:"room_id"`
	CallID uuid.UUID `json:"call_id"`
}

type CallEnded struct {
	RoomID uuid.UUID `json:"room_id"`
	CallID uuid.UUID `json:"call_id"`
}

// IceCandidateForward relays a raw ICE candidate, tagged with the
// forwarding session so the recipient knows who it came from.
type IceCandidateForward struct {
	From      uuid.UUID   `json:"from"`
	Candidate interface{} `json:"candidate"`
}

// Signalling is C4. The room_id -> call_id map is purely a fast path: if a
// process restarts mid-call the row survives in Postgres and
// resolveCallID falls back to GetActiveCallForRoom.
type Signalling struct {
	calls    Calls
	sessions Sessions
	emit     Emitter
	logger   *slog.Logger

	mu          sync.Mutex
	activeCalls map[uuid.UUID]uuid.UUID
}

func New(calls Calls, sessions Sessions, emit Emitter, logger *slog.Logger) *Signalling {
	return &Signalling{
		calls:       calls,
		sessions:    sessions,
		emit:        emit,
		logger:      logger,
		activeCalls: make(map[uuid.UUID]uuid.UUID),
	}
}

// resolve maps a `to` address to a delivery session id. Per spec.md §4.6,
// `to` may already be a session id, or it may be a user id to resolve via
// the Session Registry, with the first matching session winning. Returns
// the original `to` unchanged, with found=false, when it resolves as
// neither — callers still emit to it; EmitToSession is a no-op for an
// unknown session, giving the "dropped silently" behavior for free.
func (s *Signalling) resolve(to uuid.UUID) (sessionID uuid.UUID, found bool) {
	if _, ok := s.sessions.UserOf(to); ok {
		return to, true
	}
	if sessions := s.sessions.SessionsOf(to); len(sessions) > 0 {
		return sessions[0], true
	}
	return to, false
}

// CallUser handles `call_user(to, signal, is_video, room_id)`.
func (s *Signalling) CallUser(ctx context.Context, callerSession, callerUserID, roomID, to uuid.UUID, signal interface{}, isVideo bool) error {
	callType := domain.CallTypeAudio
	if isVideo {
		callType = domain.CallTypeVideo
	}

	call, err := s.calls.CreateCall(ctx, roomID, callerUserID, callType)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.activeCalls[roomID] = call.ID
	s.mu.Unlock()

	target, found := s.resolve(to)
	s.emit.EmitToSession(target, EventIncomingCall, IncomingCall{
		From: callerSession, RoomID: roomID, CallID: call.ID, Signal: signal, IsVideo: isVideo,
	})
	if found {
		s.emit.EmitToSession(callerSession, EventCallRinging, CallRinging{RoomID: roomID, CallID: call.ID})
	}
	return nil
}

// AnswerCall handles `answer_call(to, signal, room_id)`.
func (s *Signalling) AnswerCall(ctx context.Context, calleeUserID, roomID, to uuid.UUID, signal interface{}) error {
	callID, err := s.resolveCallID(ctx, roomID)
	if err != nil {
		return err
	}
	if callID == uuid.Nil {
		return domain.ErrCallNotFound
	}

	if err := s.calls.AddParticipant(ctx, callID, calleeUserID, true); err != nil {
		return err
	}
	if err := s.calls.SetStatus(ctx, callID, domain.CallStatusOngoing); err != nil {
		return err
	}

	target, _ := s.resolve(to)
	s.emit.EmitToSession(target, EventCallAccepted, CallAccepted{RoomID: roomID, CallID: callID, Signal: signal})
	return nil
}

// RejectCall handles `reject_call(to, room_id)`.
func (s *Signalling) RejectCall(ctx context.Context, roomID, to uuid.UUID) error {
	callID, err := s.resolveCallID(ctx, roomID)
	if err != nil {
		return err
	}
	if callID == uuid.Nil {
		return domain.ErrCallNotFound
	}

	if err := s.calls.SetStatus(ctx, callID, domain.CallStatusRejected); err != nil {
		return err
	}
	s.dropMapping(roomID)

	target, _ := s.resolve(to)
	s.emit.EmitToSession(target, EventCallRejected, CallRejected{RoomID: roomID, CallID: callID})
	return nil
}

// EndCall handles `end_call(to, room_id)`. A call ended while still
// ringing (nobody ever answered) records as missed rather than completed,
// per domain.CallStatus's documented transitions.
func (s *Signalling) EndCall(ctx context.Context, roomID, to uuid.UUID) error {
	callID, err := s.resolveCallID(ctx, roomID)
	if err != nil {
		return err
	}
	if callID == uuid.Nil {
		return domain.ErrCallNotFound
	}

	call, err := s.calls.GetByID(ctx, callID)
	if err != nil {
		return err
	}

	finalStatus := domain.CallStatusCompleted
	if call.Status == domain.CallStatusRinging {
		finalStatus = domain.CallStatusMissed
	}
	if err := s.calls.SetStatus(ctx, callID, finalStatus); err != nil {
		return err
	}
	s.dropMapping(roomID)

	target, _ := s.resolve(to)
	s.emit.EmitToSession(target, EventCallEnded, CallEnded{RoomID: roomID, CallID: callID})
	return nil
}

// IceCandidate handles `ice_candidate(candidate, to)`: pure forwarding,
// no DB effect.
func (s *Signalling) IceCandidate(fromSession, to uuid.UUID, candidate interface{}) {
	target, _ := s.resolve(to)
	s.emit.EmitToSession(target, EventIceCandidate, IceCandidateForward{From: fromSession, Candidate: candidate})
}

// GetCallHistory backs the `get_call_history{roomId, limit, offset}` ack
// event. Per spec, a request with no roomId returns an empty list rather
// than falling back to a user-wide history (Open Question 5).
func (s *Signalling) GetCallHistory(ctx context.Context, roomID uuid.UUID, limit, offset int) ([]domain.Call, error) {
	if roomID == uuid.Nil {
		return nil, nil
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.calls.GetCallHistoryForRoom(ctx, roomID, limit, offset)
}

func (s *Signalling) resolveCallID(ctx context.Context, roomID uuid.UUID) (uuid.UUID, error) {
	s.mu.Lock()
	callID, ok := s.activeCalls[roomID]
	s.mu.Unlock()
	if ok {
		return callID, nil
	}

	call, err := s.calls.GetActiveCallForRoom(ctx, roomID)
	if err != nil {
		return uuid.Nil, err
	}
	if call == nil {
		return uuid.Nil, nil
	}
	s.mu.Lock()
	s.activeCalls[roomID] = call.ID
	s.mu.Unlock()
	return call.ID, nil
}

func (s *Signalling) dropMapping(roomID uuid.UUID) {
	s.mu.Lock()
	delete(s.activeCalls, roomID)
	s.mu.Unlock()
}
