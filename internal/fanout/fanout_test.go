package fanout

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

type stubMembers struct {
	participants []uuid.UUID
	err          error
}

func (m *stubMembers) ActiveParticipants(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error) {
	return m.participants, m.err
}

type stubSessions struct {
	byUser map[uuid.UUID][]uuid.UUID
	all    []uuid.UUID
}

func (s *stubSessions) SessionsOf(userID uuid.UUID) []uuid.UUID {
	return s.byUser[userID]
}

func (s *stubSessions) Sessions() []uuid.UUID {
	return s.all
}

type recordingEmitter struct {
	sent []uuid.UUID
}

func (e *recordingEmitter) EmitToSession(sessionID uuid.UUID, event string, payload interface{}) {
	e.sent = append(e.sent, sessionID)
}

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBroadcast_ReachesActiveParticipantsExcludingSender(t *testing.T) {
	u1, u2, u3 := uuid.New(), uuid.New(), uuid.New()
	s1, s2, s3 := uuid.New(), uuid.New(), uuid.New()

	members := &stubMembers{participants: []uuid.UUID{u1, u2, u3}}
	sessions := &stubSessions{byUser: map[uuid.UUID][]uuid.UUID{
		u1: {s1}, u2: {s2}, u3: {s3},
	}}
	emitter := &recordingEmitter{}

	f := New(members, sessions, emitter, silentLogger())
	f.Broadcast(context.Background(), uuid.New(), s1, "room_event", map[string]string{"x": "y"})

	assert.ElementsMatch(t, []uuid.UUID{s2, s3}, emitter.sent)
}

func TestBroadcast_DeliversToEverySessionOfAMultiSessionUser(t *testing.T) {
	u1 := uuid.New()
	s1, s2 := uuid.New(), uuid.New()

	members := &stubMembers{participants: []uuid.UUID{u1}}
	sessions := &stubSessions{byUser: map[uuid.UUID][]uuid.UUID{u1: {s1, s2}}}
	emitter := &recordingEmitter{}

	f := New(members, sessions, emitter, silentLogger())
	f.Broadcast(context.Background(), uuid.New(), uuid.Nil, "room_event", nil)

	assert.ElementsMatch(t, []uuid.UUID{s1, s2}, emitter.sent)
}

func TestBroadcast_SkipsUsersWithNoActiveSession(t *testing.T) {
	u1, u2 := uuid.New(), uuid.New()
	s1 := uuid.New()

	members := &stubMembers{participants: []uuid.UUID{u1, u2}}
	sessions := &stubSessions{byUser: map[uuid.UUID][]uuid.UUID{u1: {s1}}}
	emitter := &recordingEmitter{}

	f := New(members, sessions, emitter, silentLogger())
	f.Broadcast(context.Background(), uuid.New(), uuid.Nil, "room_event", nil)

	assert.Equal(t, []uuid.UUID{s1}, emitter.sent)
}

func TestBroadcast_DegradesToFullBroadcastOnMembershipError(t *testing.T) {
	excluded := uuid.New()
	s1, s2 := uuid.New(), uuid.New()

	members := &stubMembers{err: errors.New("room lookup exploded")}
	sessions := &stubSessions{all: []uuid.UUID{s1, s2, excluded}}
	emitter := &recordingEmitter{}

	f := New(members, sessions, emitter, silentLogger())
	f.Broadcast(context.Background(), uuid.New(), excluded, "room_event", nil)

	assert.ElementsMatch(t, []uuid.UUID{s1, s2}, emitter.sent)
}

func TestBroadcast_NoParticipantsEmitsNothing(t *testing.T) {
	members := &stubMembers{participants: nil}
	sessions := &stubSessions{}
	emitter := &recordingEmitter{}

	f := New(members, sessions, emitter, silentLogger())
	f.Broadcast(context.Background(), uuid.New(), uuid.Nil, "room_event", nil)

	assert.Empty(t, emitter.sent)
}
