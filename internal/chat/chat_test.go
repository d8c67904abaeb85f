package chat

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/observer/teatime/internal/domain"
	"github.com/observer/teatime/internal/fanout"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubStore struct {
	messages map[uuid.UUID]*domain.Message
	statuses map[uuid.UUID]map[uuid.UUID]domain.MessageStat
}

func newStubStore() *stubStore {
	return &stubStore{
		messages: make(map[uuid.UUID]*domain.Message),
		statuses: make(map[uuid.UUID]map[uuid.UUID]domain.MessageStat),
	}
}

func (s *stubStore) CreateMessage(ctx context.Context, msg *domain.Message) error {
	cp := *msg
	s.messages[msg.ID] = &cp
	return nil
}

func (s *stubStore) GetMessageByID(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	m, ok := s.messages[id]
	if !ok {
		return nil, domain.ErrMessageNotFound
	}
	return m, nil
}

func (s *stubStore) GetMessages(ctx context.Context, roomID uuid.UUID, before *time.Time, limit int) ([]domain.Message, error) {
	var out []domain.Message
	for _, m := range s.messages {
		if m.RoomID == roomID {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (s *stubStore) UpsertStatus(ctx context.Context, messageID, recipientID uuid.UUID, status domain.MessageStat) error {
	if s.statuses[messageID] == nil {
		s.statuses[messageID] = make(map[uuid.UUID]domain.MessageStat)
	}
	cur := s.statuses[messageID][recipientID]
	if cur.Advances(status) || cur == "" {
		s.statuses[messageID][recipientID] = status
	}
	return nil
}

func (s *stubStore) MarkAllRead(ctx context.Context, roomID, readerID uuid.UUID) ([]uuid.UUID, error) {
	var senders []uuid.UUID
	seen := make(map[uuid.UUID]bool)
	for _, m := range s.messages {
		if m.RoomID != roomID || m.SenderID == nil || *m.SenderID == readerID {
			continue
		}
		if err := s.UpsertStatus(ctx, m.ID, readerID, domain.StatRead); err != nil {
			return nil, err
		}
		if !seen[*m.SenderID] {
			seen[*m.SenderID] = true
			senders = append(senders, *m.SenderID)
		}
	}
	return senders, nil
}

type stubRooms struct {
	members map[uuid.UUID][]uuid.UUID
	room    *domain.Room
}

func (r *stubRooms) IsActiveParticipant(ctx context.Context, roomID, userID uuid.UUID) (bool, error) {
	for _, u := range r.members[roomID] {
		if u == userID {
			return true, nil
		}
	}
	return false, nil
}

func (r *stubRooms) ActiveParticipants(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error) {
	return r.members[roomID], nil
}

func (r *stubRooms) GetByID(ctx context.Context, id uuid.UUID) (*domain.Room, error) {
	return r.room, nil
}

type stubSessions struct {
	byUser map[uuid.UUID][]uuid.UUID
}

func (s *stubSessions) SessionsOf(userID uuid.UUID) []uuid.UUID {
	return s.byUser[userID]
}

func (s *stubSessions) Sessions() []uuid.UUID {
	var all []uuid.UUID
	for _, v := range s.byUser {
		all = append(all, v...)
	}
	return all
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

func setup(t *testing.T, roomID uuid.UUID, members map[uuid.UUID][]uuid.UUID, sessionsByUser map[uuid.UUID][]uuid.UUID) (*Chat, *stubStore, *recordingEmitter) {
	t.Helper()
	store := newStubStore()
	rooms := &stubRooms{members: members, room: &domain.Room{ID: roomID, Type: domain.RoomTypeGroup}}
	sessions := &stubSessions{byUser: sessionsByUser}
	emitter := &recordingEmitter{}
	fo := fanout.New(rooms, sessions, emitter, silentLogger())
	return New(store, rooms, sessions, fo, emitter, silentLogger()), store, emitter
}

func TestSendGroupMessage_PersistsAndFansOutIncludingSender(t *testing.T) {
	roomID := uuid.New()
	sender, other := uuid.New(), uuid.New()
	members := map[uuid.UUID][]uuid.UUID{roomID: {sender, other}}
	sessions := map[uuid.UUID][]uuid.UUID{sender: {uuid.New()}, other: {uuid.New()}}

	c, store, emitter := setup(t, roomID, members, sessions)

	msg, err := c.SendGroupMessage(context.Background(), roomID, sender, "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.Content)
	assert.NotEqual(t, uuid.Nil, msg.ID)

	_, stored := store.messages[msg.ID]
	assert.True(t, stored)

	assert.Len(t, emitter.events, 2, "both sender (echo) and other participant receive the fan-out")
	for _, e := range emitter.events {
		assert.Equal(t, EventReceiveGroupMessage, e.event)
	}
}

func TestSendGroupMessage_RejectsNonMember(t *testing.T) {
	roomID := uuid.New()
	stranger := uuid.New()
	c, _, _ := setup(t, roomID, map[uuid.UUID][]uuid.UUID{}, nil)

	_, err := c.SendGroupMessage(context.Background(), roomID, stranger, "hi")
	assert.ErrorIs(t, err, domain.ErrNotMember)
}

func TestSendGroupMessage_RejectsEmptyBody(t *testing.T) {
	roomID := uuid.New()
	sender := uuid.New()
	c, _, _ := setup(t, roomID, map[uuid.UUID][]uuid.UUID{roomID: {sender}}, nil)

	_, err := c.SendGroupMessage(context.Background(), roomID, sender, "")
	assert.ErrorIs(t, err, domain.ErrEmptyMessage)
}

func TestSendGroupMessage_SeedsSentStatusForOtherParticipants(t *testing.T) {
	roomID := uuid.New()
	sender, other := uuid.New(), uuid.New()
	members := map[uuid.UUID][]uuid.UUID{roomID: {sender, other}}

	c, store, _ := setup(t, roomID, members, nil)
	msg, err := c.SendGroupMessage(context.Background(), roomID, sender, "hi")
	require.NoError(t, err)

	assert.Equal(t, domain.StatSent, store.statuses[msg.ID][other])
	_, senderHasStatus := store.statuses[msg.ID][sender]
	assert.False(t, senderHasStatus, "the sender itself never gets a status row")
}

func TestMessageDelivered_NotifiesSenderSessionsOnly(t *testing.T) {
	roomID := uuid.New()
	sender, recipient := uuid.New(), uuid.New()
	senderSession := uuid.New()
	members := map[uuid.UUID][]uuid.UUID{roomID: {sender, recipient}}
	sessions := map[uuid.UUID][]uuid.UUID{sender: {senderSession}}

	c, store, emitter := setup(t, roomID, members, sessions)
	msg, err := c.SendGroupMessage(context.Background(), roomID, sender, "hi")
	require.NoError(t, err)
	emitter.events = nil // clear the send-time fanout noise

	require.NoError(t, c.MessageDelivered(context.Background(), msg.ID, recipient))

	assert.Equal(t, domain.StatDelivered, store.statuses[msg.ID][recipient])
	require.Len(t, emitter.events, 1)
	assert.Equal(t, senderSession, emitter.events[0].sessionID)
	assert.Equal(t, EventMessageStatusUpdate, emitter.events[0].event)
}

func TestMessageDelivered_NeverDowngradesFromRead(t *testing.T) {
	roomID := uuid.New()
	sender, recipient := uuid.New(), uuid.New()
	members := map[uuid.UUID][]uuid.UUID{roomID: {sender, recipient}}

	c, store, _ := setup(t, roomID, members, nil)
	msg, err := c.SendGroupMessage(context.Background(), roomID, sender, "hi")
	require.NoError(t, err)

	require.NoError(t, store.UpsertStatus(context.Background(), msg.ID, recipient, domain.StatRead))
	require.NoError(t, c.MessageDelivered(context.Background(), msg.ID, recipient))

	assert.Equal(t, domain.StatRead, store.statuses[msg.ID][recipient])
}

func TestMarkRead_NotifiesEachDistinctSender(t *testing.T) {
	roomID := uuid.New()
	s1, s2, reader := uuid.New(), uuid.New(), uuid.New()
	s1Session, s2Session := uuid.New(), uuid.New()
	members := map[uuid.UUID][]uuid.UUID{roomID: {s1, s2, reader}}
	sessions := map[uuid.UUID][]uuid.UUID{s1: {s1Session}, s2: {s2Session}}

	c, _, emitter := setup(t, roomID, members, sessions)
	_, err := c.SendGroupMessage(context.Background(), roomID, s1, "one")
	require.NoError(t, err)
	_, err = c.SendGroupMessage(context.Background(), roomID, s2, "two")
	require.NoError(t, err)
	emitter.events = nil

	require.NoError(t, c.MarkRead(context.Background(), roomID, reader))

	assert.Len(t, emitter.events, 2)
	var gotSessions []uuid.UUID
	for _, e := range emitter.events {
		assert.Equal(t, EventMessageStatusUpdate, e.event)
		gotSessions = append(gotSessions, e.sessionID)
	}
	assert.ElementsMatch(t, []uuid.UUID{s1Session, s2Session}, gotSessions)
}

func TestEmitUploadMessage_PicksPrivateEventForPrivateRoom(t *testing.T) {
	roomID := uuid.New()
	sender, other := uuid.New(), uuid.New()
	members := map[uuid.UUID][]uuid.UUID{roomID: {sender, other}}

	store := newStubStore()
	rooms := &stubRooms{members: members, room: &domain.Room{ID: roomID, Type: domain.RoomTypePrivate}}
	sessions := &stubSessions{byUser: map[uuid.UUID][]uuid.UUID{sender: {uuid.New()}, other: {uuid.New()}}}
	emitter := &recordingEmitter{}
	fo := fanout.New(rooms, sessions, emitter, silentLogger())
	c := New(store, rooms, sessions, fo, emitter, silentLogger())

	msg := &domain.Message{ID: uuid.New(), RoomID: roomID, SenderID: &sender, Type: domain.MessageTypeImage, FileURL: "https://example/x.png"}
	require.NoError(t, c.EmitUploadMessage(context.Background(), msg))

	require.Len(t, emitter.events, 2)
	for _, e := range emitter.events {
		assert.Equal(t, EventReceivePrivateMessage, e.event)
	}
}
