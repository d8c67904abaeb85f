// Package chat implements the Chat Delivery FSM (C3): message send,
// delivery/read receipts, and history retrieval with aggregated status.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/observer/teatime/internal/domain"
	"github.com/observer/teatime/internal/fanout"
)

// MaxMessageLength bounds a single message body, matching the teacher's
// own cap on conversational text.
const MaxMessageLength = 10000

var ErrMessageTooLong = errors.New("message exceeds maximum length")

const (
	EventReceiveGroupMessage   = "receive_group_message"
	EventReceivePrivateMessage = "receive_private_message"
	EventMessageStatusUpdate   = "message_status_update"
)

// MessageStore is the persistence surface C3 needs.
// database.RoomRepository satisfies this.
type MessageStore interface {
	CreateMessage(ctx context.Context, msg *domain.Message) error
	GetMessageByID(ctx context.Context, id uuid.UUID) (*domain.Message, error)
	GetMessages(ctx context.Context, roomID uuid.UUID, before *time.Time, limit int) ([]domain.Message, error)
	UpsertStatus(ctx context.Context, messageID, recipientID uuid.UUID, status domain.MessageStat) error
	MarkAllRead(ctx context.Context, roomID, readerID uuid.UUID) ([]uuid.UUID, error)
}

// Rooms resolves membership and room metadata.
// database.RoomRepository satisfies this.
type Rooms interface {
	IsActiveParticipant(ctx context.Context, roomID, userID uuid.UUID) (bool, error)
	ActiveParticipants(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Room, error)
}

// Sessions resolves a user's live sessions for direct (non-fanout)
// delivery of status updates. internal/registry.Registry satisfies this.
type Sessions interface {
	SessionsOf(userID uuid.UUID) []uuid.UUID
}

// Emitter delivers one event to one session. internal/ws.Hub satisfies
// this; it is the same interface fanout.Emitter names.
type Emitter interface {
	EmitToSession(sessionID uuid.UUID, event string, payload interface{})
}

// Chat is C3. It owns no connection state; it persists, resolves
// recipients, and asks Fanout/Emitter to deliver.
type Chat struct {
	messages MessageStore
	rooms    Rooms
	sessions Sessions
	fanout   *fanout.Fanout
	emit     Emitter
	logger   *slog.Logger
}

func New(messages MessageStore, rooms Rooms, sessions Sessions, fanout *fanout.Fanout, emit Emitter, logger *slog.Logger) *Chat {
	return &Chat{messages: messages, rooms: rooms, sessions: sessions, fanout: fanout, emit: emit, logger: logger}
}

// MessageStatusUpdate is the payload emitted to a sender on a delivery or
// read receipt (spec.md §4.3).
type MessageStatusUpdate struct {
	MessageID *uuid.UUID        `json:"message_id,omitempty"`
	RoomID    uuid.UUID         `json:"room_id,omitempty"`
	UserID    uuid.UUID         `json:"user_id"`
	Status    domain.MessageStat `json:"status"`
}

// SendGroupMessage persists and fans out a group message, per spec.md
// §4.3 step 1-3.
func (c *Chat) SendGroupMessage(ctx context.Context, roomID, senderID uuid.UUID, text string) (*domain.Message, error) {
	return c.send(ctx, roomID, senderID, text, domain.MessageTypeText, "", EventReceiveGroupMessage)
}

// SendPrivateMessage persists and fans out a private message. Private
// rooms have exactly two participants, so fan-out naturally delivers the
// sender's own echo alongside the recipient's copy (spec.md §4.3, §6).
func (c *Chat) SendPrivateMessage(ctx context.Context, roomID, senderID uuid.UUID, text string) (*domain.Message, error) {
	return c.send(ctx, roomID, senderID, text, domain.MessageTypeText, "", EventReceivePrivateMessage)
}

func (c *Chat) send(ctx context.Context, roomID, senderID uuid.UUID, content string, msgType domain.MessageType, fileURL string, event string) (*domain.Message, error) {
	if content == "" && fileURL == "" {
		return nil, domain.ErrEmptyMessage
	}
	if len(content) > MaxMessageLength {
		return nil, ErrMessageTooLong
	}

	isMember, err := c.rooms.IsActiveParticipant(ctx, roomID, senderID)
	if err != nil {
		return nil, err
	}
	if !isMember {
		return nil, domain.ErrNotMember
	}

	msg := &domain.Message{
		ID:        uuid.New(),
		RoomID:    roomID,
		SenderID:  &senderID,
		Content:   content,
		Type:      msgType,
		FileURL:   fileURL,
		CreatedAt: time.Now(),
	}
	if err := c.messages.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}

	c.seedSentStatus(ctx, msg)
	c.fanout.Broadcast(ctx, roomID, uuid.Nil, event, msg)
	return msg, nil
}

// EmitUploadMessage implements api.MessageEmitter: it takes the
// caller-constructed message from a file upload, persists and fans it out
// using the room's own type to pick the group/private event, per spec.md
// §6 ("stores ... and emits a chat message").
func (c *Chat) EmitUploadMessage(ctx context.Context, msg *domain.Message) error {
	if msg.SenderID == nil {
		return domain.ErrNotMember
	}

	room, err := c.rooms.GetByID(ctx, msg.RoomID)
	if err != nil {
		return err
	}

	event := EventReceiveGroupMessage
	if room.Type == domain.RoomTypePrivate {
		event = EventReceivePrivateMessage
	}

	msg.CreatedAt = time.Now()
	if err := c.messages.CreateMessage(ctx, msg); err != nil {
		return err
	}

	c.seedSentStatus(ctx, msg)
	c.fanout.Broadcast(ctx, msg.RoomID, uuid.Nil, event, msg)
	return nil
}

// seedSentStatus upserts a `sent` status row for every other active
// participant (spec.md §4.3 step 2). Failures are logged, not fatal: the
// message has already been durably persisted, and fan-out proceeds anyway.
func (c *Chat) seedSentStatus(ctx context.Context, msg *domain.Message) {
	participants, err := c.rooms.ActiveParticipants(ctx, msg.RoomID)
	if err != nil {
		c.logger.Warn("chat: could not seed sent status, participant lookup failed", "room_id", msg.RoomID, "error", err)
		return
	}
	for _, userID := range participants {
		if msg.SenderID != nil && userID == *msg.SenderID {
			continue
		}
		if err := c.messages.UpsertStatus(ctx, msg.ID, userID, domain.StatSent); err != nil {
			c.logger.Warn("chat: seed sent status failed", "message_id", msg.ID, "recipient_id", userID, "error", err)
		}
	}
}

// GetMessages returns room history with aggregated delivery status.
func (c *Chat) GetMessages(ctx context.Context, roomID uuid.UUID, before *time.Time, limit int) ([]domain.Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return c.messages.GetMessages(ctx, roomID, before, limit)
}

// MessageDelivered handles `message_delivered{message_id}`: advances the
// recipient's status to delivered and notifies the sender's sessions
// (spec.md §4.3).
func (c *Chat) MessageDelivered(ctx context.Context, messageID, recipientID uuid.UUID) error {
	if err := c.messages.UpsertStatus(ctx, messageID, recipientID, domain.StatDelivered); err != nil {
		return err
	}

	msg, err := c.messages.GetMessageByID(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.SenderID == nil {
		return nil
	}

	update := MessageStatusUpdate{MessageID: &messageID, RoomID: msg.RoomID, UserID: recipientID, Status: domain.StatDelivered}
	for _, sessionID := range c.sessions.SessionsOf(*msg.SenderID) {
		c.emit.EmitToSession(sessionID, EventMessageStatusUpdate, update)
	}
	return nil
}

// MarkRead handles `mark_read{room_id}`: bulk-advances every unread
// message authored by someone else to read, and notifies each distinct
// sender (spec.md §4.3).
func (c *Chat) MarkRead(ctx context.Context, roomID, readerID uuid.UUID) error {
	senders, err := c.messages.MarkAllRead(ctx, roomID, readerID)
	if err != nil {
		return err
	}

	update := MessageStatusUpdate{RoomID: roomID, UserID: readerID, Status: domain.StatRead}
	for _, senderID := range senders {
		for _, sessionID := range c.sessions.SessionsOf(senderID) {
			c.emit.EmitToSession(sessionID, EventMessageStatusUpdate, update)
		}
	}
	return nil
}
