package domain

import (
	"time"

	"github.com/google/uuid"
)

// MessageType tags the content kind of a chat message.
type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeAudio MessageType = "audio"
	MessageTypeVideo MessageType = "video"
	MessageTypeFile  MessageType = "file"
)

// Message is immutable once created except Content/EditedAt via explicit
// edit.
type Message struct {
	ID        uuid.UUID   `json:"id"`
	RoomID    uuid.UUID   `json:"room_id"`
	SenderID  *uuid.UUID  `json:"sender_id,omitempty"` // nil if sender deleted
	Content   string      `json:"content,omitempty"`
	Type      MessageType `json:"type"`
	FileURL   string      `json:"file_url,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	EditedAt  *time.Time  `json:"edited_at,omitempty"`

	// Populated on fetch.
	Sender         *PublicUser `json:"sender,omitempty"`
	DeliveryStatus MessageStat `json:"delivery_status,omitempty"`
}

// MessageStat is the per-message aggregated delivery status reported
// alongside history; see Aggregate.
type MessageStat string

const (
	StatSent      MessageStat = "sent"
	StatDelivered MessageStat = "delivered"
	StatRead      MessageStat = "read"
)

// rank orders statuses for the monotonic sent < delivered < read comparison.
func (s MessageStat) rank() int {
	switch s {
	case StatDelivered:
		return 1
	case StatRead:
		return 2
	default:
		return 0
	}
}

// Advances reports whether moving from s to next is a legal (non-regressing)
// transition. Equal statuses are not an advance.
func (s MessageStat) Advances(next MessageStat) bool {
	return next.rank() > s.rank()
}

// MessageStatus is one row per (message_id, recipient_user_id). Status may
// only advance along sent -> delivered -> read.
type MessageStatus struct {
	MessageID   uuid.UUID   `json:"message_id"`
	RecipientID uuid.UUID   `json:"recipient_id"`
	Status      MessageStat `json:"status"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Aggregate computes a message's delivery_status across all recipients:
// sent if no rows exist, else min(status) under sent < delivered < read.
func Aggregate(statuses []MessageStat) MessageStat {
	if len(statuses) == 0 {
		return StatSent
	}
	min := StatRead
	for _, s := range statuses {
		if s.rank() < min.rank() {
			min = s
		}
	}
	return min
}
