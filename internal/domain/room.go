package domain

import (
	"time"

	"github.com/google/uuid"
)

// RoomType distinguishes a two-party private room from a group room.
type RoomType string

const (
	RoomTypePrivate RoomType = "private"
	RoomTypeGroup   RoomType = "group"
)

// ParticipantRole is a room-scoped role, distinct from User.Role.
type ParticipantRole string

const (
	ParticipantRoleAdmin  ParticipantRole = "admin"
	ParticipantRoleMember ParticipantRole = "member"
)

// Room is the unit of chat addressing and media grouping. Private rooms
// have exactly two active participants and are unique per unordered pair.
type Room struct {
	ID        uuid.UUID `json:"id"`
	Type      RoomType  `json:"type"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Populated on fetch.
	Participants []Participant `json:"participants,omitempty"`
	UnreadCount  int           `json:"unread_count,omitempty"`
	LastMessage  *Message      `json:"last_message,omitempty"`
	OtherUser    *PublicUser   `json:"other_user,omitempty"`
}

// Participant is a user's membership in a room. A participant is active
// iff LeftAt is nil.
type Participant struct {
	RoomID   uuid.UUID       `json:"room_id"`
	UserID   uuid.UUID       `json:"user_id"`
	Role     ParticipantRole `json:"role"`
	JoinedAt time.Time       `json:"joined_at"`
	LeftAt   *time.Time      `json:"left_at,omitempty"`

	User *PublicUser `json:"user,omitempty"`
}

// Active reports whether this participant is currently in the room.
func (p *Participant) Active() bool {
	return p.LeftAt == nil
}
