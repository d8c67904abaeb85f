package domain

import (
	"time"

	"github.com/google/uuid"
)

// UserStatus is the admin-approval lifecycle of a durable identity.
type UserStatus string

const (
	UserStatusPending  UserStatus = "pending"
	UserStatusActive   UserStatus = "active"
	UserStatusRejected UserStatus = "rejected"
)

// UserRole gates access to admin-only REST endpoints.
type UserRole string

const (
	UserRoleAdmin UserRole = "admin"
	UserRoleUser  UserRole = "user"
)

// User is a durable identity. The core reads identities but never creates
// them; registration/approval live in the credential service surfaced over
// the REST collaborators in internal/api.
type User struct {
	ID         uuid.UUID  `json:"id"`
	Username   string     `json:"username"`
	Email      string     `json:"email,omitempty"` // omit in public responses
	Status     UserStatus `json:"status"`
	Role       UserRole   `json:"role"`
	IsOnline   bool       `json:"is_online"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// PublicUser is the safe-to-expose projection of User; email is never
// included here under any circumstance.
type PublicUser struct {
	ID         uuid.UUID  `json:"id"`
	Username   string     `json:"username"`
	IsOnline   bool       `json:"is_online"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
}

func (u *User) ToPublic() PublicUser {
	return PublicUser{
		ID:         u.ID,
		Username:   u.Username,
		IsOnline:   u.IsOnline,
		LastSeenAt: u.LastSeenAt,
	}
}

// Credentials stores the password hash separately from the user row.
type Credentials struct {
	UserID       uuid.UUID `json:"-"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"-"`
	UpdatedAt    time.Time `json:"-"`
}

// RefreshToken backs JWT rotation for the credential service.
type RefreshToken struct {
	ID        uuid.UUID  `json:"id"`
	UserID    uuid.UUID  `json:"user_id"`
	TokenHash string     `json:"-"`
	ExpiresAt time.Time  `json:"expires_at"`
	CreatedAt time.Time  `json:"created_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

func (rt *RefreshToken) IsValid() bool {
	return rt.RevokedAt == nil && time.Now().Before(rt.ExpiresAt)
}

// Session is the ephemeral transport-session side of the session/user
// indirection described in spec.md §9: clients and storage speak in user
// ids, the transport speaks in session ids.
type Session struct {
	SessionID uuid.UUID  `json:"session_id"`
	UserID    *uuid.UUID `json:"user_id,omitempty"`
	Username  string     `json:"username,omitempty"`
}

// Authenticated reports whether the session has resolved to a durable user.
// A session without a user_id may observe but never originate chat or calls.
func (s *Session) Authenticated() bool {
	return s.UserID != nil
}
