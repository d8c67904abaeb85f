package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

// =============================================================================
// User.ToPublic Tests
// =============================================================================

func TestUser_ToPublic_NeverExposesEmail(t *testing.T) {
	user := &User{
		ID:       uuid.New(),
		Username: "charlie",
		Email:    "charlie@secret.com",
	}

	pub := user.ToPublic()

	assert.Equal(t, "charlie", pub.Username)
	// PublicUser has no Email field at all; nothing to assert beyond the
	// absence of a field in the struct's definition.
}

func TestUser_ToPublic_CarriesPresence(t *testing.T) {
	now := time.Now()
	user := &User{
		ID:         uuid.New(),
		Username:   "eve",
		IsOnline:   true,
		LastSeenAt: &now,
	}

	pub := user.ToPublic()
	assert.True(t, pub.IsOnline)
	assert.Equal(t, &now, pub.LastSeenAt)
}

// =============================================================================
// RefreshToken.IsValid Tests
// =============================================================================

func TestRefreshToken_IsValid_ValidToken(t *testing.T) {
	token := &RefreshToken{
		ID:        uuid.New(),
		UserID:    uuid.New(),
		ExpiresAt: time.Now().Add(24 * time.Hour),
		CreatedAt: time.Now(),
		RevokedAt: nil,
	}

	assert.True(t, token.IsValid())
}

func TestRefreshToken_IsValid_ExpiredToken(t *testing.T) {
	token := &RefreshToken{
		ID:        uuid.New(),
		UserID:    uuid.New(),
		ExpiresAt: time.Now().Add(-1 * time.Hour),
		CreatedAt: time.Now().Add(-25 * time.Hour),
		RevokedAt: nil,
	}

	assert.False(t, token.IsValid())
}

func TestRefreshToken_IsValid_RevokedToken(t *testing.T) {
	revokedAt := time.Now().Add(-1 * time.Hour)
	token := &RefreshToken{
		ID:        uuid.New(),
		UserID:    uuid.New(),
		ExpiresAt: time.Now().Add(24 * time.Hour),
		CreatedAt: time.Now().Add(-1 * time.Hour),
		RevokedAt: &revokedAt,
	}

	assert.False(t, token.IsValid())
}

func TestRefreshToken_IsValid_BothExpiredAndRevoked(t *testing.T) {
	revokedAt := time.Now().Add(-2 * time.Hour)
	token := &RefreshToken{
		ID:        uuid.New(),
		UserID:    uuid.New(),
		ExpiresAt: time.Now().Add(-1 * time.Hour),
		CreatedAt: time.Now().Add(-25 * time.Hour),
		RevokedAt: &revokedAt,
	}

	assert.False(t, token.IsValid())
}

func TestRefreshToken_IsValid_ExpiresExactlyNow(t *testing.T) {
	token := &RefreshToken{
		ID:        uuid.New(),
		UserID:    uuid.New(),
		ExpiresAt: time.Now(),
		RevokedAt: nil,
	}

	assert.False(t, token.IsValid(), "token expiring exactly now should be invalid (not Before)")
}

// =============================================================================
// Room/Participant Type Tests
// =============================================================================

func TestRoomType_Values(t *testing.T) {
	assert.Equal(t, RoomType("private"), RoomTypePrivate)
	assert.Equal(t, RoomType("group"), RoomTypeGroup)
}

func TestParticipantRole_Values(t *testing.T) {
	assert.Equal(t, ParticipantRole("member"), ParticipantRoleMember)
	assert.Equal(t, ParticipantRole("admin"), ParticipantRoleAdmin)
}

func TestParticipant_Active(t *testing.T) {
	p := Participant{UserID: uuid.New()}
	assert.True(t, p.Active())

	left := time.Now()
	p.LeftAt = &left
	assert.False(t, p.Active())
}

// =============================================================================
// MessageStatus aggregation — spec.md §4.3 monotonic ordering
// =============================================================================

func TestMessageStat_Advances(t *testing.T) {
	assert.True(t, StatSent.Advances(StatDelivered))
	assert.True(t, StatSent.Advances(StatRead))
	assert.True(t, StatDelivered.Advances(StatRead))
	assert.False(t, StatRead.Advances(StatDelivered))
	assert.False(t, StatDelivered.Advances(StatDelivered))
	assert.False(t, StatDelivered.Advances(StatSent))
}

func TestAggregate_DefaultsSentWhenNoRows(t *testing.T) {
	assert.Equal(t, StatSent, Aggregate(nil))
}

func TestAggregate_TakesMinimumAcrossRecipients(t *testing.T) {
	assert.Equal(t, StatSent, Aggregate([]MessageStat{StatRead, StatSent, StatDelivered}))
	assert.Equal(t, StatDelivered, Aggregate([]MessageStat{StatRead, StatDelivered}))
	assert.Equal(t, StatRead, Aggregate([]MessageStat{StatRead, StatRead}))
}

// =============================================================================
// Call state machine
// =============================================================================

func TestCallStatus_Terminal(t *testing.T) {
	assert.False(t, CallStatusRinging.Terminal())
	assert.False(t, CallStatusOngoing.Terminal())
	assert.True(t, CallStatusCompleted.Terminal())
	assert.True(t, CallStatusMissed.Terminal())
	assert.True(t, CallStatusRejected.Terminal())
}
