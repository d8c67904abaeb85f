package registry

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestRegister_FirstSessionTrue(t *testing.T) {
	r := New()
	userID := uuid.New()

	first := r.Register(uuid.New(), userID, "alice")
	assert.True(t, first)

	second := r.Register(uuid.New(), userID, "alice")
	assert.False(t, second, "a second session for the same user is not the first")
}

func TestRegister_Idempotent(t *testing.T) {
	r := New()
	sessionID := uuid.New()
	userID := uuid.New()

	r.Register(sessionID, userID, "alice")
	first := r.Register(sessionID, userID, "alice")
	assert.False(t, first, "re-registering the same session id is not a new first session")

	entry, ok := r.UserOf(sessionID)
	assert.True(t, ok)
	assert.Equal(t, userID, entry.UserID)
}

func TestUnregister_LastSessionFlipsOffline(t *testing.T) {
	r := New()
	userID := uuid.New()
	s1, s2 := uuid.New(), uuid.New()

	r.Register(s1, userID, "alice")
	r.Register(s2, userID, "alice")

	_, last := r.Unregister(s1)
	assert.False(t, last, "one of two sessions remains")
	assert.True(t, r.IsOnline(userID))

	_, last = r.Unregister(s2)
	assert.True(t, last)
	assert.False(t, r.IsOnline(userID))
}

func TestUnregister_UnknownSession(t *testing.T) {
	r := New()
	userID, last := r.Unregister(uuid.New())
	assert.Equal(t, uuid.Nil, userID)
	assert.False(t, last)
}

func TestSessionOf_ReturnsAnActiveSession(t *testing.T) {
	r := New()
	userID := uuid.New()
	sessionID := uuid.New()
	r.Register(sessionID, userID, "alice")

	got, ok := r.SessionOf(userID)
	assert.True(t, ok)
	assert.Equal(t, sessionID, got)
}

func TestOnlineUserIDs_ReflectsActiveSet(t *testing.T) {
	r := New()
	u1, u2 := uuid.New(), uuid.New()
	r.Register(uuid.New(), u1, "alice")
	r.Register(uuid.New(), u2, "bob")

	ids := r.OnlineUserIDs()
	assert.ElementsMatch(t, []uuid.UUID{u1, u2}, ids)
}
