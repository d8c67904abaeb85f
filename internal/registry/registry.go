// Package registry implements the Session Registry (C1): the bidirectional
// map between transport session ids and durable user identities. It owns
// no connections and does no I/O; the Connection Supervisor (internal/ws)
// drives it and is responsible for the presence broadcasts its operations
// imply.
package registry

import (
	"sync"

	"github.com/google/uuid"
)

// Entry is the user/username pair backing a single session.
type Entry struct {
	UserID   uuid.UUID
	Username string
}

// Registry is the single source of truth for session<->user identity,
// per spec.md §9: every cross-cutting lookup goes through it. A per-
// instance mutex makes register/unregister appear atomic with respect to
// any reader (spec.md §4.1 invariant: no broadcast observes a half-
// updated map).
type Registry struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]Entry            // session_id -> user
	byUser   map[uuid.UUID]map[uuid.UUID]bool // user_id -> set of session_id
}

func New() *Registry {
	return &Registry{
		sessions: make(map[uuid.UUID]Entry),
		byUser:   make(map[uuid.UUID]map[uuid.UUID]bool),
	}
}

// Register binds a session to a user. Idempotent: registering the same
// session id again just overwrites its entry. Returns true if this is the
// user's first active session (the caller should flip is_online and
// broadcast).
func (r *Registry) Register(sessionID, userID uuid.UUID, username string) (firstSession bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[sessionID] = Entry{UserID: userID, Username: username}

	set, ok := r.byUser[userID]
	if !ok {
		set = make(map[uuid.UUID]bool)
		r.byUser[userID] = set
	}
	firstSession = len(set) == 0
	set[sessionID] = true
	return firstSession
}

// Unregister removes a session. Returns the user id it belonged to (or
// uuid.Nil if the session was never registered/unauthenticated) and
// whether this was that user's last active session.
func (r *Registry) Unregister(sessionID uuid.UUID) (userID uuid.UUID, lastSession bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.sessions[sessionID]
	if !ok {
		return uuid.Nil, false
	}
	delete(r.sessions, sessionID)

	set := r.byUser[entry.UserID]
	delete(set, sessionID)
	if len(set) == 0 {
		delete(r.byUser, entry.UserID)
		return entry.UserID, true
	}
	return entry.UserID, false
}

// SessionOf returns any one active session for a user; tie-breaking among
// multiple sessions is implementation-defined (map iteration order).
func (r *Registry) SessionOf(userID uuid.UUID) (uuid.UUID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for sessionID := range r.byUser[userID] {
		return sessionID, true
	}
	return uuid.Nil, false
}

// SessionsOf returns every active session for a user, for fan-out paths
// that must reach all of a multiply-connected user's sessions rather than
// picking one.
func (r *Registry) SessionsOf(userID uuid.UUID) []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.byUser[userID]
	ids := make([]uuid.UUID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids
}

// UserOf resolves a session to its bound user, if any.
func (r *Registry) UserOf(sessionID uuid.UUID) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sessionID]
	return e, ok
}

// IsOnline reports whether a user has at least one active session.
func (r *Registry) IsOnline(userID uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

// OnlineUserIDs snapshots every user with at least one active session, for
// the users_online broadcast.
func (r *Registry) OnlineUserIDs() []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]uuid.UUID, 0, len(r.byUser))
	for id := range r.byUser {
		ids = append(ids, id)
	}
	return ids
}

// Sessions returns every live session id, used by C2's broadcast-fallback
// degradation path.
func (r *Registry) Sessions() []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]uuid.UUID, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}
