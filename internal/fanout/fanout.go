// Package fanout implements Room Fan-out (C2): given a room id, resolve
// the active recipient sessions and emit an event to each exactly once.
package fanout

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// Members resolves room membership to user ids. internal/database's
// RoomRepository.ActiveParticipants satisfies this.
type Members interface {
	ActiveParticipants(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error)
}

// Sessions resolves connected users/sessions. internal/registry.Registry
// satisfies this.
type Sessions interface {
	SessionsOf(userID uuid.UUID) []uuid.UUID
	Sessions() []uuid.UUID
}

// Emitter delivers one event to one session. internal/ws.Hub satisfies
// this.
type Emitter interface {
	EmitToSession(sessionID uuid.UUID, event string, payload interface{})
}

// Fanout is C2. It holds no connection state of its own; it orchestrates
// Members, Sessions and Emitter to decide who gets an event.
type Fanout struct {
	members  Members
	sessions Sessions
	emit     Emitter
	logger   *slog.Logger
}

func New(members Members, sessions Sessions, emit Emitter, logger *slog.Logger) *Fanout {
	return &Fanout{members: members, sessions: sessions, emit: emit, logger: logger}
}

// Broadcast emits event/payload to every active participant of roomID
// other than excludeSession (uuid.Nil to exclude nobody). On a membership
// lookup failure it degrades to a full broadcast across every connected
// session, per spec.md §4.2 — deliberately favoring availability over
// privacy, and always logged.
func (f *Fanout) Broadcast(ctx context.Context, roomID uuid.UUID, excludeSession uuid.UUID, event string, payload interface{}) {
	userIDs, err := f.members.ActiveParticipants(ctx, roomID)
	if err != nil {
		f.logger.Warn("fanout: membership lookup failed, degrading to full broadcast",
			"room_id", roomID, "error", err)
		f.broadcastAll(excludeSession, event, payload)
		return
	}

	seen := make(map[uuid.UUID]bool, len(userIDs))
	for _, userID := range userIDs {
		for _, sessionID := range f.sessions.SessionsOf(userID) {
			if sessionID == excludeSession || seen[sessionID] {
				continue
			}
			seen[sessionID] = true
			f.emit.EmitToSession(sessionID, event, payload)
		}
	}
}

func (f *Fanout) broadcastAll(excludeSession uuid.UUID, event string, payload interface{}) {
	for _, sessionID := range f.sessions.Sessions() {
		if sessionID == excludeSession {
			continue
		}
		f.emit.EmitToSession(sessionID, event, payload)
	}
}
