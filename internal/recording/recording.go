// Package recording implements the Recording Controller (C6): the trigger
// and stop policy that starts and ends server-side capture of a media
// room's streams, the per-producer RTP tap and SDP generation that feeds an
// external muxer process, and that process's lifecycle.
package recording

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/observer/teatime/internal/domain"
	"github.com/observer/teatime/internal/sfu"
)

const (
	portRangeLow        = 20000
	portRangeHigh       = 29000
	maxPortBindAttempts = 10
	muxerBindDelay      = time.Second
	stopGraceStep       = 2 * time.Second

	// Fixed payload types ffmpeg's generated SDP expects; every tap rewrites
	// its packets to one of these regardless of the original negotiated PT.
	payloadTypeAudio = 97
	payloadTypeVideo = 96
)

// Routers gives the controller read access to a room's SFU state without
// importing internal/sfu's mutation surface.
type Routers interface {
	Router(roomID uuid.UUID) (*sfu.Router, bool)
}

// Store persists the finished recording's artifact record.
type Store interface {
	CreateRecording(ctx context.Context, rec *domain.Recording) error
}

// CallLookup resolves the call a room's recording belongs to, so the
// persisted artifact can be attributed. database.CallRepository (the same
// collaborator internal/signalling uses) satisfies this.
type CallLookup interface {
	GetActiveCallForRoom(ctx context.Context, roomID uuid.UUID) (*domain.Call, error)
}

// Controller is C6. It implements sfu.RecordingHooks and is wired into the
// SFU post-construction (see sfu.SFU.SetRecordingHooks) to avoid an import
// cycle between the two packages.
type Controller struct {
	routers   Routers
	calls     CallLookup
	store     Store
	outputDir string
	logger    *slog.Logger

	mu        sync.Mutex
	sessions  map[uuid.UUID]*session // keyed by room id
	roomLocks map[uuid.UUID]*sync.Mutex
}

func New(routers Routers, calls CallLookup, store Store, outputDir string, logger *slog.Logger) *Controller {
	if outputDir == "" {
		outputDir = os.TempDir()
	}
	return &Controller{
		routers:   routers,
		calls:     calls,
		store:     store,
		outputDir: outputDir,
		logger:    logger,
		sessions:  make(map[uuid.UUID]*session),
		roomLocks: make(map[uuid.UUID]*sync.Mutex),
	}
}

// roomLock returns the serialization lock for a room's start/stop
// sequence, creating one on first use. Per-room rather than a single
// controller-wide lock so unrelated rooms' trigger/stop checks never block
// each other while one room's ffmpeg child is starting or stopping.
func (c *Controller) roomLock(roomID uuid.UUID) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.roomLocks[roomID]
	if !ok {
		l = &sync.Mutex{}
		c.roomLocks[roomID] = l
	}
	return l
}

// ProducerCreated implements sfu.RecordingHooks: the trigger policy runs on
// every produce() call (spec.md §4.5).
func (c *Controller) ProducerCreated(ctx context.Context, roomID uuid.UUID) {
	c.maybeStart(ctx, roomID)
}

// PeerRemoved implements sfu.RecordingHooks: the stop policy runs on every
// peer removal (spec.md §4.5).
func (c *Controller) PeerRemoved(ctx context.Context, roomID uuid.UUID) {
	c.maybeStop(ctx, roomID)
}

func (c *Controller) activeSession(roomID uuid.UUID) (*session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[roomID]
	return s, ok
}

// maybeStart applies the trigger policy: a recording already in progress
// absorbs no new producers (late joiners are invisible to the mix, by
// policy); otherwise two or more peers with a live producer starts one.
// The room lock is held across the whole check-then-start sequence so two
// produce() calls racing in from separate connection goroutines can't both
// observe "not active" and both spawn a muxer for the same room.
func (c *Controller) maybeStart(ctx context.Context, roomID uuid.UUID) {
	lock := c.roomLock(roomID)
	lock.Lock()
	defer lock.Unlock()

	if _, active := c.activeSession(roomID); active {
		return
	}

	router, ok := c.routers.Router(roomID)
	if !ok {
		return
	}
	if router.ActiveMediaPeerCount() < 2 {
		return
	}

	sess, err := c.start(ctx, roomID, router)
	if err != nil {
		c.logger.Error("recording: start failed", "room_id", roomID, "error", err)
		return
	}

	c.mu.Lock()
	c.sessions[roomID] = sess
	c.mu.Unlock()
}

// maybeStop applies the stop policy: an active recording ends once the
// room's active peer count drops below two. Guarded by the same room lock
// maybeStart uses, so a concurrent start and stop for the same room can't
// interleave.
func (c *Controller) maybeStop(ctx context.Context, roomID uuid.UUID) {
	lock := c.roomLock(roomID)
	lock.Lock()
	defer lock.Unlock()

	sess, active := c.activeSession(roomID)
	if !active {
		return
	}
	router, ok := c.routers.Router(roomID)
	if ok && router.ActiveMediaPeerCount() >= 2 {
		return
	}

	c.mu.Lock()
	delete(c.sessions, roomID)
	c.mu.Unlock()

	rec := c.stop(sess)
	if err := c.store.CreateRecording(ctx, rec); err != nil {
		c.logger.Error("recording: persist artifact failed", "room_id", roomID, "recording_id", rec.ID, "error", err)
	}
}
