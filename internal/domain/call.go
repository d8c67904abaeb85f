package domain

import (
	"time"

	"github.com/google/uuid"
)

// CallType distinguishes an audio-only call from an audio+video call.
type CallType string

const (
	CallTypeAudio CallType = "audio"
	CallTypeVideo CallType = "video"
)

// CallStatus is the signalling state machine keyed by room id (spec.md
// §4.6): ringing -> ongoing (first non-initiator answer), ringing ->
// rejected (explicit reject), ringing -> missed (end with no answer),
// ongoing -> completed (end). Terminal statuses set EndedAt.
type CallStatus string

const (
	CallStatusRinging   CallStatus = "ringing"
	CallStatusOngoing   CallStatus = "ongoing"
	CallStatusCompleted CallStatus = "completed"
	CallStatusMissed    CallStatus = "missed"
	CallStatusRejected  CallStatus = "rejected"
)

func (s CallStatus) Terminal() bool {
	switch s {
	case CallStatusCompleted, CallStatusMissed, CallStatusRejected:
		return true
	default:
		return false
	}
}

// Call is the persisted record behind the Signalling Bridge (C4).
type Call struct {
	ID          uuid.UUID  `json:"id"`
	RoomID      uuid.UUID  `json:"room_id"`
	InitiatorID uuid.UUID  `json:"initiator_id"`
	CallType    CallType   `json:"call_type"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	Status      CallStatus `json:"status"`

	Participants []CallParticipant `json:"participants,omitempty"`
}

// CallParticipant tracks one user's presence within a Call.
type CallParticipant struct {
	CallID   uuid.UUID  `json:"call_id"`
	UserID   uuid.UUID  `json:"user_id"`
	JoinedAt time.Time  `json:"joined_at"`
	LeftAt   *time.Time `json:"left_at,omitempty"`
	Answered bool       `json:"answered"`
}

// Recording is the persisted artifact record left behind by the Recording
// Controller (C6) once a capture finishes; distinct from the in-memory
// recording.Session that exists only while a capture is active.
type Recording struct {
	ID         string     `json:"id"`
	CallID     uuid.UUID  `json:"call_id"`
	RoomID     uuid.UUID  `json:"room_id"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	OutputPath string     `json:"output_path"`
	HasVideo   bool       `json:"has_video"`
}
