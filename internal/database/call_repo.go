package database

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/observer/teatime/internal/domain"
)

// CallRepository handles call and call-participant persistence.
type CallRepository struct {
	db *DB
}

func NewCallRepository(db *DB) *CallRepository {
	return &CallRepository{db: db}
}

// CreateCall inserts a new ringing call and its initiator as the first
// participant, already marked answered.
func (r *CallRepository) CreateCall(ctx context.Context, roomID, initiatorID uuid.UUID, callType domain.CallType) (*domain.Call, error) {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	call := &domain.Call{}
	err = tx.QueryRow(ctx, `
		INSERT INTO calls (room_id, initiator_id, call_type, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id, room_id, initiator_id, call_type, started_at, ended_at, status
	`, roomID, initiatorID, callType, domain.CallStatusRinging).Scan(
		&call.ID, &call.RoomID, &call.InitiatorID, &call.CallType,
		&call.StartedAt, &call.EndedAt, &call.Status,
	)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO call_participants (call_id, user_id, answered)
		VALUES ($1, $2, true)
	`, call.ID, initiatorID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return call, nil
}

// SetStatus transitions a call's status, stamping ended_at when the status
// is terminal (domain.CallStatus.Terminal).
func (r *CallRepository) SetStatus(ctx context.Context, callID uuid.UUID, status domain.CallStatus) error {
	if status.Terminal() {
		_, err := r.db.Pool.Exec(ctx, `
			UPDATE calls SET status = $2, ended_at = NOW() WHERE id = $1
		`, callID, status)
		return err
	}
	_, err := r.db.Pool.Exec(ctx, `UPDATE calls SET status = $2 WHERE id = $1`, callID, status)
	return err
}

// AddParticipant upserts a call participant, marking them answered and
// clearing any prior left_at on rejoin.
func (r *CallRepository) AddParticipant(ctx context.Context, callID, userID uuid.UUID, answered bool) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO call_participants (call_id, user_id, answered)
		VALUES ($1, $2, $3)
		ON CONFLICT (call_id, user_id) DO UPDATE
		SET answered = call_participants.answered OR EXCLUDED.answered, left_at = NULL
	`, callID, userID, answered)
	return err
}

// RemoveParticipant marks a participant as having left the call.
func (r *CallRepository) RemoveParticipant(ctx context.Context, callID, userID uuid.UUID) error {
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE call_participants SET left_at = NOW()
		WHERE call_id = $1 AND user_id = $2 AND left_at IS NULL
	`, callID, userID)
	return err
}

const callColumns = `id, room_id, initiator_id, call_type, started_at, ended_at, status`

func scanCall(row pgx.Row) (*domain.Call, error) {
	c := &domain.Call{}
	err := row.Scan(&c.ID, &c.RoomID, &c.InitiatorID, &c.CallType, &c.StartedAt, &c.EndedAt, &c.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrCallNotFound
	}
	return c, err
}

// GetByID fetches a call with its participants.
func (r *CallRepository) GetByID(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	call, err := scanCall(r.db.Pool.QueryRow(ctx, `SELECT `+callColumns+` FROM calls WHERE id = $1`, callID))
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Pool.Query(ctx, `
		SELECT call_id, user_id, joined_at, left_at, answered
		FROM call_participants WHERE call_id = $1
		ORDER BY joined_at
	`, callID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.CallParticipant
		if err := rows.Scan(&p.CallID, &p.UserID, &p.JoinedAt, &p.LeftAt, &p.Answered); err != nil {
			return nil, err
		}
		call.Participants = append(call.Participants, p)
	}
	return call, rows.Err()
}

// GetActiveCallForRoom returns the room's ringing-or-ongoing call, if any.
func (r *CallRepository) GetActiveCallForRoom(ctx context.Context, roomID uuid.UUID) (*domain.Call, error) {
	call, err := scanCall(r.db.Pool.QueryRow(ctx, `
		SELECT `+callColumns+` FROM calls
		WHERE room_id = $1 AND status IN ('ringing', 'ongoing')
		ORDER BY started_at DESC LIMIT 1
	`, roomID))
	if errors.Is(err, domain.ErrCallNotFound) {
		return nil, nil
	}
	return call, err
}

// IsCallActive reports whether a call is still ringing or ongoing.
func (r *CallRepository) IsCallActive(ctx context.Context, callID uuid.UUID) (bool, error) {
	var status domain.CallStatus
	err := r.db.Pool.QueryRow(ctx, `SELECT status FROM calls WHERE id = $1`, callID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !status.Terminal(), nil
}

// GetCallHistoryForRoom returns a room's calls, newest first.
func (r *CallRepository) GetCallHistoryForRoom(ctx context.Context, roomID uuid.UUID, limit, offset int) ([]domain.Call, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+callColumns+` FROM calls
		WHERE room_id = $1
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3
	`, roomID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var calls []domain.Call
	for rows.Next() {
		c := domain.Call{}
		if err := rows.Scan(&c.ID, &c.RoomID, &c.InitiatorID, &c.CallType, &c.StartedAt, &c.EndedAt, &c.Status); err != nil {
			return nil, err
		}
		calls = append(calls, c)
	}
	return calls, rows.Err()
}

// GetMissedCallCount returns the number of calls in a room the user was
// invited to (via call_participants) but never answered.
func (r *CallRepository) GetMissedCallCount(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int
	err := r.db.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM call_participants
		WHERE user_id = $1 AND answered = false
	`, userID).Scan(&count)
	return count, err
}

// CreateRecording inserts the persisted artifact record for a finished
// capture (see internal/recording for the in-memory session it closes out).
func (r *CallRepository) CreateRecording(ctx context.Context, rec *domain.Recording) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO recordings (id, call_id, room_id, started_at, ended_at, output_path, has_video)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, rec.ID, rec.CallID, rec.RoomID, rec.StartedAt, rec.EndedAt, rec.OutputPath, rec.HasVideo)
	return err
}

// GetRecordingsForCall lists recordings produced during a call.
func (r *CallRepository) GetRecordingsForCall(ctx context.Context, callID uuid.UUID) ([]domain.Recording, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, call_id, room_id, started_at, ended_at, output_path, has_video
		FROM recordings WHERE call_id = $1 ORDER BY started_at
	`, callID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []domain.Recording
	for rows.Next() {
		var rec domain.Recording
		if err := rows.Scan(&rec.ID, &rec.CallID, &rec.RoomID, &rec.StartedAt, &rec.EndedAt, &rec.OutputPath, &rec.HasVideo); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
