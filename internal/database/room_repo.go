package database

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/observer/teatime/internal/domain"
)

// RoomRepository handles room, membership, and message data access. It
// grounds the storage collaborator named throughout spec.md §3-§4: the
// core treats this as a typed query surface, not its SQL.
type RoomRepository struct {
	db *DB
}

func NewRoomRepository(db *DB) *RoomRepository {
	return &RoomRepository{db: db}
}

// Create creates a new room with initial participants. The creator (if
// present in memberIDs and matches createdBy) is seeded as admin.
func (r *RoomRepository) Create(ctx context.Context, room *domain.Room, memberIDs []uuid.UUID, createdBy *uuid.UUID) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO rooms (id, type, name)
		VALUES ($1, $2, $3)
	`, room.ID, room.Type, room.Name)
	if err != nil {
		return err
	}

	for _, userID := range memberIDs {
		role := domain.ParticipantRoleMember
		if createdBy != nil && *createdBy == userID {
			role = domain.ParticipantRoleAdmin
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO room_participants (room_id, user_id, role)
			VALUES ($1, $2, $3)
		`, room.ID, userID, role)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// GetByID retrieves a room with all of its participants, including those
// who have left (LeftAt set).
func (r *RoomRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Room, error) {
	room := &domain.Room{}
	err := r.db.Pool.QueryRow(ctx, `
		SELECT id, type, name, created_at, updated_at
		FROM rooms WHERE id = $1
	`, id).Scan(&room.ID, &room.Type, &room.Name, &room.CreatedAt, &room.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Pool.Query(ctx, `
		SELECT rp.room_id, rp.user_id, rp.role, rp.joined_at, rp.left_at,
		       u.id, u.username, u.is_online, u.last_seen_at
		FROM room_participants rp
		JOIN users u ON u.id = rp.user_id
		WHERE rp.room_id = $1
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Participant
		var user domain.PublicUser
		if err := rows.Scan(
			&p.RoomID, &p.UserID, &p.Role, &p.JoinedAt, &p.LeftAt,
			&user.ID, &user.Username, &user.IsOnline, &user.LastSeenAt,
		); err != nil {
			return nil, err
		}
		p.User = &user
		room.Participants = append(room.Participants, p)
	}
	return room, rows.Err()
}

// GetUserRooms returns the rooms in which a user is currently an active
// participant (left_at is null).
func (r *RoomRepository) GetUserRooms(ctx context.Context, userID uuid.UUID) ([]domain.Room, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT r.id, r.type, r.name, r.created_at, r.updated_at
		FROM rooms r
		JOIN room_participants rp ON rp.room_id = r.id
		WHERE rp.user_id = $1 AND rp.left_at IS NULL
		ORDER BY r.updated_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []domain.Room
	for rows.Next() {
		var room domain.Room
		if err := rows.Scan(&room.ID, &room.Type, &room.Name, &room.CreatedAt, &room.UpdatedAt); err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

// ActiveParticipants returns the user ids that are currently active
// participants of a room — the input to the Room Fan-out's intersection
// with connected sessions (spec.md §4.2).
func (r *RoomRepository) ActiveParticipants(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT user_id FROM room_participants WHERE room_id = $1 AND left_at IS NULL
	`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// IsActiveParticipant checks if a user is currently an active member of a room.
func (r *RoomRepository) IsActiveParticipant(ctx context.Context, roomID, userID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.Pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM room_participants
			WHERE room_id = $1 AND user_id = $2 AND left_at IS NULL
		)
	`, roomID, userID).Scan(&exists)
	return exists, err
}

// AddParticipant adds (or re-activates) a user in a room.
func (r *RoomRepository) AddParticipant(ctx context.Context, roomID, userID uuid.UUID, role domain.ParticipantRole) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO room_participants (room_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (room_id, user_id) DO UPDATE SET left_at = NULL
	`, roomID, userID, role)
	return err
}

// RemoveParticipant marks a participant as having left (spec.md §3: a
// participant is active iff left_at is null).
func (r *RoomRepository) RemoveParticipant(ctx context.Context, roomID, userID uuid.UUID) error {
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE room_participants SET left_at = NOW()
		WHERE room_id = $1 AND user_id = $2 AND left_at IS NULL
	`, roomID, userID)
	return err
}

// FindPrivateRoom finds the unique private room between two users, if any.
// Grounds the "private rooms are unique per unordered pair" invariant
// (spec.md §3, §8 property 3).
func (r *RoomRepository) FindPrivateRoom(ctx context.Context, user1, user2 uuid.UUID) (*domain.Room, error) {
	var roomID uuid.UUID
	err := r.db.Pool.QueryRow(ctx, `
		SELECT r.id FROM rooms r
		WHERE r.type = 'private'
		AND EXISTS (SELECT 1 FROM room_participants WHERE room_id = r.id AND user_id = $1 AND left_at IS NULL)
		AND EXISTS (SELECT 1 FROM room_participants WHERE room_id = r.id AND user_id = $2 AND left_at IS NULL)
		AND (SELECT COUNT(*) FROM room_participants WHERE room_id = r.id AND left_at IS NULL) = 2
	`, user1, user2).Scan(&roomID)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r.GetByID(ctx, roomID)
}

// ============================================================================
// Message operations (C3 Chat Delivery FSM persistence)
// ============================================================================

// CreateMessage persists a message under its caller-assigned id, which is
// the message's canonical identity (spec.md §4.3 step 1).
func (r *RoomRepository) CreateMessage(ctx context.Context, msg *domain.Message) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO messages (id, room_id, sender_id, content, type, file_url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, msg.ID, msg.RoomID, msg.SenderID, msg.Content, msg.Type, nullableString(msg.FileURL), msg.CreatedAt)
	if err != nil {
		return err
	}
	_, err = r.db.Pool.Exec(ctx, `UPDATE rooms SET updated_at = NOW() WHERE id = $1`, msg.RoomID)
	return err
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// GetMessageByID fetches a single message, used when resolving a delivery
// receipt's sender (spec.md §4.3).
func (r *RoomRepository) GetMessageByID(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	m := &domain.Message{}
	var fileURL *string
	err := r.db.Pool.QueryRow(ctx, `
		SELECT id, room_id, sender_id, content, type, file_url, created_at, edited_at
		FROM messages WHERE id = $1
	`, id).Scan(&m.ID, &m.RoomID, &m.SenderID, &m.Content, &m.Type, &fileURL, &m.CreatedAt, &m.EditedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	if fileURL != nil {
		m.FileURL = *fileURL
	}
	return m, nil
}

// GetMessages retrieves messages with cursor pagination (before timestamp),
// each annotated with its aggregated delivery status (spec.md §4.3).
func (r *RoomRepository) GetMessages(ctx context.Context, roomID uuid.UUID, before *time.Time, limit int) ([]domain.Message, error) {
	var rows pgx.Rows
	var err error

	const base = `
		SELECT m.id, m.room_id, m.sender_id, m.content, m.type, m.file_url, m.created_at, m.edited_at,
		       u.id, u.username, u.is_online, u.last_seen_at
		FROM messages m
		LEFT JOIN users u ON u.id = m.sender_id
		WHERE m.room_id = $1`

	if before != nil {
		rows, err = r.db.Pool.Query(ctx, base+` AND m.created_at < $2 ORDER BY m.created_at DESC LIMIT $3`, roomID, before, limit)
	} else {
		rows, err = r.db.Pool.Query(ctx, base+` ORDER BY m.created_at DESC LIMIT $2`, roomID, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		var m domain.Message
		var fileURL *string
		var userID *uuid.UUID
		var username *string
		var isOnline *bool
		var lastSeen *time.Time

		if err := rows.Scan(
			&m.ID, &m.RoomID, &m.SenderID, &m.Content, &m.Type, &fileURL, &m.CreatedAt, &m.EditedAt,
			&userID, &username, &isOnline, &lastSeen,
		); err != nil {
			return nil, err
		}
		if fileURL != nil {
			m.FileURL = *fileURL
		}
		if userID != nil {
			m.Sender = &domain.PublicUser{ID: *userID, Username: *username, IsOnline: boolValue(isOnline), LastSeenAt: lastSeen}
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	statuses, err := r.aggregateStatuses(ctx, messageIDs(messages))
	if err != nil {
		return nil, err
	}
	for i := range messages {
		messages[i].DeliveryStatus = domain.MessageStat(statuses[messages[i].ID])
		if messages[i].DeliveryStatus == "" {
			messages[i].DeliveryStatus = domain.StatSent
		}
	}
	return messages, nil
}

func messageIDs(msgs []domain.Message) []uuid.UUID {
	ids := make([]uuid.UUID, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	return ids
}

func boolValue(b *bool) bool {
	return b != nil && *b
}

// aggregateStatuses computes delivery_status = min(status) per message
// under sent < delivered < read (spec.md §4.3 aggregation rule).
func (r *RoomRepository) aggregateStatuses(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error) {
	result := make(map[uuid.UUID]string, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	rows, err := r.db.Pool.Query(ctx, `
		SELECT message_id, status FROM message_status WHERE message_id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byMessage := make(map[uuid.UUID][]domain.MessageStat)
	for rows.Next() {
		var id uuid.UUID
		var status string
		if err := rows.Scan(&id, &status); err != nil {
			return nil, err
		}
		byMessage[id] = append(byMessage[id], domain.MessageStat(status))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for id, statuses := range byMessage {
		result[id] = string(domain.Aggregate(statuses))
	}
	return result, nil
}

// ============================================================================
// Message status operations (monotonic sent -> delivered -> read)
// ============================================================================

// UpsertStatus inserts or advances a single recipient's status, enforcing
// the monotonic ordering at the storage layer per spec.md §5 ("the storage
// layer must reject or no-op downgrades").
func (r *RoomRepository) UpsertStatus(ctx context.Context, messageID, recipientID uuid.UUID, status domain.MessageStat) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO message_status (message_id, recipient_id, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (message_id, recipient_id) DO UPDATE SET
			status = CASE
				WHEN $3 = 'read' THEN 'read'
				WHEN $3 = 'delivered' AND message_status.status != 'read' THEN 'delivered'
				ELSE message_status.status
			END,
			updated_at = NOW()
	`, messageID, recipientID, status)
	return err
}

// MarkAllRead bulk-upserts status=read for every message in a room not
// authored by the requesting user (spec.md §4.3 read-receipt step), and
// returns the distinct sender ids that should be notified.
func (r *RoomRepository) MarkAllRead(ctx context.Context, roomID, readerID uuid.UUID) ([]uuid.UUID, error) {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO message_status (message_id, recipient_id, status)
		SELECT m.id, $2, 'read'
		FROM messages m
		WHERE m.room_id = $1 AND (m.sender_id IS NULL OR m.sender_id != $2)
		ON CONFLICT (message_id, recipient_id) DO UPDATE SET status = 'read', updated_at = NOW()
	`, roomID, readerID)
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
		SELECT DISTINCT m.sender_id FROM messages m
		WHERE m.room_id = $1 AND m.sender_id IS NOT NULL AND m.sender_id != $2
	`, roomID, readerID)
	if err != nil {
		return nil, err
	}
	var senders []uuid.UUID
	for rows.Next() {
		var s uuid.UUID
		if err := rows.Scan(&s); err != nil {
			rows.Close()
			return nil, err
		}
		senders = append(senders, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return senders, tx.Commit(ctx)
}
