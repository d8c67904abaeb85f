package database

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/observer/teatime/internal/domain"
)

// AttachmentRepository handles attachment metadata persistence. Unlike the
// teacher's two-phase presigned-upload model, attachments here are created
// already complete: the upload handler writes the object first, then rows
// are inserted in a single terminal state.
type AttachmentRepository struct {
	db *DB
}

func NewAttachmentRepository(db *DB) *AttachmentRepository {
	return &AttachmentRepository{db: db}
}

const attachmentColumns = `id, room_id, uploader_id, object_key, url, filename, mime_type, size_bytes, created_at`

func scanAttachment(row pgx.Row) (*domain.Attachment, error) {
	a := &domain.Attachment{}
	err := row.Scan(&a.ID, &a.RoomID, &a.UploaderID, &a.ObjectKey, &a.URL, &a.Filename, &a.MimeType, &a.SizeBytes, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

// Create inserts a new attachment record.
func (r *AttachmentRepository) Create(ctx context.Context, att *domain.Attachment) error {
	return r.db.Pool.QueryRow(ctx, `
		INSERT INTO attachments (id, room_id, uploader_id, object_key, url, filename, mime_type, size_bytes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`, att.ID, att.RoomID, att.UploaderID, att.ObjectKey, att.URL, att.Filename, att.MimeType, att.SizeBytes,
	).Scan(&att.CreatedAt)
}

// GetByID retrieves an attachment by ID.
func (r *AttachmentRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Attachment, error) {
	return scanAttachment(r.db.Pool.QueryRow(ctx, `SELECT `+attachmentColumns+` FROM attachments WHERE id = $1`, id))
}

// GetByRoom lists attachments uploaded into a room, newest first.
func (r *AttachmentRepository) GetByRoom(ctx context.Context, roomID uuid.UUID) ([]domain.Attachment, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+attachmentColumns+` FROM attachments
		WHERE room_id = $1 ORDER BY created_at DESC
	`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attachments []domain.Attachment
	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return nil, err
		}
		attachments = append(attachments, *a)
	}
	return attachments, rows.Err()
}

// Delete removes an attachment record. It does not remove the underlying
// object; callers that own the store are responsible for that.
func (r *AttachmentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM attachments WHERE id = $1`, id)
	return err
}
