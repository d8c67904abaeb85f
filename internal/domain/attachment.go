package domain

import (
	"time"

	"github.com/google/uuid"
)

// Attachment is a file uploaded through POST /api/upload, stored under
// /uploads/<epoch-rand>.<ext> (or R2 when configured) and linked into a
// chat message.
type Attachment struct {
	ID         uuid.UUID `json:"id"`
	RoomID     uuid.UUID `json:"room_id"`
	UploaderID uuid.UUID `json:"uploader_id"`
	ObjectKey  string    `json:"object_key"`
	URL        string    `json:"url"`
	Filename   string    `json:"filename"`
	MimeType   string    `json:"mime_type"`
	SizeBytes  int64     `json:"size_bytes"`
	CreatedAt  time.Time `json:"created_at"`
}

// MaxUploadBytes is the 25 MiB cap named in spec.md §6.
const MaxUploadBytes = 25 << 20
