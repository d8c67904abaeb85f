package api

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/observer/teatime/internal/database"
	"github.com/observer/teatime/internal/domain"
	"github.com/observer/teatime/internal/storage"
)

// MessageEmitter lets the upload handler hand a freshly-stored attachment
// to the Chat Delivery FSM (C3) as an ordinary message, without importing
// its socket-delivery machinery directly.
type MessageEmitter interface {
	EmitUploadMessage(ctx context.Context, msg *domain.Message) error
}

// UploadHandler backs POST /api/upload: a server-side multipart endpoint,
// not the teacher's client-presigned-PUT flow, since the core treats file
// storage as a dumb blob store behind one HTTP call (spec.md §1).
type UploadHandler struct {
	attachments *database.AttachmentRepository
	rooms       *database.RoomRepository
	store       storage.Store
	emitter     MessageEmitter
	logger      *slog.Logger
}

func NewUploadHandler(attachments *database.AttachmentRepository, rooms *database.RoomRepository, store storage.Store, emitter MessageEmitter, logger *slog.Logger) *UploadHandler {
	return &UploadHandler{attachments: attachments, rooms: rooms, store: store, emitter: emitter, logger: logger}
}

// Upload godoc
//
//	@Summary		Upload a chat attachment
//	@Description	Multipart upload of a file into a room; emits a chat message of the matching type
//	@Tags			uploads
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			file			formData	file	true	"File contents (max 25MiB)"
//	@Param			roomId			formData	string	true	"Target room id"
//	@Param			senderId		formData	string	true	"Uploading user id"
//	@Param			senderUsername	formData	string	false	"Uploading user's display name"
//	@Param			messageType		formData	string	false	"Override message type (image/audio/video/file)"
//	@Success		201				{object}	interface{}
//	@Failure		400				{object}	map[string]string
//	@Router			/upload [post]
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, domain.MaxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(domain.MaxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "file too large or malformed form")
		return
	}

	roomID, err := uuid.Parse(r.FormValue("roomId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid roomId")
		return
	}
	senderID, err := uuid.Parse(r.FormValue("senderId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid senderId")
		return
	}

	if ok, err := h.rooms.IsActiveParticipant(ctx, roomID, senderID); err != nil {
		h.logger.Error("membership check failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to verify membership")
		return
	} else if !ok {
		writeError(w, http.StatusForbidden, "not a member of this room")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field required")
		return
	}
	defer file.Close()

	if header.Size > domain.MaxUploadBytes {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("file too large (max %d bytes)", domain.MaxUploadBytes))
		return
	}

	mimeType := header.Header.Get("Content-Type")
	objectKey := fmt.Sprintf("%d-%d%s", time.Now().Unix(), rand.Intn(1_000_000), path.Ext(header.Filename))

	url, err := h.store.Put(ctx, objectKey, mimeType, file, header.Size)
	if err != nil {
		h.logger.Error("store upload failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store file")
		return
	}

	att := &domain.Attachment{
		ID:         uuid.New(),
		RoomID:     roomID,
		UploaderID: senderID,
		ObjectKey:  objectKey,
		URL:        url,
		Filename:   header.Filename,
		MimeType:   mimeType,
		SizeBytes:  header.Size,
	}
	if err := h.attachments.Create(ctx, att); err != nil {
		h.logger.Error("create attachment record failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to record attachment")
		return
	}

	msgType := domain.MessageType(r.FormValue("messageType"))
	if msgType == "" {
		msgType = inferMessageType(mimeType)
	}

	msg := &domain.Message{
		ID:       uuid.New(),
		RoomID:   roomID,
		SenderID: &senderID,
		Type:     msgType,
		Content:  header.Filename,
		FileURL:  att.URL,
	}
	if err := h.emitter.EmitUploadMessage(ctx, msg); err != nil {
		h.logger.Error("emit upload message failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to deliver message")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"attachment": att,
		"message":    msg,
	})
}

// inferMessageType buckets by MIME type. It distinguishes audio/video from
// the generic file type beyond the spec's {image, file}, since the web
// client renders those with dedicated players rather than a download link.
func inferMessageType(mimeType string) domain.MessageType {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return domain.MessageTypeImage
	case strings.HasPrefix(mimeType, "audio/"):
		return domain.MessageTypeAudio
	case strings.HasPrefix(mimeType, "video/"):
		return domain.MessageTypeVideo
	default:
		return domain.MessageTypeFile
	}
}
