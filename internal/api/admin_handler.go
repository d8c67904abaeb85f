package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/observer/teatime/internal/database"
	"github.com/observer/teatime/internal/domain"
)

// AdminHandler serves the approval workflow named in spec.md §6: admins
// list pending registrations and flip them to active or rejected. The
// router mounts this behind a role=admin check (see server.go).
type AdminHandler struct {
	users  *database.UserRepository
	logger *slog.Logger
}

func NewAdminHandler(users *database.UserRepository, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{users: users, logger: logger}
}

func pagination(r *http.Request) (limit, offset int) {
	limit, offset = 50, 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

// ListUsers godoc
//
//	@Summary		List users
//	@Description	Paginated list of all users, any approval status
//	@Tags			admin
//	@Security		BearerAuth
//	@Produce		json
//	@Param			limit	query	int	false	"Result limit (default 50, max 200)"
//	@Param			offset	query	int	false	"Result offset"
//	@Success		200		{object}	object{users=[]interface{}}
//	@Router			/admin/users [get]
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	users, err := h.users.ListByStatus(r.Context(), nil, limit, offset)
	if err != nil {
		h.logger.Error("list users failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list users")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"users": users})
}

// ListPending godoc
//
//	@Summary		List pending users
//	@Description	Paginated list of users awaiting approval
//	@Tags			admin
//	@Security		BearerAuth
//	@Produce		json
//	@Param			limit	query	int	false	"Result limit (default 50, max 200)"
//	@Param			offset	query	int	false	"Result offset"
//	@Success		200		{object}	object{users=[]interface{}}
//	@Router			/admin/users/pending [get]
func (h *AdminHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	status := domain.UserStatusPending
	users, err := h.users.ListByStatus(r.Context(), &status, limit, offset)
	if err != nil {
		h.logger.Error("list pending users failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list pending users")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"users": users})
}

func (h *AdminHandler) setStatus(w http.ResponseWriter, r *http.Request, status domain.UserStatus) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	if _, err := h.users.GetByID(r.Context(), id); err != nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	if err := h.users.SetStatus(r.Context(), id, status); err != nil {
		h.logger.Error("set user status failed", "error", err, "user_id", id)
		writeError(w, http.StatusInternalServerError, "failed to update status")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(status)})
}

// Approve godoc
//
//	@Summary		Approve a pending user
//	@Tags			admin
//	@Security		BearerAuth
//	@Produce		json
//	@Param			id	path	string	true	"User ID"
//	@Success		200	{object}	map[string]string
//	@Router			/admin/users/{id}/approve [post]
func (h *AdminHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, domain.UserStatusActive)
}

// Reject godoc
//
//	@Summary		Reject a pending user
//	@Tags			admin
//	@Security		BearerAuth
//	@Produce		json
//	@Param			id	path	string	true	"User ID"
//	@Success		200	{object}	map[string]string
//	@Router			/admin/users/{id}/reject [post]
func (h *AdminHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, domain.UserStatusRejected)
}
