package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/observer/teatime/internal/api"
	"github.com/observer/teatime/internal/auth"
	"github.com/observer/teatime/internal/config"
	"github.com/observer/teatime/internal/database"
	"github.com/observer/teatime/internal/middleware"
	"github.com/observer/teatime/internal/ws"
)

// Dependencies holds all service dependencies for the server
type Dependencies struct {
	DB            *database.DB
	UserRepo      *database.UserRepository
	AuthService   *auth.Service
	AuthHandler   *api.AuthHandler
	AdminHandler  *api.AdminHandler
	UploadHandler *api.UploadHandler
	WSHandler     *ws.Handler
	RateLimiter   *middleware.RateLimiter
	StaticDir     string
	Logger        *slog.Logger
}

// New creates an HTTP server with all routes configured.
func New(cfg *config.Config, deps *Dependencies) *http.Server {
	mux := http.NewServeMux()

	registerRoutes(mux, cfg, deps)

	handler := chainMiddleware(mux,
		requestIDMiddleware,
		corsMiddleware(cfg),
		loggingMiddleware(deps.Logger),
		recoverMiddleware(deps.Logger),
	)

	return &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

func registerRoutes(mux *http.ServeMux, cfg *config.Config, deps *Dependencies) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := deps.DB.Health(r.Context()); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"not ready","error":"database unavailable"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	})

	authMiddleware := auth.Middleware(deps.AuthService)
	adminOnly := adminOnlyMiddleware(deps.UserRepo)
	rateLimit := rateLimitMiddleware(deps.RateLimiter)

	// =========================================================================
	// Auth routes (spec.md §6): register/login are public, me is protected.
	// =========================================================================
	mux.HandleFunc("POST /api/auth/register", deps.AuthHandler.Register)
	mux.HandleFunc("POST /api/auth/login", deps.AuthHandler.Login)
	mux.HandleFunc("POST /api/auth/refresh", deps.AuthHandler.Refresh)
	mux.HandleFunc("POST /api/auth/logout", deps.AuthHandler.Logout)
	mux.Handle("GET /api/auth/me", authMiddleware(rateLimit(http.HandlerFunc(deps.AuthHandler.Me))))

	// =========================================================================
	// Admin routes (spec.md §6): role=admin on top of a valid token.
	// =========================================================================
	mux.Handle("GET /api/admin/users", authMiddleware(adminOnly(rateLimit(http.HandlerFunc(deps.AdminHandler.ListUsers)))))
	mux.Handle("GET /api/admin/users/pending", authMiddleware(adminOnly(rateLimit(http.HandlerFunc(deps.AdminHandler.ListPending)))))
	mux.Handle("POST /api/admin/users/{id}/approve", authMiddleware(adminOnly(rateLimit(http.HandlerFunc(deps.AdminHandler.Approve)))))
	mux.Handle("POST /api/admin/users/{id}/reject", authMiddleware(adminOnly(rateLimit(http.HandlerFunc(deps.AdminHandler.Reject)))))

	// =========================================================================
	// Upload route (spec.md §6): server-side multipart, membership-checked
	// inside the handler rather than at this layer.
	// =========================================================================
	mux.Handle("POST /api/upload", authMiddleware(rateLimit(http.HandlerFunc(deps.UploadHandler.Upload))))

	// =========================================================================
	// Socket endpoint (spec.md §5/§6): the Connection Supervisor's upgrade.
	// =========================================================================
	mux.Handle("GET /socket", deps.WSHandler)

	// =========================================================================
	// Uploaded file retrieval and static frontend, both served at root.
	// =========================================================================
	mux.Handle("/uploads/", http.StripPrefix("/uploads/", http.FileServer(http.Dir(cfg.UploadsDir))))
	if deps.StaticDir != "" {
		mux.Handle("GET /", http.FileServer(http.Dir(deps.StaticDir)))
	}
}
