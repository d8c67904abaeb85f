package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/pion/webrtc/v3"

	"github.com/observer/teatime/internal/api"
	"github.com/observer/teatime/internal/auth"
	"github.com/observer/teatime/internal/chat"
	"github.com/observer/teatime/internal/config"
	"github.com/observer/teatime/internal/database"
	"github.com/observer/teatime/internal/fanout"
	"github.com/observer/teatime/internal/middleware"
	"github.com/observer/teatime/internal/recording"
	"github.com/observer/teatime/internal/registry"
	"github.com/observer/teatime/internal/server"
	"github.com/observer/teatime/internal/sfu"
	"github.com/observer/teatime/internal/signalling"
	"github.com/observer/teatime/internal/storage"
	"github.com/observer/teatime/internal/ws"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("connected to database")

	if err := database.EnsureSchema(ctx, db, "migrations"); err != nil {
		slog.Error("failed to ensure database schema", "error", err)
		os.Exit(1)
	}

	userRepo := database.NewUserRepository(db)
	roomRepo := database.NewRoomRepository(db)
	callRepo := database.NewCallRepository(db)
	attachmentRepo := database.NewAttachmentRepository(db)

	tokenService, err := auth.NewTokenService(cfg.JWTSecret, cfg.JWTExpiresIn)
	if err != nil {
		slog.Error("failed to create token service", "error", err)
		os.Exit(1)
	}
	authService := auth.NewService(userRepo, tokenService)

	var store storage.Store
	if cfg.StorageBackend == "r2" {
		r2, err := storage.NewR2Storage(cfg.R2AccountID, cfg.R2AccessKeyID, cfg.R2SecretAccessKey, cfg.R2Bucket)
		if err != nil {
			slog.Error("failed to initialize R2 storage", "error", err)
			os.Exit(1)
		}
		store = r2
		slog.Info("R2 storage initialized", "bucket", cfg.R2Bucket)
	} else {
		local, err := storage.NewLocalDisk(cfg.UploadsDir, "/uploads")
		if err != nil {
			slog.Error("failed to initialize local storage", "error", err)
			os.Exit(1)
		}
		store = local
		slog.Info("local disk storage initialized", "dir", cfg.UploadsDir)
	}

	// The Connection Supervisor (C7) is every other component's Emitter, so
	// it must exist as a pointer before Fanout/Chat/Signalling/SFU can be
	// built; SetCollaborators wires it back in once they are.
	reg := registry.New()
	hub := ws.NewHub(reg, nil, nil, nil, nil, roomRepo, callRepo, userRepo, logger.With("component", "ws"))

	fo := fanout.New(roomRepo, reg, hub, logger.With("component", "fanout"))
	chatSvc := chat.New(roomRepo, roomRepo, reg, fo, hub, logger.With("component", "chat"))
	signallingSvc := signalling.New(callRepo, reg, hub, logger.With("component", "signalling"))

	iceServers := []webrtc.ICEServer{{URLs: cfg.ICESTUNURLs}}
	if len(cfg.ICETURNURLs) > 0 {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       cfg.ICETURNURLs,
			Username:   cfg.TURNUsername,
			Credential: cfg.TURNPassword,
		})
	}
	netConfig := sfu.NetConfig{ICEServers: iceServers}

	workerPool, err := sfu.NewWorkerPool(runtime.NumCPU(), netConfig, logger.With("component", "sfu"))
	if err != nil {
		slog.Error("failed to start SFU worker pool", "error", err)
		os.Exit(1)
	}
	sfuInstance := sfu.New(workerPool, netConfig, fo, logger.With("component", "sfu"))

	recordingCtrl := recording.New(sfuInstance, callRepo, callRepo, cfg.UploadsDir, logger.With("component", "recording"))
	sfuInstance.SetRecordingHooks(recordingCtrl)

	hub.SetCollaborators(fo, chatSvc, signallingSvc, sfuInstance)

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go hub.Run(hubCtx)

	authHandler := api.NewAuthHandler(authService, logger.With("component", "api"))
	adminHandler := api.NewAdminHandler(userRepo, logger.With("component", "api"))
	uploadHandler := api.NewUploadHandler(attachmentRepo, roomRepo, store, chatSvc, logger.With("component", "api"))
	wsHandler := ws.NewHandler(hub, logger.With("component", "ws"))

	rateLimiter := middleware.NewRateLimiter(cfg.RateLimitPerMin)
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-hubCtx.Done():
				return
			case <-ticker.C:
				rateLimiter.Cleanup()
			}
		}
	}()

	deps := &server.Dependencies{
		DB:            db,
		UserRepo:      userRepo,
		AuthService:   authService,
		AuthHandler:   authHandler,
		AdminHandler:  adminHandler,
		UploadHandler: uploadHandler,
		WSHandler:     wsHandler,
		RateLimiter:   rateLimiter,
		StaticDir:     cfg.StaticDir,
		Logger:        logger,
	}

	srv := server.New(cfg, deps)

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("starting server", "addr", cfg.ServerAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-shutdownCtx.Done()
	slog.Info("shutting down gracefully...")
	stopHub()

	timeoutCtx, timeoutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer timeoutCancel()

	if err := srv.Shutdown(timeoutCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
	}

	slog.Info("server stopped")
}
