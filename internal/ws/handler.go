package ws

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

// upgrader allows any origin; spec.md §6 calls cross-origin "wide open".
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler upgrades HTTP connections to the socket transport and registers
// each resulting Client with the Hub.
type Handler struct {
	hub    *Hub
	logger *slog.Logger
}

func NewHandler(hub *Hub, logger *slog.Logger) *Handler {
	return &Handler{hub: hub, logger: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", "error", err)
		return
	}

	client := newClient(h.hub, conn, h.logger)
	ctx, cancel := context.WithCancel(context.Background())
	client.setCancelFunc(cancel)

	h.hub.register <- client

	go client.WritePump(ctx)
	client.ReadPump(ctx)
}
