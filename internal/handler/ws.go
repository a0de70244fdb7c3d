package handler

import (
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/capitalize-ai/messaging-platform/internal/middleware"
	"github.com/capitalize-ai/messaging-platform/internal/relay"
	"github.com/capitalize-ai/messaging-platform/pkg/logger"
)

// WSHandler upgrades authenticated requests to relay sessions.
type WSHandler struct {
	hub      *relay.Hub
	upgrader websocket.Upgrader
	logger   *logger.Logger
}

// NewWSHandler creates a websocket handler. checkOrigin may be nil to
// accept every origin.
func NewWSHandler(hub *relay.Hub, checkOrigin func(r *http.Request) bool, log *logger.Logger) *WSHandler {
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &WSHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		logger: log,
	}
}

// Serve handles GET /ws
func (h *WSHandler) Serve(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.Debug("websocket upgrade failed", zap.String("user_id", userID), zap.Error(err))
		return
	}

	h.hub.Serve(r.Context(), conn, userID)
}
