package handler

import (
	"net/http"
	"time"

	"github.com/capitalize-ai/messaging-platform/internal/middleware"
	"github.com/capitalize-ai/messaging-platform/internal/model"
	"github.com/capitalize-ai/messaging-platform/internal/service"
	"github.com/capitalize-ai/messaging-platform/pkg/logger"
)

// ParticipantHandler handles membership and per-user conversation state.
type ParticipantHandler struct {
	chat   *service.ChatService
	parts  *service.ParticipantService
	logger *logger.Logger
}

// NewParticipantHandler creates a new participant handler.
func NewParticipantHandler(chat *service.ChatService, parts *service.ParticipantService, log *logger.Logger) *ParticipantHandler {
	return &ParticipantHandler{
		chat:   chat,
		parts:  parts,
		logger: log,
	}
}

// Add handles POST /api/v1/conversations/{id}/participants
func (h *ParticipantHandler) Add(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	convID, ok := conversationID(w, r)
	if !ok {
		return
	}

	var req model.AddParticipantsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	rows, err := h.chat.AddParticipants(ctx, middleware.GetUserID(ctx), convID, req.UserIDs)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string][]model.Participant{"participants": rows})
}

// Leave handles DELETE /api/v1/conversations/{id}/participants/me
func (h *ParticipantHandler) Leave(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	convID, ok := conversationID(w, r)
	if !ok {
		return
	}

	if err := h.chat.Leave(ctx, middleware.GetUserID(ctx), convID); err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// MarkRead handles PUT /api/v1/conversations/{id}/read
func (h *ParticipantHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	convID, ok := conversationID(w, r)
	if !ok {
		return
	}

	p, err := h.parts.MarkRead(ctx, middleware.GetUserID(ctx), convID, time.Now().UTC())
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, p)
}

// Mute handles PUT /api/v1/conversations/{id}/mute
func (h *ParticipantHandler) Mute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	convID, ok := conversationID(w, r)
	if !ok {
		return
	}

	var req model.MuteRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	p, err := h.parts.SetMuted(ctx, middleware.GetUserID(ctx), convID, req.Muted)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, p)
}

// Archive handles PUT /api/v1/conversations/{id}/archive
func (h *ParticipantHandler) Archive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	convID, ok := conversationID(w, r)
	if !ok {
		return
	}

	var req model.ArchiveRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	p, err := h.parts.SetArchived(ctx, middleware.GetUserID(ctx), convID, req.Archived)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, p)
}
