package handler

import (
	"net/http"
	"strconv"

	"github.com/capitalize-ai/messaging-platform/internal/middleware"
	"github.com/capitalize-ai/messaging-platform/internal/model"
	"github.com/capitalize-ai/messaging-platform/internal/service"
	"github.com/capitalize-ai/messaging-platform/pkg/logger"
)

// ConversationHandler handles conversation endpoints.
type ConversationHandler struct {
	chat   *service.ChatService
	convs  *service.ConversationService
	logger *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(chat *service.ChatService, convs *service.ConversationService, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		chat:   chat,
		convs:  convs,
		logger: log,
	}
}

// startResponse answers a direct send that may have opened the conversation.
type startResponse struct {
	model.ConversationStarted
	Degraded          bool     `json:"degraded,omitempty"`
	StaleParticipants []string `json:"stale_participants,omitempty"`
}

// CreateOneToOne handles POST /api/v1/conversations/one-to-one
func (h *ConversationHandler) CreateOneToOne(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req model.CreateOneToOneRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := middleware.ValidateMessageContent(req.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.chat.StartOneToOne(ctx, userID, req.RecipientID, service.Content{Text: req.Content})
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, startResponse{
		ConversationStarted: model.ConversationStarted{
			Conversation: res.Conversation,
			Message:      res.Message,
			IsNew:        res.Created,
		},
		Degraded:          res.Degraded(),
		StaleParticipants: res.StaleParticipants,
	})
}

// CreateGroup handles POST /api/v1/conversations/group
func (h *ConversationHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req model.CreateGroupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := middleware.ValidateGroupName(req.GroupName); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, rows, err := h.chat.CreateGroup(ctx, userID, &req)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, model.ConversationDetail{
		Conversation: conv,
		Participants: rows,
	})
}

// List handles GET /api/v1/conversations
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	limit, cursor := pageParams(r)

	archived := false
	if a := r.URL.Query().Get("archived"); a != "" {
		parsed, err := strconv.ParseBool(a)
		if err != nil {
			writeError(w, http.StatusBadRequest, "archived must be a boolean")
			return
		}
		archived = parsed
	}

	resp, err := h.convs.ListForUser(ctx, userID, limit, cursor, archived)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Get handles GET /api/v1/conversations/{id}
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	convID, ok := conversationID(w, r)
	if !ok {
		return
	}

	detail, err := h.chat.Conversation(ctx, middleware.GetUserID(ctx), convID)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, detail)
}

// Update handles PATCH /api/v1/conversations/{id}
func (h *ConversationHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	convID, ok := conversationID(w, r)
	if !ok {
		return
	}

	var req model.UpdateConversationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := middleware.ValidateGroupName(req.GroupName); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := h.chat.UpdateGroup(ctx, middleware.GetUserID(ctx), convID, &req)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

// Delete handles DELETE /api/v1/conversations/{id}
func (h *ConversationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	convID, ok := conversationID(w, r)
	if !ok {
		return
	}

	if err := h.chat.DeleteGroup(ctx, middleware.GetUserID(ctx), convID); err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
