package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/capitalize-ai/messaging-platform/internal/middleware"
	"github.com/capitalize-ai/messaging-platform/internal/model"
	"github.com/capitalize-ai/messaging-platform/internal/service"
	"github.com/capitalize-ai/messaging-platform/pkg/logger"
)

// AttachmentHandler handles attachment endpoints.
type AttachmentHandler struct {
	atts   *service.AttachmentService
	parts  *service.ParticipantService
	logger *logger.Logger
}

// NewAttachmentHandler creates a new attachment handler.
func NewAttachmentHandler(atts *service.AttachmentService, parts *service.ParticipantService, log *logger.Logger) *AttachmentHandler {
	return &AttachmentHandler{
		atts:   atts,
		parts:  parts,
		logger: log,
	}
}

// ListByConversation handles GET /api/v1/conversations/{id}/attachments
func (h *AttachmentHandler) ListByConversation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	convID, ok := conversationID(w, r)
	if !ok {
		return
	}

	if err := h.parts.Require(ctx, middleware.GetUserID(ctx), convID); err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}

	limit, cursor := pageParams(r)
	resp, err := h.atts.ListByConversation(ctx, convID, limit, cursor)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// ListByMessage handles GET /api/v1/messages/{messageId}/attachments
func (h *AttachmentHandler) ListByMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	msgID, ok := messageID(w, r)
	if !ok {
		return
	}

	atts, err := h.atts.ListByMessage(ctx, msgID)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	// Every attachment of a message shares its conversation.
	if len(atts) > 0 {
		if err := h.parts.Require(ctx, middleware.GetUserID(ctx), atts[0].ConversationID); err != nil {
			writeAppError(w, r, h.logger, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, model.ListAttachmentsResponse{Attachments: atts})
}

// Delete handles DELETE /api/v1/messages/{messageId}/attachments/{attachmentId}
func (h *AttachmentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	msgID, ok := messageID(w, r)
	if !ok {
		return
	}
	attID := chi.URLParam(r, "attachmentId")
	if err := middleware.ValidateMessageID(attID); err != nil {
		writeError(w, http.StatusBadRequest, "invalid attachment ID format")
		return
	}

	if err := h.atts.Delete(ctx, middleware.GetUserID(ctx), msgID, attID); err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
