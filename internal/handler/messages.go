package handler

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/capitalize-ai/messaging-platform/internal/middleware"
	"github.com/capitalize-ai/messaging-platform/internal/model"
	"github.com/capitalize-ai/messaging-platform/internal/service"
	"github.com/capitalize-ai/messaging-platform/pkg/logger"
)

const (
	maxMultipartMemory = 32 << 20
	maxUploadBytes     = 25 << 20
)

// MessageHandler handles message endpoints.
type MessageHandler struct {
	chat     *service.ChatService
	messages *service.MessageService
	parts    *service.ParticipantService
	logger   *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(
	chat *service.ChatService,
	messages *service.MessageService,
	parts *service.ParticipantService,
	log *logger.Logger,
) *MessageHandler {
	return &MessageHandler{
		chat:     chat,
		messages: messages,
		parts:    parts,
		logger:   log,
	}
}

// Send handles POST /api/v1/conversations/{id}/messages
//
// A JSON body sends text. A multipart body sends media: every "files" part
// is uploaded and the optional "content" field becomes the caption.
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	convID, ok := conversationID(w, r)
	if !ok {
		return
	}

	var content service.Content
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		c, err := readMultipart(w, r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		content = c
	} else {
		var req model.SendMessageRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.Type != "" && req.Type != model.MessageText {
			writeError(w, http.StatusBadRequest, "media must be sent as multipart/form-data")
			return
		}
		content.Text = req.Content
	}
	if err := middleware.ValidateMessageContent(content.Text); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.chat.Send(ctx, middleware.GetUserID(ctx), convID, content)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, res.Response())
}

func readMultipart(w http.ResponseWriter, r *http.Request) (service.Content, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes*10)
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		return service.Content{}, errors.New("invalid multipart body")
	}

	content := service.Content{Text: r.FormValue("content")}
	for _, fh := range r.MultipartForm.File["files"] {
		if fh.Size > maxUploadBytes {
			return service.Content{}, errors.New("file " + fh.Filename + " is too large")
		}
		f, err := fh.Open()
		if err != nil {
			return service.Content{}, errors.New("unreadable file " + fh.Filename)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return service.Content{}, errors.New("unreadable file " + fh.Filename)
		}

		mimeType := fh.Header.Get("Content-Type")
		if mimeType == "" || strings.HasPrefix(mimeType, "application/octet-stream") {
			mimeType = http.DetectContentType(data)
		}
		content.Uploads = append(content.Uploads, model.Upload{
			FileName: fh.Filename,
			MimeType: mimeType,
			Data:     data,
		})
	}
	return content, nil
}

// List handles GET /api/v1/conversations/{id}/messages
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
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
	resp, err := h.messages.Page(ctx, convID, limit, cursor)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Get handles GET /api/v1/conversations/{id}/messages/{messageId}
func (h *MessageHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	convID, ok := conversationID(w, r)
	if !ok {
		return
	}
	msgID, ok := messageID(w, r)
	if !ok {
		return
	}

	if err := h.parts.Require(ctx, middleware.GetUserID(ctx), convID); err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}

	msg, err := h.messages.GetByID(ctx, convID, msgID)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, msg)
}

// SetStatus handles PUT /api/v1/conversations/{id}/messages/{messageId}/status
func (h *MessageHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	convID, ok := conversationID(w, r)
	if !ok {
		return
	}
	msgID, ok := messageID(w, r)
	if !ok {
		return
	}

	var req model.SetStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.parts.Require(ctx, middleware.GetUserID(ctx), convID); err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}

	msg, err := h.messages.SetStatus(ctx, convID, msgID, req.Status)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, msg)
}

// Forward handles POST /api/v1/conversations/{id}/messages/{messageId}/forward
func (h *MessageHandler) Forward(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	convID, ok := conversationID(w, r)
	if !ok {
		return
	}
	msgID, ok := messageID(w, r)
	if !ok {
		return
	}

	var req model.ForwardMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.chat.Forward(ctx, middleware.GetUserID(ctx), convID, msgID, req.TargetConversationID)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, res.Response())
}
