// Package handler provides HTTP handlers for the API.
package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/messaging-platform/internal/apperr"
	"github.com/capitalize-ai/messaging-platform/internal/middleware"
	"github.com/capitalize-ai/messaging-platform/pkg/logger"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// writeAppError maps a classified error to its HTTP status. Unclassified
// and dependency errors are logged; their details never reach the client.
func writeAppError(w http.ResponseWriter, r *http.Request, log *logger.Logger, err error) {
	status := http.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		status = http.StatusBadRequest
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindAuthorization:
		status = http.StatusForbidden
	case apperr.KindConflict:
		status = http.StatusConflict
	case apperr.KindDependency:
		status = http.StatusBadGateway
	}

	if status >= http.StatusInternalServerError {
		ctx := r.Context()
		log.WithRequest(middleware.GetCorrelationID(ctx), middleware.GetUserID(ctx)).Error("request failed",
			zap.String("path", r.URL.Path),
			zap.Bool("retryable", apperr.IsRetryable(err)),
			zap.Error(err),
		)
	}
	if apperr.IsRetryable(err) {
		w.Header().Set("Retry-After", "1")
	}
	writeError(w, status, apperr.Message(err))
}

// decodeJSON reads a JSON body, writing a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// conversationID reads and validates the {id} path parameter.
func conversationID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateConversationID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return id, true
}

// messageID reads and validates the {messageId} path parameter.
func messageID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "messageId")
	if err := middleware.ValidateMessageID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return id, true
}

// pageParams reads limit and cursor. Out of range limits are clamped by
// the services.
func pageParams(r *http.Request) (int, string) {
	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil {
			limit = parsed
		}
	}
	return limit, r.URL.Query().Get("cursor")
}
