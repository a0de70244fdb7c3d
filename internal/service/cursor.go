package service

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/capitalize-ai/messaging-platform/internal/apperr"
)

// Cursors are opaque to callers: JSON wrapped in unpadded base64url.

type idCursor struct {
	Before string `json:"b"`
}

type inboxCursor struct {
	LastMessageAt  time.Time `json:"t"`
	ConversationID string    `json:"c"`
}

func encodeCursor(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(data)
}

func decodeCursor(op, cursor string, v any) error {
	data, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return apperr.Validation(op, "invalid cursor")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperr.Validation(op, "invalid cursor")
	}
	return nil
}

func encodeIDCursor(id string) string {
	return encodeCursor(idCursor{Before: id})
}

func decodeIDCursor(op, cursor string) (string, error) {
	if cursor == "" {
		return "", nil
	}
	var c idCursor
	if err := decodeCursor(op, cursor, &c); err != nil {
		return "", err
	}
	if c.Before == "" {
		return "", apperr.Validation(op, "invalid cursor")
	}
	return c.Before, nil
}
