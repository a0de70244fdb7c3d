package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/capitalize-ai/messaging-platform/internal/apperr"
	"github.com/capitalize-ai/messaging-platform/internal/model"
	"github.com/capitalize-ai/messaging-platform/internal/msgid"
	"github.com/capitalize-ai/messaging-platform/internal/store"
	"github.com/capitalize-ai/messaging-platform/pkg/logger"
	"github.com/capitalize-ai/messaging-platform/pkg/metrics"
)

// NewMessage describes a message to append.
type NewMessage struct {
	ConversationID  string
	SenderID        string
	RecipientID     string
	Body            model.Body
	ForwardedFromID string
}

// MessageService is the message ledger.
type MessageService struct {
	messages store.MessageStore
	convs    *ConversationService
	ids      *msgid.Generator
	logger   *logger.Logger
	now      func() time.Time
}

// NewMessageService creates a new message service. ids must be shared by
// every writer in the process.
func NewMessageService(st store.Store, convs *ConversationService, ids *msgid.Generator, log *logger.Logger) *MessageService {
	return &MessageService{
		messages: st.Messages(),
		convs:    convs,
		ids:      ids,
		logger:   log,
		now:      utcNow,
	}
}

// ValidateBody checks a message body before anything is written.
func ValidateBody(op string, body model.Body) error {
	switch b := body.(type) {
	case model.TextBody:
		if strings.TrimSpace(b.Text) == "" {
			return apperr.Validation(op, "message content is required")
		}
	case model.MediaBody:
		if len(b.Attachments) == 0 {
			return apperr.Validation(op, "media messages need at least one attachment")
		}
	default:
		return apperr.Validation(op, "unknown message type")
	}
	return nil
}

// Append writes a message to the end of its conversation's ledger. The ID
// and CreatedAt are taken from the same clock reading.
func (s *MessageService) Append(ctx context.Context, in NewMessage) (*model.Message, error) {
	const op = "message.Append"
	if in.SenderID == "" {
		return nil, apperr.Validation(op, "sender is required")
	}
	if err := ValidateBody(op, in.Body); err != nil {
		return nil, err
	}
	if _, err := s.convs.Get(ctx, in.ConversationID); err != nil {
		return nil, err
	}

	id, ts := s.ids.Next()
	msg := &model.Message{
		ID:              id,
		ConversationID:  in.ConversationID,
		SenderID:        in.SenderID,
		RecipientID:     in.RecipientID,
		Type:            in.Body.Type(),
		Status:          model.StatusSent,
		ForwardedFromID: in.ForwardedFromID,
		CreatedAt:       ts,
		UpdatedAt:       ts,
	}
	switch b := in.Body.(type) {
	case model.TextBody:
		msg.Content = b.Text
	case model.MediaBody:
		msg.Content = b.Caption
		msg.Attachments = b.Attachments
	}

	if err := s.messages.Append(ctx, msg); err != nil {
		return nil, apperr.Dependency(op, err)
	}
	metrics.MessagesTotal.WithLabelValues(string(msg.Type)).Inc()
	return msg, nil
}

// Page returns messages newest first. The returned cursor fetches the next,
// older page and is empty when there is none.
func (s *MessageService) Page(ctx context.Context, conversationID string, limit int, cursor string) (*model.ListMessagesResponse, error) {
	const op = "message.Page"
	limit = clampPageSize(limit)
	before, err := decodeIDCursor(op, cursor)
	if err != nil {
		return nil, err
	}

	rows, err := s.messages.Page(ctx, conversationID, before, limit+1)
	if err != nil {
		return nil, apperr.Dependency(op, err)
	}

	resp := &model.ListMessagesResponse{Messages: rows}
	if len(rows) > limit {
		resp.Messages = rows[:limit]
		resp.NextCursor = encodeIDCursor(rows[limit-1].ID)
	}
	if resp.Messages == nil {
		resp.Messages = []model.Message{}
	}
	return resp, nil
}

// GetByID returns one message.
func (s *MessageService) GetByID(ctx context.Context, conversationID, messageID string) (*model.Message, error) {
	msg, err := s.messages.Get(ctx, conversationID, messageID)
	if err != nil {
		return nil, storeErr("message.GetByID", err, "message not found")
	}
	return msg, nil
}

// SetStatus changes a message's status. Every transition is accepted except
// leaving RECALLED.
func (s *MessageService) SetStatus(ctx context.Context, conversationID, messageID string, status model.MessageStatus) (*model.Message, error) {
	const op = "message.SetStatus"
	if !status.Valid() {
		return nil, apperr.Validation(op, "unknown status "+string(status))
	}
	msg, err := s.messages.SetStatus(ctx, conversationID, messageID, status, s.now())
	if errors.Is(err, store.ErrRecalled) {
		return nil, apperr.Conflict(op, "message has been recalled")
	}
	if err != nil {
		return nil, storeErr(op, err, "message not found")
	}
	return msg, nil
}
