package relay

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/capitalize-ai/messaging-platform/internal/apperr"
	"github.com/capitalize-ai/messaging-platform/internal/model"
	"github.com/capitalize-ai/messaging-platform/internal/service"
	"github.com/capitalize-ai/messaging-platform/pkg/metrics"
)

// handleFrame runs one client event. Failures are reported to the
// originating session only.
func (h *Hub) handleFrame(ctx context.Context, s *Session, data []byte) {
	var frame model.Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		h.replyError(s, apperr.Validation("relay.handleFrame", "malformed frame"))
		return
	}

	ctx, cancel := context.WithTimeout(withOrigin(ctx, s), h.cfg.EventTimeout)
	defer cancel()

	var err error
	switch frame.Event {
	case model.EventStartConversation:
		err = h.startConversation(ctx, s, frame.Data)
	case model.EventSendMessage:
		err = h.sendMessage(ctx, s, frame.Data)
	case model.EventTyping:
		err = h.typing(s, frame.Data, model.EventUserTyping)
	case model.EventStopTyping:
		err = h.typing(s, frame.Data, model.EventUserStopTyping)
	default:
		err = apperr.Validation("relay.handleFrame", "unknown event "+string(frame.Event))
	}
	if err != nil {
		h.logger.Debug("relay event failed",
			zap.String("session_id", s.ID),
			zap.String("event", string(frame.Event)),
			zap.Error(err),
		)
		h.replyError(s, err)
	}
}

func (h *Hub) startConversation(ctx context.Context, s *Session, data json.RawMessage) error {
	const op = "relay.startConversation"

	var ev model.StartConversationEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return apperr.Validation(op, "malformed start_conversation payload")
	}

	switch ev.Type {
	case model.ConversationOneToOne:
		res, err := h.backend.StartOneToOne(ctx, s.UserID, ev.RecipientID, service.Content{Text: ev.Content})
		if err != nil {
			return err
		}
		h.reply(s, model.EventConversationStarted, model.ConversationStarted{
			Conversation: res.Conversation,
			Message:      res.Message,
			IsNew:        res.Created,
		})
		return nil

	case model.ConversationGroup:
		conv, _, err := h.backend.CreateGroup(ctx, s.UserID, &model.CreateGroupRequest{
			ParticipantIDs: ev.ParticipantIDs,
			GroupName:      ev.GroupName,
		})
		if err != nil {
			return err
		}
		started := model.ConversationStarted{Conversation: conv, IsNew: true}
		if ev.Content != "" {
			res, err := h.backend.Send(ctx, s.UserID, conv.ID, service.Content{Text: ev.Content})
			if err != nil {
				// The group exists; report it before the send failure.
				h.reply(s, model.EventConversationStarted, started)
				return err
			}
			started.Conversation = res.Conversation
			started.Message = res.Message
		}
		h.reply(s, model.EventConversationStarted, started)
		return nil

	default:
		return apperr.Validation(op, "type must be ONE-TO-ONE or GROUP")
	}
}

func (h *Hub) sendMessage(ctx context.Context, s *Session, data json.RawMessage) error {
	const op = "relay.sendMessage"

	var ev model.SendMessageEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return apperr.Validation(op, "malformed send_message payload")
	}
	if ev.ConversationID == "" {
		return apperr.Validation(op, "conversation_id is required")
	}
	if ev.Type != "" && ev.Type != model.MessageText {
		return apperr.Validation(op, "only TEXT messages can be sent over the socket")
	}

	_, err := h.backend.Send(ctx, s.UserID, ev.ConversationID, service.Content{Text: ev.Content})
	return err
}

func (h *Hub) typing(s *Session, data json.RawMessage, out model.EventType) error {
	const op = "relay.typing"

	var ev model.TypingEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return apperr.Validation(op, "malformed typing payload")
	}
	if ev.ConversationID == "" {
		return apperr.Validation(op, "conversation_id is required")
	}
	if !s.InGroup(ev.ConversationID) {
		return apperr.Forbidden(op, "not a participant in this conversation")
	}

	h.emit(&Envelope{
		ConversationID: ev.ConversationID,
		Event:          out,
		Frame: encodeFrame(out, model.TypingEvent{
			ConversationID: ev.ConversationID,
			UserID:         s.UserID,
		}),
	}, s)
	return nil
}

func (h *Hub) reply(s *Session, event model.EventType, v any) {
	frame := encodeFrame(event, v)
	if frame == nil {
		return
	}
	delivered := s.Send(frame)
	metrics.RecordRelayEvent(string(event), delivered)
}

func (h *Hub) replyError(s *Session, err error) {
	h.reply(s, model.EventError, model.ErrorEvent{Message: apperr.Message(err)})
}
