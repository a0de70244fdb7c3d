package model

import (
	"encoding/json"
)

// EventType names a realtime event exchanged over the relay.
type EventType string

// Client to server events.
const (
	EventStartConversation EventType = "start_conversation"
	EventSendMessage       EventType = "send_message"
	EventTyping            EventType = "typing"
	EventStopTyping        EventType = "stop_typing"
)

// Server to client events.
const (
	EventConversationStarted EventType = "conversation_started"
	EventNewConversation     EventType = "new_conversation"
	EventNewMessage          EventType = "new_message"
	EventUserTyping          EventType = "user_typing"
	EventUserStopTyping      EventType = "user_stop_typing"
	EventError               EventType = "error"
)

// Frame is the wire envelope for every websocket message.
type Frame struct {
	Event EventType       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// StartConversationEvent is sent by a client to open a conversation.
type StartConversationEvent struct {
	Type           ConversationType `json:"type"`
	RecipientID    string           `json:"recipient_id,omitempty"`
	ParticipantIDs []string         `json:"participant_ids,omitempty"`
	GroupName      string           `json:"group_name,omitempty"`
	Content        string           `json:"content,omitempty"`
}

// SendMessageEvent is sent by a client to post into a conversation.
type SendMessageEvent struct {
	ConversationID string      `json:"conversation_id"`
	Content        string      `json:"content"`
	Type           MessageType `json:"type,omitempty"`
}

// TypingEvent is sent by a client and relayed as user_typing/user_stop_typing.
type TypingEvent struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id,omitempty"`
}

// ErrorEvent is sent to a client when one of its events fails.
type ErrorEvent struct {
	Message string `json:"message"`
}
