package model

import (
	"time"
)

// MessageType determines which body a message carries.
type MessageType string

const (
	MessageText  MessageType = "TEXT"
	MessageMedia MessageType = "MEDIA"
)

// MessageStatus is the delivery/lifecycle state of a message.
type MessageStatus string

const (
	StatusSent     MessageStatus = "SENT"
	StatusSeen     MessageStatus = "SEEN"
	StatusRecalled MessageStatus = "RECALLED"
	StatusPinned   MessageStatus = "PINNED"
)

// Valid reports whether s is a known status.
func (s MessageStatus) Valid() bool {
	switch s {
	case StatusSent, StatusSeen, StatusRecalled, StatusPinned:
		return true
	}
	return false
}

// Message is an entry in a conversation's ledger.
type Message struct {
	// Identity
	ID             string `json:"message_id"`
	ConversationID string `json:"conversation_id"`

	SenderID    string `json:"sender_id"`
	RecipientID string `json:"recipient_id,omitempty"`

	// Content
	Type        MessageType     `json:"type"`
	Content     string          `json:"content,omitempty"`
	Attachments []AttachmentRef `json:"attachments,omitempty"`

	Status          MessageStatus `json:"status"`
	ForwardedFromID string        `json:"forwarded_from_message_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Body returns the message content as its tagged variant.
func (m *Message) Body() Body {
	if m.Type == MessageMedia {
		return MediaBody{Attachments: m.Attachments, Caption: m.Content}
	}
	return TextBody{Text: m.Content}
}

// Preview is the text stored as a conversation's last message.
func (m *Message) Preview() string {
	return m.Body().Preview()
}

// Body is the content of a message. It is either TextBody or MediaBody.
type Body interface {
	Type() MessageType
	Preview() string
	isBody()
}

// TextBody is a plain text message.
type TextBody struct {
	Text string
}

func (TextBody) Type() MessageType { return MessageText }

func (b TextBody) Preview() string { return b.Text }

func (TextBody) isBody() {}

// MediaBody is a message carrying uploaded attachments.
type MediaBody struct {
	Attachments []AttachmentRef
	Caption     string
}

func (MediaBody) Type() MessageType { return MessageMedia }

func (b MediaBody) Preview() string {
	if b.Caption != "" {
		return b.Caption
	}
	return "[attachment]"
}

func (MediaBody) isBody() {}

// SendMessageRequest is the request to send a text message.
type SendMessageRequest struct {
	Content string      `json:"content"`
	Type    MessageType `json:"type,omitempty"`
}

// SetStatusRequest changes a message's status.
type SetStatusRequest struct {
	Status MessageStatus `json:"status"`
}

// ForwardMessageRequest forwards a message into another conversation.
type ForwardMessageRequest struct {
	TargetConversationID string `json:"target_conversation_id"`
}

// SendMessageResponse is the response after sending a message.
type SendMessageResponse struct {
	Message           *Message `json:"message"`
	Degraded          bool     `json:"degraded,omitempty"`
	StaleParticipants []string `json:"stale_participants,omitempty"`
}

// ListMessagesResponse is the response for listing messages.
type ListMessagesResponse struct {
	Messages   []Message `json:"messages"`
	NextCursor string    `json:"next_cursor,omitempty"`
}
