package model

import (
	"time"
)

// AttachmentType classifies an uploaded file.
type AttachmentType string

const (
	AttachmentImage AttachmentType = "IMAGE"
	AttachmentVideo AttachmentType = "VIDEO"
	AttachmentFile  AttachmentType = "FILE"
)

// AttachmentTypeFor derives the attachment type from a MIME type.
func AttachmentTypeFor(mimeType string) AttachmentType {
	switch {
	case len(mimeType) >= 6 && mimeType[:6] == "image/":
		return AttachmentImage
	case len(mimeType) >= 6 && mimeType[:6] == "video/":
		return AttachmentVideo
	default:
		return AttachmentFile
	}
}

// AttachmentRef is the reference to an attachment carried on a message.
type AttachmentRef struct {
	ID       string         `json:"attachment_id"`
	Type     AttachmentType `json:"type"`
	URL      string         `json:"url"`
	FileName string         `json:"file_name,omitempty"`
	MimeType string         `json:"mime_type,omitempty"`
}

// Attachment is a stored file belonging to a message.
type Attachment struct {
	MessageID      string         `json:"message_id"`
	ID             string         `json:"attachment_id"`
	ConversationID string         `json:"conversation_id"`
	Type           AttachmentType `json:"type"`
	URL            string         `json:"url"`
	FileName       string         `json:"file_name,omitempty"`
	MimeType       string         `json:"mime_type,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Ref returns the message-side reference for the attachment.
func (a *Attachment) Ref() AttachmentRef {
	return AttachmentRef{
		ID:       a.ID,
		Type:     a.Type,
		URL:      a.URL,
		FileName: a.FileName,
		MimeType: a.MimeType,
	}
}

// Upload is a file received from a client, not yet stored.
type Upload struct {
	FileName string
	MimeType string
	Data     []byte
}

// ListAttachmentsResponse is the response for listing attachments.
type ListAttachmentsResponse struct {
	Attachments []Attachment `json:"attachments"`
	NextCursor  string       `json:"next_cursor,omitempty"`
}
