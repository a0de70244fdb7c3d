package model

import (
	"time"
)

// Participant is a user's membership in a conversation.
type Participant struct {
	UserID         string     `json:"user_id"`
	ConversationID string     `json:"conversation_id"`
	LastMessageAt  time.Time  `json:"last_message_at"`
	JoinedAt       time.Time  `json:"joined_at"`
	IsAdmin        bool       `json:"is_admin,omitempty"`
	LastReadAt     *time.Time `json:"last_read_at,omitempty"`
	IsMuted        bool       `json:"is_muted"`
	IsArchived     bool       `json:"is_archived"`
}

// AddParticipantsRequest adds members to a group.
type AddParticipantsRequest struct {
	UserIDs []string `json:"user_ids"`
}

// MuteRequest toggles notifications for a conversation.
type MuteRequest struct {
	Muted bool `json:"muted"`
}

// ArchiveRequest toggles the archived flag for a conversation.
type ArchiveRequest struct {
	Archived bool `json:"archived"`
}
