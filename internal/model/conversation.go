// Package model defines data structures for the messaging platform.
package model

import (
	"sort"
	"time"
)

// ConversationType distinguishes direct conversations from groups.
type ConversationType string

const (
	ConversationOneToOne ConversationType = "ONE-TO-ONE"
	ConversationGroup    ConversationType = "GROUP"
)

const (
	// DefaultGroupName is used when a group is created without a name.
	DefaultGroupName = "Unnamed Group"
	// DefaultGroupImage is used when a group is created without an image.
	DefaultGroupImage = "default-group-image.png"
)

// Conversation represents a one-to-one or group conversation.
type Conversation struct {
	ID   string           `json:"conversation_id"`
	Type ConversationType `json:"type"`

	// ONE-TO-ONE only
	PairKey string `json:"participant_pair_key,omitempty"`

	// GROUP only
	GroupName  string `json:"group_name,omitempty"`
	GroupImage string `json:"group_image,omitempty"`
	CreatorID  string `json:"creator_id,omitempty"`

	LastMessageText string     `json:"last_message_text,omitempty"`
	LastMessageAt   *time.Time `json:"last_message_at,omitempty"`

	Deleted   bool      `json:"is_deleted,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsGroup reports whether the conversation is a group.
func (c *Conversation) IsGroup() bool {
	return c.Type == ConversationGroup
}

// PairKey returns the canonical, order-independent key for a direct
// conversation between two users.
func PairKey(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return ids[0] + "#" + ids[1]
}

// CreateOneToOneRequest is the request to open (or reuse) a direct conversation.
type CreateOneToOneRequest struct {
	RecipientID string `json:"recipient_id"`
	Content     string `json:"content"`
}

// CreateGroupRequest is the request to create a group conversation.
type CreateGroupRequest struct {
	ParticipantIDs []string `json:"participant_ids"`
	GroupName      string   `json:"group_name,omitempty"`
	GroupImage     string   `json:"group_image,omitempty"`
}

// UpdateConversationRequest is the request to update group metadata.
type UpdateConversationRequest struct {
	GroupName  string `json:"group_name,omitempty"`
	GroupImage string `json:"group_image,omitempty"`
}

// ConversationStarted is returned when a direct conversation is opened with a message.
type ConversationStarted struct {
	Conversation *Conversation `json:"conversation"`
	Message      *Message      `json:"message"`
	IsNew        bool          `json:"is_new"`
}

// ConversationDetail is a conversation with its members.
type ConversationDetail struct {
	Conversation *Conversation `json:"conversation"`
	Participants []Participant `json:"participants"`
}

// InboxEntry is one row of a user's conversation list.
type InboxEntry struct {
	Conversation *Conversation `json:"conversation"`
	Participant  *Participant  `json:"participant"`
}

// ListConversationsResponse is the response for listing a user's conversations.
type ListConversationsResponse struct {
	Conversations []InboxEntry `json:"conversations"`
	HasMore       bool         `json:"has_more"`
	NextCursor    string       `json:"next_cursor,omitempty"`
}
