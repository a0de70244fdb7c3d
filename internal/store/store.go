// Package store defines the storage contracts behind the chat core.
//
// Every method is a potentially remote call. Implementations must be safe for
// concurrent use and must not serialize writers to different conversations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/capitalize-ai/messaging-platform/internal/model"
)

var (
	// ErrNotFound is returned when a keyed row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrRecalled is returned when changing the status of a recalled message.
	ErrRecalled = errors.New("message recalled")
)

// ConversationStore holds one row per conversation.
type ConversationStore interface {
	// Create inserts a new conversation.
	Create(ctx context.Context, conv *model.Conversation) error
	// CreateOneToOne inserts conv unless a conversation with the same pair key
	// exists. It returns the stored conversation and whether conv was inserted.
	CreateOneToOne(ctx context.Context, conv *model.Conversation) (*model.Conversation, bool, error)
	Get(ctx context.Context, id string) (*model.Conversation, error)
	GetByPairKey(ctx context.Context, pairKey string) (*model.Conversation, error)
	// TouchLastMessage overwrites the preview fields, last writer wins.
	TouchLastMessage(ctx context.Context, id, text string, at time.Time) error
	UpdateGroup(ctx context.Context, id string, name, image *string, at time.Time) (*model.Conversation, error)
	SoftDelete(ctx context.Context, id string, at time.Time) error
}

// ParticipantPatch carries the user-owned flags of a participation row.
// Nil fields are left unchanged.
type ParticipantPatch struct {
	LastReadAt *time.Time
	IsMuted    *bool
	IsArchived *bool
}

// InboxCursor positions a page of a user's conversation list.
type InboxCursor struct {
	LastMessageAt  time.Time
	ConversationID string
}

// InboxQuery selects a page of a user's participations, newest activity first.
type InboxQuery struct {
	UserID          string
	IncludeArchived bool
	Limit           int
	After           *InboxCursor
}

// ParticipantStore is the participation index, keyed by (user, conversation)
// and queryable by either side.
type ParticipantStore interface {
	// AddMany inserts rows as a unit. Rows whose key already exists are left
	// untouched, so retrying a failed batch is safe.
	AddMany(ctx context.Context, rows []model.Participant) error
	Get(ctx context.Context, userID, conversationID string) (*model.Participant, error)
	ListByConversation(ctx context.Context, conversationID string) ([]model.Participant, error)
	ListByUser(ctx context.Context, userID string) ([]model.Participant, error)
	Inbox(ctx context.Context, q InboxQuery) ([]model.Participant, error)
	SetLastMessageAt(ctx context.Context, userID, conversationID string, at time.Time) error
	Patch(ctx context.Context, userID, conversationID string, patch ParticipantPatch) (*model.Participant, error)
	Delete(ctx context.Context, userID, conversationID string) error
}

// MessageStore is the per-conversation, append-only message ledger.
type MessageStore interface {
	Append(ctx context.Context, msg *model.Message) error
	Get(ctx context.Context, conversationID, messageID string) (*model.Message, error)
	// Page returns up to limit messages strictly older than before (or the
	// newest ones when before is empty), newest first.
	Page(ctx context.Context, conversationID, before string, limit int) ([]model.Message, error)
	// SetStatus changes a message's status unless it is RECALLED.
	SetStatus(ctx context.Context, conversationID, messageID string, status model.MessageStatus, at time.Time) (*model.Message, error)
}

// AttachmentStore holds attachments keyed by (message, attachment).
type AttachmentStore interface {
	CreateMany(ctx context.Context, atts []model.Attachment) error
	ListByMessage(ctx context.Context, messageID string) ([]model.Attachment, error)
	// ListByConversation returns up to limit attachments with an ID strictly
	// lower than before (or the newest ones), newest first.
	ListByConversation(ctx context.Context, conversationID, before string, limit int) ([]model.Attachment, error)
	Delete(ctx context.Context, messageID, attachmentID string) error
}

// UserStore resolves identities.
type UserStore interface {
	GetUser(ctx context.Context, id string) (*model.User, error)
	GetUsers(ctx context.Context, ids []string) ([]model.User, error)
	PutUser(ctx context.Context, u *model.User) error
}

// Store bundles every store the chat core needs.
type Store interface {
	Conversations() ConversationStore
	Participants() ParticipantStore
	Messages() MessageStore
	Attachments() AttachmentStore
	Users() UserStore
	Ping(ctx context.Context) error
	Close() error
}
