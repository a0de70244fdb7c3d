package sqlstore

import (
	"time"

	"github.com/capitalize-ai/messaging-platform/internal/model"
)

type conversationRow struct {
	ID              string  `gorm:"primaryKey;type:varchar(64)"`
	Type            string  `gorm:"type:varchar(16);not null"`
	PairKey         *string `gorm:"type:varchar(256);uniqueIndex:idx_conversations_pair_key"`
	GroupName       string
	GroupImage      string
	CreatorID       string `gorm:"type:varchar(64)"`
	LastMessageText string
	LastMessageAt   *time.Time
	Deleted         bool
	CreatedAt       time.Time `gorm:"autoCreateTime:false"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime:false"`
}

func (conversationRow) TableName() string { return "conversations" }

func toConversationRow(c *model.Conversation) *conversationRow {
	row := &conversationRow{
		ID:              c.ID,
		Type:            string(c.Type),
		GroupName:       c.GroupName,
		GroupImage:      c.GroupImage,
		CreatorID:       c.CreatorID,
		LastMessageText: c.LastMessageText,
		LastMessageAt:   c.LastMessageAt,
		Deleted:         c.Deleted,
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
	}
	if c.PairKey != "" {
		key := c.PairKey
		row.PairKey = &key
	}
	return row
}

func (r *conversationRow) model() *model.Conversation {
	c := &model.Conversation{
		ID:              r.ID,
		Type:            model.ConversationType(r.Type),
		GroupName:       r.GroupName,
		GroupImage:      r.GroupImage,
		CreatorID:       r.CreatorID,
		LastMessageText: r.LastMessageText,
		Deleted:         r.Deleted,
		CreatedAt:       r.CreatedAt.UTC(),
		UpdatedAt:       r.UpdatedAt.UTC(),
	}
	if r.PairKey != nil {
		c.PairKey = *r.PairKey
	}
	if r.LastMessageAt != nil {
		at := r.LastMessageAt.UTC()
		c.LastMessageAt = &at
	}
	return c
}

// participantRow is keyed by (user, conversation); the secondary index on
// conversation_id serves fan-out lookups.
type participantRow struct {
	UserID         string    `gorm:"primaryKey;type:varchar(64)"`
	ConversationID string    `gorm:"primaryKey;type:varchar(64);index:idx_participants_conversation"`
	LastMessageAt  time.Time `gorm:"index:idx_participants_inbox"`
	JoinedAt       time.Time
	IsAdmin        bool
	LastReadAt     *time.Time
	IsMuted        bool
	IsArchived     bool
}

func (participantRow) TableName() string { return "participants" }

func toParticipantRow(p *model.Participant) participantRow {
	return participantRow{
		UserID:         p.UserID,
		ConversationID: p.ConversationID,
		LastMessageAt:  p.LastMessageAt,
		JoinedAt:       p.JoinedAt,
		IsAdmin:        p.IsAdmin,
		LastReadAt:     p.LastReadAt,
		IsMuted:        p.IsMuted,
		IsArchived:     p.IsArchived,
	}
}

func (r *participantRow) model() model.Participant {
	p := model.Participant{
		UserID:         r.UserID,
		ConversationID: r.ConversationID,
		LastMessageAt:  r.LastMessageAt.UTC(),
		JoinedAt:       r.JoinedAt.UTC(),
		IsAdmin:        r.IsAdmin,
		IsMuted:        r.IsMuted,
		IsArchived:     r.IsArchived,
	}
	if r.LastReadAt != nil {
		at := r.LastReadAt.UTC()
		p.LastReadAt = &at
	}
	return p
}

type messageRow struct {
	ConversationID  string `gorm:"primaryKey;type:varchar(64)"`
	ID              string `gorm:"primaryKey;type:varchar(96)"`
	SenderID        string `gorm:"type:varchar(64);not null"`
	RecipientID     string `gorm:"type:varchar(64)"`
	Type            string `gorm:"type:varchar(16);not null"`
	Content         string
	Attachments     []model.AttachmentRef `gorm:"serializer:json"`
	Status          string                `gorm:"type:varchar(16);not null"`
	ForwardedFromID string                `gorm:"type:varchar(96)"`
	CreatedAt       time.Time             `gorm:"autoCreateTime:false"`
	UpdatedAt       time.Time             `gorm:"autoUpdateTime:false"`
}

func (messageRow) TableName() string { return "messages" }

func toMessageRow(m *model.Message) *messageRow {
	return &messageRow{
		ConversationID:  m.ConversationID,
		ID:              m.ID,
		SenderID:        m.SenderID,
		RecipientID:     m.RecipientID,
		Type:            string(m.Type),
		Content:         m.Content,
		Attachments:     m.Attachments,
		Status:          string(m.Status),
		ForwardedFromID: m.ForwardedFromID,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func (r *messageRow) model() model.Message {
	return model.Message{
		ID:              r.ID,
		ConversationID:  r.ConversationID,
		SenderID:        r.SenderID,
		RecipientID:     r.RecipientID,
		Type:            model.MessageType(r.Type),
		Content:         r.Content,
		Attachments:     r.Attachments,
		Status:          model.MessageStatus(r.Status),
		ForwardedFromID: r.ForwardedFromID,
		CreatedAt:       r.CreatedAt.UTC(),
		UpdatedAt:       r.UpdatedAt.UTC(),
	}
}

type attachmentRow struct {
	MessageID      string `gorm:"primaryKey;type:varchar(96)"`
	ID             string `gorm:"primaryKey;type:varchar(96)"`
	ConversationID string `gorm:"type:varchar(64);index:idx_attachments_conversation"`
	Type           string `gorm:"type:varchar(16);not null"`
	URL            string `gorm:"not null"`
	FileName       string
	MimeType       string
	CreatedAt      time.Time `gorm:"autoCreateTime:false"`
}

func (attachmentRow) TableName() string { return "attachments" }

func (r *attachmentRow) model() model.Attachment {
	return model.Attachment{
		MessageID:      r.MessageID,
		ID:             r.ID,
		ConversationID: r.ConversationID,
		Type:           model.AttachmentType(r.Type),
		URL:            r.URL,
		FileName:       r.FileName,
		MimeType:       r.MimeType,
		CreatedAt:      r.CreatedAt.UTC(),
	}
}

type userRow struct {
	ID          string `gorm:"primaryKey;type:varchar(64)"`
	Username    string `gorm:"type:varchar(128);index"`
	DisplayName string
	AvatarURL   string
}

func (userRow) TableName() string { return "users" }

func (r *userRow) model() model.User {
	return model.User{
		ID:          r.ID,
		Username:    r.Username,
		DisplayName: r.DisplayName,
		AvatarURL:   r.AvatarURL,
	}
}
