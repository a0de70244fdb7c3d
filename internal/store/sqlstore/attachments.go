package sqlstore

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/capitalize-ai/messaging-platform/internal/model"
	"github.com/capitalize-ai/messaging-platform/internal/store"
)

type attachments struct {
	db *gorm.DB
}

func (s *attachments) CreateMany(ctx context.Context, atts []model.Attachment) error {
	if len(atts) == 0 {
		return nil
	}
	rows := make([]attachmentRow, len(atts))
	for i, a := range atts {
		rows[i] = attachmentRow{
			MessageID:      a.MessageID,
			ID:             a.ID,
			ConversationID: a.ConversationID,
			Type:           string(a.Type),
			URL:            a.URL,
			FileName:       a.FileName,
			MimeType:       a.MimeType,
			CreatedAt:      a.CreatedAt,
		}
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&rows).Error
}

func (s *attachments) list(query *gorm.DB) ([]model.Attachment, error) {
	var rows []attachmentRow
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.Attachment, len(rows))
	for i := range rows {
		out[i] = rows[i].model()
	}
	return out, nil
}

func (s *attachments) ListByMessage(ctx context.Context, messageID string) ([]model.Attachment, error) {
	return s.list(s.db.WithContext(ctx).Where("message_id = ?", messageID).Order("id"))
}

func (s *attachments) ListByConversation(ctx context.Context, conversationID, before string, limit int) ([]model.Attachment, error) {
	query := s.db.WithContext(ctx).Where("conversation_id = ?", conversationID)
	if before != "" {
		query = query.Where("id < ?", before)
	}
	return s.list(query.Order("id DESC").Limit(limit))
}

func (s *attachments) Delete(ctx context.Context, messageID, attachmentID string) error {
	res := s.db.WithContext(ctx).
		Where("message_id = ? AND id = ?", messageID, attachmentID).
		Delete(&attachmentRow{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}
