package sqlstore

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/capitalize-ai/messaging-platform/internal/model"
	"github.com/capitalize-ai/messaging-platform/internal/store"
)

type participants struct {
	db *gorm.DB
}

func (s *participants) AddMany(ctx context.Context, rows []model.Participant) error {
	if len(rows) == 0 {
		return nil
	}
	records := make([]participantRow, len(rows))
	for i := range rows {
		records[i] = toParticipantRow(&rows[i])
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&records).Error
	})
}

func (s *participants) Get(ctx context.Context, userID, conversationID string) (*model.Participant, error) {
	var row participantRow
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND conversation_id = ?", userID, conversationID).
		Take(&row).Error
	if err != nil {
		return nil, notFound(err)
	}
	p := row.model()
	return &p, nil
}

func (s *participants) list(ctx context.Context, query *gorm.DB) ([]model.Participant, error) {
	var rows []participantRow
	if err := query.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.Participant, len(rows))
	for i := range rows {
		out[i] = rows[i].model()
	}
	return out, nil
}

func (s *participants) ListByConversation(ctx context.Context, conversationID string) ([]model.Participant, error) {
	return s.list(ctx, s.db.Where("conversation_id = ?", conversationID).Order("user_id"))
}

func (s *participants) ListByUser(ctx context.Context, userID string) ([]model.Participant, error) {
	return s.list(ctx, s.db.Where("user_id = ?", userID).Order("conversation_id"))
}

func (s *participants) Inbox(ctx context.Context, q store.InboxQuery) ([]model.Participant, error) {
	query := s.db.Where("user_id = ?", q.UserID)
	if !q.IncludeArchived {
		query = query.Where("is_archived = ?", false)
	}
	if q.After != nil {
		query = query.Where(
			"last_message_at < ? OR (last_message_at = ? AND conversation_id < ?)",
			q.After.LastMessageAt, q.After.LastMessageAt, q.After.ConversationID,
		)
	}
	query = query.Order("last_message_at DESC").Order("conversation_id DESC").Limit(q.Limit)
	return s.list(ctx, query)
}

func (s *participants) update(ctx context.Context, userID, conversationID string, values map[string]any) error {
	res := s.db.WithContext(ctx).
		Model(&participantRow{}).
		Where("user_id = ? AND conversation_id = ?", userID, conversationID).
		Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *participants) SetLastMessageAt(ctx context.Context, userID, conversationID string, at time.Time) error {
	return s.update(ctx, userID, conversationID, map[string]any{"last_message_at": at})
}

func (s *participants) Patch(ctx context.Context, userID, conversationID string, patch store.ParticipantPatch) (*model.Participant, error) {
	values := map[string]any{}
	if patch.LastReadAt != nil {
		values["last_read_at"] = *patch.LastReadAt
	}
	if patch.IsMuted != nil {
		values["is_muted"] = *patch.IsMuted
	}
	if patch.IsArchived != nil {
		values["is_archived"] = *patch.IsArchived
	}
	if len(values) > 0 {
		if err := s.update(ctx, userID, conversationID, values); err != nil {
			return nil, err
		}
	}
	return s.Get(ctx, userID, conversationID)
}

func (s *participants) Delete(ctx context.Context, userID, conversationID string) error {
	res := s.db.WithContext(ctx).
		Where("user_id = ? AND conversation_id = ?", userID, conversationID).
		Delete(&participantRow{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}
