package sqlstore

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/capitalize-ai/messaging-platform/internal/model"
	"github.com/capitalize-ai/messaging-platform/internal/store"
)

type messages struct {
	db *gorm.DB
}

func (s *messages) Append(ctx context.Context, msg *model.Message) error {
	return s.db.WithContext(ctx).Create(toMessageRow(msg)).Error
}

func (s *messages) Get(ctx context.Context, conversationID, messageID string) (*model.Message, error) {
	var row messageRow
	err := s.db.WithContext(ctx).
		Where("conversation_id = ? AND id = ?", conversationID, messageID).
		Take(&row).Error
	if err != nil {
		return nil, notFound(err)
	}
	m := row.model()
	return &m, nil
}

func (s *messages) Page(ctx context.Context, conversationID, before string, limit int) ([]model.Message, error) {
	query := s.db.WithContext(ctx).Where("conversation_id = ?", conversationID)
	if before != "" {
		query = query.Where("id < ?", before)
	}
	var rows []messageRow
	if err := query.Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.Message, len(rows))
	for i := range rows {
		out[i] = rows[i].model()
	}
	return out, nil
}

// SetStatus is a single conditional update so a concurrent recall cannot be
// overwritten.
func (s *messages) SetStatus(ctx context.Context, conversationID, messageID string, status model.MessageStatus, at time.Time) (*model.Message, error) {
	res := s.db.WithContext(ctx).
		Model(&messageRow{}).
		Where("conversation_id = ? AND id = ? AND status <> ?", conversationID, messageID, string(model.StatusRecalled)).
		Updates(map[string]any{
			"status":     string(status),
			"updated_at": at,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	m, err := s.Get(ctx, conversationID, messageID)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 {
		if m.Status == model.StatusRecalled {
			return nil, store.ErrRecalled
		}
		// Same status written twice; some drivers report zero rows.
		if m.Status != status {
			return nil, errors.New("message status update lost")
		}
	}
	return m, nil
}
