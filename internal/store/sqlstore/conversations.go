package sqlstore

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/capitalize-ai/messaging-platform/internal/model"
	"github.com/capitalize-ai/messaging-platform/internal/store"
)

type conversations struct {
	db *gorm.DB
}

func (s *conversations) Create(ctx context.Context, conv *model.Conversation) error {
	return s.db.WithContext(ctx).Create(toConversationRow(conv)).Error
}

// CreateOneToOne relies on the unique pair key index: the insert is a no-op
// when another writer already claimed the pair.
func (s *conversations) CreateOneToOne(ctx context.Context, conv *model.Conversation) (*model.Conversation, bool, error) {
	row := toConversationRow(conv)
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "pair_key"}},
			DoNothing: true,
		}).
		Create(row)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 0 {
		existing, err := s.GetByPairKey(ctx, conv.PairKey)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	return row.model(), true, nil
}

func (s *conversations) Get(ctx context.Context, id string) (*model.Conversation, error) {
	var row conversationRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error; err != nil {
		return nil, notFound(err)
	}
	return row.model(), nil
}

func (s *conversations) GetByPairKey(ctx context.Context, pairKey string) (*model.Conversation, error) {
	var row conversationRow
	if err := s.db.WithContext(ctx).Where("pair_key = ?", pairKey).Take(&row).Error; err != nil {
		return nil, notFound(err)
	}
	return row.model(), nil
}

func (s *conversations) update(ctx context.Context, id string, values map[string]any) error {
	res := s.db.WithContext(ctx).Model(&conversationRow{}).Where("id = ?", id).Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *conversations) TouchLastMessage(ctx context.Context, id, text string, at time.Time) error {
	return s.update(ctx, id, map[string]any{
		"last_message_text": text,
		"last_message_at":   at,
		"updated_at":        at,
	})
}

func (s *conversations) UpdateGroup(ctx context.Context, id string, name, image *string, at time.Time) (*model.Conversation, error) {
	values := map[string]any{"updated_at": at}
	if name != nil {
		values["group_name"] = *name
	}
	if image != nil {
		values["group_image"] = *image
	}
	if err := s.update(ctx, id, values); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

func (s *conversations) SoftDelete(ctx context.Context, id string, at time.Time) error {
	return s.update(ctx, id, map[string]any{
		"deleted":    true,
		"updated_at": at,
	})
}
