package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/capitalize-ai/messaging-platform/internal/model"
	"github.com/capitalize-ai/messaging-platform/internal/store"
)

type conversationRow struct {
	mu   sync.RWMutex
	conv model.Conversation
}

type conversations struct {
	rows  sync.Map // conversation ID -> *conversationRow
	pairs sync.Map // pair key -> conversation ID
}

func (s *conversations) Create(ctx context.Context, conv *model.Conversation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	row := &conversationRow{conv: *conv}
	if _, loaded := s.rows.LoadOrStore(conv.ID, row); loaded {
		return fmt.Errorf("conversation %s already exists", conv.ID)
	}
	return nil
}

func (s *conversations) CreateOneToOne(ctx context.Context, conv *model.Conversation) (*model.Conversation, bool, error) {
	if conv.PairKey == "" {
		return nil, false, fmt.Errorf("one-to-one conversation without pair key")
	}
	if err := s.Create(ctx, conv); err != nil {
		return nil, false, err
	}
	// The row is stored before the pair key is claimed so that a losing
	// racer never observes a key pointing at a missing row.
	existingID, loaded := s.pairs.LoadOrStore(conv.PairKey, conv.ID)
	if loaded {
		s.rows.Delete(conv.ID)
		existing, err := s.Get(ctx, existingID.(string))
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	out := *conv
	return &out, true, nil
}

func (s *conversations) row(id string) (*conversationRow, error) {
	v, ok := s.rows.Load(id)
	if !ok {
		return nil, store.ErrNotFound
	}
	return v.(*conversationRow), nil
}

func (s *conversations) Get(ctx context.Context, id string) (*model.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r, err := s.row(id)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return copyConversation(&r.conv), nil
}

func (s *conversations) GetByPairKey(ctx context.Context, pairKey string) (*model.Conversation, error) {
	id, ok := s.pairs.Load(pairKey)
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.Get(ctx, id.(string))
}

func (s *conversations) TouchLastMessage(ctx context.Context, id, text string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r, err := s.row(id)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conv.LastMessageText = text
	r.conv.LastMessageAt = &at
	r.conv.UpdatedAt = at
	return nil
}

func (s *conversations) UpdateGroup(ctx context.Context, id string, name, image *string, at time.Time) (*model.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r, err := s.row(id)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if name != nil {
		r.conv.GroupName = *name
	}
	if image != nil {
		r.conv.GroupImage = *image
	}
	r.conv.UpdatedAt = at
	return copyConversation(&r.conv), nil
}

func (s *conversations) SoftDelete(ctx context.Context, id string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r, err := s.row(id)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conv.Deleted = true
	r.conv.UpdatedAt = at
	return nil
}

func copyConversation(c *model.Conversation) *model.Conversation {
	out := *c
	if c.LastMessageAt != nil {
		at := *c.LastMessageAt
		out.LastMessageAt = &at
	}
	return &out
}
