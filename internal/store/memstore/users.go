package memstore

import (
	"context"
	"sync"

	"github.com/capitalize-ai/messaging-platform/internal/model"
	"github.com/capitalize-ai/messaging-platform/internal/store"
)

type users struct {
	mu   sync.RWMutex
	rows map[string]model.User
}

func (s *users) GetUser(ctx context.Context, id string) (*model.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.rows[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &u, nil
}

func (s *users) GetUsers(ctx context.Context, ids []string) ([]model.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.User, 0, len(ids))
	for _, id := range ids {
		if u, ok := s.rows[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *users) PutUser(ctx context.Context, u *model.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[u.ID] = *u
	return nil
}
