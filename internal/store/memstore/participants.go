package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/capitalize-ai/messaging-platform/internal/model"
	"github.com/capitalize-ai/messaging-platform/internal/store"
)

// memberSet holds the participation rows of one conversation.
type memberSet struct {
	mu   sync.RWMutex
	rows map[string]*model.Participant // user ID -> row
}

// userSet is the user-scoped index: the conversations a user belongs to.
type userSet struct {
	mu    sync.RWMutex
	convs map[string]struct{}
}

type participants struct {
	byConversation sync.Map // conversation ID -> *memberSet
	byUser         sync.Map // user ID -> *userSet
}

func newMemberSet() *memberSet {
	return &memberSet{rows: make(map[string]*model.Participant)}
}

func newUserSet() *userSet {
	return &userSet{convs: make(map[string]struct{})}
}

func (s *participants) AddMany(ctx context.Context, rows []model.Participant) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for i := range rows {
		p := rows[i]
		set := loadOrCreate(&s.byConversation, p.ConversationID, newMemberSet)
		set.mu.Lock()
		if _, exists := set.rows[p.UserID]; !exists {
			set.rows[p.UserID] = &p
		}
		set.mu.Unlock()

		us := loadOrCreate(&s.byUser, p.UserID, newUserSet)
		us.mu.Lock()
		us.convs[p.ConversationID] = struct{}{}
		us.mu.Unlock()
	}
	return nil
}

func (s *participants) members(conversationID string) *memberSet {
	v, ok := s.byConversation.Load(conversationID)
	if !ok {
		return nil
	}
	return v.(*memberSet)
}

func (s *participants) Get(ctx context.Context, userID, conversationID string) (*model.Participant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	set := s.members(conversationID)
	if set == nil {
		return nil, store.ErrNotFound
	}
	set.mu.RLock()
	defer set.mu.RUnlock()
	p, ok := set.rows[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyParticipant(p), nil
}

func (s *participants) ListByConversation(ctx context.Context, conversationID string) ([]model.Participant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	set := s.members(conversationID)
	if set == nil {
		return nil, nil
	}
	set.mu.RLock()
	out := make([]model.Participant, 0, len(set.rows))
	for _, p := range set.rows {
		out = append(out, *copyParticipant(p))
	}
	set.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *participants) ListByUser(ctx context.Context, userID string) ([]model.Participant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, ok := s.byUser.Load(userID)
	if !ok {
		return nil, nil
	}
	us := v.(*userSet)
	us.mu.RLock()
	convIDs := make([]string, 0, len(us.convs))
	for id := range us.convs {
		convIDs = append(convIDs, id)
	}
	us.mu.RUnlock()
	sort.Strings(convIDs)

	out := make([]model.Participant, 0, len(convIDs))
	for _, id := range convIDs {
		p, err := s.Get(ctx, userID, id)
		if err == store.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, nil
}

func (s *participants) Inbox(ctx context.Context, q store.InboxQuery) ([]model.Participant, error) {
	rows, err := s.ListByUser(ctx, q.UserID)
	if err != nil {
		return nil, err
	}
	sort.Slice(rows, func(i, j int) bool { return inboxLess(rows[i], rows[j]) })

	out := make([]model.Participant, 0, q.Limit)
	for _, p := range rows {
		if p.IsArchived && !q.IncludeArchived {
			continue
		}
		if q.After != nil && !afterCursor(p, q.After) {
			continue
		}
		out = append(out, p)
		if len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

// inboxLess orders by most recent activity, then by conversation ID, descending.
func inboxLess(a, b model.Participant) bool {
	if !a.LastMessageAt.Equal(b.LastMessageAt) {
		return a.LastMessageAt.After(b.LastMessageAt)
	}
	return a.ConversationID > b.ConversationID
}

func afterCursor(p model.Participant, c *store.InboxCursor) bool {
	if !p.LastMessageAt.Equal(c.LastMessageAt) {
		return p.LastMessageAt.Before(c.LastMessageAt)
	}
	return p.ConversationID < c.ConversationID
}

func (s *participants) update(userID, conversationID string, fn func(p *model.Participant)) (*model.Participant, error) {
	set := s.members(conversationID)
	if set == nil {
		return nil, store.ErrNotFound
	}
	set.mu.Lock()
	defer set.mu.Unlock()
	p, ok := set.rows[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	fn(p)
	return copyParticipant(p), nil
}

func (s *participants) SetLastMessageAt(ctx context.Context, userID, conversationID string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.update(userID, conversationID, func(p *model.Participant) {
		p.LastMessageAt = at
	})
	return err
}

func (s *participants) Patch(ctx context.Context, userID, conversationID string, patch store.ParticipantPatch) (*model.Participant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.update(userID, conversationID, func(p *model.Participant) {
		if patch.LastReadAt != nil {
			at := *patch.LastReadAt
			p.LastReadAt = &at
		}
		if patch.IsMuted != nil {
			p.IsMuted = *patch.IsMuted
		}
		if patch.IsArchived != nil {
			p.IsArchived = *patch.IsArchived
		}
	})
}

func (s *participants) Delete(ctx context.Context, userID, conversationID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	set := s.members(conversationID)
	if set == nil {
		return store.ErrNotFound
	}
	set.mu.Lock()
	_, ok := set.rows[userID]
	delete(set.rows, userID)
	set.mu.Unlock()
	if !ok {
		return store.ErrNotFound
	}

	if v, ok := s.byUser.Load(userID); ok {
		us := v.(*userSet)
		us.mu.Lock()
		delete(us.convs, conversationID)
		us.mu.Unlock()
	}
	return nil
}

func copyParticipant(p *model.Participant) *model.Participant {
	out := *p
	if p.LastReadAt != nil {
		at := *p.LastReadAt
		out.LastReadAt = &at
	}
	return &out
}
