package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/capitalize-ai/messaging-platform/internal/model"
	"github.com/capitalize-ai/messaging-platform/internal/store"
)

// messageLog is one conversation's ledger, kept sorted by message ID.
type messageLog struct {
	mu   sync.RWMutex
	ids  []string
	byID map[string]*model.Message
}

func newMessageLog() *messageLog {
	return &messageLog{byID: make(map[string]*model.Message)}
}

type messages struct {
	logs sync.Map // conversation ID -> *messageLog
}

func (s *messages) log(conversationID string) *messageLog {
	v, ok := s.logs.Load(conversationID)
	if !ok {
		return nil
	}
	return v.(*messageLog)
}

func (s *messages) Append(ctx context.Context, msg *model.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l := loadOrCreate(&s.logs, msg.ConversationID, newMessageLog)
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.byID[msg.ID]; exists {
		return fmt.Errorf("message %s already exists", msg.ID)
	}
	// Appends almost always land at the tail; concurrent writers may
	// arrive slightly out of order.
	i := sort.SearchStrings(l.ids, msg.ID)
	l.ids = append(l.ids, "")
	copy(l.ids[i+1:], l.ids[i:])
	l.ids[i] = msg.ID
	l.byID[msg.ID] = copyMessage(msg)
	return nil
}

func (s *messages) Get(ctx context.Context, conversationID, messageID string) (*model.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l := s.log(conversationID)
	if l == nil {
		return nil, store.ErrNotFound
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	m, ok := l.byID[messageID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyMessage(m), nil
}

func (s *messages) Page(ctx context.Context, conversationID, before string, limit int) ([]model.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l := s.log(conversationID)
	if l == nil {
		return nil, nil
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	end := len(l.ids)
	if before != "" {
		end = sort.SearchStrings(l.ids, before)
	}
	out := make([]model.Message, 0, limit)
	for i := end - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, *copyMessage(l.byID[l.ids[i]]))
	}
	return out, nil
}

func (s *messages) SetStatus(ctx context.Context, conversationID, messageID string, status model.MessageStatus, at time.Time) (*model.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l := s.log(conversationID)
	if l == nil {
		return nil, store.ErrNotFound
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.byID[messageID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if m.Status == model.StatusRecalled {
		return nil, store.ErrRecalled
	}
	m.Status = status
	m.UpdatedAt = at
	return copyMessage(m), nil
}

func copyMessage(m *model.Message) *model.Message {
	out := *m
	if m.Attachments != nil {
		out.Attachments = append([]model.AttachmentRef(nil), m.Attachments...)
	}
	return &out
}
