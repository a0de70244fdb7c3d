package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/capitalize-ai/messaging-platform/internal/model"
	"github.com/capitalize-ai/messaging-platform/internal/store"
)

type attachments struct {
	mu             sync.RWMutex
	byMessage      map[string]map[string]model.Attachment // message ID -> attachment ID -> row
	byConversation map[string]map[string]string           // conversation ID -> attachment ID -> message ID
}

func newAttachments() *attachments {
	return &attachments{
		byMessage:      make(map[string]map[string]model.Attachment),
		byConversation: make(map[string]map[string]string),
	}
}

func (s *attachments) CreateMany(ctx context.Context, atts []model.Attachment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range atts {
		if s.byMessage[a.MessageID] == nil {
			s.byMessage[a.MessageID] = make(map[string]model.Attachment)
		}
		s.byMessage[a.MessageID][a.ID] = a
		if s.byConversation[a.ConversationID] == nil {
			s.byConversation[a.ConversationID] = make(map[string]string)
		}
		s.byConversation[a.ConversationID][a.ID] = a.MessageID
	}
	return nil
}

func (s *attachments) ListByMessage(ctx context.Context, messageID string) ([]model.Attachment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.byMessage[messageID]
	out := make([]model.Attachment, 0, len(rows))
	for _, a := range rows {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *attachments) ListByConversation(ctx context.Context, conversationID, before string, limit int) ([]model.Attachment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	index := s.byConversation[conversationID]
	ids := make([]string, 0, len(index))
	for id := range index {
		if before == "" || id < before {
			ids = append(ids, id)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))
	if len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]model.Attachment, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.byMessage[index[id]][id])
	}
	return out, nil
}

func (s *attachments) Delete(ctx context.Context, messageID, attachmentID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byMessage[messageID][attachmentID]
	if !ok {
		return store.ErrNotFound
	}
	delete(s.byMessage[messageID], attachmentID)
	delete(s.byConversation[a.ConversationID], attachmentID)
	return nil
}
