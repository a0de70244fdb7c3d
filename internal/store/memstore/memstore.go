// Package memstore is an in-process implementation of the chat stores.
//
// Rows are partitioned per conversation (and per user for the participation
// index) so writers to different conversations never contend on one lock.
package memstore

import (
	"context"
	"sync"

	"github.com/capitalize-ai/messaging-platform/internal/model"
	"github.com/capitalize-ai/messaging-platform/internal/store"
)

// Store implements store.Store in memory.
type Store struct {
	conversations *conversations
	participants  *participants
	messages      *messages
	attachments   *attachments
	users         *users
}

var _ store.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		conversations: &conversations{},
		participants:  &participants{},
		messages:      &messages{},
		attachments:   newAttachments(),
		users:         &users{rows: make(map[string]model.User)},
	}
}

func (s *Store) Conversations() store.ConversationStore { return s.conversations }
func (s *Store) Participants() store.ParticipantStore   { return s.participants }
func (s *Store) Messages() store.MessageStore           { return s.messages }
func (s *Store) Attachments() store.AttachmentStore     { return s.attachments }
func (s *Store) Users() store.UserStore                 { return s.users }

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

// Close is a no-op.
func (s *Store) Close() error { return nil }

// loadOrCreate returns the value stored under key in m, creating it with
// newFn on first use.
func loadOrCreate[T any](m *sync.Map, key string, newFn func() *T) *T {
	if v, ok := m.Load(key); ok {
		return v.(*T)
	}
	v, _ := m.LoadOrStore(key, newFn())
	return v.(*T)
}
