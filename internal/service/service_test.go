package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/messaging-platform/internal/blob"
	"github.com/capitalize-ai/messaging-platform/internal/identity"
	"github.com/capitalize-ai/messaging-platform/internal/model"
	"github.com/capitalize-ai/messaging-platform/internal/msgid"
	"github.com/capitalize-ai/messaging-platform/internal/store"
	"github.com/capitalize-ai/messaging-platform/internal/store/memstore"
	"github.com/capitalize-ai/messaging-platform/pkg/logger"
)

var errInjected = errors.New("injected failure")

func testLogger() *logger.Logger {
	return logger.Nop()
}

type fixture struct {
	store    store.Store
	blobs    blob.Store
	convs    *ConversationService
	parts    *ParticipantService
	messages *MessageService
	atts     *AttachmentService
	chat     *ChatService
	notes    *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWith(t, memstore.New(), blob.NewMemoryStore(""))
}

func newFixtureWith(t *testing.T, st store.Store, blobs blob.Store) *fixture {
	t.Helper()
	ctx := context.Background()
	for _, id := range []string{"alice", "bob", "carol", "dave"} {
		require.NoError(t, st.Users().PutUser(ctx, &model.User{ID: id, Username: id}))
	}

	log := testLogger()
	ids := msgid.NewGenerator()
	users := identity.NewStoreDirectory(st.Users(), identity.RetryConfig{MaxRetries: 1, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}, log)
	convs := NewConversationService(st, log)
	parts := NewParticipantService(st, convs, users, log)
	messages := NewMessageService(st, convs, ids, log)
	atts := NewAttachmentService(st, blobs, ids, log)
	chat := NewChatService(convs, parts, messages, atts, users, log)
	notes := &recordingNotifier{}
	chat.SetNotifier(notes)

	return &fixture{
		store:    st,
		blobs:    blobs,
		convs:    convs,
		parts:    parts,
		messages: messages,
		atts:     atts,
		chat:     chat,
		notes:    notes,
	}
}

type recordingNotifier struct {
	mu       sync.Mutex
	started  []string
	appended []string
	added    []string
	left     []string
}

func (n *recordingNotifier) ConversationStarted(_ context.Context, conv *model.Conversation, _ *model.Message, _ string, _ []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.started = append(n.started, conv.ID)
}

func (n *recordingNotifier) MessageAppended(_ context.Context, _ *model.Conversation, msg *model.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.appended = append(n.appended, msg.ID)
}

func (n *recordingNotifier) MembersAdded(_ context.Context, _ *model.Conversation, userIDs []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.added = append(n.added, userIDs...)
}

func (n *recordingNotifier) MemberLeft(_ context.Context, _ *model.Conversation, userID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.left = append(n.left, userID)
}

// faultyStore swaps in participant and message stores that fail on demand.
type faultyStore struct {
	store.Store
	parts    *faultyParticipants
	messages *faultyMessages
}

func (s *faultyStore) Participants() store.ParticipantStore { return s.parts }
func (s *faultyStore) Messages() store.MessageStore         { return s.messages }

type faultyParticipants struct {
	store.ParticipantStore
	failAddMany bool
	failBumpFor map[string]bool
	// leaveBeforeBump removes the row just before its bump lands.
	leaveBeforeBump map[string]bool
}

type faultyMessages struct {
	store.MessageStore
	failAppend bool
}

func newFaultyStore() *faultyStore {
	inner := memstore.New()
	return &faultyStore{
		Store: inner,
		parts: &faultyParticipants{
			ParticipantStore: inner.Participants(),
			failBumpFor:      map[string]bool{},
			leaveBeforeBump:  map[string]bool{},
		},
		messages: &faultyMessages{MessageStore: inner.Messages()},
	}
}

func (m *faultyMessages) Append(ctx context.Context, msg *model.Message) error {
	if m.failAppend {
		return errInjected
	}
	return m.MessageStore.Append(ctx, msg)
}

func (p *faultyParticipants) AddMany(ctx context.Context, rows []model.Participant) error {
	if p.failAddMany {
		return errInjected
	}
	return p.ParticipantStore.AddMany(ctx, rows)
}

func (p *faultyParticipants) SetLastMessageAt(ctx context.Context, userID, conversationID string, at time.Time) error {
	if p.failBumpFor[userID] {
		return errInjected
	}
	if p.leaveBeforeBump[userID] {
		if err := p.ParticipantStore.Delete(ctx, userID, conversationID); err != nil {
			return err
		}
	}
	return p.ParticipantStore.SetLastMessageAt(ctx, userID, conversationID, at)
}

// failingBlobs rejects every upload.
type failingBlobs struct{}

func (failingBlobs) Upload(context.Context, []byte, string, string) (string, error) {
	return "", errInjected
}
