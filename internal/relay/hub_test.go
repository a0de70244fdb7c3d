package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/messaging-platform/internal/blob"
	"github.com/capitalize-ai/messaging-platform/internal/identity"
	"github.com/capitalize-ai/messaging-platform/internal/model"
	"github.com/capitalize-ai/messaging-platform/internal/msgid"
	"github.com/capitalize-ai/messaging-platform/internal/presence"
	"github.com/capitalize-ai/messaging-platform/internal/service"
	"github.com/capitalize-ai/messaging-platform/internal/store/memstore"
	"github.com/capitalize-ai/messaging-platform/pkg/logger"
)

type recordingBridge struct {
	mu   sync.Mutex
	envs []*Envelope
}

func (b *recordingBridge) Publish(env *Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.envs = append(b.envs, env)
	return nil
}

func (b *recordingBridge) published() []*Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Envelope(nil), b.envs...)
}

type hubFixture struct {
	hub      *Hub
	chat     *service.ChatService
	parts    *service.ParticipantService
	presence *presence.MemoryRecorder
	bridge   *recordingBridge
}

func newHubFixture(t *testing.T) *hubFixture {
	t.Helper()
	ctx := context.Background()
	st := memstore.New()
	for _, id := range []string{"alice", "bob", "carol"} {
		require.NoError(t, st.Users().PutUser(ctx, &model.User{ID: id, Username: id}))
	}

	log := logger.Nop()
	ids := msgid.NewGenerator()
	users := identity.NewStoreDirectory(st.Users(), identity.DefaultRetryConfig(), log)
	convs := service.NewConversationService(st, log)
	parts := service.NewParticipantService(st, convs, users, log)
	messages := service.NewMessageService(st, convs, ids, log)
	atts := service.NewAttachmentService(st, blob.NewMemoryStore(""), ids, log)
	chat := service.NewChatService(convs, parts, messages, atts, users, log)

	rec := presence.NewMemoryRecorder()
	hub := NewHub(DefaultConfig("node-a"), chat, parts, rec, log)
	bridge := &recordingBridge{}
	hub.SetBridge(bridge)
	chat.SetNotifier(hub)

	return &hubFixture{hub: hub, chat: chat, parts: parts, presence: rec, bridge: bridge}
}

func (f *hubFixture) connect(t *testing.T, userID string) *Session {
	t.Helper()
	s := newSession(userID, nil, 16)
	require.NoError(t, f.hub.Connect(context.Background(), s))
	return s
}

func (f *hubFixture) send(t *testing.T, s *Session, event model.EventType, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	raw, err := json.Marshal(model.Frame{Event: event, Data: data})
	require.NoError(t, err)
	f.hub.handleFrame(context.Background(), s, raw)
}

// drain returns every frame queued for s.
func drain(s *Session) []model.Frame {
	var out []model.Frame
	for {
		select {
		case raw := <-s.send:
			var f model.Frame
			if err := json.Unmarshal(raw, &f); err == nil {
				out = append(out, f)
			}
		default:
			return out
		}
	}
}

func events(frames []model.Frame) []model.EventType {
	out := make([]model.EventType, len(frames))
	for i, f := range frames {
		out[i] = f.Event
	}
	return out
}

func TestHub_StartOneToOneReachesBothSides(t *testing.T) {
	f := newHubFixture(t)
	alice1 := f.connect(t, "alice")
	alice2 := f.connect(t, "alice")
	bob := f.connect(t, "bob")

	f.send(t, alice1, model.EventStartConversation, model.StartConversationEvent{
		Type:        model.ConversationOneToOne,
		RecipientID: "bob",
		Content:     "hi bob",
	})

	got := drain(alice1)
	require.Equal(t, []model.EventType{model.EventConversationStarted}, events(got))
	var started model.ConversationStarted
	require.NoError(t, json.Unmarshal(got[0].Data, &started))
	assert.True(t, started.IsNew)
	assert.Equal(t, "hi bob", started.Message.Content)
	convID := started.Conversation.ID

	// The recipient and the initiator's other devices are announced to.
	for _, s := range []*Session{bob, alice2} {
		got := drain(s)
		require.Equal(t, []model.EventType{model.EventNewConversation}, events(got), s.ID)
		var announced model.ConversationStarted
		require.NoError(t, json.Unmarshal(got[0].Data, &announced))
		assert.Equal(t, convID, announced.Conversation.ID)
		assert.Equal(t, "hi bob", announced.Message.Content)
	}

	// Every session of both users is now subscribed.
	for _, s := range []*Session{alice1, alice2, bob} {
		assert.True(t, s.InGroup(convID), s.ID)
	}

	f.send(t, bob, model.EventSendMessage, model.SendMessageEvent{ConversationID: convID, Content: "hey"})
	for _, s := range []*Session{alice1, alice2, bob} {
		got := drain(s)
		require.Equal(t, []model.EventType{model.EventNewMessage}, events(got), s.ID)
		var msg model.Message
		require.NoError(t, json.Unmarshal(got[0].Data, &msg))
		assert.Equal(t, "hey", msg.Content)
		assert.Equal(t, "bob", msg.SenderID)
	}
}

func TestHub_ConversationStartedOutsideSocketReachesEverySession(t *testing.T) {
	f := newHubFixture(t)
	alice1 := f.connect(t, "alice")
	alice2 := f.connect(t, "alice")
	bob := f.connect(t, "bob")

	_, err := f.chat.StartOneToOne(context.Background(), "alice", "bob", service.Content{Text: "from http"})
	require.NoError(t, err)

	for _, s := range []*Session{alice1, alice2, bob} {
		assert.Equal(t, []model.EventType{model.EventNewConversation}, events(drain(s)), s.ID)
	}
}

func TestHub_ReopeningDirectConversationIsNotNew(t *testing.T) {
	f := newHubFixture(t)
	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")

	start := model.StartConversationEvent{Type: model.ConversationOneToOne, RecipientID: "bob", Content: "one"}
	f.send(t, alice, model.EventStartConversation, start)
	drain(alice)
	drain(bob)

	start.Content = "two"
	f.send(t, alice, model.EventStartConversation, start)

	got := drain(alice)
	require.Equal(t, []model.EventType{model.EventNewMessage, model.EventConversationStarted}, events(got))
	var started model.ConversationStarted
	require.NoError(t, json.Unmarshal(got[1].Data, &started))
	assert.False(t, started.IsNew)
	assert.Equal(t, []model.EventType{model.EventNewMessage}, events(drain(bob)))
}

func TestHub_GroupStartWithMessage(t *testing.T) {
	f := newHubFixture(t)
	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")

	f.send(t, alice, model.EventStartConversation, model.StartConversationEvent{
		Type:           model.ConversationGroup,
		ParticipantIDs: []string{"bob", "carol"},
		GroupName:      "trip",
		Content:        "welcome",
	})

	assert.Equal(t, []model.EventType{model.EventNewMessage, model.EventConversationStarted}, events(drain(alice)))
	assert.Equal(t, []model.EventType{model.EventNewConversation, model.EventNewMessage}, events(drain(bob)))
}

func TestHub_OfflineRecipientCatchesUpOnConnect(t *testing.T) {
	f := newHubFixture(t)
	alice := f.connect(t, "alice")

	f.send(t, alice, model.EventStartConversation, model.StartConversationEvent{
		Type:        model.ConversationOneToOne,
		RecipientID: "carol",
		Content:     "are you there",
	})
	got := drain(alice)
	require.Len(t, got, 1)
	var started model.ConversationStarted
	require.NoError(t, json.Unmarshal(got[0].Data, &started))

	carol := f.connect(t, "carol")
	assert.True(t, carol.InGroup(started.Conversation.ID))

	f.send(t, alice, model.EventSendMessage, model.SendMessageEvent{ConversationID: started.Conversation.ID, Content: "hello again"})
	assert.Equal(t, []model.EventType{model.EventNewMessage}, events(drain(carol)))
}

func TestHub_TypingSkipsOriginSession(t *testing.T) {
	f := newHubFixture(t)
	alice1 := f.connect(t, "alice")
	bob := f.connect(t, "bob")

	res, err := f.chat.StartOneToOne(context.Background(), "alice", "bob", service.Content{Text: "hi"})
	require.NoError(t, err)
	alice2 := f.connect(t, "alice")
	drain(alice1)
	drain(bob)

	f.send(t, alice1, model.EventTyping, model.TypingEvent{ConversationID: res.Conversation.ID})
	assert.Empty(t, drain(alice1))

	for _, s := range []*Session{alice2, bob} {
		got := drain(s)
		require.Equal(t, []model.EventType{model.EventUserTyping}, events(got))
		var ev model.TypingEvent
		require.NoError(t, json.Unmarshal(got[0].Data, &ev))
		assert.Equal(t, "alice", ev.UserID)
	}

	f.send(t, alice1, model.EventStopTyping, model.TypingEvent{ConversationID: res.Conversation.ID})
	assert.Equal(t, []model.EventType{model.EventUserStopTyping}, events(drain(bob)))
}

func TestHub_ErrorsGoToOriginOnly(t *testing.T) {
	f := newHubFixture(t)
	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")

	f.send(t, alice, model.EventTyping, model.TypingEvent{ConversationID: "nope"})
	f.send(t, alice, model.EventSendMessage, model.SendMessageEvent{ConversationID: "nope", Content: "x"})
	f.send(t, alice, model.EventStartConversation, model.StartConversationEvent{Type: "CHANNEL"})
	f.send(t, alice, "dance", struct{}{})
	f.hub.handleFrame(context.Background(), alice, []byte("{"))

	got := drain(alice)
	require.Len(t, got, 5)
	for _, fr := range got {
		assert.Equal(t, model.EventError, fr.Event)
		var ev model.ErrorEvent
		require.NoError(t, json.Unmarshal(fr.Data, &ev))
		assert.NotEmpty(t, ev.Message)
	}
	assert.Empty(t, drain(bob))
}

// racingMemberships starts a conversation after the membership list has
// been read, before Connect gets the stale result.
type racingMemberships struct {
	inner Memberships
	race  func()
}

func (m *racingMemberships) ListByUser(ctx context.Context, userID string) ([]model.Participant, error) {
	parts, err := m.inner.ListByUser(ctx, userID)
	m.race()
	return parts, err
}

func TestHub_ConnectSeesConversationStartedWhileListing(t *testing.T) {
	f := newHubFixture(t)
	var convID string
	f.hub.members = &racingMemberships{inner: f.parts, race: func() {
		res, err := f.chat.StartOneToOne(context.Background(), "alice", "bob", service.Content{Text: "mid-connect"})
		require.NoError(t, err)
		convID = res.Conversation.ID
	}}

	bob := f.connect(t, "bob")
	require.NotEmpty(t, convID)
	assert.True(t, bob.InGroup(convID))
}

type failingMemberships struct{}

func (failingMemberships) ListByUser(context.Context, string) ([]model.Participant, error) {
	return nil, errors.New("store down")
}

func TestHub_ConnectFailureUnregisters(t *testing.T) {
	f := newHubFixture(t)
	f.hub.members = failingMemberships{}

	s := newSession("alice", nil, 4)
	require.Error(t, f.hub.Connect(context.Background(), s))
	assert.True(t, s.Closed())
	assert.False(t, f.hub.Registry().IsOnline("alice"))
	status, err := f.presence.Status(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, model.PresenceOffline, status)
}

func TestHub_PresenceFollowsLastSession(t *testing.T) {
	f := newHubFixture(t)
	ctx := context.Background()

	s1 := f.connect(t, "alice")
	s2 := f.connect(t, "alice")
	status, err := f.presence.Status(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, model.PresenceOnline, status)

	f.hub.Disconnect(s1)
	f.hub.Disconnect(s1)
	status, _ = f.presence.Status(ctx, "alice")
	assert.Equal(t, model.PresenceOnline, status)
	assert.True(t, f.hub.Registry().IsOnline("alice"))

	f.hub.Disconnect(s2)
	status, _ = f.presence.Status(ctx, "alice")
	assert.Equal(t, model.PresenceOffline, status)
	assert.False(t, f.hub.Registry().IsOnline("alice"))
}

func TestHub_DisconnectLeavesOtherSessionsSubscribed(t *testing.T) {
	f := newHubFixture(t)
	res, err := f.chat.StartOneToOne(context.Background(), "alice", "bob", service.Content{Text: "hi"})
	require.NoError(t, err)
	convID := res.Conversation.ID

	a1 := f.connect(t, "alice")
	a2 := f.connect(t, "alice")
	f.hub.Disconnect(a1)

	assert.False(t, a1.InGroup(convID))
	assert.True(t, a2.InGroup(convID))
	assert.Len(t, f.hub.groups.Members(convID), 1)
}

func TestHub_FullQueueDropsWithoutBlocking(t *testing.T) {
	f := newHubFixture(t)
	res, err := f.chat.StartOneToOne(context.Background(), "alice", "bob", service.Content{Text: "hi"})
	require.NoError(t, err)

	slow := newSession("bob", nil, 1)
	require.NoError(t, f.hub.Connect(context.Background(), slow))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 5; i++ {
			_, err := f.chat.Send(context.Background(), "alice", res.Conversation.ID, service.Content{Text: "spam"})
			assert.NoError(t, err)
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("send blocked on a full session queue")
	}
	assert.Len(t, drain(slow), 1)
}

func TestHub_BridgePublishesAndSkipsOwnEnvelopes(t *testing.T) {
	f := newHubFixture(t)
	alice := f.connect(t, "alice")

	res, err := f.chat.StartOneToOne(context.Background(), "alice", "bob", service.Content{Text: "hi"})
	require.NoError(t, err)
	drain(alice)

	envs := f.bridge.published()
	require.Len(t, envs, 1)
	assert.Equal(t, "node-a", envs[0].NodeID)
	assert.Equal(t, res.Conversation.ID, envs[0].ConversationID)
	assert.ElementsMatch(t, []string{"alice", "bob"}, envs[0].Join)

	// Own envelopes coming back over the bridge are ignored.
	f.hub.DeliverRemote(envs[0])
	assert.Empty(t, drain(alice))
}

func TestHub_DeliverRemoteJoinsAndBroadcasts(t *testing.T) {
	f := newHubFixture(t)
	bob := f.connect(t, "bob")

	f.hub.DeliverRemote(&Envelope{
		NodeID:         "node-b",
		ConversationID: "c-remote",
		Event:          model.EventNewConversation,
		Join:           []string{"alice", "bob"},
		Targets:        []string{"bob"},
		Frame:          encodeFrame(model.EventNewConversation, model.ConversationStarted{IsNew: true}),
	})
	assert.True(t, bob.InGroup("c-remote"))
	assert.Equal(t, []model.EventType{model.EventNewConversation}, events(drain(bob)))

	f.hub.DeliverRemote(&Envelope{
		NodeID:         "node-b",
		ConversationID: "c-remote",
		Event:          model.EventNewMessage,
		Frame:          encodeFrame(model.EventNewMessage, model.Message{ID: "m1"}),
	})
	assert.Equal(t, []model.EventType{model.EventNewMessage}, events(drain(bob)))

	f.hub.DeliverRemote(&Envelope{NodeID: "node-b", ConversationID: "c-remote", Leave: []string{"bob"}})
	assert.False(t, bob.InGroup("c-remote"))
	assert.Empty(t, drain(bob))
}

func TestHub_RunRefreshesPresence(t *testing.T) {
	f := newHubFixture(t)
	f.hub.cfg.PresenceRefresh = 10 * time.Millisecond
	s := f.connect(t, "alice")

	// Simulate the entry expiring in the shared store.
	require.NoError(t, f.presence.SetOffline(context.Background(), "alice", "node-a"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.hub.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		status, err := f.presence.Status(context.Background(), "alice")
		return err == nil && status == model.PresenceOnline
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
	f.hub.Disconnect(s)
}
