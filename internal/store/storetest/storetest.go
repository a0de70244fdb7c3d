// Package storetest is a conformance suite for store.Store implementations.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/messaging-platform/internal/model"
	"github.com/capitalize-ai/messaging-platform/internal/msgid"
	"github.com/capitalize-ai/messaging-platform/internal/store"
)

// Run exercises every store contract against stores returned by newStore.
// Each subtest receives a fresh store.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("ConversationCreateOneToOneIsIdempotent", func(t *testing.T) {
		testCreateOneToOne(t, newStore(t))
	})
	t.Run("ConversationCreateOneToOneConcurrent", func(t *testing.T) {
		testCreateOneToOneConcurrent(t, newStore(t))
	})
	t.Run("ConversationUpdates", func(t *testing.T) {
		testConversationUpdates(t, newStore(t))
	})
	t.Run("ParticipantsIndexes", func(t *testing.T) {
		testParticipants(t, newStore(t))
	})
	t.Run("ParticipantsInbox", func(t *testing.T) {
		testInbox(t, newStore(t))
	})
	t.Run("MessagesPage", func(t *testing.T) {
		testMessagesPage(t, newStore(t))
	})
	t.Run("MessagesSetStatus", func(t *testing.T) {
		testSetStatus(t, newStore(t))
	})
	t.Run("Attachments", func(t *testing.T) {
		testAttachments(t, newStore(t))
	})
	t.Run("Users", func(t *testing.T) {
		testUsers(t, newStore(t))
	})
}

var base = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func newDirect(a, b string) *model.Conversation {
	return &model.Conversation{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Type:      model.ConversationOneToOne,
		PairKey:   model.PairKey(a, b),
		CreatedAt: base,
		UpdatedAt: base,
	}
}

func testCreateOneToOne(t *testing.T, s store.Store) {
	ctx := context.Background()
	convs := s.Conversations()

	first, created, err := convs.CreateOneToOne(ctx, newDirect("alice", "bob"))
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := convs.CreateOneToOne(ctx, newDirect("bob", "alice"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	byKey, err := convs.GetByPairKey(ctx, model.PairKey("alice", "bob"))
	require.NoError(t, err)
	assert.Equal(t, first.ID, byKey.ID)

	_, err = convs.Get(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testCreateOneToOneConcurrent(t *testing.T, s store.Store) {
	ctx := context.Background()
	convs := s.Conversations()

	const n = 16
	ids := make([]string, n)
	var created int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := "carol", "dave"
			if i%2 == 1 {
				a, b = b, a
			}
			conv, ok, err := convs.CreateOneToOne(ctx, newDirect(a, b))
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			ids[i] = conv.ID
			if ok {
				created++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func testConversationUpdates(t *testing.T, s store.Store) {
	ctx := context.Background()
	convs := s.Conversations()

	group := &model.Conversation{
		ID:         uuid.Must(uuid.NewV7()).String(),
		Type:       model.ConversationGroup,
		GroupName:  model.DefaultGroupName,
		GroupImage: model.DefaultGroupImage,
		CreatorID:  "alice",
		CreatedAt:  base,
		UpdatedAt:  base,
	}
	require.NoError(t, convs.Create(ctx, group))

	at := base.Add(time.Minute)
	require.NoError(t, convs.TouchLastMessage(ctx, group.ID, "hello", at))
	got, err := convs.Get(ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", got.LastMessageText)
	require.NotNil(t, got.LastMessageAt)
	assert.True(t, got.LastMessageAt.Equal(at))
	assert.True(t, got.UpdatedAt.Equal(at))

	name := "Climbing"
	updated, err := convs.UpdateGroup(ctx, group.ID, &name, nil, at.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, "Climbing", updated.GroupName)
	assert.Equal(t, model.DefaultGroupImage, updated.GroupImage)

	require.NoError(t, convs.SoftDelete(ctx, group.ID, at.Add(2*time.Second)))
	got, err = convs.Get(ctx, group.ID)
	require.NoError(t, err)
	assert.True(t, got.Deleted)

	assert.ErrorIs(t, convs.TouchLastMessage(ctx, "missing", "x", at), store.ErrNotFound)
}

func testParticipants(t *testing.T, s store.Store) {
	ctx := context.Background()
	parts := s.Participants()

	rows := []model.Participant{
		{UserID: "alice", ConversationID: "c1", LastMessageAt: base, JoinedAt: base, IsAdmin: true},
		{UserID: "bob", ConversationID: "c1", LastMessageAt: base, JoinedAt: base},
		{UserID: "alice", ConversationID: "c2", LastMessageAt: base, JoinedAt: base},
	}
	require.NoError(t, parts.AddMany(ctx, rows))
	// Re-adding is a no-op and keeps the original admin flag.
	require.NoError(t, parts.AddMany(ctx, []model.Participant{
		{UserID: "alice", ConversationID: "c1", LastMessageAt: base, JoinedAt: base},
	}))

	members, err := parts.ListByConversation(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, "alice", members[0].UserID)
	assert.True(t, members[0].IsAdmin)

	mine, err := parts.ListByUser(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	at := base.Add(time.Hour)
	require.NoError(t, parts.SetLastMessageAt(ctx, "bob", "c1", at))
	bob, err := parts.Get(ctx, "bob", "c1")
	require.NoError(t, err)
	assert.True(t, bob.LastMessageAt.Equal(at))

	muted, archived := true, true
	patched, err := parts.Patch(ctx, "bob", "c1", store.ParticipantPatch{
		LastReadAt: &at,
		IsMuted:    &muted,
		IsArchived: &archived,
	})
	require.NoError(t, err)
	assert.True(t, patched.IsMuted)
	assert.True(t, patched.IsArchived)
	require.NotNil(t, patched.LastReadAt)
	assert.True(t, patched.LastReadAt.Equal(at))

	require.NoError(t, parts.Delete(ctx, "bob", "c1"))
	_, err = parts.Get(ctx, "bob", "c1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, parts.Delete(ctx, "bob", "c1"), store.ErrNotFound)
	assert.ErrorIs(t, parts.SetLastMessageAt(ctx, "bob", "c1", at), store.ErrNotFound)
}

func testInbox(t *testing.T, s store.Store) {
	ctx := context.Background()
	parts := s.Participants()

	var rows []model.Participant
	for i := 0; i < 5; i++ {
		rows = append(rows, model.Participant{
			UserID:         "alice",
			ConversationID: fmt.Sprintf("c%d", i),
			LastMessageAt:  base.Add(time.Duration(i) * time.Minute),
			JoinedAt:       base,
		})
	}
	// Same activity time as c4: ties break on conversation ID.
	rows = append(rows, model.Participant{
		UserID: "alice", ConversationID: "c9", LastMessageAt: base.Add(4 * time.Minute), JoinedAt: base,
	})
	require.NoError(t, parts.AddMany(ctx, rows))
	archived := true
	_, err := parts.Patch(ctx, "alice", "c2", store.ParticipantPatch{IsArchived: &archived})
	require.NoError(t, err)

	page, err := parts.Inbox(ctx, store.InboxQuery{UserID: "alice", Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, []string{"c9", "c4", "c3"}, conversationIDs(page))

	last := page[len(page)-1]
	page, err = parts.Inbox(ctx, store.InboxQuery{
		UserID: "alice",
		Limit:  3,
		After:  &store.InboxCursor{LastMessageAt: last.LastMessageAt, ConversationID: last.ConversationID},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c0"}, conversationIDs(page))

	page, err = parts.Inbox(ctx, store.InboxQuery{UserID: "alice", Limit: 10, IncludeArchived: true})
	require.NoError(t, err)
	assert.Len(t, page, 6)
}

func conversationIDs(rows []model.Participant) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.ConversationID
	}
	return out
}

func appendN(t *testing.T, s store.Store, conversationID string, n int) []string {
	t.Helper()
	gen := msgid.NewGenerator()
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		id, ts := gen.Next()
		require.NoError(t, s.Messages().Append(context.Background(), &model.Message{
			ID:             id,
			ConversationID: conversationID,
			SenderID:       "alice",
			Type:           model.MessageText,
			Content:        fmt.Sprintf("m%d", i),
			Status:         model.StatusSent,
			CreatedAt:      ts,
			UpdatedAt:      ts,
		}))
		ids[i] = id
	}
	return ids
}

func testMessagesPage(t *testing.T, s store.Store) {
	ctx := context.Background()
	ids := appendN(t, s, "c1", 7)
	appendN(t, s, "other", 3)

	page, err := s.Messages().Page(ctx, "c1", "", 3)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, ids[6], page[0].ID)
	assert.Equal(t, ids[4], page[2].ID)

	page, err = s.Messages().Page(ctx, "c1", page[2].ID, 10)
	require.NoError(t, err)
	require.Len(t, page, 4)
	assert.Equal(t, ids[3], page[0].ID)
	assert.Equal(t, ids[0], page[3].ID)

	page, err = s.Messages().Page(ctx, "c1", ids[0], 10)
	require.NoError(t, err)
	assert.Empty(t, page)

	got, err := s.Messages().Get(ctx, "c1", ids[2])
	require.NoError(t, err)
	assert.Equal(t, "m2", got.Content)

	_, err = s.Messages().Get(ctx, "other", ids[2])
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testSetStatus(t *testing.T, s store.Store) {
	ctx := context.Background()
	ids := appendN(t, s, "c1", 1)
	at := base.Add(time.Hour)

	msg, err := s.Messages().SetStatus(ctx, "c1", ids[0], model.StatusSeen, at)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSeen, msg.Status)

	msg, err = s.Messages().SetStatus(ctx, "c1", ids[0], model.StatusSent, at)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSent, msg.Status)

	_, err = s.Messages().SetStatus(ctx, "c1", ids[0], model.StatusRecalled, at)
	require.NoError(t, err)

	_, err = s.Messages().SetStatus(ctx, "c1", ids[0], model.StatusPinned, at)
	assert.ErrorIs(t, err, store.ErrRecalled)

	_, err = s.Messages().SetStatus(ctx, "c1", "missing", model.StatusSeen, at)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testAttachments(t *testing.T, s store.Store) {
	ctx := context.Background()
	gen := msgid.NewGenerator()
	var atts []model.Attachment
	for i := 0; i < 4; i++ {
		id, ts := gen.Next()
		msgID := "m1"
		if i >= 2 {
			msgID = "m2"
		}
		atts = append(atts, model.Attachment{
			MessageID:      msgID,
			ID:             id,
			ConversationID: "c1",
			Type:           model.AttachmentImage,
			URL:            "https://cdn.example/" + id,
			FileName:       fmt.Sprintf("f%d.png", i),
			MimeType:       "image/png",
			CreatedAt:      ts,
		})
	}
	require.NoError(t, s.Attachments().CreateMany(ctx, atts))

	byMsg, err := s.Attachments().ListByMessage(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, byMsg, 2)
	assert.Equal(t, atts[0].ID, byMsg[0].ID)

	page, err := s.Attachments().ListByConversation(ctx, "c1", "", 3)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, atts[3].ID, page[0].ID)

	page, err = s.Attachments().ListByConversation(ctx, "c1", page[2].ID, 3)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, atts[0].ID, page[0].ID)

	require.NoError(t, s.Attachments().Delete(ctx, "m1", atts[0].ID))
	assert.ErrorIs(t, s.Attachments().Delete(ctx, "m1", atts[0].ID), store.ErrNotFound)
	page, err = s.Attachments().ListByConversation(ctx, "c1", "", 10)
	require.NoError(t, err)
	assert.Len(t, page, 3)
}

func testUsers(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Users().PutUser(ctx, &model.User{ID: "u1", Username: "alice"}))
	require.NoError(t, s.Users().PutUser(ctx, &model.User{ID: "u2", Username: "bob"}))

	u, err := s.Users().GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)

	_, err = s.Users().GetUser(ctx, "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)

	batch, err := s.Users().GetUsers(ctx, []string{"u2", "nope", "u1"})
	require.NoError(t, err)
	assert.Len(t, batch, 2)
}
