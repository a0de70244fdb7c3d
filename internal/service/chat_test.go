package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/messaging-platform/internal/apperr"
	"github.com/capitalize-ai/messaging-platform/internal/blob"
	"github.com/capitalize-ai/messaging-platform/internal/model"
)

func TestStartOneToOneCreatesConversationAndParticipants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.chat.StartOneToOne(ctx, "alice", "bob", Content{Text: "hello"})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.False(t, res.Degraded())
	assert.Equal(t, "bob", res.Message.RecipientID)

	conv, err := f.convs.Get(ctx, res.Conversation.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", conv.LastMessageText)
	require.NotNil(t, conv.LastMessageAt)
	assert.True(t, conv.LastMessageAt.Equal(res.Message.CreatedAt))

	members, err := f.parts.ListByConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.True(t, members[0].LastMessageAt.Equal(members[1].LastMessageAt))
	for _, p := range members {
		assert.True(t, p.LastMessageAt.Equal(res.Message.CreatedAt))
	}

	assert.Equal(t, []string{conv.ID}, f.notes.started)
	assert.Empty(t, f.notes.appended)
}

func TestStartOneToOneReusesConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.chat.StartOneToOne(ctx, "alice", "bob", Content{Text: "hello"})
	require.NoError(t, err)
	second, err := f.chat.StartOneToOne(ctx, "bob", "alice", Content{Text: "hi back"})
	require.NoError(t, err)

	assert.False(t, second.Created)
	assert.Equal(t, first.Conversation.ID, second.Conversation.ID)
	assert.Equal(t, "hi back", second.Conversation.LastMessageText)
	assert.Equal(t, "alice", second.Message.RecipientID)
	assert.Len(t, f.notes.started, 1)
	assert.Equal(t, []string{second.Message.ID}, f.notes.appended)

	page, err := f.messages.Page(ctx, first.Conversation.ID, 10, "")
	require.NoError(t, err)
	require.Len(t, page.Messages, 2)
	assert.Equal(t, second.Message.ID, page.Messages[0].ID)
}

func TestStartOneToOneValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.chat.StartOneToOne(ctx, "alice", "mallory", Content{Text: "hi"})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = f.chat.StartOneToOne(ctx, "alice", "alice", Content{Text: "hi"})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = f.chat.StartOneToOne(ctx, "alice", "bob", Content{})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = f.convs.convs.GetByPairKey(ctx, model.PairKey("alice", "bob"))
	assert.Error(t, err, "no conversation should exist after rejected sends")
}

func TestStartOneToOneRetryAfterParticipantFailure(t *testing.T) {
	st := newFaultyStore()
	f := newFixtureWith(t, st, blob.NewMemoryStore(""))
	ctx := context.Background()

	st.parts.failAddMany = true
	_, err := f.chat.StartOneToOne(ctx, "alice", "bob", Content{Text: "hello"})
	require.Error(t, err)
	assert.True(t, apperr.IsRetryable(err))

	st.parts.failAddMany = false
	res, err := f.chat.StartOneToOne(ctx, "alice", "bob", Content{Text: "hello"})
	require.NoError(t, err)
	assert.False(t, res.Created)

	members, err := f.parts.ListByConversation(ctx, res.Conversation.ID)
	require.NoError(t, err)
	assert.Len(t, members, 2)
}

func TestStartOneToOneFailedAppendLeavesNoPreview(t *testing.T) {
	st := newFaultyStore()
	f := newFixtureWith(t, st, blob.NewMemoryStore(""))
	ctx := context.Background()

	st.messages.failAppend = true
	_, err := f.chat.StartOneToOne(ctx, "alice", "dave", Content{Text: "lost"})
	require.Error(t, err)

	conv, err := f.store.Conversations().GetByPairKey(ctx, model.PairKey("alice", "dave"))
	require.NoError(t, err)
	assert.Empty(t, conv.LastMessageText)
	assert.Nil(t, conv.LastMessageAt)
	page, err := f.messages.Page(ctx, conv.ID, 10, "")
	require.NoError(t, err)
	assert.Empty(t, page.Messages)
	assert.Empty(t, f.notes.started)

	st.messages.failAppend = false
	res, err := f.chat.StartOneToOne(ctx, "alice", "dave", Content{Text: "found"})
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, conv.ID, res.Conversation.ID)

	conv, err = f.convs.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "found", conv.LastMessageText)
	require.NotNil(t, conv.LastMessageAt)
	assert.True(t, conv.LastMessageAt.Equal(res.Message.CreatedAt))
}

func TestSendRequiresParticipation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.chat.StartOneToOne(ctx, "alice", "bob", Content{Text: "hello"})
	require.NoError(t, err)

	_, err = f.chat.Send(ctx, "carol", res.Conversation.ID, Content{Text: "intrude"})
	assert.True(t, apperr.Is(err, apperr.KindAuthorization))

	_, err = f.chat.Send(ctx, "alice", "missing", Content{Text: "x"})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestSendFanOutIsDegradedNotRolledBack(t *testing.T) {
	st := newFaultyStore()
	f := newFixtureWith(t, st, blob.NewMemoryStore(""))
	ctx := context.Background()

	conv, _, err := f.chat.CreateGroup(ctx, "alice", &model.CreateGroupRequest{ParticipantIDs: []string{"bob", "carol"}})
	require.NoError(t, err)

	st.parts.failBumpFor["carol"] = true
	res, err := f.chat.Send(ctx, "bob", conv.ID, Content{Text: "partial"})
	require.NoError(t, err)
	assert.True(t, res.Degraded())
	assert.Equal(t, []string{"carol"}, res.StaleParticipants)
	assert.True(t, res.Response().Degraded)

	// The message and the other rows are committed.
	got, err := f.messages.GetByID(ctx, conv.ID, res.Message.ID)
	require.NoError(t, err)
	assert.Equal(t, "partial", got.Content)
	for _, user := range []string{"alice", "bob"} {
		p, err := f.parts.Get(ctx, user, conv.ID)
		require.NoError(t, err)
		assert.True(t, p.LastMessageAt.Equal(res.Message.CreatedAt), user)
	}
	carol, err := f.parts.Get(ctx, "carol", conv.ID)
	require.NoError(t, err)
	assert.True(t, carol.LastMessageAt.Before(res.Message.CreatedAt))

	// The next successful send repairs the stale row.
	delete(st.parts.failBumpFor, "carol")
	res, err = f.chat.Send(ctx, "alice", conv.ID, Content{Text: "again"})
	require.NoError(t, err)
	assert.False(t, res.Degraded())
	carol, err = f.parts.Get(ctx, "carol", conv.ID)
	require.NoError(t, err)
	assert.True(t, carol.LastMessageAt.Equal(res.Message.CreatedAt))
}

func TestSendSkipsMemberWhoLeftDuringFanOut(t *testing.T) {
	st := newFaultyStore()
	f := newFixtureWith(t, st, blob.NewMemoryStore(""))
	ctx := context.Background()

	conv, _, err := f.chat.CreateGroup(ctx, "alice", &model.CreateGroupRequest{ParticipantIDs: []string{"bob", "carol"}})
	require.NoError(t, err)

	st.parts.leaveBeforeBump["carol"] = true
	res, err := f.chat.Send(ctx, "bob", conv.ID, Content{Text: "bye carol"})
	require.NoError(t, err)
	assert.False(t, res.Degraded())
	assert.Empty(t, res.StaleParticipants)

	_, err = f.parts.Get(ctx, "carol", conv.ID)
	assert.Error(t, err)
}

func TestCreateGroupWritesOneRowPerDistinctMember(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	conv, rows, err := f.chat.CreateGroup(ctx, "alice", &model.CreateGroupRequest{
		ParticipantIDs: []string{"bob", "carol", "bob", "alice"},
		GroupName:      "Team",
	})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Team", conv.GroupName)

	members, err := f.parts.ListByConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, members, 3)
	for _, p := range members {
		assert.Equal(t, p.UserID == "alice", p.IsAdmin, p.UserID)
		assert.True(t, p.LastMessageAt.Equal(conv.CreatedAt))
	}
	assert.Equal(t, []string{conv.ID}, f.notes.started)

	_, _, err = f.chat.CreateGroup(ctx, "alice", &model.CreateGroupRequest{ParticipantIDs: []string{"alice"}})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, _, err = f.chat.CreateGroup(ctx, "alice", &model.CreateGroupRequest{ParticipantIDs: []string{"bob", "mallory"}})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestCreateGroupParticipantFailureIsRetryable(t *testing.T) {
	st := newFaultyStore()
	st.parts.failAddMany = true
	f := newFixtureWith(t, st, blob.NewMemoryStore(""))

	_, _, err := f.chat.CreateGroup(context.Background(), "alice", &model.CreateGroupRequest{ParticipantIDs: []string{"bob"}})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindDependency))
	assert.True(t, apperr.IsRetryable(err))
	assert.Empty(t, f.notes.started)
}

func TestSendMediaUploadsBeforeAppending(t *testing.T) {
	blobs := blob.NewMemoryStore("https://cdn.test")
	f := newFixtureWith(t, newFaultyStore(), blobs)
	ctx := context.Background()
	conv, _, err := f.chat.CreateGroup(ctx, "alice", &model.CreateGroupRequest{ParticipantIDs: []string{"bob"}})
	require.NoError(t, err)

	res, err := f.chat.Send(ctx, "alice", conv.ID, Content{
		Text: "look",
		Uploads: []model.Upload{
			{FileName: "a.png", MimeType: "image/png", Data: []byte("a")},
			{FileName: "b.mp4", MimeType: "video/mp4", Data: []byte("b")},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, model.MessageMedia, res.Message.Type)
	require.Len(t, res.Message.Attachments, 2)
	assert.Equal(t, model.AttachmentImage, res.Message.Attachments[0].Type)
	assert.Equal(t, model.AttachmentVideo, res.Message.Attachments[1].Type)
	assert.Equal(t, "look", res.Conversation.LastMessageText)
	assert.Equal(t, 2, blobs.Len())

	listed, err := f.atts.ListByMessage(ctx, res.Message.ID)
	require.NoError(t, err)
	assert.Len(t, listed, 2)
	for _, a := range listed {
		assert.Equal(t, conv.ID, a.ConversationID)
	}
}

func TestSendMediaUploadFailureWritesNothing(t *testing.T) {
	f := newFixtureWith(t, newFaultyStore(), failingBlobs{})
	ctx := context.Background()
	conv, _, err := f.chat.CreateGroup(ctx, "alice", &model.CreateGroupRequest{ParticipantIDs: []string{"bob"}})
	require.NoError(t, err)

	_, err = f.chat.Send(ctx, "alice", conv.ID, Content{
		Uploads: []model.Upload{{FileName: "a.png", MimeType: "image/png", Data: []byte("a")}},
	})
	assert.True(t, apperr.Is(err, apperr.KindDependency))

	page, err := f.messages.Page(ctx, conv.ID, 10, "")
	require.NoError(t, err)
	assert.Empty(t, page.Messages)
	assert.Empty(t, f.notes.appended)
}

func TestForward(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	direct, err := f.chat.StartOneToOne(ctx, "alice", "bob", Content{Text: "original"})
	require.NoError(t, err)
	group, _, err := f.chat.CreateGroup(ctx, "bob", &model.CreateGroupRequest{ParticipantIDs: []string{"carol"}})
	require.NoError(t, err)

	res, err := f.chat.Forward(ctx, "bob", direct.Conversation.ID, direct.Message.ID, group.ID)
	require.NoError(t, err)
	assert.Equal(t, direct.Message.ID, res.Message.ForwardedFromID)
	assert.Equal(t, "original", res.Message.Content)
	assert.Equal(t, group.ID, res.Message.ConversationID)
	assert.Equal(t, "bob", res.Message.SenderID)

	// alice is not in the group.
	_, err = f.chat.Forward(ctx, "alice", direct.Conversation.ID, direct.Message.ID, group.ID)
	assert.True(t, apperr.Is(err, apperr.KindAuthorization))

	_, err = f.messages.SetStatus(ctx, direct.Conversation.ID, direct.Message.ID, model.StatusRecalled)
	require.NoError(t, err)
	_, err = f.chat.Forward(ctx, "bob", direct.Conversation.ID, direct.Message.ID, group.ID)
	assert.True(t, apperr.Is(err, apperr.KindConflict))
}

func TestAddParticipantsAndLeave(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv, _, err := f.chat.CreateGroup(ctx, "alice", &model.CreateGroupRequest{ParticipantIDs: []string{"bob"}})
	require.NoError(t, err)

	_, err = f.chat.AddParticipants(ctx, "bob", conv.ID, []string{"carol"})
	assert.True(t, apperr.Is(err, apperr.KindAuthorization))

	rows, err := f.chat.AddParticipants(ctx, "alice", conv.ID, []string{"carol", "bob", "carol"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "carol", rows[0].UserID)
	assert.Equal(t, []string{"carol"}, f.notes.added)

	rows, err = f.chat.AddParticipants(ctx, "alice", conv.ID, []string{"carol"})
	require.NoError(t, err)
	assert.Empty(t, rows)

	require.NoError(t, f.chat.Leave(ctx, "carol", conv.ID))
	assert.Equal(t, []string{"carol"}, f.notes.left)
	ok, err := f.parts.IsParticipant(ctx, "carol", conv.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.chat.Send(ctx, "carol", conv.ID, Content{Text: "still here?"})
	assert.True(t, apperr.Is(err, apperr.KindAuthorization))
}

func TestGroupAdminOperations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv, _, err := f.chat.CreateGroup(ctx, "alice", &model.CreateGroupRequest{ParticipantIDs: []string{"bob"}})
	require.NoError(t, err)

	_, err = f.chat.UpdateGroup(ctx, "bob", conv.ID, &model.UpdateConversationRequest{GroupName: "mine"})
	assert.True(t, apperr.Is(err, apperr.KindAuthorization))
	updated, err := f.chat.UpdateGroup(ctx, "alice", conv.ID, &model.UpdateConversationRequest{GroupName: "ours"})
	require.NoError(t, err)
	assert.Equal(t, "ours", updated.GroupName)

	detail, err := f.chat.Conversation(ctx, "bob", conv.ID)
	require.NoError(t, err)
	assert.Len(t, detail.Participants, 2)
	_, err = f.chat.Conversation(ctx, "carol", conv.ID)
	assert.True(t, apperr.Is(err, apperr.KindAuthorization))

	assert.True(t, apperr.Is(f.chat.DeleteGroup(ctx, "bob", conv.ID), apperr.KindAuthorization))
	require.NoError(t, f.chat.DeleteGroup(ctx, "alice", conv.ID))
	_, err = f.chat.Conversation(ctx, "alice", conv.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestRecipientFor(t *testing.T) {
	direct := &model.Conversation{Type: model.ConversationOneToOne, PairKey: model.PairKey("zed", "amy")}
	assert.Equal(t, "zed", recipientFor(direct, "amy"))
	assert.Equal(t, "amy", recipientFor(direct, "zed"))
	assert.Empty(t, recipientFor(&model.Conversation{Type: model.ConversationGroup}, "amy"))
}
