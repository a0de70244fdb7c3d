package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/messaging-platform/internal/apperr"
	"github.com/capitalize-ai/messaging-platform/internal/model"
)

func appendTexts(t *testing.T, f *fixture, conversationID string, n int) []*model.Message {
	t.Helper()
	out := make([]*model.Message, n)
	for i := 0; i < n; i++ {
		msg, err := f.messages.Append(context.Background(), NewMessage{
			ConversationID: conversationID,
			SenderID:       "alice",
			Body:           model.TextBody{Text: fmt.Sprintf("m%02d", i)},
		})
		require.NoError(t, err)
		out[i] = msg
	}
	return out
}

func TestAppendAssignsIncreasingIDs(t *testing.T) {
	f := newFixture(t)
	conv, err := f.convs.CreateGroup(context.Background(), "alice", "", "")
	require.NoError(t, err)

	msgs := appendTexts(t, f, conv.ID, 50)
	for i := 1; i < len(msgs); i++ {
		assert.Less(t, msgs[i-1].ID, msgs[i].ID)
		assert.True(t, msgs[i].CreatedAt.After(msgs[i-1].CreatedAt))
	}
	assert.Equal(t, model.StatusSent, msgs[0].Status)
	assert.Equal(t, model.MessageText, msgs[0].Type)
}

func TestAppendValidatesBody(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv, err := f.convs.CreateGroup(ctx, "alice", "", "")
	require.NoError(t, err)

	_, err = f.messages.Append(ctx, NewMessage{ConversationID: conv.ID, SenderID: "alice", Body: model.TextBody{Text: "   "}})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = f.messages.Append(ctx, NewMessage{ConversationID: conv.ID, SenderID: "alice", Body: model.MediaBody{Caption: "no files"}})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = f.messages.Append(ctx, NewMessage{ConversationID: "missing", SenderID: "alice", Body: model.TextBody{Text: "hi"}})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	msg, err := f.messages.Append(ctx, NewMessage{
		ConversationID: conv.ID,
		SenderID:       "alice",
		Body: model.MediaBody{
			Attachments: []model.AttachmentRef{{ID: "a1", Type: model.AttachmentImage, URL: "https://cdn/a1"}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, model.MessageMedia, msg.Type)
	assert.Equal(t, "[attachment]", msg.Preview())
}

func TestPageWalksBackwardsWithoutGapsOrDuplicates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv, err := f.convs.CreateGroup(ctx, "alice", "", "")
	require.NoError(t, err)
	msgs := appendTexts(t, f, conv.ID, 25)

	var got []string
	var sizes []int
	cursor := ""
	for {
		page, err := f.messages.Page(ctx, conv.ID, 10, cursor)
		require.NoError(t, err)
		sizes = append(sizes, len(page.Messages))
		for _, m := range page.Messages {
			got = append(got, m.ID)
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	assert.Equal(t, []int{10, 10, 5}, sizes)
	require.Len(t, got, 25)
	for i, id := range got {
		assert.Equal(t, msgs[24-i].ID, id)
	}
}

func TestPageExactMultipleEndsWithoutEmptyPage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv, err := f.convs.CreateGroup(ctx, "alice", "", "")
	require.NoError(t, err)
	appendTexts(t, f, conv.ID, 20)

	first, err := f.messages.Page(ctx, conv.ID, 10, "")
	require.NoError(t, err)
	require.NotEmpty(t, first.NextCursor)

	second, err := f.messages.Page(ctx, conv.ID, 10, first.NextCursor)
	require.NoError(t, err)
	assert.Len(t, second.Messages, 10)
	assert.Empty(t, second.NextCursor)
}

func TestPageClampsSizeAndRejectsBadCursor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv, err := f.convs.CreateGroup(ctx, "alice", "", "")
	require.NoError(t, err)
	appendTexts(t, f, conv.ID, 30)

	page, err := f.messages.Page(ctx, conv.ID, 0, "")
	require.NoError(t, err)
	assert.Len(t, page.Messages, defaultPageSize)

	page, err = f.messages.Page(ctx, conv.ID, 1000, "")
	require.NoError(t, err)
	assert.Len(t, page.Messages, 30)

	_, err = f.messages.Page(ctx, conv.ID, 10, "not-a-cursor!")
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	empty, err := f.messages.Page(ctx, "nothing-here", 10, "")
	require.NoError(t, err)
	assert.NotNil(t, empty.Messages)
	assert.Empty(t, empty.Messages)
}

func TestSetStatusIsPermissiveUntilRecalled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv, err := f.convs.CreateGroup(ctx, "alice", "", "")
	require.NoError(t, err)
	msg := appendTexts(t, f, conv.ID, 1)[0]

	for _, status := range []model.MessageStatus{model.StatusSeen, model.StatusSent, model.StatusPinned, model.StatusSeen} {
		got, err := f.messages.SetStatus(ctx, conv.ID, msg.ID, status)
		require.NoError(t, err)
		assert.Equal(t, status, got.Status)
	}

	_, err = f.messages.SetStatus(ctx, conv.ID, msg.ID, model.StatusRecalled)
	require.NoError(t, err)
	_, err = f.messages.SetStatus(ctx, conv.ID, msg.ID, model.StatusSent)
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	_, err = f.messages.SetStatus(ctx, conv.ID, msg.ID, "DELIVERED")
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = f.messages.SetStatus(ctx, conv.ID, "missing", model.StatusSeen)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestGetByID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv, err := f.convs.CreateGroup(ctx, "alice", "", "")
	require.NoError(t, err)
	msg := appendTexts(t, f, conv.ID, 1)[0]

	got, err := f.messages.GetByID(ctx, conv.ID, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "m00", got.Content)

	_, err = f.messages.GetByID(ctx, "other", msg.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}
