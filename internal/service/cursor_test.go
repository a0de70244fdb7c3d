package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDCursorIsOpaqueAndURLSafe(t *testing.T) {
	id := "2024-05-01T10:00:00.000000001Z_018f3a52-0000-7000-8000-000000000000"
	c := encodeIDCursor(id)
	assert.NotContains(t, c, id)
	assert.NotContains(t, c, "+")
	assert.NotContains(t, c, "/")
	assert.NotContains(t, c, "=")

	got, err := decodeIDCursor("test", c)
	require.NoError(t, err)
	assert.Equal(t, id, got)

	got, err = decodeIDCursor("test", "")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = decodeIDCursor("test", encodeCursor(map[string]string{"x": "y"}))
	assert.Error(t, err)
}

func TestInboxCursorKeepsNanoseconds(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, 123456789, time.UTC)
	var got inboxCursor
	require.NoError(t, decodeCursor("test", encodeCursor(inboxCursor{LastMessageAt: at, ConversationID: "c1"}), &got))
	assert.True(t, got.LastMessageAt.Equal(at))
	assert.Equal(t, "c1", got.ConversationID)
}

func TestClampPageSize(t *testing.T) {
	assert.Equal(t, defaultPageSize, clampPageSize(0))
	assert.Equal(t, defaultPageSize, clampPageSize(-3))
	assert.Equal(t, 1, clampPageSize(1))
	assert.Equal(t, maxPageSize, clampPageSize(maxPageSize+1))
}
