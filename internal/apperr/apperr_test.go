package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf_Wrapped(t *testing.T) {
	err := fmt.Errorf("handler: %w", NotFound("conversation.get", "conversation not found"))

	assert.Equal(t, KindNotFound, KindOf(err))
	assert.True(t, Is(err, KindNotFound))
	assert.False(t, Is(err, KindValidation))
	assert.Equal(t, "conversation not found", Message(err))
}

func TestKindOf_Unclassified(t *testing.T) {
	err := errors.New("boom")

	assert.Equal(t, KindUnknown, KindOf(err))
	assert.Equal(t, "internal error", Message(err))
	assert.False(t, Is(nil, KindUnknown))
}

func TestDependency_UnwrapsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Dependency("ledger.append", cause)

	assert.ErrorIs(t, err, cause)
	assert.False(t, IsRetryable(err))
	assert.Equal(t, "upstream dependency failed", Message(err))
	assert.Equal(t, "ledger.append: connection reset", err.Error())
}

func TestRetryable(t *testing.T) {
	err := Retryable("group.create", "participants partially written", errors.New("timeout"))

	assert.True(t, IsRetryable(err))
	assert.Equal(t, KindDependency, KindOf(err))
	assert.Equal(t, "temporarily unavailable, retry", Message(err))
}
