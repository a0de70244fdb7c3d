package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/messaging-platform/internal/apperr"
	"github.com/capitalize-ai/messaging-platform/internal/model"
	"github.com/capitalize-ai/messaging-platform/internal/store"
	"github.com/capitalize-ai/messaging-platform/internal/store/memstore"
	"github.com/capitalize-ai/messaging-platform/pkg/logger"
)

// flakyUsers fails the first n calls before delegating.
type flakyUsers struct {
	store.UserStore
	failures int
	calls    int
}

func (f *flakyUsers) GetUser(ctx context.Context, id string) (*model.User, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("connection reset")
	}
	return f.UserStore.GetUser(ctx, id)
}

func (f *flakyUsers) GetUsers(ctx context.Context, ids []string) ([]model.User, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("connection reset")
	}
	return f.UserStore.GetUsers(ctx, ids)
}

func fastRetry(n uint64) RetryConfig {
	return RetryConfig{MaxRetries: n, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
}

func newUsers(t *testing.T) store.UserStore {
	t.Helper()
	users := memstore.New().Users()
	require.NoError(t, users.PutUser(context.Background(), &model.User{ID: "alice", Username: "alice"}))
	require.NoError(t, users.PutUser(context.Background(), &model.User{ID: "bob", Username: "bob"}))
	return users
}

func TestGetRetriesTransientFailures(t *testing.T) {
	users := &flakyUsers{UserStore: newUsers(t), failures: 2}
	dir := NewStoreDirectory(users, fastRetry(3), logger.Nop())

	u, err := dir.Get(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
	assert.Equal(t, 3, users.calls)
}

func TestGetGivesUpAfterMaxRetries(t *testing.T) {
	users := &flakyUsers{UserStore: newUsers(t), failures: 10}
	dir := NewStoreDirectory(users, fastRetry(2), logger.Nop())

	_, err := dir.Get(context.Background(), "alice")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindDependency))
	assert.Equal(t, 3, users.calls)
}

func TestGetMissingUserIsNotRetried(t *testing.T) {
	users := &flakyUsers{UserStore: newUsers(t)}
	dir := NewStoreDirectory(users, fastRetry(3), logger.Nop())

	_, err := dir.Get(context.Background(), "mallory")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
	assert.Equal(t, 1, users.calls)

	_, err = dir.Get(context.Background(), "")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestBatchGet(t *testing.T) {
	users := &flakyUsers{UserStore: newUsers(t), failures: 1}
	dir := NewStoreDirectory(users, fastRetry(3), logger.Nop())

	got, err := dir.BatchGet(context.Background(), []string{"alice", "bob", "mallory"})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = dir.BatchGet(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}
