// Package identity resolves users for the chat core.
package identity

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/capitalize-ai/messaging-platform/internal/apperr"
	"github.com/capitalize-ai/messaging-platform/internal/model"
	"github.com/capitalize-ai/messaging-platform/internal/store"
	"github.com/capitalize-ai/messaging-platform/pkg/logger"
)

// Directory looks users up by ID.
type Directory interface {
	Get(ctx context.Context, id string) (*model.User, error)
	BatchGet(ctx context.Context, ids []string) ([]model.User, error)
}

// RetryConfig bounds read retries.
type RetryConfig struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryConfig returns the retry policy used in production.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     time.Second,
	}
}

// StoreDirectory serves lookups from a UserStore.
type StoreDirectory struct {
	users  store.UserStore
	retry  RetryConfig
	logger *logger.Logger
}

var _ Directory = (*StoreDirectory)(nil)

// NewStoreDirectory creates a directory backed by users.
func NewStoreDirectory(users store.UserStore, retry RetryConfig, log *logger.Logger) *StoreDirectory {
	return &StoreDirectory{users: users, retry: retry, logger: log}
}

// Get returns the user or a NotFound error.
func (d *StoreDirectory) Get(ctx context.Context, id string) (*model.User, error) {
	const op = "identity.Get"
	if id == "" {
		return nil, apperr.Validation(op, "user id is required")
	}

	var user *model.User
	err := d.withRetry(ctx, op, func() error {
		u, err := d.users.GetUser(ctx, id)
		if err != nil {
			return err
		}
		user = u
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound(op, "user not found")
	}
	if err != nil {
		return nil, apperr.Dependency(op, err)
	}
	return user, nil
}

// BatchGet returns the users that exist among ids.
func (d *StoreDirectory) BatchGet(ctx context.Context, ids []string) ([]model.User, error) {
	const op = "identity.BatchGet"
	if len(ids) == 0 {
		return nil, nil
	}

	var users []model.User
	err := d.withRetry(ctx, op, func() error {
		u, err := d.users.GetUsers(ctx, ids)
		if err != nil {
			return err
		}
		users = u
		return nil
	})
	if err != nil {
		return nil, apperr.Dependency(op, err)
	}
	return users, nil
}

// withRetry retries fn with exponential backoff. A missing user is an
// answer, not a failure, so it is never retried.
func (d *StoreDirectory) withRetry(ctx context.Context, op string, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.retry.InitialInterval
	b.MaxInterval = d.retry.MaxInterval
	b.MaxElapsedTime = 0

	attempt := 0
	return backoff.RetryNotify(
		func() error {
			attempt++
			err := fn()
			if errors.Is(err, store.ErrNotFound) || errors.Is(err, context.Canceled) {
				return backoff.Permanent(err)
			}
			return err
		},
		backoff.WithContext(backoff.WithMaxRetries(b, d.retry.MaxRetries), ctx),
		func(err error, wait time.Duration) {
			d.logger.Warn("identity lookup failed, retrying",
				zap.String("op", op),
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
				zap.Error(err),
			)
		},
	)
}
