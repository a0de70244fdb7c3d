package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/capitalize-ai/messaging-platform/internal/model"
)

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// TTL bounds how long a crashed node keeps its users online.
	TTL time.Duration
}

// RedisRecorder keeps one set of node IDs per user.
type RedisRecorder struct {
	client *redis.Client
	ttl    time.Duration
}

var _ Recorder = (*RedisRecorder)(nil)

// NewRedisRecorder connects to Redis and verifies the connection.
func NewRedisRecorder(cfg RedisConfig) (*RedisRecorder, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisRecorder{client: client, ttl: ttl}, nil
}

func presenceKey(userID string) string {
	return "presence:" + userID + ":nodes"
}

func (r *RedisRecorder) SetOnline(ctx context.Context, userID, nodeID string) error {
	key := presenceKey(userID)
	pipe := r.client.TxPipeline()
	pipe.SAdd(ctx, key, nodeID)
	pipe.Expire(ctx, key, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to mark %s online: %w", userID, err)
	}
	return nil
}

func (r *RedisRecorder) SetOffline(ctx context.Context, userID, nodeID string) error {
	if err := r.client.SRem(ctx, presenceKey(userID), nodeID).Err(); err != nil {
		return fmt.Errorf("failed to mark %s offline: %w", userID, err)
	}
	return nil
}

func (r *RedisRecorder) Status(ctx context.Context, userID string) (model.PresenceStatus, error) {
	n, err := r.client.SCard(ctx, presenceKey(userID)).Result()
	if err == redis.Nil {
		return model.PresenceOffline, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read presence of %s: %w", userID, err)
	}
	if n > 0 {
		return model.PresenceOnline, nil
	}
	return model.PresenceOffline, nil
}

// Ping checks the Redis connection.
func (r *RedisRecorder) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (r *RedisRecorder) Close() error {
	return r.client.Close()
}
