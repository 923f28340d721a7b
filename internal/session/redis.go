package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/vital/internal/config"
	"github.com/mohammad-safakhou/vital/internal/pipeline"
)

// RedisStore keeps session windows in Redis lists with a TTL.
type RedisStore struct {
	client   *redis.Client
	ttl      time.Duration
	capacity int
}

// Conn opens and verifies a Redis connection.
func Conn(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.Timeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// NewRedisStore creates a Redis-backed session store. capacity bounds the
// stored window; ttl expires idle sessions.
func NewRedisStore(client *redis.Client, capacity int, ttl time.Duration) *RedisStore {
	if capacity <= 0 {
		capacity = 50
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{client: client, ttl: ttl, capacity: capacity}
}

func sessionKey(sessionID string) string {
	return "vital:session:" + sessionID
}

// Append pushes one message onto the session list, trims it to capacity
// and refreshes the TTL.
func (s *RedisStore) Append(ctx context.Context, sessionID string, msg pipeline.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	key := sessionKey(sessionID)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, payload)
	pipe.LTrim(ctx, key, int64(-s.capacity), -1)
	pipe.Expire(ctx, key, s.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

// Recent returns up to n most recent messages, oldest first.
func (s *RedisStore) Recent(ctx context.Context, sessionID string, n int) ([]pipeline.Message, error) {
	if n <= 0 {
		n = s.capacity
	}
	raw, err := s.client.LRange(ctx, sessionKey(sessionID), int64(-n), -1).Result()
	if err != nil {
		return nil, err
	}
	msgs := make([]pipeline.Message, 0, len(raw))
	for _, item := range raw {
		var msg pipeline.Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

var _ pipeline.SessionStore = (*RedisStore)(nil)
