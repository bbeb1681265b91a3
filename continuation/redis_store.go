package continuation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisCheckpointStore persists each checkpoint in Redis as one
// JSON-encoded string value per namespaced key (Set/Get), grounded on
// ui.RedisSessionManager's key-namespacing (adapted here from per-session
// chat state to a single keyed checkpoint record, and from go-redis/v9 to
// the v8 client already wired into this module).
type RedisCheckpointStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCheckpointStore connects to redisURL and verifies the
// connection with a bounded ping, matching the teacher's fail-fast
// construction style.
func NewRedisCheckpointStore(redisURL string, ttl time.Duration) (*RedisCheckpointStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("continuation: invalid redis URL: %w", err)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("continuation: failed to connect to redis: %w", err)
	}

	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisCheckpointStore{client: client, ttl: ttl}, nil
}

func (s *RedisCheckpointStore) key(sessionID string) string {
	return fmt.Sprintf("l0:checkpoint:%s", sessionID)
}

func (s *RedisCheckpointStore) Save(ctx context.Context, cp Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("continuation: failed to marshal checkpoint: %w", err)
	}
	if err := s.client.Set(ctx, s.key(cp.SessionID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("continuation: failed to save checkpoint: %w", err)
	}
	return nil
}

func (s *RedisCheckpointStore) Load(ctx context.Context, sessionID string) (Checkpoint, bool, error) {
	data, err := s.client.Get(ctx, s.key(sessionID)).Bytes()
	if err == redis.Nil {
		return Checkpoint{}, false, nil
	}
	if err != nil {
		return Checkpoint{}, false, fmt.Errorf("continuation: failed to load checkpoint: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, false, fmt.Errorf("continuation: failed to unmarshal checkpoint: %w", err)
	}
	return cp, true, nil
}

func (s *RedisCheckpointStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("continuation: failed to delete checkpoint: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *RedisCheckpointStore) Close() error {
	return s.client.Close()
}
