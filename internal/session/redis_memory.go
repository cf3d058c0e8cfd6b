package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// IntentPrefix is the Redis key prefix for remembered intents.
	IntentPrefix = "roomchat:intent:"

	// IntentTTL is the time-to-live for a remembered intent. A client that has
	// been gone longer than this starts on the join screen.
	IntentTTL = 24 * time.Hour
)

// intentHash is the Redis hash layout of a remembered intent.
type intentHash struct {
	RoomID   string `redis:"room_id"`
	Nickname string `redis:"nickname"`
	SavedAt  int64  `redis:"saved_at"` // unix timestamp
}

// RedisMemory stores the remembered intent in a Redis hash keyed by profile,
// so several clients on one machine can keep separate intents.
type RedisMemory struct {
	client *redis.Client
	key    string
}

// NewRedisMemory connects to Redis and verifies the connection.
func NewRedisMemory(redisAddr, profile string) (*RedisMemory, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("session: redis connection failed: %w", err)
	}

	return NewRedisMemoryFromClient(client, profile), nil
}

// NewRedisMemoryFromClient wraps an existing client.
func NewRedisMemoryFromClient(client *redis.Client, profile string) *RedisMemory {
	if profile == "" {
		profile = "default"
	}
	return &RedisMemory{client: client, key: IntentPrefix + profile}
}

// Load retrieves the intent. A missing key yields the zero Intent.
func (m *RedisMemory) Load(ctx context.Context) (Intent, error) {
	var h intentHash
	if err := m.client.HGetAll(ctx, m.key).Scan(&h); err != nil {
		return Intent{}, fmt.Errorf("session: load intent: %w", err)
	}
	return Intent{RoomID: h.RoomID, Nickname: h.Nickname}, nil
}

// Save stores the intent and refreshes its TTL.
func (m *RedisMemory) Save(ctx context.Context, in Intent) error {
	pipe := m.client.Pipeline()
	pipe.HSet(ctx, m.key, map[string]interface{}{
		"room_id":  in.RoomID,
		"nickname": in.Nickname,
		"saved_at": time.Now().Unix(),
	})
	pipe.Expire(ctx, m.key, IntentTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("session: save intent: %w", err)
	}
	return nil
}

// Clear removes the intent.
func (m *RedisMemory) Clear(ctx context.Context) error {
	if err := m.client.Del(ctx, m.key).Err(); err != nil {
		return fmt.Errorf("session: clear intent: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (m *RedisMemory) Close() error {
	return m.client.Close()
}
