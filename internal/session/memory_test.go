package session

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
)

func TestInMemory_RoundTrip(t *testing.T) {
	m := NewInMemory()
	ctx := context.Background()

	in, err := m.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !in.Empty() {
		t.Fatalf("expected empty intent, got %+v", in)
	}

	want := Intent{RoomID: "room42", Nickname: "alice"}
	if err := m.Save(ctx, want); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	got, _ := m.Load(ctx)
	if got != want {
		t.Errorf("expected %+v, got %+v", want, got)
	}

	if err := m.Clear(ctx); err != nil {
		t.Fatalf("Clear() error: %v", err)
	}
	got, _ = m.Load(ctx)
	if !got.Empty() {
		t.Errorf("expected empty intent after Clear, got %+v", got)
	}
}

// newTestRedisMemory connects to a local Redis and skips when none is
// running.
func newTestRedisMemory(t *testing.T, profile string) *RedisMemory {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skipf("redis not available: %v", err)
	}
	m := NewRedisMemoryFromClient(client, profile)
	_ = m.Clear(ctx)
	t.Cleanup(func() {
		_ = m.Clear(context.Background())
		client.Close()
	})
	return m
}

func TestRedisMemory_RoundTrip(t *testing.T) {
	m := newTestRedisMemory(t, "test_roundtrip")
	ctx := context.Background()

	got, err := m.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !got.Empty() {
		t.Fatalf("expected empty intent, got %+v", got)
	}

	want := Intent{RoomID: "room42", Nickname: "alice"}
	if err := m.Save(ctx, want); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	got, err = m.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got != want {
		t.Errorf("expected %+v, got %+v", want, got)
	}

	ttl, err := m.client.TTL(ctx, m.key).Result()
	if err != nil {
		t.Fatalf("TTL() error: %v", err)
	}
	if ttl <= 0 || ttl > IntentTTL {
		t.Errorf("expected ttl in (0,%s], got %s", IntentTTL, ttl)
	}
}

func TestRedisMemory_ProfilesAreIsolated(t *testing.T) {
	a := newTestRedisMemory(t, "test_profile_a")
	b := newTestRedisMemory(t, "test_profile_b")
	ctx := context.Background()

	if err := a.Save(ctx, Intent{RoomID: "ra", Nickname: "alice"}); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	got, err := b.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !got.Empty() {
		t.Errorf("profile b must not see profile a's intent, got %+v", got)
	}
}
