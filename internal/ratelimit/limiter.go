// Package ratelimit throttles relay requests per connection or per address.
// Redis gives a window shared by every relay instance; Local keeps token
// buckets in process for a single relay.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Rule defines a rate limiting policy: the key prefix, maximum number of
// requests allowed in the window, and the window duration.
type Rule struct {
	Key    string        // key prefix (e.g., "rl:msg:", "rl:room:", "rl:conn:")
	Limit  int           // max count in the window
	Window time.Duration // time window
}

var (
	// RuleMessage allows 5 chat messages per 10 seconds per connection.
	RuleMessage = Rule{Key: "rl:msg:", Limit: 5, Window: 10 * time.Second}

	// RuleRoom allows 10 create or join requests per minute per connection.
	RuleRoom = Rule{Key: "rl:room:", Limit: 10, Window: 1 * time.Minute}

	// RuleConnect allows 20 websocket upgrades per minute per IP.
	RuleConnect = Rule{Key: "rl:conn:", Limit: 20, Window: 1 * time.Minute}
)

// Checker decides whether identifier may perform one more request under rule.
type Checker interface {
	Allow(ctx context.Context, identifier string, rule Rule) (bool, error)
}

// Redis performs rate limiting checks against Redis using INCR + EXPIRE.
type Redis struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedis creates a limiter backed by the given Redis client.
func NewRedis(client *redis.Client, logger *zap.Logger) *Redis {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{client: client, logger: logger}
}

// Allow increments the identifier's counter and sets the expiry on first
// access. On Redis errors it fails open (returns true) so that an outage does
// not block legitimate traffic.
func (l *Redis) Allow(ctx context.Context, identifier string, rule Rule) (bool, error) {
	key := rule.Key + identifier

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		l.logger.Warn("rate limit incr failed, failing open", zap.String("key", key), zap.Error(err))
		return true, err
	}

	if count == 1 {
		if err := l.client.Expire(ctx, key, rule.Window).Err(); err != nil {
			l.logger.Warn("rate limit expire failed, failing open", zap.String("key", key), zap.Error(err))
			// Without a TTL the key would block the identifier forever.
			l.client.Del(ctx, key)
			return true, err
		}
	}

	return int(count) <= rule.Limit, nil
}

// Remaining returns how many requests identifier has left in the current
// window. A missing key or a Redis error yields the full limit.
func (l *Redis) Remaining(ctx context.Context, identifier string, rule Rule) (int, error) {
	key := rule.Key + identifier

	count, err := l.client.Get(ctx, key).Int()
	if err == redis.Nil {
		return rule.Limit, nil
	}
	if err != nil {
		return rule.Limit, err
	}

	remaining := rule.Limit - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Local keeps one token bucket per identifier and rule. Each bucket holds
// rule.Limit tokens and refills one every Window/Limit.
type Local struct {
	mu      sync.Mutex
	buckets map[string]map[string]*rate.Limiter // identifier -> rule key -> bucket
}

// NewLocal creates an empty in-process limiter.
func NewLocal() *Local {
	return &Local{buckets: make(map[string]map[string]*rate.Limiter)}
}

// Allow takes one token from identifier's bucket for rule. It never errors.
func (l *Local) Allow(_ context.Context, identifier string, rule Rule) (bool, error) {
	if rule.Limit <= 0 {
		return false, nil
	}

	l.mu.Lock()
	byRule, ok := l.buckets[identifier]
	if !ok {
		byRule = make(map[string]*rate.Limiter)
		l.buckets[identifier] = byRule
	}
	lim, ok := byRule[rule.Key]
	if !ok {
		every := rule.Window / time.Duration(rule.Limit)
		lim = rate.NewLimiter(rate.Every(every), rule.Limit)
		byRule[rule.Key] = lim
	}
	l.mu.Unlock()

	return lim.Allow(), nil
}

// Forget drops every bucket of identifier.
func (l *Local) Forget(identifier string) {
	l.mu.Lock()
	delete(l.buckets, identifier)
	l.mu.Unlock()
}

// Len returns the number of tracked identifiers.
func (l *Local) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
