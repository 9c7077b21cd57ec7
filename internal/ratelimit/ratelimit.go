// Package ratelimit bounds how many messages a single user may send per minute.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Limiter decides whether key may perform one more action.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Unlimited allows everything. Used when the limit is disabled.
type Unlimited struct{}

// Allow always returns true.
func (Unlimited) Allow(context.Context, string) (bool, error) { return true, nil }

const idleEviction = 3 * time.Minute

type memoryEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Memory keeps one token bucket per key in process. The bucket refills at
// perMinute/60 tokens a second and holds perMinute tokens.
type Memory struct {
	mu        sync.Mutex
	keys      map[string]*memoryEntry
	limit     rate.Limit
	burst     int
	lastSweep time.Time
	now       func() time.Time
}

// NewMemory creates an in-process limiter.
func NewMemory(perMinute int) *Memory {
	if perMinute <= 0 {
		perMinute = 1
	}
	return &Memory{
		keys:      make(map[string]*memoryEntry),
		limit:     rate.Limit(float64(perMinute) / 60.0),
		burst:     perMinute,
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

// Allow consumes one token for key.
func (m *Memory) Allow(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if now.Sub(m.lastSweep) > time.Minute {
		for k, e := range m.keys {
			if now.Sub(e.lastSeen) > idleEviction {
				delete(m.keys, k)
			}
		}
		m.lastSweep = now
	}

	entry, ok := m.keys[key]
	if !ok {
		entry = &memoryEntry{limiter: rate.NewLimiter(m.limit, m.burst)}
		m.keys[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1), nil
}

// Len returns the number of tracked keys.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.keys)
}

// Redis is a fixed one-minute window shared by every server instance.
// Redis failures fail open so a cache outage never blocks messaging.
type Redis struct {
	client    *redis.Client
	perMinute int64
	window    time.Duration
	log       *zerolog.Logger
}

// NewRedis creates a limiter backed by the given client.
func NewRedis(client *redis.Client, perMinute int, logger *zerolog.Logger) *Redis {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if perMinute <= 0 {
		perMinute = 1
	}
	return &Redis{client: client, perMinute: int64(perMinute), window: time.Minute, log: logger}
}

// Allow increments the key's counter for the current window.
func (r *Redis) Allow(ctx context.Context, key string) (bool, error) {
	k := fmt.Sprintf("rate_limit:messages:%s", key)

	count, err := r.client.Incr(ctx, k).Result()
	if err != nil {
		r.log.Warn().Err(err).Str("key", key).Msg("rate limit check failed, allowing")
		return true, nil
	}
	if count == 1 {
		if err := r.client.Expire(ctx, k, r.window).Err(); err != nil {
			r.log.Warn().Err(err).Str("key", key).Msg("rate limit expire failed")
		}
	}
	return count <= r.perMinute, nil
}

// Close releases the redis connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}

// Options selects a limiter implementation.
type Options struct {
	MessagesPerMinute int
	RedisAddr         string
	RedisPassword     string
}

// New returns the limiter described by opts and a close function. A redis
// address that cannot be reached at startup falls back to the in-process limiter.
func New(ctx context.Context, opts Options, logger *zerolog.Logger) (Limiter, func() error) {
	noop := func() error { return nil }
	if opts.MessagesPerMinute <= 0 {
		return Unlimited{}, noop
	}
	if opts.RedisAddr == "" {
		return NewMemory(opts.MessagesPerMinute), noop
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.RedisAddr,
		Password: opts.RedisPassword,
		DB:       0,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		if logger != nil {
			logger.Warn().Err(err).Str("addr", opts.RedisAddr).Msg("redis unavailable, using in-process rate limiter")
		}
		_ = client.Close()
		return NewMemory(opts.MessagesPerMinute), noop
	}

	rl := NewRedis(client, opts.MessagesPerMinute, logger)
	return rl, rl.Close
}
