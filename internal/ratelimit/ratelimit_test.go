package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimitsPerKey(t *testing.T) {
	m := NewMemory(2)
	now := time.Now()
	m.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := m.Allow(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, _ := m.Allow(ctx, "alice")
	assert.False(t, ok, "third send within the minute is limited")

	ok, _ = m.Allow(ctx, "bob")
	assert.True(t, ok, "keys are independent")

	now = now.Add(31 * time.Second)
	ok, _ = m.Allow(ctx, "alice")
	assert.True(t, ok, "a token refills about every 30s at 2/min")
}

func TestMemoryEvictsIdleKeys(t *testing.T) {
	m := NewMemory(10)
	now := time.Now()
	m.now = func() time.Time { return now }
	ctx := context.Background()

	_, _ = m.Allow(ctx, "alice")
	_, _ = m.Allow(ctx, "bob")
	assert.Equal(t, 2, m.Len())

	now = now.Add(5 * time.Minute)
	_, _ = m.Allow(ctx, "carol")
	assert.Equal(t, 1, m.Len())
}

func TestRedisFailsOpen(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	rl := NewRedis(client, 1, nil)
	t.Cleanup(func() { _ = rl.Close() })

	ok, err := rl.Allow(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNewSelectsImplementation(t *testing.T) {
	ctx := context.Background()

	l, closeFn := New(ctx, Options{}, nil)
	assert.IsType(t, Unlimited{}, l)
	require.NoError(t, closeFn())

	l, closeFn = New(ctx, Options{MessagesPerMinute: 5}, nil)
	assert.IsType(t, &Memory{}, l)
	require.NoError(t, closeFn())
}
