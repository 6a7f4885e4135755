package limiter

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowLocal(t *testing.T) {
	l := New(Options{MaxInflight: 2})
	ctx := context.Background()

	r1, ok := l.Allow(ctx)
	require.True(t, ok)
	r2, ok := l.Allow(ctx)
	require.True(t, ok)
	_, ok = l.Allow(ctx)
	assert.False(t, ok)
	assert.Equal(t, 2, l.Inflight())

	r1()
	r3, ok := l.Allow(ctx)
	assert.True(t, ok)
	r2()
	r3()
	assert.Zero(t, l.Inflight())
}

func TestAllowGlobal(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	ctx := context.Background()

	a := New(Options{MaxInflight: 5, Redis: rdb, MaxGlobal: 1})
	b := New(Options{MaxInflight: 5, Redis: rdb, MaxGlobal: 1})

	release, ok := a.Allow(ctx)
	require.True(t, ok)
	_, ok = b.Allow(ctx)
	assert.False(t, ok, "second instance exceeds the shared cap")
	assert.Zero(t, b.Inflight())

	release()
	v, err := mr.Get(defaultKey)
	require.NoError(t, err)
	assert.Equal(t, "0", v)

	release, ok = b.Allow(ctx)
	assert.True(t, ok)
	release()
}

func TestAllowFailsOpenWithoutRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	mr.Close()

	l := New(Options{MaxInflight: 1, Redis: rdb, MaxGlobal: 1})
	release, ok := l.Allow(context.Background())
	assert.True(t, ok)
	release()
}
