// Package limiter admits a bounded number of concurrent batches, per process
// and optionally across every instance sharing a Redis.
package limiter

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const defaultKey = "pdfcover:inflight"

type Limiter struct {
	rdb       *redis.Client
	key       string
	maxGlobal int64
	ttl       time.Duration
	sem       chan struct{}
}

type Options struct {
	MaxInflight int
	// Redis enables a cluster-wide cap of MaxGlobal batches.
	Redis     *redis.Client
	MaxGlobal int
	// TTL bounds how long a crashed instance can hold global slots.
	TTL time.Duration
	Key string
}

func New(opts Options) *Limiter {
	if opts.MaxInflight <= 0 {
		opts.MaxInflight = 2
	}
	if opts.TTL <= 0 {
		opts.TTL = 10 * time.Minute
	}
	if opts.Key == "" {
		opts.Key = defaultKey
	}
	return &Limiter{
		rdb:       opts.Redis,
		key:       opts.Key,
		maxGlobal: int64(opts.MaxGlobal),
		ttl:       opts.TTL,
		sem:       make(chan struct{}, opts.MaxInflight),
	}
}

// Allow tries to reserve a slot. Returns a release function and true if
// allowed; otherwise a no-op and false. Redis errors fail open.
func (l *Limiter) Allow(ctx context.Context) (func(), bool) {
	select {
	case l.sem <- struct{}{}:
	default:
		return func() {}, false
	}
	local := func() { <-l.sem }
	if l.rdb == nil || l.maxGlobal <= 0 {
		return local, true
	}

	n, err := l.rdb.Incr(ctx, l.key).Result()
	if err != nil {
		log.Warn().Err(err).Msg("global limiter unavailable, admitting locally")
		return local, true
	}
	_ = l.rdb.Expire(ctx, l.key, l.ttl).Err()
	if n > l.maxGlobal {
		_ = l.rdb.Decr(ctx, l.key).Err()
		local()
		return func() {}, false
	}
	return func() {
		// release on a fresh context: the request context may be gone by now
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = l.rdb.Decr(rctx, l.key).Err()
		local()
	}, true
}

// Inflight is the number of locally held slots.
func (l *Limiter) Inflight() int { return len(l.sem) }
