package storage

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrCircuitOpen is returned by Breaker.Put while the sink is cooling down.
var ErrCircuitOpen = errors.New("result storage circuit open")

// Breaker stops writing to a failing sink for an exponentially growing
// cooldown, so an outage does not add a timeout to every request. Reads pass
// through untouched.
type Breaker struct {
	Sink
	baseBackoff time.Duration
	maxBackoff  time.Duration
	now         func() time.Time

	mu       sync.Mutex
	failures int
	retryAt  time.Time
}

func NewBreaker(inner Sink, baseBackoff, maxBackoff time.Duration) *Breaker {
	if baseBackoff <= 0 {
		baseBackoff = 30 * time.Second
	}
	if maxBackoff < baseBackoff {
		maxBackoff = baseBackoff
	}
	return &Breaker{Sink: inner, baseBackoff: baseBackoff, maxBackoff: maxBackoff, now: time.Now}
}

func (b *Breaker) Put(ctx context.Context, key string, r io.Reader) (string, error) {
	if b.isOpen() {
		return "", ErrCircuitOpen
	}
	loc, err := b.Sink.Put(ctx, key, r)
	switch {
	case err == nil:
		b.close()
	case !errors.Is(err, context.Canceled):
		b.open()
	}
	return loc, err
}

// isOpen is false once the cooldown has passed, letting one trial call through.
func (b *Breaker) isOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures > 0 && b.now().Before(b.retryAt)
}

func (b *Breaker) open() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	backoff := b.baseBackoff
	for i := 1; i < b.failures; i++ {
		backoff *= 2
		if backoff > b.maxBackoff {
			backoff = b.maxBackoff
			break
		}
	}
	b.retryAt = b.now().Add(backoff)
	log.Warn().
		Dur("cooldown", backoff).
		Int("failures", b.failures).
		Time("retry_at", b.retryAt).
		Msg("result storage circuit OPENED")
}

func (b *Breaker) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures == 0 {
		return
	}
	b.failures = 0
	log.Info().Msg("result storage circuit CLOSED")
}
