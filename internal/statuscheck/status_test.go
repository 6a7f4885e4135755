package statuscheck

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSummaryDisabledDependenciesAreReady(t *testing.T) {
	c := New(Options{})
	s := c.Summary(context.Background())
	assert.True(t, s.Redis.OK)
	assert.Equal(t, "Disabled", s.Redis.Message)
	assert.True(t, s.Results.OK)
	assert.True(t, s.Renderer.OK, s.Renderer.Message)
	assert.True(t, s.Ready())
}

func TestSummaryReportsFailures(t *testing.T) {
	c := New(Options{
		Redis:   PingFunc(func(context.Context) error { return errors.New(strings.Repeat("x", 200)) }),
		Results: PingFunc(func(context.Context) error { return nil }),
		Render:  func() error { return errors.New("no fitz") },
	})
	s := c.Summary(context.Background())
	assert.False(t, s.Redis.OK)
	assert.Len(t, s.Redis.Message, 120)
	assert.True(t, s.Results.OK)
	assert.False(t, s.Renderer.OK)
	assert.Equal(t, "no fitz", s.Renderer.Message)
	assert.False(t, s.Ready())
}

func TestPingTimeout(t *testing.T) {
	c := New(Options{
		Redis: PingFunc(func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}),
		Render: func() error { return nil },
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := c.Summary(ctx)
	assert.False(t, s.Redis.OK)
}
