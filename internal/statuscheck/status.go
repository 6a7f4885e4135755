// Package statuscheck reports readiness of the service's dependencies.
package statuscheck

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"time"

	"github.com/local/pdfcover/internal/pdfdoc"
	"github.com/local/pdfcover/internal/preview"
)

// Pinger is anything with a cheap liveness check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Checker aggregates health checks for the readiness endpoint.
type Checker struct {
	redis   Pinger
	results Pinger
	render  func() error
}

// Options configures the Checker. Nil dependencies are reported as disabled,
// which does not fail readiness.
type Options struct {
	Redis   Pinger
	Results Pinger
	// Render overrides the renderer check; tests use it.
	Render func() error
}

// Status represents the readiness of a subsystem.
type Status struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// Summary bundles all subsystem statuses.
type Summary struct {
	Redis    Status `json:"redis"`
	Results  Status `json:"results"`
	Renderer Status `json:"renderer"`
}

// Ready is true when every subsystem is usable.
func (s Summary) Ready() bool { return s.Redis.OK && s.Results.OK && s.Renderer.OK }

func New(opts Options) *Checker {
	render := opts.Render
	if render == nil {
		render = renderCheck
	}
	return &Checker{redis: opts.Redis, results: opts.Results, render: render}
}

// Summary returns the current status snapshot.
func (c *Checker) Summary(ctx context.Context) Summary {
	return Summary{
		Redis:    ping(ctx, c.redis, 2*time.Second),
		Results:  ping(ctx, c.results, 5*time.Second),
		Renderer: c.checkRenderer(),
	}
}

func ping(ctx context.Context, p Pinger, timeout time.Duration) Status {
	if p == nil {
		return Status{OK: true, Message: "Disabled"}
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := p.Ping(ctx); err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	return Status{OK: true, Message: "Connected"}
}

func (c *Checker) checkRenderer() Status {
	if err := c.render(); err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	return Status{OK: true, Message: "Available"}
}

var (
	checkOnce sync.Once
	checkPDF  []byte
	checkErr  error
)

// renderCheck builds a one-page document once and rasterizes it on every call.
func renderCheck() error {
	checkOnce.Do(func() {
		img := image.NewRGBA(image.Rect(0, 0, 4, 4))
		for i := range img.Pix {
			img.Pix[i] = 0xff
		}
		img.Set(1, 1, color.Black)
		var buf bytes.Buffer
		if checkErr = png.Encode(&buf, img); checkErr != nil {
			return
		}
		checkPDF, checkErr = pdfdoc.ImagePage(buf.Bytes(), pdfdoc.Dim{Width: 72, Height: 72})
	})
	if checkErr != nil {
		return checkErr
	}
	_, err := preview.RenderPage(checkPDF, preview.Options{DPI: 36})
	return err
}

func trimError(err error) string {
	if err == nil {
		return ""
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	msg := err.Error()
	if len(msg) > 120 {
		return msg[:120]
	}
	return msg
}
