package batch

import (
	"github.com/local/pdfcover/internal/cover"
	"github.com/local/pdfcover/internal/metrics"
)

// coverCache holds the materialized cover of one batch call and lives no
// longer than that call. It is filled once before any document is processed
// and only read afterwards, so concurrent workers share it without locking.
// release must run on every exit path of the call.
type coverCache struct {
	spec *cover.Spec
}

func (c *coverCache) load(m *cover.Materializer, src cover.Source) error {
	spec, err := m.Materialize(src)
	if err != nil {
		return err
	}
	c.spec = spec
	return nil
}

// cover returns the cached cover for one document.
func (c *coverCache) cover() *cover.Spec {
	if c.spec != nil {
		metrics.IncCoverCacheHit()
	}
	return c.spec
}

func (c *coverCache) release() {
	c.spec = nil
}
