package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("FOOTER_HEIGHT_PX", "")
	t.Setenv("HEADER_HEIGHT_PX", "")
	t.Setenv("PROCESS_MODE", "")
	t.Setenv("REDIS_URL", "")

	cfg := FromEnv()
	assert.Equal(t, 10, cfg.Processing.FooterHeight)
	assert.Equal(t, 0, cfg.Processing.HeaderHeight)
	assert.Equal(t, 200, cfg.Processing.MaxBand)
	assert.Equal(t, "sequential", cfg.Processing.Mode)
	assert.Equal(t, "A4", cfg.Processing.CoverCanvas)
	assert.Equal(t, 150, cfg.Processing.RasterDPI)
	assert.Equal(t, time.Hour, cfg.Upload.TTL)
	assert.Empty(t, cfg.Redis.URL)
	assert.Equal(t, "dev_pdfcover", cfg.Axiom.Dataset)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("FOOTER_HEIGHT_PX", "24")
	t.Setenv("HEADER_HEIGHT_PX", "12")
	t.Setenv("PROCESS_MODE", "Concurrent")
	t.Setenv("PROCESS_CONCURRENCY", "0")
	t.Setenv("UPLOAD_TTL", "90m")
	t.Setenv("MAX_UPLOAD_MB", "not-a-number")

	cfg := FromEnv()
	assert.Equal(t, 24, cfg.Processing.FooterHeight)
	assert.Equal(t, 12, cfg.Processing.HeaderHeight)
	assert.Equal(t, "concurrent", cfg.Processing.Mode)
	assert.Equal(t, 1, cfg.Processing.Concurrency)
	assert.Equal(t, 90*time.Minute, cfg.Upload.TTL)
	assert.Equal(t, 100, cfg.HTTP.MaxUploadMB)
}

func TestParseBool(t *testing.T) {
	for _, v := range []string{"1", "true", "YES", " on "} {
		assert.True(t, parseBool(v), v)
	}
	for _, v := range []string{"", "0", "false", "nope"} {
		assert.False(t, parseBool(v), v)
	}
}
