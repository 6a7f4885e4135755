package upload

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trackers(t *testing.T) map[string]Tracker {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return map[string]Tracker{
		"memory": NewMemoryTracker(),
		"redis":  NewRedisTracker(rdb, time.Hour),
	}
}

func TestChunkedUploadMergesOnce(t *testing.T) {
	for name, tr := range trackers(t) {
		t.Run(name, func(t *testing.T) {
			s, err := NewStore(t.TempDir(), tr)
			require.NoError(t, err)
			ctx := context.Background()
			parts := []string{"alpha-", "beta-", "gamma"}

			send := func(i int) *ChunkStatus {
				st, err := s.SaveChunk(ctx, Chunk{
					FileID: "f1", Index: i, Total: len(parts), Field: "filesZip",
					OriginalName: "docs.zip", Data: strings.NewReader(parts[i]),
				})
				require.NoError(t, err)
				return st
			}

			assert.False(t, send(2).AllChunksUploaded)
			assert.False(t, send(0).AllChunksUploaded)
			st := send(1)
			assert.True(t, st.AllChunksUploaded)
			assert.Equal(t, 3, st.Received)

			data, meta, err := s.Read(ctx, "f1", "filesZip")
			require.NoError(t, err)
			assert.Equal(t, "alpha-beta-gamma", string(data))
			assert.Equal(t, "docs.zip", meta.OriginalName)
			assert.EqualValues(t, len(data), meta.Size)

			chunks, _ := filepath.Glob(filepath.Join(s.Dir(), "chunks", "f1-chunk-*"))
			assert.Empty(t, chunks)
		})
	}
}

func TestDuplicateLastChunkDoesNotRemerge(t *testing.T) {
	for name, tr := range trackers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			received, complete, err := tr.MarkChunk(ctx, "dup", 0, 1)
			require.NoError(t, err)
			assert.Equal(t, 1, received)
			assert.True(t, complete)

			_, complete, err = tr.MarkChunk(ctx, "dup", 0, 1)
			require.NoError(t, err)
			assert.False(t, complete)
		})
	}
}

func TestSaveSingleAndDiscard(t *testing.T) {
	for name, tr := range trackers(t) {
		t.Run(name, func(t *testing.T) {
			s, err := NewStore(t.TempDir(), tr)
			require.NoError(t, err)
			ctx := context.Background()

			meta, err := s.SaveSingle(ctx, "cover", "cover.png", bytes.NewReader([]byte("png bytes")))
			require.NoError(t, err)
			assert.NotEmpty(t, meta.FileID)
			assert.EqualValues(t, 9, meta.Size)

			_, _, err = s.Read(ctx, meta.FileID, "filesZip")
			assert.True(t, errors.Is(err, ErrNotFound), "wrong field")

			data, _, err := s.Read(ctx, meta.FileID, "cover")
			require.NoError(t, err)
			assert.Equal(t, "png bytes", string(data))

			s.Discard(ctx, meta.FileID)
			_, _, err = s.Read(ctx, meta.FileID, "cover")
			assert.True(t, errors.Is(err, ErrNotFound))
			_, statErr := os.Stat(filepath.Join(s.Dir(), meta.FileID+"-cover"))
			assert.True(t, os.IsNotExist(statErr))
		})
	}
}

func TestSaveChunkRejectsBadInput(t *testing.T) {
	s, err := NewStore(t.TempDir(), nil)
	require.NoError(t, err)
	ctx := context.Background()

	tests := []Chunk{
		{FileID: "../etc", Index: 0, Total: 1, Field: "cover"},
		{FileID: "ok", Index: 0, Total: 1, Field: "a/b"},
		{FileID: "ok", Index: 2, Total: 2, Field: "cover"},
		{FileID: "ok", Index: 0, Total: 0, Field: "cover"},
		{FileID: "ok", Index: -1, Total: 3, Field: "cover"},
	}
	for _, c := range tests {
		c.Data = strings.NewReader("x")
		_, err := s.SaveChunk(ctx, c)
		var invalid *InvalidError
		assert.True(t, errors.As(err, &invalid), "%+v", c)
	}
}

func TestCleanupStale(t *testing.T) {
	s, err := NewStore(t.TempDir(), nil)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = s.SaveSingle(ctx, "cover", "c.png", strings.NewReader("old"))
	require.NoError(t, err)
	_, err = s.SaveChunk(ctx, Chunk{FileID: "partial", Index: 0, Total: 2, Field: "filesZip", Data: strings.NewReader("half")})
	require.NoError(t, err)

	assert.Zero(t, s.CleanupStale(time.Hour))

	s.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	assert.Equal(t, 2, s.CleanupStale(time.Hour))
}
