package storage

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptRoundTrip(t *testing.T) {
	plain := []byte("PK\x03\x04 archive bytes")
	enc, err := Encrypt(plain, "secret")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(enc, []byte("GCM3NCR0")))
	assert.Len(t, enc, headerSize+len(plain)+tagSize)

	got, err := Decrypt(enc, "secret")
	require.NoError(t, err)
	assert.Equal(t, plain, got)

	_, err = Decrypt(enc, "wrong")
	assert.Error(t, err)

	_, err = Decrypt(plain, "secret")
	assert.ErrorIs(t, err, ErrNotEncrypted)
}

func TestLocalSink(t *testing.T) {
	s, err := NewLocalSink(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.Ping(ctx))

	loc, err := s.Put(ctx, "b1.zip", strings.NewReader("zip"))
	require.NoError(t, err)
	assert.Contains(t, loc, "b1.zip")

	got, err := s.Get(ctx, "b1.zip")
	require.NoError(t, err)
	assert.Equal(t, "zip", string(got))

	_, err = s.Get(ctx, "missing.zip")
	assert.True(t, errors.Is(err, ErrNotFound))

	// keys never escape the directory
	_, err = s.Put(ctx, "../../escape.zip", strings.NewReader("x"))
	require.NoError(t, err)
	got, err = s.Get(ctx, "escape.zip")
	require.NoError(t, err)
	assert.Equal(t, "x", string(got))
}

func TestSealedSink(t *testing.T) {
	local, err := NewLocalSink(t.TempDir())
	require.NoError(t, err)
	s := NewSealed(local, "pw")
	ctx := context.Background()

	_, err = s.Put(ctx, "r.zip", strings.NewReader("payload"))
	require.NoError(t, err)

	raw, err := local.Get(ctx, "r.zip")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(raw, []byte(gcmMagic)))

	got, err := s.Get(ctx, "r.zip")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))
}

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "results/b1.zip", objectKey("results/", "b1.zip"))
	assert.Equal(t, "b1.zip", objectKey("", "../b1.zip"))
}
