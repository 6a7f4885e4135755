// Package storage persists processed archives to a local directory or an S3
// bucket, optionally encrypted at rest.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// ErrNotFound is returned by Get when no object exists under the key.
var ErrNotFound = errors.New("result not found")

// Sink stores result archives by key and returns a location string that
// identifies where they went.
type Sink interface {
	Put(ctx context.Context, key string, r io.Reader) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Ping(ctx context.Context) error
}

// LocalSink writes results under a directory.
type LocalSink struct {
	dir string
}

func NewLocalSink(dir string) (*LocalSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create result dir: %w", err)
	}
	return &LocalSink{dir: dir}, nil
}

func (s *LocalSink) path(key string) string {
	return filepath.Join(s.dir, filepath.FromSlash(filepath.Base(key)))
}

func (s *LocalSink) Put(_ context.Context, key string, r io.Reader) (string, error) {
	p := s.path(key)
	tmp := p + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", err
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp, p)
	}
	if err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	log.Debug().Str("path", p).Int64("size", n).Msg("result saved locally")
	return p, nil
}

func (s *LocalSink) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return data, err
}

func (s *LocalSink) Ping(context.Context) error {
	_, err := os.Stat(s.dir)
	return err
}

// Sealed encrypts everything written through it with password.
type Sealed struct {
	Sink
	password string
}

func NewSealed(inner Sink, password string) *Sealed {
	return &Sealed{Sink: inner, password: password}
}

// Put buffers r whole: GCM seals a single message.
func (s *Sealed) Put(ctx context.Context, key string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	enc, err := Encrypt(data, s.password)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt result: %w", err)
	}
	return s.Sink.Put(ctx, key, bytes.NewReader(enc))
}

func (s *Sealed) Get(ctx context.Context, key string) ([]byte, error) {
	enc, err := s.Sink.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return Decrypt(enc, s.password)
}
