package upload

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Meta describes a fully staged upload.
type Meta struct {
	FileID       string    `json:"fileId"`
	Field        string    `json:"fieldName"`
	OriginalName string    `json:"originalName"`
	Size         int64     `json:"size"`
	Created      time.Time `json:"created"`
}

// Tracker records which chunks of an upload have arrived and the metadata
// of assembled uploads.
type Tracker interface {
	// MarkChunk records chunk index of fileID and reports whether this call
	// completed the set of total chunks. Exactly one call sees complete.
	MarkChunk(ctx context.Context, fileID string, index, total int) (received int, complete bool, err error)
	SaveMeta(ctx context.Context, m Meta) error
	Meta(ctx context.Context, fileID string) (Meta, bool, error)
	Forget(ctx context.Context, fileID string) error
}

// RedisTracker keeps upload state in Redis so any instance behind a load
// balancer can receive any chunk.
type RedisTracker struct {
	client *redis.Client
	keyNS  string
	ttl    time.Duration
}

func NewRedisTracker(client *redis.Client, ttl time.Duration) *RedisTracker {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisTracker{client: client, keyNS: "upload", ttl: ttl}
}

func (t *RedisTracker) chunksKey(id string) string { return fmt.Sprintf("%s:%s:chunks", t.keyNS, id) }
func (t *RedisTracker) metaKey(id string) string   { return fmt.Sprintf("%s:%s:meta", t.keyNS, id) }

func (t *RedisTracker) MarkChunk(ctx context.Context, fileID string, index, total int) (int, bool, error) {
	key := t.chunksKey(fileID)
	var added *redis.IntCmd
	var count *redis.IntCmd
	_, err := t.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		added = p.SAdd(ctx, key, strconv.Itoa(index))
		count = p.SCard(ctx, key)
		p.Expire(ctx, key, t.ttl)
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	n := int(count.Val())
	return n, added.Val() == 1 && n == total, nil
}

func (t *RedisTracker) SaveMeta(ctx context.Context, m Meta) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return t.client.Set(ctx, t.metaKey(m.FileID), b, t.ttl).Err()
}

func (t *RedisTracker) Meta(ctx context.Context, fileID string) (Meta, bool, error) {
	b, err := t.client.Get(ctx, t.metaKey(fileID)).Bytes()
	if err == redis.Nil {
		return Meta{}, false, nil
	}
	if err != nil {
		return Meta{}, false, err
	}
	var m Meta
	if err := json.Unmarshal(b, &m); err != nil {
		return Meta{}, false, err
	}
	return m, true, nil
}

func (t *RedisTracker) Forget(ctx context.Context, fileID string) error {
	return t.client.Del(ctx, t.chunksKey(fileID), t.metaKey(fileID)).Err()
}

// MemoryTracker is the single instance Tracker.
type MemoryTracker struct {
	mu     sync.Mutex
	chunks map[string]map[int]struct{}
	meta   map[string]Meta
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{chunks: map[string]map[int]struct{}{}, meta: map[string]Meta{}}
}

func (t *MemoryTracker) MarkChunk(_ context.Context, fileID string, index, total int) (int, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	set, ok := t.chunks[fileID]
	if !ok {
		set = map[int]struct{}{}
		t.chunks[fileID] = set
	}
	_, seen := set[index]
	set[index] = struct{}{}
	return len(set), !seen && len(set) == total, nil
}

func (t *MemoryTracker) SaveMeta(_ context.Context, m Meta) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.meta[m.FileID] = m
	return nil
}

func (t *MemoryTracker) Meta(_ context.Context, fileID string) (Meta, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.meta[fileID]
	return m, ok, nil
}

func (t *MemoryTracker) Forget(_ context.Context, fileID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.chunks, fileID)
	delete(t.meta, fileID)
	return nil
}
