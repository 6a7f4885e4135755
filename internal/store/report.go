// Package store persists batch reports so chunked clients can fetch the
// combined report of a logical batch after its last chunk.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/local/pdfcover/internal/batch"
)

// Summary is the stored view of a logical batch.
type Summary struct {
	BatchID   string       `json:"batchId"`
	Chunks    int          `json:"chunks"`
	Complete  bool         `json:"complete"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
	Location  string       `json:"location,omitempty"`
	Updated   time.Time    `json:"updated"`
	Report    batch.Report `json:"report"`
}

// Reports stores per-chunk reports of logical batches.
type Reports interface {
	SaveChunk(ctx context.Context, res *batch.Result, location string) error
	Get(ctx context.Context, batchID string) (Summary, bool, error)
}

func summarize(id string, chunks map[int]batch.Report, complete bool, location string, updated time.Time) Summary {
	idx := make([]int, 0, len(chunks))
	for i := range chunks {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	parts := make([]batch.Report, 0, len(idx))
	for _, i := range idx {
		parts = append(parts, chunks[i])
	}
	r := batch.Merge(parts...)
	return Summary{
		BatchID:   id,
		Chunks:    len(chunks),
		Complete:  complete,
		Succeeded: r.Succeeded(),
		Failed:    r.Failed(),
		Location:  location,
		Updated:   updated,
		Report:    r,
	}
}

type RedisReports struct {
	client *redis.Client
	keyNS  string
	ttl    time.Duration
}

func NewRedisReports(client *redis.Client, ttl time.Duration) *RedisReports {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisReports{client: client, keyNS: "batch", ttl: ttl}
}

func (s *RedisReports) key(batchID string) string { return fmt.Sprintf("%s:%s:report", s.keyNS, batchID) }

func (s *RedisReports) SaveChunk(ctx context.Context, res *batch.Result, location string) error {
	b, err := json.Marshal(res.Report)
	if err != nil {
		return err
	}
	m := map[string]interface{}{
		fmt.Sprintf("chunk:%d", res.Chunk): string(b),
		"updated":                          time.Now().Format(time.RFC3339Nano),
	}
	if res.Final {
		m["complete"] = "1"
	}
	if location != "" {
		m["location"] = location
	}
	k := s.key(res.BatchID)
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, k, m)
		p.Expire(ctx, k, s.ttl)
		return nil
	})
	return err
}

func (s *RedisReports) Get(ctx context.Context, batchID string) (Summary, bool, error) {
	res, err := s.client.HGetAll(ctx, s.key(batchID)).Result()
	if err != nil {
		return Summary{}, false, err
	}
	if len(res) == 0 {
		return Summary{}, false, nil
	}
	chunks := map[int]batch.Report{}
	for field, v := range res {
		idx, ok := strings.CutPrefix(field, "chunk:")
		if !ok {
			continue
		}
		i, err := strconv.Atoi(idx)
		if err != nil {
			continue
		}
		var r batch.Report
		if err := json.Unmarshal([]byte(v), &r); err != nil {
			return Summary{}, false, fmt.Errorf("chunk %d report: %w", i, err)
		}
		chunks[i] = r
	}
	var updated time.Time
	if v := res["updated"]; v != "" {
		updated, _ = time.Parse(time.RFC3339Nano, v)
	}
	return summarize(batchID, chunks, res["complete"] == "1", res["location"], updated), true, nil
}

// MemoryReports keeps reports in process; entries older than ttl are dropped
// lazily on access.
type MemoryReports struct {
	mu    sync.Mutex
	ttl   time.Duration
	items map[string]*memoryEntry
}

type memoryEntry struct {
	chunks   map[int]batch.Report
	complete bool
	location string
	updated  time.Time
}

func NewMemoryReports(ttl time.Duration) *MemoryReports {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemoryReports{ttl: ttl, items: map[string]*memoryEntry{}}
}

func (s *MemoryReports) SaveChunk(_ context.Context, res *batch.Result, location string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expire()
	e, ok := s.items[res.BatchID]
	if !ok {
		e = &memoryEntry{chunks: map[int]batch.Report{}}
		s.items[res.BatchID] = e
	}
	e.chunks[res.Chunk] = append(batch.Report(nil), res.Report...)
	e.complete = e.complete || res.Final
	if location != "" {
		e.location = location
	}
	e.updated = time.Now()
	return nil
}

func (s *MemoryReports) Get(_ context.Context, batchID string) (Summary, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expire()
	e, ok := s.items[batchID]
	if !ok {
		return Summary{}, false, nil
	}
	return summarize(batchID, e.chunks, e.complete, e.location, e.updated), true, nil
}

func (s *MemoryReports) expire() {
	cutoff := time.Now().Add(-s.ttl)
	for id, e := range s.items {
		if e.updated.Before(cutoff) {
			delete(s.items, id)
		}
	}
}
