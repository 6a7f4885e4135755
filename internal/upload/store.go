// Package upload stages large client uploads on disk: files arrive either in
// numbered chunks that are merged once complete, or in a single request.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotFound = errors.New("upload not found")
	idPattern   = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)
)

// InvalidError reports malformed upload parameters.
type InvalidError struct{ Message string }

func (e *InvalidError) Error() string { return "invalid upload: " + e.Message }

// Store keeps chunks under <dir>/chunks and assembled uploads under <dir>.
type Store struct {
	dir      string
	chunkDir string
	tracker  Tracker
	now      func() time.Time
}

func NewStore(dir string, tracker Tracker) (*Store, error) {
	if tracker == nil {
		tracker = NewMemoryTracker()
	}
	s := &Store{dir: dir, chunkDir: filepath.Join(dir, "chunks"), tracker: tracker, now: time.Now}
	if err := os.MkdirAll(s.chunkDir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return s, nil
}

// Dir is the staging root.
func (s *Store) Dir() string { return s.dir }

// Chunk is one piece of a chunked upload.
type Chunk struct {
	FileID       string
	Index        int
	Total        int
	Field        string
	OriginalName string
	Data         io.Reader
}

// ChunkStatus is returned for every accepted chunk.
type ChunkStatus struct {
	FileID            string `json:"fileId"`
	ChunkIndex        int    `json:"chunkIndex"`
	TotalChunks       int    `json:"totalChunks"`
	Received          int    `json:"received"`
	AllChunksUploaded bool   `json:"allChunksUploaded"`
}

// SaveChunk stores one chunk; the call that delivers the last missing chunk
// merges all of them into the final file.
func (s *Store) SaveChunk(ctx context.Context, c Chunk) (*ChunkStatus, error) {
	if err := checkID("fileId", c.FileID); err != nil {
		return nil, err
	}
	if err := checkID("fieldName", c.Field); err != nil {
		return nil, err
	}
	if c.Total < 1 || c.Index < 0 || c.Index >= c.Total {
		return nil, &InvalidError{Message: fmt.Sprintf("chunk %d of %d", c.Index, c.Total)}
	}

	if _, err := writeFile(s.chunkPath(c.FileID, c.Index), c.Data); err != nil {
		return nil, err
	}
	received, complete, err := s.tracker.MarkChunk(ctx, c.FileID, c.Index, c.Total)
	if err != nil {
		return nil, fmt.Errorf("track chunk: %w", err)
	}
	log.Debug().Str("file_id", c.FileID).Int("chunk", c.Index+1).Int("total", c.Total).Msg("chunk received")

	st := &ChunkStatus{FileID: c.FileID, ChunkIndex: c.Index, TotalChunks: c.Total, Received: received}
	if !complete {
		return st, nil
	}
	if err := s.merge(ctx, c); err != nil {
		return nil, err
	}
	st.AllChunksUploaded = true
	return st, nil
}

func (s *Store) merge(ctx context.Context, c Chunk) error {
	final := s.filePath(c.FileID, c.Field)
	tmp := final + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	var size int64
	for i := 0; i < c.Total; i++ {
		n, err := appendFile(out, s.chunkPath(c.FileID, i))
		if err != nil {
			out.Close()
			_ = os.Remove(tmp)
			return err
		}
		size += n
	}
	if err := out.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, final); err != nil {
		return err
	}
	for i := 0; i < c.Total; i++ {
		_ = os.Remove(s.chunkPath(c.FileID, i))
	}
	log.Info().Str("file_id", c.FileID).Str("field", c.Field).Int64("size", size).Int("chunks", c.Total).Msg("upload merged")
	return s.tracker.SaveMeta(ctx, Meta{FileID: c.FileID, Field: c.Field, OriginalName: c.OriginalName, Size: size, Created: s.now()})
}

// SaveSingle stores a whole file under a new id.
func (s *Store) SaveSingle(ctx context.Context, field, originalName string, r io.Reader) (Meta, error) {
	if err := checkID("fieldName", field); err != nil {
		return Meta{}, err
	}
	id := uuid.NewString()
	size, err := writeFile(s.filePath(id, field), r)
	if err != nil {
		return Meta{}, err
	}
	m := Meta{FileID: id, Field: field, OriginalName: originalName, Size: size, Created: s.now()}
	if err := s.tracker.SaveMeta(ctx, m); err != nil {
		return Meta{}, err
	}
	log.Info().Str("file_id", id).Str("field", field).Int64("size", size).Msg("single file uploaded")
	return m, nil
}

// Open returns the assembled upload stored for fileID under field.
func (s *Store) Open(ctx context.Context, fileID, field string) (*os.File, Meta, error) {
	if err := checkID("fileId", fileID); err != nil {
		return nil, Meta{}, err
	}
	m, ok, err := s.tracker.Meta(ctx, fileID)
	if err != nil {
		return nil, Meta{}, err
	}
	if !ok || m.Field != field {
		return nil, Meta{}, fmt.Errorf("%s %s: %w", field, fileID, ErrNotFound)
	}
	f, err := os.Open(s.filePath(fileID, field))
	if errors.Is(err, os.ErrNotExist) {
		return nil, Meta{}, fmt.Errorf("%s %s: %w", field, fileID, ErrNotFound)
	}
	if err != nil {
		return nil, Meta{}, err
	}
	return f, m, nil
}

// Read loads the whole upload into memory.
func (s *Store) Read(ctx context.Context, fileID, field string) ([]byte, Meta, error) {
	f, m, err := s.Open(ctx, fileID, field)
	if err != nil {
		return nil, Meta{}, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	return data, m, err
}

// Discard removes an upload and its bookkeeping. Missing files are ignored.
func (s *Store) Discard(ctx context.Context, fileID string) {
	if checkID("fileId", fileID) != nil {
		return
	}
	if m, ok, err := s.tracker.Meta(ctx, fileID); err == nil && ok {
		_ = os.Remove(s.filePath(fileID, m.Field))
	}
	matches, _ := filepath.Glob(filepath.Join(s.chunkDir, fileID+"-chunk-*"))
	for _, p := range matches {
		_ = os.Remove(p)
	}
	if err := s.tracker.Forget(ctx, fileID); err != nil {
		log.Warn().Err(err).Str("file_id", fileID).Msg("failed to forget upload")
	}
	log.Debug().Str("file_id", fileID).Msg("upload discarded")
}

func (s *Store) chunkPath(id string, i int) string {
	return filepath.Join(s.chunkDir, fmt.Sprintf("%s-chunk-%d", id, i))
}

func (s *Store) filePath(id, field string) string {
	return filepath.Join(s.dir, id+"-"+field)
}

func checkID(name, v string) error {
	if !idPattern.MatchString(v) {
		return &InvalidError{Message: fmt.Sprintf("%s %q", name, v)}
	}
	return nil
}

func writeFile(path string, r io.Reader) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", path, err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return 0, fmt.Errorf("write %s: %w", path, err)
	}
	return n, nil
}

func appendFile(dst io.Writer, path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open chunk: %w", err)
	}
	defer f.Close()
	return io.Copy(dst, f)
}
