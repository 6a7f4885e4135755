// Package api exposes the batch processor over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/pdfcover/internal/archive"
	"github.com/local/pdfcover/internal/batch"
	"github.com/local/pdfcover/internal/cover"
	"github.com/local/pdfcover/internal/filetype"
	"github.com/local/pdfcover/internal/limiter"
	"github.com/local/pdfcover/internal/metrics"
	"github.com/local/pdfcover/internal/statuscheck"
	"github.com/local/pdfcover/internal/storage"
	"github.com/local/pdfcover/internal/store"
	"github.com/local/pdfcover/internal/upload"
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// Dependencies wires the handlers. Uploads and Results are optional; the
// upload and result routes are only registered when they are set. Default
// band heights are used as given, zero included.
type Dependencies struct {
	Batches  *batch.Orchestrator
	Uploads  *upload.Store
	Reports  store.Reports
	Results  storage.Sink
	Limiter  *limiter.Limiter
	Status   *statuscheck.Checker
	Detector *filetype.Detector
	Cover    cover.Options

	MaxUploadBytes int64
	MaxChunkBytes  int64
	DefaultFooter  int
	DefaultHeader  int
	// ChunkSize is the number of documents per orchestrator run when an
	// uploaded archive is processed from disk.
	ChunkSize int
}

type Server struct {
	deps Dependencies
}

func New(deps Dependencies) *Server {
	if deps.Batches == nil {
		deps.Batches = batch.New(batch.Options{Cover: deps.Cover})
	}
	if deps.Reports == nil {
		deps.Reports = store.NewMemoryReports(0)
	}
	if deps.Limiter == nil {
		deps.Limiter = limiter.New(limiter.Options{})
	}
	if deps.Status == nil {
		deps.Status = statuscheck.New(statuscheck.Options{})
	}
	if deps.Detector == nil {
		deps.Detector = filetype.New()
	}
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = 100 << 20
	}
	if deps.MaxChunkBytes <= 0 {
		deps.MaxChunkBytes = 30 << 20
	}
	if deps.ChunkSize <= 0 {
		deps.ChunkSize = 25
	}
	return &Server{deps: deps}
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/ready", s.handleReady)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("POST /api/process", s.handleProcess)
	mux.HandleFunc("POST /api/process-chunk", s.handleProcessChunk)
	mux.HandleFunc("POST /api/cover/preview", s.handleCoverPreview)
	mux.HandleFunc("GET /api/reports/{id}", s.handleReport)
	if s.deps.Uploads != nil {
		mux.HandleFunc("POST /api/upload-chunk", s.handleUploadChunk)
		mux.HandleFunc("POST /api/upload-single", s.handleUploadSingle)
		mux.HandleFunc("POST /api/process-uploaded", s.handleProcessUploaded)
	}
	if s.deps.Results != nil {
		mux.HandleFunc("GET /api/results/{id}", s.handleResult)
	}
}

// Handler returns every route behind the CORS and request log middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return withCORS(logRequests(mux))
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		h.Set("Access-Control-Expose-Headers", "Content-Disposition, X-Process-Report, X-Report-Id, X-Result-Location")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("elapsed", time.Since(start)).
			Msg("http request")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "timestamp": time.Now().UTC().Format(time.RFC3339)})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	sum := s.deps.Status.Summary(r.Context())
	code := http.StatusOK
	if !sum.Ready() {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, sum)
}

// admit reserves a batch slot or answers 503.
func (s *Server) admit(w http.ResponseWriter, r *http.Request) (func(), bool) {
	release, ok := s.deps.Limiter.Allow(r.Context())
	if !ok {
		metrics.IncRejected("busy")
		writeError(w, http.StatusServiceUnavailable, "server busy, retry later")
	}
	return release, ok
}

// fail maps err to a status code and writes it.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	var (
		invalid  *upload.InvalidError
		tooLarge *http.MaxBytesError
	)
	switch {
	case batch.IsValidation(err):
		metrics.IncRejected("validation")
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &invalid):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &tooLarge), errors.Is(err, archive.ErrEntryTooLarge):
		metrics.IncRejected("too_large")
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, upload.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, context.Canceled):
		log.Warn().Str("path", r.URL.Path).Msg("request canceled by client")
	default:
		log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
