// Package batch runs the page transform over a batch of documents with a
// single cover, isolating failures per document and reporting every input.
package batch

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/local/pdfcover/internal/archive"
	"github.com/local/pdfcover/internal/cover"
	"github.com/local/pdfcover/internal/metrics"
	"github.com/local/pdfcover/internal/transform"
)

// Mode selects how documents of one batch are scheduled.
type Mode string

const (
	Sequential Mode = "sequential"
	Concurrent Mode = "concurrent"
)

// ParseMode maps a config value onto a Mode, defaulting to Sequential.
func ParseMode(s string) Mode {
	if Mode(strings.ToLower(strings.TrimSpace(s))) == Concurrent {
		return Concurrent
	}
	return Sequential
}

const (
	DefaultFooter = 10
	DefaultHeader = 0
)

// Options configures an Orchestrator.
type Options struct {
	Mode        Mode
	Concurrency int
	// MaxBand caps footer and header heights; zero means no cap.
	MaxBand int
	Cover   cover.Options
}

// Orchestrator runs batches. It holds no per-batch state and is safe for
// concurrent use.
type Orchestrator struct {
	mode         Mode
	concurrency  int
	maxBand      int
	materializer *cover.Materializer
}

func New(opts Options) *Orchestrator {
	if opts.Mode == "" {
		opts.Mode = Sequential
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Orchestrator{
		mode:         opts.Mode,
		concurrency:  opts.Concurrency,
		maxBand:      opts.MaxBand,
		materializer: cover.NewMaterializer(opts.Cover),
	}
}

// Request is one batch call: a whole batch, or one chunk of a larger one.
type Request struct {
	// BatchID groups the chunks of one logical batch. Generated when empty.
	BatchID   string
	Documents []archive.Entry
	Cover     []byte
	CoverType string
	Footer    int
	Header    int
	// Chunk is the zero-based chunk index; Final marks the last or only chunk.
	Chunk int
	Final bool
}

// Result is the outcome of one batch call.
type Result struct {
	BatchID string
	Chunk   int
	Final   bool
	// Entries holds the transformed documents that succeeded, in input order.
	Entries []archive.Entry
	Report  Report
	Elapsed time.Duration
}

// ArchiveName is the download name for the call's output archive.
func (r *Result) ArchiveName() string {
	if r.Chunk == 0 && r.Final {
		return "processed-pdfs.zip"
	}
	return fmt.Sprintf("batch-%d.zip", r.Chunk)
}

// Run validates req, materializes the cover once and transforms every
// document. Validation and cover errors abort before any document is
// touched; a failing document only produces a failed outcome.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	if err := o.validate(req); err != nil {
		return nil, err
	}
	if req.BatchID == "" {
		req.BatchID = uuid.NewString()
	}
	src, err := cover.Parse(req.Cover, req.CoverType)
	if err != nil {
		return nil, err
	}

	cache := &coverCache{}
	defer cache.release()
	if err := cache.load(o.materializer, src); err != nil {
		return nil, err
	}

	start := time.Now()
	defer metrics.TrackInflight()()
	logger := log.With().Str("batch_id", req.BatchID).Int("chunk", req.Chunk).Logger()
	logger.Info().
		Int("documents", len(req.Documents)).
		Str("cover", string(src.Kind())).
		Str("mode", string(o.mode)).
		Int("footer", req.Footer).
		Int("header", req.Header).
		Msg("batch started")

	bands := transform.Bands{Footer: float64(req.Footer), Header: float64(req.Header)}
	outcomes := make(Report, len(req.Documents))
	outputs := make([][]byte, len(req.Documents))
	process := func(i int) {
		outcomes[i], outputs[i] = transformOne(req.Documents[i], cache.cover(), bands)
	}

	if o.mode == Concurrent && len(req.Documents) > 1 {
		err = o.runConcurrent(ctx, len(req.Documents), process)
	} else {
		err = runSequential(ctx, len(req.Documents), process)
	}
	if err != nil {
		logger.Warn().Err(err).Msg("batch interrupted")
		return nil, err
	}

	res := &Result{BatchID: req.BatchID, Chunk: req.Chunk, Final: req.Final, Report: outcomes, Elapsed: time.Since(start)}
	for i, out := range outcomes {
		metrics.IncDocument(out.Success)
		if !out.Success {
			logger.Warn().Str("file", out.Name).Str("error", out.Error).Msg("document failed")
			continue
		}
		metrics.AddPages(out.OriginalPages, out.FinalPages)
		res.Entries = append(res.Entries, archive.Entry{Name: out.Name, Data: outputs[i]})
	}
	metrics.ObserveBatch(string(o.mode), res.Elapsed)
	logger.Info().
		Int("succeeded", outcomes.Succeeded()).
		Int("failed", outcomes.Failed()).
		Bool("final", req.Final).
		Dur("elapsed", res.Elapsed).
		Msg("batch complete")
	return res, nil
}

func (o *Orchestrator) validate(req Request) error {
	if len(req.Cover) == 0 {
		return ErrMissingCover
	}
	if len(req.Documents) == 0 {
		return ErrEmptyBatch
	}
	if err := o.checkBand("footerHeightPx", req.Footer); err != nil {
		return err
	}
	if err := o.checkBand("headerHeightPx", req.Header); err != nil {
		return err
	}
	if req.Chunk < 0 {
		return &ValidationError{Field: "chunkIndex", Message: "must not be negative"}
	}
	return nil
}

func (o *Orchestrator) checkBand(field string, v int) error {
	if v < 0 {
		return &ValidationError{Field: field, Message: "must not be negative"}
	}
	if o.maxBand > 0 && v > o.maxBand {
		return &ValidationError{Field: field, Message: fmt.Sprintf("must be at most %d", o.maxBand)}
	}
	return nil
}

func runSequential(ctx context.Context, n int, process func(int)) error {
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		process(i)
	}
	return nil
}

// runConcurrent processes documents on a bounded pool. Each worker writes
// only its own index, which keeps the report in input order.
func (o *Orchestrator) runConcurrent(ctx context.Context, n int, process func(int)) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			process(i)
			return nil
		})
	}
	return g.Wait()
}

// transformOne is the per-document failure boundary: errors and panics
// become a failed outcome.
func transformOne(doc archive.Entry, spec *cover.Spec, bands transform.Bands) (out Outcome, data []byte) {
	out = Outcome{Name: doc.Name}
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("file", doc.Name).Interface("panic", r).Bytes("stack", debug.Stack()).Msg("transform panicked")
			out = Outcome{Name: doc.Name, Error: fmt.Sprintf("internal error: %v", r)}
			data = nil
		}
	}()

	res, err := transform.Apply(doc.Data, spec, bands)
	if err != nil {
		out.Error = err.Error()
		return out, nil
	}
	out.OriginalPages = res.OriginalPages
	out.FinalPages = res.FinalPages
	out.Success = true
	return out, res.PDF
}
