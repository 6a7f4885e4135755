package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zip"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/local/pdfcover/internal/archive"
	"github.com/local/pdfcover/internal/batch"
	"github.com/local/pdfcover/internal/config"
	"github.com/local/pdfcover/internal/cover"
	"github.com/local/pdfcover/internal/filetype"
	"github.com/local/pdfcover/internal/pdfdoc"
)

type processOptions struct {
	Input       string
	Cover       string
	CoverType   string
	Output      string
	Report      string
	Footer      int
	Header      int
	ChunkSize   int
	Mode        string
	Concurrency int
	Canvas      string
	DPI         int
}

func newProcessCmd() *cobra.Command {
	env := config.FromEnv()
	opts := processOptions{}
	cmd := &cobra.Command{
		Use:   "process --input in.zip --cover cover.pdf --output out.zip",
		Short: "Process every PDF of a ZIP archive",
		Long: `Process opens the input archive with random access and runs the batch in
chunks of --chunk-size documents. Outputs are streamed into one archive in
input order; the combined report is printed as a summary and optionally
written as JSON.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := runProcess(cmd.Context(), opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d documents: %d succeeded, %d failed -> %s\n",
				len(report), report.Succeeded(), report.Failed(), opts.Output)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.Input, "input", "i", "", "ZIP archive of PDFs")
	f.StringVarP(&opts.Cover, "cover", "c", "", "cover file (PDF, PNG, JPEG or SVG)")
	f.StringVar(&opts.CoverType, "cover-type", "", "cover media type (sniffed when empty)")
	f.StringVarP(&opts.Output, "output", "o", "processed-pdfs.zip", "output ZIP archive")
	f.StringVar(&opts.Report, "report", "", "write the JSON report to this file")
	f.IntVar(&opts.Footer, "footer", env.Processing.FooterHeight, "footer band height in points")
	f.IntVar(&opts.Header, "header", env.Processing.HeaderHeight, "header band height in points")
	f.IntVar(&opts.ChunkSize, "chunk-size", env.Processing.ChunkSize, "documents per chunk")
	f.StringVar(&opts.Mode, "mode", env.Processing.Mode, "sequential or concurrent")
	f.IntVar(&opts.Concurrency, "concurrency", env.Processing.Concurrency, "workers in concurrent mode")
	f.StringVar(&opts.Canvas, "canvas", env.Processing.CoverCanvas, "paper size for image covers")
	f.IntVar(&opts.DPI, "dpi", env.Processing.RasterDPI, "raster resolution for image covers")
	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("cover")
	return cmd
}

func runProcess(ctx context.Context, opts processOptions) (batch.Report, error) {
	canvas, ok := pdfdoc.PaperSize(opts.Canvas)
	if !ok {
		return nil, fmt.Errorf("unknown canvas %q", opts.Canvas)
	}
	coverData, err := os.ReadFile(opts.Cover)
	if err != nil {
		return nil, fmt.Errorf("read cover: %w", err)
	}
	coverType := filetype.New().CoverType(coverData, opts.CoverType, opts.Cover)

	in, err := os.Open(opts.Input)
	if err != nil {
		return nil, err
	}
	defer in.Close()
	st, err := in.Stat()
	if err != nil {
		return nil, err
	}
	rd, err := archive.Open(in, st.Size())
	if err != nil {
		return nil, err
	}
	chunks := rd.Chunks(opts.ChunkSize)
	if len(chunks) == 0 {
		return nil, batch.ErrEmptyBatch
	}

	orch := batch.New(batch.Options{
		Mode:        batch.ParseMode(opts.Mode),
		Concurrency: opts.Concurrency,
		Cover:       cover.Options{Canvas: canvas, RasterDPI: opts.DPI},
	})

	tmp := opts.Output + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return nil, err
	}
	report, err := assemble(ctx, orch, chunks, coverData, coverType, opts, out)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return nil, err
	}
	if err := os.Rename(tmp, opts.Output); err != nil {
		return nil, err
	}
	if opts.Report != "" {
		if err := writeReport(opts.Report, report); err != nil {
			return nil, err
		}
	}
	return report, nil
}

func assemble(ctx context.Context, orch *batch.Orchestrator, chunks [][]*zip.File, coverData []byte, coverType string, opts processOptions, w io.Writer) (batch.Report, error) {
	asm := batch.NewAssembler(w)
	batchID := uuid.NewString()
	start := time.Now()
	done := 0
	for i, files := range chunks {
		docs, err := archive.Load(files)
		if err != nil {
			return nil, fmt.Errorf("chunk %d: %w", i, err)
		}
		res, err := orch.Run(ctx, batch.Request{
			BatchID:   batchID,
			Documents: docs,
			Cover:     coverData,
			CoverType: coverType,
			Footer:    opts.Footer,
			Header:    opts.Header,
			Chunk:     i,
			Final:     i == len(chunks)-1,
		})
		if err != nil {
			return nil, err
		}
		if err := asm.Add(res); err != nil {
			return nil, err
		}
		done += len(docs)
		log.Info().
			Str("batch_id", batchID).
			Int("chunk", i+1).
			Int("chunks", len(chunks)).
			Int("documents", done).
			Dur("elapsed", time.Since(start)).
			Msg("chunk written")
	}
	return asm.Close()
}

func writeReport(path string, report batch.Report) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	b, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, append(b, '\n'), 0o644); err != nil {
		return fmt.Errorf("write report %s: %w", path, err)
	}
	return nil
}
