// Package cover turns a user supplied cover file into a single PDF page
// ready to be placed in front of other documents.
package cover

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/local/pdfcover/internal/metrics"
	"github.com/local/pdfcover/internal/pdfdoc"
)

// DefaultRasterDPI is the resolution image covers are flattened at.
const DefaultRasterDPI = 150

// Spec is a materialized cover: a one page PDF plus its geometry.
type Spec struct {
	Kind Kind
	// Page is a standalone single page PDF.
	Page []byte
	// Size is the cover page size in points. For image covers it is the canvas.
	Size pdfdoc.Dim
	// Placement is where the image sits on the canvas. Nil for PDF covers.
	Placement *pdfdoc.Placement
}

// DecodeError reports cover bytes that could not be decoded as their
// declared kind.
type DecodeError struct {
	Kind Kind
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s cover: %v", e.Kind, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Options configures image cover rendering.
type Options struct {
	Canvas    pdfdoc.Dim
	RasterDPI int
}

// Materializer builds cover pages.
type Materializer struct {
	canvas pdfdoc.Dim
	dpi    int
}

// NewMaterializer applies defaults to opts: an A4 canvas at DefaultRasterDPI.
func NewMaterializer(opts Options) *Materializer {
	m := &Materializer{canvas: opts.Canvas, dpi: opts.RasterDPI}
	if !m.canvas.Valid() {
		m.canvas = pdfdoc.A4
	}
	if m.dpi <= 0 {
		m.dpi = DefaultRasterDPI
	}
	return m
}

// Materialize builds the cover page for src. It does not retain src.
func (m *Materializer) Materialize(src Source) (*Spec, error) {
	var (
		spec *Spec
		err  error
	)
	switch c := src.(type) {
	case PDF:
		spec, err = fromPDF(c.Data)
	case Raster:
		spec, err = m.fromRaster(c)
	case Vector:
		spec, err = m.fromVector(c.Data)
	default:
		return nil, fmt.Errorf("unknown cover source %T", src)
	}
	if err != nil {
		metrics.IncCover(string(src.Kind()), "error")
		return nil, err
	}
	metrics.IncCover(string(src.Kind()), "ok")
	log.Debug().
		Str("kind", string(spec.Kind)).
		Float64("width", spec.Size.Width).
		Float64("height", spec.Size.Height).
		Int("bytes", len(spec.Page)).
		Msg("cover materialized")
	return spec, nil
}

// Materialize resolves mediaType and builds the cover with default options.
func Materialize(data []byte, mediaType string) (*Spec, error) {
	src, err := Parse(data, mediaType)
	if err != nil {
		return nil, err
	}
	return NewMaterializer(Options{}).Materialize(src)
}

func fromPDF(data []byte) (*Spec, error) {
	doc, err := pdfdoc.Read(data)
	if err != nil {
		return nil, &DecodeError{Kind: KindPDF, Err: err}
	}
	size, err := doc.PageSize(1)
	if err != nil {
		return nil, &DecodeError{Kind: KindPDF, Err: err}
	}
	page := data
	if doc.PageCount() > 1 {
		if page, err = pdfdoc.Select(data, "1"); err != nil {
			return nil, &DecodeError{Kind: KindPDF, Err: err}
		}
	}
	return &Spec{Kind: KindPDF, Page: page, Size: size}, nil
}
