// Package preview rasterizes PDF pages for cover previews and renderer
// health checks.
package preview

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"

	"github.com/gen2brain/go-fitz"
	"github.com/rs/zerolog/log"
)

// ColorMode defines the color mode for rendering
type ColorMode string

const (
	ColorRGB  ColorMode = "rgb"
	ColorGray ColorMode = "gray"
)

// Options controls a page render.
type Options struct {
	Page    int // 1-based
	DPI     int
	Quality int
	Color   ColorMode
}

func (o Options) withDefaults() Options {
	if o.Page < 1 {
		o.Page = 1
	}
	if o.DPI <= 0 {
		o.DPI = 72
	}
	if o.Quality <= 0 || o.Quality > 100 {
		o.Quality = 85
	}
	if o.Color == "" {
		o.Color = ColorRGB
	}
	return o
}

// Image is an encoded page render.
type Image struct {
	JPEG   []byte
	Width  int
	Height int
}

// RenderPage renders one page of an in-memory PDF as JPEG.
func RenderPage(pdf []byte, opts Options) (*Image, error) {
	opts = opts.withDefaults()
	doc, err := fitz.NewFromMemory(pdf)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	if opts.Page > doc.NumPage() {
		return nil, fmt.Errorf("page %d out of range (document has %d)", opts.Page, doc.NumPage())
	}

	// go-fitz uses 0-based indexing
	img, err := doc.ImageDPI(opts.Page-1, float64(opts.DPI))
	if err != nil {
		return nil, fmt.Errorf("failed to render page %d: %w", opts.Page, err)
	}
	bounds := img.Bounds()

	var final image.Image = img
	if opts.Color == ColorGray {
		gray := image.NewGray(bounds)
		draw.Draw(gray, bounds, img, bounds.Min, draw.Src)
		final = gray
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, final, &jpeg.Options{Quality: opts.Quality}); err != nil {
		return nil, fmt.Errorf("failed to encode JPEG: %w", err)
	}

	log.Debug().
		Int("page", opts.Page).
		Int("width", bounds.Dx()).
		Int("height", bounds.Dy()).
		Str("color", string(opts.Color)).
		Int("jpeg_size", buf.Len()).
		Int("dpi", opts.DPI).
		Msg("rendered page preview")

	return &Image{JPEG: buf.Bytes(), Width: bounds.Dx(), Height: bounds.Dy()}, nil
}
