// Package pdftest builds PDF and image fixtures for tests and inspects the
// rendered result of processed documents.
package pdftest

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/local/pdfcover/internal/pdfdoc"
)

var (
	Red   = color.RGBA{R: 220, A: 255}
	Blue  = color.RGBA{B: 200, A: 255}
	Green = color.RGBA{G: 180, A: 255}
)

// Page describes one fixture page: its size in points and a fill color.
type Page struct {
	Size  pdfdoc.Dim
	Color color.Color
}

// Pages returns n pages of the same size and color.
func Pages(n int, size pdfdoc.Dim, c color.Color) []Page {
	out := make([]Page, n)
	for i := range out {
		out[i] = Page{Size: size, Color: c}
	}
	return out
}

// Document builds a PDF with one solid colored page per entry.
func Document(tb testing.TB, pages ...Page) []byte {
	tb.Helper()
	require.NotEmpty(tb, pages)
	parts := make([][]byte, 0, len(pages))
	for _, p := range pages {
		page, err := pdfdoc.ImagePage(PNG(tb, 8, 8, p.Color), p.Size)
		require.NoError(tb, err)
		parts = append(parts, page)
	}
	doc, err := pdfdoc.Concat(parts...)
	require.NoError(tb, err)
	return doc
}

// PNG encodes a solid w x h image.
func PNG(tb testing.TB, w, h int, c color.Color) []byte {
	tb.Helper()
	var buf bytes.Buffer
	require.NoError(tb, png.Encode(&buf, solid(w, h, c)))
	return buf.Bytes()
}

// JPEG encodes a solid w x h image.
func JPEG(tb testing.TB, w, h int, c color.Color) []byte {
	tb.Helper()
	var buf bytes.Buffer
	require.NoError(tb, jpeg.Encode(&buf, solid(w, h, c), &jpeg.Options{Quality: 95}))
	return buf.Bytes()
}

// SVG returns a w x h drawing filled with a single rectangle.
func SVG(w, h int, fill string) []byte {
	return []byte(fmt.Sprintf(
		`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 %d %d" width="%d" height="%d">`+
			`<rect x="0" y="0" width="%d" height="%d" fill="%s"/></svg>`,
		w, h, w, h, w, h, fill))
}

func solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

// Sizes returns the mediabox size of every page.
func Sizes(tb testing.TB, data []byte) []pdfdoc.Dim {
	tb.Helper()
	doc, err := pdfdoc.Read(data)
	require.NoError(tb, err)
	out := make([]pdfdoc.Dim, doc.PageCount())
	for i := range out {
		out[i], err = doc.PageSize(i + 1)
		require.NoError(tb, err)
	}
	return out
}

// Render rasterizes every page at dpi.
func Render(tb testing.TB, data []byte, dpi float64) []*image.RGBA {
	tb.Helper()
	d, err := defaultOpener.Open(data)
	require.NoError(tb, err)
	defer d.Close()
	out := make([]*image.RGBA, d.NumPage())
	for i := range out {
		out[i], err = d.Image(i, dpi)
		require.NoError(tb, err)
	}
	return out
}

// Near reports whether c is within tol of want on every channel.
func Near(c color.Color, want color.Color, tol uint8) bool {
	r1, g1, b1, _ := c.RGBA()
	r2, g2, b2, _ := want.RGBA()
	return diff(r1, r2) <= tol && diff(g1, g2) <= tol && diff(b1, b2) <= tol
}

// IsWhite reports whether c is white, allowing for antialiasing.
func IsWhite(c color.Color) bool { return Near(c, color.White, 12) }

func diff(a, b uint32) uint8 {
	a, b = a>>8, b>>8
	if a > b {
		return uint8(a - b)
	}
	return uint8(b - a)
}
