package cover

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	xdraw "golang.org/x/image/draw"

	"github.com/local/pdfcover/internal/pdfdoc"
)

const jpegQuality = 92

var errEmptyImage = errors.New("image has no area")

// painter draws the cover image into rect of dst.
type painter func(dst *image.RGBA, rect image.Rectangle)

func (m *Materializer) fromRaster(c Raster) (*Spec, error) {
	var (
		img image.Image
		err error
	)
	switch c.Format {
	case KindPNG:
		img, err = png.Decode(bytes.NewReader(c.Data))
	case KindJPEG:
		img, err = jpeg.Decode(bytes.NewReader(c.Data))
	default:
		return nil, &UnsupportedTypeError{MediaType: "image/" + string(c.Format)}
	}
	if err != nil {
		return nil, &DecodeError{Kind: c.Format, Err: err}
	}
	b := img.Bounds()
	if b.Empty() {
		return nil, &DecodeError{Kind: c.Format, Err: errEmptyImage}
	}
	size := pdfdoc.Dim{Width: float64(b.Dx()), Height: float64(b.Dy())}
	return m.compose(c.Format, size, func(dst *image.RGBA, r image.Rectangle) {
		xdraw.CatmullRom.Scale(dst, r, img, b, xdraw.Over, nil)
	})
}

func (m *Materializer) fromVector(data []byte) (*Spec, error) {
	icon, err := oksvg.ReadIconStream(bytes.NewReader(data), oksvg.IgnoreErrorMode)
	if err != nil {
		return nil, &DecodeError{Kind: KindSVG, Err: err}
	}
	size := pdfdoc.Dim{Width: icon.ViewBox.W, Height: icon.ViewBox.H}
	if !size.Valid() {
		return nil, &DecodeError{Kind: KindSVG, Err: errors.New("missing viewBox or width/height")}
	}
	return m.compose(KindSVG, size, func(dst *image.RGBA, r image.Rectangle) {
		icon.SetTarget(float64(r.Min.X), float64(r.Min.Y), float64(r.Dx()), float64(r.Dy()))
		w, h := dst.Bounds().Dx(), dst.Bounds().Dy()
		scanner := rasterx.NewScannerGV(w, h, dst, dst.Bounds())
		icon.Draw(rasterx.NewDasher(w, h, scanner), 1)
	})
}

// compose paints the image, scaled to fit and centered, on a white canvas
// and wraps the canvas in a single page PDF of the canvas size.
func (m *Materializer) compose(kind Kind, size pdfdoc.Dim, paint painter) (*Spec, error) {
	px := pdfdoc.Dim{
		Width:  math.Round(m.canvas.Width * float64(m.dpi) / 72),
		Height: math.Round(m.canvas.Height * float64(m.dpi) / 72),
	}
	canvas := image.NewRGBA(image.Rect(0, 0, int(px.Width), int(px.Height)))
	xdraw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.White), image.Point{}, xdraw.Src)

	fit := pdfdoc.Fit(size, px)
	rect := image.Rect(
		int(math.Round(fit.X)),
		int(math.Round(fit.Y)),
		int(math.Round(fit.X+fit.Width)),
		int(math.Round(fit.Y+fit.Height)),
	).Intersect(canvas.Bounds())
	if rect.Empty() {
		return nil, &DecodeError{Kind: kind, Err: errEmptyImage}
	}
	paint(canvas, rect)

	var buf bytes.Buffer
	var err error
	if kind == KindJPEG {
		err = jpeg.Encode(&buf, canvas, &jpeg.Options{Quality: jpegQuality})
	} else {
		enc := png.Encoder{CompressionLevel: png.BestSpeed}
		err = enc.Encode(&buf, canvas)
	}
	if err != nil {
		return nil, err
	}

	page, err := pdfdoc.ImagePage(buf.Bytes(), m.canvas)
	if err != nil {
		return nil, err
	}
	placement := pdfdoc.Fit(size, m.canvas)
	return &Spec{Kind: kind, Page: page, Size: m.canvas, Placement: &placement}, nil
}
