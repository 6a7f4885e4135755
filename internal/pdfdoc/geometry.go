package pdfdoc

import (
	"math"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// Dim is a width/height pair in PDF points (1/72 inch) unless stated otherwise.
type Dim struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Valid reports whether both sides are strictly positive.
func (d Dim) Valid() bool { return d.Width > 0 && d.Height > 0 }

// A4 is the canvas used for image covers.
var A4 = Dim{Width: 595.28, Height: 841.89}

// Placement locates a scaled rectangle on a canvas, bottom-left origin.
type Placement struct {
	Scale  float64 `json:"scale"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Fit scales src uniformly so it fits entirely inside canvas and centers it.
func Fit(src, canvas Dim) Placement {
	s := math.Min(canvas.Width/src.Width, canvas.Height/src.Height)
	w, h := src.Width*s, src.Height*s
	return Placement{
		Scale:  s,
		X:      (canvas.Width - w) / 2,
		Y:      (canvas.Height - h) / 2,
		Width:  w,
		Height: h,
	}
}

// PaperSize resolves a canvas name. A4 uses the exact ISO size in points,
// anything else is looked up in pdfcpu's paper size table.
func PaperSize(name string) (Dim, bool) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "A4") {
		return A4, true
	}
	for k, d := range types.PaperSize {
		if strings.EqualFold(k, name) {
			return Dim{Width: d.Width, Height: d.Height}, true
		}
	}
	return Dim{}, false
}

// Num formats a content stream operand.
func Num(v float64) string {
	v = math.Round(v*10000) / 10000
	if v == 0 {
		return "0"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
