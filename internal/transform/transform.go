// Package transform replaces the first page of a document with a cover,
// drops its last page and masks header and footer bands on every page kept
// in between.
package transform

import (
	"fmt"
	"strings"

	"github.com/local/pdfcover/internal/cover"
	"github.com/local/pdfcover/internal/pdfdoc"
)

// Bands are the heights, in points, of the white rectangles painted over
// the bottom (Footer) and top (Header) edge of interior pages.
type Bands struct {
	Footer float64
	Header float64
}

// Result is a transformed document.
type Result struct {
	PDF           []byte
	OriginalPages int
	FinalPages    int
	// CoverSize is the size of the source's first page, which the cover takes.
	CoverSize pdfdoc.Dim
}

// SourceDecodeError reports a source document that could not be parsed.
type SourceDecodeError struct {
	Err error
}

func (e *SourceDecodeError) Error() string { return "decode source pdf: " + e.Err.Error() }
func (e *SourceDecodeError) Unwrap() error { return e.Err }

// Apply transforms src. The output has the cover sized to src's first page,
// followed by src's pages 2..n-1 with bands masked. Documents of one or two
// pages come back as the cover alone. Equal inputs give byte-identical
// output.
func Apply(src []byte, spec *cover.Spec, bands Bands) (*Result, error) {
	if spec == nil || len(spec.Page) == 0 {
		return nil, fmt.Errorf("transform: missing cover")
	}
	doc, err := pdfdoc.Read(src)
	if err != nil {
		return nil, &SourceDecodeError{Err: err}
	}
	n := doc.PageCount()
	target, err := doc.PageSize(1)
	if err != nil {
		return nil, &SourceDecodeError{Err: err}
	}

	coverPage, err := fitCover(spec, target)
	if err != nil {
		return nil, err
	}
	res := &Result{OriginalPages: n, FinalPages: 1, CoverSize: target}
	if n <= 2 {
		if res.PDF, err = pdfdoc.Canonical(coverPage); err != nil {
			return nil, err
		}
		return res, nil
	}

	for nr := 2; nr <= n-1; nr++ {
		if err := mask(doc, nr, bands); err != nil {
			return nil, err
		}
	}
	masked, err := doc.Bytes()
	if err != nil {
		return nil, err
	}
	interior, err := pdfdoc.Select(masked, pageRange(2, n-1))
	if err != nil {
		return nil, err
	}
	out, err := pdfdoc.Concat(coverPage, interior)
	if err != nil {
		return nil, err
	}
	if res.PDF, err = pdfdoc.Canonical(out); err != nil {
		return nil, err
	}
	res.FinalPages = 1 + (n - 2)
	return res, nil
}

func pageRange(from, to int) string {
	if from == to {
		return fmt.Sprint(from)
	}
	return fmt.Sprintf("%d-%d", from, to)
}

// fitCover returns the cover page resized to target. Content is scaled
// uniformly and centered; the page boxes become exactly target.
func fitCover(spec *cover.Spec, target pdfdoc.Dim) ([]byte, error) {
	doc, err := pdfdoc.Read(spec.Page)
	if err != nil {
		return nil, fmt.Errorf("read cover page: %w", err)
	}
	size, err := doc.PageSize(1)
	if err != nil {
		return nil, fmt.Errorf("cover page: %w", err)
	}
	ox, oy, err := doc.Origin(1)
	if err != nil {
		return nil, fmt.Errorf("cover page: %w", err)
	}
	p := pdfdoc.Fit(size, target)
	if !isIdentity(p, ox, oy) {
		tx := p.X - ox*p.Scale
		ty := p.Y - oy*p.Scale
		pre := fmt.Sprintf("q %s 0 0 %s %s %s cm\n", pdfdoc.Num(p.Scale), pdfdoc.Num(p.Scale), pdfdoc.Num(tx), pdfdoc.Num(ty))
		if err := doc.Wrap(1, []byte(pre), []byte("\nQ\n")); err != nil {
			return nil, err
		}
	}
	if err := doc.SetPageSize(1, target); err != nil {
		return nil, err
	}
	return doc.Bytes()
}

func isIdentity(p pdfdoc.Placement, ox, oy float64) bool {
	const eps = 1e-6
	near := func(a, b float64) bool { return a-b < eps && b-a < eps }
	return near(p.Scale, 1) && near(p.X, 0) && near(p.Y, 0) && near(ox, 0) && near(oy, 0)
}

// mask paints the footer and header bands over page nr, on top of its
// existing content. Zero-height bands are not drawn.
func mask(doc *pdfdoc.Document, nr int, bands Bands) error {
	if bands.Footer <= 0 && bands.Header <= 0 {
		return nil
	}
	size, err := doc.PageSize(nr)
	if err != nil {
		return err
	}
	x, y, err := doc.Origin(nr)
	if err != nil {
		return err
	}
	var b strings.Builder
	b.WriteString("\nQ\nq\n1 1 1 rg\n")
	if bands.Footer > 0 {
		fmt.Fprintf(&b, "%s %s %s %s re f\n", pdfdoc.Num(x), pdfdoc.Num(y), pdfdoc.Num(size.Width), pdfdoc.Num(bands.Footer))
	}
	if bands.Header > 0 {
		fmt.Fprintf(&b, "%s %s %s %s re f\n", pdfdoc.Num(x), pdfdoc.Num(y+size.Height-bands.Header), pdfdoc.Num(size.Width), pdfdoc.Num(bands.Header))
	}
	b.WriteString("Q\n")
	return doc.Wrap(nr, []byte("q\n"), []byte(b.String()))
}
