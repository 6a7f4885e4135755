// Package pdfdoc wraps the pdfcpu operations the cover pipeline relies on:
// reading and writing documents, page geometry and content stream surgery.
package pdfdoc

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

func init() {
	// pdfcpu otherwise materializes a config dir under $HOME on first use.
	api.DisableConfigDir()
}

// ErrNoPages is returned for documents whose page tree is empty.
var ErrNoPages = errors.New("document has no pages")

// NewConfiguration returns a fresh pdfcpu configuration. pdfcpu records the
// running command on the configuration, so every call gets its own.
func NewConfiguration() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	conf.WriteObjectStream = false
	return conf
}

// Document is a parsed PDF held in memory.
type Document struct {
	ctx *model.Context
}

// Read parses and validates data. Any failure means the bytes are not a
// usable PDF.
func Read(data []byte) (*Document, error) {
	if len(data) == 0 {
		return nil, errors.New("empty input")
	}
	ctx, err := readContext(data)
	if err != nil {
		return nil, err
	}
	if ctx.PageCount < 1 {
		return nil, ErrNoPages
	}
	return &Document{ctx: ctx}, nil
}

func readContext(data []byte) (ctx *model.Context, err error) {
	// pdfcpu panics on some malformed inputs instead of returning an error.
	defer func() {
		if r := recover(); r != nil {
			ctx, err = nil, fmt.Errorf("parse pdf: %v", r)
		}
	}()
	ctx, err = api.ReadContext(bytes.NewReader(data), NewConfiguration())
	if err != nil {
		return nil, fmt.Errorf("parse pdf: %w", err)
	}
	if err := api.ValidateContext(ctx); err != nil {
		return nil, fmt.Errorf("validate pdf: %w", err)
	}
	return ctx, nil
}

// PageCount is the number of pages in the document.
func (d *Document) PageCount() int { return d.ctx.PageCount }

// PageSize returns the mediabox dimensions of page nr (1-based), inherited
// attributes included.
func (d *Document) PageSize(nr int) (Dim, error) {
	box, err := d.mediaBox(nr)
	if err != nil {
		return Dim{}, err
	}
	return Dim{Width: box.Width(), Height: box.Height()}, nil
}

func (d *Document) mediaBox(nr int) (*types.Rectangle, error) {
	pd, _, inh, err := d.ctx.PageDict(nr, false)
	if err != nil {
		return nil, fmt.Errorf("page %d: %w", nr, err)
	}
	if pd == nil {
		return nil, fmt.Errorf("page %d: not found", nr)
	}
	if inh != nil && inh.MediaBox != nil {
		return inh.MediaBox, nil
	}
	if o, ok := pd.Find("MediaBox"); ok {
		arr, err := d.ctx.DereferenceArray(o)
		if err == nil && len(arr) == 4 {
			return d.ctx.RectForArray(arr)
		}
	}
	return nil, fmt.Errorf("page %d: missing mediabox", nr)
}

// Bytes serializes the document.
func (d *Document) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := api.WriteContext(d.ctx, &buf); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// Wrap surrounds the content of page nr with two new content streams. The
// page's existing streams are kept untouched in between.
func (d *Document) Wrap(nr int, prefix, suffix []byte) error {
	pd, _, _, err := d.ctx.PageDict(nr, false)
	if err != nil {
		return fmt.Errorf("page %d: %w", nr, err)
	}
	pre, err := d.newStream(prefix)
	if err != nil {
		return err
	}
	suf, err := d.newStream(suffix)
	if err != nil {
		return err
	}

	contents := types.Array{*pre}
	if o, ok := pd.Find("Contents"); ok && o != nil {
		existing, err := d.ctx.Dereference(o)
		if err != nil {
			return fmt.Errorf("page %d contents: %w", nr, err)
		}
		if arr, ok := existing.(types.Array); ok {
			contents = append(contents, arr...)
		} else {
			contents = append(contents, o)
		}
	}
	contents = append(contents, *suf)
	pd.Update("Contents", contents)
	return nil
}

func (d *Document) newStream(content []byte) (*types.IndirectRef, error) {
	sd, err := d.ctx.NewStreamDictForBuf(content)
	if err != nil {
		return nil, fmt.Errorf("content stream: %w", err)
	}
	if err := sd.Encode(); err != nil {
		return nil, fmt.Errorf("encode content stream: %w", err)
	}
	return d.ctx.IndRefForNewObject(*sd)
}

// SetPageSize makes dim the only page box of page nr: the mediabox becomes
// [0 0 w h] and crop, bleed, trim and art boxes are dropped.
func (d *Document) SetPageSize(nr int, dim Dim) error {
	pd, _, _, err := d.ctx.PageDict(nr, false)
	if err != nil {
		return fmt.Errorf("page %d: %w", nr, err)
	}
	pd.Update("MediaBox", types.RectForDim(dim.Width, dim.Height).Array())
	for _, k := range []string{"CropBox", "BleedBox", "TrimBox", "ArtBox"} {
		pd.Delete(k)
	}
	return nil
}

// Origin returns the lower-left corner of page nr's mediabox.
func (d *Document) Origin(nr int) (x, y float64, err error) {
	box, err := d.mediaBox(nr)
	if err != nil {
		return 0, 0, err
	}
	return box.LL.X, box.LL.Y, nil
}

// Select keeps only the pages named by the pdfcpu page selection (e.g. "2-7").
func Select(data []byte, selection string) ([]byte, error) {
	var buf bytes.Buffer
	if err := api.Trim(bytes.NewReader(data), &buf, []string{selection}, NewConfiguration()); err != nil {
		return nil, fmt.Errorf("select pages %s: %w", selection, err)
	}
	return buf.Bytes(), nil
}

// Concat appends the documents into one, in order.
func Concat(docs ...[]byte) ([]byte, error) {
	if len(docs) == 1 {
		return docs[0], nil
	}
	rsc := make([]io.ReadSeeker, 0, len(docs))
	for _, d := range docs {
		rsc = append(rsc, bytes.NewReader(d))
	}
	var buf bytes.Buffer
	if err := api.MergeRaw(rsc, &buf, false, NewConfiguration()); err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}
	return buf.Bytes(), nil
}

// ImagePage builds a one page document of size dim whose page is filled by
// the encoded PNG or JPEG image. pdfcpu sizes imported pages after the
// image's pixel dimensions, so the page is scaled onto dim afterwards.
func ImagePage(img []byte, dim Dim) ([]byte, error) {
	if !dim.Valid() {
		return nil, fmt.Errorf("image page: invalid size %sx%s", Num(dim.Width), Num(dim.Height))
	}
	imp, err := api.Import(fmt.Sprintf("dim:%s %s, pos:full", Num(dim.Width), Num(dim.Height)), types.POINTS)
	if err != nil {
		return nil, fmt.Errorf("import details: %w", err)
	}
	var buf bytes.Buffer
	if err := api.ImportImages(nil, &buf, []io.Reader{bytes.NewReader(img)}, imp, NewConfiguration()); err != nil {
		return nil, fmt.Errorf("import image: %w", err)
	}

	doc, err := Read(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("read image page: %w", err)
	}
	got, err := doc.PageSize(1)
	if err != nil {
		return nil, err
	}
	x, y, err := doc.Origin(1)
	if err != nil {
		return nil, err
	}
	sx, sy := dim.Width/got.Width, dim.Height/got.Height
	pre := fmt.Sprintf("q %s 0 0 %s %s %s cm\n", Num(sx), Num(sy), Num(-x*sx), Num(-y*sy))
	if err := doc.Wrap(1, []byte(pre), []byte("\nQ\n")); err != nil {
		return nil, err
	}
	if err := doc.SetPageSize(1, dim); err != nil {
		return nil, err
	}
	return doc.Bytes()
}

// PageCount parses data and reports its page count.
func PageCount(data []byte) (int, error) {
	return api.PageCount(bytes.NewReader(data), NewConfiguration())
}
