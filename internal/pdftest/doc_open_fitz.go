package pdftest

import (
	"image"

	fitz "github.com/gen2brain/go-fitz"
)

// Doc abstracts a rendered PDF document.
type Doc interface {
	NumPage() int
	Image(i int, dpi float64) (*image.RGBA, error)
	Close() error
}

// Opener abstracts opening PDF bytes into a Doc.
type Opener interface {
	Open(data []byte) (Doc, error)
}

var defaultOpener Opener = fitzOpener{}

// fitzOpener implements Opener using github.com/gen2brain/go-fitz.
type fitzOpener struct{}

func (fitzOpener) Open(data []byte) (Doc, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, err
	}
	return fitzDoc{doc}, nil
}

type fitzDoc struct{ *fitz.Document }

func (d fitzDoc) Image(i int, dpi float64) (*image.RGBA, error) {
	return d.Document.ImageDPI(i, dpi)
}
