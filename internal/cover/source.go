package cover

import (
	"fmt"
	"mime"
	"strings"
)

// Kind names the cover variants.
type Kind string

const (
	KindPDF  Kind = "pdf"
	KindPNG  Kind = "png"
	KindJPEG Kind = "jpeg"
	KindSVG  Kind = "svg"
)

// Source is a cover file whose media type has been resolved. The concrete
// types are PDF, Raster and Vector.
type Source interface {
	Kind() Kind
	Bytes() []byte
}

// PDF is a cover supplied as a PDF document; its first page is used.
type PDF struct{ Data []byte }

// Raster is a PNG or JPEG cover image.
type Raster struct {
	Data   []byte
	Format Kind
}

// Vector is an SVG cover image.
type Vector struct{ Data []byte }

func (c PDF) Kind() Kind       { return KindPDF }
func (c PDF) Bytes() []byte    { return c.Data }
func (c Raster) Kind() Kind    { return c.Format }
func (c Raster) Bytes() []byte { return c.Data }
func (c Vector) Kind() Kind    { return KindSVG }
func (c Vector) Bytes() []byte { return c.Data }

// UnsupportedTypeError reports a cover media type outside the accepted set.
type UnsupportedTypeError struct {
	MediaType string
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("unsupported cover type %q", e.MediaType)
}

// Parse resolves the declared media type into a cover variant. Parameters
// such as charset are ignored and matching is case-insensitive.
func Parse(data []byte, mediaType string) (Source, error) {
	mt := strings.ToLower(strings.TrimSpace(mediaType))
	if base, _, err := mime.ParseMediaType(mt); err == nil {
		mt = base
	}
	switch mt {
	case "application/pdf":
		return PDF{Data: data}, nil
	case "image/png":
		return Raster{Data: data, Format: KindPNG}, nil
	case "image/jpeg", "image/jpg":
		return Raster{Data: data, Format: KindJPEG}, nil
	case "image/svg+xml":
		return Vector{Data: data}, nil
	}
	return nil, &UnsupportedTypeError{MediaType: mediaType}
}
