package filetype

import (
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"
)

// Role says what an uploaded file can be used for.
type Role string

const (
	RoleDocument    Role = "document"
	RoleCover       Role = "cover"
	RoleArchive     Role = "archive"
	RoleUnsupported Role = "unsupported"
)

// FileTypeInfo contains detected file type information
type FileTypeInfo struct {
	MIMEType    string
	Extension   string
	Role        Role
	Description string
}

// Supported reports whether the file can be used at all.
func (i *FileTypeInfo) Supported() bool { return i.Role != RoleUnsupported }

// Detector handles file type detection using magic bytes
type Detector struct{}

// New creates a new file type detector
func New() *Detector {
	return &Detector{}
}

// Detect detects the actual file type using magic bytes, not filename
func (d *Detector) Detect(data []byte) *FileTypeInfo {
	mtype := mimetype.Detect(data)
	info := &FileTypeInfo{
		MIMEType:  baseType(mtype.String()),
		Extension: mtype.Extension(),
	}
	d.classify(info)
	return info
}

// CoverType reconciles the media type a client declared for a cover with
// the one sniffed from its bytes. A sniffed cover type wins; otherwise the
// declared type is kept so it can be rejected with its own name.
func (d *Detector) CoverType(data []byte, declared, filename string) string {
	info := d.Detect(data)
	declared = baseType(declared)
	if info.Role == RoleCover || info.MIMEType == "application/pdf" {
		if declared != "" && declared != info.MIMEType && !sameJPEG(declared, info.MIMEType) {
			log.Debug().Str("declared", declared).Str("detected", info.MIMEType).Str("file", filename).Msg("cover type overridden by content")
		}
		return info.MIMEType
	}
	if declared == "" || declared == "application/octet-stream" {
		if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); byExt != "" {
			return baseType(byExt)
		}
		return info.MIMEType
	}
	return declared
}

// IsZip reports whether data starts like a ZIP archive.
func (d *Detector) IsZip(data []byte) bool {
	return d.Detect(data).Role == RoleArchive
}

// classify determines what the file can be used for
func (d *Detector) classify(info *FileTypeInfo) {
	switch info.MIMEType {
	case "application/pdf":
		info.Role = RoleDocument
		info.Description = "PDF document"
	case "image/png":
		info.Role = RoleCover
		info.Description = "PNG image"
	case "image/jpeg":
		info.Role = RoleCover
		info.Description = "JPEG image"
	case "image/svg+xml":
		info.Role = RoleCover
		info.Description = "SVG drawing"
	case "application/zip":
		info.Role = RoleArchive
		info.Description = "ZIP archive"
	default:
		info.Role = RoleUnsupported
		info.Description = "Unsupported file type: " + info.MIMEType
	}
}

func baseType(mt string) string {
	mt = strings.ToLower(strings.TrimSpace(mt))
	if base, _, err := mime.ParseMediaType(mt); err == nil {
		return base
	}
	return mt
}

func sameJPEG(a, b string) bool {
	isJPEG := func(s string) bool { return s == "image/jpeg" || s == "image/jpg" }
	return isJPEG(a) && isJPEG(b)
}
