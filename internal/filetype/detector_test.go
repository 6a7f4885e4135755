package filetype

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var (
	pngMagic = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	pdfMagic = []byte("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n1 0 obj\n")
	zipMagic = []byte("PK\x03\x04\x14\x00\x00\x00\x08\x00")
	svgDoc   = []byte(`<svg xmlns="http://www.w3.org/2000/svg" width="10" height="10"></svg>`)
)

func TestDetect(t *testing.T) {
	d := New()
	tests := []struct {
		name string
		data []byte
		mime string
		role Role
	}{
		{"pdf", pdfMagic, "application/pdf", RoleDocument},
		{"png", pngMagic, "image/png", RoleCover},
		{"svg", svgDoc, "image/svg+xml", RoleCover},
		{"zip", zipMagic, "application/zip", RoleArchive},
		{"text", []byte("hello world"), "text/plain", RoleUnsupported},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			info := d.Detect(tc.data)
			assert.Equal(t, tc.mime, info.MIMEType)
			assert.Equal(t, tc.role, info.Role)
			assert.Equal(t, tc.role != RoleUnsupported, info.Supported())
		})
	}
}

func TestCoverType(t *testing.T) {
	d := New()
	assert.Equal(t, "image/png", d.CoverType(pngMagic, "application/octet-stream", "cover.bin"))
	assert.Equal(t, "image/png", d.CoverType(pngMagic, "image/jpeg", "cover.jpg"))
	assert.Equal(t, "application/pdf", d.CoverType(pdfMagic, "", "cover"))
	assert.Equal(t, "image/svg+xml", d.CoverType(svgDoc, "text/xml", "cover.svg"))
	assert.Equal(t, "image/gif", d.CoverType([]byte("GIF89a\x01\x00"), "image/gif", "cover.gif"))
	assert.Equal(t, "image/gif", d.CoverType([]byte("not really"), "", "cover.gif"))
}

func TestIsZip(t *testing.T) {
	d := New()
	assert.True(t, d.IsZip(zipMagic))
	assert.False(t, d.IsZip(pdfMagic))
}
