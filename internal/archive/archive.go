// Package archive reads input ZIP archives of PDFs and writes result
// archives.
package archive

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
)

// Entry is one named file inside an archive.
type Entry struct {
	Name string
	Data []byte
}

// ErrNotArchive wraps archives that cannot be opened at all.
var ErrNotArchive = errors.New("not a zip archive")

// ErrEntryTooLarge is returned when an entry inflates beyond the limit.
var ErrEntryTooLarge = errors.New("archive entry too large")

// MaxEntrySize caps the inflated size of a single PDF entry.
var MaxEntrySize int64 = 512 << 20

// IsPDFName reports whether an entry name ends in .pdf (any case) and is a
// regular file rather than a directory or a hidden metadata entry.
func IsPDFName(name string) bool {
	if name == "" || strings.HasSuffix(name, "/") {
		return false
	}
	base := path.Base(name)
	if strings.HasPrefix(name, "__MACOSX/") || strings.HasPrefix(base, "._") {
		return false
	}
	return strings.EqualFold(path.Ext(base), ".pdf")
}

// Reader lists the PDF entries of an archive in archive order.
type Reader struct {
	files []*zip.File
}

// Open indexes the PDF entries of the archive in r.
func Open(r io.ReaderAt, size int64) (*Reader, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotArchive, err)
	}
	out := &Reader{}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !IsPDFName(f.Name) {
			continue
		}
		out.files = append(out.files, f)
	}
	return out, nil
}

// Len is the number of PDF entries.
func (r *Reader) Len() int { return len(r.files) }

// Names returns the PDF entry names in archive order.
func (r *Reader) Names() []string {
	out := make([]string, len(r.files))
	for i, f := range r.files {
		out[i] = f.Name
	}
	return out
}

// Chunks splits the entries into consecutive groups of at most size.
// A non-positive size yields a single group.
func (r *Reader) Chunks(size int) [][]*zip.File {
	if len(r.files) == 0 {
		return nil
	}
	if size <= 0 {
		size = len(r.files)
	}
	var out [][]*zip.File
	for start := 0; start < len(r.files); start += size {
		end := start + size
		if end > len(r.files) {
			end = len(r.files)
		}
		out = append(out, r.files[start:end])
	}
	return out
}

// Load inflates files into entries, keeping their order.
func Load(files []*zip.File) ([]Entry, error) {
	out := make([]Entry, 0, len(files))
	for _, f := range files {
		data, err := readFile(f)
		if err != nil {
			return nil, err
		}
		out = append(out, Entry{Name: f.Name, Data: data})
	}
	return out, nil
}

func readFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, MaxEntrySize+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Name, err)
	}
	if int64(len(data)) > MaxEntrySize {
		return nil, fmt.Errorf("%s: %w", f.Name, ErrEntryTooLarge)
	}
	return data, nil
}

// Extract returns every PDF entry of the archive, in archive order.
func Extract(data []byte) ([]Entry, error) {
	r, err := Open(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	return Load(r.files)
}

// Writer streams entries into a ZIP using fast DEFLATE.
type Writer struct {
	zw    *zip.Writer
	taken map[string]bool
	// next is the last suffix handed out per base name.
	next map[string]int
}

// NewWriter starts an archive on w.
func NewWriter(w io.Writer) *Writer {
	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestSpeed)
	})
	return &Writer{zw: zw, taken: map[string]bool{}, next: map[string]int{}}
}

// Add writes one entry. Repeated names get a numeric suffix so no entry is
// overwritten when extracted.
func (w *Writer) Add(name string, data []byte) error {
	name = w.unique(name)
	fw, err := w.zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	if _, err := fw.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

var copySuffix = regexp.MustCompile(` \(\d+\)$`)

// unique returns name, or "stem (n).ext" with the lowest n above any suffix
// already handed out for that stem. A name that already carries a " (n)"
// suffix counts towards its bare stem.
func (w *Writer) unique(name string) string {
	if !w.taken[name] {
		w.taken[name] = true
		return name
	}
	ext := path.Ext(name)
	stem := copySuffix.ReplaceAllString(strings.TrimSuffix(name, ext), "")
	key := stem + ext
	for n := w.next[key] + 1; ; n++ {
		candidate := fmt.Sprintf("%s (%d)%s", stem, n, ext)
		if !w.taken[candidate] {
			w.next[key] = n
			w.taken[candidate] = true
			return candidate
		}
	}
}

// Close finishes the central directory.
func (w *Writer) Close() error { return w.zw.Close() }

// Build packs entries into a ZIP held in memory.
func Build(entries []Entry) ([]byte, error) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	for _, e := range entries {
		if err := w.Add(e.Name, e.Data); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
