package batch

import (
	"fmt"
	"io"

	"github.com/local/pdfcover/internal/archive"
)

// Assembler recombines chunk results into one archive and one report. Chunks
// must be added in chunk order; each chunk's entries are streamed out as soon
// as it is added, so only one chunk is held in memory at a time.
type Assembler struct {
	w      *archive.Writer
	report Report
	next   int
}

// NewAssembler streams the combined archive to w.
func NewAssembler(w io.Writer) *Assembler {
	return &Assembler{w: archive.NewWriter(w)}
}

// Add appends one chunk result.
func (a *Assembler) Add(res *Result) error {
	if res.Chunk != a.next {
		return fmt.Errorf("chunk %d added out of order, expected %d", res.Chunk, a.next)
	}
	for _, e := range res.Entries {
		if err := a.w.Add(e.Name, e.Data); err != nil {
			return err
		}
	}
	a.report = Merge(a.report, res.Report)
	a.next++
	return nil
}

// Close finishes the archive and returns the combined report.
func (a *Assembler) Close() (Report, error) {
	if err := a.w.Close(); err != nil {
		return nil, err
	}
	return a.report, nil
}
