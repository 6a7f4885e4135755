package batch

import (
	"encoding/json"
	"strings"
)

// Outcome is the per-document entry of a processing report.
type Outcome struct {
	Name          string `json:"name"`
	OriginalPages int    `json:"originalPages"`
	FinalPages    int    `json:"finalPages"`
	Success       bool   `json:"success"`
	Error         string `json:"error,omitempty"`
}

// Report lists one outcome per input document, in input order.
type Report []Outcome

// Succeeded counts successful outcomes.
func (r Report) Succeeded() int {
	n := 0
	for _, o := range r {
		if o.Success {
			n++
		}
	}
	return n
}

// Failed counts failed outcomes.
func (r Report) Failed() int { return len(r) - r.Succeeded() }

// Header renders the report as compact JSON for the X-Process-Report header.
// Header values cannot carry line breaks, so error text is flattened.
func (r Report) Header() (string, error) {
	flat := make(Report, len(r))
	copy(flat, r)
	for i := range flat {
		flat[i].Error = strings.Join(strings.Fields(flat[i].Error), " ")
	}
	b, err := json.Marshal(flat)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Merge concatenates chunk reports in chunk order.
func Merge(chunks ...Report) Report {
	n := 0
	for _, c := range chunks {
		n += len(c)
	}
	out := make(Report, 0, n)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}
