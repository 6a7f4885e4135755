package pdfdoc

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

const canonicalHeader = "%PDF-1.7\n%\xe2\xe3\xcf\xd3\n"

// Canonical rewrites data so that documents with the same object graph
// serialize to the same bytes. pdfcpu numbers objects in map order when it
// merges or trims and stamps every write with a fresh ID and ModDate.
//
// Objects reachable from the catalog are renumbered in traversal order with
// dictionary keys sorted; the info dictionary and the file identifier are
// dropped; the file ends with a classic cross-reference table. Encrypted
// documents are returned unchanged.
func Canonical(data []byte) ([]byte, error) {
	doc, err := Read(data)
	if err != nil {
		return nil, err
	}
	if doc.ctx.Encrypt != nil {
		return data, nil
	}
	if doc.ctx.Root == nil {
		return nil, errors.New("canonical: missing catalog")
	}

	w := &canonWriter{doc: doc, nums: map[int]int{}}
	w.number(*doc.ctx.Root)

	var out bytes.Buffer
	out.WriteString(canonicalHeader)
	offsets := make([]int, 0, 64)
	for i := 0; i < len(w.refs); i++ {
		offsets = append(offsets, out.Len())
		if err := w.writeObject(&out, i+1, w.refs[i]); err != nil {
			return nil, err
		}
	}

	xref := out.Len()
	fmt.Fprintf(&out, "xref\n0 %d\n0000000000 65535 f \n", len(offsets)+1)
	for _, off := range offsets {
		fmt.Fprintf(&out, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&out, "trailer\n<</Root 1 0 R/Size %d>>\nstartxref\n%d\n", len(offsets)+1, xref)
	out.WriteString("%%EOF\n")
	return out.Bytes(), nil
}

type canonWriter struct {
	doc *Document
	// nums maps source object numbers to output object numbers.
	nums map[int]int
	refs []types.IndirectRef
}

func (w *canonWriter) number(ref types.IndirectRef) int {
	src := ref.ObjectNumber.Value()
	if n, ok := w.nums[src]; ok {
		return n
	}
	w.refs = append(w.refs, ref)
	n := len(w.refs)
	w.nums[src] = n
	return n
}

func (w *canonWriter) writeObject(out *bytes.Buffer, nr int, ref types.IndirectRef) error {
	obj, err := w.doc.ctx.Dereference(ref)
	if err != nil {
		return fmt.Errorf("canonical: object %d: %w", ref.ObjectNumber.Value(), err)
	}
	fmt.Fprintf(out, "%d 0 obj\n", nr)
	switch v := obj.(type) {
	case types.StreamDict:
		err = w.writeStream(out, &v)
	case *types.StreamDict:
		err = w.writeStream(out, v)
	default:
		err = w.writeValue(out, obj)
	}
	if err != nil {
		return err
	}
	out.WriteString("\nendobj\n")
	return nil
}

func (w *canonWriter) writeStream(out *bytes.Buffer, sd *types.StreamDict) error {
	if sd.Raw == nil && sd.Content != nil {
		if err := sd.Encode(); err != nil {
			return fmt.Errorf("canonical: encode stream: %w", err)
		}
	}
	d := types.Dict{}
	for k, v := range sd.Dict {
		d[k] = v
	}
	d["Length"] = types.Integer(len(sd.Raw))
	if err := w.writeDict(out, d); err != nil {
		return err
	}
	out.WriteString("\nstream\n")
	out.Write(sd.Raw)
	out.WriteString("\nendstream")
	return nil
}

func (w *canonWriter) writeValue(out *bytes.Buffer, o types.Object) error {
	switch v := o.(type) {
	case nil:
		out.WriteString("null")
	case types.IndirectRef:
		fmt.Fprintf(out, "%d 0 R", w.number(v))
	case *types.IndirectRef:
		if v == nil {
			out.WriteString("null")
			return nil
		}
		fmt.Fprintf(out, "%d 0 R", w.number(*v))
	case types.Dict:
		return w.writeDict(out, v)
	case types.Array:
		out.WriteByte('[')
		for i, e := range v {
			if i > 0 {
				out.WriteByte(' ')
			}
			if err := w.writeValue(out, e); err != nil {
				return err
			}
		}
		out.WriteByte(']')
	case types.StreamDict, *types.StreamDict:
		return errors.New("canonical: direct stream object")
	default:
		out.WriteString(v.PDFString())
	}
	return nil
}

func (w *canonWriter) writeDict(out *bytes.Buffer, d types.Dict) error {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out.WriteString("<<")
	for _, k := range keys {
		out.WriteString(types.Name(k).PDFString())
		out.WriteByte(' ')
		if err := w.writeValue(out, d[k]); err != nil {
			return err
		}
	}
	out.WriteString(">>")
	return nil
}
