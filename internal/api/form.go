package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/local/pdfcover/internal/batch"
)

const memoryLimit = 32 << 20

// parseForm reads a multipart body of at most limit bytes. Parts beyond
// memoryLimit spill to temp files, which cleanupForm removes.
func parseForm(w http.ResponseWriter, r *http.Request, limit int64) error {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(memoryLimit); err != nil {
		return bodyError("multipart form", err)
	}
	return nil
}

// bodyError turns a body parsing failure into a validation error. Only an
// oversized body keeps its own type so it maps to 413.
func bodyError(kind string, err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return fmt.Errorf("invalid %s: %w", kind, err)
	}
	return &batch.ValidationError{Message: fmt.Sprintf("invalid %s: %v", kind, err)}
}

func cleanupForm(r *http.Request) {
	if r.MultipartForm != nil {
		_ = r.MultipartForm.RemoveAll()
	}
}

// formFile returns the bytes of an uploaded part, or nil when it is absent.
func formFile(r *http.Request, field string) ([]byte, *multipart.FileHeader, error) {
	f, hdr, err := r.FormFile(field)
	if err == http.ErrMissingFile {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, nil, err
	}
	return data, hdr, nil
}

func intField(v url.Values, field string, def int) (int, error) {
	s := strings.TrimSpace(v.Get(field))
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, &batch.ValidationError{Field: field, Message: fmt.Sprintf("%q is not an integer", s)}
	}
	return n, nil
}

func boolField(v url.Values, field string) bool {
	switch strings.ToLower(strings.TrimSpace(v.Get(field))) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func (s *Server) bands(v url.Values) (footer, header int, err error) {
	if footer, err = intField(v, "footerHeightPx", s.deps.DefaultFooter); err != nil {
		return 0, 0, err
	}
	if header, err = intField(v, "headerHeightPx", s.deps.DefaultHeader); err != nil {
		return 0, 0, err
	}
	return footer, header, nil
}

// values reads urlencoded, multipart or flat JSON object bodies into one set
// of form values.
func values(w http.ResponseWriter, r *http.Request, limit int64) (url.Values, error) {
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mt {
	case "application/json":
		var raw map[string]any
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit)).Decode(&raw); err != nil {
			return nil, bodyError("JSON body", err)
		}
		out := url.Values{}
		for k, v := range raw {
			switch t := v.(type) {
			case string:
				out.Set(k, t)
			case float64:
				out.Set(k, strconv.FormatFloat(t, 'f', -1, 64))
			case bool:
				out.Set(k, strconv.FormatBool(t))
			}
		}
		return out, nil
	case "multipart/form-data":
		if err := parseForm(w, r, limit); err != nil {
			return nil, err
		}
		return r.Form, nil
	default:
		r.Body = http.MaxBytesReader(w, r.Body, limit)
		if err := r.ParseForm(); err != nil {
			return nil, bodyError("form body", err)
		}
		return r.Form, nil
	}
}
