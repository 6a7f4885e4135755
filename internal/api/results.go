package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/local/pdfcover/internal/cover"
	"github.com/local/pdfcover/internal/pdfdoc"
	"github.com/local/pdfcover/internal/preview"
)

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !idPattern.MatchString(id) {
		writeError(w, http.StatusBadRequest, "invalid report id")
		return
	}
	sum, ok, err := s.deps.Reports.Get(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "report not found")
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !idPattern.MatchString(id) {
		writeError(w, http.StatusBadRequest, "invalid result id")
		return
	}
	data, err := s.deps.Results.Get(r.Context(), id+".zip")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	h := w.Header()
	h.Set("Content-Type", "application/zip")
	h.Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.zip"`, id))
	h.Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// handleCoverPreview materializes the uploaded cover and returns its page as
// JPEG, with the page size in points in X-Cover-Size.
func (s *Server) handleCoverPreview(w http.ResponseWriter, r *http.Request) {
	if err := parseForm(w, r, s.deps.MaxUploadBytes); err != nil {
		s.fail(w, r, err)
		return
	}
	defer cleanupForm(r)

	data, mediaType, err := s.coverPart(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if data == nil {
		writeError(w, http.StatusBadRequest, "No cover file provided")
		return
	}
	dpi, err := intField(r.Form, "dpi", 72)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if dpi < 18 || dpi > 300 {
		writeError(w, http.StatusBadRequest, "dpi must be between 18 and 300")
		return
	}
	src, err := cover.Parse(data, mediaType)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	spec, err := cover.NewMaterializer(s.deps.Cover).Materialize(src)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	img, err := preview.RenderPage(spec.Page, preview.Options{DPI: dpi})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	h := w.Header()
	h.Set("Content-Type", "image/jpeg")
	h.Set("Content-Length", strconv.Itoa(len(img.JPEG)))
	h.Set("X-Cover-Size", pdfdoc.Num(spec.Size.Width)+"x"+pdfdoc.Num(spec.Size.Height))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img.JPEG)
}
