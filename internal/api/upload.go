package api

import (
	"net/http"

	"github.com/local/pdfcover/internal/upload"
)

func (s *Server) handleUploadChunk(w http.ResponseWriter, r *http.Request) {
	if err := parseForm(w, r, s.deps.MaxChunkBytes+1<<20); err != nil {
		s.fail(w, r, err)
		return
	}
	defer cleanupForm(r)

	f, _, err := r.FormFile("chunk")
	if err == http.ErrMissingFile {
		writeError(w, http.StatusBadRequest, "No chunk provided")
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer f.Close()

	fileID, field := r.FormValue("fileId"), r.FormValue("fieldName")
	if fileID == "" || field == "" || r.FormValue("chunkIndex") == "" || r.FormValue("totalChunks") == "" {
		writeError(w, http.StatusBadRequest, "Missing required metadata")
		return
	}
	index, err := intField(r.Form, "chunkIndex", 0)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	total, err := intField(r.Form, "totalChunks", 0)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	st, err := s.deps.Uploads.SaveChunk(r.Context(), upload.Chunk{
		FileID:       fileID,
		Index:        index,
		Total:        total,
		Field:        field,
		OriginalName: r.FormValue("originalName"),
		Data:         f,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Success bool `json:"success"`
		*upload.ChunkStatus
	}{true, st})
}

func (s *Server) handleUploadSingle(w http.ResponseWriter, r *http.Request) {
	if err := parseForm(w, r, s.deps.MaxUploadBytes); err != nil {
		s.fail(w, r, err)
		return
	}
	defer cleanupForm(r)

	f, hdr, err := r.FormFile("file")
	if err == http.ErrMissingFile {
		writeError(w, http.StatusBadRequest, "No file provided")
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer f.Close()

	name := r.FormValue("originalName")
	if name == "" {
		name = hdr.Filename
	}
	meta, err := s.deps.Uploads.SaveSingle(r.Context(), r.FormValue("fieldName"), name, f)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "fileId": meta.FileID})
}
