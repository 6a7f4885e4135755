package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/local/pdfcover/internal/archive"
	"github.com/local/pdfcover/internal/batch"
)

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	release, ok := s.admit(w, r)
	if !ok {
		return
	}
	defer release()
	if err := parseForm(w, r, s.deps.MaxUploadBytes); err != nil {
		s.fail(w, r, err)
		return
	}
	defer cleanupForm(r)

	zipData, _, err := formFile(r, "filesZip")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	coverData, coverType, err := s.coverPart(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if zipData == nil || coverData == nil {
		writeError(w, http.StatusBadRequest, "Missing required files: filesZip and cover")
		return
	}
	footer, header, err := s.bands(r.Form)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	docs, err := archive.Extract(zipData)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.deps.Batches.Run(r.Context(), batch.Request{
		Documents: docs,
		Cover:     coverData,
		CoverType: coverType,
		Footer:    footer,
		Header:    header,
		Final:     true,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondArchive(w, r, res)
}

func (s *Server) handleProcessChunk(w http.ResponseWriter, r *http.Request) {
	release, ok := s.admit(w, r)
	if !ok {
		return
	}
	defer release()
	if err := parseForm(w, r, s.deps.MaxUploadBytes); err != nil {
		s.fail(w, r, err)
		return
	}
	defer cleanupForm(r)

	zipData, _, err := formFile(r, "zipChunk")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if zipData == nil {
		writeError(w, http.StatusBadRequest, "Missing zipChunk file")
		return
	}
	coverData, coverType, err := s.coverPart(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	footer, header, err := s.bands(r.Form)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	chunk, err := intField(r.Form, "chunkIndex", 0)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	batchID := r.FormValue("batchId")
	if batchID != "" && !idPattern.MatchString(batchID) {
		writeError(w, http.StatusBadRequest, "invalid batchId")
		return
	}
	docs, err := archive.Extract(zipData)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.deps.Batches.Run(r.Context(), batch.Request{
		BatchID:   batchID,
		Documents: docs,
		Cover:     coverData,
		CoverType: coverType,
		Footer:    footer,
		Header:    header,
		Chunk:     chunk,
		Final:     boolField(r.Form, "final"),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if r.FormValue("format") == "json" {
		s.respondJSON(w, r, res)
		return
	}
	s.respondArchive(w, r, res)
}

// handleProcessUploaded runs a reassembled upload from disk chunk by chunk,
// so only one chunk of documents is in memory at a time. The output archive
// is assembled in a temp file.
func (s *Server) handleProcessUploaded(w http.ResponseWriter, r *http.Request) {
	release, ok := s.admit(w, r)
	if !ok {
		return
	}
	defer release()
	form, err := values(w, r, 1<<20)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer cleanupForm(r)

	zipID, coverID := form.Get("zipFileId"), form.Get("coverFileId")
	if zipID == "" || coverID == "" {
		s.discard(r, zipID, coverID)
		writeError(w, http.StatusBadRequest, "Missing file IDs")
		return
	}
	// uploads are single use whatever the outcome; the open zip stays
	// readable after its file is removed
	zipFile, _, zipErr := s.deps.Uploads.Open(r.Context(), zipID, "filesZip")
	coverData, meta, coverErr := s.deps.Uploads.Read(r.Context(), coverID, "cover")
	s.discard(r, zipID, coverID)
	if zipFile != nil {
		defer zipFile.Close()
	}
	if err := errors.Join(zipErr, coverErr); err != nil {
		s.fail(w, r, err)
		return
	}
	footer, header, err := s.bands(form)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	info, err := zipFile.Stat()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	rd, err := archive.Open(zipFile, info.Size())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	chunks := rd.Chunks(s.deps.ChunkSize)
	if len(chunks) == 0 {
		s.fail(w, r, batch.ErrEmptyBatch)
		return
	}

	out, err := os.CreateTemp("", "pdfcover-*.zip")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer func() {
		_ = out.Close()
		_ = os.Remove(out.Name())
	}()

	req := batch.Request{
		BatchID:   uuid.NewString(),
		Cover:     coverData,
		CoverType: s.deps.Detector.CoverType(coverData, "", meta.OriginalName),
		Footer:    footer,
		Header:    header,
	}
	asm := batch.NewAssembler(out)
	for i, files := range chunks {
		docs, err := archive.Load(files)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		req.Documents, req.Chunk, req.Final = docs, i, i == len(chunks)-1
		res, err := s.deps.Batches.Run(r.Context(), req)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if err := asm.Add(res); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	report, err := asm.Close()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	size, err := out.Seek(0, io.SeekCurrent)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, r, &batch.Result{BatchID: req.BatchID, Final: true, Report: report}, out, size)
}

func (s *Server) discard(r *http.Request, ids ...string) {
	ctx := context.WithoutCancel(r.Context())
	for _, id := range ids {
		if id != "" {
			s.deps.Uploads.Discard(ctx, id)
		}
	}
}

// coverPart reads the cover upload and resolves its media type.
func (s *Server) coverPart(r *http.Request) ([]byte, string, error) {
	data, hdr, err := formFile(r, "cover")
	if err != nil || data == nil {
		return nil, "", err
	}
	return data, s.deps.Detector.CoverType(data, hdr.Header.Get("Content-Type"), hdr.Filename), nil
}

func (s *Server) respondArchive(w http.ResponseWriter, r *http.Request, res *batch.Result) {
	data, err := archive.Build(res.Entries)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, r, res, bytes.NewReader(data), int64(len(data)))
}

// respond persists the archive in body and writes it out with the report
// headers.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, res *batch.Result, body io.ReadSeeker, size int64) {
	report, err := res.Report.Header()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if _, err := body.Seek(0, io.SeekStart); err != nil {
		s.fail(w, r, err)
		return
	}
	location := s.persist(r.Context(), res, body)
	if _, err := body.Seek(0, io.SeekStart); err != nil {
		s.fail(w, r, err)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "application/zip")
	h.Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, res.ArchiveName()))
	h.Set("Content-Length", strconv.FormatInt(size, 10))
	h.Set("X-Process-Report", report)
	h.Set("X-Report-Id", res.BatchID)
	if location != "" {
		h.Set("X-Result-Location", location)
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		log.Warn().Err(err).Str("batch_id", res.BatchID).Msg("failed to write archive response")
	}
}

type chunkFile struct {
	Name          string `json:"name"`
	Data          string `json:"data"`
	OriginalPages int    `json:"originalPages"`
	FinalPages    int    `json:"finalPages"`
	Success       bool   `json:"success"`
	Error         string `json:"error,omitempty"`
}

type chunkResponse struct {
	BatchID    string      `json:"batchId"`
	ChunkIndex int         `json:"chunkIndex"`
	Final      bool        `json:"final"`
	Files      []chunkFile `json:"files"`
}

func (s *Server) respondJSON(w http.ResponseWriter, r *http.Request, res *batch.Result) {
	s.persist(r.Context(), res, nil)
	out := chunkResponse{BatchID: res.BatchID, ChunkIndex: res.Chunk, Final: res.Final, Files: make([]chunkFile, 0, len(res.Report))}
	next := 0
	for _, o := range res.Report {
		f := chunkFile{Name: o.Name, OriginalPages: o.OriginalPages, FinalPages: o.FinalPages, Success: o.Success, Error: o.Error}
		if o.Success {
			f.Data = base64.StdEncoding.EncodeToString(res.Entries[next].Data)
			next++
		}
		out.Files = append(out.Files, f)
	}
	writeJSON(w, http.StatusOK, out)
}

// resultID names the stored archive of a call: the batch id for whole
// batches, batch id and chunk index for chunks.
func resultID(res *batch.Result) string {
	if res.Chunk == 0 && res.Final {
		return res.BatchID
	}
	return fmt.Sprintf("%s-%d", res.BatchID, res.Chunk)
}

// persist stores the archive (when a sink is configured and body is given)
// and the report. Failures are logged; the caller still gets its response.
func (s *Server) persist(ctx context.Context, res *batch.Result, body io.Reader) string {
	ctx = context.WithoutCancel(ctx)
	var location string
	if s.deps.Results != nil && body != nil {
		loc, err := s.deps.Results.Put(ctx, resultID(res)+".zip", body)
		if err != nil {
			log.Warn().Err(err).Str("batch_id", res.BatchID).Msg("failed to store result archive")
		} else {
			location = loc
		}
	}
	if err := s.deps.Reports.SaveChunk(ctx, res, location); err != nil && !errors.Is(err, context.Canceled) {
		log.Warn().Err(err).Str("batch_id", res.BatchID).Msg("failed to store report")
	}
	return location
}
