package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/pdfcover/internal/archive"
	"github.com/local/pdfcover/internal/batch"
	"github.com/local/pdfcover/internal/limiter"
	"github.com/local/pdfcover/internal/pdfdoc"
	"github.com/local/pdfcover/internal/pdftest"
	"github.com/local/pdfcover/internal/statuscheck"
	"github.com/local/pdfcover/internal/storage"
	"github.com/local/pdfcover/internal/store"
	"github.com/local/pdfcover/internal/upload"
)

var letter = pdfdoc.Dim{Width: 612, Height: 792}

type part struct {
	field, filename, contentType string
	data                         []byte
}

func form(t *testing.T, fields map[string]string, parts ...part) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for _, p := range parts {
		h := textproto.MIMEHeader{}
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, p.field, p.filename))
		if p.contentType != "" {
			h.Set("Content-Type", p.contentType)
		}
		w, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = w.Write(p.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func inputZip(t *testing.T) []byte {
	t.Helper()
	data, err := archive.Build([]archive.Entry{
		{Name: "test1.pdf", Data: pdftest.Document(t, pdftest.Pages(5, letter, pdftest.Red)...)},
		{Name: "readme.txt", Data: []byte("ignored")},
		{Name: "test2.pdf", Data: pdftest.Document(t, pdftest.Pages(3, letter, pdftest.Red)...)},
	})
	require.NoError(t, err)
	return data
}

func coverPart(t *testing.T) part {
	return part{"cover", "cover.pdf", "application/pdf", pdftest.Document(t, pdftest.Page{Size: letter, Color: pdftest.Blue})}
}

type fixture struct {
	srv     *httptest.Server
	deps    Dependencies
	uploads *upload.Store
}

func newFixture(t *testing.T, mutate func(*Dependencies)) *fixture {
	t.Helper()
	up, err := upload.NewStore(t.TempDir(), nil)
	require.NoError(t, err)
	deps := Dependencies{
		Batches:       batch.New(batch.Options{MaxBand: 200}),
		Uploads:       up,
		Reports:       store.NewMemoryReports(0),
		Status:        statuscheck.New(statuscheck.Options{Render: func() error { return nil }}),
		DefaultFooter: batch.DefaultFooter,
	}
	if mutate != nil {
		mutate(&deps)
	}
	s := New(deps)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, deps: s.deps, uploads: up}
}

func (f *fixture) post(t *testing.T, path string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	resp, err := http.Post(f.srv.URL+path, contentType, body)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func readBody(t *testing.T, resp *http.Response) []byte {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return b
}

func errorMessage(t *testing.T, resp *http.Response) string {
	t.Helper()
	var out map[string]string
	require.NoError(t, json.Unmarshal(readBody(t, resp), &out))
	return out["error"]
}

func TestProcessReturnsArchiveAndReport(t *testing.T) {
	f := newFixture(t, nil)
	body, ct := form(t, nil, part{"filesZip", "docs.zip", "application/zip", inputZip(t)}, coverPart(t))
	resp := f.post(t, "/api/process", body, ct)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/zip", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "processed-pdfs.zip")
	assert.Contains(t, resp.Header.Get("Access-Control-Expose-Headers"), "X-Process-Report")

	var report batch.Report
	require.NoError(t, json.Unmarshal([]byte(resp.Header.Get("X-Process-Report")), &report))
	assert.Equal(t, batch.Report{
		{Name: "test1.pdf", OriginalPages: 5, FinalPages: 4, Success: true},
		{Name: "test2.pdf", OriginalPages: 3, FinalPages: 2, Success: true},
	}, report)

	entries, err := archive.Extract(readBody(t, resp))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "test1.pdf", entries[0].Name)
	n, err := pdfdoc.PageCount(entries[0].Data)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	id := resp.Header.Get("X-Report-Id")
	require.NotEmpty(t, id)
	rep, err := http.Get(f.srv.URL + "/api/reports/" + id)
	require.NoError(t, err)
	defer rep.Body.Close()
	require.Equal(t, http.StatusOK, rep.StatusCode)
	var sum store.Summary
	require.NoError(t, json.NewDecoder(rep.Body).Decode(&sum))
	assert.True(t, sum.Complete)
	assert.Equal(t, 2, sum.Succeeded)
}

func TestProcessCorruptDocumentStillSucceeds(t *testing.T) {
	f := newFixture(t, nil)
	zipData, err := archive.Build([]archive.Entry{{Name: "broken.pdf", Data: []byte("not a pdf")}})
	require.NoError(t, err)
	body, ct := form(t, nil, part{"filesZip", "docs.zip", "application/zip", zipData}, coverPart(t))
	resp := f.post(t, "/api/process", body, ct)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var report batch.Report
	require.NoError(t, json.Unmarshal([]byte(resp.Header.Get("X-Process-Report")), &report))
	require.Len(t, report, 1)
	assert.False(t, report[0].Success)
	assert.NotEmpty(t, report[0].Error)

	entries, err := archive.Extract(readBody(t, resp))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestProcessValidation(t *testing.T) {
	f := newFixture(t, nil)
	zipData := inputZip(t)
	emptyZip, err := archive.Build([]archive.Entry{{Name: "notes.txt", Data: []byte("x")}})
	require.NoError(t, err)

	tests := []struct {
		name   string
		fields map[string]string
		parts  []part
		want   string
	}{
		{"missing cover", nil, []part{{"filesZip", "docs.zip", "application/zip", zipData}}, "Missing required files"},
		{"missing zip", nil, []part{coverPart(t)}, "Missing required files"},
		{"footer not a number", map[string]string{"footerHeightPx": "abc"}, []part{{"filesZip", "docs.zip", "", zipData}, coverPart(t)}, "footerHeightPx"},
		{"header too tall", map[string]string{"headerHeightPx": "500"}, []part{{"filesZip", "docs.zip", "", zipData}, coverPart(t)}, "headerHeightPx"},
		{"negative footer", map[string]string{"footerHeightPx": "-1"}, []part{{"filesZip", "docs.zip", "", zipData}, coverPart(t)}, "footerHeightPx"},
		{"unsupported cover", nil, []part{{"filesZip", "docs.zip", "", zipData}, {"cover", "cover.txt", "text/plain", []byte("hello cover")}}, "text/plain"},
		{"no pdfs", nil, []part{{"filesZip", "docs.zip", "", emptyZip}, coverPart(t)}, "no PDF"},
		{"not a zip", nil, []part{{"filesZip", "docs.zip", "", []byte("plain bytes")}, coverPart(t)}, "not a zip"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, ct := form(t, tt.fields, tt.parts...)
			resp := f.post(t, "/api/process", body, ct)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Contains(t, errorMessage(t, resp), tt.want)
		})
	}
}

func TestMalformedBodiesAreClientErrors(t *testing.T) {
	f := newFixture(t, nil)
	full, ct := form(t, nil, part{"zipChunk", "chunk.zip", "application/zip", inputZip(t)})
	raw, err := io.ReadAll(full)
	require.NoError(t, err)
	truncated := raw[:len(raw)/2]

	tests := []struct {
		name        string
		path        string
		contentType string
		body        []byte
	}{
		{"process json body", "/api/process", "application/json", []byte(`{"cover":"x"}`)},
		{"process chunk without boundary", "/api/process-chunk", "multipart/form-data", []byte("garbage")},
		{"truncated chunk upload", "/api/upload-chunk", ct, truncated},
		{"single upload as text", "/api/upload-single", "text/plain", []byte("hello")},
		{"preview truncated", "/api/cover/preview", ct, truncated},
		{"process-uploaded bad urlencoding", "/api/process-uploaded", "application/x-www-form-urlencoded", []byte("zipFileId=%zz")},
		{"process-uploaded bad json", "/api/process-uploaded", "application/json", []byte(`{"zipFileId":`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.post(t, tt.path, bytes.NewReader(tt.body), tt.contentType)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Contains(t, errorMessage(t, resp), "invalid")
		})
	}
}

func TestOversizedBodyIsRejected(t *testing.T) {
	f := newFixture(t, func(d *Dependencies) { d.MaxUploadBytes = 1 << 10 })
	body, ct := form(t, nil, part{"filesZip", "docs.zip", "application/zip", bytes.Repeat([]byte("z"), 4<<10)}, coverPart(t))
	resp := f.post(t, "/api/process", body, ct)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestProcessChunkJSON(t *testing.T) {
	f := newFixture(t, nil)
	fields := map[string]string{"chunkIndex": "3", "batchId": "batch_1", "format": "json", "final": "true", "headerHeightPx": "20"}
	body, ct := form(t, fields, part{"zipChunk", "chunk.zip", "application/zip", inputZip(t)}, coverPart(t))
	resp := f.post(t, "/api/process-chunk", body, ct)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out chunkResponse
	require.NoError(t, json.Unmarshal(readBody(t, resp), &out))
	assert.Equal(t, "batch_1", out.BatchID)
	assert.Equal(t, 3, out.ChunkIndex)
	assert.True(t, out.Final)
	require.Len(t, out.Files, 2)
	assert.Equal(t, "test2.pdf", out.Files[1].Name)

	pdf, err := base64.StdEncoding.DecodeString(out.Files[1].Data)
	require.NoError(t, err)
	n, err := pdfdoc.PageCount(pdf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	sum, ok, err := f.deps.Reports.Get(context.Background(), "batch_1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, sum.Succeeded)
}

func TestProcessChunkArchive(t *testing.T) {
	f := newFixture(t, nil)
	body, ct := form(t, map[string]string{"chunkIndex": "1"}, part{"zipChunk", "chunk.zip", "", inputZip(t)}, coverPart(t))
	resp := f.post(t, "/api/process-chunk", body, ct)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "batch-1.zip")
	assert.NotEmpty(t, resp.Header.Get("X-Process-Report"))

	body, ct = form(t, map[string]string{"chunkIndex": "0"}, coverPart(t))
	resp = f.post(t, "/api/process-chunk", body, ct)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Missing zipChunk file", errorMessage(t, resp))
}

func TestBusyServerRejects(t *testing.T) {
	lim := limiter.New(limiter.Options{MaxInflight: 1})
	f := newFixture(t, func(d *Dependencies) { d.Limiter = lim })
	release, ok := lim.Allow(context.Background())
	require.True(t, ok)
	defer release()

	body, ct := form(t, nil, part{"filesZip", "docs.zip", "", inputZip(t)}, coverPart(t))
	resp := f.post(t, "/api/process", body, ct)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestUploadThenProcess(t *testing.T) {
	f := newFixture(t, nil)
	zipData := inputZip(t)
	half := len(zipData) / 2
	chunks := [][]byte{zipData[:half], zipData[half:]}

	var status map[string]any
	for i, c := range chunks {
		body, ct := form(t, map[string]string{
			"fileId": "zip-1", "chunkIndex": fmt.Sprint(i), "totalChunks": "2",
			"fieldName": "filesZip", "originalName": "docs.zip",
		}, part{"chunk", "blob", "", c})
		resp := f.post(t, "/api/upload-chunk", body, ct)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.NoError(t, json.Unmarshal(readBody(t, resp), &status))
	}
	assert.Equal(t, true, status["success"])
	assert.Equal(t, true, status["allChunksUploaded"])

	cp := coverPart(t)
	cp.field = "file"
	body, ct := form(t, map[string]string{"fieldName": "cover"}, cp)
	resp := f.post(t, "/api/upload-single", body, ct)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var single map[string]any
	require.NoError(t, json.Unmarshal(readBody(t, resp), &single))
	coverID, _ := single["fileId"].(string)
	require.NotEmpty(t, coverID)

	payload, _ := json.Marshal(map[string]any{"zipFileId": "zip-1", "coverFileId": coverID, "footerHeightPx": 12})
	resp = f.post(t, "/api/process-uploaded", bytes.NewReader(payload), "application/json")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	entries, err := archive.Extract(readBody(t, resp))
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	ctx := context.Background()
	_, _, err = f.uploads.Read(ctx, "zip-1", "filesZip")
	assert.ErrorIs(t, err, upload.ErrNotFound)
	_, _, err = f.uploads.Read(ctx, coverID, "cover")
	assert.ErrorIs(t, err, upload.ErrNotFound)
}

func TestProcessUploadedRunsInChunks(t *testing.T) {
	local, err := storage.NewLocalSink(t.TempDir())
	require.NoError(t, err)
	f := newFixture(t, func(d *Dependencies) {
		d.ChunkSize = 1
		d.Results = local
	})
	ctx := context.Background()

	zipData, err := archive.Build([]archive.Entry{
		{Name: "c.pdf", Data: pdftest.Document(t, pdftest.Pages(4, letter, pdftest.Red)...)},
		{Name: "broken.pdf", Data: []byte("not a pdf")},
		{Name: "a.pdf", Data: pdftest.Document(t, pdftest.Pages(3, letter, pdftest.Red)...)},
	})
	require.NoError(t, err)
	zipMeta, err := f.uploads.SaveSingle(ctx, "filesZip", "docs.zip", bytes.NewReader(zipData))
	require.NoError(t, err)
	coverMeta, err := f.uploads.SaveSingle(ctx, "cover", "cover.png", bytes.NewReader(pdftest.PNG(t, 60, 80, pdftest.Blue)))
	require.NoError(t, err)

	vals := url.Values{"zipFileId": {zipMeta.FileID}, "coverFileId": {coverMeta.FileID}}
	resp := f.post(t, "/api/process-uploaded", strings.NewReader(vals.Encode()), "application/x-www-form-urlencoded")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "processed-pdfs.zip")
	assert.NotEmpty(t, resp.Header.Get("X-Result-Location"))

	var report batch.Report
	require.NoError(t, json.Unmarshal([]byte(resp.Header.Get("X-Process-Report")), &report))
	require.Len(t, report, 3)
	assert.Equal(t, batch.Outcome{Name: "c.pdf", OriginalPages: 4, FinalPages: 3, Success: true}, report[0])
	assert.False(t, report[1].Success)
	assert.Equal(t, batch.Outcome{Name: "a.pdf", OriginalPages: 3, FinalPages: 2, Success: true}, report[2])

	body := readBody(t, resp)
	assert.EqualValues(t, len(body), resp.ContentLength)
	entries, err := archive.Extract(body)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "c.pdf", entries[0].Name)
	assert.Equal(t, "a.pdf", entries[1].Name)

	id := resp.Header.Get("X-Report-Id")
	stored, err := local.Get(ctx, id+".zip")
	require.NoError(t, err)
	assert.Equal(t, body, stored)

	rep, err := http.Get(f.srv.URL + "/api/reports/" + id)
	require.NoError(t, err)
	defer rep.Body.Close()
	var sum store.Summary
	require.NoError(t, json.NewDecoder(rep.Body).Decode(&sum))
	assert.True(t, sum.Complete)
	assert.Equal(t, 2, sum.Succeeded)
	assert.Equal(t, 1, sum.Failed)

	_, _, err = f.uploads.Read(ctx, zipMeta.FileID, "filesZip")
	assert.ErrorIs(t, err, upload.ErrNotFound)
}

func TestProcessUploadedWithoutPDFs(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	zipData, err := archive.Build([]archive.Entry{{Name: "notes.txt", Data: []byte("x")}})
	require.NoError(t, err)
	zipMeta, err := f.uploads.SaveSingle(ctx, "filesZip", "docs.zip", bytes.NewReader(zipData))
	require.NoError(t, err)
	coverMeta, err := f.uploads.SaveSingle(ctx, "cover", "cover.pdf", bytes.NewReader(coverPart(t).data))
	require.NoError(t, err)

	vals := url.Values{"zipFileId": {zipMeta.FileID}, "coverFileId": {coverMeta.FileID}}
	resp := f.post(t, "/api/process-uploaded", strings.NewReader(vals.Encode()), "application/x-www-form-urlencoded")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestProcessUploadedDiscardsOnFailure(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	meta, err := f.uploads.SaveSingle(ctx, "filesZip", "docs.zip", bytes.NewReader(inputZip(t)))
	require.NoError(t, err)

	vals := url.Values{"zipFileId": {meta.FileID}, "coverFileId": {"missing"}}
	resp := f.post(t, "/api/process-uploaded", strings.NewReader(vals.Encode()), "application/x-www-form-urlencoded")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, _, err = f.uploads.Read(ctx, meta.FileID, "filesZip")
	assert.ErrorIs(t, err, upload.ErrNotFound)

	resp = f.post(t, "/api/process-uploaded", strings.NewReader("{}"), "application/json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Missing file IDs", errorMessage(t, resp))
}

func TestResultsAreStoredAndServed(t *testing.T) {
	local, err := storage.NewLocalSink(t.TempDir())
	require.NoError(t, err)
	f := newFixture(t, func(d *Dependencies) { d.Results = storage.NewSealed(local, "pw") })

	body, ct := form(t, nil, part{"filesZip", "docs.zip", "", inputZip(t)}, coverPart(t))
	resp := f.post(t, "/api/process", body, ct)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	archiveBytes := readBody(t, resp)
	assert.NotEmpty(t, resp.Header.Get("X-Result-Location"))

	id := resp.Header.Get("X-Report-Id")
	got, err := http.Get(f.srv.URL + "/api/results/" + id)
	require.NoError(t, err)
	defer got.Body.Close()
	require.Equal(t, http.StatusOK, got.StatusCode)
	assert.Equal(t, archiveBytes, readBody(t, got))

	missing, err := http.Get(f.srv.URL + "/api/results/nope")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestCoverPreview(t *testing.T) {
	f := newFixture(t, nil)
	body, ct := form(t, nil, part{"cover", "cover.png", "image/png", pdftest.PNG(t, 200, 200, pdftest.Green)})
	resp := f.post(t, "/api/cover/preview", body, ct)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))
	assert.Equal(t, "595.28x841.89", resp.Header.Get("X-Cover-Size"))
	assert.True(t, bytes.HasPrefix(readBody(t, resp), []byte{0xff, 0xd8}))
}

func TestHealthAndCORS(t *testing.T) {
	f := newFixture(t, nil)
	for _, p := range []string{"/health", "/health/ready"} {
		resp, err := http.Get(f.srv.URL + p)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, p)
	}

	req, err := http.NewRequest(http.MethodOptions, f.srv.URL+"/api/process", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	resp, err = http.Get(f.srv.URL + "/api/reports/unknown")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestReadyFailsWhenRendererDown(t *testing.T) {
	f := newFixture(t, func(d *Dependencies) {
		d.Status = statuscheck.New(statuscheck.Options{Render: func() error { return io.ErrUnexpectedEOF }})
	})
	resp, err := http.Get(f.srv.URL + "/health/ready")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
