package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/david/grant-discovery/internal/db"
	"github.com/david/grant-discovery/internal/ingest"
	"github.com/david/grant-discovery/internal/models"
)

const adminSecret = "admin-test-secret"

type staticFetcher map[string]string

func (f staticFetcher) Fetch(_ context.Context, url string) (*ingest.FetchedDocument, error) {
	body, ok := f[url]
	if !ok {
		return nil, fmt.Errorf("status 404 for %s", url)
	}
	return &ingest.FetchedDocument{URL: url, StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(body))}, nil
}

const listingPage = `<html><body>
<div class="grant-item"><h2>Regional Screen Development Fund</h2>
<p>Up to $40,000 for documentary and film projects. Applications close 30 June 2026.</p></div>
</body></html>`

func newTestServer(t *testing.T) (*Server, *db.MemoryStore) {
	t.Helper()
	store := db.NewMemoryStore()

	_, err := ingest.NewPersister(store).Persist(context.Background(), []ingest.GrantCandidate{
		{Title: "Documentary Media Fund", Source: "grants.gov.au", Tags: []string{"Documentary"}, Score: 80, Urgency: ingest.UrgencyHot},
		{Title: "Community Arts Grant", Source: "Creative Australia", Tags: []string{"Arts"}, Score: 30, Urgency: ingest.UrgencyNormal},
	})
	require.NoError(t, err)

	d := ingest.NewDiscoverer(staticFetcher{"https://example.org/grants": listingPage}, ingest.DefaultVocabulary(), ingest.DefaultProfile())
	d.Delay = 0

	srv := NewServer(store, Options{
		AdminSecret: adminSecret,
		JWTSecret:   "jwt-test-secret",
		Runner:      &ingest.Runner{Discoverer: d, Persister: ingest.NewPersister(store)},
		Registry: &ingest.Registry{Sources: []ingest.SourceConfig{
			{ID: "example", Name: "Example", URL: "https://example.org/grants", Active: true},
		}},
	})
	return srv, store
}

func do(t *testing.T, srv *Server, method, target string, body io.Reader, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if body != nil && headers["Content-Type"] == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.Echo.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := do(t, srv, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestListAndGetGrants(t *testing.T) {
	srv, store := newTestServer(t)

	rec := do(t, srv, http.MethodGet, "/api/v1/grants", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	all := decode[db.ListResult](t, rec)
	assert.Equal(t, 2, all.Total)
	assert.Equal(t, db.DefaultLimit, all.Limit)
	assert.Equal(t, "Documentary Media Fund", all.Grants[0].Name)

	rec = do(t, srv, http.MethodGet, "/api/v1/grants?min_score=50", nil, nil)
	assert.Equal(t, 1, decode[db.ListResult](t, rec).Total)

	rec = do(t, srv, http.MethodGet, "/api/v1/grants?tag=Arts&limit=500", nil, nil)
	res := decode[db.ListResult](t, rec)
	require.Equal(t, 1, res.Total)
	assert.Equal(t, db.MaxLimit, res.Limit)
	assert.Equal(t, "Community Arts Grant", res.Grants[0].Name)

	id, _, err := store.FindGrantID(context.Background(), "Community Arts Grant", "Creative Australia")
	require.NoError(t, err)

	rec = do(t, srv, http.MethodGet, "/api/v1/grants/"+id.String(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[models.GrantView](t, rec)
	assert.Equal(t, "Community Arts Grant", view.Name)
	require.NotNil(t, view.Metadata)
	assert.Equal(t, []string{"Arts"}, view.Metadata.Tags)

	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodGet, "/api/v1/grants/"+unknownID(), nil, nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodGet, "/api/v1/grants/not-a-uuid", nil, nil).Code)
}

func unknownID() string { return "00000000-0000-0000-0000-000000000001" }

func TestSourcesAndStats(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := do(t, srv, http.MethodGet, "/api/v1/sources", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"Creative Australia", "grants.gov.au"}, decode[[]string](t, rec))

	rec = do(t, srv, http.MethodGet, "/api/v1/stats", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[db.Stats](t, rec)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Hot)
}

func TestAdminDiscoveryJob(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := do(t, srv, http.MethodGet, "/api/v1/reports/latest", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/v1/admin/discovery", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = do(t, srv, http.MethodPost, "/api/v1/admin/discovery", nil, map[string]string{"X-Admin-Secret": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/v1/admin/discovery?source=nope", nil, map[string]string{"X-Admin-Secret": adminSecret})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/v1/admin/discovery", nil, map[string]string{"Authorization": "Bearer " + adminSecret})
	require.Equal(t, http.StatusAccepted, rec.Code)
	started := decode[map[string]any](t, rec)
	jobID, _ := started["job_id"].(string)
	require.Len(t, jobID, 8)

	var status map[string]any
	require.Eventually(t, func() bool {
		rec := do(t, srv, http.MethodGet, "/api/v1/admin/job/"+jobID, nil, map[string]string{"X-Admin-Secret": adminSecret})
		if rec.Code != http.StatusOK {
			return false
		}
		status = nil
		if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
			return false
		}
		return status["status"] != "running"
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, "completed", status["status"])

	rec = do(t, srv, http.MethodGet, "/api/v1/admin/job/deadbeef", nil, map[string]string{"X-Admin-Secret": adminSecret})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/v1/reports/latest", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	report := decode[models.DiscoveryReport](t, rec)
	assert.Equal(t, 1, report.TotalGrants)
	require.Len(t, report.SourceRuns, 1)
	assert.Equal(t, "generic", report.SourceRuns[0].Parser)

	rec = do(t, srv, http.MethodGet, "/api/v1/grants?q=regional", nil, nil)
	assert.Equal(t, 1, decode[db.ListResult](t, rec).Total)

	rec = do(t, srv, http.MethodGet, "/api/v1/reports?limit=5", nil, nil)
	assert.Len(t, decode[[]models.DiscoveryReport](t, rec), 1)
}

func TestTrackedGrantsAndStatus(t *testing.T) {
	srv, store := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/api/v1/auth/signup", strings.NewReader(`{"email":"writer@example.com","password":"password123"}`), nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/v1/auth/signup", strings.NewReader(`{"email":"writer@example.com","password":"password123"}`), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = do(t, srv, http.MethodPost, "/api/v1/auth/signup", strings.NewReader(`{"email":"bad","password":"x"}`), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{"email":"writer@example.com","password":"nope"}`), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{"email":"writer@example.com","password":"password123"}`), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	token, _ := decode[map[string]any](t, rec)["token"].(string)
	require.NotEmpty(t, token)
	bearer := map[string]string{"Authorization": "Bearer " + token}

	id, _, err := store.FindGrantID(context.Background(), "Documentary Media Fund", "grants.gov.au")
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, do(t, srv, http.MethodGet, "/api/v1/tracked", nil, nil).Code)

	rec = do(t, srv, http.MethodPost, "/api/v1/tracked/"+id.String(), nil, bearer)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, srv, http.MethodPost, "/api/v1/tracked/"+unknownID(), nil, bearer)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, srv, http.MethodPost, "/api/v1/tracked/xyz", nil, bearer)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/v1/tracked", nil, bearer)
	require.Equal(t, http.StatusOK, rec.Code)
	tracked := decode[[]models.TrackedGrant](t, rec)
	require.Len(t, tracked, 1)
	assert.Equal(t, "Documentary Media Fund", tracked[0].Name)

	rec = do(t, srv, http.MethodPatch, "/api/v1/grants/"+id.String()+"/status", strings.NewReader(`{"status":"drafting"}`), bearer)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, srv, http.MethodPatch, "/api/v1/grants/"+id.String()+"/status", strings.NewReader(`{"status":"won"}`), bearer)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, srv, http.MethodPatch, "/api/v1/grants/"+id.String()+"/status", strings.NewReader(`{"status":"drafting"}`), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	view, err := store.GetGrant(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDrafting, view.Status)

	rec = do(t, srv, http.MethodDelete, "/api/v1/tracked/"+id.String(), nil, bearer)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, srv, http.MethodGet, "/api/v1/tracked", nil, bearer)
	assert.Empty(t, decode[[]models.TrackedGrant](t, rec))
}

func multipartUpload(t *testing.T, field, filename string, content []byte) (io.Reader, map[string]string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if field != "" {
		part, err := w.CreateFormFile(field, filename)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &buf, map[string]string{"Content-Type": w.FormDataContentType()}
}

func TestAnalyzePDF(t *testing.T) {
	srv, _ := newTestServer(t)

	pdf := onePagePDF("ELIGIBILITY REQUIREMENTS", "Submit the application form online.", "Open to Australian documentary makers.")
	body, headers := multipartUpload(t, "file", "guidelines.pdf", pdf)
	rec := do(t, srv, http.MethodPost, "/api/v1/pdf/analyze", body, headers)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	res := decode[map[string]any](t, rec)
	assert.Equal(t, "guidelines.pdf", res["filename"])
	tasks, _ := res["tasks"].([]any)
	require.Len(t, tasks, 1)
	task := tasks[0].(map[string]any)
	assert.Equal(t, "Submit the application form online.", task["task"])
	assert.Equal(t, "ELIGIBILITY REQUIREMENTS", task["section"])

	body, headers = multipartUpload(t, "file", "guidelines.pdf", pdf)
	rec = do(t, srv, http.MethodPost, "/api/v1/pdf/eligibility", body, headers)
	require.Equal(t, http.StatusOK, rec.Code)
	elig := decode[map[string]any](t, rec)
	assert.Equal(t, true, elig["is_eligible"])
	assert.InDelta(t, 0.4, elig["confidence_score"], 1e-9)
}

func TestAnalyzePDFRejectsBadUploads(t *testing.T) {
	srv, _ := newTestServer(t)

	body, headers := multipartUpload(t, "file", "notes.docx", []byte("PK\x03\x04 not a pdf"))
	rec := do(t, srv, http.MethodPost, "/api/v1/pdf/analyze", body, headers)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "only PDF files are supported")

	body, headers = multipartUpload(t, "", "", nil)
	rec = do(t, srv, http.MethodPost, "/api/v1/pdf/analyze", body, headers)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	broken := onePagePDF("Some text")[:80]
	body, headers = multipartUpload(t, "file", "broken.pdf", broken)
	rec = do(t, srv, http.MethodPost, "/api/v1/pdf/eligibility", body, headers)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Error processing PDF")

	// per-file check in the handler
	srv.maxUploadBytes = 10
	body, headers = multipartUpload(t, "file", "big.pdf", onePagePDF("Some text"))
	rec = do(t, srv, http.MethodPost, "/api/v1/pdf/analyze", body, headers)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestAnalyzePDFBodyLimit(t *testing.T) {
	srv := NewServer(db.NewMemoryStore(), Options{MaxUploadBytes: 4096})

	payload := append(onePagePDF("Some text"), bytes.Repeat([]byte(" "), 2*multipartOverhead)...)
	body, headers := multipartUpload(t, "file", "big.pdf", payload)
	rec := do(t, srv, http.MethodPost, "/api/v1/pdf/analyze", body, headers)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.NotContains(t, rec.Body.String(), "File exceeds", "rejected before the handler ran")

	body, headers = multipartUpload(t, "file", "small.pdf", onePagePDF("Submit the application form online."))
	rec = do(t, srv, http.MethodPost, "/api/v1/pdf/analyze", body, headers)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

// onePagePDF builds a minimal PDF with one Helvetica text line per entry.
func onePagePDF(lines ...string) []byte {
	var content strings.Builder
	content.WriteString("BT /F1 12 Tf 72 720 Td\n")
	for i, l := range lines {
		if i > 0 {
			content.WriteString("0 -20 Td\n")
		}
		fmt.Fprintf(&content, "(%s) Tj\n", l)
	}
	content.WriteString("ET")
	stream := content.String()

	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 4 0 R >> >> /Contents 5 0 R >>",
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream),
	}

	var b bytes.Buffer
	b.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n", len(objects)+1)
	b.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&b, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return b.Bytes()
}
