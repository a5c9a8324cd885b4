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
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/paperdex/internal/chunking"
	"github.com/kalambet/paperdex/internal/index"
	"github.com/kalambet/paperdex/internal/ingest"
	"github.com/kalambet/paperdex/internal/storage"
)

const testToken = "test-token-12345"

// --- mock job runner ---

type mockJobs struct {
	mu       sync.Mutex
	requests []ingest.JobRequest
	err      error
	statuses map[string]ingest.StatusSnapshot
	load     ingest.Load
}

func (m *mockJobs) StartJob(req ingest.JobRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.requests = append(m.requests, req)
	return fmt.Sprintf("job_%012d", len(m.requests)), nil
}

func (m *mockJobs) Status(id string) (ingest.StatusSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.statuses[id]
	if !ok {
		return ingest.StatusSnapshot{}, ingest.ErrJobNotFound
	}
	return s, nil
}

func (m *mockJobs) ListJobs() []ingest.StatusSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ingest.StatusSnapshot
	for _, s := range m.statuses {
		out = append(out, s)
	}
	return out
}

func (m *mockJobs) Load() ingest.Load {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.load
}

func (m *mockJobs) lastRequest(t *testing.T) ingest.JobRequest {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		t.Fatal("no job was started")
	}
	return m.requests[len(m.requests)-1]
}

// --- helpers ---

type testEnv struct {
	handler http.Handler
	jobs    *mockJobs
	store   *storage.Store
	index   *index.SQLiteIndex
}

func setupAppHandler(t *testing.T, token string) *testEnv {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	jobs := &mockJobs{statuses: make(map[string]ingest.StatusSnapshot)}
	idx := index.New(store.DB())
	handler := NewAppHandler(AppDeps{
		Jobs:      jobs,
		Index:     idx,
		Documents: store,
		Token:     token,
		UploadDir: t.TempDir(),
	})
	return &testEnv{handler: handler, jobs: jobs, store: store, index: idx}
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

type filePart struct {
	name        string
	contentType string
	data        string
}

func multipartReq(t *testing.T, token string, parts ...filePart) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range parts {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, p.name))
		h.Set("Content-Type", p.contentType)
		w, err := mw.CreatePart(h)
		if err != nil {
			t.Fatal(err)
		}
		io.WriteString(w, p.data)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest/pdf", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func errorMessage(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("error body is not JSON: %s", rr.Body.String())
	}
	return body.Error.Message
}

// --- tests ---

func TestAuth_RequiresToken(t *testing.T) {
	env := setupAppHandler(t, testToken)

	rr := serve(env.handler, authReq(http.MethodGet, "/api/v1/ingest/jobs", "", ""))
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", rr.Code)
	}
	rr = serve(env.handler, authReq(http.MethodGet, "/api/v1/ingest/jobs", "", "wrong"))
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d, want 401", rr.Code)
	}
	rr = serve(env.handler, authReq(http.MethodGet, "/api/v1/ingest/jobs", "", testToken))
	if rr.Code != http.StatusOK {
		t.Errorf("valid token: status = %d, want 200", rr.Code)
	}
}

func TestAuth_SchemeAndChallenge(t *testing.T) {
	env := setupAppHandler(t, testToken)

	req := authReq(http.MethodGet, "/api/v1/ingest/jobs", "", "")
	req.Header.Set("Authorization", "bearer "+testToken)
	if rr := serve(env.handler, req); rr.Code != http.StatusOK {
		t.Errorf("lowercase scheme: status = %d, want 200", rr.Code)
	}

	req = authReq(http.MethodGet, "/api/v1/ingest/jobs", "", "")
	req.Header.Set("Authorization", "Basic "+testToken)
	rr := serve(env.handler, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("basic scheme: status = %d, want 401", rr.Code)
	}
	if got := rr.Header().Get("WWW-Authenticate"); got != `Bearer realm="paperdex"` {
		t.Errorf("WWW-Authenticate = %q", got)
	}
	if msg := errorMessage(t, rr); msg != "missing bearer token" {
		t.Errorf("message = %q, want %q", msg, "missing bearer token")
	}

	rr = serve(env.handler, authReq(http.MethodGet, "/api/v1/ingest/jobs", "", "wrong"))
	if got := rr.Header().Get("WWW-Authenticate"); !strings.Contains(got, "invalid_token") {
		t.Errorf("WWW-Authenticate = %q, want invalid_token", got)
	}
}

func TestHealth_NoAuth(t *testing.T) {
	env := setupAppHandler(t, testToken)
	rr := serve(env.handler, authReq(http.MethodGet, "/api/v1/ingest/health", "", ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"UP"`) {
		t.Errorf("body = %s", rr.Body.String())
	}
}

func TestUpload_StartsJob(t *testing.T) {
	env := setupAppHandler(t, "")

	req := multipartReq(t, "",
		filePart{"a.pdf", "application/pdf", "%PDF-1.4 a"},
		filePart{"B.PDF", "application/pdf", "%PDF-1.4 b"},
	)
	rr := serve(env.handler, req)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202; body = %s", rr.Code, rr.Body.String())
	}

	var resp map[string]any
	json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp["jobId"] == "" || resp["status"] != "PROCESSING" {
		t.Errorf("response = %v", resp)
	}

	job := env.jobs.lastRequest(t)
	if job.Kind != ingest.KindUpload {
		t.Errorf("Kind = %q, want upload", job.Kind)
	}
	if len(job.Inputs) != 2 {
		t.Fatalf("len(Inputs) = %d, want 2", len(job.Inputs))
	}
	for _, in := range job.Inputs {
		if !in.DeleteAfter {
			t.Errorf("%s: DeleteAfter = false for uploaded file", in.Name)
		}
		if filepath.Dir(in.Source) != job.StagingDir {
			t.Errorf("%s staged outside %s", in.Source, job.StagingDir)
		}
		if _, err := os.Stat(in.Source); err != nil {
			t.Errorf("staged file missing: %v", err)
		}
	}
}

func TestUpload_Validation(t *testing.T) {
	cases := []struct {
		name  string
		parts []filePart
		want  string
	}{
		{"no files", nil, "no files"},
		{"not pdf", []filePart{{"notes.txt", "text/plain", "hello"}}, "only PDF"},
		{"pdf extension wrong type", []filePart{{"a.pdf", "image/png", "x"}}, "only PDF"},
		{"empty", []filePart{{"a.pdf", "application/pdf", ""}}, "empty"},
		{"duplicate", []filePart{{"a.pdf", "application/pdf", "x"}, {"a.pdf", "application/pdf", "y"}}, "duplicate"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := setupAppHandler(t, "")
			rr := serve(env.handler, multipartReq(t, "", tc.parts...))
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rr.Code)
			}
			if msg := errorMessage(t, rr); !strings.Contains(msg, tc.want) {
				t.Errorf("message = %q, want it to contain %q", msg, tc.want)
			}
			if len(env.jobs.requests) != 0 {
				t.Error("job started for invalid upload")
			}
		})
	}
}

func TestUpload_RejectedWhenFull(t *testing.T) {
	env := setupAppHandler(t, "")
	env.jobs.err = fmt.Errorf("jobs pool: %w", ingest.ErrQueueFull)

	rr := serve(env.handler, multipartReq(t, "", filePart{"a.pdf", "application/pdf", "x"}))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rr.Code)
	}
}

func TestIngestLocal(t *testing.T) {
	env := setupAppHandler(t, "")
	dir := t.TempDir()
	for _, name := range []string{"b.pdf", "a.PDF", "readme.md"} {
		os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644)
	}
	os.Mkdir(filepath.Join(dir, "sub.pdf"), 0o755)

	body := fmt.Sprintf(`{"directory":%q}`, dir)
	rr := serve(env.handler, authReq(http.MethodPost, "/api/v1/ingest/local", body, ""))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202; body = %s", rr.Code, rr.Body.String())
	}

	job := env.jobs.lastRequest(t)
	if job.Kind != ingest.KindLocal {
		t.Errorf("Kind = %q, want local", job.Kind)
	}
	if len(job.Inputs) != 2 {
		t.Fatalf("len(Inputs) = %d, want 2", len(job.Inputs))
	}
	if job.Inputs[0].Name != "a.PDF" || job.Inputs[1].Name != "b.pdf" {
		t.Errorf("inputs = %+v", job.Inputs)
	}
	for _, in := range job.Inputs {
		if in.DeleteAfter {
			t.Errorf("local file %s marked for deletion", in.Name)
		}
	}
}

func TestIngestLocal_Errors(t *testing.T) {
	env := setupAppHandler(t, "")
	empty := t.TempDir()
	cases := []struct {
		name string
		body string
	}{
		{"bad json", `{`},
		{"missing directory", `{}`},
		{"not found", `{"directory":"/no/such/dir"}`},
		{"no pdfs", fmt.Sprintf(`{"directory":%q}`, empty)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := serve(env.handler, authReq(http.MethodPost, "/api/v1/ingest/local", tc.body, ""))
			if rr.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rr.Code)
			}
		})
	}
}

func TestJobStatus(t *testing.T) {
	env := setupAppHandler(t, "")
	env.jobs.statuses["job_abc"] = ingest.StatusSnapshot{
		JobID:              "job_abc",
		Status:             ingest.StateCompleted,
		TotalFiles:         3,
		DocumentsProcessed: 2,
		FailedDocuments:    1,
		StartTime:          time.Now(),
	}

	for _, path := range []string{"/api/v1/ingest/status/job_abc", "/api/v1/arxiv/status/job_abc"} {
		rr := serve(env.handler, authReq(http.MethodGet, path, "", ""))
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: status = %d, want 200", path, rr.Code)
		}
		var snap ingest.StatusSnapshot
		json.Unmarshal(rr.Body.Bytes(), &snap)
		if snap.DocumentsProcessed != 2 || snap.FailedDocuments != 1 {
			t.Errorf("%s: snapshot = %+v", path, snap)
		}
	}

	rr := serve(env.handler, authReq(http.MethodGet, "/api/v1/ingest/status/job_missing", "", ""))
	if rr.Code != http.StatusNotFound {
		t.Errorf("missing job: status = %d, want 404", rr.Code)
	}
}

func TestDeleteDocument(t *testing.T) {
	env := setupAppHandler(t, "")
	ctx := context.Background()

	env.index.IndexChunks(ctx, []chunking.Chunk{
		{ChunkID: "doc-1_p1_c0_aaaaaaaa", DocumentID: "doc-1", Text: "alpha beta", PageNumber: 1, TokenCount: 2, CreatedAt: time.Now()},
		{ChunkID: "doc-1_p1_c1_bbbbbbbb", DocumentID: "doc-1", Text: "gamma", PageNumber: 1, ChunkIndex: 1, TokenCount: 1, CreatedAt: time.Now()},
	})
	env.store.CreateDocument(ctx, storage.ProcessedDocument{FileName: "a.pdf", DocumentID: "doc-1", Status: storage.StatusCompleted})

	rr := serve(env.handler, authReq(http.MethodDelete, "/api/v1/ingest/document/doc-1", "", ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body = %s", rr.Code, rr.Body.String())
	}
	var resp map[string]any
	json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp["chunksRemoved"] != float64(2) {
		t.Errorf("chunksRemoved = %v, want 2", resp["chunksRemoved"])
	}
	if _, err := env.store.FindDocumentByFileName(ctx, "a.pdf"); err == nil {
		t.Error("audit record survived delete")
	}

	rr = serve(env.handler, authReq(http.MethodDelete, "/api/v1/ingest/document/doc-1", "", ""))
	if rr.Code != http.StatusNotFound {
		t.Errorf("second delete: status = %d, want 404", rr.Code)
	}
}

func TestStatsAndDocuments(t *testing.T) {
	env := setupAppHandler(t, "")
	ctx := context.Background()
	env.index.IndexChunks(ctx, []chunking.Chunk{
		{ChunkID: "d_p1_c0_aaaaaaaa", DocumentID: "d", Text: "alpha", PageNumber: 1, TokenCount: 1, CreatedAt: time.Now()},
	})
	env.store.CreateDocument(ctx, storage.ProcessedDocument{FileName: "a.pdf", DocumentID: "d", Status: storage.StatusCompleted})
	env.store.CreateDocument(ctx, storage.ProcessedDocument{FileName: "b.pdf", DocumentID: "e", Status: storage.StatusFailed})
	env.jobs.load = ingest.Load{ActiveJobs: 2, QueuedJobs: 1, RejectedJobs: 4}

	rr := serve(env.handler, authReq(http.MethodGet, "/api/v1/ingest/stats", "", ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var stats struct {
		IndexedChunks int            `json:"indexedChunks"`
		Documents     map[string]int `json:"documents"`
		Jobs          map[string]int `json:"jobs"`
	}
	json.Unmarshal(rr.Body.Bytes(), &stats)
	if stats.Jobs["running"] != 2 || stats.Jobs["queued"] != 1 || stats.Jobs["rejected"] != 4 {
		t.Errorf("jobs = %v, want running 2 queued 1 rejected 4", stats.Jobs)
	}
	if stats.IndexedChunks != 1 {
		t.Errorf("indexedChunks = %d, want 1", stats.IndexedChunks)
	}
	if stats.Documents["completed"] != 1 || stats.Documents["failed"] != 1 {
		t.Errorf("documents = %v", stats.Documents)
	}

	rr = serve(env.handler, authReq(http.MethodGet, "/api/v1/ingest/documents?limit=1", "", ""))
	var docs []map[string]any
	json.Unmarshal(rr.Body.Bytes(), &docs)
	if len(docs) != 1 {
		t.Errorf("len(documents) = %d, want 1", len(docs))
	}
}
