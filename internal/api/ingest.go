package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/paperdex/internal/ingest"
	"github.com/kalambet/paperdex/internal/storage"
)

const defaultMaxUploadSize = 512 << 20 // 512MB per request

type LocalDirectoryRequest struct {
	Directory string `json:"directory"`
}

// handleUpload stages every multipart "file" part on disk and starts one
// upload job for them. All parts are validated before the job starts; the
// staging directory is owned by the job from then on.
func handleUpload(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := deps.MaxUploadSize
		if limit <= 0 {
			limit = defaultMaxUploadSize
		}
		r.Body = http.MaxBytesReader(w, r.Body, limit)
		defer r.Body.Close()

		mr, err := r.MultipartReader()
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "expected multipart/form-data: %v", err)
			return
		}

		staging, err := os.MkdirTemp(deps.UploadDir, "upload-")
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create staging directory: %v", err)
			return
		}

		inputs, err := stageParts(mr, staging)
		if err == nil && len(inputs) == 0 {
			err = errors.New("no files provided")
		}
		if err != nil {
			os.RemoveAll(staging)
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		jobID, err := deps.Jobs.StartJob(ingest.JobRequest{
			Kind:       ingest.KindUpload,
			Inputs:     inputs,
			StagingDir: staging,
		})
		jobAccepted(w, jobID, err, fmt.Sprintf("%d file(s) submitted for processing", len(inputs)), len(inputs))
	}
}

func stageParts(mr *multipart.Reader, dir string) ([]ingest.PendingInput, error) {
	var inputs []ingest.PendingInput
	seen := make(map[string]bool)
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return inputs, nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading multipart body: %w", err)
		}
		if part.FormName() != "file" {
			part.Close()
			continue
		}

		name := filepath.Base(part.FileName())
		if name == "" || name == "." || name == string(filepath.Separator) {
			part.Close()
			return nil, errors.New("file part without a file name")
		}
		if !isPDF(name, part.Header.Get("Content-Type")) {
			part.Close()
			return nil, fmt.Errorf("invalid file type for %q: only PDF files are accepted", name)
		}
		if seen[name] {
			part.Close()
			return nil, fmt.Errorf("duplicate file name %q", name)
		}
		seen[name] = true

		path := filepath.Join(dir, name)
		n, err := writePart(path, part)
		part.Close()
		if err != nil {
			return nil, fmt.Errorf("storing %q: %w", name, err)
		}
		if n == 0 {
			return nil, fmt.Errorf("file is empty: %q", name)
		}
		inputs = append(inputs, ingest.PendingInput{Source: path, Name: name, DeleteAfter: true})
	}
}

func writePart(path string, r io.Reader) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return n, err
}

func isPDF(name, contentType string) bool {
	if contentType != "" && contentType != "application/pdf" && contentType != "application/octet-stream" {
		return false
	}
	return strings.EqualFold(filepath.Ext(name), ".pdf")
}

func handleIngestLocal(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req LocalDirectoryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if strings.TrimSpace(req.Directory) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "directory is required")
			return
		}

		inputs, err := ListPDFs(req.Directory)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if len(inputs) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "no PDF files found in %s", req.Directory)
			return
		}

		jobID, err := deps.Jobs.StartJob(ingest.JobRequest{Kind: ingest.KindLocal, Inputs: inputs})
		jobAccepted(w, jobID, err, fmt.Sprintf("%d local file(s) submitted for processing", len(inputs)), len(inputs))
	}
}

// ListPDFs returns the PDF files directly inside dir, sorted by name. The
// files are read in place and never deleted.
func ListPDFs(dir string) ([]ingest.PendingInput, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("directory not accessible: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading directory: %w", err)
	}

	var inputs []ingest.PendingInput
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".pdf") {
			continue
		}
		inputs = append(inputs, ingest.PendingInput{Source: filepath.Join(dir, e.Name()), Name: e.Name()})
	}
	return inputs, nil
}

func handleJobStatus(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "jobId")
		snap, err := deps.Jobs.Status(id)
		if errors.Is(err, ingest.ErrJobNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "job %s not found", id)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get job: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

func handleListJobs(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobs := deps.Jobs.ListJobs()
		if jobs == nil {
			jobs = []ingest.StatusSnapshot{}
		}
		writeJSON(w, http.StatusOK, jobs)
	}
}

type documentView struct {
	DocumentID   string `json:"documentId"`
	FileName     string `json:"fileName"`
	Status       string `json:"status"`
	TotalPages   int    `json:"totalPages"`
	TotalChunks  int    `json:"totalChunks"`
	TotalTokens  int    `json:"totalTokens"`
	Title        string `json:"title,omitempty"`
	Author       string `json:"author,omitempty"`
	FileSize     int64  `json:"fileSize"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	CreatedAt    string `json:"createdAt"`
}

func handleListDocuments(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 50, 500)
		docs, err := deps.Documents.ListDocuments(r.Context(), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list documents: %v", err)
			return
		}
		views := make([]documentView, 0, len(docs))
		for _, d := range docs {
			views = append(views, documentView{
				DocumentID:   d.DocumentID,
				FileName:     d.FileName,
				Status:       string(d.Status),
				TotalPages:   d.TotalPages,
				TotalChunks:  d.TotalChunks,
				TotalTokens:  d.TotalTokens,
				Title:        d.Title,
				Author:       d.Author,
				FileSize:     d.FileSize,
				ErrorMessage: d.ErrorMessage,
				CreatedAt:    d.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
			})
		}
		writeJSON(w, http.StatusOK, views)
	}
}

// handleDeleteDocument removes a document's chunks from the index and its
// audit record, so the file can be ingested again.
func handleDeleteDocument(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "documentId")

		removed, err := deps.Index.DeleteByDocumentID(r.Context(), id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete document: %v", err)
			return
		}
		auditErr := deps.Documents.DeleteDocumentByDocumentID(r.Context(), id)
		if auditErr != nil && !errors.Is(auditErr, storage.ErrNotFound) {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete audit record: %v", auditErr)
			return
		}
		if removed == 0 && errors.Is(auditErr, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "document %s not found", id)
			return
		}

		slog.Info("document deleted", "document_id", id, "chunks", removed)
		writeJSON(w, http.StatusOK, map[string]any{
			"status":        "deleted",
			"documentId":    id,
			"chunksRemoved": removed,
		})
	}
}

func handleStats(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chunks, err := deps.Index.Count(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to count chunks: %v", err)
			return
		}
		counts, err := deps.Documents.CountDocumentsByStatus(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to count documents: %v", err)
			return
		}

		jobs := deps.Jobs.ListJobs()
		load := deps.Jobs.Load()

		writeJSON(w, http.StatusOK, map[string]any{
			"status":        "healthy",
			"indexedChunks": chunks,
			"documents": map[string]int{
				"completed":  counts[storage.StatusCompleted],
				"failed":     counts[storage.StatusFailed],
				"processing": counts[storage.StatusProcessing],
			},
			"jobs": map[string]int{
				"tracked":  len(jobs),
				"running":  load.ActiveJobs,
				"queued":   load.QueuedJobs,
				"rejected": int(load.RejectedJobs),
			},
		})
	}
}
