// Package api exposes ingestion, job status and search over HTTP and MCP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/kalambet/paperdex/internal/index"
	"github.com/kalambet/paperdex/internal/ingest"
	"github.com/kalambet/paperdex/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// JobRunner starts ingestion jobs and reports their progress.
type JobRunner interface {
	StartJob(req ingest.JobRequest) (string, error)
	Status(jobID string) (ingest.StatusSnapshot, error)
	ListJobs() []ingest.StatusSnapshot
	Load() ingest.Load
}

// ChunkIndex is the search side of the chunk index.
type ChunkIndex interface {
	Search(ctx context.Context, query string, topK int, documentID string) ([]index.Hit, error)
	DeleteByDocumentID(ctx context.Context, documentID string) (int64, error)
	Count(ctx context.Context) (int, error)
	Stats(ctx context.Context) (index.Stats, error)
}

// DocumentStore is the read and delete side of the audit table.
type DocumentStore interface {
	DeleteDocumentByDocumentID(ctx context.Context, documentID string) error
	CountDocumentsByStatus(ctx context.Context) (storage.StatusCounts, error)
	ListDocuments(ctx context.Context, limit int) ([]storage.ProcessedDocument, error)
}

type AppDeps struct {
	Jobs      JobRunner
	Index     ChunkIndex
	Documents DocumentStore
	// Token enables bearer authentication when non-empty.
	Token       string
	CORSOrigins []string
	// UploadDir is where multipart uploads are staged; "" means os.TempDir.
	UploadDir     string
	MaxUploadSize int64
}

func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if len(deps.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: deps.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/api/v1/ingest/health", handleHealth)

	r.Group(func(r chi.Router) {
		if deps.Token != "" {
			r.Use(BearerAuth(deps.Token))
		}

		r.Route("/api/v1/ingest", func(r chi.Router) {
			r.Post("/pdf", handleUpload(deps))
			r.Post("/local", handleIngestLocal(deps))
			r.Get("/status/{jobId}", handleJobStatus(deps))
			r.Get("/jobs", handleListJobs(deps))
			r.Get("/documents", handleListDocuments(deps))
			r.Delete("/document/{documentId}", handleDeleteDocument(deps))
			r.Get("/stats", handleStats(deps))
		})

		r.Route("/api/v1/arxiv", func(r chi.Router) {
			r.Post("/ingest", handleArxivCategory(deps))
			r.Post("/ingest/papers", handleArxivPapers(deps))
			r.Get("/status/{jobId}", handleJobStatus(deps))
		})

		r.Route("/api/v1/search", func(r chi.Router) {
			r.Get("/", handleSearchGet(deps))
			r.Post("/", handleSearchPost(deps))
			r.Get("/chunk-stats", handleChunkStats(deps))
		})
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"UP"}`))
}

// jobAccepted answers a started job with 202 or maps admission errors.
func jobAccepted(w http.ResponseWriter, jobID string, err error, message string, files int) {
	switch {
	case errors.Is(err, ingest.ErrQueueFull), errors.Is(err, ingest.ErrPoolClosed):
		httpError(w, http.StatusServiceUnavailable, "overloaded_error", "ingestion is at capacity, retry later: %v", err)
		return
	case err != nil:
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
		return
	}

	resp := map[string]any{
		"jobId":   jobID,
		"status":  ingest.StateProcessing,
		"message": message,
	}
	if files > 0 {
		resp["filesSubmitted"] = files
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

// SplitOrigins parses a comma separated origin list.
func SplitOrigins(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
