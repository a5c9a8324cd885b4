package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kalambet/paperdex/internal/index"
)

const (
	defaultTopK = 10
	maxTopK     = 100
)

type SearchRequest struct {
	Query      string `json:"query"`
	TopK       *int   `json:"topK"`
	DocumentID string `json:"documentId"`
}

type SearchResponse struct {
	Query        string      `json:"query"`
	TotalHits    int         `json:"totalHits"`
	SearchTimeMs int64       `json:"searchTimeMs"`
	Results      []index.Hit `json:"results"`
}

func handleSearchGet(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		req := SearchRequest{Query: q.Get("q"), DocumentID: q.Get("documentId")}
		if raw := q.Get("topK"); raw != "" {
			k, err := strconv.Atoi(raw)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "topK must be an integer")
				return
			}
			req.TopK = &k
		}
		runSearch(deps, w, r, req)
	}
}

func handleSearchPost(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req SearchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		runSearch(deps, w, r, req)
	}
}

func runSearch(deps AppDeps, w http.ResponseWriter, r *http.Request, req SearchRequest) {
	if strings.TrimSpace(req.Query) == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "query is required")
		return
	}
	topK := defaultTopK
	if req.TopK != nil {
		topK = *req.TopK
	}
	if topK < 1 || topK > maxTopK {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "topK must be between 1 and %d", maxTopK)
		return
	}

	start := time.Now()
	hits, err := deps.Index.Search(r.Context(), req.Query, topK, strings.TrimSpace(req.DocumentID))
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "search failed: %v", err)
		return
	}
	if hits == nil {
		hits = []index.Hit{}
	}
	elapsed := time.Since(start)
	slog.Debug("search", "query", req.Query, "top_k", topK, "hits", len(hits), "duration", elapsed)

	writeJSON(w, http.StatusOK, SearchResponse{
		Query:        req.Query,
		TotalHits:    len(hits),
		SearchTimeMs: elapsed.Milliseconds(),
		Results:      hits,
	})
}

func handleChunkStats(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := deps.Index.Stats(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get chunk statistics: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}
