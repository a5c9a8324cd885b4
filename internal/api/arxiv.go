package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/kalambet/paperdex/internal/ingest"
)

const (
	defaultArxivMaxResults = 100
	maxArxivMaxResults     = 50000
)

type ArxivCategoryRequest struct {
	Category   string `json:"category"`
	MaxResults *int   `json:"maxResults"`
}

type ArxivPapersRequest struct {
	PaperIDs []string `json:"paperIds"`
}

func handleArxivCategory(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req ArxivCategoryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		req.Category = strings.TrimSpace(req.Category)
		if req.Category == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "category is required")
			return
		}
		maxResults := defaultArxivMaxResults
		if req.MaxResults != nil {
			maxResults = *req.MaxResults
		}
		if maxResults < 1 || maxResults > maxArxivMaxResults {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "maxResults must be between 1 and %d", maxArxivMaxResults)
			return
		}

		jobID, err := deps.Jobs.StartJob(ingest.JobRequest{
			Kind:       ingest.KindArxivCategory,
			Category:   req.Category,
			MaxResults: maxResults,
		})
		jobAccepted(w, jobID, err, fmt.Sprintf("arXiv ingestion started for category '%s' (max %d papers)", req.Category, maxResults), 0)
	}
}

func handleArxivPapers(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req ArxivPapersRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		inputs := PaperInputs(req.PaperIDs)
		if len(inputs) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "paperIds must not be empty")
			return
		}

		jobID, err := deps.Jobs.StartJob(ingest.JobRequest{Kind: ingest.KindArxivPapers, Inputs: inputs})
		jobAccepted(w, jobID, err, fmt.Sprintf("%d arXiv paper(s) submitted for processing", len(inputs)), len(inputs))
	}
}

// PaperInputs turns paper ids into remote job inputs, dropping blanks and
// repeats.
func PaperInputs(ids []string) []ingest.PendingInput {
	seen := make(map[string]bool, len(ids))
	var inputs []ingest.PendingInput
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		inputs = append(inputs, ingest.PendingInput{PaperID: id, DeleteAfter: true})
	}
	return inputs
}
