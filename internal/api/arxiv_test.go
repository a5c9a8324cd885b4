package api

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/kalambet/paperdex/internal/ingest"
)

func TestArxivCategory(t *testing.T) {
	env := setupAppHandler(t, "")

	rr := serve(env.handler, authReq(http.MethodPost, "/api/v1/arxiv/ingest", `{"category":"cs.CL"}`, ""))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202; body = %s", rr.Code, rr.Body.String())
	}
	job := env.jobs.lastRequest(t)
	if job.Kind != ingest.KindArxivCategory || job.Category != "cs.CL" {
		t.Errorf("job = %+v", job)
	}
	if job.MaxResults != 100 {
		t.Errorf("MaxResults = %d, want default 100", job.MaxResults)
	}
}

func TestArxivCategory_Validation(t *testing.T) {
	env := setupAppHandler(t, "")
	cases := []string{
		`{"maxResults":5}`,
		`{"category":"  "}`,
		`{"category":"cs.AI","maxResults":0}`,
		`{"category":"cs.AI","maxResults":50001}`,
		`not json`,
	}
	for _, body := range cases {
		rr := serve(env.handler, authReq(http.MethodPost, "/api/v1/arxiv/ingest", body, ""))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", body, rr.Code)
		}
	}
}

func TestArxivPapers(t *testing.T) {
	env := setupAppHandler(t, "")

	body := `{"paperIds":["2401.00001v1"," 2401.00002v2 ","","2401.00001v1"]}`
	rr := serve(env.handler, authReq(http.MethodPost, "/api/v1/arxiv/ingest/papers", body, ""))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202; body = %s", rr.Code, rr.Body.String())
	}
	job := env.jobs.lastRequest(t)
	if len(job.Inputs) != 2 {
		t.Fatalf("len(Inputs) = %d, want 2", len(job.Inputs))
	}
	if job.Inputs[1].PaperID != "2401.00002v2" {
		t.Errorf("PaperID = %q", job.Inputs[1].PaperID)
	}

	rr = serve(env.handler, authReq(http.MethodPost, "/api/v1/arxiv/ingest/papers", `{"paperIds":[]}`, ""))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("empty ids: status = %d, want 400", rr.Code)
	}
}

func TestArxiv_PoolClosed(t *testing.T) {
	env := setupAppHandler(t, "")
	env.jobs.err = fmt.Errorf("jobs pool: %w", ingest.ErrPoolClosed)
	rr := serve(env.handler, authReq(http.MethodPost, "/api/v1/arxiv/ingest", `{"category":"cs.AI"}`, ""))
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rr.Code)
	}
}
