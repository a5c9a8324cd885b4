package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/paperdex/internal/ingest"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Jobs  JobRunner
	Index ChunkIndex
}

// NewMCPServer creates an MCP server exposing search, ingestion and job tools.
func NewMCPServer(deps MCPDeps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"paperdex",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("paperdex indexes research PDFs as overlapping text chunks. Search the chunks, or start ingestion jobs from arXiv and poll them."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("search_chunks",
			mcp.WithDescription("Full-text search over indexed document chunks, best match first."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("top_k", mcp.Description("Maximum number of results (default 10, max 100)")),
			mcp.WithString("document_id", mcp.Description("Restrict results to one document")),
		),
		mcpSearchChunks(deps),
	)

	s.AddTool(
		mcp.NewTool("ingest_arxiv_category",
			mcp.WithDescription("Start a background job that fetches and ingests the newest papers of an arXiv category."),
			mcp.WithString("category", mcp.Description("arXiv category, e.g. cs.CL"), mcp.Required()),
			mcp.WithNumber("max_results", mcp.Description("Number of papers (default 100)")),
		),
		mcpIngestCategory(deps),
	)

	s.AddTool(
		mcp.NewTool("ingest_arxiv_papers",
			mcp.WithDescription("Start a background job that downloads and ingests specific arXiv papers."),
			mcp.WithArray("paper_ids", mcp.Description("arXiv ids such as 2401.12345v1"), mcp.Required()),
		),
		mcpIngestPapers(deps),
	)

	s.AddTool(
		mcp.NewTool("job_status",
			mcp.WithDescription("Report progress of an ingestion job."),
			mcp.WithString("job_id", mcp.Description("Job id returned when the job was started"), mcp.Required()),
		),
		mcpJobStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("index_stats",
			mcp.WithDescription("Chunk count and token size distribution of the index."),
		),
		mcpIndexStats(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"paperdex://jobs",
			"Ingestion Jobs",
			mcp.WithResourceDescription("Status of all tracked ingestion jobs, newest first"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceJobs(deps),
	)

	return s
}

func mcpSearchChunks(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}
		topK := req.GetInt("top_k", defaultTopK)
		if topK <= 0 {
			topK = defaultTopK
		}
		if topK > maxTopK {
			topK = maxTopK
		}

		hits, err := deps.Index.Search(ctx, query, topK, req.GetString("document_id", ""))
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if len(hits) == 0 {
			return mcpText("[]"), nil
		}
		return mcpJSON(hits)
	}
}

func mcpIngestCategory(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		category, err := req.RequireString("category")
		if err != nil || category == "" {
			return mcpError("category is required"), nil
		}
		maxResults := req.GetInt("max_results", defaultArxivMaxResults)
		if maxResults < 1 || maxResults > maxArxivMaxResults {
			return mcpError(fmt.Sprintf("max_results must be between 1 and %d", maxArxivMaxResults)), nil
		}

		id, err := deps.Jobs.StartJob(ingest.JobRequest{
			Kind:       ingest.KindArxivCategory,
			Category:   category,
			MaxResults: maxResults,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("could not start job: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Started job %s for category %s (max %d papers)", id, category, maxResults)), nil
	}
}

func mcpIngestPapers(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		inputs := PaperInputs(req.GetStringSlice("paper_ids", nil))
		if len(inputs) == 0 {
			return mcpError("paper_ids must not be empty"), nil
		}
		id, err := deps.Jobs.StartJob(ingest.JobRequest{Kind: ingest.KindArxivPapers, Inputs: inputs})
		if err != nil {
			return mcpError(fmt.Sprintf("could not start job: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Started job %s for %d paper(s)", id, len(inputs))), nil
	}
}

func mcpJobStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("job_id")
		if err != nil {
			return mcpError("job_id is required"), nil
		}
		snap, err := deps.Jobs.Status(id)
		if errors.Is(err, ingest.ErrJobNotFound) {
			return mcpError(fmt.Sprintf("job %s not found", id)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("status failed: %v", err)), nil
		}
		return mcpJSON(snap)
	}
}

func mcpIndexStats(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		stats, err := deps.Index.Stats(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("stats failed: %v", err)), nil
		}
		return mcpJSON(stats)
	}
}

func mcpResourceJobs(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(deps.Jobs.ListJobs())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal jobs: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
