package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/paperdex/internal/config"
)

// jobAccepted mirrors the server's 202 body.
type jobAccepted struct {
	JobID          string `json:"jobId"`
	Status         string `json:"status"`
	Message        string `json:"message"`
	FilesSubmitted int    `json:"filesSubmitted"`
}

type jobStatus struct {
	JobID              string `json:"jobId"`
	Kind               string `json:"kind"`
	Status             string `json:"status"`
	TotalFiles         int    `json:"totalFiles"`
	DocumentsProcessed int    `json:"documentsProcessed"`
	ChunksProcessed    int    `json:"chunksProcessed"`
	FailedDocuments    int    `json:"failedDocuments"`
	SkippedDocuments   int    `json:"skippedDocuments"`
	DurationMs         int64  `json:"durationMs"`
	ErrorMessage       string `json:"errorMessage"`
	ExportFileName     string `json:"exportFileName"`
	ExportLocation     string `json:"exportLocation"`
}

func (s jobStatus) terminal() bool {
	return s.Status == "COMPLETED" || s.Status == "FAILED"
}

type searchHit struct {
	ChunkID    string  `json:"chunkId"`
	DocumentID string  `json:"documentId"`
	Content    string  `json:"content"`
	PageNumber int     `json:"pageNumber"`
	TokenCount int     `json:"tokenCount"`
	Score      float64 `json:"score"`
}

type searchResult struct {
	Query        string      `json:"query"`
	TotalHits    int         `json:"totalHits"`
	SearchTimeMs int64       `json:"searchTimeMs"`
	Results      []searchHit `json:"results"`
}

type serverStats struct {
	Status        string         `json:"status"`
	IndexedChunks int            `json:"indexedChunks"`
	Documents     map[string]int `json:"documents"`
	Jobs          map[string]int `json:"jobs"`
}

func acceptJob(ctx context.Context, c *apiClient, path string, body any) (jobAccepted, error) {
	var acc jobAccepted
	err := c.postJSON(ctx, path, body, &acc)
	return acc, err
}

func fetchJobStatus(ctx context.Context, c *apiClient, jobID string) (jobStatus, error) {
	var st jobStatus
	err := c.getJSON(ctx, "/api/v1/ingest/status/"+url.PathEscape(jobID), &st)
	return st, err
}

// watchJob polls until the job reaches a terminal state or ctx ends.
func watchJob(ctx context.Context, c *apiClient, jobID string, every time.Duration, onUpdate func(jobStatus)) (jobStatus, error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		st, err := fetchJobStatus(ctx, c, jobID)
		if err != nil {
			return st, err
		}
		if onUpdate != nil {
			onUpdate(st)
		}
		if st.terminal() {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-ticker.C:
		}
	}
}

func printAccepted(acc jobAccepted) {
	printSuccess("Job %s accepted", acc.JobID)
	if acc.FilesSubmitted > 0 {
		printStatus("Files", "%d", acc.FilesSubmitted)
	}
	printStep("paperdex status %s --watch", acc.JobID)
}

func printJobStatus(w io.Writer, st jobStatus) {
	fmt.Fprintf(w, "%s  %s  docs %d/%d  chunks %d  failed %d  skipped %d  %s\n",
		st.JobID, stateColor(st.Status), st.DocumentsProcessed, st.TotalFiles,
		st.ChunksProcessed, st.FailedDocuments, st.SkippedDocuments,
		(time.Duration(st.DurationMs) * time.Millisecond).Round(time.Millisecond))
	if st.ErrorMessage != "" {
		fmt.Fprintf(w, "  error: %s\n", st.ErrorMessage)
	}
	if st.ExportLocation != "" {
		fmt.Fprintf(w, "  export: %s\n", st.ExportLocation)
	} else if st.ExportFileName != "" {
		fmt.Fprintf(w, "  export: %s\n", st.ExportFileName)
	}
}

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest <directory>",
	Short: "Ingest every PDF in a directory the server can read",
	Long: `Ingest every PDF in a directory the server can read.

The directory is resolved to an absolute path and read by the server,
so it must be visible to the server process.

Examples:
  paperdex ingest ./papers
  paperdex ingest /data/pdfs --wait`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("resolving directory: %w", err)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		acc, err := acceptJob(cmd.Context(), client, "/api/v1/ingest/local", map[string]string{"directory": dir})
		if err != nil {
			return err
		}
		return afterAccept(cmd, client, acc)
	},
}

// --- upload ---

var uploadCmd = &cobra.Command{
	Use:   "upload <file.pdf>...",
	Short: "Upload PDF files to the server for ingestion",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, f := range args {
			if !strings.EqualFold(filepath.Ext(f), ".pdf") {
				return fmt.Errorf("%s: only .pdf files can be uploaded", f)
			}
			if _, err := os.Stat(f); err != nil {
				return err
			}
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var acc jobAccepted
		if err := client.uploadFiles(cmd.Context(), "/api/v1/ingest/pdf", args, &acc); err != nil {
			return err
		}
		return afterAccept(cmd, client, acc)
	},
}

// --- arxiv ---

var arxivCmd = &cobra.Command{
	Use:   "arxiv",
	Short: "Ingest papers from arXiv",
}

var arxivCategoryCmd = &cobra.Command{
	Use:   "category <category>",
	Short: "Ingest the most recent papers of an arXiv category",
	Long: `Ingest the most recent papers of an arXiv category.

Examples:
  paperdex arxiv category cs.CL --max 20`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		maxResults, _ := cmd.Flags().GetInt("max")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		acc, err := acceptJob(cmd.Context(), client, "/api/v1/arxiv/ingest", map[string]any{
			"category":   args[0],
			"maxResults": maxResults,
		})
		if err != nil {
			return err
		}
		return afterAccept(cmd, client, acc)
	},
}

var arxivPapersCmd = &cobra.Command{
	Use:   "papers <id>...",
	Short: "Ingest specific arXiv papers by id",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		acc, err := acceptJob(cmd.Context(), client, "/api/v1/arxiv/ingest/papers", map[string]any{
			"paperIds": args,
		})
		if err != nil {
			return err
		}
		return afterAccept(cmd, client, acc)
	},
}

func init() {
	arxivCategoryCmd.Flags().Int("max", 100, "maximum number of papers")
	arxivCmd.AddCommand(arxivCategoryCmd)
	arxivCmd.AddCommand(arxivPapersCmd)

	for _, c := range []*cobra.Command{ingestCmd, uploadCmd, arxivCategoryCmd, arxivPapersCmd} {
		c.Flags().Bool("wait", false, "wait for the job to finish")
	}
}

func afterAccept(cmd *cobra.Command, client *apiClient, acc jobAccepted) error {
	printAccepted(acc)
	wait, _ := cmd.Flags().GetBool("wait")
	if !wait {
		return nil
	}
	st, err := watchJob(cmd.Context(), client, acc.JobID, 2*time.Second, nil)
	if err != nil {
		return err
	}
	printJobStatus(os.Stdout, st)
	if st.Status == "FAILED" {
		return fmt.Errorf("job %s failed", st.JobID)
	}
	return nil
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status [jobId]",
	Short: "Show a job's progress, or all tracked jobs",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		if len(args) == 0 {
			var jobs []jobStatus
			if err := client.getJSON(cmd.Context(), "/api/v1/ingest/jobs", &jobs); err != nil {
				return err
			}
			if len(jobs) == 0 {
				printWarning("no jobs tracked")
				return nil
			}
			for _, j := range jobs {
				printJobStatus(os.Stdout, j)
			}
			return nil
		}

		watch, _ := cmd.Flags().GetBool("watch")
		if !watch {
			st, err := fetchJobStatus(cmd.Context(), client, args[0])
			if err != nil {
				return err
			}
			printJobStatus(os.Stdout, st)
			return nil
		}

		interval, _ := cmd.Flags().GetDuration("interval")
		_, err = watchJob(cmd.Context(), client, args[0], interval, func(st jobStatus) {
			printJobStatus(os.Stdout, st)
		})
		return err
	},
}

func init() {
	statusCmd.Flags().Bool("watch", false, "poll until the job finishes")
	statusCmd.Flags().Duration("interval", 2*time.Second, "poll interval for --watch")
}

// --- search ---

func searchQuery(query string, topK int, documentID string) string {
	v := url.Values{}
	v.Set("q", query)
	v.Set("topK", fmt.Sprintf("%d", topK))
	if documentID != "" {
		v.Set("documentId", documentID)
	}
	return "/api/v1/search?" + v.Encode()
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Full-text search over indexed chunks",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		topK, _ := cmd.Flags().GetInt("top-k")
		documentID, _ := cmd.Flags().GetString("document")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var res searchResult
		if err := client.getJSON(cmd.Context(), searchQuery(strings.Join(args, " "), topK, documentID), &res); err != nil {
			return err
		}

		if len(res.Results) == 0 {
			printWarning("no matches for %q", res.Query)
			return nil
		}
		for i, h := range res.Results {
			fmt.Printf("%d. %s  %s p.%d  (score %.3f)\n", i+1,
				paint(ansiBold, h.DocumentID), h.ChunkID, h.PageNumber, h.Score)
			fmt.Printf("   %s\n\n", snippet(h.Content, 240))
		}
		printStatus("Hits", "%d in %dms", res.TotalHits, res.SearchTimeMs)
		return nil
	},
}

func init() {
	searchCmd.Flags().Int("top-k", 10, "number of results (1-100)")
	searchCmd.Flags().String("document", "", "restrict to one document id")
}

func snippet(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

// --- delete ---

var deleteCmd = &cobra.Command{
	Use:   "delete <documentId>",
	Short: "Remove a document's chunks and audit record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var result struct {
			ChunksRemoved int64 `json:"chunksRemoved"`
		}
		if err := client.deleteJSON(cmd.Context(), "/api/v1/ingest/document/"+url.PathEscape(args[0]), &result); err != nil {
			return err
		}

		printSuccess("Deleted %s (%d chunks)", args[0], result.ChunksRemoved)
		return nil
	},
}

// --- stats ---

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show index, document and job counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var st serverStats
		err = client.getJSON(cmd.Context(), "/api/v1/ingest/stats", &st)
		if errors.Is(err, errUnreachable) {
			printStatus("Server", "stopped")
			return nil
		}
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return prettyJSON(os.Stdout, st)
		}
		writeStats(os.Stdout, st)
		return nil
	},
}

func init() {
	statsCmd.Flags().Bool("json", false, "print the raw stats document")
}

func writeStats(w io.Writer, st serverStats) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Server\t%s\n", st.Status)
	fmt.Fprintf(tw, "Indexed chunks\t%d\n", st.IndexedChunks)
	fmt.Fprintf(tw, "Documents\t%d completed, %d failed, %d processing\n",
		st.Documents["completed"], st.Documents["failed"], st.Documents["processing"])
	fmt.Fprintf(tw, "Jobs\t%d tracked, %d running, %d queued, %d rejected\n",
		st.Jobs["tracked"], st.Jobs["running"], st.Jobs["queued"], st.Jobs["rejected"])
	tw.Flush()
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration and where each value comes from",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		writeConfig(cmd.OutOrStdout(), config.ShowAll(cfg))
		return nil
	},
}

func writeConfig(w io.Writer, rows []config.KeyInfo) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, k := range rows {
		fmt.Fprintf(tw, "%s\t%s\t(%s, %s)\n", k.Key, k.Value, k.Source, k.EnvVar)
	}
	tw.Flush()
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: "Set a configuration value in the config file.\n\nValid keys:\n  " +
		strings.Join(config.ValidKeys(), "\n  "),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetKey(args[0], args[1]); err != nil {
			return err
		}
		printSuccess("%s = %s", args[0], args[1])
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a value from the config file, restoring its default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("%s reset to default", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetCmd, configUnsetCmd)
}

func prettyJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
