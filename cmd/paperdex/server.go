package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/paperdex/internal/api"
	"github.com/kalambet/paperdex/internal/arxiv"
	"github.com/kalambet/paperdex/internal/chunking"
	"github.com/kalambet/paperdex/internal/config"
	"github.com/kalambet/paperdex/internal/export"
	"github.com/kalambet/paperdex/internal/extract"
	"github.com/kalambet/paperdex/internal/index"
	"github.com/kalambet/paperdex/internal/ingest"
	"github.com/kalambet/paperdex/internal/pipeline"
	"github.com/kalambet/paperdex/internal/storage"
)

const maxUploadSize = 512 << 20 // 512MB

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ingestion server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		mcpStdio, _ := cmd.Flags().GetBool("mcp-stdio")
		return runServer(mcpStdio)
	},
}

func init() {
	serveCmd.Flags().Bool("mcp-stdio", false, "also serve MCP tools over stdin/stdout")
}

// auditStore is satisfied by both the SQLite and the Postgres stores.
type auditStore interface {
	ingest.AuditStore
	api.DocumentStore
	Close() error
}

func runServer(mcpStdio bool) error {
	fmt.Fprintf(os.Stderr, "paperdex version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, closeLog := config.SetupLogger(cfg.Log.File, config.ParseLevel(cfg.Log.Level))
	defer closeLog()
	slog.SetDefault(logger)

	// Refuse to start a second instance on the same port.
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/api/v1/ingest/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		printWarning("paperdex is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if cfg.Server.APIToken == "" {
		printWarning("no API token configured, management endpoints are unauthenticated")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The chunk index always lives in SQLite; the audit table may move to Postgres.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	if versions, err := store.AppliedMigrations(); err == nil {
		slog.Debug("storage ready", "data_dir", cfg.Storage.DataDir, "migrations", versions)
	}

	var audit auditStore = store
	if cfg.Storage.Driver == "postgres" {
		pg, err := storage.OpenPostgres(ctx, cfg.Storage.PostgresURL)
		if err != nil {
			return fmt.Errorf("opening postgres: %w", err)
		}
		defer pg.Close()
		audit = pg
		slog.Info("audit records stored in postgres")
	}

	chunkIndex := index.New(store.DB())

	extractor, err := extract.New(cfg.Extract.Backend)
	if err != nil {
		return fmt.Errorf("building extractor: %w", err)
	}
	chunker := chunking.New(chunking.Config{
		ChunkSize:        cfg.Chunking.ChunkSize,
		Overlap:          cfg.Chunking.Overlap,
		MinChunkSize:     cfg.Chunking.MinChunkSize,
		SentenceLookback: cfg.Chunking.SentenceLookback,
	})
	pipe := pipeline.New(extractor, chunker, chunkIndex)

	papers := arxiv.NewClient(arxiv.Config{
		APIURL:         cfg.Arxiv.APIURL,
		PDFURL:         cfg.Arxiv.PDFURL,
		PageSize:       cfg.Arxiv.PageSize,
		APIDelay:       cfg.Arxiv.APIDelay,
		ConnectTimeout: cfg.Arxiv.ConnectTimeout,
		ReadTimeout:    cfg.Arxiv.ReadTimeout,
		MaxRetries:     cfg.Arxiv.MaxRetries,
	})

	threads := cfg.Threads()
	jobPool := ingest.NewPool("jobs", cfg.Jobs.MaxConcurrent, cfg.Jobs.QueueCapacity, 0)
	var docPool *ingest.Pool
	if cfg.Ingestion.Mode == ingest.ModeParallel {
		docPool = ingest.NewPool("documents", threads, cfg.Ingestion.QueueCapacity, cfg.Ingestion.SubmitTimeout)
	}
	strategy, err := ingest.NewStrategy(cfg.Ingestion.Mode, docPool, cfg.Arxiv.DownloadDelay)
	if err != nil {
		return err
	}

	deps := ingest.Deps{
		Pipeline: pipe,
		Papers:   papers,
		Audit:    audit,
		Jobs:     jobPool,
		Strategy: strategy,
	}
	if cfg.Export.S3Bucket != "" {
		uploader, err := export.NewS3Uploader(ctx, export.S3Config{
			Bucket: cfg.Export.S3Bucket,
			Prefix: cfg.Export.S3Prefix,
			Region: cfg.Export.S3Region,
		})
		if err != nil {
			return fmt.Errorf("configuring export upload: %w", err)
		}
		deps.Uploader = uploader
	}

	workDir := filepath.Join(cfg.Storage.DataDir, "work")
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return fmt.Errorf("creating work dir: %w", err)
	}
	orch := ingest.NewOrchestrator(deps, ingest.Config{
		ExportEnabled: cfg.Export.Enabled,
		ExportDir:     cfg.Export.Path,
		WorkDir:       workDir,
		StaleAfter:    cfg.Ingestion.StaleAfter,
	})
	go orch.Registry().RunJanitor(ctx, cfg.Jobs.Retention)

	slog.Info("ingestion configured",
		"mode", strategy.Name(),
		"threads", threads,
		"max_concurrent_jobs", cfg.Jobs.MaxConcurrent,
		"export", cfg.Export.Enabled,
	)

	handler := api.NewAppHandler(api.AppDeps{
		Jobs:          orch,
		Index:         chunkIndex,
		Documents:     audit,
		Token:         cfg.Server.APIToken,
		CORSOrigins:   api.SplitOrigins(cfg.Server.CORSOrigins),
		UploadDir:     workDir,
		MaxUploadSize: maxUploadSize,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	if mcpStdio {
		mcpSrv := api.NewMCPServer(api.MCPDeps{Jobs: orch, Index: chunkIndex}, version)
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "paperdex listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	// Jobs already admitted keep running until the deadline.
	if err := orch.Shutdown(shutdownCtx); err != nil {
		slog.Warn("ingestion did not drain", "error", err)
	}
	return nil
}
