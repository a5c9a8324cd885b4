// Package ingest runs batches of documents through the ingestion pipeline as
// asynchronous jobs with bounded concurrency, deduplication and export.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/paperdex/internal/arxiv"
	"github.com/kalambet/paperdex/internal/pipeline"
	"github.com/kalambet/paperdex/internal/storage"
)

// DocumentIngester processes one document.
type DocumentIngester interface {
	Ingest(ctx context.Context, source, displayName, documentID string) (*pipeline.Result, error)
}

// PaperSource resolves remote catalog queries and downloads papers.
type PaperSource interface {
	SearchByCategory(ctx context.Context, category string, maxResults int) ([]arxiv.PaperInfo, error)
	DownloadPDF(ctx context.Context, paperID, targetDir string) (string, error)
}

// AuditStore persists one record per ingested file name.
type AuditStore interface {
	CreateDocument(ctx context.Context, d storage.ProcessedDocument) (storage.ProcessedDocument, error)
	FindDocumentByFileName(ctx context.Context, fileName string) (storage.ProcessedDocument, error)
	UpdateDocument(ctx context.Context, d storage.ProcessedDocument) error
	DeleteDocument(ctx context.Context, id int64) error
}

// Uploader copies a finished export file elsewhere and returns its location.
type Uploader interface {
	Upload(ctx context.Context, localPath string) (string, error)
}

// PendingInput is one unit of work. Either Source (a local file) or PaperID
// (a remote paper, downloaded into the job's work directory) is set.
type PendingInput struct {
	Source      string
	Name        string
	PaperID     string
	DeleteAfter bool
}

func (in PendingInput) displayName() string {
	switch {
	case in.Name != "":
		return in.Name
	case in.PaperID != "":
		return arxiv.FileName(in.PaperID)
	default:
		return filepath.Base(in.Source)
	}
}

func (in PendingInput) remote() bool { return in.PaperID != "" }

// JobRequest describes a job. Category jobs resolve their inputs from the
// catalog once the job runs. StagingDir, when set, is removed at job end.
type JobRequest struct {
	Kind       JobKind
	Inputs     []PendingInput
	Category   string
	MaxResults int
	StagingDir string
}

// Config controls export and job working directories.
type Config struct {
	ExportEnabled bool
	ExportDir     string
	// WorkDir is the parent of per-job temporary directories; "" means os.TempDir.
	WorkDir string
	// StaleAfter lets a PROCESSING audit record older than this be reclaimed,
	// e.g. one left behind by a crash. Zero never reclaims.
	StaleAfter time.Duration
}

// Deps are the orchestrator's collaborators. Papers and Uploader may be nil.
type Deps struct {
	Pipeline DocumentIngester
	Papers   PaperSource
	Audit    AuditStore
	Uploader Uploader
	Registry *Registry
	Jobs     *Pool
	Strategy Strategy
}

// Orchestrator admits jobs onto the job pool and runs each with its Strategy.
type Orchestrator struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// NewOrchestrator wires an orchestrator. A nil Registry gets a fresh one and
// a nil Strategy defaults to SequentialStreaming.
func NewOrchestrator(deps Deps, cfg Config) *Orchestrator {
	if deps.Registry == nil {
		deps.Registry = NewRegistry()
	}
	if deps.Strategy == nil {
		deps.Strategy = &SequentialStreaming{}
	}
	if deps.Jobs == nil {
		deps.Jobs = NewPool("jobs", 2, 10, 0)
	}
	return &Orchestrator{deps: deps, cfg: cfg, logger: slog.Default(), now: time.Now}
}

// Registry returns the job registry.
func (o *Orchestrator) Registry() *Registry {
	return o.deps.Registry
}

// Status returns a snapshot of a job.
func (o *Orchestrator) Status(jobID string) (StatusSnapshot, error) {
	return o.deps.Registry.Get(jobID)
}

// ListJobs returns every tracked job, newest first.
func (o *Orchestrator) ListJobs() []StatusSnapshot {
	return o.deps.Registry.List()
}

// Load is the occupancy of the job pool.
type Load struct {
	ActiveJobs   int
	QueuedJobs   int
	RejectedJobs int64
}

// Load reports how many jobs are running, waiting and were turned away.
func (o *Orchestrator) Load() Load {
	return Load{
		ActiveJobs:   o.deps.Jobs.Active(),
		QueuedJobs:   o.deps.Jobs.Queued(),
		RejectedJobs: o.deps.Jobs.Rejected(),
	}
}

// StartJob registers a job and queues it on the job pool. It returns the job
// id immediately; the work happens asynchronously. When the job pool is full
// the request is rejected with ErrQueueFull and nothing is registered.
func (o *Orchestrator) StartJob(req JobRequest) (string, error) {
	if err := o.validate(req); err != nil {
		if req.StagingDir != "" {
			os.RemoveAll(req.StagingDir)
		}
		return "", err
	}

	id := req.Kind.idPrefix() + uuid.NewString()[:12]
	status := newJobStatus(id, req.Kind, len(req.Inputs))
	o.deps.Registry.add(status)

	err := o.deps.Jobs.Submit(context.Background(), func() {
		o.runJob(context.Background(), status, req)
	})
	if err != nil {
		o.deps.Registry.remove(id)
		if req.StagingDir != "" {
			os.RemoveAll(req.StagingDir)
		}
		o.logger.Warn("job rejected", "job_id", id, "kind", req.Kind, "error", err)
		return "", err
	}

	o.logger.Info("job accepted", "job_id", id, "kind", req.Kind, "inputs", len(req.Inputs), "strategy", o.deps.Strategy.Name())
	return id, nil
}

// stale reports whether an in-progress audit record is old enough to be
// treated as abandoned.
func (o *Orchestrator) stale(d storage.ProcessedDocument) bool {
	return o.cfg.StaleAfter > 0 && !d.CreatedAt.IsZero() && time.Since(d.CreatedAt) > o.cfg.StaleAfter
}

func (o *Orchestrator) validate(req JobRequest) error {
	switch req.Kind {
	case KindArxivCategory:
		if req.Category == "" {
			return errors.New("category is required")
		}
		if req.MaxResults <= 0 {
			return errors.New("maxResults must be positive")
		}
		if o.deps.Papers == nil {
			return errors.New("remote paper source not configured")
		}
		return nil
	case KindArxivPapers:
		if o.deps.Papers == nil {
			return errors.New("remote paper source not configured")
		}
	case KindUpload, KindLocal:
	default:
		return fmt.Errorf("unknown job kind %q", req.Kind)
	}
	if len(req.Inputs) == 0 {
		return errors.New("no inputs")
	}
	return nil
}

// Shutdown stops admitting jobs and waits for running ones until ctx expires.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.deps.Jobs.Close()
		if closer, ok := o.deps.Strategy.(interface{ close() }); ok {
			closer.close()
		}
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) runJob(ctx context.Context, status *JobStatus, req JobRequest) {
	log := o.logger.With("job_id", status.id)

	workDir, err := os.MkdirTemp(o.cfg.WorkDir, status.id+"-")
	if err != nil {
		status.fail(fmt.Errorf("creating work directory: %w", err))
		log.Error("job failed", "error", err)
		return
	}
	defer os.RemoveAll(workDir)
	if req.StagingDir != "" {
		defer os.RemoveAll(req.StagingDir)
	}

	run := &jobRun{
		o:       o,
		status:  status,
		inputs:  req.Inputs,
		workDir: workDir,
		log:     log,
		started: o.now(),
	}
	defer func() {
		if r := recover(); r != nil {
			run.abortSink()
			status.fail(fmt.Errorf("job crashed: %v", r))
			log.Error("job crashed", "panic", r)
		}
	}()

	if req.Kind == KindArxivCategory {
		papers, err := o.deps.Papers.SearchByCategory(ctx, req.Category, req.MaxResults)
		if err != nil {
			status.fail(fmt.Errorf("searching category %s: %w", req.Category, err))
			log.Error("job failed", "error", err)
			return
		}
		run.inputs = make([]PendingInput, 0, len(papers))
		for _, p := range papers {
			run.inputs = append(run.inputs, PendingInput{PaperID: p.PaperID, DeleteAfter: true})
		}
		status.setTotalFiles(len(run.inputs))
		log.Info("category resolved", "category", req.Category, "papers", len(run.inputs))
	}

	if err := o.deps.Strategy.run(ctx, run); err != nil {
		run.abortSink()
		status.fail(err)
		log.Error("job failed", "error", err)
		return
	}

	exportName, location, err := run.finishSink(ctx)
	if err != nil {
		status.fail(err)
		log.Error("job failed", "error", err)
		return
	}

	status.complete(exportName, location)
	snap := status.Snapshot()
	log.Info("job completed",
		"documents", snap.DocumentsProcessed,
		"chunks", snap.ChunksProcessed,
		"failed", snap.FailedDocuments,
		"skipped", snap.SkippedDocuments,
		"export", exportName,
		"duration_ms", snap.DurationMs,
	)
}
