package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/paperdex/internal/export"
	"github.com/kalambet/paperdex/internal/pipeline"
	"github.com/kalambet/paperdex/internal/storage"
)

// maxMetadataLength bounds title and author stored in the audit record.
const maxMetadataLength = 1000

// jobRun is the per-job working state handed to a Strategy.
type jobRun struct {
	o       *Orchestrator
	status  *JobStatus
	inputs  []PendingInput
	workDir string
	log     *slog.Logger
	started time.Time

	sink *export.Writer
	done atomic.Int64
}

// openSink creates the job's export file when export is enabled.
func (r *jobRun) openSink() error {
	if !r.o.cfg.ExportEnabled || r.sink != nil {
		return nil
	}
	w, err := export.Create(r.o.cfg.ExportDir, r.o.now())
	if err != nil {
		return fmt.Errorf("opening export sink: %w", err)
	}
	r.sink = w
	return nil
}

func (r *jobRun) writeResult(res *pipeline.Result) error {
	if r.sink == nil || res == nil {
		return nil
	}
	if err := r.sink.WriteResult(res); err != nil {
		return fmt.Errorf("writing export: %w", err)
	}
	return nil
}

// finishSink closes the export file and uploads it when an Uploader is set.
// An upload failure is logged; the local file remains the job's export.
func (r *jobRun) finishSink(ctx context.Context) (name, location string, err error) {
	if r.sink == nil {
		return "", "", nil
	}
	if err := r.sink.Close(); err != nil {
		r.abortSink()
		return "", "", fmt.Errorf("closing export sink: %w", err)
	}
	name = r.sink.Name()
	r.log.Info("export written", "file", r.sink.Path(), "records", r.sink.Count())

	if r.o.deps.Uploader != nil {
		location, err = r.o.deps.Uploader.Upload(ctx, r.sink.Path())
		if err != nil {
			r.log.Warn("export upload failed", "file", name, "error", err)
			location = ""
		}
	}
	return name, location, nil
}

func (r *jobRun) abortSink() {
	if r.sink != nil {
		r.sink.Abort()
		r.sink = nil
	}
}

// process runs one input through dedup, download, pipeline and audit. Every
// per-document failure is recorded and swallowed; the result is nil unless
// the document was ingested.
func (r *jobRun) process(ctx context.Context, in PendingInput, documentID string) *pipeline.Result {
	name := in.displayName()
	audit := r.o.deps.Audit
	log := r.log.With("file", name)

	owned := in.DeleteAfter || in.remote()
	source := in.Source
	defer func() {
		if owned && source != "" {
			if err := os.Remove(source); err != nil && !errors.Is(err, os.ErrNotExist) {
				log.Warn("removing source failed", "path", source, "error", err)
			}
		}
	}()

	existing, err := audit.FindDocumentByFileName(ctx, name)
	switch {
	case err == nil && existing.Status == storage.StatusCompleted:
		r.status.incSkipped()
		log.Info("skipping already processed document", "document_id", existing.DocumentID)
		return nil
	case err == nil && existing.Status == storage.StatusProcessing && !r.o.stale(existing):
		r.status.incSkipped()
		log.Warn("skipping document already in progress", "document_id", existing.DocumentID)
		return nil
	case err == nil:
		log.Info("retrying previous attempt", "status", existing.Status, "created_at", existing.CreatedAt)
		if err := audit.DeleteDocument(ctx, existing.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			r.status.incFailed()
			log.Error("clearing failed audit record", "error", err)
			return nil
		}
	case !errors.Is(err, storage.ErrNotFound):
		r.status.incFailed()
		log.Error("dedup lookup failed", "error", err)
		return nil
	}

	rec, err := audit.CreateDocument(ctx, storage.ProcessedDocument{
		FileName:   name,
		DocumentID: documentID,
		Status:     storage.StatusProcessing,
	})
	if err != nil {
		r.status.incFailed()
		log.Error("creating audit record", "error", err)
		return nil
	}

	if in.remote() {
		path, err := r.o.deps.Papers.DownloadPDF(ctx, in.PaperID, r.workDir)
		if err != nil {
			r.recordFailure(ctx, rec, fmt.Errorf("downloading %s: %w", in.PaperID, err))
			return nil
		}
		source = path
	}
	if fi, err := os.Stat(source); err == nil {
		rec.FileSize = fi.Size()
	}

	res, err := r.o.deps.Pipeline.Ingest(ctx, source, name, documentID)
	if err != nil {
		r.recordFailure(ctx, rec, err)
		return nil
	}

	rec.Status = storage.StatusCompleted
	rec.TotalPages = res.TotalPages
	rec.TotalChunks = len(res.Chunks)
	rec.TotalTokens = res.TotalTokens
	rec.Title = storage.Truncate(res.Title, maxMetadataLength)
	rec.Author = storage.Truncate(res.Author, maxMetadataLength)
	rec.ProcessedAt = time.Now()
	if err := audit.UpdateDocument(ctx, rec); err != nil {
		log.Error("updating audit record", "error", err)
	}

	r.status.addDocument(len(res.Chunks))
	log.Debug("document processed", "chunks", len(res.Chunks), "pages", res.TotalPages)
	return res
}

func (r *jobRun) recordFailure(ctx context.Context, rec storage.ProcessedDocument, cause error) {
	r.status.incFailed()
	r.log.Warn("document failed", "file", rec.FileName, "error", cause)

	rec.Status = storage.StatusFailed
	rec.ErrorMessage = storage.Truncate(cause.Error(), storage.MaxErrorLength)
	rec.ProcessedAt = time.Now()
	if err := r.o.deps.Audit.UpdateDocument(ctx, rec); err != nil {
		r.log.Error("updating audit record", "file", rec.FileName, "error", err)
	}
}

// unitDone counts a finished input and logs progress at bounded intervals.
func (r *jobRun) unitDone() {
	done := int(r.done.Add(1))
	total := len(r.inputs)
	if total == 0 {
		return
	}
	if done%progressInterval(total) != 0 && done != total {
		return
	}

	rate := 0.0
	if elapsed := time.Since(r.started).Seconds(); elapsed > 0 {
		rate = float64(done) / elapsed
	}
	r.log.Info("job progress",
		"done", done,
		"total", total,
		"chunks", r.status.chunksProcessed.Load(),
		"failed", r.status.failed.Load(),
		"skipped", r.status.skipped.Load(),
		"rate", fmt.Sprintf("%.2f/s", rate),
	)
}

// progressInterval logs roughly every 10% of the batch and at least every 10 units.
func progressInterval(total int) int {
	return max(1, min(total/10, 10))
}

func newDocumentID() string {
	return uuid.NewString()
}
