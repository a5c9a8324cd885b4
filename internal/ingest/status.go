package ingest

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/kalambet/paperdex/internal/storage"
)

// State is a job's lifecycle state. PROCESSING moves to exactly one terminal state.
type State string

const (
	StateProcessing State = "PROCESSING"
	StateCompleted  State = "COMPLETED"
	StateFailed     State = "FAILED"
)

// maxJobErrorLength bounds the error exposed on a failed job.
const maxJobErrorLength = 500

// JobKind identifies where a job's inputs come from.
type JobKind string

const (
	KindUpload        JobKind = "upload"
	KindLocal         JobKind = "local"
	KindArxivCategory JobKind = "arxiv_category"
	KindArxivPapers   JobKind = "arxiv_papers"
)

func (k JobKind) idPrefix() string {
	switch k {
	case KindArxivCategory, KindArxivPapers:
		return "arxiv_"
	default:
		return "job_"
	}
}

// JobStatus is the live progress record of one job. Counters are updated by
// concurrent workers; the state fields are guarded by mu.
type JobStatus struct {
	id        string
	kind      JobKind
	startTime time.Time

	totalFiles         atomic.Int64
	documentsProcessed atomic.Int64
	chunksProcessed    atomic.Int64
	failed             atomic.Int64
	skipped            atomic.Int64

	mu             sync.Mutex
	state          State
	endTime        time.Time
	errorMessage   string
	exportFileName string
	exportLocation string
}

func newJobStatus(id string, kind JobKind, totalFiles int) *JobStatus {
	s := &JobStatus{id: id, kind: kind, startTime: time.Now(), state: StateProcessing}
	s.totalFiles.Store(int64(totalFiles))
	return s
}

func (s *JobStatus) ID() string { return s.id }

func (s *JobStatus) setTotalFiles(n int) { s.totalFiles.Store(int64(n)) }

func (s *JobStatus) addDocument(chunks int) {
	s.chunksProcessed.Add(int64(chunks))
	s.documentsProcessed.Add(1)
}

func (s *JobStatus) incFailed()  { s.failed.Add(1) }
func (s *JobStatus) incSkipped() { s.skipped.Add(1) }

// complete moves the job to COMPLETED. It reports false if the job had
// already reached a terminal state.
func (s *JobStatus) complete(exportFileName, exportLocation string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateProcessing {
		return false
	}
	s.state = StateCompleted
	s.endTime = time.Now()
	s.exportFileName = exportFileName
	s.exportLocation = exportLocation
	return true
}

// fail moves the job to FAILED with a truncated message.
func (s *JobStatus) fail(err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateProcessing {
		return false
	}
	s.state = StateFailed
	s.endTime = time.Now()
	if err != nil {
		s.errorMessage = storage.Truncate(err.Error(), maxJobErrorLength)
	}
	return true
}

// terminalBefore reports whether the job ended before t.
func (s *JobStatus) terminalBefore(t time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state != StateProcessing && s.endTime.Before(t)
}

// StatusSnapshot is a point-in-time copy of a JobStatus, safe to serialise.
type StatusSnapshot struct {
	JobID              string     `json:"jobId"`
	Kind               JobKind    `json:"kind"`
	Status             State      `json:"status"`
	TotalFiles         int        `json:"totalFiles"`
	DocumentsProcessed int        `json:"documentsProcessed"`
	ChunksProcessed    int        `json:"chunksProcessed"`
	FailedDocuments    int        `json:"failedDocuments"`
	SkippedDocuments   int        `json:"skippedDocuments"`
	StartTime          time.Time  `json:"startTime"`
	EndTime            *time.Time `json:"endTime,omitempty"`
	DurationMs         int64      `json:"durationMs"`
	ErrorMessage       string     `json:"errorMessage,omitempty"`
	ExportFileName     string     `json:"exportFileName,omitempty"`
	ExportLocation     string     `json:"exportLocation,omitempty"`
}

// Snapshot copies the current state.
func (s *JobStatus) Snapshot() StatusSnapshot {
	s.mu.Lock()
	snap := StatusSnapshot{
		JobID:          s.id,
		Kind:           s.kind,
		Status:         s.state,
		StartTime:      s.startTime,
		ErrorMessage:   s.errorMessage,
		ExportFileName: s.exportFileName,
		ExportLocation: s.exportLocation,
	}
	end := s.endTime
	s.mu.Unlock()

	snap.TotalFiles = int(s.totalFiles.Load())
	snap.DocumentsProcessed = int(s.documentsProcessed.Load())
	snap.ChunksProcessed = int(s.chunksProcessed.Load())
	snap.FailedDocuments = int(s.failed.Load())
	snap.SkippedDocuments = int(s.skipped.Load())
	if end.IsZero() {
		snap.DurationMs = time.Since(s.startTime).Milliseconds()
	} else {
		snap.EndTime = &end
		snap.DurationMs = end.Sub(s.startTime).Milliseconds()
	}
	return snap
}
