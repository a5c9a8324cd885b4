package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kalambet/paperdex/internal/pipeline"
)

// Strategy decides how a job's inputs are scheduled and exported.
// Implementations are SequentialStreaming and ParallelBatched.
type Strategy interface {
	Name() string
	run(ctx context.Context, r *jobRun) error
}

// Strategy names accepted by NewStrategy.
const (
	ModeSequential = "sequential"
	ModeParallel   = "parallel"
)

// NewStrategy builds the named strategy. The parallel strategy takes
// ownership of docs.
func NewStrategy(mode string, docs *Pool, downloadDelay time.Duration) (Strategy, error) {
	switch mode {
	case "", ModeSequential:
		return &SequentialStreaming{DownloadDelay: downloadDelay}, nil
	case ModeParallel:
		if docs == nil {
			return nil, fmt.Errorf("parallel mode requires a document pool")
		}
		return &ParallelBatched{Pool: docs, DownloadDelay: downloadDelay}, nil
	default:
		return nil, fmt.Errorf("unknown ingestion mode %q", mode)
	}
}

// SequentialStreaming processes inputs one at a time on the job goroutine and
// writes each document's chunks to the export file as soon as it finishes, so
// at most one document's chunks are held in memory.
type SequentialStreaming struct {
	DownloadDelay time.Duration
}

func (s *SequentialStreaming) Name() string { return ModeSequential }

func (s *SequentialStreaming) run(ctx context.Context, r *jobRun) error {
	if err := r.openSink(); err != nil {
		return err
	}
	for i, in := range r.inputs {
		if i > 0 && in.remote() {
			if err := sleepCtx(ctx, s.DownloadDelay); err != nil {
				return err
			}
		}
		res := r.process(ctx, in, newDocumentID())
		err := r.writeResult(res)
		r.unitDone()
		if err != nil {
			return err
		}
	}
	return nil
}

// ParallelBatched fans inputs out over a shared document pool, keeps results
// in a map keyed by document id, and writes the export from a single
// goroutine after every submitted document has finished.
type ParallelBatched struct {
	Pool          *Pool
	DownloadDelay time.Duration
}

func (p *ParallelBatched) Name() string { return ModeParallel }

func (p *ParallelBatched) close() { p.Pool.Close() }

func (p *ParallelBatched) run(ctx context.Context, r *jobRun) error {
	if err := r.openSink(); err != nil {
		return err
	}

	var (
		mu      sync.Mutex
		results = make(map[string]*pipeline.Result, len(r.inputs))
		order   = make([]string, 0, len(r.inputs))
		wg      sync.WaitGroup
		subErr  error
	)
	for i, in := range r.inputs {
		if i > 0 && in.remote() {
			if err := sleepCtx(ctx, p.DownloadDelay); err != nil {
				subErr = err
				break
			}
		}

		docID := newDocumentID()
		wg.Add(1)
		err := p.Pool.Submit(ctx, func() {
			defer wg.Done()
			defer r.unitDone()
			if res := r.process(ctx, in, docID); res != nil {
				mu.Lock()
				results[docID] = res
				mu.Unlock()
			}
		})
		if err != nil {
			wg.Done()
			subErr = fmt.Errorf("submitting %s: %w", in.displayName(), err)
			break
		}
		order = append(order, docID)
	}
	wg.Wait()

	if subErr != nil {
		return subErr
	}

	for _, id := range order {
		res, ok := results[id]
		if !ok {
			continue
		}
		if err := r.writeResult(res); err != nil {
			return err
		}
		delete(results, id)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
