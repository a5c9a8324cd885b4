package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ErrJobNotFound is returned for unknown job ids.
var ErrJobNotFound = errors.New("job not found")

// Registry holds the status of every job known to this process.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*JobStatus
}

func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]*JobStatus)}
}

func (r *Registry) add(s *JobStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[s.id] = s
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, id)
}

// Get returns a snapshot of the job with the given id.
func (r *Registry) Get(id string) (StatusSnapshot, error) {
	r.mu.RLock()
	s, ok := r.jobs[id]
	r.mu.RUnlock()
	if !ok {
		return StatusSnapshot{}, ErrJobNotFound
	}
	return s.Snapshot(), nil
}

// List returns snapshots of all jobs, newest first.
func (r *Registry) List() []StatusSnapshot {
	r.mu.RLock()
	snaps := make([]StatusSnapshot, 0, len(r.jobs))
	for _, s := range r.jobs {
		snaps = append(snaps, s.Snapshot())
	}
	r.mu.RUnlock()

	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].StartTime.After(snaps[j].StartTime)
	})
	return snaps
}

// Len returns the number of tracked jobs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

// Prune drops terminal jobs that ended before cutoff and returns how many
// were removed. Running jobs are never pruned.
func (r *Registry) Prune(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, s := range r.jobs {
		if s.terminalBefore(cutoff) {
			delete(r.jobs, id)
			n++
		}
	}
	return n
}

// RunJanitor prunes jobs older than retention until ctx is cancelled.
func (r *Registry) RunJanitor(ctx context.Context, retention time.Duration) {
	if retention <= 0 {
		return
	}
	interval := max(retention/4, time.Minute)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Prune(time.Now().Add(-retention)); n > 0 {
				slog.Debug("pruned finished jobs", "count", n, "remaining", r.Len())
			}
		}
	}
}
