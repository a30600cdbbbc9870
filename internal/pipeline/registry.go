package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Registry is the in-memory job table. It is the only shared mutable
// structure in the pipeline: reads take the read lock, mutations go through
// Update so job state is never touched concurrently.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]Job

	singleRetention time.Duration
	multiRetention  time.Duration
	logger          zerolog.Logger
}

func NewRegistry(singleRetention, multiRetention time.Duration, logger zerolog.Logger) *Registry {
	return &Registry{
		jobs:            make(map[string]Job),
		singleRetention: singleRetention,
		multiRetention:  multiRetention,
		logger:          logger.With().Str("component", "job-registry").Logger(),
	}
}

func (r *Registry) Put(job Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID()] = job
}

// Update runs fn against the job under the write lock. Returns false when the
// job is unknown or already evicted.
func (r *Registry) Update(jobID string, fn func(Job)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return false
	}
	fn(job)
	return true
}

// Snapshot returns a copy of the job's current state.
func (r *Registry) Snapshot(jobID string) (*Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return nil, false
	}
	return job.Snapshot(), true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

// Sweep evicts terminal jobs past their retention window and returns how many
// were removed. Non-terminal jobs are never evicted.
func (r *Registry) Sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for id, job := range r.jobs {
		if !job.Terminal() {
			continue
		}
		retention := r.singleRetention
		if job.Multi() {
			retention = r.multiRetention
		}
		if now.Sub(job.TerminalAt()) >= retention {
			delete(r.jobs, id)
			evicted++
		}
	}
	if evicted > 0 {
		r.logger.Debug().Int("evicted", evicted).Msg("swept expired jobs")
	}
	return evicted
}

// StartSweeper runs Sweep on an interval until ctx is canceled.
func (r *Registry) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				r.Sweep(now)
			}
		}
	}()
}
