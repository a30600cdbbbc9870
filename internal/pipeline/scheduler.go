package pipeline

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// workItem is one schedulable unit of conversion work: a single-file job, or
// one file of a multi-file job.
type workItem struct {
	jobID     string
	fileIndex int // -1 for single-file jobs
	fileName  string
	tempPath  string
}

func (w *workItem) key() string {
	if w.fileIndex < 0 {
		return w.jobID
	}
	return fmt.Sprintf("%s#%d", w.jobID, w.fileIndex)
}

// Pool is the FIFO scheduler bounding how many execution units run at once.
// There is no priority, no preemption and no retry: a failed item stays
// failed, and any retry is a fresh enqueue by the caller. Enqueue is called
// from request goroutines and SlotFree from the dispatcher, so the queue is
// guarded by its own mutex.
type Pool struct {
	mu      sync.Mutex
	max     int
	pending []*workItem
	active  map[string]*workItem

	// spawn starts an execution unit for the item; an error means the unit
	// never started and the slot is immediately reused.
	spawn func(*workItem) error
	// onSpawnError marks the item's job failed without occupying a slot.
	onSpawnError func(*workItem, error)

	logger zerolog.Logger
}

func NewPool(max int, spawn func(*workItem) error, onSpawnError func(*workItem, error), logger zerolog.Logger) *Pool {
	if max < 1 {
		max = 1
	}
	return &Pool{
		max:          max,
		active:       make(map[string]*workItem),
		spawn:        spawn,
		onSpawnError: onSpawnError,
		logger:       logger.With().Str("component", "worker-pool").Logger(),
	}
}

func (p *Pool) Max() int { return p.max }

// Enqueue appends items in order and immediately attempts dispatch.
func (p *Pool) Enqueue(items ...*workItem) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = append(p.pending, items...)
	p.dispatch()
}

// SlotFree releases the slot held by the given unit key and attempts the next
// dispatch. Invoked when a unit terminates, normally or not.
func (p *Pool) SlotFree(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.active, key)
	p.dispatch()
}

func (p *Pool) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

func (p *Pool) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// dispatch pops pending items into free slots. Callers hold p.mu.
func (p *Pool) dispatch() {
	for len(p.active) < p.max && len(p.pending) > 0 {
		item := p.pending[0]
		p.pending = p.pending[1:]

		if err := p.spawn(item); err != nil {
			p.logger.Error().Err(err).Str("job_id", item.jobID).Msg("failed to spawn execution unit")
			if p.onSpawnError != nil {
				p.onSpawnError(item, err)
			}
			continue
		}
		p.active[item.key()] = item
	}
}
