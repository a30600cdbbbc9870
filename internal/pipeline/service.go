// Package pipeline implements the asynchronous model ingestion pipeline: a
// bounded worker pool of isolated execution units, the in-memory job
// registry, multi-file aggregation, and the transactional finalization that
// materializes a project only after every file has converted successfully.
package pipeline

import (
	"context"
	"sync"
	"time"

	"bimhub-api/internal/convert"
	"bimhub-api/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Options carries the resolved pipeline configuration.
type Options struct {
	MaxConcurrency   int
	TempDir          string
	WatchdogInterval time.Duration
	MemCeilingBytes  uint64
	SingleRetention  time.Duration
	MultiRetention   time.Duration
	SweepInterval    time.Duration
}

// StatusPublisher receives every job snapshot the pipeline produces;
// implementations push them to the real-time channel clients poll or
// subscribe on.
type StatusPublisher interface {
	Publish(ctx context.Context, snap *Snapshot)
}

// SingleUpload describes one file enqueued on its own.
type SingleUpload struct {
	FileName string
	TempPath string
	Category string
	Base     models.ProjectBase
}

// MultiUpload describes a set of files tracked as one logical unit.
type MultiUpload struct {
	Base  models.ProjectBase
	Files []UploadFile
}

type UploadFile struct {
	FileName string
	TempPath string
	Category string
}

// Service owns the pipeline. All registry mutations funnel through its
// dispatch goroutine, which serializes message handling; heavy work happens
// in execution units and the finalization goroutines.
type Service struct {
	registry  *Registry
	pool      *Pool
	converter convert.Converter
	finalizer Finalizer
	publisher StatusPublisher
	opts      Options
	logger    zerolog.Logger

	msgs  chan unitMessage
	pubCh chan *Snapshot

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewService(converter convert.Converter, finalizer Finalizer, publisher StatusPublisher, opts Options, logger zerolog.Logger) *Service {
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Minute
	}
	s := &Service{
		converter: converter,
		finalizer: finalizer,
		publisher: publisher,
		opts:      opts,
		logger:    logger.With().Str("component", "pipeline").Logger(),
		msgs:      make(chan unitMessage, 256),
		pubCh:     make(chan *Snapshot, 256),
	}
	s.registry = NewRegistry(opts.SingleRetention, opts.MultiRetention, logger)
	s.pool = NewPool(opts.MaxConcurrency, s.spawnUnit, s.failSpawn, logger)
	return s
}

// Start launches the dispatch loop, the retention sweeper and the publish
// loop. The pipeline runs until Stop or ctx cancellation.
func (s *Service) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.registry.StartSweeper(s.ctx, s.opts.SweepInterval)

	s.wg.Add(1)
	go s.dispatchLoop()
	go s.publishLoop()

	s.logger.Info().Int("max_concurrency", s.pool.Max()).Msg("pipeline started")
}

// Stop shuts the dispatcher down. In-flight execution units are abandoned;
// the pipeline makes no cross-restart guarantees.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info().Msg("pipeline stopped")
}

// EnqueueSingle registers a single-file job and schedules it. Returns the
// job id immediately.
func (s *Service) EnqueueSingle(u SingleUpload) string {
	jobID := uuid.NewString()
	job := &ProcessingJob{
		JobID:        jobID,
		Status:       StatusUploading,
		Progress:     10,
		Message:      "Upload received",
		CreatedAt:    time.Now(),
		FileName:     u.FileName,
		TempPath:     u.TempPath,
		ArtifactName: convert.ArtifactName(u.FileName),
		Category:     u.Category,
		Base:         u.Base,
	}
	s.registry.Put(job)
	s.publish(jobID)
	s.pool.Enqueue(&workItem{jobID: jobID, fileIndex: -1, fileName: u.FileName, tempPath: u.TempPath})
	return jobID
}

// EnqueueMulti registers a multi-file job, assigns collision-free artifact
// names, and schedules every file in upload order.
func (s *Service) EnqueueMulti(u MultiUpload) string {
	jobID := uuid.NewString()
	taken := make(map[string]bool)
	slots := make([]FileSlot, len(u.Files))
	items := make([]*workItem, len(u.Files))
	for i, f := range u.Files {
		slots[i] = FileSlot{
			FileName:          f.FileName,
			Category:          f.Category,
			Status:            SlotPending,
			FinalArtifactName: uniqueArtifactName(convert.ArtifactName(f.FileName), taken),
			TempInputPath:     f.TempPath,
		}
		items[i] = &workItem{jobID: jobID, fileIndex: i, fileName: f.FileName, tempPath: f.TempPath}
	}
	job := &MultiFileJob{
		JobID:      jobID,
		Status:     StatusUploading,
		Progress:   10,
		Message:    "Upload received",
		TotalFiles: len(u.Files),
		Files:      slots,
		Base:       u.Base,
		CreatedAt:  time.Now(),
	}
	s.registry.Put(job)
	s.publish(jobID)
	s.pool.Enqueue(items...)
	return jobID
}

// Snapshot is the point-in-time read used by the status surface.
func (s *Service) Snapshot(jobID string) (*Snapshot, bool) {
	return s.registry.Snapshot(jobID)
}

func (s *Service) spawnUnit(item *workItem) error {
	u := &unit{
		item:             item,
		converter:        s.converter,
		msgs:             s.msgs,
		tempDir:          s.opts.TempDir,
		watchdogInterval: s.opts.WatchdogInterval,
		memCeiling:       s.opts.MemCeilingBytes,
	}
	go u.run(s.ctx)
	return nil
}

// failSpawn marks a job failed when its execution unit could not start; the
// slot was never occupied, so the pool retries the next pending item on its
// own.
func (s *Service) failSpawn(item *workItem, err error) {
	if item.fileIndex >= 0 {
		s.registry.Update(item.jobID, func(j Job) {
			if job, ok := j.(*MultiFileJob); ok {
				applySlotUpdate(job, item.fileIndex, unitMessage{status: StatusFailed, errMsg: err.Error()})
			}
		})
	} else {
		s.registry.Update(item.jobID, func(j Job) {
			if job, ok := j.(*ProcessingJob); ok && !job.Terminal() {
				job.Status = StatusFailed
				job.Progress = 0
				job.Error = err.Error()
				job.terminalAt = time.Now()
			}
		})
	}
	s.publish(item.jobID)
}

func (s *Service) dispatchLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case m := <-s.msgs:
			s.handle(m)
		}
	}
}

// handle applies one message to the registry. Handlers stay synchronous and
// short; finalization I/O runs in its own goroutine and reports back through
// the same channel.
func (s *Service) handle(m unitMessage) {
	if m.exit {
		key := (&workItem{jobID: m.jobID, fileIndex: m.fileIndex}).key()
		defer s.pool.SlotFree(key)
	}

	switch m.kind {
	case msgLog:
		s.logger.WithLevel(m.level).Str("job_id", m.jobID).Msg(m.text)
		return

	case msgProgress:
		if m.fileIndex >= 0 {
			s.registry.Update(m.jobID, func(j Job) {
				if job, ok := j.(*MultiFileJob); ok {
					applySlotProgress(job, m.fileIndex, m.progress, m.message)
				}
			})
		} else {
			s.registry.Update(m.jobID, func(j Job) {
				job, ok := j.(*ProcessingJob)
				if !ok || job.Terminal() {
					return
				}
				job.Status = StatusProcessing
				if m.progress > job.Progress {
					job.Progress = m.progress
				}
				if m.message != "" {
					job.Message = m.message
				}
			})
		}

	case msgStatusUpdate:
		var base models.ProjectBase
		var files []CompletedFile
		finalize := false
		s.registry.Update(m.jobID, func(j Job) {
			job, ok := j.(*ProcessingJob)
			if !ok || job.Terminal() {
				return
			}
			if m.status == StatusFailed {
				job.Status = StatusFailed
				job.Progress = 0
				job.Error = m.errMsg
				job.terminalAt = time.Now()
				return
			}
			if m.result != nil {
				job.Kind = m.result.Kind
				job.SizeBytes = m.result.SizeBytes
				job.Status = StatusProcessing
				if m.progress > job.Progress {
					job.Progress = m.progress
				}
				if m.message != "" {
					job.Message = m.message
				}
				base = job.Base
				files = []CompletedFile{{
					ArtifactName: job.ArtifactName,
					Category:     job.Category,
					ArtifactPath: m.result.ArtifactPath,
					Meta:         m.result.Meta,
				}}
				finalize = true
			}
		})
		if finalize {
			s.startFinalize(m.jobID, base, files)
		}

	case msgMultiStatusUpdate:
		var base models.ProjectBase
		var files []CompletedFile
		finalize := false
		s.registry.Update(m.jobID, func(j Job) {
			job, ok := j.(*MultiFileJob)
			if !ok {
				return
			}
			if applySlotUpdate(job, m.fileIndex, m) {
				base = job.Base
				files = completedFiles(job)
				finalize = true
			}
		})
		if finalize {
			s.startFinalize(m.jobID, base, files)
		}

	case msgFinalized:
		s.registry.Update(m.jobID, func(j Job) {
			switch job := j.(type) {
			case *ProcessingJob:
				if job.Terminal() {
					return
				}
				if m.errMsg != "" {
					job.Status = StatusFailed
					job.Progress = 0
					job.Error = m.errMsg
				} else {
					job.Status = StatusCompleted
					job.Progress = 100
					job.Message = "Project created"
					job.Result = m.summary
				}
				job.terminalAt = time.Now()
			case *MultiFileJob:
				if job.Terminal() {
					return
				}
				if m.errMsg != "" {
					job.Status = StatusFailed
					job.Progress = 0
					job.Error = m.errMsg
					job.Message = "Project creation failed"
				} else {
					job.Status = StatusCompleted
					job.Progress = 100
					job.Message = "Project created"
					job.Result = m.summary
					job.ProjectID = m.summary.ProjectID.String()
				}
				job.terminalAt = time.Now()
			}
		})
	}

	s.publish(m.jobID)
}

// startFinalize runs the finalization engine off the dispatch goroutine so
// the loop keeps receiving messages from other active units, and posts the
// outcome back as a message.
func (s *Service) startFinalize(jobID string, base models.ProjectBase, files []CompletedFile) {
	go func() {
		summary, err := s.finalizer.Finalize(s.ctx, base, files)
		msg := unitMessage{kind: msgFinalized, jobID: jobID, fileIndex: -1, summary: summary}
		if err != nil {
			msg.errMsg = err.Error()
			s.logger.Error().Err(err).Str("job_id", jobID).Msg("finalization failed")
		}
		select {
		case s.msgs <- msg:
		case <-s.ctx.Done():
		}
	}()
}

func (s *Service) publish(jobID string) {
	if s.publisher == nil {
		return
	}
	snap, ok := s.registry.Snapshot(jobID)
	if !ok {
		return
	}
	select {
	case s.pubCh <- snap:
	default:
		// Dropping a snapshot is fine, the next update supersedes it.
	}
}

func (s *Service) publishLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case snap := <-s.pubCh:
			s.publisher.Publish(s.ctx, snap)
		}
	}
}
