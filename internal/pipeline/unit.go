package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"bimhub-api/internal/convert"

	"github.com/rs/zerolog"
)

// Conversion progress is remapped into this sub-range of the job's overall
// progress; the milestones around it are fixed.
const (
	progressReading   = 20
	progressConvertLo = 40
	progressConvertHi = 80
	progressReady     = 85
)

var errMemoryCeiling = errors.New("conversion exceeded the memory ceiling")

// unit is one isolated execution unit: it owns its temp input file, runs the
// heavy conversion, and communicates with the owning dispatcher exclusively
// through the message channel. It never touches the registry.
type unit struct {
	item      *workItem
	converter convert.Converter
	msgs      chan<- unitMessage
	tempDir   string

	watchdogInterval time.Duration
	memCeiling       uint64
}

func (u *unit) run(ctx context.Context) {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	u.startWatchdog(ctx, cancel)

	result, err := u.process(ctx)

	// Best-effort cleanup of the temp input; failure here must never fail
	// the job.
	if rmErr := os.Remove(u.item.tempPath); rmErr != nil && !os.IsNotExist(rmErr) {
		u.log(zerolog.WarnLevel, fmt.Sprintf("failed to remove temp input: %v", rmErr))
	}

	if err != nil {
		if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
			err = cause
		}
		u.fail(err)
		return
	}
	u.finish(result)
}

func (u *unit) process(ctx context.Context) (*FileResult, error) {
	u.sendProgress(progressReading, "Reading model file")

	input, err := os.ReadFile(u.item.tempPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read uploaded file: %w", err)
	}

	kind := convert.DetectKind(u.item.fileName)
	var artifact []byte
	var meta convert.Metadata

	switch kind {
	case convert.KindIFC:
		u.sendProgress(progressConvertLo, "Converting model")
		res, err := u.converter.Convert(ctx, input, func(pct int, msg string) {
			overall := progressConvertLo + pct*(progressConvertHi-progressConvertLo)/100
			if msg == "" {
				msg = "Converting model"
			}
			u.sendProgress(overall, msg)
		})
		if err != nil {
			return nil, err
		}
		artifact, meta = res.Artifact, res.Meta
		u.sendProgress(progressConvertHi, "Conversion finished")
	case convert.KindFragment:
		// Already in final form; no conversion pass needed.
		artifact = input
		u.sendProgress(progressConvertHi, "Model already converted")
	default:
		return nil, fmt.Errorf("unsupported model file: %s", u.item.fileName)
	}

	out, err := os.CreateTemp(u.tempDir, "artifact-*.frag")
	if err != nil {
		return nil, fmt.Errorf("failed to create artifact file: %w", err)
	}
	if _, err := out.Write(artifact); err != nil {
		out.Close()
		os.Remove(out.Name())
		return nil, fmt.Errorf("failed to write artifact file: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(out.Name())
		return nil, fmt.Errorf("failed to close artifact file: %w", err)
	}

	u.sendProgress(progressReady, "Preparing project records")

	return &FileResult{
		ArtifactPath: out.Name(),
		SizeBytes:    int64(len(artifact)),
		Meta:         meta,
		Kind:         kind,
	}, nil
}

// startWatchdog periodically self-checks resident memory and cancels the
// conversion when it crosses the ceiling. The unit fails itself; nothing
// kills it externally.
func (u *unit) startWatchdog(ctx context.Context, cancel context.CancelCauseFunc) {
	if u.memCeiling == 0 || u.watchdogInterval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(u.watchdogInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				var stats runtime.MemStats
				runtime.ReadMemStats(&stats)
				if stats.HeapAlloc > u.memCeiling {
					u.log(zerolog.ErrorLevel, fmt.Sprintf(
						"memory watchdog tripped: %d bytes in use, ceiling %d", stats.HeapAlloc, u.memCeiling))
					cancel(errMemoryCeiling)
					return
				}
			}
		}
	}()
}

func (u *unit) log(level zerolog.Level, text string) {
	u.msgs <- unitMessage{
		kind:      msgLog,
		jobID:     u.item.jobID,
		fileIndex: u.item.fileIndex,
		level:     level,
		text:      text,
	}
}

func (u *unit) sendProgress(progress int, message string) {
	u.msgs <- unitMessage{
		kind:      msgProgress,
		jobID:     u.item.jobID,
		fileIndex: u.item.fileIndex,
		progress:  progress,
		message:   message,
	}
}

// finish emits the unit's last message. For a member file the slot goes
// straight to completed; for a single-file job the dispatcher still has to
// run finalization before the job itself completes.
func (u *unit) finish(result *FileResult) {
	if u.item.fileIndex >= 0 {
		u.msgs <- unitMessage{
			kind:      msgMultiStatusUpdate,
			jobID:     u.item.jobID,
			fileIndex: u.item.fileIndex,
			status:    StatusCompleted,
			progress:  100,
			message:   "File processed",
			result:    result,
			exit:      true,
		}
		return
	}
	u.msgs <- unitMessage{
		kind:      msgStatusUpdate,
		jobID:     u.item.jobID,
		fileIndex: -1,
		status:    StatusProcessing,
		progress:  progressReady,
		message:   "Creating project",
		result:    result,
		exit:      true,
	}
}

func (u *unit) fail(err error) {
	kind := msgStatusUpdate
	if u.item.fileIndex >= 0 {
		kind = msgMultiStatusUpdate
	}
	u.msgs <- unitMessage{
		kind:      kind,
		jobID:     u.item.jobID,
		fileIndex: u.item.fileIndex,
		status:    StatusFailed,
		progress:  0,
		errMsg:    err.Error(),
		exit:      true,
	}
}
