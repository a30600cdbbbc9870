package pipeline

import (
	"fmt"
	"math"
	"time"
)

// applySlotUpdate records one (jobID, fileIndex) update on its slot and
// recomputes the aggregate. Returns true when every slot is completed and
// finalization has not started yet; the caller owns kicking it off. Must run
// under the registry write lock.
func applySlotUpdate(job *MultiFileJob, idx int, m unitMessage) (startFinalize bool) {
	if idx < 0 || idx >= len(job.Files) || job.Terminal() {
		return false
	}
	slot := &job.Files[idx]

	switch m.status {
	case StatusCompleted:
		slot.Status = SlotCompleted
		slot.Progress = 100
		if m.result != nil {
			slot.TempArtifactPath = m.result.ArtifactPath
			slot.Meta = &m.result.Meta
			slot.Kind = m.result.Kind
			slot.SizeBytes = m.result.SizeBytes
		}
	case StatusFailed:
		slot.Status = SlotFailed
		slot.Progress = 0
		slot.Error = m.errMsg
	default:
		slot.Status = SlotProcessing
		if m.progress > slot.Progress {
			slot.Progress = m.progress
		}
	}

	return recomputeAggregate(job)
}

// applySlotProgress folds a progress message into its slot and the aggregate.
// Progress is monotonic until a terminal state.
func applySlotProgress(job *MultiFileJob, idx, progress int, message string) {
	if idx < 0 || idx >= len(job.Files) || job.Terminal() {
		return
	}
	slot := &job.Files[idx]
	if slot.Status == SlotCompleted || slot.Status == SlotFailed {
		return
	}
	slot.Status = SlotProcessing
	if progress > slot.Progress {
		slot.Progress = progress
	}
	if message != "" {
		job.Message = fmt.Sprintf("%s: %s", slot.FileName, message)
	}
	recomputeAggregate(job)
}

// recomputeAggregate derives the multi-file job's status and progress from
// its slots. The counts are always recomputed, never carried. Returns true
// when the job just became ready for its one-shot finalization.
func recomputeAggregate(job *MultiFileJob) bool {
	var completed, failed, processing, processingSum int
	for i := range job.Files {
		switch job.Files[i].Status {
		case SlotCompleted:
			completed++
		case SlotFailed:
			failed++
		case SlotProcessing, SlotUploading:
			processing++
			processingSum += job.Files[i].Progress
		}
	}
	job.CompletedFiles = completed

	switch {
	case completed == job.TotalFiles:
		// Completed pending finalization: the client must not see 100%
		// before the project actually exists.
		job.Status = StatusProcessing
		if job.Progress < 99 {
			job.Progress = 99
		}
		job.Message = "All files processed, creating project"
		if !job.finalizeStarted {
			job.finalizeStarted = true
			return true
		}
	case failed > 0 && completed+failed == job.TotalFiles:
		job.Status = StatusFailed
		job.Progress = 0
		job.Error = fmt.Sprintf("%d of %d files failed to process", failed, job.TotalFiles)
		job.Message = job.Error
		job.terminalAt = time.Now()
	case processing > 0:
		job.Status = StatusProcessing
		p := int(math.Round(float64(100*completed+processingSum) / float64(job.TotalFiles)))
		if p > 99 {
			p = 99
		}
		if p > job.Progress {
			job.Progress = p
		}
	}
	return false
}

// completedFiles assembles the finalization inputs from the slots, in
// original upload order. Must run under the registry lock.
func completedFiles(job *MultiFileJob) []CompletedFile {
	files := make([]CompletedFile, 0, len(job.Files))
	for i := range job.Files {
		slot := &job.Files[i]
		cf := CompletedFile{
			ArtifactName: slot.FinalArtifactName,
			Category:     slot.Category,
			ArtifactPath: slot.TempArtifactPath,
		}
		if slot.Meta != nil {
			cf.Meta = *slot.Meta
		}
		files = append(files, cf)
	}
	return files
}
