package pipeline

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"bimhub-api/internal/convert"
	"bimhub-api/internal/models"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusUploading  Status = "uploading"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// SlotStatus is the lifecycle state of one file inside a multi-file job.
type SlotStatus string

const (
	SlotPending    SlotStatus = "pending"
	SlotUploading  SlotStatus = "uploading"
	SlotProcessing SlotStatus = "processing"
	SlotCompleted  SlotStatus = "completed"
	SlotFailed     SlotStatus = "failed"
)

func terminal(s Status) bool {
	return s == StatusCompleted || s == StatusFailed
}

// FileResult is everything finalization needs about one converted file,
// produced by an execution unit so the artifact never has to be re-read
// for metadata.
type FileResult struct {
	ArtifactPath string
	SizeBytes    int64
	Meta         convert.Metadata
	Kind         convert.FileKind
}

// ProcessingJob tracks a single-file upload.
type ProcessingJob struct {
	JobID     string
	Status    Status
	Progress  int
	Message   string
	Result    *models.ProjectSummary
	Error     string
	CreatedAt time.Time

	// enqueue-time inputs consumed by the execution unit and finalizer
	FileName     string
	TempPath     string
	ArtifactName string
	Category     string
	Base         models.ProjectBase

	// filled from the unit's result once conversion succeeds
	Kind      convert.FileKind
	SizeBytes int64

	terminalAt time.Time
}

// FileSlot is the per-file record inside a multi-file job.
type FileSlot struct {
	FileName          string
	Category          string
	Status            SlotStatus
	Progress          int
	FinalArtifactName string
	TempInputPath     string
	TempArtifactPath  string
	Meta              *convert.Metadata
	Kind              convert.FileKind
	SizeBytes         int64
	Error             string
}

// MultiFileJob tracks a set of files uploaded as one logical unit. The
// aggregate fields are always recomputed from the slots, never mutated
// independently.
type MultiFileJob struct {
	JobID          string
	Status         Status
	Progress       int
	Message        string
	TotalFiles     int
	CompletedFiles int
	Files          []FileSlot
	Base           models.ProjectBase
	ProjectID      string
	Result         *models.ProjectSummary
	Error          string
	CreatedAt      time.Time

	finalizeStarted bool
	terminalAt      time.Time
}

// Job is the tagged variant stored in the registry: a single-file job or a
// multi-file job.
type Job interface {
	ID() string
	Terminal() bool
	TerminalAt() time.Time
	Multi() bool
	Snapshot() *Snapshot
}

func (j *ProcessingJob) ID() string            { return j.JobID }
func (j *ProcessingJob) Terminal() bool        { return terminal(j.Status) }
func (j *ProcessingJob) TerminalAt() time.Time { return j.terminalAt }
func (j *ProcessingJob) Multi() bool           { return false }

func (j *MultiFileJob) ID() string            { return j.JobID }
func (j *MultiFileJob) Terminal() bool        { return terminal(j.Status) }
func (j *MultiFileJob) TerminalAt() time.Time { return j.terminalAt }
func (j *MultiFileJob) Multi() bool           { return true }

// Snapshot is the read-only view served by the status surface.
type Snapshot struct {
	JobID          string                 `json:"jobId"`
	Type           string                 `json:"type"` // "single" or "multi"
	Status         Status                 `json:"status"`
	Progress       int                    `json:"progress"`
	Message        string                 `json:"message,omitempty"`
	Error          string                 `json:"error,omitempty"`
	Kind           convert.FileKind       `json:"kind,omitempty"`
	SizeBytes      int64                  `json:"sizeBytes,omitempty"`
	Result         *models.ProjectSummary `json:"result,omitempty"`
	TotalFiles     int                    `json:"totalFiles,omitempty"`
	CompletedFiles int                    `json:"completedFiles"`
	Files          []FileSnapshot         `json:"files,omitempty"`
	CreatedAt      time.Time              `json:"createdAt"`
}

type FileSnapshot struct {
	FileName     string           `json:"fileName"`
	ArtifactName string           `json:"artifactName"`
	Category     string           `json:"category,omitempty"`
	Status       SlotStatus       `json:"status"`
	Progress     int              `json:"progress"`
	Kind         convert.FileKind `json:"kind,omitempty"`
	SizeBytes    int64            `json:"sizeBytes,omitempty"`
	Error        string           `json:"error,omitempty"`
}

func (s *Snapshot) Terminal() bool {
	return terminal(s.Status)
}

func (j *ProcessingJob) Snapshot() *Snapshot {
	return &Snapshot{
		JobID:     j.JobID,
		Type:      "single",
		Status:    j.Status,
		Progress:  j.Progress,
		Message:   j.Message,
		Error:     j.Error,
		Kind:      j.Kind,
		SizeBytes: j.SizeBytes,
		Result:    j.Result,
		CreatedAt: j.CreatedAt,
	}
}

func (j *MultiFileJob) Snapshot() *Snapshot {
	files := make([]FileSnapshot, len(j.Files))
	for i, f := range j.Files {
		files[i] = FileSnapshot{
			FileName:     f.FileName,
			ArtifactName: f.FinalArtifactName,
			Category:     f.Category,
			Status:       f.Status,
			Progress:     f.Progress,
			Kind:         f.Kind,
			SizeBytes:    f.SizeBytes,
			Error:        f.Error,
		}
	}
	return &Snapshot{
		JobID:          j.JobID,
		Type:           "multi",
		Status:         j.Status,
		Progress:       j.Progress,
		Message:        j.Message,
		Error:          j.Error,
		Result:         j.Result,
		TotalFiles:     j.TotalFiles,
		CompletedFiles: j.CompletedFiles,
		Files:          files,
		CreatedAt:      j.CreatedAt,
	}
}

// uniqueArtifactName appends an incrementing numeric suffix before the
// extension until the name is free among those already assigned in the same
// job ("wall.frag", "wall 1.frag", "wall 2.frag", ...).
func uniqueArtifactName(name string, taken map[string]bool) string {
	if !taken[name] {
		taken[name] = true
		return name
	}
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s %d%s", base, i, ext)
		if !taken[candidate] {
			taken[candidate] = true
			return candidate
		}
	}
}
