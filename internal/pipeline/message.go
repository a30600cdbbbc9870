package pipeline

import (
	"bimhub-api/internal/models"

	"github.com/rs/zerolog"
)

// Execution units never touch the registry; everything they have to say
// travels through this tagged union over the service's message channel, and
// the dispatch goroutine applies it.
type msgKind int

const (
	msgLog msgKind = iota
	msgProgress
	msgStatusUpdate      // single-file job update
	msgMultiStatusUpdate // per-file update inside a multi-file job
	msgFinalized         // finalization outcome posted back by the engine
)

type unitMessage struct {
	kind      msgKind
	jobID     string
	fileIndex int // -1 for single-file jobs

	// msgLog
	level zerolog.Level
	text  string

	// msgProgress / status updates
	progress int
	message  string

	// msgStatusUpdate / msgMultiStatusUpdate
	status Status
	result *FileResult
	errMsg string

	// msgFinalized
	summary *models.ProjectSummary

	// set on the last message a unit will ever send; frees its pool slot
	exit bool
}
