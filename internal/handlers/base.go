package handlers

import "bimhub-api/internal/pipeline"

// Pipeline is what the HTTP layer needs from the ingestion pipeline.
// *pipeline.Service satisfies it; tests substitute stubs.
type Pipeline interface {
	EnqueueSingle(pipeline.SingleUpload) string
	EnqueueMulti(pipeline.MultiUpload) string
	Snapshot(jobID string) (*pipeline.Snapshot, bool)
}
