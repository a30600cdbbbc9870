// Package convert defines the boundary to the external geometry converter.
// The converter is a black box: model buffer in, fragment buffer plus
// structured metadata out, with optional fractional progress reporting.
package convert

import (
	"context"
	"path/filepath"
	"strings"
)

// FileKind describes what the pipeline detected about an input file.
type FileKind string

const (
	KindIFC      FileKind = "ifc"  // needs conversion
	KindFragment FileKind = "frag" // already in final form
	KindUnknown  FileKind = ""
)

// ProgressFunc receives the converter's own 0-100 progress.
type ProgressFunc func(percent int, message string)

// Metadata is the structured information extracted during conversion.
type Metadata struct {
	ElementCount int           `json:"element_count"`
	Spatial      []SpatialNode `json:"spatial,omitempty"`
}

// SpatialNode is one node of the model's spatial hierarchy (storey, zone,
// assembly); panels are derived from these during finalization.
type SpatialNode struct {
	Name       string  `json:"name"`
	Level      int     `json:"level"`
	ElementIDs []int64 `json:"element_ids"`
}

// Result is the converter's output.
type Result struct {
	Artifact []byte
	Meta     Metadata
}

// Converter turns a raw model buffer into a fragment artifact. Implementations
// must honor ctx cancellation and may call onProgress at any rate.
type Converter interface {
	Convert(ctx context.Context, input []byte, onProgress ProgressFunc) (*Result, error)
}

// DetectKind classifies an input file by extension.
func DetectKind(fileName string) FileKind {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".ifc":
		return KindIFC
	case ".frag":
		return KindFragment
	default:
		return KindUnknown
	}
}

// ArtifactName maps an input file name to its derived artifact name
// ("tower.ifc" -> "tower.frag").
func ArtifactName(fileName string) string {
	base := strings.TrimSuffix(filepath.Base(fileName), filepath.Ext(fileName))
	return base + ".frag"
}
