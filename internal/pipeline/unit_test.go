package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"bimhub-api/internal/convert"
)

// fakeConverter drives the execution unit without a real converter binary.
type fakeConverter struct {
	meta    convert.Metadata
	err     error
	calls   int
	reports []int
}

func (f *fakeConverter) Convert(ctx context.Context, input []byte, onProgress convert.ProgressFunc) (*convert.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	for _, pct := range f.reports {
		onProgress(pct, "")
	}
	return &convert.Result{Artifact: append([]byte("FRAG:"), input...), Meta: f.meta}, nil
}

func writeInput(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func runUnit(t *testing.T, conv convert.Converter, fileName, tempPath string, fileIndex int) []unitMessage {
	t.Helper()
	msgs := make(chan unitMessage, 64)
	u := &unit{
		item:      &workItem{jobID: "job-1", fileIndex: fileIndex, fileName: fileName, tempPath: tempPath},
		converter: conv,
		msgs:      msgs,
		tempDir:   t.TempDir(),
	}
	u.run(context.Background())
	close(msgs)

	var out []unitMessage
	for m := range msgs {
		out = append(out, m)
	}
	return out
}

func TestUnitConvertsIFC(t *testing.T) {
	dir := t.TempDir()
	input := writeInput(t, dir, "tower.ifc", "ISO-10303-21 model data")
	conv := &fakeConverter{reports: []int{25, 50, 100}, meta: convert.Metadata{ElementCount: 12}}

	out := runUnit(t, conv, "tower.ifc", input, -1)
	if conv.calls != 1 {
		t.Fatalf("converter called %d times, want 1", conv.calls)
	}

	last := out[len(out)-1]
	if last.kind != msgStatusUpdate || !last.exit {
		t.Fatalf("last message kind=%v exit=%v, want terminal status update", last.kind, last.exit)
	}
	if last.status != StatusProcessing || last.progress != progressReady {
		t.Fatalf("final status=%s progress=%d, want processing/%d pending finalization", last.status, last.progress, progressReady)
	}
	if last.result == nil {
		t.Fatal("terminal message missing the file result")
	}
	if last.result.Meta.ElementCount != 12 {
		t.Fatalf("element count = %d, want 12", last.result.Meta.ElementCount)
	}

	artifact, err := os.ReadFile(last.result.ArtifactPath)
	if err != nil {
		t.Fatalf("artifact not written: %v", err)
	}
	if string(artifact) != "FRAG:ISO-10303-21 model data" {
		t.Fatalf("artifact content = %q", artifact)
	}
	if _, err := os.Stat(input); !os.IsNotExist(err) {
		t.Fatal("temp input file was not removed")
	}

	// Progress must be monotonic, with conversion reports remapped into the
	// band between the fixed milestones.
	prev := -1
	for _, m := range out {
		if m.kind != msgProgress {
			continue
		}
		if m.progress < prev {
			t.Fatalf("progress went backwards: %d after %d", m.progress, prev)
		}
		prev = m.progress
	}
	if prev != progressReady {
		t.Fatalf("last progress = %d, want %d", prev, progressReady)
	}
}

func TestUnitPassesFragmentThrough(t *testing.T) {
	dir := t.TempDir()
	input := writeInput(t, dir, "facade.frag", "fragment bytes")
	conv := &fakeConverter{}

	out := runUnit(t, conv, "facade.frag", input, -1)
	if conv.calls != 0 {
		t.Fatal("pre-converted fragments must not be converted again")
	}

	last := out[len(out)-1]
	if last.result == nil {
		t.Fatal("terminal message missing the file result")
	}
	artifact, err := os.ReadFile(last.result.ArtifactPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(artifact) != "fragment bytes" {
		t.Fatalf("artifact content = %q, want pass-through bytes", artifact)
	}
}

func TestUnitConversionFailure(t *testing.T) {
	dir := t.TempDir()
	input := writeInput(t, dir, "broken.ifc", "not really ifc")
	conv := &fakeConverter{err: errors.New("converter exploded")}

	out := runUnit(t, conv, "broken.ifc", input, -1)
	last := out[len(out)-1]
	if last.kind != msgStatusUpdate || last.status != StatusFailed || !last.exit {
		t.Fatalf("last message = %+v, want terminal failure", last)
	}
	if last.errMsg != "converter exploded" {
		t.Fatalf("errMsg = %q", last.errMsg)
	}
	if last.progress != 0 {
		t.Fatalf("failed progress = %d, want 0", last.progress)
	}
	if _, err := os.Stat(input); !os.IsNotExist(err) {
		t.Fatal("temp input must be removed even on failure")
	}
}

func TestUnitMemberFileReportsSlotCompletion(t *testing.T) {
	dir := t.TempDir()
	input := writeInput(t, dir, "wall.ifc", "data")
	conv := &fakeConverter{}

	out := runUnit(t, conv, "wall.ifc", input, 2)
	last := out[len(out)-1]
	if last.kind != msgMultiStatusUpdate {
		t.Fatalf("member file emitted %v, want a multi status update", last.kind)
	}
	if last.fileIndex != 2 {
		t.Fatalf("fileIndex = %d, want 2", last.fileIndex)
	}
	if last.status != StatusCompleted || last.progress != 100 {
		t.Fatalf("member terminal = %s/%d, want completed/100", last.status, last.progress)
	}
}

// blockingConverter hangs until its context is canceled, the shape of a
// conversion that never finishes on its own.
type blockingConverter struct{}

func (blockingConverter) Convert(ctx context.Context, _ []byte, _ convert.ProgressFunc) (*convert.Result, error) {
	<-ctx.Done()
	return nil, context.Cause(ctx)
}

func TestUnitMemoryCeilingFailsJob(t *testing.T) {
	dir := t.TempDir()
	input := writeInput(t, dir, "huge.ifc", "ISO-10303-21 data")

	// A one-byte ceiling trips on the first watchdog tick, canceling the
	// conversion mid-flight.
	msgs := make(chan unitMessage, 64)
	u := &unit{
		item:             &workItem{jobID: "job-1", fileIndex: -1, fileName: "huge.ifc", tempPath: input},
		converter:        blockingConverter{},
		msgs:             msgs,
		tempDir:          t.TempDir(),
		watchdogInterval: time.Millisecond,
		memCeiling:       1,
	}
	u.run(context.Background())
	close(msgs)

	var out []unitMessage
	for m := range msgs {
		out = append(out, m)
	}

	last := out[len(out)-1]
	if last.kind != msgStatusUpdate || last.status != StatusFailed || !last.exit {
		t.Fatalf("last message = %+v, want terminal failure", last)
	}
	if last.progress != 0 {
		t.Fatalf("failed progress = %d, want 0", last.progress)
	}
	if last.errMsg != errMemoryCeiling.Error() {
		t.Fatalf("errMsg = %q, want the memory ceiling error", last.errMsg)
	}
	if _, err := os.Stat(input); !os.IsNotExist(err) {
		t.Fatal("temp input must be removed after a watchdog trip")
	}
}

func TestUnitMissingInput(t *testing.T) {
	out := runUnit(t, &fakeConverter{}, "gone.ifc", filepath.Join(t.TempDir(), "gone.ifc"), -1)
	last := out[len(out)-1]
	if last.status != StatusFailed {
		t.Fatalf("status = %s, want failed when the staged file is missing", last.status)
	}
}
