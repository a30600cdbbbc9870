package pipeline

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"bimhub-api/internal/convert"
	"bimhub-api/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// failingConverter fails any input containing the failure marker so tests can
// pick which files of a batch go wrong.
type failingConverter struct{}

func (failingConverter) Convert(ctx context.Context, input []byte, onProgress convert.ProgressFunc) (*convert.Result, error) {
	if strings.Contains(string(input), "FAIL") {
		return nil, errors.New("malformed model file")
	}
	onProgress(50, "Meshing geometry")
	return &convert.Result{Artifact: append([]byte("FRAG:"), input...), Meta: convert.Metadata{ElementCount: 3}}, nil
}

// fakeFinalizer records calls and mints a summary without touching storage.
type fakeFinalizer struct {
	mu    sync.Mutex
	err   error
	calls int
	files []CompletedFile
}

func (f *fakeFinalizer) Finalize(ctx context.Context, base models.ProjectBase, files []CompletedFile) (*models.ProjectSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.files = files
	if f.err != nil {
		return nil, f.err
	}
	return &models.ProjectSummary{ProjectID: uuid.New(), ProjectName: base.Name, ModelCount: len(files)}, nil
}

func (f *fakeFinalizer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeFinalizer) lastFiles() []CompletedFile {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.files
}

func newTestService(t *testing.T, fin Finalizer) *Service {
	t.Helper()
	svc := NewService(failingConverter{}, fin, nil, Options{
		MaxConcurrency:  2,
		TempDir:         t.TempDir(),
		SingleRetention: time.Minute,
		MultiRetention:  time.Minute,
		SweepInterval:   time.Hour,
	}, zerolog.Nop())
	svc.Start(context.Background())
	t.Cleanup(svc.Stop)
	return svc
}

func waitTerminal(t *testing.T, svc *Service, jobID string) *Snapshot {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		snap, ok := svc.Snapshot(jobID)
		if !ok {
			t.Fatalf("job %s vanished from the registry", jobID)
		}
		if snap.Terminal() {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	snap, _ := svc.Snapshot(jobID)
	t.Fatalf("job %s never reached a terminal state: %+v", jobID, snap)
	return nil
}

func testBase() models.ProjectBase {
	return models.ProjectBase{
		Name:    "Tower",
		Status:  "active",
		OwnerID: uuid.New(),
		OrgID:   uuid.New(),
	}
}

func TestSingleFileLifecycle(t *testing.T) {
	fin := &fakeFinalizer{}
	svc := newTestService(t, fin)

	input := writeInput(t, t.TempDir(), "tower.ifc", "ISO-10303-21 data")
	jobID := svc.EnqueueSingle(SingleUpload{
		FileName: "tower.ifc",
		TempPath: input,
		Category: "architecture",
		Base:     testBase(),
	})

	snap, ok := svc.Snapshot(jobID)
	if !ok {
		t.Fatal("job not registered at enqueue time")
	}
	if snap.Terminal() && snap.Status == StatusFailed {
		t.Fatalf("job failed immediately: %s", snap.Error)
	}

	final := waitTerminal(t, svc, jobID)
	if final.Status != StatusCompleted || final.Progress != 100 {
		t.Fatalf("final = %s/%d (%s), want completed/100", final.Status, final.Progress, final.Error)
	}
	if final.Result == nil || final.Result.ProjectName != "Tower" {
		t.Fatalf("result = %+v, want summary for project Tower", final.Result)
	}
	if final.Kind != convert.KindIFC {
		t.Fatalf("kind = %q, want detected ifc kind in the snapshot", final.Kind)
	}
	if final.SizeBytes == 0 {
		t.Fatal("snapshot missing the artifact size")
	}
	if fin.callCount() != 1 {
		t.Fatalf("finalizer called %d times, want 1", fin.callCount())
	}
	files := fin.lastFiles()
	if len(files) != 1 || files[0].ArtifactName != "tower.frag" {
		t.Fatalf("finalized files = %+v", files)
	}
	if _, err := os.Stat(input); !os.IsNotExist(err) {
		t.Fatal("staged input not cleaned up after completion")
	}
}

func TestSingleFileConversionFailure(t *testing.T) {
	fin := &fakeFinalizer{}
	svc := newTestService(t, fin)

	input := writeInput(t, t.TempDir(), "bad.ifc", "FAIL")
	jobID := svc.EnqueueSingle(SingleUpload{FileName: "bad.ifc", TempPath: input, Base: testBase()})

	final := waitTerminal(t, svc, jobID)
	if final.Status != StatusFailed || final.Progress != 0 {
		t.Fatalf("final = %s/%d, want failed/0", final.Status, final.Progress)
	}
	if final.Error == "" {
		t.Fatal("failure snapshot missing its error message")
	}
	if fin.callCount() != 0 {
		t.Fatal("no project may be created when conversion fails")
	}
}

func TestMultiFileAllSucceed(t *testing.T) {
	fin := &fakeFinalizer{}
	svc := newTestService(t, fin)

	dir := t.TempDir()
	jobID := svc.EnqueueMulti(MultiUpload{
		Base: testBase(),
		Files: []UploadFile{
			{FileName: "wall.ifc", TempPath: writeInput(t, dir, "a.ifc", "one"), Category: "structure"},
			{FileName: "wall.ifc", TempPath: writeInput(t, dir, "b.ifc", "two"), Category: "structure"},
			{FileName: "roof.frag", TempPath: writeInput(t, dir, "c.frag", "three")},
		},
	})

	final := waitTerminal(t, svc, jobID)
	if final.Status != StatusCompleted || final.Progress != 100 {
		t.Fatalf("final = %s/%d (%s), want completed/100", final.Status, final.Progress, final.Error)
	}
	if final.CompletedFiles != 3 || final.TotalFiles != 3 {
		t.Fatalf("counts = %d/%d, want 3/3", final.CompletedFiles, final.TotalFiles)
	}
	if final.Result == nil || final.Result.ModelCount != 3 {
		t.Fatalf("result = %+v, want a 3-model summary", final.Result)
	}
	if fin.callCount() != 1 {
		t.Fatalf("finalizer called %d times, want exactly 1", fin.callCount())
	}

	// Duplicate upload names get disambiguated, in upload order.
	files := fin.lastFiles()
	if len(files) != 3 {
		t.Fatalf("finalized %d files, want 3", len(files))
	}
	want := []string{"wall.frag", "wall 1.frag", "roof.frag"}
	for i, w := range want {
		if files[i].ArtifactName != w {
			t.Fatalf("artifact[%d] = %q, want %q", i, files[i].ArtifactName, w)
		}
	}

	// Per-file snapshots carry the detected kind and artifact size.
	if final.Files[0].Kind != convert.KindIFC || final.Files[2].Kind != convert.KindFragment {
		t.Fatalf("file kinds = %q/%q, want ifc and frag", final.Files[0].Kind, final.Files[2].Kind)
	}
	for i, f := range final.Files {
		if f.SizeBytes == 0 {
			t.Fatalf("file[%d] snapshot missing the artifact size", i)
		}
	}
}

func TestMultiFilePartialFailure(t *testing.T) {
	fin := &fakeFinalizer{}
	svc := newTestService(t, fin)

	dir := t.TempDir()
	jobID := svc.EnqueueMulti(MultiUpload{
		Base: testBase(),
		Files: []UploadFile{
			{FileName: "ok.ifc", TempPath: writeInput(t, dir, "a.ifc", "one")},
			{FileName: "bad.ifc", TempPath: writeInput(t, dir, "b.ifc", "FAIL")},
			{FileName: "fine.ifc", TempPath: writeInput(t, dir, "c.ifc", "three")},
		},
	})

	final := waitTerminal(t, svc, jobID)
	if final.Status != StatusFailed {
		t.Fatalf("final status = %s, want failed", final.Status)
	}
	if !strings.Contains(final.Error, "1 of 3 files failed") {
		t.Fatalf("error = %q", final.Error)
	}
	if fin.callCount() != 0 {
		t.Fatal("one failed file must veto project creation")
	}

	// The healthy files still finish; only the aggregate fails.
	var failed, completed int
	for _, f := range final.Files {
		switch f.Status {
		case SlotFailed:
			failed++
		case SlotCompleted:
			completed++
		}
	}
	if failed != 1 || completed != 2 {
		t.Fatalf("slots = %d failed / %d completed, want 1/2", failed, completed)
	}
}

func TestFinalizationFailureFailsJob(t *testing.T) {
	fin := &fakeFinalizer{err: errors.New("database unavailable")}
	svc := newTestService(t, fin)

	input := writeInput(t, t.TempDir(), "tower.ifc", "data")
	jobID := svc.EnqueueSingle(SingleUpload{FileName: "tower.ifc", TempPath: input, Base: testBase()})

	final := waitTerminal(t, svc, jobID)
	if final.Status != StatusFailed {
		t.Fatalf("final status = %s, want failed", final.Status)
	}
	if !strings.Contains(final.Error, "database unavailable") {
		t.Fatalf("error = %q", final.Error)
	}
	if final.Result != nil {
		t.Fatal("failed finalization must not report a project summary")
	}
}

func TestConcurrencyStaysBounded(t *testing.T) {
	fin := &fakeFinalizer{}
	svc := newTestService(t, fin)

	dir := t.TempDir()
	files := make([]UploadFile, 6)
	for i := range files {
		files[i] = UploadFile{
			FileName: "part.ifc",
			TempPath: writeInput(t, dir, uuid.NewString()+".ifc", "data"),
		}
	}
	jobID := svc.EnqueueMulti(MultiUpload{Base: testBase(), Files: files})

	// The pool never runs more units than its bound, however many files are
	// pending.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if got := svc.pool.ActiveCount(); got > 2 {
			t.Fatalf("active units = %d, bound is 2", got)
		}
		snap, _ := svc.Snapshot(jobID)
		if snap != nil && snap.Terminal() {
			break
		}
		time.Sleep(time.Millisecond)
	}

	final := waitTerminal(t, svc, jobID)
	if final.Status != StatusCompleted {
		t.Fatalf("final status = %s (%s), want completed", final.Status, final.Error)
	}
}
