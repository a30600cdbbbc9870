package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"bimhub-api/internal/pipeline"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

func newStatusRouter(t *testing.T, stub *stubPipeline) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewStatusHandler(stub, zerolog.Nop())
	r.GET("/api/uploads/:id", h.Get())
	r.GET("/api/uploads/:id/stream", h.Stream())
	return r
}

func TestStatusGetKnownJob(t *testing.T) {
	stub := &stubPipeline{snapshots: map[string]*pipeline.Snapshot{
		"job-1": {JobID: "job-1", Type: "single", Status: pipeline.StatusProcessing, Progress: 42},
	}}
	r := newStatusRouter(t, stub)

	req := httptest.NewRequest(http.MethodGet, "/api/uploads/job-1", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var snap pipeline.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatal(err)
	}
	if snap.JobID != "job-1" || snap.Progress != 42 {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestStatusGetUnknownJob(t *testing.T) {
	r := newStatusRouter(t, &stubPipeline{snapshots: map[string]*pipeline.Snapshot{}})

	req := httptest.NewRequest(http.MethodGet, "/api/uploads/nope", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 for unknown or evicted jobs", rec.Code)
	}
}

func TestStreamClosesOnTerminalJob(t *testing.T) {
	stub := &stubPipeline{snapshots: map[string]*pipeline.Snapshot{
		"job-1": {JobID: "job-1", Type: "single", Status: pipeline.StatusCompleted, Progress: 100},
	}}
	srv := httptest.NewServer(newStatusRouter(t, stub))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/uploads/job-1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var snap pipeline.Snapshot
	if err := conn.ReadJSON(&snap); err != nil {
		t.Fatalf("first frame: %v", err)
	}
	if snap.Status != pipeline.StatusCompleted || snap.Progress != 100 {
		t.Fatalf("snapshot = %+v", snap)
	}

	// Terminal snapshot delivered, stream closes normally.
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected the stream to close after a terminal snapshot")
	} else if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("close error = %v, want normal closure", err)
	}
}

func TestStreamUnknownJob(t *testing.T) {
	srv := httptest.NewServer(newStatusRouter(t, &stubPipeline{snapshots: map[string]*pipeline.Snapshot{}}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/uploads/nope/stream"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("dial succeeded for an unknown job")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("resp = %+v, want 404", resp)
	}
}
