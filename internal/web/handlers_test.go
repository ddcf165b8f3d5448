package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/srosendal/rpi-uv/internal/config"
	"github.com/srosendal/rpi-uv/internal/hw/camera"
	"github.com/srosendal/rpi-uv/internal/hw/gpio"
	"github.com/srosendal/rpi-uv/internal/hw/led"
	"github.com/srosendal/rpi-uv/internal/logic/analysis"
	"github.com/srosendal/rpi-uv/internal/logic/capture"
	"github.com/srosendal/rpi-uv/internal/logic/storage"
	"github.com/srosendal/rpi-uv/internal/store"
)

// newTestEnv wires a full handler stack on the synthetic camera and
// mock GPIO, with all paths under temp directories.
func newTestEnv(t *testing.T) (*Handlers, http.Handler, *config.Config) {
	t.Helper()

	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	cfg.Sequence.PhotosDir = t.TempDir()
	cfg.Sequence.NumPhotos = 1
	cfg.Sequence.StartupDelayMs = 1
	cfg.Sequence.CaptureDelayMs = 1
	cfg.Stream.FrameIntervalMs = 10
	cfg.Storage.RemovableRoots = nil
	cfg.Storage.FallbackDir = t.TempDir()
	cfg.Capture.Mock = true

	mgr := camera.NewManager(camera.NewMock(), cfg.Stream.WidthPx, cfg.Stream.HeightPx, cfg.FrameInterval())
	t.Cleanup(mgr.StopStreaming)

	engine, err := analysis.NewEngine(analysis.ModeLuminosity, cfg.Analysis.HSV, cfg.Stream.WidthPx, cfg.Stream.HeightPx)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	writer := storage.NewWriter(nil, cfg.Storage.FallbackDir, cfg.Storage.Subdir)
	seq := capture.NewSequencer(mgr, engine, writer, nil, cfg.Rois, cfg.Sequence.PhotosDir)

	ctrl, err := led.New(&gpio.MockDriver{}, cfg.Illumination.Pin, cfg.Illumination.FrequencyHz, cfg.IlluminationDuty())
	if err != nil {
		t.Fatalf("led.New: %v", err)
	}

	h := NewHandlers(Deps{
		Cfg:         cfg,
		CfgPath:     cfgPath,
		Manager:     mgr,
		Sequencer:   seq,
		Engine:      engine,
		Writer:      writer,
		Led:         ctrl,
		Broadcaster: NewStatusBroadcaster(),
	}, fstest.MapFS{"index.html": &fstest.MapFile{Data: []byte("<html></html>")}})

	router := (&Server{addr: ":0", handlers: h}).Router()
	return h, router, cfg
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

// makeSession drops mock photos into the photos directory and returns
// the folder name.
func makeSession(t *testing.T, cfg *config.Config, folder string, photos ...string) {
	t.Helper()
	dir := filepath.Join(cfg.Sequence.PhotosDir, folder)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	mock := camera.NewMock()
	for _, name := range photos {
		err := mock.CaptureStill(context.Background(), filepath.Join(dir, name), camera.StillParams{})
		if err != nil {
			t.Fatal(err)
		}
	}
}

// ---------- stream ----------

func TestStreamLifecycle(t *testing.T) {
	_, router, _ := newTestEnv(t)

	if rec := doJSON(t, router, "GET", "/api/stream/frame", nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("frame before start: got %d, want 503", rec.Code)
	}

	if rec := doJSON(t, router, "POST", "/api/stream/start", nil); rec.Code != http.StatusOK {
		t.Fatalf("start: got %d", rec.Code)
	}

	// Wait for the preview loop to produce a frame.
	deadline := time.Now().Add(2 * time.Second)
	var rec *httptest.ResponseRecorder
	for {
		rec = doJSON(t, router, "GET", "/api/stream/frame", nil)
		if rec.Code == http.StatusOK || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("no frame within 2s, last status %d", rec.Code)
	}
	body := decodeBody(t, rec)
	img, _ := body["image"].(string)
	if !strings.HasPrefix(img, "data:image/jpeg;base64,") {
		t.Errorf("frame is not a jpeg data URL: %.40s", img)
	}

	if rec := doJSON(t, router, "POST", "/api/stream/stop", nil); rec.Code != http.StatusOK {
		t.Fatalf("stop: got %d", rec.Code)
	}
	if rec := doJSON(t, router, "GET", "/api/stream/frame", nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("frame after stop: got %d, want 503", rec.Code)
	}
}

// ---------- capture sequence SSE ----------

func TestCaptureSequenceStream(t *testing.T) {
	_, router, _ := newTestEnv(t)

	req := httptest.NewRequest("GET", "/api/capture-sequence-stream", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("got content type %q, want text/event-stream", ct)
	}

	var statuses []string
	var last capture.Event
	for _, line := range strings.Split(rec.Body.String(), "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev capture.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("bad event line %q: %v", line, err)
		}
		statuses = append(statuses, ev.Status)
		last = ev
	}

	if len(statuses) == 0 {
		t.Fatal("no events streamed")
	}
	if statuses[0] != capture.StatusStarting {
		t.Errorf("first status %q, want starting", statuses[0])
	}
	if last.Status != capture.StatusSaved {
		t.Fatalf("last status %q, want saved (all: %v)", last.Status, statuses)
	}
	if len(last.Results) != 4 {
		t.Errorf("saved event has %d results, want 4", len(last.Results))
	}
}

func TestCaptureSequenceStream_BusySubscriberGetsErrorEvent(t *testing.T) {
	h, router, cfg := newTestEnv(t)
	// Hold the first run in its settle delay long enough to overlap.
	cfg.Sequence.StartupDelayMs = 500

	first := make(chan struct{})
	go func() {
		defer close(first)
		req := httptest.NewRequest("GET", "/api/capture-sequence-stream", nil)
		router.ServeHTTP(httptest.NewRecorder(), req)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for h.deps.Sequencer.State() == capture.Idle {
		if time.Now().After(deadline) {
			t.Fatal("first sequence never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	req := httptest.NewRequest("GET", "/api/capture-sequence-stream", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var events []capture.Event
	for _, line := range strings.Split(rec.Body.String(), "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev capture.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("bad event line %q: %v", line, err)
		}
		events = append(events, ev)
	}
	if len(events) != 1 || events[0].Status != capture.StatusError {
		t.Fatalf("second subscriber got %v, want a single error event", events)
	}
	if events[0].Message == "" {
		t.Error("error event has no message")
	}

	<-first
}

// ---------- analyze ----------

func TestAnalyzeSequence(t *testing.T) {
	_, router, cfg := newTestEnv(t)
	makeSession(t, cfg, "20260115_103000", "20260115_103000_001.jpg")

	rec := doJSON(t, router, "POST", "/api/analyze-sequence", map[string]any{
		"folder": "20260115_103000",
		"photos": []string{"20260115_103000_001.jpg"},
		"rois":   cfg.Rois,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	results, _ := body["results"].([]any)
	if len(results) != 4 {
		t.Errorf("got %d results, want 4", len(results))
	}
}

func TestAnalyzeSequence_Errors(t *testing.T) {
	_, router, cfg := newTestEnv(t)
	makeSession(t, cfg, "f", "f_001.jpg")

	cases := []struct {
		name string
		body map[string]any
		code int
	}{
		{"missing_fields", map[string]any{"folder": "f"}, http.StatusBadRequest},
		{"unknown_folder", map[string]any{
			"folder": "nope", "photos": []string{"x.jpg"}, "rois": cfg.Rois,
		}, http.StatusNotFound},
		{"degenerate_roi", map[string]any{
			"folder": "f", "photos": []string{"f_001.jpg"},
			"rois": []analysis.ROI{{ID: 1, X: 0, Y: 0, Width: 0, Height: 10}},
		}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, router, "POST", "/api/analyze-sequence", tc.body)
			if rec.Code != tc.code {
				t.Errorf("got %d, want %d: %s", rec.Code, tc.code, rec.Body.String())
			}
		})
	}
}

// ---------- save ----------

func TestSaveToStorage(t *testing.T) {
	_, router, cfg := newTestEnv(t)
	makeSession(t, cfg, "f", "f_001.jpg")

	rec := doJSON(t, router, "POST", "/api/save-to-storage", map[string]any{
		"folder":  "f",
		"results": []int{100, 50, 0, 0},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["location"] != storage.LocationFallback {
		t.Errorf("got location %v, want fallback", body["location"])
	}
	saved, _ := body["saved_path"].(string)
	if _, err := os.Stat(filepath.Join(saved, "f_results.json")); err != nil {
		t.Errorf("results record missing: %v", err)
	}
}

func TestSaveToStorage_UnknownFolder(t *testing.T) {
	_, router, _ := newTestEnv(t)
	rec := doJSON(t, router, "POST", "/api/save-to-storage", map[string]any{"folder": "nope"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("got %d, want 404", rec.Code)
	}
}

func TestStorageStatus(t *testing.T) {
	_, router, _ := newTestEnv(t)
	rec := doJSON(t, router, "GET", "/api/storage/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["available"] != false {
		t.Errorf("got available %v, want false with no roots", body["available"])
	}
}

// ---------- pwm ----------

func TestPWMSet(t *testing.T) {
	h, router, cfg := newTestEnv(t)

	rec := doJSON(t, router, "POST", "/api/pwm/set", map[string]any{"duty_cycle": 80})
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d: %s", rec.Code, rec.Body.String())
	}
	if got := h.deps.Led.DutyCycle(); got != 80 {
		t.Errorf("controller duty %d, want 80", got)
	}
	if cfg.IlluminationDuty() != 80 {
		t.Errorf("config duty %d, want 80", cfg.IlluminationDuty())
	}
}

func TestPWMSet_Errors(t *testing.T) {
	h, router, _ := newTestEnv(t)

	if rec := doJSON(t, router, "POST", "/api/pwm/set", map[string]any{"duty_cycle": 101}); rec.Code != http.StatusBadRequest {
		t.Errorf("out of range: got %d, want 400", rec.Code)
	}
	if rec := doJSON(t, router, "POST", "/api/pwm/set", map[string]any{}); rec.Code != http.StatusBadRequest {
		t.Errorf("missing duty: got %d, want 400", rec.Code)
	}

	h.deps.Led = nil
	if rec := doJSON(t, router, "POST", "/api/pwm/set", map[string]any{"duty_cycle": 50}); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("nil controller: got %d, want 503", rec.Code)
	}
}

// ---------- config ----------

func TestConfigGetAndUpdate(t *testing.T) {
	h, router, cfg := newTestEnv(t)

	rec := doJSON(t, router, "GET", "/api/config", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: %d", rec.Code)
	}

	newRois := []analysis.ROI{
		{ID: 1, X: 10, Y: 10, Width: 50, Height: 20},
		{ID: 2, X: 10, Y: 40, Width: 50, Height: 20},
		{ID: 3, X: 10, Y: 70, Width: 50, Height: 20},
		{ID: 4, X: 10, Y: 100, Width: 50, Height: 20},
	}
	rec = doJSON(t, router, "POST", "/api/config", map[string]any{
		"num_photos": 3,
		"rois":       newRois,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update: %d: %s", rec.Code, rec.Body.String())
	}
	if cfg.Sequence.NumPhotos != 3 {
		t.Errorf("got num_photos %d, want 3", cfg.Sequence.NumPhotos)
	}
	if cfg.Rois[0] != newRois[0] {
		t.Errorf("got roi %+v, want %+v", cfg.Rois[0], newRois[0])
	}

	// Persisted to disk.
	reloaded, err := config.Load(h.deps.CfgPath)
	if err != nil {
		t.Fatalf("reload config: %v", err)
	}
	if reloaded.Sequence.NumPhotos != 3 {
		t.Errorf("persisted num_photos %d, want 3", reloaded.Sequence.NumPhotos)
	}
}

func TestConfigUpdate_Rejected(t *testing.T) {
	_, router, cfg := newTestEnv(t)

	if rec := doJSON(t, router, "POST", "/api/config", map[string]any{"num_photos": 9}); rec.Code != http.StatusBadRequest {
		t.Errorf("bad num_photos: got %d, want 400", rec.Code)
	}
	if rec := doJSON(t, router, "POST", "/api/config", map[string]any{
		"rois": []analysis.ROI{{ID: 1, X: 0, Y: 0, Width: 10, Height: 10}},
	}); rec.Code != http.StatusBadRequest {
		t.Errorf("wrong roi count: got %d, want 400", rec.Code)
	}
	if rec := doJSON(t, router, "POST", "/api/config", map[string]any{"startup_delay_ms": -5}); rec.Code != http.StatusBadRequest {
		t.Errorf("negative startup delay: got %d, want 400", rec.Code)
	}
	if rec := doJSON(t, router, "POST", "/api/config", map[string]any{"capture_delay_ms": -1}); rec.Code != http.StatusBadRequest {
		t.Errorf("negative capture delay: got %d, want 400", rec.Code)
	}
	if cfg.Sequence.NumPhotos == 9 {
		t.Error("rejected update was applied")
	}
	if cfg.Sequence.StartupDelayMs < 0 || cfg.Sequence.CaptureDelayMs < 0 {
		t.Error("rejected delay was applied")
	}
}

// ---------- images, info, sessions ----------

func TestGetImage(t *testing.T) {
	_, router, cfg := newTestEnv(t)
	makeSession(t, cfg, "f", "f_001.jpg")

	rec := doJSON(t, router, "GET", "/api/get-image/f/f_001.jpg", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("got content type %q, want image/jpeg", ct)
	}

	rec = doJSON(t, router, "GET", "/api/get-image/f/missing.jpg", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing image: got %d, want 404", rec.Code)
	}
}

func TestSystemInfo(t *testing.T) {
	_, router, _ := newTestEnv(t)
	rec := doJSON(t, router, "GET", "/api/system/info", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["version"] != Version {
		t.Errorf("got version %v, want %s", body["version"], Version)
	}
}

func TestSessions(t *testing.T) {
	h, router, _ := newTestEnv(t)

	// Registry disabled by default in the test env.
	if rec := doJSON(t, router, "GET", "/api/sessions", nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("nil registry: got %d, want 503", rec.Code)
	}

	db, err := store.Open(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer db.Close()
	rec := store.SessionRecord{Folder: "f", CreatedAt: time.Now(), PhotoCount: 1, Location: "fallback", SavedPath: "/tmp/f"}
	if err := db.RecordSession(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
	h.deps.Registry = db

	resp := doJSON(t, router, "GET", "/api/sessions", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("got %d", resp.Code)
	}
	body := decodeBody(t, resp)
	sessions, _ := body["sessions"].([]any)
	if len(sessions) != 1 {
		t.Errorf("got %d sessions, want 1", len(sessions))
	}
}

func TestServeIndex(t *testing.T) {
	_, router, _ := newTestEnv(t)
	rec := doJSON(t, router, "GET", "/", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "<html>") {
		t.Errorf("unexpected index body: %q", rec.Body.String())
	}
}
