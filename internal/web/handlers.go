package web

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/srosendal/rpi-uv/internal/config"
	"github.com/srosendal/rpi-uv/internal/debug"
	"github.com/srosendal/rpi-uv/internal/hw/camera"
	"github.com/srosendal/rpi-uv/internal/hw/led"
	"github.com/srosendal/rpi-uv/internal/logic/analysis"
	"github.com/srosendal/rpi-uv/internal/logic/capture"
	"github.com/srosendal/rpi-uv/internal/logic/results"
	"github.com/srosendal/rpi-uv/internal/logic/storage"
	"github.com/srosendal/rpi-uv/internal/store"
)

// Version reported by /api/system/info.
const Version = "1.0.3"

// Deps holds everything the HTTP handlers need.
type Deps struct {
	Cfg         *config.Config
	CfgPath     string
	Manager     *camera.Manager
	Sequencer   *capture.Sequencer
	Engine      *analysis.Engine
	Writer      *storage.Writer
	Led         *led.Controller // nil when illumination hardware is unavailable
	Registry    *store.Store    // nil disables /api/sessions
	Broadcaster *StatusBroadcaster
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	deps     Deps
	cfgMu    sync.Mutex
	staticFS fs.FS
}

// NewHandlers creates handlers with the given dependencies.
func NewHandlers(deps Deps, staticFS fs.FS) *Handlers {
	return &Handlers{deps: deps, staticFS: staticFS}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func apiError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"success": false, "error": msg})
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleStreamStart handles POST /api/stream/start. Idempotent.
func (h *Handlers) HandleStreamStart(w http.ResponseWriter, r *http.Request) {
	h.deps.Manager.StartStreaming()
	writeJSON(w, http.StatusOK, map[string]string{"status": "streaming"})
}

// HandleStreamStop handles POST /api/stream/stop. Idempotent.
func (h *Handlers) HandleStreamStop(w http.ResponseWriter, r *http.Request) {
	h.deps.Manager.StopStreaming()
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

// HandleStreamFrame handles GET /api/stream/frame: the most recent
// preview frame as a base64 data URL. Valid only while streaming.
func (h *Handlers) HandleStreamFrame(w http.ResponseWriter, r *http.Request) {
	frame, _, err := h.deps.Manager.Frame()
	if err != nil {
		apiError(w, http.StatusServiceUnavailable, "Not streaming")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"image":   "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(frame),
	})
}

// HandleMJPEG handles GET /stream: a multipart MJPEG stream fed from
// the preview loop. During a capture the last frame keeps being served.
func (h *Handlers) HandleMJPEG(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	if !h.deps.Manager.Streaming() {
		http.Error(w, "Stream not active", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")

	ticker := time.NewTicker(h.deps.Cfg.FrameInterval())
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if !h.deps.Manager.Streaming() {
				return
			}
			frame, _, err := h.deps.Manager.Frame()
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(frame))
			w.Write(frame)
			w.Write([]byte("\r\n"))
			flusher.Flush()
		}
	}
}

// HandleCaptureSequence handles GET /api/capture-sequence-stream:
// starts a capture run and streams its progress events via SSE.
// The run executes to completion even if the subscriber disconnects.
func (h *Handlers) HandleCaptureSequence(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	events := make(chan capture.Event, 64)
	emit := func(e capture.Event) {
		select {
		case events <- e:
		default:
			// subscriber lagging, drop (best effort)
		}
		if data, err := json.Marshal(e); err == nil {
			h.deps.Broadcaster.BroadcastRaw(string(data))
		}
	}

	h.cfgMu.Lock()
	params := capture.Params{
		NumPhotos:    h.deps.Cfg.Sequence.NumPhotos,
		StartupDelay: h.deps.Cfg.StartupDelay(),
		CaptureDelay: h.deps.Cfg.CaptureDelay(),
		Width:        h.deps.Cfg.Capture.WidthPx,
		Height:       h.deps.Cfg.Capture.HeightPx,
		Timeout:      h.deps.Cfg.CaptureTimeout(),
	}
	h.cfgMu.Unlock()

	// Detached context: subscriber disconnection never cancels the run.
	go func() {
		defer close(events)
		if _, err := h.deps.Sequencer.Run(context.Background(), params, emit); err != nil {
			debug.Error(err)
		}
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case e, open := <-events:
			if !open {
				return
			}
			data, err := json.Marshal(e)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

type analyzeRequest struct {
	Folder string         `json:"folder"`
	Photos []string       `json:"photos"`
	Rois   []analysis.ROI `json:"rois"`
}

// HandleAnalyzeSequence handles POST /api/analyze-sequence: per-image
// and averaged per-region results for a completed session.
func (h *Handlers) HandleAnalyzeSequence(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Folder == "" || len(req.Photos) == 0 || len(req.Rois) == 0 {
		apiError(w, http.StatusBadRequest, "Missing data")
		return
	}

	dir := filepath.Join(h.deps.Cfg.Sequence.PhotosDir, filepath.Base(req.Folder))
	if _, err := os.Stat(dir); err != nil {
		apiError(w, http.StatusNotFound, "Folder not found")
		return
	}

	perImage, err := h.deps.Engine.AnalyzeFiles(dir, req.Photos, req.Rois)
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, analysis.ErrInvalidROI) {
			code = http.StatusBadRequest
		}
		apiError(w, code, err.Error())
		return
	}
	averaged, err := results.Average(perImage)
	if err != nil {
		apiError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":            true,
		"results":            averaged,
		"individual_results": perImage,
	})
}

type saveRequest struct {
	Folder  string `json:"folder"`
	Results []int  `json:"results"`
}

// HandleSaveToStorage handles POST /api/save-to-storage.
func (h *Handlers) HandleSaveToStorage(w http.ResponseWriter, r *http.Request) {
	var req saveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Folder == "" {
		apiError(w, http.StatusBadRequest, "Missing folder")
		return
	}

	folder := filepath.Base(req.Folder)
	dir := filepath.Join(h.deps.Cfg.Sequence.PhotosDir, folder)
	if _, err := os.Stat(dir); err != nil {
		apiError(w, http.StatusNotFound, "Folder not found")
		return
	}

	report, err := h.deps.Writer.Save(dir, folder, req.Results)
	if err != nil {
		apiError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"message":    fmt.Sprintf("Saved %d files to %s storage", len(report.Files), report.Location),
		"location":   report.Location,
		"saved_path": report.SavedPath,
		"files":      report.Files,
	})
}

// HandleStorageStatus handles GET /api/storage/status.
func (h *Handlers) HandleStorageStatus(w http.ResponseWriter, r *http.Request) {
	drives := h.deps.Writer.Probe()
	writeJSON(w, http.StatusOK, map[string]any{
		"available": len(drives) > 0,
		"drives":    drives,
		"count":     len(drives),
	})
}

type pwmRequest struct {
	DutyCycle *int `json:"duty_cycle"`
}

// HandlePWMSet handles POST /api/pwm/set.
func (h *Handlers) HandlePWMSet(w http.ResponseWriter, r *http.Request) {
	var req pwmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DutyCycle == nil {
		apiError(w, http.StatusBadRequest, "Missing duty_cycle")
		return
	}
	if h.deps.Led == nil {
		apiError(w, http.StatusServiceUnavailable, "illumination hardware unavailable")
		return
	}

	if err := h.deps.Led.SetDutyCycle(*req.DutyCycle); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, led.ErrInvalidRange) {
			code = http.StatusBadRequest
		}
		apiError(w, code, err.Error())
		return
	}

	h.cfgMu.Lock()
	h.deps.Cfg.SetIlluminationDuty(*req.DutyCycle)
	if err := h.deps.Cfg.Save(h.deps.CfgPath); err != nil {
		debug.Error(err)
	}
	h.cfgMu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"duty_cycle": *req.DutyCycle,
	})
}

// HandleGetConfig handles GET /api/config.
func (h *Handlers) HandleGetConfig(w http.ResponseWriter, r *http.Request) {
	h.cfgMu.Lock()
	defer h.cfgMu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"config":  h.deps.Cfg,
	})
}

type configUpdate struct {
	NumPhotos      *int           `json:"num_photos"`
	StartupDelayMs *int           `json:"startup_delay_ms"`
	CaptureDelayMs *int           `json:"capture_delay_ms"`
	PWMDutyCycle   *int           `json:"pwm_duty_cycle"`
	Rois           []analysis.ROI `json:"rois"`
}

// HandleUpdateConfig handles POST /api/config: partial updates from
// the rectangle editor UI, persisted back to the config file.
func (h *Handlers) HandleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req configUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	h.cfgMu.Lock()
	defer h.cfgMu.Unlock()
	cfg := h.deps.Cfg

	if req.NumPhotos != nil {
		if *req.NumPhotos < 1 || *req.NumPhotos > 5 {
			apiError(w, http.StatusBadRequest, "num_photos must be between 1 and 5")
			return
		}
		cfg.Sequence.NumPhotos = *req.NumPhotos
	}
	if req.StartupDelayMs != nil {
		if *req.StartupDelayMs < 0 {
			apiError(w, http.StatusBadRequest, "startup_delay_ms must not be negative")
			return
		}
		cfg.Sequence.StartupDelayMs = *req.StartupDelayMs
	}
	if req.CaptureDelayMs != nil {
		if *req.CaptureDelayMs < 0 {
			apiError(w, http.StatusBadRequest, "capture_delay_ms must not be negative")
			return
		}
		cfg.Sequence.CaptureDelayMs = *req.CaptureDelayMs
	}
	if len(req.Rois) > 0 {
		if len(req.Rois) != 4 {
			apiError(w, http.StatusBadRequest, "exactly 4 rois are required")
			return
		}
		for _, roi := range req.Rois {
			if err := roi.Validate(cfg.Stream.WidthPx, cfg.Stream.HeightPx); err != nil {
				apiError(w, http.StatusBadRequest, err.Error())
				return
			}
		}
		cfg.Rois = append([]analysis.ROI(nil), req.Rois...)
		h.deps.Sequencer.SetROIs(cfg.Rois)
	}
	if req.PWMDutyCycle != nil {
		if h.deps.Led != nil {
			if err := h.deps.Led.SetDutyCycle(*req.PWMDutyCycle); err != nil {
				apiError(w, http.StatusBadRequest, err.Error())
				return
			}
		}
		cfg.SetIlluminationDuty(*req.PWMDutyCycle)
	}

	if err := cfg.Save(h.deps.CfgPath); err != nil {
		apiError(w, http.StatusInternalServerError, "Failed to save config")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Configuration updated",
		"config":  cfg,
	})
}

// HandleGetImage handles GET /api/get-image/{folder}/{filename}.
func (h *Handlers) HandleGetImage(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	folder := filepath.Base(vars["folder"])
	filename := filepath.Base(vars["filename"])

	path := filepath.Join(h.deps.Cfg.Sequence.PhotosDir, folder, filename)
	if _, err := os.Stat(path); err != nil {
		apiError(w, http.StatusNotFound, "Image not found")
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	http.ServeFile(w, r, path)
}

// HandleSystemInfo handles GET /api/system/info.
func (h *Handlers) HandleSystemInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"platform":         runtime.GOOS,
		"camera_available": true,
		"gpio_available":   h.deps.Led != nil,
		"version":          Version,
	})
}

// HandleSessions handles GET /api/sessions: the session registry.
func (h *Handlers) HandleSessions(w http.ResponseWriter, r *http.Request) {
	if h.deps.Registry == nil {
		apiError(w, http.StatusServiceUnavailable, "session registry disabled")
		return
	}
	sessions, err := h.deps.Registry.ListSessions(r.Context())
	if err != nil {
		apiError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"sessions": sessions,
	})
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.deps.Broadcaster.Subscribe()
	defer unsub()

	// Send initial comment to establish connection
	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	// Heartbeat while idle
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
