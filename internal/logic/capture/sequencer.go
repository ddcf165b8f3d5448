// Package capture drives the N-shot capture run through the camera
// resource manager and hands the results down the analysis, aggregation
// and persistence pipeline.
package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/srosendal/rpi-uv/internal/debug"
	"github.com/srosendal/rpi-uv/internal/hw/camera"
	"github.com/srosendal/rpi-uv/internal/logic/analysis"
	"github.com/srosendal/rpi-uv/internal/logic/results"
	"github.com/srosendal/rpi-uv/internal/logic/storage"
	"github.com/srosendal/rpi-uv/internal/store"
)

// ErrSequenceRunning means a capture sequence is already in progress.
// There is no queuing; callers fail fast.
var ErrSequenceRunning = errors.New("capture sequence already in progress")

// State of the sequencer state machine.
type State int

const (
	Idle State = iota
	Starting
	Capturing
	Aggregating
	Saving
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Capturing:
		return "capturing"
	case Aggregating:
		return "aggregating"
	case Saving:
		return "saving"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Params configures one capture run.
type Params struct {
	NumPhotos    int           // shots per run (1-5)
	StartupDelay time.Duration // settle time before shot 1
	CaptureDelay time.Duration // inter-shot delay
	Width        int           // 0 = native resolution
	Height       int           // 0 = native resolution
	Timeout      time.Duration // per-shot capture timeout
}

// Session is one multi-shot capture run, identified by its folder id.
// It is immutable once the run completes.
type Session struct {
	Folder  string
	Dir     string
	Photos  []string
	Created time.Time
}

// Result of a completed pipeline run.
type Result struct {
	Session  *Session
	PerImage [][]int
	Averaged []int
	Save     *storage.Report
}

// Sequencer owns the process-wide capture pipeline state. All mutation
// of the active session goes through its state transitions.
type Sequencer struct {
	manager   *camera.Manager
	engine    *analysis.Engine
	writer    *storage.Writer
	registry  *store.Store // optional; nil disables session records
	rois      []analysis.ROI
	photosDir string

	mu    sync.Mutex
	state State
}

// NewSequencer wires the pipeline. registry may be nil.
func NewSequencer(
	manager *camera.Manager,
	engine *analysis.Engine,
	writer *storage.Writer,
	registry *store.Store,
	rois []analysis.ROI,
	photosDir string,
) *Sequencer {
	return &Sequencer{
		manager:   manager,
		engine:    engine,
		writer:    writer,
		registry:  registry,
		rois:      rois,
		photosDir: photosDir,
		state:     Idle,
	}
}

// State returns the current state of the pipeline.
func (s *Sequencer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetROIs replaces the regions used by subsequent runs. Called when
// the rectangle editor persists new regions.
func (s *Sequencer) SetROIs(rois []analysis.ROI) {
	s.mu.Lock()
	s.rois = append([]analysis.ROI(nil), rois...)
	s.mu.Unlock()
}

func (s *Sequencer) currentROIs() []analysis.ROI {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rois
}

func (s *Sequencer) transition(to State) {
	s.mu.Lock()
	from := s.state
	s.state = to
	s.mu.Unlock()
	debug.Verbose("Sequencer: %s -> %s", from, to)
}

// Run executes the full pipeline: N shots, per-region analysis,
// cross-shot aggregation, persistence. Only one run may be in flight
// system-wide; a concurrent call fails fast with ErrSequenceRunning.
// The camera handle is released exactly once regardless of outcome.
func (s *Sequencer) Run(ctx context.Context, p Params, emit EmitFunc) (*Result, error) {
	if emit == nil {
		emit = func(Event) {}
	}
	if p.NumPhotos < 1 || p.NumPhotos > 5 {
		return nil, fmt.Errorf("num photos must be between 1 and 5, got %d", p.NumPhotos)
	}

	s.mu.Lock()
	if s.state != Idle {
		s.mu.Unlock()
		// Subscribers still get a terminal event on the busy path.
		emit(Event{Status: StatusError, Message: "Capture already in progress"})
		return nil, ErrSequenceRunning
	}
	s.state = Starting
	s.mu.Unlock()

	res, err := s.run(ctx, p, emit)
	if err != nil {
		s.transition(Failed)
		emit(Event{Status: StatusError, Message: err.Error()})
		debug.Error(err)
	}
	s.transition(Idle)
	return res, err
}

func (s *Sequencer) run(ctx context.Context, p Params, emit EmitFunc) (*Result, error) {
	debug.Summary(debug.Fmt("Starting capture sequence (%d photos)", p.NumPhotos))
	emit(Event{Status: StatusStarting, Message: "Starting capture sequence..."})

	handle, err := s.manager.Acquire(camera.ModeCapture)
	if err != nil {
		return nil, err
	}
	defer handle.Release()

	emit(Event{Status: StatusPreparing, Message: "Pausing stream and preparing camera..."})
	if err := sleep(ctx, p.StartupDelay); err != nil {
		return nil, err
	}

	session := &Session{
		Folder:  time.Now().Format("20060102_150405"),
		Created: time.Now(),
	}
	session.Dir = filepath.Join(s.photosDir, session.Folder)
	if err := os.MkdirAll(session.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session folder: %w", err)
	}
	debug.Verbose("Created session folder: %s", session.Dir)

	s.transition(Capturing)
	for i := 1; i <= p.NumPhotos; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		emit(Event{
			Status:  StatusCapturing,
			Message: fmt.Sprintf("Capturing photo %d/%d...", i, p.NumPhotos),
			Photo:   i,
			Total:   p.NumPhotos,
		})

		name := fmt.Sprintf("%s_%03d.jpg", session.Folder, i)
		still := camera.StillParams{Width: p.Width, Height: p.Height, Timeout: p.Timeout}
		if err := handle.CaptureStill(ctx, filepath.Join(session.Dir, name), still); err != nil {
			return nil, fmt.Errorf("capture photo %d/%d: %w", i, p.NumPhotos, err)
		}
		session.Photos = append(session.Photos, name)
		debug.Shot(i, p.NumPhotos, name)

		emit(Event{
			Status:   StatusCaptured,
			Message:  fmt.Sprintf("Captured photo %d/%d", i, p.NumPhotos),
			Photo:    i,
			Total:    p.NumPhotos,
			Folder:   session.Folder,
			Filename: name,
		})

		if i < p.NumPhotos {
			if err := sleep(ctx, p.CaptureDelay); err != nil {
				return nil, err
			}
		}
	}

	emit(Event{
		Status:  StatusComplete,
		Message: "All photos captured successfully",
		Folder:  session.Folder,
		Photos:  session.Photos,
	})

	// The camera is free from here on; analysis and persistence only
	// touch the files.
	handle.Release()

	s.transition(Aggregating)
	emit(Event{Status: StatusAnalyzing, Message: "Analyzing captured photos..."})
	perImage, err := s.engine.AnalyzeFiles(session.Dir, session.Photos, s.currentROIs())
	if err != nil {
		return nil, err
	}
	averaged, err := results.Average(perImage)
	if err != nil {
		return nil, err
	}
	debug.Results(averaged)

	s.transition(Saving)
	report, err := s.writer.Save(session.Dir, session.Folder, averaged)
	if err != nil {
		return nil, err
	}
	emit(Event{
		Status:   StatusSaved,
		Message:  fmt.Sprintf("Saved %d files to %s storage", len(report.Files), report.Location),
		Folder:   session.Folder,
		Results:  averaged,
		Location: report.Location,
	})

	s.recordSession(ctx, session, averaged, report)

	debug.Summary("Capture sequence complete")
	return &Result{
		Session:  session,
		PerImage: perImage,
		Averaged: averaged,
		Save:     report,
	}, nil
}

// recordSession upserts the session registry. Registry failures are
// logged and never fail the pipeline.
func (s *Sequencer) recordSession(ctx context.Context, session *Session, averaged []int, report *storage.Report) {
	if s.registry == nil {
		return
	}
	rec := store.SessionRecord{
		Folder:     session.Folder,
		CreatedAt:  session.Created,
		PhotoCount: len(session.Photos),
		Location:   report.Location,
		SavedPath:  report.SavedPath,
	}
	for i := 0; i < len(rec.Regions) && i < len(averaged); i++ {
		rec.Regions[i] = averaged[i]
	}
	if err := s.registry.RecordSession(ctx, rec); err != nil {
		debug.Error(err)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
