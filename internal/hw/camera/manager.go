package camera

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/srosendal/rpi-uv/internal/debug"
)

// Mode selects what an acquired handle is used for.
type Mode int

const (
	// ModeStream is continuous low-resolution preview.
	ModeStream Mode = iota
	// ModeCapture is discrete full-resolution still capture.
	ModeCapture
)

func (m Mode) String() string {
	if m == ModeCapture {
		return "capture"
	}
	return "stream"
}

// Handle represents exclusive ownership of the camera for one
// consumer. Release is safe to call more than once; only the first
// call has effect.
type Handle struct {
	id   string
	mode Mode
	mgr  *Manager
	once sync.Once
}

// Release gives the camera back. Streaming resumes automatically if it
// was active when the handle was acquired.
func (h *Handle) Release() {
	h.once.Do(func() {
		h.mgr.release(h)
	})
}

// CaptureStill performs a full-resolution capture through this handle.
// Fails if the handle was acquired for streaming or already released.
func (h *Handle) CaptureStill(ctx context.Context, path string, p StillParams) error {
	if h.mode != ModeCapture {
		return fmt.Errorf("%w: handle acquired for %s", ErrBusy, h.mode)
	}
	h.mgr.mu.Lock()
	owned := h.mgr.holder == h
	h.mgr.mu.Unlock()
	if !owned {
		return fmt.Errorf("%w: handle already released", ErrBusy)
	}

	h.mgr.camMu.Lock()
	defer h.mgr.camMu.Unlock()
	return h.mgr.cam.CaptureStill(ctx, path, p)
}

// Manager owns exclusive access to the physical camera. It arbitrates
// between the continuous preview loop and discrete still captures:
// a capture acquisition fully suspends the preview cadence (the last
// streamed frame stays available for display) and releasing it resumes
// streaming.
type Manager struct {
	cam      Camera
	previewW int
	previewH int
	interval time.Duration

	// camMu serializes every access to the device itself.
	camMu sync.Mutex

	mu        sync.Mutex
	holder    *Handle
	streaming bool
	suspended bool
	stop      chan struct{}
	wg        sync.WaitGroup
	lastFrame []byte
	frameAt   time.Time
}

// NewManager creates a manager around the given backend. previewW and
// previewH are the streaming resolution; interval is the fixed preview
// cadence.
func NewManager(cam Camera, previewW, previewH int, interval time.Duration) *Manager {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Manager{
		cam:      cam,
		previewW: previewW,
		previewH: previewH,
		interval: interval,
	}
}

// Acquire claims the camera for the given mode. A second outstanding
// acquisition fails immediately with ErrBusy; callers never queue.
// Acquiring for capture while streaming suspends the preview loop
// until the handle is released.
func (m *Manager) Acquire(mode Mode) (*Handle, error) {
	m.mu.Lock()
	if m.holder != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: held for %s", ErrBusy, m.holder.mode)
	}
	h := &Handle{id: uuid.NewString(), mode: mode, mgr: m}
	m.holder = h
	if mode == ModeCapture && m.streaming {
		m.suspended = true
		debug.Stream("suspended for capture")
	}
	m.mu.Unlock()

	// Wait for an in-flight preview grab to finish so the device is
	// quiet before the caller uses it.
	if mode == ModeCapture {
		m.camMu.Lock()
		m.camMu.Unlock()
	}

	debug.Verbose("Camera acquired (%s, handle %s)", mode, h.id)
	return h, nil
}

func (m *Manager) release(h *Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.holder != h {
		return
	}
	m.holder = nil
	if m.suspended {
		m.suspended = false
		debug.Stream("resumed after capture")
	}
	debug.Verbose("Camera released (handle %s)", h.id)
}

// StartStreaming starts the fixed-rate preview loop. Idempotent.
// If a capture is in flight the loop starts suspended and resumes
// once the capture handle is released.
func (m *Manager) StartStreaming() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.streaming {
		return
	}
	m.streaming = true
	m.suspended = m.holder != nil && m.holder.mode == ModeCapture
	m.stop = make(chan struct{})
	m.wg.Add(1)
	go m.loop(m.stop)
	debug.Stream("started")
}

// StopStreaming stops the preview loop. Idempotent.
func (m *Manager) StopStreaming() {
	m.mu.Lock()
	if !m.streaming {
		m.mu.Unlock()
		return
	}
	m.streaming = false
	stop := m.stop
	m.mu.Unlock()

	close(stop)
	m.wg.Wait()
	debug.Stream("stopped")
}

// Streaming reports whether the preview loop is active.
func (m *Manager) Streaming() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streaming
}

// Frame returns the most recent preview frame. Only valid while
// streaming is active; during a capture the last streamed frame is
// still served.
func (m *Manager) Frame() ([]byte, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.streaming {
		return nil, time.Time{}, ErrNotStreaming
	}
	if m.lastFrame == nil {
		return nil, time.Time{}, fmt.Errorf("%w: no frame yet", ErrNotStreaming)
	}
	frame := make([]byte, len(m.lastFrame))
	copy(frame, m.lastFrame)
	return frame, m.frameAt, nil
}

// loop grabs preview frames at the fixed cadence. While suspended it
// skips grabs entirely rather than throttling, so the device is free
// for the capture path.
func (m *Manager) loop(stop <-chan struct{}) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.mu.Lock()
			suspended := m.suspended
			m.mu.Unlock()
			if suspended {
				continue
			}

			m.camMu.Lock()
			// Re-check under camMu: Acquire may have flipped the flag
			// between the check above and taking the device lock.
			m.mu.Lock()
			suspended = m.suspended
			m.mu.Unlock()
			if suspended {
				m.camMu.Unlock()
				continue
			}
			frame, err := m.cam.CaptureFrame(context.Background(), m.previewW, m.previewH)
			m.camMu.Unlock()
			if err != nil {
				debug.Verbose("Preview frame grab failed: %v", err)
				continue
			}

			m.mu.Lock()
			m.lastFrame = frame
			m.frameAt = time.Now()
			m.mu.Unlock()
			debug.Trace("Preview frame updated (%d bytes)", len(frame))
		}
	}
}
