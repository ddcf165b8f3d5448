package camera

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/srosendal/rpi-uv/internal/debug"
)

// execGrace is added on top of the capture timeout before the
// subprocess is killed.
const execGrace = 5 * time.Second

// Rpicam drives the Raspberry Pi camera through the rpicam-still
// utility. The command is configurable (e.g. "libcamera-still" on
// older OS images) and may carry extra arguments.
type Rpicam struct {
	command string
	tmpDir  string
}

// NewRpicam creates a backend shelling out to the given still-capture
// command. tmpDir holds transient preview frames.
func NewRpicam(command, tmpDir string) *Rpicam {
	if command == "" {
		command = "rpicam-still"
	}
	return &Rpicam{command: command, tmpDir: tmpDir}
}

// CaptureStill runs the capture command at native resolution (or the
// requested one) and verifies the output file exists.
func (r *Rpicam) CaptureStill(ctx context.Context, path string, p StillParams) error {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	args := []string{
		"-o", path,
		"--timeout", strconv.FormatInt(timeout.Milliseconds(), 10),
		"--nopreview",
		"-n",
	}
	if p.Width > 0 && p.Height > 0 {
		args = append(args,
			"--width", strconv.Itoa(p.Width),
			"--height", strconv.Itoa(p.Height),
		)
	}

	debug.Verbose("Capturing full resolution to: %s", path)
	if err := r.run(ctx, timeout+execGrace, args); err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%w: no output file %s", ErrCaptureFailed, path)
	}
	return nil
}

// CaptureFrame captures one low-resolution frame to a transient file
// and returns its bytes. Used by the preview loop.
func (r *Rpicam) CaptureFrame(ctx context.Context, width, height int) ([]byte, error) {
	tmp := filepath.Join(r.tmpDir, "stream_"+uuid.NewString()+".jpg")
	defer os.Remove(tmp)

	args := []string{
		"-o", tmp,
		"--width", strconv.Itoa(width),
		"--height", strconv.Itoa(height),
		"--timeout", "500",
		"--nopreview",
		"-n",
		"--rotation", "0",
	}
	if err := r.run(ctx, 5*time.Second, args); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(tmp)
	if err != nil {
		return nil, fmt.Errorf("%w: read frame: %v", ErrCaptureFailed, err)
	}
	return data, nil
}

// run executes the configured command with extra args and a deadline.
func (r *Rpicam) run(ctx context.Context, timeout time.Duration, args []string) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	parts := strings.Fields(r.command)
	cmd := exec.CommandContext(ctx, parts[0], append(parts[1:], args...)...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if len(msg) > 200 {
			msg = msg[len(msg)-200:]
		}
		return fmt.Errorf("%w: %s: %v (%s)", ErrCaptureFailed, parts[0], err, msg)
	}
	return nil
}
