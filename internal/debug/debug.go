package debug

import (
	"fmt"
	"io"
	"log"
	"os"
)

// Debug levels
const (
	LevelOff     = 0 // No output
	LevelInfo    = 1 // Important info (sequence start/end, averaged results)
	LevelLive    = 2 // Live info (shots taken, frames grabbed, saves)
	LevelVerbose = 3 // Verbose (ROI math, storage probing, analysis details)
	LevelTrace   = 4 // Trace (GPIO, PWM, very low level)
)

var (
	level  int
	logger *log.Logger
)

// Init initializes the debug system with a level (0-4).
// 0 = no output
// 1 = important info (sequence summary, averaged results)
// 2 = live info (shots, frames, saves)
// 3 = verbose (ROI rescaling, per-image analysis, storage probing)
// 4 = trace (GPIO, PWM, very low level)
func Init(debugLevel int) {
	level = debugLevel
	if level > LevelOff {
		logger = log.New(os.Stdout, "[rpi-uv] ", log.LstdFlags|log.Lmicroseconds)
	}
}

// SetOutput redirects debug output, e.g. to tee log lines into the
// web status stream.
func SetOutput(w io.Writer) {
	if logger != nil {
		logger.SetOutput(w)
	}
}

// Level returns the current debug level.
func Level() int {
	return level
}

// IsEnabled returns true if debug level is >= the requested level.
func IsEnabled(minLevel int) bool {
	return level >= minLevel
}

// --- Level 1 functions (Info): important info ---

// Info prints a level 1 message (important info).
func Info(format string, args ...interface{}) {
	if level >= LevelInfo && logger != nil {
		logger.Printf("[INFO] "+format, args...)
	}
}

// Summary prints an important summary (level 1).
func Summary(title string) {
	if level >= LevelOff && logger != nil {
		logger.Printf("═══════════════════════════════════════")
		logger.Printf("  %s", title)
		logger.Printf("═══════════════════════════════════════")
	}
}

// Results prints the averaged per-region results (level 1).
func Results(values []int) {
	if level >= LevelInfo && logger != nil {
		logger.Printf("[INFO] Averaged results per region: %v", values)
	}
}

// --- Level 2 functions (Live): real-time info ---

// Live prints a level 2 message (live info).
func Live(format string, args ...interface{}) {
	if level >= LevelLive && logger != nil {
		logger.Printf("[LIVE] "+format, args...)
	}
}

// Shot prints a photo capture (level 2).
func Shot(photo, total int, filename string) {
	if level >= LevelLive && logger != nil {
		logger.Printf("[LIVE] Captured photo %d/%d: %s", photo, total, filename)
	}
}

// Stream prints a streaming state change (level 2).
func Stream(state string) {
	if level >= LevelLive && logger != nil {
		logger.Printf("[LIVE] Stream %s", state)
	}
}

// Saved prints a persisted file (level 2).
func Saved(target, name string) {
	if level >= LevelLive && logger != nil {
		logger.Printf("[LIVE] Saved %s -> %s", name, target)
	}
}

// --- Level 3 functions (Verbose): everything ---

// Verbose prints a level 3 message (verbose).
func Verbose(format string, args ...interface{}) {
	if level >= LevelVerbose && logger != nil {
		logger.Printf("[VERBOSE] "+format, args...)
	}
}

// Print prints a level 3 message (alias for Verbose).
func Print(format string, args ...interface{}) {
	Verbose(format, args...)
}

// Printf is an alias for Print for compatibility.
func Printf(format string, args ...interface{}) {
	Verbose(format, args...)
}

// PrintStruct prints a struct in formatted form (level 3).
func PrintStruct(name string, v interface{}) {
	if level >= LevelVerbose && logger != nil {
		logger.Printf("[VERBOSE] %s: %+v", name, v)
	}
}

// Section prints a section separator (level 3).
func Section(name string) {
	if level >= LevelVerbose && logger != nil {
		logger.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		logger.Printf("  %s", name)
		logger.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	}
}

// Step prints a numbered step (level 3).
func Step(num int, description string) {
	if level >= LevelVerbose && logger != nil {
		logger.Printf("[VERBOSE] Step %d: %s", num, description)
	}
}

// Value prints a named value in formatted form (level 3).
func Value(name string, value interface{}) {
	if level >= LevelInfo && logger != nil {
		logger.Printf("[INFO]   %s = %v", name, value)
	}
}

// ROI prints a region rescale operation (level 3).
func ROI(id int, from, to string) {
	if level >= LevelVerbose && logger != nil {
		logger.Printf("[VERBOSE] ROI %d: %s -> %s", id, from, to)
	}
}

// --- Level 4 functions (Trace): very low level ---

// Trace prints a level 4 message (trace, GPIO/PWM).
func Trace(format string, args ...interface{}) {
	if level >= LevelTrace && logger != nil {
		logger.Printf("[TRACE] "+format, args...)
	}
}

// GPIO prints a GPIO operation (level 4).
func GPIO(operation string, pin int, value interface{}) {
	if level >= LevelTrace && logger != nil {
		logger.Printf("[GPIO] %s pin=%d value=%v", operation, pin, value)
	}
}

// PWM prints a PWM operation (level 4).
func PWM(pin, duty int) {
	if level >= LevelTrace && logger != nil {
		logger.Printf("[PWM] pin=%d duty=%d%%", pin, duty)
	}
}

// --- General functions ---

// Error prints a debug error (level 1+).
func Error(err error) {
	if level >= LevelInfo && logger != nil {
		logger.Printf("[ERROR] %v", err)
	}
}

// Fmt is a helper function that returns a formatted string
// only if debug is enabled (to avoid unnecessary allocations).
func Fmt(format string, args ...interface{}) string {
	if level > 0 {
		return fmt.Sprintf(format, args...)
	}
	return ""
}
