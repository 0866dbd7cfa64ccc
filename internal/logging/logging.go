// Package logging provides the leveled debug stream used across the tool.
// Debug output is gated by a low/medium/high level: low messages are the
// important ones and always print once debugging is on at all, high messages
// only print at the most verbose setting.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// Level is a debug verbosity level.
type Level int

const (
	LevelOff Level = iota
	LevelLow
	LevelMedium
	LevelHigh
)

var (
	mu    sync.Mutex
	level = LevelLow
	out   io.Writer = os.Stderr
)

// ParseLevel converts a config value ("low", "medium", "high", or a bool
// rendered as a string) to a Level. Unknown values fall back to low.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high", "true":
		return LevelHigh
	case "medium":
		return LevelMedium
	case "off", "none":
		return LevelOff
	default:
		return LevelLow
	}
}

// SetLevel sets the global debug level.
func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	level = l
}

// SetOutput redirects log output (tests use this).
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
}

// Debug logs at the most verbose level.
func Debug(format string, args ...any) {
	DebugAt(LevelHigh, format, args...)
}

// DebugAt logs a debug message that prints when the configured level is at
// least lvl.
func DebugAt(lvl Level, format string, args ...any) {
	mu.Lock()
	defer mu.Unlock()
	if level < lvl || level == LevelOff {
		return
	}
	fmt.Fprintf(out, "[DEBUG] "+format+"\n", args...)
}

// Info logs an informational message regardless of debug level.
func Info(format string, args ...any) {
	mu.Lock()
	defer mu.Unlock()
	fmt.Fprintf(out, format+"\n", args...)
}

// Warn logs a warning.
func Warn(format string, args ...any) {
	mu.Lock()
	defer mu.Unlock()
	fmt.Fprintf(out, "[WARN] "+format+"\n", args...)
}

// Error logs an error message.
func Error(format string, args ...any) {
	mu.Lock()
	defer mu.Unlock()
	fmt.Fprintf(out, "[ERROR] "+format+"\n", args...)
}
