// Package gclog provides the collector's logging and phase tracing.
package gclog

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level is a log severity.
type Level int

const (
	LevelDebug Level = iota // Phase timings and per-task records
	LevelInfo               // Pause summaries
	LevelWarn               // Suspicious but survivable conditions
	LevelError              // Failures
)

// String returns the upper-case tag written in front of each line.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
}

// Logger writes tagged, leveled lines such as
//
//	[DEBUG] 15:04:05: gc,task: Compaction task (worker 1) 0.120ms
//
// It is safe for concurrent use.
type Logger struct {
	mu    *sync.Mutex
	out   io.Writer
	min   Level
	now   func() time.Time
	tags  []string
	clock string
}

// NewLogger creates a logger writing to out. verbose enables info lines,
// debug enables debug lines; warnings and errors are always written.
func NewLogger(out io.Writer, verbose, debug bool) *Logger {
	if out == nil {
		out = os.Stderr
	}
	threshold := LevelWarn
	if verbose {
		threshold = LevelInfo
	}
	if debug {
		threshold = LevelDebug
	}
	return &Logger{mu: new(sync.Mutex), out: out, min: threshold, now: time.Now, clock: "15:04:05"}
}

// Discard returns a logger that drops every line.
func Discard() *Logger {
	return &Logger{mu: new(sync.Mutex), out: io.Discard, min: LevelError + 1, now: time.Now, clock: "15:04:05"}
}

// With returns a logger that prefixes lines with the given tags, joined the
// way unified logging joins them ("gc,phases").
func (l *Logger) With(tags ...string) *Logger {
	return &Logger{
		mu:    l.mu,
		out:   l.out,
		min:   l.min,
		now:   l.now,
		clock: l.clock,
		tags:  append(append([]string(nil), l.tags...), tags...),
	}
}

// Enabled reports whether lines at level are written.
func (l *Logger) Enabled(level Level) bool { return level >= l.min }

// Debug logs a debug message.
func (l *Logger) Debug(format string, args ...any) { l.log(LevelDebug, format, args...) }

// Info logs an info message.
func (l *Logger) Info(format string, args ...any) { l.log(LevelInfo, format, args...) }

// Warn logs a warning message.
func (l *Logger) Warn(format string, args ...any) { l.log(LevelWarn, format, args...) }

// Error logs an error message.
func (l *Logger) Error(format string, args ...any) { l.log(LevelError, format, args...) }

func (l *Logger) log(level Level, format string, args ...any) {
	if !l.Enabled(level) {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if len(l.tags) > 0 {
		msg = strings.Join(l.tags, ",") + ": " + msg
	}
	line := fmt.Sprintf("[%s] %s: %s\n", level, l.now().Format(l.clock), msg)
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = io.WriteString(l.out, line)
}
