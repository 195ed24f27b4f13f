package orchestrator

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// trace is the process-wide execution trace. Graph building and agent
// assignment run outside any engine method, so they log through it.
var trace atomic.Pointer[DebugLogger]

func setPackageLogger(l *DebugLogger) {
	trace.Store(l)
}

func debugLog(format string, args ...any) {
	trace.Load().Log(format, args...)
}

// DebugLogger writes a numbered, timestamped execution trace.
// A nil DebugLogger discards everything.
type DebugLogger struct {
	mu    sync.Mutex
	w     io.Writer
	close func() error
	now   func() time.Time
	lines int
}

// NewDebugLogger appends a trace to the file at path, creating parent
// directories. An empty path yields a logger that discards everything.
func NewDebugLogger(path string) (*DebugLogger, error) {
	if path == "" {
		return NopLogger(), nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create trace directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}

	l := &DebugLogger{w: f, close: f.Close, now: time.Now}
	l.Log("trace opened pid=%d at %s", os.Getpid(), time.Now().Format(time.RFC3339))
	return l, nil
}

// NewTraceWriter returns a DebugLogger writing to w. Close leaves w open.
func NewTraceWriter(w io.Writer) *DebugLogger {
	return &DebugLogger{w: w, now: time.Now}
}

// NopLogger returns a logger that discards everything.
func NopLogger() *DebugLogger {
	return &DebugLogger{}
}

// Log writes one trace line.
func (l *DebugLogger) Log(format string, args ...any) {
	if l == nil || l.w == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.lines++
	fmt.Fprintf(l.w, "%s #%04d %s\n", l.now().Format("15:04:05.000"), l.lines, fmt.Sprintf(format, args...))
}

// Lines returns how many lines have been written.
func (l *DebugLogger) Lines() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lines
}

// Close closes the trace file, if the logger owns one.
func (l *DebugLogger) Close() error {
	if l == nil || l.close == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	err := l.close()
	l.w, l.close = nil, nil
	return err
}
