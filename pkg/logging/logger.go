// Package logging provides structured logging on top of log/slog.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Logger is a component-scoped structured logger.
type Logger struct {
	*slog.Logger
	component string
	closer    io.Closer
}

// Config controls logger construction.
type Config struct {
	Level     string `json:"level" mapstructure:"level"`
	Format    string `json:"format" mapstructure:"format"` // json or text
	Output    string `json:"output" mapstructure:"output"` // stdout, stderr, or file path
	Component string `json:"component" mapstructure:"component"`
}

// ParseLevel maps a level name to a slog.Level. Unknown names yield info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New creates a logger from cfg. If a file output cannot be opened the
// logger falls back to stderr.
func New(cfg Config) *Logger {
	var (
		output io.Writer
		closer io.Closer
	)
	switch cfg.Output {
	case "stderr", "":
		output = os.Stderr
	case "stdout":
		output = os.Stdout
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			output = os.Stderr
		} else {
			output = f
			closer = f
		}
	}

	l := NewWithWriter(cfg, output)
	l.closer = closer
	return l
}

// NewWithWriter creates a logger that writes to w.
func NewWithWriter(cfg Config, w io.Writer) *Logger {
	level := ParseLevel(cfg.Level)
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	base := slog.New(handler)
	if cfg.Component != "" {
		base = base.With(slog.String("component", cfg.Component))
	}
	return &Logger{Logger: base, component: cfg.Component}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return NewWithWriter(Config{Level: "error"}, io.Discard)
}

// Close releases the output file, if any.
func (l *Logger) Close() error {
	if l == nil || l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

func (l *Logger) with(attrs ...any) *Logger {
	return &Logger{
		Logger:    l.Logger.With(attrs...),
		component: l.component,
		closer:    l.closer,
	}
}

// WithComponent scopes the logger to a named component.
func (l *Logger) WithComponent(component string) *Logger {
	out := l.with(slog.String("component", component))
	out.component = component
	return out
}

// WithPlanID adds the plan ID.
func (l *Logger) WithPlanID(planID string) *Logger {
	return l.with(slog.String("plan_id", planID))
}

// WithSubtaskID adds the subtask ID.
func (l *Logger) WithSubtaskID(subtaskID string) *Logger {
	return l.with(slog.String("subtask_id", subtaskID))
}

// WithAgentID adds the agent ID.
func (l *Logger) WithAgentID(agentID string) *Logger {
	return l.with(slog.String("agent_id", agentID))
}

// WithError adds the error message.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.with(slog.String("error", err.Error()))
}

// WithDuration adds a duration in milliseconds.
func (l *Logger) WithDuration(d time.Duration) *Logger {
	return l.with(slog.Float64("duration_ms", float64(d.Milliseconds())))
}

// HTTPRequestLog records a served HTTP request.
func (l *Logger) HTTPRequestLog(method, path string, status int, duration time.Duration, clientIP string) {
	l.Logger.Info("HTTP request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", status),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
		slog.String("client_ip", clientIP),
	)
}
