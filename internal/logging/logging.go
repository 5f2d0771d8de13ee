// Package logging provides structured logging infrastructure for the orchestrator.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/meow-stack/meow-orch/internal/config"
)

// NewFromConfig creates a new slog.Logger based on configuration, teeing to
// cfg.LogFile(repoDir) in addition to stderr when one is configured.
func NewFromConfig(cfg *config.Config, repoDir string) (*slog.Logger, io.Closer, error) {
	level := parseLevel(cfg.Logging.Level)

	logPath := cfg.LogFile(repoDir)
	if logPath == "" {
		return slog.New(newHandler(cfg.Logging.Format, os.Stderr, level)), nil, nil
	}

	handler, closer, err := newFileTeeHandler(cfg.Logging.Format, level, logPath)
	if err != nil {
		return nil, nil, err
	}
	return slog.New(handler), closer, nil
}

// NewForRun creates a logger that writes into the given run directory's own
// log file (<runDir>/logs/<runID>.log), in addition to stderr. The
// orchestrator and the CLI do not call it; the orchestrator logs through the
// logger it is given, bound with WithRun.
func NewForRun(cfg *config.Config, runDir, runID string) (*slog.Logger, io.Closer, error) {
	level := parseLevel(cfg.Logging.Level)
	logPath := filepath.Join(runDir, "logs", runID+".log")

	handler, closer, err := newFileTeeHandler(cfg.Logging.Format, level, logPath)
	if err != nil {
		return nil, nil, err
	}
	return slog.New(handler), closer, nil
}

// newFileTeeHandler builds a handler that writes to both stderr and the file
// at path, creating path's parent directory as needed. Shared by
// NewFromConfig and NewForRun so the tee-to-file construction lives in one
// place.
func newFileTeeHandler(format config.LogFormat, level slog.Level, path string) (slog.Handler, io.Closer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, err
	}
	return newHandler(format, io.MultiWriter(os.Stderr, file), level), file, nil
}

// NewForTest creates a silent logger for tests.
func NewForTest() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// parseLevel converts config log level to slog.Level.
func parseLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogLevelDebug:
		return slog.LevelDebug
	case config.LogLevelInfo:
		return slog.LevelInfo
	case config.LogLevelWarn:
		return slog.LevelWarn
	case config.LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newHandler creates a slog.Handler based on format.
func newHandler(format config.LogFormat, w io.Writer, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: level,
	}

	switch format {
	case config.LogFormatJSON:
		return slog.NewJSONHandler(w, opts)
	case config.LogFormatText:
		return slog.NewTextHandler(w, opts)
	default:
		return slog.NewJSONHandler(w, opts)
	}
}

// WithRun returns a logger bound to one run, attaching run_id/workflow to
// every record it emits. The orchestrator binds this once, at construction,
// instead of repeating run_id on every call site.
func WithRun(logger *slog.Logger, runID, workflowName string) *slog.Logger {
	return logger.With("run_id", runID, "workflow", workflowName)
}

// WithStep returns a logger bound to one step attempt, attaching
// step_id/agent to every record it emits.
func WithStep(logger *slog.Logger, stepID, agent string) *slog.Logger {
	return logger.With("step_id", stepID, "agent", agent)
}
