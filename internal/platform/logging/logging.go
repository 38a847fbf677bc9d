// Package logging builds the process logger and defines the structured keys
// used across the dispatcher.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Keys for structured log records.
const (
	Error        = "error"
	ErrorKind    = "error_kind"
	Phase        = "phase"
	Shard        = "shard"
	RawIndex     = "raw_index"
	Task         = "task"
	TaskKind     = "task_kind"
	Inputs       = "inputs"
	OutputPrefix = "output_prefix"
	RawOutput    = "raw_output_data_prefix"
	Provider     = "cloud_provider"
	Engine       = "engine"
	Path         = "path"
	LocalPath    = "local_path"
	Attempt      = "attempt"
	Duration     = "duration"
	WorkingDir   = "working_dir"
	Metric       = "metric"
	Value        = "value"
	Stack        = "stack"
)

// ParseLevel maps debug, info, warn or error to a slog level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// New returns a JSON logger writing to w at the given level.
func New(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
