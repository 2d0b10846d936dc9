package observability

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
)

const (
	// LogFieldRequestID is the field name for request ID.
	LogFieldRequestID = "request_id"
	// LogFieldJobUID is the field name for job UID.
	LogFieldJobUID = "job_uid"
	// LogFieldHandle is the field name for the subject handle.
	LogFieldHandle = "handle"
	// LogFieldDuration is the field name for duration in milliseconds.
	LogFieldDuration = "duration_ms"
	// LogFieldStage is the field name for the pipeline stage.
	LogFieldStage = "stage"
)

// NewLogger creates the process logger. Prod mode logs JSON, dev mode text.
func NewLogger(mode string) *slog.Logger {
	level := slog.LevelInfo
	if mode != "prod" {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if mode == "prod" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

// JobContext carries structured logging context for a single job run.
type JobContext struct {
	RequestID string
	JobUID    string
	Handle    string
	StartTime time.Time
	Logger    *slog.Logger
}

// NewJobContext creates a job context with a generated request ID.
func NewJobContext(logger *slog.Logger, jobUID, handle string) *JobContext {
	return &JobContext{
		RequestID: uuid.New().String(),
		JobUID:    jobUID,
		Handle:    handle,
		StartTime: time.Now(),
		Logger:    logger,
	}
}

// Info logs an info message.
func (j *JobContext) Info(msg string, attrs ...slog.Attr) {
	j.Logger.LogAttrs(context.Background(), slog.LevelInfo, msg, j.withBase(attrs)...)
}

// Debug logs a debug message.
func (j *JobContext) Debug(msg string, attrs ...slog.Attr) {
	j.Logger.LogAttrs(context.Background(), slog.LevelDebug, msg, j.withBase(attrs)...)
}

// Warn logs a warning message.
func (j *JobContext) Warn(msg string, attrs ...slog.Attr) {
	j.Logger.LogAttrs(context.Background(), slog.LevelWarn, msg, j.withBase(attrs)...)
}

// Error logs an error message with the error.
func (j *JobContext) Error(msg string, err error, attrs ...slog.Attr) {
	attrs = append(attrs, slog.String("error", err.Error()))
	j.Logger.LogAttrs(context.Background(), slog.LevelError, msg, j.withBase(attrs)...)
}

// DurationMs returns the elapsed time in milliseconds.
func (j *JobContext) DurationMs() int64 {
	return time.Since(j.StartTime).Milliseconds()
}

func (j *JobContext) withBase(attrs []slog.Attr) []slog.Attr {
	base := []slog.Attr{
		slog.String(LogFieldRequestID, j.RequestID),
		slog.String(LogFieldJobUID, j.JobUID),
		slog.String(LogFieldHandle, j.Handle),
	}
	return append(base, attrs...)
}
