package core

import (
	"context"
	"time"
)

// MetricsRecorder receives the outcome of every method call. status is the
// symbolic status code name ("Good", "BadOutOfRange", ...).
type MetricsRecorder interface {
	Observe(ctx context.Context, operation, status string, duration time.Duration)
}

// NoopMetrics discards all observations.
type NoopMetrics struct{}

// Observe implements MetricsRecorder.
func (NoopMetrics) Observe(context.Context, string, string, time.Duration) {}
