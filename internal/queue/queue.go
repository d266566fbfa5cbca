// Package queue implements C2: a durable FIFO job queue with at-least-once
// delivery, exponential backoff retry, and lease-based redelivery on
// worker crash. The Postgres table plus Redis worker-registry/heartbeat
// recovery mechanism is grounded directly on alya's jobs/recovery.go
// (TrackRowProcessing/RefreshHeartbeat/RegisterWorker/RecoverAbandonedRows),
// generalized from per-row batch bookkeeping to per-job execution
// bookkeeping.
package queue

import (
	"context"
	"time"

	"github.com/remiges-tech/masstock/internal/domain"
)

// Handler processes one Job end-to-end. progressFn is advisory: both
// JobQueue implementations here pass a no-op progressFn, so the reported
// percentage is not stored on the job record (the jobs table has no
// progress column).
type Handler func(ctx context.Context, job domain.Job, progressFn func(percent int)) error

// JobQueue is the contract of spec §4.2.
type JobQueue interface {
	Enqueue(ctx context.Context, job domain.Job) (queueID string, err error)
	// Consume spawns concurrency consumers and blocks until ctx cancels.
	Consume(ctx context.Context, handler Handler, concurrency int) error
	// DeadLetters lists jobs that exhausted max_attempts without a
	// terminal success -- the "out-of-band failure signal" spec §4.2 allows.
	DeadLetters(ctx context.Context) ([]domain.Job, error)
}

// BackoffConfig parameterizes the retry schedule (spec §4.2 defaults:
// max_attempts=3, base_delay=2s).
type BackoffConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
}
