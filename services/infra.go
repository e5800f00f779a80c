package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/corpusvault/corpusvault/models"
)

// JobQueue is the durable FIFO backing ingestion. Job IDs equal document IDs
// so duplicate enqueues collapse.
type JobQueue interface {
	// Enqueue adds a job, optionally delayed. Returns false when a job with
	// the same ID is already queued or running.
	Enqueue(ctx context.Context, job *models.Job, delay time.Duration) (bool, error)

	// Dequeue blocks up to timeout for the next ready job. A nil job with a
	// nil error means the timeout elapsed.
	Dequeue(ctx context.Context, timeout time.Duration) (*models.Job, error)

	// Complete marks the job finished and trims completed history.
	Complete(ctx context.Context, jobID string) error

	// Fail records the failure. Retryable failures below the attempt limit
	// are re-enqueued with exponential backoff; the return reports whether
	// the job was requeued.
	Fail(ctx context.Context, job *models.Job, errMsg string, retryable bool) (bool, error)

	// Cancel removes a queued job by ID. A running attempt finishes
	// naturally.
	Cancel(ctx context.Context, jobID string) error

	ReportProgress(ctx context.Context, progress models.JobProgress) error
	GetProgress(ctx context.Context, jobID string) (*models.JobProgress, error)

	// Subscribe delivers job events until the returned cancel func runs.
	Subscribe(ctx context.Context) (<-chan models.JobEvent, func(), error)

	PendingCount(ctx context.Context) (int64, error)
	Ping(ctx context.Context) error
}

// RateLimiter enforces per-customer per-endpoint rolling windows (60s and
// 24h) backed by minute-aligned catalog buckets.
type RateLimiter interface {
	Check(ctx context.Context, customerID uuid.UUID, endpoint string, perMinute, perDay int) (*models.RateLimitDecision, error)

	// Prune removes buckets older than the retention horizon.
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// UsageTracker records append-only usage metrics and serves aggregates.
// Writes happen after the response and failures are logged, not surfaced.
type UsageTracker interface {
	Record(ctx context.Context, metric *models.UsageMetric) error
	Summary(ctx context.Context, customerID uuid.UUID, from, to time.Time) (*models.UsageSummary, error)
	Metrics(ctx context.Context, customerID uuid.UUID, metricType models.MetricType, from, to time.Time) ([]models.UsageMetric, error)
}
