package impl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/corpusvault/corpusvault/models"
	"github.com/corpusvault/corpusvault/services"
)

const (
	queuePendingKey   = "jobs:pending"
	queueScheduledKey = "jobs:scheduled"
	queueCompletedKey = "jobs:completed"
	queueFailedKey    = "jobs:failed"
	queueEventsChan   = "jobs:events"

	queueJobKeyPrefix      = "jobs:data:"
	queueProgressKeyPrefix = "jobs:progress:"

	completedHistory = 100
	failedHistory    = 500

	retryBaseDelay = 2 * time.Second
	progressTTL    = 24 * time.Hour
)

type jobQueueImpl struct {
	rdb         *redis.Client
	maxAttempts int
}

// NewJobQueue builds the redis-backed durable queue. Job payloads live under
// per-job keys; the pending list and scheduled zset hold only job IDs, so a
// duplicate enqueue collapses on the payload SETNX.
func NewJobQueue(rdb *redis.Client, maxAttempts int) services.JobQueue {
	if maxAttempts < 1 {
		maxAttempts = 3
	}
	return &jobQueueImpl{rdb: rdb, maxAttempts: maxAttempts}
}

func jobKey(jobID string) string {
	return queueJobKeyPrefix + jobID
}

func progressKey(jobID string) string {
	return queueProgressKeyPrefix + jobID
}

func (q *jobQueueImpl) Enqueue(ctx context.Context, job *models.Job, delay time.Duration) (bool, error) {
	if job.ID == "" {
		return false, fmt.Errorf("job id is required")
	}
	job.EnqueuedAt = time.Now()

	payload, err := json.Marshal(job)
	if err != nil {
		return false, fmt.Errorf("failed to marshal job: %w", err)
	}

	ok, err := q.rdb.SetNX(ctx, jobKey(job.ID), payload, 0).Result()
	if err != nil {
		return false, fmt.Errorf("failed to store job: %w", err)
	}
	if !ok {
		return false, nil
	}

	if delay > 0 {
		readyAt := float64(time.Now().Add(delay).UnixMilli())
		if err := q.rdb.ZAdd(ctx, queueScheduledKey, redis.Z{Score: readyAt, Member: job.ID}).Err(); err != nil {
			return false, fmt.Errorf("failed to schedule job: %w", err)
		}
	} else {
		if err := q.rdb.LPush(ctx, queuePendingKey, job.ID).Err(); err != nil {
			return false, fmt.Errorf("failed to enqueue job: %w", err)
		}
	}

	return true, nil
}

// promoteScheduled moves due jobs from the scheduled zset onto the pending
// list.
func (q *jobQueueImpl) promoteScheduled(ctx context.Context) error {
	now := fmt.Sprintf("%d", time.Now().UnixMilli())
	ids, err := q.rdb.ZRangeByScore(ctx, queueScheduledKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: now,
	}).Result()
	if err != nil {
		return err
	}

	for _, id := range ids {
		removed, err := q.rdb.ZRem(ctx, queueScheduledKey, id).Result()
		if err != nil {
			return err
		}
		// Another consumer may have promoted it first.
		if removed == 0 {
			continue
		}
		if err := q.rdb.LPush(ctx, queuePendingKey, id).Err(); err != nil {
			return err
		}
	}

	return nil
}

func (q *jobQueueImpl) Dequeue(ctx context.Context, timeout time.Duration) (*models.Job, error) {
	if err := q.promoteScheduled(ctx); err != nil {
		return nil, fmt.Errorf("failed to promote scheduled jobs: %w", err)
	}

	res, err := q.rdb.BRPop(ctx, timeout, queuePendingKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to dequeue: %w", err)
	}

	jobID := res[1]
	payload, err := q.rdb.Get(ctx, jobKey(jobID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// Cancelled between enqueue and dequeue; skip it.
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load job %s: %w", jobID, err)
	}

	var job models.Job
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job %s: %w", jobID, err)
	}

	return &job, nil
}

func (q *jobQueueImpl) Complete(ctx context.Context, jobID string) error {
	pipe := q.rdb.TxPipeline()
	pipe.Del(ctx, jobKey(jobID))
	pipe.LPush(ctx, queueCompletedKey, jobID)
	pipe.LTrim(ctx, queueCompletedKey, 0, completedHistory-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to complete job %s: %w", jobID, err)
	}

	q.publish(ctx, models.JobEvent{JobID: jobID, Kind: models.JobEventCompleted})
	return nil
}

func (q *jobQueueImpl) Fail(ctx context.Context, job *models.Job, errMsg string, retryable bool) (bool, error) {
	job.Attempts++

	if retryable && job.Attempts < q.maxAttempts {
		payload, err := json.Marshal(job)
		if err != nil {
			return false, fmt.Errorf("failed to marshal job: %w", err)
		}

		backoff := retryBaseDelay * (1 << (job.Attempts - 1))
		readyAt := float64(time.Now().Add(backoff).UnixMilli())

		pipe := q.rdb.TxPipeline()
		pipe.Set(ctx, jobKey(job.ID), payload, 0)
		pipe.ZAdd(ctx, queueScheduledKey, redis.Z{Score: readyAt, Member: job.ID})
		if _, err := pipe.Exec(ctx); err != nil {
			return false, fmt.Errorf("failed to requeue job %s: %w", job.ID, err)
		}
		return true, nil
	}

	pipe := q.rdb.TxPipeline()
	pipe.Del(ctx, jobKey(job.ID))
	pipe.LPush(ctx, queueFailedKey, job.ID)
	pipe.LTrim(ctx, queueFailedKey, 0, failedHistory-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("failed to record job failure %s: %w", job.ID, err)
	}

	q.publish(ctx, models.JobEvent{JobID: job.ID, Kind: models.JobEventFailed, Error: errMsg})
	return false, nil
}

func (q *jobQueueImpl) Cancel(ctx context.Context, jobID string) error {
	pipe := q.rdb.TxPipeline()
	pipe.Del(ctx, jobKey(jobID))
	pipe.Del(ctx, progressKey(jobID))
	pipe.ZRem(ctx, queueScheduledKey, jobID)
	pipe.LRem(ctx, queuePendingKey, 0, jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to cancel job %s: %w", jobID, err)
	}
	return nil
}

func (q *jobQueueImpl) ReportProgress(ctx context.Context, progress models.JobProgress) error {
	payload, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("failed to marshal progress: %w", err)
	}
	if err := q.rdb.Set(ctx, progressKey(progress.JobID), payload, progressTTL).Err(); err != nil {
		return fmt.Errorf("failed to store progress: %w", err)
	}

	q.publish(ctx, models.JobEvent{JobID: progress.JobID, Kind: models.JobEventProgress, Progress: &progress})
	return nil
}

func (q *jobQueueImpl) GetProgress(ctx context.Context, jobID string) (*models.JobProgress, error) {
	payload, err := q.rdb.Get(ctx, progressKey(jobID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load progress: %w", err)
	}

	var progress models.JobProgress
	if err := json.Unmarshal([]byte(payload), &progress); err != nil {
		return nil, fmt.Errorf("failed to unmarshal progress: %w", err)
	}
	return &progress, nil
}

func (q *jobQueueImpl) Subscribe(ctx context.Context) (<-chan models.JobEvent, func(), error) {
	pubsub := q.rdb.Subscribe(ctx, queueEventsChan)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	events := make(chan models.JobEvent, 16)
	done := make(chan struct{})

	go func() {
		defer close(events)
		ch := pubsub.Channel()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var event models.JobEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					log.Printf("Dropping malformed job event: %v", err)
					continue
				}
				select {
				case events <- event:
				case <-done:
					return
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	cancel := func() {
		close(done)
		_ = pubsub.Close()
	}
	return events, cancel, nil
}

func (q *jobQueueImpl) PendingCount(ctx context.Context) (int64, error) {
	pending, err := q.rdb.LLen(ctx, queuePendingKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count pending: %w", err)
	}
	scheduled, err := q.rdb.ZCard(ctx, queueScheduledKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count scheduled: %w", err)
	}
	return pending + scheduled, nil
}

func (q *jobQueueImpl) Ping(ctx context.Context) error {
	return q.rdb.Ping(ctx).Err()
}

func (q *jobQueueImpl) publish(ctx context.Context, event models.JobEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("Failed to marshal job event: %v", err)
		return
	}
	if err := q.rdb.Publish(ctx, queueEventsChan, payload).Err(); err != nil {
		log.Printf("Failed to publish job event: %v", err)
	}
}
