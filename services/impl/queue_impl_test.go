package impl

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corpusvault/corpusvault/models"
	"github.com/corpusvault/corpusvault/services"
)

func setupTestQueue(t *testing.T) (services.JobQueue, *miniredis.Miniredis, func()) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	queue := NewJobQueue(client, 3)

	cleanup := func() {
		client.Close()
		mr.Close()
	}
	return queue, mr, cleanup
}

func testJob() *models.Job {
	docID := uuid.New()
	return &models.Job{
		ID:         docID.String(),
		Type:       models.JobProcessDocument,
		CustomerID: uuid.New(),
		DocumentID: docID,
		BlobKey:    "tenant/documents/doc/file.txt",
		Filename:   "file.txt",
		DocType:    models.DocumentTypeTXT,
	}
}

func TestJobQueue_EnqueueDequeue(t *testing.T) {
	queue, _, cleanup := setupTestQueue(t)
	defer cleanup()
	ctx := context.Background()

	job := testJob()
	added, err := queue.Enqueue(ctx, job, 0)
	require.NoError(t, err)
	assert.True(t, added)

	got, err := queue.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, job.BlobKey, got.BlobKey)
	assert.Equal(t, models.JobProcessDocument, got.Type)
}

func TestJobQueue_DuplicateEnqueueCollapses(t *testing.T) {
	queue, _, cleanup := setupTestQueue(t)
	defer cleanup()
	ctx := context.Background()

	job := testJob()
	added, err := queue.Enqueue(ctx, job, 0)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = queue.Enqueue(ctx, job, 0)
	require.NoError(t, err)
	assert.False(t, added)

	count, err := queue.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestJobQueue_DelayedEnqueue(t *testing.T) {
	queue, _, cleanup := setupTestQueue(t)
	defer cleanup()
	ctx := context.Background()

	job := testJob()
	added, err := queue.Enqueue(ctx, job, 200*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, added)

	// Not ready yet.
	got, err := queue.Dequeue(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, got)

	time.Sleep(250 * time.Millisecond)

	got, err = queue.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, job.ID, got.ID)
}

func TestJobQueue_Complete(t *testing.T) {
	queue, _, cleanup := setupTestQueue(t)
	defer cleanup()
	ctx := context.Background()

	job := testJob()
	_, err := queue.Enqueue(ctx, job, 0)
	require.NoError(t, err)

	got, err := queue.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, got)

	require.NoError(t, queue.Complete(ctx, job.ID))

	// The same ID can be enqueued again after completion.
	added, err := queue.Enqueue(ctx, testJobWithID(job.ID), 0)
	require.NoError(t, err)
	assert.True(t, added)
}

func testJobWithID(id string) *models.Job {
	job := testJob()
	job.ID = id
	return job
}

func TestJobQueue_FailRetriesWithBackoff(t *testing.T) {
	queue, _, cleanup := setupTestQueue(t)
	defer cleanup()
	ctx := context.Background()

	job := testJob()
	_, err := queue.Enqueue(ctx, job, 0)
	require.NoError(t, err)

	got, err := queue.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, got)

	requeued, err := queue.Fail(ctx, got, "transient io error", true)
	require.NoError(t, err)
	assert.True(t, requeued)
	assert.Equal(t, 1, got.Attempts)

	// Backoff holds the job out of the pending list until it elapses.
	immediate, err := queue.Dequeue(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, immediate)

	time.Sleep(2100 * time.Millisecond)

	retried, err := queue.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, retried)
	assert.Equal(t, 1, retried.Attempts)
}

func TestJobQueue_FailExhaustsAttempts(t *testing.T) {
	queue, _, cleanup := setupTestQueue(t)
	defer cleanup()
	ctx := context.Background()

	job := testJob()
	job.Attempts = 2

	requeued, err := queue.Fail(ctx, job, "still broken", true)
	require.NoError(t, err)
	assert.False(t, requeued)
}

func TestJobQueue_FatalFailureDoesNotRetry(t *testing.T) {
	queue, _, cleanup := setupTestQueue(t)
	defer cleanup()
	ctx := context.Background()

	job := testJob()
	requeued, err := queue.Fail(ctx, job, "parse error", false)
	require.NoError(t, err)
	assert.False(t, requeued)
}

func TestJobQueue_Cancel(t *testing.T) {
	queue, _, cleanup := setupTestQueue(t)
	defer cleanup()
	ctx := context.Background()

	job := testJob()
	_, err := queue.Enqueue(ctx, job, 0)
	require.NoError(t, err)

	require.NoError(t, queue.Cancel(ctx, job.ID))

	// The payload is gone, so the dequeued ID is skipped.
	got, err := queue.Dequeue(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestJobQueue_Progress(t *testing.T) {
	queue, _, cleanup := setupTestQueue(t)
	defer cleanup()
	ctx := context.Background()

	jobID := uuid.New().String()
	none, err := queue.GetProgress(ctx, jobID)
	require.NoError(t, err)
	assert.Nil(t, none)

	require.NoError(t, queue.ReportProgress(ctx, models.JobProgress{
		JobID:   jobID,
		Stage:   models.StageEmbedding,
		Percent: 60,
	}))

	progress, err := queue.GetProgress(ctx, jobID)
	require.NoError(t, err)
	require.NotNil(t, progress)
	assert.Equal(t, models.StageEmbedding, progress.Stage)
	assert.Equal(t, 60, progress.Percent)
}

func TestJobQueue_Ping(t *testing.T) {
	queue, mr, cleanup := setupTestQueue(t)
	defer cleanup()

	assert.NoError(t, queue.Ping(context.Background()))

	mr.Close()
	assert.Error(t, queue.Ping(context.Background()))
}
