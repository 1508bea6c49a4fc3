package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glennhaavar-prog/ai-erp-sub003/internal/apperrors"
	"github.com/glennhaavar-prog/ai-erp-sub003/internal/logger"
	"github.com/glennhaavar-prog/ai-erp-sub003/internal/repository"
)

// recordingCapability counts executions and returns a configurable outcome.
type recordingCapability struct {
	mu       sync.Mutex
	executed []string
	result   json.RawMessage
	err      error
	block    time.Duration
}

func (c *recordingCapability) Name() repository.Capability {
	return repository.CapabilityPostingSuggestion
}

func (c *recordingCapability) Execute(ctx context.Context, task *repository.Task) (json.RawMessage, error) {
	c.mu.Lock()
	c.executed = append(c.executed, task.ID)
	c.mu.Unlock()

	if c.block > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.block):
		}
	}
	return c.result, c.err
}

func (c *recordingCapability) executions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.executed)
}

func workerConfig() WorkerConfig {
	return WorkerConfig{
		PollInterval:  time.Millisecond,
		TaskTimeout:   time.Second,
		LeaseDuration: time.Minute,
	}
}

func enqueueTask(t *testing.T, q *fakeTaskQueue, priority int) *repository.Task {
	t.Helper()
	task := &repository.Task{
		TenantID:   "tenant-1",
		Capability: repository.CapabilityPostingSuggestion,
		TaskType:   "suggest_posting",
		Priority:   priority,
		Payload:    json.RawMessage(`{}`),
		MaxRetries: 3,
	}
	require.NoError(t, q.Enqueue(context.Background(), task))
	return task
}

func TestClaimNextAtMostOnce(t *testing.T) {
	queue := newFakeTaskQueue()
	for i := 0; i < 20; i++ {
		enqueueTask(t, queue, 5)
	}

	// Many workers racing: every task is claimed exactly once.
	var mu sync.Mutex
	claims := make(map[string]int)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				task, err := queue.ClaimNext(context.Background(), repository.CapabilityPostingSuggestion, "w", time.Minute)
				require.NoError(t, err)
				if task == nil {
					return
				}
				mu.Lock()
				claims[task.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, claims, 20)
	for id, n := range claims {
		assert.Equal(t, 1, n, "task %s claimed %d times", id, n)
	}
}

func TestClaimNextOrdering(t *testing.T) {
	queue := newFakeTaskQueue()
	ctx := context.Background()

	low1 := enqueueTask(t, queue, 3)
	high := enqueueTask(t, queue, 9)
	low2 := enqueueTask(t, queue, 3)

	first, err := queue.ClaimNext(ctx, repository.CapabilityPostingSuggestion, "w", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, high.ID, first.ID)

	// FIFO among equal priority.
	second, err := queue.ClaimNext(ctx, repository.CapabilityPostingSuggestion, "w", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, low1.ID, second.ID)

	third, err := queue.ClaimNext(ctx, repository.CapabilityPostingSuggestion, "w", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, low2.ID, third.ID)
}

func TestWorkerCompletesTask(t *testing.T) {
	queue := newFakeTaskQueue()
	task := enqueueTask(t, queue, 5)

	capability := &recordingCapability{result: json.RawMessage(`{"ok":true}`)}
	worker := NewWorker("w-0", capability, queue, newFakeReviewStore(), &fakeAuditLog{}, &fakeNotifier{}, workerConfig(), logger.Nop())

	claimed, err := worker.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, claimed)

	stored, err := queue.GetByID(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.TaskStatusCompleted, stored.Status)
	assert.JSONEq(t, `{"ok":true}`, string(stored.Result))
	assert.NotNil(t, stored.CompletedAt)
}

func TestCompleteIdempotentWithSameResult(t *testing.T) {
	queue := newFakeTaskQueue()
	task := enqueueTask(t, queue, 5)
	ctx := context.Background()

	_, err := queue.ClaimNext(ctx, repository.CapabilityPostingSuggestion, "w", time.Minute)
	require.NoError(t, err)

	result := json.RawMessage(`{"ok":true}`)
	require.NoError(t, queue.Complete(ctx, task.ID, result))
	require.NoError(t, queue.Complete(ctx, task.ID, result))
}

func TestWorkerRetriesTransientFailure(t *testing.T) {
	queue := newFakeTaskQueue()
	task := enqueueTask(t, queue, 5)

	capability := &recordingCapability{err: apperrors.New(apperrors.ErrCodeUnavailable, "ocr service down")}
	worker := NewWorker("w-0", capability, queue, newFakeReviewStore(), &fakeAuditLog{}, &fakeNotifier{}, workerConfig(), logger.Nop())
	ctx := context.Background()

	// max_retries=3 allows 4 attempts total, then terminal failed.
	for attempt := 1; attempt <= 4; attempt++ {
		claimed, err := worker.RunOnce(ctx)
		require.NoError(t, err)
		require.True(t, claimed, "attempt %d should find the task pending", attempt)
	}
	claimed, err := worker.RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, claimed)

	assert.Equal(t, 4, capability.executions())

	stored, err := queue.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.TaskStatusFailed, stored.Status)
	assert.Equal(t, 3, stored.RetryCount)
}

func TestWorkerFailsPermanentErrorImmediately(t *testing.T) {
	queue := newFakeTaskQueue()
	task := enqueueTask(t, queue, 5)
	reviews := newFakeReviewStore()
	audit := &fakeAuditLog{}
	notifier := &fakeNotifier{}

	capability := &recordingCapability{err: apperrors.InvalidInput("payload", "garbage")}
	worker := NewWorker("w-0", capability, queue, reviews, audit, notifier, workerConfig(), logger.Nop())

	claimed, err := worker.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Equal(t, 1, capability.executions())

	stored, err := queue.GetByID(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.TaskStatusFailed, stored.Status)
	assert.Equal(t, 0, stored.RetryCount)

	// Terminal failure surfaces as a processing_error review item.
	items := reviews.byCategory(repository.IssueProcessingError)
	require.Len(t, items, 1)
	assert.Equal(t, task.ID, items[0].SourceID)

	assert.Contains(t, audit.actions("task"), "failed")
	require.Len(t, notifier.published, 1)
	assert.Equal(t, "task_failed", notifier.published[0].EventType)
}

func TestWorkerTimeoutCountsAsTransient(t *testing.T) {
	queue := newFakeTaskQueue()
	task := enqueueTask(t, queue, 5)

	capability := &recordingCapability{block: time.Second}
	cfg := workerConfig()
	cfg.TaskTimeout = 10 * time.Millisecond
	worker := NewWorker("w-0", capability, queue, newFakeReviewStore(), &fakeAuditLog{}, &fakeNotifier{}, cfg, logger.Nop())

	claimed, err := worker.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, claimed)

	stored, err := queue.GetByID(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.TaskStatusPending, stored.Status)
	assert.Equal(t, 1, stored.RetryCount)
}

func TestReapExpiredReclaimsStuckTask(t *testing.T) {
	queue := newFakeTaskQueue()
	task := enqueueTask(t, queue, 5)
	ctx := context.Background()

	_, err := queue.ClaimNext(ctx, repository.CapabilityPostingSuggestion, "crashed-worker", -time.Second)
	require.NoError(t, err)

	reclaimed, failed, err := queue.ReapExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{task.ID}, reclaimed)
	assert.Empty(t, failed)

	stored, err := queue.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.TaskStatusPending, stored.Status)
	assert.Equal(t, 1, stored.RetryCount)
	assert.Nil(t, stored.ClaimedBy)
}

func TestReapExpiredFailsTaskWithNoRetriesLeft(t *testing.T) {
	queue := newFakeTaskQueue()
	task := enqueueTask(t, queue, 5)
	task.RetryCount = 3 // budget exhausted
	ctx := context.Background()

	_, err := queue.ClaimNext(ctx, repository.CapabilityPostingSuggestion, "crashed-worker", -time.Second)
	require.NoError(t, err)

	reclaimed, failed, err := queue.ReapExpired(ctx)
	require.NoError(t, err)
	assert.Empty(t, reclaimed)
	assert.Equal(t, []string{task.ID}, failed)
}
