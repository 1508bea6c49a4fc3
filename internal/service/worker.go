package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/glennhaavar-prog/ai-erp-sub003/internal/apperrors"
	"github.com/glennhaavar-prog/ai-erp-sub003/internal/logger"
	"github.com/glennhaavar-prog/ai-erp-sub003/internal/repository"
)

// AgentCapability is one executable agent behavior bound to a capability
// name. Execute returns the task result on success. Errors coded unavailable
// (or deadline exceeded) are treated as transient and retried through the
// queue; everything else fails the task permanently.
type AgentCapability interface {
	Name() repository.Capability
	Execute(ctx context.Context, task *repository.Task) (json.RawMessage, error)
}

// WorkerConfig tunes a worker's poll loop.
type WorkerConfig struct {
	PollInterval  time.Duration
	TaskTimeout   time.Duration
	LeaseDuration time.Duration
}

// Worker is a single-threaded claim→execute→complete/fail loop bound to one
// capability. Workers share no in-process state; the task queue is the only
// synchronization point, so any number of workers may run per capability.
type Worker struct {
	id         string
	capability AgentCapability
	queue      TaskQueue
	reviews    ReviewStore
	audit      AuditLog
	notifier   Notifier
	cfg        WorkerConfig
	log        *logger.Logger
}

// NewWorker creates a worker for one capability.
func NewWorker(id string, capability AgentCapability, queue TaskQueue, reviews ReviewStore, audit AuditLog, notifier Notifier, cfg WorkerConfig, log *logger.Logger) *Worker {
	return &Worker{
		id:         id,
		capability: capability,
		queue:      queue,
		reviews:    reviews,
		audit:      audit,
		notifier:   notifier,
		cfg:        cfg,
		log:        log,
	}
}

// Run polls for tasks until the context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	w.log.Info().
		Str("worker_id", w.id).
		Str("capability", string(w.capability.Name())).
		Msg("Worker started")

	for {
		claimed, err := w.RunOnce(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			w.log.Error().Err(err).Str("worker_id", w.id).Msg("Worker pass failed")
		}

		if claimed {
			// Keep draining while there is work.
			select {
			case <-ctx.Done():
				w.log.Info().Str("worker_id", w.id).Msg("Worker stopped")
				return
			default:
				continue
			}
		}

		select {
		case <-ctx.Done():
			w.log.Info().Str("worker_id", w.id).Msg("Worker stopped")
			return
		case <-time.After(w.cfg.PollInterval):
		}
	}
}

// RunOnce claims and executes at most one task. Returns whether a task was
// claimed.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	task, err := w.queue.ClaimNext(ctx, w.capability.Name(), w.id, w.cfg.LeaseDuration)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}

	w.log.Debug().
		Str("worker_id", w.id).
		Str("task_id", task.ID).
		Str("task_type", task.TaskType).
		Int("retry_count", task.RetryCount).
		Msg("Task claimed")

	execCtx, cancel := context.WithTimeout(ctx, w.cfg.TaskTimeout)
	result, execErr := w.capability.Execute(execCtx, task)
	cancel()

	if execErr != nil {
		w.handleFailure(ctx, task, execErr)
		return true, nil
	}

	if err := w.queue.Complete(ctx, task.ID, result); err != nil {
		return true, err
	}

	w.log.Info().
		Str("worker_id", w.id).
		Str("task_id", task.ID).
		Str("task_type", task.TaskType).
		Msg("Task completed")

	return true, nil
}

// handleFailure routes an execution error through the retry taxonomy:
// transient errors consume a retry, everything else is terminal. A task that
// reaches terminal failed is escalated as a processing_error review item;
// the queue never drops work silently.
func (w *Worker) handleFailure(ctx context.Context, task *repository.Task, execErr error) {
	retry := apperrors.IsTransient(execErr) || errors.Is(execErr, context.DeadlineExceeded)

	status, err := w.queue.Fail(ctx, task.ID, execErr.Error(), retry)
	if err != nil {
		w.log.Error().Err(err).Str("task_id", task.ID).Msg("Failed to record task failure")
		return
	}

	w.log.Warn().
		Err(execErr).
		Str("worker_id", w.id).
		Str("task_id", task.ID).
		Str("status", status).
		Bool("retried", status == repository.TaskStatusPending).
		Msg("Task execution failed")

	if status == repository.TaskStatusFailed {
		w.escalateTerminalFailure(ctx, task, execErr.Error())
	}
}

func (w *Worker) escalateTerminalFailure(ctx context.Context, task *repository.Task, errMsg string) {
	details := fmt.Sprintf("task %s (%s) failed after %d attempts: %s",
		task.ID, task.TaskType, task.RetryCount+1, errMsg)

	item := &repository.ReviewItem{
		TenantID:      task.TenantID,
		SourceType:    "task",
		SourceID:      task.ID,
		Priority:      8,
		IssueCategory: repository.IssueProcessingError,
		Details:       &details,
	}
	if err := w.reviews.Create(ctx, item); err != nil {
		w.log.Error().Err(err).Str("task_id", task.ID).Msg("Failed to create processing_error review item")
		return
	}

	if err := w.audit.Append(ctx, &repository.AuditEntry{
		TenantID:      task.TenantID,
		SubjectID:     task.ID,
		SubjectType:   "task",
		Action:        "failed",
		PerformerKind: repository.PerformerAutomation,
		Details: map[string]any{
			"review_item_id": item.ID,
			"error":          errMsg,
		},
	}); err != nil {
		w.log.Warn().Err(err).Str("task_id", task.ID).Msg("Failed to write audit log entry")
	}

	if w.notifier != nil {
		w.notifier.Publish(ctx, "task_failed", task.TenantID, "task", task.ID, map[string]any{
			"task_type":      task.TaskType,
			"review_item_id": item.ID,
			"error":          errMsg,
		})
	}
}

// ── Worker pool ──────────────────────────────────────────────────────────────

// WorkerPool runs N workers per registered capability plus the lease reaper.
type WorkerPool struct {
	queue          TaskQueue
	reviews        ReviewStore
	audit          AuditLog
	notifier       Notifier
	capabilities   []AgentCapability
	workersPerCap  int
	cfg            WorkerConfig
	reaperInterval time.Duration
	instance       string
	log            *logger.Logger
}

// NewWorkerPool creates a pool.
func NewWorkerPool(
	queue TaskQueue,
	reviews ReviewStore,
	audit AuditLog,
	notifier Notifier,
	capabilities []AgentCapability,
	workersPerCap int,
	cfg WorkerConfig,
	reaperInterval time.Duration,
	log *logger.Logger,
) *WorkerPool {
	return &WorkerPool{
		queue:          queue,
		reviews:        reviews,
		audit:          audit,
		notifier:       notifier,
		capabilities:   capabilities,
		workersPerCap:  workersPerCap,
		cfg:            cfg,
		reaperInterval: reaperInterval,
		instance:       uuid.NewString()[:8],
		log:            log,
	}
}

// Run starts all workers and the reaper, blocking until the context is
// cancelled and every loop has returned.
func (p *WorkerPool) Run(ctx context.Context) {
	done := make(chan struct{})
	count := 0

	for _, capability := range p.capabilities {
		for i := 0; i < p.workersPerCap; i++ {
			// claimed_by must stay unique across replicas of this
			// process, so the pool carries a per-process instance id.
			workerID := fmt.Sprintf("%s-%s-%d", capability.Name(), p.instance, i)
			worker := NewWorker(workerID, capability, p.queue, p.reviews, p.audit, p.notifier, p.cfg, p.log)
			count++
			go func() {
				worker.Run(ctx)
				done <- struct{}{}
			}()
		}
	}

	count++
	go func() {
		p.runReaper(ctx)
		done <- struct{}{}
	}()

	for i := 0; i < count; i++ {
		<-done
	}
}

// runReaper periodically reclaims tasks whose lease expired (crashed or hung
// worker) back to pending, and escalates tasks that had no retries left.
func (p *WorkerPool) runReaper(ctx context.Context) {
	p.log.Info().Dur("interval", p.reaperInterval).Msg("Task reaper started")

	ticker := time.NewTicker(p.reaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info().Msg("Task reaper stopped")
			return
		case <-ticker.C:
		}

		reclaimed, failed, err := p.queue.ReapExpired(ctx)
		if err != nil {
			p.log.Error().Err(err).Msg("Reaper pass failed")
			continue
		}
		if len(reclaimed) > 0 {
			p.log.Warn().
				Int("count", len(reclaimed)).
				Strs("task_ids", reclaimed).
				Msg("Reclaimed tasks with expired leases")
		}

		for _, id := range failed {
			task, err := p.queue.GetByID(ctx, id)
			if err != nil {
				p.log.Error().Err(err).Str("task_id", id).Msg("Failed to load reaped task")
				continue
			}
			reaper := &Worker{
				id:       "reaper",
				queue:    p.queue,
				reviews:  p.reviews,
				audit:    p.audit,
				notifier: p.notifier,
				log:      p.log,
			}
			reaper.escalateTerminalFailure(ctx, task, "worker lease expired with no retries left")
		}
	}
}
