package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/glennhaavar-prog/ai-erp-sub003/internal/apperrors"
	"github.com/glennhaavar-prog/ai-erp-sub003/internal/database"
)

// TaskRepository is the durable work queue. The claim is an atomic
// conditional pending→in_progress transition, so two workers racing for the
// same row can never both win.
type TaskRepository struct {
	db *database.DB
}

// NewTaskRepository creates a new TaskRepository.
func NewTaskRepository(db *database.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

// Enqueue inserts a pending task.
func (r *TaskRepository) Enqueue(ctx context.Context, task *Task) error {
	if task.Priority < 1 || task.Priority > 10 {
		return apperrors.InvalidInput("priority", "must be between 1 and 10")
	}

	query := `
		INSERT INTO tasks (tenant_id, agent_capability, task_type, status,
		                   priority, payload, max_retries, parent_task_id)
		VALUES ($1, $2, $3, 'pending', $4, $5, $6, $7)
		RETURNING id, retry_count, created_at
	`

	err := r.db.QueryRow(ctx, query,
		task.TenantID,
		task.Capability,
		task.TaskType,
		task.Priority,
		task.Payload,
		task.MaxRetries,
		task.ParentTaskID,
	).Scan(&task.ID, &task.RetryCount, &task.CreatedAt)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to enqueue task")
	}
	task.Status = TaskStatusPending
	return nil
}

// ClaimNext atomically claims the highest-priority, oldest pending task for a
// capability. FOR UPDATE SKIP LOCKED guarantees at-most-one-claim under
// concurrent workers. Returns nil when no eligible task exists.
func (r *TaskRepository) ClaimNext(ctx context.Context, capability Capability, workerID string, lease time.Duration) (*Task, error) {
	query := `
		UPDATE tasks
		SET status = 'in_progress',
		    started_at = NOW(),
		    claimed_by = $2,
		    lease_expires_at = NOW() + $3
		WHERE id = (
			SELECT id FROM tasks
			WHERE agent_capability = $1 AND status = 'pending'
			ORDER BY priority DESC, created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING id, tenant_id, agent_capability, task_type, status, priority,
		          payload, result, error_message, retry_count, max_retries,
		          parent_task_id, claimed_by, lease_expires_at,
		          created_at, started_at, completed_at
	`

	task, err := scanTask(r.db.QueryRow(ctx, query, capability, workerID, lease))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to claim task")
	}
	return task, nil
}

// Complete marks a task completed and stores its result. Calling it again
// with the same result is a no-op, so a retried completion is safe.
func (r *TaskRepository) Complete(ctx context.Context, id string, result json.RawMessage) error {
	query := `
		UPDATE tasks
		SET status = 'completed',
		    result = $2,
		    completed_at = COALESCE(completed_at, NOW()),
		    lease_expires_at = NULL
		WHERE id = $1
		  AND (status = 'in_progress' OR (status = 'completed' AND result = $2))
	`

	tag, err := r.db.Exec(ctx, query, id, result)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to complete task")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.Newf(apperrors.ErrCodeConflict, "task %s is not in progress", id)
	}
	return nil
}

// Fail records an error on a task. With retry and remaining budget the task
// goes back to pending with retry_count+1; otherwise it reaches terminal
// failed. Returns the resulting status so the caller can escalate terminal
// failures (the queue never drops a task silently).
func (r *TaskRepository) Fail(ctx context.Context, id, errMsg string, retry bool) (string, error) {
	query := `
		UPDATE tasks
		SET error_message = $2,
		    retry_count = CASE WHEN $3 AND retry_count < max_retries THEN retry_count + 1 ELSE retry_count END,
		    status = CASE WHEN $3 AND retry_count < max_retries THEN 'pending' ELSE 'failed' END,
		    completed_at = CASE WHEN $3 AND retry_count < max_retries THEN NULL ELSE NOW() END,
		    started_at = NULL,
		    claimed_by = NULL,
		    lease_expires_at = NULL
		WHERE id = $1 AND status = 'in_progress'
		RETURNING status
	`

	var status string
	err := r.db.QueryRow(ctx, query, id, errMsg, retry).Scan(&status)
	if err == pgx.ErrNoRows {
		return "", apperrors.Newf(apperrors.ErrCodeConflict, "task %s is not in progress", id)
	}
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to fail task")
	}
	return status, nil
}

// ReapExpired reclaims in_progress tasks whose lease has expired back to
// pending, consuming one retry. Tasks that were already on their last retry
// go terminal failed instead. Returns the reclaimed and failed task ids.
func (r *TaskRepository) ReapExpired(ctx context.Context) (reclaimed, failed []string, err error) {
	query := `
		UPDATE tasks
		SET retry_count = CASE WHEN retry_count < max_retries THEN retry_count + 1 ELSE retry_count END,
		    status = CASE WHEN retry_count < max_retries THEN 'pending' ELSE 'failed' END,
		    error_message = 'worker lease expired',
		    completed_at = CASE WHEN retry_count < max_retries THEN NULL ELSE NOW() END,
		    started_at = NULL,
		    claimed_by = NULL,
		    lease_expires_at = NULL
		WHERE status = 'in_progress' AND lease_expires_at < NOW()
		RETURNING id, status
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to reap expired tasks")
	}
	defer rows.Close()

	for rows.Next() {
		var id, status string
		if err := rows.Scan(&id, &status); err != nil {
			return nil, nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan reaped task")
		}
		if status == TaskStatusPending {
			reclaimed = append(reclaimed, id)
		} else {
			failed = append(failed, id)
		}
	}
	return reclaimed, failed, nil
}

// GetByID retrieves a task.
func (r *TaskRepository) GetByID(ctx context.Context, id string) (*Task, error) {
	query := `
		SELECT id, tenant_id, agent_capability, task_type, status, priority,
		       payload, result, error_message, retry_count, max_retries,
		       parent_task_id, claimed_by, lease_expires_at,
		       created_at, started_at, completed_at
		FROM tasks
		WHERE id = $1
	`

	task, err := scanTask(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, apperrors.NotFound("task", id)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to get task")
	}
	return task, nil
}

// List returns tasks for a tenant filtered by optional status, newest first.
func (r *TaskRepository) List(ctx context.Context, tenantID string, status *string, limit, offset int) ([]*Task, error) {
	query := `
		SELECT id, tenant_id, agent_capability, task_type, status, priority,
		       payload, result, error_message, retry_count, max_retries,
		       parent_task_id, claimed_by, lease_expires_at,
		       created_at, started_at, completed_at
		FROM tasks
		WHERE tenant_id = $1
	`
	args := []any{tenantID}
	if status != nil {
		query += " AND status = $2 ORDER BY created_at DESC LIMIT $3 OFFSET $4"
		args = append(args, *status, limit, offset)
	} else {
		query += " ORDER BY created_at DESC LIMIT $2 OFFSET $3"
		args = append(args, limit, offset)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to list tasks")
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan task")
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(sc rowScanner) (*Task, error) {
	task := &Task{}
	err := sc.Scan(
		&task.ID,
		&task.TenantID,
		&task.Capability,
		&task.TaskType,
		&task.Status,
		&task.Priority,
		&task.Payload,
		&task.Result,
		&task.ErrorMessage,
		&task.RetryCount,
		&task.MaxRetries,
		&task.ParentTaskID,
		&task.ClaimedBy,
		&task.LeaseExpiresAt,
		&task.CreatedAt,
		&task.StartedAt,
		&task.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return task, nil
}
