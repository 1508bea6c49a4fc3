package service

import (
	"context"
	"time"

	"github.com/glennhaavar-prog/ai-erp-sub003/internal/apperrors"
	"github.com/glennhaavar-prog/ai-erp-sub003/internal/logger"
	"github.com/glennhaavar-prog/ai-erp-sub003/internal/repository"
)

// Orchestrator turns unprocessed domain events into queued tasks. Several
// orchestrators may scan the same backlog; the processed flag doubles as the
// claim, so each event is dispatched by exactly one of them.
type Orchestrator struct {
	events EventLog
	tasks  TaskQueue
	audit  AuditLog
	log    *logger.Logger

	pollInterval time.Duration
	batchSize    int
	maxRetries   int
}

// NewOrchestrator creates a new Orchestrator.
func NewOrchestrator(
	events EventLog,
	tasks TaskQueue,
	audit AuditLog,
	log *logger.Logger,
	pollInterval time.Duration,
	batchSize int,
	maxRetries int,
) *Orchestrator {
	return &Orchestrator{
		events:       events,
		tasks:        tasks,
		audit:        audit,
		log:          log,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		maxRetries:   maxRetries,
	}
}

// Run polls the event log until the context is cancelled.
func (o *Orchestrator) Run(ctx context.Context) {
	o.log.Info().Dur("poll_interval", o.pollInterval).Msg("Orchestrator started")

	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for {
		if n, err := o.ProcessOnce(ctx); err != nil {
			o.log.Error().Err(err).Msg("Orchestrator pass failed")
		} else if n > 0 {
			// Drain immediately while there is a backlog.
			continue
		}

		select {
		case <-ctx.Done():
			o.log.Info().Msg("Orchestrator stopped")
			return
		case <-ticker.C:
		}
	}
}

// ProcessOnce drains one batch of unprocessed events into tasks. Returns the
// number of events handled.
func (o *Orchestrator) ProcessOnce(ctx context.Context) (int, error) {
	events, err := o.events.ListUnprocessed(ctx, o.batchSize)
	if err != nil {
		return 0, err
	}

	for _, ev := range events {
		if err := o.dispatch(ctx, ev); err != nil {
			return 0, err
		}
	}
	return len(events), nil
}

// dispatch claims the event by flipping its processed flag, then enqueues
// the task it maps to. The flip happens at most once, so of several
// orchestrators scanning the same backlog only the winner enqueues. Unknown
// event types are claimed with a warning so they never poison the scan loop.
func (o *Orchestrator) dispatch(ctx context.Context, ev *repository.Event) error {
	capability, taskType, ok := routeEvent(ev.Type)
	if !ok {
		o.log.Warn().
			Str("event_id", ev.ID).
			Str("event_type", ev.Type).
			Msg("No task mapping for event type; marking processed")
		if err := o.events.MarkProcessed(ctx, ev.ID); err != nil && apperrors.Code(err) != apperrors.ErrCodeConflict {
			return err
		}
		return nil
	}

	if err := o.events.MarkProcessed(ctx, ev.ID); err != nil {
		if apperrors.Code(err) == apperrors.ErrCodeConflict {
			o.log.Debug().Str("event_id", ev.ID).Msg("Event already claimed by another orchestrator")
			return nil
		}
		return err
	}

	task := &repository.Task{
		TenantID:   ev.TenantID,
		Capability: capability,
		TaskType:   taskType,
		Priority:   5,
		Payload:    ev.Payload,
		MaxRetries: o.maxRetries,
	}
	if err := o.tasks.Enqueue(ctx, task); err != nil {
		return err
	}

	if err := o.audit.Append(ctx, &repository.AuditEntry{
		TenantID:      ev.TenantID,
		SubjectID:     task.ID,
		SubjectType:   "task",
		Action:        "created",
		PerformerKind: repository.PerformerAutomation,
		Details: map[string]any{
			"event_id":   ev.ID,
			"event_type": ev.Type,
			"capability": string(capability),
		},
	}); err != nil {
		o.log.Warn().Err(err).Str("task_id", task.ID).Msg("Failed to write audit log entry")
	}

	o.log.Info().
		Str("event_id", ev.ID).
		Str("event_type", ev.Type).
		Str("task_id", task.ID).
		Str("capability", string(capability)).
		Msg("Event dispatched to task")

	return nil
}

// routeEvent maps an event type to the capability and task type that handles
// it.
func routeEvent(eventType string) (repository.Capability, string, bool) {
	switch eventType {
	case repository.EventDocumentReceived:
		return repository.CapabilityInvoiceParsing, "parse_document", true
	case repository.EventDocumentParsed:
		return repository.CapabilityPostingSuggestion, "suggest_posting", true
	case repository.EventCorrectionRecorded:
		return repository.CapabilityLearning, "synthesize_patterns", true
	case repository.EventBankTransactionReceived:
		return repository.CapabilityReconciliation, "match_transaction", true
	}
	return "", "", false
}
