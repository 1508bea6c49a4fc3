package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/glennhaavar-prog/ai-erp-sub003/internal/repository"
)

// Storage interfaces consumed by the engine services. The pgx repositories
// satisfy them; tests substitute in-memory fakes.

// TaskQueue is the durable work queue contract.
type TaskQueue interface {
	Enqueue(ctx context.Context, task *repository.Task) error
	ClaimNext(ctx context.Context, capability repository.Capability, workerID string, lease time.Duration) (*repository.Task, error)
	Complete(ctx context.Context, id string, result json.RawMessage) error
	Fail(ctx context.Context, id, errMsg string, retry bool) (string, error)
	ReapExpired(ctx context.Context) (reclaimed, failed []string, err error)
	GetByID(ctx context.Context, id string) (*repository.Task, error)
}

// EventLog is the append-only domain event log.
type EventLog interface {
	Append(ctx context.Context, ev *repository.Event) error
	ListUnprocessed(ctx context.Context, limit int) ([]*repository.Event, error)
	MarkProcessed(ctx context.Context, id string) error
}

// DecisionStore holds agent decisions and feedback.
type DecisionStore interface {
	Create(ctx context.Context, d *repository.Decision) error
	RecordFeedback(ctx context.Context, id string, correct bool, correctedDecision json.RawMessage, notes *string) error
	GetByID(ctx context.Context, id string) (*repository.Decision, error)
	GetCounterpartyStats(ctx context.Context, tenantID, counterparty string) (*repository.CounterpartyStats, error)
}

// ReviewStore holds the human review queue.
type ReviewStore interface {
	Create(ctx context.Context, item *repository.ReviewItem) error
	GetByID(ctx context.Context, id string) (*repository.ReviewItem, error)
	Resolve(ctx context.Context, id, status, resolvedBy string, note *string, applyToSimilar bool) error
	ListPending(ctx context.Context, tenantID string, limit, offset int) ([]*repository.ReviewItem, error)
}

// CorrectionStore holds human corrections for pattern synthesis.
type CorrectionStore interface {
	Create(ctx context.Context, c *repository.Correction) error
	ListGroupsReady(ctx context.Context, tenantID string, minCount int) ([]*repository.SimilarityGroup, error)
	ListByKey(ctx context.Context, tenantID, similarityKey string) ([]*repository.Correction, error)
	MarkConsumed(ctx context.Context, ids []string) error
}

// PatternStore holds learned decision patterns.
type PatternStore interface {
	Create(ctx context.Context, p *repository.Pattern) error
	ListActive(ctx context.Context, clientID string) ([]*repository.Pattern, error)
	FindByTriggerCounterparty(ctx context.Context, counterparty string) (*repository.Pattern, error)
	UpdateAction(ctx context.Context, id string, action repository.PatternAction, fromDecisions []string) error
	RecordApplication(ctx context.Context, id string, correct bool) (*repository.Pattern, error)
	Deactivate(ctx context.Context, id string) error
}

// VoucherStore persists committed vouchers.
type VoucherStore interface {
	Create(ctx context.Context, voucher *repository.Voucher) error
	GetByID(ctx context.Context, id string) (*repository.Voucher, error)
}

// LedgerSearch finds committed vouchers by amount for reconciliation.
type LedgerSearch interface {
	FindByCreditTotal(ctx context.Context, clientID string, amount int64, limit int) ([]*repository.Voucher, error)
}

// AccountDirectory reads the chart of accounts.
type AccountDirectory interface {
	ActiveCodes(ctx context.Context, clientID string) (map[string]bool, error)
}

// PeriodLocks reads the period lock flags.
type PeriodLocks interface {
	IsClosed(ctx context.Context, clientID string, fiscalYear, period int) (bool, error)
}

// ClientDirectory reads tenant clients.
type ClientDirectory interface {
	GetByID(ctx context.Context, id string) (*repository.Client, error)
}

// AuditLog appends immutable audit entries.
type AuditLog interface {
	Append(ctx context.Context, entry *repository.AuditEntry) error
}

// Notifier publishes fire-and-forget notifications.
type Notifier interface {
	Publish(ctx context.Context, eventType, tenantID, resourceType, resourceID string, payload map[string]any)
}

// PostingEngine is the confidence-gated commit surface exposed to workers
// and the review service.
type PostingEngine interface {
	Propose(ctx context.Context, draft *VoucherDraft) (string, error)
}
