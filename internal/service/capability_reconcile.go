package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/glennhaavar-prog/ai-erp-sub003/internal/apperrors"
	"github.com/glennhaavar-prog/ai-erp-sub003/internal/logger"
	"github.com/glennhaavar-prog/ai-erp-sub003/internal/repository"
)

// bankTransactionPayload is the payload of a bank_transaction.received event.
type bankTransactionPayload struct {
	ClientID      string `json:"client_id"`
	TransactionID string `json:"transaction_id"`
	Amount        int64  `json:"amount"` // cents, positive for outgoing payments
	Date          string `json:"date"`   // YYYY-MM-DD
	Description   string `json:"description,omitempty"`
	Counterparty  string `json:"counterparty,omitempty"`
}

// reconcileResult is the task result of a reconciliation run.
type reconcileResult struct {
	Matched      bool   `json:"matched"`
	VoucherID    string `json:"voucher_id,omitempty"`
	Candidates   int    `json:"candidates"`
	ReviewItemID string `json:"review_item_id,omitempty"`
}

// candidateLimit caps how many amount matches reconciliation inspects; more
// than one is already ambiguous.
const candidateLimit = 5

// ReconciliationCapability matches incoming bank transactions against
// committed vouchers by amount. Exactly one candidate is a match; zero or
// several park the transaction in the review queue for a human to settle.
type ReconciliationCapability struct {
	ledger   LedgerSearch
	reviews  ReviewStore
	audit    AuditLog
	notifier Notifier
	log      *logger.Logger
}

func NewReconciliationCapability(ledger LedgerSearch, reviews ReviewStore, audit AuditLog, notifier Notifier, log *logger.Logger) *ReconciliationCapability {
	return &ReconciliationCapability{
		ledger:   ledger,
		reviews:  reviews,
		audit:    audit,
		notifier: notifier,
		log:      log,
	}
}

func (c *ReconciliationCapability) Name() repository.Capability {
	return repository.CapabilityReconciliation
}

func (c *ReconciliationCapability) Execute(ctx context.Context, task *repository.Task) (json.RawMessage, error) {
	var tx bankTransactionPayload
	if err := json.Unmarshal(task.Payload, &tx); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "invalid bank_transaction.received payload")
	}
	if tx.ClientID == "" || tx.TransactionID == "" {
		return nil, apperrors.InvalidInput("payload", "client_id and transaction_id are required")
	}
	if tx.Amount <= 0 {
		return nil, apperrors.InvalidInput("amount", "must be positive")
	}

	candidates, err := c.ledger.FindByCreditTotal(ctx, tx.ClientID, tx.Amount, candidateLimit)
	if err != nil {
		return nil, err
	}

	if len(candidates) != 1 {
		return c.park(ctx, task, &tx, len(candidates))
	}

	voucher := candidates[0]
	if err := c.audit.Append(ctx, &repository.AuditEntry{
		TenantID:      task.TenantID,
		SubjectID:     voucher.ID,
		SubjectType:   "voucher",
		Action:        "matched",
		PerformerKind: repository.PerformerAutomation,
		Details: map[string]any{
			"transaction_id": tx.TransactionID,
			"amount":         tx.Amount,
			"date":           tx.Date,
		},
	}); err != nil {
		c.log.Warn().Err(err).Str("voucher_id", voucher.ID).Msg("Failed to write audit log entry")
	}

	c.log.Info().
		Str("task_id", task.ID).
		Str("transaction_id", tx.TransactionID).
		Str("voucher_id", voucher.ID).
		Int64("amount", tx.Amount).
		Msg("Bank transaction matched to voucher")

	return mustJSON(reconcileResult{
		Matched:    true,
		VoucherID:  voucher.ID,
		Candidates: 1,
	}), nil
}

func (c *ReconciliationCapability) park(ctx context.Context, task *repository.Task, tx *bankTransactionPayload, candidates int) (json.RawMessage, error) {
	detail := fmt.Sprintf("transaction %s for %d cents on %s matched %d vouchers",
		tx.TransactionID, tx.Amount, tx.Date, candidates)

	item := &repository.ReviewItem{
		TenantID:      task.TenantID,
		SourceType:    "bank_transaction",
		SourceID:      tx.TransactionID,
		Priority:      task.Priority,
		IssueCategory: repository.IssueUnmatchedTx,
		AISuggestion:  task.Payload,
		Details:       &detail,
	}
	if err := c.reviews.Create(ctx, item); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to create review item")
	}

	if c.notifier != nil {
		c.notifier.Publish(ctx, "review_item_created", task.TenantID, "review_item", item.ID, map[string]any{
			"issue_category": repository.IssueUnmatchedTx,
			"transaction_id": tx.TransactionID,
		})
	}

	c.log.Info().
		Str("task_id", task.ID).
		Str("transaction_id", tx.TransactionID).
		Int("candidates", candidates).
		Str("review_item_id", item.ID).
		Msg("Bank transaction parked for review")

	return mustJSON(reconcileResult{
		Matched:      false,
		Candidates:   candidates,
		ReviewItemID: item.ID,
	}), nil
}
