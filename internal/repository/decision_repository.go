package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/glennhaavar-prog/ai-erp-sub003/internal/apperrors"
	"github.com/glennhaavar-prog/ai-erp-sub003/internal/database"
)

// DecisionRepository stores agent decisions and their human feedback, and
// serves the history queries the confidence signals are computed from.
type DecisionRepository struct {
	db *database.DB
}

// NewDecisionRepository creates a new DecisionRepository.
func NewDecisionRepository(db *database.DB) *DecisionRepository {
	return &DecisionRepository{db: db}
}

// Create inserts a decision. Decisions are write-once except the feedback
// fields, appended via RecordFeedback when a review item resolves.
func (r *DecisionRepository) Create(ctx context.Context, d *Decision) error {
	query := `
		INSERT INTO decisions (tenant_id, agent_capability, source_type, source_id,
		                       input_data, decision, confidence_score, reasoning, patterns_used)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at
	`

	err := r.db.QueryRow(ctx, query,
		d.TenantID,
		d.Capability,
		d.SourceType,
		d.SourceID,
		d.InputData,
		d.Decision,
		d.ConfidenceScore,
		d.Reasoning,
		d.PatternsUsed,
	).Scan(&d.ID, &d.CreatedAt)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to create decision")
	}
	return nil
}

// RecordFeedback appends human feedback to a decision exactly once.
func (r *DecisionRepository) RecordFeedback(ctx context.Context, id string, correct bool, correctedDecision json.RawMessage, notes *string) error {
	query := `
		UPDATE decisions
		SET feedback_correct = $2,
		    corrected_decision = $3,
		    feedback_notes = $4
		WHERE id = $1 AND feedback_correct IS NULL
	`

	tag, err := r.db.Exec(ctx, query, id, correct, correctedDecision, notes)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to record decision feedback")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.Newf(apperrors.ErrCodeConflict, "decision %s already has feedback or does not exist", id)
	}
	return nil
}

// GetByID retrieves a decision.
func (r *DecisionRepository) GetByID(ctx context.Context, id string) (*Decision, error) {
	query := `
		SELECT id, tenant_id, agent_capability, source_type, source_id,
		       input_data, decision, confidence_score, reasoning, patterns_used,
		       feedback_correct, corrected_decision, feedback_notes, created_at
		FROM decisions
		WHERE id = $1
	`

	d := &Decision{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&d.ID,
		&d.TenantID,
		&d.Capability,
		&d.SourceType,
		&d.SourceID,
		&d.InputData,
		&d.Decision,
		&d.ConfidenceScore,
		&d.Reasoning,
		&d.PatternsUsed,
		&d.FeedbackCorrect,
		&d.CorrectedDecision,
		&d.FeedbackNotes,
		&d.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, apperrors.NotFound("decision", id)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to get decision")
	}
	return d, nil
}

// CounterpartyStats summarizes a tenant's posting history with one
// counterparty. Feeds the familiarity and plausibility signals.
type CounterpartyStats struct {
	DecisionCount   int
	CorrectCount    int
	AvgAmount       int64 // cents, mean of historical absolute amounts
	TopDebitAccount *string
}

// GetCounterpartyStats aggregates prior posting-suggestion decisions that
// named the given counterparty in their input data. The JSON keys here are
// the document.parsed payload fields the suggestion capability stores as
// input_data: counterparty and gross_amount.
func (r *DecisionRepository) GetCounterpartyStats(ctx context.Context, tenantID, counterparty string) (*CounterpartyStats, error) {
	query := `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE feedback_correct = TRUE),
		       COALESCE(AVG((input_data->>'gross_amount')::BIGINT), 0)::BIGINT,
		       MODE() WITHIN GROUP (ORDER BY decision->>'debit_account')
		FROM decisions
		WHERE tenant_id = $1
		  AND agent_capability = 'posting_suggestion'
		  AND LOWER(input_data->>'counterparty') = LOWER($2)
	`

	stats := &CounterpartyStats{}
	err := r.db.QueryRow(ctx, query, tenantID, counterparty).Scan(
		&stats.DecisionCount,
		&stats.CorrectCount,
		&stats.AvgAmount,
		&stats.TopDebitAccount,
	)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to get counterparty stats")
	}
	return stats, nil
}
