package repository

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/glennhaavar-prog/ai-erp-sub003/internal/apperrors"
	"github.com/glennhaavar-prog/ai-erp-sub003/internal/database"
)

// PatternRepository stores learned decision patterns. Triggers and actions
// are JSONB; matching is evaluated in Go to keep the SQL simple. Application
// statistics are updated with a single atomic statement so concurrent
// outcomes never lose updates.
type PatternRepository struct {
	db *database.DB
}

// NewPatternRepository creates a new PatternRepository.
func NewPatternRepository(db *database.DB) *PatternRepository {
	return &PatternRepository{db: db}
}

// Create inserts a new active pattern.
func (r *PatternRepository) Create(ctx context.Context, p *Pattern) error {
	triggerJSON, err := json.Marshal(p.Trigger)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to marshal pattern trigger")
	}
	actionJSON, err := json.Marshal(p.Action)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to marshal pattern action")
	}

	query := `
		INSERT INTO patterns (pattern_type, trigger_predicate, action, scope, client_ids,
		                      success_rate, times_applied, times_correct, times_incorrect,
		                      confidence_boost, is_active, created_from_decisions)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at, updated_at
	`

	err = r.db.QueryRow(ctx, query,
		p.PatternType,
		triggerJSON,
		actionJSON,
		p.Scope,
		p.ClientIDs,
		p.SuccessRate,
		p.TimesApplied,
		p.TimesCorrect,
		p.TimesIncorrect,
		p.ConfidenceBoost,
		p.IsActive,
		p.CreatedFrom,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to create pattern")
	}
	return nil
}

// GetByID retrieves a pattern.
func (r *PatternRepository) GetByID(ctx context.Context, id string) (*Pattern, error) {
	query := patternSelect + ` WHERE id = $1`

	p, err := r.scanPattern(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, apperrors.NotFound("pattern", id)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to get pattern")
	}
	return p, nil
}

// ListActive returns all active patterns visible to a client: global patterns
// plus client_set patterns naming the client.
func (r *PatternRepository) ListActive(ctx context.Context, clientID string) ([]*Pattern, error) {
	query := patternSelect + `
		WHERE is_active = TRUE
		  AND (scope = 'global' OR $1 = ANY(client_ids))
		ORDER BY created_at ASC
	`

	rows, err := r.db.Query(ctx, query, clientID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to list active patterns")
	}
	defer rows.Close()

	var patterns []*Pattern
	for rows.Next() {
		p, err := r.scanPattern(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan pattern")
		}
		patterns = append(patterns, p)
	}
	return patterns, nil
}

// FindByTriggerCounterparty looks up an existing pattern for a counterparty,
// active or not, so synthesis updates in place instead of duplicating.
func (r *PatternRepository) FindByTriggerCounterparty(ctx context.Context, counterparty string) (*Pattern, error) {
	query := patternSelect + `
		WHERE LOWER(trigger_predicate->>'counterparty') = LOWER($1)
		LIMIT 1
	`

	p, err := r.scanPattern(r.db.QueryRow(ctx, query, counterparty))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to find pattern by counterparty")
	}
	return p, nil
}

// UpdateAction replaces a pattern's action and reactivates it, folding in the
// decisions it was re-learned from.
func (r *PatternRepository) UpdateAction(ctx context.Context, id string, action PatternAction, fromDecisions []string) error {
	actionJSON, err := json.Marshal(action)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to marshal pattern action")
	}

	query := `
		UPDATE patterns
		SET action = $2,
		    is_active = TRUE,
		    created_from_decisions = created_from_decisions || $3,
		    updated_at = NOW()
		WHERE id = $1
	`

	tag, err := r.db.Exec(ctx, query, id, actionJSON, fromDecisions)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to update pattern action")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("pattern", id)
	}
	return nil
}

// RecordApplication registers one application outcome and recomputes the
// success rate in the same statement. Returns the updated counters so the
// caller can apply the deactivation policy.
func (r *PatternRepository) RecordApplication(ctx context.Context, id string, correct bool) (*Pattern, error) {
	query := `
		UPDATE patterns
		SET times_applied = times_applied + 1,
		    times_correct = times_correct + CASE WHEN $2 THEN 1 ELSE 0 END,
		    times_incorrect = times_incorrect + CASE WHEN $2 THEN 0 ELSE 1 END,
		    success_rate = (times_correct + CASE WHEN $2 THEN 1 ELSE 0 END)::DOUBLE PRECISION / (times_applied + 1),
		    updated_at = NOW()
		WHERE id = $1
		RETURNING id, success_rate, times_applied, times_correct, times_incorrect, is_active
	`

	p := &Pattern{}
	err := r.db.QueryRow(ctx, query, id, correct).Scan(
		&p.ID, &p.SuccessRate, &p.TimesApplied, &p.TimesCorrect, &p.TimesIncorrect, &p.IsActive,
	)
	if err == pgx.ErrNoRows {
		return nil, apperrors.NotFound("pattern", id)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to record pattern application")
	}
	return p, nil
}

// Deactivate turns a pattern off. Already-inactive patterns are left alone.
func (r *PatternRepository) Deactivate(ctx context.Context, id string) error {
	query := `
		UPDATE patterns
		SET is_active = FALSE, updated_at = NOW()
		WHERE id = $1 AND is_active = TRUE
	`

	if _, err := r.db.Exec(ctx, query, id); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to deactivate pattern")
	}
	return nil
}

// Matches reports whether a pattern's trigger matches the given decision
// inputs. Counterparty comparison is case-insensitive; amount bounds are
// inclusive when set.
func (p *Pattern) Matches(counterparty string, amount int64) bool {
	if p.Trigger.Counterparty != "" &&
		!strings.EqualFold(p.Trigger.Counterparty, counterparty) {
		return false
	}
	if p.Trigger.MinAmount != nil && amount < *p.Trigger.MinAmount {
		return false
	}
	if p.Trigger.MaxAmount != nil && amount > *p.Trigger.MaxAmount {
		return false
	}
	return true
}

const patternSelect = `
	SELECT id, pattern_type, trigger_predicate, action, scope, client_ids,
	       success_rate, times_applied, times_correct, times_incorrect,
	       confidence_boost, is_active, created_from_decisions, created_at, updated_at
	FROM patterns
`

func (r *PatternRepository) scanPattern(sc rowScanner) (*Pattern, error) {
	p := &Pattern{}
	var triggerJSON, actionJSON []byte

	err := sc.Scan(
		&p.ID,
		&p.PatternType,
		&triggerJSON,
		&actionJSON,
		&p.Scope,
		&p.ClientIDs,
		&p.SuccessRate,
		&p.TimesApplied,
		&p.TimesCorrect,
		&p.TimesIncorrect,
		&p.ConfidenceBoost,
		&p.IsActive,
		&p.CreatedFrom,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(triggerJSON, &p.Trigger); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to unmarshal pattern trigger")
	}
	if err := json.Unmarshal(actionJSON, &p.Action); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to unmarshal pattern action")
	}
	return p, nil
}
