package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/glennhaavar-prog/ai-erp-sub003/internal/apperrors"
	"github.com/glennhaavar-prog/ai-erp-sub003/internal/database"
)

// PeriodRepository manages the (fiscal_year, period) lock flags. A period
// row only exists once someone closes it; absent rows are open.
type PeriodRepository struct {
	db *database.DB
}

// NewPeriodRepository creates a new PeriodRepository.
func NewPeriodRepository(db *database.DB) *PeriodRepository {
	return &PeriodRepository{db: db}
}

// IsClosed reports whether the period is locked for posting.
func (r *PeriodRepository) IsClosed(ctx context.Context, clientID string, fiscalYear, period int) (bool, error) {
	query := `
		SELECT is_closed
		FROM accounting_periods
		WHERE client_id = $1 AND fiscal_year = $2 AND period = $3
	`

	var closed bool
	err := r.db.QueryRow(ctx, query, clientID, fiscalYear, period).Scan(&closed)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to check period lock")
	}
	return closed, nil
}

// Close locks a period. Idempotent: closing a closed period keeps the
// original closer.
func (r *PeriodRepository) Close(ctx context.Context, clientID string, fiscalYear, period int, closedBy string) error {
	query := `
		INSERT INTO accounting_periods (client_id, fiscal_year, period, is_closed, closed_by, closed_at)
		VALUES ($1, $2, $3, TRUE, $4, NOW())
		ON CONFLICT (client_id, fiscal_year, period)
		DO UPDATE SET is_closed = TRUE,
		              closed_by = COALESCE(accounting_periods.closed_by, EXCLUDED.closed_by),
		              closed_at = COALESCE(accounting_periods.closed_at, EXCLUDED.closed_at)
	`

	if _, err := r.db.Exec(ctx, query, clientID, fiscalYear, period, closedBy); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to close period")
	}
	return nil
}

// Reopen unlocks a period.
func (r *PeriodRepository) Reopen(ctx context.Context, clientID string, fiscalYear, period int) error {
	query := `
		UPDATE accounting_periods
		SET is_closed = FALSE, closed_by = NULL, closed_at = NULL
		WHERE client_id = $1 AND fiscal_year = $2 AND period = $3
	`

	if _, err := r.db.Exec(ctx, query, clientID, fiscalYear, period); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to reopen period")
	}
	return nil
}
