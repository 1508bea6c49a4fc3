package repository

import (
	"context"

	"github.com/glennhaavar-prog/ai-erp-sub003/internal/apperrors"
	"github.com/glennhaavar-prog/ai-erp-sub003/internal/database"
)

// CorrectionRepository stores human corrections and serves the grouping
// queries pattern synthesis runs on.
type CorrectionRepository struct {
	db *database.DB
}

// NewCorrectionRepository creates a new CorrectionRepository.
func NewCorrectionRepository(db *database.DB) *CorrectionRepository {
	return &CorrectionRepository{db: db}
}

// Create inserts a correction.
func (r *CorrectionRepository) Create(ctx context.Context, c *Correction) error {
	query := `
		INSERT INTO corrections (tenant_id, review_item_id, voucher_id, similarity_key,
		                         original_entry, corrected_entry, reason, batch_id, corrected_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, consumed, created_at
	`

	err := r.db.QueryRow(ctx, query,
		c.TenantID,
		c.ReviewItemID,
		c.VoucherID,
		c.SimilarityKey,
		c.OriginalEntry,
		c.CorrectedEntry,
		c.Reason,
		c.BatchID,
		c.CorrectedBy,
	).Scan(&c.ID, &c.Consumed, &c.CreatedAt)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to create correction")
	}
	return nil
}

// SimilarityGroup is a cluster of unconsumed corrections sharing a
// similarity key.
type SimilarityGroup struct {
	TenantID      string
	SimilarityKey string
	Count         int
}

// ListGroupsReady returns similarity groups whose unconsumed correction count
// has reached the synthesis threshold.
func (r *CorrectionRepository) ListGroupsReady(ctx context.Context, tenantID string, minCount int) ([]*SimilarityGroup, error) {
	query := `
		SELECT tenant_id, similarity_key, COUNT(*)
		FROM corrections
		WHERE tenant_id = $1 AND consumed = FALSE
		GROUP BY tenant_id, similarity_key
		HAVING COUNT(*) >= $2
		ORDER BY COUNT(*) DESC
	`

	rows, err := r.db.Query(ctx, query, tenantID, minCount)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to list correction groups")
	}
	defer rows.Close()

	var groups []*SimilarityGroup
	for rows.Next() {
		g := &SimilarityGroup{}
		if err := rows.Scan(&g.TenantID, &g.SimilarityKey, &g.Count); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan correction group")
		}
		groups = append(groups, g)
	}
	return groups, nil
}

// ListByKey returns unconsumed corrections for a similarity key, oldest first.
func (r *CorrectionRepository) ListByKey(ctx context.Context, tenantID, similarityKey string) ([]*Correction, error) {
	query := `
		SELECT id, tenant_id, review_item_id, voucher_id, similarity_key,
		       original_entry, corrected_entry, reason, batch_id, corrected_by,
		       consumed, created_at
		FROM corrections
		WHERE tenant_id = $1 AND similarity_key = $2 AND consumed = FALSE
		ORDER BY created_at ASC
	`

	rows, err := r.db.Query(ctx, query, tenantID, similarityKey)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to list corrections")
	}
	defer rows.Close()

	var corrections []*Correction
	for rows.Next() {
		c := &Correction{}
		err := rows.Scan(
			&c.ID,
			&c.TenantID,
			&c.ReviewItemID,
			&c.VoucherID,
			&c.SimilarityKey,
			&c.OriginalEntry,
			&c.CorrectedEntry,
			&c.Reason,
			&c.BatchID,
			&c.CorrectedBy,
			&c.Consumed,
			&c.CreatedAt,
		)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan correction")
		}
		corrections = append(corrections, c)
	}
	return corrections, nil
}

// MarkConsumed flags corrections as fed into a pattern so synthesis never
// counts them twice.
func (r *CorrectionRepository) MarkConsumed(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	query := `
		UPDATE corrections
		SET consumed = TRUE
		WHERE id = ANY($1)
	`

	if _, err := r.db.Exec(ctx, query, ids); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to mark corrections consumed")
	}
	return nil
}
