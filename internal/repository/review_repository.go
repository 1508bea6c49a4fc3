package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/glennhaavar-prog/ai-erp-sub003/internal/apperrors"
	"github.com/glennhaavar-prog/ai-erp-sub003/internal/database"
)

// ReviewRepository manages the human review queue.
type ReviewRepository struct {
	db *database.DB
}

// NewReviewRepository creates a new ReviewRepository.
func NewReviewRepository(db *database.DB) *ReviewRepository {
	return &ReviewRepository{db: db}
}

// Create inserts a pending review item.
func (r *ReviewRepository) Create(ctx context.Context, item *ReviewItem) error {
	query := `
		INSERT INTO review_items (tenant_id, source_type, source_id, decision_id,
		                          priority, status, issue_category,
		                          ai_suggestion, ai_confidence, details, apply_to_similar)
		VALUES ($1, $2, $3, $4, $5, 'pending', $6, $7, $8, $9, $10)
		RETURNING id, created_at
	`

	err := r.db.QueryRow(ctx, query,
		item.TenantID,
		item.SourceType,
		item.SourceID,
		item.DecisionID,
		item.Priority,
		item.IssueCategory,
		item.AISuggestion,
		item.AIConfidence,
		item.Details,
		item.ApplyToSimilar,
	).Scan(&item.ID, &item.CreatedAt)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to create review item")
	}
	item.Status = ReviewStatusPending
	return nil
}

// GetByID retrieves a review item.
func (r *ReviewRepository) GetByID(ctx context.Context, id string) (*ReviewItem, error) {
	query := `
		SELECT id, tenant_id, source_type, source_id, decision_id,
		       priority, status, issue_category,
		       ai_suggestion, ai_confidence, details,
		       resolved_by, resolved_at, resolution_note, apply_to_similar, created_at
		FROM review_items
		WHERE id = $1
	`

	item, err := scanReviewItem(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, apperrors.NotFound("review_item", id)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to get review item")
	}
	return item, nil
}

// Resolve moves a review item into a terminal state. The status guard makes
// resolution happen at most once; resolving a terminal item is a conflict.
func (r *ReviewRepository) Resolve(ctx context.Context, id, status, resolvedBy string, note *string, applyToSimilar bool) error {
	query := `
		UPDATE review_items
		SET status = $2,
		    resolved_by = $3,
		    resolved_at = NOW(),
		    resolution_note = $4,
		    apply_to_similar = $5
		WHERE id = $1 AND status IN ('pending', 'in_progress')
	`

	tag, err := r.db.Exec(ctx, query, id, status, resolvedBy, note, applyToSimilar)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to resolve review item")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.Newf(apperrors.ErrCodeConflict, "review item %s is already resolved", id)
	}
	return nil
}

// ListPending returns open review items for a tenant, highest priority first.
func (r *ReviewRepository) ListPending(ctx context.Context, tenantID string, limit, offset int) ([]*ReviewItem, error) {
	query := `
		SELECT id, tenant_id, source_type, source_id, decision_id,
		       priority, status, issue_category,
		       ai_suggestion, ai_confidence, details,
		       resolved_by, resolved_at, resolution_note, apply_to_similar, created_at
		FROM review_items
		WHERE tenant_id = $1 AND status IN ('pending', 'in_progress')
		ORDER BY priority DESC, created_at ASC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Query(ctx, query, tenantID, limit, offset)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to list review items")
	}
	defer rows.Close()

	items := make([]*ReviewItem, 0)
	for rows.Next() {
		item, err := scanReviewItem(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan review item")
		}
		items = append(items, item)
	}
	return items, nil
}

func scanReviewItem(sc rowScanner) (*ReviewItem, error) {
	item := &ReviewItem{}
	err := sc.Scan(
		&item.ID,
		&item.TenantID,
		&item.SourceType,
		&item.SourceID,
		&item.DecisionID,
		&item.Priority,
		&item.Status,
		&item.IssueCategory,
		&item.AISuggestion,
		&item.AIConfidence,
		&item.Details,
		&item.ResolvedBy,
		&item.ResolvedAt,
		&item.ResolutionNote,
		&item.ApplyToSimilar,
		&item.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return item, nil
}
