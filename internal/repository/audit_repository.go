package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/glennhaavar-prog/ai-erp-sub003/internal/apperrors"
	"github.com/glennhaavar-prog/ai-erp-sub003/internal/database"
)

// AuditRepository appends and reads immutable audit log entries.
type AuditRepository struct {
	db *database.DB
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(db *database.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append inserts one audit entry. The table has a delete-prevention trigger
// so this is the only mutation operation exposed.
func (r *AuditRepository) Append(ctx context.Context, entry *AuditEntry) error {
	var detailsJSON []byte
	if entry.Details != nil {
		var err error
		detailsJSON, err = json.Marshal(entry.Details)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to marshal audit details")
		}
	}

	query := `
		INSERT INTO audit_entries
		    (tenant_id, subject_id, subject_type, action,
		     performer_kind, performer_id, confidence, details)
		VALUES ($1, $2, $3, $4,
		        $5, $6, $7, $8)
		RETURNING id, created_at
	`

	return r.db.QueryRow(ctx, query,
		entry.TenantID,
		entry.SubjectID,
		entry.SubjectType,
		entry.Action,
		entry.PerformerKind,
		entry.PerformerID,
		entry.Confidence,
		detailsJSON,
	).Scan(&entry.ID, &entry.CreatedAt)
}

// GetBySubject returns the full audit trail for a subject, oldest first.
func (r *AuditRepository) GetBySubject(ctx context.Context, subjectID string) ([]*AuditEntry, error) {
	query := `
		SELECT id, tenant_id, subject_id, subject_type, action,
		       performer_kind, performer_id, confidence, details, created_at
		FROM audit_entries
		WHERE subject_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.Query(ctx, query, subjectID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to get audit trail")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// ListByTenant returns recent audit entries for a tenant, newest first.
func (r *AuditRepository) ListByTenant(ctx context.Context, tenantID string, limit, offset int) ([]*AuditEntry, error) {
	query := `
		SELECT id, tenant_id, subject_id, subject_type, action,
		       performer_kind, performer_id, confidence, details, created_at
		FROM audit_entries
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Query(ctx, query, tenantID, limit, offset)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to list audit entries")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// ── scan helpers ──────────────────────────────────────────────────────────────

func (r *AuditRepository) scanRows(rows pgx.Rows) ([]*AuditEntry, error) {
	var entries []*AuditEntry
	for rows.Next() {
		entry, err := r.scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (r *AuditRepository) scanEntry(sc rowScanner) (*AuditEntry, error) {
	entry := &AuditEntry{}
	var detailsJSON []byte

	err := sc.Scan(
		&entry.ID,
		&entry.TenantID,
		&entry.SubjectID,
		&entry.SubjectType,
		&entry.Action,
		&entry.PerformerKind,
		&entry.PerformerID,
		&entry.Confidence,
		&detailsJSON,
		&entry.CreatedAt,
	)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan audit entry")
	}

	if detailsJSON != nil {
		if err := json.Unmarshal(detailsJSON, &entry.Details); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to unmarshal audit details")
		}
	}
	return entry, nil
}
