package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/glennhaavar-prog/ai-erp-sub003/internal/apperrors"
	"github.com/glennhaavar-prog/ai-erp-sub003/internal/database"
)

// EventRepository appends and drains the append-only domain event log.
type EventRepository struct {
	db *database.DB
}

// NewEventRepository creates a new EventRepository.
func NewEventRepository(db *database.DB) *EventRepository {
	return &EventRepository{db: db}
}

// Append inserts one event. Events are immutable once written except the
// processed flag.
func (r *EventRepository) Append(ctx context.Context, ev *Event) error {
	query := `
		INSERT INTO events (tenant_id, type, payload)
		VALUES ($1, $2, $3)
		RETURNING id, processed, created_at
	`

	err := r.db.QueryRow(ctx, query, ev.TenantID, ev.Type, ev.Payload).
		Scan(&ev.ID, &ev.Processed, &ev.CreatedAt)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to append event")
	}
	return nil
}

// ListUnprocessed returns up to limit unprocessed events, oldest first.
func (r *EventRepository) ListUnprocessed(ctx context.Context, limit int) ([]*Event, error) {
	query := `
		SELECT id, tenant_id, type, payload, processed, created_at
		FROM events
		WHERE processed = FALSE
		ORDER BY created_at ASC
		LIMIT $1
	`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to list unprocessed events")
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		ev := &Event{}
		if err := rows.Scan(&ev.ID, &ev.TenantID, &ev.Type, &ev.Payload, &ev.Processed, &ev.CreatedAt); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan event")
		}
		events = append(events, ev)
	}
	return events, nil
}

// MarkProcessed flips the processed flag. The WHERE guard makes the flip
// happen exactly once; a second call is a conflict.
func (r *EventRepository) MarkProcessed(ctx context.Context, id string) error {
	query := `
		UPDATE events
		SET processed = TRUE
		WHERE id = $1 AND processed = FALSE
	`

	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to mark event processed")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.Newf(apperrors.ErrCodeConflict, "event %s is already processed or does not exist", id)
	}
	return nil
}

// GetByID retrieves a single event.
func (r *EventRepository) GetByID(ctx context.Context, id string) (*Event, error) {
	query := `
		SELECT id, tenant_id, type, payload, processed, created_at
		FROM events
		WHERE id = $1
	`

	ev := &Event{}
	err := r.db.QueryRow(ctx, query, id).
		Scan(&ev.ID, &ev.TenantID, &ev.Type, &ev.Payload, &ev.Processed, &ev.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, apperrors.NotFound("event", id)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to get event")
	}
	return ev, nil
}
