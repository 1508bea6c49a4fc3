package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/glennhaavar-prog/ai-erp-sub003/internal/apperrors"
	"github.com/glennhaavar-prog/ai-erp-sub003/internal/database"
)

// ClientRepository reads bookkeeping tenants and their posting settings.
type ClientRepository struct {
	db *database.DB
}

// NewClientRepository creates a new ClientRepository.
func NewClientRepository(db *database.DB) *ClientRepository {
	return &ClientRepository{db: db}
}

// Create inserts a client.
func (r *ClientRepository) Create(ctx context.Context, c *Client) error {
	query := `
		INSERT INTO clients (tenant_id, name, base_currency, auto_post_threshold)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`

	err := r.db.QueryRow(ctx, query, c.TenantID, c.Name, c.BaseCurrency, c.AutoPostThreshold).
		Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to create client")
	}
	return nil
}

// GetByID retrieves a client.
func (r *ClientRepository) GetByID(ctx context.Context, id string) (*Client, error) {
	query := `
		SELECT id, tenant_id, name, base_currency, auto_post_threshold, created_at
		FROM clients
		WHERE id = $1
	`

	c := &Client{}
	err := r.db.QueryRow(ctx, query, id).
		Scan(&c.ID, &c.TenantID, &c.Name, &c.BaseCurrency, &c.AutoPostThreshold, &c.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, apperrors.NotFound("client", id)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to get client")
	}
	return c, nil
}

// SetAutoPostThreshold updates a client's confidence gate.
func (r *ClientRepository) SetAutoPostThreshold(ctx context.Context, id string, threshold int) error {
	if threshold < 0 || threshold > 100 {
		return apperrors.InvalidInput("auto_post_threshold", "must be between 0 and 100")
	}

	query := `
		UPDATE clients
		SET auto_post_threshold = $2
		WHERE id = $1
	`

	tag, err := r.db.Exec(ctx, query, id, threshold)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to update auto post threshold")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("client", id)
	}
	return nil
}
