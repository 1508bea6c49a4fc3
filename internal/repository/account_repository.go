package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/glennhaavar-prog/ai-erp-sub003/internal/apperrors"
	"github.com/glennhaavar-prog/ai-erp-sub003/internal/database"
)

// AccountRepository reads the per-client chart of accounts.
type AccountRepository struct {
	db *database.DB
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(db *database.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// Create inserts an account.
func (r *AccountRepository) Create(ctx context.Context, a *Account) error {
	query := `
		INSERT INTO accounts (client_id, code, name, is_active)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`

	err := r.db.QueryRow(ctx, query, a.ClientID, a.Code, a.Name, a.IsActive).
		Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to create account")
	}
	return nil
}

// GetByCode retrieves an account by its chart code.
func (r *AccountRepository) GetByCode(ctx context.Context, clientID, code string) (*Account, error) {
	query := `
		SELECT id, client_id, code, name, is_active, created_at
		FROM accounts
		WHERE client_id = $1 AND code = $2
	`

	a := &Account{}
	err := r.db.QueryRow(ctx, query, clientID, code).
		Scan(&a.ID, &a.ClientID, &a.Code, &a.Name, &a.IsActive, &a.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, apperrors.NotFound("account", code)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to get account")
	}
	return a, nil
}

// ActiveCodes returns the set of active account codes for a client.
func (r *AccountRepository) ActiveCodes(ctx context.Context, clientID string) (map[string]bool, error) {
	query := `
		SELECT code
		FROM accounts
		WHERE client_id = $1 AND is_active = TRUE
	`

	rows, err := r.db.Query(ctx, query, clientID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to list active accounts")
	}
	defer rows.Close()

	codes := make(map[string]bool)
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan account code")
		}
		codes[code] = true
	}
	return codes, nil
}
