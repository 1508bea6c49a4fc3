package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/glennhaavar-prog/ai-erp-sub003/internal/apperrors"
	"github.com/glennhaavar-prog/ai-erp-sub003/internal/database"
)

// VoucherRepository persists committed vouchers and their lines. Sequence
// numbers come from a per-(client, series) counter row incremented inside the
// same transaction as the voucher insert, so numbering never goes through
// application memory and two commits in the same series serialize on the
// counter row.
type VoucherRepository struct {
	db *database.DB
}

// NewVoucherRepository creates a new VoucherRepository.
func NewVoucherRepository(db *database.DB) *VoucherRepository {
	return &VoucherRepository{db: db}
}

// Create assigns the next sequence number for (client_id, series_code) and
// inserts the voucher with all lines in one transaction. The voucher struct
// is updated in place with id, sequence number and timestamps.
func (r *VoucherRepository) Create(ctx context.Context, voucher *Voucher) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		// Re-check the period lock with the row held FOR SHARE, so a close
		// racing the service-level check cannot land between validation and
		// this commit. No row means the period was never closed.
		periodQuery := `
			SELECT is_closed
			FROM accounting_periods
			WHERE client_id = $1 AND fiscal_year = $2 AND period = $3
			FOR SHARE
		`

		var closed bool
		err := tx.QueryRow(ctx, periodQuery, voucher.ClientID, voucher.FiscalYear, voucher.Period).Scan(&closed)
		if err != nil && err != pgx.ErrNoRows {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to check accounting period")
		}
		if closed {
			return apperrors.Newf(apperrors.ErrCodePeriodClosed,
				"period %d/%d is closed for client %s", voucher.FiscalYear, voucher.Period, voucher.ClientID)
		}

		seqQuery := `
			INSERT INTO voucher_series (client_id, series_code, next_number)
			VALUES ($1, $2, 1)
			ON CONFLICT (client_id, series_code)
			DO UPDATE SET next_number = voucher_series.next_number + 1
			RETURNING next_number
		`

		err = tx.QueryRow(ctx, seqQuery, voucher.ClientID, voucher.SeriesCode).
			Scan(&voucher.SequenceNumber)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to assign voucher sequence number")
		}

		voucherQuery := `
			INSERT INTO vouchers (client_id, series_code, sequence_number,
			                      entry_date, accounting_date, period, fiscal_year,
			                      description, currency, source_type, source_id,
			                      status, reverses_id, created_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			RETURNING id, is_reversed, created_at
		`

		err = tx.QueryRow(ctx, voucherQuery,
			voucher.ClientID,
			voucher.SeriesCode,
			voucher.SequenceNumber,
			voucher.EntryDate,
			voucher.AccountingDate,
			voucher.Period,
			voucher.FiscalYear,
			voucher.Description,
			voucher.Currency,
			voucher.SourceType,
			voucher.SourceID,
			voucher.Status,
			voucher.ReversesID,
			voucher.CreatedBy,
		).Scan(&voucher.ID, &voucher.IsReversed, &voucher.CreatedAt)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to create voucher")
		}

		lineQuery := `
			INSERT INTO voucher_lines (voucher_id, line_no, account, debit, credit, vat_code, vat_amount)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id
		`

		for _, line := range voucher.Lines {
			line.VoucherID = voucher.ID
			err := tx.QueryRow(ctx, lineQuery,
				line.VoucherID,
				line.LineNo,
				line.Account,
				line.Debit,
				line.Credit,
				line.VATCode,
				line.VATAmount,
			).Scan(&line.ID)
			if err != nil {
				return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to create voucher line")
			}
		}

		// Marking the original reversed lives in the same transaction as the
		// balancing voucher, so a reversal is all-or-nothing.
		if voucher.ReversesID != nil {
			markQuery := `
				UPDATE vouchers
				SET is_reversed = TRUE
				WHERE id = $1 AND is_reversed = FALSE
			`
			tag, err := tx.Exec(ctx, markQuery, *voucher.ReversesID)
			if err != nil {
				return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to mark voucher reversed")
			}
			if tag.RowsAffected() == 0 {
				return apperrors.Newf(apperrors.ErrCodeConflict, "voucher %s is already reversed", *voucher.ReversesID)
			}
		}

		return nil
	})
}

// GetByID retrieves a voucher with its lines.
func (r *VoucherRepository) GetByID(ctx context.Context, id string) (*Voucher, error) {
	query := `
		SELECT id, client_id, series_code, sequence_number,
		       entry_date, accounting_date, period, fiscal_year,
		       description, currency, source_type, source_id,
		       status, is_reversed, reverses_id, created_by, created_at
		FROM vouchers
		WHERE id = $1
	`

	// DATE results arrive in binary format, which pgx cannot scan into a
	// string; go through time.Time and format afterwards.
	voucher := &Voucher{}
	var entryDate, accountingDate time.Time
	err := r.db.QueryRow(ctx, query, id).Scan(
		&voucher.ID,
		&voucher.ClientID,
		&voucher.SeriesCode,
		&voucher.SequenceNumber,
		&entryDate,
		&accountingDate,
		&voucher.Period,
		&voucher.FiscalYear,
		&voucher.Description,
		&voucher.Currency,
		&voucher.SourceType,
		&voucher.SourceID,
		&voucher.Status,
		&voucher.IsReversed,
		&voucher.ReversesID,
		&voucher.CreatedBy,
		&voucher.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, apperrors.NotFound("voucher", id)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to get voucher")
	}
	voucher.EntryDate = entryDate.Format("2006-01-02")
	voucher.AccountingDate = accountingDate.Format("2006-01-02")

	lines, err := r.GetLines(ctx, voucher.ID)
	if err != nil {
		return nil, err
	}
	voucher.Lines = lines
	return voucher, nil
}

// GetLines retrieves all lines for a voucher ordered by line number.
func (r *VoucherRepository) GetLines(ctx context.Context, voucherID string) ([]*VoucherLine, error) {
	query := `
		SELECT id, voucher_id, line_no, account, debit, credit, vat_code, vat_amount
		FROM voucher_lines
		WHERE voucher_id = $1
		ORDER BY line_no
	`

	rows, err := r.db.Query(ctx, query, voucherID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to get voucher lines")
	}
	defer rows.Close()

	lines := make([]*VoucherLine, 0)
	for rows.Next() {
		line := &VoucherLine{}
		err := rows.Scan(
			&line.ID,
			&line.VoucherID,
			&line.LineNo,
			&line.Account,
			&line.Debit,
			&line.Credit,
			&line.VATCode,
			&line.VATAmount,
		)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan voucher line")
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// ListByClient returns vouchers for a client, newest first.
func (r *VoucherRepository) ListByClient(ctx context.Context, clientID string, limit, offset int) ([]*Voucher, error) {
	query := `
		SELECT id, client_id, series_code, sequence_number,
		       entry_date, accounting_date, period, fiscal_year,
		       description, currency, source_type, source_id,
		       status, is_reversed, reverses_id, created_by, created_at
		FROM vouchers
		WHERE client_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Query(ctx, query, clientID, limit, offset)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to list vouchers")
	}
	defer rows.Close()

	return collectVouchers(rows)
}

// FindByCreditTotal returns unreversed vouchers whose credit lines sum to the
// given amount. Used by reconciliation to match bank transactions against
// committed postings.
func (r *VoucherRepository) FindByCreditTotal(ctx context.Context, clientID string, amount int64, limit int) ([]*Voucher, error) {
	query := `
		SELECT v.id, v.client_id, v.series_code, v.sequence_number,
		       v.entry_date, v.accounting_date, v.period, v.fiscal_year,
		       v.description, v.currency, v.source_type, v.source_id,
		       v.status, v.is_reversed, v.reverses_id, v.created_by, v.created_at
		FROM vouchers v
		WHERE v.client_id = $1
		  AND v.is_reversed = FALSE
		  AND (SELECT COALESCE(SUM(l.credit), 0) FROM voucher_lines l WHERE l.voucher_id = v.id) = $2
		ORDER BY v.created_at DESC
		LIMIT $3
	`

	rows, err := r.db.Query(ctx, query, clientID, amount, limit)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to search vouchers by amount")
	}
	defer rows.Close()

	return collectVouchers(rows)
}

func collectVouchers(rows pgx.Rows) ([]*Voucher, error) {
	vouchers := make([]*Voucher, 0)
	for rows.Next() {
		voucher := &Voucher{}
		var entryDate, accountingDate time.Time
		err := rows.Scan(
			&voucher.ID,
			&voucher.ClientID,
			&voucher.SeriesCode,
			&voucher.SequenceNumber,
			&entryDate,
			&accountingDate,
			&voucher.Period,
			&voucher.FiscalYear,
			&voucher.Description,
			&voucher.Currency,
			&voucher.SourceType,
			&voucher.SourceID,
			&voucher.Status,
			&voucher.IsReversed,
			&voucher.ReversesID,
			&voucher.CreatedBy,
			&voucher.CreatedAt,
		)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan voucher")
		}
		voucher.EntryDate = entryDate.Format("2006-01-02")
		voucher.AccountingDate = accountingDate.Format("2006-01-02")
		vouchers = append(vouchers, voucher)
	}
	return vouchers, nil
}
