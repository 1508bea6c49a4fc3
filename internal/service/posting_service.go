package service

import (
	"context"
	"fmt"
	"time"

	"github.com/glennhaavar-prog/ai-erp-sub003/internal/apperrors"
	"github.com/glennhaavar-prog/ai-erp-sub003/internal/logger"
	"github.com/glennhaavar-prog/ai-erp-sub003/internal/repository"
)

// balanceTolerance is the largest acceptable debit/credit difference, in cents.
const balanceTolerance = 1

// PostingService validates voucher drafts and commits them into the ledger
// under the double-entry and period-lock invariants. On any validation
// failure nothing is persisted and a typed error is returned; translating
// that into a retried task or review item is the caller's job.
type PostingService struct {
	vouchers VoucherStore
	accounts AccountDirectory
	periods  PeriodLocks
	audit    AuditLog
	notifier Notifier
	log      *logger.Logger
}

// NewPostingService creates a new PostingService.
func NewPostingService(
	vouchers VoucherStore,
	accounts AccountDirectory,
	periods PeriodLocks,
	audit AuditLog,
	notifier Notifier,
	log *logger.Logger,
) *PostingService {
	return &PostingService{
		vouchers: vouchers,
		accounts: accounts,
		periods:  periods,
		audit:    audit,
		notifier: notifier,
		log:      log,
	}
}

// VoucherDraft is a proposed ledger posting, not yet validated.
type VoucherDraft struct {
	TenantID       string       `json:"tenant_id"`
	ClientID       string       `json:"client_id"`
	SeriesCode     string       `json:"series_code"`
	EntryDate      string       `json:"entry_date"`
	AccountingDate string       `json:"accounting_date"`
	Description    string       `json:"description"`
	Currency       string       `json:"currency"`
	Counterparty   string       `json:"counterparty,omitempty"`
	SourceType     string       `json:"source_type"`
	SourceID       string       `json:"source_id"`
	Lines          []*DraftLine `json:"lines"`

	// Performer attribution for the audit entry.
	PerformerKind string `json:"performer_kind"`
	PerformerID   string `json:"performer_id,omitempty"`
	Confidence    *int   `json:"confidence,omitempty"`
}

// DraftLine is one proposed debit or credit leg, amounts in cents.
type DraftLine struct {
	Account   string  `json:"account"`
	Debit     int64   `json:"debit"`
	Credit    int64   `json:"credit"`
	VATCode   *string `json:"vat_code,omitempty"`
	VATAmount int64   `json:"vat_amount,omitempty"`
}

// Propose validates a draft in a fixed order and commits it. Returns the new
// voucher id. Validation failures carry a specific error code: unbalanced,
// period_closed, unknown_account or validation.
func (s *PostingService) Propose(ctx context.Context, draft *VoucherDraft) (string, error) {
	fiscalYear, period, err := s.validate(ctx, draft)
	if err != nil {
		return "", err
	}

	performerKind := draft.PerformerKind
	if performerKind == "" {
		performerKind = repository.PerformerAutomation
	}

	voucher := &repository.Voucher{
		ClientID:       draft.ClientID,
		SeriesCode:     draft.SeriesCode,
		EntryDate:      draft.EntryDate,
		AccountingDate: draft.AccountingDate,
		Period:         period,
		FiscalYear:     fiscalYear,
		Description:    draft.Description,
		Currency:       draft.Currency,
		SourceType:     draft.SourceType,
		SourceID:       draft.SourceID,
		Status:         "committed",
		CreatedBy:      performerString(performerKind, draft.PerformerID),
	}
	for i, line := range draft.Lines {
		voucher.Lines = append(voucher.Lines, &repository.VoucherLine{
			LineNo:    i + 1,
			Account:   line.Account,
			Debit:     line.Debit,
			Credit:    line.Credit,
			VATCode:   line.VATCode,
			VATAmount: line.VATAmount,
		})
	}

	if err := s.vouchers.Create(ctx, voucher); err != nil {
		return "", err
	}

	s.appendAudit(ctx, &repository.AuditEntry{
		TenantID:      draft.TenantID,
		SubjectID:     voucher.ID,
		SubjectType:   "voucher",
		Action:        "created",
		PerformerKind: performerKind,
		PerformerID:   strPtrOrNil(draft.PerformerID),
		Confidence:    draft.Confidence,
		Details: map[string]any{
			"series_code":     voucher.SeriesCode,
			"sequence_number": voucher.SequenceNumber,
			"source_type":     voucher.SourceType,
			"source_id":       voucher.SourceID,
		},
	})

	if s.notifier != nil {
		s.notifier.Publish(ctx, "voucher_committed", draft.TenantID, "voucher", voucher.ID, map[string]any{
			"series_code":     voucher.SeriesCode,
			"sequence_number": voucher.SequenceNumber,
		})
	}

	s.log.Info().
		Str("voucher_id", voucher.ID).
		Str("client_id", voucher.ClientID).
		Str("series_code", voucher.SeriesCode).
		Int64("sequence_number", voucher.SequenceNumber).
		Str("performer", performerKind).
		Msg("Voucher committed")

	return voucher.ID, nil
}

// validate runs the posting checks in their required order and returns the
// accounting period the voucher falls into.
func (s *PostingService) validate(ctx context.Context, draft *VoucherDraft) (fiscalYear, period int, err error) {
	// 1. line count
	if len(draft.Lines) < 2 {
		return 0, 0, apperrors.New(apperrors.ErrCodeValidation, "voucher must have at least 2 lines")
	}

	// 2. each line: exactly one side, non-negative
	for i, line := range draft.Lines {
		if line.Debit < 0 || line.Credit < 0 {
			return 0, 0, apperrors.Newf(apperrors.ErrCodeValidation, "line %d has a negative amount", i+1)
		}
		if (line.Debit == 0) == (line.Credit == 0) {
			return 0, 0, apperrors.Newf(apperrors.ErrCodeValidation, "line %d must set exactly one of debit or credit", i+1)
		}
	}

	// 3. balance
	var totalDebit, totalCredit int64
	for _, line := range draft.Lines {
		totalDebit += line.Debit
		totalCredit += line.Credit
	}
	diff := totalDebit - totalCredit
	if diff < 0 {
		diff = -diff
	}
	if diff > balanceTolerance {
		return 0, 0, apperrors.Newf(apperrors.ErrCodeUnbalanced,
			"voucher is unbalanced: debit %d vs credit %d", totalDebit, totalCredit)
	}

	// 4. period lock
	accountingDate, parseErr := time.Parse("2006-01-02", draft.AccountingDate)
	if parseErr != nil {
		return 0, 0, apperrors.InvalidInput("accounting_date", "invalid date format, expected YYYY-MM-DD")
	}
	fiscalYear = accountingDate.Year()
	period = int(accountingDate.Month())

	closed, err := s.periods.IsClosed(ctx, draft.ClientID, fiscalYear, period)
	if err != nil {
		return 0, 0, err
	}
	if closed {
		return 0, 0, apperrors.Newf(apperrors.ErrCodePeriodClosed,
			"period %d/%d is closed for client %s", fiscalYear, period, draft.ClientID)
	}

	// 5. accounts exist and are active
	active, err := s.accounts.ActiveCodes(ctx, draft.ClientID)
	if err != nil {
		return 0, 0, err
	}
	for _, line := range draft.Lines {
		if !active[line.Account] {
			return 0, 0, apperrors.Newf(apperrors.ErrCodeUnknownAccount,
				"account %s does not exist or is inactive", line.Account)
		}
	}

	return fiscalYear, period, nil
}

// Reverse creates a balancing voucher for a committed voucher. The original
// is marked reversed but never mutated otherwise. Reversal obeys the same
// period lock as any other posting.
func (s *PostingService) Reverse(ctx context.Context, voucherID, tenantID, by string) (string, error) {
	original, err := s.vouchers.GetByID(ctx, voucherID)
	if err != nil {
		return "", err
	}
	if original.IsReversed {
		return "", apperrors.Newf(apperrors.ErrCodeConflict, "voucher %s is already reversed", voucherID)
	}

	today := time.Now().Format("2006-01-02")
	draft := &VoucherDraft{
		TenantID:       tenantID,
		ClientID:       original.ClientID,
		SeriesCode:     original.SeriesCode,
		EntryDate:      today,
		AccountingDate: today,
		Description:    fmt.Sprintf("Reversal of %s-%d: %s", original.SeriesCode, original.SequenceNumber, original.Description),
		Currency:       original.Currency,
		SourceType:     "reversal",
		SourceID:       original.ID,
		PerformerKind:  repository.PerformerHuman,
		PerformerID:    by,
	}
	for _, line := range original.Lines {
		draft.Lines = append(draft.Lines, &DraftLine{
			Account:   line.Account,
			Debit:     line.Credit,
			Credit:    line.Debit,
			VATCode:   line.VATCode,
			VATAmount: -line.VATAmount,
		})
	}

	fiscalYear, period, err := s.validate(ctx, draft)
	if err != nil {
		return "", err
	}

	reversal := &repository.Voucher{
		ClientID:       draft.ClientID,
		SeriesCode:     draft.SeriesCode,
		EntryDate:      draft.EntryDate,
		AccountingDate: draft.AccountingDate,
		Period:         period,
		FiscalYear:     fiscalYear,
		Description:    draft.Description,
		Currency:       draft.Currency,
		SourceType:     draft.SourceType,
		SourceID:       draft.SourceID,
		Status:         "committed",
		ReversesID:     &original.ID,
		CreatedBy:      performerString(repository.PerformerHuman, by),
	}
	for i, line := range draft.Lines {
		reversal.Lines = append(reversal.Lines, &repository.VoucherLine{
			LineNo:    i + 1,
			Account:   line.Account,
			Debit:     line.Debit,
			Credit:    line.Credit,
			VATCode:   line.VATCode,
			VATAmount: line.VATAmount,
		})
	}

	if err := s.vouchers.Create(ctx, reversal); err != nil {
		return "", err
	}

	s.appendAudit(ctx, &repository.AuditEntry{
		TenantID:      tenantID,
		SubjectID:     original.ID,
		SubjectType:   "voucher",
		Action:        "reversed",
		PerformerKind: repository.PerformerHuman,
		PerformerID:   &by,
		Details:       map[string]any{"reversal_id": reversal.ID},
	})

	if s.notifier != nil {
		s.notifier.Publish(ctx, "voucher_reversed", tenantID, "voucher", original.ID, map[string]any{
			"reversal_id": reversal.ID,
		})
	}

	s.log.Info().
		Str("voucher_id", original.ID).
		Str("reversal_id", reversal.ID).
		Str("reversed_by", by).
		Msg("Voucher reversed")

	return reversal.ID, nil
}

// appendAudit writes an audit entry and logs a warning on failure (never
// returns error).
func (s *PostingService) appendAudit(ctx context.Context, entry *repository.AuditEntry) {
	if err := s.audit.Append(ctx, entry); err != nil {
		s.log.Warn().Err(err).
			Str("subject_id", entry.SubjectID).
			Str("action", entry.Action).
			Msg("Failed to write audit log entry")
	}
}

// performerString renders the created_by attribution. The kind is always
// kept so a voucher row alone shows whether a human or the automation
// committed it.
func performerString(kind, id string) string {
	if id == "" {
		return kind
	}
	return kind + ":" + id
}

func strPtrOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
