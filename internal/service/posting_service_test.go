package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glennhaavar-prog/ai-erp-sub003/internal/apperrors"
	"github.com/glennhaavar-prog/ai-erp-sub003/internal/logger"
	"github.com/glennhaavar-prog/ai-erp-sub003/internal/repository"
)

type postingFixture struct {
	service  *PostingService
	vouchers *fakeVoucherStore
	periods  *fakePeriods
	audit    *fakeAuditLog
	notifier *fakeNotifier
}

func newPostingFixture() *postingFixture {
	vouchers := newFakeVoucherStore()
	periods := newFakePeriods()
	audit := &fakeAuditLog{}
	notifier := &fakeNotifier{}
	accounts := &fakeAccounts{codes: map[string]bool{"6540": true, "2400": true, "2700": true}}
	log := logger.Nop()

	return &postingFixture{
		service:  NewPostingService(vouchers, accounts, periods, audit, notifier, log),
		vouchers: vouchers,
		periods:  periods,
		audit:    audit,
		notifier: notifier,
	}
}

func balancedDraft() *VoucherDraft {
	return &VoucherDraft{
		TenantID:       "tenant-1",
		ClientID:       "client-1",
		SeriesCode:     "EF",
		EntryDate:      "2026-05-10",
		AccountingDate: "2026-05-10",
		Description:    "Invoice 1234 from Acme AS",
		Currency:       "NOK",
		Counterparty:   "Acme AS",
		SourceType:     "decision",
		SourceID:       "decision-1",
		Lines: []*DraftLine{
			{Account: "6540", Debit: 150000},
			{Account: "2400", Credit: 150000},
		},
	}
}

func TestProposeCommitsBalancedDraft(t *testing.T) {
	f := newPostingFixture()

	id, err := f.service.Propose(context.Background(), balancedDraft())
	require.NoError(t, err)

	voucher, err := f.vouchers.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), voucher.SequenceNumber)
	assert.Equal(t, "committed", voucher.Status)
	assert.Equal(t, 5, voucher.Period)
	assert.Equal(t, 2026, voucher.FiscalYear)

	require.Len(t, f.audit.entries, 1)
	assert.Equal(t, "created", f.audit.entries[0].Action)
	assert.Equal(t, repository.PerformerAutomation, f.audit.entries[0].PerformerKind)

	require.Len(t, f.notifier.published, 1)
	assert.Equal(t, "voucher_committed", f.notifier.published[0].EventType)
}

func TestProposeSequenceMonotonicPerSeries(t *testing.T) {
	f := newPostingFixture()
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		id, err := f.service.Propose(ctx, balancedDraft())
		require.NoError(t, err)
		voucher, err := f.vouchers.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, voucher.SequenceNumber)
	}

	other := balancedDraft()
	other.SeriesCode = "BK"
	id, err := f.service.Propose(ctx, other)
	require.NoError(t, err)
	voucher, err := f.vouchers.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), voucher.SequenceNumber)
}

func TestProposeRejectsSingleLine(t *testing.T) {
	f := newPostingFixture()
	draft := balancedDraft()
	draft.Lines = draft.Lines[:1]

	_, err := f.service.Propose(context.Background(), draft)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeValidation, apperrors.Code(err))
}

func TestProposeRejectsBothSidesSet(t *testing.T) {
	f := newPostingFixture()
	draft := balancedDraft()
	draft.Lines[0].Credit = 100

	_, err := f.service.Propose(context.Background(), draft)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeValidation, apperrors.Code(err))
}

func TestProposeRejectsNegativeAmount(t *testing.T) {
	f := newPostingFixture()
	draft := balancedDraft()
	draft.Lines[0].Debit = -150000

	_, err := f.service.Propose(context.Background(), draft)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeValidation, apperrors.Code(err))
}

func TestProposeBalanceTolerance(t *testing.T) {
	f := newPostingFixture()
	ctx := context.Background()

	// One cent off is within rounding tolerance.
	draft := balancedDraft()
	draft.Lines[1].Credit = 149999
	_, err := f.service.Propose(ctx, draft)
	assert.NoError(t, err)

	// Two cents is not.
	draft = balancedDraft()
	draft.Lines[1].Credit = 149998
	_, err = f.service.Propose(ctx, draft)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeUnbalanced, apperrors.Code(err))
}

func TestProposeRejectsClosedPeriod(t *testing.T) {
	f := newPostingFixture()
	f.periods.close("client-1", 2026, 5)

	_, err := f.service.Propose(context.Background(), balancedDraft())
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodePeriodClosed, apperrors.Code(err))

	// Nothing was persisted.
	assert.Empty(t, f.vouchers.vouchers)
	assert.Empty(t, f.audit.entries)
}

func TestProposeRejectsPeriodClosedDuringCommit(t *testing.T) {
	f := newPostingFixture()
	f.vouchers.periods = f.periods

	// The period closes after validation has passed but before the voucher
	// store commits; the store's own period check must still reject it.
	f.vouchers.beforeCreate = func() {
		f.periods.close("client-1", 2026, 5)
	}

	_, err := f.service.Propose(context.Background(), balancedDraft())
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodePeriodClosed, apperrors.Code(err))
	assert.Empty(t, f.vouchers.vouchers)
}

func TestProposeRejectsUnknownAccount(t *testing.T) {
	f := newPostingFixture()
	draft := balancedDraft()
	draft.Lines[0].Account = "9999"

	_, err := f.service.Propose(context.Background(), draft)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeUnknownAccount, apperrors.Code(err))
}

func TestProposeValidationOrder(t *testing.T) {
	f := newPostingFixture()
	f.periods.close("client-1", 2026, 5)

	// Unbalanced and in a closed period: the balance check fires first.
	draft := balancedDraft()
	draft.Lines[1].Credit = 100000
	_, err := f.service.Propose(context.Background(), draft)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeUnbalanced, apperrors.Code(err))
}

func TestReverseCreatesBalancingVoucher(t *testing.T) {
	f := newPostingFixture()
	ctx := context.Background()

	originalID, err := f.service.Propose(ctx, balancedDraft())
	require.NoError(t, err)

	reversalID, err := f.service.Reverse(ctx, originalID, "tenant-1", "reviewer@firm.no")
	require.NoError(t, err)

	reversal, err := f.vouchers.GetByID(ctx, reversalID)
	require.NoError(t, err)
	require.NotNil(t, reversal.ReversesID)
	assert.Equal(t, originalID, *reversal.ReversesID)

	// Sides swapped.
	assert.Equal(t, int64(0), reversal.Lines[0].Debit)
	assert.Equal(t, int64(150000), reversal.Lines[0].Credit)
	assert.Equal(t, int64(150000), reversal.Lines[1].Debit)

	original, err := f.vouchers.GetByID(ctx, originalID)
	require.NoError(t, err)
	assert.True(t, original.IsReversed)

	actions := f.audit.actions("voucher")
	assert.Contains(t, actions, "reversed")
}

func TestReverseTwiceConflicts(t *testing.T) {
	f := newPostingFixture()
	ctx := context.Background()

	originalID, err := f.service.Propose(ctx, balancedDraft())
	require.NoError(t, err)

	_, err = f.service.Reverse(ctx, originalID, "tenant-1", "reviewer@firm.no")
	require.NoError(t, err)

	_, err = f.service.Reverse(ctx, originalID, "tenant-1", "reviewer@firm.no")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeConflict, apperrors.Code(err))
}
