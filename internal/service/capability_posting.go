package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/glennhaavar-prog/ai-erp-sub003/internal/apperrors"
	"github.com/glennhaavar-prog/ai-erp-sub003/internal/client"
	"github.com/glennhaavar-prog/ai-erp-sub003/internal/logger"
	"github.com/glennhaavar-prog/ai-erp-sub003/internal/repository"
)

// rateScale is the fixed-point factor the currency service returns rates in.
const rateScale = 1_000_000

// suggestionResult is the task result of a posting-suggestion run.
type suggestionResult struct {
	DecisionID   string `json:"decision_id"`
	Confidence   int    `json:"confidence"`
	AutoPosted   bool   `json:"auto_posted"`
	VoucherID    string `json:"voucher_id,omitempty"`
	ReviewItemID string `json:"review_item_id,omitempty"`
}

// PostingSuggestionCapability drafts a ledger posting for a parsed document,
// scores it, and either commits it through the posting engine or parks it in
// the review queue. The confidence gate is the client's auto_post_threshold,
// falling back to the engine-wide default when the client has none.
type PostingSuggestionCapability struct {
	clients   ClientDirectory
	accounts  AccountDirectory
	decisions DecisionStore
	patterns  PatternStore
	reviews   ReviewStore
	posting   PostingEngine
	learning  *PatternService
	reasoner  client.Reasoner
	rates     client.RateSource
	notifier  Notifier
	log       *logger.Logger

	defaultThreshold int
}

func NewPostingSuggestionCapability(
	clients ClientDirectory,
	accounts AccountDirectory,
	decisions DecisionStore,
	patterns PatternStore,
	reviews ReviewStore,
	posting PostingEngine,
	learning *PatternService,
	reasoner client.Reasoner,
	rates client.RateSource,
	notifier Notifier,
	defaultThreshold int,
	log *logger.Logger,
) *PostingSuggestionCapability {
	return &PostingSuggestionCapability{
		clients:          clients,
		accounts:         accounts,
		decisions:        decisions,
		patterns:         patterns,
		reviews:          reviews,
		posting:          posting,
		learning:         learning,
		reasoner:         reasoner,
		rates:            rates,
		notifier:         notifier,
		defaultThreshold: defaultThreshold,
		log:              log,
	}
}

func (c *PostingSuggestionCapability) Name() repository.Capability {
	return repository.CapabilityPostingSuggestion
}

func (c *PostingSuggestionCapability) Execute(ctx context.Context, task *repository.Task) (json.RawMessage, error) {
	var doc documentParsedPayload
	if err := json.Unmarshal(task.Payload, &doc); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "invalid document.parsed payload")
	}
	if doc.ClientID == "" || doc.Counterparty == "" {
		return nil, apperrors.InvalidInput("payload", "client_id and counterparty are required")
	}

	cl, err := c.clients.GetByID(ctx, doc.ClientID)
	if err != nil {
		return nil, err
	}

	if err := c.normalizeCurrency(ctx, &doc, cl.BaseCurrency); err != nil {
		return nil, err
	}

	stats, err := c.decisions.GetCounterpartyStats(ctx, task.TenantID, doc.Counterparty)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to load counterparty history")
	}

	activeAccounts, err := c.accounts.ActiveCodes(ctx, cl.ID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to load chart of accounts")
	}

	activePatterns, err := c.patterns.ListActive(ctx, cl.ID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to load active patterns")
	}

	draft, err := c.draftDecision(ctx, cl, &doc, stats, activeAccounts)
	if err != nil {
		return nil, err
	}

	history := HistoricalContext{
		DecisionCount:  stats.DecisionCount,
		CorrectCount:   stats.CorrectCount,
		AvgAmount:      stats.AvgAmount,
		ActiveAccounts: activeAccounts,
	}
	if stats.TopDebitAccount != nil {
		history.TopDebitAccount = *stats.TopDebitAccount
	}

	conf := ScoreDecision(DecisionInput{
		Counterparty:  doc.Counterparty,
		Amount:        doc.GrossAmount,
		Currency:      doc.Currency,
		InvoiceDate:   doc.InvoiceDate,
		DueDate:       doc.DueDate,
		DebitAccount:  draft.DebitAccount,
		CreditAccount: draft.CreditAccount,
	}, history, activePatterns)

	decision := &repository.Decision{
		TenantID:        task.TenantID,
		Capability:      repository.CapabilityPostingSuggestion,
		SourceType:      "document",
		SourceID:        doc.SourceID,
		InputData:       task.Payload,
		Decision:        mustJSON(draft),
		ConfidenceScore: conf.Score,
		Reasoning:       conf.Reasoning,
		PatternsUsed:    conf.PatternsUsed,
	}
	if err := c.decisions.Create(ctx, decision); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to persist decision")
	}

	voucherDraft := c.buildVoucherDraft(task.TenantID, cl, &doc, draft, decision.ID, conf.Score)

	threshold := cl.AutoPostThreshold
	if threshold <= 0 {
		threshold = c.defaultThreshold
	}
	if conf.Score >= threshold {
		return c.autoPost(ctx, task, decision, voucherDraft, conf)
	}
	return c.park(ctx, task, decision, voucherDraft, conf, conf.IssueCategory, nil)
}

// normalizeCurrency converts amounts into the client's base currency when the
// invoice is billed in another one.
func (c *PostingSuggestionCapability) normalizeCurrency(ctx context.Context, doc *documentParsedPayload, base string) error {
	if doc.Currency == "" || doc.Currency == base {
		doc.Currency = base
		return nil
	}

	date := doc.InvoiceDate
	var rate int64
	var err error
	if date != "" {
		rate, err = c.rates.Rate(ctx, doc.Currency, base, date)
	} else {
		rate, err = c.rates.Rate(ctx, doc.Currency, base, "")
	}
	if err != nil {
		return apperrors.Wrap(err, apperrors.Code(err), "failed to obtain exchange rate")
	}
	if rate <= 0 {
		return apperrors.Newf(apperrors.ErrCodeInvalidInput, "non-positive exchange rate %d for %s/%s", rate, doc.Currency, base)
	}

	doc.NetAmount = doc.NetAmount * rate / rateScale
	doc.VATAmount = doc.VATAmount * rate / rateScale
	doc.GrossAmount = doc.GrossAmount * rate / rateScale
	doc.Currency = base
	return nil
}

// draftDecision obtains a posting proposal from the reasoning service,
// seeding it with the counterparty's historical debit account.
func (c *PostingSuggestionCapability) draftDecision(
	ctx context.Context,
	cl *repository.Client,
	doc *documentParsedPayload,
	stats *repository.CounterpartyStats,
	activeAccounts map[string]bool,
) (*client.DraftDecision, error) {
	req := &client.ProposalContext{
		ClientID:     cl.ID,
		Counterparty: doc.Counterparty,
		Amount:       doc.GrossAmount,
		VATAmount:    doc.VATAmount,
		Currency:     doc.Currency,
		FreeText:     doc.FreeText,
	}
	if stats.TopDebitAccount != nil {
		req.HistoricalDebits = []string{*stats.TopDebitAccount}
	}
	for code := range activeAccounts {
		req.ActiveAccounts = append(req.ActiveAccounts, code)
	}

	draft, err := c.reasoner.Propose(ctx, req)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.Code(err), "failed to obtain posting proposal")
	}
	if draft.DebitAccount == "" || draft.CreditAccount == "" {
		return nil, apperrors.InvalidInput("proposal", "reasoning service returned incomplete accounts")
	}
	return draft, nil
}

func (c *PostingSuggestionCapability) buildVoucherDraft(
	tenantID string,
	cl *repository.Client,
	doc *documentParsedPayload,
	draft *client.DraftDecision,
	decisionID string,
	confidence int,
) *VoucherDraft {
	description := draft.Description
	if description == "" {
		description = fmt.Sprintf("Invoice %s from %s", doc.InvoiceNumber, doc.Counterparty)
	}

	debitLine := &DraftLine{
		Account:   draft.DebitAccount,
		Debit:     doc.GrossAmount,
		VATAmount: doc.VATAmount,
	}
	if draft.VATCode != "" {
		code := draft.VATCode
		debitLine.VATCode = &code
	}

	return &VoucherDraft{
		TenantID:       tenantID,
		ClientID:       cl.ID,
		SeriesCode:     "EF",
		EntryDate:      doc.InvoiceDate,
		AccountingDate: doc.InvoiceDate,
		Description:    description,
		Currency:       doc.Currency,
		Counterparty:   doc.Counterparty,
		SourceType:     "decision",
		SourceID:       decisionID,
		Lines: []*DraftLine{
			debitLine,
			{Account: draft.CreditAccount, Credit: doc.GrossAmount},
		},
		PerformerKind: repository.PerformerAutomation,
		Confidence:    &confidence,
	}
}

// autoPost commits the draft. A validation rejection is not retryable; it
// parks the draft in the review queue instead.
func (c *PostingSuggestionCapability) autoPost(
	ctx context.Context,
	task *repository.Task,
	decision *repository.Decision,
	draft *VoucherDraft,
	conf ConfidenceResult,
) (json.RawMessage, error) {
	voucherID, err := c.posting.Propose(ctx, draft)
	if err != nil {
		if apperrors.IsValidation(err) {
			detail := err.Error()
			return c.park(ctx, task, decision, draft, conf, repository.IssueValidationFailed, &detail)
		}
		return nil, err
	}

	// The commit counts as a correct application for every pattern that
	// contributed; a later human correction flips them through feedback.
	if len(conf.PatternsUsed) > 0 {
		c.learning.RecordOutcomes(ctx, task.TenantID, conf.PatternsUsed, true)
	}

	c.log.Info().
		Str("task_id", task.ID).
		Str("decision_id", decision.ID).
		Str("voucher_id", voucherID).
		Int("confidence", conf.Score).
		Msg("Posting auto-committed")

	return mustJSON(suggestionResult{
		DecisionID: decision.ID,
		Confidence: conf.Score,
		AutoPosted: true,
		VoucherID:  voucherID,
	}), nil
}

// park creates a review item carrying the proposed draft so a human can
// approve, correct or reject it.
func (c *PostingSuggestionCapability) park(
	ctx context.Context,
	task *repository.Task,
	decision *repository.Decision,
	draft *VoucherDraft,
	conf ConfidenceResult,
	issueCategory string,
	detail *string,
) (json.RawMessage, error) {
	if detail == nil {
		d := conf.Reasoning
		detail = &d
	}

	item := &repository.ReviewItem{
		TenantID:      task.TenantID,
		SourceType:    "decision",
		SourceID:      decision.ID,
		DecisionID:    &decision.ID,
		Priority:      task.Priority,
		IssueCategory: issueCategory,
		AISuggestion:  mustJSON(draft),
		AIConfidence:  conf.Score,
		Details:       detail,
	}
	if err := c.reviews.Create(ctx, item); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to create review item")
	}

	if c.notifier != nil {
		c.notifier.Publish(ctx, "review_item_created", task.TenantID, "review_item", item.ID, map[string]any{
			"issue_category": issueCategory,
			"confidence":     conf.Score,
			"decision_id":    decision.ID,
		})
	}

	c.log.Info().
		Str("task_id", task.ID).
		Str("decision_id", decision.ID).
		Str("review_item_id", item.ID).
		Str("issue_category", issueCategory).
		Int("confidence", conf.Score).
		Msg("Posting parked for review")

	return mustJSON(suggestionResult{
		DecisionID:   decision.ID,
		Confidence:   conf.Score,
		AutoPosted:   false,
		ReviewItemID: item.ID,
	}), nil
}
