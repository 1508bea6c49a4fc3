package service

import (
	"context"
	"encoding/json"

	"github.com/glennhaavar-prog/ai-erp-sub003/internal/apperrors"
	"github.com/glennhaavar-prog/ai-erp-sub003/internal/logger"
	"github.com/glennhaavar-prog/ai-erp-sub003/internal/repository"
)

// ReviewService is the human disposition surface of the review queue.
// Approve posts the original proposal, Correct posts the human's corrected
// proposal and records a Correction for the learning loop, Reject posts
// nothing. All three are terminal and audited.
type ReviewService struct {
	reviews     ReviewStore
	decisions   DecisionStore
	corrections CorrectionStore
	events      EventLog
	posting     PostingEngine
	patterns    *PatternService
	audit       AuditLog
	notifier    Notifier
	log         *logger.Logger
}

// NewReviewService creates a new ReviewService.
func NewReviewService(
	reviews ReviewStore,
	decisions DecisionStore,
	corrections CorrectionStore,
	events EventLog,
	posting PostingEngine,
	patterns *PatternService,
	audit AuditLog,
	notifier Notifier,
	log *logger.Logger,
) *ReviewService {
	return &ReviewService{
		reviews:     reviews,
		decisions:   decisions,
		corrections: corrections,
		events:      events,
		posting:     posting,
		patterns:    patterns,
		audit:       audit,
		notifier:    notifier,
		log:         log,
	}
}

// Approve posts the AI's original proposal and closes the review item.
func (s *ReviewService) Approve(ctx context.Context, reviewItemID, by string, notes *string) (voucherID string, err error) {
	item, err := s.openItem(ctx, reviewItemID)
	if err != nil {
		return "", err
	}

	draft, err := s.draftFromSuggestion(item)
	if err != nil {
		return "", err
	}
	draft.PerformerKind = repository.PerformerHuman
	draft.PerformerID = by

	voucherID, err = s.posting.Propose(ctx, draft)
	if err != nil {
		return "", err
	}

	if err := s.reviews.Resolve(ctx, item.ID, repository.ReviewStatusApproved, by, notes, item.ApplyToSimilar); err != nil {
		return "", err
	}

	s.recordDecisionFeedback(ctx, item, true, nil, notes)
	s.appendAudit(ctx, item, "approved", by, map[string]any{"voucher_id": voucherID})
	if s.notifier != nil {
		s.notifier.Publish(ctx, "review_item_resolved", item.TenantID, "review_item", item.ID, map[string]any{
			"resolution": repository.ReviewStatusApproved,
			"voucher_id": voucherID,
		})
	}

	s.log.Info().
		Str("review_item_id", item.ID).
		Str("voucher_id", voucherID).
		Str("approved_by", by).
		Msg("Review item approved")

	return voucherID, nil
}

// Correct posts the human's corrected proposal, closes the review item and
// writes a Correction record feeding pattern synthesis.
func (s *ReviewService) Correct(ctx context.Context, reviewItemID, by string, corrected *VoucherDraft, reason string, applyToSimilar bool) (voucherID string, err error) {
	if reason == "" {
		return "", apperrors.InvalidInput("reason", "correction reason is required")
	}

	item, err := s.openItem(ctx, reviewItemID)
	if err != nil {
		return "", err
	}

	corrected.PerformerKind = repository.PerformerHuman
	corrected.PerformerID = by

	voucherID, err = s.posting.Propose(ctx, corrected)
	if err != nil {
		return "", err
	}

	if err := s.reviews.Resolve(ctx, item.ID, repository.ReviewStatusCorrected, by, &reason, applyToSimilar); err != nil {
		return "", err
	}

	correctedJSON, err := json.Marshal(corrected)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to marshal corrected entry")
	}

	correction := &repository.Correction{
		TenantID:       item.TenantID,
		ReviewItemID:   item.ID,
		VoucherID:      &voucherID,
		SimilarityKey:  SimilarityKey(corrected.Counterparty, firstDebitAccount(corrected)),
		OriginalEntry:  item.AISuggestion,
		CorrectedEntry: correctedJSON,
		Reason:         reason,
		CorrectedBy:    by,
	}
	if err := s.corrections.Create(ctx, correction); err != nil {
		return "", err
	}

	s.recordDecisionFeedback(ctx, item, false, correctedJSON, &reason)

	// A fresh correction may complete a similarity group; the learning
	// capability picks this event up and runs synthesis.
	ev := &repository.Event{
		TenantID: item.TenantID,
		Type:     repository.EventCorrectionRecorded,
		Payload:  mustJSON(map[string]any{"correction_id": correction.ID}),
	}
	if err := s.events.Append(ctx, ev); err != nil {
		s.log.Warn().Err(err).Str("correction_id", correction.ID).Msg("Failed to append correction event")
	}

	s.appendAudit(ctx, item, "corrected", by, map[string]any{
		"voucher_id":    voucherID,
		"correction_id": correction.ID,
		"reason":        reason,
	})
	if s.notifier != nil {
		s.notifier.Publish(ctx, "review_item_resolved", item.TenantID, "review_item", item.ID, map[string]any{
			"resolution": repository.ReviewStatusCorrected,
			"voucher_id": voucherID,
		})
	}

	s.log.Info().
		Str("review_item_id", item.ID).
		Str("voucher_id", voucherID).
		Str("corrected_by", by).
		Msg("Review item corrected")

	return voucherID, nil
}

// Reject closes a review item without posting anything.
func (s *ReviewService) Reject(ctx context.Context, reviewItemID, by, reason string) error {
	if reason == "" {
		return apperrors.InvalidInput("reason", "rejection reason is required")
	}

	item, err := s.openItem(ctx, reviewItemID)
	if err != nil {
		return err
	}

	if err := s.reviews.Resolve(ctx, item.ID, repository.ReviewStatusRejected, by, &reason, item.ApplyToSimilar); err != nil {
		return err
	}

	s.recordDecisionFeedback(ctx, item, false, nil, &reason)
	s.appendAudit(ctx, item, "rejected", by, map[string]any{"reason": reason})
	if s.notifier != nil {
		s.notifier.Publish(ctx, "review_item_resolved", item.TenantID, "review_item", item.ID, map[string]any{
			"resolution": repository.ReviewStatusRejected,
		})
	}

	s.log.Info().
		Str("review_item_id", item.ID).
		Str("rejected_by", by).
		Str("reason", reason).
		Msg("Review item rejected")

	return nil
}

// ListPending returns open review items for a tenant.
func (s *ReviewService) ListPending(ctx context.Context, tenantID string, limit, offset int) ([]*repository.ReviewItem, error) {
	return s.reviews.ListPending(ctx, tenantID, limit, offset)
}

// GetItem returns one review item.
func (s *ReviewService) GetItem(ctx context.Context, id string) (*repository.ReviewItem, error) {
	return s.reviews.GetByID(ctx, id)
}

// ── helpers ──────────────────────────────────────────────────────────────────

func (s *ReviewService) openItem(ctx context.Context, id string) (*repository.ReviewItem, error) {
	item, err := s.reviews.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.Status != repository.ReviewStatusPending && item.Status != repository.ReviewStatusInProgress {
		return nil, apperrors.Newf(apperrors.ErrCodeConflict,
			"review item %s is already resolved (status: %s)", id, item.Status)
	}
	return item, nil
}

func (s *ReviewService) draftFromSuggestion(item *repository.ReviewItem) (*VoucherDraft, error) {
	// Only items parked by the posting-suggestion capability carry a voucher
	// draft. Reconciliation and processing-error items store other payloads
	// in ai_suggestion, which must not be posted as-is.
	if item.SourceType != "decision" || len(item.AISuggestion) == 0 {
		return nil, apperrors.Newf(apperrors.ErrCodeConflict,
			"review item %s carries no posting proposal; it can only be corrected or rejected", item.ID)
	}

	draft := &VoucherDraft{}
	if err := json.Unmarshal(item.AISuggestion, draft); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to unmarshal posting proposal")
	}
	return draft, nil
}

// recordDecisionFeedback writes human feedback onto the originating decision
// and updates the applied patterns' success statistics. Both are best-effort:
// failures are logged, never returned, so feedback bookkeeping cannot undo a
// committed resolution.
func (s *ReviewService) recordDecisionFeedback(ctx context.Context, item *repository.ReviewItem, correct bool, correctedDecision json.RawMessage, notes *string) {
	if item.DecisionID == nil {
		return
	}

	if err := s.decisions.RecordFeedback(ctx, *item.DecisionID, correct, correctedDecision, notes); err != nil {
		s.log.Warn().Err(err).Str("decision_id", *item.DecisionID).Msg("Failed to record decision feedback")
	}

	decision, err := s.decisions.GetByID(ctx, *item.DecisionID)
	if err != nil {
		s.log.Warn().Err(err).Str("decision_id", *item.DecisionID).Msg("Failed to load decision for pattern outcomes")
		return
	}
	if len(decision.PatternsUsed) > 0 {
		s.patterns.RecordOutcomes(ctx, item.TenantID, decision.PatternsUsed, correct)
	}
}

func (s *ReviewService) appendAudit(ctx context.Context, item *repository.ReviewItem, action, by string, details map[string]any) {
	entry := &repository.AuditEntry{
		TenantID:      item.TenantID,
		SubjectID:     item.ID,
		SubjectType:   "review_item",
		Action:        action,
		PerformerKind: repository.PerformerHuman,
		PerformerID:   &by,
		Details:       details,
	}
	if err := s.audit.Append(ctx, entry); err != nil {
		s.log.Warn().Err(err).
			Str("review_item_id", item.ID).
			Str("action", action).
			Msg("Failed to write audit log entry")
	}
}

func firstDebitAccount(draft *VoucherDraft) string {
	for _, line := range draft.Lines {
		if line.Debit > 0 {
			return line.Account
		}
	}
	return ""
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}
