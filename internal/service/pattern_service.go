package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/glennhaavar-prog/ai-erp-sub003/internal/logger"
	"github.com/glennhaavar-prog/ai-erp-sub003/internal/repository"
)

// Pattern policy constants. Tunable, not laws: a pattern needs
// synthesisThreshold similar corrections to be born, and dies once its
// success rate drops below deactivationFloor with at least
// deactivationMinSample applications behind it.
const (
	synthesisThreshold     = 3
	deactivationFloor      = 0.5
	deactivationMinSample  = 10
	defaultConfidenceBoost = 15
)

// PatternService owns pattern synthesis from corrections and the running
// success-rate statistics of applied patterns.
type PatternService struct {
	patterns    PatternStore
	corrections CorrectionStore
	audit       AuditLog
	notifier    Notifier
	log         *logger.Logger
}

// NewPatternService creates a new PatternService.
func NewPatternService(
	patterns PatternStore,
	corrections CorrectionStore,
	audit AuditLog,
	notifier Notifier,
	log *logger.Logger,
) *PatternService {
	return &PatternService{
		patterns:    patterns,
		corrections: corrections,
		audit:       audit,
		notifier:    notifier,
		log:         log,
	}
}

// SimilarityKey builds the grouping key pattern synthesis clusters
// corrections by: normalized counterparty plus the corrected debit account.
func SimilarityKey(counterparty, debitAccount string) string {
	return strings.ToLower(strings.TrimSpace(counterparty)) + "|" + debitAccount
}

// SynthesizeForTenant groups the tenant's unconsumed corrections and creates
// or updates a pattern for every group that reached the threshold. Returns
// the ids of patterns touched. New patterns influence only future decisions;
// already-created decisions are never revisited.
func (s *PatternService) SynthesizeForTenant(ctx context.Context, tenantID string) ([]string, error) {
	groups, err := s.corrections.ListGroupsReady(ctx, tenantID, synthesisThreshold)
	if err != nil {
		return nil, err
	}

	var touched []string
	for _, group := range groups {
		id, err := s.synthesizeGroup(ctx, group)
		if err != nil {
			return touched, err
		}
		if id != "" {
			touched = append(touched, id)
		}
	}
	return touched, nil
}

// correctedEntry is the slice of a correction's corrected_entry JSON that
// synthesis needs.
type correctedEntry struct {
	Counterparty string `json:"counterparty"`
	Lines        []struct {
		Account string  `json:"account"`
		Debit   int64   `json:"debit"`
		Credit  int64   `json:"credit"`
		VATCode *string `json:"vat_code"`
	} `json:"lines"`
}

func (s *PatternService) synthesizeGroup(ctx context.Context, group *repository.SimilarityGroup) (string, error) {
	corrections, err := s.corrections.ListByKey(ctx, group.TenantID, group.SimilarityKey)
	if err != nil {
		return "", err
	}
	if len(corrections) < synthesisThreshold {
		return "", nil
	}

	counterparty, action, err := deriveAction(corrections)
	if err != nil {
		s.log.Warn().Err(err).
			Str("similarity_key", group.SimilarityKey).
			Msg("Skipping correction group with unusable corrected entries")
		return "", nil
	}

	consumedIDs := make([]string, 0, len(corrections))
	fromDecisions := make([]string, 0, len(corrections))
	for _, c := range corrections {
		consumedIDs = append(consumedIDs, c.ID)
		fromDecisions = append(fromDecisions, c.ReviewItemID)
	}

	existing, err := s.patterns.FindByTriggerCounterparty(ctx, counterparty)
	if err != nil {
		return "", err
	}

	var patternID string
	if existing != nil {
		if err := s.patterns.UpdateAction(ctx, existing.ID, action, fromDecisions); err != nil {
			return "", err
		}
		patternID = existing.ID

		s.log.Info().
			Str("pattern_id", patternID).
			Str("counterparty", counterparty).
			Int("corrections", len(corrections)).
			Msg("Pattern re-learned from corrections")
	} else {
		// The corrections that formed the pattern count as correct
		// applications, so a fresh pattern starts with a perfect record.
		pattern := &repository.Pattern{
			PatternType:     "account_mapping",
			Trigger:         repository.PatternTrigger{Counterparty: counterparty},
			Action:          action,
			Scope:           repository.PatternScopeGlobal,
			SuccessRate:     1.0,
			TimesApplied:    len(corrections),
			TimesCorrect:    len(corrections),
			ConfidenceBoost: defaultConfidenceBoost,
			IsActive:        true,
			CreatedFrom:     fromDecisions,
		}
		if err := s.patterns.Create(ctx, pattern); err != nil {
			return "", err
		}
		patternID = pattern.ID

		s.appendAudit(ctx, &repository.AuditEntry{
			TenantID:      group.TenantID,
			SubjectID:     patternID,
			SubjectType:   "pattern",
			Action:        "created",
			PerformerKind: repository.PerformerAutomation,
			Details: map[string]any{
				"counterparty":  counterparty,
				"debit_account": action.DebitAccount,
				"corrections":   len(corrections),
			},
		})
		if s.notifier != nil {
			s.notifier.Publish(ctx, "pattern_created", group.TenantID, "pattern", patternID, map[string]any{
				"counterparty": counterparty,
			})
		}

		s.log.Info().
			Str("pattern_id", patternID).
			Str("counterparty", counterparty).
			Int("corrections", len(corrections)).
			Msg("Pattern created from corrections")
	}

	if err := s.corrections.MarkConsumed(ctx, consumedIDs); err != nil {
		return "", err
	}
	return patternID, nil
}

// deriveAction extracts the shared counterparty and corrected accounts from
// a correction group. The group key guarantees a shared debit account; the
// credit side and VAT code come from the newest correction.
func deriveAction(corrections []*repository.Correction) (string, repository.PatternAction, error) {
	latest := corrections[len(corrections)-1]

	var entry correctedEntry
	if err := json.Unmarshal(latest.CorrectedEntry, &entry); err != nil {
		return "", repository.PatternAction{}, fmt.Errorf("unmarshal corrected entry: %w", err)
	}
	if entry.Counterparty == "" {
		return "", repository.PatternAction{}, fmt.Errorf("corrected entry has no counterparty")
	}

	action := repository.PatternAction{}
	for _, line := range entry.Lines {
		if line.Debit > 0 && action.DebitAccount == "" {
			action.DebitAccount = line.Account
			if line.VATCode != nil {
				action.VATCode = *line.VATCode
			}
		}
		if line.Credit > 0 && action.CreditAccount == "" {
			action.CreditAccount = line.Account
		}
	}
	if action.DebitAccount == "" {
		return "", repository.PatternAction{}, fmt.Errorf("corrected entry has no debit line")
	}

	return entry.Counterparty, action, nil
}

// RecordOutcomes registers one application outcome for each pattern a
// decision used, and deactivates any pattern that has fallen below the
// success-rate floor with a meaningful sample.
func (s *PatternService) RecordOutcomes(ctx context.Context, tenantID string, patternIDs []string, correct bool) {
	for _, id := range patternIDs {
		updated, err := s.patterns.RecordApplication(ctx, id, correct)
		if err != nil {
			s.log.Warn().Err(err).Str("pattern_id", id).Msg("Failed to record pattern application")
			continue
		}

		if updated.IsActive &&
			updated.TimesApplied >= deactivationMinSample &&
			updated.SuccessRate < deactivationFloor {
			if err := s.patterns.Deactivate(ctx, id); err != nil {
				s.log.Warn().Err(err).Str("pattern_id", id).Msg("Failed to deactivate pattern")
				continue
			}
			s.appendAudit(ctx, &repository.AuditEntry{
				TenantID:      tenantID,
				SubjectID:     id,
				SubjectType:   "pattern",
				Action:        "deactivated",
				PerformerKind: repository.PerformerAutomation,
				Details: map[string]any{
					"success_rate":  updated.SuccessRate,
					"times_applied": updated.TimesApplied,
				},
			})
			s.log.Info().
				Str("pattern_id", id).
				Float64("success_rate", updated.SuccessRate).
				Int("times_applied", updated.TimesApplied).
				Msg("Pattern deactivated below success-rate floor")
		}
	}
}

func (s *PatternService) appendAudit(ctx context.Context, entry *repository.AuditEntry) {
	if err := s.audit.Append(ctx, entry); err != nil {
		s.log.Warn().Err(err).
			Str("subject_id", entry.SubjectID).
			Str("action", entry.Action).
			Msg("Failed to write audit log entry")
	}
}
