package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glennhaavar-prog/ai-erp-sub003/internal/repository"
)

func familiarInput() (DecisionInput, HistoricalContext) {
	input := DecisionInput{
		Counterparty:  "Acme AS",
		Amount:        150000,
		Currency:      "NOK",
		InvoiceDate:   "2026-05-10",
		DueDate:       "2026-06-10",
		DebitAccount:  "6540",
		CreditAccount: "2400",
	}
	history := HistoricalContext{
		DecisionCount:   12,
		CorrectCount:    11,
		AvgAmount:       150000,
		TopDebitAccount: "6540",
		ActiveAccounts:  map[string]bool{"6540": true, "2400": true},
	}
	return input, history
}

func TestScoreDecisionDeterministic(t *testing.T) {
	input, history := familiarInput()

	first := ScoreDecision(input, history, nil)
	for i := 0; i < 10; i++ {
		again := ScoreDecision(input, history, nil)
		assert.Equal(t, first.Score, again.Score)
		assert.Equal(t, first.Reasoning, again.Reasoning)
		assert.Equal(t, first.IssueCategory, again.IssueCategory)
	}
}

func TestScoreDecisionFamiliarCounterpartyScoresHigh(t *testing.T) {
	input, history := familiarInput()

	result := ScoreDecision(input, history, nil)

	// All five signals are at their maximum: 0.25+0.20+0.20+0.15+0.20 = 1.0.
	assert.Equal(t, 100, result.Score)
	assert.Empty(t, result.PatternsUsed)
}

func TestScoreDecisionUnknownCounterpartyScoresLow(t *testing.T) {
	input, history := familiarInput()
	history.DecisionCount = 0
	history.CorrectCount = 0
	history.AvgAmount = 0
	history.TopDebitAccount = ""

	result := ScoreDecision(input, history, nil)

	// familiarity 0, plausibility 0.5, structural 0.5:
	// 0 + 0.20 + 0.10 + 0.075 + 0.20 = 0.575
	assert.Equal(t, 58, result.Score)
	assert.Less(t, result.Score, 85)
	assert.Equal(t, repository.IssueUnknownVendor, result.IssueCategory)
}

func TestScoreDecisionPatternBoost(t *testing.T) {
	input, history := familiarInput()
	history.DecisionCount = 5 // familiarity 0.5 keeps the base below 100

	base := ScoreDecision(input, history, nil)

	pattern := &repository.Pattern{
		ID:              "pattern-1",
		Trigger:         repository.PatternTrigger{Counterparty: "Acme AS"},
		ConfidenceBoost: 15,
		IsActive:        true,
	}
	boosted := ScoreDecision(input, history, []*repository.Pattern{pattern})

	require.Equal(t, []string{"pattern-1"}, boosted.PatternsUsed)
	assert.Equal(t, min(base.Score+15, 100), boosted.Score)
}

func TestScoreDecisionBoostClampedAt100(t *testing.T) {
	input, history := familiarInput()

	patterns := []*repository.Pattern{
		{ID: "p1", Trigger: repository.PatternTrigger{Counterparty: "Acme AS"}, ConfidenceBoost: 50, IsActive: true},
		{ID: "p2", Trigger: repository.PatternTrigger{Counterparty: "Acme AS"}, ConfidenceBoost: 50, IsActive: true},
	}
	result := ScoreDecision(input, history, patterns)

	assert.Equal(t, 100, result.Score)
	assert.Len(t, result.PatternsUsed, 2)
}

func TestScoreDecisionInactivePatternIgnored(t *testing.T) {
	input, history := familiarInput()
	history.DecisionCount = 5

	pattern := &repository.Pattern{
		ID:              "p1",
		Trigger:         repository.PatternTrigger{Counterparty: "Acme AS"},
		ConfidenceBoost: 15,
		IsActive:        false,
	}
	result := ScoreDecision(input, history, []*repository.Pattern{pattern})

	assert.Empty(t, result.PatternsUsed)
}

func TestScoreDecisionAmountAnomaly(t *testing.T) {
	input, history := familiarInput()
	input.Amount = history.AvgAmount * 10

	result := ScoreDecision(input, history, nil)

	assert.Equal(t, 0.0, result.Breakdown["amount_plausibility"])
	assert.Equal(t, repository.IssueAmountAnomaly, result.IssueCategory)
}

func TestScoreDecisionValidationIssues(t *testing.T) {
	input, history := familiarInput()
	input.InvoiceDate = "not-a-date"
	input.DueDate = ""
	input.Currency = "NORWEGIAN"

	result := ScoreDecision(input, history, nil)

	// 4 of 7 checks pass.
	assert.InDelta(t, 4.0/7.0, result.Breakdown["validation_conformance"], 1e-9)
	assert.Equal(t, repository.IssueValidationFailed, result.IssueCategory)
}

func TestScoreDecisionUnusualStructure(t *testing.T) {
	input, history := familiarInput()
	input.DebitAccount = "7790"
	history.ActiveAccounts["7790"] = true

	result := ScoreDecision(input, history, nil)

	assert.Equal(t, 0.2, result.Breakdown["structural_similarity"])
	assert.Equal(t, repository.IssueUnusualStructure, result.IssueCategory)
}

func TestScoreDecisionInactiveAccount(t *testing.T) {
	input, history := familiarInput()
	delete(history.ActiveAccounts, "2400")

	result := ScoreDecision(input, history, nil)

	assert.Equal(t, 0.5, result.Breakdown["account_consistency"])
}

func TestPatternMatchesAmountBounds(t *testing.T) {
	minAmount := int64(100000)
	maxAmount := int64(200000)
	p := &repository.Pattern{
		Trigger: repository.PatternTrigger{
			Counterparty: "Acme AS",
			MinAmount:    &minAmount,
			MaxAmount:    &maxAmount,
		},
	}

	assert.True(t, p.Matches("acme as", 150000))
	assert.False(t, p.Matches("Acme AS", 99999))
	assert.False(t, p.Matches("Acme AS", 200001))
	assert.False(t, p.Matches("Other AS", 150000))
}
