package service

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/glennhaavar-prog/ai-erp-sub003/internal/repository"
)

// The confidence model is a pure function: the same inputs always produce
// the same score. Five independent signals, each in [0,1], are combined with
// fixed weights; matching active patterns then add their boost, clamped to
// the 0–100 range.
//
// Weights (sum 1.0):
//
//	counterparty familiarity  0.25
//	validation conformance    0.20
//	amount plausibility       0.20
//	structural similarity     0.15
//	account consistency       0.20
const (
	weightFamiliarity  = 0.25
	weightValidation   = 0.20
	weightPlausibility = 0.20
	weightStructural   = 0.15
	weightConsistency  = 0.20
)

// familiaritySaturation is the decision count at which a counterparty is
// considered fully familiar.
const familiaritySaturation = 10

// DecisionInput is the proposed decision being scored.
type DecisionInput struct {
	Counterparty  string
	Amount        int64 // cents, gross
	Currency      string
	InvoiceDate   string // YYYY-MM-DD
	DueDate       string // YYYY-MM-DD
	DebitAccount  string
	CreditAccount string
}

// HistoricalContext carries the tenant's prior behavior with this
// counterparty plus the client's chart of accounts.
type HistoricalContext struct {
	DecisionCount   int
	CorrectCount    int
	AvgAmount       int64 // cents
	TopDebitAccount string
	ActiveAccounts  map[string]bool
}

// ConfidenceResult is the scored outcome.
type ConfidenceResult struct {
	Score         int // 0–100
	Reasoning     string
	PatternsUsed  []string
	Breakdown     map[string]float64 // signal name → [0,1] value
	IssueCategory string             // dominant low signal, for review routing
}

// ScoreDecision evaluates a proposed posting decision against history and
// active patterns.
func ScoreDecision(input DecisionInput, history HistoricalContext, patterns []*repository.Pattern) ConfidenceResult {
	breakdown := map[string]float64{
		"counterparty_familiarity": signalFamiliarity(history),
		"validation_conformance":   signalValidation(input),
		"amount_plausibility":      signalPlausibility(input, history),
		"structural_similarity":    signalStructural(input, history),
		"account_consistency":      signalConsistency(input, history),
	}

	weighted := weightFamiliarity*breakdown["counterparty_familiarity"] +
		weightValidation*breakdown["validation_conformance"] +
		weightPlausibility*breakdown["amount_plausibility"] +
		weightStructural*breakdown["structural_similarity"] +
		weightConsistency*breakdown["account_consistency"]

	score := int(weighted*100 + 0.5)

	var patternsUsed []string
	for _, p := range patterns {
		if !p.IsActive || !p.Matches(input.Counterparty, input.Amount) {
			continue
		}
		score += p.ConfidenceBoost
		patternsUsed = append(patternsUsed, p.ID)
	}
	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}

	return ConfidenceResult{
		Score:         score,
		Reasoning:     buildReasoning(breakdown, patternsUsed, score),
		PatternsUsed:  patternsUsed,
		Breakdown:     breakdown,
		IssueCategory: dominantIssue(breakdown),
	}
}

// signalFamiliarity saturates at familiaritySaturation prior decisions.
func signalFamiliarity(history HistoricalContext) float64 {
	if history.DecisionCount <= 0 {
		return 0
	}
	v := float64(history.DecisionCount) / familiaritySaturation
	if v > 1 {
		v = 1
	}
	return v
}

// signalValidation is the fraction of structural checks the input passes.
func signalValidation(input DecisionInput) float64 {
	checks := []bool{
		strings.TrimSpace(input.Counterparty) != "",
		input.Amount > 0,
		len(input.Currency) == 3,
		validDate(input.InvoiceDate),
		validDate(input.DueDate),
		input.DebitAccount != "",
		input.CreditAccount != "",
	}

	passed := 0
	for _, ok := range checks {
		if ok {
			passed++
		}
	}
	return float64(passed) / float64(len(checks))
}

// signalPlausibility compares the amount to the counterparty's historical
// mean. No history means no evidence either way.
func signalPlausibility(input DecisionInput, history HistoricalContext) float64 {
	if history.DecisionCount == 0 || history.AvgAmount <= 0 {
		return 0.5
	}

	diff := input.Amount - history.AvgAmount
	if diff < 0 {
		diff = -diff
	}
	ratio := float64(diff) / float64(history.AvgAmount)
	if ratio >= 1 {
		return 0
	}
	return 1 - ratio
}

// signalStructural rewards reusing the counterparty's usual debit account.
func signalStructural(input DecisionInput, history HistoricalContext) float64 {
	if history.TopDebitAccount == "" {
		return 0.5
	}
	if input.DebitAccount == history.TopDebitAccount {
		return 1
	}
	return 0.2
}

// signalConsistency checks both target accounts exist and are active.
func signalConsistency(input DecisionInput, history HistoricalContext) float64 {
	if history.ActiveAccounts == nil {
		return 0
	}
	v := 0.0
	if history.ActiveAccounts[input.DebitAccount] {
		v += 0.5
	}
	if history.ActiveAccounts[input.CreditAccount] {
		v += 0.5
	}
	return v
}

// dominantIssue maps the weakest signal to a review issue category.
func dominantIssue(breakdown map[string]float64) string {
	categories := map[string]string{
		"counterparty_familiarity": repository.IssueUnknownVendor,
		"validation_conformance":   repository.IssueValidationFailed,
		"amount_plausibility":      repository.IssueAmountAnomaly,
		"structural_similarity":    repository.IssueUnusualStructure,
		"account_consistency":      repository.IssueAccountMismatch,
	}

	// Sorted iteration keeps ties deterministic.
	names := make([]string, 0, len(breakdown))
	for name := range breakdown {
		names = append(names, name)
	}
	sort.Strings(names)

	lowest := names[0]
	for _, name := range names[1:] {
		if breakdown[name] < breakdown[lowest] {
			lowest = name
		}
	}
	return categories[lowest]
}

func buildReasoning(breakdown map[string]float64, patternsUsed []string, score int) string {
	names := make([]string, 0, len(breakdown))
	for name := range breakdown {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names)+1)
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s=%.2f", name, breakdown[name]))
	}
	if len(patternsUsed) > 0 {
		parts = append(parts, fmt.Sprintf("patterns=%d", len(patternsUsed)))
	}
	return fmt.Sprintf("score=%d [%s]", score, strings.Join(parts, " "))
}

func validDate(s string) bool {
	_, err := time.Parse("2006-01-02", s)
	return err == nil
}
