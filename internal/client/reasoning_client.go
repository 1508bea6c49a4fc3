package client

import (
	"context"
	"fmt"

	"github.com/glennhaavar-prog/ai-erp-sub003/internal/httpclient"
)

// ReasoningClient is a client for the language-model reasoning service. It
// turns extracted document fields plus historical context into a draft
// posting decision with a natural-language justification.
type ReasoningClient struct {
	client *httpclient.Client
}

// NewReasoningClient creates a new reasoning service client.
func NewReasoningClient(baseURL string) *ReasoningClient {
	return &ReasoningClient{
		client: httpclient.NewClient(baseURL),
	}
}

// ProposalContext is everything the reasoning service may consider.
type ProposalContext struct {
	ClientID         string   `json:"client_id"`
	Counterparty     string   `json:"counterparty"`
	Amount           int64    `json:"amount"`
	VATAmount        int64    `json:"vat_amount"`
	Currency         string   `json:"currency"`
	FreeText         string   `json:"free_text,omitempty"`
	HistoricalDebits []string `json:"historical_debits,omitempty"`
	ActiveAccounts   []string `json:"active_accounts,omitempty"`
}

// DraftDecision is the reasoning service's proposal.
type DraftDecision struct {
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	VATCode       string `json:"vat_code,omitempty"`
	Description   string `json:"description"`
	Reasoning     string `json:"reasoning"`
}

// Propose requests a draft posting decision.
func (c *ReasoningClient) Propose(ctx context.Context, req *ProposalContext) (*DraftDecision, error) {
	var draft DraftDecision
	if err := c.client.Post(ctx, "/api/v1/propose", req, &draft); err != nil {
		return nil, fmt.Errorf("failed to obtain posting proposal: %w", err)
	}
	return &draft, nil
}
