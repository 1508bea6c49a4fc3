package client

import "context"

// Extractor defines the interface for the OCR/extraction service.
type Extractor interface {
	Extract(ctx context.Context, documentRef string) (*ExtractedFields, error)
}

// Reasoner defines the interface for the language-model reasoning service.
type Reasoner interface {
	Propose(ctx context.Context, req *ProposalContext) (*DraftDecision, error)
}

// RateSource defines the interface for the currency-rate service. Rates are
// scaled by 1e6 to stay in fixed-point.
type RateSource interface {
	Rate(ctx context.Context, from, to, date string) (int64, error)
}
