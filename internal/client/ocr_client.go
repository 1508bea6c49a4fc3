package client

import (
	"context"
	"fmt"

	"github.com/glennhaavar-prog/ai-erp-sub003/internal/httpclient"
)

// OCRClient is a client for the OCR/extraction service.
type OCRClient struct {
	client *httpclient.Client
}

// NewOCRClient creates a new OCR service client.
func NewOCRClient(baseURL string) *OCRClient {
	return &OCRClient{
		client: httpclient.NewClient(baseURL),
	}
}

// ExtractedFields is the normalized result of document extraction. Amounts
// are int64 cents.
type ExtractedFields struct {
	Counterparty      string `json:"counterparty"`
	CounterpartyOrgNo string `json:"counterparty_org_no,omitempty"`
	InvoiceNumber     string `json:"invoice_number,omitempty"`
	InvoiceDate       string `json:"invoice_date,omitempty"`
	DueDate           string `json:"due_date,omitempty"`
	Currency          string `json:"currency"`
	NetAmount         int64  `json:"net_amount"`
	VATAmount         int64  `json:"vat_amount"`
	GrossAmount       int64  `json:"gross_amount"`
	FreeText          string `json:"free_text,omitempty"`
}

type extractRequest struct {
	DocumentRef string `json:"document_ref"`
}

// Extract runs extraction against a stored document reference.
func (c *OCRClient) Extract(ctx context.Context, documentRef string) (*ExtractedFields, error) {
	var fields ExtractedFields
	if err := c.client.Post(ctx, "/api/v1/extract", extractRequest{DocumentRef: documentRef}, &fields); err != nil {
		return nil, fmt.Errorf("failed to extract document %s: %w", documentRef, err)
	}
	return &fields, nil
}
