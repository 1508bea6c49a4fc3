package service

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/glennhaavar-prog/ai-erp-sub003/internal/apperrors"
	"github.com/glennhaavar-prog/ai-erp-sub003/internal/client"
	"github.com/glennhaavar-prog/ai-erp-sub003/internal/logger"
	"github.com/glennhaavar-prog/ai-erp-sub003/internal/repository"
)

// documentReceivedPayload is the payload of a document.received event.
type documentReceivedPayload struct {
	ClientID    string `json:"client_id"`
	DocumentRef string `json:"document_ref"`
	SourceType  string `json:"source_type,omitempty"`
}

// documentParsedPayload is the payload of the document.parsed event this
// capability emits, and the input of the posting-suggestion capability.
type documentParsedPayload struct {
	ClientID          string `json:"client_id"`
	SourceID          string `json:"source_id"`
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

// InvoiceParsingCapability turns a received document into structured fields
// via the extraction service and emits a document.parsed event for the
// posting-suggestion capability to pick up.
type InvoiceParsingCapability struct {
	extractor client.Extractor
	events    EventLog
	log       *logger.Logger
}

func NewInvoiceParsingCapability(extractor client.Extractor, events EventLog, log *logger.Logger) *InvoiceParsingCapability {
	return &InvoiceParsingCapability{
		extractor: extractor,
		events:    events,
		log:       log,
	}
}

func (c *InvoiceParsingCapability) Name() repository.Capability {
	return repository.CapabilityInvoiceParsing
}

func (c *InvoiceParsingCapability) Execute(ctx context.Context, task *repository.Task) (json.RawMessage, error) {
	var payload documentReceivedPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "invalid document.received payload")
	}
	if payload.ClientID == "" || payload.DocumentRef == "" {
		return nil, apperrors.InvalidInput("payload", "client_id and document_ref are required")
	}

	fields, err := c.extractor.Extract(ctx, payload.DocumentRef)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.Code(err), "failed to extract document fields")
	}
	if strings.TrimSpace(fields.Counterparty) == "" {
		return nil, apperrors.InvalidInput("counterparty", "extraction returned no counterparty")
	}

	parsed := documentParsedPayload{
		ClientID:          payload.ClientID,
		SourceID:          payload.DocumentRef,
		Counterparty:      fields.Counterparty,
		CounterpartyOrgNo: fields.CounterpartyOrgNo,
		InvoiceNumber:     fields.InvoiceNumber,
		InvoiceDate:       fields.InvoiceDate,
		DueDate:           fields.DueDate,
		Currency:          fields.Currency,
		NetAmount:         fields.NetAmount,
		VATAmount:         fields.VATAmount,
		GrossAmount:       fields.GrossAmount,
		FreeText:          fields.FreeText,
	}
	parsedJSON, err := json.Marshal(parsed)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to marshal parsed payload")
	}

	event := &repository.Event{
		TenantID: task.TenantID,
		Type:     repository.EventDocumentParsed,
		Payload:  parsedJSON,
	}
	if err := c.events.Append(ctx, event); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to append document.parsed event")
	}

	c.log.Info().
		Str("task_id", task.ID).
		Str("document_ref", payload.DocumentRef).
		Str("counterparty", fields.Counterparty).
		Str("event_id", event.ID).
		Msg("Document parsed")

	return json.RawMessage(parsedJSON), nil
}
