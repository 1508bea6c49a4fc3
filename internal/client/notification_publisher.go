package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/glennhaavar-prog/ai-erp-sub003/internal/natsclient"
)

// NotificationPublisher publishes bookkeeping events to NATS for consumption
// by dashboard and notification services.
//
// Subject convention: bookkeeping.<event_type>
// Event types: review_item_created, review_item_resolved, voucher_committed,
//              voucher_reversed, task_failed, pattern_created
//
// All publish operations are non-fatal: errors are logged but never
// propagated to the caller, so notification failures never interrupt the
// posting or review pipeline.
type NotificationPublisher struct {
	nats *natsclient.Client
	log  zerolog.Logger
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventType    string         `json:"event_type"`
	TenantID     string         `json:"tenant_id"`
	ResourceType string         `json:"resource_type,omitempty"`
	ResourceID   string         `json:"resource_id,omitempty"`
	Severity     string         `json:"severity,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// NewNotificationPublisher creates a publisher backed by the given NATS
// client. A nil client disables publishing entirely.
func NewNotificationPublisher(nats *natsclient.Client, log zerolog.Logger) *NotificationPublisher {
	return &NotificationPublisher{nats: nats, log: log}
}

// Publish publishes one bookkeeping event to NATS.
// Subject: bookkeeping.<eventType>
func (p *NotificationPublisher) Publish(ctx context.Context, eventType, tenantID, resourceType, resourceID string, payload map[string]any) {
	if p.nats == nil {
		return
	}

	event := &NotificationEvent{
		EventType:    eventType,
		TenantID:     tenantID,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Severity:     "info",
		Payload:      payload,
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", eventType).Msg("notification: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("bookkeeping.%s", eventType)
	if err := p.nats.Publish(ctx, subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("resource_id", resourceID).
			Msg("notification: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("resource_id", resourceID).
		Msg("notification: event published")
}
