package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/scribeworks/be-doc-approvals/internal/approval"
)

// NotificationPublisher publishes approval workflow events to NATS JetStream
// for consumption by the platform notification service.
//
// Subject convention: notifications.docs.<event_type>
// Event types: approval_state_changed, approval_step_activated
//
// All publish operations are non-fatal — errors are logged but never
// propagated to the caller, so notification failures never unwind committed
// workflow state. The service only calls this after its unit of work has
// committed.
type NotificationPublisher struct {
	js  nats.JetStreamContext
	log zerolog.Logger
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventType    string         `json:"event_type"`
	ActorID      string         `json:"actor_id"`
	Recipients   []string       `json:"recipients"`
	ResourceType string         `json:"resource_type,omitempty"`
	ResourceID   string         `json:"resource_id,omitempty"`
	Severity     string         `json:"severity,omitempty"`
	Category     string         `json:"category,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// NewNotificationPublisher creates a publisher backed by the given JetStream
// context. A nil context yields a disabled publisher.
func NewNotificationPublisher(js nats.JetStreamContext, log zerolog.Logger) *NotificationPublisher {
	return &NotificationPublisher{js: js, log: log}
}

// PublishApprovalEvent publishes one approval event.
// Subject: notifications.docs.<eventType>
func (p *NotificationPublisher) PublishApprovalEvent(ctx context.Context, eventType string, wf *approval.Workflow, actorID string, recipients []string, payload map[string]any) {
	if p == nil || p.js == nil {
		return
	}
	if len(recipients) == 0 {
		return
	}

	event := &NotificationEvent{
		EventType:    eventType,
		ActorID:      actorID,
		Recipients:   recipients,
		ResourceType: "document_version",
		ResourceID:   fmt.Sprintf("%s#%d", wf.DocumentID, wf.VersionID),
		Severity:     "info",
		Category:     "doc_approval",
		Payload:      payload,
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", eventType).Msg("notification: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("notifications.docs.%s", eventType)
	if _, err := p.js.Publish(subject, data, nats.Context(ctx)); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("workflow_id", wf.ID).
			Msg("notification: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("workflow_id", wf.ID).
		Int("recipients", len(recipients)).
		Msg("notification: event published")
}
