package client

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NotificationPublisher publishes approval workflow events to NATS for
// consumption by the notifications service.
//
// Subject convention: notifications.spend.<event_type>
// Event types: submission_received, approval_required, item_approved,
//              item_rejected, approval_delegated, approval_escalated
//
// All publish operations are non-fatal: errors are logged but never
// propagated, so notification failures never interrupt approval operations.
type NotificationPublisher struct {
	conn *nats.Conn
	log  zerolog.Logger
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventType   string         `json:"event_type"`
	ActorID     string         `json:"actor_id"`
	Recipients  []string       `json:"recipients"`
	SubjectKind string         `json:"subject_kind,omitempty"`
	SubjectID   string         `json:"subject_id,omitempty"`
	Severity    string         `json:"severity,omitempty"`
	Category    string         `json:"category,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// NewNotificationPublisher dials NATS and returns a publisher. An empty URL
// returns a disabled publisher whose Publish calls are no-ops.
func NewNotificationPublisher(url string, log zerolog.Logger) (*NotificationPublisher, error) {
	p := &NotificationPublisher{log: log}
	if url == "" {
		return p, nil
	}

	conn, err := nats.Connect(url, nats.Name("be-spend-approvals"))
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	p.conn = conn
	return p, nil
}

// Close drains the NATS connection.
func (p *NotificationPublisher) Close() {
	if p.conn != nil {
		_ = p.conn.Drain()
	}
}

// Publish sends one approval event to NATS. Subject:
// notifications.spend.<eventType>.
func (p *NotificationPublisher) Publish(eventType, actorID string, recipients []string, subjectKind, subjectID string, payload map[string]any) {
	if p.conn == nil {
		return
	}
	if len(recipients) == 0 {
		return
	}

	event := &NotificationEvent{
		EventType:   eventType,
		ActorID:     actorID,
		Recipients:  recipients,
		SubjectKind: subjectKind,
		SubjectID:   subjectID,
		Severity:    "info",
		Category:    "spend_approval",
		Payload:     payload,
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", eventType).Msg("notification: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("notifications.spend.%s", eventType)
	if err := p.conn.Publish(subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("subject_id", subjectID).
			Msg("notification: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("subject_id", subjectID).
		Int("recipients", len(recipients)).
		Msg("notification: event published")
}
