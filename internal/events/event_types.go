package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spec-kit/referral-service/internal/domain"
)

// EventType enumerates the side effects carried by outbox messages.
type EventType string

const (
	EventTicketNotification EventType = "ticket.notification"
	EventTicketWebhook      EventType = "ticket.webhook"
)

// Actor encapsulates actor metadata for an event.
type Actor struct {
	Type   domain.ActorType `json:"type"`
	UserID string           `json:"user_id"`
}

// Event is one outbox message handed to subscribers. ID is the outbox message id
// and stays stable across delivery attempts.
type Event struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	TicketID  string          `json:"ticket_id"`
	Attempt   int             `json:"attempt"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// DecodePayload unmarshals the event payload into out.
func (e Event) DecodePayload(out any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("event %s has empty payload", e.ID)
	}
	if err := json.Unmarshal(e.Payload, out); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// TicketRoutedPayload describes a committed routing transition.
type TicketRoutedPayload struct {
	TicketEventID string                 `json:"ticket_event_id"`
	EventType     domain.EventType       `json:"event_type"`
	Action        domain.RoutingAction   `json:"action"`
	Actor         Actor                  `json:"actor"`
	Reason        *domain.ForwardReason  `json:"reason,omitempty"`
	Notes         *string                `json:"notes,omitempty"`
	Previous      domain.RoutingSnapshot `json:"previous_state"`
	Current       domain.RoutingSnapshot `json:"new_state"`
	OccurredAt    time.Time              `json:"occurred_at"`
}

// WebhookName returns the public event name for the transition.
func (p TicketRoutedPayload) WebhookName() string {
	switch p.Action {
	case domain.ActionForwardToAdmin:
		return "ticket.forwarded_to_admin"
	case domain.ActionForwardToProvider:
		return "ticket.forwarded_to_provider"
	case domain.ActionReassign:
		return "ticket.reassigned"
	case domain.ActionAssignContact:
		return "ticket.assigned"
	}
	return "ticket." + string(p.EventType)
}

// TicketWebhookPayload is the outbox payload for webhook delivery.
type TicketWebhookPayload struct {
	EventName string              `json:"event_name"`
	SiteID    string              `json:"site_id"`
	Routed    TicketRoutedPayload `json:"data"`
}
