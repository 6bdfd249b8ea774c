package dto

import (
	"time"

	"github.com/spec-kit/referral-service/internal/domain"
)

// ForwardTicketRequest payload for POST /tickets/:id/forward.
type ForwardTicketRequest struct {
	Action           domain.RoutingAction `json:"action"`
	TargetProviderID *string              `json:"target_provider_id"`
	Reason           domain.ForwardReason `json:"reason"`
	Notes            *string              `json:"notes"`
	NewStatus        *domain.TicketStatus `json:"new_status"`
}

// ReassignTicketRequest payload for POST /tickets/:id/reassign.
type ReassignTicketRequest struct {
	TargetProviderID string                `json:"target_provider_id"`
	TargetContactID  *string               `json:"target_contact_id"`
	Reason           *domain.ForwardReason `json:"reason"`
	Notes            *string               `json:"notes"`
	PreserveHistory  bool                  `json:"preserve_history"`
}

// AssignTicketRequest payload for POST /tickets/:id/assign.
type AssignTicketRequest struct {
	ContactID string  `json:"contact_id"`
	Notes     *string `json:"notes"`
}

// TicketResponse is the routing view of a ticket.
type TicketResponse struct {
	ID                      string              `json:"id"`
	ProviderID              *string             `json:"provider_id"`
	AssignedTo              *string             `json:"assigned_to"`
	AssignedAt              *time.Time          `json:"assigned_at"`
	Status                  domain.TicketStatus `json:"status"`
	ForwardedFromProviderID *string             `json:"forwarded_from_provider_id"`
	ReassignmentCount       int                 `json:"reassignment_count"`
	LastReassignedAt        *time.Time          `json:"last_reassigned_at"`
	CreatedAt               time.Time           `json:"created_at"`
	UpdatedAt               time.Time           `json:"updated_at"`
}

// RoutingResponse wraps a ticket after a successful routing operation.
type RoutingResponse struct {
	Success bool           `json:"success"`
	Ticket  TicketResponse `json:"ticket"`
}

// TicketEventResponse is one audit trail entry.
type TicketEventResponse struct {
	ID            string                 `json:"id"`
	Seq           int64                  `json:"seq"`
	TicketID      string                 `json:"ticket_id"`
	EventType     domain.EventType       `json:"event_type"`
	ActorID       string                 `json:"actor_id"`
	ActorType     domain.ActorType       `json:"actor_type"`
	PreviousState domain.RoutingSnapshot `json:"previous_state"`
	NewState      domain.RoutingSnapshot `json:"new_state"`
	Reason        *domain.ForwardReason  `json:"reason"`
	Notes         *string                `json:"notes"`
	Metadata      domain.EventMetadata   `json:"metadata"`
	CreatedAt     time.Time              `json:"created_at"`
}

// NewTicketResponse maps a domain ticket.
func NewTicketResponse(t *domain.Ticket) TicketResponse {
	return TicketResponse{
		ID:                      t.ID,
		ProviderID:              t.ProviderID,
		AssignedTo:              t.AssignedTo,
		AssignedAt:              t.AssignedAt,
		Status:                  t.Status,
		ForwardedFromProviderID: t.ForwardedFromProviderID,
		ReassignmentCount:       t.ReassignmentCount,
		LastReassignedAt:        t.LastReassignedAt,
		CreatedAt:               t.CreatedAt,
		UpdatedAt:               t.UpdatedAt,
	}
}

// NewTicketEventResponses maps events preserving order.
func NewTicketEventResponses(evts []domain.TicketEvent) []TicketEventResponse {
	out := make([]TicketEventResponse, 0, len(evts))
	for _, e := range evts {
		out = append(out, TicketEventResponse{
			ID:            e.ID,
			Seq:           e.Seq,
			TicketID:      e.TicketID,
			EventType:     e.EventType,
			ActorID:       e.ActorID,
			ActorType:     e.ActorType,
			PreviousState: e.PreviousState,
			NewState:      e.NewState,
			Reason:        e.Reason,
			Notes:         e.Notes,
			Metadata:      e.Metadata,
			CreatedAt:     e.CreatedAt,
		})
	}
	return out
}
