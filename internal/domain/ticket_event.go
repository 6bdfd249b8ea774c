package domain

import (
	"fmt"
	"time"
)

// EventType captures what kind of lifecycle transition an event records.
type EventType string

const (
	EventTypeCreated       EventType = "created"
	EventTypeAssigned      EventType = "assigned"
	EventTypeReassigned    EventType = "reassigned"
	EventTypeForwarded     EventType = "forwarded"
	EventTypeStatusChanged EventType = "status_changed"
	EventTypeCommentAdded  EventType = "comment_added"
	EventTypeUpdated       EventType = "updated"
)

// IsValid reports whether t is a known event type.
func (t EventType) IsValid() bool {
	switch t {
	case EventTypeCreated, EventTypeAssigned, EventTypeReassigned, EventTypeForwarded,
		EventTypeStatusChanged, EventTypeCommentAdded, EventTypeUpdated:
		return true
	}
	return false
}

// ActorType classifies who performed an action.
type ActorType string

const (
	ActorTypeSiteAdmin       ActorType = "site_admin"
	ActorTypeProviderContact ActorType = "provider_contact"
	ActorTypeSystem          ActorType = "system"
)

// IsValid reports whether t is a known actor type.
func (t ActorType) IsValid() bool {
	switch t {
	case ActorTypeSiteAdmin, ActorTypeProviderContact, ActorTypeSystem:
		return true
	}
	return false
}

// ForwardReason explains why a ticket was moved.
type ForwardReason string

const (
	ReasonUnableToAssist ForwardReason = "unable_to_assist"
	ReasonWrongOrg       ForwardReason = "wrong_org"
	ReasonCapacity       ForwardReason = "capacity"
	ReasonOther          ForwardReason = "other"
)

// IsValid reports whether r is a known reason.
func (r ForwardReason) IsValid() bool {
	switch r {
	case ReasonUnableToAssist, ReasonWrongOrg, ReasonCapacity, ReasonOther:
		return true
	}
	return false
}

// RoutingSnapshotVersion is bumped whenever RoutingSnapshot changes shape.
const RoutingSnapshotVersion = 1

// RoutingSnapshot is the routing state recorded before and after a transition.
type RoutingSnapshot struct {
	SchemaVersion           int          `json:"schema_version"`
	ProviderID              *string      `json:"provider_id"`
	AssignedTo              *string      `json:"assigned_to"`
	ForwardedFromProviderID *string      `json:"forwarded_from_provider_id"`
	Status                  TicketStatus `json:"status"`
	ReassignmentCount       int          `json:"reassignment_count"`
}

// Equal compares two snapshots field by field.
func (s RoutingSnapshot) Equal(o RoutingSnapshot) bool {
	return s.SchemaVersion == o.SchemaVersion &&
		equalString(s.ProviderID, o.ProviderID) &&
		equalString(s.AssignedTo, o.AssignedTo) &&
		equalString(s.ForwardedFromProviderID, o.ForwardedFromProviderID) &&
		s.Status == o.Status &&
		s.ReassignmentCount == o.ReassignmentCount
}

// EventMetadataVersion is bumped whenever EventMetadata changes shape.
const EventMetadataVersion = 1

// EventMetadata carries action-specific details for an event.
type EventMetadata struct {
	SchemaVersion       int           `json:"schema_version"`
	Action              RoutingAction `json:"action,omitempty"`
	TargetProviderID    *string       `json:"target_provider_id,omitempty"`
	TargetContactID     *string       `json:"target_contact_id,omitempty"`
	DefaultHandlerFound bool          `json:"default_handler_found"`
	PreserveHistory     bool          `json:"preserve_history"`
	StatusOverride      *TicketStatus `json:"status_override,omitempty"`
}

// TicketEvent is an immutable audit record of one lifecycle transition.
// Seq orders events in commit order.
type TicketEvent struct {
	ID            string
	Seq           int64
	TicketID      string
	EventType     EventType
	ActorID       string
	ActorType     ActorType
	PreviousState RoutingSnapshot
	NewState      RoutingSnapshot
	Reason        *ForwardReason
	Notes         *string
	Metadata      EventMetadata
	CreatedAt     time.Time
}

// Replay folds events, ordered by Seq, into the routing state they describe.
func Replay(events []TicketEvent) (RoutingSnapshot, error) {
	if len(events) == 0 {
		return RoutingSnapshot{}, fmt.Errorf("no events to replay")
	}
	if err := VerifyChain(events); err != nil {
		return RoutingSnapshot{}, err
	}
	return events[len(events)-1].NewState, nil
}

// VerifyChain checks that every event starts where the previous one ended.
func VerifyChain(events []TicketEvent) error {
	for i := 1; i < len(events); i++ {
		prev, cur := events[i-1], events[i]
		if cur.Seq <= prev.Seq {
			return fmt.Errorf("event %s out of order: seq %d after %d", cur.ID, cur.Seq, prev.Seq)
		}
		if !cur.PreviousState.Equal(prev.NewState) {
			return fmt.Errorf("event %s does not continue from event %s", cur.ID, prev.ID)
		}
	}
	return nil
}
