package domain

import "time"

// RoutingAction names the operation that moved a ticket.
type RoutingAction string

const (
	ActionForwardToAdmin    RoutingAction = "forward_to_admin"
	ActionForwardToProvider RoutingAction = "forward_to_provider"
	ActionReassign          RoutingAction = "reassign"
	ActionAssignContact     RoutingAction = "assign_contact"
)

// IsValid reports whether a is a known action.
func (a RoutingAction) IsValid() bool {
	switch a {
	case ActionForwardToAdmin, ActionForwardToProvider, ActionReassign, ActionAssignContact:
		return true
	}
	return false
}

// ForwardedFromMode tells the store how to derive forwarded_from_provider_id
// from the row as it exists when the update runs.
type ForwardedFromMode string

const (
	// ForwardedFromClear sets the column to NULL.
	ForwardedFromClear ForwardedFromMode = "clear"
	// ForwardedFromCapture copies the provider the ticket is leaving.
	ForwardedFromCapture ForwardedFromMode = "capture"
	// ForwardedFromKeep leaves the current value untouched.
	ForwardedFromKeep ForwardedFromMode = "keep"
)

// RoutingUpdate is the set of field assignments applied to a ticket row in one
// atomic statement. Values that depend on the row itself (the previous provider,
// the counter) are expressed as modes so the store resolves them under the row lock.
type RoutingUpdate struct {
	TicketID      string
	ProviderID    *string
	AssignedTo    *string
	AssignedAt    *time.Time
	ForwardedFrom ForwardedFromMode
	Status        *TicketStatus
	// CountDelta is added to reassignment_count; 1 for forwards and reassigns.
	CountDelta        int
	TouchReassignedAt bool
	// GuardProvider restricts the update to rows whose provider still equals
	// ExpectedProviderID.
	GuardProvider      bool
	ExpectedProviderID *string
	Now                time.Time
}

// RoutingResult brackets a committed routing mutation.
type RoutingResult struct {
	Previous *Ticket
	Current  *Ticket
}

// Apply returns the ticket that results from applying u to prev. Stores that
// cannot express the update in SQL use it under their own lock.
func (u RoutingUpdate) Apply(prev *Ticket) *Ticket {
	next := prev.Clone()
	next.ProviderID = cloneString(u.ProviderID)
	next.AssignedTo = cloneString(u.AssignedTo)
	next.AssignedAt = cloneTime(u.AssignedAt)
	switch u.ForwardedFrom {
	case ForwardedFromCapture:
		if prev.ProviderID != nil {
			next.ForwardedFromProviderID = cloneString(prev.ProviderID)
		}
	case ForwardedFromKeep:
	default:
		next.ForwardedFromProviderID = nil
	}
	if u.Status != nil {
		next.Status = *u.Status
	}
	next.ReassignmentCount = prev.ReassignmentCount + u.CountDelta
	if u.TouchReassignedAt {
		now := u.Now
		next.LastReassignedAt = &now
	}
	next.UpdatedAt = u.Now
	return next
}

// Matches reports whether the guard condition holds for prev.
func (u RoutingUpdate) Matches(prev *Ticket) bool {
	if !u.GuardProvider {
		return true
	}
	return equalString(prev.ProviderID, u.ExpectedProviderID)
}

// PlanForwardToAdmin moves a ticket into the admin pool.
func PlanForwardToAdmin(ticket *Ticket, newStatus *TicketStatus, now time.Time) RoutingUpdate {
	return RoutingUpdate{
		TicketID:          ticket.ID,
		ForwardedFrom:     ForwardedFromCapture,
		Status:            newStatus,
		CountDelta:        1,
		TouchReassignedAt: true,
		Now:               now,
	}
}

// PlanForwardToProvider moves a ticket to target, assigning handler when one is known.
func PlanForwardToProvider(ticket *Ticket, target string, handler *string, now time.Time) RoutingUpdate {
	assignedAt := now
	return RoutingUpdate{
		TicketID:          ticket.ID,
		ProviderID:        &target,
		AssignedTo:        cloneString(handler),
		AssignedAt:        &assignedAt,
		ForwardedFrom:     ForwardedFromClear,
		CountDelta:        1,
		TouchReassignedAt: true,
		Now:               now,
	}
}

// PlanReassign is the admin variant of PlanForwardToProvider.
func PlanReassign(ticket *Ticket, target string, assignee *string, preserveHistory bool, now time.Time) RoutingUpdate {
	u := PlanForwardToProvider(ticket, target, assignee, now)
	if preserveHistory {
		u.ForwardedFrom = ForwardedFromKeep
	}
	return u
}

// PlanAssignContact hands the ticket to a contact without changing its provider.
func PlanAssignContact(ticket *Ticket, userID string, now time.Time) RoutingUpdate {
	assignedAt := now
	return RoutingUpdate{
		TicketID:           ticket.ID,
		ProviderID:         cloneString(ticket.ProviderID),
		AssignedTo:         &userID,
		AssignedAt:         &assignedAt,
		ForwardedFrom:      ForwardedFromKeep,
		GuardProvider:      true,
		ExpectedProviderID: cloneString(ticket.ProviderID),
		Now:                now,
	}
}

// WithProviderGuard makes the update conditional on the provider observed at
// authorization time.
func (u RoutingUpdate) WithProviderGuard(expected *string) RoutingUpdate {
	u.GuardProvider = true
	u.ExpectedProviderID = cloneString(expected)
	return u
}
