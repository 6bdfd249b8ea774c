package domain

import "time"

// TicketStatus enumerates business outcomes for a referral.
type TicketStatus string

const (
	TicketStatusPending        TicketStatus = "pending"
	TicketStatusNeedAddressed  TicketStatus = "need_addressed"
	TicketStatusWrongOrg       TicketStatus = "wrong_org"
	TicketStatusOutOfScope     TicketStatus = "out_of_scope"
	TicketStatusNotEligible    TicketStatus = "not_eligible"
	TicketStatusUnableToAssist TicketStatus = "unable_to_assist"
	TicketStatusUnresponsive   TicketStatus = "unresponsive"
)

// IsValid reports whether s is a known status.
func (s TicketStatus) IsValid() bool {
	switch s {
	case TicketStatusPending, TicketStatusNeedAddressed, TicketStatusWrongOrg, TicketStatusOutOfScope,
		TicketStatusNotEligible, TicketStatusUnableToAssist, TicketStatusUnresponsive:
		return true
	}
	return false
}

// Ticket is a client's help request routed between providers and the admin pool.
// A nil ProviderID means the ticket sits in the admin pool.
type Ticket struct {
	ID                      string
	ProviderID              *string
	AssignedTo              *string
	AssignedAt              *time.Time
	Status                  TicketStatus
	ForwardedFromProviderID *string
	ReassignmentCount       int
	LastReassignedAt        *time.Time
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// InAdminPool reports whether no provider currently owns the ticket.
func (t *Ticket) InAdminPool() bool {
	return t.ProviderID == nil
}

// Snapshot captures the routing fields tracked by the audit trail.
func (t *Ticket) Snapshot() RoutingSnapshot {
	return RoutingSnapshot{
		SchemaVersion:           RoutingSnapshotVersion,
		ProviderID:              cloneString(t.ProviderID),
		AssignedTo:              cloneString(t.AssignedTo),
		ForwardedFromProviderID: cloneString(t.ForwardedFromProviderID),
		Status:                  t.Status,
		ReassignmentCount:       t.ReassignmentCount,
	}
}

// Clone returns a deep copy of the ticket.
func (t *Ticket) Clone() *Ticket {
	if t == nil {
		return nil
	}
	c := *t
	c.ProviderID = cloneString(t.ProviderID)
	c.AssignedTo = cloneString(t.AssignedTo)
	c.ForwardedFromProviderID = cloneString(t.ForwardedFromProviderID)
	c.AssignedAt = cloneTime(t.AssignedAt)
	c.LastReassignedAt = cloneTime(t.LastReassignedAt)
	return &c
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	s := *v
	return &s
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	t := *v
	return &t
}

func equalString(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
