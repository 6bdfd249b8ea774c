package service

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/spec-kit/referral-service/internal/domain"
	"github.com/spec-kit/referral-service/internal/repository"
)

// RecordInput is one lifecycle transition to append to the audit trail.
type RecordInput struct {
	TicketID  string
	EventType domain.EventType
	Actor     domain.Identity
	Result    *domain.RoutingResult
	Reason    *domain.ForwardReason
	Notes     *string
	Metadata  domain.EventMetadata
}

// EventRecorder appends audit rows. It has no update or delete path.
type EventRecorder struct {
	policy *bluemonday.Policy
}

// NewEventRecorder builds a recorder that strips markup from notes.
func NewEventRecorder() *EventRecorder {
	return &EventRecorder{policy: bluemonday.StrictPolicy()}
}

// Record writes exactly one event through repo, which must be bound to the
// transaction holding the ticket row lock.
func (r *EventRecorder) Record(ctx context.Context, repo repository.TicketEventRepository, in RecordInput) (*domain.TicketEvent, error) {
	if in.Result == nil || in.Result.Previous == nil || in.Result.Current == nil {
		return nil, fmt.Errorf("record event for %s: missing routing result", in.TicketID)
	}
	if !in.EventType.IsValid() {
		return nil, fmt.Errorf("record event for %s: unknown event type %q", in.TicketID, in.EventType)
	}

	meta := in.Metadata
	meta.SchemaVersion = domain.EventMetadataVersion
	event := &domain.TicketEvent{
		TicketID:      in.TicketID,
		EventType:     in.EventType,
		ActorID:       in.Actor.UserID,
		ActorType:     in.Actor.ActorType(),
		PreviousState: in.Result.Previous.Snapshot(),
		NewState:      in.Result.Current.Snapshot(),
		Reason:        in.Reason,
		Notes:         r.SanitizeNotes(in.Notes),
		Metadata:      meta,
	}
	if err := repo.Append(ctx, event); err != nil {
		return nil, fmt.Errorf("append event for %s: %w", in.TicketID, err)
	}
	return event, nil
}

// SanitizeNotes strips HTML tags and surrounding whitespace and keeps the
// remaining text unescaped. HTML output is produced at render time. Empty
// notes become nil.
func (r *EventRecorder) SanitizeNotes(notes *string) *string {
	if notes == nil {
		return nil
	}
	clean := strings.TrimSpace(html.UnescapeString(r.policy.Sanitize(*notes)))
	if clean == "" {
		return nil
	}
	return &clean
}
