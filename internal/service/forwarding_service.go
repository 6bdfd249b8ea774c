package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/referral-service/internal/domain"
	"github.com/spec-kit/referral-service/internal/events"
	"github.com/spec-kit/referral-service/internal/observability"
	"github.com/spec-kit/referral-service/internal/repository"
	apperrors "github.com/spec-kit/referral-service/pkg/util/errorutil"
)

// Waker is notified after a commit enqueued side effects. Implementations
// must not block.
type Waker interface {
	Wake()
}

// ForwardInput is the body of a forward request.
type ForwardInput struct {
	Action           domain.RoutingAction `json:"action" validate:"required,oneof=forward_to_admin forward_to_provider"`
	TargetProviderID *string              `json:"target_provider_id" validate:"omitempty,uuid"`
	Reason           domain.ForwardReason `json:"reason" validate:"required,oneof=unable_to_assist wrong_org capacity other"`
	Notes            *string              `json:"notes" validate:"omitempty,max=4000"`
	NewStatus        *domain.TicketStatus `json:"new_status" validate:"omitempty,oneof=pending need_addressed wrong_org out_of_scope not_eligible unable_to_assist unresponsive"`
}

// ReassignInput is the body of an admin reassign request.
type ReassignInput struct {
	TargetProviderID string                `json:"target_provider_id" validate:"required,uuid"`
	TargetContactID  *string               `json:"target_contact_id" validate:"omitempty,uuid"`
	Reason           *domain.ForwardReason `json:"reason" validate:"omitempty,oneof=unable_to_assist wrong_org capacity other"`
	Notes            *string               `json:"notes" validate:"omitempty,max=4000"`
	PreserveHistory  bool                  `json:"preserve_history"`
}

// AssignInput hands a ticket to a contact of its current provider.
type AssignInput struct {
	ContactID string  `json:"contact_id" validate:"required,uuid"`
	Notes     *string `json:"notes" validate:"omitempty,max=4000"`
}

// ForwardingService coordinates routing transitions of referral tickets.
type ForwardingService struct {
	tickets     repository.TicketRepository
	providers   repository.ProviderRepository
	contacts    repository.ProviderContactRepository
	history     repository.TicketEventRepository
	tx          repository.Transactor
	authz       *Authorizer
	handlers    *HandlerResolver
	recorder    *EventRecorder
	sideEffects []events.EventType
	siteID      string
	waker       Waker
	metrics     *observability.Metrics
	logger      *zap.Logger
	now         func() time.Time
}

// ForwardingDependencies bundles collaborators.
type ForwardingDependencies struct {
	TicketRepo   repository.TicketRepository
	ProviderRepo repository.ProviderRepository
	ContactRepo  repository.ProviderContactRepository
	EventRepo    repository.TicketEventRepository
	Transactor   repository.Transactor
	// SideEffects lists the outbox kinds enqueued with every transition.
	SideEffects []events.EventType
	SiteID      string
	Waker       Waker
	Metrics     *observability.Metrics
	Logger      *zap.Logger
	Clock       func() time.Time
}

// NewForwardingService creates the service.
func NewForwardingService(deps ForwardingDependencies) *ForwardingService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &ForwardingService{
		tickets:     deps.TicketRepo,
		providers:   deps.ProviderRepo,
		contacts:    deps.ContactRepo,
		history:     deps.EventRepo,
		tx:          deps.Transactor,
		authz:       NewAuthorizer(deps.ContactRepo),
		handlers:    NewHandlerResolver(deps.ContactRepo, logger),
		recorder:    NewEventRecorder(),
		sideEffects: deps.SideEffects,
		siteID:      deps.SiteID,
		waker:       deps.Waker,
		metrics:     deps.Metrics,
		logger:      logger,
		now:         clock,
	}
}

// transition is a fully validated routing change ready to commit.
type transition struct {
	identity  domain.Identity
	ticket    *domain.Ticket
	update    domain.RoutingUpdate
	eventType domain.EventType
	reason    *domain.ForwardReason
	notes     *string
	metadata  domain.EventMetadata
}

// Forward moves a ticket to the admin pool or to another provider.
func (s *ForwardingService) Forward(ctx context.Context, identity domain.Identity, ticketID string, in ForwardInput) (*domain.Ticket, error) {
	ticket, err := s.loadTicket(ctx, ticketID)
	if err != nil {
		return nil, s.fail(in.Action, err)
	}
	if err := s.authz.Authorize(ctx, identity, ticket); err != nil {
		return nil, s.fail(in.Action, err)
	}
	if err := validateInput(in); err != nil {
		return nil, s.fail(in.Action, err)
	}

	now := s.now()
	reason := in.Reason
	tr := transition{
		identity:  identity,
		ticket:    ticket,
		eventType: domain.EventTypeForwarded,
		reason:    &reason,
		notes:     in.Notes,
		metadata:  domain.EventMetadata{Action: in.Action},
	}

	switch in.Action {
	case domain.ActionForwardToAdmin:
		tr.update = domain.PlanForwardToAdmin(ticket, in.NewStatus, now)
		tr.metadata.StatusOverride = in.NewStatus
	case domain.ActionForwardToProvider:
		if in.TargetProviderID == nil || *in.TargetProviderID == "" {
			return nil, s.fail(in.Action, apperrors.NewValidationError("validation failed", map[string]any{"target_provider_id": "is required"}))
		}
		target := *in.TargetProviderID
		if ticket.ProviderID != nil && *ticket.ProviderID == target {
			return nil, s.fail(in.Action, apperrors.NewValidationError("ticket already belongs to the target provider", map[string]any{"target_provider_id": target}))
		}
		if err := s.requireProvider(ctx, target); err != nil {
			return nil, s.fail(in.Action, err)
		}
		handler, err := s.handlers.Resolve(ctx, target)
		if err != nil {
			return nil, s.fail(in.Action, apperrors.NewInternalError(err))
		}
		var assignee *string
		if handler != nil {
			assignee = &handler.UserID
			tr.metadata.TargetContactID = &handler.ID
			tr.metadata.DefaultHandlerFound = true
		}
		tr.update = domain.PlanForwardToProvider(ticket, target, assignee, now)
		tr.metadata.TargetProviderID = &target
	}

	if !identity.IsSiteAdmin {
		tr.update = tr.update.WithProviderGuard(ticket.ProviderID)
	}
	return s.commit(ctx, in.Action, tr)
}

// Reassign is the site admin override that moves a ticket to any provider,
// optionally to a specific contact.
func (s *ForwardingService) Reassign(ctx context.Context, identity domain.Identity, ticketID string, in ReassignInput) (*domain.Ticket, error) {
	const action = domain.ActionReassign
	ticket, err := s.loadTicket(ctx, ticketID)
	if err != nil {
		return nil, s.fail(action, err)
	}
	if err := RequireSiteAdmin(identity); err != nil {
		return nil, s.fail(action, err)
	}
	if err := validateInput(in); err != nil {
		return nil, s.fail(action, err)
	}
	if err := s.requireProvider(ctx, in.TargetProviderID); err != nil {
		return nil, s.fail(action, err)
	}

	meta := domain.EventMetadata{
		Action:           action,
		TargetProviderID: &in.TargetProviderID,
		PreserveHistory:  in.PreserveHistory,
	}
	var assignee *string
	if in.TargetContactID != nil {
		contact, err := s.contactOf(ctx, *in.TargetContactID, in.TargetProviderID, "target_contact_id")
		if err != nil {
			return nil, s.fail(action, err)
		}
		assignee = &contact.UserID
		meta.TargetContactID = &contact.ID
	} else {
		handler, err := s.handlers.Resolve(ctx, in.TargetProviderID)
		if err != nil {
			return nil, s.fail(action, apperrors.NewInternalError(err))
		}
		if handler != nil {
			assignee = &handler.UserID
			meta.TargetContactID = &handler.ID
			meta.DefaultHandlerFound = true
		}
	}

	return s.commit(ctx, action, transition{
		identity:  identity,
		ticket:    ticket,
		update:    domain.PlanReassign(ticket, in.TargetProviderID, assignee, in.PreserveHistory, s.now()),
		eventType: domain.EventTypeReassigned,
		reason:    in.Reason,
		notes:     in.Notes,
		metadata:  meta,
	})
}

// AssignContact assigns a ticket to a contact of its current provider without
// moving it.
func (s *ForwardingService) AssignContact(ctx context.Context, identity domain.Identity, ticketID string, in AssignInput) (*domain.Ticket, error) {
	const action = domain.ActionAssignContact
	ticket, err := s.loadTicket(ctx, ticketID)
	if err != nil {
		return nil, s.fail(action, err)
	}
	if err := s.authz.AuthorizeAssign(ctx, identity, ticket); err != nil {
		return nil, s.fail(action, err)
	}
	if err := validateInput(in); err != nil {
		return nil, s.fail(action, err)
	}
	if ticket.InAdminPool() {
		return nil, s.fail(action, apperrors.NewValidationError("ticket in the admin pool has no provider to assign from", map[string]any{"ticket_id": ticket.ID}))
	}
	contact, err := s.contactOf(ctx, in.ContactID, *ticket.ProviderID, "contact_id")
	if err != nil {
		return nil, s.fail(action, err)
	}

	return s.commit(ctx, action, transition{
		identity:  identity,
		ticket:    ticket,
		update:    domain.PlanAssignContact(ticket, contact.UserID, s.now()),
		eventType: domain.EventTypeAssigned,
		notes:     in.Notes,
		metadata: domain.EventMetadata{
			Action:           action,
			TargetProviderID: ticket.ProviderID,
			TargetContactID:  &contact.ID,
		},
	})
}

// ListEvents returns the audit trail of a ticket in commit order.
func (s *ForwardingService) ListEvents(ctx context.Context, identity domain.Identity, ticketID string) ([]domain.TicketEvent, error) {
	ticket, err := s.loadTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if err := s.authz.Authorize(ctx, identity, ticket); err != nil {
		return nil, err
	}
	list, err := s.history.ListByTicket(ctx, ticket.ID)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	if list == nil {
		list = []domain.TicketEvent{}
	}
	return list, nil
}

func (s *ForwardingService) commit(ctx context.Context, action domain.RoutingAction, tr transition) (*domain.Ticket, error) {
	var (
		result *domain.RoutingResult
		event  *domain.TicketEvent
	)
	// The mutation outlives request cancellation once it starts.
	ctx = context.WithoutCancel(ctx)
	err := s.tx.WithinTx(ctx, func(scope repository.Scope) error {
		var err error
		result, err = scope.Tickets().ApplyRouting(ctx, tr.update)
		if err != nil {
			return err
		}
		event, err = s.recorder.Record(ctx, scope.Events(), RecordInput{
			TicketID:  tr.ticket.ID,
			EventType: tr.eventType,
			Actor:     tr.identity,
			Result:    result,
			Reason:    tr.reason,
			Notes:     tr.notes,
			Metadata:  tr.metadata,
		})
		if err != nil {
			return err
		}
		return s.enqueue(ctx, scope.Outbox(), action, tr.identity, event)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if tr.update.GuardProvider {
				return nil, s.fail(action, apperrors.NewConflict("ticket was moved by another request", map[string]any{"ticket_id": tr.ticket.ID}))
			}
			return nil, s.fail(action, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": tr.ticket.ID}))
		}
		s.logger.Error("routing transaction failed",
			zap.String("ticket_id", tr.ticket.ID),
			zap.String("action", string(action)),
			zap.Error(err))
		return nil, s.fail(action, apperrors.NewInternalError(err))
	}

	s.metrics.RecordRouting(string(action), "success")
	s.logger.Info("ticket routed",
		zap.String("ticket_id", result.Current.ID),
		zap.String("action", string(action)),
		zap.String("actor_id", tr.identity.UserID),
		zap.Int64("event_seq", event.Seq),
		zap.Int("reassignment_count", result.Current.ReassignmentCount))
	if s.waker != nil && len(s.sideEffects) > 0 {
		s.waker.Wake()
	}
	return result.Current, nil
}

func (s *ForwardingService) enqueue(ctx context.Context, outbox repository.OutboxRepository, action domain.RoutingAction, identity domain.Identity, event *domain.TicketEvent) error {
	if len(s.sideEffects) == 0 {
		return nil
	}
	routed := events.TicketRoutedPayload{
		TicketEventID: event.ID,
		EventType:     event.EventType,
		Action:        action,
		Actor:         events.Actor{Type: event.ActorType, UserID: identity.UserID},
		Reason:        event.Reason,
		Notes:         event.Notes,
		Previous:      event.PreviousState,
		Current:       event.NewState,
		OccurredAt:    event.CreatedAt,
	}
	for _, kind := range s.sideEffects {
		var body any = routed
		if kind == events.EventTicketWebhook {
			body = events.TicketWebhookPayload{EventName: routed.WebhookName(), SiteID: s.siteID, Routed: routed}
		}
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s payload: %w", kind, err)
		}
		msg := &domain.OutboxMessage{
			ID:            uuid.NewString(),
			TicketID:      event.TicketID,
			Kind:          string(kind),
			Payload:       payload,
			NextAttemptAt: s.now(),
		}
		if err := outbox.Enqueue(ctx, msg); err != nil {
			return fmt.Errorf("enqueue %s: %w", kind, err)
		}
	}
	return nil
}

func (s *ForwardingService) loadTicket(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	if !isUUID(ticketID) {
		return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
	}
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		}
		return nil, apperrors.NewInternalError(err)
	}
	return ticket, nil
}

func (s *ForwardingService) requireProvider(ctx context.Context, providerID string) error {
	ok, err := s.providers.Exists(ctx, providerID)
	if err != nil {
		return apperrors.NewInternalError(err)
	}
	if !ok {
		return apperrors.NewNotFound("provider", map[string]any{"provider_id": providerID})
	}
	return nil
}

// contactOf loads a contact and checks it belongs to providerID.
func (s *ForwardingService) contactOf(ctx context.Context, contactID, providerID, field string) (*domain.ProviderContact, error) {
	contact, err := s.contacts.GetByID(ctx, contactID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewValidationError("contact not found", map[string]any{field: contactID})
		}
		return nil, apperrors.NewInternalError(err)
	}
	if contact.ProviderID != providerID {
		return nil, apperrors.NewValidationError("contact does not belong to the provider", map[string]any{
			field:         contactID,
			"provider_id": providerID,
		})
	}
	return contact, nil
}

func (s *ForwardingService) fail(action domain.RoutingAction, err error) error {
	code := apperrors.CodeInternal
	var domainErr *apperrors.DomainError
	if errors.As(err, &domainErr) {
		code = domainErr.Code
	}
	label := string(action)
	if !action.IsValid() {
		label = "unknown"
	}
	s.metrics.RecordRouting(label, code)
	return err
}
