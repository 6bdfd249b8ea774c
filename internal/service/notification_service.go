package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/referral-service/internal/config"
	"github.com/spec-kit/referral-service/internal/events"
	"github.com/spec-kit/referral-service/internal/notify"
	"github.com/spec-kit/referral-service/internal/repository"
)

// NotificationService delivers side effects of committed routing transitions.
// Its handlers run on the outbox worker, never on the request path.
type NotificationService struct {
	dispatcher events.Dispatcher
	contacts   repository.ProviderContactRepository
	notifier   notify.Notifier
	emitter    notify.WebhookEmitter
	logger     *zap.Logger
	cfg        config.NotificationConfig
}

// NotificationDependencies bundles collaborators.
type NotificationDependencies struct {
	Dispatcher  events.Dispatcher
	ContactRepo repository.ProviderContactRepository
	Notifier    notify.Notifier
	Emitter     notify.WebhookEmitter
	Logger      *zap.Logger
	Config      config.NotificationConfig
}

// NewNotificationService creates the service.
func NewNotificationService(deps NotificationDependencies) *NotificationService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notify.NewLogNotifier(logger)
	}
	emitter := deps.Emitter
	if emitter == nil {
		emitter = notify.NewLogEmitter(logger)
	}
	return &NotificationService{
		dispatcher: deps.Dispatcher,
		contacts:   deps.ContactRepo,
		notifier:   notifier,
		emitter:    emitter,
		logger:     logger,
		cfg:        deps.Config,
	}
}

// RegisterHandlers subscribes to outbox event kinds.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventTicketNotification, n.handleTicketNotification)
	n.dispatcher.Subscribe(events.EventTicketWebhook, n.handleTicketWebhook)
}

// Kinds returns the outbox kinds this service delivers.
func (n *NotificationService) Kinds() []events.EventType {
	return []events.EventType{events.EventTicketNotification, events.EventTicketWebhook}
}

func (n *NotificationService) handleTicketNotification(ctx context.Context, event events.Event) error {
	var routed events.TicketRoutedPayload
	if err := event.DecodePayload(&routed); err != nil {
		return err
	}
	recipients, err := n.recipients(ctx, routed)
	if err != nil {
		return err
	}
	if len(recipients) == 0 {
		n.logger.Debug("notification has no recipients",
			zap.String("ticket_id", event.TicketID),
			zap.String("outbox_id", event.ID))
		return nil
	}
	return n.notifier.Notify(ctx, notify.TicketNotification{
		TicketID:   event.TicketID,
		Recipients: recipients,
		Action:     routed.Action,
		ActorID:    routed.Actor.UserID,
		ActorType:  routed.Actor.Type,
		Reason:     routed.Reason,
		Notes:      routed.Notes,
		Previous:   routed.Previous,
		Current:    routed.Current,
	})
}

func (n *NotificationService) handleTicketWebhook(ctx context.Context, event events.Event) error {
	var payload events.TicketWebhookPayload
	if err := event.DecodePayload(&payload); err != nil {
		return err
	}
	return n.emitter.Emit(ctx, payload.EventName, payload.SiteID, payload.Routed)
}

// recipients resolves who hears about a transition: the admin mailbox for the
// admin pool, otherwise the assignee's provider contacts.
func (n *NotificationService) recipients(ctx context.Context, routed events.TicketRoutedPayload) ([]string, error) {
	if routed.Current.ProviderID == nil {
		if n.cfg.AdminEmail == "" {
			return nil, nil
		}
		return []string{n.cfg.AdminEmail}, nil
	}
	emails, err := n.contacts.ListEmailsByProvider(ctx, *routed.Current.ProviderID)
	if err != nil {
		return nil, fmt.Errorf("list recipients for provider %s: %w", *routed.Current.ProviderID, err)
	}
	return emails, nil
}
