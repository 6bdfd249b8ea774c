package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/referral-service/internal/domain"
)

// TicketNotification is the templated message sent to the ticket's new owners.
type TicketNotification struct {
	TicketID   string
	Recipients []string
	Action     domain.RoutingAction
	ActorID    string
	ActorType  domain.ActorType
	Reason     *domain.ForwardReason
	Notes      *string
	Previous   domain.RoutingSnapshot
	Current    domain.RoutingSnapshot
}

// Notifier delivers ticket notifications.
type Notifier interface {
	Notify(ctx context.Context, n TicketNotification) error
}

// WebhookEmitter publishes a named event for a tenant.
type WebhookEmitter interface {
	Emit(ctx context.Context, eventName, siteID string, payload any) error
}

// LogNotifier records notifications without delivering them. It stands in
// when no SMTP relay is configured.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier builds a LogNotifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, msg TicketNotification) error {
	n.logger.Info("notification skipped: email disabled",
		zap.String("ticket_id", msg.TicketID),
		zap.String("action", string(msg.Action)),
		zap.Strings("recipients", msg.Recipients))
	return nil
}

// LogEmitter records webhook events without sending them.
type LogEmitter struct {
	logger *zap.Logger
}

// NewLogEmitter builds a LogEmitter.
func NewLogEmitter(logger *zap.Logger) *LogEmitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogEmitter{logger: logger}
}

func (e *LogEmitter) Emit(_ context.Context, eventName, siteID string, _ any) error {
	e.logger.Info("webhook skipped: endpoint not configured",
		zap.String("event", eventName),
		zap.String("site_id", siteID))
	return nil
}
