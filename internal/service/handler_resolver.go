package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/referral-service/internal/domain"
	"github.com/spec-kit/referral-service/internal/repository"
)

// HandlerResolver picks the contact that receives tickets forwarded to a provider.
type HandlerResolver struct {
	contacts repository.ProviderContactRepository
	logger   *zap.Logger
}

// NewHandlerResolver creates the resolver.
func NewHandlerResolver(contacts repository.ProviderContactRepository, logger *zap.Logger) *HandlerResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HandlerResolver{contacts: contacts, logger: logger}
}

// Resolve returns the provider's default referral handler, or nil when none is
// configured. With several flagged contacts the oldest wins, ties broken by id.
func (r *HandlerResolver) Resolve(ctx context.Context, providerID string) (*domain.ProviderContact, error) {
	handlers, err := r.contacts.FindDefaultHandlers(ctx, providerID)
	if err != nil {
		return nil, fmt.Errorf("find default handlers for %s: %w", providerID, err)
	}
	if len(handlers) == 0 {
		return nil, nil
	}
	best := handlers[0]
	for _, h := range handlers[1:] {
		if h.CreatedAt.Before(best.CreatedAt) || (h.CreatedAt.Equal(best.CreatedAt) && h.ID < best.ID) {
			best = h
		}
	}
	if len(handlers) > 1 {
		r.logger.Warn("multiple default referral handlers",
			zap.String("provider_id", providerID),
			zap.Int("count", len(handlers)),
			zap.String("selected_contact_id", best.ID))
	}
	return &best, nil
}
