package service

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/referral-service/internal/domain"
	"github.com/spec-kit/referral-service/internal/repository"
	apperrors "github.com/spec-kit/referral-service/pkg/util/errorutil"
)

const forwardForbiddenMessage = "You can only forward tickets for your own provider"

// Authorizer decides whether an identity may act on a ticket.
type Authorizer struct {
	contacts repository.ProviderContactRepository
}

// NewAuthorizer builds the resolver.
func NewAuthorizer(contacts repository.ProviderContactRepository) *Authorizer {
	return &Authorizer{contacts: contacts}
}

// Authorize allows site admins unconditionally and provider contacts only for
// tickets currently owned by their provider. Admin pool tickets are site-admin only.
func (a *Authorizer) Authorize(ctx context.Context, identity domain.Identity, ticket *domain.Ticket) error {
	if identity.UserID == "" {
		return apperrors.NewUnauthorized("authentication required")
	}
	if identity.IsSiteAdmin {
		return nil
	}
	if ticket.InAdminPool() {
		return apperrors.NewForbidden(forwardForbiddenMessage)
	}
	if _, err := a.membership(ctx, *ticket.ProviderID, identity.UserID); err != nil {
		return err
	}
	return nil
}

// AuthorizeAssign allows site admins and provider admins of the ticket's
// current provider.
func (a *Authorizer) AuthorizeAssign(ctx context.Context, identity domain.Identity, ticket *domain.Ticket) error {
	if identity.UserID == "" {
		return apperrors.NewUnauthorized("authentication required")
	}
	if identity.IsSiteAdmin {
		return nil
	}
	if ticket.InAdminPool() {
		return apperrors.NewForbidden("only site admins can assign tickets in the admin pool")
	}
	contact, err := a.membership(ctx, *ticket.ProviderID, identity.UserID)
	if err != nil {
		return err
	}
	if contact.ProviderRole != domain.ProviderRoleAdmin {
		return apperrors.NewForbidden("only provider admins can assign tickets")
	}
	return nil
}

// RequireSiteAdmin rejects everyone but site admins.
func RequireSiteAdmin(identity domain.Identity) error {
	if identity.UserID == "" {
		return apperrors.NewUnauthorized("authentication required")
	}
	if !identity.IsSiteAdmin {
		return apperrors.NewForbidden("site admin access required")
	}
	return nil
}

func (a *Authorizer) membership(ctx context.Context, providerID, userID string) (*domain.ProviderContact, error) {
	contact, err := a.contacts.GetMembership(ctx, providerID, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewForbidden(forwardForbiddenMessage)
		}
		return nil, apperrors.NewInternalError(err)
	}
	return contact, nil
}
