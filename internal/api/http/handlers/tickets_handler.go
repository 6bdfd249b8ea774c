package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/referral-service/internal/api/dto"
	"github.com/spec-kit/referral-service/internal/auth"
	"github.com/spec-kit/referral-service/internal/domain"
	"github.com/spec-kit/referral-service/internal/service"
	apperrors "github.com/spec-kit/referral-service/pkg/util/errorutil"
)

// TicketRouter is the routing surface the handler depends on.
type TicketRouter interface {
	Forward(ctx context.Context, identity domain.Identity, ticketID string, in service.ForwardInput) (*domain.Ticket, error)
	Reassign(ctx context.Context, identity domain.Identity, ticketID string, in service.ReassignInput) (*domain.Ticket, error)
	AssignContact(ctx context.Context, identity domain.Identity, ticketID string, in service.AssignInput) (*domain.Ticket, error)
	ListEvents(ctx context.Context, identity domain.Identity, ticketID string) ([]domain.TicketEvent, error)
}

// TicketsHandler exposes ticket routing endpoints.
type TicketsHandler struct {
	service TicketRouter
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(router TicketRouter) *TicketsHandler {
	return &TicketsHandler{service: router}
}

// Forward POST /tickets/:id/forward.
func (h *TicketsHandler) Forward(c *fiber.Ctx) error {
	identity, ok := auth.IdentityFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	var req dto.ForwardTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ticket, err := h.service.Forward(c.UserContext(), identity, c.Params("id"), service.ForwardInput{
		Action:           req.Action,
		TargetProviderID: req.TargetProviderID,
		Reason:           req.Reason,
		Notes:            req.Notes,
		NewStatus:        req.NewStatus,
	})
	if err != nil {
		return err
	}
	return c.JSON(dto.RoutingResponse{Success: true, Ticket: dto.NewTicketResponse(ticket)})
}

// Reassign POST /tickets/:id/reassign.
func (h *TicketsHandler) Reassign(c *fiber.Ctx) error {
	identity, ok := auth.IdentityFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	var req dto.ReassignTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ticket, err := h.service.Reassign(c.UserContext(), identity, c.Params("id"), service.ReassignInput{
		TargetProviderID: req.TargetProviderID,
		TargetContactID:  req.TargetContactID,
		Reason:           req.Reason,
		Notes:            req.Notes,
		PreserveHistory:  req.PreserveHistory,
	})
	if err != nil {
		return err
	}
	return c.JSON(dto.RoutingResponse{Success: true, Ticket: dto.NewTicketResponse(ticket)})
}

// Assign POST /tickets/:id/assign.
func (h *TicketsHandler) Assign(c *fiber.Ctx) error {
	identity, ok := auth.IdentityFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	var req dto.AssignTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ticket, err := h.service.AssignContact(c.UserContext(), identity, c.Params("id"), service.AssignInput{
		ContactID: req.ContactID,
		Notes:     req.Notes,
	})
	if err != nil {
		return err
	}
	return c.JSON(dto.RoutingResponse{Success: true, Ticket: dto.NewTicketResponse(ticket)})
}

// ListEvents GET /tickets/:id/events.
func (h *TicketsHandler) ListEvents(c *fiber.Ctx) error {
	identity, ok := auth.IdentityFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	evts, err := h.service.ListEvents(c.UserContext(), identity, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketEventResponses(evts)})
}
