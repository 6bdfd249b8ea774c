package auth

import (
	"github.com/gofiber/fiber/v2"

	apperrors "github.com/spec-kit/referral-service/pkg/util/errorutil"
)

// RequireIdentity ensures the caller is authenticated.
func RequireIdentity() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if identity, ok := IdentityFromContext(c); !ok || identity.UserID == "" {
			return apperrors.NewUnauthorized("authentication required")
		}
		return c.Next()
	}
}

// RequireSiteAdmin ensures the caller is a site administrator.
func RequireSiteAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		identity, ok := IdentityFromContext(c)
		if !ok || identity.UserID == "" {
			return apperrors.NewUnauthorized("authentication required")
		}
		if !identity.IsSiteAdmin {
			return apperrors.NewForbidden("site administrator required")
		}
		return c.Next()
	}
}
