package http

import (
	"github.com/gofiber/fiber/v2"

	"teamera_server/infra/middleware"
	"teamera_server/pkg/apperr"
	"teamera_server/pkg/response"
)

type AuthHandler struct {
	blacklist *middleware.TokenBlacklist
}

// NewAuthHandler takes a nil blacklist when Redis is not configured;
// logout then only acknowledges.
func NewAuthHandler(blacklist *middleware.TokenBlacklist) *AuthHandler {
	return &AuthHandler{blacklist: blacklist}
}

func (h *AuthHandler) Register(router fiber.Router) {
	router.Post("/auth/logout", h.Logout)
}

// Logout revokes the presented token for the rest of its lifetime.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	claims, raw := middleware.CurrentClaims(c)
	if raw == "" {
		return apperr.Unauthorized("")
	}
	if h.blacklist != nil {
		if err := h.blacklist.Revoke(c.UserContext(), raw, claims); err != nil {
			return apperr.Unavailable("token blacklist", err)
		}
	}
	return response.OK(c, fiber.Map{"revoked": h.blacklist != nil}, "Logged out")
}
