package http

import (
	"github.com/gofiber/fiber/v2"

	"teamera_server/core/domain"
	"teamera_server/core/port/out"
	"teamera_server/infra/middleware"
	"teamera_server/pkg/apperr"
	"teamera_server/pkg/response"
	"teamera_server/pkg/validate"
)

const serviceRole = "service_role"

type UserHandler struct {
	directory out.UserDirectory
}

func NewUserHandler(directory out.UserDirectory) *UserHandler {
	return &UserHandler{directory: directory}
}

// RegisterPublic registers routes that need no token, each behind mw.
func (h *UserHandler) RegisterPublic(router fiber.Router, mw ...fiber.Handler) {
	router.Post("/users/validate", append(mw, h.Validate)...)
}

// Register registers routes behind the auth middleware.
func (h *UserHandler) Register(router fiber.Router) {
	router.Get("/users/:id", middleware.ValidateUUID("id"), h.GetUser)
}

// Validate checks a name/email pair and reports every problem found.
func (h *UserHandler) Validate(c *fiber.Ctx) error {
	var in domain.UserInput
	if err := c.BodyParser(&in); err != nil {
		return apperr.BadRequest("invalid request body")
	}
	res := validate.ValidateUser(in.Name, in.Email)
	return response.OK(c, res, validateMessage(res))
}

func validateMessage(res validate.Result) string {
	if res.IsValid {
		return "Validation passed"
	}
	return "Validation failed"
}

// GetUser returns the auth record of id. Callers may only read their own
// record unless they hold the service role.
func (h *UserHandler) GetUser(c *fiber.Ctx) error {
	callerID, err := middleware.UserID(c)
	if err != nil {
		return err
	}
	id := c.Params("id")

	if id != callerID {
		claims, _ := middleware.CurrentClaims(c)
		if claims == nil || claims.Role != serviceRole {
			return apperr.Forbidden("cannot read another user")
		}
	}

	user := h.directory.GetUserByID(c.UserContext(), id)
	if user == nil {
		return apperr.NotFound("user")
	}
	return response.OK(c, user)
}
