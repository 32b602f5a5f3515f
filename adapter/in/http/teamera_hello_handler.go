// Package http holds the fiber handlers of the Teamera API.
package http

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"teamera_server/pkg/response"
)

type HelloHandler struct {
	now func() time.Time
}

func NewHelloHandler() *HelloHandler {
	return &HelloHandler{now: time.Now}
}

func (h *HelloHandler) Register(router fiber.Router) {
	router.Get("/hello", h.Hello)
}

// Hello answers with a fixed greeting; clients use it as a liveness check.
func (h *HelloHandler) Hello(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"message":   "Hello from Teamera API!",
		"timestamp": response.Timestamp(h.now()),
		"status":    "success",
	})
}
