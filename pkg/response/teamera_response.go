// Package response builds the uniform API envelope.
package response

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"

	"teamera_server/pkg/apperr"
)

const (
	DefaultSuccessMessage = "Success"
	DefaultErrorMessage   = "Error"
	DefaultErrorCode      = "ERROR"
)

// Envelope is the body of every API response.
// Success responses carry Data, failures carry Code.
type Envelope struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Data      any    `json:"data,omitempty"`
	Code      string `json:"code,omitempty"`
	Details   any    `json:"details,omitempty"`
	Timestamp string `json:"timestamp"`
}

type successBody struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Data      any    `json:"data"`
	Timestamp string `json:"timestamp"`
}

type failureBody struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Code      string `json:"code"`
	Details   any    `json:"details,omitempty"`
	Timestamp string `json:"timestamp"`
}

// MarshalJSON always writes data on success, null included, and never on failure.
func (e Envelope) MarshalJSON() ([]byte, error) {
	if e.Success {
		return json.Marshal(successBody{
			Success:   true,
			Message:   e.Message,
			Data:      e.Data,
			Timestamp: e.Timestamp,
		})
	}
	return json.Marshal(failureBody{
		Message:   e.Message,
		Code:      e.Code,
		Details:   e.Details,
		Timestamp: e.Timestamp,
	})
}

// now is replaced in tests.
var now = time.Now

// Timestamp formats t the way every envelope does (ISO-8601, UTC, millis).
func Timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// Success wraps data in a success envelope. Empty message becomes "Success".
func Success(data any, message string) Envelope {
	if message == "" {
		message = DefaultSuccessMessage
	}
	return Envelope{
		Success:   true,
		Message:   message,
		Data:      data,
		Timestamp: Timestamp(now()),
	}
}

// Failure builds an error envelope. Empty message becomes "Error", empty code "ERROR".
func Failure(message, code string) Envelope {
	if message == "" {
		message = DefaultErrorMessage
	}
	if code == "" {
		code = DefaultErrorCode
	}
	return Envelope{
		Success:   false,
		Message:   message,
		Code:      code,
		Timestamp: Timestamp(now()),
	}
}

// OK writes a 200 success envelope.
func OK(c *fiber.Ctx, data any, message ...string) error {
	return c.JSON(Success(data, first(message)))
}

// Created writes a 201 success envelope.
func Created(c *fiber.Ctx, data any, message ...string) error {
	return c.Status(fiber.StatusCreated).JSON(Success(data, first(message)))
}

// Error writes a failure envelope with the given status.
func Error(c *fiber.Ctx, status int, message, code string) error {
	return c.Status(status).JSON(Failure(message, code))
}

// FromError maps err onto a failure envelope. *apperr.AppError keeps its
// status, code and details; anything else is a 500.
func FromError(c *fiber.Ctx, err error) error {
	appErr := apperr.AsAppError(err)
	env := Failure(appErr.Message, appErr.Code)
	if len(appErr.Details) > 0 {
		env.Details = appErr.Details
	}
	status := appErr.Status
	if status == 0 {
		status = fiber.StatusInternalServerError
	}
	return c.Status(status).JSON(env)
}

func BadRequest(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusBadRequest, message, apperr.CodeBadRequest)
}

func Unauthorized(c *fiber.Ctx, message string) error {
	if message == "" {
		message = "unauthorized"
	}
	return Error(c, fiber.StatusUnauthorized, message, apperr.CodeUnauthorized)
}

func NotFound(c *fiber.Ctx, resource string) error {
	return Error(c, fiber.StatusNotFound, resource+" not found", apperr.CodeNotFound)
}

func first(s []string) string {
	if len(s) == 0 {
		return ""
	}
	return s[0]
}
