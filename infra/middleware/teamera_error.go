// Package middleware holds the fiber middleware shared by every API route.
package middleware

import (
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"teamera_server/pkg/apperr"
	"teamera_server/pkg/logger"
	"teamera_server/pkg/metrics"
	"teamera_server/pkg/response"
)

// ErrorHandler renders every returned error as a failure envelope.
func ErrorHandler() fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		requestID, _ := c.Locals("request_id").(string)
		log := logger.WithField("request_id", requestID)

		var fe *fiber.Error
		if errors.As(err, &fe) {
			return response.Error(c, fe.Code, fe.Message, codeForStatus(fe.Code))
		}

		if !apperr.IsAppError(err) {
			log.WithError(err).WithField("stack", string(debug.Stack())).Error("unexpected error")
			return response.Error(c, fiber.StatusInternalServerError, "An unexpected error occurred", apperr.CodeInternalError)
		}

		appErr := apperr.AsAppError(err)
		if appErr.Status >= fiber.StatusInternalServerError {
			log.WithField("error_code", appErr.Code).WithError(appErr.Err).Error("internal error: %s", appErr.Message)
		} else {
			log.WithField("error_code", appErr.Code).Warn("client error: %s", appErr.Message)
		}
		return response.FromError(c, appErr)
	}
}

// RequestID tags each request with X-Request-ID, generating one if absent.
func RequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Get(fiber.HeaderXRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Locals("request_id", id)
		c.Set(fiber.HeaderXRequestID, id)
		return c.Next()
	}
}

// RequestLogger logs one line per request and records it in metrics.
func RequestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		if err != nil {
			// Render now so the logged status is the one sent.
			if herr := c.App().ErrorHandler(c, err); herr != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}
		d := time.Since(start)
		status := c.Response().StatusCode()

		metrics.ObserveHTTP(c.Method(), c.Route().Path, status, d)

		requestID, _ := c.Locals("request_id").(string)
		log := logger.WithFields(map[string]any{
			"request_id":  requestID,
			"method":      c.Method(),
			"path":        c.Path(),
			"status":      status,
			"duration_ms": float64(d.Microseconds()) / 1000.0,
			"ip":          c.IP(),
		})
		if id, ok := c.Locals(LocalUserID).(string); ok && id != "" {
			log = log.WithField("user_id", id)
		}

		switch {
		case status >= 500:
			log.Error("%s %s -> %d", c.Method(), c.Path(), status)
		case status >= 400:
			log.Warn("%s %s -> %d", c.Method(), c.Path(), status)
		default:
			log.Info("%s %s -> %d", c.Method(), c.Path(), status)
		}
		return nil
	}
}

// Recover turns a panic into a 500 failure envelope.
func Recover() fiber.Handler {
	return func(c *fiber.Ctx) (err error) {
		defer func() {
			if r := recover(); r != nil {
				requestID, _ := c.Locals("request_id").(string)
				logger.WithFields(map[string]any{
					"request_id": requestID,
					"panic":      fmt.Sprintf("%v", r),
					"path":       c.Path(),
					"method":     c.Method(),
					"stack":      string(debug.Stack()),
				}).Error("panic recovered")
				err = response.Error(c, fiber.StatusInternalServerError, "An unexpected error occurred", apperr.CodeInternalError)
			}
		}()
		return c.Next()
	}
}

func codeForStatus(status int) string {
	switch status {
	case fiber.StatusBadRequest:
		return apperr.CodeBadRequest
	case fiber.StatusUnauthorized:
		return apperr.CodeUnauthorized
	case fiber.StatusForbidden:
		return apperr.CodeForbidden
	case fiber.StatusNotFound:
		return apperr.CodeNotFound
	case fiber.StatusMethodNotAllowed:
		return "METHOD_NOT_ALLOWED"
	case fiber.StatusRequestEntityTooLarge:
		return "PAYLOAD_TOO_LARGE"
	case fiber.StatusTooManyRequests:
		return apperr.CodeRateLimited
	case fiber.StatusServiceUnavailable:
		return apperr.CodeUnavailable
	default:
		if status >= 500 {
			return apperr.CodeInternalError
		}
		return response.DefaultErrorCode
	}
}
