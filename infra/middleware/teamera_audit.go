package middleware

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"teamera_server/pkg/apperr"
)

// AuditEntry records one state-changing request.
type AuditEntry struct {
	UserID    string    `json:"user_id"`
	RequestID string    `json:"request_id,omitempty"`
	Action    string    `json:"action"`
	Resource  string    `json:"resource"`
	Status    int       `json:"status"`
	Success   bool      `json:"success"`
	IP        string    `json:"ip"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// AuditSink keeps audit entries beyond the process log.
type AuditSink interface {
	Publish(ctx context.Context, entry any) error
}

// Audit logs every state-changing request of an authenticated user and,
// when sink is non-nil, publishes it there in the background.
func Audit(log zerolog.Logger, sink AuditSink) fiber.Handler {
	log = log.With().Str("component", "audit").Logger()

	return func(c *fiber.Ctx) error {
		switch c.Method() {
		case fiber.MethodPost, fiber.MethodPut, fiber.MethodPatch, fiber.MethodDelete:
		default:
			return c.Next()
		}

		err := c.Next()

		userID, _ := c.Locals(LocalUserID).(string)
		if userID == "" {
			return err
		}
		requestID, _ := c.Locals("request_id").(string)

		entry := &AuditEntry{
			UserID:    userID,
			RequestID: requestID,
			Action:    c.Method(),
			Resource:  c.Route().Path,
			Status:    c.Response().StatusCode(),
			IP:        c.IP(),
			At:        time.Now().UTC(),
		}
		if err != nil {
			entry.Status = apperr.GetHTTPStatus(err)
			entry.Error = apperr.Message(err)
		}
		entry.Success = err == nil && entry.Status < 400

		log.Info().
			Str("user_id", entry.UserID).
			Str("request_id", entry.RequestID).
			Str("action", entry.Action).
			Str("resource", entry.Resource).
			Int("status", entry.Status).
			Bool("success", entry.Success).
			Str("ip", entry.IP).
			Time("at", entry.At).
			Msg("audit")

		if sink != nil {
			go func() {
				if perr := sink.Publish(context.Background(), entry); perr != nil {
					log.Warn().Err(perr).Str("user_id", entry.UserID).Msg("publish audit entry")
				}
			}()
		}
		return err
	}
}
