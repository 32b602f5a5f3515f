package middleware

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"teamera_server/pkg/apperr"
)

type chanSink chan *AuditEntry

func (s chanSink) Publish(_ context.Context, entry any) error {
	s <- entry.(*AuditEntry)
	return nil
}

func TestAudit(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		user       string
		handler    fiber.Handler
		wantEntry  bool
		wantStatus int
		wantOK     bool
	}{
		{"write", "PUT", testUserID, func(c *fiber.Ctx) error { return c.SendStatus(200) }, true, 200, true},
		{"failed write", "PUT", testUserID, func(c *fiber.Ctx) error { return apperr.Forbidden("no") }, true, 403, false},
		{"read", "GET", testUserID, func(c *fiber.Ctx) error { return c.SendStatus(200) }, false, 0, false},
		{"anonymous", "POST", "", func(c *fiber.Ctx) error { return c.SendStatus(200) }, false, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := make(chanSink, 1)
			app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler()})
			app.Use(func(c *fiber.Ctx) error {
				if tt.user != "" {
					c.Locals(LocalUserID, tt.user)
				}
				return c.Next()
			})
			app.Use(Audit(zerolog.Nop(), sink))
			app.Add(tt.method, "/profile", tt.handler)

			if _, err := app.Test(httptest.NewRequest(tt.method, "/profile", nil), -1); err != nil {
				t.Fatal(err)
			}

			select {
			case e := <-sink:
				if !tt.wantEntry {
					t.Fatalf("unexpected entry %+v", e)
				}
				if e.UserID != tt.user || e.Action != tt.method || e.Resource != "/profile" {
					t.Errorf("entry = %+v", e)
				}
				if e.Status != tt.wantStatus || e.Success != tt.wantOK {
					t.Errorf("status %d success %v, want %d %v", e.Status, e.Success, tt.wantStatus, tt.wantOK)
				}
			case <-time.After(200 * time.Millisecond):
				if tt.wantEntry {
					t.Fatal("no audit entry published")
				}
			}
		})
	}
}

func TestAudit_NilSink(t *testing.T) {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals(LocalUserID, testUserID)
		return c.Next()
	})
	app.Use(Audit(zerolog.Nop(), nil))
	app.Post("/x", func(c *fiber.Ctx) error { return c.SendStatus(204) })

	resp, err := app.Test(httptest.NewRequest("POST", "/x", nil), -1)
	if err != nil || resp.StatusCode != 204 {
		t.Fatalf("status = %v, %v", resp, err)
	}
}
