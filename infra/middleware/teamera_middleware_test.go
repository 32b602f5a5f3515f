package middleware

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"

	"teamera_server/pkg/apperr"
)

func decodeEnvelope(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	body, _ := io.ReadAll(resp.Body)
	var env map[string]any
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatalf("decode %q: %v", body, err)
	}
	return env
}

func TestErrorHandler(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler()})
	app.Use(Recover(), RequestID())
	app.Get("/app", func(c *fiber.Ctx) error { return apperr.NotFound("profile") })
	app.Get("/fiber", func(c *fiber.Ctx) error { return fiber.NewError(fiber.StatusTeapot, "short and stout") })
	app.Get("/plain", func(c *fiber.Ctx) error { return errors.New("db password leaked") })
	app.Get("/panic", func(c *fiber.Ctx) error { panic("boom") })

	tests := []struct {
		path        string
		wantStatus  int
		wantCode    string
		wantMessage string
	}{
		{"/app", 404, apperr.CodeNotFound, "profile not found"},
		{"/fiber", 418, "ERROR", "short and stout"},
		{"/plain", 500, apperr.CodeInternalError, "An unexpected error occurred"},
		{"/panic", 500, apperr.CodeInternalError, "An unexpected error occurred"},
		{"/missing", 404, apperr.CodeNotFound, "Cannot GET /missing"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := app.Test(httptest.NewRequest(http.MethodGet, tt.path, nil), -1)
			if err != nil {
				t.Fatalf("app.Test: %v", err)
			}
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d", resp.StatusCode)
			}
			if resp.Header.Get("X-Request-ID") == "" {
				t.Error("missing request id")
			}
			env := decodeEnvelope(t, resp)
			if env["success"] != false || env["code"] != tt.wantCode || env["message"] != tt.wantMessage {
				t.Errorf("envelope = %v", env)
			}
			if _, ok := env["timestamp"].(string); !ok {
				t.Error("missing timestamp")
			}
		})
	}
}

func TestRequestID_KeepsIncoming(t *testing.T) {
	app := fiber.New()
	app.Use(RequestID())
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString(c.Locals("request_id").(string)) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-42")
	resp, _ := app.Test(req, -1)
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "req-42" || resp.Header.Get("X-Request-ID") != "req-42" {
		t.Errorf("request id = %q / %q", body, resp.Header.Get("X-Request-ID"))
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(2)
	clock := time.Now()
	rl.now = func() time.Time { return clock }

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler()})
	app.Use(rl.Handler())
	app.Get("/", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) })

	hit := func() *http.Response {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil), -1)
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		return resp
	}

	for i := 0; i < 2; i++ {
		if resp := hit(); resp.StatusCode != 204 {
			t.Fatalf("request %d status = %d", i, resp.StatusCode)
		}
	}
	resp := hit()
	if resp.StatusCode != 429 || resp.Header.Get("Retry-After") == "" {
		t.Fatalf("status = %d, Retry-After %q", resp.StatusCode, resp.Header.Get("Retry-After"))
	}
	if env := decodeEnvelope(t, resp); env["code"] != apperr.CodeRateLimited {
		t.Errorf("envelope = %v", env)
	}

	clock = clock.Add(30 * time.Second)
	if resp := hit(); resp.StatusCode != 204 {
		t.Errorf("after refill status = %d", resp.StatusCode)
	}

	clock = clock.Add(time.Hour)
	if n := rl.Sweep(); n != 1 {
		t.Errorf("swept = %d", n)
	}
}

func TestSecurityMiddleware(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler()})
	app.Use(SecurityHeaders(), JSONBody(), MaxBodySize(32))
	app.Post("/", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) })
	app.Get("/users/:id", ValidateUUID("id"), func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) })

	tests := []struct {
		name        string
		req         *http.Request
		contentType string
		want        int
	}{
		{"json", httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"a":1}`)), "application/json", 204},
		{"form", httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`a=1`)), "application/x-www-form-urlencoded", 415},
		{"too large", httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"a":"`+strings.Repeat("x", 64)+`"}`)), "application/json", 413},
		{"uuid ok", httptest.NewRequest(http.MethodGet, "/users/"+testUserID, nil), "", 204},
		{"uuid bad", httptest.NewRequest(http.MethodGet, "/users/42", nil), "", 400},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.contentType != "" {
				tt.req.Header.Set("Content-Type", tt.contentType)
			}
			resp, err := app.Test(tt.req, -1)
			if err != nil {
				t.Fatalf("app.Test: %v", err)
			}
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
			if resp.Header.Get("X-Frame-Options") != "DENY" {
				t.Error("security headers missing")
			}
		})
	}
}
