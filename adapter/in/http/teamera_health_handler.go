package http

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Check is one readiness probe.
type Check func(ctx context.Context) error

type namedCheck struct {
	name     string
	check    Check
	optional bool
}

type HealthHandler struct {
	timeout time.Duration
	checks  []namedCheck
	info    map[string]func() any
}

func NewHealthHandler() *HealthHandler {
	return &HealthHandler{
		timeout: 5 * time.Second,
		info:    make(map[string]func() any),
	}
}

// AddCheck registers a probe that must pass for /ready to succeed.
func (h *HealthHandler) AddCheck(name string, check Check) *HealthHandler {
	h.checks = append(h.checks, namedCheck{name: name, check: check})
	return h
}

// AddOptionalCheck registers a probe that is reported but never fails /ready.
func (h *HealthHandler) AddOptionalCheck(name string, check Check) *HealthHandler {
	h.checks = append(h.checks, namedCheck{name: name, check: check, optional: true})
	return h
}

// AddInfo adds a value reported under "info" on /ready.
func (h *HealthHandler) AddInfo(name string, fn func() any) *HealthHandler {
	h.info[name] = fn
	return h
}

func (h *HealthHandler) Register(app fiber.Router) {
	app.Get("/health", h.Health)
	app.Get("/ready", h.Ready)
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready runs every probe concurrently.
func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	results := make([]string, len(h.checks))
	failed := make([]bool, len(h.checks))

	var wg sync.WaitGroup
	for i, nc := range h.checks {
		wg.Add(1)
		go func(i int, nc namedCheck) {
			defer wg.Done()
			if err := nc.check(ctx); err != nil {
				results[i] = "unhealthy: " + err.Error()
				failed[i] = !nc.optional
				return
			}
			results[i] = "healthy"
		}(i, nc)
	}
	wg.Wait()

	checks := make(map[string]string, len(h.checks))
	ready := true
	for i, nc := range h.checks {
		checks[nc.name] = results[i]
		if failed[i] {
			ready = false
		}
	}

	body := fiber.Map{
		"status":    "ready",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if len(h.info) > 0 {
		info := make(map[string]any, len(h.info))
		for name, fn := range h.info {
			info[name] = fn()
		}
		body["info"] = info
	}

	status := fiber.StatusOK
	if !ready {
		body["status"] = "not ready"
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(body)
}
