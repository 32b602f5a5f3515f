package http

import (
	"bufio"
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"teamera_server/adapter/out/realtime"
	"teamera_server/core/domain"
	"teamera_server/core/port/in"
	"teamera_server/core/port/out"
	"teamera_server/core/service/profileview"
	"teamera_server/infra/middleware"
	"teamera_server/pkg/apperr"
	"teamera_server/pkg/response"
	"teamera_server/pkg/validate"
)

const defaultStreamHeartbeat = 30 * time.Second

type ProfileHandler struct {
	profiles  in.ProfileService
	hub       out.RealtimePort
	heartbeat time.Duration
	log       zerolog.Logger
}

func NewProfileHandler(profiles in.ProfileService, hub out.RealtimePort, heartbeat time.Duration, log zerolog.Logger) *ProfileHandler {
	if heartbeat <= 0 {
		heartbeat = defaultStreamHeartbeat
	}
	return &ProfileHandler{
		profiles:  profiles,
		hub:       hub,
		heartbeat: heartbeat,
		log:       log.With().Str("handler", "profile").Logger(),
	}
}

func (h *ProfileHandler) Register(router fiber.Router) {
	p := router.Group("/profile", middleware.NoCache())
	p.Get("/", h.Get)
	p.Put("/", h.Save)
	p.Get("/view", h.View)
	p.Get("/stream", h.Stream)
}

// Get returns the caller's profile. A user without a row gets null data.
func (h *ProfileHandler) Get(c *fiber.Ctx) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return err
	}
	p, err := h.profiles.GetProfile(c.UserContext(), userID)
	if err != nil {
		return err
	}
	if p == nil {
		return response.OK(c, nil, "No profile yet")
	}
	return response.OK(c, p)
}

// View returns the caller's profile in display form.
func (h *ProfileHandler) View(c *fiber.Ctx) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return err
	}
	p, err := h.profiles.GetProfile(c.UserContext(), userID)
	if err != nil {
		return err
	}
	if p == nil {
		return apperr.NotFound("profile")
	}
	return response.OK(c, profileview.Build(p))
}

// Save sanitizes and validates the body, then updates or creates the row.
func (h *ProfileHandler) Save(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)
	if user == nil {
		return apperr.Unauthorized("")
	}

	var fields domain.Profile
	if err := c.BodyParser(&fields); err != nil {
		return apperr.BadRequest("invalid request body")
	}

	sanitizeProfile(&fields)
	email := user.Email
	if email == "" {
		email = strings.TrimSpace(fields.Email)
	}
	if res := validate.ValidateUser(fields.Name, email); !res.IsValid {
		return apperr.ValidationFailed(strings.Join(res.Errors, ", "), res.Errors)
	}

	saved, err := h.profiles.SaveProfile(c.UserContext(), &domain.AuthUser{ID: user.ID, Email: email}, &fields)
	if err != nil {
		return err
	}
	return response.OK(c, saved, "Profile saved")
}

func sanitizeProfile(p *domain.Profile) {
	p.Name = validate.SanitizeInput(p.Name)
	p.Bio = validate.SanitizeOptional(p.Bio)
	p.Location = validate.SanitizeOptional(p.Location)
	p.Title = validate.SanitizeOptional(p.Title)
	p.GithubURL = validate.SanitizeOptional(p.GithubURL)
	p.LinkedinURL = validate.SanitizeOptional(p.LinkedinURL)
	p.PortfolioURL = validate.SanitizeOptional(p.PortfolioURL)
	if p.Role != nil {
		r := domain.Role(validate.SanitizeInput(string(*p.Role)))
		p.Role = &r
	}
	for i := range p.Skills {
		p.Skills[i].Name = validate.SanitizeInput(p.Skills[i].Name)
	}
	for i := range p.Experience {
		e := &p.Experience[i]
		e.Title = validate.SanitizeInput(e.Title)
		e.Company = validate.SanitizeInput(e.Company)
		e.Duration = validate.SanitizeInput(e.Duration)
		e.Description = validate.SanitizeInput(e.Description)
		for j := range e.Technologies {
			e.Technologies[j] = validate.SanitizeInput(e.Technologies[j])
		}
	}
	for i := range p.Education {
		e := &p.Education[i]
		e.Degree = validate.SanitizeInput(e.Degree)
		e.Institution = validate.SanitizeInput(e.Institution)
		e.Duration = validate.SanitizeInput(e.Duration)
		e.Description = validate.SanitizeInput(e.Description)
	}
}

// Stream relays updates of the caller's profile as Server-Sent Events
// until the client goes away.
func (h *ProfileHandler) Stream(c *fiber.Ctx) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return err
	}

	stop, err := h.profiles.WatchProfile(context.Background(), userID)
	if err != nil {
		return err
	}
	events := h.hub.Subscribe(userID)
	heartbeat := h.heartbeat
	log := h.log.With().Str("user_id", userID).Logger()

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	log.Info().Msg("profile stream opened")

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		ticker := time.NewTicker(heartbeat)
		defer func() {
			ticker.Stop()
			h.hub.Unsubscribe(userID, events)
			stop()
			log.Info().Msg("profile stream closed")
		}()

		connected := &domain.RealtimeEvent{
			Type:      domain.EventConnected,
			Data:      map[string]string{"status": "connected"},
			Timestamp: time.Now(),
		}
		if err := realtime.WriteEvent(w, connected); err != nil {
			return
		}

		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				if err := realtime.WriteEvent(w, ev); err != nil {
					log.Debug().Err(err).Msg("client gone during write")
					return
				}
			case <-ticker.C:
				if err := realtime.WriteHeartbeat(w); err != nil {
					log.Debug().Err(err).Msg("client gone during heartbeat")
					return
				}
			}
		}
	})
	return nil
}
