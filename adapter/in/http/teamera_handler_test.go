package http

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"teamera_server/core/domain"
	"teamera_server/infra/middleware"
)

const (
	aliceID = "5d7f3e1a-9c2b-4b8e-a1f0-3c6d2e8b7a90"
	bobID   = "0b6f1d2e-3c4a-4f5b-8e7d-9a1b2c3d4e5f"
)

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Code    string          `json:"code"`
}

// asUser stands in for the JWT middleware.
func asUser(id, email, role string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims := &middleware.Claims{Email: email, Role: role}
		claims.Subject = id
		c.Locals(middleware.LocalUserID, id)
		c.Locals(middleware.LocalUser, &domain.AuthUser{ID: id, Email: email})
		c.Locals(middleware.LocalToken, "raw-token")
		c.Locals(middleware.LocalClaims, claims)
		return c.Next()
	}
}

func newTestApp(auth fiber.Handler, register func(fiber.Router)) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: middleware.ErrorHandler(),
		JSONEncoder:  json.Marshal,
		JSONDecoder:  json.Unmarshal,
	})
	if auth != nil {
		app.Use(auth)
	}
	register(app)
	return app
}

func do(t *testing.T, app *fiber.App, method, path, body string) (int, envelope) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var env envelope
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("decode %s: %v", raw, err)
		}
	}
	return resp.StatusCode, env
}

type fakeProfiles struct {
	mu       sync.Mutex
	profiles map[string]*domain.Profile
	saved    *domain.Profile
	savedBy  *domain.AuthUser
	watchErr error
	watching int
}

func (f *fakeProfiles) GetProfile(_ context.Context, id string) (*domain.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.profiles[id], nil
}

func (f *fakeProfiles) SaveProfile(_ context.Context, user *domain.AuthUser, fields *domain.Profile) (*domain.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.savedBy = user
	f.saved = fields.Clone()
	p := fields.Clone()
	p.ID = user.ID
	p.Email = user.Email
	return p, nil
}

func (f *fakeProfiles) WatchProfile(context.Context, string) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.watchErr != nil {
		return nil, f.watchErr
	}
	f.watching++
	return func() {
		f.mu.Lock()
		f.watching--
		f.mu.Unlock()
	}, nil
}

// fakeHub hands out a channel that is already filled and closed, so a
// stream ends as soon as it has written the queued events.
type fakeHub struct {
	mu           sync.Mutex
	queued       []*domain.RealtimeEvent
	unsubscribed int
}

func (h *fakeHub) Subscribe(string) <-chan *domain.RealtimeEvent {
	ch := make(chan *domain.RealtimeEvent, len(h.queued))
	for _, ev := range h.queued {
		ch <- ev
	}
	close(ch)
	return ch
}

func (h *fakeHub) Unsubscribe(string, <-chan *domain.RealtimeEvent) {
	h.mu.Lock()
	h.unsubscribed++
	h.mu.Unlock()
}

func (h *fakeHub) Push(context.Context, string, *domain.RealtimeEvent) error { return nil }
func (h *fakeHub) ConnectedCount() int                                      { return 0 }
func (h *fakeHub) IsConnected(string) bool                                  { return false }

type fakeDirectory struct {
	users map[string]*domain.AuthUser
}

func (d *fakeDirectory) VerifyToken(context.Context, string) *domain.AuthUser { return nil }

func (d *fakeDirectory) GetUserByID(_ context.Context, id string) *domain.AuthUser {
	return d.users[id]
}

func (d *fakeDirectory) ListUsers(context.Context, int, int) ([]domain.AuthUser, error) {
	return nil, nil
}

func TestHello(t *testing.T) {
	h := &HelloHandler{now: func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }}
	app := newTestApp(nil, h.Register)

	req := httptest.NewRequest("GET", "/hello", nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["message"] != "Hello from Teamera API!" || body["status"] != "success" {
		t.Errorf("body = %v", body)
	}
	if body["timestamp"] != "2024-01-02T03:04:05.000Z" {
		t.Errorf("timestamp = %q", body["timestamp"])
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		required   error
		optional   error
		wantStatus int
	}{
		{"all up", nil, nil, 200},
		{"optional down", nil, errors.New("redis down"), 200},
		{"required down", errors.New("supabase down"), nil, 503},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler().
				AddCheck("supabase", func(context.Context) error { return tt.required }).
				AddOptionalCheck("redis", func(context.Context) error { return tt.optional }).
				AddInfo("streams", func() any { return 3 })
			app := fiber.New()
			h.Register(app)

			resp, err := app.Test(httptest.NewRequest("GET", "/ready", nil), -1)
			if err != nil {
				t.Fatal(err)
			}
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}

			resp, err = app.Test(httptest.NewRequest("GET", "/health", nil), -1)
			if err != nil || resp.StatusCode != 200 {
				t.Errorf("/health = %v, %v", resp.StatusCode, err)
			}
		})
	}
}

func TestUserValidate(t *testing.T) {
	h := NewUserHandler(&fakeDirectory{})
	app := newTestApp(nil, func(r fiber.Router) { h.RegisterPublic(r) })

	tests := []struct {
		name      string
		body      string
		wantValid bool
		wantMsg   string
	}{
		{"valid", `{"name":"Ada","email":"ada@example.com"}`, true, "Validation passed"},
		{"missing name", `{"name":" ","email":"ada@example.com"}`, false, "Validation failed"},
		{"bad email", `{"name":"Ada","email":"ada"}`, false, "Validation failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, env := do(t, app, "POST", "/users/validate", tt.body)
			if status != 200 || env.Message != tt.wantMsg {
				t.Fatalf("status %d message %q", status, env.Message)
			}
			var res struct {
				IsValid bool     `json:"isValid"`
				Errors  []string `json:"errors"`
			}
			_ = json.Unmarshal(env.Data, &res)
			if res.IsValid != tt.wantValid {
				t.Errorf("isValid = %v", res.IsValid)
			}
			if !tt.wantValid && len(res.Errors) == 0 {
				t.Error("expected errors")
			}
		})
	}
}

func TestUserGet(t *testing.T) {
	dir := &fakeDirectory{users: map[string]*domain.AuthUser{
		aliceID: {ID: aliceID, Email: "alice@example.com"},
		bobID:   {ID: bobID, Email: "bob@example.com"},
	}}
	h := NewUserHandler(dir)

	tests := []struct {
		name       string
		role       string
		path       string
		wantStatus int
	}{
		{"self", "authenticated", "/users/" + aliceID, 200},
		{"other", "authenticated", "/users/" + bobID, 403},
		{"other as service", serviceRole, "/users/" + bobID, 200},
		{"bad id", "authenticated", "/users/nope", 400},
		{"unknown", serviceRole, "/users/11111111-2222-4333-8444-555555555555", 404},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newTestApp(asUser(aliceID, "alice@example.com", tt.role), h.Register)
			status, env := do(t, app, "GET", tt.path, "")
			if status != tt.wantStatus {
				t.Errorf("status = %d, want %d (%s)", status, tt.wantStatus, env.Message)
			}
		})
	}
}

func TestProfileGet_NoProfile(t *testing.T) {
	svc := &fakeProfiles{profiles: map[string]*domain.Profile{}}
	h := NewProfileHandler(svc, &fakeHub{}, time.Hour, zerolog.Nop())
	app := newTestApp(asUser(aliceID, "alice@example.com", "authenticated"), h.Register)

	resp, err := app.Test(httptest.NewRequest("GET", "/profile", nil), -1)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	raw, _ := io.ReadAll(resp.Body)
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
	data, ok := fields["data"]
	if !ok || string(data) != "null" {
		t.Errorf("data = %q (present %v), want null", data, ok)
	}
	if string(fields["message"]) != `"No profile yet"` {
		t.Errorf("message = %s", fields["message"])
	}
}

func TestProfileGet(t *testing.T) {
	svc := &fakeProfiles{profiles: map[string]*domain.Profile{
		aliceID: {ID: aliceID, Name: "Alice Liddell", Email: "alice@example.com"},
	}}
	h := NewProfileHandler(svc, &fakeHub{}, time.Hour, zerolog.Nop())

	app := newTestApp(asUser(aliceID, "alice@example.com", "authenticated"), h.Register)
	status, env := do(t, app, "GET", "/profile", "")
	if status != 200 {
		t.Fatalf("status = %d", status)
	}
	var p domain.Profile
	if err := json.Unmarshal(env.Data, &p); err != nil || p.Name != "Alice Liddell" {
		t.Errorf("profile = %+v (%v)", p, err)
	}

	status, env = do(t, app, "GET", "/profile/view", "")
	if status != 200 {
		t.Fatalf("view status = %d", status)
	}
	var v struct {
		Initials string `json:"initials"`
		Title    string `json:"title"`
	}
	_ = json.Unmarshal(env.Data, &v)
	if v.Initials != "AL" || v.Title != "Developer" {
		t.Errorf("view = %+v", v)
	}

	app = newTestApp(asUser(bobID, "bob@example.com", "authenticated"), h.Register)
	status, env = do(t, app, "GET", "/profile", "")
	if status != 200 || (len(env.Data) != 0 && string(env.Data) != "null") {
		t.Errorf("missing profile: status %d data %s", status, env.Data)
	}
	if status, _ := do(t, app, "GET", "/profile/view", ""); status != 404 {
		t.Errorf("missing view status = %d", status)
	}
}

func TestProfileSave(t *testing.T) {
	tests := []struct {
		name       string
		email      string
		body       string
		wantStatus int
		check      func(t *testing.T, svc *fakeProfiles)
	}{
		{
			name:       "sanitized",
			email:      "alice@example.com",
			body:       `{"id":"spoofed","name":"  <script>alert(1)</script>Alice  ","bio":"  hi  ","skills":["Go "]}`,
			wantStatus: 200,
			check: func(t *testing.T, svc *fakeProfiles) {
				if svc.saved.Name != "Alice" {
					t.Errorf("name = %q", svc.saved.Name)
				}
				if domain.Deref(svc.saved.Bio) != "hi" {
					t.Errorf("bio = %v", svc.saved.Bio)
				}
				if svc.saved.Skills[0].Name != "Go" {
					t.Errorf("skill = %q", svc.saved.Skills[0].Name)
				}
				if svc.savedBy.ID != aliceID {
					t.Errorf("saved as %q", svc.savedBy.ID)
				}
			},
		},
		{
			name:       "email from body when token has none",
			email:      "",
			body:       `{"name":"Alice","email":"alice@example.com"}`,
			wantStatus: 200,
			check: func(t *testing.T, svc *fakeProfiles) {
				if svc.savedBy.Email != "alice@example.com" {
					t.Errorf("email = %q", svc.savedBy.Email)
				}
			},
		},
		{name: "missing name", email: "alice@example.com", body: `{"name":""}`, wantStatus: 400},
		{name: "name only a script", email: "alice@example.com", body: `{"name":"<script>x</script>"}`, wantStatus: 400},
		{name: "bad body", email: "alice@example.com", body: `{"name":`, wantStatus: 400},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeProfiles{}
			h := NewProfileHandler(svc, &fakeHub{}, time.Hour, zerolog.Nop())
			app := newTestApp(asUser(aliceID, tt.email, "authenticated"), h.Register)

			status, env := do(t, app, "PUT", "/profile", tt.body)
			if status != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", status, tt.wantStatus, env.Message)
			}
			if tt.check != nil {
				tt.check(t, svc)
			}
		})
	}
}

func TestProfileStream(t *testing.T) {
	svc := &fakeProfiles{}
	hub := &fakeHub{queued: []*domain.RealtimeEvent{{
		Type:      domain.EventProfileUpdated,
		Seq:       7,
		Data:      map[string]string{"name": "Alice"},
		Timestamp: time.Now(),
	}}}
	h := NewProfileHandler(svc, hub, time.Hour, zerolog.Nop())
	app := newTestApp(asUser(aliceID, "alice@example.com", "authenticated"), h.Register)

	resp, err := app.Test(httptest.NewRequest("GET", "/profile/stream", nil), -1)
	if err != nil {
		t.Fatal(err)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}
	raw, _ := io.ReadAll(resp.Body)
	body := string(raw)

	if !strings.HasPrefix(body, "event: connected\n") {
		t.Errorf("stream should open with connected, got %q", body)
	}
	if !strings.Contains(body, "id: 7\nevent: profile.updated\n") {
		t.Errorf("update missing from %q", body)
	}
	hub.mu.Lock()
	unsubscribed := hub.unsubscribed
	hub.mu.Unlock()
	svc.mu.Lock()
	watching := svc.watching
	svc.mu.Unlock()
	if unsubscribed != 1 || watching != 0 {
		t.Errorf("cleanup: unsubscribed %d, watching %d", unsubscribed, watching)
	}
}

func TestProfileStreamUnavailable(t *testing.T) {
	svc := &fakeProfiles{watchErr: errors.New("socket down")}
	h := NewProfileHandler(svc, &fakeHub{}, time.Hour, zerolog.Nop())
	app := newTestApp(asUser(aliceID, "alice@example.com", "authenticated"), h.Register)

	if status, _ := do(t, app, "GET", "/profile/stream", ""); status != 500 {
		t.Errorf("status = %d", status)
	}
}

func TestLogout(t *testing.T) {
	h := NewAuthHandler(nil)
	app := newTestApp(asUser(aliceID, "alice@example.com", "authenticated"), h.Register)

	status, env := do(t, app, "POST", "/auth/logout", "")
	if status != 200 || env.Message != "Logged out" {
		t.Errorf("status %d message %q", status, env.Message)
	}

	app = newTestApp(nil, h.Register)
	if status, _ := do(t, app, "POST", "/auth/logout", ""); status != 401 {
		t.Errorf("anonymous logout status = %d", status)
	}
}
