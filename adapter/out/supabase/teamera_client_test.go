package supabase

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"teamera_server/core/domain"
	"teamera_server/pkg/apperr"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{URL: srv.URL, APIKey: "anon-key", Name: "test", Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"exp": exp.Unix(),
	}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

func sessionBody(token string) map[string]any {
	return map[string]any{
		"access_token":  token,
		"refresh_token": "refresh-1",
		"token_type":    "bearer",
		"expires_in":    3600,
		"user": map[string]any{
			"id":            "user-1",
			"email":         "ada@example.com",
			"user_metadata": map[string]any{"name": "Ada"},
		},
	}
}

func TestNewClient_Config(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing url", Config{APIKey: "k"}},
		{"missing key", Config{URL: "https://x.supabase.co"}},
		{"no host", Config{URL: "not a url", APIKey: "k"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient(tt.cfg)
			if !apperr.HasCode(err, apperr.CodeConfigError) {
				t.Fatalf("expected config error, got %v", err)
			}
		})
	}

	c, err := NewClient(Config{URL: "https://proj.supabase.co/", APIKey: "k", Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if c.BaseURL() != "https://proj.supabase.co" {
		t.Errorf("base url = %q", c.BaseURL())
	}
	if c.realtimeURL != "wss://proj.supabase.co/realtime/v1/websocket" {
		t.Errorf("realtime url = %q", c.realtimeURL)
	}
}

func TestParseError(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantCode string
		wantMsg  string
	}{
		{
			name:     "gotrue legacy",
			status:   400,
			body:     `{"error":"invalid_grant","error_description":"Invalid login credentials"}`,
			wantCode: "invalid_grant",
			wantMsg:  "Invalid login credentials",
		},
		{
			name:     "gotrue numeric code",
			status:   422,
			body:     `{"code":422,"error_code":"weak_password","msg":"Password should be at least 6 characters"}`,
			wantCode: "weak_password",
			wantMsg:  "Password should be at least 6 characters",
		},
		{
			name:     "postgrest",
			status:   406,
			body:     `{"code":"PGRST116","message":"JSON object requested, multiple (or no) rows returned","details":"The result contains 0 rows","hint":null}`,
			wantCode: CodeNoRows,
			wantMsg:  "JSON object requested, multiple (or no) rows returned",
		},
		{
			name:    "plain text",
			status:  502,
			body:    "upstream down",
			wantMsg: "upstream down",
		},
		{
			name:    "empty body",
			status:  503,
			body:    "",
			wantMsg: "Service Unavailable",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := parseError([]byte(tt.body), tt.status)
			e, ok := err.(*Error)
			if !ok {
				t.Fatalf("expected *Error, got %T", err)
			}
			if e.Status != tt.status || e.Code != tt.wantCode || e.Message != tt.wantMsg {
				t.Errorf("got {%d %q %q}, want {%d %q %q}", e.Status, e.Code, e.Message, tt.status, tt.wantCode, tt.wantMsg)
			}
		})
	}
}

func TestSignInWithPassword(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token := signedToken(t, exp)

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/v1/token" || r.URL.Query().Get("grant_type") != "password" {
			t.Errorf("unexpected request %s", r.URL)
		}
		if r.Header.Get("apikey") != "anon-key" || r.Header.Get("Authorization") != "Bearer anon-key" {
			t.Errorf("missing key headers: %v", r.Header)
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["email"] != "ada@example.com" || body["password"] != "pw" {
			t.Errorf("body = %v", body)
		}
		writeJSON(w, 200, sessionBody(token))
	})

	sess, err := c.SignInWithPassword(context.Background(), "ada@example.com", "pw")
	if err != nil {
		t.Fatalf("SignInWithPassword: %v", err)
	}
	if sess.UserID() != "user-1" || sess.RefreshToken != "refresh-1" {
		t.Errorf("session = %+v", sess)
	}
	if sess.ExpiresAt != exp.Unix() {
		t.Errorf("ExpiresAt = %d, want %d from the token", sess.ExpiresAt, exp.Unix())
	}
}

func TestSignInWithPassword_Rejected(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 400, map[string]string{"error": "invalid_grant", "error_description": "Invalid login credentials"})
	})

	_, err := c.SignInWithPassword(context.Background(), "ada@example.com", "bad")
	if !IsStatus(err, 400) {
		t.Fatalf("expected 400 error, got %v", err)
	}
	if err.Error() != "Invalid login credentials" {
		t.Errorf("message = %q", err.Error())
	}
	if c.Breaker().IsOpen() {
		t.Error("client errors must not trip the breaker")
	}
}

func TestSignUp(t *testing.T) {
	tests := []struct {
		name        string
		body        map[string]any
		wantSession bool
	}{
		{"auto confirmed", sessionBody("opaque-token"), true},
		{"confirmation pending", map[string]any{"id": "user-2", "email": "bob@example.com"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/auth/v1/signup" {
					t.Errorf("path = %s", r.URL.Path)
				}
				if got := r.URL.Query().Get("redirect_to"); got != "https://teamera.app" {
					t.Errorf("redirect_to = %q", got)
				}
				writeJSON(w, 200, tt.body)
			})

			res, err := c.SignUp(context.Background(), "x@example.com", "pw", map[string]any{"name": "X"}, "https://teamera.app")
			if err != nil {
				t.Fatalf("SignUp: %v", err)
			}
			if (res.Session != nil) != tt.wantSession {
				t.Errorf("session present = %v, want %v", res.Session != nil, tt.wantSession)
			}
			if res.User == nil || res.User.ID == "" {
				t.Errorf("user = %+v", res.User)
			}
			if tt.wantSession && res.Session.ExpiresAt == 0 {
				t.Error("opaque token should fall back to expires_in")
			}
		})
	}
}

func TestAuthorizeURL(t *testing.T) {
	c, _ := NewClient(Config{URL: "https://proj.supabase.co", APIKey: "k", Logger: zerolog.Nop()})
	u := c.AuthorizeURL(domain.ProviderGoogle, "https://teamera.app", "abc")

	for _, want := range []string{
		"https://proj.supabase.co/auth/v1/authorize?",
		"provider=google",
		"redirect_to=https%3A%2F%2Fteamera.app",
		"code_challenge=abc",
		"code_challenge_method=s256",
	} {
		if !strings.Contains(u, want) {
			t.Errorf("%s missing %q", u, want)
		}
	}
}

func TestParseContentRange(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"0-9/42", 42},
		{"*/0", 0},
		{"0-0/*", -1},
		{"", -1},
		{"0-1/x", -1},
	}
	for _, tt := range tests {
		if got := parseContentRange(tt.in); got != tt.want {
			t.Errorf("parseContentRange(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestProfileStore_FindByID(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    any
		wantNil bool
		wantErr bool
	}{
		{"found", 200, map[string]any{"id": "u1", "email": "a@b.co", "name": "Ada", "skills": []any{"Go"}}, false, false},
		{"no row", 406, map[string]any{"code": "PGRST116", "message": "JSON object requested, multiple (or no) rows returned"}, true, false},
		{"backend failure", 400, map[string]any{"code": "42P01", "message": "relation \"profiles\" does not exist"}, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/rest/v1/profiles" || r.URL.Query().Get("id") != "eq.u1" {
					t.Errorf("unexpected request %s", r.URL)
				}
				if r.Header.Get("Accept") != "application/vnd.pgrst.object+json" {
					t.Errorf("Accept = %q", r.Header.Get("Accept"))
				}
				if r.Header.Get("Authorization") != "Bearer user-token" {
					t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
				}
				writeJSON(w, tt.status, tt.body)
			})
			store := NewProfileStore(c, func() string { return "user-token" })

			row, err := store.FindByID(context.Background(), "u1")
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if (row == nil) != tt.wantNil {
				t.Fatalf("row = %+v, wantNil %v", row, tt.wantNil)
			}
			if tt.wantErr && apperr.Message(err) != `relation "profiles" does not exist` {
				t.Errorf("message = %q", apperr.Message(err))
			}
			if row != nil && (row.Name != "Ada" || len(row.Skills) != 1) {
				t.Errorf("row = %+v", row)
			}
		})
	}
}

func TestProfileStore_Exists(t *testing.T) {
	for _, rows := range []string{`[]`, `[{"id":"u1"}]`} {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("select") != "id" || r.URL.Query().Get("limit") != "1" {
				t.Errorf("query = %s", r.URL.RawQuery)
			}
			_, _ = io.WriteString(w, rows)
		})
		ok, err := NewProfileStore(c, nil).Exists(context.Background(), "u1")
		if err != nil {
			t.Fatalf("Exists: %v", err)
		}
		if ok != (rows != `[]`) {
			t.Errorf("Exists with %s = %v", rows, ok)
		}
	}
}

func TestProfileStore_Writes(t *testing.T) {
	var gotMethod string
	var gotBody map[string]any
	var gotPrefer string

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPrefer = r.Header.Get("Prefer")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		writeJSON(w, 200, map[string]any{"id": "u1", "email": "a@b.co", "name": "Ada"})
	})
	store := NewProfileStore(c, nil)
	row := &domain.ProfileRow{ID: "u1", Email: "a@b.co", Name: "Ada", Bio: domain.StringPtr("hi")}

	if _, err := store.Update(context.Background(), "u1", row); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if gotMethod != http.MethodPatch || gotPrefer != "return=representation" {
		t.Errorf("update sent %s prefer=%q", gotMethod, gotPrefer)
	}
	if _, ok := gotBody["id"]; ok {
		t.Error("update body must not carry id")
	}
	if _, ok := gotBody["email"]; ok {
		t.Error("update body must not carry email")
	}
	if gotBody["bio"] != "hi" {
		t.Errorf("update body = %v", gotBody)
	}

	if _, err := store.Insert(context.Background(), row); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if gotMethod != http.MethodPost || gotBody["id"] != "u1" || gotBody["email"] != "a@b.co" {
		t.Errorf("insert sent %s %v", gotMethod, gotBody)
	}
}

func TestProfileStore_UniqueViolation(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 409, map[string]string{"code": "23505", "message": "duplicate key value violates unique constraint"})
	})
	_, err := NewProfileStore(c, nil).Insert(context.Background(), &domain.ProfileRow{ID: "u1"})
	if !apperr.HasCode(err, apperr.CodeAlreadyExists) {
		t.Fatalf("expected already exists, got %v", err)
	}
}

func newTestFacade(t *testing.T, h http.HandlerFunc) *Facade {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	f, err := NewFacade(FacadeConfig{
		URL:            srv.URL,
		ServiceRoleKey: "service-key",
		AnonKey:        "anon-key",
		Logger:         zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("NewFacade: %v", err)
	}
	return f
}

func TestNewFacade_MissingConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  FacadeConfig
	}{
		{"url", FacadeConfig{ServiceRoleKey: "s", AnonKey: "a"}},
		{"service key", FacadeConfig{URL: "https://x.co", AnonKey: "a"}},
		{"anon key", FacadeConfig{URL: "https://x.co", ServiceRoleKey: "s"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewFacade(tt.cfg); !apperr.HasCode(err, apperr.CodeConfigError) {
				t.Fatalf("expected config error, got %v", err)
			}
		})
	}
}

func TestFacade_VerifyToken(t *testing.T) {
	f := newTestFacade(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("apikey") != "anon-key" {
			t.Errorf("verify must use the anon key, got %q", r.Header.Get("apikey"))
		}
		if r.Header.Get("Authorization") == "Bearer good" {
			writeJSON(w, 200, map[string]any{"id": "u1", "email": "a@b.co"})
			return
		}
		writeJSON(w, 401, map[string]string{"msg": "invalid JWT"})
	})

	if u := f.VerifyToken(context.Background(), "good"); u == nil || u.ID != "u1" {
		t.Errorf("good token = %+v", u)
	}
	if u := f.VerifyToken(context.Background(), "bad"); u != nil {
		t.Errorf("bad token = %+v, want nil", u)
	}
	if u := f.VerifyToken(context.Background(), ""); u != nil {
		t.Errorf("empty token = %+v, want nil", u)
	}
}

func TestFacade_AdminCalls(t *testing.T) {
	f := newTestFacade(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("apikey") != "service-key" {
			t.Errorf("admin calls must use the service key")
		}
		switch r.URL.Path {
		case "/auth/v1/admin/users/u1":
			writeJSON(w, 200, map[string]any{"id": "u1", "email": "a@b.co"})
		case "/auth/v1/admin/users":
			if r.URL.Query().Get("per_page") != "2" {
				t.Errorf("query = %s", r.URL.RawQuery)
			}
			writeJSON(w, 200, map[string]any{"users": []any{map[string]any{"id": "u1"}, map[string]any{"id": "u2"}}})
		default:
			writeJSON(w, 404, map[string]string{"msg": "User not found"})
		}
	})

	if u := f.GetUserByID(context.Background(), "u1"); u == nil || u.Email != "a@b.co" {
		t.Errorf("GetUserByID = %+v", u)
	}
	if u := f.GetUserByID(context.Background(), "missing"); u != nil {
		t.Errorf("missing user = %+v, want nil", u)
	}
	users, err := f.ListUsers(context.Background(), 1, 2)
	if err != nil || len(users) != 2 {
		t.Fatalf("ListUsers = %v, %v", users, err)
	}
}

func TestFacade_TestConnection(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   bool
	}{
		{"ok", 200, `[{"count":3}]`, true},
		{"no content code", 400, `{"code":"PGRST204","message":"no content"}`, true},
		{"no rows code", 406, `{"code":"PGRST116","message":"no rows"}`, true},
		{"server error", 500, `{"message":"boom"}`, false},
		{"unauthorized", 401, `{"message":"Invalid API key"}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTestFacade(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/rest/v1/profiles" || r.URL.Query().Get("select") != "count" {
					t.Errorf("unexpected %s %s", r.Method, r.URL)
				}
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})
			if got := f.TestConnection(context.Background()); got != tt.want {
				t.Errorf("TestConnection = %v, want %v", got, tt.want)
			}
		})
	}
}
