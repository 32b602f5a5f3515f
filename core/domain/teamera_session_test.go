package domain

import (
	"errors"
	"testing"
	"time"

	"teamera_server/pkg/apperr"
)

func TestAuthUserDisplayName(t *testing.T) {
	tests := []struct {
		name string
		user *AuthUser
		want string
	}{
		{"metadata name", &AuthUser{Email: "ada@example.com", UserMetadata: map[string]any{"name": "Ada L"}}, "Ada L"},
		{"blank metadata name", &AuthUser{Email: "ada@example.com", UserMetadata: map[string]any{"name": "  "}}, "ada"},
		{"no metadata", &AuthUser{Email: "grace.hopper@navy.mil"}, "grace.hopper"},
		{"non-string name", &AuthUser{Email: "x@y.z", UserMetadata: map[string]any{"name": 7}}, "x"},
		{"nil user", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.user.DisplayName(); got != tt.want {
				t.Errorf("DisplayName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFallbackProfile(t *testing.T) {
	p := FallbackProfile(&AuthUser{ID: "u1", Email: "lin@example.com"})
	if p.ID != "u1" || p.Email != "lin@example.com" || p.Name != "lin" {
		t.Errorf("FallbackProfile() = %+v", p)
	}
	if p.NeedsOnboarding {
		t.Error("fallback profile is not a signup profile")
	}
}

func TestSessionExpiresWithin(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	tests := []struct {
		name      string
		expiresAt int64
		window    time.Duration
		want      bool
	}{
		{"far future", now.Add(time.Hour).Unix(), time.Minute, false},
		{"inside window", now.Add(30 * time.Second).Unix(), time.Minute, true},
		{"already expired", now.Add(-time.Second).Unix(), 0, true},
		{"unknown expiry", 0, time.Minute, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Session{ExpiresAt: tt.expiresAt}
			if got := s.ExpiresWithin(now, tt.window); got != tt.want {
				t.Errorf("ExpiresWithin() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResultFailed(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"app error keeps message only", apperr.InvalidCredentials("Invalid login credentials"), "Invalid login credentials"},
		{"plain error", errors.New("network down"), "network down"},
		{"no user", apperr.NoSession(), "No user logged in"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Failed(tt.err)
			if r.Success || r.Error != tt.want {
				t.Errorf("Failed(%v) = %+v, want error %q", tt.err, r, tt.want)
			}
		})
	}
}

func TestNewUser(t *testing.T) {
	u, err := NewUser(UserInput{Name: " Ada ", Email: "ada@example.com"})
	if err != nil {
		t.Fatalf("NewUser() error = %v", err)
	}
	if u.ID == "" || u.Name != "Ada" || u.CreatedAt.IsZero() {
		t.Errorf("NewUser() = %+v", u)
	}

	before := u.UpdatedAt
	time.Sleep(time.Millisecond)
	u.Update(UserInput{Name: "Ada Lovelace"})
	if u.Name != "Ada Lovelace" || u.Email != "ada@example.com" || !u.UpdatedAt.After(before) {
		t.Errorf("Update() = %+v", u)
	}

	if _, err := NewUser(UserInput{Email: "bad"}); !apperr.HasCode(err, apperr.CodeValidationFailed) {
		t.Errorf("NewUser(invalid) error = %v, want validation failure", err)
	}
}
