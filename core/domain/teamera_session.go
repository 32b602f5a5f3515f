package domain

import (
	"strings"
	"time"
)

// AuthUser is the auth provider's user record.
type AuthUser struct {
	ID               string         `json:"id"`
	Email            string         `json:"email"`
	Phone            string         `json:"phone,omitempty"`
	Role             string         `json:"role,omitempty"`
	UserMetadata     map[string]any `json:"user_metadata,omitempty"`
	AppMetadata      map[string]any `json:"app_metadata,omitempty"`
	EmailConfirmedAt *time.Time     `json:"email_confirmed_at,omitempty"`
	LastSignInAt     *time.Time     `json:"last_sign_in_at,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// DisplayName is user_metadata.name, else the local part of the email.
func (u *AuthUser) DisplayName() string {
	if u == nil {
		return ""
	}
	if name, ok := u.UserMetadata["name"].(string); ok && strings.TrimSpace(name) != "" {
		return name
	}
	local, _, _ := strings.Cut(u.Email, "@")
	return local
}

// Provider is the sign-in provider recorded in app_metadata.
func (u *AuthUser) Provider() string {
	if u == nil {
		return ""
	}
	p, _ := u.AppMetadata["provider"].(string)
	return p
}

// Session is an authenticated login instance.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int64     `json:"expires_in"`
	ExpiresAt    int64     `json:"expires_at"`
	User         *AuthUser `json:"user"`
}

// Expiry returns the absolute expiry time.
func (s *Session) Expiry() time.Time {
	return time.Unix(s.ExpiresAt, 0)
}

// ExpiresWithin reports whether the session expires before now+d.
func (s *Session) ExpiresWithin(now time.Time, d time.Duration) bool {
	if s.ExpiresAt == 0 {
		return false
	}
	return !now.Add(d).Before(s.Expiry())
}

// UserID returns the session's user id or "".
func (s *Session) UserID() string {
	if s == nil || s.User == nil {
		return ""
	}
	return s.User.ID
}

// AuthEvent names a session change announced by the auth provider.
type AuthEvent string

const (
	EventInitialSession   AuthEvent = "INITIAL_SESSION"
	EventSignedIn         AuthEvent = "SIGNED_IN"
	EventSignedOut        AuthEvent = "SIGNED_OUT"
	EventTokenRefreshed   AuthEvent = "TOKEN_REFRESHED"
	EventUserUpdated      AuthEvent = "USER_UPDATED"
	EventPasswordRecovery AuthEvent = "PASSWORD_RECOVERY"
)

// OAuthProvider names a federated sign-in provider.
type OAuthProvider string

const (
	ProviderGoogle OAuthProvider = "google"
	ProviderAzure  OAuthProvider = "azure"
)

// SupportedProvider reports whether p can be used for federated sign-in.
func SupportedProvider(p OAuthProvider) bool {
	return p == ProviderGoogle || p == ProviderAzure
}

// SignUpResult is what the provider returns for a registration.
// Session is nil when email confirmation is pending.
type SignUpResult struct {
	User    *AuthUser
	Session *Session
}

// AuthState is an immutable snapshot of the session manager's state.
type AuthState struct {
	User            *Profile `json:"user"`
	Session         *Session `json:"session"`
	Loading         bool     `json:"loading"`
	IsAuthenticated bool     `json:"isAuthenticated"`
	ShowAuthModal   bool     `json:"showAuthModal"`
}
