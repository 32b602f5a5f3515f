package out

import (
	"context"

	"teamera_server/core/domain"
)

// AuthStateListener receives session changes announced by the auth provider.
// session is nil after sign-out.
type AuthStateListener func(event domain.AuthEvent, session *domain.Session)

// AuthProvider is the user-scoped surface of the auth backend.
type AuthProvider interface {
	// GetSession returns the current session, or nil when signed out.
	GetSession(ctx context.Context) (*domain.Session, error)

	// GetUser asks the backend for the user behind the current session.
	GetUser(ctx context.Context) (*domain.AuthUser, error)

	// OnAuthStateChange registers fn and returns its deregistration func.
	OnAuthStateChange(fn AuthStateListener) (unsubscribe func())

	SignInWithPassword(ctx context.Context, email, password string) (*domain.Session, error)
	SignUp(ctx context.Context, email, password string, metadata map[string]any) (*domain.SignUpResult, error)
	SignOut(ctx context.Context) error

	// SignInWithOAuth starts a redirect handshake and returns the URL to open.
	SignInWithOAuth(ctx context.Context, provider domain.OAuthProvider, redirectTo string) (string, error)

	// ExchangeCodeForSession completes a redirect handshake.
	ExchangeCodeForSession(ctx context.Context, code string) (*domain.Session, error)

	ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error
}

// SessionStore persists the session handle between process runs.
type SessionStore interface {
	// Load returns nil, nil when nothing is stored.
	Load(ctx context.Context) (*domain.Session, error)
	Save(ctx context.Context, session *domain.Session) error
	Clear(ctx context.Context) error
}

// UserDirectory is the administrative user lookup.
type UserDirectory interface {
	// VerifyToken returns the user behind token, or nil.
	VerifyToken(ctx context.Context, token string) *domain.AuthUser

	// GetUserByID returns the user, or nil when it cannot be loaded.
	GetUserByID(ctx context.Context, id string) *domain.AuthUser

	ListUsers(ctx context.Context, page, perPage int) ([]domain.AuthUser, error)
}
