package in

import (
	"context"

	"teamera_server/core/domain"
)

// SessionManager owns "who is logged in" and "what is their profile" for
// one client instance.
type SessionManager interface {
	Initialize(ctx context.Context) error
	Dispose()

	Login(ctx context.Context, email, password string) domain.Result
	Signup(ctx context.Context, email, password, name string) domain.Result
	Logout(ctx context.Context) domain.Result
	UpdateProfile(ctx context.Context, fields *domain.Profile) domain.Result
	ResetPassword(ctx context.Context, email string) domain.Result
	SignInWithProvider(ctx context.Context, provider domain.OAuthProvider) domain.Result
	ExchangeCode(ctx context.Context, code string) domain.Result

	// FetchProfile returns nil, nil when the user has no profile yet.
	FetchProfile(ctx context.Context, userID string) (*domain.Profile, error)

	State() domain.AuthState
	SetShowAuthModal(show bool)
	Subscribe() (<-chan domain.AuthState, func())
}
