package in

import (
	"context"

	"teamera_server/core/domain"
)

// ProfileService serves profiles to authenticated API callers.
type ProfileService interface {
	// GetProfile returns nil, nil when the user has no profile yet.
	GetProfile(ctx context.Context, userID string) (*domain.Profile, error)

	// SaveProfile updates the caller's row, or inserts it when absent.
	SaveProfile(ctx context.Context, user *domain.AuthUser, fields *domain.Profile) (*domain.Profile, error)

	// WatchProfile relays store updates of userID's row to API clients
	// until the returned func is called.
	WatchProfile(ctx context.Context, userID string) (stop func(), err error)
}
