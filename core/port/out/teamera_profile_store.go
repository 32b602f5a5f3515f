package out

import (
	"context"
	"time"

	"teamera_server/core/domain"
)

// ProfileStore persists profile rows.
type ProfileStore interface {
	// FindByID returns nil, nil when no row exists.
	FindByID(ctx context.Context, id string) (*domain.ProfileRow, error)

	Exists(ctx context.Context, id string) (bool, error)

	// Insert stores row and returns the stored row.
	Insert(ctx context.Context, row *domain.ProfileRow) (*domain.ProfileRow, error)

	// Update writes row to the record with id and returns the stored row.
	Update(ctx context.Context, id string, row *domain.ProfileRow) (*domain.ProfileRow, error)
}

// ProfileCache is a read-through cache in front of a ProfileStore.
type ProfileCache interface {
	Get(ctx context.Context, id string) (*domain.ProfileRow, bool)
	Set(ctx context.Context, row *domain.ProfileRow, ttl time.Duration) error
	Invalidate(ctx context.Context, id string) error
}
