package persistence

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"teamera_server/core/domain"
	"teamera_server/core/port/out"
	"teamera_server/pkg/cache"
)

const defaultProfileTTL = 5 * time.Minute

func profileCacheKey(id string) string {
	return "profile:" + id
}

// ProfileCache keeps profile rows in Redis.
type ProfileCache struct {
	cache *cache.RedisCache
}

var _ out.ProfileCache = (*ProfileCache)(nil)

func NewProfileCache(c *cache.RedisCache) *ProfileCache {
	return &ProfileCache{cache: c}
}

// Get reports a miss on any cache error.
func (c *ProfileCache) Get(ctx context.Context, id string) (*domain.ProfileRow, bool) {
	var row domain.ProfileRow
	found, err := c.cache.GetJSON(ctx, profileCacheKey(id), &row)
	if err != nil || !found {
		return nil, false
	}
	return &row, true
}

func (c *ProfileCache) Set(ctx context.Context, row *domain.ProfileRow, ttl time.Duration) error {
	return c.cache.SetJSON(ctx, profileCacheKey(row.ID), row, ttl)
}

func (c *ProfileCache) Invalidate(ctx context.Context, id string) error {
	return c.cache.Delete(ctx, profileCacheKey(id))
}

// CachedProfileStore wraps a ProfileStore with a read-through cache.
// Writes refresh the cached row; missing rows are not cached.
type CachedProfileStore struct {
	delegate out.ProfileStore
	cache    out.ProfileCache
	ttl      time.Duration
	log      zerolog.Logger
}

var _ out.ProfileStore = (*CachedProfileStore)(nil)

func NewCachedProfileStore(delegate out.ProfileStore, c out.ProfileCache, ttl time.Duration, log zerolog.Logger) *CachedProfileStore {
	if ttl <= 0 {
		ttl = defaultProfileTTL
	}
	return &CachedProfileStore{
		delegate: delegate,
		cache:    c,
		ttl:      ttl,
		log:      log.With().Str("component", "profile_cache").Logger(),
	}
}

func (s *CachedProfileStore) FindByID(ctx context.Context, id string) (*domain.ProfileRow, error) {
	if row, ok := s.cache.Get(ctx, id); ok {
		return row, nil
	}

	row, err := s.delegate.FindByID(ctx, id)
	if err != nil || row == nil {
		return row, err
	}
	s.store(ctx, row)
	return row, nil
}

func (s *CachedProfileStore) Exists(ctx context.Context, id string) (bool, error) {
	if _, ok := s.cache.Get(ctx, id); ok {
		return true, nil
	}
	return s.delegate.Exists(ctx, id)
}

func (s *CachedProfileStore) Insert(ctx context.Context, row *domain.ProfileRow) (*domain.ProfileRow, error) {
	stored, err := s.delegate.Insert(ctx, row)
	if err != nil {
		return nil, err
	}
	s.store(ctx, stored)
	return stored, nil
}

func (s *CachedProfileStore) Update(ctx context.Context, id string, row *domain.ProfileRow) (*domain.ProfileRow, error) {
	stored, err := s.delegate.Update(ctx, id, row)
	if err != nil {
		if ierr := s.cache.Invalidate(ctx, id); ierr != nil {
			s.log.Warn().Err(ierr).Str("profile_id", id).Msg("invalidate after failed update")
		}
		return nil, err
	}
	s.store(ctx, stored)
	return stored, nil
}

// Invalidate drops id from the cache. The realtime relay calls it when a
// change arrives from another writer.
func (s *CachedProfileStore) Invalidate(ctx context.Context, id string) {
	if err := s.cache.Invalidate(ctx, id); err != nil {
		s.log.Warn().Err(err).Str("profile_id", id).Msg("invalidate profile")
	}
}

func (s *CachedProfileStore) store(ctx context.Context, row *domain.ProfileRow) {
	if row.ID == "" {
		return
	}
	if err := s.cache.Set(ctx, row, s.ttl); err != nil {
		s.log.Warn().Err(err).Str("profile_id", row.ID).Msg("cache profile")
	}
}
