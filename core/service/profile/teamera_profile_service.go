// Package profile serves the caller's own profile to the HTTP API.
package profile

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"teamera_server/core/domain"
	"teamera_server/core/port/in"
	"teamera_server/core/port/out"
	"teamera_server/core/service/realtime"
	"teamera_server/pkg/apperr"
	"teamera_server/pkg/metrics"
)

// invalidator is implemented by caching stores.
type invalidator interface {
	Invalidate(ctx context.Context, id string)
}

type Service struct {
	store out.ProfileStore
	feed  out.ChangeFeed
	hub   out.RealtimePort
	log   zerolog.Logger

	mu      sync.Mutex
	watches map[string]*relay
}

// relay is one change-feed watch shared by every open stream of a user.
type relay struct {
	watcher *realtime.ProfileWatcher
	refs    int
}

var _ in.ProfileService = (*Service)(nil)

func NewService(store out.ProfileStore, feed out.ChangeFeed, hub out.RealtimePort, log zerolog.Logger) *Service {
	return &Service{
		store:   store,
		feed:    feed,
		hub:     hub,
		log:     log.With().Str("component", "profile_service").Logger(),
		watches: make(map[string]*relay),
	}
}

func (s *Service) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	if userID == "" {
		return nil, apperr.MissingField("user_id")
	}
	row, err := s.store.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return domain.ProfileFromRow(row), nil
}

// SaveProfile writes fields for user. The id and email always come from
// the authenticated user, never from fields.
func (s *Service) SaveProfile(ctx context.Context, user *domain.AuthUser, fields *domain.Profile) (*domain.Profile, error) {
	if user == nil || user.ID == "" {
		return nil, apperr.NoSession()
	}
	if fields == nil {
		fields = &domain.Profile{}
	}

	row := domain.ProfileToRow(fields)

	exists, err := s.store.Exists(ctx, user.ID)
	if err != nil {
		s.log.Error().Err(err).Str("user_id", user.ID).Msg("save profile: existence check")
		metrics.ObserveOperation("api_save_profile", false)
		return nil, err
	}

	var stored *domain.ProfileRow
	if exists {
		stored, err = s.store.Update(ctx, user.ID, row.UpdatePayload())
	} else {
		stored, err = s.store.Insert(ctx, row.InsertPayload(user.ID, user.Email))
	}
	metrics.ObserveOperation("api_save_profile", err == nil)
	if err != nil {
		s.log.Error().Err(err).Str("user_id", user.ID).Bool("existed", exists).Msg("save profile")
		return nil, err
	}
	if stored == nil {
		return nil, apperr.Internal("profile store returned no row")
	}

	s.log.Info().Str("user_id", user.ID).Bool("created", !exists).Msg("profile saved")
	return domain.ProfileFromRow(stored), nil
}

// WatchProfile relays updates of userID's row to the realtime hub until
// stop is called. Streams of the same user share one subscription.
func (s *Service) WatchProfile(ctx context.Context, userID string) (func(), error) {
	if userID == "" {
		return nil, apperr.MissingField("user_id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.watches[userID]
	if !ok {
		w := realtime.NewProfileWatcher(s.feed, s.log)
		if err := w.Watch(ctx, userID, func(p *domain.Profile) { s.relay(userID, p) }); err != nil {
			return nil, apperr.Unavailable("realtime", err)
		}
		r = &relay{watcher: w}
		s.watches[userID] = r
	}
	r.refs++

	var once sync.Once
	return func() { once.Do(func() { s.release(userID) }) }, nil
}

func (s *Service) release(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.watches[userID]
	if !ok {
		return
	}
	r.refs--
	if r.refs > 0 {
		return
	}
	r.watcher.Close()
	delete(s.watches, userID)
}

// Watching reports how many users have an open relay.
func (s *Service) Watching() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watches)
}

func (s *Service) relay(userID string, p *domain.Profile) {
	ctx := context.Background()
	if inv, ok := s.store.(invalidator); ok {
		inv.Invalidate(ctx, userID)
	}
	if err := s.hub.Push(ctx, userID, domain.NewProfileUpdatedEvent(p)); err != nil {
		s.log.Warn().Err(err).Str("user_id", userID).Msg("relay profile update")
	}
}

// Close drops every open relay.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, r := range s.watches {
		r.watcher.Close()
		delete(s.watches, id)
	}
}
