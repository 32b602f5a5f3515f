// Package realtime ties change-feed subscriptions to one watched profile.
package realtime

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"teamera_server/core/domain"
	"teamera_server/core/port/out"
)

// ProfileHandler receives the translated profile of every row update.
type ProfileHandler func(p *domain.Profile)

// ProfileWatcher keeps at most one change-feed subscription open, for the
// profile row currently being watched.
type ProfileWatcher struct {
	feed out.ChangeFeed
	log  zerolog.Logger

	mu      sync.Mutex
	current *watch
}

type watch struct {
	id      string
	sub     out.Subscription
	handler atomic.Pointer[ProfileHandler]
	closed  atomic.Bool
}

// NewProfileWatcher creates a watcher on feed.
func NewProfileWatcher(feed out.ChangeFeed, log zerolog.Logger) *ProfileWatcher {
	return &ProfileWatcher{
		feed: feed,
		log:  log.With().Str("component", "profile_watcher").Logger(),
	}
}

// Watch points the watcher at id.
//
// The same id keeps the open subscription and only swaps the handler.
// A different id closes the old subscription before opening the new one.
// An empty id leaves no subscription open.
func (w *ProfileWatcher) Watch(ctx context.Context, id string, fn ProfileHandler) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.current != nil && w.current.id == id {
		w.current.handler.Store(&fn)
		return nil
	}

	w.closeLocked()
	if id == "" {
		return nil
	}

	wt := &watch{id: id}
	wt.handler.Store(&fn)

	sub, err := w.feed.Subscribe(ctx, domain.ProfileRowFilter(id), func(change domain.RowChange) {
		w.dispatch(wt, change)
	})
	if err != nil {
		return fmt.Errorf("subscribe to profile %s: %w", id, err)
	}
	wt.sub = sub
	w.current = wt

	w.log.Debug().Str("user_id", id).Msg("watching profile")
	return nil
}

// Active returns the watched id, or "".
func (w *ProfileWatcher) Active() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current == nil {
		return ""
	}
	return w.current.id
}

// Close drops the open subscription, if any.
func (w *ProfileWatcher) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closeLocked()
}

func (w *ProfileWatcher) closeLocked() {
	if w.current == nil {
		return
	}
	wt := w.current
	w.current = nil
	wt.closed.Store(true)
	if wt.sub != nil {
		if err := wt.sub.Close(); err != nil {
			w.log.Warn().Err(err).Str("user_id", wt.id).Msg("close profile subscription")
		}
	}
	w.log.Debug().Str("user_id", wt.id).Msg("stopped watching profile")
}

func (w *ProfileWatcher) dispatch(wt *watch, change domain.RowChange) {
	if wt.closed.Load() || change.Type != domain.ChangeUpdate {
		return
	}

	row, err := domain.DecodeProfileRow(change.New)
	if err != nil {
		w.log.Warn().Err(err).Str("user_id", wt.id).Msg("decode profile change")
		return
	}
	if row.ID != wt.id {
		w.log.Debug().Str("user_id", wt.id).Str("row_id", row.ID).Msg("ignoring change for other profile")
		return
	}

	if fn := wt.handler.Load(); fn != nil && *fn != nil {
		(*fn)(domain.ProfileFromRow(row))
	}
}
