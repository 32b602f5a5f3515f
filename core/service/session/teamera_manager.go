// Package session implements the session/profile state manager.
//
// A Manager is the single source of truth for one client instance: who is
// signed in, and what their profile is. Every operation returns a
// domain.Result and never lets a provider error escape.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"teamera_server/core/domain"
	"teamera_server/core/port/in"
	"teamera_server/core/port/out"
	"teamera_server/core/service/realtime"
)

// Timings are the waits used by the login, signup and update flows.
type Timings struct {
	// ProfileFetchTimeout bounds the profile fetch during login.
	ProfileFetchTimeout time.Duration
	// SignupReconcileDelay is waited before the post-signup row check.
	SignupReconcileDelay time.Duration
	// UserRetryDelay is waited before the last user lookup in UpdateProfile.
	UserRetryDelay time.Duration
}

// DefaultTimings returns the production timings.
func DefaultTimings() Timings {
	return Timings{
		ProfileFetchTimeout:  5 * time.Second,
		SignupReconcileDelay: 100 * time.Millisecond,
		UserRetryDelay:       300 * time.Millisecond,
	}
}

// Option configures a Manager.
type Option func(*Manager)

// WithSiteURL sets the origin used for OAuth and password-reset redirects.
func WithSiteURL(u string) Option {
	return func(m *Manager) { m.siteURL = u }
}

// WithLogger sets the component logger.
func WithLogger(log zerolog.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// WithTimings overrides the fetch timeout and retry delays.
func WithTimings(t Timings) Option {
	return func(m *Manager) { m.timings = t }
}

// WithChangeFeed enables real-time merging of profile updates.
func WithChangeFeed(feed out.ChangeFeed) Option {
	return func(m *Manager) { m.feed = feed }
}

// Manager owns session and profile state.
type Manager struct {
	auth    out.AuthProvider
	store   out.ProfileStore
	feed    out.ChangeFeed
	watcher *realtime.ProfileWatcher
	log     zerolog.Logger
	siteURL string
	timings Timings
	fetches singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc
	tasks  sync.WaitGroup

	// watchMu orders watcher changes; see syncWatch.
	watchMu sync.Mutex

	mu            sync.RWMutex
	profile       *domain.Profile
	session       *domain.Session
	loading       bool
	showAuthModal bool
	subscribers   map[chan domain.AuthState]struct{}
	unsubscribe   func()
	initialized   bool
	disposed      bool
	lastReconcile *BackgroundTask
}

var _ in.SessionManager = (*Manager)(nil)

// NewManager builds a manager. Call Initialize before use and Dispose when done.
func NewManager(auth out.AuthProvider, store out.ProfileStore, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		auth:        auth,
		store:       store,
		log:         zerolog.Nop(),
		timings:     DefaultTimings(),
		ctx:         ctx,
		cancel:      cancel,
		loading:     true,
		subscribers: make(map[chan domain.AuthState]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.With().Str("component", "session_manager").Logger()
	if m.feed != nil {
		m.watcher = realtime.NewProfileWatcher(m.feed, m.log)
	}
	return m
}

// Initialize resolves any existing session and its profile, then listens
// for session changes until Dispose. Calling it again is a no-op.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	if m.initialized || m.disposed {
		m.mu.Unlock()
		return nil
	}
	m.initialized = true
	m.mu.Unlock()

	sess, err := m.auth.GetSession(ctx)
	if err != nil {
		m.log.Error().Err(err).Msg("get initial session")
		m.setLoading(false)
	} else {
		m.resolve(ctx, sess)
	}

	unsubscribe := m.auth.OnAuthStateChange(m.onAuthStateChange)
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		unsubscribe()
		return err
	}
	m.unsubscribe = unsubscribe
	m.mu.Unlock()
	return err
}

// Dispose stops listening, closes the change-feed subscription and cancels
// background tasks, waiting for them to return. Safe to call twice.
func (m *Manager) Dispose() {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	m.disposed = true
	unsubscribe := m.unsubscribe
	m.unsubscribe = nil
	subs := m.subscribers
	m.subscribers = nil
	m.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	m.cancel()
	m.tasks.Wait()
	if m.watcher != nil {
		m.watchMu.Lock()
		m.watcher.Close()
		m.watchMu.Unlock()
	}
	for ch := range subs {
		close(ch)
	}
}

// onAuthStateChange re-runs fetch-or-clear for every provider notification.
func (m *Manager) onAuthStateChange(event domain.AuthEvent, sess *domain.Session) {
	m.log.Debug().Str("event", string(event)).Str("user_id", sess.UserID()).Msg("auth state changed")
	m.resolve(m.ctx, sess)
}

// resolve stores sess and loads its profile, or clears the user when sess is nil.
func (m *Manager) resolve(ctx context.Context, sess *domain.Session) {
	m.setSession(sess)
	if id := sess.UserID(); id != "" {
		_, _ = m.FetchProfile(ctx, id)
		return
	}
	m.clearUser()
}

// FetchProfile loads the stored profile of userID into state. A missing row
// is returned as nil, nil and leaves the current profile in place.
func (m *Manager) FetchProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	row, err := m.fetchRow(ctx, userID)
	if err != nil {
		m.log.Error().Err(err).Str("user_id", userID).Msg("fetch profile")
		m.setLoading(false)
		return nil, err
	}
	if row == nil {
		m.setLoading(false)
		return nil, nil
	}

	p := domain.ProfileFromRow(row)
	m.setProfile(p)
	return p.Clone(), nil
}

// fetchRow reads the row without touching state. Concurrent reads of the
// same id share one store call.
func (m *Manager) fetchRow(ctx context.Context, userID string) (*domain.ProfileRow, error) {
	v, err, _ := m.fetches.Do(userID, func() (any, error) {
		return m.store.FindByID(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	row, _ := v.(*domain.ProfileRow)
	return row, nil
}

// State returns a snapshot of the current state.
func (m *Manager) State() domain.AuthState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() domain.AuthState {
	var sess *domain.Session
	if m.session != nil {
		s := *m.session
		sess = &s
	}
	return domain.AuthState{
		User:            m.profile.Clone(),
		Session:         sess,
		Loading:         m.loading,
		IsAuthenticated: m.profile != nil && m.session != nil,
		ShowAuthModal:   m.showAuthModal,
	}
}

// SetShowAuthModal toggles the authentication prompt flag.
func (m *Manager) SetShowAuthModal(show bool) {
	m.update(func() { m.showAuthModal = show })
}

// Subscribe returns a channel receiving the latest state after every change.
// Slow readers only see the most recent snapshot. Call the returned func to stop.
func (m *Manager) Subscribe() (<-chan domain.AuthState, func()) {
	ch := make(chan domain.AuthState, 1)

	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	m.subscribers[ch] = struct{}{}
	ch <- m.snapshotLocked()
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if _, ok := m.subscribers[ch]; ok {
				delete(m.subscribers, ch)
				close(ch)
			}
		})
	}
}

// LastReconcile returns the most recent post-signup task, or nil.
func (m *Manager) LastReconcile() *BackgroundTask {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastReconcile
}

// update applies fn under the lock and notifies subscribers.
func (m *Manager) update(fn func()) {
	m.mu.Lock()
	fn()
	state := m.snapshotLocked()
	for ch := range m.subscribers {
		select {
		case <-ch:
		default:
		}
		ch <- state
	}
	m.mu.Unlock()
}

func (m *Manager) setLoading(v bool) {
	m.update(func() { m.loading = v })
}

func (m *Manager) setSession(sess *domain.Session) {
	m.update(func() { m.session = sess })
}

// setProfile replaces the cached profile and points the watcher at it.
func (m *Manager) setProfile(p *domain.Profile) {
	m.update(func() {
		m.profile = p
		m.loading = false
	})
	m.syncWatch()
}

func (m *Manager) clearUser() {
	m.update(func() {
		m.profile = nil
		m.loading = false
	})
	m.syncWatch()
}

// syncWatch points the watcher at whatever profile is cached when it runs.
// Calls are serialized, so the last one sees the latest profile.
func (m *Manager) syncWatch() {
	if m.watcher == nil {
		return
	}
	m.watchMu.Lock()
	defer m.watchMu.Unlock()
	if m.ctx.Err() != nil {
		return
	}

	m.mu.RLock()
	id := ""
	if m.profile != nil {
		id = m.profile.ID
	}
	m.mu.RUnlock()

	if err := m.watcher.Watch(m.ctx, id, m.applyRemote); err != nil {
		m.log.Warn().Err(err).Str("user_id", id).Msg("watch profile changes")
	}
}

// applyRemote merges a change-feed update. Updates for any profile other
// than the cached one are dropped; the latest write wins.
func (m *Manager) applyRemote(p *domain.Profile) {
	m.update(func() {
		if m.profile == nil || m.profile.ID != p.ID {
			return
		}
		if p.Email == "" {
			p.Email = m.profile.Email
		}
		m.profile = p
	})
}
