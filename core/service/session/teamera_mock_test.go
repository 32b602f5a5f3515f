package session

import (
	"context"
	"sync"
	"time"

	"teamera_server/core/domain"
	"teamera_server/core/port/out"
)

// mockAuth is a hand-rolled out.AuthProvider.
type mockAuth struct {
	mu sync.Mutex

	session      *domain.Session
	sessionErr   error
	signInSess   *domain.Session
	signInErr    error
	signUpRes    *domain.SignUpResult
	signUpErr    error
	signOutErr   error
	user         *domain.AuthUser
	userErr      error
	oauthURL     string
	resetErr     error
	exchangeSess *domain.Session

	listeners     map[int]out.AuthStateListener
	nextListener  int
	getUserCalls  int
	resetRedirect string
	oauthRedirect string
	signUpMeta    map[string]any
}

func newMockAuth() *mockAuth {
	return &mockAuth{listeners: make(map[int]out.AuthStateListener)}
}

func (a *mockAuth) GetSession(context.Context) (*domain.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session, a.sessionErr
}

func (a *mockAuth) GetUser(context.Context) (*domain.AuthUser, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.getUserCalls++
	return a.user, a.userErr
}

func (a *mockAuth) OnAuthStateChange(fn out.AuthStateListener) func() {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.nextListener
	a.nextListener++
	a.listeners[id] = fn
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.listeners, id)
	}
}

func (a *mockAuth) emit(event domain.AuthEvent, sess *domain.Session) {
	a.mu.Lock()
	fns := make([]out.AuthStateListener, 0, len(a.listeners))
	for _, fn := range a.listeners {
		fns = append(fns, fn)
	}
	a.mu.Unlock()
	for _, fn := range fns {
		fn(event, sess)
	}
}

func (a *mockAuth) listenerCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.listeners)
}

func (a *mockAuth) SignInWithPassword(context.Context, string, string) (*domain.Session, error) {
	return a.signInSess, a.signInErr
}

func (a *mockAuth) SignUp(_ context.Context, _, _ string, meta map[string]any) (*domain.SignUpResult, error) {
	a.signUpMeta = meta
	return a.signUpRes, a.signUpErr
}

func (a *mockAuth) SignOut(context.Context) error {
	return a.signOutErr
}

func (a *mockAuth) SignInWithOAuth(_ context.Context, _ domain.OAuthProvider, redirectTo string) (string, error) {
	a.oauthRedirect = redirectTo
	return a.oauthURL, nil
}

func (a *mockAuth) ExchangeCodeForSession(context.Context, string) (*domain.Session, error) {
	return a.exchangeSess, nil
}

func (a *mockAuth) ResetPasswordForEmail(_ context.Context, _ string, redirectTo string) error {
	a.resetRedirect = redirectTo
	return a.resetErr
}

// mockStore is an in-memory out.ProfileStore with injectable delays and errors.
type mockStore struct {
	mu sync.Mutex

	rows      map[string]*domain.ProfileRow
	findDelay time.Duration
	findErr   error
	existsErr error
	writeErr  error

	inserts []*domain.ProfileRow
	updates []*domain.ProfileRow
	finds   int
}

func newMockStore(rows ...*domain.ProfileRow) *mockStore {
	s := &mockStore{rows: make(map[string]*domain.ProfileRow)}
	for _, r := range rows {
		s.rows[r.ID] = r
	}
	return s
}

func (s *mockStore) FindByID(ctx context.Context, id string) (*domain.ProfileRow, error) {
	if s.findDelay > 0 {
		select {
		case <-time.After(s.findDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finds++
	if s.findErr != nil {
		return nil, s.findErr
	}
	row, ok := s.rows[id]
	if !ok {
		return nil, nil
	}
	c := *row
	return &c, nil
}

func (s *mockStore) Exists(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.existsErr != nil {
		return false, s.existsErr
	}
	_, ok := s.rows[id]
	return ok, nil
}

func (s *mockStore) Insert(_ context.Context, row *domain.ProfileRow) (*domain.ProfileRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserts = append(s.inserts, row)
	if s.writeErr != nil {
		return nil, s.writeErr
	}
	c := *row
	s.rows[row.ID] = &c
	return &c, nil
}

func (s *mockStore) Update(_ context.Context, id string, row *domain.ProfileRow) (*domain.ProfileRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, row)
	if s.writeErr != nil {
		return nil, s.writeErr
	}
	c := *row
	c.ID = id
	c.Email = s.rows[id].Email
	s.rows[id] = &c
	return &c, nil
}

func (s *mockStore) writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inserts) + len(s.updates)
}

// mockFeed records subscriptions and lets tests push changes.
type mockFeed struct {
	mu       sync.Mutex
	handlers map[string]out.ChangeHandler
}

type mockSub struct {
	feed   *mockFeed
	filter string
}

func (s *mockSub) Close() error {
	s.feed.mu.Lock()
	defer s.feed.mu.Unlock()
	delete(s.feed.handlers, s.filter)
	return nil
}

func newMockFeed() *mockFeed {
	return &mockFeed{handlers: make(map[string]out.ChangeHandler)}
}

func (f *mockFeed) Subscribe(_ context.Context, filter domain.ChangeFilter, fn out.ChangeHandler) (out.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[filter.Filter] = fn
	return &mockSub{feed: f, filter: filter.Filter}, nil
}

// push delivers change to the subscription with the given filter, as the
// backend would if its filter matched. It returns false if none is open.
func (f *mockFeed) push(filter string, change domain.RowChange) bool {
	f.mu.Lock()
	fn, ok := f.handlers[filter]
	f.mu.Unlock()
	if ok {
		fn(change)
	}
	return ok
}

func (f *mockFeed) open() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers)
}
