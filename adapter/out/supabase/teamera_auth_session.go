package supabase

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"teamera_server/core/domain"
	"teamera_server/core/port/out"
	"teamera_server/pkg/apperr"
)

const (
	defaultRefreshMargin = time.Minute
	refreshRetryDelay    = 15 * time.Second
	persistTimeout       = 5 * time.Second
)

// AuthSessionOption configures an AuthSession.
type AuthSessionOption func(*AuthSession)

// WithSessionStore persists the session between runs.
func WithSessionStore(s out.SessionStore) AuthSessionOption {
	return func(a *AuthSession) { a.store = s }
}

// WithRefreshMargin sets how long before expiry the access token is renewed.
func WithRefreshMargin(d time.Duration) AuthSessionOption {
	return func(a *AuthSession) { a.refreshMargin = d }
}

// WithEmailRedirect sets the page linked from confirmation messages.
func WithEmailRedirect(u string) AuthSessionOption {
	return func(a *AuthSession) { a.emailRedirect = u }
}

// AuthSession is the client-side auth state for one user: the current
// session, its persistence and refresh, and the listener fan-out. It
// implements out.AuthProvider on top of the anon Client.
type AuthSession struct {
	client        *Client
	store         out.SessionStore
	log           zerolog.Logger
	refreshMargin time.Duration
	emailRedirect string

	ctx    context.Context
	cancel context.CancelFunc
	events chan authEvent
	wg     sync.WaitGroup

	mu        sync.RWMutex
	session   *domain.Session
	loaded    bool
	verifier  string
	listeners map[int]out.AuthStateListener
	nextID    int
	refresh   *time.Timer
	closed    bool
}

type authEvent struct {
	event   domain.AuthEvent
	session *domain.Session
}

var _ out.AuthProvider = (*AuthSession)(nil)

// NewAuthSession starts the listener dispatcher. Call Close when done.
func NewAuthSession(client *Client, opts ...AuthSessionOption) *AuthSession {
	ctx, cancel := context.WithCancel(context.Background())
	a := &AuthSession{
		client:        client,
		log:           client.log.With().Str("component", "auth_session").Logger(),
		refreshMargin: defaultRefreshMargin,
		ctx:           ctx,
		cancel:        cancel,
		events:        make(chan authEvent, 32),
		listeners:     make(map[int]out.AuthStateListener),
	}
	for _, opt := range opts {
		opt(a)
	}

	a.wg.Add(1)
	go a.dispatch()
	return a
}

// dispatch delivers events to listeners in order, one at a time.
func (a *AuthSession) dispatch() {
	defer a.wg.Done()
	for {
		select {
		case <-a.ctx.Done():
			return
		case ev := <-a.events:
			a.mu.RLock()
			fns := make([]out.AuthStateListener, 0, len(a.listeners))
			for _, fn := range a.listeners {
				fns = append(fns, fn)
			}
			a.mu.RUnlock()

			for _, fn := range fns {
				fn(ev.event, ev.session)
			}
		}
	}
}

func (a *AuthSession) emit(event domain.AuthEvent, sess *domain.Session) {
	var snapshot *domain.Session
	if sess != nil {
		s := *sess
		snapshot = &s
	}
	select {
	case a.events <- authEvent{event: event, session: snapshot}:
	case <-a.ctx.Done():
	}
}

// OnAuthStateChange registers fn for every later session change.
func (a *AuthSession) OnAuthStateChange(fn out.AuthStateListener) func() {
	a.mu.Lock()
	id := a.nextID
	a.nextID++
	a.listeners[id] = fn
	a.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			a.mu.Lock()
			delete(a.listeners, id)
			a.mu.Unlock()
		})
	}
}

// GetSession returns the current session. The first call restores it from
// the session store; an expiring session is refreshed first and one that
// cannot be refreshed is dropped.
func (a *AuthSession) GetSession(ctx context.Context) (*domain.Session, error) {
	a.mu.Lock()
	if !a.loaded {
		a.loaded = true
		if a.store != nil {
			stored, err := a.store.Load(ctx)
			if err != nil {
				a.log.Warn().Err(err).Msg("load stored session")
			} else if stored != nil {
				normalizeSession(stored)
				a.session = stored
			}
		}
	}
	sess := a.session
	a.mu.Unlock()

	if sess == nil {
		return nil, nil
	}
	if sess.ExpiresWithin(time.Now(), a.refreshMargin) {
		refreshed, err := a.refreshNow(ctx, sess)
		if err != nil {
			return nil, nil
		}
		return copySession(refreshed), nil
	}

	a.scheduleRefresh(sess)
	return copySession(sess), nil
}

// AccessToken returns the current access token, or "".
func (a *AuthSession) AccessToken() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.session == nil {
		return ""
	}
	return a.session.AccessToken
}

func (a *AuthSession) GetUser(ctx context.Context) (*domain.AuthUser, error) {
	token := a.AccessToken()
	if token == "" {
		return nil, apperr.NoSession()
	}
	user, err := a.client.GetUser(ctx, token)
	if err != nil {
		return nil, authError(err)
	}
	return user, nil
}

func (a *AuthSession) SignInWithPassword(ctx context.Context, email, password string) (*domain.Session, error) {
	sess, err := a.client.SignInWithPassword(ctx, email, password)
	if err != nil {
		return nil, credentialsError(err)
	}
	a.setSession(sess, domain.EventSignedIn)
	return copySession(sess), nil
}

func (a *AuthSession) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*domain.SignUpResult, error) {
	res, err := a.client.SignUp(ctx, email, password, metadata, a.emailRedirect)
	if err != nil {
		return nil, authError(err)
	}
	if res.Session != nil {
		a.setSession(res.Session, domain.EventSignedIn)
	}
	return &domain.SignUpResult{User: res.User, Session: copySession(res.Session)}, nil
}

// SignOut revokes the session. A session the backend no longer knows is
// treated as signed out; any other failure leaves the session in place.
func (a *AuthSession) SignOut(ctx context.Context) error {
	token := a.AccessToken()
	if token != "" {
		err := a.client.SignOut(ctx, token)
		if err != nil && !isGone(err) {
			return authError(err)
		}
	}
	a.clear(ctx)
	return nil
}

// SignInWithOAuth returns the authorize URL for provider. The PKCE verifier
// is held until ExchangeCodeForSession.
func (a *AuthSession) SignInWithOAuth(_ context.Context, provider domain.OAuthProvider, redirectTo string) (string, error) {
	if !domain.SupportedProvider(provider) {
		return "", apperr.BadRequest("Unsupported provider: " + string(provider))
	}
	verifier := oauth2.GenerateVerifier()

	a.mu.Lock()
	a.verifier = verifier
	a.mu.Unlock()

	return a.client.AuthorizeURL(provider, redirectTo, oauth2.S256ChallengeFromVerifier(verifier)), nil
}

func (a *AuthSession) ExchangeCodeForSession(ctx context.Context, code string) (*domain.Session, error) {
	a.mu.Lock()
	verifier := a.verifier
	a.mu.Unlock()
	if verifier == "" {
		return nil, apperr.BadRequest("no federated sign-in in progress")
	}

	sess, err := a.client.ExchangeCodeForSession(ctx, code, verifier)
	if err != nil {
		return nil, authError(err)
	}

	a.mu.Lock()
	a.verifier = ""
	a.mu.Unlock()

	a.setSession(sess, domain.EventSignedIn)
	return copySession(sess), nil
}

func (a *AuthSession) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	if err := a.client.ResetPasswordForEmail(ctx, email, redirectTo); err != nil {
		return authError(err)
	}
	return nil
}

// Close stops refresh and listener delivery. The stored session is kept.
func (a *AuthSession) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	if a.refresh != nil {
		a.refresh.Stop()
	}
	a.mu.Unlock()

	a.cancel()
	a.wg.Wait()
}

func (a *AuthSession) setSession(sess *domain.Session, event domain.AuthEvent) {
	normalizeSession(sess)

	a.mu.Lock()
	a.session = sess
	a.loaded = true
	a.mu.Unlock()

	a.persist(sess)
	a.scheduleRefresh(sess)
	a.emit(event, sess)
}

func (a *AuthSession) clear(ctx context.Context) {
	a.mu.Lock()
	a.session = nil
	if a.refresh != nil {
		a.refresh.Stop()
		a.refresh = nil
	}
	a.mu.Unlock()

	if a.store != nil {
		if err := a.store.Clear(ctx); err != nil {
			a.log.Warn().Err(err).Msg("clear stored session")
		}
	}
	a.emit(domain.EventSignedOut, nil)
}

func (a *AuthSession) persist(sess *domain.Session) {
	if a.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := a.store.Save(ctx, sess); err != nil {
		a.log.Warn().Err(err).Msg("persist session")
	}
}

func (a *AuthSession) scheduleRefresh(sess *domain.Session) {
	if sess.ExpiresAt == 0 || sess.RefreshToken == "" {
		return
	}
	wait := time.Until(sess.Expiry()) - a.refreshMargin
	if wait < 0 {
		wait = 0
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || a.session != sess {
		return
	}
	if a.refresh != nil {
		a.refresh.Stop()
	}
	a.refresh = time.AfterFunc(wait, func() {
		if _, err := a.refreshNow(a.ctx, sess); err != nil && a.ctx.Err() == nil {
			a.log.Warn().Err(err).Msg("background token refresh failed")
		}
	})
}

// refreshNow renews sess if it is still current. A rejected refresh token
// signs the user out; transient failures are retried while the access
// token is still valid.
func (a *AuthSession) refreshNow(ctx context.Context, sess *domain.Session) (*domain.Session, error) {
	a.mu.RLock()
	current := a.session == sess
	a.mu.RUnlock()
	if !current {
		return nil, errors.New("session changed during refresh")
	}

	next, err := a.client.RefreshSession(ctx, sess.RefreshToken)
	if err == nil {
		a.setSession(next, domain.EventTokenRefreshed)
		return next, nil
	}

	var se *Error
	if errors.As(err, &se) && se.Status < http.StatusInternalServerError {
		a.log.Info().Err(err).Msg("refresh token rejected, signing out")
		a.clear(ctx)
		return nil, authError(err)
	}

	if time.Now().Before(sess.Expiry()) {
		a.mu.Lock()
		if !a.closed && a.session == sess {
			a.refresh = time.AfterFunc(refreshRetryDelay, func() {
				_, _ = a.refreshNow(a.ctx, sess)
			})
		}
		a.mu.Unlock()
	} else {
		a.clear(ctx)
	}
	return nil, authError(err)
}

// normalizeSession fills ExpiresAt from the token's exp claim, or from
// ExpiresIn when the token cannot be read.
func normalizeSession(s *domain.Session) {
	if s == nil || s.ExpiresAt != 0 {
		return
	}
	if s.AccessToken != "" {
		claims := jwt.MapClaims{}
		if _, _, err := jwt.NewParser().ParseUnverified(s.AccessToken, claims); err == nil {
			if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
				s.ExpiresAt = exp.Unix()
				return
			}
		}
	}
	if s.ExpiresIn > 0 {
		s.ExpiresAt = time.Now().Add(time.Duration(s.ExpiresIn) * time.Second).Unix()
	}
}

func copySession(s *domain.Session) *domain.Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// credentialsError maps a rejected sign-in to INVALID_CREDENTIALS with the
// backend's own message.
func credentialsError(err error) error {
	var se *Error
	if errors.As(err, &se) && se.Status >= 400 && se.Status < 500 {
		return apperr.InvalidCredentials(se.Message).WithError(err)
	}
	return authError(err)
}

// authError keeps the backend message as the user-facing one.
func authError(err error) error {
	if apperr.IsAppError(err) {
		return err
	}
	var se *Error
	if errors.As(err, &se) {
		status := se.Status
		if status >= http.StatusInternalServerError {
			status = http.StatusBadGateway
		}
		return apperr.Wrap(err, apperr.CodeProviderError, se.Message, status)
	}
	return apperr.ProviderError("auth service unreachable", err)
}

func isGone(err error) bool {
	var se *Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return true
	}
	return false
}
