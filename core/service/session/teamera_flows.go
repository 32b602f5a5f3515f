package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"teamera_server/core/domain"
	"teamera_server/pkg/apperr"
	"teamera_server/pkg/metrics"
)

const (
	opLogin          = "login"
	opSignup         = "signup"
	opLogout         = "logout"
	opUpdateProfile  = "update_profile"
	opResetPassword  = "reset_password"
	opOAuth          = "oauth"
	opExchangeCode   = "exchange_code"
	resetPasswordURI = "/reset-password"
)

func observed(op string, r domain.Result) domain.Result {
	metrics.ObserveOperation(op, r.Success)
	return r
}

// Login signs in with email and password. The session is stored as soon as
// the provider accepts it; the profile fetch is bounded by
// ProfileFetchTimeout, after which a profile synthesized from the auth
// record is used instead.
func (m *Manager) Login(ctx context.Context, email, password string) domain.Result {
	sess, err := m.auth.SignInWithPassword(ctx, email, password)
	if err != nil {
		m.log.Error().Err(err).Str("email", email).Msg("login")
		return observed(opLogin, domain.Failed(err))
	}
	if sess == nil || sess.User == nil {
		return observed(opLogin, domain.FailedMsg("login returned no session"))
	}

	m.setSession(sess)
	profile := m.loadOrFallback(ctx, sess.User)
	m.SetShowAuthModal(false)

	return observed(opLogin, domain.OKWithUser(profile))
}

type fetchResult struct {
	row *domain.ProfileRow
	err error
}

// loadOrFallback races the profile fetch against ProfileFetchTimeout. The
// fetch is not cancelled when the timer wins; its late result is dropped.
func (m *Manager) loadOrFallback(ctx context.Context, user *domain.AuthUser) *domain.Profile {
	results := make(chan fetchResult, 1)
	fetchCtx := context.WithoutCancel(ctx)
	go func() {
		row, err := m.fetchRow(fetchCtx, user.ID)
		results <- fetchResult{row: row, err: err}
	}()

	timer := time.NewTimer(m.timings.ProfileFetchTimeout)
	defer timer.Stop()

	select {
	case res := <-results:
		switch {
		case res.err != nil:
			m.log.Warn().Err(res.err).Str("user_id", user.ID).Msg("profile fetch failed, using auth user data")
		case res.row == nil:
			m.log.Info().Str("user_id", user.ID).Msg("no stored profile, using auth user data")
		default:
			p := domain.ProfileFromRow(res.row)
			m.setProfile(p)
			return p.Clone()
		}
	case <-timer.C:
		m.log.Warn().Str("user_id", user.ID).Dur("timeout", m.timings.ProfileFetchTimeout).
			Msg("profile fetch timed out, using auth user data")
	case <-ctx.Done():
		m.log.Warn().Err(ctx.Err()).Str("user_id", user.ID).Msg("login cancelled during profile fetch")
	}

	fallback := domain.FallbackProfile(user)
	m.setProfile(fallback)
	return fallback.Clone()
}

// Signup registers a new account and sets an onboarding profile right away.
// When the provider issued a session, a tracked background task creates the
// stored row if it is missing and reloads it; its failures are only logged.
func (m *Manager) Signup(ctx context.Context, email, password, name string) domain.Result {
	res, err := m.auth.SignUp(ctx, email, password, map[string]any{"name": name})
	if err != nil {
		m.log.Error().Err(err).Str("email", email).Msg("signup")
		return observed(opSignup, domain.Failed(err))
	}
	if res == nil || res.User == nil {
		return observed(opSignup, domain.FailedMsg("signup returned no user"))
	}

	profile := domain.NewOnboardingProfile(res.User.ID, email, name)
	m.update(func() {
		m.session = res.Session
		m.profile = profile
		m.loading = false
		m.showAuthModal = false
	})

	if res.Session == nil {
		m.log.Info().Str("user_id", res.User.ID).Msg("signup needs email confirmation")
		return observed(opSignup, domain.Result{
			Success:                   true,
			User:                      profile.Clone(),
			RequiresEmailConfirmation: true,
			Message:                   domain.MsgCheckEmail,
		})
	}

	m.syncWatch()
	m.startReconcile(res.User.ID, email, name)
	return observed(opSignup, domain.OKWithUser(profile.Clone()))
}

func (m *Manager) startReconcile(id, email, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return
	}
	m.lastReconcile = startTask(m.ctx, &m.tasks, "signup-reconcile", func(ctx context.Context) error {
		err := m.reconcile(ctx, id, email, name)
		if err != nil {
			m.log.Warn().Err(err).Str("user_id", id).Msg("background profile creation failed")
		}
		return err
	})
}

// reconcile creates the stored row if absent, then reloads the profile.
// The existence check right before the insert is best-effort only.
func (m *Manager) reconcile(ctx context.Context, id, email, name string) error {
	if err := sleep(ctx, m.timings.SignupReconcileDelay); err != nil {
		return err
	}

	exists, err := m.store.Exists(ctx, id)
	if err != nil {
		return fmt.Errorf("check profile: %w", err)
	}
	if !exists {
		row := domain.ProfileToRow(domain.NewOnboardingProfile(id, email, name)).InsertPayload(id, email)
		if _, err := m.store.Insert(ctx, row); err != nil {
			return fmt.Errorf("create profile: %w", err)
		}
	}

	if _, err := m.FetchProfile(ctx, id); err != nil {
		return fmt.Errorf("reload profile: %w", err)
	}
	return nil
}

// Logout ends the session. On failure the state is left as it was.
func (m *Manager) Logout(ctx context.Context) domain.Result {
	if err := m.auth.SignOut(ctx); err != nil {
		m.log.Error().Err(err).Msg("logout")
		return observed(opLogout, domain.Failed(err))
	}

	m.update(func() {
		m.profile = nil
		m.session = nil
	})
	m.syncWatch()
	return observed(opLogout, domain.OK())
}

// UpdateProfile writes fields for the acting user, updating the stored row
// or inserting it when there is none yet.
func (m *Manager) UpdateProfile(ctx context.Context, fields *domain.Profile) domain.Result {
	id, email := m.resolveUser(ctx)
	if id == "" {
		m.log.Error().Msg("update profile: no user id could be resolved")
		return observed(opUpdateProfile, domain.Failed(apperr.NoSession()))
	}
	if fields == nil {
		fields = &domain.Profile{}
	}

	row := domain.ProfileToRow(fields)

	exists, err := m.store.Exists(ctx, id)
	if err != nil {
		m.log.Error().Err(err).Str("user_id", id).Msg("update profile: existence check")
		return observed(opUpdateProfile, domain.Failed(err))
	}

	var stored *domain.ProfileRow
	if exists {
		stored, err = m.store.Update(ctx, id, row.UpdatePayload())
	} else {
		stored, err = m.store.Insert(ctx, row.InsertPayload(id, email))
	}
	if err != nil {
		m.log.Error().Err(err).Str("user_id", id).Bool("existed", exists).Msg("update profile")
		return observed(opUpdateProfile, domain.Failed(err))
	}
	if stored == nil {
		return observed(opUpdateProfile, domain.FailedMsg("profile store returned no row"))
	}

	p := domain.ProfileFromRow(stored)
	m.setProfile(p)
	return observed(opUpdateProfile, domain.OKWithUser(p.Clone()))
}

// resolveUser finds the acting user: cached profile, cached session, a
// provider lookup, then one more lookup after UserRetryDelay. The retry
// only papers over the window right after signup.
func (m *Manager) resolveUser(ctx context.Context) (id, email string) {
	m.mu.RLock()
	if m.profile != nil && m.profile.ID != "" {
		id, email = m.profile.ID, m.profile.Email
	}
	if m.session != nil && m.session.User != nil {
		if id == "" {
			id = m.session.User.ID
		}
		if email == "" {
			email = m.session.User.Email
		}
	}
	m.mu.RUnlock()
	if id != "" {
		return id, email
	}

	if u := m.lookupUser(ctx); u != nil {
		return u.ID, u.Email
	}
	if err := sleep(ctx, m.timings.UserRetryDelay); err != nil {
		return "", ""
	}
	if u := m.lookupUser(ctx); u != nil {
		return u.ID, u.Email
	}
	return "", ""
}

func (m *Manager) lookupUser(ctx context.Context) *domain.AuthUser {
	u, err := m.auth.GetUser(ctx)
	if err != nil {
		m.log.Debug().Err(err).Msg("user lookup")
		return nil
	}
	if u == nil || u.ID == "" {
		return nil
	}
	return u
}

// ResetPassword sends a password-reset message for email.
func (m *Manager) ResetPassword(ctx context.Context, email string) domain.Result {
	redirect := strings.TrimRight(m.siteURL, "/") + resetPasswordURI
	if err := m.auth.ResetPasswordForEmail(ctx, email, redirect); err != nil {
		m.log.Error().Err(err).Str("email", email).Msg("password reset")
		return observed(opResetPassword, domain.Failed(err))
	}
	return observed(opResetPassword, domain.OK())
}

// SignInWithProvider starts a federated sign-in. Success means the redirect
// URL was issued; the session arrives later through the auth-state listener.
func (m *Manager) SignInWithProvider(ctx context.Context, provider domain.OAuthProvider) domain.Result {
	if !domain.SupportedProvider(provider) {
		return observed(opOAuth, domain.FailedMsg(fmt.Sprintf("Unsupported provider: %s", provider)))
	}

	url, err := m.auth.SignInWithOAuth(ctx, provider, m.siteURL)
	if err != nil {
		m.log.Error().Err(err).Str("provider", string(provider)).Msg("oauth sign-in")
		return observed(opOAuth, domain.Failed(err))
	}
	return observed(opOAuth, domain.Result{Success: true, RedirectURL: url})
}

// ExchangeCode completes a federated sign-in with the code from the redirect.
func (m *Manager) ExchangeCode(ctx context.Context, code string) domain.Result {
	if strings.TrimSpace(code) == "" {
		return observed(opExchangeCode, domain.FailedMsg("Missing authorization code"))
	}
	if _, err := m.auth.ExchangeCodeForSession(ctx, code); err != nil {
		m.log.Error().Err(err).Msg("exchange oauth code")
		return observed(opExchangeCode, domain.Failed(err))
	}
	return observed(opExchangeCode, domain.OK())
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
