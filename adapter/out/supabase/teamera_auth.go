package supabase

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"teamera_server/core/domain"
)

// GoTrue endpoints. Every method takes the bearer token explicitly; an empty
// token means the client's API key.

// SignUp registers email/password. The response carries a session when the
// project auto-confirms, otherwise only the user.
func (c *Client) SignUp(ctx context.Context, email, password string, data map[string]any, redirectTo string) (*domain.SignUpResult, error) {
	u := c.authURL + "/signup"
	if redirectTo != "" {
		u += "?redirect_to=" + url.QueryEscape(redirectTo)
	}

	resp, err := c.do(ctx, request{
		call:   "auth.signup",
		method: http.MethodPost,
		url:    u,
		body:   map[string]any{"email": email, "password": password, "data": data},
	})
	if err != nil {
		return nil, err
	}

	var sess domain.Session
	if err := decode("auth.signup", resp.body, &sess); err != nil {
		return nil, err
	}
	if sess.AccessToken != "" && sess.User != nil {
		normalizeSession(&sess)
		return &domain.SignUpResult{User: sess.User, Session: &sess}, nil
	}

	var user domain.AuthUser
	if err := decode("auth.signup", resp.body, &user); err != nil {
		return nil, err
	}
	return &domain.SignUpResult{User: &user}, nil
}

// SignInWithPassword trades credentials for a session.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*domain.Session, error) {
	return c.token(ctx, "password", map[string]any{"email": email, "password": password})
}

// RefreshSession trades a refresh token for a new session.
func (c *Client) RefreshSession(ctx context.Context, refreshToken string) (*domain.Session, error) {
	return c.token(ctx, "refresh_token", map[string]any{"refresh_token": refreshToken})
}

// ExchangeCodeForSession completes a PKCE redirect.
func (c *Client) ExchangeCodeForSession(ctx context.Context, code, verifier string) (*domain.Session, error) {
	return c.token(ctx, "pkce", map[string]any{"auth_code": code, "code_verifier": verifier})
}

func (c *Client) token(ctx context.Context, grant string, body map[string]any) (*domain.Session, error) {
	call := "auth.token." + grant
	resp, err := c.do(ctx, request{
		call:   call,
		method: http.MethodPost,
		url:    c.authURL + "/token?grant_type=" + grant,
		body:   body,
	})
	if err != nil {
		return nil, err
	}

	var sess domain.Session
	if err := decode(call, resp.body, &sess); err != nil {
		return nil, err
	}
	if sess.AccessToken == "" {
		return nil, fmt.Errorf("%s: response carried no access token", call)
	}
	normalizeSession(&sess)
	return &sess, nil
}

// GetUser returns the user behind accessToken.
func (c *Client) GetUser(ctx context.Context, accessToken string) (*domain.AuthUser, error) {
	resp, err := c.do(ctx, request{
		call:   "auth.user",
		method: http.MethodGet,
		url:    c.authURL + "/user",
		token:  accessToken,
	})
	if err != nil {
		return nil, err
	}

	var user domain.AuthUser
	if err := decode("auth.user", resp.body, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// SignOut revokes the session behind accessToken.
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	_, err := c.do(ctx, request{
		call:   "auth.logout",
		method: http.MethodPost,
		url:    c.authURL + "/logout",
		token:  accessToken,
	})
	return err
}

// ResetPasswordForEmail sends a recovery message linking to redirectTo.
func (c *Client) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	u := c.authURL + "/recover"
	if redirectTo != "" {
		u += "?redirect_to=" + url.QueryEscape(redirectTo)
	}
	_, err := c.do(ctx, request{
		call:   "auth.recover",
		method: http.MethodPost,
		url:    u,
		body:   map[string]any{"email": email},
	})
	return err
}

// AuthorizeURL builds the federated sign-in URL. challenge is the S256 PKCE
// challenge; the backend redirects to redirectTo with ?code=.
func (c *Client) AuthorizeURL(provider domain.OAuthProvider, redirectTo, challenge string) string {
	q := url.Values{}
	q.Set("provider", string(provider))
	if redirectTo != "" {
		q.Set("redirect_to", redirectTo)
	}
	if challenge != "" {
		q.Set("code_challenge", challenge)
		q.Set("code_challenge_method", "s256")
	}
	return c.authURL + "/authorize?" + q.Encode()
}

// AdminGetUser loads a user by id. Needs the service-role key.
func (c *Client) AdminGetUser(ctx context.Context, id string) (*domain.AuthUser, error) {
	resp, err := c.do(ctx, request{
		call:   "auth.admin.user",
		method: http.MethodGet,
		url:    c.authURL + "/admin/users/" + url.PathEscape(id),
	})
	if err != nil {
		return nil, err
	}

	var user domain.AuthUser
	if err := decode("auth.admin.user", resp.body, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// AdminListUsers lists one page of users. Needs the service-role key.
func (c *Client) AdminListUsers(ctx context.Context, page, perPage int) ([]domain.AuthUser, error) {
	q := url.Values{}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if perPage > 0 {
		q.Set("per_page", strconv.Itoa(perPage))
	}
	u := c.authURL + "/admin/users"
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	resp, err := c.do(ctx, request{
		call:   "auth.admin.users",
		method: http.MethodGet,
		url:    u,
	})
	if err != nil {
		return nil, err
	}

	var out struct {
		Users []domain.AuthUser `json:"users"`
	}
	if err := decode("auth.admin.users", resp.body, &out); err != nil {
		return nil, err
	}
	return out.Users, nil
}
