package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"teamera_server/core/domain"
	"teamera_server/core/port/out"
	"teamera_server/pkg/apperr"
)

// Fiber locals set by Authenticator.Required.
const (
	LocalUserID = "user_id"
	LocalUser   = "auth_user"
	LocalToken  = "access_token"
	LocalClaims = "claims"
)

var errNoSecret = errors.New("JWT secret not configured")

// Claims are the Supabase access-token claims the API reads.
type Claims struct {
	Email        string         `json:"email"`
	Phone        string         `json:"phone"`
	Role         string         `json:"role"`
	SessionID    string         `json:"session_id"`
	UserMetadata map[string]any `json:"user_metadata"`
	AppMetadata  map[string]any `json:"app_metadata"`
	jwt.RegisteredClaims
}

// User converts the claims into the auth user they describe.
func (c *Claims) User() *domain.AuthUser {
	return &domain.AuthUser{
		ID:           c.Subject,
		Email:        c.Email,
		Phone:        c.Phone,
		Role:         c.Role,
		UserMetadata: c.UserMetadata,
		AppMetadata:  c.AppMetadata,
	}
}

// revocationStore is the subset of pkg/cache.RedisCache the blacklist needs.
type revocationStore interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Exists(ctx context.Context, key string) (bool, error)
}

// TokenBlacklist remembers revoked tokens until they would have expired.
type TokenBlacklist struct {
	store revocationStore
	log   zerolog.Logger
}

func NewTokenBlacklist(store revocationStore, log zerolog.Logger) *TokenBlacklist {
	return &TokenBlacklist{store: store, log: log}
}

// Revoke blacklists the token behind claims until its expiry.
func (b *TokenBlacklist) Revoke(ctx context.Context, raw string, claims *Claims) error {
	ttl := time.Hour
	if claims != nil && claims.ExpiresAt != nil {
		ttl = time.Until(claims.ExpiresAt.Time)
	}
	if ttl <= 0 {
		return nil
	}
	return b.store.Set(ctx, "token:blacklist:"+tokenKey(raw, claims), "1", ttl)
}

// IsRevoked fails open when the store cannot be reached.
func (b *TokenBlacklist) IsRevoked(ctx context.Context, raw string, claims *Claims) bool {
	ok, err := b.store.Exists(ctx, "token:blacklist:"+tokenKey(raw, claims))
	if err != nil {
		b.log.Warn().Err(err).Msg("token blacklist lookup failed")
		return false
	}
	return ok
}

func tokenKey(raw string, claims *Claims) string {
	if claims != nil && claims.ID != "" {
		return claims.ID
	}
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// AuthConfig configures token verification.
type AuthConfig struct {
	// JWTSecret verifies HS256 tokens.
	JWTSecret string
	// JWKS verifies ES256/RS256 tokens by kid.
	JWKS *JWKSCache
	// Blacklist rejects tokens revoked by logout. Optional.
	Blacklist *TokenBlacklist
	// Remote asks the auth server when an HS256 token arrives and no
	// secret is configured. Optional.
	Remote out.UserDirectory
	Logger zerolog.Logger
}

// Authenticator verifies Supabase access tokens.
type Authenticator struct {
	cfg    AuthConfig
	parser *jwt.Parser
	log    zerolog.Logger
}

func NewAuthenticator(cfg AuthConfig) *Authenticator {
	return &Authenticator{
		cfg: cfg,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{"HS256", "ES256", "RS256"}),
			jwt.WithLeeway(time.Minute),
			jwt.WithIssuedAt(),
		),
		log: cfg.Logger.With().Str("component", "auth").Logger(),
	}
}

// Blacklist returns the configured blacklist, or nil.
func (a *Authenticator) Blacklist() *TokenBlacklist { return a.cfg.Blacklist }

// Verify checks the signature and time claims of raw.
func (a *Authenticator) Verify(ctx context.Context, raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := a.parser.ParseWithClaims(raw, claims, a.keyFunc)
	switch {
	case err == nil:
	case errors.Is(err, errNoSecret) && a.cfg.Remote != nil:
		user := a.cfg.Remote.VerifyToken(ctx, raw)
		if user == nil {
			return nil, apperr.InvalidToken("invalid token")
		}
		return &Claims{
			Email:            user.Email,
			Role:             user.Role,
			UserMetadata:     user.UserMetadata,
			AppMetadata:      user.AppMetadata,
			RegisteredClaims: jwt.RegisteredClaims{Subject: user.ID},
		}, nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, apperr.TokenExpired()
	default:
		return nil, apperr.InvalidToken("invalid token").WithError(err)
	}

	if _, err := uuid.Parse(claims.Subject); err != nil {
		return nil, apperr.InvalidToken("invalid user id in token")
	}
	return claims, nil
}

func (a *Authenticator) keyFunc(t *jwt.Token) (any, error) {
	switch t.Method.(type) {
	case *jwt.SigningMethodHMAC:
		if a.cfg.JWTSecret == "" {
			return nil, errNoSecret
		}
		return []byte(a.cfg.JWTSecret), nil
	case *jwt.SigningMethodECDSA, *jwt.SigningMethodRSA:
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("missing kid in token header")
		}
		if a.cfg.JWKS == nil {
			return nil, fmt.Errorf("JWKS not configured")
		}
		return a.cfg.JWKS.Key(kid)
	default:
		return nil, fmt.Errorf("unsupported signing method: %v", t.Header["alg"])
	}
}

// Required rejects requests without a valid bearer token. EventSource
// cannot set headers, so a "token" query parameter is accepted too.
func (a *Authenticator) Required() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodOptions {
			return c.Next()
		}

		raw := BearerToken(c)
		if raw == "" {
			raw = c.Query("token")
		}
		if raw == "" {
			return apperr.Unauthorized("missing authorization")
		}

		claims, err := a.Verify(c.UserContext(), raw)
		if err != nil {
			a.log.Debug().Err(err).Str("path", c.Path()).Msg("token rejected")
			return err
		}
		if a.cfg.Blacklist != nil && a.cfg.Blacklist.IsRevoked(c.UserContext(), raw, claims) {
			return apperr.New("TOKEN_REVOKED", "token has been revoked", fiber.StatusUnauthorized)
		}

		c.Locals(LocalUserID, claims.Subject)
		c.Locals(LocalUser, claims.User())
		c.Locals(LocalToken, raw)
		c.Locals(LocalClaims, claims)
		return c.Next()
	}
}

// BearerToken returns the token of an "Authorization: Bearer" header.
func BearerToken(c *fiber.Ctx) string {
	scheme, token, ok := strings.Cut(c.Get(fiber.HeaderAuthorization), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// UserID returns the authenticated user id.
func UserID(c *fiber.Ctx) (string, error) {
	id, ok := c.Locals(LocalUserID).(string)
	if !ok || id == "" {
		return "", apperr.Unauthorized("")
	}
	return id, nil
}

// CurrentUser returns the authenticated user, or nil.
func CurrentUser(c *fiber.Ctx) *domain.AuthUser {
	u, _ := c.Locals(LocalUser).(*domain.AuthUser)
	return u
}

// CurrentClaims returns the verified claims and raw token, if any.
func CurrentClaims(c *fiber.Ctx) (*Claims, string) {
	claims, _ := c.Locals(LocalClaims).(*Claims)
	raw, _ := c.Locals(LocalToken).(string)
	return claims, raw
}
