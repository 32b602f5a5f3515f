package supabase

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"teamera_server/core/domain"
	"teamera_server/core/port/out"
	"teamera_server/pkg/apperr"
)

// FacadeConfig holds both credential tiers.
type FacadeConfig struct {
	URL            string
	ServiceRoleKey string
	AnonKey        string
	HTTPClient     *http.Client
	Logger         zerolog.Logger
}

// Facade bundles a service-role client for administrative calls and an
// anon client for user-scoped ones.
type Facade struct {
	Admin *Client
	Anon  *Client
	log   zerolog.Logger
}

var _ out.UserDirectory = (*Facade)(nil)

func NewFacade(cfg FacadeConfig) (*Facade, error) {
	switch {
	case cfg.URL == "":
		return nil, apperr.ConfigError("missing SUPABASE_URL")
	case cfg.ServiceRoleKey == "":
		return nil, apperr.ConfigError("missing SUPABASE_SERVICE_ROLE_KEY")
	case cfg.AnonKey == "":
		return nil, apperr.ConfigError("missing SUPABASE_ANON_KEY")
	}

	admin, err := NewClient(Config{
		URL:        cfg.URL,
		APIKey:     cfg.ServiceRoleKey,
		Name:       "admin",
		HTTPClient: cfg.HTTPClient,
		Logger:     cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	anon, err := NewClient(Config{
		URL:        cfg.URL,
		APIKey:     cfg.AnonKey,
		Name:       "anon",
		HTTPClient: cfg.HTTPClient,
		Logger:     cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	return &Facade{
		Admin: admin,
		Anon:  anon,
		log:   cfg.Logger.With().Str("component", "supabase_facade").Logger(),
	}, nil
}

// VerifyToken returns the user behind token, or nil when the token is
// rejected or the backend cannot be reached.
func (f *Facade) VerifyToken(ctx context.Context, token string) *domain.AuthUser {
	if token == "" {
		return nil
	}
	user, err := f.Anon.GetUser(ctx, token)
	if err != nil {
		f.log.Debug().Err(err).Msg("token verification failed")
		return nil
	}
	return user
}

func (f *Facade) GetUserByID(ctx context.Context, id string) *domain.AuthUser {
	user, err := f.Admin.AdminGetUser(ctx, id)
	if err != nil {
		f.log.Error().Err(err).Str("user_id", id).Msg("admin user lookup failed")
		return nil
	}
	return user
}

func (f *Facade) ListUsers(ctx context.Context, page, perPage int) ([]domain.AuthUser, error) {
	users, err := f.Admin.AdminListUsers(ctx, page, perPage)
	if err != nil {
		return nil, authError(err)
	}
	return users, nil
}

// TestConnection counts profiles rows with the admin key. An empty table
// reported as "no rows" still proves the connection.
func (f *Facade) TestConnection(ctx context.Context) bool {
	_, err := f.Admin.From(domain.ProfilesTable).Select("count").Limit(1).Execute(ctx, nil)
	if err == nil || IsCode(err, CodeNoContent) || IsCode(err, CodeNoRows) {
		f.log.Info().Msg("supabase connection ok")
		return true
	}
	f.log.Error().Err(err).Msg("supabase connection failed")
	return false
}
