// Package supabase talks to the hosted backend: GoTrue auth, PostgREST rows
// and the Realtime change feed.
package supabase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"teamera_server/pkg/apperr"
	"teamera_server/pkg/httputil"
	"teamera_server/pkg/metrics"
	"teamera_server/pkg/resilience"
)

const maxResponseBody = 4 << 20

// Config configures one Client.
type Config struct {
	URL    string
	APIKey string
	// Name labels logs, metrics and the circuit breaker ("admin", "anon").
	Name       string
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// Client is a REST client bound to one API key.
type Client struct {
	name        string
	apiKey      string
	baseURL     string
	authURL     string
	restURL     string
	realtimeURL string

	http    *http.Client
	breaker *resilience.Breaker
	log     zerolog.Logger
}

// NewClient validates cfg and builds a client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, apperr.ConfigError("supabase URL is required")
	}
	if cfg.APIKey == "" {
		return nil, apperr.ConfigError("supabase API key is required")
	}

	base := strings.TrimRight(cfg.URL, "/")
	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		return nil, apperr.ConfigError(fmt.Sprintf("invalid supabase URL %q", cfg.URL))
	}

	name := cfg.Name
	if name == "" {
		name = "supabase"
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = httputil.SupabaseClient()
	}
	log := cfg.Logger.With().Str("component", "supabase").Str("client", name).Logger()

	bcfg := resilience.DefaultBreakerConfig("supabase-" + name)
	bcfg.IsSuccessful = func(err error) bool {
		var se *Error
		return err == nil || (errors.As(err, &se) && se.Status < http.StatusInternalServerError)
	}

	return &Client{
		name:        name,
		apiKey:      cfg.APIKey,
		baseURL:     base,
		authURL:     base + "/auth/v1",
		restURL:     base + "/rest/v1",
		realtimeURL: realtimeURL(u),
		http:        httpClient,
		breaker:     resilience.NewBreaker(bcfg, log),
		log:         log,
	}, nil
}

func realtimeURL(u *url.URL) string {
	ws := *u
	switch u.Scheme {
	case "https":
		ws.Scheme = "wss"
	default:
		ws.Scheme = "ws"
	}
	ws.Path = strings.TrimRight(u.Path, "/") + "/realtime/v1/websocket"
	return ws.String()
}

// Name returns the client label.
func (c *Client) Name() string { return c.name }

// BaseURL returns the project URL without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// Breaker exposes the circuit breaker for health reporting.
func (c *Client) Breaker() *resilience.Breaker { return c.breaker }

// request describes one backend call.
type request struct {
	call    string // metric label, e.g. "auth.token"
	method  string
	url     string
	token   string // bearer token; the API key is used when empty
	body    any
	headers map[string]string
}

// response is a completed call with a status below 400.
type response struct {
	status int
	header http.Header
	body   []byte
}

// do executes r through the circuit breaker. Statuses >= 400 become *Error.
func (c *Client) do(ctx context.Context, r request) (*response, error) {
	var payload io.Reader
	if r.body != nil {
		data, err := json.Marshal(r.body)
		if err != nil {
			return nil, fmt.Errorf("marshal %s body: %w", r.call, err)
		}
		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, r.url, payload)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", r.call, err)
	}
	token := r.token
	if token == "" {
		token = c.apiKey
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	var out *response
	err = c.breaker.Execute(func() error {
		resp, err := httputil.DoWithContext(ctx, c.http, req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
		if err != nil {
			return fmt.Errorf("read %s response: %w", r.call, err)
		}
		if resp.StatusCode >= http.StatusBadRequest {
			return parseError(body, resp.StatusCode)
		}
		out = &response{status: resp.StatusCode, header: resp.Header, body: body}
		return nil
	})
	elapsed := time.Since(start)

	var se *Error
	failed := err != nil && !(errors.As(err, &se) && se.Status < http.StatusInternalServerError)
	metrics.ObserveBackend(r.call, elapsed, failed)

	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return nil, apperr.Unavailable("supabase", err)
		}
		c.log.Debug().Err(err).Str("call", r.call).Dur("elapsed", elapsed).Msg("backend call failed")
		return nil, err
	}
	return out, nil
}

// decode unmarshals a response body into dest.
func decode(call string, body []byte, dest any) error {
	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("decode %s response: %w", call, err)
	}
	return nil
}
