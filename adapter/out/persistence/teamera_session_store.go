// Package persistence provides storage adapters implementing outbound ports.
package persistence

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"teamera_server/core/domain"
	"teamera_server/core/port/out"
	"teamera_server/pkg/cache"
	"teamera_server/pkg/crypto"
)

// storedSession is the persisted form of a session. Tokens are sealed when
// an encryptor is configured.
type storedSession struct {
	AccessToken  string           `json:"access_token"`
	RefreshToken string           `json:"refresh_token"`
	TokenType    string           `json:"token_type,omitempty"`
	ExpiresAt    int64            `json:"expires_at"`
	User         *domain.AuthUser `json:"user,omitempty"`
	SavedAt      time.Time        `json:"saved_at"`
}

type sealer struct {
	enc *crypto.Encryptor
}

func (s sealer) seal(sess *domain.Session) (*storedSession, error) {
	st := &storedSession{
		AccessToken:  sess.AccessToken,
		RefreshToken: sess.RefreshToken,
		TokenType:    sess.TokenType,
		ExpiresAt:    sess.ExpiresAt,
		User:         sess.User,
		SavedAt:      time.Now().UTC(),
	}
	if s.enc == nil {
		return st, nil
	}

	var err error
	if st.AccessToken, err = s.enc.Encrypt(sess.AccessToken); err != nil {
		return nil, fmt.Errorf("seal access token: %w", err)
	}
	if st.RefreshToken, err = s.enc.Encrypt(sess.RefreshToken); err != nil {
		return nil, fmt.Errorf("seal refresh token: %w", err)
	}
	return st, nil
}

func (s sealer) open(st *storedSession) (*domain.Session, error) {
	sess := &domain.Session{
		AccessToken:  st.AccessToken,
		RefreshToken: st.RefreshToken,
		TokenType:    st.TokenType,
		ExpiresAt:    st.ExpiresAt,
		User:         st.User,
	}
	if s.enc == nil {
		return sess, nil
	}

	var err error
	if sess.AccessToken, err = s.enc.Decrypt(st.AccessToken); err != nil {
		return nil, fmt.Errorf("open access token: %w", err)
	}
	if sess.RefreshToken, err = s.enc.Decrypt(st.RefreshToken); err != nil {
		return nil, fmt.Errorf("open refresh token: %w", err)
	}
	return sess, nil
}

// FileSessionStore keeps the session in a 0600 JSON file. Used by the CLI.
type FileSessionStore struct {
	path string
	s    sealer
	mu   sync.Mutex
}

var _ out.SessionStore = (*FileSessionStore)(nil)

func NewFileSessionStore(path string, enc *crypto.Encryptor) *FileSessionStore {
	return &FileSessionStore{path: path, s: sealer{enc: enc}}
}

func (f *FileSessionStore) Load(_ context.Context) (*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session file: %w", err)
	}

	var st storedSession
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode session file: %w", err)
	}
	return f.s.open(&st)
}

// Save writes through a temp file and rename so a crash never leaves a
// truncated session behind.
func (f *FileSessionStore) Save(_ context.Context, sess *domain.Session) error {
	st, err := f.s.seal(sess)
	if err != nil {
		return err
	}
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	return os.Rename(tmp, f.path)
}

func (f *FileSessionStore) Clear(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}

// RedisSessionStore keeps one session under key in Redis, expiring with
// the refresh window.
type RedisSessionStore struct {
	cache *cache.RedisCache
	key   string
	ttl   time.Duration
	s     sealer
}

var _ out.SessionStore = (*RedisSessionStore)(nil)

func NewRedisSessionStore(c *cache.RedisCache, key string, ttl time.Duration, enc *crypto.Encryptor) *RedisSessionStore {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &RedisSessionStore{cache: c, key: key, ttl: ttl, s: sealer{enc: enc}}
}

func (r *RedisSessionStore) Load(ctx context.Context) (*domain.Session, error) {
	var st storedSession
	found, err := r.cache.GetJSON(ctx, r.key, &st)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if !found {
		return nil, nil
	}
	return r.s.open(&st)
}

func (r *RedisSessionStore) Save(ctx context.Context, sess *domain.Session) error {
	st, err := r.s.seal(sess)
	if err != nil {
		return err
	}
	return r.cache.SetJSON(ctx, r.key, st, r.ttl)
}

func (r *RedisSessionStore) Clear(ctx context.Context) error {
	return r.cache.Delete(ctx, r.key)
}
