// Package credstore loads, saves, and refreshes the Gmail OAuth credential
// across three backends: the OS keyring, a flat token file, and an inline
// environment variable. Callers only ever see a valid token or an error.
package credstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/zalando/go-keyring"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/cenproject/cen/internal/cenlog"
	"github.com/cenproject/cen/internal/config"
)

const (
	// Keyring entry identity. The token JSON is stored verbatim under this pair.
	keyringService = "cen-gmail"
	keyringUser    = "cen-user"

	// Token file permissions (owner read/write only)
	tokenFilePerms = 0600
)

// Environment variables checked, in order, for an inline authorized-user blob.
var tokenEnvVars = []string{"CEN_GMAIL_TOKEN_JSON", "GMAIL_AUTHORIZED_USER", "GMAIL_TOKEN_JSON"}

// ErrNoCredential indicates no usable credential exists in any backend.
var ErrNoCredential = errors.New("no stored credential")

// AuthorizeFunc runs an interactive consent flow and returns a fresh token.
// The store calls it as a last resort; it never persists anything itself.
type AuthorizeFunc func(ctx context.Context) (*oauth2.Token, error)

// Store owns the credential lifecycle for one Google account.
type Store struct {
	cfg       config.GoogleConfig
	oauth     *oauth2.Config
	authorize AuthorizeFunc
	logger    cenlog.Logger

	mu     sync.Mutex
	cached *oauth2.Token

	// Seams for tests; production values set by New.
	keyringSet func(service, user, secret string) error
	keyringGet func(service, user string) (string, error)
	refresh    func(ctx context.Context, tok *oauth2.Token) (*oauth2.Token, error)
	getenv     func(string) string
	now        func() time.Time
}

// New creates a Store for the given client settings. authorize may be nil when
// the caller never wants interactive consent (e.g. export-token in CI).
func New(cfg config.GoogleConfig, authorize AuthorizeFunc, logger cenlog.Logger) *Store {
	if logger == nil {
		logger = cenlog.Nop{}
	}
	oc := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       cfg.Scopes,
	}
	s := &Store{
		cfg:        cfg,
		oauth:      oc,
		authorize:  authorize,
		logger:     logger,
		keyringSet: keyring.Set,
		keyringGet: keyring.Get,
		getenv:     os.Getenv,
		now:        time.Now,
	}
	s.refresh = func(ctx context.Context, tok *oauth2.Token) (*oauth2.Token, error) {
		return oc.TokenSource(ctx, tok).Token()
	}
	return s
}

// OAuthConfig exposes the underlying OAuth2 client configuration so the
// authorizer and mailer share endpoints and scopes with the store.
func (s *Store) OAuthConfig() *oauth2.Config { return s.oauth }

// Load reads the credential from the selected durable backend and refreshes it
// if it is expired and refreshable. It returns ErrNoCredential when the
// backend holds nothing usable; a failed refresh also counts as nothing usable.
func (s *Store) Load(ctx context.Context) (*oauth2.Token, error) {
	var raw []byte
	switch s.cfg.Storage {
	case config.StorageKeyring:
		secret, err := s.keyringGet(keyringService, keyringUser)
		if err != nil || secret == "" {
			return nil, ErrNoCredential
		}
		raw = []byte(secret)
	case config.StorageFile:
		data, err := os.ReadFile(s.cfg.TokenPath)
		if err != nil {
			return nil, ErrNoCredential
		}
		raw = data
	default:
		return nil, fmt.Errorf("unknown storage backend %q", s.cfg.Storage)
	}

	tok, _, err := unmarshalToken(raw)
	if err != nil {
		s.logger.Warnw("Discarding unreadable stored credential", "backend", s.cfg.Storage, "error", err)
		return nil, ErrNoCredential
	}
	return s.refreshIfNeeded(ctx, tok)
}

// Save persists the credential under the selected backend. A keyring write
// failure (no OS secret store, e.g. in containers) degrades to the file
// backend instead of failing.
func (s *Store) Save(ctx context.Context, tok *oauth2.Token) error {
	raw, err := marshalToken(tok, s.cfg.ClientID, s.cfg.ClientSecret, google.Endpoint.TokenURL, s.cfg.Scopes)
	if err != nil {
		return fmt.Errorf("serialize credential: %w", err)
	}

	if s.cfg.Storage == config.StorageKeyring {
		err := s.keyringSet(keyringService, keyringUser, string(raw))
		if err == nil {
			return nil
		}
		s.logger.Warnw("Keyring unavailable, falling back to file storage",
			"path", s.cfg.TokenPath, "error", err)
	}

	if err := os.WriteFile(s.cfg.TokenPath, raw, tokenFilePerms); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}
	return nil
}

// EnsureValid returns a valid credential, resolving in order: the in-process
// cache, an environment-supplied token blob, the durable backend, and finally
// interactive authorization. The result is cached for the process lifetime.
func (s *Store) EnsureValid(ctx context.Context) (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil && s.tokenValid(s.cached) {
		return s.cached, nil
	}

	tok, err := s.loadFromEnv(ctx)
	if err != nil && !errors.Is(err, ErrNoCredential) {
		return nil, err
	}
	if tok == nil {
		tok, err = s.Load(ctx)
		if err != nil && !errors.Is(err, ErrNoCredential) {
			return nil, err
		}
	}
	if tok == nil {
		tok, err = s.loginLocked(ctx, false)
		if err != nil {
			return nil, err
		}
	}

	s.cached = tok
	return tok, nil
}

// Login drives the credential-acquisition path explicitly. force bypasses
// every cache and backend lookup and goes straight to interactive consent.
// The resulting credential is persisted and cached.
func (s *Store) Login(ctx context.Context, force bool) (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !force {
		if tok, err := s.Load(ctx); err == nil && tok != nil {
			s.cached = tok
			return tok, nil
		}
	}

	tok, err := s.loginLocked(ctx, force)
	if err != nil {
		return nil, err
	}
	s.cached = tok
	return tok, nil
}

// ExportJSON returns the authorized-user JSON for the current valid credential
// (for moving it into the environment-variable backend).
func (s *Store) ExportJSON(ctx context.Context) ([]byte, error) {
	tok, err := s.EnsureValid(ctx)
	if err != nil {
		return nil, err
	}
	return marshalToken(tok, s.cfg.ClientID, s.cfg.ClientSecret, google.Endpoint.TokenURL, s.cfg.Scopes)
}

// TokenSource returns a self-refreshing token source for API clients, seeded
// with a validated credential.
func (s *Store) TokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	tok, err := s.EnsureValid(ctx)
	if err != nil {
		return nil, err
	}
	return oauth2.ReuseTokenSource(tok, s.oauth.TokenSource(ctx, tok)), nil
}

// --- internals ---

// loginLocked runs interactive authorization and persists the result.
// Caller holds s.mu.
func (s *Store) loginLocked(ctx context.Context, force bool) (*oauth2.Token, error) {
	if s.authorize == nil {
		return nil, ErrNoCredential
	}
	if force {
		s.logger.Infow("Forcing re-consent; ignoring stored credentials")
	}

	tok, err := s.authorize(ctx)
	if err != nil {
		return nil, fmt.Errorf("interactive authorization: %w", err)
	}
	if err := s.Save(ctx, tok); err != nil {
		return nil, err
	}
	return tok, nil
}

// loadFromEnv checks the known environment variables for an inline token blob.
func (s *Store) loadFromEnv(ctx context.Context) (*oauth2.Token, error) {
	for _, name := range tokenEnvVars {
		raw := s.getenv(name)
		if raw == "" {
			continue
		}
		tok, _, err := unmarshalToken([]byte(raw))
		if err != nil {
			s.logger.Warnw("Ignoring malformed token in environment", "var", name, "error", err)
			continue
		}
		return s.refreshIfNeeded(ctx, tok)
	}
	return nil, ErrNoCredential
}

// refreshIfNeeded silently refreshes an expired credential that carries a
// refresh token. A failed refresh, or an expired credential without a refresh
// token, is reported as absent so the caller falls through to re-authorization.
func (s *Store) refreshIfNeeded(ctx context.Context, tok *oauth2.Token) (*oauth2.Token, error) {
	if s.tokenValid(tok) {
		return tok, nil
	}
	if tok.RefreshToken == "" {
		return nil, ErrNoCredential
	}

	fresh, err := s.refresh(ctx, tok)
	if err != nil {
		s.logger.Warnw("Credential refresh failed, re-authorization required", "error", err)
		return nil, ErrNoCredential
	}
	// Refreshing drops the refresh token on some responses; keep the old one.
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = tok.RefreshToken
	}
	if err := s.Save(ctx, fresh); err != nil {
		s.logger.Warnw("Failed to persist refreshed credential", "error", err)
	}
	return fresh, nil
}

// tokenValid reports whether the token is usable right now.
func (s *Store) tokenValid(tok *oauth2.Token) bool {
	if tok == nil || tok.AccessToken == "" {
		return false
	}
	if tok.Expiry.IsZero() {
		return true
	}
	// Same early-expiry margin oauth2.Token.Valid applies.
	return tok.Expiry.Add(-10 * time.Second).After(s.now())
}
