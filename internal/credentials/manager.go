package credentials

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"git.sr.ht/~jakintosh/whatshare/internal/request"
)

// ExpirationTolerance is the grace period after the stored expiry during which
// a token still counts as valid: a token is expired once expires_at falls more
// than this far behind now.
const ExpirationTolerance = 60 * time.Second

// OAuthConfig holds the client registration used against the token endpoint.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	TokenURL     string
}

type Manager struct {
	store  Store
	poster request.Poster
	oauth  OAuthConfig
	now    func() time.Time
	logger *slog.Logger
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

func NewManager(
	store Store,
	poster request.Poster,
	oauth OAuthConfig,
	opts ...Option,
) *Manager {
	m := &Manager{
		store:  store,
		poster: poster,
		oauth:  oauth,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Resolve returns the credential registered for identityKey, or [ErrNotFound].
func (m *Manager) Resolve(
	ctx context.Context,
	identityKey string,
) (
	*Credential,
	error,
) {
	return m.store.Get(ctx, identityKey)
}

func (m *Manager) IsExpired(c *Credential) bool {
	return c.ExpiresAt.Before(m.now().Add(-ExpirationTolerance))
}

// Issue exchanges an authorization code for tokens and stores them as the
// credential of identityKey.
func (m *Manager) Issue(
	ctx context.Context,
	authCode string,
	identityKey string,
) (
	*Credential,
	error,
) {
	if authCode == "" || identityKey == "" {
		return nil, fmt.Errorf("%w: auth code and identity key are required", ErrInvalidArgument)
	}

	params := request.Params{}.
		Add("client_id", m.oauth.ClientID).
		Add("client_secret", m.oauth.ClientSecret).
		Add("redirect_uri", m.oauth.RedirectURI).
		Add("grant_type", "authorization_code").
		Add("code", authCode)
	grant, err := m.requestGrant(ctx, params)
	if err != nil {
		m.logger.Warn("token grant failed", "identity", identityKey, "error", err)
		return nil, err
	}

	c := &Credential{IdentityKey: identityKey}
	if err := c.applyGrant(grant, m.now()); err != nil {
		m.logger.Warn("token grant rejected", "identity", identityKey, "error", err)
		return nil, err
	}
	if err := m.store.Put(ctx, c); err != nil {
		return nil, fmt.Errorf("couldn't store credential: %w", err)
	}

	m.logger.Info("credential issued", "identity", identityKey, "expires_at", c.ExpiresAt)
	return c, nil
}

// Refresh trades the refresh token for a new access token. c is only
// modified, and the store only written, when the whole exchange succeeds.
func (m *Manager) Refresh(
	ctx context.Context,
	c *Credential,
) error {
	if c == nil {
		return fmt.Errorf("%w: nil credential", ErrInvalidArgument)
	}
	if c.RefreshToken == "" {
		return fmt.Errorf("%w: identity %s", ErrNoRefreshToken, c.IdentityKey)
	}

	params := request.Params{}.
		Add("client_id", m.oauth.ClientID).
		Add("client_secret", m.oauth.ClientSecret).
		Add("grant_type", "refresh_token").
		Add("refresh_token", c.RefreshToken)
	grant, err := m.requestGrant(ctx, params)
	if err != nil {
		m.logger.Warn("token refresh failed", "identity", c.IdentityKey, "error", err)
		return err
	}

	updated := *c
	if err := updated.applyGrant(grant, m.now()); err != nil {
		m.logger.Warn("token refresh rejected", "identity", c.IdentityKey, "error", err)
		return err
	}
	if err := m.store.Put(ctx, &updated); err != nil {
		return fmt.Errorf("couldn't store credential: %w", err)
	}

	*c = updated
	m.logger.Info("credential refreshed", "identity", c.IdentityKey, "expires_at", c.ExpiresAt)
	return nil
}

// EnsureUsable is the check every caller makes before acting for an
// identity: nil when the access token can be used, refreshing it if needed.
func (m *Manager) EnsureUsable(
	ctx context.Context,
	c *Credential,
) error {
	if c == nil {
		return fmt.Errorf("%w: nil credential", ErrInvalidArgument)
	}
	if !c.Usable() {
		return fmt.Errorf("%w: identity %s is missing tokens", ErrUnusable, c.IdentityKey)
	}
	if !m.IsExpired(c) {
		return nil
	}
	return m.Refresh(ctx, c)
}

func (m *Manager) requestGrant(
	ctx context.Context,
	params request.Params,
) (
	map[string]string,
	error,
) {
	body, err := m.poster.Post(ctx, request.Request{
		URL:      m.oauth.TokenURL,
		Params:   params,
		Encoding: request.EncodingForm,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRequest, err)
	}
	return parseGrant(body)
}
