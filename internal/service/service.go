// Package service implements the pairing relay: it forwards pairing replies
// from mobile devices to the browser extension that asked for them, and
// completes the OAuth authorization the extension needs to be reachable.
package service

import (
	"context"
	"errors"
	"log/slog"

	"git.sr.ht/~jakintosh/whatshare/internal/credentials"
	"git.sr.ht/~jakintosh/whatshare/internal/request"
)

var (
	ErrInvalidMessage = errors.New("invalid pairing message")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrInternal       = errors.New("internal error")
)

// Credentials is the part of [credentials.Manager] the service relies on.
type Credentials interface {
	Resolve(ctx context.Context, identityKey string) (*credentials.Credential, error)
	Issue(ctx context.Context, authCode string, identityKey string) (*credentials.Credential, error)
	EnsureUsable(ctx context.Context, c *credentials.Credential) error
}

// Pages tells whether a static page exists, e.g. "/static/it/success.html".
type Pages interface {
	Exists(path string) bool
}

type RelayConfig struct {
	URL string
}

// Service coordinates credential checks and relay delivery. It holds no
// per-request state; the credential store is the only shared resource.
type Service struct {
	credentials Credentials
	poster      request.Poster
	relay       RelayConfig
	pages       Pages
	logger      *slog.Logger
}

func New(
	creds Credentials,
	poster request.Poster,
	relay RelayConfig,
	pages Pages,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		credentials: creds,
		poster:      poster,
		relay:       relay,
		pages:       pages,
		logger:      logger,
	}
}
