// Package credentials manages the OAuth2 credential of every registered push
// channel: issuing it from an authorization code, deciding when it expired and
// refreshing it.
package credentials

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("credential not found")
	ErrGrantParse      = errors.New("invalid token grant")
	ErrNoRefreshToken  = errors.New("no refresh token")
	ErrUnusable        = errors.New("credential unusable")
	ErrRequest         = errors.New("token request failed")
	ErrInvalidArgument = errors.New("invalid argument")
)

// Credential holds the tokens of one identity. An empty token is a missing
// token. The refresh token is only returned on the first grant, so it's kept
// once set.
type Credential struct {
	ID           string
	IdentityKey  string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Usable reports whether both tokens are present.
func (c *Credential) Usable() bool {
	return c.AccessToken != "" && c.RefreshToken != ""
}

// Store persists credentials. Put inserts or updates by identity key and
// sets c.ID to the stored id.
type Store interface {
	Get(ctx context.Context, identityKey string) (*Credential, error)
	GetByID(ctx context.Context, id string) (*Credential, error)
	Put(ctx context.Context, c *Credential) error
}
