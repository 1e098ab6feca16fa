package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"git.sr.ht/~jakintosh/whatshare/internal/credentials"
	"github.com/google/uuid"
)

func (s *SQLiteStore) Get(
	ctx context.Context,
	identityKey string,
) (
	*credentials.Credential,
	error,
) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, identity_key, access_token, refresh_token, expires_at
		FROM credential
		WHERE identity_key=?1;`,
		identityKey,
	)
	return s.scanCredential(row)
}

func (s *SQLiteStore) GetByID(
	ctx context.Context,
	id string,
) (
	*credentials.Credential,
	error,
) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, identity_key, access_token, refresh_token, expires_at
		FROM credential
		WHERE id=?1;`,
		id,
	)
	return s.scanCredential(row)
}

// Put upserts by identity key. A new row gets a fresh UUID; an existing row
// keeps its id. Either way the stored id is written back into c.
func (s *SQLiteStore) Put(
	ctx context.Context,
	c *credentials.Credential,
) error {
	if c.IdentityKey == "" {
		return fmt.Errorf("couldn't upsert credential: empty identity key")
	}

	accessToken, err := s.sealer.seal(c.AccessToken)
	if err != nil {
		return err
	}
	refreshToken, err := s.sealer.seal(c.RefreshToken)
	if err != nil {
		return err
	}

	id := c.ID
	if id == "" {
		id = uuid.NewString()
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO credential (id, identity_key, access_token, refresh_token, expires_at)
		VALUES (?1, ?2, ?3, ?4, ?5)
		ON CONFLICT (identity_key) DO UPDATE SET
			access_token=excluded.access_token,
			refresh_token=excluded.refresh_token,
			expires_at=excluded.expires_at
		RETURNING id;`,
		id,
		c.IdentityKey,
		nullable(accessToken),
		nullable(refreshToken),
		c.ExpiresAt.UnixMilli(),
	)

	var storedID string
	if err := row.Scan(&storedID); err != nil {
		return fmt.Errorf("couldn't upsert credential: %v", err)
	}
	c.ID = storedID
	return nil
}

func (s *SQLiteStore) scanCredential(row *sql.Row) (*credentials.Credential, error) {
	var (
		c            credentials.Credential
		accessToken  sql.NullString
		refreshToken sql.NullString
		expiresAt    int64
	)
	err := row.Scan(&c.ID, &c.IdentityKey, &accessToken, &refreshToken, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, credentials.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("couldn't scan credential: %v", err)
	}

	if c.AccessToken, err = s.sealer.open(accessToken.String); err != nil {
		return nil, err
	}
	if c.RefreshToken, err = s.sealer.open(refreshToken.String); err != nil {
		return nil, err
	}
	c.ExpiresAt = time.UnixMilli(expiresAt)
	return &c, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
