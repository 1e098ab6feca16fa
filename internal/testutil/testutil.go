// Package testutil provides test environment setup and utilities for internal package tests.
package testutil

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"git.sr.ht/~jakintosh/whatshare/internal/api"
	"git.sr.ht/~jakintosh/whatshare/internal/credentials"
	"git.sr.ht/~jakintosh/whatshare/internal/database"
	"git.sr.ht/~jakintosh/whatshare/internal/request"
	"git.sr.ht/~jakintosh/whatshare/internal/resources"
	"git.sr.ht/~jakintosh/whatshare/internal/service"
)

// TestBaseDelay keeps retry pauses short while leaving local connections
// enough time to be established.
const TestBaseDelay = 50 * time.Millisecond

// TestTokenKey seals tokens in the test database.
var TestTokenKey = [32]byte{
	0x77, 0x68, 0x61, 0x74, 0x73, 0x68, 0x61, 0x72,
	0x65, 0x2d, 0x74, 0x65, 0x73, 0x74, 0x2d, 0x6b,
	0x65, 0x79, 0x2d, 0x30, 0x31, 0x32, 0x33, 0x34,
	0x35, 0x36, 0x37, 0x38, 0x39, 0x61, 0x62, 0x63,
}

// TestEnv provides all dependencies needed for testing
type TestEnv struct {
	DB          *database.SQLiteStore
	Client      *request.Client
	OAuth       *FakeOAuth
	Relay       *FakeRelay
	Clock       *Clock
	Credentials *credentials.Manager
	Pages       *resources.Pages
	Service     *service.Service
	Router      http.Handler
	Logger      *slog.Logger
}

// SetupTestEnv creates an isolated test environment with in-memory SQLite
// and fake token and push endpoints
func SetupTestEnv(
	t *testing.T,
) *TestEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	// create in-memory SQLite database
	db, err := database.NewSQLiteStore(":memory:", database.WithTokenKey(TestTokenKey))
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	oauth := NewFakeOAuth(t)
	relay := NewFakeRelay(t)
	clock := NewClock(time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC))

	client := request.New(
		request.WithBaseDelay(TestBaseDelay),
		request.WithLogger(logger),
	)
	manager := credentials.NewManager(
		db.CredentialStore(),
		client,
		credentials.OAuthConfig{
			ClientID:     "test-client",
			ClientSecret: "test-secret",
			RedirectURI:  "https://relay.test/oauth_callback",
			TokenURL:     oauth.URL(),
		},
		credentials.WithClock(clock.Now),
		credentials.WithLogger(logger),
	)

	pages := resources.NewPages(GetTestDataPath("static"), "/static/", logger)

	svc := service.New(
		manager,
		client,
		service.RelayConfig{URL: relay.URL()},
		pages,
		logger,
	)

	// setup cleanup
	t.Cleanup(func() {
		_ = pages.Close()
		_ = db.Close()
	})

	return &TestEnv{
		DB:          db,
		Client:      client,
		OAuth:       oauth,
		Relay:       relay,
		Clock:       clock,
		Credentials: manager,
		Pages:       pages,
		Service:     svc,
		Logger:      logger,
	}
}

// SetupTestEnvWithRouter creates TestEnv and configures the API router
func SetupTestEnvWithRouter(
	t *testing.T,
) *TestEnv {
	t.Helper()
	env := SetupTestEnv(t)
	a := api.New(env.Service, env.Pages.Dir(), env.Logger)
	env.Router = a.Router()
	return env
}

// GetTestDataPath returns the path to a subdirectory in testdata
func GetTestDataPath(
	subdir string,
) string {
	_, filename, _, _ := runtime.Caller(0)
	// Go up from internal/testutil to repo root, then into testdata
	return filepath.Join(filepath.Dir(filename), "..", "..", "testdata", subdir)
}

// RegisterCredential stores a credential for identityKey expiring after
// validFor, measured on the environment clock
func (env *TestEnv) RegisterCredential(
	t *testing.T,
	identityKey string,
	accessToken string,
	refreshToken string,
	validFor time.Duration,
) *credentials.Credential {
	t.Helper()
	c := &credentials.Credential{
		IdentityKey:  identityKey,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    env.Clock.Now().Add(validFor),
	}
	if err := env.DB.Put(context.Background(), c); err != nil {
		t.Fatalf("failed to register test credential: %v", err)
	}
	return c
}

// StoredCredential reads the stored credential of identityKey
func (env *TestEnv) StoredCredential(
	t *testing.T,
	identityKey string,
) *credentials.Credential {
	t.Helper()
	c, err := env.DB.Get(context.Background(), identityKey)
	if err != nil {
		t.Fatalf("failed to read test credential: %v", err)
	}
	return c
}
