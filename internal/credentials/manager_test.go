package credentials_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"git.sr.ht/~jakintosh/whatshare/internal/credentials"
	"git.sr.ht/~jakintosh/whatshare/internal/request"
	"git.sr.ht/~jakintosh/whatshare/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testNow   = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	testOAuth = credentials.OAuthConfig{
		ClientID:     "client",
		ClientSecret: "secret",
		RedirectURI:  "https://relay.test/oauth_callback",
		TokenURL:     "https://accounts.test/token",
	}
)

func newManager(
	store credentials.Store,
	poster request.Poster,
) (
	*credentials.Manager,
	*testutil.Clock,
) {
	clock := testutil.NewClock(testNow)
	m := credentials.NewManager(store, poster, testOAuth, credentials.WithClock(clock.Now))
	return m, clock
}

func TestIsExpired_Tolerance(t *testing.T) {
	t.Parallel()

	m, _ := newManager(testutil.NewMemoryStore(), testutil.NewScriptedPoster())

	tests := []struct {
		name     string
		expires  time.Time
		expected bool
	}{
		{"long valid", testNow.Add(time.Hour), false},
		{"30s left", testNow.Add(30 * time.Second), false},
		{"exactly now", testNow, false},
		{"30s past expiry", testNow.Add(-30 * time.Second), false},
		{"at the tolerance edge", testNow.Add(-credentials.ExpirationTolerance), false},
		{"61s past expiry", testNow.Add(-61 * time.Second), true},
		{"long expired", testNow.Add(-time.Hour), true},
		{"zero time", time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &credentials.Credential{ExpiresAt: tt.expires}
			assert.Equal(t, tt.expected, m.IsExpired(c))
		})
	}
}

func TestIsExpired_Monotonic(t *testing.T) {
	t.Parallel()

	m, clock := newManager(testutil.NewMemoryStore(), testutil.NewScriptedPoster())
	c := &credentials.Credential{ExpiresAt: testNow.Add(10 * time.Minute)}

	// once expired, a later clock never makes it valid again
	expired := false
	for i := 0; i < 30; i++ {
		now := m.IsExpired(c)
		if expired {
			require.True(t, now, "credential became valid again at step %d", i)
		}
		expired = now
		clock.Advance(time.Minute)
	}
	assert.True(t, expired)
}

func TestIssue_Success(t *testing.T) {
	t.Parallel()

	// setup env
	store := testutil.NewMemoryStore()
	poster := testutil.NewScriptedPoster(testutil.PosterReply{
		Body: `{"access_token":"A9","refresh_token":"R9","expires_in":"3600"}`,
	})
	m, _ := newManager(store, poster)

	c, err := m.Issue(context.Background(), "code-9", "chan999")
	require.NoError(t, err)
	assert.Equal(t, "A9", c.AccessToken)
	assert.Equal(t, "R9", c.RefreshToken)
	assert.Equal(t, testNow.Add(time.Hour), c.ExpiresAt)
	assert.NotEmpty(t, c.ID)

	stored, ok := store.Stored("chan999")
	require.True(t, ok)
	assert.Equal(t, *c, stored)

	// token request carries the client registration
	requests := poster.Requests()
	require.Len(t, requests, 1)
	assert.Equal(t, testOAuth.TokenURL, requests[0].URL)
	assert.Equal(t, request.EncodingForm, requests[0].Encoding)
	assert.Equal(t, request.Params{
		{Key: "client_id", Value: "client"},
		{Key: "client_secret", Value: "secret"},
		{Key: "redirect_uri", Value: "https://relay.test/oauth_callback"},
		{Key: "grant_type", Value: "authorization_code"},
		{Key: "code", Value: "code-9"},
	}, requests[0].Params)
}

func TestIssue_NumericExpiry(t *testing.T) {
	t.Parallel()

	poster := testutil.NewScriptedPoster(testutil.PosterReply{
		Body: `{"access_token":"A9","refresh_token":"R9","expires_in":120}`,
	})
	m, _ := newManager(testutil.NewMemoryStore(), poster)

	c, err := m.Issue(context.Background(), "code", "chan999")
	require.NoError(t, err)
	assert.Equal(t, testNow.Add(2*time.Minute), c.ExpiresAt)
}

func TestIssue_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		reply testutil.PosterReply
		err   error
	}{
		{"soft empty reply", testutil.PosterReply{}, credentials.ErrGrantParse},
		{"missing expiry", testutil.PosterReply{Body: `{"access_token":"A","refresh_token":"R"}`}, credentials.ErrGrantParse},
		{"missing refresh token", testutil.PosterReply{Body: `{"access_token":"A","expires_in":60}`}, credentials.ErrGrantParse},
		{"transport failure", testutil.PosterReply{Err: request.ErrTransport}, credentials.ErrRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := testutil.NewMemoryStore()
			m, _ := newManager(store, testutil.NewScriptedPoster(tt.reply))

			c, err := m.Issue(context.Background(), "code", "chan999")
			assert.Nil(t, c)
			assert.ErrorIs(t, err, tt.err)
			assert.Zero(t, store.Puts())
		})
	}
}

func TestIssue_InvalidArguments(t *testing.T) {
	t.Parallel()

	poster := testutil.NewScriptedPoster()
	m, _ := newManager(testutil.NewMemoryStore(), poster)

	_, err := m.Issue(context.Background(), "", "chan999")
	assert.ErrorIs(t, err, credentials.ErrInvalidArgument)
	_, err = m.Issue(context.Background(), "code", "")
	assert.ErrorIs(t, err, credentials.ErrInvalidArgument)
	assert.Zero(t, poster.Calls())
}

func TestIssue_StoreFailure(t *testing.T) {
	t.Parallel()

	store := testutil.NewMemoryStore()
	store.PutErr = errors.New("disk full")
	poster := testutil.NewScriptedPoster(testutil.PosterReply{Body: testutil.DefaultGrant})
	m, _ := newManager(store, poster)

	_, err := m.Issue(context.Background(), "code", "chan999")
	assert.ErrorContains(t, err, "disk full")
}

func TestRefresh_KeepsRefreshToken(t *testing.T) {
	t.Parallel()

	// setup env
	store := testutil.NewMemoryStore()
	store.Seed(credentials.Credential{
		IdentityKey:  "chan123",
		AccessToken:  "A0",
		RefreshToken: "R1",
		ExpiresAt:    testNow.Add(-time.Hour),
	})
	poster := testutil.NewScriptedPoster(testutil.PosterReply{
		Body: `{"access_token":"A2","expires_in":3600}`,
	})
	m, _ := newManager(store, poster)
	c, err := m.Resolve(context.Background(), "chan123")
	require.NoError(t, err)

	require.NoError(t, m.Refresh(context.Background(), c))
	assert.Equal(t, "A2", c.AccessToken)
	assert.Equal(t, "R1", c.RefreshToken)
	assert.False(t, m.IsExpired(c))

	stored, _ := store.Stored("chan123")
	assert.Equal(t, *c, stored)

	requests := poster.Requests()
	require.Len(t, requests, 1)
	assert.Equal(t, request.Params{
		{Key: "client_id", Value: "client"},
		{Key: "client_secret", Value: "secret"},
		{Key: "grant_type", Value: "refresh_token"},
		{Key: "refresh_token", Value: "R1"},
	}, requests[0].Params)
}

func TestRefresh_NoRefreshToken(t *testing.T) {
	t.Parallel()

	poster := testutil.NewScriptedPoster(testutil.PosterReply{Body: testutil.DefaultGrant})
	m, _ := newManager(testutil.NewMemoryStore(), poster)

	c := &credentials.Credential{IdentityKey: "chan123", AccessToken: "A0"}
	err := m.Refresh(context.Background(), c)
	assert.ErrorIs(t, err, credentials.ErrNoRefreshToken)
	assert.Zero(t, poster.Calls())
	assert.Equal(t, "A0", c.AccessToken)
}

func TestRefresh_FailureLeavesCredential(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		reply testutil.PosterReply
	}{
		{"transport failure", testutil.PosterReply{Err: request.ErrTransport}},
		{"error status", testutil.PosterReply{}},
		{"unparsable grant", testutil.PosterReply{Body: `{"access_token":"A2"}`}},
		{"empty access token", testutil.PosterReply{Body: `{"access_token":"","expires_in":60}`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original := credentials.Credential{
				ID:           "mem-chan123",
				IdentityKey:  "chan123",
				AccessToken:  "A0",
				RefreshToken: "R1",
				ExpiresAt:    testNow.Add(-time.Hour),
			}
			store := testutil.NewMemoryStore()
			store.Seed(original)
			m, _ := newManager(store, testutil.NewScriptedPoster(tt.reply))

			c := original
			assert.Error(t, m.Refresh(context.Background(), &c))
			assert.Equal(t, original, c)
			assert.Zero(t, store.Puts())

			stored, _ := store.Stored("chan123")
			assert.Equal(t, original, stored)
		})
	}
}

func TestEnsureUsable(t *testing.T) {
	t.Parallel()

	t.Run("valid credential makes no call", func(t *testing.T) {
		poster := testutil.NewScriptedPoster()
		m, _ := newManager(testutil.NewMemoryStore(), poster)
		c := &credentials.Credential{IdentityKey: "k", AccessToken: "A", RefreshToken: "R", ExpiresAt: testNow.Add(time.Hour)}

		assert.NoError(t, m.EnsureUsable(context.Background(), c))
		assert.Zero(t, poster.Calls())
	})

	t.Run("grace period makes no call", func(t *testing.T) {
		poster := testutil.NewScriptedPoster(testutil.PosterReply{Body: testutil.DefaultGrant})
		m, _ := newManager(testutil.NewMemoryStore(), poster)

		for _, offset := range []time.Duration{30 * time.Second, -30 * time.Second} {
			c := &credentials.Credential{IdentityKey: "k", AccessToken: "A", RefreshToken: "R", ExpiresAt: testNow.Add(offset)}
			assert.NoError(t, m.EnsureUsable(context.Background(), c))
			assert.Equal(t, "A", c.AccessToken)
		}
		assert.Zero(t, poster.Calls())
	})

	t.Run("missing tokens are refused without a call", func(t *testing.T) {
		poster := testutil.NewScriptedPoster(testutil.PosterReply{Body: testutil.DefaultGrant})
		m, _ := newManager(testutil.NewMemoryStore(), poster)
		c := &credentials.Credential{IdentityKey: "k", AccessToken: "A", ExpiresAt: testNow.Add(-time.Hour)}

		assert.ErrorIs(t, m.EnsureUsable(context.Background(), c), credentials.ErrUnusable)
		assert.Zero(t, poster.Calls())
	})

	t.Run("expired credential is refreshed", func(t *testing.T) {
		store := testutil.NewMemoryStore()
		poster := testutil.NewScriptedPoster(testutil.PosterReply{Body: `{"access_token":"A2","expires_in":3600}`})
		m, _ := newManager(store, poster)
		c := &credentials.Credential{IdentityKey: "k", AccessToken: "A", RefreshToken: "R", ExpiresAt: testNow.Add(-2 * time.Minute)}

		require.NoError(t, m.EnsureUsable(context.Background(), c))
		assert.Equal(t, "A2", c.AccessToken)
		assert.Equal(t, 1, store.Puts())
	})

	t.Run("nil credential", func(t *testing.T) {
		m, _ := newManager(testutil.NewMemoryStore(), testutil.NewScriptedPoster())
		assert.ErrorIs(t, m.EnsureUsable(context.Background(), nil), credentials.ErrInvalidArgument)
	})
}

func TestResolve_NotFound(t *testing.T) {
	t.Parallel()

	m, _ := newManager(testutil.NewMemoryStore(), testutil.NewScriptedPoster())
	_, err := m.Resolve(context.Background(), "unknown")
	assert.ErrorIs(t, err, credentials.ErrNotFound)
}

// Expired credential against a token endpoint that never answers: three
// attempts, then the stored credential is left as it was.
func TestRefresh_NetworkFailureScenario(t *testing.T) {
	t.Parallel()

	// setup env
	env := testutil.SetupTestEnv(t)
	env.RegisterCredential(t, "chan123", "A0", "R1", -time.Hour)
	before := env.StoredCredential(t, "chan123")
	env.OAuth.Server.Close()

	started := time.Now()
	err := env.Credentials.EnsureUsable(context.Background(), before)
	elapsed := time.Since(started)

	assert.ErrorIs(t, err, credentials.ErrRequest)
	assert.ErrorIs(t, err, request.ErrTransport)
	assert.Less(t, elapsed, 6*testutil.TestBaseDelay*3+time.Second)

	after := env.StoredCredential(t, "chan123")
	assert.Equal(t, "A0", after.AccessToken)
	assert.Equal(t, "R1", after.RefreshToken)
	assert.True(t, after.ExpiresAt.Equal(before.ExpiresAt))
}

func TestIssue_Scenario(t *testing.T) {
	t.Parallel()

	// setup env
	env := testutil.SetupTestEnv(t)
	env.OAuth.Respond(http.StatusOK, `{"access_token":"A9","refresh_token":"R9","expires_in":"3600"}`)

	c, err := env.Credentials.Issue(context.Background(), "code-9", "chan999")
	require.NoError(t, err)

	stored := env.StoredCredential(t, "chan999")
	assert.Equal(t, c.ID, stored.ID)
	assert.Equal(t, "A9", stored.AccessToken)
	assert.Equal(t, "R9", stored.RefreshToken)
	assert.True(t, stored.ExpiresAt.Equal(env.Clock.Now().Add(time.Hour)))
}
