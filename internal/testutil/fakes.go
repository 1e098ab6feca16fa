package testutil

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"git.sr.ht/~jakintosh/whatshare/internal/credentials"
	"git.sr.ht/~jakintosh/whatshare/internal/request"
)

// DefaultGrant is what FakeOAuth answers until told otherwise.
const DefaultGrant = `{"access_token":"access-1","refresh_token":"refresh-1","expires_in":3600,"token_type":"Bearer"}`

// FakeOAuth is a token endpoint that records the forms it receives.
type FakeOAuth struct {
	Server *httptest.Server

	mu       sync.Mutex
	status   int
	body     string
	requests []url.Values
}

func NewFakeOAuth(t *testing.T) *FakeOAuth {
	t.Helper()
	f := &FakeOAuth{status: http.StatusOK, body: DefaultGrant}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		f.mu.Lock()
		f.requests = append(f.requests, r.PostForm)
		status, body := f.status, f.body
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(f.Server.Close)
	return f
}

func (f *FakeOAuth) URL() string {
	return f.Server.URL + "/token"
}

func (f *FakeOAuth) Respond(status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status, f.body = status, body
}

func (f *FakeOAuth) Requests() []url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]url.Values(nil), f.requests...)
}

// RelayCall is one delivery received by FakeRelay.
type RelayCall struct {
	Authorization string
	ContentType   string
	Body          string
}

// FakeRelay stands in for the push service. It answers "ok" by default.
type FakeRelay struct {
	Server *httptest.Server

	mu     sync.Mutex
	status int
	body   string
	calls  []RelayCall
}

func NewFakeRelay(t *testing.T) *FakeRelay {
	t.Helper()
	f := &FakeRelay{status: http.StatusOK, body: "ok"}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.calls = append(f.calls, RelayCall{
			Authorization: r.Header.Get("Authorization"),
			ContentType:   r.Header.Get("Content-Type"),
			Body:          string(body),
		})
		status, reply := f.status, f.body
		f.mu.Unlock()

		w.WriteHeader(status)
		_, _ = io.WriteString(w, reply)
	}))
	t.Cleanup(f.Server.Close)
	return f
}

func (f *FakeRelay) URL() string {
	return f.Server.URL + "/v1/messages"
}

func (f *FakeRelay) Respond(status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status, f.body = status, body
}

func (f *FakeRelay) Calls() []RelayCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]RelayCall(nil), f.calls...)
}

// Clock is a settable time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(now time.Time) *Clock {
	return &Clock{now: now}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// MemoryStore is a credentials.Store that counts its calls.
type MemoryStore struct {
	mu     sync.Mutex
	byKey  map[string]credentials.Credential
	gets   int
	puts   int
	PutErr error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byKey: map[string]credentials.Credential{}}
}

func (s *MemoryStore) Get(
	ctx context.Context,
	identityKey string,
) (
	*credentials.Credential,
	error,
) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	c, ok := s.byKey[identityKey]
	if !ok {
		return nil, credentials.ErrNotFound
	}
	return &c, nil
}

func (s *MemoryStore) GetByID(
	ctx context.Context,
	id string,
) (
	*credentials.Credential,
	error,
) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	for _, c := range s.byKey {
		if c.ID == id {
			return &c, nil
		}
	}
	return nil, credentials.ErrNotFound
}

func (s *MemoryStore) Put(
	ctx context.Context,
	c *credentials.Credential,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts++
	if s.PutErr != nil {
		return s.PutErr
	}
	if existing, ok := s.byKey[c.IdentityKey]; ok {
		c.ID = existing.ID
	} else if c.ID == "" {
		c.ID = "mem-" + c.IdentityKey
	}
	s.byKey[c.IdentityKey] = *c
	return nil
}

// Seed stores c without counting it as a call.
func (s *MemoryStore) Seed(c credentials.Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = "mem-" + c.IdentityKey
	}
	s.byKey[c.IdentityKey] = c
}

// Stored returns the stored credential of identityKey without counting it.
func (s *MemoryStore) Stored(identityKey string) (credentials.Credential, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byKey[identityKey]
	return c, ok
}

func (s *MemoryStore) Gets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets
}

func (s *MemoryStore) Puts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts
}

// PosterReply is one scripted answer of ScriptedPoster.
type PosterReply struct {
	Body string
	Err  error
}

// ScriptedPoster is a request.Poster that answers from a script. Once the
// script runs out, the last reply repeats.
type ScriptedPoster struct {
	mu       sync.Mutex
	replies  []PosterReply
	requests []request.Request
}

func NewScriptedPoster(replies ...PosterReply) *ScriptedPoster {
	return &ScriptedPoster{replies: replies}
}

func (p *ScriptedPoster) Post(
	ctx context.Context,
	req request.Request,
) (
	string,
	error,
) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if len(p.replies) == 0 {
		return "", nil
	}
	reply := p.replies[0]
	if len(p.replies) > 1 {
		p.replies = p.replies[1:]
	}
	return reply.Body, reply.Err
}

func (p *ScriptedPoster) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func (p *ScriptedPoster) Requests() []request.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]request.Request(nil), p.requests...)
}
