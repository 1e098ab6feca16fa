package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"git.sr.ht/~jakintosh/whatshare/internal/credentials"
)

const (
	successPage = "success.html"
	errorPage   = "error.html"
)

// Outcome tells the HTTP layer where to redirect the browser after the
// authorization callback. The extension looks for "error" in the location.
type Outcome struct {
	Location string
	Success  bool
}

// Authorize completes the OAuth flow started by the extension. state has the
// form "locale/identityKey"; code is the authorization code. Failures are
// logged and only show up as a redirect to the error page.
func (s *Service) Authorize(
	ctx context.Context,
	state string,
	code string,
) Outcome {
	locale, identityKey := splitState(state)
	ok := s.authorize(ctx, identityKey, code)

	page := errorPage
	if ok {
		page = successPage
	}
	return Outcome{
		Location: s.localizedPage(page, locale),
		Success:  ok,
	}
}

func (s *Service) authorize(
	ctx context.Context,
	identityKey string,
	code string,
) bool {
	if identityKey == "" || code == "" {
		s.logger.Warn("authorization callback missing parameters", "identity", identityKey)
		return false
	}

	c, err := s.credentials.Resolve(ctx, identityKey)
	if errors.Is(err, credentials.ErrNotFound) {
		if _, err := s.credentials.Issue(ctx, code, identityKey); err != nil {
			s.logger.Warn("authorization failed", "identity", identityKey, "error", err)
			return false
		}
		return true
	}
	if err != nil {
		s.logger.Error("couldn't resolve credential", "identity", identityKey, "error", err)
		return false
	}

	// already registered: the stored tokens stay in charge
	if err := s.credentials.EnsureUsable(ctx, c); err != nil {
		s.logger.Warn("authorization failed", "identity", identityKey, "error", err)
		return false
	}
	return true
}

// splitState separates "it_IT/channel" into "it_IT/" and "channel". The
// locale keeps its trailing slash so it can be used as a path prefix.
func splitState(state string) (string, string) {
	i := strings.IndexByte(state, '/')
	if i < 0 {
		return "", ""
	}
	return state[:i+1], state[i+1:]
}

func (s *Service) localizedPage(page string, locale string) string {
	localized := fmt.Sprintf("/static/%s%s", strings.ToLower(locale), page)
	if locale != "" && s.pages != nil && s.pages.Exists(localized) {
		return localized
	}
	return "/static/" + page
}
