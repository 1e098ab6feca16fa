package api

import (
	"net/http"
)

func (a *API) OAuthCallback() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		outcome := a.service.Authorize(
			r.Context(),
			query.Get("state"),
			query.Get("code"),
		)
		if !outcome.Success {
			a.logger.Info("authorization callback failed", "path", r.URL.Path)
		}
		http.Redirect(w, r, outcome.Location, http.StatusTemporaryRedirect)
	}
}
