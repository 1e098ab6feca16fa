package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

func (a *API) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/pairing", a.Pairing()).Methods(http.MethodPost)
	r.HandleFunc("/pairing/{identityKey}", a.PairingStatus()).Methods(http.MethodGet)

	// the legacy redirect URI is still registered with the provider
	r.HandleFunc("/oauth_callback", a.OAuthCallback()).Methods(http.MethodGet)
	r.HandleFunc("/oauth2callback", a.OAuthCallback()).Methods(http.MethodGet)

	static := http.StripPrefix("/static/", http.FileServer(http.Dir(a.staticDir)))
	r.PathPrefix("/static/").
		Handler(static).
		Methods(http.MethodGet, http.MethodHead)

	return r
}
