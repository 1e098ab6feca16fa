// Package api exposes the pairing relay over HTTP.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"git.sr.ht/~jakintosh/whatshare/internal/service"
)

type API struct {
	service   *service.Service
	staticDir string
	logger    *slog.Logger
}

func New(
	svc *service.Service,
	staticDir string,
	logger *slog.Logger,
) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		service:   svc,
		staticDir: staticDir,
		logger:    logger,
	}
}

const maxRequestBodyBytes = 64 << 10

func decodeRequest[T any](
	a *API,
	req *T,
	w http.ResponseWriter,
	r *http.Request,
) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		a.logApiErr(r, "bad json request", err)
		w.WriteHeader(http.StatusBadRequest)
		return false
	}
	return true
}

func returnText(
	text string,
	w http.ResponseWriter,
) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(text))
}

func (a *API) logApiErr(
	r *http.Request,
	msg string,
	err error,
) {
	a.logger.Warn(msg, "method", r.Method, "path", r.URL.Path, "error", err)
}
