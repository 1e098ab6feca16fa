package request

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Observer is notified after a call sequence ran out of attempts.
// Implementations must return promptly.
type Observer interface {
	Exhausted(ctx context.Context, req Request, f Failure)
}

const mirrorTimeout = 2 * time.Second

// secretParams never leave the process in clear when mirrored.
var secretParams = map[string]bool{
	"client_secret": true,
	"refresh_token": true,
	"access_token":  true,
	"code":          true,
}

const redacted = "REDACTED"

func redactParams(params Params) Params {
	out := make(Params, len(params))
	for i, p := range params {
		if secretParams[p.Key] {
			p.Value = redacted
		}
		out[i] = p
	}
	return out
}

// Mirror re-posts exhausted requests to a debug host so they can be inspected
// there. "https://api.example.com/v1/x" is mirrored to "<host>/api.example.com/v1/x".
// Authorization headers are dropped and secret params are redacted.
type Mirror struct {
	host   string
	client *http.Client
	logger *slog.Logger
}

func NewMirror(host string, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{
		host:   strings.TrimSuffix(host, "/") + "/",
		client: &http.Client{Timeout: mirrorTimeout},
		logger: logger,
	}
}

func (m *Mirror) target(rawURL string) string {
	rest := rawURL
	if i := strings.Index(rawURL, "//"); i >= 0 {
		rest = rawURL[i+2:]
	}
	return m.host + rest
}

func (m *Mirror) Exhausted(
	ctx context.Context,
	req Request,
	_ Failure,
) {
	req.Params = redactParams(req.Params)
	body, err := req.encode()
	if err != nil {
		return
	}

	target := m.target(req.URL)
	httpReq, err := http.NewRequestWithContext(
		context.WithoutCancel(ctx),
		http.MethodPost,
		target,
		bytes.NewReader(body),
	)
	if err != nil {
		m.logger.Debug("mirror request rejected", "target", target, "error", err)
		return
	}
	httpReq.Header.Set("Content-Type", req.Encoding.contentType())
	for _, h := range req.Headers {
		if strings.EqualFold(h.Key, "Authorization") {
			continue
		}
		httpReq.Header.Set(h.Key, h.Value)
	}

	res, err := m.client.Do(httpReq)
	if err != nil {
		m.logger.Debug("mirror request failed", "target", target, "error", err)
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, maxResponseBodyBytes))
	_ = res.Body.Close()
	m.logger.Debug("mirrored request", "target", target, "status", res.StatusCode)
}
