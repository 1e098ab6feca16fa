package request

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second

	maxResponseBodyBytes int64 = 1 << 20
)

// Failure describes the last failed attempt of an exhausted call sequence.
// Err is set for transport failures; StatusCode and Body otherwise.
type Failure struct {
	Attempts   int
	StatusCode int
	Body       string
	Err        error
}

// Client posts requests with bounded retries. Attempt n uses a connect
// timeout of baseDelay*n and a read timeout three times that.
type Client struct {
	transport   Transport
	maxAttempts int
	baseDelay   time.Duration
	observers   []Observer
	logger      *slog.Logger
}

type Option func(*Client)

func WithTransport(t Transport) Option {
	return func(c *Client) { c.transport = t }
}

// WithMaxAttempts lowers the number of attempts per request. Values outside
// 1..DefaultMaxAttempts are clamped.
func WithMaxAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxAttempts = min(n, DefaultMaxAttempts)
		}
	}
}

func WithBaseDelay(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.baseDelay = d
		}
	}
}

func WithObserver(o Observer) Option {
	return func(c *Client) {
		if o != nil {
			c.observers = append(c.observers, o)
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

func New(opts ...Option) *Client {
	c := &Client{
		transport:   HTTPTransport{},
		maxAttempts: DefaultMaxAttempts,
		baseDelay:   DefaultBaseDelay,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Post returns the body of the first successful response.
//
// When every attempt fails, the outcome depends on the last attempt: an error
// status yields an empty body and a nil error, a transport failure yields
// [ErrTransport]. A request that cannot be built yields [ErrMalformedRequest]
// without any attempt being made.
func (c *Client) Post(
	ctx context.Context,
	req Request,
) (
	string,
	error,
) {
	if err := req.validate(); err != nil {
		c.logger.Error("request rejected", "url", req.URL, "error", err)
		return "", fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	body, err := req.encode()
	if err != nil {
		c.logger.Error("request rejected", "url", req.URL, "error", err)
		return "", fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}

	last := Failure{}
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		timeouts := timeoutsFor(c.baseDelay, attempt)
		started := time.Now()
		last.Attempts = attempt

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(body))
		if err != nil {
			c.logger.Error("request rejected", "url", req.URL, "error", err)
			return "", fmt.Errorf("%w: %v", ErrMalformedRequest, err)
		}
		httpReq.Header.Set("Content-Type", req.Encoding.contentType())
		for _, h := range req.Headers {
			httpReq.Header.Set(h.Key, h.Value)
		}

		c.logger.Debug("request attempt", "url", req.URL, "attempt", attempt)
		status, respBody, err := c.exchange(httpReq, timeouts)
		if err != nil {
			last.StatusCode, last.Body, last.Err = 0, "", err
			c.logger.Debug("request transport failure", "url", req.URL, "attempt", attempt, "error", err)
			if ctx.Err() != nil || attempt == c.maxAttempts {
				break
			}
			if !c.pause(ctx, timeouts, time.Since(started)) {
				break
			}
			continue
		}
		if !isError(status) {
			return respBody, nil
		}
		last.StatusCode, last.Body, last.Err = status, respBody, nil
		c.logger.Debug("request error status", "url", req.URL, "attempt", attempt, "status", status)
	}

	c.exhausted(ctx, req, last)
	if last.Err != nil {
		return "", fmt.Errorf("%w: %v", ErrTransport, last.Err)
	}
	return "", nil
}

func (c *Client) exchange(
	req *http.Request,
	timeouts Timeouts,
) (
	int,
	string,
	error,
) {
	res, err := c.transport.Do(req, timeouts)
	if err != nil {
		return 0, "", err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBodyBytes))
	if err != nil {
		return 0, "", fmt.Errorf("couldn't read response body: %v", err)
	}
	return res.StatusCode, string(body), nil
}

// pause sleeps for the attempt's connect timeout, capped so that the attempt
// and its pause together stay within the attempt's read timeout.
func (c *Client) pause(
	ctx context.Context,
	timeouts Timeouts,
	elapsed time.Duration,
) bool {
	d := timeouts.Connect
	if remaining := timeouts.Read - elapsed; remaining < d {
		d = remaining
	}
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Client) exhausted(
	ctx context.Context,
	req Request,
	f Failure,
) {
	c.logger.Warn("request exhausted",
		"url", req.URL,
		"attempts", f.Attempts,
		"status", f.StatusCode,
		"body", f.Body,
		"error", f.Err,
	)
	for _, o := range c.observers {
		c.notify(ctx, o, req, f)
	}
}

func (c *Client) notify(
	ctx context.Context,
	o Observer,
	req Request,
	f Failure,
) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("request observer panicked", "url", req.URL, "panic", r)
		}
	}()
	o.Exhausted(ctx, req, f)
}

func isError(statusCode int) bool {
	return statusCode >= http.StatusBadRequest
}
