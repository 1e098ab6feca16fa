package request

import (
	"net"
	"net/http"
	"time"
)

// Timeouts apply to a single attempt. Read bounds the whole exchange,
// including reading the response body.
type Timeouts struct {
	Connect time.Duration
	Read    time.Duration
}

func timeoutsFor(base time.Duration, attempt int) Timeouts {
	connect := base * time.Duration(attempt)
	return Timeouts{
		Connect: connect,
		Read:    3 * connect,
	}
}

// Transport executes one HTTP exchange with the given timeouts.
type Transport interface {
	Do(req *http.Request, timeouts Timeouts) (*http.Response, error)
}

// HTTPTransport builds a fresh net/http client per attempt so every attempt
// dials with its own connect timeout.
type HTTPTransport struct{}

func (HTTPTransport) Do(
	req *http.Request,
	timeouts Timeouts,
) (
	*http.Response,
	error,
) {
	dialer := &net.Dialer{Timeout: timeouts.Connect}
	client := &http.Client{
		Timeout: timeouts.Read,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DialContext:         dialer.DialContext,
			TLSHandshakeTimeout: timeouts.Connect,
			DisableKeepAlives:   true,
		},
	}
	return client.Do(req)
}
