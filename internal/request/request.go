// Package request implements outbound POST requests against third-party
// services that fail transiently, retrying a bounded number of times with
// timeouts that grow with every attempt.
package request

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	ErrTransport        = errors.New("transport failure")
	ErrMalformedRequest = errors.New("malformed request")
)

// Encoding selects how request params are written into the body.
type Encoding int

const (
	EncodingForm Encoding = iota
	EncodingJSON
)

func (e Encoding) contentType() string {
	if e == EncodingJSON {
		return "application/json"
	}
	return "application/x-www-form-urlencoded"
}

// Param is a single key-value pair. Params keep the order they are added in.
type Param struct {
	Key   string
	Value string
}

type Params []Param

func (p Params) Add(key, value string) Params {
	return append(p, Param{Key: key, Value: value})
}

// Request describes one logical outbound call. The attempt counter and the
// per-attempt timeouts live in the Client, not here.
type Request struct {
	URL      string
	Params   Params
	Encoding Encoding
	Headers  Params
}

// Poster is what consumers of the Client depend on.
type Poster interface {
	Post(ctx context.Context, req Request) (string, error)
}

func (r Request) validate() error {
	u, err := url.Parse(r.URL)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host in %q", r.URL)
	}
	for _, h := range r.Headers {
		if strings.TrimSpace(h.Key) == "" {
			return fmt.Errorf("empty header name")
		}
	}
	return nil
}

func (r Request) encode() ([]byte, error) {
	switch r.Encoding {
	case EncodingForm:
		return encodeForm(r.Params), nil
	case EncodingJSON:
		return encodeJSON(r.Params)
	default:
		return nil, fmt.Errorf("unknown encoding %d", r.Encoding)
	}
}

func encodeForm(params Params) []byte {
	var buf bytes.Buffer
	for i, p := range params {
		if i > 0 {
			buf.WriteByte('&')
		}
		buf.WriteString(url.QueryEscape(p.Key))
		buf.WriteByte('=')
		buf.WriteString(url.QueryEscape(p.Value))
	}
	return buf.Bytes()
}

// encodeJSON writes a flat object in param order. A repeated key keeps its
// first position and takes the last value.
func encodeJSON(params Params) ([]byte, error) {
	keys := make([]string, 0, len(params))
	values := make(map[string]string, len(params))
	for _, p := range params {
		if _, seen := values[p.Key]; !seen {
			keys = append(keys, p.Key)
		}
		values[p.Key] = p.Value
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(values[key])
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
