package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

const (
	MethodGet  = http.MethodGet
	MethodPost = http.MethodPost
)

// Request describes one outgoing call. A non-nil Body that is not a []byte,
// string or io.Reader is sent as JSON.
type Request struct {
	Method string
	URL    string
	Header map[string]string
	Query  url.Values
	Body   interface{}
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the same request may succeed later.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

var errDecode = errors.New("decode response")

type ClientOption func(*Client)

// Client wraps *http.Client with a shared rate limiter and backoff retries
// for transport errors, 429 and 5xx.
type Client struct {
	hc         *http.Client
	timeout    time.Duration
	limiter    *rate.Limiter
	retries    uint64
	maxElapsed time.Duration
	initial    time.Duration
}

func NewClient(opts ...ClientOption) *Client {
	c := &Client{timeout: 30 * time.Second, maxElapsed: 30 * time.Second, initial: 200 * time.Millisecond}
	for _, opt := range opts {
		opt(c)
	}
	if c.hc == nil {
		c.hc = &http.Client{Timeout: c.timeout}
	}
	return c
}

func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLimiter shares one limiter between clients calling the same host.
func WithLimiter(l *rate.Limiter) ClientOption {
	return func(c *Client) { c.limiter = l }
}

// WithRetries retries transient failures up to n times within maxElapsed.
func WithRetries(n uint64, maxElapsed time.Duration) ClientOption {
	return func(c *Client) {
		c.retries = n
		if maxElapsed > 0 {
			c.maxElapsed = maxElapsed
		}
	}
}

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.hc = hc }
}

// Do sends req and decodes a 2xx body into dest. dest may be nil, *[]byte,
// an io.Writer or any JSON target.
func (c *Client) Do(ctx context.Context, req *Request, dest interface{}) error {
	if c.retries == 0 {
		return c.once(ctx, req, dest)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initial
	b.MaxElapsedTime = c.maxElapsed
	return backoff.Retry(func() error {
		err := c.once(ctx, req, dest)
		var se *StatusError
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || errors.Is(err, errDecode) || (errors.As(err, &se) && !se.Retryable()) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, c.retries), ctx))
}

func (c *Client) once(ctx context.Context, req *Request, dest interface{}) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit: %w", err)
		}
	}
	hr, err := newHTTPRequest(ctx, req)
	if err != nil {
		return err
	}
	resp, err := c.hc.Do(hr)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	switch v := dest.(type) {
	case nil:
		return nil
	case *[]byte:
		*v, err = io.ReadAll(resp.Body)
	case io.Writer:
		_, err = io.Copy(v, resp.Body)
	default:
		if derr := json.NewDecoder(resp.Body).Decode(dest); derr != nil {
			return fmt.Errorf("%w: %v", errDecode, derr)
		}
	}
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	return nil
}

func newHTTPRequest(ctx context.Context, req *Request) (*http.Request, error) {
	var body io.Reader
	switch v := req.Body.(type) {
	case nil:
	case []byte:
		body = bytes.NewReader(v)
	case string:
		body = strings.NewReader(v)
	case io.Reader:
		body = v
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	hr, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	if len(req.Query) > 0 {
		q := hr.URL.Query()
		for k, vs := range req.Query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		hr.URL.RawQuery = q.Encode()
	}
	for k, v := range req.Header {
		hr.Header.Set(k, v)
	}
	if body != nil && hr.Header.Get("Content-Type") == "" {
		hr.Header.Set("Content-Type", "application/json")
	}
	return hr, nil
}
