package alpaca

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"AutoTrader/pkg/config"
	pkghttp "AutoTrader/pkg/http"
	applogger "AutoTrader/pkg/logger"
)

// Client talks to the Alpaca trading and market-data REST APIs. Each host
// gets its own rate limiter.
type Client struct {
	trading *pkghttp.Client
	orders  *pkghttp.Client // no retries
	data    *pkghttp.Client

	tradingURL string
	dataURL    string
	headers    map[string]string
	now        func() time.Time
	l          *applogger.Logger
}

type Option func(*Client)

func WithLogger(l *applogger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.l = l.Component("alpaca")
		}
	}
}

// WithClock overrides the clock used to compute bar windows.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

func NewClient(cfg config.AlpacaConfig, opts ...Option) *Client {
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	tradingLimit := rate.NewLimiter(limit, max(cfg.RateBurst, 1))
	dataLimit := rate.NewLimiter(limit, max(cfg.RateBurst, 1))
	newHTTP := func(l *rate.Limiter, retries uint64) *pkghttp.Client {
		return pkghttp.NewClient(
			pkghttp.WithTimeout(cfg.Timeout),
			pkghttp.WithLimiter(l),
			pkghttp.WithRetries(retries, 4*cfg.Timeout),
		)
	}
	c := &Client{
		trading:    newHTTP(tradingLimit, cfg.MaxRetries),
		orders:     newHTTP(tradingLimit, 0),
		data:       newHTTP(dataLimit, cfg.MaxRetries),
		tradingURL: strings.TrimRight(cfg.TradingURL, "/"),
		dataURL:    strings.TrimRight(cfg.DataURL, "/"),
		headers: map[string]string{
			"APCA-API-KEY-ID":     cfg.APIKey,
			"APCA-API-SECRET-KEY": cfg.APISecret,
			"Accept":              "application/json",
		},
		now: time.Now,
		l:   applogger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) getTrading(ctx context.Context, path string, dest interface{}) error {
	return c.do(ctx, c.trading, pkghttp.MethodGet, c.tradingURL+path, nil, nil, dest)
}

func (c *Client) getData(ctx context.Context, path string, q url.Values, dest interface{}) error {
	return c.do(ctx, c.data, pkghttp.MethodGet, c.dataURL+path, q, nil, dest)
}

func (c *Client) do(ctx context.Context, hc *pkghttp.Client, method, u string, q url.Values, body, dest interface{}) error {
	start := time.Now()
	err := hc.Do(ctx, &pkghttp.Request{
		Method: method,
		URL:    u,
		Header: c.headers,
		Query:  q,
		Body:   body,
	}, dest)
	if err != nil {
		c.l.Warn("alpaca request failed",
			applogger.String("method", method),
			applogger.String("url", u),
			applogger.Duration("elapsed", time.Since(start)),
			applogger.Error(err))
		return fmt.Errorf("alpaca %s %s: %w", method, u, err)
	}
	c.l.Debug("alpaca request ok",
		applogger.String("method", method),
		applogger.String("url", u),
		applogger.Duration("elapsed", time.Since(start)))
	return nil
}

// num parses Alpaca's string-encoded decimals; empty and null are zero.
type num float64

func (n *num) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("parse number %q: %w", s, err)
	}
	*n = num(v)
	return nil
}
