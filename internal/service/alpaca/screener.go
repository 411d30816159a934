package alpaca

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"

	domrepo "AutoTrader/internal/domain/repository"
	"AutoTrader/pkg/cache"
	applogger "AutoTrader/pkg/logger"
)

// FallbackSymbols is a liquid universe used when discovery fails.
var FallbackSymbols = []string{
	"SPY", "QQQ", "IWM",
	"AAPL", "MSFT", "NVDA", "GOOGL", "AMZN",
	"TSLA", "META", "PLTR", "AMD",
	"JPM", "BAC", "WFC",
	"XOM", "CVX",
}

type mostActivesDTO struct {
	MostActives []struct {
		Symbol string  `json:"symbol"`
		Volume float64 `json:"volume"`
	} `json:"most_actives"`
}

// Screener discovers the most active symbols by volume. Results are cached
// for ttl; a failed lookup falls back to FallbackSymbols without caching.
type Screener struct {
	c     *Client
	cache cache.Store
	top   int
	ttl   time.Duration
	l     *applogger.Logger
}

func NewScreener(c *Client, store cache.Store, top int, ttl time.Duration) *Screener {
	if store == nil {
		store = cache.NewMemoryCache(cache.WithMemoryMaxSize(8))
	}
	if top <= 0 {
		top = 20
	}
	return &Screener{c: c, cache: store, top: top, ttl: ttl, l: c.l.Component("screener")}
}

func (s *Screener) key() string { return "screener:most-actives:" + strconv.Itoa(s.top) }

func (s *Screener) Candidates(ctx context.Context) ([]string, error) {
	var cached []string
	if err := s.cache.Get(ctx, s.key(), &cached); err == nil && len(cached) > 0 {
		return cached, nil
	}

	symbols, err := s.mostActive(ctx)
	if err != nil || len(symbols) == 0 {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err == nil {
			err = errors.New("empty screener result")
		}
		s.l.Warn("screener unavailable, using fallback list",
			applogger.Int("fallback", len(FallbackSymbols)),
			applogger.Error(err))
		return append([]string(nil), FallbackSymbols...), nil
	}

	if err := s.cache.Set(ctx, s.key(), symbols, s.ttl); err != nil {
		s.l.Warn("screener cache write failed", applogger.Error(err))
	}
	s.l.Info("screener discovered symbols", applogger.Int("count", len(symbols)))
	return symbols, nil
}

func (s *Screener) mostActive(ctx context.Context) ([]string, error) {
	q := url.Values{}
	q.Set("top", strconv.Itoa(s.top))
	q.Set("by", "volume")

	var resp mostActivesDTO
	if err := s.c.getData(ctx, "/v1beta1/screener/stocks/most-actives", q, &resp); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(resp.MostActives))
	seen := make(map[string]struct{}, len(resp.MostActives))
	for _, m := range resp.MostActives {
		sym := strings.ToUpper(strings.TrimSpace(m.Symbol))
		if sym == "" {
			continue
		}
		if _, dup := seen[sym]; dup {
			continue
		}
		seen[sym] = struct{}{}
		out = append(out, sym)
		if len(out) == s.top {
			break
		}
	}
	return out, nil
}

var _ domrepo.CandidateSource = (*Screener)(nil)
