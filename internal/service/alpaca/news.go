package alpaca

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"AutoTrader/internal/domain/models"
	"AutoTrader/internal/domain/service"
	"AutoTrader/pkg/cache"
)

type newsDTO struct {
	News []struct {
		ID        int64     `json:"id"`
		Headline  string    `json:"headline"`
		Summary   string    `json:"summary"`
		CreatedAt time.Time `json:"created_at"`
		Symbols   []string  `json:"symbols"`
	} `json:"news"`
}

// News reads recent headlines from the Alpaca news API.
type News struct {
	c *Client
}

func NewNews(c *Client) *News { return &News{c: c} }

// Headlines returns up to limit headlines for symbol, newest first.
func (n *News) Headlines(ctx context.Context, symbol string, limit int) ([]models.Headline, error) {
	q := url.Values{}
	q.Set("symbols", strings.ToUpper(symbol))
	q.Set("limit", strconv.Itoa(max(limit, 1)))
	q.Set("sort", "desc")

	var resp newsDTO
	if err := n.c.getData(ctx, "/v1beta1/news", q, &resp); err != nil {
		return nil, err
	}
	out := make([]models.Headline, 0, len(resp.News))
	for _, a := range resp.News {
		out = append(out, models.Headline{
			ID:        strconv.FormatInt(a.ID, 10),
			Symbol:    strings.ToUpper(symbol),
			Headline:  a.Headline,
			Summary:   a.Summary,
			CreatedAt: a.CreatedAt,
		})
	}
	return out, nil
}

// CachedHeadlines memoizes a HeadlineSource per (symbol, limit) so every
// trade tick does not hit the news API.
type CachedHeadlines struct {
	src   service.HeadlineSource
	cache cache.Store
	ttl   time.Duration
}

func NewCachedHeadlines(src service.HeadlineSource, c cache.Store, ttl time.Duration) *CachedHeadlines {
	return &CachedHeadlines{src: src, cache: c, ttl: ttl}
}

func (h *CachedHeadlines) Headlines(ctx context.Context, symbol string, limit int) ([]models.Headline, error) {
	key := cache.Key("news", strings.ToUpper(symbol), limit)
	return cache.GetOrLoad(ctx, h.cache, key, h.ttl, func(ctx context.Context) ([]models.Headline, error) {
		return h.src.Headlines(ctx, symbol, limit)
	})
}

var (
	_ service.HeadlineSource = (*News)(nil)
	_ service.HeadlineSource = (*CachedHeadlines)(nil)
)
