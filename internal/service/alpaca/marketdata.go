package alpaca

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"AutoTrader/internal/domain/models"
	domrepo "AutoTrader/internal/domain/repository"
)

const maxBarsPerPage = 10000

type barDTO struct {
	T time.Time `json:"t"`
	O float64   `json:"o"`
	H float64   `json:"h"`
	L float64   `json:"l"`
	C float64   `json:"c"`
	V float64   `json:"v"`
}

type barsPage struct {
	Bars          []barDTO `json:"bars"`
	NextPageToken *string  `json:"next_page_token"`
}

// MarketData serves historical bars from the Alpaca data API.
type MarketData struct {
	c    *Client
	feed string
}

func NewMarketData(c *Client) *MarketData { return &MarketData{c: c, feed: "iex"} }

// LatestBars returns the n most recent bars, oldest first.
func (m *MarketData) LatestBars(ctx context.Context, symbol string, n int, tf domrepo.Timeframe) ([]models.Bar, error) {
	if n <= 0 {
		return nil, nil
	}
	if !domrepo.IsValidTimeframe(tf) {
		return nil, fmt.Errorf("unsupported timeframe %q", tf)
	}

	now := m.c.now().UTC()
	q := url.Values{}
	q.Set("timeframe", string(tf))
	q.Set("start", now.Add(-lookbackWindow(n, tf)).Format(time.RFC3339))
	q.Set("end", now.Format(time.RFC3339))
	q.Set("sort", "desc")
	q.Set("feed", m.feed)

	newest := make([]models.Bar, 0, n)
	for len(newest) < n {
		q.Set("limit", strconv.Itoa(min(n-len(newest), maxBarsPerPage)))
		var page barsPage
		if err := m.c.getData(ctx, "/v2/stocks/"+url.PathEscape(symbol)+"/bars", q, &page); err != nil {
			return nil, err
		}
		for _, b := range page.Bars {
			newest = append(newest, models.Bar{Time: b.T, Open: b.O, High: b.H, Low: b.L, Close: b.C, Volume: b.V})
		}
		if page.NextPageToken == nil || *page.NextPageToken == "" || len(page.Bars) == 0 {
			break
		}
		q.Set("page_token", *page.NextPageToken)
	}
	if len(newest) > n {
		newest = newest[:n]
	}

	for i, j := 0, len(newest)-1; i < j; i, j = i+1, j-1 {
		newest[i], newest[j] = newest[j], newest[i]
	}
	return newest, nil
}

// lookbackWindow is wide enough to cover n bars across nights, weekends and
// holidays.
func lookbackWindow(n int, tf domrepo.Timeframe) time.Duration {
	var step time.Duration
	switch tf {
	case domrepo.TF1m:
		step = time.Minute
	case domrepo.TF5m:
		step = 5 * time.Minute
	case domrepo.TF15m:
		step = 15 * time.Minute
	case domrepo.TF1h:
		step = time.Hour
	default:
		return time.Duration(n*2+10) * 24 * time.Hour
	}
	// a regular session is 6.5h of a 24h day
	w := time.Duration(float64(step) * float64(n) * 24 / 6.5)
	return w + 5*24*time.Hour
}

var _ domrepo.MarketData = (*MarketData)(nil)
