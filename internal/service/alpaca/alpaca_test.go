package alpaca

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AutoTrader/internal/domain/models"
	domrepo "AutoTrader/internal/domain/repository"
	"AutoTrader/pkg/cache"
	"AutoTrader/pkg/config"
)

var testNow = time.Date(2024, 1, 9, 15, 0, 0, 0, time.UTC)

func testConfig(url string) config.AlpacaConfig {
	return config.AlpacaConfig{
		APIKey:     "key",
		APISecret:  "secret",
		TradingURL: url,
		DataURL:    url,
		Timeout:    2 * time.Second,
		MaxRetries: 3,
		RateBurst:  100,
	}
}

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(testConfig(srv.URL), WithClock(func() time.Time { return testNow }))
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestBrokerAccountAndPositions(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/account", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("APCA-API-KEY-ID"))
		assert.Equal(t, "secret", r.Header.Get("APCA-API-SECRET-KEY"))
		_, _ = w.Write([]byte(`{"buying_power":"25000.50","equity":"30000","cash":"10000","portfolio_value":"30000"}`))
	})
	mux.HandleFunc("/v2/positions", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"symbol":"AAPL","qty":"10","avg_entry_price":"100.5","current_price":"103.25"}]`))
	})
	b := NewBroker(newTestClient(t, mux))

	acct, err := b.Account(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 25000.50, acct.BuyingPower, 1e-9)
	assert.InDelta(t, 30000, acct.Equity, 1e-9)

	pos, err := b.Positions(context.Background())
	require.NoError(t, err)
	require.Len(t, pos, 1)
	assert.Equal(t, models.Position{Symbol: "AAPL", Qty: 10, AvgEntryPrice: 100.5, CurrentPrice: 103.25}, pos[0])
}

func TestBrokerSubmitOrderIsNotRetried(t *testing.T) {
	var calls int32
	var body orderBody
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v2/orders", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	_, err := NewBroker(c).SubmitOrder(context.Background(), models.MarketOrder("AAPL", 5, models.SideBuy))
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, orderBody{Symbol: "AAPL", Qty: "5", Side: "buy", Type: "market", TimeInForce: "day"}, body)
}

func TestBrokerSubmitOrder(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"o-1","symbol":"AAPL","qty":"5","side":"buy","status":"filled","filled_avg_price":"101.25","submitted_at":"2024-01-09T15:00:00Z"}`))
	}))
	o, err := NewBroker(c).SubmitOrder(context.Background(), models.MarketOrder("AAPL", 5, models.SideBuy))
	require.NoError(t, err)
	assert.Equal(t, "o-1", o.ID)
	assert.Equal(t, models.SideBuy, o.Side)
	assert.InDelta(t, 101.25, o.FilledAvgPrice, 1e-9)
}

func TestClientRetriesTransientFailures(t *testing.T) {
	var calls int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"buying_power":"1"}`))
	}))

	acct, err := NewBroker(c).Account(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1.0, acct.BuyingPower)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusForbidden)
	}))

	_, err := NewBroker(c).Account(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestLatestBarsOldestFirstAcrossPages(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/stocks/AAPL/bars", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "1Min", q.Get("timeframe"))
		assert.Equal(t, "desc", q.Get("sort"))
		if q.Get("page_token") == "" {
			assert.Equal(t, "3", q.Get("limit"))
			_, _ = w.Write([]byte(`{"bars":[
				{"t":"2024-01-09T14:59:00Z","o":1,"h":1,"l":1,"c":103,"v":10},
				{"t":"2024-01-09T14:58:00Z","o":1,"h":1,"l":1,"c":102,"v":10}],
				"next_page_token":"p2"}`))
			return
		}
		assert.Equal(t, "1", q.Get("limit"))
		_, _ = w.Write([]byte(`{"bars":[{"t":"2024-01-09T14:57:00Z","o":1,"h":1,"l":1,"c":101,"v":10}],"next_page_token":null}`))
	}))

	bars, err := NewMarketData(c).LatestBars(context.Background(), "AAPL", 3, domrepo.TF1m)
	require.NoError(t, err)
	require.Len(t, bars, 3)
	assert.Equal(t, []float64{101, 102, 103}, []float64{bars[0].Close, bars[1].Close, bars[2].Close})
	assert.True(t, bars[0].Time.Before(bars[2].Time))
}

func TestLatestBarsRejectsUnknownTimeframe(t *testing.T) {
	c := newTestClient(t, http.NotFoundHandler())
	_, err := NewMarketData(c).LatestBars(context.Background(), "AAPL", 3, domrepo.Timeframe("2Min"))
	assert.Error(t, err)
}

func TestScreenerCachesResult(t *testing.T) {
	var calls int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "volume", r.URL.Query().Get("by"))
		_, _ = w.Write([]byte(`{"most_actives":[{"symbol":"nvda"},{"symbol":"TSLA"},{"symbol":"NVDA"}]}`))
	}))
	s := NewScreener(c, cache.NewMemoryCache(), 20, time.Minute)

	for i := 0; i < 2; i++ {
		got, err := s.Candidates(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{"NVDA", "TSLA"}, got)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestScreenerFallsBack(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	got, err := NewScreener(c, nil, 20, time.Minute).Candidates(context.Background())
	require.NoError(t, err)
	assert.Equal(t, FallbackSymbols, got)
}

func TestNewsHeadlinesCached(t *testing.T) {
	var calls int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "AAPL", r.URL.Query().Get("symbols"))
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`{"news":[{"id":7,"headline":"Apple beats","summary":"s","created_at":"2024-01-09T14:00:00Z","symbols":["AAPL"]}]}`))
	}))
	src := NewCachedHeadlines(NewNews(c), cache.NewMemoryCache(), time.Minute)

	for i := 0; i < 2; i++ {
		hs, err := src.Headlines(context.Background(), "aapl", 2)
		require.NoError(t, err)
		require.Len(t, hs, 1)
		assert.Equal(t, "7", hs[0].ID)
		assert.Equal(t, "AAPL", hs[0].Symbol)
		assert.Equal(t, "Apple beats", hs[0].Headline)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestDecodeTradeUpdate(t *testing.T) {
	u, ok, err := decodeTradeUpdate([]byte(`{"stream":"trade_updates","data":{"event":"fill","price":"101.5","qty":"5",
		"timestamp":"2024-01-09T15:00:01Z","order":{"id":"o-1","symbol":"AAPL","side":"buy"}}}`))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.TradeUpdate{
		Event: "fill", OrderID: "o-1", Symbol: "AAPL", Side: models.SideBuy, Qty: 5, Price: 101.5,
		Timestamp: time.Date(2024, 1, 9, 15, 0, 1, 0, time.UTC),
	}, u)

	_, ok, err = decodeTradeUpdate([]byte(`{"stream":"listening","data":{"streams":["trade_updates"]}}`))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTradeUpdateStream(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var auth map[string]interface{}
		if conn.ReadJSON(&auth) != nil || auth["action"] != "authenticate" {
			return
		}
		_ = conn.WriteJSON(map[string]interface{}{"stream": "authorization", "data": map[string]string{"status": "authorized", "action": "authenticate"}})
		var listen map[string]interface{}
		if conn.ReadJSON(&listen) != nil {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"stream":"trade_updates","data":{"event":"fill","price":"10","qty":"1","order":{"id":"o-9","symbol":"MSFT","side":"sell"}}}`))
		// hold the connection until the client goes away
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.StreamURL = "ws" + strings.TrimPrefix(srv.URL, "http")
	cfg.ReconnectDelay = 10 * time.Millisecond
	stream := NewTradeUpdateStream(cfg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var (
		mu  sync.Mutex
		got []models.TradeUpdate
	)
	done := make(chan error, 1)
	go func() {
		done <- stream.Run(ctx, func(u models.TradeUpdate) {
			mu.Lock()
			got = append(got, u)
			mu.Unlock()
			cancel()
		})
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(6 * time.Second):
		t.Fatal("stream did not stop")
	}
	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, got)
	assert.Equal(t, "o-9", got[0].OrderID)
	assert.Equal(t, models.SideSell, got[0].Side)
	assert.False(t, stream.IsConnected())
}
