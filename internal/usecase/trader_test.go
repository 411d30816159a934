package usecase

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"AutoTrader/internal/domain/models"
	domrepo "AutoTrader/internal/domain/repository"
	domsvc "AutoTrader/internal/domain/service"
	"AutoTrader/internal/services/classifier"
	"AutoTrader/pkg/config"
)

type mockBroker struct{ mock.Mock }

func (m *mockBroker) Account(ctx context.Context) (models.Account, error) {
	args := m.Called(ctx)
	return args.Get(0).(models.Account), args.Error(1)
}

func (m *mockBroker) Positions(ctx context.Context) ([]models.Position, error) {
	args := m.Called(ctx)
	return args.Get(0).([]models.Position), args.Error(1)
}

func (m *mockBroker) SubmitOrder(ctx context.Context, req models.OrderRequest) (models.Order, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(models.Order), args.Error(1)
}

type mockMarketData struct{ mock.Mock }

func (m *mockMarketData) LatestBars(ctx context.Context, symbol string, n int, tf domrepo.Timeframe) ([]models.Bar, error) {
	args := m.Called(ctx, symbol, n, tf)
	return args.Get(0).([]models.Bar), args.Error(1)
}

type staticCandidates struct {
	symbols []string
	err     error
}

func (s staticCandidates) Candidates(context.Context) ([]string, error) { return s.symbols, s.err }

// plainFrames builds frames with no derived columns.
type plainFrames struct{}

func (plainFrames) Build(symbol string, bars []models.Bar) (*models.FeatureFrame, error) {
	f := models.NewFeatureFrame(symbol, bars)
	return f, f.Validate()
}

func (plainFrames) BuildLabeled(symbol string, bars []models.Bar) (*models.FeatureFrame, error) {
	f, err := plainFrames{}.Build(symbol, bars)
	if err != nil {
		return nil, err
	}
	return f, f.SetColumn("Target", make([]float64, len(bars)))
}

// memJournal is an in-memory TradeJournal partitioned by UTC date.
type memJournal struct {
	mu      sync.Mutex
	days    map[string][]models.Trade
	updates int
	failAll bool
}

func newMemJournal() *memJournal { return &memJournal{days: map[string][]models.Trade{}} }

func (j *memJournal) DateOf(t time.Time) string { return t.UTC().Format("2006-01-02") }

func (j *memJournal) Append(_ context.Context, t models.Trade) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.failAll {
		return errors.New("disk full")
	}
	d := j.DateOf(t.EntryTime)
	for i := range j.days[d] {
		if j.days[d][i].ID == t.ID {
			j.days[d][i] = t.Clone()
			return nil
		}
	}
	j.days[d] = append(j.days[d], t.Clone())
	return nil
}

func (j *memJournal) UpdateTrade(_ context.Context, date, id string, fn func(*models.Trade)) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.failAll {
		return errors.New("disk full")
	}
	for i := range j.days[date] {
		if j.days[date][i].ID == id {
			fn(&j.days[date][i])
			j.updates++
			return nil
		}
	}
	return domrepo.ErrTradeNotFound
}

func (j *memJournal) DailyTrades(date string) ([]models.Trade, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]models.Trade(nil), j.days[date]...), nil
}

func (j *memJournal) Query(context.Context, time.Time, time.Time, domrepo.TradeFilter) ([]models.Trade, error) {
	return nil, nil
}

func (j *memJournal) AvailableDates() ([]string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []string
	for d := range j.days {
		out = append(out, d)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(out)))
	return out, nil
}

func (j *memJournal) DailyStatistics(date string) (models.DailyStats, error) {
	return models.DailyStats{Date: date}, nil
}

func (j *memJournal) ExportCSV(context.Context, time.Time, time.Time, io.Writer) error { return nil }

type memSignals struct {
	saved []models.Signal
}

func (s *memSignals) Load(context.Context) ([]models.Signal, error) { return s.saved, nil }

func (s *memSignals) Save(_ context.Context, sig []models.Signal) error {
	s.saved = append([]models.Signal(nil), sig...)
	return nil
}

type recordingSink struct {
	mu     sync.Mutex
	opened []models.Trade
	closed []models.Trade
	recs   int
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) TradeOpened(_ context.Context, t models.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = append(s.opened, t)
	return nil
}

func (s *recordingSink) TradeClosed(_ context.Context, t models.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = append(s.closed, t)
	return nil
}

func (s *recordingSink) Recommendation(context.Context, models.Recommendation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs++
	return nil
}

// trainableStub counts training calls and returns a loaded successor.
type trainableStub struct {
	stubSpecialist
	loaded   bool
	trainErr error
	trained  *int
}

func (s *trainableStub) Loaded() bool { return s.loaded }

func (s *trainableStub) Train(context.Context, *models.FeatureFrame) (domsvc.Specialist, models.KnowledgeEntry, error) {
	if s.trainErr != nil {
		return nil, models.KnowledgeEntry{}, s.trainErr
	}
	*s.trained++
	next := *s
	next.loaded = true
	next.conf = 0.95
	return &next, models.KnowledgeEntry{Specialist: s.name, TestAccuracy: 0.7}, nil
}

func (s *trainableStub) Refresh() (domsvc.Specialist, error) {
	next := *s
	next.loaded = true
	return &next, nil
}

var tradeNow = time.Date(2024, 1, 9, 15, 0, 0, 0, time.UTC)

func traderConfig() *config.Config {
	cfg := config.Default()
	cfg.Trading.StopLossPct = 0.02
	cfg.Trading.TakeProfitPct = 0.04
	cfg.Trading.PositionSizePct = 50
	cfg.Trading.MaxOpenPositions = 3
	cfg.Trading.MaxPositionSize = 100
	cfg.Trading.LookbackBars = 3
	cfg.Trading.TradeHistory = 1000
	cfg.Trading.SignalHistory = 5000
	cfg.Trading.Strategy = "ml_ensemble"
	cfg.Ensemble = ensembleConfig()
	cfg.Training.Symbols = []string{"AAPL"}
	cfg.Training.Bars = 3
	return cfg
}

func threeBars(price float64) []models.Bar {
	return []models.Bar{
		{Time: tradeNow.Add(-2 * time.Minute), Close: price},
		{Time: tradeNow.Add(-time.Minute), Close: price},
		{Time: tradeNow, Close: price},
	}
}

type harness struct {
	cfg     *config.Config
	trader  *LiveTrader
	broker  *mockBroker
	market  *mockMarketData
	journal *memJournal
	sink    *recordingSink
	signals *memSignals
}

func newHarness(t *testing.T, cfg *config.Config, candidates []string, specialists ...domsvc.Specialist) *harness {
	t.Helper()
	if len(specialists) == 0 {
		specialists = []domsvc.Specialist{&stubSpecialist{name: "bull", signal: 1, conf: 0.9}}
	}
	h := &harness{
		broker:  &mockBroker{},
		market:  &mockMarketData{},
		journal: newMemJournal(),
		sink:    &recordingSink{},
		signals: &memSignals{},
	}
	tr, err := NewLiveTrader(cfg, TraderDeps{
		Broker:     h.broker,
		MarketData: h.market,
		Candidates: staticCandidates{symbols: candidates},
		Frames:     plainFrames{},
		Journal:    h.journal,
		Signals:    h.signals,
	}, NewEnsemble(specialists, cfg.Ensemble),
		WithTraderClock(func() time.Time { return tradeNow }),
		WithSinks(h.sink))
	require.NoError(t, err)
	h.trader = tr
	h.cfg = cfg
	return h
}

func TestPositionSize(t *testing.T) {
	assert.Equal(t, int64(200), PositionSize(10000, 50, 25))
	assert.Equal(t, int64(0), PositionSize(10000, 50, 20000))
	assert.Equal(t, int64(0), PositionSize(10000, 50, 0))
	assert.Equal(t, int64(33), PositionSize(1000, 10, 3))
}

func TestCanOpenPosition(t *testing.T) {
	cases := []struct {
		name      string
		positions []models.Position
		account   models.Account
		acctErr   error
		ok        bool
		reason    string
	}{
		{
			name:      "duplicate",
			positions: []models.Position{{Symbol: "AAPL", Qty: 10}},
			reason:    "already have open position",
		},
		{
			name:      "max open",
			positions: []models.Position{{Symbol: "A"}, {Symbol: "B"}, {Symbol: "C"}},
			reason:    "max open positions (3) reached",
		},
		{
			name:    "account unavailable",
			acctErr: errors.New("timeout"),
			reason:  "could not get account info",
		},
		{
			name:    "buying power",
			account: models.Account{BuyingPower: 9999.5},
			reason:  "insufficient buying power ($9999.50)",
		},
		{
			name:    "ready",
			account: models.Account{BuyingPower: 10000},
			ok:      true,
			reason:  "ready to trade",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, traderConfig(), nil)
			h.broker.On("Positions", mock.Anything).Return(tc.positions, nil)
			h.broker.On("Account", mock.Anything).Return(tc.account, tc.acctErr).Maybe()

			ok, reason, acct := h.trader.CanOpenPosition(context.Background(), "AAPL")
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.reason, reason)
			if tc.ok {
				assert.Equal(t, tc.account, acct)
			}
		})
	}
}

func TestCheckAndTradeOpensTrade(t *testing.T) {
	h := newHarness(t, traderConfig(), []string{"AAPL"})
	h.market.On("LatestBars", mock.Anything, "AAPL", 3, domrepo.TF1m).Return(threeBars(25), nil)
	h.broker.On("Positions", mock.Anything).Return([]models.Position{}, nil)
	h.broker.On("Account", mock.Anything).Return(models.Account{BuyingPower: 10000, Equity: 10000}, nil)
	h.broker.On("SubmitOrder", mock.Anything, models.MarketOrder("AAPL", 100, models.SideBuy)).
		Return(models.Order{ID: "o-1", Symbol: "AAPL", Qty: 100, Side: models.SideBuy}, nil).Once()

	report, err := h.trader.CheckAndTrade(context.Background())
	require.NoError(t, err)
	h.broker.AssertExpectations(t)

	require.Len(t, report.Opened, 1)
	trade := report.Opened[0]
	assert.Equal(t, "o-1", trade.OrderID)
	assert.Equal(t, 100.0, trade.Qty, "200 shares capped at max position size")
	assert.Equal(t, models.TradeOpen, trade.Status)
	assert.InDelta(t, 24.5, trade.StopLoss, 1e-9)
	assert.InDelta(t, 26.0, trade.TakeProfit, 1e-9)
	assert.NotEmpty(t, trade.ID)

	assert.Len(t, h.trader.Trades(), 1)
	assert.Len(t, h.trader.Signals(), 1)
	got, _ := h.journal.DailyTrades("2024-01-09")
	assert.Len(t, got, 1)
	assert.Len(t, h.sink.opened, 1)
	assert.Equal(t, 1, h.sink.recs)
}

func TestCheckAndTradeRejectsSmallPosition(t *testing.T) {
	h := newHarness(t, traderConfig(), []string{"BRK"})
	h.market.On("LatestBars", mock.Anything, "BRK", 3, domrepo.TF1m).Return(threeBars(20000), nil)
	h.broker.On("Positions", mock.Anything).Return([]models.Position{}, nil)
	h.broker.On("Account", mock.Anything).Return(models.Account{BuyingPower: 10000}, nil)

	report, err := h.trader.CheckAndTrade(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "position size too small", report.Rejected["BRK"])
	assert.Empty(t, report.Opened)
	h.broker.AssertNotCalled(t, "SubmitOrder", mock.Anything, mock.Anything)
}

func TestCheckAndTradeIsolatesSymbolFailures(t *testing.T) {
	h := newHarness(t, traderConfig(), []string{"BAD", "FAIL", "AAPL"})
	h.market.On("LatestBars", mock.Anything, "BAD", 3, domrepo.TF1m).Return([]models.Bar(nil), errors.New("404"))
	h.market.On("LatestBars", mock.Anything, "FAIL", 3, domrepo.TF1m).Return(threeBars(10), nil)
	h.market.On("LatestBars", mock.Anything, "AAPL", 3, domrepo.TF1m).Return(threeBars(25), nil)
	h.broker.On("Positions", mock.Anything).Return([]models.Position{}, nil)
	h.broker.On("Account", mock.Anything).Return(models.Account{BuyingPower: 10000}, nil)
	h.broker.On("SubmitOrder", mock.Anything, mock.MatchedBy(func(r models.OrderRequest) bool { return r.Symbol == "FAIL" })).
		Return(models.Order{}, errors.New("rejected by broker"))
	h.broker.On("SubmitOrder", mock.Anything, mock.MatchedBy(func(r models.OrderRequest) bool { return r.Symbol == "AAPL" })).
		Return(models.Order{ID: "o-2"}, nil)
	h.journal.failAll = true

	report, err := h.trader.CheckAndTrade(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, report.Candidates)
	assert.Equal(t, 2, report.Evaluated)
	assert.Contains(t, report.Errors["BAD"], "fetch bars")
	assert.Contains(t, report.Errors["FAIL"], "submit buy")
	require.Len(t, report.Opened, 1)
	assert.Equal(t, "AAPL", report.Opened[0].Symbol)
	assert.Len(t, h.trader.Trades(), 1, "journal failure keeps the in-memory trade")
}

func TestCheckAndTradeHoldsWithoutBuy(t *testing.T) {
	h := newHarness(t, traderConfig(), []string{"AAPL"}, &stubSpecialist{name: "bear", signal: 0, conf: 0.9})
	h.market.On("LatestBars", mock.Anything, "AAPL", 3, domrepo.TF1m).Return(threeBars(25), nil)

	report, err := h.trader.CheckAndTrade(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Recommendations)
	assert.Empty(t, h.trader.Signals())
	h.broker.AssertNotCalled(t, "Positions", mock.Anything)
}

func TestCheckAndTradeDiscoveryFailure(t *testing.T) {
	cfg := traderConfig()
	h := newHarness(t, cfg, nil)
	h.trader.candidates = staticCandidates{err: errors.New("screener down")}

	report, err := h.trader.CheckAndTrade(context.Background())
	require.Error(t, err)
	assert.Zero(t, report.Evaluated)
}

func TestCheckAndTradeDryRun(t *testing.T) {
	cfg := traderConfig()
	cfg.Trading.DryRun = true
	h := newHarness(t, cfg, []string{"AAPL"})
	h.market.On("LatestBars", mock.Anything, "AAPL", 3, domrepo.TF1m).Return(threeBars(25), nil)
	h.broker.On("Positions", mock.Anything).Return([]models.Position{}, nil)
	h.broker.On("Account", mock.Anything).Return(models.Account{BuyingPower: 10000}, nil)

	report, err := h.trader.CheckAndTrade(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Opened)
	h.broker.AssertNotCalled(t, "SubmitOrder", mock.Anything, mock.Anything)
}

func seedOpenTrade(t *testing.T, h *harness, symbol string, price float64) models.Trade {
	t.Helper()
	h.market.On("LatestBars", mock.Anything, symbol, 3, domrepo.TF1m).Return(threeBars(price), nil).Once()
	h.broker.On("Positions", mock.Anything).Return([]models.Position{}, nil).Once()
	h.broker.On("Account", mock.Anything).Return(models.Account{BuyingPower: 10000}, nil).Once()
	h.broker.On("SubmitOrder", mock.Anything, mock.MatchedBy(func(r models.OrderRequest) bool { return r.Side == models.SideBuy })).
		Return(models.Order{ID: "buy-" + symbol}, nil).Once()

	report, err := h.trader.CheckAndTrade(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Opened, 1)
	return report.Opened[0]
}

func TestRebalanceIsIdempotent(t *testing.T) {
	h := newHarness(t, traderConfig(), []string{"AAPL"})
	opened := seedOpenTrade(t, h, "AAPL", 100)

	position := models.Position{Symbol: "AAPL", Qty: 100, AvgEntryPrice: 100, CurrentPrice: 97}
	h.broker.On("Positions", mock.Anything).Return([]models.Position{position}, nil)
	h.broker.On("SubmitOrder", mock.Anything, models.MarketOrder("AAPL", 100, models.SideSell)).
		Return(models.Order{ID: "sell-1"}, nil).Once()

	first, err := h.trader.RebalancePortfolio(context.Background())
	require.NoError(t, err)
	require.Len(t, first.Closed, 1)
	closed := first.Closed[0]
	assert.Equal(t, opened.ID, closed.ID)
	assert.Equal(t, models.TradeClosed, closed.Status)
	assert.Equal(t, models.ExitStopLoss, closed.ExitReason)
	assert.InDelta(t, -300, closed.PnL(), 1e-9)
	assert.InDelta(t, -0.03, *closed.PnLPct, 1e-9)
	assert.Equal(t, []string{"AAPL"}, first.Pending)

	second, err := h.trader.RebalancePortfolio(context.Background())
	require.NoError(t, err)
	assert.Empty(t, second.Closed)

	h.broker.AssertNumberOfCalls(t, "SubmitOrder", 2) // one buy, one sell
	assert.Equal(t, 1, h.journal.updates)
	assert.Len(t, h.sink.closed, 1)

	closedCount := 0
	for _, tr := range h.trader.Trades() {
		if tr.Status == models.TradeClosed {
			closedCount++
		}
	}
	assert.Equal(t, 1, closedCount)

	stored, _ := h.journal.DailyTrades("2024-01-09")
	require.Len(t, stored, 1)
	assert.Equal(t, models.TradeClosed, stored[0].Status)
}

func TestRebalanceThresholds(t *testing.T) {
	cases := []struct {
		name    string
		current float64
		reason  string
	}{
		{"take profit", 104, models.ExitTakeProfit},
		{"stop loss at boundary", 98, models.ExitStopLoss},
		{"inside band", 101, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, traderConfig(), nil)
			h.broker.On("Positions", mock.Anything).Return([]models.Position{
				{Symbol: "MSFT", Qty: 5, AvgEntryPrice: 100, CurrentPrice: tc.current},
			}, nil)
			if tc.reason != "" {
				h.broker.On("SubmitOrder", mock.Anything, models.MarketOrder("MSFT", 5, models.SideSell)).
					Return(models.Order{ID: "s"}, nil).Once()
			}

			report, err := h.trader.RebalancePortfolio(context.Background())
			require.NoError(t, err)
			if tc.reason == "" {
				h.broker.AssertNotCalled(t, "SubmitOrder", mock.Anything, mock.Anything)
				assert.Empty(t, report.Pending)
				return
			}
			h.broker.AssertExpectations(t)
			assert.Equal(t, []string{"MSFT"}, report.Pending, "untracked position is still exited once")
		})
	}
}

func TestRebalanceClearsPendingWhenPositionGone(t *testing.T) {
	h := newHarness(t, traderConfig(), []string{"AAPL"})
	seedOpenTrade(t, h, "AAPL", 100)

	h.broker.On("Positions", mock.Anything).Return([]models.Position{
		{Symbol: "AAPL", Qty: 100, AvgEntryPrice: 100, CurrentPrice: 110},
	}, nil).Once()
	h.broker.On("SubmitOrder", mock.Anything, mock.Anything).Return(models.Order{ID: "sell"}, nil).Once()
	_, err := h.trader.RebalancePortfolio(context.Background())
	require.NoError(t, err)

	h.broker.On("Positions", mock.Anything).Return([]models.Position{}, nil).Once()
	report, err := h.trader.RebalancePortfolio(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Pending)
}

func TestStartRequiresTrainedModel(t *testing.T) {
	trained := 0
	untrained := &trainableStub{stubSpecialist: stubSpecialist{name: "ml"}, trained: &trained}

	h := newHarness(t, traderConfig(), nil, untrained)
	assert.ErrorIs(t, h.trader.Start(context.Background()), ErrNoTrainedModel)

	cfg := traderConfig()
	cfg.Trading.AllowUntrained = true
	h = newHarness(t, cfg, nil, untrained)
	require.NoError(t, h.trader.Start(context.Background()))
}

func TestStartReloadsHistoryAndStopSavesSignals(t *testing.T) {
	trained := 0
	ml := &trainableStub{stubSpecialist: stubSpecialist{name: "ml"}, loaded: true, trained: &trained}
	h := newHarness(t, traderConfig(), nil, ml)

	pnl, pct := 5.0, 0.05
	exit := tradeNow
	day1 := time.Date(2024, 1, 8, 15, 0, 0, 0, time.UTC)
	require.NoError(t, h.journal.Append(context.Background(), models.Trade{ID: "1", Symbol: "AAPL", EntryTime: day1, Status: models.TradeOpen}))
	require.NoError(t, h.journal.Append(context.Background(), models.Trade{
		ID: "2", Symbol: "MSFT", EntryTime: tradeNow, Status: models.TradeClosed,
		ExitTime: &exit, PnLAmount: &pnl, PnLPct: &pct,
	}))
	h.signals.saved = []models.Signal{{Symbol: "AAPL", Timestamp: tradeNow}}

	require.NoError(t, h.trader.Start(context.Background()))
	trades := h.trader.Trades()
	require.Len(t, trades, 2)
	assert.Equal(t, "1", trades[0].ID)
	assert.Equal(t, "2", trades[1].ID)
	assert.Len(t, h.trader.Signals(), 1)

	summary := h.trader.PerformanceSummary()
	assert.Equal(t, 2, summary.TotalTrades)
	assert.Equal(t, 1, summary.ClosedTrades)
	assert.Equal(t, 1, summary.Wins)
	assert.Equal(t, 1.0, summary.WinRate)
	assert.InDelta(t, 5.0, summary.TotalPnL, 1e-9)

	h.trader.recordSignal(models.Signal{Symbol: "NVDA", Timestamp: tradeNow})
	require.NoError(t, h.trader.Stop(context.Background()))
	assert.Len(t, h.signals.saved, 2)
}

func TestScheduledTrainingSwapsEnsemble(t *testing.T) {
	trained := 0
	ml := &trainableStub{stubSpecialist: stubSpecialist{name: "ml", signal: 1, conf: 0.5}, trained: &trained}
	failing := &trainableStub{stubSpecialist: stubSpecialist{name: "broken"}, trainErr: errors.New("singular"), trained: &trained}
	onnx := &trainableStub{stubSpecialist: stubSpecialist{name: "onnx"}, trainErr: classifier.ErrTrainingUnsupported, trained: &trained}
	news := &stubSpecialist{name: "news", signal: 0, conf: 0.1}

	h := newHarness(t, traderConfig(), nil, ml, failing, onnx, news)
	h.market.On("LatestBars", mock.Anything, "AAPL", 3, domrepo.TF1m).Return(threeBars(50), nil)

	before := h.trader.Ensemble()
	report, err := h.trader.ScheduledTraining(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, trained)
	assert.ElementsMatch(t, []string{"ml", "onnx"}, report.Trained)
	assert.Contains(t, report.Failed, "broken")
	assert.Equal(t, 3, report.Samples)

	after := h.trader.Ensemble()
	require.NotSame(t, before, after)

	old := before.Specialists()
	assert.Same(t, ml, old[0], "serving ensemble is never mutated")
	assert.False(t, ml.loaded)

	next := after.Specialists()
	require.Len(t, next, 4)
	assert.True(t, next[0].(domsvc.Trainable).Loaded())
	assert.Same(t, failing, next[1], "failed specialist keeps its previous instance")
	assert.True(t, next[2].(domsvc.Trainable).Loaded())
	assert.Same(t, news, next[3])
}

func TestScheduledTrainingWithoutData(t *testing.T) {
	trained := 0
	ml := &trainableStub{stubSpecialist: stubSpecialist{name: "ml"}, trained: &trained}
	h := newHarness(t, traderConfig(), nil, ml)
	h.market.On("LatestBars", mock.Anything, "AAPL", 3, domrepo.TF1m).Return([]models.Bar(nil), errors.New("no data"))

	before := h.trader.Ensemble()
	_, err := h.trader.ScheduledTraining(context.Background())
	require.Error(t, err)
	assert.Same(t, before, h.trader.Ensemble())
	assert.Zero(t, trained)
}

// restart builds a fresh trader over the same journal and signal store, as a
// process restart would, and starts it.
func (h *harness) restart(t *testing.T) *harness {
	t.Helper()
	cfg := *h.cfg
	cfg.Trading.AllowUntrained = true
	next := &harness{
		cfg:     &cfg,
		broker:  &mockBroker{},
		market:  &mockMarketData{},
		journal: h.journal,
		sink:    &recordingSink{},
		signals: h.signals,
	}
	tr, err := NewLiveTrader(&cfg, TraderDeps{
		Broker:     next.broker,
		MarketData: next.market,
		Candidates: staticCandidates{},
		Frames:     plainFrames{},
		Journal:    next.journal,
		Signals:    next.signals,
	}, NewEnsemble([]domsvc.Specialist{&stubSpecialist{name: "bull", signal: 1, conf: 0.9}}, cfg.Ensemble),
		WithTraderClock(func() time.Time { return tradeNow }),
		WithSinks(next.sink))
	require.NoError(t, err)
	next.trader = tr
	require.NoError(t, tr.Start(context.Background()))
	return next
}

func TestFailedJournalAppendIsRetried(t *testing.T) {
	h := newHarness(t, traderConfig(), []string{"AAPL"})
	h.journal.failAll = true
	opened := seedOpenTrade(t, h, "AAPL", 100)

	dates, _ := h.journal.AvailableDates()
	assert.Empty(t, dates)

	h.journal.failAll = false
	h.trader.candidates = staticCandidates{}
	_, err := h.trader.CheckAndTrade(context.Background())
	require.NoError(t, err)

	stored, _ := h.journal.DailyTrades("2024-01-09")
	require.Len(t, stored, 1)
	assert.Equal(t, opened.ID, stored[0].ID)

	// a later flush has nothing left to write
	require.NoError(t, h.trader.Stop(context.Background()))
	stored, _ = h.journal.DailyTrades("2024-01-09")
	assert.Len(t, stored, 1)

	after := h.restart(t)
	trades := after.trader.Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, opened.ID, trades[0].ID)
}

func TestStopReportsUnjournaledTrades(t *testing.T) {
	h := newHarness(t, traderConfig(), []string{"AAPL"})
	h.journal.failAll = true
	seedOpenTrade(t, h, "AAPL", 100)

	assert.ErrorContains(t, h.trader.Stop(context.Background()), "1 trades not journaled")

	h.journal.failAll = false
	require.NoError(t, h.trader.Stop(context.Background()))
	stored, _ := h.journal.DailyTrades("2024-01-09")
	assert.Len(t, stored, 1)
}

func TestFailedCloseWriteDoesNotResellAfterRestart(t *testing.T) {
	h := newHarness(t, traderConfig(), []string{"AAPL"})
	opened := seedOpenTrade(t, h, "AAPL", 100)

	position := models.Position{Symbol: "AAPL", Qty: 100, AvgEntryPrice: 100, CurrentPrice: 97}
	h.broker.On("Positions", mock.Anything).Return([]models.Position{position}, nil)
	h.broker.On("SubmitOrder", mock.Anything, models.MarketOrder("AAPL", 100, models.SideSell)).
		Return(models.Order{ID: "sell-1"}, nil).Once()

	h.journal.failAll = true
	first, err := h.trader.RebalancePortfolio(context.Background())
	require.NoError(t, err)
	require.Len(t, first.Closed, 1)
	stored, _ := h.journal.DailyTrades("2024-01-09")
	require.Len(t, stored, 1)
	assert.Equal(t, models.TradeOpen, stored[0].Status)

	h.journal.failAll = false
	second, err := h.trader.RebalancePortfolio(context.Background())
	require.NoError(t, err)
	assert.Empty(t, second.Closed)
	stored, _ = h.journal.DailyTrades("2024-01-09")
	require.Len(t, stored, 1)
	assert.Equal(t, models.TradeClosed, stored[0].Status)
	assert.Equal(t, opened.ID, stored[0].ID)

	after := h.restart(t)
	after.broker.On("Positions", mock.Anything).Return([]models.Position{position}, nil)
	report, err := after.trader.RebalancePortfolio(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Closed)
	assert.Equal(t, []string{"AAPL"}, report.Pending)
	after.broker.AssertNotCalled(t, "SubmitOrder", mock.Anything, mock.Anything)
	h.broker.AssertNumberOfCalls(t, "SubmitOrder", 2) // one buy, one sell
}

func TestRebalanceAfterRestartKeepsJournaledExit(t *testing.T) {
	h := newHarness(t, traderConfig(), []string{"AAPL"})
	seedOpenTrade(t, h, "AAPL", 100)

	position := models.Position{Symbol: "AAPL", Qty: 100, AvgEntryPrice: 100, CurrentPrice: 105}
	h.broker.On("Positions", mock.Anything).Return([]models.Position{position}, nil)
	h.broker.On("SubmitOrder", mock.Anything, models.MarketOrder("AAPL", 100, models.SideSell)).
		Return(models.Order{ID: "sell-1"}, nil).Once()
	first, err := h.trader.RebalancePortfolio(context.Background())
	require.NoError(t, err)
	require.Len(t, first.Closed, 1)
	assert.Equal(t, models.ExitTakeProfit, first.Closed[0].ExitReason)

	after := h.restart(t)
	after.broker.On("Positions", mock.Anything).Return([]models.Position{position}, nil)
	report, err := after.trader.RebalancePortfolio(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Closed)
	assert.Equal(t, []string{"AAPL"}, report.Pending)
	after.broker.AssertNotCalled(t, "SubmitOrder", mock.Anything, mock.Anything)

	closed := 0
	for _, tr := range after.trader.Trades() {
		if tr.Status == models.TradeClosed {
			closed++
		}
	}
	assert.Equal(t, 1, closed)
}

func TestSignalsPersistWithoutStop(t *testing.T) {
	h := newHarness(t, traderConfig(), []string{"AAPL"})
	seedOpenTrade(t, h, "AAPL", 100)
	require.Len(t, h.signals.saved, 1)
	assert.Equal(t, "AAPL", h.signals.saved[0].Symbol)

	h.signals.saved = nil
	h.broker.On("Positions", mock.Anything).Return([]models.Position{}, nil)
	_, err := h.trader.RebalancePortfolio(context.Background())
	require.NoError(t, err)
	assert.Len(t, h.signals.saved, 1, "rebalance rewrites the signal log")
}
