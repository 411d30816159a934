package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"AutoTrader/internal/domain/models"
	domrepo "AutoTrader/internal/domain/repository"
	domsvc "AutoTrader/internal/domain/service"
	"AutoTrader/internal/scheduler"
	"AutoTrader/pkg/config"
	"AutoTrader/pkg/logger"
)

var ErrNoTrainedModel = errors.New("no trained model loaded")

// JobScheduler is the lifecycle the trader drives; MarketScheduler implements it.
type JobScheduler interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// TraderDeps are the required collaborators of a LiveTrader.
type TraderDeps struct {
	Broker     domrepo.Broker
	MarketData domrepo.MarketData
	Candidates domrepo.CandidateSource
	Frames     domrepo.FrameBuilder
	Journal    domrepo.TradeJournal
	Signals    domrepo.SignalStore
	Locker     domrepo.SymbolLocker
}

// LiveTrader runs the trade check, the rebalance and the scheduled retrain
// against one broker account.
type LiveTrader struct {
	trading  config.TradingConfig
	training config.TrainingConfig
	ensCfg   config.EnsembleConfig

	broker     domrepo.Broker
	market     domrepo.MarketData
	candidates domrepo.CandidateSource
	frames     domrepo.FrameBuilder
	journal    domrepo.TradeJournal
	signals    domrepo.SignalStore
	locker     domrepo.SymbolLocker
	sinks      []domrepo.TradeSink
	metrics    domrepo.Metrics
	logger     *logger.Logger
	now        func() time.Time

	ensemble atomic.Pointer[Ensemble]
	sched    JobScheduler

	mu        sync.RWMutex
	trades    []models.Trade
	signalLog []models.Signal
	// pendingExits maps a symbol to the trade closed by a SELL the broker
	// has not yet reflected in its positions.
	pendingExits map[string]string
	// unsaved holds trade ids whose journal record lags memory, with a
	// generation bumped on every failed write.
	unsaved map[string]int

	trainMu sync.Mutex
}

type TraderOption func(*LiveTrader)

func WithTraderLogger(l *logger.Logger) TraderOption {
	return func(t *LiveTrader) {
		if l != nil {
			t.logger = l
		}
	}
}

func WithTraderMetrics(m domrepo.Metrics) TraderOption {
	return func(t *LiveTrader) {
		if m != nil {
			t.metrics = m
		}
	}
}

// WithTraderClock replaces time.Now, for tests.
func WithTraderClock(now func() time.Time) TraderOption {
	return func(t *LiveTrader) { t.now = now }
}

// WithSinks adds best-effort trade event sinks.
func WithSinks(sinks ...domrepo.TradeSink) TraderOption {
	return func(t *LiveTrader) {
		for _, s := range sinks {
			if s != nil {
				t.sinks = append(t.sinks, s)
			}
		}
	}
}

func NewLiveTrader(cfg *config.Config, deps TraderDeps, ens *Ensemble, opts ...TraderOption) (*LiveTrader, error) {
	if deps.Broker == nil || deps.MarketData == nil || deps.Candidates == nil || deps.Frames == nil || deps.Journal == nil {
		return nil, errors.New("live trader: broker, market data, candidates, frames and journal are required")
	}
	if ens == nil {
		return nil, errors.New("live trader: ensemble is required")
	}

	t := &LiveTrader{
		trading:      cfg.Trading,
		training:     cfg.Training,
		ensCfg:       cfg.Ensemble,
		broker:       deps.Broker,
		market:       deps.MarketData,
		candidates:   deps.Candidates,
		frames:       deps.Frames,
		journal:      deps.Journal,
		signals:      deps.Signals,
		locker:       deps.Locker,
		metrics:      domrepo.NopMetrics{},
		logger:       logger.Nop(),
		now:          time.Now,
		pendingExits: make(map[string]string),
		unsaved:      make(map[string]int),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.locker == nil {
		t.locker = noLocker{}
	}
	t.logger = t.logger.Component("live_trader")
	t.ensemble.Store(ens)
	return t, nil
}

// SetScheduler attaches the scheduler driving this trader. It is set after
// construction because the scheduler's callbacks are the trader's methods.
func (t *LiveTrader) SetScheduler(s JobScheduler) {
	t.sched = s
}

// Callbacks adapts the trader's operations to scheduler jobs.
func (t *LiveTrader) Callbacks() scheduler.Callbacks {
	return scheduler.Callbacks{
		Train: func(ctx context.Context) error {
			_, err := t.ScheduledTraining(ctx)
			return err
		},
		TradeCheck: func(ctx context.Context) error {
			_, err := t.CheckAndTrade(ctx)
			return err
		},
		Rebalance: func(ctx context.Context) error {
			_, err := t.RebalancePortfolio(ctx)
			return err
		},
	}
}

// Ensemble returns the coordinator currently serving predictions.
func (t *LiveTrader) Ensemble() *Ensemble {
	return t.ensemble.Load()
}

// Start refuses to trade without a loaded model, reloads the trade and
// signal logs, then starts the scheduler.
func (t *LiveTrader) Start(ctx context.Context) error {
	if !t.hasTrainedModel() {
		if !t.trading.AllowUntrained {
			return ErrNoTrainedModel
		}
		t.logger.Warn("starting without a trained model")
	}

	if err := t.loadHistory(ctx); err != nil {
		t.logger.Warn("could not load trade history", logger.Error(err))
	}
	if err := t.loadSignals(ctx); err != nil {
		t.logger.Warn("could not load signal history", logger.Error(err))
	}

	if t.sched != nil {
		if err := t.sched.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
	}

	t.mu.RLock()
	trades, signals := len(t.trades), len(t.signalLog)
	t.mu.RUnlock()
	t.logger.Info("live trading started",
		logger.Int("trades", trades),
		logger.Int("signals", signals),
		logger.Bool("dry_run", t.trading.DryRun))
	return nil
}

// Stop stops the scheduler, retries pending journal writes and persists the
// signal log. All three are attempted.
func (t *LiveTrader) Stop(ctx context.Context) error {
	var errs []error
	if t.sched != nil {
		if err := t.sched.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop scheduler: %w", err))
		}
	}
	if err := t.flushJournal(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := t.saveSignals(ctx); err != nil {
		errs = append(errs, fmt.Errorf("save signals: %w", err))
	}
	t.logger.Info("live trading stopped")
	return errors.Join(errs...)
}

func (t *LiveTrader) hasTrainedModel() bool {
	for _, sp := range t.ensemble.Load().Specialists() {
		if tr, ok := sp.(domsvc.Trainable); ok && tr.Loaded() {
			return true
		}
	}
	return false
}

// CheckAndTrade evaluates every candidate and opens positions on admitted
// BUY recommendations. Per-symbol failures land in the report; only a
// candidate discovery failure is returned.
func (t *LiveTrader) CheckAndTrade(ctx context.Context) (*models.TickReport, error) {
	report := models.NewTickReport(t.now())
	ens := t.ensemble.Load()
	_ = t.flushJournal(ctx)

	symbols, err := t.candidates.Candidates(ctx)
	if err != nil {
		t.metrics.RecordError("candidates")
		t.logger.Error("candidate discovery failed", logger.Error(err))
		return report, fmt.Errorf("discover candidates: %w", err)
	}
	report.Candidates = len(symbols)

	for _, symbol := range symbols {
		if ctx.Err() != nil {
			break
		}
		if err := t.evaluate(ctx, ens, symbol, report); err != nil {
			report.Errors[symbol] = err.Error()
			t.metrics.RecordError("trade_check")
			t.logger.Warn("symbol evaluation failed", logger.String("symbol", symbol), logger.Error(err))
		}
	}

	if report.Recommendations > 0 {
		t.persistSignals(ctx)
	}

	if n := len(report.Opened); n > 0 || len(report.Errors) > 0 {
		t.logger.Info("trade check complete",
			logger.Int("candidates", report.Candidates),
			logger.Int("evaluated", report.Evaluated),
			logger.Int("buy_signals", report.Recommendations),
			logger.Int("opened", n),
			logger.Int("errors", len(report.Errors)))
	}
	return report, nil
}

func (t *LiveTrader) evaluate(ctx context.Context, ens *Ensemble, symbol string, report *models.TickReport) error {
	unlock, err := t.locker.Lock(ctx, symbol)
	if err != nil {
		return fmt.Errorf("lock: %w", err)
	}
	defer unlock()

	bars, err := t.market.LatestBars(ctx, symbol, t.trading.LookbackBars, domrepo.TF1m)
	if err != nil {
		return fmt.Errorf("fetch bars: %w", err)
	}
	frame, err := t.frames.Build(symbol, bars)
	if err != nil {
		return fmt.Errorf("build features: %w", err)
	}
	report.Evaluated++

	rec := ens.Predict(ctx, frame, symbol)
	t.publish("recommendation", func(s domrepo.TradeSink) error { return s.Recommendation(ctx, rec) })
	if !rec.IsBuy() {
		return nil
	}
	report.Recommendations++
	t.recordSignal(models.Signal{Symbol: symbol, Price: rec.Price, Confidence: rec.Confidence, Timestamp: rec.Time})

	adm := t.admit(ctx, symbol)
	if !adm.ok {
		t.reject(report, symbol, adm.kind, adm.reason)
		return nil
	}

	qty := PositionSize(adm.account.BuyingPower, t.trading.PositionSizePct, rec.Price)
	if qty < 1 {
		t.reject(report, symbol, rejectSize, "position size too small")
		return nil
	}
	if max := int64(t.trading.MaxPositionSize); max > 0 && qty > max {
		qty = max
	}

	if t.trading.DryRun {
		t.logger.Info("dry run, order not submitted",
			logger.String("symbol", symbol),
			logger.Int64("qty", qty),
			logger.Float64("price", rec.Price),
			logger.Float64("confidence", rec.Confidence))
		return nil
	}

	order, err := t.broker.SubmitOrder(ctx, models.MarketOrder(symbol, float64(qty), models.SideBuy))
	if err != nil {
		t.metrics.RecordOrder("buy", "failed")
		return fmt.Errorf("submit buy: %w", err)
	}
	t.metrics.RecordOrder("buy", "submitted")

	trade := t.openTrade(ctx, order, symbol, float64(qty), rec)
	report.Opened = append(report.Opened, trade)

	t.logger.Info("trade executed",
		logger.String("symbol", symbol),
		logger.Int64("qty", qty),
		logger.Float64("entry", trade.EntryPrice),
		logger.Float64("stop_loss", trade.StopLoss),
		logger.Float64("take_profit", trade.TakeProfit),
		logger.Float64("confidence", trade.Confidence),
		logger.String("order_id", order.ID))
	return nil
}

func (t *LiveTrader) reject(report *models.TickReport, symbol, kind, reason string) {
	report.Rejected[symbol] = reason
	t.metrics.RecordAdmissionRejected(kind)
	t.logger.Info("cannot trade", logger.String("symbol", symbol), logger.String("reason", reason))
}

// publish fans an event out to every sink. Failures are logged only.
func (t *LiveTrader) publish(event string, fn func(domrepo.TradeSink) error) {
	for _, s := range t.sinks {
		if err := fn(s); err != nil {
			t.metrics.RecordError("sink")
			t.logger.Warn("sink publish failed",
				logger.String("sink", s.Name()),
				logger.String("event", event),
				logger.Error(err))
		}
	}
}

// sortedSymbols is used for deterministic iteration in reports.
func sortedSymbols(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type noLocker struct{}

func (noLocker) Lock(context.Context, string) (func(), error) { return func() {}, nil }
