package usecase

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"AutoTrader/internal/domain/models"
	domrepo "AutoTrader/internal/domain/repository"
	"AutoTrader/pkg/logger"
)

// openTrade records a new OPEN trade in memory first, then in the journal,
// then in the sinks. Persistence failures keep the in-memory record.
func (t *LiveTrader) openTrade(ctx context.Context, order models.Order, symbol string, qty float64, rec models.Recommendation) models.Trade {
	price := rec.Price
	if order.FilledAvgPrice > 0 {
		price = order.FilledAvgPrice
	}

	trade := models.Trade{
		ID:         uuid.NewString(),
		OrderID:    order.ID,
		Symbol:     symbol,
		Strategy:   t.trading.Strategy,
		Side:       models.SideBuy,
		Qty:        qty,
		EntryPrice: price,
		EntryTime:  t.now(),
		Confidence: rec.Confidence,
		StopLoss:   price * (1 - t.trading.StopLossPct),
		TakeProfit: price * (1 + t.trading.TakeProfitPct),
		Status:     models.TradeOpen,
	}

	t.mu.Lock()
	t.trades = appendCapped(t.trades, trade, t.trading.TradeHistory)
	delete(t.pendingExits, symbol)
	t.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	if err := t.journal.Append(ctx, trade); err != nil {
		t.markUnsaved(trade.ID)
		t.metrics.RecordError("journal")
		t.logger.Error("journal append failed", logger.String("trade_id", trade.ID), logger.Error(err))
	}
	t.publish("trade_opened", func(s domrepo.TradeSink) error { return s.TradeOpened(ctx, trade) })
	return trade
}

func (t *LiveTrader) markUnsaved(id string) {
	t.mu.Lock()
	t.unsaved[id]++
	t.mu.Unlock()
}

// flushJournal rewrites every trade whose last journal write failed from its
// in-memory record. Append replaces by id, so a trade half written to the
// day file but not the strategy file converges too. Trades already dropped
// from the capped log cannot be rewritten and are forgotten.
func (t *LiveTrader) flushJournal(ctx context.Context) error {
	t.mu.Lock()
	if len(t.unsaved) == 0 {
		t.mu.Unlock()
		return nil
	}
	type pending struct {
		trade models.Trade
		gen   int
	}
	var todo []pending
	found := make(map[string]bool, len(t.unsaved))
	for i := range t.trades {
		if gen, ok := t.unsaved[t.trades[i].ID]; ok {
			todo = append(todo, pending{trade: t.trades[i].Clone(), gen: gen})
			found[t.trades[i].ID] = true
		}
	}
	for id := range t.unsaved {
		if !found[id] {
			delete(t.unsaved, id)
			t.logger.Warn("unjournaled trade evicted from history", logger.String("trade_id", id))
		}
	}
	t.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	failed := 0
	for _, p := range todo {
		if err := t.journal.Append(ctx, p.trade); err != nil {
			failed++
			t.metrics.RecordError("journal")
			t.logger.Error("journal retry failed", logger.String("trade_id", p.trade.ID), logger.Error(err))
			continue
		}
		t.mu.Lock()
		if t.unsaved[p.trade.ID] == p.gen {
			delete(t.unsaved, p.trade.ID)
		}
		t.mu.Unlock()
	}
	if failed > 0 {
		return fmt.Errorf("%d trades not journaled", failed)
	}
	t.logger.Info("journal caught up", logger.Int("trades", len(todo)))
	return nil
}

func (t *LiveTrader) recordSignal(s models.Signal) {
	t.mu.Lock()
	t.signalLog = appendCapped(t.signalLog, s, t.trading.SignalHistory)
	t.mu.Unlock()
}

// Trades returns a snapshot of the in-memory trade log, oldest first.
func (t *LiveTrader) Trades() []models.Trade {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]models.Trade, len(t.trades))
	for i := range t.trades {
		out[i] = t.trades[i].Clone()
	}
	return out
}

// Signals returns a snapshot of the in-memory signal log, oldest first.
func (t *LiveTrader) Signals() []models.Signal {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]models.Signal(nil), t.signalLog...)
}

// loadHistory rebuilds the trade log from the journal, newest partitions
// first, until the history cap is filled.
func (t *LiveTrader) loadHistory(ctx context.Context) error {
	dates, err := t.journal.AvailableDates()
	if err != nil {
		return err
	}

	var days [][]models.Trade
	total := 0
	for _, d := range dates {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		trades, err := t.journal.DailyTrades(d)
		if err != nil {
			t.logger.Warn("skipping unreadable journal partition", logger.String("date", d), logger.Error(err))
			continue
		}
		days = append(days, trades)
		total += len(trades)
		if total >= t.trading.TradeHistory {
			break
		}
	}

	var all []models.Trade
	for i := len(days) - 1; i >= 0; i-- {
		all = append(all, days[i]...)
	}
	if n := t.trading.TradeHistory; len(all) > n {
		all = all[len(all)-n:]
	}

	// A symbol whose latest trade is CLOSED may still be reported by the
	// broker until the exit fills; rebalance clears it once it is gone.
	pending := make(map[string]string)
	for _, tr := range all {
		if tr.Status == models.TradeClosed {
			pending[tr.Symbol] = tr.ID
		} else {
			delete(pending, tr.Symbol)
		}
	}

	t.mu.Lock()
	t.trades = all
	t.pendingExits = pending
	t.mu.Unlock()

	t.logger.Info("loaded trade history", logger.Int("trades", len(all)), logger.Int("dates", len(days)))
	return nil
}

func (t *LiveTrader) loadSignals(ctx context.Context) error {
	if t.signals == nil {
		return nil
	}
	signals, err := t.signals.Load(ctx)
	if err != nil {
		return err
	}
	sort.SliceStable(signals, func(i, j int) bool { return signals[i].Timestamp.Before(signals[j].Timestamp) })
	if n := t.trading.SignalHistory; len(signals) > n {
		signals = signals[len(signals)-n:]
	}

	t.mu.Lock()
	t.signalLog = signals
	t.mu.Unlock()
	return nil
}

// persistSignals saves the signal log after a tick; failures are logged and
// the next save rewrites the whole log.
func (t *LiveTrader) persistSignals(ctx context.Context) {
	if err := t.saveSignals(context.WithoutCancel(ctx)); err != nil {
		t.metrics.RecordError("signals")
		t.logger.Error("save signals failed", logger.Error(err))
	}
}

func (t *LiveTrader) saveSignals(ctx context.Context) error {
	if t.signals == nil {
		return nil
	}
	return t.signals.Save(ctx, t.Signals())
}

// appendCapped appends v and drops the oldest entries beyond limit.
func appendCapped[T any](s []T, v T, limit int) []T {
	s = append(s, v)
	if limit > 0 && len(s) > limit {
		s = append(s[:0:0], s[len(s)-limit:]...)
	}
	return s
}
