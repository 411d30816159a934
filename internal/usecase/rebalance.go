package usecase

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"AutoTrader/internal/domain/models"
	domrepo "AutoTrader/internal/domain/repository"
	"AutoTrader/pkg/logger"
)

// RebalancePortfolio closes every broker position whose P&L crossed the stop
// loss or the take profit. A position with a SELL already submitted is not
// sold again until the broker stops reporting it.
func (t *LiveTrader) RebalancePortfolio(ctx context.Context) (*models.RebalanceReport, error) {
	report := models.NewRebalanceReport(t.now())
	_ = t.flushJournal(ctx)
	defer t.persistSignals(ctx)

	positions, err := t.broker.Positions(ctx)
	if err != nil {
		t.metrics.RecordError("positions")
		t.logger.Error("failed to get positions", logger.Error(err))
		return report, fmt.Errorf("get positions: %w", err)
	}
	report.Positions = len(positions)
	t.metrics.SetOpenPositions(len(positions))

	held := make(map[string]bool, len(positions))
	for _, p := range positions {
		held[p.Symbol] = true
	}
	t.mu.Lock()
	for sym := range t.pendingExits {
		if !held[sym] {
			delete(t.pendingExits, sym)
		}
	}
	t.mu.Unlock()

	if len(positions) == 0 {
		t.logger.Info("no open positions to rebalance")
		return report, nil
	}

	for _, p := range positions {
		if ctx.Err() != nil {
			break
		}
		closed, err := t.rebalanceOne(ctx, p)
		if err != nil {
			report.Errors[p.Symbol] = err.Error()
			t.metrics.RecordError("rebalance")
			t.logger.Warn("rebalance failed", logger.String("symbol", p.Symbol), logger.Error(err))
			continue
		}
		if closed != nil {
			report.Closed = append(report.Closed, *closed)
		}
	}

	t.mu.RLock()
	report.Pending = sortedSymbols(t.pendingExits)
	t.mu.RUnlock()

	t.logger.Info("rebalance complete",
		logger.Int("positions", report.Positions),
		logger.Int("closed", len(report.Closed)),
		logger.Int("pending", len(report.Pending)),
		logger.Int("errors", len(report.Errors)))
	return report, nil
}

func (t *LiveTrader) rebalanceOne(ctx context.Context, p models.Position) (*models.Trade, error) {
	unlock, err := t.locker.Lock(ctx, p.Symbol)
	if err != nil {
		return nil, fmt.Errorf("lock: %w", err)
	}
	defer unlock()

	t.mu.RLock()
	_, pending := t.pendingExits[p.Symbol]
	t.mu.RUnlock()
	if pending || p.AvgEntryPrice <= 0 {
		return nil, nil
	}

	avg := decimal.NewFromFloat(p.AvgEntryPrice)
	cur := decimal.NewFromFloat(p.CurrentPrice)
	pnlPct, _ := cur.Sub(avg).Div(avg).Float64()

	var reason string
	switch {
	case pnlPct <= -t.trading.StopLossPct:
		reason = models.ExitStopLoss
	case pnlPct >= t.trading.TakeProfitPct:
		reason = models.ExitTakeProfit
	default:
		return nil, nil
	}

	t.logger.Info("closing position",
		logger.String("symbol", p.Symbol),
		logger.String("reason", reason),
		logger.Float64("pnl_pct", pnlPct))

	if t.trading.DryRun {
		return nil, nil
	}

	order, err := t.broker.SubmitOrder(ctx, models.MarketOrder(p.Symbol, p.Qty, models.SideSell))
	if err != nil {
		t.metrics.RecordOrder("sell", "failed")
		return nil, fmt.Errorf("submit sell: %w", err)
	}
	t.metrics.RecordOrder("sell", "submitted")

	pnl, _ := decimal.NewFromFloat(p.Qty).Mul(cur.Sub(avg)).Float64()
	closed := t.closeTrade(ctx, p.Symbol, p.CurrentPrice, pnl, pnlPct, reason, order.ID)
	return closed, nil
}

// closeTrade marks the most recent OPEN trade for symbol CLOSED and records
// the pending exit. It returns nil when no OPEN trade is known, e.g. for a
// position opened outside this process.
func (t *LiveTrader) closeTrade(ctx context.Context, symbol string, price, pnl, pnlPct float64, reason, orderID string) *models.Trade {
	at := t.now()

	t.mu.Lock()
	t.pendingExits[symbol] = orderID
	var closed *models.Trade
	for i := len(t.trades) - 1; i >= 0; i-- {
		tr := &t.trades[i]
		if tr.Symbol == symbol && tr.IsOpen() {
			tr.Close(price, at, pnl, pnlPct, reason, orderID)
			c := tr.Clone()
			closed = &c
			t.pendingExits[symbol] = tr.ID
			break
		}
	}
	t.mu.Unlock()

	if closed == nil {
		t.logger.Warn("no open trade recorded for closed position", logger.String("symbol", symbol))
		return nil
	}

	ctx = context.WithoutCancel(ctx)
	date := t.journal.DateOf(closed.EntryTime)
	err := t.journal.UpdateTrade(ctx, date, closed.ID, func(tr *models.Trade) {
		tr.Close(price, at, pnl, pnlPct, reason, orderID)
	})
	if err != nil {
		t.markUnsaved(closed.ID)
		t.metrics.RecordError("journal")
		t.logger.Error("journal update failed",
			logger.String("trade_id", closed.ID),
			logger.String("date", date),
			logger.Error(err))
	}
	t.publish("trade_closed", func(s domrepo.TradeSink) error { return s.TradeClosed(ctx, *closed) })
	return closed
}
