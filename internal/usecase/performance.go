package usecase

import (
	"github.com/shopspring/decimal"

	"AutoTrader/internal/domain/models"
)

// PerformanceSummary aggregates the in-memory trade log. A win is a closed
// trade with positive P&L percent.
func (t *LiveTrader) PerformanceSummary() models.PerformanceSummary {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return summarize(t.trades)
}

func summarize(trades []models.Trade) models.PerformanceSummary {
	s := models.PerformanceSummary{TotalTrades: len(trades)}

	total := decimal.Zero
	for i := range trades {
		tr := &trades[i]
		if tr.Status != models.TradeClosed {
			continue
		}
		s.ClosedTrades++
		if tr.PnLPct != nil && *tr.PnLPct > 0 {
			s.Wins++
		}
		total = total.Add(decimal.NewFromFloat(tr.PnL()))
	}
	if s.ClosedTrades == 0 {
		return s
	}

	s.Losses = s.ClosedTrades - s.Wins
	s.WinRate = float64(s.Wins) / float64(s.ClosedTrades)
	s.TotalPnL, _ = total.Float64()
	s.AvgPnL, _ = total.Div(decimal.NewFromInt(int64(s.ClosedTrades))).Float64()
	return s
}
