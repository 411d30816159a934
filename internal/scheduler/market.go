package scheduler

import (
	"context"
	"fmt"
	"time"

	"AutoTrader/internal/domain/models"
	"AutoTrader/pkg/config"
)

const (
	JobTraining   = "training"
	JobRebalance  = "rebalance"
	JobTradeCheck = "trade-check"
)

// Callbacks are the three units of work driven by the market schedule.
type Callbacks struct {
	Train      func(ctx context.Context) error
	TradeCheck func(ctx context.Context) error
	Rebalance  func(ctx context.Context) error
}

// MarketScheduler registers training and rebalance at fixed wall-clock times
// and the trade check on an interval gated by the session calendar.
type MarketScheduler struct {
	*Scheduler
	cal *Calendar
}

func NewMarketScheduler(cfg config.SchedulerConfig, cal *Calendar, cb Callbacks, opts ...Option) (*MarketScheduler, error) {
	base := append([]Option{
		WithPollInterval(cfg.PollInterval),
		WithStopTimeout(cfg.StopTimeout),
	}, opts...)

	ms := &MarketScheduler{Scheduler: New(base...), cal: cal}

	train, err := DailyAt(cfg.TrainTime, cal.Location())
	if err != nil {
		return nil, fmt.Errorf("train trigger: %w", err)
	}
	rebalance, err := DailyAt(cfg.RebalanceTime, cal.Location())
	if err != nil {
		return nil, fmt.Errorf("rebalance trigger: %w", err)
	}

	jobs := []Job{
		{Name: JobTraining, Trigger: train, Run: cb.Train},
		{Name: JobRebalance, Trigger: rebalance, Run: cb.Rebalance},
		{Name: JobTradeCheck, Trigger: Every(cfg.TradeCheckInterval), Gate: cal.IsOpen, Run: cb.TradeCheck},
	}
	for _, j := range jobs {
		if j.Run == nil {
			continue
		}
		if err := ms.Add(j); err != nil {
			return nil, err
		}
	}
	return ms, nil
}

func (m *MarketScheduler) IsMarketOpen(now time.Time) bool { return m.cal.IsOpen(now) }

func (m *MarketScheduler) Status(now time.Time) models.SessionState { return m.cal.Status(now) }

func (m *MarketScheduler) Calendar() *Calendar { return m.cal }
