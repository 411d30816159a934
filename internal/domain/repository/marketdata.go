package repository

import (
	"context"

	"AutoTrader/internal/domain/models"
)

// Timeframe represents bar resolution.
type Timeframe string

const (
	TF1m  Timeframe = "1Min"
	TF5m  Timeframe = "5Min"
	TF15m Timeframe = "15Min"
	TF1h  Timeframe = "1Hour"
	TF1d  Timeframe = "1Day"
)

// MarketData provides historical bars, oldest first.
type MarketData interface {
	LatestBars(ctx context.Context, symbol string, n int, tf Timeframe) ([]models.Bar, error)
}
