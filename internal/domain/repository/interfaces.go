package repository

import (
	"context"
	"errors"
	"io"
	"time"

	"AutoTrader/internal/domain/models"
)

var ErrTradeNotFound = errors.New("trade not found")

// Broker is the account, position and order boundary.
type Broker interface {
	Account(ctx context.Context) (models.Account, error)
	Positions(ctx context.Context) ([]models.Position, error)
	SubmitOrder(ctx context.Context, req models.OrderRequest) (models.Order, error)
}

// CandidateSource discovers symbols worth evaluating on a trade tick.
type CandidateSource interface {
	Candidates(ctx context.Context) ([]string, error)
}

// FrameBuilder turns bars into feature frames.
type FrameBuilder interface {
	Build(symbol string, bars []models.Bar) (*models.FeatureFrame, error)
	// BuildLabeled also adds the Target column used for training.
	BuildLabeled(symbol string, bars []models.Bar) (*models.FeatureFrame, error)
}

// TradeFilter narrows journal queries; zero fields match everything.
type TradeFilter struct {
	Symbol   string
	Status   models.TradeStatus
	Strategy string
	Side     models.Side
}

func (f TradeFilter) Match(t *models.Trade) bool {
	if f.Symbol != "" && t.Symbol != f.Symbol {
		return false
	}
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.Strategy != "" && t.Strategy != f.Strategy {
		return false
	}
	if f.Side != "" && t.Side != f.Side {
		return false
	}
	return true
}

// TradeJournal is the date-partitioned on-disk trade log.
type TradeJournal interface {
	Append(ctx context.Context, t models.Trade) error
	UpdateTrade(ctx context.Context, date string, id string, fn func(*models.Trade)) error
	DailyTrades(date string) ([]models.Trade, error)
	Query(ctx context.Context, from, to time.Time, f TradeFilter) ([]models.Trade, error)
	AvailableDates() ([]string, error)
	DailyStatistics(date string) (models.DailyStats, error)
	ExportCSV(ctx context.Context, from, to time.Time, w io.Writer) error
	// DateOf returns the partition key for a timestamp.
	DateOf(t time.Time) string
}

// SignalStore persists the capped BUY-signal log.
type SignalStore interface {
	Load(ctx context.Context) ([]models.Signal, error)
	Save(ctx context.Context, signals []models.Signal) error
}

// TradeSink receives trade lifecycle and recommendation events (Kafka, ClickHouse).
// Sinks are best-effort; failures are logged by the caller.
type TradeSink interface {
	Name() string
	TradeOpened(ctx context.Context, t models.Trade) error
	TradeClosed(ctx context.Context, t models.Trade) error
	Recommendation(ctx context.Context, r models.Recommendation) error
}

// SymbolLocker serializes position mutations per symbol.
type SymbolLocker interface {
	// Lock blocks until the symbol is held or ctx is done.
	Lock(ctx context.Context, symbol string) (unlock func(), err error)
}

type Metrics interface {
	RecordJobRun(job, outcome string, seconds float64)
	RecordJobSkipped(job string)
	RecordOrder(side, status string)
	RecordAdmissionRejected(reason string)
	RecordDecision(signal string)
	RecordSpecialistVote(specialist, signal string)
	RecordSpecialistError(specialist string)
	SetOpenPositions(n int)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) RecordJobRun(string, string, float64) {}
func (NopMetrics) RecordJobSkipped(string) {}
func (NopMetrics) RecordOrder(string, string) {}
func (NopMetrics) RecordAdmissionRejected(string) {}
func (NopMetrics) RecordDecision(string) {}
func (NopMetrics) RecordSpecialistVote(string, string) {}
func (NopMetrics) RecordSpecialistError(string) {}
func (NopMetrics) SetOpenPositions(int) {}
func (NopMetrics) RecordError(string) {}
func (NopMetrics) RecordLatency(string, float64) {}
