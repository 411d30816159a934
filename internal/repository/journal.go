package repository

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"AutoTrader/internal/domain/models"
	domrepo "AutoTrader/internal/domain/repository"
	"AutoTrader/pkg/config"
	applogger "AutoTrader/pkg/logger"
	"AutoTrader/pkg/util"
)

const tradesSuffix = "_trades.json"

var ErrNothingToExport = errors.New("no trades to export")

// csvColumns is the fixed export header.
var csvColumns = []string{
	"id", "order_id", "symbol", "strategy", "side", "qty", "entry_price", "entry_time",
	"confidence", "stop_loss", "take_profit", "status", "exit_price", "exit_time",
	"pnl_amount", "pnl_pct", "reason",
}

type dayLog struct {
	Date        string         `json:"date"`
	TotalTrades int            `json:"total_trades"`
	Trades      []models.Trade `json:"trades"`
}

type strategyLog struct {
	Strategy    string         `json:"strategy"`
	Date        string         `json:"date"`
	TotalTrades int            `json:"total_trades"`
	Trades      []models.Trade `json:"trades"`
}

// TradeLogger is the date-partitioned JSON trade journal. Each day has one
// file with every trade and one file per strategy. Trades are partitioned by
// their entry date in the market time zone.
type TradeLogger struct {
	dir         string
	strategyDir string
	loc         *time.Location

	mu sync.Mutex
	l  *applogger.Logger
}

func NewTradeLogger(cfg config.JournalConfig, loc *time.Location) (*TradeLogger, error) {
	if loc == nil {
		loc = time.UTC
	}
	for _, d := range []string{cfg.Dir, cfg.StrategyDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("create journal dir %s: %w", d, err)
		}
	}
	return &TradeLogger{dir: cfg.Dir, strategyDir: cfg.StrategyDir, loc: loc, l: applogger.Nop()}, nil
}

// SetLogger injects a structured logger.
func (j *TradeLogger) SetLogger(l *applogger.Logger) {
	if l != nil {
		j.l = l
	}
}

func (j *TradeLogger) DateOf(t time.Time) string {
	return t.In(j.loc).Format(util.DateLayout)
}

func (j *TradeLogger) dayPath(date string) string {
	return filepath.Join(j.dir, date+tradesSuffix)
}

func (j *TradeLogger) strategyPath(strategy, date string) string {
	return filepath.Join(j.strategyDir, strategy+"_"+date+tradesSuffix)
}

// Append writes the trade to its day file and, when it has a strategy, to
// the strategy file. A record with the same id is replaced in place, so
// repeating an Append after a partial failure (day file written, strategy
// file not) leaves exactly one copy in each file.
func (j *TradeLogger) Append(ctx context.Context, t models.Trade) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	date := j.DateOf(t.EntryTime)
	day, err := j.readDay(date)
	if err != nil {
		return err
	}
	day.Trades = upsertTrade(day.Trades, t)
	if err := j.writeDay(day); err != nil {
		return err
	}

	if t.Strategy != "" {
		sl, err := j.readStrategy(t.Strategy, date)
		if err != nil {
			return err
		}
		sl.Trades = upsertTrade(sl.Trades, t)
		if err := j.writeStrategy(sl); err != nil {
			return err
		}
	}

	j.l.Info("trade logged",
		applogger.String("symbol", t.Symbol),
		applogger.String("side", string(t.Side)),
		applogger.Float64("entry_price", t.EntryPrice),
		applogger.String("date", date))
	return nil
}

// UpdateTrade applies fn to the trade matching id or order id in date's
// partition and rewrites both files.
func (j *TradeLogger) UpdateTrade(ctx context.Context, date, id string, fn func(*models.Trade)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	day, err := j.readDay(date)
	if err != nil {
		return err
	}
	idx := findTrade(day.Trades, id)
	if idx < 0 {
		return fmt.Errorf("%w: %s on %s", domrepo.ErrTradeNotFound, id, date)
	}
	fn(&day.Trades[idx])
	updated := day.Trades[idx]
	if err := j.writeDay(day); err != nil {
		return err
	}

	if updated.Strategy != "" {
		sl, err := j.readStrategy(updated.Strategy, date)
		if err != nil {
			return err
		}
		if k := findTrade(sl.Trades, updated.ID); k >= 0 {
			sl.Trades[k] = updated
			if err := j.writeStrategy(sl); err != nil {
				return err
			}
		}
	}

	j.l.Info("trade updated", applogger.String("trade_id", updated.ID), applogger.String("status", string(updated.Status)))
	return nil
}

func upsertTrade(trades []models.Trade, t models.Trade) []models.Trade {
	for i := range trades {
		if trades[i].ID == t.ID {
			trades[i] = t
			return trades
		}
	}
	return append(trades, t)
}

func findTrade(trades []models.Trade, id string) int {
	for i := range trades {
		if trades[i].ID == id || (trades[i].OrderID != "" && trades[i].OrderID == id) {
			return i
		}
	}
	return -1
}

// DailyTrades returns the trades of one day in insertion order. A day with
// no file is empty.
func (j *TradeLogger) DailyTrades(date string) ([]models.Trade, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	day, err := j.readDay(date)
	if err != nil {
		return nil, err
	}
	return day.Trades, nil
}

func (j *TradeLogger) StrategyTrades(strategy, date string) ([]models.Trade, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	sl, err := j.readStrategy(strategy, date)
	if err != nil {
		return nil, err
	}
	return sl.Trades, nil
}

// Query returns matching trades with entry dates in [from, to], in date then
// insertion order.
func (j *TradeLogger) Query(ctx context.Context, from, to time.Time, f domrepo.TradeFilter) ([]models.Trade, error) {
	var out []models.Trade
	for _, date := range util.DaysBetween(from, to, j.loc) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		trades, err := j.DailyTrades(date)
		if err != nil {
			return nil, err
		}
		for i := range trades {
			if f.Match(&trades[i]) {
				out = append(out, trades[i])
			}
		}
	}
	return out, nil
}

// AvailableDates lists every day with a journal file, most recent first.
func (j *TradeLogger) AvailableDates() ([]string, error) {
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		return nil, fmt.Errorf("list journal: %w", err)
	}
	var dates []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, tradesSuffix) {
			continue
		}
		date := strings.TrimSuffix(name, tradesSuffix)
		if _, err := time.Parse(util.DateLayout, date); err != nil {
			continue
		}
		dates = append(dates, date)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	return dates, nil
}

func (j *TradeLogger) DailyStatistics(date string) (models.DailyStats, error) {
	trades, err := j.DailyTrades(date)
	if err != nil {
		return models.DailyStats{}, err
	}
	return dailyStats(date, trades), nil
}

func (j *TradeLogger) StrategyStatistics(strategy, date string) (models.StrategyStats, error) {
	trades, err := j.StrategyTrades(strategy, date)
	if err != nil {
		return models.StrategyStats{}, err
	}
	return models.StrategyStats{Strategy: strategy, DailyStats: dailyStats(date, trades)}, nil
}

func dailyStats(date string, trades []models.Trade) models.DailyStats {
	s := models.DailyStats{Date: date, TotalTrades: len(trades)}

	total := decimal.Zero
	for i := range trades {
		t := &trades[i]
		if t.Status == models.TradeOpen {
			s.OpenTrades++
			continue
		}
		if t.Status != models.TradeClosed {
			continue
		}
		s.ClosedTrades++
		pnl := t.PnL()
		switch {
		case pnl > 0:
			s.WinningTrades++
		case pnl < 0:
			s.LosingTrades++
		}
		total = total.Add(decimal.NewFromFloat(pnl))
		if s.BestTrade == nil || pnl > s.BestTrade.PnL() {
			c := t.Clone()
			s.BestTrade = &c
		}
		if s.WorstTrade == nil || pnl < s.WorstTrade.PnL() {
			c := t.Clone()
			s.WorstTrade = &c
		}
	}
	if s.ClosedTrades == 0 {
		return s
	}

	closed := decimal.NewFromInt(int64(s.ClosedTrades))
	s.TotalPnL = total.Round(2).InexactFloat64()
	s.AvgPnL = total.Div(closed).Round(2).InexactFloat64()
	s.WinRate = decimal.NewFromInt(int64(s.WinningTrades)).Mul(decimal.NewFromInt(100)).Div(closed).Round(2).InexactFloat64()
	return s
}

// ExportCSV writes every trade entered in [from, to] to w.
func (j *TradeLogger) ExportCSV(ctx context.Context, from, to time.Time, w io.Writer) error {
	trades, err := j.Query(ctx, from, to, domrepo.TradeFilter{})
	if err != nil {
		return err
	}
	return writeCSV(w, trades)
}

// ExportDailyCSV writes trades_<date>.csv into the journal directory and
// returns its path.
func (j *TradeLogger) ExportDailyCSV(date string) (string, error) {
	trades, err := j.DailyTrades(date)
	if err != nil {
		return "", err
	}
	if len(trades) == 0 {
		return "", fmt.Errorf("%w for %s", ErrNothingToExport, date)
	}

	path := filepath.Join(j.dir, "trades_"+date+".csv")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create export: %w", err)
	}
	if err := writeCSV(f, trades); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	j.l.Info("exported trades", applogger.String("path", path), applogger.Int("trades", len(trades)))
	return path, nil
}

func writeCSV(w io.Writer, trades []models.Trade) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvColumns); err != nil {
		return err
	}
	for i := range trades {
		if err := cw.Write(csvRecord(&trades[i])); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func csvRecord(t *models.Trade) []string {
	num := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	opt := func(v *float64) string {
		if v == nil {
			return ""
		}
		return num(*v)
	}
	exit := ""
	if t.ExitTime != nil {
		exit = t.ExitTime.Format(time.RFC3339)
	}
	return []string{
		t.ID, t.OrderID, t.Symbol, t.Strategy, string(t.Side), num(t.Qty), num(t.EntryPrice),
		t.EntryTime.Format(time.RFC3339), num(t.Confidence), num(t.StopLoss), num(t.TakeProfit),
		string(t.Status), opt(t.ExitPrice), exit, opt(t.PnLAmount), opt(t.PnLPct), t.ExitReason,
	}
}

func (j *TradeLogger) readDay(date string) (dayLog, error) {
	day := dayLog{Date: date}
	if _, err := util.ReadJSON(j.dayPath(date), &day); err != nil {
		return dayLog{}, fmt.Errorf("read journal %s: %w", date, err)
	}
	day.Date = date
	return day, nil
}

func (j *TradeLogger) writeDay(day dayLog) error {
	day.TotalTrades = len(day.Trades)
	if err := util.WriteJSONAtomic(j.dayPath(day.Date), day); err != nil {
		return fmt.Errorf("write journal %s: %w", day.Date, err)
	}
	return nil
}

func (j *TradeLogger) readStrategy(strategy, date string) (strategyLog, error) {
	sl := strategyLog{Strategy: strategy, Date: date}
	if _, err := util.ReadJSON(j.strategyPath(strategy, date), &sl); err != nil {
		return strategyLog{}, fmt.Errorf("read strategy journal %s/%s: %w", strategy, date, err)
	}
	sl.Strategy, sl.Date = strategy, date
	return sl, nil
}

func (j *TradeLogger) writeStrategy(sl strategyLog) error {
	sl.TotalTrades = len(sl.Trades)
	if err := util.WriteJSONAtomic(j.strategyPath(sl.Strategy, sl.Date), sl); err != nil {
		return fmt.Errorf("write strategy journal %s/%s: %w", sl.Strategy, sl.Date, err)
	}
	return nil
}
