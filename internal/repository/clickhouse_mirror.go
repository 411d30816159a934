package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"AutoTrader/internal/domain/models"
	pkgch "AutoTrader/pkg/clickhouse"
	applogger "AutoTrader/pkg/logger"
)

// TradeSchema returns the idempotent DDL for the analytics mirror. Trades use
// ReplacingMergeTree on version so a close replaces the open row.
func TradeSchema(database string) []string {
	return []string{
		fmt.Sprintf(`CREATE DATABASE IF NOT EXISTS %s`, database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.trades (
            id String,
            order_id String,
            symbol LowCardinality(String),
            strategy LowCardinality(String),
            side LowCardinality(String),
            qty Float64,
            entry_price Float64,
            entry_time DateTime64(3, 'UTC'),
            confidence Float64,
            stop_loss Float64,
            take_profit Float64,
            status LowCardinality(String),
            exit_price Nullable(Float64),
            exit_time Nullable(DateTime64(3, 'UTC')),
            pnl_amount Nullable(Float64),
            pnl_pct Nullable(Float64),
            exit_reason String,
            version UInt64
        ) ENGINE = ReplacingMergeTree(version)
        PARTITION BY toYYYYMM(entry_time)
        ORDER BY (symbol, entry_time, id)`, database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.recommendations (
            ts DateTime64(3, 'UTC'),
            symbol LowCardinality(String),
            action LowCardinality(String),
            signal UInt8,
            confidence Float64,
            price Float64,
            buy_votes UInt16,
            responding UInt16
        ) ENGINE = MergeTree
        PARTITION BY toYYYYMM(ts)
        ORDER BY (symbol, ts)
        TTL toDateTime(ts) + INTERVAL 180 DAY`, database),
	}
}

// CHTradeMirror copies trade lifecycle events and recommendations into
// ClickHouse for analytics. The JSON journal stays the source of truth.
type CHTradeMirror struct {
	db       *sql.DB
	database string
	l        *applogger.Logger
}

func NewCHTradeMirror(ch *pkgch.Client, database string) *CHTradeMirror {
	return &CHTradeMirror{db: ch.DB(), database: database, l: applogger.Nop()}
}

// SetLogger injects a structured logger.
func (m *CHTradeMirror) SetLogger(l *applogger.Logger) {
	if l != nil {
		m.l = l.Component("clickhouse_mirror")
	}
}

func (m *CHTradeMirror) Name() string { return "clickhouse" }

func (m *CHTradeMirror) TradeOpened(ctx context.Context, t models.Trade) error {
	return m.upsert(ctx, t)
}

func (m *CHTradeMirror) TradeClosed(ctx context.Context, t models.Trade) error {
	return m.upsert(ctx, t)
}

func (m *CHTradeMirror) Recommendation(ctx context.Context, r models.Recommendation) error {
	q := fmt.Sprintf(`INSERT INTO %s.recommendations
        (ts, symbol, action, signal, confidence, price, buy_votes, responding)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, m.database)
	if _, err := m.db.ExecContext(ctx, q, r.Time.UTC(), r.Symbol, string(r.Action), uint8(r.Signal),
		r.Confidence, r.Price, uint16(r.BuyVotes), uint16(r.Responding)); err != nil {
		return fmt.Errorf("insert recommendation %s: %w", r.Symbol, err)
	}
	return nil
}

func (m *CHTradeMirror) upsert(ctx context.Context, t models.Trade) error {
	start := time.Now()
	q := fmt.Sprintf(`INSERT INTO %s.trades (%s) VALUES (%s)`,
		m.database, strings.Join(tradeColumns, ", "), placeholders(len(tradeColumns)))
	if _, err := m.db.ExecContext(ctx, q, tradeRow(t, uint64(start.UnixNano()))...); err != nil {
		m.l.Error("clickhouse trade insert error",
			applogger.String("symbol", t.Symbol),
			applogger.String("id", t.ID),
			applogger.String("status", string(t.Status)),
			applogger.Error(err))
		return fmt.Errorf("insert trade %s: %w", t.ID, err)
	}
	m.l.Debug("clickhouse trade insert ok",
		applogger.String("symbol", t.Symbol),
		applogger.String("status", string(t.Status)),
		applogger.Duration("duration_ms", time.Since(start)))
	return nil
}

// Query returns the latest version of each trade for symbol in [from, to],
// newest first. An empty symbol matches every symbol.
func (m *CHTradeMirror) Query(ctx context.Context, symbol string, from, to time.Time, limit int) ([]models.Trade, error) {
	if limit <= 0 {
		limit = 500
	}
	where := "entry_time >= ? AND entry_time <= ?"
	args := []interface{}{from.UTC(), to.UTC()}
	if symbol != "" {
		where += " AND symbol = ?"
		args = append(args, symbol)
	}
	args = append(args, limit)

	q := fmt.Sprintf(`SELECT %s FROM %s.trades FINAL WHERE %s ORDER BY entry_time DESC LIMIT ?`,
		strings.Join(tradeColumns[:len(tradeColumns)-1], ", "), m.database, where)
	rows, err := m.db.QueryContext(ctx, q, args...)
	if err != nil {
		m.l.Error("clickhouse trade query error", applogger.String("symbol", symbol), applogger.Error(err))
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	out := make([]models.Trade, 0, 64)
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

var tradeColumns = []string{
	"id", "order_id", "symbol", "strategy", "side", "qty", "entry_price", "entry_time",
	"confidence", "stop_loss", "take_profit", "status", "exit_price", "exit_time",
	"pnl_amount", "pnl_pct", "exit_reason", "version",
}

func tradeRow(t models.Trade, version uint64) []interface{} {
	var exitTime interface{}
	if t.ExitTime != nil {
		exitTime = t.ExitTime.UTC()
	}
	return []interface{}{
		t.ID, t.OrderID, t.Symbol, t.Strategy, string(t.Side), t.Qty, t.EntryPrice, t.EntryTime.UTC(),
		t.Confidence, t.StopLoss, t.TakeProfit, string(t.Status),
		nullableFloat(t.ExitPrice), exitTime, nullableFloat(t.PnLAmount), nullableFloat(t.PnLPct),
		t.ExitReason, version,
	}
}

func scanTrade(rows *sql.Rows) (models.Trade, error) {
	var (
		t                      models.Trade
		side, status           string
		exitPrice, pnl, pnlPct sql.NullFloat64
		exitTime               sql.NullTime
	)
	err := rows.Scan(&t.ID, &t.OrderID, &t.Symbol, &t.Strategy, &side, &t.Qty, &t.EntryPrice, &t.EntryTime,
		&t.Confidence, &t.StopLoss, &t.TakeProfit, &status, &exitPrice, &exitTime, &pnl, &pnlPct, &t.ExitReason)
	if err != nil {
		return t, err
	}
	t.Side = models.Side(side)
	t.Status = models.TradeStatus(status)
	if exitPrice.Valid {
		t.ExitPrice = &exitPrice.Float64
	}
	if exitTime.Valid {
		t.ExitTime = &exitTime.Time
	}
	if pnl.Valid {
		t.PnLAmount = &pnl.Float64
	}
	if pnlPct.Valid {
		t.PnLPct = &pnlPct.Float64
	}
	return t, nil
}

func nullableFloat(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
