package models

import "time"

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

type TradeStatus string

const (
	TradeOpen   TradeStatus = "OPEN"
	TradeClosed TradeStatus = "CLOSED"
)

const (
	ExitStopLoss   = "stop_loss"
	ExitTakeProfit = "take_profit"
)

// Trade is a journal record. It is created OPEN on a filled entry order and
// closed at most once by the rebalance path.
type Trade struct {
	ID          string      `json:"id"`
	OrderID     string      `json:"order_id,omitempty"`
	Symbol      string      `json:"symbol"`
	Strategy    string      `json:"strategy,omitempty"`
	Side        Side        `json:"side"`
	Qty         float64     `json:"qty"`
	EntryPrice  float64     `json:"entry_price"`
	EntryTime   time.Time   `json:"entry_time"`
	Confidence  float64     `json:"confidence"`
	StopLoss    float64     `json:"stop_loss"`
	TakeProfit  float64     `json:"take_profit"`
	Status      TradeStatus `json:"status"`
	ExitPrice   *float64    `json:"exit_price,omitempty"`
	ExitTime    *time.Time  `json:"exit_time,omitempty"`
	PnLAmount   *float64    `json:"pnl_amount,omitempty"`
	PnLPct      *float64    `json:"pnl_pct,omitempty"`
	ExitReason  string      `json:"reason,omitempty"`
	ExitOrderID string      `json:"exit_order_id,omitempty"`
}

func (t *Trade) IsOpen() bool { return t.Status == TradeOpen }

// Clone returns a deep copy.
func (t Trade) Clone() Trade {
	c := t
	if t.ExitPrice != nil {
		v := *t.ExitPrice
		c.ExitPrice = &v
	}
	if t.ExitTime != nil {
		v := *t.ExitTime
		c.ExitTime = &v
	}
	if t.PnLAmount != nil {
		v := *t.PnLAmount
		c.PnLAmount = &v
	}
	if t.PnLPct != nil {
		v := *t.PnLPct
		c.PnLPct = &v
	}
	return c
}

// Close marks the trade CLOSED with the exit fill.
func (t *Trade) Close(price float64, at time.Time, pnl, pnlPct float64, reason, orderID string) {
	t.Status = TradeClosed
	t.ExitPrice = &price
	t.ExitTime = &at
	t.PnLAmount = &pnl
	t.PnLPct = &pnlPct
	t.ExitReason = reason
	t.ExitOrderID = orderID
}

// PnL returns the realized P&L amount, zero while open.
func (t *Trade) PnL() float64 {
	if t.PnLAmount == nil {
		return 0
	}
	return *t.PnLAmount
}

// Signal is a BUY recommendation log entry.
type Signal struct {
	Symbol     string    `json:"symbol"`
	Price      float64   `json:"price"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}
