package models

import "time"

type Account struct {
	BuyingPower    float64 `json:"buying_power"`
	Equity         float64 `json:"equity"`
	Cash           float64 `json:"cash"`
	PortfolioValue float64 `json:"portfolio_value"`
}

// Position is broker-owned; it is re-fetched every cycle.
type Position struct {
	Symbol        string  `json:"symbol"`
	Qty           float64 `json:"qty"`
	AvgEntryPrice float64 `json:"avg_entry_price"`
	CurrentPrice  float64 `json:"current_price"`
}

const (
	OrderTypeMarket = "market"
	TimeInForceDay  = "day"
)

type OrderRequest struct {
	Symbol      string  `json:"symbol"`
	Qty         float64 `json:"qty"`
	Side        Side    `json:"side"`
	Type        string  `json:"type"`
	TimeInForce string  `json:"time_in_force"`
}

// MarketOrder builds a market, day order.
func MarketOrder(symbol string, qty float64, side Side) OrderRequest {
	return OrderRequest{
		Symbol:      symbol,
		Qty:         qty,
		Side:        side,
		Type:        OrderTypeMarket,
		TimeInForce: TimeInForceDay,
	}
}

type Order struct {
	ID             string    `json:"id"`
	ClientOrderID  string    `json:"client_order_id,omitempty"`
	Symbol         string    `json:"symbol"`
	Qty            float64   `json:"qty"`
	Side           Side      `json:"side"`
	Status         string    `json:"status"`
	FilledAvgPrice float64   `json:"filled_avg_price,omitempty"`
	SubmittedAt    time.Time `json:"submitted_at"`
}

// TradeUpdate is one event from the broker's order-update stream.
type TradeUpdate struct {
	Event     string    `json:"event"`
	OrderID   string    `json:"order_id"`
	Symbol    string    `json:"symbol"`
	Side      Side      `json:"side"`
	Qty       float64   `json:"qty"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}
