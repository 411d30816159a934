package alpaca

import (
	"context"
	"strconv"
	"strings"
	"time"

	"AutoTrader/internal/domain/models"
	domrepo "AutoTrader/internal/domain/repository"
	pkghttp "AutoTrader/pkg/http"
)

type accountDTO struct {
	BuyingPower    num `json:"buying_power"`
	Equity         num `json:"equity"`
	Cash           num `json:"cash"`
	PortfolioValue num `json:"portfolio_value"`
}

type positionDTO struct {
	Symbol        string `json:"symbol"`
	Qty           num    `json:"qty"`
	AvgEntryPrice num    `json:"avg_entry_price"`
	CurrentPrice  num    `json:"current_price"`
}

type orderDTO struct {
	ID             string    `json:"id"`
	ClientOrderID  string    `json:"client_order_id"`
	Symbol         string    `json:"symbol"`
	Qty            num       `json:"qty"`
	Side           string    `json:"side"`
	Status         string    `json:"status"`
	FilledAvgPrice num       `json:"filled_avg_price"`
	SubmittedAt    time.Time `json:"submitted_at"`
}

func (o orderDTO) model() models.Order {
	return models.Order{
		ID:             o.ID,
		ClientOrderID:  o.ClientOrderID,
		Symbol:         o.Symbol,
		Qty:            float64(o.Qty),
		Side:           models.Side(strings.ToUpper(o.Side)),
		Status:         o.Status,
		FilledAvgPrice: float64(o.FilledAvgPrice),
		SubmittedAt:    o.SubmittedAt,
	}
}

type orderBody struct {
	Symbol      string `json:"symbol"`
	Qty         string `json:"qty"`
	Side        string `json:"side"`
	Type        string `json:"type"`
	TimeInForce string `json:"time_in_force"`
}

// Broker is the Alpaca trading API behind domain Broker.
type Broker struct {
	c *Client
}

func NewBroker(c *Client) *Broker { return &Broker{c: c} }

func (b *Broker) Account(ctx context.Context) (models.Account, error) {
	var a accountDTO
	if err := b.c.getTrading(ctx, "/v2/account", &a); err != nil {
		return models.Account{}, err
	}
	return models.Account{
		BuyingPower:    float64(a.BuyingPower),
		Equity:         float64(a.Equity),
		Cash:           float64(a.Cash),
		PortfolioValue: float64(a.PortfolioValue),
	}, nil
}

func (b *Broker) Positions(ctx context.Context) ([]models.Position, error) {
	var ps []positionDTO
	if err := b.c.getTrading(ctx, "/v2/positions", &ps); err != nil {
		return nil, err
	}
	out := make([]models.Position, 0, len(ps))
	for _, p := range ps {
		out = append(out, models.Position{
			Symbol:        p.Symbol,
			Qty:           float64(p.Qty),
			AvgEntryPrice: float64(p.AvgEntryPrice),
			CurrentPrice:  float64(p.CurrentPrice),
		})
	}
	return out, nil
}

// SubmitOrder places the order. Order submission is not retried so a
// timeout after the broker accepted the order cannot double it.
func (b *Broker) SubmitOrder(ctx context.Context, req models.OrderRequest) (models.Order, error) {
	body := orderBody{
		Symbol:      req.Symbol,
		Qty:         strconv.FormatFloat(req.Qty, 'f', -1, 64),
		Side:        strings.ToLower(string(req.Side)),
		Type:        req.Type,
		TimeInForce: req.TimeInForce,
	}
	var o orderDTO
	if err := b.c.do(ctx, b.c.orders, pkghttp.MethodPost, b.c.tradingURL+"/v2/orders", nil, body, &o); err != nil {
		return models.Order{}, err
	}
	return o.model(), nil
}

var _ domrepo.Broker = (*Broker)(nil)
