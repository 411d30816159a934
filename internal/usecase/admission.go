package usecase

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"AutoTrader/internal/domain/models"
	"AutoTrader/pkg/logger"
)

// Admission rejection kinds, used as metric labels.
const (
	rejectDuplicate   = "duplicate"
	rejectMaxOpen     = "max_open_positions"
	rejectAccount     = "account"
	rejectBuyingPower = "buying_power"
	rejectSize        = "size"
)

type admission struct {
	ok      bool
	kind    string
	reason  string
	account models.Account
}

// CanOpenPosition reports whether a new position in symbol may be opened and,
// when it may, the account snapshot used to size it.
func (t *LiveTrader) CanOpenPosition(ctx context.Context, symbol string) (bool, string, models.Account) {
	a := t.admit(ctx, symbol)
	if a.ok {
		return true, "ready to trade", a.account
	}
	return false, a.reason, a.account
}

func (t *LiveTrader) admit(ctx context.Context, symbol string) admission {
	positions, err := t.broker.Positions(ctx)
	if err != nil {
		t.logger.Warn("failed to get positions", logger.String("symbol", symbol), logger.Error(err))
		return admission{kind: rejectAccount, reason: "could not get positions"}
	}
	t.metrics.SetOpenPositions(len(positions))

	for _, p := range positions {
		if p.Symbol == symbol {
			return admission{kind: rejectDuplicate, reason: "already have open position"}
		}
	}
	if len(positions) >= t.trading.MaxOpenPositions {
		return admission{kind: rejectMaxOpen, reason: fmt.Sprintf("max open positions (%d) reached", t.trading.MaxOpenPositions)}
	}

	acct, err := t.broker.Account(ctx)
	if err != nil {
		t.logger.Warn("failed to get account info", logger.Error(err))
		return admission{kind: rejectAccount, reason: "could not get account info"}
	}

	required := decimal.NewFromFloat(t.trading.MaxPositionSize).Mul(decimal.NewFromInt(100))
	if decimal.NewFromFloat(acct.BuyingPower).LessThan(required) {
		return admission{
			kind:    rejectBuyingPower,
			reason:  fmt.Sprintf("insufficient buying power ($%.2f)", acct.BuyingPower),
			account: acct,
		}
	}
	return admission{ok: true, account: acct}
}

// PositionSize returns floor(buyingPower * pct/100 / price) whole shares.
// A non-positive price sizes to zero.
func PositionSize(buyingPower, pct, price float64) int64 {
	if price <= 0 || buyingPower <= 0 || pct <= 0 {
		return 0
	}
	budget := decimal.NewFromFloat(buyingPower).
		Mul(decimal.NewFromFloat(pct)).
		Div(decimal.NewFromInt(100))
	return budget.Div(decimal.NewFromFloat(price)).Floor().IntPart()
}
