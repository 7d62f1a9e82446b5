package settlement

import (
	"errors"
	"fmt"

	"updown-trading-go/internal/models"

	"github.com/shopspring/decimal"
)

// ErrInvalidTradeState is returned for malformed trade data. The trade is left
// untouched for manual inspection.
var ErrInvalidTradeState = errors.New("invalid trade state")

var hundred = decimal.NewFromInt(100)

// Outcome is the resolved result of a trade and the balance credit it earns.
type Outcome struct {
	Result      string
	PayoutDelta decimal.Decimal
}

// Evaluate resolves a trade against the reference price. Pure: no I/O, no
// side effects.
//
// A predetermined result is authoritative and the reference price is ignored.
// Otherwise "up" wins iff the reference price is above the entry price and
// "down" wins iff it is below. Exact equality loses for both directions (house
// edge on ties). A win pays amount * (1 + profitPercentage/100); a loss pays
// nothing, the stake was already deducted when the trade opened.
func Evaluate(trade *models.Trade, referencePrice decimal.Decimal) (Outcome, error) {
	if trade.Amount.IsNegative() {
		return Outcome{}, fmt.Errorf("%w: negative amount %s", ErrInvalidTradeState, trade.Amount)
	}
	if trade.ProfitPercentage.IsNegative() {
		return Outcome{}, fmt.Errorf("%w: negative profit percentage %s", ErrInvalidTradeState, trade.ProfitPercentage)
	}
	if trade.Direction != models.DirectionUp && trade.Direction != models.DirectionDown {
		return Outcome{}, fmt.Errorf("%w: unknown direction %q", ErrInvalidTradeState, trade.Direction)
	}

	var won bool
	switch trade.PredeterminedResult {
	case models.ResultWin:
		won = true
	case models.ResultLose:
		won = false
	case "":
		if trade.Direction == models.DirectionUp {
			won = referencePrice.GreaterThan(trade.EntryPrice)
		} else {
			won = referencePrice.LessThan(trade.EntryPrice)
		}
	default:
		return Outcome{}, fmt.Errorf("%w: unknown predetermined result %q", ErrInvalidTradeState, trade.PredeterminedResult)
	}

	if !won {
		return Outcome{Result: models.ResultLose, PayoutDelta: decimal.Zero}, nil
	}

	// amount * (100 + pct) / 100, kept in integer-scaled decimal space so a
	// 50.00 stake at 80% pays exactly 90.00.
	payout := trade.Amount.Mul(hundred.Add(trade.ProfitPercentage)).Div(hundred)
	return Outcome{Result: models.ResultWin, PayoutDelta: payout}, nil
}
