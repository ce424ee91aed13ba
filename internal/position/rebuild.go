// Package position reconstructs holdings by replaying the settled trade
// ledger. Reconstruction is a pure function: replaying the same ledger
// prefix twice yields identical values, so concurrent rebuilds for the
// same (user, fund) pair are safe to run redundantly.
package position

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fundwatch/fund-engine/internal/model"
)

// ErrNegativeShares signals ledger corruption: a sell drove holdings below
// zero. Submission validation prevents this upstream, so reconstruction
// halts loudly instead of clamping.
var ErrNegativeShares = errors.New("position: negative shares invariant violated")

// sharePlaces is the rounding applied to share quantities derived from
// amount / nav.
const sharePlaces = 4

// Holdings is the replay accumulator for one (user, fund) pair.
type Holdings struct {
	Shares      decimal.Decimal
	TotalCost   decimal.Decimal
	RealizedPnL decimal.Decimal
}

// AvgCost returns the running average purchase cost, zero when flat.
func (h Holdings) AvgCost() decimal.Decimal {
	if h.Shares.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	return h.TotalCost.Div(h.Shares).Round(sharePlaces)
}

// Replay folds the ordered settled events (trade_date ascending, insertion
// order as tiebreak) into holdings. Non-settled events and events after
// asOf are excluded; the snapshot reflects settlement, not intent.
//
// Buys accumulate shares = amount/nav at 4-decimal rounding and raise
// total cost by the amount. Sells reduce shares at unchanged average cost
// (average-cost-basis disposal, not FIFO); the realized P&L of each sale,
// proceeds − shares_sold·avg_cost, accumulates separately.
func Replay(events []model.TradeEvent, asOf time.Time) (Holdings, error) {
	h := Holdings{
		Shares:      decimal.Zero,
		TotalCost:   decimal.Zero,
		RealizedPnL: decimal.Zero,
	}

	for _, ev := range events {
		if ev.Status != model.TradeSettled || ev.TradeDate.After(asOf) {
			continue
		}

		switch ev.TradeType {
		case model.TradeBuy, model.TradePeriodicBuy:
			bought := ev.Amount.Div(ev.NavPrice).Round(sharePlaces)
			h.Shares = h.Shares.Add(bought)
			h.TotalCost = h.TotalCost.Add(ev.Amount)

		case model.TradeSell:
			if ev.Shares.GreaterThan(h.Shares) {
				return Holdings{}, fmt.Errorf("%w: sell of %s shares against %s held (trade %s)",
					ErrNegativeShares, ev.Shares, h.Shares, ev.TradeID)
			}
			avgCost := decimal.Zero
			if h.Shares.IsPositive() {
				avgCost = h.TotalCost.Div(h.Shares)
			}
			proceeds := ev.Shares.Mul(ev.NavPrice)
			costOfSold := ev.Shares.Mul(avgCost)
			h.RealizedPnL = h.RealizedPnL.Add(proceeds.Sub(costOfSold)).Round(sharePlaces)
			h.Shares = h.Shares.Sub(ev.Shares)
			// Cost falls proportionally so the average cost of what
			// remains is unchanged.
			h.TotalCost = h.TotalCost.Sub(costOfSold)
		}
	}

	return h, nil
}

// Snapshot materializes holdings into a PositionSnapshot, marking the
// currently-held shares against lastNav. Unrealized P&L reflects only
// held shares; realized P&L from disposals is carried separately.
func Snapshot(userID, fundCode string, h Holdings, asOf time.Time, lastNav decimal.Decimal, computedAt time.Time) *model.PositionSnapshot {
	unrealized := decimal.Zero
	if h.Shares.IsPositive() && lastNav.IsPositive() {
		unrealized = lastNav.Sub(h.AvgCost()).Mul(h.Shares).Round(sharePlaces)
	}
	return &model.PositionSnapshot{
		UserID:        userID,
		FundCode:      fundCode,
		Shares:        h.Shares,
		AvgCost:       h.AvgCost(),
		AsOfDate:      asOf,
		UnrealizedPnL: unrealized,
		RealizedPnL:   h.RealizedPnL,
		LastNav:       lastNav,
		ComputedAt:    computedAt,
	}
}
