// Package trade implements the trade event lifecycle: validated submission
// with idempotency keys, and the state machine advancing events from
// created through confirmed to settled.
//
// All monetary values use shopspring/decimal, never float64 for money.
package trade

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fundwatch/fund-engine/internal/model"
)

var (
	// ErrValidation marks a malformed trade request: wrong field
	// combination for the trade type, or a non-positive price. Rejected
	// before any state change, never retried automatically.
	ErrValidation = errors.New("trade: validation failed")

	// ErrInvalidState marks an attempted state-machine move that is not
	// permitted from the event's current state.
	ErrInvalidState = errors.New("trade: invalid state for transition")
)

// transitions is the closed transition table. Absent keys are terminal.
var transitions = map[model.TradeStatus][]model.TradeStatus{
	model.TradeCreated:   {model.TradeConfirmed, model.TradeCancelled, model.TradeFailed},
	model.TradeConfirmed: {model.TradeSettled, model.TradeCancelled, model.TradeFailed},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to model.TradeStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IdempotencyKey derives the submission idempotency key from the request
// identity fields: sha256(user:fund:type:date:amount_or_shares:nav:client_msg_id).
// Retried client requests with the same fields map to the same key.
func IdempotencyKey(userID, fundCode string, tradeType model.TradeType, tradeDate time.Time, amount, shares, navPrice decimal.Decimal, clientMsgID string) string {
	qty := amount.StringFixed(2)
	if tradeType == model.TradeSell {
		qty = shares.StringFixed(4)
	}
	if clientMsgID == "" {
		clientMsgID = "none"
	}
	parts := []string{
		userID,
		fundCode,
		string(tradeType),
		tradeDate.Format("2006-01-02"),
		qty,
		navPrice.StringFixed(6),
		clientMsgID,
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, ":")))
	return hex.EncodeToString(sum[:])
}

// ValidateRequest enforces the field-presence invariant: sell carries
// shares and no amount; buy/periodic_buy carry amount and no shares;
// nav_price is always positive.
func ValidateRequest(tradeType model.TradeType, shares, amount, navPrice decimal.Decimal) error {
	if navPrice.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: nav_price must be positive, got %s", ErrValidation, navPrice)
	}

	switch tradeType {
	case model.TradeBuy, model.TradePeriodicBuy:
		if amount.LessThanOrEqual(decimal.Zero) {
			return fmt.Errorf("%w: amount is required for %s", ErrValidation, tradeType)
		}
		if !shares.IsZero() {
			return fmt.Errorf("%w: shares is forbidden for %s", ErrValidation, tradeType)
		}
	case model.TradeSell:
		if shares.LessThanOrEqual(decimal.Zero) {
			return fmt.Errorf("%w: shares is required for sell", ErrValidation)
		}
		if !amount.IsZero() {
			return fmt.Errorf("%w: amount is forbidden for sell", ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown trade_type %q", ErrValidation, tradeType)
	}
	return nil
}

// SettleDate returns the trade date advanced by offsetDays business days,
// skipping Saturdays and Sundays (T+1 by default).
func SettleDate(tradeDate time.Time, offsetDays int) time.Time {
	d := tradeDate
	for i := 0; i < offsetDays; i++ {
		d = d.AddDate(0, 0, 1)
		for d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			d = d.AddDate(0, 0, 1)
		}
	}
	return d
}
