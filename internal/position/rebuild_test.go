package position

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fundwatch/fund-engine/internal/model"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func day(n int) time.Time {
	return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func settledBuy(id string, day time.Time, amount, nav decimal.Decimal) model.TradeEvent {
	return model.TradeEvent{
		TradeID:   id,
		UserID:    "u1",
		FundCode:  "F001",
		TradeType: model.TradeBuy,
		Amount:    amount,
		NavPrice:  nav,
		TradeDate: day,
		Status:    model.TradeSettled,
	}
}

func settledSell(id string, day time.Time, shares, nav decimal.Decimal) model.TradeEvent {
	return model.TradeEvent{
		TradeID:   id,
		UserID:    "u1",
		FundCode:  "F001",
		TradeType: model.TradeSell,
		Shares:    shares,
		NavPrice:  nav,
		TradeDate: day,
		Status:    model.TradeSettled,
	}
}

func TestReplay_SingleBuy(t *testing.T) {
	events := []model.TradeEvent{
		settledBuy("t1", day(0), d(1000), d(1.2345)),
	}
	h, err := Replay(events, day(10))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 1000 / 1.2345 rounded to 4 decimal places.
	wantShares := decimal.RequireFromString("810.0446")
	if !h.Shares.Equal(wantShares) {
		t.Errorf("expected %s shares, got %s", wantShares, h.Shares)
	}
	if !h.TotalCost.Equal(d(1000)) {
		t.Errorf("expected total cost 1000, got %s", h.TotalCost)
	}
}

func TestReplay_BuySellAverageCost(t *testing.T) {
	events := []model.TradeEvent{
		settledBuy("t1", day(0), d(1000), d(1)),  // 1000 shares
		settledBuy("t2", day(1), d(1000), d(2)),  // 500 shares
		settledSell("t3", day(2), d(500), d(1.5)), // avg cost 1.3333...
	}
	h, err := Replay(events, day(10))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !h.Shares.Equal(d(1000)) {
		t.Errorf("expected 1000 shares remaining, got %s", h.Shares)
	}
	// Selling at unchanged average cost leaves avg_cost where it was.
	wantAvg := decimal.RequireFromString("1.3333")
	if !h.AvgCost().Equal(wantAvg) {
		t.Errorf("expected avg cost %s, got %s", wantAvg, h.AvgCost())
	}
	// proceeds 750 − cost of sold 666.6667 ≈ 83.3333.
	wantPnL := decimal.RequireFromString("83.3333")
	if !h.RealizedPnL.Equal(wantPnL) {
		t.Errorf("expected realized P&L %s, got %s", wantPnL, h.RealizedPnL)
	}
}

func TestReplay_FullDisposal(t *testing.T) {
	events := []model.TradeEvent{
		settledBuy("t1", day(0), d(1000), d(1)),
		settledSell("t2", day(1), d(1000), d(1.2)),
	}
	h, err := Replay(events, day(10))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !h.Shares.IsZero() {
		t.Errorf("expected flat position, got %s shares", h.Shares)
	}
	if !h.AvgCost().IsZero() {
		t.Errorf("expected zero avg cost when flat, got %s", h.AvgCost())
	}
	if !h.RealizedPnL.Equal(d(200)) {
		t.Errorf("expected realized P&L 200, got %s", h.RealizedPnL)
	}
}

func TestReplay_OversellFails(t *testing.T) {
	events := []model.TradeEvent{
		settledBuy("t1", day(0), d(1000), d(1)),
		settledSell("t2", day(1), d(1500), d(1.2)),
	}
	_, err := Replay(events, day(10))
	if !errors.Is(err, ErrNegativeShares) {
		t.Errorf("expected ErrNegativeShares, got %v", err)
	}
}

func TestReplay_SkipsNonSettled(t *testing.T) {
	pending := settledBuy("t2", day(1), d(500), d(1))
	pending.Status = model.TradeConfirmed
	cancelled := settledBuy("t3", day(2), d(500), d(1))
	cancelled.Status = model.TradeCancelled

	events := []model.TradeEvent{
		settledBuy("t1", day(0), d(1000), d(1)),
		pending,
		cancelled,
	}
	h, err := Replay(events, day(10))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !h.Shares.Equal(d(1000)) {
		t.Errorf("only settled events count: expected 1000 shares, got %s", h.Shares)
	}
}

func TestReplay_RespectsAsOf(t *testing.T) {
	events := []model.TradeEvent{
		settledBuy("t1", day(0), d(1000), d(1)),
		settledBuy("t2", day(5), d(1000), d(1)),
	}
	h, err := Replay(events, day(2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !h.Shares.Equal(d(1000)) {
		t.Errorf("events after as-of must be excluded: expected 1000, got %s", h.Shares)
	}
}

func TestReplay_Deterministic(t *testing.T) {
	events := []model.TradeEvent{
		settledBuy("t1", day(0), d(1000), d(1.2345)),
		settledBuy("t2", day(1), d(250.50), d(1.3001)),
		settledSell("t3", day(2), d(400), d(1.4)),
		settledBuy("t4", day(3), d(99.99), d(1.25)),
	}

	first, err := Replay(events, day(10))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := Replay(events, day(10))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !first.Shares.Equal(second.Shares) ||
		!first.TotalCost.Equal(second.TotalCost) ||
		!first.RealizedPnL.Equal(second.RealizedPnL) {
		t.Errorf("replay must be deterministic: %+v vs %+v", first, second)
	}
}

func TestReplay_PeriodicBuyAccumulates(t *testing.T) {
	events := []model.TradeEvent{
		settledBuy("t1", day(0), d(1000), d(1)),
	}
	periodic := settledBuy("t2", day(1), d(200), d(1))
	periodic.TradeType = model.TradePeriodicBuy
	events = append(events, periodic)

	h, err := Replay(events, day(10))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !h.Shares.Equal(d(1200)) {
		t.Errorf("expected 1200 shares, got %s", h.Shares)
	}
}

func TestSnapshot_UnrealizedPnL(t *testing.T) {
	h := Holdings{
		Shares:      d(1000),
		TotalCost:   decimal.RequireFromString("1333.3333333333333335"),
		RealizedPnL: decimal.RequireFromString("83.3333"),
	}
	snap := Snapshot("u1", "F001", h, day(10), d(1.5), time.Now().UTC())

	// (1.5 − 1.3333) × 1000.
	want := decimal.RequireFromString("166.7")
	if !snap.UnrealizedPnL.Equal(want) {
		t.Errorf("expected unrealized P&L %s, got %s", want, snap.UnrealizedPnL)
	}
	if !snap.RealizedPnL.Equal(h.RealizedPnL) {
		t.Errorf("realized P&L must carry through, got %s", snap.RealizedPnL)
	}
}

func TestSnapshot_NoNavNoUnrealized(t *testing.T) {
	h := Holdings{Shares: d(100), TotalCost: d(100)}
	snap := Snapshot("u1", "F001", h, day(0), decimal.Zero, time.Now().UTC())
	if !snap.UnrealizedPnL.IsZero() {
		t.Errorf("expected zero unrealized P&L without market data, got %s", snap.UnrealizedPnL)
	}
}
