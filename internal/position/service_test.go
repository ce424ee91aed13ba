package position

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/fundwatch/fund-engine/internal/model"
	"github.com/fundwatch/fund-engine/internal/store"
)

func seedLedger(t *testing.T, st *store.MemoryStore, events ...model.TradeEvent) {
	t.Helper()
	ctx := context.Background()
	for i := range events {
		ev := events[i]
		ev.IdempotencyKey = ev.TradeID // unique per test event
		if err := st.InsertTradeEvent(ctx, &ev); err != nil {
			t.Fatalf("seed trade %s: %v", ev.TradeID, err)
		}
	}
}

func TestRebuild_PersistsSnapshot(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	seedLedger(t, st, settledBuy("t1", day(0), d(1000), d(1.2345)))
	st.UpsertNAV(ctx, &model.NAV{FundCode: "F001", NavDate: day(1), Nav: d(1.30)})

	snap, err := NewRebuilder(st).Rebuild(ctx, "u1", "F001", day(10))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantShares := decimal.RequireFromString("810.0446")
	if !snap.Shares.Equal(wantShares) {
		t.Errorf("expected %s shares, got %s", wantShares, snap.Shares)
	}
	if !snap.LastNav.Equal(d(1.30)) {
		t.Errorf("expected last nav 1.30, got %s", snap.LastNav)
	}

	stored, err := st.GetPositionSnapshot(ctx, "u1", "F001")
	if err != nil {
		t.Fatalf("snapshot should be persisted: %v", err)
	}
	if !stored.Shares.Equal(snap.Shares) {
		t.Errorf("stored snapshot diverges: %s vs %s", stored.Shares, snap.Shares)
	}
}

func TestRebuild_NoMarketData(t *testing.T) {
	st := store.NewMemoryStore()
	seedLedger(t, st, settledBuy("t1", day(0), d(1000), d(1)))

	snap, err := NewRebuilder(st).Rebuild(context.Background(), "u1", "F001", day(10))
	if err != nil {
		t.Fatalf("missing nav must not fail the rebuild: %v", err)
	}
	if !snap.UnrealizedPnL.IsZero() {
		t.Errorf("expected zero unrealized P&L without nav, got %s", snap.UnrealizedPnL)
	}
}

func TestRebuild_EmptyLedger(t *testing.T) {
	st := store.NewMemoryStore()

	snap, err := NewRebuilder(st).Rebuild(context.Background(), "u1", "F001", day(10))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !snap.Shares.IsZero() || !snap.AvgCost.IsZero() {
		t.Errorf("expected a flat snapshot, got %s shares @ %s", snap.Shares, snap.AvgCost)
	}
}

func TestCurrent_LazyRebuildOnMiss(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	seedLedger(t, st, settledBuy("t1", day(0), d(1000), d(1)))

	r := NewRebuilder(st)
	snap, err := r.Current(ctx, "u1", "F001")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !snap.Shares.Equal(d(1000)) {
		t.Errorf("expected 1000 shares, got %s", snap.Shares)
	}

	// A second read hits the persisted snapshot.
	cached, err := r.Current(ctx, "u1", "F001")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cached.ComputedAt.Equal(snap.ComputedAt) {
		t.Error("second read should return the cached snapshot unchanged")
	}
}

func TestCurrent_RecomputesAfterInvalidation(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	seedLedger(t, st, settledBuy("t1", day(0), d(1000), d(1)))

	r := NewRebuilder(st)
	if _, err := r.Current(ctx, "u1", "F001"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	seedLedger(t, st, settledBuy("t2", day(1), d(500), d(1)))
	st.InvalidatePositionSnapshot(ctx, "u1", "F001")

	snap, err := r.Current(ctx, "u1", "F001")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !snap.Shares.Equal(d(1500)) {
		t.Errorf("expected recomputed 1500 shares, got %s", snap.Shares)
	}
}
