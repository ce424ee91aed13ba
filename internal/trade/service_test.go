package trade

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fundwatch/fund-engine/internal/model"
	"github.com/fundwatch/fund-engine/internal/store"
)

func newTestService() (*Service, *store.MemoryStore) {
	st := store.NewMemoryStore()
	return NewService(st, 1), st
}

func buyRequest() SubmitRequest {
	return SubmitRequest{
		UserID:    "u1",
		FundCode:  "F001",
		TradeType: model.TradeBuy,
		Amount:    d(1000),
		NavPrice:  d(1.2345),
		TradeDate: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
	}
}

func TestSubmit_CreatesEvent(t *testing.T) {
	svc, _ := newTestService()

	ev, err := svc.Submit(context.Background(), buyRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Status != model.TradeCreated {
		t.Errorf("expected status created, got %s", ev.Status)
	}
	if ev.TradeID == "" {
		t.Error("expected a trade ID")
	}
	if ev.IdempotencyKey == "" {
		t.Error("expected a derived idempotency key")
	}
	// T+1 from Monday is Tuesday.
	want := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)
	if !ev.SettleDate.Equal(want) {
		t.Errorf("expected settle date %s, got %s", want, ev.SettleDate)
	}
}

func TestSubmit_DuplicateReturnsExisting(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	first, err := svc.Submit(ctx, buyRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := svc.Submit(ctx, buyRequest())
	if err != nil {
		t.Fatalf("duplicate submission should not error: %v", err)
	}
	if second.TradeID != first.TradeID {
		t.Errorf("expected the original event back, got %s vs %s", second.TradeID, first.TradeID)
	}
}

func TestSubmit_DuplicateAfterTransition(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	first, _ := svc.Submit(ctx, buyRequest())
	if _, err := svc.Confirm(ctx, first.TradeID); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	// The retried submission returns the stored event in its current
	// state; it does not reset or duplicate it.
	second, err := svc.Submit(ctx, buyRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.TradeID != first.TradeID {
		t.Error("expected the original event back")
	}
	if second.Status != model.TradeConfirmed {
		t.Errorf("expected confirmed, got %s", second.Status)
	}
}

func TestSubmit_ExplicitKeyWins(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	req := buyRequest()
	req.IdempotencyKey = "client-key-1"
	first, err := svc.Submit(ctx, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.IdempotencyKey != "client-key-1" {
		t.Errorf("expected the client key to be retained, got %s", first.IdempotencyKey)
	}

	// Different fields, same client key: still the same logical submission.
	req.Amount = d(2000)
	second, err := svc.Submit(ctx, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.TradeID != first.TradeID {
		t.Error("same client key must map to the same event")
	}
}

func TestSubmit_Validation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*SubmitRequest)
	}{
		{"missing user", func(r *SubmitRequest) { r.UserID = "" }},
		{"missing fund", func(r *SubmitRequest) { r.FundCode = "" }},
		{"missing trade date", func(r *SubmitRequest) { r.TradeDate = time.Time{} }},
		{"zero amount buy", func(r *SubmitRequest) { r.Amount = decimal.Zero }},
		{"buy with shares", func(r *SubmitRequest) { r.Shares = d(10) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := buyRequest()
			tt.mutate(&req)
			_, err := svc.Submit(ctx, req)
			if !errors.Is(err, ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestLifecycle_HappyPath(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	ev, _ := svc.Submit(ctx, buyRequest())

	confirmed, err := svc.Confirm(ctx, ev.TradeID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if confirmed.Status != model.TradeConfirmed {
		t.Errorf("expected confirmed, got %s", confirmed.Status)
	}

	settled, err := svc.Settle(ctx, ev.TradeID, ev.SettleDate)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if settled.Status != model.TradeSettled {
		t.Errorf("expected settled, got %s", settled.Status)
	}
}

func TestSettle_RequiresConfirmed(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	ev, _ := svc.Submit(ctx, buyRequest())
	_, err := svc.Settle(ctx, ev.TradeID, ev.SettleDate)
	if !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState settling a created trade, got %v", err)
	}
}

func TestConfirm_Twice(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	ev, _ := svc.Submit(ctx, buyRequest())
	if _, err := svc.Confirm(ctx, ev.TradeID); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	_, err := svc.Confirm(ctx, ev.TradeID)
	if !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState on double confirm, got %v", err)
	}
}

func TestCancel_RecordsReason(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	ev, _ := svc.Submit(ctx, buyRequest())
	cancelled, err := svc.Cancel(ctx, ev.TradeID, "user requested")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != model.TradeCancelled {
		t.Errorf("expected cancelled, got %s", cancelled.Status)
	}
	if cancelled.Reason != "user requested" {
		t.Errorf("expected reason recorded, got %q", cancelled.Reason)
	}
}

func TestCancel_SettledTradeRejected(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	ev, _ := svc.Submit(ctx, buyRequest())
	svc.Confirm(ctx, ev.TradeID)
	svc.Settle(ctx, ev.TradeID, ev.SettleDate)

	_, err := svc.Cancel(ctx, ev.TradeID, "too late")
	if !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState cancelling a settled trade, got %v", err)
	}
}

func TestCancel_RowNeverDeleted(t *testing.T) {
	svc, st := newTestService()
	ctx := context.Background()

	ev, _ := svc.Submit(ctx, buyRequest())
	svc.Cancel(ctx, ev.TradeID, "")

	stored, err := st.GetTradeEvent(ctx, ev.TradeID)
	if err != nil {
		t.Fatalf("cancelled trade should remain in the ledger: %v", err)
	}
	if stored.Status != model.TradeCancelled {
		t.Errorf("expected cancelled, got %s", stored.Status)
	}
}

func TestSettle_InvalidatesSnapshot(t *testing.T) {
	svc, st := newTestService()
	ctx := context.Background()

	st.SavePositionSnapshot(ctx, &model.PositionSnapshot{UserID: "u1", FundCode: "F001"})

	ev, _ := svc.Submit(ctx, buyRequest())
	svc.Confirm(ctx, ev.TradeID)
	if _, err := svc.Settle(ctx, ev.TradeID, ev.SettleDate); err != nil {
		t.Fatalf("settle: %v", err)
	}

	_, err := st.GetPositionSnapshot(ctx, "u1", "F001")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected the cached snapshot to be invalidated, got %v", err)
	}
}
