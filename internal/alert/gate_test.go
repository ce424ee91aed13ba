package alert

import (
	"context"
	"testing"
	"time"

	"github.com/fundwatch/fund-engine/internal/model"
	"github.com/fundwatch/fund-engine/internal/store"
)

func testFiring(at time.Time) *Firing {
	return &Firing{
		RuleID:      "r1",
		UserID:      "u1",
		FundCode:    "F001",
		RuleType:    model.RuleDrawdown,
		TriggeredAt: at,
		Payload:     map[string]string{"drawdown_pct": "12.5"},
	}
}

func TestDedupKey_Format(t *testing.T) {
	at := time.Unix(7200, 0).UTC() // bucket 7200/3600 = 2
	key := DedupKey("u1", "F001", model.RuleDrawdown, 3600, at)
	want := "u1:F001:drawdown:2"
	if key != want {
		t.Errorf("expected %q, got %q", want, key)
	}
}

func TestDedupKey_SameBucket(t *testing.T) {
	base := time.Unix(7200, 0).UTC()
	k1 := DedupKey("u1", "F001", model.RuleDrawdown, 3600, base)
	k2 := DedupKey("u1", "F001", model.RuleDrawdown, 3600, base.Add(30*time.Minute))
	if k1 != k2 {
		t.Errorf("firings inside one cooldown bucket must share a key: %s vs %s", k1, k2)
	}
}

func TestDedupKey_BucketBoundary(t *testing.T) {
	base := time.Unix(7200, 0).UTC()
	k1 := DedupKey("u1", "F001", model.RuleDrawdown, 3600, base)
	k2 := DedupKey("u1", "F001", model.RuleDrawdown, 3600, base.Add(time.Hour))
	if k1 == k2 {
		t.Error("the next bucket must derive a different key")
	}
}

func TestDedupKey_DistinctDimensions(t *testing.T) {
	at := time.Unix(7200, 0).UTC()
	base := DedupKey("u1", "F001", model.RuleDrawdown, 3600, at)

	if DedupKey("u2", "F001", model.RuleDrawdown, 3600, at) == base {
		t.Error("different users must not collide")
	}
	if DedupKey("u1", "F002", model.RuleDrawdown, 3600, at) == base {
		t.Error("different funds must not collide")
	}
	if DedupKey("u1", "F001", model.RuleNewLow, 3600, at) == base {
		t.Error("different rule types must not collide")
	}
}

func TestAdmit_FirstFiring(t *testing.T) {
	gate := NewGate(store.NewMemoryStore())
	at := time.Unix(7200, 0).UTC()

	ev, admitted, err := gate.Admit(context.Background(), testFiring(at), 3600)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !admitted {
		t.Fatal("first firing in a bucket must be admitted")
	}
	if ev.Status != model.AlertPending {
		t.Errorf("expected pending, got %s", ev.Status)
	}
	if ev.DedupKey == "" || ev.EventID == "" {
		t.Error("event must carry dedup key and ID")
	}
}

func TestAdmit_SameBucketSuppressed(t *testing.T) {
	st := store.NewMemoryStore()
	gate := NewGate(st)
	ctx := context.Background()
	at := time.Unix(7200, 0).UTC()

	if _, admitted, _ := gate.Admit(ctx, testFiring(at), 3600); !admitted {
		t.Fatal("first firing should be admitted")
	}

	ev, admitted, err := gate.Admit(ctx, testFiring(at.Add(10*time.Minute)), 3600)
	if err != nil {
		t.Fatalf("a dedup collision is not an error: %v", err)
	}
	if admitted || ev != nil {
		t.Error("second firing in the bucket must be suppressed")
	}

	pending, _ := st.ListPendingAlerts(ctx, 10)
	if len(pending) != 1 {
		t.Errorf("exactly one event should exist, got %d", len(pending))
	}
}

func TestAdmit_NextBucketAdmitted(t *testing.T) {
	gate := NewGate(store.NewMemoryStore())
	ctx := context.Background()
	at := time.Unix(7200, 0).UTC()

	gate.Admit(ctx, testFiring(at), 3600)
	_, admitted, err := gate.Admit(ctx, testFiring(at.Add(time.Hour)), 3600)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !admitted {
		t.Error("a firing in the next bucket must be admitted")
	}
}

func TestAdmit_InvalidCooldown(t *testing.T) {
	gate := NewGate(store.NewMemoryStore())
	_, _, err := gate.Admit(context.Background(), testFiring(time.Now()), 0)
	if err == nil {
		t.Error("zero cooldown must be rejected")
	}
}
