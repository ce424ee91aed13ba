package alert

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fundwatch/fund-engine/internal/model"
	"github.com/fundwatch/fund-engine/internal/store"
)

func seedNavs(t *testing.T, st *store.MemoryStore, fund string, values ...float64) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, v := range values {
		nav := &model.NAV{FundCode: fund, NavDate: base.AddDate(0, 0, i), Nav: d(v)}
		if err := st.UpsertNAV(ctx, nav); err != nil {
			t.Fatalf("seed nav: %v", err)
		}
	}
}

type failingNotifier struct{}

func (failingNotifier) Deliver(context.Context, *model.AlertEvent) error {
	return errors.New("smtp down")
}

func TestCheckRule_FiresOnce(t *testing.T) {
	st := store.NewMemoryStore()
	svc := NewService(st, nil, nil, nil)
	ctx := context.Background()
	seedNavs(t, st, "F001", 1.5, 1.6, 1.4) // 12.5% drawdown

	r := rule(model.RuleDrawdown, model.AlertRuleParams{ThresholdPct: d(10), WindowDays: 30})
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	ev, err := svc.CheckRule(ctx, r, "F001", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev == nil {
		t.Fatal("expected an admitted event")
	}

	// Same bucket: the second check is silently suppressed.
	again, err := svc.CheckRule(ctx, r, "F001", now.Add(5*time.Minute))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if again != nil {
		t.Error("second check inside the cooldown bucket must yield nothing")
	}
}

func TestCheckRule_NoFiringNoEvent(t *testing.T) {
	st := store.NewMemoryStore()
	svc := NewService(st, nil, nil, nil)
	seedNavs(t, st, "F001", 1.5, 1.52)

	r := rule(model.RuleDrawdown, model.AlertRuleParams{ThresholdPct: d(10), WindowDays: 30})
	ev, err := svc.CheckRule(context.Background(), r, "F001", time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev != nil {
		t.Error("no drawdown, no event")
	}
}

func TestCheckAllRules_ExpandsMonitoredFunds(t *testing.T) {
	st := store.NewMemoryStore()
	svc := NewService(st, nil, nil, []string{"F001", "F002"})
	ctx := context.Background()
	seedNavs(t, st, "F001", 1.0, 1.2) // new high
	seedNavs(t, st, "F002", 1.0, 1.3) // new high

	r := rule(model.RuleNewHigh, model.AlertRuleParams{WindowDays: 30})
	r.FundCode = "" // applies to every monitored fund
	if err := st.CreateAlertRule(ctx, r); err != nil {
		t.Fatalf("seed rule: %v", err)
	}

	fired, err := svc.CheckAllRules(ctx, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fired != 2 {
		t.Errorf("expected 2 admitted events across funds, got %d", fired)
	}
}

func TestCheckAllRules_SkipsDisabled(t *testing.T) {
	st := store.NewMemoryStore()
	svc := NewService(st, nil, nil, nil)
	ctx := context.Background()
	seedNavs(t, st, "F001", 1.0, 1.2)

	r := rule(model.RuleNewHigh, model.AlertRuleParams{WindowDays: 30})
	r.Enabled = false
	st.CreateAlertRule(ctx, r)

	fired, err := svc.CheckAllRules(ctx, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fired != 0 {
		t.Errorf("disabled rules must not fire, got %d", fired)
	}
}

func TestDeliverPending_MarksSent(t *testing.T) {
	st := store.NewMemoryStore()
	svc := NewService(st, nil, nil, nil)
	ctx := context.Background()
	seedNavs(t, st, "F001", 1.6, 1.4)

	r := rule(model.RuleDrawdown, model.AlertRuleParams{ThresholdPct: d(10), WindowDays: 30})
	ev, _ := svc.CheckRule(ctx, r, "F001", time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC))
	if ev == nil {
		t.Fatal("expected an event")
	}

	if err := svc.DeliverPending(ctx, 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pending, _ := st.ListPendingAlerts(ctx, 10)
	if len(pending) != 0 {
		t.Errorf("delivered events must leave the pending queue, %d remain", len(pending))
	}
}

func TestDeliverPending_MarksFailed(t *testing.T) {
	st := store.NewMemoryStore()
	svc := NewService(st, failingNotifier{}, nil, nil)
	ctx := context.Background()
	seedNavs(t, st, "F001", 1.6, 1.4)

	r := rule(model.RuleDrawdown, model.AlertRuleParams{ThresholdPct: d(10), WindowDays: 30})
	ev, _ := svc.CheckRule(ctx, r, "F001", time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC))
	if ev == nil {
		t.Fatal("expected an event")
	}

	if err := svc.DeliverPending(ctx, 10); err != nil {
		t.Fatalf("delivery failures are recorded per event, not returned: %v", err)
	}

	pending, _ := st.ListPendingAlerts(ctx, 10)
	if len(pending) != 0 {
		t.Error("failed events must leave the pending queue")
	}
}

func TestCreateRule_Validation(t *testing.T) {
	svc := NewService(store.NewMemoryStore(), nil, nil, nil)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*model.AlertRule)
	}{
		{"unknown rule type", func(r *model.AlertRule) { r.RuleType = "momentum" }},
		{"missing user", func(r *model.AlertRule) { r.UserID = "" }},
		{"zero cooldown", func(r *model.AlertRule) { r.CooldownSeconds = 0 }},
		{"negative cooldown", func(r *model.AlertRule) { r.CooldownSeconds = -60 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := rule(model.RuleDrawdown, model.AlertRuleParams{ThresholdPct: d(10)})
			tt.mutate(r)
			if _, err := svc.CreateRule(ctx, r); !errors.Is(err, ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestCreateRule_AssignsIDAndEnables(t *testing.T) {
	svc := NewService(store.NewMemoryStore(), nil, nil, nil)

	r := rule(model.RuleNewLow, model.AlertRuleParams{})
	r.RuleID = ""
	r.Enabled = false

	created, err := svc.CreateRule(context.Background(), r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created.RuleID == "" {
		t.Error("expected a generated rule ID")
	}
	if !created.Enabled {
		t.Error("new rules start enabled")
	}
}
