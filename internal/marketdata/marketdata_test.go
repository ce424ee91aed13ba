package marketdata

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fundwatch/fund-engine/internal/model"
	"github.com/fundwatch/fund-engine/internal/store"
)

func obs(fund string, day int, nav float64) *model.NAV {
	return &model.NAV{
		FundCode:   fund,
		NavDate:    time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, day),
		Nav:        decimal.NewFromFloat(nav),
		DataSource: "test",
	}
}

func TestIngest_Valid(t *testing.T) {
	st := store.NewMemoryStore()
	ing := NewIngestor(st)
	ctx := context.Background()

	if err := ing.Ingest(ctx, obs("F001", 0, 1.2345)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	latest, err := st.GetLatestNAV(ctx, "F001")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !latest.Nav.Equal(decimal.NewFromFloat(1.2345)) {
		t.Errorf("expected 1.2345, got %s", latest.Nav)
	}
}

func TestIngest_Rejections(t *testing.T) {
	ing := NewIngestor(store.NewMemoryStore())
	ctx := context.Background()

	tests := []struct {
		name string
		nav  *model.NAV
	}{
		{"missing fund", &model.NAV{NavDate: time.Now(), Nav: decimal.NewFromInt(1)}},
		{"zero nav", obs("F001", 0, 0)},
		{"negative nav", obs("F001", 0, -1.2)},
		{"missing date", &model.NAV{FundCode: "F001", Nav: decimal.NewFromInt(1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ing.Ingest(ctx, tt.nav); !errors.Is(err, ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestIngest_DateRegressionRejected(t *testing.T) {
	ing := NewIngestor(store.NewMemoryStore())
	ctx := context.Background()

	if err := ing.Ingest(ctx, obs("F001", 5, 1.2)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := ing.Ingest(ctx, obs("F001", 3, 1.1))
	if !errors.Is(err, ErrValidation) {
		t.Errorf("an earlier nav_date must be rejected, got %v", err)
	}
}

func TestIngest_SameDateCorrectionAllowed(t *testing.T) {
	st := store.NewMemoryStore()
	ing := NewIngestor(st)
	ctx := context.Background()

	ing.Ingest(ctx, obs("F001", 5, 1.2))
	if err := ing.Ingest(ctx, obs("F001", 5, 1.25)); err != nil {
		t.Fatalf("a same-date correction upserts: %v", err)
	}

	latest, _ := st.GetLatestNAV(ctx, "F001")
	if !latest.Nav.Equal(decimal.NewFromFloat(1.25)) {
		t.Errorf("expected the corrected value 1.25, got %s", latest.Nav)
	}
}

func TestIngest_PerFundMonotonicity(t *testing.T) {
	ing := NewIngestor(store.NewMemoryStore())
	ctx := context.Background()

	ing.Ingest(ctx, obs("F001", 5, 1.2))
	// Another fund is an independent series.
	if err := ing.Ingest(ctx, obs("F002", 1, 2.0)); err != nil {
		t.Errorf("monotonicity is per fund: %v", err)
	}
}

func TestManualSource(t *testing.T) {
	src := NewManualSource()
	ctx := context.Background()

	if _, err := src.FetchLatest(ctx, "F001"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable for an unknown fund, got %v", err)
	}

	src.Push(*obs("F001", 0, 1.5))
	nav, err := src.FetchLatest(ctx, "F001")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !nav.Nav.Equal(decimal.NewFromFloat(1.5)) {
		t.Errorf("expected 1.5, got %s", nav.Nav)
	}
}
