// Package marketdata defines the contract of the external NAV collaborator
// and the validation the engine applies before a fact enters the store.
// The engine never fetches from a network itself; sources are adapters
// invoked by the job scheduler's executors.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fundwatch/fund-engine/internal/model"
)

var (
	// ErrValidation marks a fact the engine refuses to ingest.
	ErrValidation = errors.New("marketdata: validation failed")

	// ErrUnavailable is returned by a source with no observation for the
	// requested fund.
	ErrUnavailable = errors.New("marketdata: no observation available")
)

// Source supplies NAV facts for a fund. Implementations wrap external
// providers; ManualSource serves hand-pushed observations.
type Source interface {
	FetchLatest(ctx context.Context, fundCode string) (*model.NAV, error)
}

// NAVStore is the slice of the store the ingestor needs.
type NAVStore interface {
	UpsertNAV(ctx context.Context, nav *model.NAV) error
	GetLatestNAV(ctx context.Context, fundCode string) (*model.NAV, error)
}

// Ingestor validates facts and writes them to the store. The engine
// requires nav > 0 and a non-decreasing nav_date per fund; quality flags
// pass through as opaque metadata.
type Ingestor struct {
	store NAVStore
}

// NewIngestor creates a NAV ingestor.
func NewIngestor(st NAVStore) *Ingestor {
	return &Ingestor{store: st}
}

// Ingest validates and upserts one observation.
func (i *Ingestor) Ingest(ctx context.Context, nav *model.NAV) error {
	if nav.FundCode == "" {
		return fmt.Errorf("%w: fund_code is required", ErrValidation)
	}
	if nav.Nav.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: nav must be positive, got %s", ErrValidation, nav.Nav)
	}
	if nav.NavDate.IsZero() {
		return fmt.Errorf("%w: nav_date is required", ErrValidation)
	}

	latest, err := i.store.GetLatestNAV(ctx, nav.FundCode)
	if err == nil && nav.NavDate.Before(latest.NavDate) {
		// Same-date corrections are fine (upsert); regressions are not.
		return fmt.Errorf("%w: nav_date %s regresses behind %s for %s",
			ErrValidation, nav.NavDate.Format("2006-01-02"),
			latest.NavDate.Format("2006-01-02"), nav.FundCode)
	}

	if nav.IngestedAt.IsZero() {
		nav.IngestedAt = time.Now().UTC()
	}
	return i.store.UpsertNAV(ctx, nav)
}

// ManualSource holds observations pushed in by hand. It is the development
// and test stand-in for a real provider adapter.
type ManualSource struct {
	mu    sync.RWMutex
	facts map[string]model.NAV
}

// NewManualSource creates an empty manual source.
func NewManualSource() *ManualSource {
	return &ManualSource{facts: make(map[string]model.NAV)}
}

// Push records the latest observation for a fund.
func (s *ManualSource) Push(nav model.NAV) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.facts[nav.FundCode] = nav
}

func (s *ManualSource) FetchLatest(_ context.Context, fundCode string) (*model.NAV, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	nav, ok := s.facts[fundCode]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, fundCode)
	}
	return &nav, nil
}
