package position

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fundwatch/fund-engine/internal/metrics"
	"github.com/fundwatch/fund-engine/internal/model"
	"github.com/fundwatch/fund-engine/internal/store"
)

// Rebuilder loads the settled ledger, replays it, and persists the
// resulting snapshot. Last-writer-wins on the cached row is acceptable:
// replay is deterministic, so concurrent writers produce identical values.
type Rebuilder struct {
	store store.Store
}

// NewRebuilder creates a position rebuilder.
func NewRebuilder(st store.Store) *Rebuilder {
	return &Rebuilder{store: st}
}

// Rebuild recomputes the snapshot for a (user, fund) pair as of the given
// date and persists it.
func (r *Rebuilder) Rebuild(ctx context.Context, userID, fundCode string, asOf time.Time) (*model.PositionSnapshot, error) {
	start := time.Now()

	events, err := r.store.ListSettledTrades(ctx, userID, fundCode, asOf)
	if err != nil {
		return nil, fmt.Errorf("load settled trades: %w", err)
	}

	holdings, err := Replay(events, asOf)
	if err != nil {
		// Ledger corruption: surface loudly, never guess.
		slog.Error("position replay failed",
			"user", userID, "fund", fundCode, "err", err)
		return nil, err
	}

	lastNav := decimal.Zero
	nav, err := r.store.GetLatestNAV(ctx, fundCode)
	switch {
	case err == nil:
		lastNav = nav.Nav
	case errors.Is(err, store.ErrNotFound):
		// No market data yet; unrealized P&L stays zero.
	default:
		return nil, fmt.Errorf("load latest nav for %s: %w", fundCode, err)
	}

	snap := Snapshot(userID, fundCode, holdings, asOf, lastNav, time.Now().UTC())
	if err := r.store.SavePositionSnapshot(ctx, snap); err != nil {
		return nil, fmt.Errorf("save snapshot: %w", err)
	}

	metrics.SnapshotRebuilds.Inc()
	metrics.SnapshotRebuildDuration.Observe(time.Since(start).Seconds())
	slog.Info("position rebuilt",
		"user", userID,
		"fund", fundCode,
		"shares", snap.Shares.String(),
		"avg_cost", snap.AvgCost.String(),
		"events", len(events),
	)
	return snap, nil
}

// Current returns the cached snapshot when present, rebuilding lazily on a
// miss (settlement invalidates the cache, so a miss means recompute).
func (r *Rebuilder) Current(ctx context.Context, userID, fundCode string) (*model.PositionSnapshot, error) {
	snap, err := r.store.GetPositionSnapshot(ctx, userID, fundCode)
	if err == nil {
		return snap, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	return r.Rebuild(ctx, userID, fundCode, time.Now().UTC())
}
