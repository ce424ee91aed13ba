package sched

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fundwatch/fund-engine/internal/alert"
	"github.com/fundwatch/fund-engine/internal/marketdata"
	"github.com/fundwatch/fund-engine/internal/model"
	"github.com/fundwatch/fund-engine/internal/store"
	"github.com/fundwatch/fund-engine/internal/trade"
)

// Executor performs the work behind one job type. An executor that
// exceeds its budget is responsible for returning an error itself; the
// scheduler has no stall detection.
type Executor interface {
	Execute(ctx context.Context, job *model.Job) error
}

// NavSyncExecutor pulls the latest observation for each monitored fund
// from the external source and ingests it.
type NavSyncExecutor struct {
	Source   marketdata.Source
	Ingestor *marketdata.Ingestor
	Funds    []string
}

func (e *NavSyncExecutor) Execute(ctx context.Context, _ *model.Job) error {
	if len(e.Funds) == 0 {
		return fmt.Errorf("no monitored funds configured")
	}

	synced := 0
	var lastErr error
	for _, fund := range e.Funds {
		nav, err := e.Source.FetchLatest(ctx, fund)
		if err != nil {
			slog.Warn("nav fetch failed", "fund", fund, "err", err)
			lastErr = err
			continue
		}
		if err := e.Ingestor.Ingest(ctx, nav); err != nil {
			slog.Warn("nav ingest rejected", "fund", fund, "err", err)
			lastErr = err
			continue
		}
		synced++
	}

	slog.Info("nav sync finished", "synced", synced, "funds", len(e.Funds))
	if synced == 0 && lastErr != nil {
		return fmt.Errorf("nav sync: no fund synced: %w", lastErr)
	}
	return nil
}

// SettleExecutor sweeps confirmed trades whose settle date has arrived
// and advances each through the state machine. Individual failures are
// logged and skipped; the sweep itself succeeds unless the ledger cannot
// be read.
type SettleExecutor struct {
	Store  store.Store
	Trades *trade.Service
}

func (e *SettleExecutor) Execute(ctx context.Context, _ *model.Job) error {
	now := time.Now().UTC()
	due, err := e.Store.ListTradesDueSettlement(ctx, now)
	if err != nil {
		return fmt.Errorf("list trades due settlement: %w", err)
	}

	settled := 0
	for _, ev := range due {
		if _, err := e.Trades.Settle(ctx, ev.TradeID, ev.SettleDate); err != nil {
			// Racing workers settle concurrently; the loser's
			// InvalidState is expected, anything else is noteworthy.
			slog.Warn("settle failed", "trade_id", ev.TradeID, "err", err)
			continue
		}
		settled++
	}

	slog.Info("settlement sweep finished", "settled", settled, "due", len(due))
	return nil
}

// AlertCheckExecutor evaluates every enabled rule and delivers what the
// gate admits.
type AlertCheckExecutor struct {
	Alerts        *alert.Service
	DeliveryBatch int
}

func (e *AlertCheckExecutor) Execute(ctx context.Context, _ *model.Job) error {
	fired, err := e.Alerts.CheckAllRules(ctx, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("alert check: %w", err)
	}

	batch := e.DeliveryBatch
	if batch <= 0 {
		batch = 100
	}
	if err := e.Alerts.DeliverPending(ctx, batch); err != nil {
		return fmt.Errorf("alert delivery: %w", err)
	}

	slog.Info("alert check finished", "fired", fired)
	return nil
}
