// Package store defines the persistence interface for the fund engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache for snapshots and latest NAV), and in-memory (for testing).
//
// The uniqueness constraints on TradeEvent.IdempotencyKey,
// AlertEvent.DedupKey, and the live-Job idempotency key are load-bearing
// correctness mechanisms: every implementation must enforce them atomically
// and report violations as ErrConflict. Conditional status updates must be
// single atomic compare-and-set operations reporting ErrStaleStatus when the
// row is not in the expected state, so two racing workers never both succeed.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/fundwatch/fund-engine/internal/model"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned when an insert violates a uniqueness
	// constraint (duplicate idempotency key or dedup key).
	ErrConflict = errors.New("store: conflict, already exists")

	// ErrStaleStatus is returned when a conditional status update finds
	// the row in a different state than expected.
	ErrStaleStatus = errors.New("store: stale status")
)

// Store is the persistence interface.
type Store interface {
	// --- Immutable trade ledger ---

	// InsertTradeEvent appends a new trade event. Returns ErrConflict if a
	// row with the same idempotency key already exists.
	InsertTradeEvent(ctx context.Context, ev *model.TradeEvent) error

	// GetTradeEvent retrieves a trade event by its ID.
	GetTradeEvent(ctx context.Context, tradeID string) (*model.TradeEvent, error)

	// GetTradeByIdempotencyKey retrieves the trade event holding the key.
	GetTradeByIdempotencyKey(ctx context.Context, key string) (*model.TradeEvent, error)

	// UpdateTradeStatus transitions a trade from one status to another as a
	// single conditional update. Returns ErrStaleStatus if the row is not
	// currently in the from status. settleDate and reason are recorded when
	// non-zero.
	UpdateTradeStatus(ctx context.Context, tradeID string, from, to model.TradeStatus, settleDate time.Time, reason string) (*model.TradeEvent, error)

	// ListSettledTrades returns the settled events for a (user, fund) pair
	// with trade_date ≤ asOf, ordered by trade_date then insertion order.
	ListSettledTrades(ctx context.Context, userID, fundCode string, asOf time.Time) ([]model.TradeEvent, error)

	// ListTradesDueSettlement returns confirmed trades whose settle_date ≤ asOf.
	ListTradesDueSettlement(ctx context.Context, asOf time.Time) ([]model.TradeEvent, error)

	// --- NAV time series ---

	// UpsertNAV inserts or replaces the NAV observation for (fund, date).
	UpsertNAV(ctx context.Context, nav *model.NAV) error

	// GetLatestNAV returns the most recent NAV observation for a fund.
	GetLatestNAV(ctx context.Context, fundCode string) (*model.NAV, error)

	// ListNAVWindow returns NAV observations for a fund within [from, to],
	// ordered by nav_date ascending.
	ListNAVWindow(ctx context.Context, fundCode string, from, to time.Time) ([]model.NAV, error)

	// --- Position snapshots (derived, last-writer-wins) ---

	// SavePositionSnapshot stores the cached snapshot for a (user, fund) pair.
	SavePositionSnapshot(ctx context.Context, snap *model.PositionSnapshot) error

	// GetPositionSnapshot retrieves the cached snapshot, if any.
	GetPositionSnapshot(ctx context.Context, userID, fundCode string) (*model.PositionSnapshot, error)

	// InvalidatePositionSnapshot drops the cached snapshot so the next read
	// recomputes from the ledger.
	InvalidatePositionSnapshot(ctx context.Context, userID, fundCode string) error

	// --- Alert rules ---

	// CreateAlertRule persists a new rule.
	CreateAlertRule(ctx context.Context, rule *model.AlertRule) error

	// GetAlertRule retrieves a rule by its ID.
	GetAlertRule(ctx context.Context, ruleID string) (*model.AlertRule, error)

	// ListAlertRulesByUser returns all rules owned by a user.
	ListAlertRulesByUser(ctx context.Context, userID string) ([]model.AlertRule, error)

	// ListEnabledAlertRules returns every enabled rule.
	ListEnabledAlertRules(ctx context.Context) ([]model.AlertRule, error)

	// SetAlertRuleEnabled flips the enabled flag.
	SetAlertRuleEnabled(ctx context.Context, ruleID string, enabled bool) error

	// --- Alert events ---

	// InsertAlertEvent appends an alert event. Returns ErrConflict if an
	// event with the same dedup key already exists.
	InsertAlertEvent(ctx context.Context, ev *model.AlertEvent) error

	// UpdateAlertStatus moves an alert event to a delivery status, recording
	// sentAt and errMsg when non-zero.
	UpdateAlertStatus(ctx context.Context, eventID string, status model.AlertStatus, sentAt time.Time, errMsg string) error

	// ListPendingAlerts returns up to limit pending events ordered by
	// triggered_at ascending.
	ListPendingAlerts(ctx context.Context, limit int) ([]model.AlertEvent, error)

	// --- Jobs ---

	// InsertJob inserts a pending job. Returns ErrConflict if a live
	// (pending or running) job already holds the idempotency key.
	InsertJob(ctx context.Context, job *model.Job) error

	// GetJob retrieves a job by its ID.
	GetJob(ctx context.Context, jobID string) (*model.Job, error)

	// GetLiveJobByKey returns the pending or running job holding the key.
	GetLiveJobByKey(ctx context.Context, key string) (*model.Job, error)

	// ClaimJob transitions pending → running and records startedAt.
	// Returns ErrStaleStatus if the job is not pending.
	ClaimJob(ctx context.Context, jobID string, startedAt time.Time) (*model.Job, error)

	// CompleteJob transitions running → completed and records finishedAt.
	CompleteJob(ctx context.Context, jobID string, finishedAt time.Time) (*model.Job, error)

	// RequeueJob returns a running job to pending for another attempt,
	// recording the attempt count and last error.
	RequeueJob(ctx context.Context, jobID string, attempt int, errMsg string) (*model.Job, error)

	// FailJob transitions running → failed (terminal), recording the
	// attempt count, error, and finishedAt.
	FailJob(ctx context.Context, jobID string, attempt int, errMsg string, finishedAt time.Time) (*model.Job, error)

	// CancelJob transitions pending → cancelled. Returns ErrStaleStatus if
	// the job has already started or finished.
	CancelJob(ctx context.Context, jobID string, finishedAt time.Time) (*model.Job, error)

	// ListDueJobs returns up to limit pending jobs with scheduled_at ≤ now,
	// ordered by scheduled_at ascending.
	ListDueJobs(ctx context.Context, now time.Time, limit int) ([]model.Job, error)
}
