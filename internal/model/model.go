// Package model defines the core domain types shared across the fund engine.
// All monetary and NAV values use shopspring/decimal, never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeType classifies a trade event.
type TradeType string

const (
	TradeBuy         TradeType = "buy"
	TradeSell        TradeType = "sell"
	TradePeriodicBuy TradeType = "periodic_buy"
)

// TradeStatus is the lifecycle state of a trade event.
// created → confirmed → settled; created/confirmed may also move to
// cancelled or failed. settled, cancelled and failed are terminal.
type TradeStatus string

const (
	TradeCreated   TradeStatus = "created"
	TradeConfirmed TradeStatus = "confirmed"
	TradeSettled   TradeStatus = "settled"
	TradeCancelled TradeStatus = "cancelled"
	TradeFailed    TradeStatus = "failed"
)

// Terminal reports whether no further transitions are permitted.
func (s TradeStatus) Terminal() bool {
	return s == TradeSettled || s == TradeCancelled || s == TradeFailed
}

// TradeEvent is an immutable fact in the trade ledger. Cancellation is a
// status, not a removal: rows are never deleted. Exactly one of Shares or
// Amount is populated depending on TradeType (shares for sell, amount for
// buy/periodic_buy).
type TradeEvent struct {
	TradeID        string          `json:"trade_id" db:"trade_id"`
	UserID         string          `json:"user_id" db:"user_id"`
	FundCode       string          `json:"fund_code" db:"fund_code"`
	TradeType      TradeType       `json:"trade_type" db:"trade_type"`
	Shares         decimal.Decimal `json:"shares" db:"shares"`
	Amount         decimal.Decimal `json:"amount" db:"amount"`
	NavPrice       decimal.Decimal `json:"nav_price" db:"nav_price"`
	TradeDate      time.Time       `json:"trade_date" db:"trade_date"`
	SettleDate     time.Time       `json:"settle_date" db:"settle_date"`
	Status         TradeStatus     `json:"status" db:"status"`
	IdempotencyKey string          `json:"idempotency_key" db:"idempotency_key"`
	RawSource      string          `json:"raw_source,omitempty" db:"raw_source"` // opaque passthrough
	Reason         string          `json:"reason,omitempty" db:"reason"`         // cancel/fail reason
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}

// PositionSnapshot is a derived, reconstructible view of holdings for one
// (user, fund) pair. For a fixed as-of date it is a pure function of the
// settled ledger prefix: recomputation reproduces identical values.
type PositionSnapshot struct {
	UserID        string          `json:"user_id" db:"user_id"`
	FundCode      string          `json:"fund_code" db:"fund_code"`
	Shares        decimal.Decimal `json:"shares" db:"shares"`
	AvgCost       decimal.Decimal `json:"avg_cost" db:"avg_cost"`
	AsOfDate      time.Time       `json:"as_of_date" db:"as_of_date"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl" db:"unrealized_pnl"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl" db:"realized_pnl"`
	LastNav       decimal.Decimal `json:"last_nav" db:"last_nav"`
	ComputedAt    time.Time       `json:"computed_at" db:"computed_at"`
}

// AlertRuleType identifies one of the closed set of rule variants.
type AlertRuleType string

const (
	RuleThreshold  AlertRuleType = "threshold"
	RuleDrawdown   AlertRuleType = "drawdown"
	RuleVolatility AlertRuleType = "volatility"
	RuleNewHigh    AlertRuleType = "new_high"
	RuleNewLow     AlertRuleType = "new_low"
)

// ThresholdDirection selects which edge a threshold rule watches.
type ThresholdDirection string

const (
	DirectionAbove ThresholdDirection = "above"
	DirectionBelow ThresholdDirection = "below"
)

// AlertRuleParams carries the type-specific parameters of a rule.
// Which fields matter depends on the rule type.
type AlertRuleParams struct {
	ThresholdValue decimal.Decimal    `json:"threshold_value"`
	ThresholdPct   decimal.Decimal    `json:"threshold_pct"`
	Direction      ThresholdDirection `json:"direction,omitempty"`
	WindowDays     int                `json:"window_days,omitempty"`
}

// AlertRule is user-owned configuration. The engine only reads it, apart
// from enable/disable. An empty FundCode applies the rule to every fund
// the user holds.
type AlertRule struct {
	RuleID          string          `json:"rule_id" db:"rule_id"`
	UserID          string          `json:"user_id" db:"user_id"`
	FundCode        string          `json:"fund_code,omitempty" db:"fund_code"`
	RuleType        AlertRuleType   `json:"rule_type" db:"rule_type"`
	Params          AlertRuleParams `json:"params" db:"params"`
	Enabled         bool            `json:"enabled" db:"enabled"`
	CooldownSeconds int64           `json:"cooldown_seconds" db:"cooldown_seconds"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
}

// AlertStatus is the delivery state of an alert event.
type AlertStatus string

const (
	AlertPending    AlertStatus = "pending"
	AlertSent       AlertStatus = "sent"
	AlertSuppressed AlertStatus = "suppressed"
	AlertFailed     AlertStatus = "failed"
)

// AlertEvent is the fact produced when a rule fires and passes the dedup
// gate. DedupKey uniquely identifies a (user, fund, rule_type, cooldown
// bucket) tuple; the store rejects a second insert with the same key.
type AlertEvent struct {
	EventID     string            `json:"event_id" db:"event_id"`
	RuleID      string            `json:"rule_id" db:"rule_id"`
	UserID      string            `json:"user_id" db:"user_id"`
	FundCode    string            `json:"fund_code" db:"fund_code"`
	RuleType    AlertRuleType     `json:"rule_type" db:"rule_type"`
	TriggeredAt time.Time         `json:"triggered_at" db:"triggered_at"`
	Payload     map[string]string `json:"payload" db:"payload"` // evaluated numeric values that justified the firing
	DedupKey    string            `json:"dedup_key" db:"dedup_key"`
	Status      AlertStatus       `json:"status" db:"status"`
	SentAt      time.Time         `json:"sent_at,omitempty" db:"sent_at"`
	Error       string            `json:"error,omitempty" db:"error"`
	CreatedAt   time.Time         `json:"created_at" db:"created_at"`
}

// JobType identifies a scheduled unit of background work.
type JobType string

const (
	JobNavSync    JobType = "nav_sync"
	JobSettle     JobType = "settle"
	JobAlertCheck JobType = "alert_check"
)

// JobStatus is the lifecycle state of a job row.
// pending → running → completed|failed|cancelled.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// Live reports whether the row occupies its idempotency key: at most one
// row with a live status may exist per key at any time.
func (s JobStatus) Live() bool {
	return s == JobPending || s == JobRunning
}

// Job is a unit of scheduled work with idempotent enqueue and bounded
// retries.
type Job struct {
	JobID          string    `json:"job_id" db:"job_id"`
	JobType        JobType   `json:"job_type" db:"job_type"`
	ScheduledAt    time.Time `json:"scheduled_at" db:"scheduled_at"`
	StartedAt      time.Time `json:"started_at,omitempty" db:"started_at"`
	FinishedAt     time.Time `json:"finished_at,omitempty" db:"finished_at"`
	Status         JobStatus `json:"status" db:"status"`
	Attempt        int       `json:"attempt" db:"attempt"`
	MaxAttempts    int       `json:"max_attempts" db:"max_attempts"`
	IdempotencyKey string    `json:"idempotency_key" db:"idempotency_key"`
	Payload        string    `json:"payload,omitempty" db:"payload"`
	Error          string    `json:"error,omitempty" db:"error"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// NAV is a market-data fact supplied by an external collaborator.
// The engine requires Nav > 0 and a non-decreasing NavDate per fund;
// QualityFlags are opaque metadata passed through untouched.
type NAV struct {
	FundCode      string          `json:"fund_code" db:"fund_code"`
	NavDate       time.Time       `json:"nav_date" db:"nav_date"`
	Nav           decimal.Decimal `json:"nav" db:"nav"`
	DataSource    string          `json:"data_source" db:"data_source"`
	QualityFlags  []string        `json:"quality_flags,omitempty" db:"quality_flags"`
	LastUpdatedAt time.Time       `json:"last_updated_at" db:"last_updated_at"`
	IngestedAt    time.Time       `json:"ingested_at" db:"ingested_at"`
}
