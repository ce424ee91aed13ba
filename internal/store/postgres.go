package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/fundwatch/fund-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
//
// Required constraints:
//   - trade_events.idempotency_key UNIQUE
//   - alert_events.dedup_key UNIQUE
//   - jobs: partial unique index on idempotency_key WHERE status IN
//     ('pending','running')
//   - fund_nav_timeseries: UNIQUE (fund_code, nav_date)
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// --- Trade ledger ---

func (s *PostgresStore) InsertTradeEvent(ctx context.Context, ev *model.TradeEvent) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO trade_events (
			trade_id, user_id, fund_code, trade_type,
			shares, amount, nav_price, trade_date, settle_date,
			status, idempotency_key, raw_source, created_at, updated_at
		 ) VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8, $9, $10, $11, $12, $13, $14)`,
		ev.TradeID, ev.UserID, ev.FundCode, string(ev.TradeType),
		ev.Shares.String(), ev.Amount.String(), ev.NavPrice.String(),
		ev.TradeDate, ev.SettleDate,
		string(ev.Status), ev.IdempotencyKey, ev.RawSource,
		ev.CreatedAt, ev.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

const tradeColumns = `trade_id, user_id, fund_code, trade_type,
	shares::TEXT, amount::TEXT, nav_price::TEXT, trade_date, settle_date,
	status, idempotency_key, COALESCE(raw_source, ''), COALESCE(reason, ''),
	created_at, updated_at`

func scanTrade(row pgx.Row) (*model.TradeEvent, error) {
	var ev model.TradeEvent
	var tradeType, status, sharesS, amountS, navS string

	err := row.Scan(&ev.TradeID, &ev.UserID, &ev.FundCode, &tradeType,
		&sharesS, &amountS, &navS, &ev.TradeDate, &ev.SettleDate,
		&status, &ev.IdempotencyKey, &ev.RawSource, &ev.Reason,
		&ev.CreatedAt, &ev.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	ev.TradeType = model.TradeType(tradeType)
	ev.Status = model.TradeStatus(status)
	ev.Shares, _ = decimal.NewFromString(sharesS)
	ev.Amount, _ = decimal.NewFromString(amountS)
	ev.NavPrice, _ = decimal.NewFromString(navS)
	return &ev, nil
}

func (s *PostgresStore) GetTradeEvent(ctx context.Context, tradeID string) (*model.TradeEvent, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+tradeColumns+` FROM trade_events WHERE trade_id = $1`, tradeID)
	return scanTrade(row)
}

func (s *PostgresStore) GetTradeByIdempotencyKey(ctx context.Context, key string) (*model.TradeEvent, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+tradeColumns+` FROM trade_events WHERE idempotency_key = $1`, key)
	return scanTrade(row)
}

func (s *PostgresStore) UpdateTradeStatus(ctx context.Context, tradeID string, from, to model.TradeStatus, settleDate time.Time, reason string) (*model.TradeEvent, error) {
	// Single conditional update: the WHERE status guard is the
	// compare-and-set that makes racing transitions safe.
	var settle any
	if !settleDate.IsZero() {
		settle = settleDate
	}
	var reasonArg any
	if reason != "" {
		reasonArg = reason
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE trade_events
		 SET status = $3,
		     settle_date = COALESCE($4, settle_date),
		     reason = COALESCE($5, reason),
		     updated_at = NOW()
		 WHERE trade_id = $1 AND status = $2`,
		tradeID, string(from), string(to), settle, reasonArg,
	)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetTradeEvent(ctx, tradeID); errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, ErrStaleStatus
	}
	return s.GetTradeEvent(ctx, tradeID)
}

func (s *PostgresStore) ListSettledTrades(ctx context.Context, userID, fundCode string, asOf time.Time) ([]model.TradeEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeColumns+`
		 FROM trade_events
		 WHERE user_id = $1 AND fund_code = $2
		   AND status = 'settled' AND trade_date <= $3
		 ORDER BY trade_date, created_at`,
		userID, fundCode, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTrades(rows)
}

func (s *PostgresStore) ListTradesDueSettlement(ctx context.Context, asOf time.Time) ([]model.TradeEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeColumns+`
		 FROM trade_events
		 WHERE status = 'confirmed' AND settle_date <= $1
		 ORDER BY trade_date, created_at`, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTrades(rows)
}

func collectTrades(rows pgx.Rows) ([]model.TradeEvent, error) {
	var events []model.TradeEvent
	for rows.Next() {
		ev, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *ev)
	}
	return events, rows.Err()
}

// --- NAV time series ---

func (s *PostgresStore) UpsertNAV(ctx context.Context, nav *model.NAV) error {
	flags, err := json.Marshal(nav.QualityFlags)
	if err != nil {
		return fmt.Errorf("marshal quality flags: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO fund_nav_timeseries (
			fund_code, nav_date, nav, data_source, quality_flags,
			last_updated_at, ingested_at
		 ) VALUES ($1, $2, $3::NUMERIC, $4, $5, $6, $7)
		 ON CONFLICT (fund_code, nav_date) DO UPDATE SET
			nav = EXCLUDED.nav,
			data_source = EXCLUDED.data_source,
			quality_flags = EXCLUDED.quality_flags,
			last_updated_at = EXCLUDED.last_updated_at,
			ingested_at = EXCLUDED.ingested_at`,
		nav.FundCode, nav.NavDate, nav.Nav.String(), nav.DataSource,
		flags, nav.LastUpdatedAt, nav.IngestedAt,
	)
	return err
}

const navColumns = `fund_code, nav_date, nav::TEXT, data_source,
	quality_flags, last_updated_at, ingested_at`

func scanNAV(row pgx.Row) (*model.NAV, error) {
	var nav model.NAV
	var navS string
	var flags []byte

	err := row.Scan(&nav.FundCode, &nav.NavDate, &navS, &nav.DataSource,
		&flags, &nav.LastUpdatedAt, &nav.IngestedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	nav.Nav, _ = decimal.NewFromString(navS)
	if len(flags) > 0 {
		_ = json.Unmarshal(flags, &nav.QualityFlags)
	}
	return &nav, nil
}

func (s *PostgresStore) GetLatestNAV(ctx context.Context, fundCode string) (*model.NAV, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+navColumns+`
		 FROM fund_nav_timeseries
		 WHERE fund_code = $1
		 ORDER BY nav_date DESC LIMIT 1`, fundCode)
	return scanNAV(row)
}

func (s *PostgresStore) ListNAVWindow(ctx context.Context, fundCode string, from, to time.Time) ([]model.NAV, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+navColumns+`
		 FROM fund_nav_timeseries
		 WHERE fund_code = $1 AND nav_date BETWEEN $2 AND $3
		 ORDER BY nav_date`, fundCode, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var navs []model.NAV
	for rows.Next() {
		nav, err := scanNAV(rows)
		if err != nil {
			return nil, err
		}
		navs = append(navs, *nav)
	}
	return navs, rows.Err()
}

// --- Position snapshots ---

func (s *PostgresStore) SavePositionSnapshot(ctx context.Context, snap *model.PositionSnapshot) error {
	// Last-writer-wins: reconstruction is deterministic, so concurrent
	// writers produce identical rows.
	_, err := s.pool.Exec(ctx,
		`INSERT INTO position_snapshots (
			user_id, fund_code, shares, avg_cost, as_of_date,
			unrealized_pnl, realized_pnl, last_nav, computed_at
		 ) VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9)
		 ON CONFLICT (user_id, fund_code) DO UPDATE SET
			shares = EXCLUDED.shares,
			avg_cost = EXCLUDED.avg_cost,
			as_of_date = EXCLUDED.as_of_date,
			unrealized_pnl = EXCLUDED.unrealized_pnl,
			realized_pnl = EXCLUDED.realized_pnl,
			last_nav = EXCLUDED.last_nav,
			computed_at = EXCLUDED.computed_at`,
		snap.UserID, snap.FundCode, snap.Shares.String(), snap.AvgCost.String(),
		snap.AsOfDate, snap.UnrealizedPnL.String(), snap.RealizedPnL.String(),
		snap.LastNav.String(), snap.ComputedAt,
	)
	return err
}

func (s *PostgresStore) GetPositionSnapshot(ctx context.Context, userID, fundCode string) (*model.PositionSnapshot, error) {
	var snap model.PositionSnapshot
	var sharesS, avgCostS, unrealS, realS, lastNavS string

	err := s.pool.QueryRow(ctx,
		`SELECT user_id, fund_code, shares::TEXT, avg_cost::TEXT, as_of_date,
		        unrealized_pnl::TEXT, realized_pnl::TEXT, last_nav::TEXT, computed_at
		 FROM position_snapshots
		 WHERE user_id = $1 AND fund_code = $2`, userID, fundCode).
		Scan(&snap.UserID, &snap.FundCode, &sharesS, &avgCostS, &snap.AsOfDate,
			&unrealS, &realS, &lastNavS, &snap.ComputedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	snap.Shares, _ = decimal.NewFromString(sharesS)
	snap.AvgCost, _ = decimal.NewFromString(avgCostS)
	snap.UnrealizedPnL, _ = decimal.NewFromString(unrealS)
	snap.RealizedPnL, _ = decimal.NewFromString(realS)
	snap.LastNav, _ = decimal.NewFromString(lastNavS)
	return &snap, nil
}

func (s *PostgresStore) InvalidatePositionSnapshot(ctx context.Context, userID, fundCode string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM position_snapshots WHERE user_id = $1 AND fund_code = $2`,
		userID, fundCode)
	return err
}

// --- Alert rules ---

func (s *PostgresStore) CreateAlertRule(ctx context.Context, rule *model.AlertRule) error {
	params, err := json.Marshal(rule.Params)
	if err != nil {
		return fmt.Errorf("marshal rule params: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO alert_rules (
			rule_id, user_id, fund_code, rule_type, params,
			enabled, cooldown_seconds, created_at, updated_at
		 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rule.RuleID, rule.UserID, rule.FundCode, string(rule.RuleType),
		params, rule.Enabled, rule.CooldownSeconds, rule.CreatedAt, rule.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

const ruleColumns = `rule_id, user_id, COALESCE(fund_code, ''), rule_type,
	params, enabled, cooldown_seconds, created_at, updated_at`

func scanRule(row pgx.Row) (*model.AlertRule, error) {
	var rule model.AlertRule
	var ruleType string
	var params []byte

	err := row.Scan(&rule.RuleID, &rule.UserID, &rule.FundCode, &ruleType,
		&params, &rule.Enabled, &rule.CooldownSeconds,
		&rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	rule.RuleType = model.AlertRuleType(ruleType)
	if err := json.Unmarshal(params, &rule.Params); err != nil {
		return nil, fmt.Errorf("unmarshal rule params: %w", err)
	}
	return &rule, nil
}

func (s *PostgresStore) GetAlertRule(ctx context.Context, ruleID string) (*model.AlertRule, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+ruleColumns+` FROM alert_rules WHERE rule_id = $1`, ruleID)
	return scanRule(row)
}

func (s *PostgresStore) ListAlertRulesByUser(ctx context.Context, userID string) ([]model.AlertRule, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+ruleColumns+` FROM alert_rules WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRules(rows)
}

func (s *PostgresStore) ListEnabledAlertRules(ctx context.Context) ([]model.AlertRule, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+ruleColumns+` FROM alert_rules WHERE enabled ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRules(rows)
}

func collectRules(rows pgx.Rows) ([]model.AlertRule, error) {
	var rules []model.AlertRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *rule)
	}
	return rules, rows.Err()
}

func (s *PostgresStore) SetAlertRuleEnabled(ctx context.Context, ruleID string, enabled bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE alert_rules SET enabled = $2, updated_at = NOW() WHERE rule_id = $1`,
		ruleID, enabled)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Alert events ---

func (s *PostgresStore) InsertAlertEvent(ctx context.Context, ev *model.AlertEvent) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("marshal alert payload: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO alert_events (
			event_id, rule_id, user_id, fund_code, rule_type,
			triggered_at, payload, dedup_key, status, created_at
		 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		ev.EventID, ev.RuleID, ev.UserID, ev.FundCode, string(ev.RuleType),
		ev.TriggeredAt, payload, ev.DedupKey, string(ev.Status), ev.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (s *PostgresStore) UpdateAlertStatus(ctx context.Context, eventID string, status model.AlertStatus, sentAt time.Time, errMsg string) error {
	var sent any
	if !sentAt.IsZero() {
		sent = sentAt
	}
	var msg any
	if errMsg != "" {
		msg = errMsg
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE alert_events
		 SET status = $2, sent_at = COALESCE($3, sent_at), error = COALESCE($4, error)
		 WHERE event_id = $1`,
		eventID, string(status), sent, msg)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListPendingAlerts(ctx context.Context, limit int) ([]model.AlertEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT event_id, rule_id, user_id, fund_code, rule_type,
		        triggered_at, payload, dedup_key, status,
		        COALESCE(sent_at, 'epoch'::TIMESTAMPTZ), COALESCE(error, ''), created_at
		 FROM alert_events
		 WHERE status = 'pending'
		 ORDER BY triggered_at
		 LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.AlertEvent
	for rows.Next() {
		var ev model.AlertEvent
		var ruleType, status string
		var payload []byte

		if err := rows.Scan(&ev.EventID, &ev.RuleID, &ev.UserID, &ev.FundCode, &ruleType,
			&ev.TriggeredAt, &payload, &ev.DedupKey, &status,
			&ev.SentAt, &ev.Error, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.RuleType = model.AlertRuleType(ruleType)
		ev.Status = model.AlertStatus(status)
		_ = json.Unmarshal(payload, &ev.Payload)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// --- Jobs ---

func (s *PostgresStore) InsertJob(ctx context.Context, job *model.Job) error {
	// The partial unique index on idempotency_key WHERE status IN
	// ('pending','running') turns a racing duplicate enqueue into a
	// unique violation.
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (
			job_id, job_type, scheduled_at, status, attempt, max_attempts,
			idempotency_key, payload, created_at
		 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		job.JobID, string(job.JobType), job.ScheduledAt, string(job.Status),
		job.Attempt, job.MaxAttempts, job.IdempotencyKey, job.Payload, job.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

const jobColumns = `job_id, job_type, scheduled_at,
	COALESCE(started_at, 'epoch'::TIMESTAMPTZ), COALESCE(finished_at, 'epoch'::TIMESTAMPTZ),
	status, attempt, max_attempts, idempotency_key, COALESCE(payload, ''), COALESCE(error, ''),
	created_at`

func scanJob(row pgx.Row) (*model.Job, error) {
	var job model.Job
	var jobType, status string

	err := row.Scan(&job.JobID, &jobType, &job.ScheduledAt,
		&job.StartedAt, &job.FinishedAt,
		&status, &job.Attempt, &job.MaxAttempts, &job.IdempotencyKey,
		&job.Payload, &job.Error, &job.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	job.JobType = model.JobType(jobType)
	job.Status = model.JobStatus(status)
	return &job, nil
}

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE job_id = $1`, jobID)
	return scanJob(row)
}

func (s *PostgresStore) GetLiveJobByKey(ctx context.Context, key string) (*model.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+`
		 FROM jobs
		 WHERE idempotency_key = $1 AND status IN ('pending', 'running')`, key)
	return scanJob(row)
}

// transitionJob runs a conditional status update and distinguishes a
// missing row from a stale status.
func (s *PostgresStore) transitionJob(ctx context.Context, jobID, query string, args ...any) (*model.Job, error) {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetJob(ctx, jobID); errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, ErrStaleStatus
	}
	return s.GetJob(ctx, jobID)
}

func (s *PostgresStore) ClaimJob(ctx context.Context, jobID string, startedAt time.Time) (*model.Job, error) {
	return s.transitionJob(ctx, jobID,
		`UPDATE jobs SET status = 'running', started_at = $2
		 WHERE job_id = $1 AND status = 'pending'`,
		jobID, startedAt)
}

func (s *PostgresStore) CompleteJob(ctx context.Context, jobID string, finishedAt time.Time) (*model.Job, error) {
	return s.transitionJob(ctx, jobID,
		`UPDATE jobs SET status = 'completed', finished_at = $2
		 WHERE job_id = $1 AND status = 'running'`,
		jobID, finishedAt)
}

func (s *PostgresStore) RequeueJob(ctx context.Context, jobID string, attempt int, errMsg string) (*model.Job, error) {
	return s.transitionJob(ctx, jobID,
		`UPDATE jobs SET status = 'pending', attempt = $2, error = $3
		 WHERE job_id = $1 AND status = 'running'`,
		jobID, attempt, errMsg)
}

func (s *PostgresStore) FailJob(ctx context.Context, jobID string, attempt int, errMsg string, finishedAt time.Time) (*model.Job, error) {
	return s.transitionJob(ctx, jobID,
		`UPDATE jobs SET status = 'failed', attempt = $2, error = $3, finished_at = $4
		 WHERE job_id = $1 AND status = 'running'`,
		jobID, attempt, errMsg, finishedAt)
}

func (s *PostgresStore) CancelJob(ctx context.Context, jobID string, finishedAt time.Time) (*model.Job, error) {
	return s.transitionJob(ctx, jobID,
		`UPDATE jobs SET status = 'cancelled', finished_at = $2
		 WHERE job_id = $1 AND status = 'pending'`,
		jobID, finishedAt)
}

func (s *PostgresStore) ListDueJobs(ctx context.Context, now time.Time, limit int) ([]model.Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+`
		 FROM jobs
		 WHERE status = 'pending' AND scheduled_at <= $1
		 ORDER BY scheduled_at
		 LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}
