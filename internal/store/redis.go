package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fundwatch/fund-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for position snapshots and latest NAV observations, the two hot
// read paths. Writes go to the primary store and invalidate the cache;
// reads check Redis first then fall back to the primary. Everything else
// passes through.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

func positionKey(userID, fundCode string) string {
	return fmt.Sprintf("position:%s:%s", userID, fundCode)
}

func latestNavKey(fundCode string) string {
	return fmt.Sprintf("nav:latest:%s", fundCode)
}

// --- Cached reads ---

func (s *CachedStore) GetPositionSnapshot(ctx context.Context, userID, fundCode string) (*model.PositionSnapshot, error) {
	data, err := s.rdb.Get(ctx, positionKey(userID, fundCode)).Bytes()
	if err == nil {
		var snap model.PositionSnapshot
		if json.Unmarshal(data, &snap) == nil {
			return &snap, nil
		}
	}

	snap, err := s.primary.GetPositionSnapshot(ctx, userID, fundCode)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(snap); err == nil {
		s.rdb.Set(ctx, positionKey(userID, fundCode), data, s.ttl)
	}
	return snap, nil
}

func (s *CachedStore) GetLatestNAV(ctx context.Context, fundCode string) (*model.NAV, error) {
	data, err := s.rdb.Get(ctx, latestNavKey(fundCode)).Bytes()
	if err == nil {
		var nav model.NAV
		if json.Unmarshal(data, &nav) == nil {
			return &nav, nil
		}
	}

	nav, err := s.primary.GetLatestNAV(ctx, fundCode)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(nav); err == nil {
		s.rdb.Set(ctx, latestNavKey(fundCode), data, s.ttl)
	}
	return nav, nil
}

// --- Writes that invalidate ---

func (s *CachedStore) SavePositionSnapshot(ctx context.Context, snap *model.PositionSnapshot) error {
	if err := s.primary.SavePositionSnapshot(ctx, snap); err != nil {
		return err
	}
	if data, err := json.Marshal(snap); err == nil {
		s.rdb.Set(ctx, positionKey(snap.UserID, snap.FundCode), data, s.ttl)
	}
	return nil
}

func (s *CachedStore) InvalidatePositionSnapshot(ctx context.Context, userID, fundCode string) error {
	if err := s.primary.InvalidatePositionSnapshot(ctx, userID, fundCode); err != nil {
		return err
	}
	s.rdb.Del(ctx, positionKey(userID, fundCode))
	return nil
}

func (s *CachedStore) UpsertNAV(ctx context.Context, nav *model.NAV) error {
	if err := s.primary.UpsertNAV(ctx, nav); err != nil {
		return err
	}
	// Invalidate rather than overwrite: the upserted date may not be the
	// latest observation.
	s.rdb.Del(ctx, latestNavKey(nav.FundCode))
	return nil
}

// --- Passthrough ---

func (s *CachedStore) InsertTradeEvent(ctx context.Context, ev *model.TradeEvent) error {
	return s.primary.InsertTradeEvent(ctx, ev)
}

func (s *CachedStore) GetTradeEvent(ctx context.Context, tradeID string) (*model.TradeEvent, error) {
	return s.primary.GetTradeEvent(ctx, tradeID)
}

func (s *CachedStore) GetTradeByIdempotencyKey(ctx context.Context, key string) (*model.TradeEvent, error) {
	return s.primary.GetTradeByIdempotencyKey(ctx, key)
}

func (s *CachedStore) UpdateTradeStatus(ctx context.Context, tradeID string, from, to model.TradeStatus, settleDate time.Time, reason string) (*model.TradeEvent, error) {
	return s.primary.UpdateTradeStatus(ctx, tradeID, from, to, settleDate, reason)
}

func (s *CachedStore) ListSettledTrades(ctx context.Context, userID, fundCode string, asOf time.Time) ([]model.TradeEvent, error) {
	return s.primary.ListSettledTrades(ctx, userID, fundCode, asOf)
}

func (s *CachedStore) ListTradesDueSettlement(ctx context.Context, asOf time.Time) ([]model.TradeEvent, error) {
	return s.primary.ListTradesDueSettlement(ctx, asOf)
}

func (s *CachedStore) ListNAVWindow(ctx context.Context, fundCode string, from, to time.Time) ([]model.NAV, error) {
	return s.primary.ListNAVWindow(ctx, fundCode, from, to)
}

func (s *CachedStore) CreateAlertRule(ctx context.Context, rule *model.AlertRule) error {
	return s.primary.CreateAlertRule(ctx, rule)
}

func (s *CachedStore) GetAlertRule(ctx context.Context, ruleID string) (*model.AlertRule, error) {
	return s.primary.GetAlertRule(ctx, ruleID)
}

func (s *CachedStore) ListAlertRulesByUser(ctx context.Context, userID string) ([]model.AlertRule, error) {
	return s.primary.ListAlertRulesByUser(ctx, userID)
}

func (s *CachedStore) ListEnabledAlertRules(ctx context.Context) ([]model.AlertRule, error) {
	return s.primary.ListEnabledAlertRules(ctx)
}

func (s *CachedStore) SetAlertRuleEnabled(ctx context.Context, ruleID string, enabled bool) error {
	return s.primary.SetAlertRuleEnabled(ctx, ruleID, enabled)
}

func (s *CachedStore) InsertAlertEvent(ctx context.Context, ev *model.AlertEvent) error {
	return s.primary.InsertAlertEvent(ctx, ev)
}

func (s *CachedStore) UpdateAlertStatus(ctx context.Context, eventID string, status model.AlertStatus, sentAt time.Time, errMsg string) error {
	return s.primary.UpdateAlertStatus(ctx, eventID, status, sentAt, errMsg)
}

func (s *CachedStore) ListPendingAlerts(ctx context.Context, limit int) ([]model.AlertEvent, error) {
	return s.primary.ListPendingAlerts(ctx, limit)
}

func (s *CachedStore) InsertJob(ctx context.Context, job *model.Job) error {
	return s.primary.InsertJob(ctx, job)
}

func (s *CachedStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	return s.primary.GetJob(ctx, jobID)
}

func (s *CachedStore) GetLiveJobByKey(ctx context.Context, key string) (*model.Job, error) {
	return s.primary.GetLiveJobByKey(ctx, key)
}

func (s *CachedStore) ClaimJob(ctx context.Context, jobID string, startedAt time.Time) (*model.Job, error) {
	return s.primary.ClaimJob(ctx, jobID, startedAt)
}

func (s *CachedStore) CompleteJob(ctx context.Context, jobID string, finishedAt time.Time) (*model.Job, error) {
	return s.primary.CompleteJob(ctx, jobID, finishedAt)
}

func (s *CachedStore) RequeueJob(ctx context.Context, jobID string, attempt int, errMsg string) (*model.Job, error) {
	return s.primary.RequeueJob(ctx, jobID, attempt, errMsg)
}

func (s *CachedStore) FailJob(ctx context.Context, jobID string, attempt int, errMsg string, finishedAt time.Time) (*model.Job, error) {
	return s.primary.FailJob(ctx, jobID, attempt, errMsg, finishedAt)
}

func (s *CachedStore) CancelJob(ctx context.Context, jobID string, finishedAt time.Time) (*model.Job, error) {
	return s.primary.CancelJob(ctx, jobID, finishedAt)
}

func (s *CachedStore) ListDueJobs(ctx context.Context, now time.Time, limit int) ([]model.Job, error) {
	return s.primary.ListDueJobs(ctx, now, limit)
}
