package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fundwatch/fund-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence). All the
// uniqueness and compare-and-set guarantees hold under a single process
// lock, mirroring what the PostgreSQL constraints enforce.
type MemoryStore struct {
	mu          sync.RWMutex
	ledger      []model.TradeEvent // append order is the insertion-order tiebreak
	tradeByID   map[string]int
	tradeByKey  map[string]int
	navs        map[string][]model.NAV // fund_code → observations, nav_date ascending
	snapshots   map[string]*model.PositionSnapshot
	rules       map[string]*model.AlertRule
	alertEvents []model.AlertEvent
	alertByID   map[string]int
	alertByKey  map[string]int
	jobs        map[string]*model.Job
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tradeByID:  make(map[string]int),
		tradeByKey: make(map[string]int),
		navs:       make(map[string][]model.NAV),
		snapshots:  make(map[string]*model.PositionSnapshot),
		rules:      make(map[string]*model.AlertRule),
		alertByID:  make(map[string]int),
		alertByKey: make(map[string]int),
		jobs:       make(map[string]*model.Job),
	}
}

func snapKey(userID, fundCode string) string { return userID + "|" + fundCode }

// --- Trade ledger ---

func (s *MemoryStore) InsertTradeEvent(_ context.Context, ev *model.TradeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tradeByKey[ev.IdempotencyKey]; ok {
		return ErrConflict
	}
	s.ledger = append(s.ledger, *ev)
	idx := len(s.ledger) - 1
	s.tradeByID[ev.TradeID] = idx
	s.tradeByKey[ev.IdempotencyKey] = idx
	return nil
}

func (s *MemoryStore) GetTradeEvent(_ context.Context, tradeID string) (*model.TradeEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.tradeByID[tradeID]
	if !ok {
		return nil, ErrNotFound
	}
	ev := s.ledger[idx]
	return &ev, nil
}

func (s *MemoryStore) GetTradeByIdempotencyKey(_ context.Context, key string) (*model.TradeEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.tradeByKey[key]
	if !ok {
		return nil, ErrNotFound
	}
	ev := s.ledger[idx]
	return &ev, nil
}

func (s *MemoryStore) UpdateTradeStatus(_ context.Context, tradeID string, from, to model.TradeStatus, settleDate time.Time, reason string) (*model.TradeEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.tradeByID[tradeID]
	if !ok {
		return nil, ErrNotFound
	}
	ev := &s.ledger[idx]
	if ev.Status != from {
		return nil, ErrStaleStatus
	}
	ev.Status = to
	if !settleDate.IsZero() {
		ev.SettleDate = settleDate
	}
	if reason != "" {
		ev.Reason = reason
	}
	ev.UpdatedAt = time.Now().UTC()
	out := *ev
	return &out, nil
}

func (s *MemoryStore) ListSettledTrades(_ context.Context, userID, fundCode string, asOf time.Time) ([]model.TradeEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.TradeEvent
	for _, ev := range s.ledger {
		if ev.UserID == userID && ev.FundCode == fundCode &&
			ev.Status == model.TradeSettled && !ev.TradeDate.After(asOf) {
			result = append(result, ev)
		}
	}
	// Stable sort keeps insertion order as the tiebreak within a trade date.
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].TradeDate.Before(result[j].TradeDate)
	})
	return result, nil
}

func (s *MemoryStore) ListTradesDueSettlement(_ context.Context, asOf time.Time) ([]model.TradeEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.TradeEvent
	for _, ev := range s.ledger {
		if ev.Status == model.TradeConfirmed && !ev.SettleDate.After(asOf) {
			result = append(result, ev)
		}
	}
	return result, nil
}

// --- NAV time series ---

func (s *MemoryStore) UpsertNAV(_ context.Context, nav *model.NAV) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	series := s.navs[nav.FundCode]
	for i := range series {
		if series[i].NavDate.Equal(nav.NavDate) {
			series[i] = *nav
			return nil
		}
	}
	series = append(series, *nav)
	sort.SliceStable(series, func(i, j int) bool {
		return series[i].NavDate.Before(series[j].NavDate)
	})
	s.navs[nav.FundCode] = series
	return nil
}

func (s *MemoryStore) GetLatestNAV(_ context.Context, fundCode string) (*model.NAV, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series := s.navs[fundCode]
	if len(series) == 0 {
		return nil, ErrNotFound
	}
	nav := series[len(series)-1]
	return &nav, nil
}

func (s *MemoryStore) ListNAVWindow(_ context.Context, fundCode string, from, to time.Time) ([]model.NAV, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.NAV
	for _, nav := range s.navs[fundCode] {
		if !nav.NavDate.Before(from) && !nav.NavDate.After(to) {
			result = append(result, nav)
		}
	}
	return result, nil
}

// --- Position snapshots ---

func (s *MemoryStore) SavePositionSnapshot(_ context.Context, snap *model.PositionSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *snap
	s.snapshots[snapKey(snap.UserID, snap.FundCode)] = &copy
	return nil
}

func (s *MemoryStore) GetPositionSnapshot(_ context.Context, userID, fundCode string) (*model.PositionSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snapshots[snapKey(userID, fundCode)]
	if !ok {
		return nil, ErrNotFound
	}
	copy := *snap
	return &copy, nil
}

func (s *MemoryStore) InvalidatePositionSnapshot(_ context.Context, userID, fundCode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.snapshots, snapKey(userID, fundCode))
	return nil
}

// --- Alert rules ---

func (s *MemoryStore) CreateAlertRule(_ context.Context, rule *model.AlertRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rules[rule.RuleID]; ok {
		return ErrConflict
	}
	copy := *rule
	s.rules[rule.RuleID] = &copy
	return nil
}

func (s *MemoryStore) GetAlertRule(_ context.Context, ruleID string) (*model.AlertRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, ok := s.rules[ruleID]
	if !ok {
		return nil, ErrNotFound
	}
	copy := *rule
	return &copy, nil
}

func (s *MemoryStore) ListAlertRulesByUser(_ context.Context, userID string) ([]model.AlertRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.AlertRule
	for _, rule := range s.rules {
		if rule.UserID == userID {
			result = append(result, *rule)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *MemoryStore) ListEnabledAlertRules(_ context.Context) ([]model.AlertRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.AlertRule
	for _, rule := range s.rules {
		if rule.Enabled {
			result = append(result, *rule)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *MemoryStore) SetAlertRuleEnabled(_ context.Context, ruleID string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, ok := s.rules[ruleID]
	if !ok {
		return ErrNotFound
	}
	rule.Enabled = enabled
	rule.UpdatedAt = time.Now().UTC()
	return nil
}

// --- Alert events ---

func (s *MemoryStore) InsertAlertEvent(_ context.Context, ev *model.AlertEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.alertByKey[ev.DedupKey]; ok {
		return ErrConflict
	}
	s.alertEvents = append(s.alertEvents, *ev)
	idx := len(s.alertEvents) - 1
	s.alertByID[ev.EventID] = idx
	s.alertByKey[ev.DedupKey] = idx
	return nil
}

func (s *MemoryStore) UpdateAlertStatus(_ context.Context, eventID string, status model.AlertStatus, sentAt time.Time, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.alertByID[eventID]
	if !ok {
		return ErrNotFound
	}
	ev := &s.alertEvents[idx]
	ev.Status = status
	if !sentAt.IsZero() {
		ev.SentAt = sentAt
	}
	if errMsg != "" {
		ev.Error = errMsg
	}
	return nil
}

func (s *MemoryStore) ListPendingAlerts(_ context.Context, limit int) ([]model.AlertEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.AlertEvent
	for _, ev := range s.alertEvents {
		if ev.Status == model.AlertPending {
			result = append(result, ev)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].TriggeredAt.Before(result[j].TriggeredAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// --- Jobs ---

func (s *MemoryStore) InsertJob(_ context.Context, job *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.jobs {
		if existing.IdempotencyKey == job.IdempotencyKey && existing.Status.Live() {
			return ErrConflict
		}
	}
	copy := *job
	s.jobs[job.JobID] = &copy
	return nil
}

func (s *MemoryStore) GetJob(_ context.Context, jobID string) (*model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	copy := *job
	return &copy, nil
}

func (s *MemoryStore) GetLiveJobByKey(_ context.Context, key string) (*model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, job := range s.jobs {
		if job.IdempotencyKey == key && job.Status.Live() {
			copy := *job
			return &copy, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ClaimJob(_ context.Context, jobID string, startedAt time.Time) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	if job.Status != model.JobPending {
		return nil, ErrStaleStatus
	}
	job.Status = model.JobRunning
	job.StartedAt = startedAt
	copy := *job
	return &copy, nil
}

func (s *MemoryStore) CompleteJob(_ context.Context, jobID string, finishedAt time.Time) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	if job.Status != model.JobRunning {
		return nil, ErrStaleStatus
	}
	job.Status = model.JobCompleted
	job.FinishedAt = finishedAt
	copy := *job
	return &copy, nil
}

func (s *MemoryStore) RequeueJob(_ context.Context, jobID string, attempt int, errMsg string) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	if job.Status != model.JobRunning {
		return nil, ErrStaleStatus
	}
	job.Status = model.JobPending
	job.Attempt = attempt
	job.Error = errMsg
	copy := *job
	return &copy, nil
}

func (s *MemoryStore) FailJob(_ context.Context, jobID string, attempt int, errMsg string, finishedAt time.Time) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	if job.Status != model.JobRunning {
		return nil, ErrStaleStatus
	}
	job.Status = model.JobFailed
	job.Attempt = attempt
	job.Error = errMsg
	job.FinishedAt = finishedAt
	copy := *job
	return &copy, nil
}

func (s *MemoryStore) CancelJob(_ context.Context, jobID string, finishedAt time.Time) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	if job.Status != model.JobPending {
		return nil, ErrStaleStatus
	}
	job.Status = model.JobCancelled
	job.FinishedAt = finishedAt
	copy := *job
	return &copy, nil
}

func (s *MemoryStore) ListDueJobs(_ context.Context, now time.Time, limit int) ([]model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Job
	for _, job := range s.jobs {
		if job.Status == model.JobPending && !job.ScheduledAt.After(now) {
			result = append(result, *job)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].ScheduledAt.Before(result[j].ScheduledAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
