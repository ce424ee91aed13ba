package alert

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/fundwatch/fund-engine/internal/metrics"
	"github.com/fundwatch/fund-engine/internal/model"
	"github.com/fundwatch/fund-engine/internal/store"
)

// DedupKey derives the deterministic composite key collapsing firings
// within the same cooldown bucket: user:fund:rule_type:bucket, where the
// bucket is floor(unix(triggered_at) / cooldown_seconds).
//
// Cooldown is bucket-aligned, not a rolling window from the last send:
// two firings can land as close as one bucket boundary apart. The
// guarantee is "at most one event per bucket", not "at least
// cooldown_seconds between events".
func DedupKey(userID, fundCode string, ruleType model.AlertRuleType, cooldownSeconds int64, triggeredAt time.Time) string {
	bucket := triggeredAt.Unix() / cooldownSeconds
	return strings.Join([]string{
		userID,
		fundCode,
		string(ruleType),
		fmt.Sprintf("%d", bucket),
	}, ":")
}

// Gate turns firings into alert events, relying on the store's unique
// constraint on dedup_key as the race-proof dedup mechanism.
type Gate struct {
	store store.Store
}

// NewGate creates a dedup/cooldown gate.
func NewGate(st store.Store) *Gate {
	return &Gate{store: st}
}

// Admit inserts a pending AlertEvent for the firing unless another event
// already occupies the cooldown bucket. A dedup collision is not an
// error: it returns (nil, false, nil) and the firing is suppressed.
func (g *Gate) Admit(ctx context.Context, firing *Firing, cooldownSeconds int64) (*model.AlertEvent, bool, error) {
	if cooldownSeconds <= 0 {
		return nil, false, fmt.Errorf("cooldown_seconds must be positive, got %d", cooldownSeconds)
	}

	ev := &model.AlertEvent{
		EventID:     ulid.Make().String(), // time-sortable
		RuleID:      firing.RuleID,
		UserID:      firing.UserID,
		FundCode:    firing.FundCode,
		RuleType:    firing.RuleType,
		TriggeredAt: firing.TriggeredAt,
		Payload:     firing.Payload,
		DedupKey:    DedupKey(firing.UserID, firing.FundCode, firing.RuleType, cooldownSeconds, firing.TriggeredAt),
		Status:      model.AlertPending,
		CreatedAt:   time.Now().UTC(),
	}

	err := g.store.InsertAlertEvent(ctx, ev)
	if errors.Is(err, store.ErrConflict) {
		metrics.AlertsSuppressed.WithLabelValues(string(firing.RuleType)).Inc()
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("insert alert event: %w", err)
	}

	metrics.AlertsFired.WithLabelValues(string(firing.RuleType)).Inc()
	return ev, true, nil
}
