package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fundwatch/fund-engine/internal/metrics"
	"github.com/fundwatch/fund-engine/internal/model"
	"github.com/fundwatch/fund-engine/internal/store"
)

// defaultWindowDays is the NAV lookback used when a rule does not set one.
const defaultWindowDays = 30

// ErrValidation marks a malformed rule definition.
var ErrValidation = errors.New("alert: validation failed")

// Notifier delivers an admitted alert event. How delivery happens is the
// collaborator's business; the engine only records the outcome.
type Notifier interface {
	Deliver(ctx context.Context, ev *model.AlertEvent) error
}

// LogNotifier is the default delivery channel: it just logs the event.
type LogNotifier struct{}

func (LogNotifier) Deliver(_ context.Context, ev *model.AlertEvent) error {
	slog.Info("alert",
		"event_id", ev.EventID,
		"user", ev.UserID,
		"fund", ev.FundCode,
		"rule_type", string(ev.RuleType),
		"payload", ev.Payload,
	)
	return nil
}

// Service coordinates rule evaluation, the dedup gate, and delivery.
type Service struct {
	store          store.Store
	gate           *Gate
	notifier       Notifier
	hub            *WSHub // optional real-time fan-out
	monitoredFunds []string
}

// NewService creates an alert service. Pass nil for hub if WebSocket
// broadcasting is not needed; monitoredFunds is the expansion set for
// rules without a fund code.
func NewService(st store.Store, notifier Notifier, hub *WSHub, monitoredFunds []string) *Service {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &Service{
		store:          st,
		gate:           NewGate(st),
		notifier:       notifier,
		hub:            hub,
		monitoredFunds: monitoredFunds,
	}
}

// CheckRule runs the evaluate+admit pipeline for one rule against one
// fund, producing zero or one AlertEvent per evaluation tick.
func (s *Service) CheckRule(ctx context.Context, rule *model.AlertRule, fundCode string, now time.Time) (*model.AlertEvent, error) {
	days := rule.Params.WindowDays
	if days <= 0 {
		days = defaultWindowDays
	}
	from := now.AddDate(0, 0, -days)

	window, err := s.store.ListNAVWindow(ctx, fundCode, from, now)
	if err != nil {
		return nil, fmt.Errorf("load nav window for %s: %w", fundCode, err)
	}

	firing := Evaluate(rule, window, now)
	if firing == nil {
		return nil, nil
	}

	ev, admitted, err := s.gate.Admit(ctx, firing, rule.CooldownSeconds)
	if err != nil {
		return nil, err
	}
	if !admitted {
		slog.Debug("alert suppressed by cooldown bucket",
			"rule", rule.RuleID, "fund", fundCode)
		return nil, nil
	}

	slog.Info("alert fired",
		"event_id", ev.EventID,
		"rule", rule.RuleID,
		"fund", fundCode,
		"rule_type", string(rule.RuleType),
	)
	if s.hub != nil {
		s.hub.BroadcastAlert(ev)
	}
	return ev, nil
}

// CheckAllRules evaluates every enabled rule, expanding fund-less rules
// over the monitored fund list. Returns the number of admitted events.
func (s *Service) CheckAllRules(ctx context.Context, now time.Time) (int, error) {
	rules, err := s.store.ListEnabledAlertRules(ctx)
	if err != nil {
		return 0, fmt.Errorf("list enabled rules: %w", err)
	}

	fired := 0
	for i := range rules {
		rule := &rules[i]
		funds := []string{rule.FundCode}
		if rule.FundCode == "" {
			funds = s.monitoredFunds
		}
		for _, fund := range funds {
			ev, err := s.CheckRule(ctx, rule, fund, now)
			if err != nil {
				slog.Error("rule check failed",
					"rule", rule.RuleID, "fund", fund, "err", err)
				continue
			}
			if ev != nil {
				fired++
			}
		}
	}
	return fired, nil
}

// DeliverPending pushes up to limit pending events through the notifier,
// recording sent/failed per event.
func (s *Service) DeliverPending(ctx context.Context, limit int) error {
	pending, err := s.store.ListPendingAlerts(ctx, limit)
	if err != nil {
		return fmt.Errorf("list pending alerts: %w", err)
	}

	for i := range pending {
		ev := &pending[i]
		if err := s.notifier.Deliver(ctx, ev); err != nil {
			metrics.AlertDeliveries.WithLabelValues(string(model.AlertFailed)).Inc()
			if uerr := s.store.UpdateAlertStatus(ctx, ev.EventID, model.AlertFailed, time.Time{}, err.Error()); uerr != nil {
				return fmt.Errorf("mark alert %s failed: %w", ev.EventID, uerr)
			}
			continue
		}
		metrics.AlertDeliveries.WithLabelValues(string(model.AlertSent)).Inc()
		if err := s.store.UpdateAlertStatus(ctx, ev.EventID, model.AlertSent, time.Now().UTC(), ""); err != nil {
			return fmt.Errorf("mark alert %s sent: %w", ev.EventID, err)
		}
	}
	return nil
}

// Suppress marks an admitted-but-undelivered event as suppressed, e.g.
// when a later policy decides not to deliver (user muted).
func (s *Service) Suppress(ctx context.Context, eventID string) error {
	metrics.AlertDeliveries.WithLabelValues(string(model.AlertSuppressed)).Inc()
	return s.store.UpdateAlertStatus(ctx, eventID, model.AlertSuppressed, time.Time{}, "")
}

// CreateRule validates and persists a new user rule.
func (s *Service) CreateRule(ctx context.Context, rule *model.AlertRule) (*model.AlertRule, error) {
	switch rule.RuleType {
	case model.RuleThreshold, model.RuleDrawdown, model.RuleVolatility,
		model.RuleNewHigh, model.RuleNewLow:
	default:
		return nil, fmt.Errorf("%w: unknown rule_type %q", ErrValidation, rule.RuleType)
	}
	if rule.UserID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrValidation)
	}
	if rule.CooldownSeconds <= 0 {
		return nil, fmt.Errorf("%w: cooldown_seconds must be positive", ErrValidation)
	}

	now := time.Now().UTC()
	rule.RuleID = uuid.New().String()
	rule.Enabled = true
	rule.CreatedAt = now
	rule.UpdatedAt = now

	if err := s.store.CreateAlertRule(ctx, rule); err != nil {
		return nil, fmt.Errorf("create alert rule: %w", err)
	}
	slog.Info("alert rule created",
		"rule", rule.RuleID,
		"user", rule.UserID,
		"rule_type", string(rule.RuleType),
	)
	return rule, nil
}

// ListRules returns all rules owned by a user.
func (s *Service) ListRules(ctx context.Context, userID string) ([]model.AlertRule, error) {
	return s.store.ListAlertRulesByUser(ctx, userID)
}

// SetRuleEnabled flips a rule on or off.
func (s *Service) SetRuleEnabled(ctx context.Context, ruleID string, enabled bool) error {
	return s.store.SetAlertRuleEnabled(ctx, ruleID, enabled)
}
