// Package alert evaluates user-configured rules against NAV facts and
// converts firings into deduplicated, cooldown-bounded alert events.
package alert

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fundwatch/fund-engine/internal/model"
)

// Firing is the evaluator's output when a rule triggers: the identifying
// fields plus the numeric values that justified the decision, kept for
// auditability.
type Firing struct {
	RuleID      string
	UserID      string
	FundCode    string
	RuleType    model.AlertRuleType
	TriggeredAt time.Time
	Payload     map[string]string
}

// Evaluate is a stateless decision over an ordered NAV window (oldest
// first, latest observation last). It returns nil when the rule does not
// fire. Missing or insufficient history degrades to no firing, not an
// error.
func Evaluate(rule *model.AlertRule, window []model.NAV, now time.Time) *Firing {
	if len(window) == 0 {
		return nil
	}
	latest := window[len(window)-1]

	var payload map[string]string
	switch rule.RuleType {
	case model.RuleThreshold:
		payload = evalThreshold(rule.Params, window)
	case model.RuleDrawdown:
		payload = evalDrawdown(rule.Params, window)
	case model.RuleVolatility:
		payload = evalVolatility(rule.Params, window)
	case model.RuleNewHigh:
		payload = evalNewHigh(window)
	case model.RuleNewLow:
		payload = evalNewLow(window)
	default:
		return nil
	}
	if payload == nil {
		return nil
	}

	return &Firing{
		RuleID:      rule.RuleID,
		UserID:      rule.UserID,
		FundCode:    latest.FundCode,
		RuleType:    rule.RuleType,
		TriggeredAt: now,
		Payload:     payload,
	}
}

// evalThreshold detects an edge crossing of the configured value: the
// previous observation on one side, the latest on the other. Comparing
// against the previous tick (rather than "is currently past threshold")
// avoids re-firing every tick while the condition persists.
func evalThreshold(params model.AlertRuleParams, window []model.NAV) map[string]string {
	if len(window) < 2 || params.ThresholdValue.LessThanOrEqual(decimal.Zero) {
		return nil
	}
	prev := window[len(window)-2].Nav
	latest := window[len(window)-1].Nav
	threshold := params.ThresholdValue

	var crossed bool
	switch params.Direction {
	case model.DirectionBelow:
		crossed = prev.GreaterThanOrEqual(threshold) && latest.LessThan(threshold)
	default: // above
		crossed = prev.LessThan(threshold) && latest.GreaterThanOrEqual(threshold)
	}
	if !crossed {
		return nil
	}

	return map[string]string{
		"previous_nav": prev.String(),
		"current_nav":  latest.String(),
		"threshold":    threshold.String(),
		"direction":    string(params.Direction),
	}
}

// evalDrawdown fires when the fall from the rolling window maximum reaches
// the configured percentage.
func evalDrawdown(params model.AlertRuleParams, window []model.NAV) map[string]string {
	if params.ThresholdPct.LessThanOrEqual(decimal.Zero) {
		return nil
	}
	peak := window[0].Nav
	for _, nav := range window {
		if nav.Nav.GreaterThan(peak) {
			peak = nav.Nav
		}
	}
	if !peak.IsPositive() {
		return nil
	}
	latest := window[len(window)-1].Nav
	hundred := decimal.NewFromInt(100)
	drawdownPct := peak.Sub(latest).Div(peak).Mul(hundred)
	if drawdownPct.LessThan(params.ThresholdPct) {
		return nil
	}

	return map[string]string{
		"peak_nav":      peak.String(),
		"current_nav":   latest.String(),
		"drawdown_pct":  drawdownPct.Round(4).String(),
		"threshold_pct": params.ThresholdPct.String(),
	}
}

// evalVolatility fires when the sample standard deviation of daily
// percentage returns over the window reaches the configured threshold.
// Statistics are computed in float64; the inputs are observations, not
// money.
func evalVolatility(params model.AlertRuleParams, window []model.NAV) map[string]string {
	if params.ThresholdPct.LessThanOrEqual(decimal.Zero) || len(window) < 3 {
		return nil
	}

	returns := make([]float64, 0, len(window)-1)
	for i := 1; i < len(window); i++ {
		prev := window[i-1].Nav
		if !prev.IsPositive() {
			continue
		}
		pct := window[i].Nav.Sub(prev).Div(prev).Mul(decimal.NewFromInt(100))
		returns = append(returns, pct.InexactFloat64())
	}
	if len(returns) < 2 {
		return nil
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1) // sample variance
	stddev := math.Sqrt(variance)

	threshold := params.ThresholdPct.InexactFloat64()
	if stddev < threshold {
		return nil
	}

	return map[string]string{
		"volatility_pct": decimal.NewFromFloat(stddev).Round(4).String(),
		"threshold_pct":  params.ThresholdPct.String(),
		"samples":        decimal.NewFromInt(int64(len(returns))).String(),
	}
}

// evalNewHigh fires when the latest NAV is the maximum within the window.
func evalNewHigh(window []model.NAV) map[string]string {
	if len(window) < 2 {
		return nil
	}
	latest := window[len(window)-1].Nav
	for _, nav := range window[:len(window)-1] {
		if nav.Nav.GreaterThanOrEqual(latest) {
			return nil
		}
	}
	return map[string]string{
		"current_nav": latest.String(),
		"window_size": decimal.NewFromInt(int64(len(window))).String(),
	}
}

// evalNewLow fires when the latest NAV is the minimum within the window.
func evalNewLow(window []model.NAV) map[string]string {
	if len(window) < 2 {
		return nil
	}
	latest := window[len(window)-1].Nav
	for _, nav := range window[:len(window)-1] {
		if nav.Nav.LessThanOrEqual(latest) {
			return nil
		}
	}
	return map[string]string{
		"current_nav": latest.String(),
		"window_size": decimal.NewFromInt(int64(len(window))).String(),
	}
}
