package trade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fundwatch/fund-engine/internal/metrics"
	"github.com/fundwatch/fund-engine/internal/model"
	"github.com/fundwatch/fund-engine/internal/store"
)

// SubmitRequest is a trade submission arriving from the ingestion boundary.
// An empty IdempotencyKey is derived from the identity fields.
type SubmitRequest struct {
	UserID         string          `json:"user_id"`
	FundCode       string          `json:"fund_code"`
	TradeType      model.TradeType `json:"trade_type"`
	Shares         decimal.Decimal `json:"shares"`
	Amount         decimal.Decimal `json:"amount"`
	NavPrice       decimal.Decimal `json:"nav_price"`
	TradeDate      time.Time       `json:"trade_date"`
	IdempotencyKey string          `json:"idempotency_key"`
	ClientMsgID    string          `json:"client_msg_id"`
	RawSource      string          `json:"raw_source"`
}

// Service owns trade submission and lifecycle transitions. All mutations
// are single atomic store operations, so concurrent workers racing on the
// same idempotency key or trade never both succeed.
type Service struct {
	store        store.Store
	settleOffset int // business days between trade and settlement
}

// NewService creates a trade service. settleOffsetDays is typically 1 (T+1).
func NewService(st store.Store, settleOffsetDays int) *Service {
	return &Service{store: st, settleOffset: settleOffsetDays}
}

// Submit validates the request and appends a created trade event. A
// duplicate idempotency key returns the existing event unchanged, so
// resubmitting a trade never creates a second ledger row.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*model.TradeEvent, error) {
	if req.UserID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrValidation)
	}
	if req.FundCode == "" {
		return nil, fmt.Errorf("%w: fund_code is required", ErrValidation)
	}
	if err := ValidateRequest(req.TradeType, req.Shares, req.Amount, req.NavPrice); err != nil {
		return nil, err
	}
	if req.TradeDate.IsZero() {
		return nil, fmt.Errorf("%w: trade_date is required", ErrValidation)
	}

	key := req.IdempotencyKey
	if key == "" {
		key = IdempotencyKey(req.UserID, req.FundCode, req.TradeType, req.TradeDate,
			req.Amount, req.Shares, req.NavPrice, req.ClientMsgID)
	}

	now := time.Now().UTC()
	ev := &model.TradeEvent{
		TradeID:        uuid.New().String(),
		UserID:         req.UserID,
		FundCode:       req.FundCode,
		TradeType:      req.TradeType,
		Shares:         req.Shares,
		Amount:         req.Amount,
		NavPrice:       req.NavPrice,
		TradeDate:      req.TradeDate,
		SettleDate:     SettleDate(req.TradeDate, s.settleOffset),
		Status:         model.TradeCreated,
		IdempotencyKey: key,
		RawSource:      req.RawSource,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err := s.store.InsertTradeEvent(ctx, ev)
	if errors.Is(err, store.ErrConflict) {
		// Retried request: return the stored event, no second side effect.
		existing, getErr := s.store.GetTradeByIdempotencyKey(ctx, key)
		if getErr != nil {
			return nil, fmt.Errorf("load existing trade for key %s: %w", key, getErr)
		}
		metrics.TradeSubmitDuplicates.Inc()
		slog.Info("duplicate trade submission",
			"trade_id", existing.TradeID,
			"idempotency_key", key,
		)
		return existing, nil
	}
	if err != nil {
		return nil, fmt.Errorf("insert trade event: %w", err)
	}

	metrics.TradesSubmitted.WithLabelValues(string(req.TradeType)).Inc()
	slog.Info("trade submitted",
		"trade_id", ev.TradeID,
		"user", ev.UserID,
		"fund", ev.FundCode,
		"type", string(ev.TradeType),
		"nav_price", ev.NavPrice.String(),
	)
	return ev, nil
}

// Confirm moves created → confirmed.
func (s *Service) Confirm(ctx context.Context, tradeID string) (*model.TradeEvent, error) {
	return s.transition(ctx, tradeID, model.TradeCreated, model.TradeConfirmed, time.Time{}, "")
}

// Settle moves confirmed → settled and invalidates the cached position
// snapshot for the affected (user, fund) pair so the next read recomputes.
func (s *Service) Settle(ctx context.Context, tradeID string, settleDate time.Time) (*model.TradeEvent, error) {
	ev, err := s.transition(ctx, tradeID, model.TradeConfirmed, model.TradeSettled, settleDate, "")
	if err != nil {
		return nil, err
	}
	if err := s.store.InvalidatePositionSnapshot(ctx, ev.UserID, ev.FundCode); err != nil {
		// Snapshot recomputation is lazy; a stale cache row will be
		// rewritten on the next rebuild, so log and carry on.
		slog.Warn("snapshot invalidation failed",
			"user", ev.UserID, "fund", ev.FundCode, "err", err)
	}
	return ev, nil
}

// Cancel moves created or confirmed → cancelled, recording the reason.
func (s *Service) Cancel(ctx context.Context, tradeID, reason string) (*model.TradeEvent, error) {
	return s.terminate(ctx, tradeID, model.TradeCancelled, reason)
}

// Fail moves created or confirmed → failed, recording the reason.
func (s *Service) Fail(ctx context.Context, tradeID, reason string) (*model.TradeEvent, error) {
	return s.terminate(ctx, tradeID, model.TradeFailed, reason)
}

// Get retrieves a trade event by ID.
func (s *Service) Get(ctx context.Context, tradeID string) (*model.TradeEvent, error) {
	return s.store.GetTradeEvent(ctx, tradeID)
}

func (s *Service) transition(ctx context.Context, tradeID string, from, to model.TradeStatus, settleDate time.Time, reason string) (*model.TradeEvent, error) {
	ev, err := s.store.UpdateTradeStatus(ctx, tradeID, from, to, settleDate, reason)
	if errors.Is(err, store.ErrStaleStatus) {
		return nil, fmt.Errorf("%w: %s is not %s", ErrInvalidState, tradeID, from)
	}
	if err != nil {
		return nil, err
	}

	metrics.TradeTransitions.WithLabelValues(string(to)).Inc()
	slog.Info("trade transitioned",
		"trade_id", tradeID,
		"from", string(from),
		"to", string(to),
	)
	return ev, nil
}

// terminate applies a terminal status reachable from either created or
// confirmed. The observed status is the compare-and-set guard; a racing
// transition surfaces as ErrInvalidState for the loser.
func (s *Service) terminate(ctx context.Context, tradeID string, to model.TradeStatus, reason string) (*model.TradeEvent, error) {
	current, err := s.store.GetTradeEvent(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(current.Status, to) {
		return nil, fmt.Errorf("%w: cannot move %s from %s to %s",
			ErrInvalidState, tradeID, current.Status, to)
	}
	return s.transition(ctx, tradeID, current.Status, to, time.Time{}, reason)
}
