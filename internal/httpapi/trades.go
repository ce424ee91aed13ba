package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fundwatch/fund-engine/internal/model"
	"github.com/fundwatch/fund-engine/internal/trade"
)

func (a *API) submitTrade(w http.ResponseWriter, r *http.Request) {
	var req trade.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, fmt.Errorf("%w: invalid request body", trade.ErrValidation))
		return
	}

	ev, err := a.Trades.Submit(r.Context(), req)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, ev)
}

func (a *API) getTrade(w http.ResponseWriter, r *http.Request) {
	ev, err := a.Trades.Get(r.Context(), chi.URLParam(r, "tradeID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, ev)
}

func (a *API) confirmTrade(w http.ResponseWriter, r *http.Request) {
	ev, err := a.Trades.Confirm(r.Context(), chi.URLParam(r, "tradeID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, ev)
}

func (a *API) settleTrade(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SettleDate time.Time `json:"settle_date"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			respondError(w, r, fmt.Errorf("%w: invalid request body", trade.ErrValidation))
			return
		}
	}

	ev, err := a.Trades.Settle(r.Context(), chi.URLParam(r, "tradeID"), body.SettleDate)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, ev)
}

func (a *API) cancelTrade(w http.ResponseWriter, r *http.Request) {
	terminateTrade(w, r, a.Trades.Cancel)
}

func (a *API) failTrade(w http.ResponseWriter, r *http.Request) {
	terminateTrade(w, r, a.Trades.Fail)
}

func terminateTrade(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, tradeID, reason string) (*model.TradeEvent, error)) {
	var body struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			respondError(w, r, fmt.Errorf("%w: invalid request body", trade.ErrValidation))
			return
		}
	}

	ev, err := fn(r.Context(), chi.URLParam(r, "tradeID"), body.Reason)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, ev)
}
