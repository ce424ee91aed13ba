package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/fundwatch/fund-engine/internal/alert"
	"github.com/fundwatch/fund-engine/internal/marketdata"
	"github.com/fundwatch/fund-engine/internal/position"
	"github.com/fundwatch/fund-engine/internal/sched"
	"github.com/fundwatch/fund-engine/internal/store"
	"github.com/fundwatch/fund-engine/internal/trade"
)

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response failed", "err", err)
	}
}

func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	}
	respondJSON(w, status, map[string]string{"error": err.Error()})
}

// statusFor maps domain sentinel errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, trade.ErrValidation),
		errors.Is(err, alert.ErrValidation),
		errors.Is(err, marketdata.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, trade.ErrInvalidState),
		errors.Is(err, position.ErrNegativeShares),
		errors.Is(err, sched.ErrAlreadyClaimed),
		errors.Is(err, sched.ErrNotCancellable),
		errors.Is(err, store.ErrConflict),
		errors.Is(err, store.ErrStaleStatus):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
