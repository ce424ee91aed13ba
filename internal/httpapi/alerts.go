package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fundwatch/fund-engine/internal/alert"
	"github.com/fundwatch/fund-engine/internal/model"
)

func (a *API) createAlertRule(w http.ResponseWriter, r *http.Request) {
	var rule model.AlertRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		respondError(w, r, fmt.Errorf("%w: invalid request body", alert.ErrValidation))
		return
	}

	created, err := a.Alerts.CreateRule(r.Context(), &rule)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

func (a *API) listAlertRules(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		respondError(w, r, fmt.Errorf("%w: user_id query parameter is required", alert.ErrValidation))
		return
	}

	rules, err := a.Alerts.ListRules(r.Context(), userID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, rules)
}

func (a *API) setAlertRuleEnabled(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, r, fmt.Errorf("%w: invalid request body", alert.ErrValidation))
		return
	}

	if err := a.Alerts.SetRuleEnabled(r.Context(), chi.URLParam(r, "ruleID"), body.Enabled); err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"enabled": body.Enabled})
}

func (a *API) suppressAlert(w http.ResponseWriter, r *http.Request) {
	if err := a.Alerts.Suppress(r.Context(), chi.URLParam(r, "eventID")); err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": string(model.AlertSuppressed)})
}
