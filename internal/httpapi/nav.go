package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fundwatch/fund-engine/internal/marketdata"
	"github.com/fundwatch/fund-engine/internal/model"
)

func (a *API) ingestNAV(w http.ResponseWriter, r *http.Request) {
	var nav model.NAV
	if err := json.NewDecoder(r.Body).Decode(&nav); err != nil {
		respondError(w, r, fmt.Errorf("%w: invalid request body", marketdata.ErrValidation))
		return
	}

	if err := a.Ingestor.Ingest(r.Context(), &nav); err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, nav)
}

func (a *API) latestNAV(w http.ResponseWriter, r *http.Request) {
	nav, err := a.Store.GetLatestNAV(r.Context(), chi.URLParam(r, "fundCode"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, nav)
}

// navWindow returns the NAV series for a fund over [from, to]; defaults
// to the last 30 days.
func (a *API) navWindow(w http.ResponseWriter, r *http.Request) {
	to := time.Now().UTC()
	from := to.AddDate(0, 0, -30)

	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			respondJSON(w, http.StatusBadRequest, map[string]string{"error": "from must be YYYY-MM-DD"})
			return
		}
		from = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			respondJSON(w, http.StatusBadRequest, map[string]string{"error": "to must be YYYY-MM-DD"})
			return
		}
		to = t
	}

	navs, err := a.Store.ListNAVWindow(r.Context(), chi.URLParam(r, "fundCode"), from, to)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, navs)
}
