package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

func (a *API) getPosition(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	fundCode := chi.URLParam(r, "fundCode")

	snap, err := a.Positions.Current(r.Context(), userID, fundCode)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (a *API) rebuildPosition(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	fundCode := chi.URLParam(r, "fundCode")

	asOf := time.Now().UTC()
	if v := r.URL.Query().Get("as_of"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			respondJSON(w, http.StatusBadRequest, map[string]string{"error": "as_of must be YYYY-MM-DD"})
			return
		}
		asOf = t
	}

	snap, err := a.Positions.Rebuild(r.Context(), userID, fundCode, asOf)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}
