package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fundwatch/fund-engine/internal/model"
)

func (a *API) enqueueJob(w http.ResponseWriter, r *http.Request) {
	var body struct {
		JobType     model.JobType `json:"job_type"`
		Payload     string        `json:"payload"`
		ScheduledAt time.Time     `json:"scheduled_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if body.ScheduledAt.IsZero() {
		body.ScheduledAt = time.Now().UTC()
	}

	job, err := a.Jobs.Enqueue(r.Context(), body.JobType, body.Payload, body.ScheduledAt)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, job)
}

func (a *API) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := a.Jobs.Get(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, job)
}

func (a *API) cancelJob(w http.ResponseWriter, r *http.Request) {
	job, err := a.Jobs.Cancel(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, job)
}
