// Package httpapi exposes the fund engine over HTTP. Handlers are thin:
// decode, call the owning service, map sentinel errors to status codes.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/fundwatch/fund-engine/internal/alert"
	"github.com/fundwatch/fund-engine/internal/marketdata"
	"github.com/fundwatch/fund-engine/internal/metrics"
	"github.com/fundwatch/fund-engine/internal/position"
	"github.com/fundwatch/fund-engine/internal/sched"
	"github.com/fundwatch/fund-engine/internal/store"
	"github.com/fundwatch/fund-engine/internal/trade"
)

// API aggregates the services behind the HTTP surface.
type API struct {
	Trades    *trade.Service
	Positions *position.Rebuilder
	Alerts    *alert.Service
	Jobs      *sched.Scheduler
	Ingestor  *marketdata.Ingestor
	Store     store.Store
	Hub       *alert.WSHub
}

// Router builds the chi router with the standard middleware stack.
func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"fund-engine"}`))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time alert pushes.
		r.Get("/ws", a.Hub.HandleWS)

		// Trade ledger.
		r.Post("/trades", a.submitTrade)
		r.Get("/trades/{tradeID}", a.getTrade)
		r.Post("/trades/{tradeID}/confirm", a.confirmTrade)
		r.Post("/trades/{tradeID}/settle", a.settleTrade)
		r.Post("/trades/{tradeID}/cancel", a.cancelTrade)
		r.Post("/trades/{tradeID}/fail", a.failTrade)

		// Positions.
		r.Get("/positions/{userID}/{fundCode}", a.getPosition)
		r.Post("/positions/{userID}/{fundCode}/rebuild", a.rebuildPosition)

		// NAV ingestion and queries.
		r.Post("/nav", a.ingestNAV)
		r.Get("/nav/{fundCode}/latest", a.latestNAV)
		r.Get("/nav/{fundCode}", a.navWindow)

		// Alert rules and events.
		r.Post("/alerts/rules", a.createAlertRule)
		r.Get("/alerts/rules", a.listAlertRules)
		r.Put("/alerts/rules/{ruleID}/enabled", a.setAlertRuleEnabled)
		r.Post("/alerts/events/{eventID}/suppress", a.suppressAlert)

		// Jobs.
		r.Post("/jobs", a.enqueueJob)
		r.Get("/jobs/{jobID}", a.getJob)
		r.Post("/jobs/{jobID}/cancel", a.cancelJob)
	})

	return r
}
