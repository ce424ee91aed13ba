package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/fundwatch/fund-engine/internal/alert"
	"github.com/fundwatch/fund-engine/internal/config"
	"github.com/fundwatch/fund-engine/internal/httpapi"
	"github.com/fundwatch/fund-engine/internal/marketdata"
	"github.com/fundwatch/fund-engine/internal/model"
	"github.com/fundwatch/fund-engine/internal/position"
	"github.com/fundwatch/fund-engine/internal/sched"
	"github.com/fundwatch/fund-engine/internal/store"
	"github.com/fundwatch/fund-engine/internal/trade"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// .env is optional; environment wins over file values.
	_ = godotenv.Load()

	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadFromFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.Database.URL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.Database.URL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.Database.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.Database.RedisURL)
			if err != nil {
				slog.Error("invalid redis URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.Database.CacheTTL.D())
			slog.Info("Redis cache enabled", "ttl", cfg.Database.CacheTTL.D())
		}
	} else {
		slog.Warn("database URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- WebSocket hub ---
	hub := alert.NewWSHub()
	go hub.Run()

	// --- Services ---
	tradeSvc := trade.NewService(st, cfg.Trading.SettleOffsetDays)
	positions := position.NewRebuilder(st)
	ingestor := marketdata.NewIngestor(st)
	navSource := marketdata.NewManualSource()
	alertSvc := alert.NewService(st, alert.LogNotifier{}, hub, cfg.Trading.MonitoredFunds)
	scheduler := sched.NewScheduler(st, cfg.Scheduler.MaxAttempts)

	// --- Background worker ---
	worker := sched.NewWorker(scheduler, st, cfg.Scheduler.WorkerTick.D())
	worker.Register(model.JobNavSync, &sched.NavSyncExecutor{
		Source:   navSource,
		Ingestor: ingestor,
		Funds:    cfg.Trading.MonitoredFunds,
	})
	worker.Register(model.JobSettle, &sched.SettleExecutor{
		Store:  st,
		Trades: tradeSvc,
	})
	worker.Register(model.JobAlertCheck, &sched.AlertCheckExecutor{
		Alerts:        alertSvc,
		DeliveryBatch: cfg.Alerting.DeliveryBatch,
	})
	worker.Schedule(model.JobNavSync, cfg.Scheduler.NavSyncInterval.D(), "")
	worker.Schedule(model.JobSettle, cfg.Scheduler.SettleInterval.D(), "")
	worker.Schedule(model.JobAlertCheck, cfg.Scheduler.AlertCheckInterval.D(), "")

	workerCtx, stopWorker := context.WithCancel(context.Background())
	go worker.Run(workerCtx)

	// --- HTTP server ---
	api := &httpapi.API{
		Trades:    tradeSvc,
		Positions: positions,
		Alerts:    alertSvc,
		Jobs:      scheduler,
		Ingestor:  ingestor,
		Store:     st,
		Hub:       hub,
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      api.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout.D(),
		WriteTimeout: cfg.Server.WriteTimeout.D(),
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("fund-engine listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	stopWorker()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down fund-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("fund-engine stopped")
}
