package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/deltadesk/position-engine/internal/api"
	"github.com/deltadesk/position-engine/internal/config"
	"github.com/deltadesk/position-engine/internal/hedge"
	"github.com/deltadesk/position-engine/internal/market"
	"github.com/deltadesk/position-engine/internal/metrics"
	"github.com/deltadesk/position-engine/internal/order"
	"github.com/deltadesk/position-engine/internal/position"
	"github.com/deltadesk/position-engine/internal/recon"
	"github.com/deltadesk/position-engine/internal/snapshot"
	"github.com/deltadesk/position-engine/internal/store"
	"github.com/deltadesk/position-engine/internal/transfer"
	"github.com/deltadesk/position-engine/internal/venue"
	"github.com/deltadesk/position-engine/internal/venue/drift"
	"github.com/deltadesk/position-engine/internal/venue/hyperliquid"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := config.FromEnv()

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Domain services ---
	markets := market.Default()
	monitor, err := hedge.NewMonitor(cfg.HedgeDriftRatio, cfg.HedgeBrokenRatio, cfg.HedgeMinNotional)
	if err != nil {
		slog.Error("invalid hedge thresholds", "err", err)
		os.Exit(1)
	}
	orders := order.NewLedger(st, markets, cfg.StoreMaxRetries)
	positions := position.NewAggregator(st, monitor, cfg.StoreMaxRetries)
	snapshots := snapshot.NewRecorder(st)
	transfers := transfer.NewLedger(st)

	// --- Venue clients ---
	venues := venue.NewRegistry(
		drift.NewClient(cfg.DriftGatewayURL),
		hyperliquid.NewClient(cfg.HyperliquidAPIURL, markets),
	)

	// --- WebSocket hub ---
	hub := api.NewHub()
	go hub.Run()

	// --- Reconciliation scheduler ---
	sched := recon.NewScheduler(recon.Config{
		Interval:       cfg.ReconInterval,
		Workers:        cfg.ReconWorkers,
		MaxAttempts:    cfg.ReconMaxAttempts,
		Backoff:        recon.Backoff{Base: cfg.ReconBackoffBase, Max: cfg.ReconBackoffMax},
		FillLookback:   cfg.FillLookback,
		AccountTimeout: cfg.AccountTimeout,
		ShutdownGrace:  cfg.ShutdownGrace,
	}, st, venues, orders, positions, snapshots, transfers, hub)

	reconCtx, stopRecon := context.WithCancel(context.Background())
	reconDone := make(chan struct{})
	go func() {
		sched.Start(reconCtx)
		close(reconDone)
	}()

	// --- HTTP service ---
	svc := api.NewService(st, orders, positions, transfers, snapshots, venues, markets, sched, hub)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-User-Id")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", svc.Health)

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", svc.Routes)

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("position-engine listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down position-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}

	// Stop the scheduler and wait for in-flight passes to drain.
	stopRecon()
	<-reconDone

	fmt.Println("position-engine stopped")
}
