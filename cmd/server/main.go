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

	"github.com/optvault/vault-engine/internal/api"
	"github.com/optvault/vault-engine/internal/config"
	"github.com/optvault/vault-engine/internal/curve"
	"github.com/optvault/vault-engine/internal/metrics"
	"github.com/optvault/vault-engine/internal/model"
	"github.com/optvault/vault-engine/internal/oracle"
	"github.com/optvault/vault-engine/internal/risk"
	"github.com/optvault/vault-engine/internal/store"
	"github.com/optvault/vault-engine/internal/vault"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfgPath := os.Getenv("CONFIG_FILE")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("configuration invalid", "err", err)
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
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			ttl := time.Duration(cfg.Database.CacheTTLSeconds) * time.Second
			st = store.NewCachedStore(st, rdb, ttl)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("database url not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Price oracle ---
	var prices vault.PriceSource
	switch cfg.Oracle.Mode {
	case "fixed":
		prices = oracle.NewFixed(map[string]int64{cfg.Vault.Underlying: cfg.Oracle.FixedPrice})
		slog.Info("fixed price oracle", "price", cfg.Oracle.FixedPrice)
	default:
		prices = oracle.NewBybit(cfg.Oracle.BaseURL, cfg.Oracle.Decimals)
		slog.Info("bybit price oracle", "url", cfg.Oracle.BaseURL)
	}

	// --- Premium curve ---
	crv := curve.New(cfg.Vault.Admin, curve.Params{
		DefaultIVBps:       cfg.Curve.DefaultIVBps,
		PutSkewBps:         cfg.Curve.PutSkewBps,
		LiquidityBps:       cfg.Curve.LiquidityBps,
		ThetaMultiplierBps: cfg.Curve.ThetaMultiplierBps,
		HedgeCostBps:       cfg.Curve.HedgeCostBps,
	})

	// --- Expiry concentration limits ---
	var limits *risk.ConcentrationLimiter
	if cc := cfg.Vault.Concentration; cc.MaxPerExpiry > 0 {
		windowMs := cc.WindowHours * 3_600_000
		limits = risk.NewConcentrationLimiter(cc.MaxPerExpiry, cc.MaxWindow, windowMs)
		slog.Info("expiry concentration limits enabled",
			"max_per_expiry", cc.MaxPerExpiry, "max_window", cc.MaxWindow, "window_hours", cc.WindowHours)
	}

	// --- WebSocket hub ---
	wsHub := api.NewWSHub()
	go wsHub.Run()

	// --- Vault ---
	vlt, err := vault.New(vault.Config{
		Admin:          cfg.Vault.Admin,
		Underlying:     cfg.Vault.Underlying,
		RateBps:        cfg.Vault.RateBps,
		InitialReserve: cfg.Vault.InitialReserve,
		Risk:           cfg.Vault.Risk,
		Fees:           model.FeeParams{FeeBps: cfg.Vault.FeeBps},
		Curve:          crv,
		Prices:         prices,
		Store:          st,
		Notifier:       wsHub,
		Limits:         limits,
	})
	if err != nil {
		slog.Error("vault init failed", "err", err)
		os.Exit(1)
	}
	if err := vlt.Restore(context.Background()); err != nil {
		slog.Error("vault restore failed", "err", err)
		os.Exit(1)
	}

	svc := api.NewService(vlt, crv, prices, cfg.Vault.Underlying, cfg.Vault.RateBps)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"vault-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time vault events.
		r.Get("/ws", wsHub.HandleWS)
		svc.Routes(r)
	})

	// Periodic hedge mark-to-market.
	markCtx, stopMarks := context.WithCancel(context.Background())
	defer stopMarks()
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-markCtx.Done():
				return
			case <-ticker.C:
				if err := vlt.MarkHedges(markCtx); err != nil {
					slog.Warn("hedge mark failed", "err", err)
				}
			}
		}
	}()

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("vault-engine listening", "port", cfg.Server.Port, "underlying", cfg.Vault.Underlying)
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

	slog.Info("shutting down vault-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("vault-engine stopped")
}
