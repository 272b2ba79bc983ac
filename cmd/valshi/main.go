package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arshiaxbt/Valshi/internal/alert"
	"github.com/arshiaxbt/Valshi/internal/api"
	"github.com/arshiaxbt/Valshi/internal/auth"
	"github.com/arshiaxbt/Valshi/internal/cache"
	"github.com/arshiaxbt/Valshi/internal/config"
	"github.com/arshiaxbt/Valshi/internal/ingest"
	"github.com/arshiaxbt/Valshi/internal/router"
	"github.com/arshiaxbt/Valshi/internal/store"
	"github.com/arshiaxbt/Valshi/internal/stream"
	"github.com/arshiaxbt/Valshi/internal/subscriber"
	"github.com/arshiaxbt/Valshi/internal/trend"
	"github.com/arshiaxbt/Valshi/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/valshi.local.yaml", "path to config file")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting tracker",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"api_url", cfg.API.RestURL,
		"channels", cfg.Stream.Channels,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Load signing credentials
	signer, err := auth.LoadSigner(cfg.API.APIKey, cfg.API.PrivateKeyPath)
	if err != nil {
		logger.Error("failed to load credentials", "error", err)
		os.Exit(1)
	}

	// Connect to Postgres
	logger.Info("connecting to database",
		"host", cfg.Database.Postgres.Host,
		"port", cfg.Database.Postgres.Port,
		"database", cfg.Database.Postgres.Name,
	)
	pool, err := store.Connect(ctx, cfg.Database.Postgres)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := store.EnsureSchema(ctx, pool); err != nil {
		logger.Error("failed to ensure schema", "error", err)
		os.Exit(1)
	}

	history := store.NewHistoryStore(pool)
	subscribers := subscriber.NewStore(pool)

	// Connect to Redis. The snapshot tier is a warm fallback; the
	// tracker degrades to REST-only fallback without it.
	var snapshots cache.SnapshotStore
	redisStore, err := store.NewSnapshotStore(ctx, cfg.Redis)
	if err != nil {
		logger.Warn("redis unavailable, running without snapshot tier", "error", err)
	} else {
		snapshots = redisStore
		defer redisStore.Close()
		logger.Info("redis connected", "addr", cfg.Redis.Addr)
	}

	// Create API client
	apiClient := api.NewClient(
		cfg.API.RestURL,
		signer,
		api.WithLogger(logger),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, time.Second),
	)

	// Desired subscriptions; replayed in full on every (re)connect.
	subs := stream.NewSubscriptionSet()
	for _, ch := range cfg.Stream.Channels {
		subs.Add(ch, cfg.Stream.Tickers...)
	}

	// Create stream manager
	streamCfg := stream.ManagerConfig{
		Client: stream.ClientConfig{
			URL:          cfg.API.WSURL + auth.WebSocketPath,
			PingInterval: cfg.Stream.PingInterval,
			PingTimeout:  cfg.Stream.PingTimeout,
			WriteTimeout: 5 * time.Second,
			BufferSize:   cfg.Stream.BufferSize,
		},
		CommandTimeout:     cfg.Stream.CommandTimeout,
		ReconnectBaseDelay: cfg.Stream.ReconnectBaseDelay,
		ReconnectMaxDelay:  cfg.Stream.ReconnectMaxDelay,
		OutputBufferSize:   cfg.Stream.OutputBufferSize,
	}
	manager := stream.NewManager(streamCfg, signer, subs, logger)

	// Market cache: live stream state, Redis snapshots, REST fallback.
	marketCache := cache.New(manager.Ready, snapshots, apiClient, logger)

	// Message router
	rtr := router.New(router.Config{
		TradeBufferSize: cfg.Ingest.BufferSize,
	}, manager.Frames(), marketCache, logger)

	// Alert fanout
	fanout := alert.NewFanout(alert.LogDeliverer{Logger: logger}, cfg.Ingest.DedupWindow, logger)

	// Ingest pipeline
	pipeline := ingest.New(ingest.Config{
		MinNotionalUSD: cfg.Ingest.MinNotionalUSD,
		DedupWindow:    cfg.Ingest.DedupWindow,
	}, rtr.Trades(), history, marketCache, subscribers, fanout, logger)

	// Trend aggregator
	trends, err := trend.New(history, cfg.Trend, logger)
	if err != nil {
		logger.Error("failed to create trend aggregator", "error", err)
		os.Exit(1)
	}

	// History trimmer
	trimmer := store.NewTrimmer(history, cfg.History.Retention, cfg.History.TrimInterval, logger)

	// Start health server early so startup is observable
	healthServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Health.Port),
		Handler: createHealthHandler(cfg, pool, redisStore, manager, rtr, pipeline, fanout, marketCache, trends, logger),
	}
	go func() {
		logger.Info("starting health server", "port", cfg.Health.Port)
		if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("health server error", "error", err)
		}
	}()

	// Start components, upstream first
	if err := rtr.Start(ctx); err != nil {
		logger.Error("failed to start router", "error", err)
		os.Exit(1)
	}
	if err := pipeline.Start(ctx); err != nil {
		logger.Error("failed to start ingest pipeline", "error", err)
		os.Exit(1)
	}
	if err := trimmer.Start(ctx); err != nil {
		logger.Error("failed to start history trimmer", "error", err)
		os.Exit(1)
	}
	if err := manager.Start(ctx); err != nil {
		logger.Error("failed to start stream manager", "error", err)
		os.Exit(1)
	}

	// Periodic stats
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				streamStats := manager.Stats()
				routerStats := rtr.Stats()
				pipeStats := pipeline.Stats()
				logger.Info("stats",
					"stream_state", manager.State().String(),
					"reconnects", streamStats.Reconnects,
					"forwarded", streamStats.Forwarded,
					"routed", routerStats.Routed,
					"parse_errors", routerStats.ParseErrors,
					"trades_consumed", pipeStats.Consumed,
					"duplicates", pipeStats.Duplicates,
					"recorded", pipeStats.Recorded,
					"alerts", pipeStats.AlertsIssued,
				)
			}
		}
	}()

	logger.Info("tracker running",
		"instance_id", cfg.Instance.ID,
		"health_url", fmt.Sprintf("http://localhost:%d%s", cfg.Health.Port, cfg.Health.Path),
	)

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Stop in reverse order so downstream components drain last.
	manager.Stop(shutdownCtx)
	trimmer.Stop(shutdownCtx)
	pipeline.Stop(shutdownCtx)
	rtr.Stop(shutdownCtx)
	healthServer.Shutdown(shutdownCtx)

	logger.Info("tracker stopped")
}

// createHealthHandler creates the HTTP handler for health checks and
// debug views.
func createHealthHandler(
	cfg *config.AppConfig,
	pool *pgxpool.Pool,
	redisStore *store.SnapshotStore,
	manager *stream.Manager,
	rtr *router.Router,
	pipeline *ingest.Pipeline,
	fanout *alert.Fanout,
	marketCache *cache.Cache,
	trends *trend.Aggregator,
	logger *slog.Logger,
) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc(cfg.Health.Path, func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string         `json:"status"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		if err := pool.Ping(ctx); err != nil {
			health.Status = "unhealthy"
			health.Components["postgres"] = map[string]string{
				"status": "disconnected",
				"error":  err.Error(),
			}
		} else {
			health.Components["postgres"] = "connected"
		}

		if redisStore == nil {
			health.Components["redis"] = "disabled"
		} else if err := redisStore.Ping(ctx); err != nil {
			health.Components["redis"] = map[string]string{
				"status": "disconnected",
				"error":  err.Error(),
			}
		} else {
			health.Components["redis"] = "connected"
		}

		state := manager.State()
		health.Components["stream"] = map[string]any{
			"state": state.String(),
			"stats": manager.Stats(),
		}
		if state != stream.StateReady {
			if health.Status == "healthy" {
				health.Status = "degraded"
			}
		}

		health.Components["router"] = rtr.Stats()
		health.Components["ingest"] = pipeline.Stats()
		health.Components["alerts"] = fanout.Stats()
		health.Components["cache"] = marketCache.Stats()

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	mux.HandleFunc("/debug/trends", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()

		gainers, err := trends.Gainers(ctx)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		losers, err := trends.Losers(ctx)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		active, err := trends.MostActive(ctx)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		top, err := trends.TopPrints(ctx)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"gainers":     gainers,
			"losers":      losers,
			"most_active": active,
			"top_prints":  top,
		})
	})

	mux.HandleFunc("/debug/recent", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()

		recent, err := trends.Recent(ctx)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"recent": recent})
	})

	return mux
}
