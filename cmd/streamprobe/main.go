// streamprobe connects to the Kalshi WebSocket feed and prints routed
// messages to the console, without touching Postgres or Redis.
// Usage: go run ./cmd/streamprobe --config configs/valshi.local.yaml
//
// Required environment variables (referenced from the config file):
//
//	KALSHI_API_KEY          - API key ID from the Kalshi dashboard
//	KALSHI_PRIVATE_KEY_PATH - Path to the RSA private key PEM file
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arshiaxbt/Valshi/internal/auth"
	"github.com/arshiaxbt/Valshi/internal/config"
	"github.com/arshiaxbt/Valshi/internal/router"
	"github.com/arshiaxbt/Valshi/internal/stream"
)

// printSink writes routed events to the console instead of a cache.
type printSink struct {
	verbose bool
}

func (s printSink) ApplyTrade(msg router.TradeMsg) {
	if s.verbose {
		data, _ := json.MarshalIndent(msg, "", "  ")
		fmt.Printf("[TRADE] %s\n", data)
		return
	}
	fmt.Printf("[TRADE] ticker=%s id=%s size=%d yes_price=%s taker=%s\n",
		msg.Ticker, msg.TradeID, msg.Size, msg.YesPriceDollars, msg.TakerSide)
}

func (s printSink) ApplyTicker(msg router.TickerMsg) {
	fmt.Printf("[TICKER] ticker=%s price=%s vol=%d\n",
		msg.Ticker, msg.PriceDollars, msg.Volume24h)
}

func (s printSink) ApplyDepth(msg router.DepthMsg) {
	fmt.Printf("[DEPTH] ticker=%s side=%s price=%s delta=%d\n",
		msg.Ticker, msg.Side, msg.PriceDollars, msg.Delta)
}

func main() {
	configPath := flag.String("config", "configs/valshi.example.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "print full message JSON")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	if cfg.API.APIKey == "" || cfg.API.PrivateKeyPath == "" {
		logger.Error("API credentials required for WebSocket",
			"api_key_set", cfg.API.APIKey != "",
			"private_key_path_set", cfg.API.PrivateKeyPath != "",
		)
		os.Exit(1)
	}

	signer, err := auth.LoadSigner(cfg.API.APIKey, cfg.API.PrivateKeyPath)
	if err != nil {
		logger.Error("failed to load credentials", "error", err)
		os.Exit(1)
	}
	logger.Info("using API credentials", "key_id", cfg.API.APIKey)

	subs := stream.NewSubscriptionSet()
	for _, ch := range cfg.Stream.Channels {
		subs.Add(ch, cfg.Stream.Tickers...)
	}

	manager := stream.NewManager(stream.ManagerConfig{
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
	}, signer, subs, logger)

	rtr := router.New(router.DefaultConfig(), manager.Frames(), printSink{verbose: *verbose}, logger)

	logger.Info("starting router")
	if err := rtr.Start(ctx); err != nil {
		logger.Error("failed to start router", "error", err)
		os.Exit(1)
	}

	logger.Info("starting stream manager")
	if err := manager.Start(ctx); err != nil {
		logger.Error("failed to start stream manager", "error", err)
		os.Exit(1)
	}

	// Drain the trade buffer so it never hits its drop path; the
	// print sink already showed each trade.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
				if _, ok := rtr.Trades().TryReceive(); !ok {
					time.Sleep(10 * time.Millisecond)
				}
			}
		}
	}()

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				streamStats := manager.Stats()
				routerStats := rtr.Stats()
				logger.Info("stats",
					"state", manager.State().String(),
					"session", streamStats.Session,
					"reconnects", streamStats.Reconnects,
					"forwarded", streamStats.Forwarded,
					"routed", routerStats.Routed,
					"parse_errors", routerStats.ParseErrors,
				)
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop")

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Info("shutting down...")
	manager.Stop(shutdownCtx)
	rtr.Stop(shutdownCtx)

	logger.Info("shutdown complete")
}
