// Spot Grid Bot — an automated grid-trading bot for cryptocurrency spot
// markets.
//
// Architecture:
//
//	main.go                    — entry point: loads config, starts engine, waits for signals or <enter>
//	engine/engine.go           — orchestrator: wires book -> order manager -> strategy, manages goroutines
//	strategy/grid.go           — the grid ladder: initial placement, fill detection, hedge booking
//	order/mock.go              — in-memory matching engine with partial fills, slippage and fees
//	order/live.go              — live order manager folding venue execution reports into local state
//	exchange/adapter.go        — uniform place/query/cancel/translate contract across venues
//	exchange/okx.go            — JSON-body venue: base64 HMAC over ts+method+path+body
//	exchange/coinbase.go       — query-signing venue: hex HMAC over the query string
//	exchange/monitor.go        — poll-driven reconciliation of open orders
//	market/book.go, feed.go    — ticker mirror fed over WebSocket, source of the grid's base price
//	queue/spsc.go              — lock-free SPSC ring buffer carrying execution reports
//
// How it makes money:
//
//	The bot rests buys below and sells above a base price, each rung one
//	step apart. A filled buy books a sell one step higher for the same
//	quantity (and vice versa), so every completed round trip captures the
//	step, minus fees, as realised P&L.
package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"spotgridbot/internal/config"
	"spotgridbot/internal/engine"
)

func main() {
	// Secrets may live in a local .env; absence is fine.
	_ = godotenv.Load()

	cfgPath := "configs/config.json"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}
	if p := os.Getenv("GRID_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config %s: %v\n", cfgPath, err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	eng, err := engine.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}
	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	logger.Info("spot grid bot started - press <enter> to exit",
		"pair", cfg.Grid.Pair,
		"levels_below", cfg.Grid.LevelsBelow,
		"levels_above", cfg.Grid.LevelsAbove,
		"step", cfg.Grid.StepPercent,
		"mock", cfg.Mock.Enabled,
	)

	// Shutdown on a signal or on <enter>.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)

	stdinCh := make(chan struct{})
	go func() {
		bufio.NewReader(os.Stdin).ReadString('\n')
		close(stdinCh)
	}()

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case <-stdinCh:
		logger.Info("stdin closed, shutting down")
	}

	eng.Stop()
	logger.Info("spot grid bot has stopped successfully")
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
