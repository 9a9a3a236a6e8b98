// Package engine is the central orchestrator of the grid bot.
//
// It wires together all subsystems:
//
//  1. The ticker Book (fed by the WebSocket feed or by the mock engine)
//     supplies the reference mid price.
//  2. The ConnectionManager builds per-venue adapters from the session
//     settings; the order Manager (live or mock) sits on top.
//  3. The TransactionMonitor polls open orders and pushes fresh execution
//     reports through an SPSC queue into the report worker.
//  4. The GridStrategy runs its tick loop against the order Manager.
//  5. In mock mode a price driver random-walks the market to exercise fills.
//
// Lifecycle: New() -> Start() -> [runs until shutdown] -> Stop()
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"spotgridbot/internal/config"
	"spotgridbot/internal/exchange"
	"spotgridbot/internal/market"
	"spotgridbot/internal/order"
	"spotgridbot/internal/queue"
	"spotgridbot/internal/strategy"
	"spotgridbot/pkg/types"
)

const reportQueueSize = 1024

// Engine owns the lifecycle of every goroutine in the bot.
type Engine struct {
	cfg    *config.Config
	pair   types.CurrencyPair
	logger *slog.Logger

	book     *market.Book
	feed     *market.Feed // nil in mock mode
	mock     *order.MockExchange
	manager  order.Manager
	monitor  *exchange.TransactionMonitor // nil in mock mode
	strategy *strategy.GridStrategy

	reports *queue.SPSC[types.ExecutionReport]
	worker  *queue.Worker[types.ExecutionReport]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates and wires all engine components.
func New(cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	pair, err := types.ParseCurrencyPair(cfg.Grid.Pair)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:     cfg,
		pair:    pair,
		logger:  logger.With("component", "engine"),
		book:    market.NewBook(),
		reports: queue.NewSPSC[types.ExecutionReport](reportQueueSize),
		ctx:     ctx,
		cancel:  cancel,
	}
	e.worker = queue.NewWorker(e.reports, e.consumeReport)

	if cfg.Mock.Enabled {
		e.wireMock()
	} else if err := e.wireLive(logger); err != nil {
		cancel()
		return nil, err
	}

	return e, nil
}

// wireMock builds the in-memory stack.
func (e *Engine) wireMock() {
	e.mock = order.NewMockExchange(order.MockConfig{
		Pair:          e.pair,
		InitialPrice:  e.cfg.Grid.BasePrice,
		FeeRate:       e.cfg.Grid.FeeRate,
		PartialMinPct: e.cfg.Mock.PartialFillMin,
		PartialMaxPct: e.cfg.Mock.PartialFillMax,
		SlippageMax:   e.cfg.Mock.SlippageMaxPct,
		Seed:          e.cfg.Mock.Seed,
	}, e.logger)
	e.mock.SetBalances(e.cfg.Mock.InitialQuote, e.cfg.Mock.InitialBase)
	e.manager = e.mock
	e.book.ApplyTicker(e.pair, e.mock.GetTicker(e.pair))
}

// wireLive builds the venue stack from the session settings collection.
func (e *Engine) wireLive(logger *slog.Logger) error {
	collection := make(map[int64]exchange.Settings, len(e.cfg.Sessions))
	var wsURL string
	for key, s := range e.cfg.Sessions {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return fmt.Errorf("session id %q is not numeric", key)
		}
		collection[id] = exchange.Settings{
			Name:                    s.Name,
			Schema:                  s.Schema,
			BaseURL:                 s.BaseURL,
			APIKey:                  s.APIKey,
			SecretKey:               s.SecretKey,
			Passphrase:              s.Passphrase,
			OrdersEndpoint:          s.OrdersEndpoint,
			CancelEndpoint:          s.CancelEndpoint,
			SystemTimeEndpoint:      s.SystemTimeEndpoint,
			RecvWindowMs:            s.RecvWindowMs,
			SimulatedTrading:        s.SimulatedTrading,
			TdMode:                  s.TdMode,
			OrderMonitoringInterval: s.OrderMonitoringInterval,
		}
		if wsURL == "" && s.MarketDataWSURL != "" {
			wsURL = s.MarketDataWSURL
		}
	}

	cm, err := exchange.NewConnectionManager(exchange.NewRegistry(), collection, logger)
	if err != nil {
		return err
	}
	adapter := cm.OrderConnection()

	var interval time.Duration
	for _, s := range collection {
		if s.Name == adapter.Name() {
			interval = s.OrderMonitoringInterval
		}
	}

	e.monitor = exchange.NewTransactionMonitor(adapter, interval, func(r types.ExecutionReport) {
		if !e.reports.Enqueue(r) {
			e.logger.Warn("report queue full, dropping report", "order", r.OrderID)
		}
	}, logger)

	live := order.NewLive(adapter, e.pair, func(reports []types.ExecutionReport) {
		e.monitor.Start(adapter.Name(), e.pair.Base, reports)
	}, logger)
	e.manager = live

	if wsURL != "" {
		e.feed = market.NewFeed(wsURL, e.book, logger)
		e.feed.Subscribe(e.pair)
	}
	return nil
}

// Start resolves the base price, places the initial grid and launches the
// background loops.
func (e *Engine) Start() error {
	if e.feed != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			if err := e.feed.Run(e.ctx); err != nil && e.ctx.Err() == nil {
				e.logger.Error("market feed error", "error", err)
			}
		}()
	}

	// Against a live venue the ladder centres on the observed market, not
	// on whatever the config file says. The mock keeps its configured base.
	if e.feed != nil || e.cfg.Grid.BasePrice <= 0 {
		mid, err := e.awaitMidPrice(10 * time.Second)
		if err != nil {
			return err
		}
		e.cfg.Grid.BasePrice = mid
		e.logger.Info("base price set from order book", "mid", mid)
	}

	e.strategy = strategy.NewGridStrategy(e.manager, e.pair, e.cfg.Grid, e.logger)

	e.worker.Start()

	if e.monitor != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.monitor.Run(e.ctx)
		}()

		// Ground-truth sync: hand the monitor any open order it is not
		// yet tracking.
		if live, ok := e.manager.(*order.Live); ok {
			e.wg.Add(1)
			go func() {
				defer e.wg.Done()
				ticker := time.NewTicker(5 * time.Second)
				defer ticker.Stop()
				for {
					select {
					case <-e.ctx.Done():
						return
					case <-ticker.C:
						e.monitor.Update(live.OpenPositions())
					}
				}
			}()
		}
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.strategy.Run(e.ctx)
	}()

	if e.mock != nil && e.cfg.Mock.SimulateTicks > 0 {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.runMockDriver()
		}()
	}

	e.logger.Info("engine started",
		"pair", e.pair.String(),
		"base_price", e.cfg.Grid.BasePrice,
		"levels", e.cfg.Grid.LevelsBelow+e.cfg.Grid.LevelsAbove,
		"mock", e.mock != nil,
	)
	return nil
}

// awaitMidPrice polls the book until a mid price shows up.
func (e *Engine) awaitMidPrice(timeout time.Duration) (float64, error) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if mid, ok := e.book.MidPrice(e.pair); ok {
			return mid, nil
		}
		select {
		case <-e.ctx.Done():
			return 0, e.ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	return 0, fmt.Errorf("no mid price for %s within %s", e.pair.String(), timeout)
}

// runMockDriver random-walks the simulated market so grid rungs fill.
func (e *Engine) runMockDriver() {
	rng := rand.New(rand.NewSource(e.cfg.Mock.Seed + 1))
	price := e.cfg.Grid.BasePrice
	delay := e.cfg.Mock.TickDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}

	for i := 0; i < e.cfg.Mock.SimulateTicks; i++ {
		select {
		case <-e.ctx.Done():
			return
		case <-time.After(delay):
		}

		price *= 1 + (rng.Float64()*2-1)*0.004
		e.mock.SimulatePriceMove(price)
		e.book.ApplyTicker(e.pair, e.mock.GetTicker(e.pair))
	}
	e.logger.Info("mock driver finished", "ticks", e.cfg.Mock.SimulateTicks, "final_price", price)
}

// consumeReport handles one execution report from the monitor: fold it into
// the live manager and log the lifecycle event.
func (e *Engine) consumeReport(r types.ExecutionReport) {
	if live, ok := e.manager.(*order.Live); ok {
		live.ApplyReports([]types.ExecutionReport{r})
	}
	e.logger.Info("execution report",
		"order", r.OrderID,
		"status", string(r.OrdStatus),
		"cum_qty", r.CumQty,
		"leaves_qty", r.LeavesQty,
		"text", r.Text,
	)
}

// Stop shuts everything down: cancel contexts, drain the report queue,
// dump final state and wait for goroutines.
func (e *Engine) Stop() {
	e.logger.Info("shutting down...")

	e.cancel()
	e.worker.Stop(false) // graceful drain

	if e.feed != nil {
		e.feed.Close()
	}

	e.wg.Wait()

	if e.strategy != nil {
		e.strategy.DumpStatus()
	}
	e.manager.DumpBalances()

	e.logger.Info("shutdown complete")
}
