// Package strategy implements the grid trading strategy.
//
// The idea: place a symmetric ladder of resting limit orders around a base
// price, buys below and sells above, each rung step_percent away from its
// neighbour. When a rung fills, book the opposite side one step further
// away for the same quantity, so each completed round trip captures the
// step as realised P&L.
//
// Per-tick flow:
//  1. Snapshot the active order list (hedges placed during this tick are
//     reconciled next tick, never this one).
//  2. Query each order. Full fills hedge the whole quantity and retire the
//     rung; partial fills hedge only the newly observed delta and stay live.
//  3. Hedge sells are skipped while inventory exceeds the cap; hedge buys
//     are skipped while the quote balance cannot cover the rebuy.
//  4. Rejected and cancelled rungs are dropped without a hedge.
//
// The engine is single-threaded: one goroutine owns all state and
// suspension only happens inside order-manager calls.
package strategy

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"spotgridbot/internal/config"
	"spotgridbot/internal/order"
	"spotgridbot/pkg/types"
)

const epsilon = 1e-12

// OrderMeta is the per-live-order sidecar: the placement parameters. The
// last cumulative fill observed, used to compute incremental deltas between
// polls, is kept separately in GridStrategy.knownFills.
type OrderMeta struct {
	Side  types.Side
	Price float64
	Qty   float64
}

// GridStrategy maintains the ladder for a single pair.
type GridStrategy struct {
	mgr    order.Manager
	cfg    config.GridConfig
	pair   types.CurrencyPair
	logger *slog.Logger

	activeOrders []string
	meta         map[string]OrderMeta
	knownFills   map[string]float64
}

// NewGridStrategy creates the strategy. The pair must already be resolved
// from the config and the base price set.
func NewGridStrategy(mgr order.Manager, pair types.CurrencyPair, cfg config.GridConfig, logger *slog.Logger) *GridStrategy {
	return &GridStrategy{
		mgr:        mgr,
		cfg:        cfg,
		pair:       pair,
		logger:     logger.With("component", "grid", "pair", pair.String()),
		meta:       make(map[string]OrderMeta),
		knownFills: make(map[string]float64),
	}
}

// Start places the initial ladder.
func (g *GridStrategy) Start(ctx context.Context) {
	g.PlaceInitialGrid(ctx)
}

// OnTicker runs one reconciliation pass.
func (g *GridStrategy) OnTicker(ctx context.Context) {
	g.CheckFilledOrders(ctx)
}

// PlaceInitialGrid lays out levels_below buys under the base price and
// levels_above sells over it. Restarting against existing state is safe:
// a level already present in the meta is not emitted twice.
func (g *GridStrategy) PlaceInitialGrid(ctx context.Context) {
	base := g.cfg.BasePrice
	step := g.cfg.StepPercent

	for i := 1; i <= g.cfg.LevelsBelow; i++ {
		g.placeLevel(ctx, types.BUY, base*(1.0-step*float64(i)), g.cfg.PerOrderQty)
	}
	for i := 1; i <= g.cfg.LevelsAbove; i++ {
		g.placeLevel(ctx, types.SELL, base*(1.0+step*float64(i)), g.cfg.PerOrderQty)
	}

	g.logger.Info("Initial grid placed", "orders", len(g.activeOrders))
}

// placeLevel emits one rung unless an identical live level already exists.
func (g *GridStrategy) placeLevel(ctx context.Context, side types.Side, price, qty float64) {
	for _, m := range g.meta {
		if m.Side == side && priceEq(m.Price, price) {
			g.logger.Info("Level already active, skipping", "side", string(side), "price", price)
			return
		}
	}

	oid, err := g.mgr.PlaceLimitOrder(ctx, g.pair, side, price, qty)
	if err != nil {
		g.logger.Error("Failed to place grid order", "side", string(side), "price", price, "error", err)
		return
	}
	g.activeOrders = append(g.activeOrders, oid)
	g.meta[oid] = OrderMeta{Side: side, Price: price, Qty: qty}
}

// CheckFilledOrders reconciles every active order against the exchange and
// reacts to state changes. It operates on a snapshot taken at entry so a
// hedge placed in this pass is not reconciled until the next one.
func (g *GridStrategy) CheckFilledOrders(ctx context.Context) {
	snapshot := append([]string(nil), g.activeOrders...)
	var toRemove []string

	for _, oid := range snapshot {
		o, err := g.mgr.GetOrder(ctx, g.pair, oid)
		if err != nil {
			if errors.Is(err, order.ErrOrderNotFound) {
				continue // venue may be eventually consistent, retry next tick
			}
			g.logger.Error("Query failed", "order", oid, "error", err)
			continue
		}

		switch o.Status {
		case types.Filled:
			meta := g.meta[oid]
			if meta.Side == types.BUY {
				g.placeHedgeSell(ctx, meta.Price, meta.Qty)
			} else {
				g.placeHedgeBuy(ctx, meta.Price, meta.Qty)
			}
			g.logger.Info("Order FILLED", "order", oid, "side", string(meta.Side), "qty", o.Filled)
			toRemove = append(toRemove, oid)

		case types.PartiallyFilled:
			delta := o.Filled - g.knownFills[oid]
			if delta > epsilon {
				g.knownFills[oid] = o.Filled
				g.logger.Info("Detected new partial fill", "order", oid, "delta", delta)
				meta := g.meta[oid]
				if meta.Side == types.BUY {
					g.placeHedgeSell(ctx, meta.Price, delta)
				} else {
					g.placeHedgeBuy(ctx, meta.Price, delta)
				}
			}

		case types.Rejected, types.Canceled, types.Expired:
			g.logger.Info("Order retired", "order", oid, "status", string(o.Status))
			toRemove = append(toRemove, oid)
		}
	}

	for _, oid := range toRemove {
		g.remove(oid)
	}
}

// placeHedgeSell books the sell one step above a filled buy, unless the
// inventory cap is breached.
func (g *GridStrategy) placeHedgeSell(ctx context.Context, buyPrice, qty float64) {
	sellPrice := buyPrice * (1.0 + g.cfg.StepPercent)

	inventory := g.mgr.GetBalance(g.pair.Base)
	if inventory > g.cfg.MaxPositionBase+epsilon {
		g.logger.Warn("Max position exceeded, not placing hedge sell",
			"inventory", inventory, "cap", g.cfg.MaxPositionBase)
		return
	}

	oid, err := g.mgr.PlaceLimitOrder(ctx, g.pair, types.SELL, sellPrice, qty)
	if err != nil {
		g.logger.Error("Failed to place hedge sell", "price", sellPrice, "error", err)
		return
	}
	g.activeOrders = append(g.activeOrders, oid)
	g.meta[oid] = OrderMeta{Side: types.SELL, Price: sellPrice, Qty: qty}
}

// placeHedgeBuy books the rebuy one step below a filled sell, unless the
// quote balance cannot cover it.
func (g *GridStrategy) placeHedgeBuy(ctx context.Context, sellPrice, qty float64) {
	buyPrice := sellPrice * (1.0 - g.cfg.StepPercent)

	quote := g.mgr.GetBalance(g.pair.Quote)
	cost := buyPrice * qty
	if quote+epsilon < cost {
		g.logger.Warn("Insufficient "+string(g.pair.Quote)+" to place rebuy",
			"balance", quote, "cost", cost)
		return
	}

	oid, err := g.mgr.PlaceLimitOrder(ctx, g.pair, types.BUY, buyPrice, qty)
	if err != nil {
		g.logger.Error("Failed to place hedge buy", "price", buyPrice, "error", err)
		return
	}
	g.activeOrders = append(g.activeOrders, oid)
	g.meta[oid] = OrderMeta{Side: types.BUY, Price: buyPrice, Qty: qty}
}

func (g *GridStrategy) remove(oid string) {
	for i, id := range g.activeOrders {
		if id == oid {
			g.activeOrders = append(g.activeOrders[:i], g.activeOrders[i+1:]...)
			break
		}
	}
	delete(g.meta, oid)
	delete(g.knownFills, oid)
}

// Run drives the tick loop until the context is cancelled.
func (g *GridStrategy) Run(ctx context.Context) {
	interval := g.cfg.TickInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	g.Start(ctx)
	for {
		select {
		case <-ctx.Done():
			g.logger.Info("Strategy stopped")
			return
		case <-ticker.C:
			g.OnTicker(ctx)
		}
	}
}

// ActiveOrders returns a copy of the live order id sequence, in placement
// order.
func (g *GridStrategy) ActiveOrders() []string {
	return append([]string(nil), g.activeOrders...)
}

// Meta returns the sidecar for one live order.
func (g *GridStrategy) Meta(oid string) (OrderMeta, bool) {
	m, ok := g.meta[oid]
	return m, ok
}

// DumpStatus logs a summary of the live ladder.
func (g *GridStrategy) DumpStatus() {
	g.logger.Info("Active orders", "count", len(g.activeOrders))
	for _, oid := range g.activeOrders {
		m := g.meta[oid]
		g.logger.Info(" - order", "id", oid, "side", string(m.Side), "price", m.Price, "qty", m.Qty)
	}
}

// priceEq compares ladder prices with a tolerance scaled for quote prices.
func priceEq(a, b float64) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff <= 1e-9*(1+max(a, b))
}
