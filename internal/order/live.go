// live.go routes orders through a real exchange adapter.
//
// The Live manager is the translation point between the strategy's
// id-keyed Order view and the adapter's report stream: every placement
// allocates a client order id, every venue response is translated into
// canonical execution reports, and every report is folded into the local
// order map. Reports also arrive asynchronously from the transaction
// monitor through ApplyReports.
package order

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"spotgridbot/internal/exchange"
	"spotgridbot/pkg/types"
)

// ReportObserver is notified of every execution report the manager applies.
// The transaction monitor hook uses this to start monitoring fresh orders.
type ReportObserver func(reports []types.ExecutionReport)

// Live implements Manager over an exchange adapter.
type Live struct {
	adapter  exchange.Adapter
	observer ReportObserver
	logger   *slog.Logger

	mu       sync.Mutex
	orders   map[string]types.Order // venue order id -> state
	clOrdIDs map[string]string      // venue order id -> client order id
	lastCum  map[string]float64     // venue order id -> cum qty already settled into balances
	quote    float64
	base     float64
	quoteCcy types.Currency
	baseCcy  types.Currency
}

// NewLive creates a live manager for one pair's balances. The observer may
// be nil.
func NewLive(adapter exchange.Adapter, pair types.CurrencyPair, observer ReportObserver, logger *slog.Logger) *Live {
	return &Live{
		adapter:  adapter,
		observer: observer,
		logger:   logger.With("component", "ordmgr", "session", adapter.Name()),
		orders:   make(map[string]types.Order),
		clOrdIDs: make(map[string]string),
		lastCum:  make(map[string]float64),
		quoteCcy: pair.Quote,
		baseCcy:  pair.Base,
	}
}

// PlaceLimitOrder signs and sends the order, then records the translated
// result. A venue rejection is not an error here: the order lands in the
// map with status Rejected and the strategy retires it on the next tick.
func (l *Live) PlaceLimitOrder(ctx context.Context, pair types.CurrencyPair, side types.Side, price, qty float64) (string, error) {
	clOrdID := uuid.NewString()

	raw, err := l.adapter.PlaceOrder(ctx, pair, side, types.Limit, types.GoodTilCancel, price, qty, clOrdID)
	if err != nil {
		return "", fmt.Errorf("place order: %w", err)
	}

	reports := l.adapter.TranslateOrderResult(raw)
	if len(reports) == 0 {
		return "", fmt.Errorf("place order: no reports translated from %q", raw)
	}
	l.apply(pair, side, price, qty, clOrdID, reports)

	last := reports[len(reports)-1]
	id := last.OrderID
	if id == "" {
		id = clOrdID // rejected before the venue assigned an id
	}

	l.logger.Info("Placed order", "id", id, "side", string(side), "price", price, "qty", qty,
		"status", string(last.OrdStatus))
	return id, nil
}

// CancelOrder cancels via the adapter. The venue reports the terminal state
// of an already-terminal order; locally that surfaces as ErrTerminalOrder
// to match the mock contract.
func (l *Live) CancelOrder(ctx context.Context, pair types.CurrencyPair, orderID string) error {
	l.mu.Lock()
	existing, known := l.orders[orderID]
	clOrdID := l.clOrdIDs[orderID]
	l.mu.Unlock()

	if known && existing.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrTerminalOrder, orderID, existing.Status)
	}

	raw, err := l.adapter.CancelOrder(ctx, pair, orderID, clOrdID)
	if err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	l.ApplyReports(l.adapter.TranslateOrderResult(raw))

	l.logger.Info("Canceled order", "id", orderID)
	return nil
}

// GetOrder refreshes the order from the venue and returns the merged state.
// Unknown ids and empty venue responses return ErrOrderNotFound; the
// caller retries next tick.
func (l *Live) GetOrder(ctx context.Context, pair types.CurrencyPair, orderID string) (types.Order, error) {
	l.mu.Lock()
	cached, known := l.orders[orderID]
	clOrdID := l.clOrdIDs[orderID]
	l.mu.Unlock()

	if known && cached.Status.Terminal() {
		return cached, nil // terminal state is frozen, no need to ask again
	}

	raw, err := l.adapter.QueryOrder(ctx, pair, orderID, clOrdID)
	if err != nil {
		if known {
			return cached, nil // transport hiccup, serve the cache
		}
		return types.Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}

	l.ApplyReports(l.adapter.TranslateOrderResult(raw))

	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.orders[orderID]
	if !ok {
		return types.Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	return o, nil
}

// GetBalance returns the tracked balance for the asset.
func (l *Live) GetBalance(asset types.Currency) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch asset {
	case l.quoteCcy:
		return l.quote
	case l.baseCcy:
		return l.base
	}
	return 0
}

// SetBalances seeds the tracked balances.
func (l *Live) SetBalances(quote, base float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.quote = quote
	l.base = base
}

// DumpBalances logs the tracked balances.
func (l *Live) DumpBalances() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logger.Info("Balances", string(l.quoteCcy), l.quote, string(l.baseCcy), l.base)
}

// OpenPositions returns the client order ids of all non-terminal orders,
// shaped for the transaction monitor's external sync.
func (l *Live) OpenPositions() map[string]exchange.OpenPosition {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[string]exchange.OpenPosition)
	for id, o := range l.orders {
		if o.Status.Terminal() {
			continue
		}
		clOrdID := l.clOrdIDs[id]
		if clOrdID == "" {
			continue
		}
		out[clOrdID] = exchange.OpenPosition{
			SenderCompID: l.adapter.Name(),
			Instrument:   o.Pair,
		}
	}
	return out
}

// ApplyReports folds canonical reports into the order map and settles fill
// deltas into the tracked balances. Terminal orders are immutable: late
// reports for them are dropped.
func (l *Live) ApplyReports(reports []types.ExecutionReport) {
	l.mu.Lock()
	for _, r := range reports {
		if r.OrderID == "" {
			continue
		}

		o, ok := l.orders[r.OrderID]
		if ok && o.Status.Terminal() {
			continue
		}
		if !ok {
			o = types.Order{
				ID:      r.OrderID,
				ClOrdID: r.ClOrdID,
				Pair:    r.Instrument,
				Side:    r.Side,
				Type:    r.OrdType,
			}
		}
		if r.OrderPx > 0 {
			o.Price = r.OrderPx
		}
		if r.OrderQty > 0 {
			o.Quantity = r.OrderQty
		}
		if r.CumQty > o.Filled {
			l.settleLocked(r, r.CumQty-o.Filled)
			o.Filled = r.CumQty
		}
		if r.OrdStatus != types.NotSent {
			o.Status = r.OrdStatus
		}
		l.orders[r.OrderID] = o
		if r.ClOrdID != "" {
			l.clOrdIDs[r.OrderID] = r.ClOrdID
		}
	}
	l.mu.Unlock()

	if l.observer != nil {
		l.observer(reports)
	}
}

// settleLocked adjusts balances for a fill delta. The venue deducted its
// own fee; without per-fill fee detail the tracked balances use the raw
// notional, close enough for the inventory cap and rebuy checks.
func (l *Live) settleLocked(r types.ExecutionReport, delta float64) {
	px := r.LastPx
	if px == 0 {
		px = r.AvgPx
	}
	if px == 0 {
		px = r.OrderPx
	}
	if delta <= 0 || px <= 0 {
		return
	}
	if r.Side == types.BUY {
		l.quote -= delta * px
		l.base += delta
	} else {
		l.base -= delta
		l.quote += delta * px
	}
}

// apply records a placement result, seeding unknown fields from the request
// itself since rejection reports may carry nothing but an error text.
func (l *Live) apply(pair types.CurrencyPair, side types.Side, price, qty float64, clOrdID string, reports []types.ExecutionReport) {
	for i := range reports {
		if reports[i].OrderID == "" && reports[i].OrdStatus == types.Rejected {
			reports[i].OrderID = clOrdID
		}
		if reports[i].ClOrdID == "" {
			reports[i].ClOrdID = clOrdID
		}
		if reports[i].Instrument.IsZero() {
			reports[i].Instrument = pair
		}
		if reports[i].Side == "" {
			reports[i].Side = side
		}
		if reports[i].OrderPx == 0 {
			reports[i].OrderPx = price
		}
		if reports[i].OrderQty == 0 {
			reports[i].OrderQty = qty
		}
	}
	l.ApplyReports(reports)
}
