// mock.go is the in-memory matching engine.
//
// It behaves like a tiny spot exchange for one pair: orders rest until a
// simulated price move crosses them, crossings fill a random fraction of the
// remaining quantity at a slippage-adjusted price, fees come out of the
// asset received, and settlement debits/credits the tracked balances. The
// randomness is seeded at construction so tests pin the seed and the fill
// fractions become deterministic.
package order

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"

	"spotgridbot/pkg/types"
)

const epsilon = 1e-12

// MockConfig tunes the simulated fills.
type MockConfig struct {
	Pair          types.CurrencyPair
	InitialPrice  float64
	FeeRate       float64 // fraction deducted from the received asset
	PartialMinPct float64 // lower bound of the per-cross fill fraction
	PartialMaxPct float64 // upper bound of the per-cross fill fraction
	SlippageMax   float64 // max absolute execution-price deviation fraction
	Seed          int64   // rng seed; zero means 1
}

// MockExchange is the deterministic-fuzz matching engine. It owns the order
// set and the balances; everything is guarded by one mutex.
type MockExchange struct {
	mu     sync.Mutex
	cfg    MockConfig
	price  float64
	orders map[string]types.Order
	nextID int64
	quote  float64 // quote-asset balance (e.g. USDT)
	base   float64 // base-asset balance (e.g. BTC)
	fees   float64 // cumulative fees charged, in quote terms for sells and base terms folded at exec price for buys
	rng    *rand.Rand
	logger *slog.Logger
}

// NewMockExchange creates the engine with default balances of 10000 quote
// and 0.1 base.
func NewMockExchange(cfg MockConfig, logger *slog.Logger) *MockExchange {
	seed := cfg.Seed
	if seed == 0 {
		seed = 1
	}
	return &MockExchange{
		cfg:    cfg,
		price:  cfg.InitialPrice,
		orders: make(map[string]types.Order),
		nextID: 1,
		quote:  10000.0,
		base:   0.1,
		rng:    rand.New(rand.NewSource(seed)),
		logger: logger.With("component", "mockex"),
	}
}

// PlaceLimitOrder accepts any order without a pre-trade balance check;
// shortfalls surface as Rejected at fill time, the way the venue would
// reject at execution.
func (m *MockExchange) PlaceLimitOrder(_ context.Context, pair types.CurrencyPair, side types.Side, price, qty float64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o := types.Order{
		ID:       fmt.Sprintf("o%d", m.nextID),
		Pair:     pair,
		Side:     side,
		Type:     types.Limit,
		Price:    price,
		Quantity: qty,
		Status:   types.New,
	}
	m.nextID++
	m.orders[o.ID] = o

	m.logger.Info("Placed order", "id", o.ID, "side", string(side), "price", price, "qty", qty)
	return o.ID, nil
}

// CancelOrder refuses on terminal orders, else marks the order Canceled.
func (m *MockExchange) CancelOrder(_ context.Context, _ types.CurrencyPair, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[orderID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if o.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrTerminalOrder, orderID, o.Status)
	}
	o.Status = types.Canceled
	m.orders[orderID] = o

	m.logger.Info("Canceled order", "id", orderID)
	return nil
}

// GetOrder returns a copy of the order state.
func (m *MockExchange) GetOrder(_ context.Context, _ types.CurrencyPair, orderID string) (types.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[orderID]
	if !ok {
		return types.Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	return o, nil
}

// GetBalance returns the free balance for the asset; unknown assets are zero.
func (m *MockExchange) GetBalance(asset types.Currency) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch asset {
	case m.cfg.Pair.Quote:
		return m.quote
	case m.cfg.Pair.Base:
		return m.base
	}
	return 0
}

// SetBalances seeds the balances; used by tests and startup.
func (m *MockExchange) SetBalances(quote, base float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quote = quote
	m.base = base
}

// FeesPaid returns the cumulative fee notional charged so far.
func (m *MockExchange) FeesPaid() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fees
}

// GetTicker returns a synthetic top of book around the current price.
func (m *MockExchange) GetTicker(_ types.CurrencyPair) types.Ticker {
	m.mu.Lock()
	defer m.mu.Unlock()

	spread := m.price * 0.0005
	return types.Ticker{Bid: m.price - spread, Ask: m.price + spread, Last: m.price}
}

// SimulatePriceMove sets the market price and attempts to (partially) fill
// every live order the move crosses. Each crossed order gets at most one
// fill per call.
func (m *MockExchange) SimulatePriceMove(toPrice float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.price = toPrice
	for id, o := range m.orders {
		if o.Status.Terminal() {
			continue
		}

		cross := false
		if o.Side == types.BUY && m.price <= o.Price+epsilon {
			cross = true
		}
		if o.Side == types.SELL && m.price >= o.Price-epsilon {
			cross = true
		}
		if !cross {
			continue
		}

		pct := m.cfg.PartialMinPct + m.rng.Float64()*(m.cfg.PartialMaxPct-m.cfg.PartialMinPct)
		if pct < 0 {
			pct = 0
		}
		if pct > 1 {
			pct = 1
		}
		fillQty := o.LeavesQty() * pct
		if fillQty < epsilon {
			continue
		}

		slip := (m.rng.Float64()*2 - 1) * m.cfg.SlippageMax
		execPrice := o.Price * (1 + slip)

		if o.Side == types.BUY {
			cost := fillQty * execPrice
			if m.quote+epsilon < cost {
				o.Status = types.Rejected
				m.orders[id] = o
				m.logger.Warn("Order rejected", "id", id, "reason", "insufficient quote balance for buy")
				continue
			}
			m.quote -= cost
			received := fillQty * (1 - m.cfg.FeeRate)
			m.base += received
			m.fees += fillQty * m.cfg.FeeRate * execPrice
		} else {
			if m.base+epsilon < fillQty {
				o.Status = types.Rejected
				m.orders[id] = o
				m.logger.Warn("Order rejected", "id", id, "reason", "insufficient base balance for sell")
				continue
			}
			m.base -= fillQty
			proceeds := fillQty * execPrice * (1 - m.cfg.FeeRate)
			m.quote += proceeds
			m.fees += fillQty * execPrice * m.cfg.FeeRate
		}

		o.Filled += fillQty
		if o.Filled+epsilon >= o.Quantity {
			o.Status = types.Filled
			m.logger.Info("Order FILLED", "id", id, "qty", o.Filled, "execPrice", execPrice)
		} else {
			o.Status = types.PartiallyFilled
			m.logger.Info("Order PARTIALLY_FILLED", "id", id, "qty", o.Filled, "execPrice", execPrice)
		}
		m.orders[id] = o
	}
}

// DumpBalances logs the balances and current price.
func (m *MockExchange) DumpBalances() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logger.Info("Balances",
		string(m.cfg.Pair.Quote), m.quote,
		string(m.cfg.Pair.Base), m.base,
		"price", m.price,
	)
}
