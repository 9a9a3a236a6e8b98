package engine

import (
	"log/slog"
	"testing"
	"time"

	"spotgridbot/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func mockConfig() *config.Config {
	return &config.Config{
		Grid: config.GridConfig{
			Pair:            "BTC/USDT",
			BasePrice:       30000,
			LevelsBelow:     2,
			LevelsAbove:     2,
			StepPercent:     0.005,
			PerOrderQty:     0.001,
			MaxPositionBase: 2.0,
			TickInterval:    10 * time.Millisecond,
		},
		Mock: config.MockConfig{
			Enabled:        true,
			InitialQuote:   10000,
			InitialBase:    0.5,
			PartialFillMin: 1.0,
			PartialFillMax: 1.0,
			TickDelay:      5 * time.Millisecond,
			SimulateTicks:  20,
			Seed:           7,
		},
	}
}

func TestEngineMockLifecycle(t *testing.T) {
	t.Parallel()

	eng, err := New(mockConfig(), testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := eng.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Let the driver walk the price and the strategy tick a few times.
	time.Sleep(200 * time.Millisecond)
	eng.Stop()

	if got := len(eng.strategy.ActiveOrders()); got == 0 {
		t.Error("strategy ended with no active orders; the ladder never existed")
	}
}

func TestEngineRejectsBadPair(t *testing.T) {
	t.Parallel()

	cfg := mockConfig()
	cfg.Grid.Pair = "BTCUSDT"
	if _, err := New(cfg, testLogger()); err == nil {
		t.Error("New should reject an unparsable pair")
	}
}

func TestEngineMockUsesConfiguredBalances(t *testing.T) {
	t.Parallel()

	cfg := mockConfig()
	cfg.Mock.SimulateTicks = 0 // no price moves, balances stay put
	eng, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if got := eng.manager.GetBalance("USDT"); got != 10000 {
		t.Errorf("USDT = %v", got)
	}
	if got := eng.manager.GetBalance("BTC"); got != 0.5 {
		t.Errorf("BTC = %v", got)
	}
}

func TestEngineMidPriceFromMockTicker(t *testing.T) {
	t.Parallel()

	eng, err := New(mockConfig(), testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	mid, ok := eng.book.MidPrice(eng.pair)
	if !ok {
		t.Fatal("mock wiring should seed the book")
	}
	if mid != 30000 {
		t.Errorf("mid = %v, want 30000", mid)
	}
}
