package exchange

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"spotgridbot/pkg/types"
)

// scriptedAdapter replays a fixed sequence of execution reports: each
// QueryOrder call serves the next report in line (the last one repeats).
// TranslateOrderResult simply decodes what QueryOrder encoded, keeping the
// monitor's query -> translate -> diff pipeline intact.
type scriptedAdapter struct {
	mu      sync.Mutex
	script  []types.ExecutionReport
	queries int
}

func (s *scriptedAdapter) Name() string { return "scripted" }

func (s *scriptedAdapter) PlaceOrder(_ context.Context, _ types.CurrencyPair, _ types.Side, _ types.OrderType,
	_ types.TimeInForce, _, _ float64, _ string) (string, error) {
	return "", nil
}

func (s *scriptedAdapter) QueryOrder(_ context.Context, _ types.CurrencyPair, _, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.queries
	if idx >= len(s.script) {
		idx = len(s.script) - 1
	}
	s.queries++
	b, err := json.Marshal(s.script[idx])
	return string(b), err
}

func (s *scriptedAdapter) CancelOrder(_ context.Context, _ types.CurrencyPair, _, _ string) (string, error) {
	return "", nil
}

func (s *scriptedAdapter) TranslateOrderResult(raw string) []types.ExecutionReport {
	var r types.ExecutionReport
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return []types.ExecutionReport{}
	}
	return []types.ExecutionReport{r}
}

func (s *scriptedAdapter) queryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries
}

func report(orderID string, status types.OrderStatus, leaves float64) types.ExecutionReport {
	r := types.EmptyExecutionReport()
	r.OrderID = orderID
	r.ClOrdID = "cl-" + orderID
	r.Instrument = types.NewCurrencyPair("BTC", "USDT")
	r.OrdStatus = status
	r.LeavesQty = leaves
	return r
}

func TestMonitorStartOnlyTracksOpenStatuses(t *testing.T) {
	t.Parallel()

	m := NewTransactionMonitor(&scriptedAdapter{}, time.Second, nil, testLogger())

	m.Start("comp-1", "BTC", []types.ExecutionReport{report("o1", types.New, 1)})
	m.Start("comp-1", "BTC", []types.ExecutionReport{report("o2", types.PartiallyFilled, 0.5)})
	m.Start("comp-1", "BTC", []types.ExecutionReport{report("o3", types.Filled, 0)})
	m.Start("comp-1", "BTC", []types.ExecutionReport{report("o4", types.Rejected, 0)})
	m.Start("comp-1", "BTC", nil)

	if got := len(m.Transactions()); got != 2 {
		t.Errorf("monitoring %d transactions, want 2 (New + PartiallyFilled only)", got)
	}
}

func TestMonitorZeroIntervalDisablesInserts(t *testing.T) {
	t.Parallel()

	m := NewTransactionMonitor(&scriptedAdapter{}, 0, nil, testLogger())
	m.Start("comp-1", "BTC", []types.ExecutionReport{report("o1", types.New, 1)})

	if got := len(m.Transactions()); got != 0 {
		t.Errorf("zero interval should disable inserts, monitoring %d", got)
	}
}

func TestMonitorProcessEmitsOnChangeAndRetiresTerminal(t *testing.T) {
	t.Parallel()

	adapter := &scriptedAdapter{script: []types.ExecutionReport{
		report("o1", types.New, 1),             // pass 1: unchanged, no emit
		report("o1", types.PartiallyFilled, 0.5), // pass 2: change, emit, keep
		report("o1", types.PartiallyFilled, 0.5), // pass 3: unchanged, no emit
		report("o1", types.Filled, 0),            // pass 4: change, emit, retire
	}}

	var emitted []types.ExecutionReport
	var mu sync.Mutex
	m := NewTransactionMonitor(adapter, time.Second, func(r types.ExecutionReport) {
		mu.Lock()
		emitted = append(emitted, r)
		mu.Unlock()
	}, testLogger())

	m.Start("comp-1", "BTC", []types.ExecutionReport{report("o1", types.New, 1)})

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		m.Process(ctx)
	}

	mu.Lock()
	defer mu.Unlock()

	if len(emitted) != 2 {
		t.Fatalf("emitted %d reports, want 2 (partial then filled)", len(emitted))
	}
	if emitted[0].OrdStatus != types.PartiallyFilled {
		t.Errorf("first emission = %s, want PartiallyFilled", emitted[0].OrdStatus)
	}
	if emitted[1].OrdStatus != types.Filled {
		t.Errorf("second emission = %s, want Filled", emitted[1].OrdStatus)
	}
	if got := len(m.Transactions()); got != 0 {
		t.Errorf("terminal transaction not retired, %d remain", got)
	}
}

func TestMonitorProcessAfterRetireDoesNothing(t *testing.T) {
	t.Parallel()

	adapter := &scriptedAdapter{script: []types.ExecutionReport{
		report("o1", types.Filled, 0),
	}}
	m := NewTransactionMonitor(adapter, time.Second, nil, testLogger())
	m.Start("comp-1", "BTC", []types.ExecutionReport{report("o1", types.New, 1)})

	m.Process(context.Background())
	queriesAfterRetire := adapter.queryCount()
	m.Process(context.Background())

	if adapter.queryCount() != queriesAfterRetire {
		t.Error("retired transaction was queried again")
	}
}

func TestMonitorUpdateAddsUnknownOrders(t *testing.T) {
	t.Parallel()

	m := NewTransactionMonitor(&scriptedAdapter{}, time.Second, nil, testLogger())
	m.Start("comp-1", "BTC", []types.ExecutionReport{report("o1", types.New, 1)})

	pair := types.NewCurrencyPair("BTC", "USDT")
	m.Update(map[string]OpenPosition{
		"cl-o1":  {SenderCompID: "comp-1", Instrument: pair}, // already monitored
		"cl-new": {SenderCompID: "comp-1", Instrument: pair}, // fresh
	})

	trs := m.Transactions()
	if len(trs) != 2 {
		t.Fatalf("monitoring %d transactions, want 2", len(trs))
	}

	// Idempotent: a second sync adds nothing.
	m.Update(map[string]OpenPosition{
		"cl-new": {SenderCompID: "comp-1", Instrument: pair},
	})
	if got := len(m.Transactions()); got != 2 {
		t.Errorf("duplicate sync grew the map to %d", got)
	}
}
