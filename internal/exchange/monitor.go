// monitor.go keeps a live map of open orders that require polling, either
// because the venue pushes nothing, or as a safety belt for ones that do.
//
// Lifecycle of one entry:
//
//	Start()   — a placement report with status New/PartiallyFilled is stored
//	            under a fresh monotonically increasing sequence key
//	Process() — every monitoring interval each entry is re-queried; a changed
//	            status or leaves-qty updates the entry and emits the fresh
//	            report; terminal entries are retired
//	Update()  — the engine's ground truth adds any clOrdID not yet monitored
//
// The lock guards only the map. Network I/O for QueryOrder happens outside
// the critical section so a slow venue cannot stall inserts.
package exchange

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"spotgridbot/pkg/types"
)

// OrderTransaction is one monitored order: who asked for it, the settlement
// currency, and the last execution report observed.
type OrderTransaction struct {
	SenderCompID string
	Currency     types.Currency
	ExecReport   types.ExecutionReport
}

// OpenPosition describes an engine-side open order for external sync.
type OpenPosition struct {
	SenderCompID string
	Instrument   types.CurrencyPair
}

// TransactionMonitor reconciles open orders against the venue by polling.
type TransactionMonitor struct {
	adapter  Adapter
	interval time.Duration
	emit     func(types.ExecutionReport)
	logger   *slog.Logger

	mu           sync.Mutex
	seq          int64
	transactions map[int64]OrderTransaction
}

// NewTransactionMonitor wires a monitor to one adapter. Reports produced by
// reconciliation are pushed through emit; a zero interval disables inserts.
func NewTransactionMonitor(adapter Adapter, interval time.Duration, emit func(types.ExecutionReport), logger *slog.Logger) *TransactionMonitor {
	return &TransactionMonitor{
		adapter:      adapter,
		interval:     interval,
		emit:         emit,
		logger:       logger.With("component", "txmonitor"),
		transactions: make(map[int64]OrderTransaction),
	}
}

// Start begins monitoring the order described by the reports, keyed by a
// fresh sequence number. Only the last report matters; statuses other than
// New and PartiallyFilled need no transaction, and an order already being
// monitored (same order id or clOrdID) is not added again.
func (m *TransactionMonitor) Start(senderCompID string, ccy types.Currency, reports []types.ExecutionReport) {
	if len(reports) == 0 {
		return
	}
	report := reports[len(reports)-1]
	switch report.OrdStatus {
	case types.New, types.PartiallyFilled:
	default:
		return
	}

	if m.interval <= 0 {
		m.logger.Warn("order transaction cannot be started because the monitoring interval is zero",
			"order", report.OrderID)
		return
	}

	m.mu.Lock()
	for _, tr := range m.transactions {
		if (report.OrderID != "" && tr.ExecReport.OrderID == report.OrderID) ||
			(report.ClOrdID != "" && tr.ExecReport.ClOrdID == report.ClOrdID) {
			m.mu.Unlock()
			return
		}
	}
	m.seq++
	m.transactions[m.seq] = OrderTransaction{SenderCompID: senderCompID, Currency: ccy, ExecReport: report}
	m.mu.Unlock()

	m.logger.Info("started order transaction",
		"sender", senderCompID,
		"instrument", report.Instrument.String(),
		"order", report.OrderID,
		"status", string(report.OrdStatus),
	)
}

// Update accepts the engine's open positions and adds any clOrdID that is
// not already monitored, seeding it with an empty report so the next
// Process pass fetches real state.
func (m *TransactionMonitor) Update(openPositions map[string]OpenPosition) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for clOrdID, pos := range openPositions {
		monitored := false
		for _, tr := range m.transactions {
			if tr.ExecReport.ClOrdID == clOrdID {
				monitored = true
				break
			}
		}
		if monitored {
			continue
		}

		report := types.EmptyExecutionReport()
		report.Instrument = pos.Instrument
		report.ClOrdID = clOrdID
		report.OrdStatus = types.New

		m.seq++
		m.transactions[m.seq] = OrderTransaction{
			SenderCompID: pos.SenderCompID,
			Currency:     pos.Instrument.Base,
			ExecReport:   report,
		}
		m.logger.Info("added transaction monitoring",
			"sender", pos.SenderCompID,
			"instrument", pos.Instrument.String(),
			"clOrdId", clOrdID,
		)
	}
}

// Process runs one reconciliation pass: query each monitored order, diff
// against the stored report, emit on change and retire terminal entries.
func (m *TransactionMonitor) Process(ctx context.Context) {
	m.mu.Lock()
	keys := make([]int64, 0, len(m.transactions))
	for k := range m.transactions {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	snapshot := make([]OrderTransaction, len(keys))
	for i, k := range keys {
		snapshot[i] = m.transactions[k]
	}
	m.mu.Unlock()

	for i, tr := range snapshot {
		if ctx.Err() != nil {
			return
		}

		raw, err := m.adapter.QueryOrder(ctx, tr.ExecReport.Instrument, tr.ExecReport.OrderID, tr.ExecReport.ClOrdID)
		if err != nil {
			m.logger.Error("query order failed", "order", tr.ExecReport.OrderID, "error", err)
			continue
		}
		if raw == "" {
			continue // venue may be eventually consistent; retry next pass
		}

		reports := m.adapter.TranslateOrderResult(raw)
		if len(reports) == 0 {
			continue
		}
		report := reports[len(reports)-1]
		if report.OrdStatus == tr.ExecReport.OrdStatus && report.LeavesQty == tr.ExecReport.LeavesQty {
			continue
		}

		key := keys[i]
		m.mu.Lock()
		cur, ok := m.transactions[key]
		if ok {
			cur.ExecReport = report
			if report.OrdStatus.Terminal() {
				delete(m.transactions, key)
			} else {
				m.transactions[key] = cur
			}
		}
		m.mu.Unlock()
		if !ok {
			continue
		}

		if m.emit != nil {
			m.emit(report)
		}
		if report.OrdStatus.Terminal() {
			m.logger.Info("transaction finished",
				"sender", tr.SenderCompID,
				"instrument", report.Instrument.String(),
				"order", report.OrderID,
				"status", string(report.OrdStatus),
			)
		}
	}
}

// Run polls every monitoring interval until the context is cancelled.
// With a zero interval there is nothing to do and Run returns immediately.
func (m *TransactionMonitor) Run(ctx context.Context) {
	if m.interval <= 0 {
		return
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Process(ctx)
		}
	}
}

// Transactions returns a copy of the current transaction map.
func (m *TransactionMonitor) Transactions() map[int64]OrderTransaction {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[int64]OrderTransaction, len(m.transactions))
	for k, v := range m.transactions {
		out[k] = v
	}
	return out
}
