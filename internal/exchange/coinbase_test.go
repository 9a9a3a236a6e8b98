package exchange

import (
	"strings"
	"testing"

	"spotgridbot/pkg/types"
)

func newTestCoinbase(t *testing.T) Adapter {
	t.Helper()
	a, err := NewCoinbase(Settings{
		Name:           "cb-ord",
		Schema:         SchemaCoinbase,
		BaseURL:        "https://example.test",
		APIKey:         "key",
		SecretKey:      "secret",
		OrdersEndpoint: "/api/v3/order",
		RecvWindowMs:   5000,
	}, testLogger())
	if err != nil {
		t.Fatalf("NewCoinbase: %v", err)
	}
	return a
}

func TestCBSymbol(t *testing.T) {
	t.Parallel()

	if got := cbSymbol(types.NewCurrencyPair("BTC", "USDT")); got != "BTCUSDT" {
		t.Errorf("cbSymbol = %q", got)
	}
}

func TestCBPairSplit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		symbol string
		base   types.Currency
		quote  types.Currency
	}{
		{"BTCUSDT", "BTC", "USDT"},
		{"ETHUSD", "ETH", "USD"},
		{"SOLBTC", "SOL", "BTC"},
	}
	for _, tt := range tests {
		got := cbPair(tt.symbol)
		if got.Base != tt.base || got.Quote != tt.quote {
			t.Errorf("cbPair(%q) = %s/%s, want %s/%s", tt.symbol, got.Base, got.Quote, tt.base, tt.quote)
		}
	}

	if !cbPair("XYZ").IsZero() {
		t.Error("unknown symbol should yield zero pair")
	}
}

func TestCoinbaseTranslateOrder(t *testing.T) {
	t.Parallel()

	adapter := newTestCoinbase(t)
	raw := `{
		"symbol":"BTCUSDT",
		"orderId":4567,
		"clientOrderId":"grid-2",
		"price":"29700.00",
		"origQty":"0.00100000",
		"executedQty":"0.00100000",
		"status":"FILLED",
		"timeInForce":"GTC",
		"type":"LIMIT",
		"side":"BUY"
	}`

	reports := adapter.TranslateOrderResult(raw)
	if len(reports) != 1 {
		t.Fatalf("got %d reports, want 1", len(reports))
	}
	r := reports[0]

	if r.OrderID != "4567" {
		t.Errorf("OrderID = %q", r.OrderID)
	}
	if r.ClOrdID != "grid-2" {
		t.Errorf("ClOrdID = %q", r.ClOrdID)
	}
	if r.Instrument.String() != "BTC/USDT" {
		t.Errorf("Instrument = %q", r.Instrument.String())
	}
	if r.OrdStatus != types.Filled {
		t.Errorf("OrdStatus = %s", r.OrdStatus)
	}
	if r.Side != types.BUY || r.OrdType != types.Limit || r.TIF != types.GoodTilCancel {
		t.Errorf("side/type/tif = %s/%s/%s", r.Side, r.OrdType, r.TIF)
	}
	if r.OrderQty != 0.001 || r.CumQty != 0.001 || r.LeavesQty != 0 {
		t.Errorf("quantities = %v/%v/%v", r.OrderQty, r.CumQty, r.LeavesQty)
	}
	if r.OrderPx != 29700 {
		t.Errorf("OrderPx = %v", r.OrderPx)
	}
}

func TestCoinbaseTranslateFills(t *testing.T) {
	t.Parallel()

	adapter := newTestCoinbase(t)
	raw := `{
		"symbol":"BTCUSDT",
		"orderId":99,
		"origQty":"0.002",
		"executedQty":"0.002",
		"status":"FILLED",
		"side":"SELL",
		"type":"LIMIT",
		"fills":[
			{"price":"30150.0","qty":"0.0015"},
			{"price":"30149.5","qty":"0.0005"}
		]
	}`

	reports := adapter.TranslateOrderResult(raw)
	if len(reports) != 2 {
		t.Fatalf("got %d reports, want one per fill", len(reports))
	}
	if reports[0].LastPx != 30150.0 || reports[0].LastQty != 0.0015 {
		t.Errorf("fill 0 = %v @ %v", reports[0].LastQty, reports[0].LastPx)
	}
	if reports[1].LastPx != 30149.5 || reports[1].LastQty != 0.0005 {
		t.Errorf("fill 1 = %v @ %v", reports[1].LastQty, reports[1].LastPx)
	}
	for i, r := range reports {
		if r.Side != types.SELL {
			t.Errorf("fill %d side = %s", i, r.Side)
		}
		if r.ExecID == "" {
			t.Errorf("fill %d has no exec id", i)
		}
	}
	if reports[0].ExecID == reports[1].ExecID {
		t.Error("fills share an exec id")
	}
}

func TestCoinbaseTranslateNestedError(t *testing.T) {
	t.Parallel()

	adapter := newTestCoinbase(t)
	reports := adapter.TranslateOrderResult(`{"error":{"code":-2013,"msg":"Order does not exist."}}`)

	if len(reports) != 1 {
		t.Fatalf("got %d reports, want 1", len(reports))
	}
	r := reports[0]
	if r.OrdStatus != types.Rejected {
		t.Errorf("OrdStatus = %s, want Rejected", r.OrdStatus)
	}
	if !strings.Contains(r.Text, "-2013") || !strings.Contains(r.Text, "Order does not exist.") {
		t.Errorf("Text = %q", r.Text)
	}
}

func TestCoinbaseTranslateParseFailure(t *testing.T) {
	t.Parallel()

	adapter := newTestCoinbase(t)
	reports := adapter.TranslateOrderResult("<html>503</html>")

	if len(reports) != 1 {
		t.Fatalf("got %d reports, want 1", len(reports))
	}
	if reports[0].OrdStatus != types.Rejected {
		t.Errorf("OrdStatus = %s, want Rejected", reports[0].OrdStatus)
	}
	if !strings.Contains(reports[0].Text, "<html>503</html>") {
		t.Errorf("Text should name the offending payload, got %q", reports[0].Text)
	}
}

func TestCBStatusTable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status string
		want   types.OrderStatus
	}{
		{"NEW", types.New},
		{"PARTIALLY_FILLED", types.PartiallyFilled},
		{"FILLED", types.Filled},
		{"CANCELED", types.Canceled},
		{"PENDING_CANCEL", types.Canceled},
		{"REJECTED", types.Rejected},
		{"EXPIRED", types.Expired},
	}
	for _, tt := range tests {
		got, _ := cbStatus(tt.status)
		if got != tt.want {
			t.Errorf("cbStatus(%q) = %s, want %s", tt.status, got, tt.want)
		}
	}
}
