package types

import "testing"

func TestParseCurrencyPair(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      string
		want    CurrencyPair
		wantErr bool
	}{
		{"btc usdt", "BTC/USDT", CurrencyPair{Base: "BTC", Quote: "USDT", Precision: 2}, false},
		{"lower case normalized", "eth/usd", CurrencyPair{Base: "ETH", Quote: "USD", Precision: 2}, false},
		{"missing quote", "BTC/", CurrencyPair{}, true},
		{"missing separator", "BTCUSDT", CurrencyPair{}, true},
		{"base equals quote", "BTC/BTC", CurrencyPair{}, true},
		{"empty", "", CurrencyPair{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseCurrencyPair(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseCurrencyPair(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseCurrencyPair(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestCurrencyPairString(t *testing.T) {
	t.Parallel()

	cp := NewCurrencyPair("BTC", "USDT")
	if got := cp.String(); got != "BTC/USDT" {
		t.Errorf("String() = %q, want %q", got, "BTC/USDT")
	}
}

func TestOrderStatusTerminal(t *testing.T) {
	t.Parallel()

	terminal := []OrderStatus{Filled, Canceled, Rejected, Expired}
	open := []OrderStatus{NotSent, New, PartiallyFilled}

	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s.Terminal() = false, want true", s)
		}
	}
	for _, s := range open {
		if s.Terminal() {
			t.Errorf("%s.Terminal() = true, want false", s)
		}
	}
}

func TestSideOpposite(t *testing.T) {
	t.Parallel()

	if BUY.Opposite() != SELL {
		t.Error("BUY.Opposite() != SELL")
	}
	if SELL.Opposite() != BUY {
		t.Error("SELL.Opposite() != BUY")
	}
}

func TestOrderLeavesQty(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		qty    float64
		filled float64
		want   float64
	}{
		{"untouched", 1.0, 0, 1.0},
		{"partial", 1.0, 0.25, 0.75},
		{"fully filled", 1.0, 1.0, 0},
		{"overfill clamps to zero", 1.0, 1.1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			o := Order{Quantity: tt.qty, Filled: tt.filled}
			if got := o.LeavesQty(); got != tt.want {
				t.Errorf("LeavesQty() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTickerMid(t *testing.T) {
	t.Parallel()

	if got := (Ticker{Bid: 99, Ask: 101, Last: 100}).Mid(); got != 100 {
		t.Errorf("Mid() = %v, want 100", got)
	}
	// One-sided book falls back to last.
	if got := (Ticker{Ask: 101, Last: 100.5}).Mid(); got != 100.5 {
		t.Errorf("Mid() = %v, want 100.5", got)
	}
}

func TestEmptyExecutionReport(t *testing.T) {
	t.Parallel()

	r := EmptyExecutionReport()
	if r.OrderID != "" || r.ClOrdID != "" || r.ExecID != "" || r.Text != "" {
		t.Errorf("string fields not empty: %+v", r)
	}
	if r.OrdStatus != NotSent {
		t.Errorf("OrdStatus = %s, want %s", r.OrdStatus, NotSent)
	}
	if r.OrdType != Market {
		t.Errorf("OrdType = %s, want %s", r.OrdType, Market)
	}
	if r.OrderQty != 0 || r.CumQty != 0 || r.LeavesQty != 0 || r.AvgPx != 0 {
		t.Errorf("quantity fields not zero: %+v", r)
	}
}
