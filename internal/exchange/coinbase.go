// coinbase.go implements the Adapter contract for query-signing venues.
//
// This schema differs from the OKX one in every venue-specific knob:
//   - all request parameters travel in the query string, not a JSON body
//   - the signature is lowercase-hex HMAC-SHA256 over the query string
//     itself and is appended as a &signature= parameter
//   - the timestamp is epoch milliseconds inside the query, bounded by a
//     recvWindow, and the API key rides a single X-MBX-APIKEY header
//   - the pair renders as "BASEQUOTE" with no separator
//   - responses are a single order object, with errors nested under
//     {"error":{"code":..,"msg":..}}
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"spotgridbot/internal/signing"
	"spotgridbot/pkg/types"
)

// SchemaCoinbase is the registry key for this adapter.
const SchemaCoinbase = "coinbase"

const cbHeaderAPIKey = "X-MBX-APIKEY"

// knownQuotes resolves the quote asset when splitting a concatenated symbol.
// Longest match wins, so USDT is tried before USD.
var knownQuotes = []string{"USDT", "USDC", "BUSD", "USD", "EUR", "GBP", "BTC", "ETH"}

// Coinbase is one query-signing order session.
type Coinbase struct {
	settings Settings
	client   *Client
	ts       *signing.Timestamper
	logger   *slog.Logger
}

// NewCoinbase builds the adapter for one session's settings.
func NewCoinbase(settings Settings, logger *slog.Logger) (Adapter, error) {
	if settings.APIKey == "" || settings.SecretKey == "" {
		return nil, fmt.Errorf("session %q: api key and secret are required", settings.Name)
	}
	l := logger.With("component", "coinbase", "session", settings.Name)
	return &Coinbase{
		settings: settings,
		client:   NewClient(settings.BaseURL, l),
		ts:       signing.NewTimestamper(nil),
		logger:   l,
	}, nil
}

// Name returns the session name.
func (c *Coinbase) Name() string { return c.settings.Name }

// cbSymbol renders a pair as the concatenated "BASEQUOTE" form.
func cbSymbol(pair types.CurrencyPair) string {
	return string(pair.Base) + string(pair.Quote)
}

// cbPair splits a concatenated symbol using the known quote suffixes.
// Unknown symbols yield the zero pair rather than a guess.
func cbPair(symbol string) types.CurrencyPair {
	for _, q := range knownQuotes {
		if strings.HasSuffix(symbol, q) && len(symbol) > len(q) {
			return types.NewCurrencyPair(
				types.Currency(symbol[:len(symbol)-len(q)]),
				types.Currency(q),
			)
		}
	}
	return types.CurrencyPair{}
}

// PlaceOrder signs and sends the full order as a query string.
func (c *Coinbase) PlaceOrder(ctx context.Context, pair types.CurrencyPair, side types.Side, ordType types.OrderType,
	tif types.TimeInForce, price, qty float64, clOrdID string) (string, error) {

	isMarket := ordType == types.Market || price == 0

	qs := "symbol=" + cbSymbol(pair)
	qs += "&side=" + string(side)
	if isMarket {
		qs += "&type=MARKET"
	} else {
		qs += "&type=LIMIT"
		qs += "&timeInForce=" + string(tif)
		qs += "&price=" + FormatAtPrecision(price, pair.Precision)
	}
	qs += "&quantity=" + FormatAtPrecision(qty, 8)
	if clOrdID != "" {
		qs += "&newClientOrderId=" + clOrdID
	}

	return c.client.Do(ctx, c.signedSpec("POST", qs, CategoryOrder, false))
}

// QueryOrder is an idempotent status read.
func (c *Coinbase) QueryOrder(ctx context.Context, pair types.CurrencyPair, orderID, clOrdID string) (string, error) {
	return c.client.Do(ctx, c.signedSpec("GET", c.orderQuery(pair, orderID, clOrdID), CategoryQuery, true))
}

// CancelOrder cancels by id; DELETE on the same signed query.
func (c *Coinbase) CancelOrder(ctx context.Context, pair types.CurrencyPair, orderID, clOrdID string) (string, error) {
	return c.client.Do(ctx, c.signedSpec("DELETE", c.orderQuery(pair, orderID, clOrdID), CategoryCancel, true))
}

func (c *Coinbase) orderQuery(pair types.CurrencyPair, orderID, clOrdID string) string {
	qs := "symbol=" + cbSymbol(pair)
	if orderID != "" {
		qs += "&orderId=" + orderID
	}
	if clOrdID != "" {
		qs += "&origClientOrderId=" + clOrdID
	}
	return qs
}

// signedSpec stamps, signs and wraps a query string. recvWindow and
// timestamp are part of the signed input, so they are appended before the
// signature is computed.
func (c *Coinbase) signedSpec(method, query string, cat Category, idempotent bool) RequestSpec {
	qs := query
	qs += fmt.Sprintf("&recvWindow=%d", c.recvWindow())
	qs += "&timestamp=" + c.ts.EpochMillis()
	sig := signing.SignHex(c.settings.SecretKey, qs)

	return RequestSpec{
		Method:     method,
		Path:       c.settings.OrdersEndpoint + "?" + qs + "&signature=" + sig,
		Headers:    map[string]string{cbHeaderAPIKey: c.settings.APIKey},
		Category:   cat,
		Idempotent: idempotent,
	}
}

func (c *Coinbase) recvWindow() int64 {
	if c.settings.RecvWindowMs > 0 {
		return c.settings.RecvWindowMs
	}
	return 5000
}

// ————————————————————————————————————————————————————————————————————————
// Response translation
// ————————————————————————————————————————————————————————————————————————

type cbFill struct {
	Price string `json:"price"`
	Qty   string `json:"qty"`
}

type cbOrder struct {
	Symbol        string      `json:"symbol"`
	OrderID       json.Number `json:"orderId"`
	ClientOrderID string      `json:"clientOrderId"`
	Price         string      `json:"price"`
	OrigQty       string      `json:"origQty"`
	ExecutedQty   string      `json:"executedQty"`
	Status        string      `json:"status"`
	TimeInForce   string      `json:"timeInForce"`
	Type          string      `json:"type"`
	Side          string      `json:"side"`
	Fills         []cbFill    `json:"fills"`
	Error         *struct {
		Code json.Number `json:"code"`
		Msg  string      `json:"msg"`
	} `json:"error"`
}

// cbStatus maps the venue's order status to the canonical one.
func cbStatus(status string) (types.OrderStatus, types.ExecType) {
	switch status {
	case "NEW":
		return types.New, types.ExecNew
	case "PARTIALLY_FILLED":
		return types.PartiallyFilled, types.ExecTrade
	case "FILLED":
		return types.Filled, types.ExecTrade
	case "CANCELED", "PENDING_CANCEL":
		return types.Canceled, types.ExecCanceled
	case "REJECTED":
		return types.Rejected, types.ExecRejected
	case "EXPIRED":
		return types.Expired, types.ExecExpired
	default:
		return types.New, types.ExecNew
	}
}

// TranslateOrderResult maps one venue response into canonical reports.
// A nested error object or a parse failure yields exactly one Rejected
// report; an order with per-fill detail yields one report per fill.
func (c *Coinbase) TranslateOrderResult(raw string) []types.ExecutionReport {
	var parsed cbOrder
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		r := types.EmptyExecutionReport()
		r.Venue = c.settings.Name
		r.OrdStatus = types.Rejected
		r.ExecType = types.ExecRejected
		r.Text = fmt.Sprintf("failed to parse order result from %q: %v", raw, err)
		return []types.ExecutionReport{r}
	}

	if parsed.Error != nil {
		code, _ := parsed.Error.Code.Int64()
		r := types.EmptyExecutionReport()
		r.Venue = c.settings.Name
		r.OrdStatus = types.Rejected
		r.ExecType = types.ExecRejected
		r.Text = fmt.Sprintf("%d: %s", code, parsed.Error.Msg)
		return []types.ExecutionReport{r}
	}

	base := types.EmptyExecutionReport()
	base.Venue = c.settings.Name
	base.OrderID = parsed.OrderID.String()
	base.ClOrdID = parsed.ClientOrderID
	base.Instrument = cbPair(parsed.Symbol)
	base.Currency = base.Instrument.Base
	base.OrdStatus, base.ExecType = cbStatus(parsed.Status)
	if parsed.Side == "SELL" {
		base.Side = types.SELL
	} else if parsed.Side != "" {
		base.Side = types.BUY
	}
	if parsed.Type == "MARKET" {
		base.OrdType = types.Market
	} else {
		base.OrdType = types.Limit
	}
	base.OrderQty = parseDecimal(parsed.OrigQty)
	base.OrderPx = parseDecimal(parsed.Price)
	base.CumQty = parseDecimal(parsed.ExecutedQty)
	base.LeavesQty = base.OrderQty - base.CumQty
	if base.LeavesQty < 0 {
		base.LeavesQty = 0
	}
	switch parsed.TimeInForce {
	case "IOC":
		base.TIF = types.ImmediateOrCancel
	case "FOK":
		base.TIF = types.FillOrKill
	case "DAY":
		base.TIF = types.Day
	default:
		base.TIF = types.GoodTilCancel
	}

	if len(parsed.Fills) == 0 {
		return []types.ExecutionReport{base}
	}

	// One report per fill element; the last carries the cumulative state.
	reports := make([]types.ExecutionReport, 0, len(parsed.Fills))
	for i, f := range parsed.Fills {
		r := base
		r.ExecID = fmt.Sprintf("%s-%d", base.OrderID, i)
		r.LastPx = parseDecimal(f.Price)
		r.LastQty = parseDecimal(f.Qty)
		reports = append(reports, r)
	}
	return reports
}
