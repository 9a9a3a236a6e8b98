// okx.go implements the Adapter contract for OKX-style venues.
//
// Wire shape:
//   - orders are placed as JSON bodies against POST /api/v5/trade/order
//   - the signature is base64(HMAC-SHA256(ts + method + path + body))
//   - the timestamp is ISO-8601 UTC with millisecond precision, optionally
//     skew-synced once against the venue's systemTime endpoint
//   - every response is {"code":..,"msg":..,"data":[..]} with per-element
//     sCode/sMsg on order actions
//
// A successful placement is immediately followed by a QueryOrder for the
// returned ordId, and that response is what the caller receives: the
// placement ack alone carries no fill state.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"spotgridbot/internal/signing"
	"spotgridbot/pkg/types"
)

// SchemaOKX is the registry key for this adapter.
const SchemaOKX = "okx"

// OKX request header names.
const (
	okxHeaderKey        = "OK-ACCESS-KEY"
	okxHeaderSign       = "OK-ACCESS-SIGN"
	okxHeaderTimestamp  = "OK-ACCESS-TIMESTAMP"
	okxHeaderPassphrase = "OK-ACCESS-PASSPHRASE"
	okxHeaderSimulated  = "x-simulated-trading"
)

// OKX is one OKX order session.
type OKX struct {
	settings Settings
	client   *Client
	ts       *signing.Timestamper
	syncOnce sync.Once
	logger   *slog.Logger
}

// NewOKX builds the adapter for one session's settings.
func NewOKX(settings Settings, logger *slog.Logger) (Adapter, error) {
	if settings.APIKey == "" || settings.SecretKey == "" {
		return nil, fmt.Errorf("session %q: api key and secret are required", settings.Name)
	}
	l := logger.With("component", "okx", "session", settings.Name)
	return &OKX{
		settings: settings,
		client:   NewClient(settings.BaseURL, l),
		ts:       signing.NewTimestamper(nil),
		logger:   l,
	}, nil
}

// Name returns the session name.
func (o *OKX) Name() string { return o.settings.Name }

// okxSymbol renders a pair the way OKX names instruments: "BTC-USDT".
func okxSymbol(pair types.CurrencyPair) string {
	return string(pair.Base) + "-" + string(pair.Quote)
}

// okxPair parses an instId back into a canonical pair.
func okxPair(instID string) types.CurrencyPair {
	parts := strings.SplitN(instID, "-", 2)
	if len(parts) != 2 {
		return types.CurrencyPair{}
	}
	return types.NewCurrencyPair(types.Currency(parts[0]), types.Currency(parts[1]))
}

// okxOrdType maps the canonical TIF/type to OKX's single ordType field.
func okxOrdType(tif types.TimeInForce, isMarket bool) string {
	switch tif {
	case types.ImmediateOrCancel:
		return "ioc"
	case types.FillOrKill:
		return "fok"
	default:
		if isMarket {
			return "market"
		}
		return "limit"
	}
}

type okxPlaceRequest struct {
	InstID  string `json:"instId"`
	ClOrdID string `json:"clOrdId,omitempty"`
	TdMode  string `json:"tdMode"`
	Side    string `json:"side"`
	OrdType string `json:"ordType"`
	Px      string `json:"px,omitempty"`
	Sz      string `json:"sz"`
}

type okxCancelRequest struct {
	OrdID   string `json:"ordId"`
	ClOrdID string `json:"clOrdId,omitempty"`
	InstID  string `json:"instId"`
}

// PlaceOrder sends the order and, on a clean ack, queries the order details
// so the caller gets a response that carries state.
func (o *OKX) PlaceOrder(ctx context.Context, pair types.CurrencyPair, side types.Side, ordType types.OrderType,
	tif types.TimeInForce, price, qty float64, clOrdID string) (string, error) {

	o.syncClock(ctx)

	isMarket := ordType == types.Market || price == 0
	req := okxPlaceRequest{
		InstID:  okxSymbol(pair),
		ClOrdID: clOrdID,
		TdMode:  o.tdMode(),
		Side:    strings.ToLower(string(side)),
		OrdType: okxOrdType(tif, isMarket),
		Sz:      FormatAtPrecision(qty, 8),
	}
	if !isMarket {
		req.Px = FormatAtPrecision(price, pair.Precision)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal order: %w", err)
	}

	resp, err := o.client.Do(ctx, o.signedSpec("POST", o.settings.OrdersEndpoint, string(body), CategoryOrder, false))
	if err != nil {
		return "", err
	}

	action, aerr := parseOKXAction(resp)
	if aerr != nil {
		return jsonMessageWithCode(aerr.Error(), 1), nil
	}
	if action.code != 0 {
		return jsonMessageWithCode(action.msg, action.code), nil
	}
	if len(action.data) == 0 {
		return jsonMessageWithCode("data[] is empty", 1), nil
	}
	first := action.data[0]
	if sc, _ := first.SCode.Int64(); sc != 0 {
		return jsonMessageWithCode(first.SMsg, sc), nil
	}

	o.logger.Info("order accepted, querying details", "ordId", first.OrdID)
	return o.QueryOrder(ctx, pair, first.OrdID, clOrdID)
}

// QueryOrder is an idempotent status read.
func (o *OKX) QueryOrder(ctx context.Context, pair types.CurrencyPair, orderID, clOrdID string) (string, error) {
	o.syncClock(ctx)

	path := o.settings.OrdersEndpoint + "?ordId=" + orderID
	if clOrdID != "" {
		path += "&clOrdId=" + clOrdID
	}
	path += "&instId=" + okxSymbol(pair)

	return o.client.Do(ctx, o.signedSpec("GET", path, "", CategoryQuery, true))
}

// CancelOrder cancels by id. The venue answers with the order's terminal
// state even when it was already terminal, so the call is idempotent.
func (o *OKX) CancelOrder(ctx context.Context, pair types.CurrencyPair, orderID, clOrdID string) (string, error) {
	o.syncClock(ctx)

	req := okxCancelRequest{
		OrdID:   orderID,
		ClOrdID: clOrdID,
		InstID:  okxSymbol(pair),
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal cancel: %w", err)
	}

	endpoint := o.settings.CancelEndpoint
	if endpoint == "" {
		endpoint = o.settings.OrdersEndpoint
	}
	return o.client.Do(ctx, o.signedSpec("POST", endpoint, string(body), CategoryCancel, true))
}

// signedSpec builds the immutable request record, signing path and body with
// a fresh timestamp. The body string is shared by signer and wire.
func (o *OKX) signedSpec(method, path, body string, cat Category, idempotent bool) RequestSpec {
	ts := o.ts.ISO8601()
	sig := signing.SignBase64(o.settings.SecretKey, signing.Prehash(ts, method, path, body))

	headers := map[string]string{
		okxHeaderKey:        o.settings.APIKey,
		okxHeaderSign:       sig,
		okxHeaderTimestamp:  ts,
		okxHeaderPassphrase: o.settings.Passphrase,
	}
	if o.settings.SimulatedTrading {
		headers[okxHeaderSimulated] = "1"
	}

	return RequestSpec{
		Method:     method,
		Path:       path,
		Headers:    headers,
		Body:       body,
		Category:   cat,
		Idempotent: idempotent,
	}
}

func (o *OKX) tdMode() string {
	if o.settings.TdMode != "" {
		return o.settings.TdMode
	}
	return "cash"
}

// syncClock performs the one-shot skew sync against the venue clock. A
// failure is logged and ignored: local time is usually close enough.
func (o *OKX) syncClock(ctx context.Context) {
	if o.settings.SystemTimeEndpoint == "" {
		return
	}
	o.syncOnce.Do(func() {
		resp, err := o.client.Do(ctx, RequestSpec{
			Method:     "GET",
			Path:       o.settings.SystemTimeEndpoint,
			Category:   CategoryQuery,
			Idempotent: true,
		})
		if err != nil {
			o.logger.Warn("system time sync failed", "error", err)
			return
		}
		var parsed struct {
			Data []struct {
				TS json.Number `json:"ts"`
			} `json:"data"`
		}
		if err := json.Unmarshal([]byte(resp), &parsed); err != nil || len(parsed.Data) == 0 {
			o.logger.Warn("system time sync: unexpected response", "body", resp)
			return
		}
		ms, _ := parsed.Data[0].TS.Int64()
		if ms > 0 {
			o.ts.SyncOffset(ms)
			o.logger.Info("clock synced to venue", "venue_ms", ms)
		}
	})
}

// ————————————————————————————————————————————————————————————————————————
// Response translation
// ————————————————————————————————————————————————————————————————————————

type okxOrderData struct {
	OrdID     string      `json:"ordId"`
	ClOrdID   string      `json:"clOrdId"`
	InstID    string      `json:"instId"`
	Px        string      `json:"px"`
	Sz        string      `json:"sz"`
	Side      string      `json:"side"`
	OrdType   string      `json:"ordType"`
	State     string      `json:"state"`
	AccFillSz string      `json:"accFillSz"`
	FillSz    string      `json:"fillSz"`
	FillPx    string      `json:"fillPx"`
	AvgPx     string      `json:"avgPx"`
	TradeID   string      `json:"tradeId"`
	SCode     json.Number `json:"sCode"`
	SMsg      string      `json:"sMsg"`
}

type okxAction struct {
	code int64
	msg  string
	data []okxOrderData
}

// parseOKXAction splits a venue response into its error state and data array.
func parseOKXAction(raw string) (okxAction, error) {
	var parsed struct {
		Code json.Number    `json:"code"`
		Msg  string         `json:"msg"`
		Data []okxOrderData `json:"data"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return okxAction{}, fmt.Errorf("parse response: %w", err)
	}
	code, _ := parsed.Code.Int64()
	return okxAction{code: code, msg: parsed.Msg, data: parsed.Data}, nil
}

// okxStatus maps the venue order state to the canonical status.
func okxStatus(state string) (types.OrderStatus, types.ExecType) {
	switch state {
	case "live":
		return types.New, types.ExecNew
	case "partially_filled":
		return types.PartiallyFilled, types.ExecTrade
	case "filled":
		return types.Filled, types.ExecTrade
	case "canceled":
		return types.Canceled, types.ExecCanceled
	case "expired":
		return types.Expired, types.ExecExpired
	default:
		return types.New, types.ExecNew
	}
}

// TranslateOrderResult maps a venue response into canonical reports. A
// non-zero top-level code, a per-element sCode, or a parse failure each
// yield exactly one Rejected report whose Text carries the diagnosis.
// Missing fields default to the canonical zero; translation never aborts.
func (o *OKX) TranslateOrderResult(raw string) []types.ExecutionReport {
	action, err := parseOKXAction(raw)
	if err != nil {
		r := types.EmptyExecutionReport()
		r.Venue = o.settings.Name
		r.OrdStatus = types.Rejected
		r.ExecType = types.ExecRejected
		r.Text = fmt.Sprintf("failed to parse order result from %q: %v", raw, err)
		return []types.ExecutionReport{r}
	}
	if action.code != 0 {
		r := types.EmptyExecutionReport()
		r.Venue = o.settings.Name
		r.OrdStatus = types.Rejected
		r.ExecType = types.ExecRejected
		r.Text = fmt.Sprintf("%d: %s", action.code, action.msg)
		return []types.ExecutionReport{r}
	}

	reports := make([]types.ExecutionReport, 0, len(action.data))
	for _, d := range action.data {
		if sc, _ := d.SCode.Int64(); sc != 0 {
			r := types.EmptyExecutionReport()
			r.Venue = o.settings.Name
			r.OrderID = d.OrdID
			r.ClOrdID = d.ClOrdID
			r.OrdStatus = types.Rejected
			r.ExecType = types.ExecRejected
			r.Text = fmt.Sprintf("%d: %s", sc, d.SMsg)
			reports = append(reports, r)
			continue
		}

		r := types.EmptyExecutionReport()
		r.Venue = o.settings.Name
		r.OrderID = d.OrdID
		r.ClOrdID = d.ClOrdID
		r.ExecID = d.TradeID
		r.Instrument = okxPair(d.InstID)
		r.Currency = r.Instrument.Base
		r.OrdStatus, r.ExecType = okxStatus(d.State)
		if strings.EqualFold(d.Side, "sell") {
			r.Side = types.SELL
		} else if d.Side != "" {
			r.Side = types.BUY
		}
		if d.OrdType == "market" {
			r.OrdType = types.Market
		} else {
			r.OrdType = types.Limit
		}
		r.OrderQty = parseDecimal(d.Sz)
		r.OrderPx = parseDecimal(d.Px)
		r.CumQty = parseDecimal(d.AccFillSz)
		r.LastQty = parseDecimal(d.FillSz)
		r.LastPx = parseDecimal(d.FillPx)
		r.AvgPx = parseDecimal(d.AvgPx)
		r.LeavesQty = r.OrderQty - r.CumQty
		if r.LeavesQty < 0 {
			r.LeavesQty = 0
		}
		r.TIF = types.GoodTilCancel
		switch d.OrdType {
		case "ioc":
			r.TIF = types.ImmediateOrCancel
		case "fok":
			r.TIF = types.FillOrKill
		}
		reports = append(reports, r)
	}

	if len(reports) == 0 {
		r := types.EmptyExecutionReport()
		r.Venue = o.settings.Name
		r.OrdStatus = types.Rejected
		r.ExecType = types.ExecRejected
		r.Text = "data[] is empty"
		return []types.ExecutionReport{r}
	}
	return reports
}

// jsonMessageWithCode renders the compact {"code":..,"msg":..} error shape
// used when an action fails before a full venue response exists.
func jsonMessageWithCode(msg string, code int64) string {
	b, _ := json.Marshal(struct {
		Code int64  `json:"code"`
		Msg  string `json:"msg"`
	}{Code: code, Msg: msg})
	return string(b)
}
