// Package exchange implements the order-lifecycle contract against trading
// venues.
//
// The package splits per-venue REST handling into three pieces:
//
//   - Adapter: the uniform contract (place, query, cancel, translate) every
//     venue implements. Place/query/cancel return the venue's JSON verbatim;
//     TranslateOrderResult maps that JSON into canonical execution reports.
//   - Client: the shared resty transport that executes an immutable
//     RequestSpec, with per-category rate limiting and a single retry on
//     idempotent operations.
//   - TransactionMonitor: poll-driven reconciliation of open orders for
//     venues that do not push fills.
//
// Adapters are registered by schema name ("okx", "coinbase") and built by the
// ConnectionManager from the per-session settings collection.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"spotgridbot/pkg/types"
)

// ErrUnknownSchema is returned when no adapter factory matches the
// configured schema name.
var ErrUnknownSchema = errors.New("unknown adapter schema")

// Settings holds one session's venue configuration. Secrets arrive via the
// config layer; nothing here is mutated after construction.
type Settings struct {
	Name               string // session name, e.g. "okx-ord"
	Schema             string // adapter schema: "okx", "coinbase"
	BaseURL            string
	APIKey             string
	SecretKey          string
	Passphrase         string // venues that require it (OKX)
	OrdersEndpoint     string // order placement/query path
	CancelEndpoint     string // cancel path; empty = OrdersEndpoint
	SystemTimeEndpoint string // venue clock endpoint; empty = no skew sync
	RecvWindowMs       int64  // request validity window (query-signing venues)
	SimulatedTrading   bool   // demo-account flag forwarded as a header
	TdMode             string // OKX trade mode: "cash", "cross", "isolated"

	// OrderMonitoringInterval drives the transaction monitor; zero disables
	// order polling for this session.
	OrderMonitoringInterval time.Duration
}

// Adapter is the uniform order-lifecycle contract across venues.
//
// The three lifecycle calls return the venue response JSON verbatim so the
// caller can both log it and feed it to TranslateOrderResult. Price equal to
// zero marks an effectively-market order regardless of the declared type.
type Adapter interface {
	// Name returns the session name this adapter serves.
	Name() string

	// PlaceOrder serialises, signs and sends a new order.
	PlaceOrder(ctx context.Context, pair types.CurrencyPair, side types.Side, ordType types.OrderType,
		tif types.TimeInForce, price, qty float64, clOrdID string) (string, error)

	// QueryOrder reads current order state. Idempotent.
	QueryOrder(ctx context.Context, pair types.CurrencyPair, orderID, clOrdID string) (string, error)

	// CancelOrder cancels by id. Cancelling an already-terminal order
	// returns the terminal state without error.
	CancelOrder(ctx context.Context, pair types.CurrencyPair, orderID, clOrdID string) (string, error)

	// TranslateOrderResult maps a venue response into canonical execution
	// reports. A response carrying a non-zero error code yields exactly one
	// report with status Rejected and the code in Text. Never returns nil.
	TranslateOrderResult(json string) []types.ExecutionReport
}

// RequestSpec is the immutable description of one signed HTTP call. Venue
// code builds the record (including signature headers); the Client executes
// it. The body is passed byte-identical to the signer and the wire.
type RequestSpec struct {
	Method     string
	Path       string // path plus query string, exactly as signed
	Headers    map[string]string
	Body       string
	Category   Category // rate-limit bucket
	Idempotent bool     // retried once on transport failure
}

// Factory builds an adapter for one session.
type Factory func(settings Settings, logger *slog.Logger) (Adapter, error)

// Registry maps schema names to adapter factories.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns a registry pre-loaded with the built-in venue schemas.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register(SchemaOKX, NewOKX)
	r.Register(SchemaCoinbase, NewCoinbase)
	return r
}

// Register adds a factory under a schema name, replacing any existing one.
func (r *Registry) Register(schema string, f Factory) {
	r.factories[schema] = f
}

// Build constructs an adapter for the settings' schema.
func (r *Registry) Build(settings Settings, logger *slog.Logger) (Adapter, error) {
	f, ok := r.factories[settings.Schema]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSchema, settings.Schema)
	}
	return f(settings, logger)
}

// Schemas returns the registered schema names, sorted.
func (r *Registry) Schemas() []string {
	out := make([]string, 0, len(r.factories))
	for s := range r.factories {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// ConnectionManager owns the per-session adapters built from the settings
// collection and designates which session carries order flow.
type ConnectionManager struct {
	registry *Registry
	sessions map[int64]Adapter
	ordKey   int64
	logger   *slog.Logger
}

// NewConnectionManager builds an adapter per settings entry. The session
// with the lowest id becomes the order connection.
func NewConnectionManager(registry *Registry, collection map[int64]Settings, logger *slog.Logger) (*ConnectionManager, error) {
	cm := &ConnectionManager{
		registry: registry,
		sessions: make(map[int64]Adapter),
		ordKey:   -1,
		logger:   logger.With("component", "connmgr"),
	}

	ids := make([]int64, 0, len(collection))
	for id := range collection {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		settings := collection[id]
		adapter, err := registry.Build(settings, logger)
		if err != nil {
			return nil, fmt.Errorf("session %d (%s): %w", id, settings.Name, err)
		}
		cm.sessions[id] = adapter
		if cm.ordKey < 0 {
			cm.ordKey = id
		}
		cm.logger.Info("session created", "id", id, "name", settings.Name, "schema", settings.Schema)
	}

	if cm.ordKey < 0 {
		return nil, errors.New("no sessions configured")
	}
	return cm, nil
}

// OrderConnection returns the adapter carrying order flow.
func (cm *ConnectionManager) OrderConnection() Adapter {
	return cm.sessions[cm.ordKey]
}

// Session returns the adapter for a session id, or nil.
func (cm *ConnectionManager) Session(id int64) Adapter {
	return cm.sessions[id]
}

// FormatAtPrecision renders a value with at most prec decimal places, the
// way venue wire formats expect quantities and prices.
func FormatAtPrecision(v float64, prec int32) string {
	return decimal.NewFromFloat(v).Round(prec).String()
}

// parseDecimal reads a venue numeric string defensively: empty or malformed
// input yields zero rather than an error, per the translation contract.
func parseDecimal(s string) float64 {
	if s == "" {
		return 0
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	f, _ := d.Float64()
	return f
}
