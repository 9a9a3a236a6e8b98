// Package order provides the order-management abstraction the strategy
// trades through.
//
// Two implementations exist behind one Manager interface:
//
//   - Live: wraps an exchange adapter, allocating client order ids and
//     folding canonical execution reports back into a local order map.
//   - MockExchange: a deterministic-fuzz in-memory matching engine with
//     partial fills, slippage, fee deduction and balance accounting, used
//     for development and tests.
//
// The strategy never learns which one it is talking to.
package order

import (
	"context"
	"errors"

	"spotgridbot/pkg/types"
)

// Errors shared by both manager implementations.
var (
	// ErrOrderNotFound means the order id is unknown. Callers treat this as
	// soft: the venue may be eventually consistent, retry next tick.
	ErrOrderNotFound = errors.New("order not found")
	// ErrTerminalOrder means a mutation was attempted on an order whose
	// status is already final.
	ErrTerminalOrder = errors.New("order already terminal")
)

// Manager is the order-lifecycle surface the strategy uses.
type Manager interface {
	// PlaceLimitOrder submits a resting limit order and returns its id.
	PlaceLimitOrder(ctx context.Context, pair types.CurrencyPair, side types.Side, price, qty float64) (string, error)

	// CancelOrder cancels a live order. Cancelling a terminal order
	// returns ErrTerminalOrder.
	CancelOrder(ctx context.Context, pair types.CurrencyPair, orderID string) error

	// GetOrder returns the current order state, or ErrOrderNotFound.
	GetOrder(ctx context.Context, pair types.CurrencyPair, orderID string) (types.Order, error)

	// GetBalance returns the free balance of one asset.
	GetBalance(asset types.Currency) float64

	// SetBalances seeds the quote and base balances.
	SetBalances(quote, base float64)

	// DumpBalances logs the current balances.
	DumpBalances()
}
