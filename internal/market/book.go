// Package market provides the local market-data mirror.
//
// Book keeps the latest top-of-book ticker per pair, updated from the
// WebSocket feed (live) or straight from the matching engine (mock). The
// strategy only ever needs one derived value from it: the mid price that
// centres the initial grid.
package market

import (
	"sync"
	"time"

	"spotgridbot/pkg/types"
)

// Book maintains the last known ticker for each tracked pair.
// Concurrency-safe via RWMutex.
type Book struct {
	mu      sync.RWMutex
	tickers map[string]types.Ticker // keyed by canonical pair string
	updated map[string]time.Time
}

// NewBook creates an empty ticker book.
func NewBook() *Book {
	return &Book{
		tickers: make(map[string]types.Ticker),
		updated: make(map[string]time.Time),
	}
}

// ApplyTicker replaces the stored ticker for a pair.
func (b *Book) ApplyTicker(pair types.CurrencyPair, tk types.Ticker) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tickers[pair.String()] = tk
	b.updated[pair.String()] = time.Now()
}

// Ticker returns the last ticker for a pair.
func (b *Book) Ticker(pair types.CurrencyPair) (types.Ticker, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	tk, ok := b.tickers[pair.String()]
	return tk, ok
}

// MidPrice returns the bid/ask midpoint for a pair. Returns false until a
// ticker has been seen.
func (b *Book) MidPrice(pair types.CurrencyPair) (float64, bool) {
	tk, ok := b.Ticker(pair)
	if !ok {
		return 0, false
	}
	mid := tk.Mid()
	if mid <= 0 {
		return 0, false
	}
	return mid, true
}

// IsStale reports whether the pair's ticker is older than maxAge.
func (b *Book) IsStale(pair types.CurrencyPair, maxAge time.Duration) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	at, ok := b.updated[pair.String()]
	if !ok {
		return true
	}
	return time.Since(at) > maxAge
}

// LastUpdated returns when the pair's ticker last changed.
func (b *Book) LastUpdated(pair types.CurrencyPair) time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.updated[pair.String()]
}
