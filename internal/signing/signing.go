// Package signing implements request authentication for exchange REST APIs.
//
// Venues sign with HMAC-SHA256 over the session's secret key. JSON-body
// venues (OKX) sign the pre-hash string
//
//	timestamp + method + path(+query) + body
//
// and encode the digest as base64 with an ISO-8601 millisecond timestamp.
// Query-signing venues (coinbase) sign the query string itself, which
// carries an epoch-millisecond timestamp, and encode the digest as
// lowercase hex. Both variants live here so adapters stay free of crypto
// code.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strconv"
	"sync"
	"time"
)

// Prehash concatenates the signature input in canonical order. The body must
// be byte-identical to what is written to the transport.
func Prehash(timestamp, method, path, body string) string {
	return timestamp + method + path + body
}

// SignBase64 returns the standard-base64 HMAC-SHA256 of the pre-hash string.
func SignBase64(secret, prehash string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(prehash))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// SignHex returns the lowercase-hex HMAC-SHA256 of the pre-hash string.
func SignHex(secret, prehash string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(prehash))
	return hex.EncodeToString(mac.Sum(nil))
}

// Clock supplies the current time. The real implementation is time.Now;
// tests inject fixed clocks to pin timestamps.
type Clock func() time.Time

// Timestamper issues monotonically nondecreasing timestamps for request
// signing. Wall clocks can step backwards (NTP); signed timestamps must not,
// or the venue rejects the nonce. An optional offset corrects for skew
// against the venue's own clock.
type Timestamper struct {
	mu     sync.Mutex
	clock  Clock
	last   time.Time
	offset time.Duration
}

// NewTimestamper creates a Timestamper on the given clock. A nil clock uses
// time.Now.
func NewTimestamper(clock Clock) *Timestamper {
	if clock == nil {
		clock = time.Now
	}
	return &Timestamper{clock: clock}
}

// now returns the skew-corrected, monotonically nondecreasing instant.
func (t *Timestamper) now() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := t.clock().Add(t.offset).UTC()
	if n.Before(t.last) {
		n = t.last
	}
	t.last = n
	return n
}

// ISO8601 returns the next timestamp as "2006-01-02T15:04:05.000Z" UTC.
func (t *Timestamper) ISO8601() string {
	return t.now().Format("2006-01-02T15:04:05.000Z")
}

// EpochMillis returns the next timestamp as decimal epoch milliseconds.
func (t *Timestamper) EpochMillis() string {
	return strconv.FormatInt(t.now().UnixMilli(), 10)
}

// SyncOffset records a one-shot skew correction from the venue's reported
// system time (epoch milliseconds). Subsequent timestamps are shifted by the
// observed difference.
func (t *Timestamper) SyncOffset(venueEpochMillis int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.offset = time.UnixMilli(venueEpochMillis).Sub(t.clock())
}
