// feed.go implements the WebSocket market-data feed.
//
// One Feed maintains a single public-channel connection, subscribes to the
// tickers channel for every tracked instrument, and writes each update into
// the Book. It auto-reconnects with exponential backoff (1s up to 30s) and
// re-subscribes on reconnection. A read deadline detects silent server
// failures within about two missed pings.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"spotgridbot/pkg/types"
)

const (
	pingInterval     = 25 * time.Second
	readTimeout      = 60 * time.Second
	maxReconnectWait = 30 * time.Second
	writeTimeout     = 10 * time.Second
)

// wsSubscribeMsg is the subscription request for the public tickers channel.
type wsSubscribeMsg struct {
	Op   string      `json:"op"`
	Args []wsChannel `json:"args"`
}

type wsChannel struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

// wsTickerEvent is one tickers-channel push.
type wsTickerEvent struct {
	Arg  wsChannel `json:"arg"`
	Data []struct {
		InstID string `json:"instId"`
		Last   string `json:"last"`
		BidPx  string `json:"bidPx"`
		AskPx  string `json:"askPx"`
	} `json:"data"`
}

// Feed streams tickers for a set of pairs into a Book.
type Feed struct {
	url    string
	book   *Book
	logger *slog.Logger

	conn   *websocket.Conn
	connMu sync.Mutex

	subscribedMu sync.RWMutex
	subscribed   map[string]types.CurrencyPair // instId -> pair
}

// NewFeed creates a feed writing into book.
func NewFeed(wsURL string, book *Book, logger *slog.Logger) *Feed {
	return &Feed{
		url:        wsURL,
		book:       book,
		logger:     logger.With("component", "mdfeed"),
		subscribed: make(map[string]types.CurrencyPair),
	}
}

// Subscribe tracks a pair. Safe before and after Run starts: when no
// connection exists yet, the initial subscription on connect covers it.
func (f *Feed) Subscribe(pair types.CurrencyPair) {
	instID := string(pair.Base) + "-" + string(pair.Quote)

	f.subscribedMu.Lock()
	f.subscribed[instID] = pair
	f.subscribedMu.Unlock()

	if err := f.writeJSON(wsSubscribeMsg{
		Op:   "subscribe",
		Args: []wsChannel{{Channel: "tickers", InstID: instID}},
	}); err != nil {
		f.logger.Debug("subscribe deferred until connect", "instId", instID)
	}
}

// Run connects and maintains the connection with auto-reconnect.
// Blocks until ctx is cancelled.
func (f *Feed) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("websocket disconnected, reconnecting",
			"error", err,
			"backoff", backoff,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

// Close gracefully closes the connection.
func (f *Feed) Close() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

func (f *Feed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	if err := f.sendInitialSubscription(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	f.logger.Info("websocket connected", "url", f.url)

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go f.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		f.dispatchMessage(msg)
	}
}

func (f *Feed) sendInitialSubscription() error {
	f.subscribedMu.RLock()
	args := make([]wsChannel, 0, len(f.subscribed))
	for instID := range f.subscribed {
		args = append(args, wsChannel{Channel: "tickers", InstID: instID})
	}
	f.subscribedMu.RUnlock()

	if len(args) == 0 {
		return nil
	}
	return f.writeJSON(wsSubscribeMsg{Op: "subscribe", Args: args})
}

func (f *Feed) dispatchMessage(data []byte) {
	var evt wsTickerEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		f.logger.Debug("ignoring non-json ws message", "data", string(data))
		return
	}
	if evt.Arg.Channel != "tickers" || len(evt.Data) == 0 {
		return
	}

	f.subscribedMu.RLock()
	pair, ok := f.subscribed[evt.Arg.InstID]
	f.subscribedMu.RUnlock()
	if !ok {
		return
	}

	d := evt.Data[len(evt.Data)-1]
	tk := types.Ticker{
		Bid:  parsePrice(d.BidPx),
		Ask:  parsePrice(d.AskPx),
		Last: parsePrice(d.Last),
	}
	f.book.ApplyTicker(pair, tk)
}

func (f *Feed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.writeMessage(websocket.TextMessage, []byte("ping")); err != nil {
				f.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (f *Feed) writeJSON(v interface{}) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteJSON(v)
}

func (f *Feed) writeMessage(msgType int, data []byte) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteMessage(msgType, data)
}

func parsePrice(s string) float64 {
	var v float64
	if s == "" {
		return 0
	}
	if _, err := fmt.Sscanf(s, "%f", &v); err != nil {
		return 0
	}
	return v
}
