// Package pricefeed maintains a live price cache fed by the Alpaca market
// data stream, with an on-demand REST fallback for symbols the stream has
// not quoted yet.
package pricefeed

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/omerros/trackfolio/internal/domain"
)

// State is the connection lifecycle of the streaming feed.
type State string

const (
	StateDisconnected   State = "disconnected"
	StateConnecting     State = "connecting"
	StateConnected      State = "connected"
	StateAuthenticating State = "authenticating"
	StateAuthenticated  State = "authenticated"
)

const (
	writeWait   = 10 * time.Second
	dialTimeout = 30 * time.Second
)

// Config holds feed endpoints and credentials.
type Config struct {
	StreamURL string
	DataURL   string
	APIKey    string
	APISecret string
}

// Client is an explicitly constructed, injectable price feed component.
// It is not a singleton: lifecycle is Connect/Disconnect, and reconnection
// after a dropped socket is the caller's decision (another Connect call);
// there is no background reconnect loop.
type Client struct {
	cfg        Config
	httpClient *http.Client
	log        zerolog.Logger

	mu         sync.RWMutex
	state      State
	conn       *websocket.Conn
	connCtx    context.Context
	cancelFunc context.CancelFunc

	// Price cache and subscription set, guarded separately from the
	// connection state so reads never wait on a dial.
	cacheMu    sync.RWMutex
	prices     map[string]domain.Money
	subscribed map[string]struct{}
}

// NewClient creates a price feed client.
func NewClient(cfg Config, log zerolog.Logger) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		log:        log.With().Str("component", "pricefeed").Logger(),
		state:      StateDisconnected,
		prices:     make(map[string]domain.Money),
		subscribed: make(map[string]struct{}),
	}
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// GetPrice is a synchronous cache lookup only. The second return reports
// whether a quote was present; absence must never be treated as price zero.
func (c *Client) GetPrice(symbol string) (domain.Money, bool) {
	symbol = domain.NormalizeTicker(symbol)

	c.cacheMu.RLock()
	defer c.cacheMu.RUnlock()
	price, ok := c.prices[symbol]
	return price, ok
}

// GetPriceAsync looks up the cache and falls through to a REST quote fetch
// on a miss, populating the cache on success. Returns
// domain.ErrPriceUnavailable when neither source produces a quote.
func (c *Client) GetPriceAsync(ctx context.Context, symbol string) (domain.Money, error) {
	symbol = domain.NormalizeTicker(symbol)

	if price, ok := c.GetPrice(symbol); ok {
		return price, nil
	}

	price, err := c.fetchLatestQuote(ctx, symbol)
	if err != nil {
		return domain.Money{}, err
	}

	c.setPrice(symbol, price)
	return price, nil
}

// Subscribe requests streaming trades for symbols not already subscribed.
// While the session is not authenticated this is a deliberate no-op rather
// than a queue: a backlog of pending subscriptions has no bound, and the
// caller resubscribes on the next portfolio read anyway.
func (c *Client) Subscribe(symbols []string) {
	c.mu.RLock()
	state := c.state
	conn := c.conn
	connCtx := c.connCtx
	c.mu.RUnlock()

	if state != StateAuthenticated || conn == nil {
		c.log.Debug().Strs("symbols", symbols).Msg("Feed not authenticated, skipping subscribe")
		return
	}

	c.cacheMu.Lock()
	newSymbols := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = domain.NormalizeTicker(s)
		if _, ok := c.subscribed[s]; !ok && s != "" {
			c.subscribed[s] = struct{}{}
			newSymbols = append(newSymbols, s)
		}
	}
	c.cacheMu.Unlock()

	if len(newSymbols) == 0 {
		return
	}

	c.log.Info().Strs("symbols", newSymbols).Msg("Subscribing to trade stream")
	if err := c.writeJSON(connCtx, conn, subscribeRequest{Action: "subscribe", Trades: newSymbols}); err != nil {
		c.log.Error().Err(err).Msg("Failed to send subscribe request")
	}
}

// Unsubscribe drops streaming symbols that are no longer in the given keep
// set, so the feed tracks only what the portfolio still holds.
func (c *Client) Unsubscribe(keep []string) {
	c.mu.RLock()
	state := c.state
	conn := c.conn
	connCtx := c.connCtx
	c.mu.RUnlock()

	if state != StateAuthenticated || conn == nil {
		return
	}

	keepSet := make(map[string]struct{}, len(keep))
	for _, s := range keep {
		keepSet[domain.NormalizeTicker(s)] = struct{}{}
	}

	c.cacheMu.Lock()
	drop := make([]string, 0)
	for s := range c.subscribed {
		if _, ok := keepSet[s]; !ok {
			delete(c.subscribed, s)
			drop = append(drop, s)
		}
	}
	c.cacheMu.Unlock()

	if len(drop) == 0 {
		return
	}

	c.log.Info().Strs("symbols", drop).Msg("Unsubscribing from trade stream")
	if err := c.writeJSON(connCtx, conn, subscribeRequest{Action: "unsubscribe", Trades: drop}); err != nil {
		c.log.Error().Err(err).Msg("Failed to send unsubscribe request")
	}
}

// Status describes the feed for diagnostics endpoints.
type Status struct {
	State             State    `json:"state"`
	Connected         bool     `json:"isConnected"`
	Authenticated     bool     `json:"isAuthenticated"`
	SubscribedSymbols []string `json:"subscribedSymbols"`
	PriceCount        int      `json:"pricesCount"`
}

// Status returns a snapshot of connection and cache state.
func (c *Client) Status() Status {
	state := c.State()

	c.cacheMu.RLock()
	symbols := make([]string, 0, len(c.subscribed))
	for s := range c.subscribed {
		symbols = append(symbols, s)
	}
	count := len(c.prices)
	c.cacheMu.RUnlock()

	return Status{
		State:             state,
		Connected:         state == StateConnected || state == StateAuthenticating || state == StateAuthenticated,
		Authenticated:     state == StateAuthenticated,
		SubscribedSymbols: symbols,
		PriceCount:        count,
	}
}

// setPrice stores a quote, last write wins. Stream messages carry no
// sequence numbers, so out-of-order updates are possible and accepted.
func (c *Client) setPrice(symbol string, price domain.Money) {
	c.cacheMu.Lock()
	c.prices[symbol] = price
	c.cacheMu.Unlock()
}

func (c *Client) setState(state State) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}
