package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"

	"nhooyr.io/websocket"

	"github.com/omerros/trackfolio/internal/domain"
)

// Alpaca stream wire shapes. Every frame is a JSON array of messages.
type streamMessage struct {
	Type    string  `json:"T"`
	Message string  `json:"msg,omitempty"`
	Symbol  string  `json:"S,omitempty"`
	Price   float64 `json:"p,omitempty"`
}

type authRequest struct {
	Action string `json:"action"`
	Key    string `json:"key"`
	Secret string `json:"secret"`
}

type subscribeRequest struct {
	Action string   `json:"action"`
	Trades []string `json:"trades"`
}

// Connect dials the stream, authenticates, and starts the read loop.
// The state walks Disconnected -> Connecting -> Connected -> Authenticating
// and reaches Authenticated when the server confirms the credentials.
// On any socket error or close the client falls back to Disconnected and
// stays there until the caller invokes Connect again.
func (c *Client) Connect(ctx context.Context) error {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return fmt.Errorf("pricefeed: no API credentials configured")
	}

	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return fmt.Errorf("pricefeed: already %s", c.state)
	}
	c.state = StateConnecting
	c.mu.Unlock()

	dialCtx, dialCancel := context.WithTimeout(ctx, dialTimeout)
	defer dialCancel()

	conn, _, err := websocket.Dial(dialCtx, c.cfg.StreamURL, nil)
	if err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("failed to dial price stream: %w", err)
	}

	// Long-lived context for the connection, cancelled on disconnect to
	// unblock pending reads.
	connCtx, connCancel := context.WithCancel(context.Background())

	c.mu.Lock()
	c.conn = conn
	c.connCtx = connCtx
	c.cancelFunc = connCancel
	c.state = StateConnected
	c.mu.Unlock()

	c.log.Info().Str("url", c.cfg.StreamURL).Msg("Connected to price stream")

	if err := c.authenticate(connCtx, conn); err != nil {
		c.teardown()
		return err
	}

	go c.readLoop(connCtx, conn)
	return nil
}

// Disconnect closes the stream and resets to Disconnected. Subscriptions
// are cleared: a new session starts from an empty subscription set.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	cancel := c.cancelFunc
	c.conn = nil
	c.connCtx = nil
	c.cancelFunc = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	c.cacheMu.Lock()
	c.subscribed = make(map[string]struct{})
	c.cacheMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn == nil {
		return nil
	}

	c.log.Info().Msg("Disconnecting from price stream")
	if err := conn.Close(websocket.StatusNormalClosure, ""); err != nil {
		return fmt.Errorf("error closing price stream: %w", err)
	}
	return nil
}

// authenticate sends the credentials and flips the state to Authenticating.
// The authenticated confirmation arrives as a stream message and is handled
// in the read loop.
func (c *Client) authenticate(ctx context.Context, conn *websocket.Conn) error {
	c.setState(StateAuthenticating)
	c.log.Info().Msg("Authenticating with price stream")

	err := c.writeJSON(ctx, conn, authRequest{
		Action: "auth",
		Key:    c.cfg.APIKey,
		Secret: c.cfg.APISecret,
	})
	if err != nil {
		return fmt.Errorf("failed to send auth request: %w", err)
	}
	return nil
}

// readLoop consumes stream frames until the socket errors, closes, or the
// connection context is cancelled. It never reconnects by itself.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer func() {
		c.log.Info().Msg("Price stream read loop stopped")
		c.teardown()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgType, data, err := conn.Read(ctx)
		if err != nil {
			closeStatus := websocket.CloseStatus(err)
			if closeStatus == websocket.StatusNormalClosure || closeStatus == websocket.StatusGoingAway {
				c.log.Info().Int("status", int(closeStatus)).Msg("Price stream closed normally")
			} else if ctx.Err() != nil {
				c.log.Debug().Msg("Price stream read cancelled")
			} else {
				c.log.Error().Err(err).Msg("Price stream read error")
			}
			return
		}

		if msgType != websocket.MessageText {
			continue
		}

		if err := c.handleFrame(data); err != nil {
			c.log.Error().Err(err).Str("frame", string(data)).Msg("Failed to handle stream frame")
			// Keep reading despite parse errors.
		}
	}
}

// handleFrame parses one frame and applies each message to the state
// machine or the price cache.
func (c *Client) handleFrame(data []byte) error {
	var messages []streamMessage
	if err := json.Unmarshal(data, &messages); err != nil {
		// Some control messages arrive as a single object.
		var single streamMessage
		if err2 := json.Unmarshal(data, &single); err2 != nil {
			return fmt.Errorf("failed to parse stream frame: %w", err)
		}
		messages = []streamMessage{single}
	}

	for _, msg := range messages {
		switch {
		case msg.Type == "success" && msg.Message == "authenticated":
			c.setState(StateAuthenticated)
			c.log.Info().Msg("Price stream authenticated")

		case msg.Type == "error":
			c.log.Error().Str("msg", msg.Message).Msg("Price stream error message")

		case msg.Symbol != "" && msg.Price > 0:
			// Trade update. Last write wins; no ordering validation.
			c.setPrice(msg.Symbol, domain.MoneyFromFloat(msg.Price).Round2())
			c.log.Debug().
				Str("symbol", msg.Symbol).
				Float64("price", msg.Price).
				Msg("Price updated from stream")
		}
	}
	return nil
}

// teardown resets to Disconnected after a socket failure.
func (c *Client) teardown() {
	c.mu.Lock()
	conn := c.conn
	cancel := c.cancelFunc
	c.conn = nil
	c.connCtx = nil
	c.cancelFunc = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	c.cacheMu.Lock()
	c.subscribed = make(map[string]struct{})
	c.cacheMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}
}

func (c *Client) writeJSON(ctx context.Context, conn *websocket.Conn, v interface{}) error {
	if ctx == nil {
		ctx = context.Background()
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal stream request: %w", err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()

	return conn.Write(writeCtx, websocket.MessageText, data)
}
