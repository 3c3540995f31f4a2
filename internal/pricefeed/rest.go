package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/omerros/trackfolio/internal/domain"
)

// latestQuoteResponse is the shape of the Alpaca latest-quotes endpoint:
// {"quotes": {"AAPL": {"ap": 123.45, "bp": 123.40, ...}}}
type latestQuoteResponse struct {
	Quotes map[string]struct {
		AskPrice float64 `json:"ap"`
		BidPrice float64 `json:"bp"`
	} `json:"quotes"`
}

// fetchLatestQuote fetches the latest quote over REST. Used as the cache
// fallback; every failure path collapses into domain.ErrPriceUnavailable so
// callers can distinguish "unknown price" from an actual zero.
func (c *Client) fetchLatestQuote(ctx context.Context, symbol string) (domain.Money, error) {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return domain.Money{}, fmt.Errorf("%w: no API credentials configured", domain.ErrPriceUnavailable)
	}

	endpoint := fmt.Sprintf("%s/v2/stocks/quotes/latest?symbols=%s",
		c.cfg.DataURL, url.QueryEscape(symbol))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.Money{}, fmt.Errorf("%w: %v", domain.ErrPriceUnavailable, err)
	}
	req.Header.Set("APCA-API-KEY-ID", c.cfg.APIKey)
	req.Header.Set("APCA-API-SECRET-KEY", c.cfg.APISecret)

	c.log.Debug().Str("symbol", symbol).Msg("Fetching quote via REST")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn().Err(err).Str("symbol", symbol).Msg("REST quote request failed")
		return domain.Money{}, fmt.Errorf("%w: %v", domain.ErrPriceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.log.Warn().Int("status", resp.StatusCode).Str("symbol", symbol).Msg("REST quote returned non-OK status")
		return domain.Money{}, fmt.Errorf("%w: quote endpoint returned %d", domain.ErrPriceUnavailable, resp.StatusCode)
	}

	var parsed latestQuoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return domain.Money{}, fmt.Errorf("%w: %v", domain.ErrPriceUnavailable, err)
	}

	quote, ok := parsed.Quotes[symbol]
	if !ok || quote.AskPrice <= 0 {
		return domain.Money{}, fmt.Errorf("%w: no quote for %s", domain.ErrPriceUnavailable, symbol)
	}

	price := domain.MoneyFromFloat(quote.AskPrice).Round2()
	c.log.Debug().Str("symbol", symbol).Str("price", price.String()).Msg("Fetched quote via REST")
	return price, nil
}
