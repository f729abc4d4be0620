// Package kalshi adapts Kalshi's public markets/trades REST endpoints to
// the venue.Adapter interface. Kalshi never exposes per-trader identity
// (original_source/kalshi_client.py's own note: "Kalshi doesn't expose
// trader identities in their API"), so SupportsTraderIdentity is always
// false and every trade carries the venue-anonymous sentinel.
//
// Structurally grounded on clients/polymarketapi.PolymarketApiClient (same
// zap.Logger+*http.Client(30s) constructor, same doGet-style decode
// helper); price/count fields follow kalshi_client.py's KalshiMarket/
// KalshiTrade shape (prices in integer cents, 1-99).
package kalshi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"whalewatch/clients/venue"
	"whalewatch/internal/trade"
)

const venueName = "kalshi"

const defaultBaseURL = "https://trading-api.kalshi.com/trade-api/v2"

// Options configures a Client.
type Options struct {
	BaseURL string
}

func (o Options) withDefaults() Options {
	if o.BaseURL == "" {
		o.BaseURL = defaultBaseURL
	}
	return o
}

// Client is the Kalshi REST adapter. Kalshi has no public streaming
// channel in this module's scope, so Client implements only venue.Adapter,
// never venue.Streamer; the ingestion controller falls back to polling for
// this venue unconditionally.
type Client struct {
	logger     *zap.Logger
	httpClient *http.Client
	baseURL    string
}

// NewClient builds a Kalshi adapter. A nil logger falls back to
// zap.NewNop().
func NewClient(logger *zap.Logger, opts Options) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.withDefaults()
	return &Client{
		logger:     logger,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    opts.BaseURL,
	}
}

func (c *Client) Name() string { return venueName }

func (c *Client) SupportsTraderIdentity() bool { return false }

type kalshiMarket struct {
	Ticker       string `json:"ticker"`
	Title        string `json:"title"`
	Subtitle     string `json:"subtitle"`
	YesBid       int    `json:"yes_bid"`
	NoBid        int    `json:"no_bid"`
	Volume       float64 `json:"volume"`
	Status       string `json:"status"`
	CloseTime    string `json:"close_time"`
}

// parseKalshiMarket unmarshals one /markets element for use with
// venue.DecodeBatch, so one malformed market doesn't fail the whole page
// (§4.1).
func parseKalshiMarket(raw json.RawMessage) (trade.Market, error) {
	var m kalshiMarket
	if err := json.Unmarshal(raw, &m); err != nil {
		return trade.Market{}, fmt.Errorf("decode kalshi market: %w", err)
	}
	return m.toTrade(), nil
}

func (m kalshiMarket) toTrade() trade.Market {
	closeTime, _ := time.Parse(time.RFC3339, m.CloseTime)
	yesPrice := venue.ClampPrice(float64(m.YesBid) / 100.0)
	noPrice := venue.ClampPrice(float64(m.NoBid) / 100.0)

	question := m.Title
	if m.Subtitle != "" {
		question = m.Title + " " + m.Subtitle
	}

	return trade.Market{
		ID:       m.Ticker,
		Venue:    venueName,
		Question: question,
		Slug:     strings.ToLower(m.Ticker),
		OutcomePrices: map[string]float64{
			"Yes": yesPrice,
			"No":  noPrice,
		},
		Volume:    m.Volume,
		EndTime:   closeTime,
		Active:    m.Status == "open",
		URL:       "https://kalshi.com/markets/" + strings.ToLower(m.Ticker),
		UpdatedAt: time.Now(),
	}
}

// ListActiveMarkets fetches open markets via GET /markets, matching
// kalshi_client.py's get_markets.
func (c *Client) ListActiveMarkets(ctx context.Context, limit int) ([]trade.Market, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	u.Path = u.Path + "/markets"
	q := u.Query()
	q.Set("status", "open")
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	u.RawQuery = q.Encode()

	var body struct {
		Markets []json.RawMessage `json:"markets"`
	}
	if err := c.doGet(ctx, u.String(), &body); err != nil {
		return nil, err
	}

	markets, errs := venue.DecodeBatch(body.Markets, parseKalshiMarket)
	if errs != nil {
		c.logger.Warn("kalshi: skipped malformed markets", zap.Error(errs))
	}
	return markets, nil
}

type kalshiTrade struct {
	TradeID     string `json:"trade_id"`
	Ticker      string `json:"ticker"`
	Side        string `json:"side"`   // "yes" or "no"
	Action      string `json:"action"` // "buy" or "sell"
	Count       int    `json:"count"`
	Price       int    `json:"price"` // integer cents, 1-99
	CreatedTime string `json:"created_time"`
}

// parseKalshiTrade unmarshals one /trades element for use with
// venue.DecodeBatch (§4.1).
func parseKalshiTrade(raw json.RawMessage) (trade.Trade, error) {
	var t kalshiTrade
	if err := json.Unmarshal(raw, &t); err != nil {
		return trade.Trade{}, fmt.Errorf("decode kalshi trade: %w", err)
	}
	return t.toTrade(), nil
}

func (t kalshiTrade) toTrade() trade.Trade {
	side := trade.SideBuy
	if strings.EqualFold(t.Action, "sell") {
		side = trade.SideSell
	}
	ts, _ := time.Parse(time.RFC3339, t.CreatedTime)
	price := venue.ClampPrice(float64(t.Price) / 100.0)
	size := float64(t.Count)

	outcome := "Yes"
	if strings.EqualFold(t.Side, "no") {
		outcome = "No"
	}

	return trade.Trade{
		ID:        venue.FormTradeID(venueName, t.TradeID),
		Venue:     venueName,
		MarketID:  t.Ticker,
		TraderID:  venue.AnonymousTraderID(venueName),
		Outcome:   outcome,
		Side:      side,
		Size:      size,
		Price:     price,
		AmountUSD: size * price,
		Timestamp: ts,
		Anonymous: true,
	}
}

// RecentTrades fetches trades via GET /trades, matching kalshi_client.py's
// get_trades. Kalshi's public endpoint does not support a since cursor
// server-side, so filtering by since happens client-side.
func (c *Client) RecentTrades(ctx context.Context, marketIDs []string, since time.Time) ([]trade.Trade, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	u.Path = u.Path + "/trades"
	q := u.Query()
	q.Set("limit", "500")
	if len(marketIDs) == 1 {
		q.Set("ticker", marketIDs[0])
	}
	u.RawQuery = q.Encode()

	var body struct {
		Trades []json.RawMessage `json:"trades"`
	}
	if err := c.doGet(ctx, u.String(), &body); err != nil {
		return nil, err
	}

	parsed, errs := venue.DecodeBatch(body.Trades, parseKalshiTrade)
	if errs != nil {
		c.logger.Warn("kalshi: skipped malformed trades", zap.Error(errs))
	}

	wanted := make(map[string]struct{}, len(marketIDs))
	for _, id := range marketIDs {
		wanted[id] = struct{}{}
	}

	trades := make([]trade.Trade, 0, len(parsed))
	for _, tr := range parsed {
		if len(wanted) > 0 {
			if _, ok := wanted[tr.MarketID]; !ok {
				continue
			}
		}
		if tr.Timestamp.Before(since) {
			continue
		}
		trades = append(trades, tr)
	}
	return trades, nil
}

func (c *Client) doGet(ctx context.Context, rawURL string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", venue.ErrAdapterTransient, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read body: %v", venue.ErrAdapterTransient, err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		c.logger.Warn("kalshi endpoint requires authentication", zap.String("url", rawURL))
		return fmt.Errorf("%w: status=401", venue.ErrAdapterProtocol)
	}
	if resp.StatusCode/100 == 5 {
		return fmt.Errorf("%w: status=%d", venue.ErrAdapterTransient, resp.StatusCode)
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("%w: status=%d body=%s", venue.ErrAdapterProtocol, resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("%w: decode: %v", venue.ErrAdapterProtocol, err)
	}
	return nil
}
