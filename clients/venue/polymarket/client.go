// Package polymarket adapts Polymarket's Gamma (market metadata) and Data
// (trades/activity) APIs to the venue.Adapter interface.
//
// Grounded on clients/polymarketapi.PolymarketApiClient: same
// zap.Logger+*http.Client(30s) constructor shape, same doGet/json-decode
// helper, same best-effort GammaMarket.GetOutcomes/GetOutcomePrices/
// GetTokenIDs parsing (Gamma encodes these as either a JSON array or a
// JSON-string-containing-an-array, depending on endpoint).
package polymarket

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
	"whalewatch/internal/support"
	"whalewatch/internal/trade"
)

const venueName = "polymarket"

// Options configures a Client. Zero-value fields fall back to Polymarket's
// public endpoints.
type Options struct {
	GammaBaseURL string
	DataBaseURL  string
}

func (o Options) withDefaults() Options {
	if o.GammaBaseURL == "" {
		o.GammaBaseURL = "https://gamma-api.polymarket.com"
	}
	if o.DataBaseURL == "" {
		o.DataBaseURL = "https://data-api.polymarket.com"
	}
	return o
}

// Client is the HTTP-only half of the Polymarket adapter (ListActiveMarkets,
// RecentTrades). Streaming lives in stream.go, where StreamTrades is defined
// directly on *Client, so a Client also satisfies venue.Streamer.
type Client struct {
	logger       *zap.Logger
	httpClient   *http.Client
	gammaBaseURL string
	dataBaseURL  string
}

// NewClient builds a Polymarket adapter. A nil logger falls back to
// zap.NewNop(), the teacher's constructor convention applied uniformly.
func NewClient(logger *zap.Logger, opts Options) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.withDefaults()
	return &Client{
		logger:       logger,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		gammaBaseURL: opts.GammaBaseURL,
		dataBaseURL:  opts.DataBaseURL,
	}
}

func (c *Client) Name() string { return venueName }

func (c *Client) SupportsTraderIdentity() bool { return true }

// gammaMarket mirrors polymarketapi.GammaMarket's best-effort JSON shape:
// Gamma encodes Outcomes/OutcomePrices/ClobTokenIDs inconsistently as either
// a direct array or a JSON string wrapping one.
type gammaMarket struct {
	ID            string          `json:"id"`
	ConditionID   string          `json:"conditionId"`
	Slug          string          `json:"slug"`
	Question      string          `json:"question"`
	Outcomes      json.RawMessage `json:"outcomes"`
	OutcomePrices json.RawMessage `json:"outcomePrices"`
	Volume24hr    float64         `json:"volume24hr"`
	VolumeNum     float64         `json:"volumeNum"`
	Active        bool            `json:"active"`
	Closed        bool            `json:"closed"`
	EndDate       string          `json:"endDate"`
}

// parseStringArray delegates to support.ParseMaybeJSONStringArray, which
// handles Gamma's direct-array-vs-string-wrapped-array inconsistency; a
// parse failure is treated as "no outcomes yet" rather than an adapter
// error (§4.1: malformed items are skipped, not fatal).
func parseStringArray(raw json.RawMessage) []string {
	arr, err := support.ParseMaybeJSONStringArray(raw)
	if err != nil {
		return nil
	}
	return arr
}

func parseFloatArray(raw json.RawMessage) []float64 {
	if len(raw) == 0 {
		return nil
	}
	var direct []float64
	if err := json.Unmarshal(raw, &direct); err == nil {
		return direct
	}
	var strs []string
	if err := json.Unmarshal(raw, &strs); err == nil {
		out := make([]float64, len(strs))
		for i, s := range strs {
			fmt.Sscanf(s, "%f", &out[i])
		}
		return out
	}
	var wrapped string
	if err := json.Unmarshal(raw, &wrapped); err == nil {
		var nested []float64
		if err := json.Unmarshal([]byte(wrapped), &nested); err == nil {
			return nested
		}
	}
	return nil
}

// parseGammaMarket unmarshals one Gamma market element for use with
// venue.DecodeBatch, so a single malformed market in a /markets response
// doesn't fail the rest of the page (§4.1).
func parseGammaMarket(raw json.RawMessage) (trade.Market, error) {
	var g gammaMarket
	if err := json.Unmarshal(raw, &g); err != nil {
		return trade.Market{}, fmt.Errorf("decode gamma market: %w", err)
	}
	return g.toTrade(), nil
}

func (g gammaMarket) toTrade() trade.Market {
	outcomes := parseStringArray(g.Outcomes)
	prices := parseFloatArray(g.OutcomePrices)
	outcomePrices := make(map[string]float64, len(outcomes))
	for i, o := range outcomes {
		if i < len(prices) {
			outcomePrices[o] = venue.ClampPrice(prices[i])
		}
	}

	id := g.ConditionID
	if id == "" {
		id = g.ID
	}

	endTime, _ := time.Parse(time.RFC3339, g.EndDate)
	volume := g.Volume24hr
	if volume == 0 {
		volume = g.VolumeNum
	}

	return trade.Market{
		ID:            id,
		Venue:         venueName,
		Question:      g.Question,
		Slug:          g.Slug,
		OutcomePrices: outcomePrices,
		Volume:        volume,
		EndTime:       endTime,
		Active:        g.Active && !g.Closed,
		URL:           "https://polymarket.com/event/" + g.Slug,
		UpdatedAt:     time.Now(),
	}
}

// ListActiveMarkets fetches the Gamma API's active markets ordered by
// volume, matching the teacher's GetTopMarketsByVolumeFiltered query shape.
func (c *Client) ListActiveMarkets(ctx context.Context, limit int) ([]trade.Market, error) {
	u, err := url.Parse(c.gammaBaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid gamma base url: %w", err)
	}
	u.Path = "/markets"
	q := u.Query()
	q.Set("active", "true")
	q.Set("closed", "false")
	q.Set("order", "volume24hr")
	q.Set("ascending", "false")
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	u.RawQuery = q.Encode()

	var raw []json.RawMessage
	if err := c.doGet(ctx, u.String(), &raw); err != nil {
		return nil, err
	}

	markets, errs := venue.DecodeBatch(raw, parseGammaMarket)
	if errs != nil {
		c.logger.Warn("polymarket: skipped malformed markets", zap.Error(errs))
	}
	return markets, nil
}

type dataTrade struct {
	ProxyWallet     string  `json:"proxyWallet"`
	Side            string  `json:"side"`
	Size            float64 `json:"size"`
	Price           float64 `json:"price"`
	Timestamp       int64   `json:"timestamp"`
	ConditionID     string  `json:"conditionId"`
	TransactionHash string  `json:"transactionHash"`
	Outcome         string  `json:"outcome"`
}

// parseDataTrade unmarshals one Data API trade element for use with
// venue.DecodeBatch (§4.1).
func parseDataTrade(raw json.RawMessage) (trade.Trade, error) {
	var d dataTrade
	if err := json.Unmarshal(raw, &d); err != nil {
		return trade.Trade{}, fmt.Errorf("decode data trade: %w", err)
	}
	return d.toTrade(), nil
}

func (d dataTrade) toTrade() trade.Trade {
	side := trade.SideBuy
	if strings.EqualFold(d.Side, "SELL") {
		side = trade.SideSell
	}

	traderID := strings.ToLower(strings.TrimSpace(d.ProxyWallet))
	anonymous := traderID == ""
	if anonymous {
		traderID = venue.AnonymousTraderID(venueName)
	}

	price := venue.ClampPrice(d.Price)
	return trade.Trade{
		ID:        venue.FormTradeID(venueName, d.TransactionHash, d.Outcome),
		Venue:     venueName,
		MarketID:  d.ConditionID,
		TraderID:  traderID,
		Outcome:   d.Outcome,
		Side:      side,
		Size:      d.Size,
		Price:     price,
		AmountUSD: d.Size * price,
		Timestamp: venue.TimeFromUnixMillis(d.Timestamp),
		TxHash:    d.TransactionHash,
		Anonymous: anonymous,
	}
}

// RecentTrades fetches trades for the given condition IDs via the Data
// API's /trades endpoint, matching the teacher's GetTrades.
func (c *Client) RecentTrades(ctx context.Context, marketIDs []string, since time.Time) ([]trade.Trade, error) {
	u, err := url.Parse(c.dataBaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid data base url: %w", err)
	}
	u.Path = "/trades"
	q := u.Query()
	if len(marketIDs) > 0 {
		q.Set("market", strings.Join(marketIDs, ","))
	}
	q.Set("limit", "500")
	u.RawQuery = q.Encode()

	var raw []json.RawMessage
	if err := c.doGet(ctx, u.String(), &raw); err != nil {
		return nil, err
	}

	parsed, errs := venue.DecodeBatch(raw, parseDataTrade)
	if errs != nil {
		c.logger.Warn("polymarket: skipped malformed trades", zap.Error(errs))
	}

	trades := make([]trade.Trade, 0, len(parsed))
	for _, t := range parsed {
		if t.Timestamp.Before(since) {
			continue
		}
		trades = append(trades, t)
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
