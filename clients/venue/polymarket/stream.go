package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"whalewatch/clients/venue"
	"whalewatch/internal/trade"
)

const defaultMarketWSURL = "wss://ws-subscriptions-clob.polymarket.com/ws/market"

// wsEvent is the CLOB market-channel trade frame shape, grounded on
// clients/polymarketevents.TradeEvent (price/size/timestamp arrive as
// strings, not numbers).
type wsEvent struct {
	EventType       string `json:"event_type"`
	AssetID         string `json:"asset_id"`
	ConditionID     string `json:"market"`
	Price           string `json:"price"`
	Size            string `json:"size"`
	Side            string `json:"side"`
	MakerAddress    string `json:"maker_address"`
	Timestamp       string `json:"timestamp"`
	TransactionHash string `json:"transaction_hash"`
	Outcome         string `json:"outcome"`
}

func (e wsEvent) toTrade() trade.Trade {
	var price, size float64
	fmt.Sscanf(e.Price, "%f", &price)
	fmt.Sscanf(e.Size, "%f", &size)
	var tsMillis int64
	fmt.Sscanf(e.Timestamp, "%d", &tsMillis)

	side := trade.SideBuy
	if strings.EqualFold(e.Side, "SELL") {
		side = trade.SideSell
	}

	traderID := strings.ToLower(strings.TrimSpace(e.MakerAddress))
	anonymous := traderID == ""
	if anonymous {
		traderID = venue.AnonymousTraderID(venueName)
	}

	price = venue.ClampPrice(price)
	marketID := e.ConditionID
	if marketID == "" {
		marketID = e.AssetID
	}

	return trade.Trade{
		ID:        venue.FormTradeID(venueName, e.TransactionHash, e.Outcome),
		Venue:     venueName,
		MarketID:  marketID,
		TraderID:  traderID,
		Outcome:   e.Outcome,
		Side:      side,
		Size:      size,
		Price:     price,
		AmountUSD: size * price,
		Timestamp: venue.TimeFromUnixMillis(tsMillis),
		TxHash:    e.TransactionHash,
		Anonymous: anonymous,
	}
}

// streamState holds the live WebSocket connection. Kept separate from
// Client's HTTP fields so a Client used purely for polling never pays for
// an unused mutex.
type streamState struct {
	mu       sync.Mutex
	conn     *websocket.Conn
	dialer   *websocket.Dialer
	wsURL    string
	assetIDs []string
}

// StreamTrades implements venue.Streamer: it dials the public CLOB market
// channel, subscribes to the given asset IDs, and forwards parsed trade
// events. Grounded on PolymarketEventsClient.ConnectMarket/readLoop/
// pingLoop, collapsed from a message+error-channel pair plus a separately
// polled Stats() into a single self-contained goroutine per call, since the
// ingestion controller (not this adapter) owns reconnect policy.
func (c *Client) StreamTrades(ctx context.Context, marketIDs []string) (<-chan trade.Trade, <-chan error) {
	tradesCh := make(chan trade.Trade, 1024)
	errCh := make(chan error, 4)

	st := &streamState{dialer: websocket.DefaultDialer, wsURL: defaultMarketWSURL, assetIDs: marketIDs}

	conn, _, err := st.dialer.DialContext(ctx, st.wsURL, nil)
	if err != nil {
		errCh <- fmt.Errorf("%w: dial: %v", venue.ErrStreamDisconnect, err)
		close(tradesCh)
		close(errCh)
		return tradesCh, errCh
	}
	st.conn = conn

	sub := map[string]any{"type": "market", "assets_ids": marketIDs}
	if err := conn.WriteJSON(sub); err != nil {
		_ = conn.Close()
		errCh <- fmt.Errorf("%w: subscribe: %v", venue.ErrStreamDisconnect, err)
		close(tradesCh)
		close(errCh)
		return tradesCh, errCh
	}

	c.logger.Info("polymarket stream subscribed",
		zap.Int("assets", len(marketIDs)))

	go c.pingLoop(ctx, st)
	go c.readLoop(ctx, st, tradesCh, errCh)

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	return tradesCh, errCh
}

func (c *Client) pingLoop(ctx context.Context, st *streamState) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st.mu.Lock()
			conn := st.conn
			st.mu.Unlock()
			if conn != nil {
				_ = conn.WriteMessage(websocket.TextMessage, []byte("PING"))
			}
		}
	}
}

func (c *Client) readLoop(ctx context.Context, st *streamState, tradesCh chan<- trade.Trade, errCh chan<- error) {
	defer close(tradesCh)
	defer close(errCh)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		st.mu.Lock()
		conn := st.conn
		st.mu.Unlock()
		if conn == nil {
			return
		}

		_, b, err := conn.ReadMessage()
		if err != nil {
			select {
			case errCh <- fmt.Errorf("%w: %v", venue.ErrStreamDisconnect, err):
			default:
			}
			return
		}

		if string(b) == "PONG" || string(b) == "PING" {
			continue
		}

		c.emitFrame(b, tradesCh)
	}
}

func (c *Client) emitFrame(b []byte, tradesCh chan<- trade.Trade) {
	trimmed := b
	for len(trimmed) > 0 && (trimmed[0] == ' ' || trimmed[0] == '\n' || trimmed[0] == '\t' || trimmed[0] == '\r') {
		trimmed = trimmed[1:]
	}
	if len(trimmed) == 0 {
		return
	}

	if trimmed[0] == '[' {
		var arr []json.RawMessage
		if err := json.Unmarshal(trimmed, &arr); err != nil {
			c.logger.Warn("polymarket stream: bad batch frame", zap.Error(err))
			return
		}
		// Each element is forwarded independently: one malformed event in a
		// batch frame must not drop the rest of the frame (§4.1, §7).
		var errs error
		for _, one := range arr {
			if err := c.forwardEvent(one, tradesCh); err != nil {
				errs = multierr.Append(errs, err)
			}
		}
		if errs != nil {
			c.logger.Warn("polymarket stream: skipped malformed batch events", zap.Error(errs))
		}
		return
	}
	if err := c.forwardEvent(json.RawMessage(trimmed), tradesCh); err != nil {
		c.logger.Warn("polymarket stream: skipped malformed event", zap.Error(err))
	}
}

func (c *Client) forwardEvent(raw json.RawMessage, tradesCh chan<- trade.Trade) error {
	var ev wsEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return fmt.Errorf("decode trade event: %w", err)
	}
	if ev.EventType != "trade" && ev.EventType != "last_trade_price" {
		return nil
	}
	select {
	case tradesCh <- ev.toTrade():
	default:
		c.logger.Warn("polymarket stream: dropping trade, channel full")
	}
	return nil
}
