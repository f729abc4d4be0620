// Package venue defines the adapter surface every prediction-market venue
// implements (§4.1), plus the small set of helpers shared across concrete
// adapters: retry/backoff, price/time normalization, and the venue-anonymous
// sentinel rule.
//
// Grounded on clients/polymarketapi.PolymarketApiClient's constructor shape
// (zap.Logger + *http.Client with a 30s timeout) and clients/notifier's
// interface-first style.
package venue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"go.uber.org/multierr"

	"whalewatch/internal/trade"
)

// Error kinds surfaced by adapters (§7). Wrapped with fmt.Errorf("%w", ...)
// so callers can errors.Is against them.
var (
	// ErrAdapterTransient marks a retryable failure (timeout, 5xx, connection
	// reset). The ingestion controller may retry or fall back to polling.
	ErrAdapterTransient = errors.New("venue: transient adapter error")

	// ErrAdapterProtocol marks a non-retryable response shape mismatch
	// (malformed JSON, unexpected schema).
	ErrAdapterProtocol = errors.New("venue: adapter protocol error")

	// ErrStreamDisconnect marks a streaming connection that dropped and
	// needs reconnection rather than a one-shot retry.
	ErrStreamDisconnect = errors.New("venue: stream disconnected")
)

// Adapter is the venue-agnostic surface the ingestion controller drives.
// Each venue (Polymarket, Kalshi) implements this; StreamTrades is optional
// and discovered via a Streamer type assertion rather than being part of
// this interface, since not every venue exposes a push channel.
type Adapter interface {
	// Name identifies the venue for logging and Trade.Venue tagging.
	Name() string

	// ListActiveMarkets returns currently tradable markets, newest/most
	// relevant first. limit bounds the page size; 0 means adapter default.
	ListActiveMarkets(ctx context.Context, limit int) ([]trade.Market, error)

	// RecentTrades returns trades for the given market IDs that occurred at
	// or after since. Used by the polling fallback and by the secondary
	// whale-only fetch where a venue supports server-side filtering.
	RecentTrades(ctx context.Context, marketIDs []string, since time.Time) ([]trade.Trade, error)

	// SupportsTraderIdentity reports whether this venue's trades carry a
	// real per-trader identifier rather than an anonymous sentinel
	// (design note §9: capability flag, not string-prefix sniffing).
	SupportsTraderIdentity() bool
}

// Streamer is implemented by adapters that expose a live push feed.
// Callers type-assert an Adapter to Streamer before attempting to stream.
type Streamer interface {
	// StreamTrades connects (or reuses an existing connection) and returns
	// a channel of trades plus a channel of terminal/transient errors. Both
	// channels close when ctx is canceled or the stream cannot continue.
	StreamTrades(ctx context.Context, marketIDs []string) (<-chan trade.Trade, <-chan error)
}

// RetryConfig bounds the exponential backoff used by Retry.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryConfig mirrors the teacher's reconnect cadence in
// internal/app/runner.go's attemptReconnect (flat 5s) generalized into a
// capped exponential series for one-shot HTTP calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 4, BaseDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second}
}

// Retry runs fn up to cfg.MaxAttempts times, sleeping an exponentially
// growing, jittered delay between attempts, stopping early on ctx
// cancellation or a non-transient error. It does not itself classify
// errors as transient; callers wrap fn to return ErrAdapterTransient when a
// retry is worthwhile and any other error otherwise.
func Retry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(cfg, attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !errors.Is(lastErr, ErrAdapterTransient) {
			return lastErr
		}
	}
	return fmt.Errorf("venue: retry exhausted after %d attempts: %w", cfg.MaxAttempts, lastErr)
}

func backoffDelay(cfg RetryConfig, attempt int) time.Duration {
	raw := float64(cfg.BaseDelay) * math.Pow(2, float64(attempt-1))
	capped := math.Min(raw, float64(cfg.MaxDelay))
	jitter := 0.85 + 0.3*rand.Float64()
	return time.Duration(capped * jitter)
}

// ClampPrice constrains a reported probability into [0, 1]; venues
// occasionally report 1.0000001-style rounding artifacts on resolved
// markets.
func ClampPrice(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// TimeFromUnixMillis converts a venue epoch-millis timestamp (Polymarket's
// convention) to time.Time.
func TimeFromUnixMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}

// TimeFromUnixSeconds converts a venue epoch-seconds timestamp to
// time.Time.
func TimeFromUnixSeconds(s int64) time.Time {
	return time.Unix(s, 0)
}

// FormTradeID derives a globally-unique trade id by prefixing the venue name
// onto parts drawn from fields stable across every source a venue can
// deliver the same trade from (§3: "formed by prefixing the venue-native
// id"). Callers must pass fields present on both the streaming and polling
// paths for a given venue, so the same real-world trade produces the same
// id regardless of which path observed it first — that equality is what
// lets the ingestion controller's dedup set collapse both deliveries into
// one (§4.1, testable property #1).
func FormTradeID(venueName string, parts ...string) string {
	return venueName + ":" + strings.Join(parts, ":")
}

// DecodeBatch parses each element of a JSON array independently via
// parseOne, skipping elements that fail to parse rather than discarding the
// whole batch (§4.1, §7: "skip malformed items, don't abort batch"). Every
// skip's error is aggregated with multierr.Append and returned alongside the
// successfully parsed items, so the caller can log one combined warning per
// batch instead of one line per bad item.
func DecodeBatch[T any](items []json.RawMessage, parseOne func(json.RawMessage) (T, error)) ([]T, error) {
	out := make([]T, 0, len(items))
	var errs error
	for _, item := range items {
		v, err := parseOne(item)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		out = append(out, v)
	}
	return out, errs
}

// AnonymousTraderID is the sentinel Trade.TraderID for venues whose
// SupportsTraderIdentity is false. Using one fixed sentinel per venue
// (rather than leaving TraderID empty) keeps the wallet store and detector
// battery's anonymous-gating check (§9, testable property #9) a single
// equality test.
func AnonymousTraderID(venueName string) string {
	return "ANON:" + venueName
}
