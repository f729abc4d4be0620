// Package marketstore holds the Market Metadata Cache and Market Stats
// Store (§4.2, §4.4): market bookkeeping separate from wallet bookkeeping
// so the detector battery can read both independently.
package marketstore

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"whalewatch/internal/trade"
)

// categoryKeywords is the keyword table used by InferCategory, checked in
// table order so earlier entries win ties (e.g. "election" before "world").
var categoryKeywords = []struct {
	category trade.Category
	keywords []string
}{
	{trade.CategoryCrypto, []string{"bitcoin", "btc", "ethereum", "eth", "crypto", "solana", "sol ", "token", "coin"}},
	{trade.CategorySports, []string{"nba", "nfl", "mlb", "nhl", "soccer", "football", "basketball", "tennis", "ufc", "world cup", "olympics"}},
	{trade.CategoryPolitics, []string{"election", "president", "senate", "congress", "governor", "vote", "primary", "impeach"}},
	{trade.CategoryFinance, []string{"fed", "rate cut", "inflation", "gdp", "recession", "interest rate", "stock", "s&p"}},
	{trade.CategoryEntertainment, []string{"oscar", "grammy", "movie", "album", "celebrity", "box office"}},
	{trade.CategoryScience, []string{"nasa", "spacex", "vaccine", "climate", "research", "discovery"}},
	{trade.CategoryWorld, []string{"war", "treaty", "invasion", "ceasefire", "united nations", "sanctions"}},
}

// tickerPrefixes maps a venue ticker prefix to a category, the fallback
// used when keyword matching against the question text misses (e.g. Kalshi
// series tickers like KXNBA-...).
var tickerPrefixes = map[string]trade.Category{
	"KXNBA":  trade.CategorySports,
	"KXNFL":  trade.CategorySports,
	"KXMLB":  trade.CategorySports,
	"KXNHL":  trade.CategorySports,
	"KXBTC":  trade.CategoryCrypto,
	"KXETH":  trade.CategoryCrypto,
	"KXFED":  trade.CategoryFinance,
	"KXPRES": trade.CategoryPolitics,
}

// highFrequencyPatterns matches slugs/questions belonging to short-horizon
// repeating markets (e.g. 15-minute BTC up/down). The ingestion controller
// skips the whole detector battery for these markets; sports markets are
// skipped only when ExcludeSports is set.
var highFrequencyPatterns = []string{
	"up-or-down", "updown", "15-minute", "15min", "hourly", "5-minute", "5min",
}

// InferCategory classifies a market by keyword match against question/slug
// text, falling back to ticker-prefix heuristics (§4.2).
func InferCategory(question, slug, ticker string) trade.Category {
	haystack := strings.ToLower(question + " " + slug)
	for _, entry := range categoryKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(haystack, kw) {
				return entry.category
			}
		}
	}

	upperTicker := strings.ToUpper(ticker)
	for prefix, cat := range tickerPrefixes {
		if strings.HasPrefix(upperTicker, prefix) {
			return cat
		}
	}

	return trade.CategoryOther
}

// isHighFrequency reports whether a market's slug/question matches a known
// high-frequency repeating-market pattern.
func isHighFrequency(question, slug string) bool {
	haystack := strings.ToLower(question + " " + slug)
	for _, p := range highFrequencyPatterns {
		if strings.Contains(haystack, p) {
			return true
		}
	}
	return false
}

// Cache is the Market Metadata Cache: an in-memory, market_id-keyed store
// of market records with sticky category/sports/high-frequency
// classification.
type Cache struct {
	logger *zap.Logger

	mu      sync.RWMutex
	markets map[string]*trade.Market
}

// New creates a Market Metadata Cache.
func New(logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{logger: logger, markets: make(map[string]*trade.Market)}
}

// Get returns the cached market, or nil if unknown.
func (c *Cache) Get(marketID string) *trade.Market {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.markets[marketID]
}

// MarketQuestion implements notifier.MarketQuestionsProvider: the narrow
// seam the ingestion controller uses to enrich an alert with display text
// without depending on this package's concrete type.
func (c *Cache) MarketQuestion(marketID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.markets[marketID]
	if !ok {
		return "", false
	}
	return m.Question, true
}

// Count returns the number of cached markets.
func (c *Cache) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.markets)
}

// IDs returns the market_id of every cached market, used to seed a
// Streamer's initial subscription list.
func (c *Cache) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.markets))
	for id := range c.markets {
		ids = append(ids, id)
	}
	return ids
}

// Upsert inserts or updates a market record. Category, IsSports, and
// IsHighFrequency are computed once on first insert and kept sticky across
// subsequent updates (§4.2: "inferred category is sticky for a given
// market_id for the session"), even if the question text is edited by a
// later refresh.
func (c *Cache) Upsert(m trade.Market) *trade.Market {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, ok := c.markets[m.ID]
	if !ok {
		m.Category = InferCategory(m.Question, m.Slug, tickerFromSlug(m.Slug))
		m.IsSports = m.Category == trade.CategorySports
		m.IsHighFrequency = isHighFrequency(m.Question, m.Slug)
		m.UpdatedAt = time.Now()
		cp := m
		c.markets[m.ID] = &cp
		return &cp
	}

	m.Category = existing.Category
	m.IsSports = existing.IsSports
	m.IsHighFrequency = existing.IsHighFrequency
	m.UpdatedAt = time.Now()
	cp := m
	c.markets[m.ID] = &cp
	return &cp
}

func tickerFromSlug(slug string) string {
	parts := strings.SplitN(slug, "-", 2)
	return parts[0]
}

// RefreshBatch upserts up to 200 markets per venue per call (§4.2 refresh
// cap), returning the number of markets written.
func (c *Cache) RefreshBatch(markets []trade.Market) int {
	const maxPerRefresh = 200
	if len(markets) > maxPerRefresh {
		markets = markets[:maxPerRefresh]
	}
	for _, m := range markets {
		c.Upsert(m)
	}
	return len(markets)
}
