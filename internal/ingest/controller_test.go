package ingest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whalewatch/clients/notifier"
	"whalewatch/clients/venue"
	"whalewatch/internal/cluster"
	"whalewatch/internal/consolidator"
	"whalewatch/internal/detectors"
	"whalewatch/internal/marketstore"
	"whalewatch/internal/trade"
	"whalewatch/internal/walletstore"
)

func newTestController(t *testing.T, cfg Config) *Controller {
	t.Helper()
	return New(
		nil,
		cfg,
		detectors.DefaultConfig(),
		consolidator.DefaultConfig(),
		nil,
		walletstore.New(nil, walletstore.DefaultConfig()),
		marketstore.New(nil),
		marketstore.NewStatsStore(),
		cluster.New(nil, cluster.DefaultConfig()),
		notifier.NewLogSink(nil),
		notifier.NewMemoryStore(100),
	)
}

func mkTrade(id string, amountUSD float64, at time.Time) trade.Trade {
	return trade.Trade{
		ID:        id,
		Venue:     "polymarket",
		MarketID:  "m1",
		TraderID:  "0xabc",
		Outcome:   "YES",
		Side:      trade.SideBuy,
		Size:      amountUSD,
		Price:     1.0,
		AmountUSD: amountUSD,
		Timestamp: at,
	}
}

func TestController_DedupByTradeID(t *testing.T) {
	c := newTestController(t, DefaultConfig())
	now := time.Now()

	trades := []trade.Trade{
		mkTrade("t1", 100, now),
		mkTrade("t1", 100, now), // duplicate id, e.g. seen via both stream and poll
		mkTrade("t2", 100, now),
		mkTrade("t1", 100, now), // duplicate again
	}

	for _, tr := range trades {
		c.evaluate(context.Background(), tr)
	}

	stats := c.Stats()
	assert.EqualValues(t, 4, stats.TradesObserved)
	assert.EqualValues(t, 2, stats.DedupDropped)
	assert.Equal(t, 2, stats.DedupSetSize)
}

func TestController_TrimDedup_KeepsMostRecent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DedupCapacity = 5
	cfg.DedupTrimTo = 2
	c := newTestController(t, cfg)
	now := time.Now()

	for i := 0; i < 6; i++ {
		c.evaluate(context.Background(), mkTrade(fmt.Sprintf("t%d", i), 10, now))
	}
	require.Equal(t, 6, len(c.dedupOrder))

	c.trimDedup()
	assert.Equal(t, 2, len(c.dedupOrder))
	assert.Equal(t, 2, len(c.dedupSeen))
	assert.Equal(t, "t4", c.dedupOrder[0])
	assert.Equal(t, "t5", c.dedupOrder[1])

	// Previously trimmed ids are observable again as "new".
	assert.True(t, c.dedupAdd("t0"))
}

func TestController_SportsSuppression_NoAlertRegardlessOfAmount(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ExcludeSports = true
	c := newTestController(t, cfg)

	c.markets.Upsert(trade.Market{
		ID:       "sports1",
		Venue:    "polymarket",
		Question: "Will the Lakers win the NBA championship?",
		Slug:     "lakers-nba-championship",
		Active:   true,
	})

	tr := trade.Trade{
		ID:        "s1",
		Venue:     "polymarket",
		MarketID:  "sports1",
		TraderID:  "0xdef",
		Outcome:   "YES",
		Side:      trade.SideBuy,
		Size:      1_000_000,
		Price:     1.0,
		AmountUSD: 1_000_000,
		Timestamp: time.Now(),
	}
	c.evaluate(context.Background(), tr)

	stored, err := c.store.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, stored, "sports-market trades must never alert when exclude_sports is set")
}

func TestController_HighFrequencySuppression_NoAlertRegardlessOfAmount(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ExcludeSports = false
	c := newTestController(t, cfg)

	c.markets.Upsert(trade.Market{
		ID:       "hf1",
		Venue:    "polymarket",
		Question: "Bitcoin up or down in the next 15 minutes?",
		Slug:     "btc-up-or-down-15-minute",
		Active:   true,
	})

	tr := trade.Trade{
		ID:        "h1",
		Venue:     "polymarket",
		MarketID:  "hf1",
		TraderID:  "0xghi",
		Outcome:   "YES",
		Side:      trade.SideBuy,
		Size:      5_000_000,
		Price:     1.0,
		AmountUSD: 5_000_000,
		Timestamp: time.Now(),
	}
	c.evaluate(context.Background(), tr)

	stored, err := c.store.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, stored, "high-frequency markets never alert regardless of amount")
}

func TestController_WhaleTradeAlone_ProducesAlert(t *testing.T) {
	c := newTestController(t, DefaultConfig())
	tr := mkTrade("w1", 50_000, time.Now())
	c.evaluate(context.Background(), tr)

	stored, err := c.store.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Contains(t, stored[0].AlertTypes, trade.AlertWhaleTrade)
}

func TestController_StatisticalAnomalyAlone_NoAlert(t *testing.T) {
	c := newTestController(t, DefaultConfig())
	now := time.Now()

	// A moderately-larger trade against a background of small trades stays
	// under the whale/new-wallet thresholds and below the 100-sample floor
	// UNUSUAL_SIZE requires. The wallet's 20 prior trades in 24h make
	// HEAVY_ACTOR the only trigger, and a lone non-exempt trigger produces
	// no alert.
	for i := 0; i < 20; i++ {
		c.evaluate(context.Background(), mkTrade(fmt.Sprintf("bg%d", i), 100, now))
	}

	c.evaluate(context.Background(), mkTrade("anomaly", 500, now))

	stored, err := c.store.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, stored, "a lone HEAVY_ACTOR trigger must not clear the multi-signal gate")
}

func TestController_ClusterActivity_ThreeWalletsWithinWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ClusterCoordWindow = 2 * time.Minute
	c := newTestController(t, cfg)
	now := time.Now()

	wallets := []string{"walletA", "walletB", "walletC"}
	for i, w := range wallets {
		tr := trade.Trade{
			ID:        fmt.Sprintf("c%d", i),
			Venue:     "polymarket",
			MarketID:  "cm1",
			TraderID:  w,
			Outcome:   "YES",
			Side:      trade.SideBuy,
			Size:      2500,
			Price:     1.0,
			AmountUSD: 2500,
			Timestamp: now.Add(time.Duration(i) * 10 * time.Second),
		}
		c.evaluate(context.Background(), tr)
	}

	stored, err := c.store.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.NotEmpty(t, stored)
	last := stored[0]
	assert.Contains(t, last.AlertTypes, trade.AlertClusterActivity,
		"third wallet should see 2 distinct similar-amount peers in the coordination window")
}

func TestController_ClusterPeerCount_ExcludesAnonymousAndSelf(t *testing.T) {
	c := newTestController(t, DefaultConfig())
	now := time.Now()

	c.recordClusterTrade("m1", "walletA", 1000, now, false)
	c.recordClusterTrade("m1", venue.AnonymousTraderID("kalshi"), 1000, now, true)

	count := c.clusterPeerCount("m1", "walletB", 1000, now)
	assert.Equal(t, 1, count, "only the non-anonymous peer counts")

	selfCount := c.clusterPeerCount("m1", "walletA", 1000, now)
	assert.Equal(t, 0, selfCount, "a wallet never counts itself as a peer")
}

func TestController_ClusterPeerCount_PrunesOutsideWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ClusterCoordWindow = 1 * time.Minute
	c := newTestController(t, cfg)
	now := time.Now()

	c.recordClusterTrade("m1", "walletA", 1000, now.Add(-5*time.Minute), false)

	count := c.clusterPeerCount("m1", "walletB", 1000, now)
	assert.Equal(t, 0, count, "peers outside the coordination window don't count")
}

func TestController_EntityMemberCount_UnknownWalletIsZero(t *testing.T) {
	c := newTestController(t, DefaultConfig())
	assert.Equal(t, 0, c.entityMemberCount("never-seen"))
}

func TestController_Run_StopsOnContextCancel(t *testing.T) {
	c := newTestController(t, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = c.Run(ctx)
	}()

	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
