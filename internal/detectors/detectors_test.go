package detectors

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whalewatch/internal/trade"
)

func baseCtx() Context {
	return Context{
		Trade: trade.Trade{
			MarketID:  "m1",
			Outcome:   "YES",
			Side:      trade.SideBuy,
			AmountUSD: 100,
			Price:     0.5,
			Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		Wallet: trade.NewWalletProfile("0xabc"),
	}
}

func TestDetectWhaleTrade(t *testing.T) {
	cfg := DefaultConfig()
	ctx := baseCtx()
	ctx.Trade.AmountUSD = 25_000

	trig, ok := DetectWhaleTrade(ctx, cfg)
	require.True(t, ok)
	assert.Equal(t, trade.AlertWhaleTrade, trig.Type)
	assert.GreaterOrEqual(t, trig.Score, 8) // S1: severity_score >= 8
}

func TestDetectWhaleTrade_BelowThreshold(t *testing.T) {
	cfg := DefaultConfig()
	ctx := baseCtx()
	ctx.Trade.AmountUSD = 9_999
	_, ok := DetectWhaleTrade(ctx, cfg)
	assert.False(t, ok)
}

func TestDetectUnusualSize(t *testing.T) {
	cfg := DefaultConfig()
	ctx := baseCtx()
	ctx.Trade.AmountUSD = 5_000
	ctx.MarketN = 100
	ctx.ZScore = 4.0
	ctx.HasZScore = true

	trig, ok := DetectUnusualSize(ctx, cfg)
	require.True(t, ok)
	assert.Equal(t, trade.AlertUnusualSize, trig.Type)
}

func TestDetectUnusualSize_InsufficientSamples(t *testing.T) {
	cfg := DefaultConfig()
	ctx := baseCtx()
	ctx.MarketN = 50
	ctx.ZScore = 10.0
	ctx.HasZScore = true
	_, ok := DetectUnusualSize(ctx, cfg)
	assert.False(t, ok)
}

func TestDetectUnusualSize_ExcludedWhenAboveWhaleThreshold(t *testing.T) {
	cfg := DefaultConfig()
	ctx := baseCtx()
	ctx.Trade.AmountUSD = 20_000
	ctx.MarketN = 100
	ctx.ZScore = 10.0
	ctx.HasZScore = true
	_, ok := DetectUnusualSize(ctx, cfg)
	assert.False(t, ok, "UNUSUAL_SIZE requires amount<whale_threshold")
}

func TestDetectNewWallet_AnonymousExcluded(t *testing.T) {
	cfg := DefaultConfig()
	ctx := baseCtx()
	ctx.Trade.AmountUSD = 50_000
	ctx.Trade.Anonymous = true

	_, ok := DetectNewWallet(ctx, cfg)
	assert.False(t, ok)
}

// TestAnonymousGating directly covers testable property #9: a
// venue-anonymous trade at $50k on a non-crypto market produces only
// identity-independent triggers, never NEW_WALLET/SMART_MONEY/VIP_WALLET.
func TestAnonymousGating(t *testing.T) {
	cfg := DefaultConfig()
	ctx := baseCtx()
	ctx.Trade.AmountUSD = 50_000
	ctx.Trade.Anonymous = true
	ctx.Wallet = trade.NewWalletProfile(trade.SentinelAnonymous)

	triggers := Run(ctx, cfg)
	require.NotEmpty(t, triggers)
	for _, trig := range triggers {
		assert.NotEqual(t, trade.AlertNewWallet, trig.Type)
		assert.NotEqual(t, trade.AlertSmartMoney, trig.Type)
		assert.NotEqual(t, trade.AlertVIPWallet, trig.Type)
	}

	types := make([]trade.AlertType, 0, len(triggers))
	for _, trig := range triggers {
		types = append(types, trig.Type)
	}
	assert.Contains(t, types, trade.AlertWhaleTrade)
}

func TestDetectVIPWallet(t *testing.T) {
	cfg := DefaultConfig()
	ctx := baseCtx()
	ctx.Wallet.TotalVolumeUSD = 300_000

	trig, ok := DetectVIPWallet(ctx, cfg)
	require.True(t, ok)
	assert.Equal(t, trade.AlertVIPWallet, trig.Type)
}

func TestDetectRepeatActor(t *testing.T) {
	cfg := DefaultConfig()
	ctx := baseCtx()
	ctx.Trade.AmountUSD = 1000
	now := ctx.Trade.Timestamp
	for i := 0; i < 3; i++ {
		ctx.Wallet.PushTimestamp(now.Add(-time.Duration(i) * time.Minute))
	}

	trig, ok := DetectRepeatActor(ctx, cfg)
	require.True(t, ok)
	assert.Equal(t, trade.AlertRepeatActor, trig.Type)
}

func TestDetectWhaleExit_GatedOffByDefault(t *testing.T) {
	cfg := DefaultConfig()
	ctx := baseCtx()
	ctx.Trade.Side = trade.SideSell
	ctx.Trade.AmountUSD = 20_000
	ctx.Wallet.Positions["m1"] = map[string]*trade.PositionState{
		"YES": {BuyUSD: 50_000},
	}

	_, ok := DetectWhaleExit(ctx, cfg)
	assert.False(t, ok)

	cfg.EnableWhaleExit = true
	trig, ok := DetectWhaleExit(ctx, cfg)
	require.True(t, ok)
	assert.Equal(t, trade.AlertWhaleExit, trig.Type)
}

func TestDetectContrarian_GatedOffByDefault(t *testing.T) {
	cfg := DefaultConfig()
	ctx := baseCtx()
	ctx.Trade.AmountUSD = 5000
	ctx.Trade.Price = 0.05

	_, ok := DetectContrarian(ctx, cfg)
	assert.False(t, ok)

	cfg.EnableContrarian = true
	trig, ok := DetectContrarian(ctx, cfg)
	require.True(t, ok)
	assert.Equal(t, trade.AlertContrarian, trig.Type)
}

func TestDetectContrarian_FallsBackToTradePriceWithoutMarket(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableContrarian = true
	ctx := baseCtx()
	ctx.Trade.AmountUSD = 5000
	ctx.Trade.Price = 0.10
	ctx.Market = nil

	trig, ok := DetectContrarian(ctx, cfg)
	require.True(t, ok)
	assert.Contains(t, trig.Message, "0.10")
}

func TestDetectExtremeConfidence_GatedOffByDefault(t *testing.T) {
	cfg := DefaultConfig()
	ctx := baseCtx()
	ctx.Trade.AmountUSD = 2500
	ctx.Trade.Price = 0.97

	_, ok := DetectExtremeConfidence(ctx, cfg)
	assert.False(t, ok)

	cfg.EnableExtremeConfidence = true
	_, ok = DetectExtremeConfidence(ctx, cfg)
	assert.True(t, ok)
}

func TestDetectClusterActivity(t *testing.T) {
	cfg := DefaultConfig()
	ctx := baseCtx()
	ctx.Trade.AmountUSD = 3000
	ctx.ClusterPeerCount = 2

	trig, ok := DetectClusterActivity(ctx, cfg)
	require.True(t, ok)
	assert.Equal(t, trade.AlertClusterActivity, trig.Type)
}

func TestDetectHighImpact(t *testing.T) {
	cfg := DefaultConfig()
	ctx := baseCtx()
	ctx.Trade.AmountUSD = 1000
	ctx.ImpactRatio = 0.30

	trig, ok := DetectHighImpact(ctx, cfg)
	require.True(t, ok)
	assert.Equal(t, trade.AlertHighImpact, trig.Type)
}

func TestDetectEntityActivity(t *testing.T) {
	cfg := DefaultConfig()
	ctx := baseCtx()
	ctx.Trade.AmountUSD = 1000
	ctx.EntityMemberCount = 3

	trig, ok := DetectEntityActivity(ctx, cfg)
	require.True(t, ok)
	assert.Equal(t, trade.AlertEntityActivity, trig.Type)
}

func TestDetectFocusedWallet_GatedOffByDefault(t *testing.T) {
	cfg := DefaultConfig()
	ctx := baseCtx()
	ctx.Trade.AmountUSD = 2000
	ctx.Wallet.TotalTrades = 5
	ctx.Wallet.MarketsTraded["m1"] = struct{}{}
	ctx.Wallet.MarketsTraded["m2"] = struct{}{}

	_, ok := DetectFocusedWallet(ctx, cfg)
	assert.False(t, ok)

	cfg.EnableFocusedWallet = true
	trig, ok := DetectFocusedWallet(ctx, cfg)
	require.True(t, ok)
	assert.Equal(t, trade.AlertFocusedWallet, trig.Type)
}

// TestSeverityMonotonicity directly covers testable property #3: severity
// bucket is the categorical mapping of the max score across triggers.
func TestSeverityMonotonicity(t *testing.T) {
	cfg := DefaultConfig()
	ctx := baseCtx()
	ctx.Trade.AmountUSD = 150_000 // large-trade bonus tier triggers HIGH
	ctx.Wallet.TotalVolumeUSD = 300_000

	triggers := Run(ctx, cfg)
	require.NotEmpty(t, triggers)

	maxScore := 0
	for _, trig := range triggers {
		if trig.Score > maxScore {
			maxScore = trig.Score
		}
	}
	assert.Equal(t, trade.SeverityFromScore(maxScore), trade.SeverityHigh)
}

func TestRun_FixedBatteryOrder(t *testing.T) {
	cfg := DefaultConfig()
	ctx := baseCtx()
	ctx.Trade.AmountUSD = 150_000
	ctx.ClusterPeerCount = 3
	ctx.EntityMemberCount = 2
	ctx.ImpactRatio = 0.5
	ctx.Wallet.TotalVolumeUSD = 300_000

	triggers := Run(ctx, cfg)
	require.NotEmpty(t, triggers)
	assert.Equal(t, trade.AlertWhaleTrade, triggers[0].Type, "WHALE_TRADE is battery position 1")
}
