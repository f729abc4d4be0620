// Package detectors implements the 14-member detector battery (§4.6): pure
// functions over a shared Context, run in a fixed order, each independently
// testable and independently feature-gated.
//
// Grounded on the teacher's single long processTradeEvent/processTrade
// function that accumulates a `reasons []AlertReason` list — but
// decomposed into one function per detector, because the spec requires
// detectors to be individually testable and independently gated.
package detectors

import (
	"errors"
	"fmt"

	"whalewatch/internal/trade"
)

// ErrDetectorInternal marks a panic recovered from the battery or the
// consolidator during a single trade's evaluation (§7). The ingestion
// controller catches it at the per-trade step, logs it, and still marks the
// trade processed so a malformed trade cannot replay forever.
var ErrDetectorInternal = errors.New("detectors: internal detector error")

// Config bundles every configurable threshold named in spec §7, plus the
// four feature gates for detectors disabled by default.
type Config struct {
	WhaleThresholdUSD         float64
	NewWalletThresholdUSD     float64
	FocusedWalletThresholdUSD float64
	StdMultiplier             float64
	MinTradesForStats         int
	ExitThresholdUSD          float64
	ContrarianProbability     float64
	ExtremeConfidenceHigh     float64
	ExtremeConfidenceLow      float64
	VIP                       trade.VIPThresholds

	EnableWhaleExit         bool
	EnableContrarian        bool
	EnableExtremeConfidence bool
	EnableFocusedWallet     bool
}

// DefaultConfig returns the canonical defaults from spec §4.6. The four
// gated detectors (WHALE_EXIT, CONTRARIAN, EXTREME_CONFIDENCE,
// FOCUSED_WALLET) are disabled, matching "disabled in the latest revision"
// (§9 design notes) — they are fully implemented and independently
// testable, just off by default.
func DefaultConfig() Config {
	return Config{
		WhaleThresholdUSD:         10_000,
		NewWalletThresholdUSD:     1_000,
		FocusedWalletThresholdUSD: 1_000,
		StdMultiplier:             3,
		MinTradesForStats:         100,
		ExitThresholdUSD:          10_000,
		ContrarianProbability:     0.15,
		ExtremeConfidenceHigh:     0.95,
		ExtremeConfidenceLow:      0.05,
		VIP: trade.VIPThresholds{
			MinVolume:      250_000,
			MinWinRate:     0.75,
			MinLargeTrades: 10,
		},
	}
}

// Trigger is one (type, message, score) tuple contributed by a detector.
type Trigger struct {
	Type    trade.AlertType
	Message string
	Score   int
}

// Context is the read-only view of store state a detector sees. All fields
// reflect state as of BEFORE this trade is recorded into the stores — the
// same "pre-observe" ordering invariant §4.3 requires for position_action,
// generalized across the whole battery so e.g. UNUSUAL_SIZE's z-score
// never includes the trade it is evaluating (see DESIGN.md).
type Context struct {
	Trade trade.Trade

	// Wallet is the trader's profile before this trade. Never nil: callers
	// pass a fresh zero-value profile (trade.NewWalletProfile) for a
	// first-ever trader.
	Wallet *trade.WalletProfile

	// Market is nil when the trade's market hasn't been cached yet; several
	// detectors fall back to the trade's own price in that case (§9 design
	// note on contrarian/extreme-confidence working pre-metadata-refresh).
	Market *trade.Market

	MarketMean float64
	MarketStd  float64
	MarketN    int
	ZScore     float64
	HasZScore  bool

	ImpactRatio float64

	// ClusterPeerCount is the number of distinct other wallets that traded
	// the same market within the coordination window at an amount within
	// [0.5x, 2x] of this trade.
	ClusterPeerCount int

	// EntityMemberCount is the size of the entity ctx.Trade.TraderID
	// belongs to, or 0 if none.
	EntityMemberCount int
}

// outcomeProbability returns the cached market reference price for the
// trade's outcome, falling back to the trade's own price when the market
// isn't cached yet (§9 design note).
func (c Context) outcomeProbability() float64 {
	if c.Market != nil {
		if p, ok := c.Market.OutcomePrices[c.Trade.Outcome]; ok {
			return p
		}
	}
	return c.Trade.Price
}

func (c Context) positionBuyUSD() float64 {
	byOutcome, ok := c.Wallet.Positions[c.Trade.MarketID]
	if !ok {
		return 0
	}
	pos, ok := byOutcome[c.Trade.Outcome]
	if !ok {
		return 0
	}
	return pos.BuyUSD
}

// Detector is one independently testable battery member.
type Detector func(ctx Context, cfg Config) (Trigger, bool)

// DetectWhaleTrade is battery position 1.
func DetectWhaleTrade(ctx Context, cfg Config) (Trigger, bool) {
	if ctx.Trade.AmountUSD < cfg.WhaleThresholdUSD {
		return Trigger{}, false
	}
	return Trigger{
		Type:    trade.AlertWhaleTrade,
		Message: fmt.Sprintf("whale trade: $%.0f", ctx.Trade.AmountUSD),
		Score:   scoreFor(ctx, cfg, trade.AlertWhaleTrade),
	}, true
}

// DetectUnusualSize is battery position 2.
func DetectUnusualSize(ctx Context, cfg Config) (Trigger, bool) {
	if !ctx.HasZScore || ctx.MarketN < cfg.MinTradesForStats {
		return Trigger{}, false
	}
	if ctx.ZScore < cfg.StdMultiplier || ctx.Trade.AmountUSD >= cfg.WhaleThresholdUSD {
		return Trigger{}, false
	}
	return Trigger{
		Type:    trade.AlertUnusualSize,
		Message: fmt.Sprintf("unusual size: z=%.2f", ctx.ZScore),
		Score:   scoreFor(ctx, cfg, trade.AlertUnusualSize),
	}, true
}

// DetectNewWallet is battery position 3.
func DetectNewWallet(ctx Context, cfg Config) (Trigger, bool) {
	if ctx.Trade.Anonymous || !ctx.Wallet.IsNew() || ctx.Trade.AmountUSD < cfg.NewWalletThresholdUSD {
		return Trigger{}, false
	}
	return Trigger{
		Type:    trade.AlertNewWallet,
		Message: "new wallet's first large trade",
		Score:   scoreFor(ctx, cfg, trade.AlertNewWallet),
	}, true
}

// DetectSmartMoney is battery position 4.
func DetectSmartMoney(ctx Context, cfg Config) (Trigger, bool) {
	if ctx.Trade.Anonymous || !ctx.Wallet.IsSmartMoney() || ctx.Trade.AmountUSD < 500 {
		return Trigger{}, false
	}
	return Trigger{
		Type:    trade.AlertSmartMoney,
		Message: fmt.Sprintf("smart money wallet (win rate %.0f%%)", ctx.Wallet.WinRate()*100),
		Score:   scoreFor(ctx, cfg, trade.AlertSmartMoney),
	}, true
}

// DetectVIPWallet is battery position 5.
func DetectVIPWallet(ctx Context, cfg Config) (Trigger, bool) {
	if ctx.Trade.Anonymous || !ctx.Wallet.IsVIP(cfg.VIP) {
		return Trigger{}, false
	}
	return Trigger{
		Type:    trade.AlertVIPWallet,
		Message: "VIP wallet",
		Score:   scoreFor(ctx, cfg, trade.AlertVIPWallet),
	}, true
}

// DetectRepeatActor is battery position 6.
func DetectRepeatActor(ctx Context, cfg Config) (Trigger, bool) {
	if ctx.Trade.Anonymous || !ctx.Wallet.IsRepeatActor(ctx.Trade.Timestamp) || ctx.Trade.AmountUSD < 1000 {
		return Trigger{}, false
	}
	return Trigger{
		Type:    trade.AlertRepeatActor,
		Message: "repeat actor: 3+ trades in the last hour",
		Score:   scoreFor(ctx, cfg, trade.AlertRepeatActor),
	}, true
}

// DetectHeavyActor is battery position 7.
func DetectHeavyActor(ctx Context, cfg Config) (Trigger, bool) {
	if ctx.Trade.Anonymous || !ctx.Wallet.IsHeavyActor(ctx.Trade.Timestamp) || ctx.Trade.AmountUSD < 500 {
		return Trigger{}, false
	}
	return Trigger{
		Type:    trade.AlertHeavyActor,
		Message: "heavy actor: 10+ trades in the last 24h",
		Score:   scoreFor(ctx, cfg, trade.AlertHeavyActor),
	}, true
}

// DetectWhaleExit is battery position 8. Gated off by default.
func DetectWhaleExit(ctx Context, cfg Config) (Trigger, bool) {
	if !cfg.EnableWhaleExit || ctx.Trade.Anonymous {
		return Trigger{}, false
	}
	if ctx.Trade.Side != trade.SideSell || ctx.Trade.AmountUSD < cfg.ExitThresholdUSD {
		return Trigger{}, false
	}
	if ctx.positionBuyUSD() < cfg.WhaleThresholdUSD {
		return Trigger{}, false
	}
	return Trigger{
		Type:    trade.AlertWhaleExit,
		Message: "whale exiting a large position",
		Score:   scoreFor(ctx, cfg, trade.AlertWhaleExit),
	}, true
}

// DetectContrarian is battery position 9. Gated off by default.
func DetectContrarian(ctx Context, cfg Config) (Trigger, bool) {
	if !cfg.EnableContrarian {
		return Trigger{}, false
	}
	if ctx.Trade.Side != trade.SideBuy || ctx.Trade.AmountUSD < 3000 {
		return Trigger{}, false
	}
	if ctx.outcomeProbability() > cfg.ContrarianProbability {
		return Trigger{}, false
	}
	return Trigger{
		Type:    trade.AlertContrarian,
		Message: fmt.Sprintf("contrarian buy at probability %.2f", ctx.outcomeProbability()),
		Score:   scoreFor(ctx, cfg, trade.AlertContrarian),
	}, true
}

// DetectExtremeConfidence is battery position 10. Gated off by default.
func DetectExtremeConfidence(ctx Context, cfg Config) (Trigger, bool) {
	if !cfg.EnableExtremeConfidence || ctx.Trade.AmountUSD < 2000 {
		return Trigger{}, false
	}
	p := ctx.outcomeProbability()
	if p < cfg.ExtremeConfidenceHigh && p > cfg.ExtremeConfidenceLow {
		return Trigger{}, false
	}
	return Trigger{
		Type:    trade.AlertExtremeConfidence,
		Message: fmt.Sprintf("extreme confidence trade at probability %.2f", p),
		Score:   scoreFor(ctx, cfg, trade.AlertExtremeConfidence),
	}, true
}

// DetectClusterActivity is battery position 11.
func DetectClusterActivity(ctx Context, cfg Config) (Trigger, bool) {
	if ctx.Trade.Anonymous || ctx.ClusterPeerCount < 2 || ctx.Trade.AmountUSD < 2000 {
		return Trigger{}, false
	}
	return Trigger{
		Type:    trade.AlertClusterActivity,
		Message: fmt.Sprintf("%d coordinated wallets in this market", ctx.ClusterPeerCount),
		Score:   scoreFor(ctx, cfg, trade.AlertClusterActivity),
	}, true
}

// DetectHighImpact is battery position 12.
func DetectHighImpact(ctx Context, cfg Config) (Trigger, bool) {
	if ctx.ImpactRatio < 0.25 || ctx.Trade.AmountUSD < 1000 {
		return Trigger{}, false
	}
	return Trigger{
		Type:    trade.AlertHighImpact,
		Message: fmt.Sprintf("high market impact: %.0f%% of hourly volume", ctx.ImpactRatio*100),
		Score:   scoreFor(ctx, cfg, trade.AlertHighImpact),
	}, true
}

// DetectEntityActivity is battery position 13.
func DetectEntityActivity(ctx Context, cfg Config) (Trigger, bool) {
	if ctx.Trade.Anonymous || ctx.EntityMemberCount < 2 || ctx.Trade.AmountUSD < 1000 {
		return Trigger{}, false
	}
	return Trigger{
		Type:    trade.AlertEntityActivity,
		Message: fmt.Sprintf("wallet belongs to a %d-member entity", ctx.EntityMemberCount),
		Score:   scoreFor(ctx, cfg, trade.AlertEntityActivity),
	}, true
}

// DetectFocusedWallet is battery position 14. Gated off by default.
func DetectFocusedWallet(ctx Context, cfg Config) (Trigger, bool) {
	if !cfg.EnableFocusedWallet || ctx.Trade.Anonymous {
		return Trigger{}, false
	}
	if !ctx.Wallet.IsFocused() || ctx.Trade.AmountUSD < cfg.FocusedWalletThresholdUSD {
		return Trigger{}, false
	}
	return Trigger{
		Type:    trade.AlertFocusedWallet,
		Message: "wallet concentrated in 3 or fewer markets",
		Score:   scoreFor(ctx, cfg, trade.AlertFocusedWallet),
	}, true
}

// Battery is the fixed-order list of all 14 detectors.
var Battery = []Detector{
	DetectWhaleTrade,
	DetectUnusualSize,
	DetectNewWallet,
	DetectSmartMoney,
	DetectVIPWallet,
	DetectRepeatActor,
	DetectHeavyActor,
	DetectWhaleExit,
	DetectContrarian,
	DetectExtremeConfidence,
	DetectClusterActivity,
	DetectHighImpact,
	DetectEntityActivity,
	DetectFocusedWallet,
}

// Run evaluates every detector in the battery in fixed order, returning the
// triggers that fired, in battery order.
func Run(ctx Context, cfg Config) []Trigger {
	var out []Trigger
	for _, d := range Battery {
		if t, ok := d(ctx, cfg); ok {
			out = append(out, t)
		}
	}
	return out
}

// scoreFor implements the additive severity rubric (§4.6): base 5, plus
// trade-size tier, plus wallet-state bumps, plus per-type bumps, clamped to
// [1,10].
func scoreFor(ctx Context, cfg Config, t trade.AlertType) int {
	score := 5

	score += largeTradeBonus(ctx.Trade.AmountUSD, cfg.WhaleThresholdUSD)

	if ctx.Wallet.IsNew() {
		score += 2
	}
	if ctx.Wallet.IsSmartMoney() {
		score += 2
	}
	if ctx.Wallet.IsFocused() {
		score++
	}
	if ctx.Wallet.IsHeavyActor(ctx.Trade.Timestamp) {
		score++
	}
	if ctx.Wallet.IsRepeatActor(ctx.Trade.Timestamp) {
		score++
	}

	switch t {
	case trade.AlertSmartMoney:
		score++
	case trade.AlertNewWallet:
		score++
	case trade.AlertContrarian:
		score += 2
	case trade.AlertClusterActivity:
		score += 2
	case trade.AlertExtremeConfidence:
		if ctx.outcomeProbability() <= 0.10 {
			score += 2
		}
	}

	return trade.ClampScore(score)
}

// largeTradeBonus tiers a +1..+4 bonus relative to the whale threshold
// (Open Question resolution, see DESIGN.md: the spec names the range but
// not the tier boundaries).
func largeTradeBonus(amountUSD, whaleThreshold float64) int {
	switch {
	case amountUSD >= whaleThreshold*10:
		return 4
	case amountUSD >= whaleThreshold*5:
		return 3
	case amountUSD >= whaleThreshold*2:
		return 2
	case amountUSD >= whaleThreshold:
		return 1
	default:
		return 0
	}
}
