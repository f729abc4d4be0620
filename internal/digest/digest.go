// Package digest implements the core aggregation primitives behind the
// periodic whale-activity digest (§2 "Digest Compiler (core hooks)"). The
// cron trigger, HTML/email rendering, and subscriber fan-out are out of
// scope (§1) — this package is the pure function a cron-driven compiler
// calls once it has pulled alerts out of an AlertStore.
//
// Grounded on the original scheduler.py's _compile_digest: same window
// filter, same alerts-by-type tally, same top-trades/top-wallets shape,
// translated from an HTML-bound dataclass into a plain aggregation result.
package digest

import (
	"sort"
	"time"

	"whalewatch/internal/support"
	"whalewatch/internal/trade"
)

// TopTrade is one ranked entry in Report.TopTrades.
type TopTrade struct {
	AmountUSD float64
	Market    string
	Outcome   string
	Wallet    string
}

// TopWallet is one ranked entry in Report.TopWallets.
type TopWallet struct {
	Address  string
	Volume   float64
	Trades   int
	WinRate  float64
}

// Report is the compiled aggregation over an alert window, matching
// scheduler.py's DigestReport fields minus the HTML rendering methods.
type Report struct {
	PeriodStart time.Time
	PeriodEnd   time.Time

	TotalAlerts       int
	AlertsByType      map[trade.AlertType]int
	TotalVolumeTracked float64

	TopTrades  []TopTrade
	TopWallets []TopWallet

	SmartMoneyActivity []trade.Alert
	NewWalletActivity  []trade.Alert
}

// WalletLister supplies the "top wallets by volume" section without this
// package importing walletstore directly, matching the narrow-seam style
// of notifier.MarketQuestionsProvider.
type WalletLister interface {
	TopByVolume(n int, nonSportsOnly bool) []*trade.WalletProfile
}

// Aggregate compiles a Report from alerts observed in [now-window, now],
// optionally enriched with top-wallet-by-volume data (nil wallets skips
// that section, matching the Python compiler's "if self.detector" guard).
func Aggregate(alerts []trade.Alert, window time.Duration, wallets WalletLister, now time.Time) Report {
	cutoff := now.Add(-window)

	var period []trade.Alert
	for _, a := range alerts {
		if a.Timestamp.After(cutoff) {
			period = append(period, a)
		}
	}

	byType := make(map[trade.AlertType]int)
	var totalVolume float64
	var smartMoney, newWallets []trade.Alert
	for _, a := range period {
		for _, t := range a.AlertTypes {
			byType[t]++
			switch t {
			case trade.AlertSmartMoney:
				smartMoney = append(smartMoney, a)
			case trade.AlertNewWallet:
				newWallets = append(newWallets, a)
			}
		}
		totalVolume += a.Trade.AmountUSD
	}

	sorted := make([]trade.Alert, len(period))
	copy(sorted, period)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Trade.AmountUSD > sorted[j].Trade.AmountUSD
	})
	topN := 10
	if len(sorted) < topN {
		topN = len(sorted)
	}
	topTrades := make([]TopTrade, 0, topN)
	for _, a := range sorted[:topN] {
		var question string
		if a.MarketQuestion != nil {
			question = *a.MarketQuestion
		}
		market := support.NZ(question, "Unknown")
		topTrades = append(topTrades, TopTrade{
			AmountUSD: a.Trade.AmountUSD,
			Market:    market,
			Outcome:   a.Trade.Outcome,
			Wallet:    a.Trade.TraderID,
		})
	}

	var topWallets []TopWallet
	if wallets != nil {
		for _, p := range wallets.TopByVolume(10, true) {
			topWallets = append(topWallets, TopWallet{
				Address: p.Address,
				Volume:  p.TotalVolumeUSD,
				Trades:  p.TotalTrades,
				WinRate: p.WinRate(),
			})
		}
	}

	return Report{
		PeriodStart:        cutoff,
		PeriodEnd:          now,
		TotalAlerts:        len(period),
		AlertsByType:       byType,
		TotalVolumeTracked: totalVolume,
		TopTrades:          topTrades,
		TopWallets:         topWallets,
		SmartMoneyActivity: smartMoney,
		NewWalletActivity:  newWallets,
	}
}
