// Package consolidator implements the Alert Consolidator (§4.7): the
// multi-signal gate, category gate, and severity rollup that turn a
// battery's triggers into zero or one trade.Alert.
//
// Grounded on the teacher's sendAlert/TradeAlert{...} assembly in
// trade_monitor.go, which builds a single alert record from an accumulated
// reasons list right before dispatch.
package consolidator

import (
	"time"

	"github.com/google/uuid"

	"whalewatch/internal/detectors"
	"whalewatch/internal/trade"
)

// exemptTypes survive the amount-floor filter regardless of amount_usd.
var exemptTypes = map[trade.AlertType]struct{}{
	trade.AlertWhaleTrade:      {},
	trade.AlertClusterActivity: {},
	trade.AlertVIPWallet:       {},
	trade.AlertEntityActivity:  {},
}

// cryptoExemptTypes are triggers that bypass the category gate's stricter
// crypto floor.
var cryptoExemptTypes = map[trade.AlertType]struct{}{
	trade.AlertClusterActivity: {},
	trade.AlertWhaleTrade:      {},
	trade.AlertSmartMoney:      {},
	trade.AlertVIPWallet:       {},
}

// Config bundles the consolidator's own thresholds (§4.7, §7).
type Config struct {
	MinAlertThresholdUSD   float64
	MinTriggersRequired    int
	CryptoMinThresholdUSD  float64
}

// DefaultConfig returns the canonical defaults from spec §4.7.
func DefaultConfig() Config {
	return Config{
		MinAlertThresholdUSD:  0,
		MinTriggersRequired:   2,
		CryptoMinThresholdUSD: 974,
	}
}

func isExempt(t trade.AlertType) bool {
	_, ok := exemptTypes[t]
	return ok
}

func isCryptoExempt(t trade.AlertType) bool {
	_, ok := cryptoExemptTypes[t]
	return ok
}

// Consolidate applies the amount-floor filter, multi-signal gate, and
// category gate to triggers (already in fixed battery order), returning
// the assembled Alert or nil if the trade should be suppressed.
func Consolidate(
	cfg Config,
	tr trade.Trade,
	wallet trade.WalletProfile,
	category trade.Category,
	isSports bool,
	positionAction trade.PositionAction,
	triggers []detectors.Trigger,
	percentile *float64,
	marketQuestion *string,
	zScore *float64,
) *trade.Alert {
	surviving := make([]detectors.Trigger, 0, len(triggers))
	for _, trig := range triggers {
		if isExempt(trig.Type) || tr.AmountUSD >= cfg.MinAlertThresholdUSD {
			surviving = append(surviving, trig)
		}
	}
	if len(surviving) == 0 {
		return nil
	}

	anyExempt := false
	for _, trig := range surviving {
		if isExempt(trig.Type) {
			anyExempt = true
			break
		}
	}
	if !anyExempt && len(surviving) < cfg.MinTriggersRequired {
		return nil
	}

	if category == trade.CategoryCrypto {
		anyCryptoExempt := false
		for _, trig := range surviving {
			if isCryptoExempt(trig.Type) {
				anyCryptoExempt = true
				break
			}
		}
		if !anyCryptoExempt && tr.AmountUSD < cfg.CryptoMinThresholdUSD {
			return nil
		}
	}

	alertTypes := make([]trade.AlertType, 0, len(surviving))
	messages := make([]string, 0, len(surviving))
	maxScore := 0
	for _, trig := range surviving {
		alertTypes = append(alertTypes, trig.Type)
		messages = append(messages, trig.Message)
		if trig.Score > maxScore {
			maxScore = trig.Score
		}
	}

	return &trade.Alert{
		ID:                    uuid.NewString(),
		AlertTypes:            alertTypes,
		Severity:              trade.SeverityFromScore(maxScore),
		SeverityScore:         maxScore,
		Trade:                 tr,
		WalletProfileSnapshot: wallet,
		Messages:              messages,
		Timestamp:             timestampOrNow(tr.Timestamp),
		Percentile:            percentile,
		MarketQuestion:        marketQuestion,
		Category:              category,
		IsSports:              isSports,
		ZScore:                zScore,
		PositionAction:        positionAction,
	}
}

func timestampOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
