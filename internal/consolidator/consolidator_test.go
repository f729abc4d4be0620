package consolidator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whalewatch/internal/detectors"
	"whalewatch/internal/trade"
)

func mkTrade(amount float64) trade.Trade {
	return trade.Trade{
		ID:        "t1",
		MarketID:  "m1",
		TraderID:  "0xabc",
		Outcome:   "YES",
		Side:      trade.SideBuy,
		AmountUSD: amount,
		Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// The TestMultiSignalGate_* tests directly cover testable property #4: with
// min_triggers_required=2, exactly one non-exempt trigger yields no alert;
// exactly one exempt trigger yields an alert.
func TestMultiSignalGate_OneNonExemptTrigger_NoAlert(t *testing.T) {
	cfg := DefaultConfig()
	triggers := []detectors.Trigger{
		{Type: trade.AlertHeavyActor, Message: "heavy actor", Score: 6},
	}

	alert := Consolidate(cfg, mkTrade(1500), trade.WalletProfile{}, trade.CategoryPolitics, false, trade.PositionOpening, triggers, nil, nil, nil)
	assert.Nil(t, alert)
}

func TestMultiSignalGate_OneExemptTrigger_Alert(t *testing.T) {
	cfg := DefaultConfig()
	triggers := []detectors.Trigger{
		{Type: trade.AlertWhaleTrade, Message: "whale trade", Score: 8},
	}

	alert := Consolidate(cfg, mkTrade(25_000), trade.WalletProfile{}, trade.CategoryPolitics, false, trade.PositionOpening, triggers, nil, nil, nil)
	require.NotNil(t, alert)
	assert.Equal(t, []trade.AlertType{trade.AlertWhaleTrade}, alert.AlertTypes)
}

func TestMultiSignalGate_TwoNonExemptTriggers_Alert(t *testing.T) {
	cfg := DefaultConfig()
	triggers := []detectors.Trigger{
		{Type: trade.AlertHeavyActor, Message: "heavy actor", Score: 6},
		{Type: trade.AlertRepeatActor, Message: "repeat actor", Score: 6},
	}
	alert := Consolidate(cfg, mkTrade(1500), trade.WalletProfile{}, trade.CategoryPolitics, false, trade.PositionOpening, triggers, nil, nil, nil)
	require.NotNil(t, alert)
}

// TestCryptoGate_S5 directly covers testable property #10 and scenario S5: a
// $500 crypto trade with HEAVY_ACTOR and REPEAT_ACTOR (neither
// crypto-exempt) clears min_triggers_required but yields no alert, because
// amount is below the crypto floor.
func TestCryptoGate_S5(t *testing.T) {
	cfg := DefaultConfig()
	triggers := []detectors.Trigger{
		{Type: trade.AlertHeavyActor, Message: "heavy actor", Score: 6},
		{Type: trade.AlertRepeatActor, Message: "repeat actor", Score: 6},
	}

	alert := Consolidate(cfg, mkTrade(500), trade.WalletProfile{}, trade.CategoryCrypto, false, trade.PositionOpening, triggers, nil, nil, nil)
	assert.Nil(t, alert, "S5: $500 crypto trade, neither trigger crypto-exempt")
}

func TestCryptoGate_ExemptTriggerBypassesFloor(t *testing.T) {
	cfg := DefaultConfig()
	triggers := []detectors.Trigger{
		{Type: trade.AlertSmartMoney, Message: "smart money", Score: 6},
	}
	alert := Consolidate(cfg, mkTrade(500), trade.WalletProfile{}, trade.CategoryCrypto, false, trade.PositionOpening, triggers, nil, nil, nil)
	require.NotNil(t, alert, "SMART_MONEY is in the crypto-exempt set")
}

func TestCryptoGate_AboveFloorPasses(t *testing.T) {
	cfg := DefaultConfig()
	triggers := []detectors.Trigger{
		{Type: trade.AlertHeavyActor, Message: "heavy actor", Score: 6},
		{Type: trade.AlertRepeatActor, Message: "repeat actor", Score: 6},
	}
	alert := Consolidate(cfg, mkTrade(1500), trade.WalletProfile{}, trade.CategoryCrypto, false, trade.PositionOpening, triggers, nil, nil, nil)
	require.NotNil(t, alert, "above crypto_min_threshold_usd, multi-signal gate alone governs")
}

// TestSeverityRollup directly covers testable property #3: severity_score
// is the max across triggers, severity is its categorical mapping.
func TestSeverityRollup(t *testing.T) {
	cfg := DefaultConfig()
	triggers := []detectors.Trigger{
		{Type: trade.AlertWhaleTrade, Message: "a", Score: 6},
		{Type: trade.AlertClusterActivity, Message: "b", Score: 9},
	}
	alert := Consolidate(cfg, mkTrade(25_000), trade.WalletProfile{}, trade.CategoryPolitics, false, trade.PositionOpening, triggers, nil, nil, nil)
	require.NotNil(t, alert)
	assert.Equal(t, 9, alert.SeverityScore)
	assert.Equal(t, trade.SeverityHigh, alert.Severity)
}

func TestConsolidate_NoTriggers_NoAlert(t *testing.T) {
	cfg := DefaultConfig()
	alert := Consolidate(cfg, mkTrade(25_000), trade.WalletProfile{}, trade.CategoryPolitics, false, trade.PositionOpening, nil, nil, nil, nil)
	assert.Nil(t, alert)
}

func TestConsolidate_PreservesPositionActionAndFields(t *testing.T) {
	cfg := DefaultConfig()
	triggers := []detectors.Trigger{{Type: trade.AlertWhaleTrade, Message: "whale", Score: 9}}
	pct := 0.95
	q := "Will it happen?"
	z := 3.2

	alert := Consolidate(cfg, mkTrade(25_000), trade.WalletProfile{Address: "0xabc"}, trade.CategorySports, true, trade.PositionReversing, triggers, &pct, &q, &z)
	require.NotNil(t, alert)
	assert.Equal(t, trade.PositionReversing, alert.PositionAction)
	assert.True(t, alert.IsSports)
	assert.Equal(t, trade.CategorySports, alert.Category)
	assert.Equal(t, "0xabc", alert.WalletProfileSnapshot.Address)
	require.NotNil(t, alert.Percentile)
	assert.Equal(t, 0.95, *alert.Percentile)
	require.NotNil(t, alert.MarketQuestion)
	assert.Equal(t, q, *alert.MarketQuestion)
	require.NotNil(t, alert.ZScore)
	assert.Equal(t, 3.2, *alert.ZScore)
	assert.NotEmpty(t, alert.ID)
}

func TestConsolidate_MessagesParallelToAlertTypes(t *testing.T) {
	cfg := DefaultConfig()
	triggers := []detectors.Trigger{
		{Type: trade.AlertWhaleTrade, Message: "whale msg", Score: 8},
		{Type: trade.AlertClusterActivity, Message: "cluster msg", Score: 7},
	}
	alert := Consolidate(cfg, mkTrade(25_000), trade.WalletProfile{}, trade.CategoryPolitics, false, trade.PositionOpening, triggers, nil, nil, nil)
	require.NotNil(t, alert)
	require.Len(t, alert.Messages, 2)
	assert.Equal(t, "whale msg", alert.Messages[0])
	assert.Equal(t, "cluster msg", alert.Messages[1])
}
