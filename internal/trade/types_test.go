package trade

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWalletProfile_IsNew(t *testing.T) {
	w := NewWalletProfile("0xabc")
	assert.True(t, w.IsNew())
	w.TotalTrades = 5
	assert.False(t, w.IsNew())
}

func TestWalletProfile_IsWhale(t *testing.T) {
	w := NewWalletProfile("0xabc")
	w.TotalVolumeUSD = 99_999
	assert.False(t, w.IsWhale())
	w.TotalVolumeUSD = 100_000
	assert.True(t, w.IsWhale())
}

func TestWalletProfile_IsFocused(t *testing.T) {
	w := NewWalletProfile("0xabc")
	w.TotalTrades = 5
	w.MarketsTraded["m1"] = struct{}{}
	w.MarketsTraded["m2"] = struct{}{}
	assert.True(t, w.IsFocused())
	w.MarketsTraded["m3"] = struct{}{}
	w.MarketsTraded["m4"] = struct{}{}
	assert.False(t, w.IsFocused())
}

func TestWalletProfile_Velocity(t *testing.T) {
	w := NewWalletProfile("0xabc")
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	// 11 timestamps within the last hour, 0 outside (testable property #8).
	for i := 0; i < 11; i++ {
		w.PushTimestamp(now.Add(-time.Duration(i) * time.Minute))
	}

	assert.True(t, w.IsRepeatActor(now))
	assert.True(t, w.IsHeavyActor(now))
}

func TestWalletProfile_RingBufferCap(t *testing.T) {
	w := NewWalletProfile("0xabc")
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 150; i++ {
		w.PushTimestamp(base.Add(time.Duration(i) * time.Second))
	}
	assert.Len(t, w.RecentTimestamps, 100)
	// Oldest entries should have been evicted; the buffer should hold the
	// most recent 100 pushes.
	assert.Equal(t, base.Add(50*time.Second), w.RecentTimestamps[0])
}

func TestWalletProfile_IsSmartMoney(t *testing.T) {
	w := NewWalletProfile("0xabc")
	w.WinningTrades = 7
	w.LosingTrades = 3
	w.TotalVolumeUSD = 50_000
	assert.True(t, w.IsSmartMoney())

	w.TotalVolumeUSD = 49_999
	assert.False(t, w.IsSmartMoney())
}

func TestWalletProfile_IsVIP(t *testing.T) {
	w := NewWalletProfile("0xabc")
	th := VIPThresholds{MinVolume: 100_000, MinWinRate: 0.80, MinLargeTrades: 5}

	assert.False(t, w.IsVIP(th))

	w.LargeTradesCount = 5
	assert.True(t, w.IsVIP(th))
}

func TestSeverityFromScore(t *testing.T) {
	assert.Equal(t, SeverityLow, SeverityFromScore(1))
	assert.Equal(t, SeverityLow, SeverityFromScore(3))
	assert.Equal(t, SeverityMedium, SeverityFromScore(4))
	assert.Equal(t, SeverityMedium, SeverityFromScore(6))
	assert.Equal(t, SeverityHigh, SeverityFromScore(7))
	assert.Equal(t, SeverityHigh, SeverityFromScore(10))
}

func TestClampScore(t *testing.T) {
	assert.Equal(t, 1, ClampScore(-5))
	assert.Equal(t, 10, ClampScore(99))
	assert.Equal(t, 5, ClampScore(5))
}

func TestPositionState_NetShares(t *testing.T) {
	p := PositionState{BuyShares: 10, SellShares: 4}
	assert.Equal(t, 6.0, p.NetShares())
}
