package marketstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whalewatch/internal/trade"
)

func TestInferCategory_Keyword(t *testing.T) {
	assert.Equal(t, trade.CategoryCrypto, InferCategory("Will Bitcoin hit $100k?", "btc-100k", ""))
	assert.Equal(t, trade.CategorySports, InferCategory("Will the Lakers win the NBA title?", "lakers-nba", ""))
	assert.Equal(t, trade.CategoryPolitics, InferCategory("Will the incumbent president win re-election?", "", ""))
}

func TestInferCategory_TickerFallback(t *testing.T) {
	assert.Equal(t, trade.CategorySports, InferCategory("Who wins tonight?", "", "KXNBA-25JUL31"))
	assert.Equal(t, trade.CategoryOther, InferCategory("ambiguous question", "", "ZZZZZ"))
}

func TestCache_UpsertStickyCategory(t *testing.T) {
	c := New(nil)

	m1 := c.Upsert(trade.Market{ID: "m1", Question: "Will Bitcoin hit $100k?", Slug: "btc"})
	assert.Equal(t, trade.CategoryCrypto, m1.Category)

	// A later refresh with unrelated question text must not reclassify.
	m2 := c.Upsert(trade.Market{ID: "m1", Question: "Unrelated question now", Slug: "btc"})
	assert.Equal(t, trade.CategoryCrypto, m2.Category)
}

func TestCache_IsSportsSticky(t *testing.T) {
	c := New(nil)
	m := c.Upsert(trade.Market{ID: "m1", Question: "Will the Celtics win the NBA finals?", Slug: "nba"})
	assert.True(t, m.IsSports)
}

func TestCache_HighFrequencyFlag(t *testing.T) {
	c := New(nil)
	m := c.Upsert(trade.Market{ID: "m1", Question: "BTC up or down in 15 minutes?", Slug: "btc-15-minute-up-or-down"})
	assert.True(t, m.IsHighFrequency)
}

func TestCache_RefreshBatchCapsAt200(t *testing.T) {
	c := New(nil)
	markets := make([]trade.Market, 250)
	for i := range markets {
		markets[i] = trade.Market{ID: string(rune(i)), Question: "q"}
	}
	n := c.RefreshBatch(markets)
	assert.Equal(t, 200, n)
	assert.Equal(t, 200, c.Count())
}

func TestCache_GetUnknown(t *testing.T) {
	c := New(nil)
	require.Nil(t, c.Get("missing"))
}
