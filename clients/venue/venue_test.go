package venue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClampPrice(t *testing.T) {
	assert.Equal(t, 0.0, ClampPrice(-0.5))
	assert.Equal(t, 1.0, ClampPrice(1.0000001))
	assert.Equal(t, 0.42, ClampPrice(0.42))
}

func TestRetry_SucceedsWithoutRetryingNonTransient(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), DefaultRetryConfig(), func(ctx context.Context) error {
		calls++
		return errors.New("boom")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "non-transient error should not be retried")
}

func TestRetry_RetriesTransientUntilSuccess(t *testing.T) {
	calls := 0
	cfg := RetryConfig{MaxAttempts: 4, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	err := Retry(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return ErrAdapterTransient
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	calls := 0
	cfg := RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
	err := Retry(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		return ErrAdapterTransient
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetry_RespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
	calls := 0
	err := Retry(ctx, cfg, func(ctx context.Context) error {
		calls++
		return ErrAdapterTransient
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "should attempt once before checking ctx on the sleep between attempts")
}

func TestAnonymousTraderID_StableAndVenueScoped(t *testing.T) {
	assert.Equal(t, "ANON:kalshi", AnonymousTraderID("kalshi"))
	assert.NotEqual(t, AnonymousTraderID("kalshi"), AnonymousTraderID("polymarket"))
}

func TestTimeFromUnixMillisAndSeconds(t *testing.T) {
	assert.Equal(t, int64(1700000000), TimeFromUnixMillis(1700000000000).Unix())
	assert.Equal(t, int64(1700000000), TimeFromUnixSeconds(1700000000).Unix())
}

func TestFormTradeID_SameFieldsSameID(t *testing.T) {
	streamID := FormTradeID("polymarket", "0xhash", "Yes")
	pollID := FormTradeID("polymarket", "0xhash", "Yes")
	assert.Equal(t, streamID, pollID)
	assert.Equal(t, "polymarket:0xhash:Yes", streamID)
}

func TestFormTradeID_VenueScoped(t *testing.T) {
	assert.NotEqual(t, FormTradeID("polymarket", "tx1"), FormTradeID("kalshi", "tx1"))
}

func TestDecodeBatch_SkipsMalformedItemsAggregatingErrors(t *testing.T) {
	items := []json.RawMessage{
		json.RawMessage(`{"n":1}`),
		json.RawMessage(`not-json`),
		json.RawMessage(`{"n":3}`),
	}
	parsed, err := DecodeBatch(items, func(raw json.RawMessage) (int, error) {
		var v struct {
			N int `json:"n"`
		}
		if uerr := json.Unmarshal(raw, &v); uerr != nil {
			return 0, fmt.Errorf("decode: %w", uerr)
		}
		return v.N, nil
	})
	require.Error(t, err)
	assert.Equal(t, []int{1, 3}, parsed)
}

func TestDecodeBatch_AllValidReturnsNilError(t *testing.T) {
	items := []json.RawMessage{json.RawMessage(`1`), json.RawMessage(`2`)}
	parsed, err := DecodeBatch(items, func(raw json.RawMessage) (int, error) {
		var v int
		uerr := json.Unmarshal(raw, &v)
		return v, uerr
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, parsed)
}
