package ledger

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"betexec/internal/types"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestLedger(t *testing.T) (*Ledger, *miniredis.Miniredis, *fakeClock) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	clock := &fakeClock{now: time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)}
	return New(rdb, WithClock(clock.Now)), mr, clock
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestIncrExposure_AccumulatesAndSnapshots(t *testing.T) {
	l, mr, _ := newTestLedger(t)
	ctx := context.Background()

	total, err := l.IncrExposure(ctx, "1.234", "555", dec("50"), PositionSnapshot{Side: types.SideBack, Stake: dec("50"), Odds: dec("2.5"), Exposure: dec("50")})
	require.NoError(t, err)
	assert.True(t, total.Equal(dec("50")))

	total, err = l.IncrExposure(ctx, "1.234", "555", dec("100"), PositionSnapshot{Side: types.SideLay, Stake: dec("50"), Odds: dec("3"), Exposure: dec("100")})
	require.NoError(t, err)
	assert.True(t, total.Equal(dec("150")))

	sel, err := l.SelectionExposure(ctx, "1.234", "555")
	require.NoError(t, err)
	assert.True(t, sel.Equal(dec("150")))

	positions, err := l.Positions(ctx, "1.234")
	require.NoError(t, err)
	require.Contains(t, positions, "555")
	assert.Equal(t, types.SideLay, positions["555"].Side)

	assert.Equal(t, 24*time.Hour, mr.TTL(ExposureKey("1.234")))
	assert.Equal(t, 24*time.Hour, mr.TTL(PositionsKey("1.234")))
}

func TestMarketExposureTotal(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()
	_, err := l.IncrExposure(ctx, "m1", "a", dec("20"), PositionSnapshot{})
	require.NoError(t, err)
	_, err = l.IncrExposure(ctx, "m1", "b", dec("30.5"), PositionSnapshot{})
	require.NoError(t, err)

	total, err := l.MarketExposureTotal(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, total.Equal(dec("50.5")), total.String())

	empty, err := l.MarketExposureTotal(ctx, "unknown")
	require.NoError(t, err)
	assert.True(t, empty.IsZero())
}

func TestLimits_RoundTripAndEnsure(t *testing.T) {
	l, mr, _ := newTestLedger(t)
	ctx := context.Background()

	_, found, err := l.Limits(ctx)
	require.NoError(t, err)
	assert.False(t, found)

	got, err := l.EnsureLimits(ctx, types.DefaultRiskLimits())
	require.NoError(t, err)
	assert.True(t, got.Bankroll.Equal(dec("10000")))
	assert.Equal(t, "10000.00", mr.HGet(KeyRiskLimits, "Bankroll"))
	assert.Equal(t, "0.0200", mr.HGet(KeyRiskLimits, "MaxRiskPerTradePercent"))

	custom := types.DefaultRiskLimits()
	custom.MaxStakePerOrder = dec("25")
	require.NoError(t, l.SetLimits(ctx, custom))

	// EnsureLimits must not overwrite an existing snapshot.
	got, err = l.EnsureLimits(ctx, types.DefaultRiskLimits())
	require.NoError(t, err)
	assert.True(t, got.MaxStakePerOrder.Equal(dec("25")))
}

func TestAppendFailure_WindowPruneAndDistinctEntries(t *testing.T) {
	l, mr, clock := newTestLedger(t)
	ctx := context.Background()
	window := 5 * time.Minute

	_, err := l.AppendFailure(ctx, "o1", "timeout", window)
	require.NoError(t, err)
	_, err = l.AppendFailure(ctx, "o1", "timeout", window)
	require.NoError(t, err)

	members, err := mr.ZMembers(KeyFailedOrders)
	require.NoError(t, err)
	assert.Len(t, members, 2)

	clock.Advance(6 * time.Minute)
	_, err = l.AppendFailure(ctx, "o2", "rejected", window)
	require.NoError(t, err)

	members, err = mr.ZMembers(KeyFailedOrders)
	require.NoError(t, err)
	require.Len(t, members, 1)
	var rec types.FailureRecord
	require.NoError(t, json.Unmarshal([]byte(members[0]), &rec))
	assert.Equal(t, "o2", rec.OrderID)

	n, err := l.CountFailuresSince(ctx, clock.Now().Add(-window))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestFlags(t *testing.T) {
	l, mr, clock := newTestLedger(t)
	ctx := context.Background()

	enabled, err := l.TradingEnabled(ctx)
	require.NoError(t, err)
	assert.False(t, enabled, "missing flag means disabled")

	for _, raw := range []string{"false", "0"} {
		require.NoError(t, mr.Set(KeyTradingEnabled, raw))
		enabled, err = l.TradingEnabled(ctx)
		require.NoError(t, err)
		assert.False(t, enabled, raw)
	}
	prev, err := l.SetTradingEnabled(ctx, true)
	require.NoError(t, err)
	assert.False(t, prev)
	prev, err = l.SetTradingEnabled(ctx, true)
	require.NoError(t, err)
	assert.True(t, prev)
	enabled, err = l.TradingEnabled(ctx)
	require.NoError(t, err)
	assert.True(t, enabled)

	changed, err := l.LatchCircuitBreaker(ctx)
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = l.LatchCircuitBreaker(ctx)
	require.NoError(t, err)
	assert.False(t, changed)

	clock.Advance(time.Minute)
	resetAt, err := l.ClearCircuitBreaker(ctx)
	require.NoError(t, err)
	latched, err := l.CircuitBreakerLatched(ctx)
	require.NoError(t, err)
	assert.False(t, latched)
	got, err := l.CircuitBreakerResetAt(ctx)
	require.NoError(t, err)
	assert.Equal(t, resetAt.UnixMilli(), got.UnixMilli())
}

func TestAddPnL(t *testing.T) {
	l, mr, clock := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.AddPnL(ctx, dec("-120.5")))
	require.NoError(t, l.AddPnL(ctx, dec("20")))

	today, err := l.TodayPnL(ctx)
	require.NoError(t, err)
	assert.True(t, today.Equal(dec("-100.5")), today.String())
	assert.Equal(t, 48*time.Hour, mr.TTL(DailyPnLKey(clock.Now())))

	clock.Advance(24 * time.Hour)
	require.NoError(t, l.AddPnL(ctx, dec("10")))
	total, err := l.TotalPnL(ctx)
	require.NoError(t, err)
	assert.True(t, total.Equal(dec("-90.5")), total.String())
	today, err = l.TodayPnL(ctx)
	require.NoError(t, err)
	assert.True(t, today.Equal(dec("10")))
}

func TestStageTrade(t *testing.T) {
	l, mr, _ := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.StageTrade(ctx, "t-1", []byte(`{"id":"t-1"}`)))
	got, err := mr.Get(PendingTradeKey("t-1"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"t-1"}`, got)
	assert.Equal(t, 24*time.Hour, mr.TTL(PendingTradeKey("t-1")))
}
