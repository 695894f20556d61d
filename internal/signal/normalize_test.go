package signal

import (
	"testing"
	"time"

	"betexec/internal/types"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

func newTestNormalizer() *Normalizer {
	return NewNormalizer(NormalizerConfig{
		MaxSignalAge: 60 * time.Second,
		MinStake:     decimal.NewFromInt(2),
	}, func() time.Time { return testNow })
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func strategySignal(window float64, age time.Duration) Signal {
	return Signal{Kind: KindStrategy, Strategy: &StrategySignal{
		SignalID:       "s1",
		Strategy:       "SteamMove",
		MarketID:       "1.500",
		Timestamp:      testNow.Add(-age),
		ValidityWindow: window,
		PrimarySelection: &SelectionSignal{
			SelectionID: "77", RecommendedOdds: dec("5.03"), Stake: dec("10"), BetType: BetType(types.SideLay),
		},
	}}
}

func TestNormalize_StrategyValidityWindow(t *testing.T) {
	n := newTestNormalizer()

	res := n.Normalize(strategySignal(20, 25*time.Second))
	assert.Equal(t, DispositionExpired, res.Disposition)
	assert.Empty(t, res.Requests)

	res = n.Normalize(strategySignal(20, 15*time.Second))
	require.Equal(t, DispositionAccepted, res.Disposition)
	require.Len(t, res.Requests, 1)
	req := res.Requests[0]
	assert.Equal(t, types.SideLay, req.Side)
	assert.True(t, req.Odds.Equal(dec("5.0")), req.Odds.String())
	assert.Equal(t, "SteamMove-s1", req.CorrelationID)
}

func TestNormalize_StrategyZeroWindowFallsBackToMaxAge(t *testing.T) {
	n := newTestNormalizer()
	assert.Equal(t, DispositionAccepted, n.Normalize(strategySignal(0, 45*time.Second)).Disposition)
	assert.Equal(t, DispositionExpired, n.Normalize(strategySignal(0, 61*time.Second)).Disposition)
}

func TestNormalize_StrategySecondaryLeg(t *testing.T) {
	sig := strategySignal(30, time.Second)
	sig.Strategy.SecondarySelection = &SelectionSignal{
		SelectionID: "78", RecommendedOdds: dec("2.0"), Stake: dec("5"), BetType: BetType(types.SideBack),
	}
	res := newTestNormalizer().Normalize(sig)
	require.Len(t, res.Requests, 2)
	assert.Equal(t, "78", res.Requests[1].SelectionID)
	assert.Equal(t, res.Requests[0].CorrelationID, res.Requests[1].CorrelationID)
}

func TestNormalize_ArbitrageLegs(t *testing.T) {
	n := newTestNormalizer()
	a := &ArbitrageSignal{
		MarketID:        "1.900",
		Timestamp:       time.Date(2024, 5, 10, 11, 59, 30, 0, time.UTC),
		BackSelectionID: "1",
		BackOdds:        dec("2.5"),
		StakeBack:       dec("20"),
		LaySelectionID:  "2",
		LayOdds:         dec("2.44"),
		StakeLay:        dec("20.5"),
	}
	res := n.Normalize(Signal{Kind: KindArbitrage, Arbitrage: a})
	require.Equal(t, DispositionAccepted, res.Disposition)
	require.Len(t, res.Requests, 2)
	assert.Equal(t, types.SideBack, res.Requests[0].Side)
	assert.Equal(t, types.SideLay, res.Requests[1].Side)
	for _, r := range res.Requests {
		assert.Equal(t, "surebet-20240510115930", r.CorrelationID)
		assert.Equal(t, "1.900", r.MarketID)
	}

	// 只有一条腿带 selection id
	a.LaySelectionID = ""
	res = n.Normalize(Signal{Kind: KindArbitrage, Arbitrage: a})
	require.Len(t, res.Requests, 1)
	assert.Equal(t, "1", res.Requests[0].SelectionID)
}

func TestNormalize_ArbitrageIgnoresAge(t *testing.T) {
	a := &ArbitrageSignal{
		MarketID: "1.9", Timestamp: testNow.Add(-2 * time.Hour),
		BackSelectionID: "1", BackOdds: dec("2"), StakeBack: dec("5"),
		LaySelectionID: "2", LayOdds: dec("2.1"), StakeLay: dec("5"),
	}
	res := newTestNormalizer().Normalize(Signal{Kind: KindArbitrage, Arbitrage: a})
	assert.Equal(t, DispositionAccepted, res.Disposition)
	assert.Len(t, res.Requests, 2)
}

func TestNormalize_ArbitrageKeepsSmallLegs(t *testing.T) {
	a := &ArbitrageSignal{
		MarketID: "1.9", Timestamp: testNow,
		BackSelectionID: "1", BackOdds: dec("2.03"), StakeBack: dec("1"),
		LaySelectionID: "2", LayOdds: dec("1005"), StakeLay: dec("0"),
	}
	res := newTestNormalizer().Normalize(Signal{Kind: KindArbitrage, Arbitrage: a})
	require.Equal(t, DispositionAccepted, res.Disposition)
	require.Len(t, res.Requests, 2)
	assert.Empty(t, res.Skipped)
	assert.True(t, dec("2.04").Equal(res.Requests[0].Odds), res.Requests[0].Odds.String())
	assert.True(t, dec("1").Equal(res.Requests[0].Stake))
	assert.True(t, res.Requests[1].Stake.IsZero())
}

func TestNormalize_StrategySkipsInvalidLegs(t *testing.T) {
	sig := strategySignal(30, time.Second)
	sig.Strategy.PrimarySelection.Stake = dec("1")
	sig.Strategy.SecondarySelection = &SelectionSignal{SelectionID: "78", RecommendedOdds: dec("3"), Stake: dec("0"), BetType: BetType(types.SideBack)}
	res := newTestNormalizer().Normalize(sig)
	assert.Equal(t, DispositionEmpty, res.Disposition)
	assert.Len(t, res.Skipped, 2)
}
