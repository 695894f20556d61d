package signal

import (
	"testing"

	"betexec/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const arbitragePayload = `{
  "marketId": "1.2345",
  "strategy": "surebet",
  "timestamp": "2024-05-10T11:59:50Z",
  "backSelectionId": "111",
  "backOdds": 2.5,
  "stakeBack": 20,
  "laySelectionId": "222",
  "layOdds": 2.44,
  "stakeLay": 20.5
}`

const strategyPayload = `{
  "signalId": "abc",
  "strategy": "ValueBet",
  "signalType": "VALUE_BET",
  "marketId": "1.2345",
  "timestamp": "2024-05-10T11:59:55Z",
  "validityWindow": 20,
  "primarySelection": {"selectionId": 333, "recommendedOdds": 3.57, "stake": 10, "betType": "Back"},
  "secondarySelection": null
}`

func TestDecode_Arbitrage(t *testing.T) {
	sig, err := Decode(ChannelArbitrage, []byte(arbitragePayload))
	require.NoError(t, err)
	require.Equal(t, KindArbitrage, sig.Kind)
	require.NotNil(t, sig.Arbitrage)
	assert.Equal(t, SelectionID("111"), sig.Arbitrage.BackSelectionID)
	assert.Equal(t, "20.5", sig.Arbitrage.StakeLay.String())
	assert.Equal(t, "surebet-20240510115950", sig.ID())
}

func TestDecode_StrategyNumericIDs(t *testing.T) {
	sig, err := Decode(ChannelStrategy, []byte(strategyPayload))
	require.NoError(t, err)
	require.Equal(t, KindStrategy, sig.Kind)
	assert.Equal(t, SelectionID("333"), sig.Strategy.PrimarySelection.SelectionID)
	assert.Equal(t, BetType(types.SideBack), sig.Strategy.PrimarySelection.BetType)
	assert.Nil(t, sig.Strategy.SecondarySelection)
	assert.Equal(t, "ValueBet-abc", sig.ID())
}

func TestDecode_EnumBetType(t *testing.T) {
	raw := `{"signalId":"x","strategy":"Scalp","marketId":"1.1","timestamp":"2024-05-10T12:00:00Z",
	"primarySelection":{"selectionId":"9","recommendedOdds":"4.1","stake":"5","betType":1}}`
	sig, err := Decode(ChannelStrategy, []byte(raw))
	require.NoError(t, err)
	assert.Equal(t, BetType(types.SideLay), sig.Strategy.PrimarySelection.BetType)
}

func TestDecode_Malformed(t *testing.T) {
	cases := map[string]string{
		"not json":         `{"marketId":`,
		"array":            `[1,2]`,
		"missing market":   `{"timestamp":"2024-05-10T12:00:00Z","backSelectionId":"1"}`,
		"no legs":          `{"marketId":"1.1","timestamp":"2024-05-10T12:00:00Z"}`,
		"bad timestamp":    `{"marketId":"1.1","timestamp":"yesterday","backSelectionId":"1"}`,
		"strategy missing": `{"signalId":"x","marketId":"1.1","timestamp":"2024-05-10T12:00:00Z"}`,
		"bad bet type":     `{"signalId":"x","strategy":"s","marketId":"1.1","timestamp":"2024-05-10T12:00:00Z","primarySelection":{"selectionId":"1","recommendedOdds":2,"stake":2,"betType":"Sideways"}}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(ChannelArbitrage, []byte(raw))
			require.Error(t, err)
			assert.Equal(t, types.KindMalformedInput, types.KindOf(err))
		})
	}
}

func TestClassify(t *testing.T) {
	assert.Equal(t, KindStrategy, Classify(ChannelArbitrage, []byte(`{"signalId":"1"}`)))
	assert.Equal(t, KindArbitrage, Classify(ChannelStrategy, []byte(`{"laySelectionId":"1"}`)))
	assert.Equal(t, KindStrategy, Classify(ChannelStrategy, []byte(`{"marketId":"1"}`)))
	assert.Equal(t, KindUnknown, Classify("other", []byte(`{"marketId":"1"}`)))
}
