package gormstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"betexec/internal/types"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	s, err := NewGormStore(filepath.Join(t.TempDir(), "data", "trades.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleTrade(id, orderID string, at time.Time) types.Trade {
	return types.Trade{
		ID:          id,
		OrderID:     orderID,
		Timestamp:   at,
		MarketID:    "1.234",
		SelectionID: "5678",
		Stake:       decimal.RequireFromString("10"),
		Odds:        decimal.RequireFromString("2.5"),
		Type:        "BACK",
		Status:      "MATCHED",
		Commission:  decimal.RequireFromString("0.75"),
		CreatedAt:   at,
	}
}

func TestSaveAndGetTrade(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveTrade(ctx, sampleTrade("t1", "o1", at)))
	// 同一订单重复写入被忽略
	require.NoError(t, s.SaveTrade(ctx, sampleTrade("t2", "o1", at)))

	got, err := s.GetTrade(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "o1", got.OrderID)
	assert.True(t, got.Stake.Equal(decimal.NewFromInt(10)))
	assert.True(t, got.Commission.Equal(decimal.RequireFromString("0.75")))
	assert.Nil(t, got.NetProfit)
	assert.False(t, got.Settled())
	assert.True(t, got.Timestamp.Equal(at))

	_, err = s.GetTrade(ctx, "t2")
	assert.ErrorIs(t, err, ErrTradeNotFound)
}

func TestSettleTradeUpdatesSummary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.SaveTrade(ctx, sampleTrade("t1", "o1", at)))
	require.NoError(t, s.SaveTrade(ctx, sampleTrade("t2", "o2", at.Add(time.Minute))))

	settleAt := at.Add(2 * time.Hour)
	trade, err := s.SettleTrade(ctx, types.Settlement{
		TradeID:    "t1",
		ProfitLoss: decimal.RequireFromString("15"),
		NetProfit:  decimal.RequireFromString("14.25"),
		SettledAt:  settleAt,
	})
	require.NoError(t, err)
	require.NotNil(t, trade.NetProfit)
	assert.True(t, trade.NetProfit.Equal(decimal.RequireFromString("14.25")))
	assert.True(t, trade.Settled())

	_, err = s.SettleTrade(ctx, types.Settlement{TradeID: "t1", SettledAt: settleAt})
	assert.ErrorIs(t, err, ErrAlreadySettled)
	_, err = s.SettleTrade(ctx, types.Settlement{TradeID: "missing", SettledAt: settleAt})
	assert.ErrorIs(t, err, ErrTradeNotFound)

	_, err = s.SettleTrade(ctx, types.Settlement{
		TradeID:    "t2",
		ProfitLoss: decimal.RequireFromString("-10"),
		NetProfit:  decimal.RequireFromString("-9.5"),
		SettledAt:  settleAt,
	})
	require.NoError(t, err)

	sum, err := s.DailySummary(ctx, settleAt)
	require.NoError(t, err)
	assert.Equal(t, "2024-05-01", sum.Date)
	assert.Equal(t, 2, sum.TotalTrades)
	assert.Equal(t, 1, sum.WinningTrades)
	assert.True(t, sum.TotalStake.Equal(decimal.NewFromInt(20)))
	assert.True(t, sum.GrossProfit.Equal(decimal.NewFromInt(5)))
	assert.True(t, sum.NetProfit.Equal(decimal.RequireFromString("4.75")))
	assert.True(t, sum.TotalCommission.Equal(decimal.RequireFromString("1.5")))

	empty, err := s.DailySummary(ctx, settleAt.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, 0, empty.TotalTrades)
}

func TestListTrades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		tr := sampleTrade(id, "o-"+id, at.Add(time.Duration(i)*time.Minute))
		if id == "c" {
			tr.MarketID = "1.999"
		}
		require.NoError(t, s.SaveTrade(ctx, tr))
	}
	_, err := s.SettleTrade(ctx, types.Settlement{TradeID: "a", ProfitLoss: decimal.NewFromInt(1), NetProfit: decimal.NewFromInt(1), SettledAt: at})
	require.NoError(t, err)

	all, err := s.ListTrades(ctx, TradeQuery{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].ID)

	pending, err := s.ListTrades(ctx, TradeQuery{MarketID: "1.234", OnlyPending: true})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "b", pending[0].ID)
}
