package mockexchange

import (
	"context"
	"errors"
	"testing"

	"betexec/internal/types"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func req() types.OrderRequest {
	return types.OrderRequest{MarketID: "1.1", SelectionID: "7", Side: types.SideLay, Odds: decimal.NewFromInt(3), Stake: decimal.NewFromInt(10)}
}

func TestMatchedMode(t *testing.T) {
	ex := New("matched")
	ctx := context.Background()
	res, err := ex.PlaceOrder(ctx, req())
	require.NoError(t, err)
	assert.Equal(t, types.StatusMatched, res.Status)
	assert.True(t, res.MatchedSize.Equal(decimal.NewFromInt(10)))

	bal, err := ex.GetAccountBalance(ctx)
	require.NoError(t, err)
	assert.True(t, bal.Exposure.Equal(decimal.NewFromInt(20)))
}

func TestPendingModeFillAndCancel(t *testing.T) {
	ex := New("pending")
	ctx := context.Background()
	res, err := ex.PlaceOrder(ctx, req())
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, res.Status)

	require.NoError(t, ex.Fill(res.OrderID, decimal.NewFromInt(4)))
	orders, err := ex.ListCurrentOrders(ctx, "1.1")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.True(t, orders[0].SizeRemaining.Equal(decimal.NewFromInt(6)))

	c, err := ex.CancelOrder(ctx, "1.1", res.OrderID)
	require.NoError(t, err)
	assert.True(t, c.SizeCancelled.Equal(decimal.NewFromInt(6)))
	orders, err = ex.ListCurrentOrders(ctx, "1.1")
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestFailOrder(t *testing.T) {
	ex := New("pending")
	ctx := context.Background()
	res, err := ex.PlaceOrder(ctx, req())
	require.NoError(t, err)
	ex.FailOrder(res.OrderID, errors.New("connection dropped"))
	_, err = ex.CancelOrder(ctx, "1.1", res.OrderID)
	assert.Equal(t, types.KindGatewayFailure, types.KindOf(err))
	ex.FailOrder(res.OrderID, nil)
	_, err = ex.CancelOrder(ctx, "1.1", res.OrderID)
	assert.NoError(t, err)
}
