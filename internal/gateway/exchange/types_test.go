package exchange

import (
	"testing"

	"betexec/internal/types"

	"github.com/stretchr/testify/assert"
)

func TestParseOrderStatus(t *testing.T) {
	assert.Equal(t, types.StatusPending, ParseOrderStatus("EXECUTABLE"))
	assert.Equal(t, types.StatusMatched, ParseOrderStatus("execution_complete"))
	assert.Equal(t, types.StatusCancelled, ParseOrderStatus("CANCELLED"))
	assert.Equal(t, types.StatusUnmatched, ParseOrderStatus("PENDING"))
	assert.Equal(t, types.StatusUnmatched, ParseOrderStatus(""))
}

func TestFindOrder(t *testing.T) {
	orders := []CurrentOrder{{OrderID: "a"}, {OrderID: "b"}}
	got, ok := FindOrder(orders, "b")
	assert.True(t, ok)
	assert.Equal(t, "b", got.OrderID)
	_, ok = FindOrder(orders, "c")
	assert.False(t, ok)
}
