package exchange

import (
	"fmt"
	"strings"

	"betexec/internal/types"

	"github.com/shopspring/decimal"
)

// OrderResult 下单/改单的返回。
type OrderResult struct {
	OrderID         string
	Status          types.OrderStatus
	MatchedSize     decimal.Decimal
	AvgPriceMatched decimal.Decimal
	Message         string
}

type CancelResult struct {
	OrderID       string
	Success       bool
	SizeCancelled decimal.Decimal
	Message       string
}

// CurrentOrder 交易所当前挂单视图中的一条。
type CurrentOrder struct {
	OrderID         string
	MarketID        string
	SelectionID     string
	Side            types.Side
	Status          types.OrderStatus
	Price           decimal.Decimal
	Size            decimal.Decimal
	SizeRemaining   decimal.Decimal
	SizeMatched     decimal.Decimal
	AvgPriceMatched decimal.Decimal
}

type AccountBalance struct {
	AvailableToBet decimal.Decimal
	Exposure       decimal.Decimal
	Balance        decimal.Decimal
	CurrencyCode   string
}

func (b AccountBalance) String() string {
	return fmt.Sprintf("available=%s exposure=%s balance=%s %s",
		b.AvailableToBet.StringFixed(2), b.Exposure.StringFixed(2), b.Balance.StringFixed(2), b.CurrencyCode)
}

// 交易所订单状态
const (
	StatusExecutable        = "EXECUTABLE"
	StatusExecutionComplete = "EXECUTION_COMPLETE"
	StatusCancelled         = "CANCELLED"
)

// ParseOrderStatus: EXECUTABLE→Pending，EXECUTION_COMPLETE→Matched，CANCELLED→Cancelled，其余→Unmatched。
func ParseOrderStatus(raw string) types.OrderStatus {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case StatusExecutable:
		return types.StatusPending
	case StatusExecutionComplete:
		return types.StatusMatched
	case StatusCancelled:
		return types.StatusCancelled
	default:
		return types.StatusUnmatched
	}
}

// FindOrder 在挂单列表中按 id 查找。
func FindOrder(orders []CurrentOrder, orderID string) (CurrentOrder, bool) {
	for _, o := range orders {
		if o.OrderID == orderID {
			return o, true
		}
	}
	return CurrentOrder{}, false
}
