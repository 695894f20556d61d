// Package exchange 定义撮合交易所网关的抽象，订单管理只依赖这里的接口，
// 具体实现有 betfair（REST）与 mockexchange（本地模拟）。
package exchange

import (
	"context"

	"betexec/internal/types"

	"github.com/shopspring/decimal"
)

// Gateway 的每个调用都必须受 ctx 超时约束；没有明确成功即视为失败。
type Gateway interface {
	Name() string

	Authenticate(ctx context.Context) error

	Authenticated() bool

	PlaceOrder(ctx context.Context, req types.OrderRequest) (OrderResult, error)

	CancelOrder(ctx context.Context, marketID, orderID string) (CancelResult, error)

	// UpdateOrder 改价或改量；nil 表示不修改该项。
	UpdateOrder(ctx context.Context, marketID, orderID string, newStake, newOdds *decimal.Decimal) (OrderResult, error)

	ListCurrentOrders(ctx context.Context, marketID string) ([]CurrentOrder, error)

	GetAccountBalance(ctx context.Context) (AccountBalance, error)
}
