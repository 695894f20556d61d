// Package mockexchange 是本地模拟交易所，用于 mode=mock 与集成测试。
// 订单保存在内存中，按 FillMode 决定下单后是立即全部成交还是挂单。
package mockexchange

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"betexec/internal/gateway/exchange"
	"betexec/internal/logger"
	"betexec/internal/types"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type FillMode string

const (
	FillMatched FillMode = "matched"
	FillPending FillMode = "pending"
)

type order struct {
	current   exchange.CurrentOrder
	cancelled bool
}

type Exchange struct {
	mode FillMode

	mu      sync.Mutex
	orders  map[string]*order
	balance decimal.Decimal
	failing map[string]error
}

func New(mode string) *Exchange {
	m := FillMode(strings.ToLower(strings.TrimSpace(mode)))
	if m != FillPending {
		m = FillMatched
	}
	return &Exchange{
		mode:    m,
		orders:  make(map[string]*order),
		balance: decimal.NewFromInt(1000),
		failing: make(map[string]error),
	}
}

func (e *Exchange) Name() string { return "mock" }

func (e *Exchange) Authenticate(ctx context.Context) error {
	logger.Infof("[MOCK] authenticate")
	return nil
}

func (e *Exchange) Authenticated() bool { return true }

// FailOrder 让针对某个订单的后续调用返回 err，nil 表示恢复。
func (e *Exchange) FailOrder(orderID string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err == nil {
		delete(e.failing, orderID)
		return
	}
	e.failing[orderID] = err
}

// Fill 模拟撮合 size 金额。
func (e *Exchange) Fill(orderID string, size decimal.Decimal) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[orderID]
	if !ok || o.cancelled {
		return fmt.Errorf("mock: order %s not open", orderID)
	}
	if size.GreaterThan(o.current.SizeRemaining) {
		size = o.current.SizeRemaining
	}
	o.current.SizeRemaining = o.current.SizeRemaining.Sub(size)
	o.current.SizeMatched = o.current.SizeMatched.Add(size)
	o.current.AvgPriceMatched = o.current.Price
	if o.current.SizeRemaining.IsZero() {
		o.current.Status = types.StatusMatched
	}
	return nil
}

// Forget 从挂单视图中删除订单，模拟交易所侧已结束。
func (e *Exchange) Forget(orderID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.orders, orderID)
}

func (e *Exchange) PlaceOrder(ctx context.Context, req types.OrderRequest) (exchange.OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return exchange.OrderResult{}, types.GatewayFailed("place order", err)
	}
	id := uuid.NewString()
	cur := exchange.CurrentOrder{
		OrderID:       id,
		MarketID:      req.MarketID,
		SelectionID:   req.SelectionID,
		Side:          req.Side,
		Status:        types.StatusPending,
		Price:         req.Odds,
		Size:          req.Stake,
		SizeRemaining: req.Stake,
	}
	if e.mode == FillMatched {
		cur.Status = types.StatusMatched
		cur.SizeRemaining = decimal.Zero
		cur.SizeMatched = req.Stake
		cur.AvgPriceMatched = req.Odds
	}
	e.mu.Lock()
	e.orders[id] = &order{current: cur}
	e.mu.Unlock()
	logger.Infof("[MOCK] place %s -> %s %s", req, id, cur.Status)
	return exchange.OrderResult{
		OrderID:         id,
		Status:          cur.Status,
		MatchedSize:     cur.SizeMatched,
		AvgPriceMatched: cur.AvgPriceMatched,
		Message:         "mock order accepted",
	}, nil
}

func (e *Exchange) CancelOrder(ctx context.Context, marketID, orderID string) (exchange.CancelResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.failing[orderID]; err != nil {
		return exchange.CancelResult{OrderID: orderID}, types.GatewayFailed("cancel order", err)
	}
	o, ok := e.orders[orderID]
	if !ok {
		return exchange.CancelResult{OrderID: orderID}, types.GatewayFailed("cancel order", fmt.Errorf("BET_TAKEN_OR_LAPSED"))
	}
	cancelled := o.current.SizeRemaining
	o.cancelled = true
	o.current.Status = types.StatusCancelled
	o.current.SizeRemaining = decimal.Zero
	logger.Infof("[MOCK] cancel %s market=%s", orderID, marketID)
	return exchange.CancelResult{OrderID: orderID, Success: true, SizeCancelled: cancelled, Message: "SUCCESS"}, nil
}

func (e *Exchange) UpdateOrder(ctx context.Context, marketID, orderID string, newStake, newOdds *decimal.Decimal) (exchange.OrderResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.failing[orderID]; err != nil {
		return exchange.OrderResult{}, types.GatewayFailed("update order", err)
	}
	o, ok := e.orders[orderID]
	if !ok || o.cancelled {
		return exchange.OrderResult{}, types.GatewayFailed("update order", fmt.Errorf("order %s not open", orderID))
	}
	if newOdds != nil {
		o.current.Price = *newOdds
	}
	if newStake != nil {
		if newStake.LessThan(o.current.SizeMatched) {
			return exchange.OrderResult{}, types.Rejected("update order", "new stake below matched size")
		}
		o.current.Size = *newStake
		o.current.SizeRemaining = newStake.Sub(o.current.SizeMatched)
	}
	return exchange.OrderResult{
		OrderID:         orderID,
		Status:          o.current.Status,
		MatchedSize:     o.current.SizeMatched,
		AvgPriceMatched: o.current.AvgPriceMatched,
		Message:         "mock order updated",
	}, nil
}

// ListCurrentOrders 返回市场内所有订单（包括已成交），撤销的订单不再列出。
func (e *Exchange) ListCurrentOrders(ctx context.Context, marketID string) ([]exchange.CurrentOrder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]exchange.CurrentOrder, 0, len(e.orders))
	for id, o := range e.orders {
		if o.current.MarketID != marketID || o.cancelled {
			continue
		}
		if err := e.failing[id]; err != nil {
			return nil, types.GatewayFailed("list current orders", err)
		}
		out = append(out, o.current)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out, nil
}

func (e *Exchange) GetAccountBalance(ctx context.Context) (exchange.AccountBalance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	exposure := decimal.Zero
	for _, o := range e.orders {
		if o.cancelled {
			continue
		}
		exposure = exposure.Add(types.Liability(o.current.Side, o.current.Size, o.current.Price))
	}
	return exchange.AccountBalance{
		AvailableToBet: e.balance.Sub(exposure),
		Exposure:       exposure,
		Balance:        e.balance,
		CurrencyCode:   "EUR",
	}, nil
}

var _ exchange.Gateway = (*Exchange)(nil)
