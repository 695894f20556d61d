// Package order 管理已经下到交易所的订单：下单、周期对账、超时撤单与人工撤单。
// 活跃订单集合只通过 Manager 的方法修改，对外只暴露副本。
package order

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"betexec/internal/config"
	"betexec/internal/gateway/exchange"
	"betexec/internal/logger"
	"betexec/internal/metrics"
	"betexec/internal/types"

	"github.com/shopspring/decimal"
)

const errOrderNotFound = "order not found"

type Options struct {
	StatusCheckInterval time.Duration
	MaxOrdersPerCheck   int
	UnmatchedTimeout    time.Duration
	PlacementTimeout    time.Duration
}

func OptionsFromConfig(orders config.OrdersConfig, exec config.ExecutorConfig) Options {
	return Options{
		StatusCheckInterval: time.Duration(orders.StatusCheckIntervalSeconds) * time.Second,
		MaxOrdersPerCheck:   orders.MaxOrdersPerCheck,
		UnmatchedTimeout:    time.Duration(orders.UnmatchedOrderTimeoutSeconds) * time.Second,
		PlacementTimeout:    time.Duration(exec.PlacementTimeoutSeconds) * time.Second,
	}
}

// Hooks 在订单到达终态或网关调用失败时回调，均可为空。
type Hooks struct {
	// OnCancelled: 撤单成功，订单已移出活跃集合。
	OnCancelled func(ctx context.Context, o types.ManagedOrder, reason string)
	// OnGone: 对账时交易所已不再列出该订单，无法判断成败。
	OnGone func(ctx context.Context, o types.ManagedOrder)
	// OnGatewayFailure: 撤单/对账/改单调用失败。
	OnGatewayFailure func(ctx context.Context, orderID, op string, err error)
}

type entry struct {
	order     types.ManagedOrder
	handedOff bool
}

type Manager struct {
	gateway exchange.Gateway
	opts    Options
	hooks   Hooks
	nowFn   func() time.Time

	mu      sync.Mutex
	active  map[string]*entry
	matched []types.ManagedOrder
}

func NewManager(gw exchange.Gateway, opts Options, hooks Hooks) *Manager {
	if opts.StatusCheckInterval <= 0 {
		opts.StatusCheckInterval = 5 * time.Second
	}
	if opts.MaxOrdersPerCheck <= 0 {
		opts.MaxOrdersPerCheck = 10
	}
	if opts.UnmatchedTimeout <= 0 {
		opts.UnmatchedTimeout = 30 * time.Second
	}
	if opts.PlacementTimeout <= 0 {
		opts.PlacementTimeout = 10 * time.Second
	}
	return &Manager{
		gateway: gw,
		opts:    opts,
		hooks:   hooks,
		nowFn:   time.Now,
		active:  make(map[string]*entry),
	}
}

// SetClock 测试用。
func (m *Manager) SetClock(fn func() time.Time) {
	if fn != nil {
		m.nowFn = fn
	}
}

// Place 在超时约束下调用网关下单。成功时订单进入活跃集合；失败时不插入任何记录，
// 错误原样返回（由调用方写失败记录），不自动重试。
func (m *Manager) Place(ctx context.Context, req types.OrderRequest) (types.ManagedOrder, error) {
	ctx, cancel := context.WithTimeout(ctx, m.opts.PlacementTimeout)
	defer cancel()

	logger.Infof("order: placing %s", req)
	res, err := m.gateway.PlaceOrder(ctx, req)
	if err != nil {
		if types.KindOf(err) == types.KindUnknown {
			err = types.GatewayFailed("place order", err)
		}
		return types.ManagedOrder{}, err
	}
	if res.OrderID == "" {
		return types.ManagedOrder{}, types.GatewayFailed("place order", errors.New("exchange returned no order id"))
	}
	if res.Status == types.StatusCancelled {
		return types.ManagedOrder{}, types.GatewayFailed("place order", fmt.Errorf("order %s cancelled by exchange: %s", res.OrderID, res.Message))
	}

	now := m.nowFn()
	o := types.ManagedOrder{
		OrderID:         res.OrderID,
		MarketID:        req.MarketID,
		SelectionID:     req.SelectionID,
		Side:            req.Side,
		RequestedOdds:   req.Odds,
		RequestedStake:  req.Stake,
		Status:          res.Status,
		PlacedAt:        now,
		LastCheckedAt:   now,
		MatchedSize:     res.MatchedSize,
		AvgPriceMatched: res.AvgPriceMatched,
		CorrelationID:   req.CorrelationID,
	}
	if o.Status == "" {
		o.Status = types.StatusPending
	}
	o.Status = refineStatus(o.Status, o.MatchedSize, o.RequestedStake)

	m.mu.Lock()
	e := &entry{order: o}
	if fullyMatched(o) {
		e.handedOff = true
		m.matched = append(m.matched, o)
	}
	m.active[o.OrderID] = e
	n := len(m.active)
	m.mu.Unlock()

	metrics.SetActiveOrders(n)
	logger.Infof("order: %s tracked status=%s matched=%s active=%d", o.OrderID, o.Status, o.MatchedSize.StringFixed(2), n)
	return o, nil
}

// Cancel 撤销一个活跃订单。不在活跃集合中返回 StateInconsistency。
func (m *Manager) Cancel(ctx context.Context, orderID string) (exchange.CancelResult, error) {
	return m.cancel(ctx, orderID, "manual")
}

func (m *Manager) cancel(ctx context.Context, orderID, reason string) (exchange.CancelResult, error) {
	o, ok := m.Get(orderID)
	if !ok {
		logger.Warnf("order: cancel %s: %s", orderID, errOrderNotFound)
		return exchange.CancelResult{OrderID: orderID, Message: errOrderNotFound}, types.Inconsistent("cancel order", errOrderNotFound)
	}
	res, err := m.gateway.CancelOrder(ctx, o.MarketID, orderID)
	if err == nil && !res.Success {
		err = types.GatewayFailed("cancel order", fmt.Errorf("exchange did not confirm cancel: %s", res.Message))
	}
	if err != nil {
		m.gatewayFailed(ctx, orderID, "cancel", err)
		return res, err
	}

	m.mu.Lock()
	e, still := m.active[orderID]
	if still {
		e.order.Status = types.StatusCancelled
		e.order.LastCheckedAt = m.nowFn()
		o = e.order
		delete(m.active, orderID)
	}
	n := len(m.active)
	m.mu.Unlock()

	metrics.SetActiveOrders(n)
	metrics.OrderCancelled(reason)
	logger.Infof("order: %s cancelled (%s), removed from tracking", orderID, reason)
	if still && m.hooks.OnCancelled != nil {
		m.hooks.OnCancelled(ctx, o, reason)
	}
	return res, nil
}

// Update 改价/改量。Betfair 改价会返回新的 order id，这里同步更新键。
func (m *Manager) Update(ctx context.Context, orderID string, newStake, newOdds *decimal.Decimal) (types.ManagedOrder, error) {
	o, ok := m.Get(orderID)
	if !ok {
		return types.ManagedOrder{}, types.Inconsistent("update order", errOrderNotFound)
	}
	ctx, cancel := context.WithTimeout(ctx, m.opts.PlacementTimeout)
	defer cancel()
	res, err := m.gateway.UpdateOrder(ctx, o.MarketID, orderID, newStake, newOdds)
	if err != nil {
		if types.KindOf(err) == types.KindUnknown || types.KindOf(err) == types.KindGatewayFailure {
			m.gatewayFailed(ctx, orderID, "update", err)
		}
		return types.ManagedOrder{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	e, still := m.active[orderID]
	if !still {
		return types.ManagedOrder{}, types.Inconsistent("update order", "order "+orderID+" finished during update")
	}
	if newStake != nil {
		e.order.RequestedStake = *newStake
	}
	if newOdds != nil {
		e.order.RequestedOdds = *newOdds
	}
	if res.Status != "" {
		e.order.Status = res.Status
	}
	e.order.LastCheckedAt = m.nowFn()
	if res.OrderID != "" && res.OrderID != orderID {
		delete(m.active, orderID)
		e.order.OrderID = res.OrderID
		m.active[res.OrderID] = e
		logger.Infof("order: %s replaced by %s", orderID, res.OrderID)
	}
	return e.order, nil
}

// Get 返回订单副本。
func (m *Manager) Get(orderID string) (types.ManagedOrder, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.active[orderID]
	if !ok {
		return types.ManagedOrder{}, false
	}
	return e.order, true
}

// Active 返回所有活跃订单的副本，按下单时间排序。
func (m *Manager) Active() []types.ManagedOrder {
	m.mu.Lock()
	out := make([]types.ManagedOrder, 0, len(m.active))
	for _, e := range m.active {
		out = append(out, e.order)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].PlacedAt.Equal(out[j].PlacedAt) {
			return out[i].OrderID < out[j].OrderID
		}
		return out[i].PlacedAt.Before(out[j].PlacedAt)
	})
	return out
}

func (m *Manager) ActiveForMarket(marketID string) []types.ManagedOrder {
	all := m.Active()
	out := all[:0]
	for _, o := range all {
		if o.MarketID == marketID {
			out = append(out, o)
		}
	}
	return out
}

// DrainMatched 取出自上次调用以来完全成交的订单，每个订单只返回一次。
func (m *Manager) DrainMatched() []types.ManagedOrder {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.matched
	m.matched = nil
	return out
}

// Tick 是周期任务：先对账，再做超时撤单。
func (m *Manager) Tick(ctx context.Context) {
	m.Reconcile(ctx)
	m.SweepTimeouts(ctx)
}

// Reconcile 最多检查 MaxOrdersPerCheck 个上次检查早于 StatusCheckInterval 的订单。
// 单个订单失败只记录日志，不影响本轮其余订单。
func (m *Manager) Reconcile(ctx context.Context) int {
	now := m.nowFn()
	m.mu.Lock()
	due := make([]types.ManagedOrder, 0, m.opts.MaxOrdersPerCheck)
	for _, e := range m.active {
		if now.Sub(e.order.LastCheckedAt) >= m.opts.StatusCheckInterval {
			due = append(due, e.order)
		}
	}
	m.mu.Unlock()
	if len(due) == 0 {
		return 0
	}
	// 最久未检查的优先
	sort.Slice(due, func(i, j int) bool { return due[i].LastCheckedAt.Before(due[j].LastCheckedAt) })
	if len(due) > m.opts.MaxOrdersPerCheck {
		due = due[:m.opts.MaxOrdersPerCheck]
	}
	checked := 0
	for _, batch := range groupByMarket(due) {
		if ctx.Err() != nil {
			break
		}
		checked += m.reconcileMarket(ctx, batch.marketID, batch.orders)
	}
	metrics.SetActiveOrders(m.Len())
	return checked
}

type marketBatch struct {
	marketID string
	orders   []types.ManagedOrder
}

// groupByMarket 保持 due 的顺序，按市场首次出现的先后分组。
func groupByMarket(due []types.ManagedOrder) []marketBatch {
	idx := make(map[string]int)
	var out []marketBatch
	for _, o := range due {
		i, ok := idx[o.MarketID]
		if !ok {
			i = len(out)
			idx[o.MarketID] = i
			out = append(out, marketBatch{marketID: o.MarketID})
		}
		out[i].orders = append(out[i].orders, o)
	}
	return out
}

// reconcileMarket 每个市场只查询一次挂单；查询失败时该市场的订单都记为网关失败，留到下一轮。
func (m *Manager) reconcileMarket(ctx context.Context, marketID string, due []types.ManagedOrder) int {
	var (
		orders []exchange.CurrentOrder
		err    error
	)
	if !m.safely("list "+marketID, func() { orders, err = m.gateway.ListCurrentOrders(ctx, marketID) }) {
		return 0
	}
	if err != nil {
		logger.Errorf("order: reconcile market=%s (%d orders) failed: %v", marketID, len(due), err)
		for _, o := range due {
			m.gatewayFailed(ctx, o.OrderID, "reconcile", err)
		}
		return 0
	}
	checked := 0
	for _, o := range due {
		if m.safely("reconcile "+o.OrderID, func() { m.applyListing(ctx, o, orders) }) {
			checked++
		}
	}
	return checked
}

func (m *Manager) applyListing(ctx context.Context, o types.ManagedOrder, orders []exchange.CurrentOrder) {
	cur, listed := exchange.FindOrder(orders, o.OrderID)

	m.mu.Lock()
	e, ok := m.active[o.OrderID]
	if !ok {
		m.mu.Unlock()
		return
	}
	e.order.LastCheckedAt = m.nowFn()
	if !listed {
		gone := e.order
		delete(m.active, o.OrderID)
		m.mu.Unlock()
		logger.Infof("order: %s no longer listed by exchange, treating as terminal", o.OrderID)
		if m.hooks.OnGone != nil {
			m.hooks.OnGone(ctx, gone)
		}
		return
	}

	prev := e.order.Status
	e.order.MatchedSize = e.order.RequestedStake.Sub(cur.SizeRemaining)
	if e.order.MatchedSize.IsNegative() {
		e.order.MatchedSize = decimal.Zero
	}
	if cur.AvgPriceMatched.IsPositive() {
		e.order.AvgPriceMatched = cur.AvgPriceMatched
	}
	e.order.Status = refineStatus(cur.Status, e.order.MatchedSize, e.order.RequestedStake)
	updated := e.order
	done := cur.Status == types.StatusMatched && cur.SizeRemaining.IsZero()
	if done {
		delete(m.active, o.OrderID)
		if !e.handedOff {
			e.handedOff = true
			m.matched = append(m.matched, updated)
		}
	} else if cur.Status == types.StatusCancelled {
		delete(m.active, o.OrderID)
	}
	m.mu.Unlock()

	if prev != updated.Status {
		logger.Infof("order: %s status %s -> %s matched=%s", o.OrderID, prev, updated.Status, updated.MatchedSize.StringFixed(2))
	}
	switch {
	case done:
		metrics.OrderMatched()
		logger.Infof("order: %s fully matched %s@%s, removed from tracking", o.OrderID, updated.MatchedSize.StringFixed(2), updated.MatchedPrice().String())
	case cur.Status == types.StatusCancelled:
		metrics.OrderCancelled("exchange")
		if m.hooks.OnCancelled != nil {
			m.hooks.OnCancelled(ctx, updated, "exchange")
		}
	}
}

// SweepTimeouts 撤销挂单时间超过 UnmatchedTimeout 的 Pending/Unmatched 订单。
// 撤单不回退下单时记录的敞口（由 OnCancelled 钩子决定）。
func (m *Manager) SweepTimeouts(ctx context.Context) int {
	now := m.nowFn()
	var expired []types.ManagedOrder
	m.mu.Lock()
	for _, e := range m.active {
		if e.order.Status != types.StatusPending && e.order.Status != types.StatusUnmatched {
			continue
		}
		if now.Sub(e.order.PlacedAt) > m.opts.UnmatchedTimeout {
			expired = append(expired, e.order)
		}
	}
	m.mu.Unlock()

	cancelled := 0
	for _, o := range expired {
		if ctx.Err() != nil {
			break
		}
		logger.Warnf("order: %s timed out after %s, cancelling", o.OrderID, now.Sub(o.PlacedAt).Truncate(time.Second))
		m.safely("timeout "+o.OrderID, func() {
			if _, err := m.cancel(ctx, o.OrderID, "timeout"); err != nil {
				logger.Errorf("order: timeout cancel %s failed: %v", o.OrderID, err)
				return
			}
			cancelled++
		})
	}
	return cancelled
}

// CancelAll 关闭时逐个撤单，尽力而为，错误只记录日志。
func (m *Manager) CancelAll(ctx context.Context) int {
	orders := m.Active()
	if len(orders) == 0 {
		return 0
	}
	logger.Warnf("order: cancelling %d active orders", len(orders))
	cancelled := 0
	for _, o := range orders {
		if !o.Status.Terminal() && o.Unmatched().IsPositive() {
			m.safely("shutdown "+o.OrderID, func() {
				if _, err := m.cancel(ctx, o.OrderID, "shutdown"); err != nil {
					logger.Errorf("order: shutdown cancel %s failed: %v", o.OrderID, err)
					return
				}
				cancelled++
			})
		}
	}
	return cancelled
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

func (m *Manager) gatewayFailed(ctx context.Context, orderID, op string, err error) {
	metrics.GatewayError(op)
	if m.hooks.OnGatewayFailure != nil {
		m.hooks.OnGatewayFailure(ctx, orderID, op, err)
	}
}

// safely 隔离单个订单处理中的 panic；返回 fn 是否正常结束。
func (m *Manager) safely(tag string, fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("order: %s panic: %v\n%s", tag, r, debug.Stack())
			ok = false
		}
	}()
	fn()
	return true
}

// refineStatus: 交易所只给出 EXECUTABLE 等粗粒度状态，部分成交需要根据成交量区分。
func refineStatus(s types.OrderStatus, matched, requested decimal.Decimal) types.OrderStatus {
	if s != types.StatusPending && s != types.StatusUnmatched {
		return s
	}
	if matched.IsPositive() && matched.LessThan(requested) {
		return types.StatusPartiallyMatched
	}
	return s
}

func fullyMatched(o types.ManagedOrder) bool {
	return o.Status == types.StatusMatched && !o.MatchedSize.LessThan(o.RequestedStake)
}
