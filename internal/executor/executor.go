// Package executor 把各组件串起来：信号经风控校验后下单，后台周期对账、刷新余额、
// 把完全成交的订单交给记账，退出时撤销所有挂单。
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"betexec/internal/accounting"
	"betexec/internal/config"
	"betexec/internal/gateway/exchange"
	"betexec/internal/gateway/notifier"
	"betexec/internal/logger"
	"betexec/internal/metrics"
	"betexec/internal/order"
	"betexec/internal/risk"
	"betexec/internal/scheduler"
	"betexec/internal/types"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	defaultBalanceRefresh   = 60 * time.Second
	defaultMatchedReconcile = 10 * time.Second
	defaultSweepInterval    = 5 * time.Second
	defaultShutdownTimeout  = 30 * time.Second
	notifyTimeout           = 20 * time.Second
)

type Executor struct {
	cfg       config.ExecutorConfig
	ordersCfg config.OrdersConfig
	gateway   exchange.Gateway
	risk      *risk.Engine
	orders    *order.Manager
	recorder  *accounting.Recorder
	notify    notifier.TextNotifier
	nowFn     func() time.Time

	mu        sync.RWMutex
	balance   exchange.AccountBalance
	balanceAt time.Time

	notifyWG sync.WaitGroup
}

func New(cfg config.ExecutorConfig, ordersCfg config.OrdersConfig, gw exchange.Gateway, eng *risk.Engine, rec *accounting.Recorder, notify notifier.TextNotifier) *Executor {
	if notify == nil {
		notify = notifier.LogNotifier{}
	}
	e := &Executor{
		cfg:       cfg,
		ordersCfg: ordersCfg,
		gateway:   gw,
		risk:      eng,
		recorder:  rec,
		notify:    notify,
		nowFn:     time.Now,
	}
	e.orders = order.NewManager(gw, order.OptionsFromConfig(ordersCfg, cfg), e.orderHooks())
	eng.SetTripHandler(e.onCircuitBreakerTrip)
	return e
}

// Orders 暴露订单管理器给控制面。
func (e *Executor) Orders() *order.Manager { return e.orders }

func (e *Executor) PaperTrading() bool { return e.cfg.PaperTrading }

// HandleOrder 处理单条下单指令：风控 → 下单 → 记录敞口或失败。
func (e *Executor) HandleOrder(ctx context.Context, req types.OrderRequest) error {
	start := e.nowFn()
	logger.Infof("executor: order request %s", req)

	res, err := e.risk.Validate(ctx, req)
	if err != nil {
		metrics.SignalRejected("ledger_error")
		logger.Errorf("executor: risk validation unavailable, rejecting %s: %v", req, err)
		return types.Rejected("validate order", fmt.Sprintf("%s: %v", res.Reason, err))
	}
	if !res.Admissible {
		metrics.SignalRejected(res.Check.String())
		logger.Warnf("executor: rejected by %s: %s", res.Check, res.Reason)
		return types.Rejected("validate order", res.Reason)
	}

	if e.cfg.PaperTrading {
		id := "PAPER-" + uuid.NewString()
		logger.Infof("executor: PAPER TRADING order %s not sent: %s projected_exposure=%s",
			id, req, res.ProjectedExposure.StringFixed(2))
		return nil
	}

	placed, err := e.orders.Place(ctx, req)
	took := e.nowFn().Sub(start)
	if err != nil {
		kind := types.KindOf(err)
		metrics.OrderFailed(kind.String())
		logger.Errorf("executor: place failed after %s: %v", took, err)
		if kind == types.KindGatewayFailure {
			if rerr := e.risk.RecordFailed(ctx, failureID(req), err.Error()); rerr != nil {
				logger.Errorf("executor: record failure: %v", rerr)
			}
		}
		return err
	}
	metrics.OrderPlaced(string(req.Side), req.Stake.InexactFloat64(), took)
	if err := e.risk.RecordExecuted(ctx, req, placed.Status); err != nil {
		// 订单已在交易所，只能记录日志
		logger.Errorf("executor: record exposure for order %s failed: %v", placed.OrderID, err)
	}
	logger.Infof("executor: order %s placed status=%s in %s", placed.OrderID, placed.Status, took.Truncate(time.Millisecond))
	return nil
}

// failureID: 下单失败时还没有交易所订单号。
func failureID(req types.OrderRequest) string {
	if req.CorrelationID != "" {
		return req.CorrelationID + ":" + req.SelectionID
	}
	return "unplaced-" + uuid.NewString()
}

func (e *Executor) orderHooks() order.Hooks {
	return order.Hooks{
		OnCancelled: func(ctx context.Context, o types.ManagedOrder, reason string) {
			if err := e.risk.ReleaseExposure(ctx, o); err != nil {
				logger.Errorf("executor: release exposure for %s: %v", o.OrderID, err)
			}
		},
		OnGone: func(ctx context.Context, o types.ManagedOrder) {
			logger.Infof("executor: order %s finished outside tracking (matched=%s of %s)",
				o.OrderID, o.MatchedSize.StringFixed(2), o.RequestedStake.StringFixed(2))
		},
		OnGatewayFailure: func(ctx context.Context, orderID, op string, err error) {
			if rerr := e.risk.RecordFailed(ctx, orderID, op+": "+err.Error()); rerr != nil {
				logger.Errorf("executor: record failure: %v", rerr)
			}
		},
	}
}

func (e *Executor) onCircuitBreakerTrip(_ context.Context, recentFailures int64) {
	metrics.SetCircuitBreaker(true)
	text := notifier.CircuitBreakerAlert(recentFailures, e.risk.Options().FailureWindow, e.nowFn()).Markdown()
	e.sendAsync(text)
}

// sendAsync 告警不阻塞下单路径。
func (e *Executor) sendAsync(text string) {
	e.notifyWG.Add(1)
	go func() {
		defer e.notifyWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := e.notify.SendText(ctx, text); err != nil {
			logger.Warnf("executor: notify failed: %v", err)
		}
	}()
}

// Start 认证、拉取余额并确保限额存在。认证失败直接返回错误。
func (e *Executor) Start(ctx context.Context) error {
	logger.Infof("executor: authenticating with %s", e.gateway.Name())
	if err := e.gateway.Authenticate(ctx); err != nil {
		metrics.SetGatewayConnected(false)
		return fmt.Errorf("authenticate %s: %w", e.gateway.Name(), err)
	}
	metrics.SetGatewayConnected(true)
	if err := e.RefreshBalance(ctx); err != nil {
		logger.Warnf("executor: initial balance fetch failed: %v", err)
	}
	limits, err := e.risk.Limits(ctx)
	if err != nil {
		return fmt.Errorf("load risk limits: %w", err)
	}
	logger.Infof("executor: risk limits bankroll=%s max_stake=%s max_daily_loss=%s",
		limits.Bankroll.StringFixed(2), limits.MaxStakePerOrder.StringFixed(2), limits.MaxDailyLoss.StringFixed(2))
	if enabled, err := e.risk.TradingEnabled(ctx); err == nil {
		metrics.SetTradingEnabled(enabled)
		if !enabled {
			logger.Warnf("executor: trading flag is off, orders will be rejected until resumed")
		}
	}
	if tripped, err := e.risk.IsCircuitBreakerTriggered(ctx); err == nil {
		metrics.SetCircuitBreaker(tripped)
	}
	return nil
}

// Run 启动后台周期任务，阻塞到 ctx 结束，然后撤销所有挂单。
func (e *Executor) Run(ctx context.Context) error {
	sweep := scheduler.NewIntervalScheduler("orders", seconds(e.ordersCfg.SweepIntervalSeconds, defaultSweepInterval))
	balance := scheduler.NewIntervalScheduler("balance", seconds(e.cfg.BalanceRefreshSeconds, defaultBalanceRefresh))
	matched := scheduler.NewIntervalScheduler("matched", seconds(e.cfg.MatchedReconcileSeconds, defaultMatchedReconcile))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sweep.Start(gctx, e.orders.Tick)
		return nil
	})
	g.Go(func() error {
		balance.Start(gctx, func(ctx context.Context) {
			if err := e.RefreshBalance(ctx); err != nil {
				logger.Errorf("executor: balance refresh: %v", err)
			}
		})
		return nil
	})
	g.Go(func() error {
		matched.Start(gctx, func(ctx context.Context) { e.ReconcileMatched(ctx) })
		return nil
	})
	logger.Infof("executor: active, background tasks started")
	err := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), seconds(e.cfg.ShutdownCancelTimeoutSecond, defaultShutdownTimeout))
	defer cancel()
	e.Shutdown(shutdownCtx)
	return err
}

// RefreshBalance 更新余额缓存与指标。
func (e *Executor) RefreshBalance(ctx context.Context) error {
	b, err := e.gateway.GetAccountBalance(ctx)
	if err != nil {
		metrics.GatewayError("get_balance")
		return err
	}
	e.mu.Lock()
	e.balance = b
	e.balanceAt = e.nowFn()
	e.mu.Unlock()
	metrics.SetBalance("balance", b.Balance.InexactFloat64())
	metrics.SetBalance("available", b.AvailableToBet.InexactFloat64())
	metrics.SetBalance("exposure", b.Exposure.InexactFloat64())
	logger.Debugf("executor: balance %s", b)
	return nil
}

// Balance 返回最近一次余额及其时间，未获取过时时间为零值。
func (e *Executor) Balance() (exchange.AccountBalance, time.Time) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.balance, e.balanceAt
}

// ReconcileMatched 把完全成交的订单交给记账，每个订单只交一次。
func (e *Executor) ReconcileMatched(ctx context.Context) int {
	done := e.orders.DrainMatched()
	if len(done) == 0 {
		return 0
	}
	n := 0
	if e.recorder != nil {
		n = e.recorder.RecordAll(ctx, done)
	}
	logger.Infof("executor: %d matched orders handed to accounting (%d recorded)", len(done), n)
	metrics.SetActiveOrders(e.orders.Len())
	return n
}

// Shutdown 尽力撤销所有挂单，失败只记日志。
func (e *Executor) Shutdown(ctx context.Context) {
	logger.Infof("executor: shutting down")
	e.ReconcileMatched(ctx)
	before := e.orders.Len()
	cancelled := e.orders.CancelAll(ctx)
	remaining := e.orders.Len()
	if before > 0 {
		e.sendAsync(notifier.ShutdownAlert(cancelled, remaining, e.nowFn()).Markdown())
	}
	e.notifyWG.Wait()
	logger.Infof("executor: stopped (cancelled=%d remaining=%d)", cancelled, remaining)
}

// Status 控制面展示用的快照。
type Status struct {
	Gateway       string                  `json:"gateway"`
	Authenticated bool                    `json:"authenticated"`
	PaperTrading  bool                    `json:"paperTrading"`
	ActiveOrders  int                     `json:"activeOrders"`
	Balance       exchange.AccountBalance `json:"balance"`
	BalanceAt     time.Time               `json:"balanceAt"`
}

func (e *Executor) Status() Status {
	b, at := e.Balance()
	return Status{
		Gateway:       e.gateway.Name(),
		Authenticated: e.gateway.Authenticated(),
		PaperTrading:  e.cfg.PaperTrading,
		ActiveOrders:  e.orders.Len(),
		Balance:       b,
		BalanceAt:     at,
	}
}

func seconds(n int, def time.Duration) time.Duration {
	if n <= 0 {
		return def
	}
	return time.Duration(n) * time.Second
}
