// Package risk 实现下单前的七项风控检查，以及成交/失败的账本记录。
// Engine 本身无状态，所有状态都在共享账本里。
package risk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"betexec/internal/config"
	"betexec/internal/ledger"
	"betexec/internal/logger"
	"betexec/internal/types"

	"github.com/shopspring/decimal"
)

// Ledger 是 Engine 需要的账本能力，*ledger.Ledger 实现了它。
type Ledger interface {
	Now() time.Time
	Limits(ctx context.Context) (types.RiskLimits, bool, error)
	EnsureLimits(ctx context.Context, defaults types.RiskLimits) (types.RiskLimits, error)
	SetLimits(ctx context.Context, limits types.RiskLimits) error
	SelectionExposure(ctx context.Context, marketID, selectionID string) (decimal.Decimal, error)
	MarketExposureTotal(ctx context.Context, marketID string) (decimal.Decimal, error)
	IncrExposure(ctx context.Context, marketID, selectionID string, delta decimal.Decimal, snap ledger.PositionSnapshot) (decimal.Decimal, error)
	TodayPnL(ctx context.Context) (decimal.Decimal, error)
	AppendFailure(ctx context.Context, orderID, reason string, window time.Duration) (types.FailureRecord, error)
	CountFailuresSince(ctx context.Context, since time.Time) (int64, error)
	FailuresSince(ctx context.Context, since time.Time) ([]types.FailureRecord, error)
	TradingEnabled(ctx context.Context) (bool, error)
	SetTradingEnabled(ctx context.Context, enabled bool) (bool, error)
	CircuitBreakerLatched(ctx context.Context) (bool, error)
	LatchCircuitBreaker(ctx context.Context) (bool, error)
	ClearCircuitBreaker(ctx context.Context) (time.Time, error)
	CircuitBreakerResetAt(ctx context.Context) (time.Time, error)
}

// Options 风控参数。
type Options struct {
	// LimitChecks=false 跳过 1-5 项限额检查；熔断与交易开关始终生效。
	LimitChecks             bool
	CircuitBreakerEnabled   bool
	MaxConsecutiveFailures  int
	FailureWindow           time.Duration
	ReleaseExposureOnCancel bool
	DefaultLimits           types.RiskLimits
}

func OptionsFromConfig(cfg config.RiskConfig) Options {
	return Options{
		LimitChecks:             cfg.Enabled,
		CircuitBreakerEnabled:   cfg.CircuitBreakerEnabled,
		MaxConsecutiveFailures:  cfg.MaxConsecutiveFailures,
		FailureWindow:           cfg.FailureWindow(),
		ReleaseExposureOnCancel: cfg.ReleaseExposureOnCancel,
		DefaultLimits:           types.DefaultRiskLimits(),
	}
}

// TripHandler 在熔断粘滞标记由未触发变为触发时回调。
type TripHandler func(ctx context.Context, recentFailures int64)

var (
	ErrAlreadyPaused  = errors.New("trading is already paused")
	ErrNotPaused      = errors.New("trading is not paused")
	ErrBreakerNotTrip = errors.New("circuit breaker is not triggered")
)

const errLedgerUnhealthy = "risk ledger unavailable"

type Engine struct {
	ledger Ledger
	opts   Options
	onTrip TripHandler
}

func NewEngine(l Ledger, opts Options) *Engine {
	if opts.MaxConsecutiveFailures <= 0 {
		opts.MaxConsecutiveFailures = 3
	}
	if opts.FailureWindow <= 0 {
		opts.FailureWindow = 5 * time.Minute
	}
	if opts.DefaultLimits.Bankroll.IsZero() {
		opts.DefaultLimits = types.DefaultRiskLimits()
	}
	return &Engine{ledger: l, opts: opts}
}

func (e *Engine) SetTripHandler(fn TripHandler) {
	e.onTrip = fn
}

func (e *Engine) Options() Options {
	return e.opts
}

// Validate 依次执行七项检查，遇到第一项失败即返回。
// 除了在观察到熔断条件成立时锁定粘滞标记外，不写账本。
// 读取账本失败时拒单（fail safe），同时返回 error。
func (e *Engine) Validate(ctx context.Context, req types.OrderRequest) (ValidationResult, error) {
	loss := req.PotentialLoss()
	projected := decimal.Zero

	if e.opts.LimitChecks {
		limits, err := e.currentLimits(ctx)
		if err != nil {
			return reject(CheckNone, errLedgerUnhealthy), err
		}
		if req.Stake.GreaterThan(limits.MaxStakePerOrder) {
			return reject(CheckStakeLimit, fmt.Sprintf("Stake %s exceeds max per order %s",
				req.Stake.StringFixed(2), limits.MaxStakePerOrder.StringFixed(2))), nil
		}
		maxRisk := limits.MaxRiskAmount()
		if loss.GreaterThan(maxRisk) {
			return reject(CheckRiskPerTrade, fmt.Sprintf("Risk %s exceeds max risk per trade %s",
				loss.StringFixed(2), maxRisk.StringFixed(2))), nil
		}
		current, err := e.ledger.SelectionExposure(ctx, req.MarketID, req.SelectionID)
		if err != nil {
			return reject(CheckNone, errLedgerUnhealthy), err
		}
		projected = current.Add(loss)
		if projected.GreaterThan(limits.MaxExposurePerSelection) {
			return reject(CheckSelectionExposure, fmt.Sprintf("Selection exposure %s exceeds limit %s",
				projected.StringFixed(2), limits.MaxExposurePerSelection.StringFixed(2))), nil
		}
		marketTotal, err := e.ledger.MarketExposureTotal(ctx, req.MarketID)
		if err != nil {
			return reject(CheckNone, errLedgerUnhealthy), err
		}
		if marketTotal.Add(loss).GreaterThan(limits.MaxExposurePerMarket) {
			return reject(CheckMarketExposure, fmt.Sprintf("Market exposure %s exceeds limit %s",
				marketTotal.Add(loss).StringFixed(2), limits.MaxExposurePerMarket.StringFixed(2))), nil
		}
		pnl, err := e.ledger.TodayPnL(ctx)
		if err != nil {
			return reject(CheckNone, errLedgerUnhealthy), err
		}
		if pnl.LessThan(limits.MaxDailyLoss.Neg()) {
			return reject(CheckDailyLoss, fmt.Sprintf("Daily loss %s exceeds limit %s",
				pnl.Abs().StringFixed(2), limits.MaxDailyLoss.StringFixed(2))), nil
		}
	} else {
		current, err := e.ledger.SelectionExposure(ctx, req.MarketID, req.SelectionID)
		if err != nil {
			return reject(CheckNone, errLedgerUnhealthy), err
		}
		projected = current.Add(loss)
	}

	if e.opts.CircuitBreakerEnabled {
		tripped, err := e.observeCircuitBreaker(ctx)
		if err != nil {
			return reject(CheckNone, errLedgerUnhealthy), err
		}
		if tripped {
			return reject(CheckCircuitBreaker, ReasonCircuitBreaker), nil
		}
	}

	enabled, err := e.ledger.TradingEnabled(ctx)
	if err != nil {
		return reject(CheckNone, errLedgerUnhealthy), err
	}
	if !enabled {
		return reject(CheckTradingEnabled, ReasonTradingDisabled), nil
	}
	return admit(projected), nil
}

// observeCircuitBreaker: 粘滞标记或实时判定任一成立即视为触发；
// 判定成立时顺带锁定标记，之后只能人工复位。
func (e *Engine) observeCircuitBreaker(ctx context.Context) (bool, error) {
	latched, err := e.ledger.CircuitBreakerLatched(ctx)
	if err != nil {
		return false, err
	}
	if latched {
		return true, nil
	}
	count, err := e.recentFailures(ctx)
	if err != nil {
		return false, err
	}
	if count < int64(e.opts.MaxConsecutiveFailures) {
		return false, nil
	}
	e.latch(ctx, count)
	return true, nil
}

func (e *Engine) latch(ctx context.Context, count int64) {
	changed, err := e.ledger.LatchCircuitBreaker(ctx)
	if err != nil {
		logger.Errorf("risk: latch circuit breaker failed: %v", err)
		return
	}
	if !changed {
		return
	}
	logger.Warnf("risk: circuit breaker TRIGGERED recent_failures=%d threshold=%d window=%s",
		count, e.opts.MaxConsecutiveFailures, e.opts.FailureWindow)
	if e.onTrip != nil {
		e.onTrip(ctx, count)
	}
}

// failureWindowStart = max(now-window, 最近一次人工复位之后)。
func (e *Engine) failureWindowStart(ctx context.Context) (time.Time, error) {
	since := e.ledger.Now().Add(-e.opts.FailureWindow)
	resetAt, err := e.ledger.CircuitBreakerResetAt(ctx)
	if err != nil {
		return time.Time{}, err
	}
	// 只统计复位之后的记录，复位同一毫秒内的视为复位前
	if after := resetAt.Add(time.Millisecond); !resetAt.IsZero() && after.After(since) {
		since = after
	}
	return since, nil
}

func (e *Engine) recentFailures(ctx context.Context) (int64, error) {
	since, err := e.failureWindowStart(ctx)
	if err != nil {
		return 0, err
	}
	return e.ledger.CountFailuresSince(ctx, since)
}

// RecentFailures 返回计入熔断判定的失败记录。
func (e *Engine) RecentFailures(ctx context.Context) ([]types.FailureRecord, error) {
	since, err := e.failureWindowStart(ctx)
	if err != nil {
		return nil, err
	}
	return e.ledger.FailuresSince(ctx, since)
}

// ShouldTripCircuitBreaker 每次重新计算判定，不修改粘滞标记。
func (e *Engine) ShouldTripCircuitBreaker(ctx context.Context) (bool, error) {
	count, err := e.recentFailures(ctx)
	if err != nil {
		return false, err
	}
	return count >= int64(e.opts.MaxConsecutiveFailures), nil
}

// IsCircuitBreakerTriggered = 粘滞标记 || 实时判定。
func (e *Engine) IsCircuitBreakerTriggered(ctx context.Context) (bool, error) {
	latched, err := e.ledger.CircuitBreakerLatched(ctx)
	if err != nil || latched {
		return latched, err
	}
	return e.ShouldTripCircuitBreaker(ctx)
}

// TripCircuitBreaker 由操作员或执行器显式锁定熔断。
func (e *Engine) TripCircuitBreaker(ctx context.Context) error {
	count, err := e.recentFailures(ctx)
	if err != nil {
		return err
	}
	changed, err := e.ledger.LatchCircuitBreaker(ctx)
	if err != nil {
		return err
	}
	if changed && e.onTrip != nil {
		e.onTrip(ctx, count)
	}
	return nil
}

// ResetCircuitBreaker 清除粘滞标记；复位前的失败不再计入判定。
func (e *Engine) ResetCircuitBreaker(ctx context.Context) error {
	triggered, err := e.IsCircuitBreakerTriggered(ctx)
	if err != nil {
		return err
	}
	if !triggered {
		return ErrBreakerNotTrip
	}
	resetAt, err := e.ledger.ClearCircuitBreaker(ctx)
	if err != nil {
		return err
	}
	logger.Warnf("risk: circuit breaker manually reset at=%s", resetAt.UTC().Format(time.RFC3339))
	return nil
}

// RecordExecuted 下单成功后原子累加敞口；被交易所直接取消的订单不计入。
func (e *Engine) RecordExecuted(ctx context.Context, req types.OrderRequest, status types.OrderStatus) error {
	if status == types.StatusCancelled || status == "" {
		return nil
	}
	loss := req.PotentialLoss()
	total, err := e.ledger.IncrExposure(ctx, req.MarketID, req.SelectionID, loss, ledger.PositionSnapshot{
		Side:     req.Side,
		Stake:    req.Stake,
		Odds:     req.Odds,
		Exposure: loss,
	})
	if err != nil {
		return err
	}
	logger.Debugf("risk: exposure market=%s selection=%s +%s => %s",
		req.MarketID, req.SelectionID, loss.StringFixed(2), total.StringFixed(2))
	return nil
}

// ReleaseExposure 仅在 ReleaseExposureOnCancel 开启时，对撤销订单未成交部分做反向扣减。
// 默认保持保守行为：撤单不回退敞口。
func (e *Engine) ReleaseExposure(ctx context.Context, order types.ManagedOrder) error {
	if !e.opts.ReleaseExposureOnCancel {
		return nil
	}
	rest := order.Unmatched()
	if !rest.IsPositive() {
		return nil
	}
	delta := types.Liability(order.Side, rest, order.RequestedOdds).Neg()
	_, err := e.ledger.IncrExposure(ctx, order.MarketID, order.SelectionID, delta, ledger.PositionSnapshot{
		Side:     order.Side,
		Stake:    order.MatchedSize,
		Odds:     order.RequestedOdds,
		Exposure: delta,
	})
	return err
}

// RecordFailed 追加失败记录（同时清理窗口外记录），若因此达到阈值则锁定熔断。
func (e *Engine) RecordFailed(ctx context.Context, orderID, reason string) error {
	if orderID == "" {
		return fmt.Errorf("order id cannot be empty")
	}
	if _, err := e.ledger.AppendFailure(ctx, orderID, reason, e.opts.FailureWindow); err != nil {
		return err
	}
	if !e.opts.CircuitBreakerEnabled {
		return nil
	}
	count, err := e.recentFailures(ctx)
	if err != nil {
		return err
	}
	if count >= int64(e.opts.MaxConsecutiveFailures) {
		e.latch(ctx, count)
	}
	return nil
}

// PauseTrading 关闭交易开关；已关闭时返回 ErrAlreadyPaused。
func (e *Engine) PauseTrading(ctx context.Context) error {
	prev, err := e.ledger.SetTradingEnabled(ctx, false)
	if err != nil {
		return err
	}
	if !prev {
		return ErrAlreadyPaused
	}
	logger.Warnf("risk: trading paused")
	return nil
}

// ResumeTrading 打开交易开关；已开启时返回 ErrNotPaused。
func (e *Engine) ResumeTrading(ctx context.Context) error {
	prev, err := e.ledger.SetTradingEnabled(ctx, true)
	if err != nil {
		return err
	}
	if prev {
		return ErrNotPaused
	}
	logger.Infof("risk: trading resumed")
	return nil
}

func (e *Engine) TradingEnabled(ctx context.Context) (bool, error) {
	return e.ledger.TradingEnabled(ctx)
}

// Limits 返回当前限额，缺失时写入默认值。启动时由执行器调用一次完成初始化。
func (e *Engine) Limits(ctx context.Context) (types.RiskLimits, error) {
	return e.ledger.EnsureLimits(ctx, e.opts.DefaultLimits)
}

// currentLimits 只读；账本里没有快照时用默认值，不回写。
func (e *Engine) currentLimits(ctx context.Context) (types.RiskLimits, error) {
	limits, found, err := e.ledger.Limits(ctx)
	if err != nil {
		return types.RiskLimits{}, err
	}
	if !found {
		return e.opts.DefaultLimits, nil
	}
	return limits, nil
}

// UpdateLimits 校验后整体替换限额快照。
func (e *Engine) UpdateLimits(ctx context.Context, limits types.RiskLimits) error {
	if err := limits.Validate(); err != nil {
		return types.Rejected("update limits", err.Error())
	}
	if err := e.ledger.SetLimits(ctx, limits); err != nil {
		return err
	}
	logger.Infof("risk: limits replaced bankroll=%s max_stake=%s max_market=%s max_selection=%s max_daily_loss=%s risk_pct=%s",
		limits.Bankroll.StringFixed(2), limits.MaxStakePerOrder.StringFixed(2), limits.MaxExposurePerMarket.StringFixed(2),
		limits.MaxExposurePerSelection.StringFixed(2), limits.MaxDailyLoss.StringFixed(2), limits.MaxRiskPerTradePercent.StringFixed(4))
	return nil
}
