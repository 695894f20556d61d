package controlhttp

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"betexec/internal/config"
	"betexec/internal/gateway/notifier"
	"betexec/internal/logger"
	"betexec/internal/metrics"
	"betexec/internal/risk"
	"betexec/internal/store/auditlog"
	"betexec/internal/store/gormstore"
	"betexec/internal/types"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// RouterDeps 汇总 Router 依赖，Trades/Signals/Notifier/Status 可为空。
type RouterDeps struct {
	Risk     RiskService
	Orders   OrderService
	Ledger   LedgerReader
	Settler  TradeSettler
	Trades   TradeStore
	Signals  SignalLog
	Notifier notifier.TextNotifier
	Summary  config.Summary
	Status   func() any
}

// Router 暴露熔断、交易开关、限额、订单与盈亏的运维接口。
type Router struct {
	RouterDeps
	nowFn func() time.Time
}

func NewRouter(d RouterDeps) *Router {
	return &Router{RouterDeps: d, nowFn: func() time.Time { return time.Now().UTC() }}
}

// SetClock 测试用。
func (r *Router) SetClock(fn func() time.Time) {
	if fn != nil {
		r.nowFn = fn
	}
}

// Register 将 /api 路由挂载到给定分组下。
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/circuitbreaker/status", r.handleBreakerStatus)
	group.POST("/circuitbreaker/reset", r.handleBreakerReset)
	group.GET("/circuitbreaker/config", r.handleBreakerConfig)

	group.GET("/trading/status", r.handleTradingStatus)
	group.POST("/trading/pause", r.handlePause)
	group.POST("/trading/resume", r.handleResume)

	group.GET("/config/risk", r.handleGetLimits)
	group.PUT("/config/risk", r.handlePutLimits)
	group.GET("/config/summary", r.handleSummary)

	group.GET("/orders", r.handleOrders)
	group.DELETE("/orders/:id", r.handleCancelOrder)
	group.GET("/exposure/:marketId", r.handleExposure)
	group.GET("/pnl", r.handlePnL)

	group.GET("/trades", r.handleTrades)
	group.POST("/trades/:id/settle", r.handleSettle)
	group.GET("/signals", r.handleSignals)
}

func (r *Router) handleBreakerStatus(c *gin.Context) {
	ctx := c.Request.Context()
	triggered, err := r.Risk.IsCircuitBreakerTriggered(ctx)
	if err != nil {
		internalError(c, "circuit breaker status", err)
		return
	}
	should, err := r.Risk.ShouldTripCircuitBreaker(ctx)
	if err != nil {
		internalError(c, "circuit breaker status", err)
		return
	}
	recent, err := r.Risk.RecentFailures(ctx)
	if err != nil {
		internalError(c, "circuit breaker status", err)
		return
	}
	c.JSON(http.StatusOK, circuitBreakerStatus{IsTriggered: triggered, ShouldTrip: should, RecentFailures: recent, Timestamp: r.nowFn()})
}

func (r *Router) handleBreakerReset(c *gin.Context) {
	err := r.Risk.ResetCircuitBreaker(c.Request.Context())
	if errors.Is(err, risk.ErrBreakerNotTrip) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Circuit breaker is not triggered"})
		return
	}
	if err != nil {
		internalError(c, "circuit breaker reset", err)
		return
	}
	metrics.SetCircuitBreaker(false)
	logger.Warnf("control: circuit breaker reset by operator ip=%s", c.ClientIP())
	c.JSON(http.StatusOK, gin.H{"message": "Circuit breaker reset successfully", "timestamp": r.nowFn()})
}

func (r *Router) handleBreakerConfig(c *gin.Context) {
	opts := r.Risk.Options()
	c.JSON(http.StatusOK, circuitBreakerConfig{
		Enabled:          opts.CircuitBreakerEnabled,
		FailureThreshold: opts.MaxConsecutiveFailures,
		WindowMinutes:    int(opts.FailureWindow / time.Minute),
	})
}

func (r *Router) handleTradingStatus(c *gin.Context) {
	enabled, err := r.Risk.TradingEnabled(c.Request.Context())
	if err != nil {
		internalError(c, "trading status", err)
		return
	}
	c.JSON(http.StatusOK, tradingStatus{IsPaused: !enabled, Timestamp: r.nowFn()})
}

func (r *Router) handlePause(c *gin.Context) {
	err := r.Risk.PauseTrading(c.Request.Context())
	if errors.Is(err, risk.ErrAlreadyPaused) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Trading is already paused"})
		return
	}
	if err != nil {
		internalError(c, "pause trading", err)
		return
	}
	metrics.SetTradingEnabled(false)
	logger.Warnf("control: trading paused ip=%s", c.ClientIP())
	r.notify(c, notifier.TradingStateAlert(false, r.nowFn()))
	c.JSON(http.StatusOK, gin.H{"message": "Trading paused successfully", "timestamp": r.nowFn(), "isPaused": true})
}

func (r *Router) handleResume(c *gin.Context) {
	err := r.Risk.ResumeTrading(c.Request.Context())
	if errors.Is(err, risk.ErrNotPaused) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Trading is not paused"})
		return
	}
	if err != nil {
		internalError(c, "resume trading", err)
		return
	}
	metrics.SetTradingEnabled(true)
	logger.Infof("control: trading resumed ip=%s", c.ClientIP())
	r.notify(c, notifier.TradingStateAlert(true, r.nowFn()))
	c.JSON(http.StatusOK, gin.H{"message": "Trading resumed successfully", "timestamp": r.nowFn(), "isPaused": false})
}

func (r *Router) handleGetLimits(c *gin.Context) {
	limits, err := r.Risk.Limits(c.Request.Context())
	if err != nil {
		internalError(c, "risk limits", err)
		return
	}
	c.JSON(http.StatusOK, limits)
}

func (r *Router) handlePutLimits(c *gin.Context) {
	var limits types.RiskLimits
	if err := c.ShouldBindJSON(&limits); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body: " + err.Error()})
		return
	}
	err := r.Risk.UpdateLimits(c.Request.Context(), limits)
	if types.KindOf(err) == types.KindValidationRejection {
		var f *types.Failure
		errors.As(err, &f)
		c.JSON(http.StatusBadRequest, gin.H{"error": f.Reason})
		return
	}
	if err != nil {
		internalError(c, "update risk limits", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Risk configuration updated successfully", "limits": limits})
}

func (r *Router) handleSummary(c *gin.Context) {
	resp := gin.H{"config": r.Summary}
	if r.Status != nil {
		resp["executor"] = r.Status()
	}
	c.JSON(http.StatusOK, resp)
}

func (r *Router) handleOrders(c *gin.Context) {
	var orders []types.ManagedOrder
	if market := strings.TrimSpace(c.Query("marketId")); market != "" {
		orders = r.Orders.ActiveForMarket(market)
	} else {
		orders = r.Orders.Active()
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders, "count": len(orders)})
}

func (r *Router) handleCancelOrder(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	res, err := r.Orders.Cancel(c.Request.Context(), id)
	if err != nil {
		switch types.KindOf(err) {
		case types.KindStateInconsistency:
			c.JSON(http.StatusNotFound, gin.H{"error": "order not found", "orderId": id})
		case types.KindGatewayFailure:
			logger.Warnf("control: cancel %s failed: %v", id, err)
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "orderId": id})
		default:
			internalError(c, "cancel order", err)
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"orderId":       res.OrderID,
		"success":       res.Success,
		"sizeCancelled": res.SizeCancelled,
		"message":       res.Message,
	})
}

func (r *Router) handleExposure(c *gin.Context) {
	ctx := c.Request.Context()
	market := strings.TrimSpace(c.Param("marketId"))
	selections, err := r.Ledger.MarketExposure(ctx, market)
	if err != nil {
		internalError(c, "market exposure", err)
		return
	}
	positions, err := r.Ledger.Positions(ctx, market)
	if err != nil {
		internalError(c, "market positions", err)
		return
	}
	total := decimal.Zero
	for _, v := range selections {
		total = total.Add(v)
	}
	c.JSON(http.StatusOK, exposureResponse{MarketID: market, Total: total, Selections: selections, Positions: positions})
}

func (r *Router) handlePnL(c *gin.Context) {
	ctx := c.Request.Context()
	daily, err := r.Ledger.TodayPnL(ctx)
	if err != nil {
		internalError(c, "daily pnl", err)
		return
	}
	total, err := r.Ledger.TotalPnL(ctx)
	if err != nil {
		internalError(c, "total pnl", err)
		return
	}
	now := r.nowFn()
	resp := pnlResponse{Date: now.Format("2006-01-02"), Daily: daily, Total: total}
	if r.Trades != nil {
		if sum, err := r.Trades.DailySummary(ctx, now); err == nil {
			resp.Summary = &sum
		} else {
			logger.Warnf("control: daily summary unavailable: %v", err)
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (r *Router) handleTrades(c *gin.Context) {
	if r.Trades == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "trade store disabled"})
		return
	}
	q := gormstore.TradeQuery{
		MarketID:    strings.TrimSpace(c.Query("marketId")),
		OnlyPending: c.Query("pending") == "true",
		Limit:       queryInt(c, "limit", 100),
		Offset:      queryInt(c, "offset", 0),
	}
	trades, err := r.Trades.ListTrades(c.Request.Context(), q)
	if err != nil {
		internalError(c, "list trades", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades, "count": len(trades)})
}

func (r *Router) handleSettle(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	var req settleRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ProfitLoss == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "profitLoss is required"})
		return
	}
	st, err := r.Settler.Settle(c.Request.Context(), id, *req.ProfitLoss)
	switch {
	case errors.Is(err, types.ErrTradeNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "trade not found", "tradeId": id})
		return
	case errors.Is(err, types.ErrAlreadySettled):
		c.JSON(http.StatusConflict, gin.H{"error": "trade already settled", "tradeId": id})
		return
	case types.KindOf(err) == types.KindValidationRejection:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		internalError(c, "settle trade", err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (r *Router) handleSignals(c *gin.Context) {
	if r.Signals == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "signal audit disabled"})
		return
	}
	q := auditlog.Query{
		Disposition: strings.TrimSpace(c.Query("disposition")),
		Kind:        strings.TrimSpace(c.Query("kind")),
		MarketID:    strings.TrimSpace(c.Query("marketId")),
		Limit:       queryInt(c, "limit", 100),
		Offset:      queryInt(c, "offset", 0),
	}
	if raw := strings.TrimSpace(c.Query("since")); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be RFC3339"})
			return
		}
		q.Since = ts
	}
	records, err := r.Signals.List(c.Request.Context(), q)
	if err != nil {
		internalError(c, "list signals", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"signals": records, "count": len(records)})
}

// notify 推送失败只记日志，不影响接口返回。
func (r *Router) notify(c *gin.Context, alert notifier.Alert) {
	if r.Notifier == nil {
		return
	}
	if err := r.Notifier.SendText(c.Request.Context(), alert.Markdown()); err != nil {
		logger.Warnf("control: notify failed: %v", err)
	}
}

func queryInt(c *gin.Context, key string, def int) int {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}

func internalError(c *gin.Context, op string, err error) {
	logger.Errorf("control: %s: %v", op, err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
