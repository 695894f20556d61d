package controlhttp

import (
	"context"
	"time"

	"betexec/internal/gateway/exchange"
	"betexec/internal/ledger"
	"betexec/internal/risk"
	"betexec/internal/store/auditlog"
	"betexec/internal/store/gormstore"
	"betexec/internal/types"

	"github.com/shopspring/decimal"
)

// RiskService 由 *risk.Engine 实现。
type RiskService interface {
	IsCircuitBreakerTriggered(ctx context.Context) (bool, error)
	ShouldTripCircuitBreaker(ctx context.Context) (bool, error)
	RecentFailures(ctx context.Context) ([]types.FailureRecord, error)
	ResetCircuitBreaker(ctx context.Context) error
	TradingEnabled(ctx context.Context) (bool, error)
	PauseTrading(ctx context.Context) error
	ResumeTrading(ctx context.Context) error
	Limits(ctx context.Context) (types.RiskLimits, error)
	UpdateLimits(ctx context.Context, limits types.RiskLimits) error
	Options() risk.Options
}

// OrderService 由 *order.Manager 实现。
type OrderService interface {
	Active() []types.ManagedOrder
	ActiveForMarket(marketID string) []types.ManagedOrder
	Cancel(ctx context.Context, orderID string) (exchange.CancelResult, error)
}

// LedgerReader 由 *ledger.Ledger 实现。
type LedgerReader interface {
	Ping(ctx context.Context) error
	MarketExposure(ctx context.Context, marketID string) (map[string]decimal.Decimal, error)
	Positions(ctx context.Context, marketID string) (map[string]ledger.PositionSnapshot, error)
	TodayPnL(ctx context.Context) (decimal.Decimal, error)
	TotalPnL(ctx context.Context) (decimal.Decimal, error)
}

// TradeSettler 由 *accounting.Recorder 实现。
type TradeSettler interface {
	Settle(ctx context.Context, tradeID string, profitLoss decimal.Decimal) (types.Settlement, error)
}

// TradeStore 由 *gormstore.GormStore 实现，可选。
type TradeStore interface {
	ListTrades(ctx context.Context, q gormstore.TradeQuery) ([]types.Trade, error)
	DailySummary(ctx context.Context, day time.Time) (types.DailySummary, error)
}

// SignalLog 由 *auditlog.Store 实现，可选。
type SignalLog interface {
	List(ctx context.Context, q auditlog.Query) ([]auditlog.Record, error)
}

type circuitBreakerStatus struct {
	IsTriggered    bool                  `json:"isTriggered"`
	ShouldTrip     bool                  `json:"shouldTrip"`
	RecentFailures []types.FailureRecord `json:"recentFailures"`
	Timestamp      time.Time             `json:"timestamp"`
}

type circuitBreakerConfig struct {
	Enabled          bool `json:"enabled"`
	FailureThreshold int  `json:"failureThreshold"`
	WindowMinutes    int  `json:"windowMinutes"`
}

type tradingStatus struct {
	IsPaused  bool      `json:"isPaused"`
	Timestamp time.Time `json:"timestamp"`
}

type settleRequest struct {
	ProfitLoss *decimal.Decimal `json:"profitLoss"`
}

type exposureResponse struct {
	MarketID   string                             `json:"marketId"`
	Total      decimal.Decimal                    `json:"total"`
	Selections map[string]decimal.Decimal         `json:"selections"`
	Positions  map[string]ledger.PositionSnapshot `json:"positions"`
}

type pnlResponse struct {
	Date    string              `json:"date"`
	Daily   decimal.Decimal     `json:"daily"`
	Total   decimal.Decimal     `json:"total"`
	Summary *types.DailySummary `json:"summary,omitempty"`
}
