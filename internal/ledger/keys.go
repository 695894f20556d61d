package ledger

import (
	"time"
)

// Redis keys and channels shared with the other services. Names must not change.
const (
	KeyRiskLimits            = "risk:limits"
	KeyFailedOrders          = "failed:orders"
	KeyCircuitBreakerStatus  = "circuit-breaker:status"
	KeyCircuitBreakerResetAt = "circuit-breaker:reset-at"
	KeyTradingEnabled        = "flag:trading-enabled"
	KeyTotalPnL              = "pnl:total"

	ChannelTradingSignals  = "channel:trading-signals"
	ChannelStrategySignals = "channel:strategy-signals"
	ChannelExposureUpdates = "channel:exposure-updates"
	ChannelTrades          = "channel:trades"
)

func ExposureKey(marketID string) string  { return "exposure:" + marketID }
func PositionsKey(marketID string) string { return "positions:" + marketID }

// DailyPnLKey uses the UTC calendar day.
func DailyPnLKey(day time.Time) string {
	return "pnl:daily:" + day.UTC().Format("2006-01-02")
}

func PendingTradeKey(id string) string { return "trades:pending:" + id }
func SettledTradeKey(id string) string { return "trades:settled:" + id }
