package risk

import (
	"github.com/shopspring/decimal"
)

// Check 标识七项风控检查，按执行顺序排列。
type Check int

const (
	CheckNone Check = iota
	CheckStakeLimit
	CheckRiskPerTrade
	CheckSelectionExposure
	CheckMarketExposure
	CheckDailyLoss
	CheckCircuitBreaker
	CheckTradingEnabled
)

func (c Check) String() string {
	switch c {
	case CheckStakeLimit:
		return "stake_limit"
	case CheckRiskPerTrade:
		return "risk_per_trade"
	case CheckSelectionExposure:
		return "selection_exposure"
	case CheckMarketExposure:
		return "market_exposure"
	case CheckDailyLoss:
		return "daily_loss"
	case CheckCircuitBreaker:
		return "circuit_breaker"
	case CheckTradingEnabled:
		return "trading_disabled"
	default:
		return "none"
	}
}

// Fixed reasons returned while the breaker or the pause flag blocks trading.
const (
	ReasonCircuitBreaker  = "Circuit breaker triggered - too many recent failures"
	ReasonTradingDisabled = "Trading is currently disabled"
)

// ValidationResult 是 Validate 的结果。ProjectedExposure 为通过时的预计 selection 敞口，尚未写入账本。
type ValidationResult struct {
	Admissible        bool            `json:"admissible"`
	Reason            string          `json:"reason,omitempty"`
	Check             Check           `json:"-"`
	ProjectedExposure decimal.Decimal `json:"projectedExposure"`
}

func admit(projected decimal.Decimal) ValidationResult {
	return ValidationResult{Admissible: true, ProjectedExposure: projected}
}

func reject(check Check, reason string) ValidationResult {
	return ValidationResult{Admissible: false, Check: check, Reason: reason}
}
