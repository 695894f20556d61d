package types

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// RiskLimits 风控限额快照；更新时整体替换。
type RiskLimits struct {
	Bankroll                decimal.Decimal `json:"bankroll" yaml:"bankroll"`
	MaxExposurePerMarket    decimal.Decimal `json:"maxExposurePerMarket" yaml:"max_exposure_per_market"`
	MaxExposurePerSelection decimal.Decimal `json:"maxExposurePerSelection" yaml:"max_exposure_per_selection"`
	MaxStakePerOrder        decimal.Decimal `json:"maxStakePerOrder" yaml:"max_stake_per_order"`
	MaxDailyLoss            decimal.Decimal `json:"maxDailyLoss" yaml:"max_daily_loss"`
	MaxRiskPerTradePercent  decimal.Decimal `json:"maxRiskPerTradePercent" yaml:"max_risk_per_trade_percent"`
}

// DefaultRiskLimits is written to the ledger when no snapshot exists yet.
func DefaultRiskLimits() RiskLimits {
	return RiskLimits{
		Bankroll:                decimal.NewFromInt(10000),
		MaxExposurePerMarket:    decimal.NewFromInt(500),
		MaxExposurePerSelection: decimal.NewFromInt(200),
		MaxStakePerOrder:        decimal.NewFromInt(100),
		MaxDailyLoss:            decimal.NewFromInt(500),
		MaxRiskPerTradePercent:  decimal.RequireFromString("0.02"),
	}
}

// MaxRiskAmount = bankroll * maxRiskPerTradePercent.
func (l RiskLimits) MaxRiskAmount() decimal.Decimal {
	return l.Bankroll.Mul(l.MaxRiskPerTradePercent)
}

// Validate 要求所有字段为正，且单笔风险比例不超过 1。
func (l RiskLimits) Validate() error {
	fields := []struct {
		name string
		val  decimal.Decimal
	}{
		{"bankroll", l.Bankroll},
		{"maxExposurePerMarket", l.MaxExposurePerMarket},
		{"maxExposurePerSelection", l.MaxExposurePerSelection},
		{"maxStakePerOrder", l.MaxStakePerOrder},
		{"maxDailyLoss", l.MaxDailyLoss},
		{"maxRiskPerTradePercent", l.MaxRiskPerTradePercent},
	}
	for _, f := range fields {
		if !f.val.IsPositive() {
			return fmt.Errorf("%s must be positive", f.name)
		}
	}
	if l.MaxRiskPerTradePercent.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("maxRiskPerTradePercent must be <= 1")
	}
	return nil
}
