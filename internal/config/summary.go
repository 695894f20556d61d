package config

import (
	"fmt"
	"strings"
)

// Summary 是对外展示的配置快照，不含任何凭据。
type Summary struct {
	Env                     string  `json:"env"`
	ExchangeMode            string  `json:"exchangeMode"`
	PaperTrading            bool    `json:"paperTrading"`
	SubscribeArbitrage      bool    `json:"subscribeArbitrage"`
	SubscribeStrategy       bool    `json:"subscribeStrategy"`
	MaxSignalAgeSeconds     int     `json:"maxSignalAgeSeconds"`
	CommissionRate          float64 `json:"commissionRate"`
	MinStake                float64 `json:"minStake"`
	OddsRange               string  `json:"oddsRange"`
	RiskChecksEnabled       bool    `json:"riskChecksEnabled"`
	CircuitBreakerEnabled   bool    `json:"circuitBreakerEnabled"`
	MaxConsecutiveFailures  int     `json:"maxConsecutiveFailures"`
	FailureWindowMinutes    int     `json:"failureWindowMinutes"`
	ReleaseExposureOnCancel bool    `json:"releaseExposureOnCancel"`
	StatusCheckSeconds      int     `json:"statusCheckIntervalSeconds"`
	MaxOrdersPerCheck       int     `json:"maxOrdersPerCheck"`
	UnmatchedTimeoutSeconds int     `json:"unmatchedOrderTimeoutSeconds"`
	Redis                   string  `json:"redis"`
	HTTPAddr                string  `json:"httpAddr"`
	TelegramEnabled         bool    `json:"telegramEnabled"`
}

func (c *Config) Summary() Summary {
	return Summary{
		Env:                     c.App.Env,
		ExchangeMode:            strings.ToLower(c.Exchange.Mode),
		PaperTrading:            c.Executor.PaperTrading,
		SubscribeArbitrage:      c.Executor.SubscribeArbitrageSignals,
		SubscribeStrategy:       c.Executor.SubscribeStrategySignals,
		MaxSignalAgeSeconds:     c.Executor.MaxSignalAgeSeconds,
		CommissionRate:          c.Executor.CommissionRate,
		MinStake:                c.Executor.MinStake,
		OddsRange:               fmt.Sprintf("[%g, %g]", c.Executor.MinOdds, c.Executor.MaxOdds),
		RiskChecksEnabled:       c.Risk.Enabled,
		CircuitBreakerEnabled:   c.Risk.CircuitBreakerEnabled,
		MaxConsecutiveFailures:  c.Risk.MaxConsecutiveFailures,
		FailureWindowMinutes:    c.Risk.FailureWindowMinutes,
		ReleaseExposureOnCancel: c.Risk.ReleaseExposureOnCancel,
		StatusCheckSeconds:      c.Orders.StatusCheckIntervalSeconds,
		MaxOrdersPerCheck:       c.Orders.MaxOrdersPerCheck,
		UnmatchedTimeoutSeconds: c.Orders.UnmatchedOrderTimeoutSeconds,
		Redis:                   fmt.Sprintf("%s/%d", c.Redis.Addr, c.Redis.DB),
		HTTPAddr:                c.App.HTTPAddr,
		TelegramEnabled:         c.Notify.Telegram.Enabled,
	}
}

// Lines 启动时逐行打印。
func (s Summary) Lines() []string {
	onOff := func(b bool) string {
		if b {
			return "ENABLED"
		}
		return "DISABLED"
	}
	return []string{
		fmt.Sprintf("Environment: %s", s.Env),
		fmt.Sprintf("Exchange: %s", s.ExchangeMode),
		fmt.Sprintf("Paper Trading: %s", onOff(s.PaperTrading)),
		fmt.Sprintf("Signals: arbitrage=%v strategy=%v max_age=%ds", s.SubscribeArbitrage, s.SubscribeStrategy, s.MaxSignalAgeSeconds),
		fmt.Sprintf("Odds range: %s min_stake=%g commission=%g", s.OddsRange, s.MinStake, s.CommissionRate),
		fmt.Sprintf("Risk checks: %s", onOff(s.RiskChecksEnabled)),
		fmt.Sprintf("Circuit breaker: %s (max %d failures / %dm)", onOff(s.CircuitBreakerEnabled), s.MaxConsecutiveFailures, s.FailureWindowMinutes),
		fmt.Sprintf("Release exposure on cancel: %v", s.ReleaseExposureOnCancel),
		fmt.Sprintf("Orders: check=%ds batch=%d unmatched_timeout=%ds", s.StatusCheckSeconds, s.MaxOrdersPerCheck, s.UnmatchedTimeoutSeconds),
		fmt.Sprintf("Redis: %s", s.Redis),
		fmt.Sprintf("HTTP: %s", s.HTTPAddr),
		fmt.Sprintf("Telegram: %s", onOff(s.TelegramEnabled)),
	}
}
