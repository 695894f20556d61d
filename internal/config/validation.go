package config

import (
	"fmt"
	"strings"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.Redis.validate(); err != nil {
		return err
	}
	if err := c.Exchange.validate(); err != nil {
		return err
	}
	if err := c.Executor.validate(); err != nil {
		return err
	}
	if err := c.Orders.validate(); err != nil {
		return err
	}
	if err := c.Risk.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	return nil
}

func (r *RedisConfig) validate() error {
	if strings.TrimSpace(r.Addr) == "" {
		return fmt.Errorf("redis.addr cannot be empty")
	}
	if r.DB < 0 {
		return fmt.Errorf("redis.db must be >= 0")
	}
	return nil
}

func (e *ExchangeConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(e.Mode)) {
	case "mock":
		switch strings.ToLower(strings.TrimSpace(e.MockFillMode)) {
		case "matched", "pending":
		default:
			return fmt.Errorf("exchange.mock_fill_mode must be matched or pending")
		}
		return nil
	case "live":
	default:
		return fmt.Errorf("exchange.mode must be live or mock, got %q", e.Mode)
	}
	if strings.TrimSpace(e.AppKey) == "" {
		return fmt.Errorf("exchange.app_key is required in live mode")
	}
	if strings.TrimSpace(e.Username) == "" || strings.TrimSpace(e.Password) == "" {
		return fmt.Errorf("exchange.username/password are required in live mode")
	}
	if (e.CertFile == "") != (e.KeyFile == "") {
		return fmt.Errorf("exchange.cert_file and exchange.key_file must be set together")
	}
	if e.TimeoutSeconds <= 0 {
		return fmt.Errorf("exchange.timeout_seconds must be > 0")
	}
	if e.RequestsPerSecond <= 0 || e.Burst <= 0 {
		return fmt.Errorf("exchange.requests_per_second and exchange.burst must be > 0")
	}
	return nil
}

func (e *ExecutorConfig) validate() error {
	if e.CommissionRate < 0 || e.CommissionRate >= 1 {
		return fmt.Errorf("executor.commission_rate must be in [0,1)")
	}
	if e.MinOdds < 1.01 {
		return fmt.Errorf("executor.min_odds must be >= 1.01")
	}
	if e.MaxOdds <= e.MinOdds {
		return fmt.Errorf("executor.max_odds must be greater than min_odds")
	}
	if e.MinStake < 0 {
		return fmt.Errorf("executor.min_stake must be >= 0")
	}
	if e.PlacementTimeoutSeconds <= 0 {
		return fmt.Errorf("executor.placement_timeout_seconds must be > 0")
	}
	if e.MaxSignalAgeSeconds <= 0 {
		return fmt.Errorf("executor.max_signal_age_seconds must be > 0")
	}
	return nil
}

func (o *OrdersConfig) validate() error {
	if o.MaxOrdersPerCheck <= 0 {
		return fmt.Errorf("orders.max_orders_per_check must be > 0")
	}
	if o.StatusCheckIntervalSeconds <= 0 || o.SweepIntervalSeconds <= 0 {
		return fmt.Errorf("orders intervals must be > 0")
	}
	if o.UnmatchedOrderTimeoutSeconds <= 0 {
		return fmt.Errorf("orders.unmatched_order_timeout_seconds must be > 0")
	}
	return nil
}

func (r *RiskConfig) validate() error {
	if r.MaxConsecutiveFailures <= 0 {
		return fmt.Errorf("risk.max_consecutive_failures must be > 0")
	}
	if r.FailureWindowMinutes <= 0 {
		return fmt.Errorf("risk.failure_window_minutes must be > 0")
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	if !n.Telegram.Enabled {
		return nil
	}
	if strings.TrimSpace(n.Telegram.BotToken) == "" || strings.TrimSpace(n.Telegram.ChatID) == "" {
		return fmt.Errorf("notify.telegram requires bot_token and chat_id when enabled")
	}
	return nil
}
