package config

import (
	"strings"
)

// 默认值常量
const (
	defaultAppEnv              = "dev"
	defaultAppLogLevel         = "info"
	defaultAppLogFormat        = "text"
	defaultAppHTTPAddr         = ":5004"
	defaultAppLogPath          = "/data/logs/betexec.log"
	defaultRedisAddr           = "localhost:6379"
	defaultRedisDialTimeout    = 5
	defaultRedisIOTimeout      = 3
	defaultExchangeMode        = "live"
	defaultExchangeAPIURL      = "https://api.betfair.com/exchange/betting/rest/v1.0/"
	defaultExchangeAccountURL  = "https://api.betfair.com/exchange/account/rest/v1.0/"
	defaultExchangeLoginURL    = "https://identitysso-cert.betfair.com/api/certlogin"
	defaultExchangeTimeout     = 30
	defaultExchangeRPS         = 5
	defaultExchangeBurst       = 5
	defaultMockFillMode        = "matched"
	defaultMaxSignalAge        = 60
	defaultCommissionRate      = 0.05
	defaultMinOdds             = 1.01
	defaultMaxOdds             = 1000
	defaultMinStake            = 2
	defaultPlacementTimeout    = 10
	defaultBalanceRefresh      = 60
	defaultMatchedReconcile    = 10
	defaultShutdownCancel      = 5
	defaultStatusCheckInterval = 5
	defaultMaxOrdersPerCheck   = 10
	defaultUnmatchedTimeout    = 30
	defaultSweepInterval       = 5
	defaultMaxFailures         = 3
	defaultFailureWindow       = 5
	defaultTradesDB            = "/data/db/trades.db"
	defaultAuditDB             = "/data/db/signal_audit.db"
	defaultMetricsPath         = "/metrics"
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Redis.applyDefaults(keys)
	c.Exchange.applyDefaults(keys)
	c.Executor.applyDefaults(keys)
	c.Orders.applyDefaults(keys)
	c.Risk.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	c.Metrics.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.log_format", &a.LogFormat, defaultAppLogFormat),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
	)
}

func (r *RedisConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("redis.addr", &r.Addr, defaultRedisAddr),
		intFieldDefault("redis.dial_timeout_seconds", &r.DialTimeoutSeconds, defaultRedisDialTimeout),
		intFieldDefault("redis.read_timeout_seconds", &r.ReadTimeoutSeconds, defaultRedisIOTimeout),
		intFieldDefault("redis.write_timeout_seconds", &r.WriteTimeoutSeconds, defaultRedisIOTimeout),
	)
}

func (e *ExchangeConfig) applyDefaults(keys keySet) {
	if e == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("exchange.mode", &e.Mode, defaultExchangeMode),
		stringFieldDefault("exchange.api_url", &e.APIURL, defaultExchangeAPIURL),
		stringFieldDefault("exchange.account_url", &e.AccountURL, defaultExchangeAccountURL),
		stringFieldDefault("exchange.login_url", &e.LoginURL, defaultExchangeLoginURL),
		stringFieldDefault("exchange.mock_fill_mode", &e.MockFillMode, defaultMockFillMode),
		intFieldDefault("exchange.timeout_seconds", &e.TimeoutSeconds, defaultExchangeTimeout),
		intFieldDefault("exchange.burst", &e.Burst, defaultExchangeBurst),
		floatFieldDefault("exchange.requests_per_second", &e.RequestsPerSecond, defaultExchangeRPS),
	)
}

func (e *ExecutorConfig) applyDefaults(keys keySet) {
	if e == nil {
		return
	}
	applyFieldDefaults(keys,
		boolFieldDefault("executor.subscribe_arbitrage_signals", &e.SubscribeArbitrageSignals, true),
		boolFieldDefault("executor.subscribe_strategy_signals", &e.SubscribeStrategySignals, true),
		intFieldDefault("executor.max_signal_age_seconds", &e.MaxSignalAgeSeconds, defaultMaxSignalAge),
		floatFieldDefault("executor.commission_rate", &e.CommissionRate, defaultCommissionRate),
		floatFieldDefault("executor.min_odds", &e.MinOdds, defaultMinOdds),
		floatFieldDefault("executor.max_odds", &e.MaxOdds, defaultMaxOdds),
		floatFieldDefault("executor.min_stake", &e.MinStake, defaultMinStake),
		intFieldDefault("executor.placement_timeout_seconds", &e.PlacementTimeoutSeconds, defaultPlacementTimeout),
		intFieldDefault("executor.balance_refresh_seconds", &e.BalanceRefreshSeconds, defaultBalanceRefresh),
		intFieldDefault("executor.matched_reconcile_seconds", &e.MatchedReconcileSeconds, defaultMatchedReconcile),
		intFieldDefault("executor.shutdown_cancel_timeout_seconds", &e.ShutdownCancelTimeoutSecond, defaultShutdownCancel),
	)
}

func (o *OrdersConfig) applyDefaults(keys keySet) {
	if o == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("orders.status_check_interval_seconds", &o.StatusCheckIntervalSeconds, defaultStatusCheckInterval),
		intFieldDefault("orders.max_orders_per_check", &o.MaxOrdersPerCheck, defaultMaxOrdersPerCheck),
		intFieldDefault("orders.unmatched_order_timeout_seconds", &o.UnmatchedOrderTimeoutSeconds, defaultUnmatchedTimeout),
		intFieldDefault("orders.sweep_interval_seconds", &o.SweepIntervalSeconds, defaultSweepInterval),
	)
}

func (r *RiskConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		boolFieldDefault("risk.enabled", &r.Enabled, true),
		boolFieldDefault("risk.circuit_breaker_enabled", &r.CircuitBreakerEnabled, true),
		intFieldDefault("risk.max_consecutive_failures", &r.MaxConsecutiveFailures, defaultMaxFailures),
		intFieldDefault("risk.failure_window_minutes", &r.FailureWindowMinutes, defaultFailureWindow),
	)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("store.trades_db", &s.TradesDB, defaultTradesDB),
		stringFieldDefault("store.audit_db", &s.AuditDB, defaultAuditDB),
	)
}

func (m *MetricsConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	applyFieldDefaults(keys,
		boolFieldDefault("metrics.enabled", &m.Enabled, true),
		stringFieldDefault("metrics.path", &m.Path, defaultMetricsPath),
	)
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func floatFieldDefault(key string, target *float64, def float64) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
