package config

import (
	"strings"
	"time"
)

// Config 是 betexec 的主配置载体。
type Config struct {
	App      AppConfig      `toml:"app"`
	Redis    RedisConfig    `toml:"redis"`
	Exchange ExchangeConfig `toml:"exchange"`
	Executor ExecutorConfig `toml:"executor"`
	Orders   OrdersConfig   `toml:"orders"`
	Risk     RiskConfig     `toml:"risk"`
	Store    StoreConfig    `toml:"store"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Notify   NotifyConfig   `toml:"notify"`
}

type AppConfig struct {
	Env       string `toml:"env"`
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
	HTTPAddr  string `toml:"http_addr"`
	LogPath   string `toml:"log_path"`
}

// RedisConfig 共享账本（敞口/限额/熔断/PnL）所在的 Redis。
type RedisConfig struct {
	Addr                string `toml:"addr"`
	Password            string `toml:"password"`
	DB                  int    `toml:"db"`
	DialTimeoutSeconds  int    `toml:"dial_timeout_seconds"`
	ReadTimeoutSeconds  int    `toml:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `toml:"write_timeout_seconds"`
}

// ExchangeConfig 描述交易所网关。mode=mock 时不访问外网。
type ExchangeConfig struct {
	Mode              string  `toml:"mode"` // "live" | "mock"
	AppKey            string  `toml:"app_key"`
	Username          string  `toml:"username"`
	Password          string  `toml:"password"`
	CertFile          string  `toml:"cert_file"`
	KeyFile           string  `toml:"key_file"`
	APIURL            string  `toml:"api_url"`
	LoginURL          string  `toml:"login_url"`
	AccountURL        string  `toml:"account_url"`
	TimeoutSeconds    int     `toml:"timeout_seconds"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
	MockFillMode      string  `toml:"mock_fill_mode"` // "matched" | "pending"
}

func (e ExchangeConfig) IsMock() bool {
	return strings.EqualFold(strings.TrimSpace(e.Mode), "mock")
}

func (e ExchangeConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutSeconds) * time.Second
}

// ExecutorConfig 信号处理与执行参数。
type ExecutorConfig struct {
	PaperTrading                bool    `toml:"paper_trading"`
	SubscribeArbitrageSignals   bool    `toml:"subscribe_arbitrage_signals"`
	SubscribeStrategySignals    bool    `toml:"subscribe_strategy_signals"`
	MaxSignalAgeSeconds         int     `toml:"max_signal_age_seconds"`
	CommissionRate              float64 `toml:"commission_rate"`
	MinOdds                     float64 `toml:"min_odds"`
	MaxOdds                     float64 `toml:"max_odds"`
	MinStake                    float64 `toml:"min_stake"`
	PlacementTimeoutSeconds     int     `toml:"placement_timeout_seconds"`
	BalanceRefreshSeconds       int     `toml:"balance_refresh_seconds"`
	MatchedReconcileSeconds     int     `toml:"matched_reconcile_seconds"`
	ShutdownCancelTimeoutSecond int     `toml:"shutdown_cancel_timeout_seconds"`
}

// OrdersConfig 订单对账/超时参数。
type OrdersConfig struct {
	StatusCheckIntervalSeconds   int `toml:"status_check_interval_seconds"`
	MaxOrdersPerCheck            int `toml:"max_orders_per_check"`
	UnmatchedOrderTimeoutSeconds int `toml:"unmatched_order_timeout_seconds"`
	SweepIntervalSeconds         int `toml:"sweep_interval_seconds"`
}

// RiskConfig 风控开关与熔断参数。
type RiskConfig struct {
	Enabled                 bool   `toml:"enabled"`
	CircuitBreakerEnabled   bool   `toml:"circuit_breaker_enabled"`
	MaxConsecutiveFailures  int    `toml:"max_consecutive_failures"`
	FailureWindowMinutes    int    `toml:"failure_window_minutes"`
	ReleaseExposureOnCancel bool   `toml:"release_exposure_on_cancel"`
	LimitsFile              string `toml:"limits_file"`
}

func (r RiskConfig) FailureWindow() time.Duration {
	return time.Duration(r.FailureWindowMinutes) * time.Minute
}

type StoreConfig struct {
	TradesDB string `toml:"trades_db"`
	AuditDB  string `toml:"audit_db"`
}

type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
