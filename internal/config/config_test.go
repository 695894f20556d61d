package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
exchange:
  mode: mock
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, ":5004", cfg.App.HTTPAddr)
	assert.True(t, cfg.Executor.SubscribeArbitrageSignals)
	assert.True(t, cfg.Executor.SubscribeStrategySignals)
	assert.Equal(t, 60, cfg.Executor.MaxSignalAgeSeconds)
	assert.InDelta(t, 0.05, cfg.Executor.CommissionRate, 1e-9)
	assert.Equal(t, 10, cfg.Orders.MaxOrdersPerCheck)
	assert.Equal(t, 30, cfg.Orders.UnmatchedOrderTimeoutSeconds)
	assert.Equal(t, 3, cfg.Risk.MaxConsecutiveFailures)
	assert.Equal(t, 5, cfg.Risk.FailureWindowMinutes)
	assert.True(t, cfg.Risk.CircuitBreakerEnabled)
	assert.False(t, cfg.Risk.ReleaseExposureOnCancel)
	assert.Equal(t, "matched", cfg.Exchange.MockFillMode)
}

func TestLoad_ExplicitFalseIsKept(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
exchange:
  mode: mock
executor:
  subscribe_arbitrage_signals: false
metrics:
  enabled: false
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.Executor.SubscribeArbitrageSignals)
	assert.True(t, cfg.Executor.SubscribeStrategySignals)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestLoad_IncludesMergeInOrder(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
redis:
  addr: redis-a:6379
orders:
  max_orders_per_check: 4
`)
	path := writeFile(t, dir, "config.yaml", `
include:
  - base.yaml
exchange:
  mode: mock
redis:
  addr: redis-b:6379
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "redis-b:6379", cfg.Redis.Addr)
	assert.Equal(t, 4, cfg.Orders.MaxOrdersPerCheck)
}

func TestLoad_SecretsFromEnv(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
exchange:
  mode: live
  username: operator
`)
	t.Setenv("BETEXEC_EXCHANGE_APP_KEY", "app-key")
	t.Setenv("BETEXEC_EXCHANGE_PASSWORD", "s3cret")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "app-key", cfg.Exchange.AppKey)
	assert.Equal(t, "s3cret", cfg.Exchange.Password)
	assert.Equal(t, "operator", cfg.Exchange.Username)
}

func TestLoad_EnvBeatsFileForSecrets(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
exchange:
  mode: mock
notify:
  telegram:
    bot_token: from-file
    chat_id: "42"
`)
	t.Setenv(secretEnv("notify.telegram.bot_token"), "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "BETEXEC_NOTIFY_TELEGRAM_BOT_TOKEN", secretEnv("notify.telegram.bot_token"))
	assert.Equal(t, "from-env", cfg.Notify.Telegram.BotToken)
	assert.Equal(t, "42", cfg.Notify.Telegram.ChatID)
}

func TestLoad_SharedIncludeMergedOnce(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "common.yaml", "orders:\n  max_orders_per_check: 2\n")
	writeFile(t, dir, "risk.yaml", "include:\n  - common.yaml\nrisk:\n  max_consecutive_failures: 7\n")
	writeFile(t, dir, "orders.yaml", "include:\n  - common.yaml\norders:\n  max_orders_per_check: 6\n")
	path := writeFile(t, dir, "config.yaml", "include:\n  - orders.yaml\n  - risk.yaml\nexchange:\n  mode: mock\n")

	layers, err := configLayers(path)
	require.NoError(t, err)
	require.Len(t, layers, 4)
	assert.Equal(t, "common.yaml", filepath.Base(layers[0]))
	assert.Equal(t, "config.yaml", filepath.Base(layers[3]))

	cfg, err := Load(path)
	require.NoError(t, err)
	// risk.yaml 再次包含 common.yaml 不会把 orders.yaml 的值覆盖回去
	assert.Equal(t, 6, cfg.Orders.MaxOrdersPerCheck)
	assert.Equal(t, 7, cfg.Risk.MaxConsecutiveFailures)
}

func TestLoad_Validation(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{
			name: "live without credentials",
			body: "exchange:\n  mode: live\n",
			want: "exchange.app_key",
		},
		{
			name: "unknown mode",
			body: "exchange:\n  mode: paper\n",
			want: "exchange.mode",
		},
		{
			name: "zero batch",
			body: "exchange:\n  mode: mock\norders:\n  max_orders_per_check: 0\n",
			want: "orders.max_orders_per_check",
		},
		{
			name: "telegram without token",
			body: "exchange:\n  mode: mock\nnotify:\n  telegram:\n    enabled: true\n",
			want: "notify.telegram",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "config.yaml", tc.body)
			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoad_IncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "include:\n  - b.yaml\n")
	writeFile(t, dir, "b.yaml", "include:\n  - a.yaml\n")
	_, err := Load(filepath.Join(dir, "a.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "include cycle")
}

func TestSummary_HidesSecrets(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
exchange:
  mode: mock
  password: hunter2
executor:
  paper_trading: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	sum := cfg.Summary()
	assert.Equal(t, "mock", sum.ExchangeMode)
	assert.True(t, sum.PaperTrading)
	assert.Equal(t, "[1.01, 1000]", sum.OddsRange)
	assert.Equal(t, "localhost:6379/0", sum.Redis)

	lines := sum.Lines()
	assert.Contains(t, lines, "Paper Trading: ENABLED")
	for _, line := range lines {
		assert.NotContains(t, line, "hunter2")
	}
}
