package app

import (
	"context"
	"fmt"
	"strings"

	"betexec/internal/accounting"
	"betexec/internal/config"
	cfgloader "betexec/internal/config/loader"
	"betexec/internal/executor"
	"betexec/internal/gateway/betfair"
	"betexec/internal/gateway/exchange"
	"betexec/internal/gateway/mockexchange"
	"betexec/internal/gateway/notifier"
	"betexec/internal/ledger"
	"betexec/internal/logger"
	"betexec/internal/risk"
	"betexec/internal/signal"
	"betexec/internal/store/auditlog"
	"betexec/internal/store/gormstore"
	controlhttp "betexec/internal/transport/http/control"

	"github.com/redis/go-redis/v9"
)

type AppBuilder struct {
	cfg *config.Config

	redisFn    func(config.RedisConfig) redis.UniversalClient
	gatewayFn  func(config.ExchangeConfig) (exchange.Gateway, error)
	notifierFn func(config.TelegramConfig) notifier.TextNotifier
}

type AppBuilderOption func(*AppBuilder)

// WithRedisClient 使用外部 Redis 客户端（测试用 miniredis）。
func WithRedisClient(rdb redis.UniversalClient) AppBuilderOption {
	return func(b *AppBuilder) {
		b.redisFn = func(config.RedisConfig) redis.UniversalClient { return rdb }
	}
}

// WithGateway 跳过按配置构建网关。
func WithGateway(gw exchange.Gateway) AppBuilderOption {
	return func(b *AppBuilder) {
		b.gatewayFn = func(config.ExchangeConfig) (exchange.Gateway, error) { return gw, nil }
	}
}

func WithNotifier(n notifier.TextNotifier) AppBuilderOption {
	return func(b *AppBuilder) {
		b.notifierFn = func(config.TelegramConfig) notifier.TextNotifier { return n }
	}
}

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:        cfg,
		redisFn:    func(c config.RedisConfig) redis.UniversalClient { return ledger.NewClient(c) },
		gatewayFn:  buildGateway,
		notifierFn: buildNotifier,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func buildGateway(cfg config.ExchangeConfig) (exchange.Gateway, error) {
	if cfg.IsMock() {
		return mockexchange.New(cfg.MockFillMode), nil
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Mode)) {
	case "", "live":
		return betfair.NewClient(cfg)
	default:
		return nil, fmt.Errorf("unknown exchange mode %q", cfg.Mode)
	}
}

func buildNotifier(cfg config.TelegramConfig) notifier.TextNotifier {
	if !cfg.Enabled {
		return notifier.LogNotifier{}
	}
	return notifier.NewTelegram(cfg.BotToken, cfg.ChatID)
}

func (b *AppBuilder) Build(ctx context.Context) (_ *App, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	a := &App{cfg: cfg}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	rdb := b.redisFn(cfg.Redis)
	a.closers = append(a.closers, rdb.Close)
	led := ledger.New(rdb)
	if err := led.Ping(ctx); err != nil {
		return nil, fmt.Errorf("redis %s unavailable: %w", cfg.Redis.Addr, err)
	}
	logger.Infof("✓ Redis 已连接 %s db=%d", cfg.Redis.Addr, cfg.Redis.DB)

	riskOpts := risk.OptionsFromConfig(cfg.Risk)
	if path := strings.TrimSpace(cfg.Risk.LimitsFile); path != "" {
		limits, err := cfgloader.NewLimitsLoader(path)
		if err != nil {
			return nil, err
		}
		riskOpts.DefaultLimits = limits.Snapshot().Limits
		a.limits = limits
	}
	eng := risk.NewEngine(led, riskOpts)
	if a.limits != nil {
		a.limits.Subscribe(func(s cfgloader.LimitsSnapshot) {
			uctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
			defer cancel()
			if err := eng.UpdateLimits(uctx, s.Limits); err != nil {
				logger.Errorf("risk limits v%d not applied: %v", s.Version, err)
			}
		})
	}

	var repo accounting.Repository
	var trades controlhttp.TradeStore
	if path := strings.TrimSpace(cfg.Store.TradesDB); path != "" {
		st, err := gormstore.NewGormStore(path)
		if err != nil {
			return nil, fmt.Errorf("open trades db: %w", err)
		}
		a.closers = append(a.closers, st.Close)
		repo, trades = st, st
	}
	var signals controlhttp.SignalLog
	var intakeOpts []signal.IntakeOption
	if path := strings.TrimSpace(cfg.Store.AuditDB); path != "" {
		st, err := auditlog.NewStore(path)
		if err != nil {
			return nil, fmt.Errorf("open audit db: %w", err)
		}
		a.closers = append(a.closers, st.Close)
		signals = st
		intakeOpts = append(intakeOpts, signal.WithAuditSink(st))
	}
	rec := accounting.NewRecorder(led, repo, cfg.Executor.CommissionRate)

	gw, err := b.gatewayFn(cfg.Exchange)
	if err != nil {
		return nil, fmt.Errorf("build gateway: %w", err)
	}
	notify := b.notifierFn(cfg.Notify.Telegram)
	exec := executor.New(cfg.Executor, cfg.Orders, gw, eng, rec, notify)
	a.exec = exec

	norm := signal.NewNormalizer(signal.NormalizerConfigFrom(cfg.Executor), nil)
	channels := signal.Channels(cfg.Executor.SubscribeArbitrageSignals, cfg.Executor.SubscribeStrategySignals)
	a.intake = signal.NewIntake(rdb, channels, norm, exec, intakeOpts...)

	summary := cfg.Summary()
	router := controlhttp.NewRouter(controlhttp.RouterDeps{
		Risk:     eng,
		Orders:   exec.Orders(),
		Ledger:   led,
		Settler:  rec,
		Trades:   trades,
		Signals:  signals,
		Notifier: notify,
		Summary:  summary,
		Status:   func() any { return exec.Status() },
	})
	srv, err := controlhttp.NewServer(controlhttp.ServerConfig{
		Addr:        cfg.App.HTTPAddr,
		Metrics:     cfg.Metrics.Enabled,
		MetricsPath: cfg.Metrics.Path,
		Router:      router,
	})
	if err != nil {
		return nil, err
	}
	a.http = srv
	a.Summary = &StartupSummary{
		Config:   summary,
		Gateway:  gw.Name(),
		Channels: channels,
	}
	if a.limits != nil {
		a.Summary.LimitsFile = a.limits.Path()
	}
	return a, nil
}
