// Package ledger 封装 Redis 中的共享账本：敞口、风控限额、失败记录、
// 熔断/交易开关以及 PnL 计数器。多个执行进程会同时读写这些 key，
// 所有写操作都必须是原子原语（HINCRBYFLOAT/INCRBYFLOAT/ZADD/MULTI）。
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"betexec/internal/config"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const (
	defaultExposureTTL   = 24 * time.Hour
	defaultDailyPnLTTL   = 48 * time.Hour
	defaultPendingTTL    = 24 * time.Hour
	defaultSettlementTTL = 7 * 24 * time.Hour
)

// Ledger 是 Redis 账本的访问入口，可被多个 goroutine 并发使用。
type Ledger struct {
	rdb   redis.UniversalClient
	nowFn func() time.Time

	exposureTTL time.Duration
	dailyPnLTTL time.Duration
}

type Option func(*Ledger)

// WithClock 替换时间源（测试用）。
func WithClock(fn func() time.Time) Option {
	return func(l *Ledger) {
		if fn != nil {
			l.nowFn = fn
		}
	}
}

func New(rdb redis.UniversalClient, opts ...Option) *Ledger {
	l := &Ledger{
		rdb:         rdb,
		nowFn:       time.Now,
		exposureTTL: defaultExposureTTL,
		dailyPnLTTL: defaultDailyPnLTTL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// NewClient 按配置创建 go-redis 客户端。
func NewClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  time.Duration(cfg.DialTimeoutSeconds) * time.Second,
		ReadTimeout:  time.Duration(cfg.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeoutSeconds) * time.Second,
	})
}

// Client exposes the underlying connection for pub/sub consumers.
func (l *Ledger) Client() redis.UniversalClient {
	if l == nil {
		return nil
	}
	return l.rdb
}

func (l *Ledger) Now() time.Time {
	return l.nowFn()
}

// Ping 检查 Redis 连通性。
func (l *Ledger) Ping(ctx context.Context) error {
	if l == nil || l.rdb == nil {
		return fmt.Errorf("ledger not initialized")
	}
	return l.rdb.Ping(ctx).Err()
}

func parseDecimal(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(raw)
}

// getDecimal 读取数值 key，缺失时返回 0。
func (l *Ledger) getDecimal(ctx context.Context, key string) (decimal.Decimal, error) {
	raw, err := l.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("get %s: %w", key, err)
	}
	val, err := parseDecimal(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse %s=%q: %w", key, raw, err)
	}
	return val, nil
}
