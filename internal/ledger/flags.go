package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// flagOn: 缺失、"false"、"0" 都视为关闭。
func flagOn(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "false", "0":
		return false
	default:
		return true
	}
}

func (l *Ledger) readFlag(ctx context.Context, key string) (bool, error) {
	raw, err := l.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", key, err)
	}
	return flagOn(raw), nil
}

// TradingEnabled 读取全局交易开关。
func (l *Ledger) TradingEnabled(ctx context.Context) (bool, error) {
	return l.readFlag(ctx, KeyTradingEnabled)
}

// SetTradingEnabled 用 GETSET 原子写入开关，返回写入前的状态。
func (l *Ledger) SetTradingEnabled(ctx context.Context, enabled bool) (bool, error) {
	prev, err := l.rdb.GetSet(ctx, KeyTradingEnabled, strconv.FormatBool(enabled)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("write %s: %w", KeyTradingEnabled, err)
	}
	return flagOn(prev), nil
}

// CircuitBreakerLatched 读取熔断粘滞标记。
func (l *Ledger) CircuitBreakerLatched(ctx context.Context) (bool, error) {
	return l.readFlag(ctx, KeyCircuitBreakerStatus)
}

// LatchCircuitBreaker 设置粘滞标记；返回 true 表示本次调用完成了从未触发到触发的切换。
func (l *Ledger) LatchCircuitBreaker(ctx context.Context) (bool, error) {
	latched, err := l.rdb.SetNX(ctx, KeyCircuitBreakerStatus, "true", 0).Result()
	if err != nil {
		return false, fmt.Errorf("latch circuit breaker: %w", err)
	}
	if latched {
		return true, nil
	}
	// key 存在但可能是 "false"（由外部工具写入）
	on, err := l.CircuitBreakerLatched(ctx)
	if err != nil {
		return false, err
	}
	if on {
		return false, nil
	}
	if err := l.rdb.Set(ctx, KeyCircuitBreakerStatus, "true", 0).Err(); err != nil {
		return false, fmt.Errorf("latch circuit breaker: %w", err)
	}
	return true, nil
}

// ClearCircuitBreaker 清除粘滞标记并记录复位时间；失败记录本身不删除。
func (l *Ledger) ClearCircuitBreaker(ctx context.Context) (time.Time, error) {
	now := l.nowFn()
	_, err := l.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, KeyCircuitBreakerStatus)
		pipe.Set(ctx, KeyCircuitBreakerResetAt, strconv.FormatInt(now.UnixMilli(), 10), 0)
		return nil
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("clear circuit breaker: %w", err)
	}
	return now, nil
}

// CircuitBreakerResetAt 返回最近一次人工复位时间（毫秒精度）；从未复位时返回零值。
func (l *Ledger) CircuitBreakerResetAt(ctx context.Context) (time.Time, error) {
	raw, err := l.rdb.Get(ctx, KeyCircuitBreakerResetAt).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("read %s: %w", KeyCircuitBreakerResetAt, err)
	}
	ms, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %s=%q: %w", KeyCircuitBreakerResetAt, raw, err)
	}
	return time.UnixMilli(ms), nil
}
