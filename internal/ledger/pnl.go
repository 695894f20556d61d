package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// DailyPnL 读取某天（UTC）的已实现盈亏。
func (l *Ledger) DailyPnL(ctx context.Context, day time.Time) (decimal.Decimal, error) {
	return l.getDecimal(ctx, DailyPnLKey(day))
}

// TodayPnL 读取今天的已实现盈亏。
func (l *Ledger) TodayPnL(ctx context.Context) (decimal.Decimal, error) {
	return l.DailyPnL(ctx, l.nowFn())
}

func (l *Ledger) TotalPnL(ctx context.Context) (decimal.Decimal, error) {
	return l.getDecimal(ctx, KeyTotalPnL)
}

// AddPnL 结算后累加当日与总盈亏；当日 key 保留 48 小时。
func (l *Ledger) AddPnL(ctx context.Context, netProfit decimal.Decimal) error {
	dailyKey := DailyPnLKey(l.nowFn())
	amount := netProfit.InexactFloat64()
	_, err := l.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.IncrByFloat(ctx, dailyKey, amount)
		pipe.Expire(ctx, dailyKey, l.dailyPnLTTL)
		pipe.IncrByFloat(ctx, KeyTotalPnL, amount)
		return nil
	})
	if err != nil {
		return fmt.Errorf("update pnl: %w", err)
	}
	return nil
}
