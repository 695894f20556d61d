package ledger

import (
	"context"
	"fmt"

	"betexec/internal/types"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// risk:limits 中的字段名，与其他服务保持一致。
const (
	fieldBankroll                = "Bankroll"
	fieldMaxExposurePerMarket    = "MaxExposurePerMarket"
	fieldMaxExposurePerSelection = "MaxExposurePerSelection"
	fieldMaxStakePerOrder        = "MaxStakePerOrder"
	fieldMaxDailyLoss            = "MaxDailyLoss"
	fieldMaxRiskPerTradePercent  = "MaxRiskPerTradePercent"
)

// Limits 读取风控限额快照。found=false 表示 key 不存在。
// 单个字段缺失或无法解析时回退到默认值。
func (l *Ledger) Limits(ctx context.Context) (types.RiskLimits, bool, error) {
	entries, err := l.rdb.HGetAll(ctx, KeyRiskLimits).Result()
	if err != nil {
		return types.RiskLimits{}, false, fmt.Errorf("read risk limits: %w", err)
	}
	if len(entries) == 0 {
		return types.RiskLimits{}, false, nil
	}
	def := types.DefaultRiskLimits()
	pick := func(field string, fallback decimal.Decimal) decimal.Decimal {
		raw, ok := entries[field]
		if !ok {
			return fallback
		}
		val, err := parseDecimal(raw)
		if err != nil {
			return fallback
		}
		return val
	}
	return types.RiskLimits{
		Bankroll:                pick(fieldBankroll, def.Bankroll),
		MaxExposurePerMarket:    pick(fieldMaxExposurePerMarket, def.MaxExposurePerMarket),
		MaxExposurePerSelection: pick(fieldMaxExposurePerSelection, def.MaxExposurePerSelection),
		MaxStakePerOrder:        pick(fieldMaxStakePerOrder, def.MaxStakePerOrder),
		MaxDailyLoss:            pick(fieldMaxDailyLoss, def.MaxDailyLoss),
		MaxRiskPerTradePercent:  pick(fieldMaxRiskPerTradePercent, def.MaxRiskPerTradePercent),
	}, true, nil
}

// SetLimits 整体替换快照（DEL + HSET 在同一事务内），不做字段级合并。
func (l *Ledger) SetLimits(ctx context.Context, limits types.RiskLimits) error {
	values := map[string]interface{}{
		fieldBankroll:                limits.Bankroll.StringFixed(2),
		fieldMaxExposurePerMarket:    limits.MaxExposurePerMarket.StringFixed(2),
		fieldMaxExposurePerSelection: limits.MaxExposurePerSelection.StringFixed(2),
		fieldMaxStakePerOrder:        limits.MaxStakePerOrder.StringFixed(2),
		fieldMaxDailyLoss:            limits.MaxDailyLoss.StringFixed(2),
		fieldMaxRiskPerTradePercent:  limits.MaxRiskPerTradePercent.StringFixed(4),
	}
	_, err := l.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, KeyRiskLimits)
		pipe.HSet(ctx, KeyRiskLimits, values)
		return nil
	})
	if err != nil {
		return fmt.Errorf("write risk limits: %w", err)
	}
	return nil
}

// EnsureLimits 在 key 缺失时写入 defaults，返回当前生效的限额。
func (l *Ledger) EnsureLimits(ctx context.Context, defaults types.RiskLimits) (types.RiskLimits, error) {
	limits, found, err := l.Limits(ctx)
	if err != nil {
		return types.RiskLimits{}, err
	}
	if found {
		return limits, nil
	}
	if err := l.SetLimits(ctx, defaults); err != nil {
		return types.RiskLimits{}, err
	}
	return defaults, nil
}
