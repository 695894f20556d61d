package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"betexec/internal/logger"
	"betexec/internal/types"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// PositionSnapshot 是 positions:{marketId} 中每个 selection 的最新快照。
type PositionSnapshot struct {
	SelectionID string          `json:"SelectionId"`
	Side        types.Side      `json:"Side"`
	Stake       decimal.Decimal `json:"Stake"`
	Odds        decimal.Decimal `json:"Odds"`
	Exposure    decimal.Decimal `json:"Exposure"`
	Timestamp   int64           `json:"Timestamp"`
}

type exposureUpdate struct {
	MarketID    string          `json:"MarketId"`
	SelectionID string          `json:"SelectionId"`
	Exposure    decimal.Decimal `json:"Exposure"`
	Total       decimal.Decimal `json:"Total"`
	Timestamp   string          `json:"Timestamp"`
}

// IncrExposure 原子地把 delta 加到 exposure:{market} 的 selection 字段上，
// 同一事务内写入 position 快照并刷新 TTL。返回增量后的 selection 敞口。
// delta 可以为负（撤单释放敞口）。
func (l *Ledger) IncrExposure(ctx context.Context, marketID, selectionID string, delta decimal.Decimal, snap PositionSnapshot) (decimal.Decimal, error) {
	if marketID == "" || selectionID == "" {
		return decimal.Zero, fmt.Errorf("market and selection ids are required")
	}
	exposureKey := ExposureKey(marketID)
	positionsKey := PositionsKey(marketID)
	now := l.nowFn()
	if snap.Timestamp == 0 {
		snap.Timestamp = now.Unix()
	}
	snap.SelectionID = selectionID
	body, err := json.Marshal(snap)
	if err != nil {
		return decimal.Zero, fmt.Errorf("encode position snapshot: %w", err)
	}

	var incr *redis.FloatCmd
	_, err = l.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.HIncrByFloat(ctx, exposureKey, selectionID, delta.InexactFloat64())
		pipe.HSet(ctx, positionsKey, selectionID, string(body))
		pipe.Expire(ctx, exposureKey, l.exposureTTL)
		pipe.Expire(ctx, positionsKey, l.exposureTTL)
		return nil
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("update exposure %s/%s: %w", marketID, selectionID, err)
	}
	total := decimal.NewFromFloat(incr.Val())

	update, _ := json.Marshal(exposureUpdate{
		MarketID:    marketID,
		SelectionID: selectionID,
		Exposure:    delta,
		Total:       total,
		Timestamp:   now.UTC().Format(time.RFC3339),
	})
	if err := l.rdb.Publish(ctx, ChannelExposureUpdates, update).Err(); err != nil {
		logger.Warnf("ledger: publish exposure update failed market=%s selection=%s err=%v", marketID, selectionID, err)
	}
	return total, nil
}

// SelectionExposure 读取单个 selection 的累计敞口，缺失为 0。
func (l *Ledger) SelectionExposure(ctx context.Context, marketID, selectionID string) (decimal.Decimal, error) {
	raw, err := l.rdb.HGet(ctx, ExposureKey(marketID), selectionID).Result()
	if errors.Is(err, redis.Nil) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("read selection exposure: %w", err)
	}
	return parseDecimal(raw)
}

// MarketExposure 返回整个市场各 selection 的敞口。
func (l *Ledger) MarketExposure(ctx context.Context, marketID string) (map[string]decimal.Decimal, error) {
	entries, err := l.rdb.HGetAll(ctx, ExposureKey(marketID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read market exposure: %w", err)
	}
	out := make(map[string]decimal.Decimal, len(entries))
	for sel, raw := range entries {
		val, err := parseDecimal(raw)
		if err != nil {
			logger.Warnf("ledger: skip unparsable exposure market=%s selection=%s value=%q", marketID, sel, raw)
			continue
		}
		out[sel] = val
	}
	return out, nil
}

// MarketExposureTotal 对 MarketExposure 求和。
func (l *Ledger) MarketExposureTotal(ctx context.Context, marketID string) (decimal.Decimal, error) {
	entries, err := l.MarketExposure(ctx, marketID)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, v := range entries {
		total = total.Add(v)
	}
	return total, nil
}

// Positions 读取 positions:{marketId}。
func (l *Ledger) Positions(ctx context.Context, marketID string) (map[string]PositionSnapshot, error) {
	entries, err := l.rdb.HGetAll(ctx, PositionsKey(marketID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read positions: %w", err)
	}
	out := make(map[string]PositionSnapshot, len(entries))
	for sel, raw := range entries {
		var snap PositionSnapshot
		if err := json.Unmarshal([]byte(raw), &snap); err != nil {
			logger.Warnf("ledger: skip bad position snapshot market=%s selection=%s err=%v", marketID, sel, err)
			continue
		}
		out[sel] = snap
	}
	return out, nil
}
