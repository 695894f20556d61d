package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"betexec/internal/logger"
	"betexec/internal/types"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// AppendFailure 追加失败记录并在同一事务内清理窗口外的旧记录。
// score 为毫秒时间戳；成员带随机 nonce，相同 (orderId, reason, timestamp) 的两次写入仍是两条记录。
func (l *Ledger) AppendFailure(ctx context.Context, orderID, reason string, window time.Duration) (types.FailureRecord, error) {
	now := l.nowFn()
	rec := types.FailureRecord{
		OrderID:   orderID,
		Reason:    reason,
		Timestamp: now.Unix(),
		Nonce:     uuid.NewString(),
	}
	member, err := json.Marshal(rec)
	if err != nil {
		return rec, fmt.Errorf("encode failure record: %w", err)
	}
	cutoff := now.Add(-window).UnixMilli()
	_, err = l.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, KeyFailedOrders, redis.Z{Score: float64(now.UnixMilli()), Member: string(member)})
		pipe.ZRemRangeByScore(ctx, KeyFailedOrders, "-inf", "("+strconv.FormatInt(cutoff, 10))
		return nil
	})
	if err != nil {
		return rec, fmt.Errorf("record failure for %s: %w", orderID, err)
	}
	return rec, nil
}

// CountFailuresSince 统计 since 之后（含，毫秒精度）的失败记录数。
func (l *Ledger) CountFailuresSince(ctx context.Context, since time.Time) (int64, error) {
	n, err := l.rdb.ZCount(ctx, KeyFailedOrders, strconv.FormatInt(since.UnixMilli(), 10), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("count failures: %w", err)
	}
	return n, nil
}

// FailuresSince 返回 since 之后的失败记录（按时间升序）。
func (l *Ledger) FailuresSince(ctx context.Context, since time.Time) ([]types.FailureRecord, error) {
	members, err := l.rdb.ZRangeByScore(ctx, KeyFailedOrders, &redis.ZRangeBy{
		Min: strconv.FormatInt(since.UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list failures: %w", err)
	}
	out := make([]types.FailureRecord, 0, len(members))
	for _, raw := range members {
		var rec types.FailureRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			logger.Warnf("ledger: skip bad failure record %q: %v", raw, err)
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}
