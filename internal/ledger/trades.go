package ledger

import (
	"context"
	"fmt"
)

// StageTrade 把成交记录放到 trades:pending:{id} 并通知记账服务。
func (l *Ledger) StageTrade(ctx context.Context, tradeID string, payload []byte) error {
	if err := l.rdb.Set(ctx, PendingTradeKey(tradeID), payload, defaultPendingTTL).Err(); err != nil {
		return fmt.Errorf("stage trade %s: %w", tradeID, err)
	}
	if err := l.rdb.Publish(ctx, ChannelTrades, payload).Err(); err != nil {
		return fmt.Errorf("publish trade %s: %w", tradeID, err)
	}
	return nil
}

// StoreSettlement 写入 trades:settled:{id}，保留 7 天。
func (l *Ledger) StoreSettlement(ctx context.Context, tradeID string, payload []byte) error {
	if err := l.rdb.Set(ctx, SettledTradeKey(tradeID), payload, defaultSettlementTTL).Err(); err != nil {
		return fmt.Errorf("store settlement %s: %w", tradeID, err)
	}
	return nil
}
