// Package accounting 在订单完全成交后记账：计算佣金、写入待结算记录并通知记账服务，
// 结算时写入结算结果并累加当日/总盈亏。
package accounting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"betexec/internal/logger"
	"betexec/internal/types"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const DefaultCommissionRate = 0.05

type Ledger interface {
	Now() time.Time
	StageTrade(ctx context.Context, tradeID string, payload []byte) error
	StoreSettlement(ctx context.Context, tradeID string, payload []byte) error
	AddPnL(ctx context.Context, netProfit decimal.Decimal) error
}

// Repository 持久化成交记录，可为空。
type Repository interface {
	SaveTrade(ctx context.Context, trade types.Trade) error
	SettleTrade(ctx context.Context, st types.Settlement) (types.Trade, error)
}

type Recorder struct {
	ledger Ledger
	repo   Repository
	rate   decimal.Decimal
	newID  func() string
}

func NewRecorder(l Ledger, repo Repository, commissionRate float64) *Recorder {
	if commissionRate < 0 || commissionRate >= 1 {
		commissionRate = DefaultCommissionRate
	}
	return &Recorder{
		ledger: l,
		repo:   repo,
		rate:   decimal.NewFromFloat(commissionRate),
		newID:  uuid.NewString,
	}
}

func (r *Recorder) CommissionRate() decimal.Decimal { return r.rate }

// Commission = (odds - 1) × matched × rate。
func (r *Recorder) Commission(odds, matched decimal.Decimal) decimal.Decimal {
	return odds.Sub(decimal.NewFromInt(1)).Mul(matched).Mul(r.rate)
}

// Record 为一笔完全成交的订单生成成交记录。NetProfit 留空，等待结算。
func (r *Recorder) Record(ctx context.Context, o types.ManagedOrder) (types.Trade, error) {
	if !o.MatchedSize.IsPositive() {
		return types.Trade{}, types.Inconsistent("record trade", "order "+o.OrderID+" has no matched size")
	}
	odds := o.MatchedPrice()
	trade := types.Trade{
		ID:            r.newID(),
		OrderID:       o.OrderID,
		Timestamp:     o.PlacedAt.UTC(),
		MarketID:      o.MarketID,
		SelectionID:   o.SelectionID,
		Stake:         o.MatchedSize,
		Odds:          odds,
		Type:          strings.ToUpper(string(o.Side)),
		Status:        strings.ToUpper(string(types.StatusMatched)),
		Commission:    r.Commission(odds, o.MatchedSize),
		CorrelationID: o.CorrelationID,
		CreatedAt:     r.ledger.Now().UTC(),
	}
	payload, err := json.Marshal(trade)
	if err != nil {
		return types.Trade{}, fmt.Errorf("marshal trade: %w", err)
	}

	var errs []error
	if err := r.ledger.StageTrade(ctx, trade.ID, payload); err != nil {
		errs = append(errs, err)
	}
	if r.repo != nil {
		if err := r.repo.SaveTrade(ctx, trade); err != nil {
			errs = append(errs, fmt.Errorf("persist trade %s: %w", trade.ID, err))
		}
	}
	if len(errs) > 0 {
		err := errors.Join(errs...)
		logger.Errorf("accounting: record trade for order %s: %v", o.OrderID, err)
		return trade, err
	}
	logger.Infof("accounting: trade logged %s order=%s %s %s@%s selection=%s commission=%s",
		trade.ID, o.OrderID, trade.Type, trade.Stake.StringFixed(2), trade.Odds.String(), trade.SelectionID, trade.Commission.StringFixed(2))
	return trade, nil
}

// RecordAll 逐个记账，返回成功数量；单个失败不影响其余。
func (r *Recorder) RecordAll(ctx context.Context, orders []types.ManagedOrder) int {
	n := 0
	for _, o := range orders {
		if _, err := r.Record(ctx, o); err == nil {
			n++
		}
	}
	return n
}

// Settle 写入结算结果：净盈亏 = 盈亏 × (1 - rate)，并累加当日与总盈亏。
// 配置了仓库时，先在仓库中标记结算，重复结算会被拒绝。
func (r *Recorder) Settle(ctx context.Context, tradeID string, profitLoss decimal.Decimal) (types.Settlement, error) {
	tradeID = strings.TrimSpace(tradeID)
	if tradeID == "" {
		return types.Settlement{}, types.Rejected("settle trade", "trade id is required")
	}
	st := types.Settlement{
		TradeID:    tradeID,
		ProfitLoss: profitLoss,
		NetProfit:  r.NetProfit(profitLoss),
		SettledAt:  r.ledger.Now().UTC(),
	}
	if r.repo != nil {
		if _, err := r.repo.SettleTrade(ctx, st); err != nil {
			return types.Settlement{}, fmt.Errorf("settle trade %s: %w", tradeID, err)
		}
	}
	payload, err := json.Marshal(st)
	if err != nil {
		return types.Settlement{}, err
	}
	if err := r.ledger.StoreSettlement(ctx, tradeID, payload); err != nil {
		return st, err
	}
	if err := r.ledger.AddPnL(ctx, st.NetProfit); err != nil {
		return st, err
	}
	logger.Infof("accounting: trade %s settled pl=%s net=%s", tradeID, profitLoss.StringFixed(2), st.NetProfit.StringFixed(2))
	return st, nil
}

// NetProfit 亏损同样乘以 (1 - rate)。
func (r *Recorder) NetProfit(profitLoss decimal.Decimal) decimal.Decimal {
	return profitLoss.Mul(decimal.NewFromInt(1).Sub(r.rate))
}
