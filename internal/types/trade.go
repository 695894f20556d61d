package types

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrTradeNotFound  = errors.New("trade not found")
	ErrAlreadySettled = errors.New("trade already settled")
)

// Trade 一笔完全成交订单的记账记录。NetProfit 在结算前为空。
type Trade struct {
	ID            string           `json:"id"`
	OrderID       string           `json:"orderId"`
	Timestamp     time.Time        `json:"timestamp"`
	MarketID      string           `json:"marketId"`
	SelectionID   string           `json:"selectionId"`
	Stake         decimal.Decimal  `json:"stake"`
	Odds          decimal.Decimal  `json:"odds"`
	Type          string           `json:"type"`
	Status        string           `json:"status"`
	ProfitLoss    *decimal.Decimal `json:"profitLoss"`
	Commission    decimal.Decimal  `json:"commission"`
	NetProfit     *decimal.Decimal `json:"netProfit"`
	CorrelationID string           `json:"correlationId,omitempty"`
	CreatedAt     time.Time        `json:"createdAt"`
	SettledAt     *time.Time       `json:"settledAt,omitempty"`
}

func (t Trade) Settled() bool { return t.SettledAt != nil }

// Settlement 写入 trades:settled:{id} 的结算结果。
type Settlement struct {
	TradeID    string          `json:"tradeId"`
	ProfitLoss decimal.Decimal `json:"profitLoss"`
	NetProfit  decimal.Decimal `json:"netProfit"`
	SettledAt  time.Time       `json:"settledAt"`
}

// DailySummary 按结算日（UTC）汇总。
type DailySummary struct {
	Date            string          `json:"date"`
	TotalTrades     int             `json:"totalTrades"`
	WinningTrades   int             `json:"winningTrades"`
	TotalStake      decimal.Decimal `json:"totalStake"`
	GrossProfit     decimal.Decimal `json:"grossProfit"`
	TotalCommission decimal.Decimal `json:"totalCommission"`
	NetProfit       decimal.Decimal `json:"netProfit"`
}

// ROI = 净利润 / 总投注额。
func (s DailySummary) ROI() decimal.Decimal {
	if !s.TotalStake.IsPositive() {
		return decimal.Zero
	}
	return s.NetProfit.Div(s.TotalStake)
}
