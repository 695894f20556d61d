package model

import (
	"gorm.io/datatypes"

	"github.com/shopspring/decimal"
)

// TradeModel maps to 'trades'. 金额统一以 TEXT 存储，避免 REAL 精度损失。
type TradeModel struct {
	ID            string              `gorm:"column:id;primaryKey"`
	OrderID       string              `gorm:"column:order_id;uniqueIndex"`
	MarketID      string              `gorm:"column:market_id;index"`
	SelectionID   string              `gorm:"column:selection_id"`
	Type          string              `gorm:"column:type"`
	Status        string              `gorm:"column:status"`
	Stake         decimal.Decimal     `gorm:"column:stake;type:TEXT"`
	Odds          decimal.Decimal     `gorm:"column:odds;type:TEXT"`
	Commission    decimal.Decimal     `gorm:"column:commission;type:TEXT"`
	ProfitLoss    decimal.NullDecimal `gorm:"column:profit_loss;type:TEXT"`
	NetProfit     decimal.NullDecimal `gorm:"column:net_profit;type:TEXT"`
	CorrelationID string              `gorm:"column:correlation_id;index"`
	RawData       datatypes.JSON      `gorm:"column:raw_data;type:TEXT"`
	TradedAtUnix  int64               `gorm:"column:traded_at;index"`
	SettledAtUnix *int64              `gorm:"column:settled_at"`
	CreatedAtUnix int64               `gorm:"column:created_at"`
	UpdatedAtUnix int64               `gorm:"column:updated_at"`
}

func (TradeModel) TableName() string { return "trades" }

// DailySummaryModel maps to 'daily_summaries'，按结算日聚合。
type DailySummaryModel struct {
	Date            string          `gorm:"column:date;primaryKey"`
	TotalTrades     int             `gorm:"column:total_trades"`
	WinningTrades   int             `gorm:"column:winning_trades"`
	TotalStake      decimal.Decimal `gorm:"column:total_stake;type:TEXT"`
	GrossProfit     decimal.Decimal `gorm:"column:gross_profit;type:TEXT"`
	TotalCommission decimal.Decimal `gorm:"column:total_commission;type:TEXT"`
	NetProfit       decimal.Decimal `gorm:"column:net_profit;type:TEXT"`
	UpdatedAtUnix   int64           `gorm:"column:updated_at"`
}

func (DailySummaryModel) TableName() string { return "daily_summaries" }
