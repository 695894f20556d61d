package gormstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	storemodel "betexec/internal/store/model"
	"betexec/internal/types"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type tradeModel = storemodel.TradeModel
type dailySummaryModel = storemodel.DailySummaryModel

var (
	ErrTradeNotFound  = types.ErrTradeNotFound
	ErrAlreadySettled = types.ErrAlreadySettled
)

const dayLayout = "2006-01-02"

// GormStore 基于 Gorm + SQLite 的成交记录仓库。
type GormStore struct {
	db    *gorm.DB
	nowFn func() time.Time
}

// NewGormStore initializes a new GormStore instance.
func NewGormStore(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: 成交库路径不能为空")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&tradeModel{}, &dailySummaryModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL：HTTP 读与记账写之间保留少量并发
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &GormStore{db: db, nowFn: time.Now}, nil
}

// Close closes the underlying database connection.
func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SQLDB exposes the underlying *sql.DB for shared connections.
func (s *GormStore) SQLDB() (*sql.DB, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	return s.db.DB()
}

// SaveTrade 写入一笔成交；同一 order id 只保留第一条。
func (s *GormStore) SaveTrade(ctx context.Context, trade types.Trade) error {
	if s == nil || s.db == nil {
		return nil
	}
	if strings.TrimSpace(trade.ID) == "" || strings.TrimSpace(trade.OrderID) == "" {
		return fmt.Errorf("gorm store: trade id / order id 不能为空")
	}
	m, err := newTradeModel(trade, s.nowFn())
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "order_id"}}, DoNothing: true}).
		Create(&m).Error
}

func (s *GormStore) GetTrade(ctx context.Context, id string) (types.Trade, error) {
	var m tradeModel
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.Trade{}, ErrTradeNotFound
	}
	if err != nil {
		return types.Trade{}, err
	}
	return toTrade(m), nil
}

// TradeQuery 列表过滤条件。
type TradeQuery struct {
	MarketID    string
	OnlyPending bool
	Limit       int
	Offset      int
}

func (s *GormStore) ListTrades(ctx context.Context, q TradeQuery) ([]types.Trade, error) {
	if q.Limit <= 0 || q.Limit > 500 {
		q.Limit = 100
	}
	tx := s.db.WithContext(ctx).Model(&tradeModel{})
	if q.MarketID != "" {
		tx = tx.Where("market_id = ?", q.MarketID)
	}
	if q.OnlyPending {
		tx = tx.Where("settled_at IS NULL")
	}
	var rows []tradeModel
	if err := tx.Order("traded_at DESC").Order("id").Limit(q.Limit).Offset(q.Offset).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]types.Trade, 0, len(rows))
	for _, r := range rows {
		out = append(out, toTrade(r))
	}
	return out, nil
}

// SettleTrade 写入结算结果并累加结算日汇总，两者在同一事务中。
func (s *GormStore) SettleTrade(ctx context.Context, st types.Settlement) (types.Trade, error) {
	var settled types.Trade
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m tradeModel
		err := tx.Where("id = ?", st.TradeID).Take(&m).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrTradeNotFound
		}
		if err != nil {
			return err
		}
		if m.SettledAtUnix != nil {
			return ErrAlreadySettled
		}
		at := st.SettledAt.UTC()
		settledAt := at.UnixMilli()
		m.ProfitLoss = decimal.NewNullDecimal(st.ProfitLoss)
		m.NetProfit = decimal.NewNullDecimal(st.NetProfit)
		m.SettledAtUnix = &settledAt
		m.Status = "SETTLED"
		m.UpdatedAtUnix = s.nowFn().UnixMilli()
		if err := tx.Save(&m).Error; err != nil {
			return err
		}
		if err := addToSummary(tx, at.Format(dayLayout), m, st, m.UpdatedAtUnix); err != nil {
			return err
		}
		settled = toTrade(m)
		return nil
	})
	if err != nil {
		return types.Trade{}, err
	}
	return settled, nil
}

func addToSummary(tx *gorm.DB, day string, m tradeModel, st types.Settlement, now int64) error {
	var sum dailySummaryModel
	err := tx.Where("date = ?", day).Take(&sum).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	sum.Date = day
	sum.TotalTrades++
	if st.ProfitLoss.IsPositive() {
		sum.WinningTrades++
	}
	sum.TotalStake = sum.TotalStake.Add(m.Stake)
	sum.GrossProfit = sum.GrossProfit.Add(st.ProfitLoss)
	sum.TotalCommission = sum.TotalCommission.Add(m.Commission)
	sum.NetProfit = sum.NetProfit.Add(st.NetProfit)
	sum.UpdatedAtUnix = now
	return tx.Save(&sum).Error
}

// DailySummary 返回某个结算日的汇总；没有数据时返回零值。
func (s *GormStore) DailySummary(ctx context.Context, day time.Time) (types.DailySummary, error) {
	key := day.UTC().Format(dayLayout)
	var m dailySummaryModel
	err := s.db.WithContext(ctx).Where("date = ?", key).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.DailySummary{Date: key}, nil
	}
	if err != nil {
		return types.DailySummary{}, err
	}
	return types.DailySummary{
		Date:            m.Date,
		TotalTrades:     m.TotalTrades,
		WinningTrades:   m.WinningTrades,
		TotalStake:      m.TotalStake,
		GrossProfit:     m.GrossProfit,
		TotalCommission: m.TotalCommission,
		NetProfit:       m.NetProfit,
	}, nil
}

func newTradeModel(t types.Trade, now time.Time) (tradeModel, error) {
	raw, err := json.Marshal(t)
	if err != nil {
		return tradeModel{}, err
	}
	created := t.CreatedAt
	if created.IsZero() {
		created = now
	}
	m := tradeModel{
		ID:            t.ID,
		OrderID:       t.OrderID,
		MarketID:      t.MarketID,
		SelectionID:   t.SelectionID,
		Type:          t.Type,
		Status:        t.Status,
		Stake:         t.Stake,
		Odds:          t.Odds,
		Commission:    t.Commission,
		CorrelationID: t.CorrelationID,
		RawData:       datatypes.JSON(raw),
		TradedAtUnix:  t.Timestamp.UnixMilli(),
		CreatedAtUnix: created.UnixMilli(),
		UpdatedAtUnix: now.UnixMilli(),
	}
	if t.ProfitLoss != nil {
		m.ProfitLoss = decimal.NewNullDecimal(*t.ProfitLoss)
	}
	if t.NetProfit != nil {
		m.NetProfit = decimal.NewNullDecimal(*t.NetProfit)
	}
	if t.SettledAt != nil {
		v := t.SettledAt.UnixMilli()
		m.SettledAtUnix = &v
	}
	return m, nil
}

func toTrade(m tradeModel) types.Trade {
	t := types.Trade{
		ID:            m.ID,
		OrderID:       m.OrderID,
		Timestamp:     time.UnixMilli(m.TradedAtUnix).UTC(),
		MarketID:      m.MarketID,
		SelectionID:   m.SelectionID,
		Stake:         m.Stake,
		Odds:          m.Odds,
		Type:          m.Type,
		Status:        m.Status,
		Commission:    m.Commission,
		CorrelationID: m.CorrelationID,
		CreatedAt:     time.UnixMilli(m.CreatedAtUnix).UTC(),
	}
	if m.ProfitLoss.Valid {
		v := m.ProfitLoss.Decimal
		t.ProfitLoss = &v
	}
	if m.NetProfit.Valid {
		v := m.NetProfit.Decimal
		t.NetProfit = &v
	}
	if m.SettledAtUnix != nil {
		at := time.UnixMilli(*m.SettledAtUnix).UTC()
		t.SettledAt = &at
	}
	return t
}

func ensureDir(path string) error {
	dir := filepathDir(path)
	if dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func filepathDir(path string) string {
	last := strings.LastIndex(path, "/")
	if last == -1 {
		last = strings.LastIndex(path, "\\")
	}
	if last == -1 {
		return ""
	}
	return path[:last]
}
