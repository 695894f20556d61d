// Package signal 订阅 Redis 上的交易信号，过滤过期信号，
// 并把两种格式（套利/策略）统一转换成 types.OrderRequest。
package signal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"betexec/internal/types"

	"github.com/shopspring/decimal"
)

const (
	ChannelArbitrage = "channel:trading-signals"
	ChannelStrategy  = "channel:strategy-signals"
)

// Kind 区分信号的两种形态。
type Kind int

const (
	KindUnknown Kind = iota
	KindArbitrage
	KindStrategy
)

func (k Kind) String() string {
	switch k {
	case KindArbitrage:
		return "arbitrage"
	case KindStrategy:
		return "strategy"
	default:
		return "unknown"
	}
}

// Signal 是解码后的入站信号，Kind 决定哪个字段有效。
type Signal struct {
	Kind      Kind
	Arbitrage *ArbitrageSignal
	Strategy  *StrategySignal
}

// ID 用于日志与审计。
func (s Signal) ID() string {
	switch s.Kind {
	case KindArbitrage:
		return s.Arbitrage.CorrelationID()
	case KindStrategy:
		return s.Strategy.CorrelationID()
	}
	return ""
}

func (s Signal) MarketID() string {
	switch s.Kind {
	case KindArbitrage:
		return s.Arbitrage.MarketID
	case KindStrategy:
		return s.Strategy.MarketID
	}
	return ""
}

// SelectionID 兼容字符串与数字两种 JSON 写法。
type SelectionID string

func (id *SelectionID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = SelectionID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("selection id: %w", err)
	}
	*id = SelectionID(n.String())
	return nil
}

// BetType 兼容 "Back"/"Lay" 以及枚举序号 0/1。
type BetType types.Side

func (t *BetType) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	raw := string(b)
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
	}
	switch raw {
	case "0":
		*t = BetType(types.SideBack)
		return nil
	case "1":
		*t = BetType(types.SideLay)
		return nil
	}
	side, err := types.ParseSide(raw)
	if err != nil {
		return err
	}
	*t = BetType(side)
	return nil
}

// ArbitrageSignal 套利信号：一个 back 腿和一个 lay 腿，两腿独立下单。
type ArbitrageSignal struct {
	MarketID          string          `json:"marketId"`
	Strategy          string          `json:"strategy"`
	Timestamp         time.Time       `json:"timestamp"`
	Confidence        float64         `json:"confidence"`
	ExpectedROI       float64         `json:"expectedROI"`
	BackSelectionID   SelectionID     `json:"backSelectionId"`
	BackSelectionName string          `json:"backSelectionName"`
	BackOdds          decimal.Decimal `json:"backOdds"`
	StakeBack         decimal.Decimal `json:"stakeBack"`
	LaySelectionID    SelectionID     `json:"laySelectionId"`
	LaySelectionName  string          `json:"laySelectionName"`
	LayOdds           decimal.Decimal `json:"layOdds"`
	StakeLay          decimal.Decimal `json:"stakeLay"`
	Reason            string          `json:"reason"`
}

// CorrelationID: surebet-{yyyyMMddHHmmss}，取信号时间戳（UTC）。
func (a *ArbitrageSignal) CorrelationID() string {
	return "surebet-" + a.Timestamp.UTC().Format("20060102150405")
}

// SelectionSignal 策略信号中的单个下单腿。
type SelectionSignal struct {
	SelectionID     SelectionID     `json:"selectionId"`
	SelectionName   string          `json:"selectionName"`
	RecommendedOdds decimal.Decimal `json:"recommendedOdds"`
	Stake           decimal.Decimal `json:"stake"`
	BetType         BetType         `json:"betType"`
}

// StrategySignal 策略信号，ValidityWindow 单位为秒。
type StrategySignal struct {
	SignalID           string           `json:"signalId"`
	Strategy           string           `json:"strategy"`
	SignalType         string           `json:"signalType"`
	MarketID           string           `json:"marketId"`
	Timestamp          time.Time        `json:"timestamp"`
	ValidityWindow     float64          `json:"validityWindow"`
	Confidence         float64          `json:"confidence"`
	ExpectedROI        float64          `json:"expectedROI"`
	Priority           int              `json:"priority"`
	PrimarySelection   *SelectionSignal `json:"primarySelection"`
	SecondarySelection *SelectionSignal `json:"secondarySelection"`
}

func (s *StrategySignal) CorrelationID() string {
	return s.Strategy + "-" + s.SignalID
}

func (s *StrategySignal) Window() time.Duration {
	return time.Duration(s.ValidityWindow * float64(time.Second))
}

// formatSeconds 用于日志，保留一位小数。
func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 1, 64)
}
