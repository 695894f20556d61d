package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side 表示下注方向。
type Side string

const (
	SideBack Side = "Back"
	SideLay  Side = "Lay"
)

// ParseSide 兼容 "back"/"BACK"/"Back" 等写法。
func ParseSide(raw string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "back":
		return SideBack, nil
	case "lay":
		return SideLay, nil
	default:
		return "", fmt.Errorf("unknown side %q", raw)
	}
}

// Exchange returns the wire form used by the exchange API.
func (s Side) Exchange() string {
	return strings.ToUpper(string(s))
}

// Liability is the maximum loss of an order: stake for Back, stake*(odds-1) for Lay.
func Liability(side Side, stake, odds decimal.Decimal) decimal.Decimal {
	if side == SideLay {
		return stake.Mul(odds.Sub(decimal.NewFromInt(1)))
	}
	return stake
}

// OrderStatus 订单生命周期状态。
type OrderStatus string

const (
	StatusPending          OrderStatus = "Pending"
	StatusUnmatched        OrderStatus = "Unmatched"
	StatusPartiallyMatched OrderStatus = "PartiallyMatched"
	StatusMatched          OrderStatus = "Matched"
	StatusCancelled        OrderStatus = "Cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s OrderStatus) Terminal() bool {
	return s == StatusMatched || s == StatusCancelled
}

// OrderRequest 是由信号生成的下单指令，创建后不可修改。
type OrderRequest struct {
	MarketID      string          `json:"marketId"`
	SelectionID   string          `json:"selectionId"`
	Side          Side            `json:"side"`
	Odds          decimal.Decimal `json:"odds"`
	Stake         decimal.Decimal `json:"stake"`
	CorrelationID string          `json:"correlationId,omitempty"`
}

// PotentialLoss 返回该指令的最大亏损。
func (r OrderRequest) PotentialLoss() decimal.Decimal {
	return Liability(r.Side, r.Stake, r.Odds)
}

func (r OrderRequest) String() string {
	return fmt.Sprintf("%s %s@%s market=%s selection=%s corr=%s",
		r.Side, r.Stake.StringFixed(2), r.Odds.String(), r.MarketID, r.SelectionID, r.CorrelationID)
}

// ManagedOrder 是已下到交易所、仍处于跟踪中的订单。
// 只有 order.Manager 会修改它；对外暴露的都是副本。
type ManagedOrder struct {
	OrderID         string          `json:"orderId"`
	MarketID        string          `json:"marketId"`
	SelectionID     string          `json:"selectionId"`
	Side            Side            `json:"side"`
	RequestedOdds   decimal.Decimal `json:"requestedOdds"`
	RequestedStake  decimal.Decimal `json:"requestedStake"`
	Status          OrderStatus     `json:"status"`
	PlacedAt        time.Time       `json:"placedAt"`
	LastCheckedAt   time.Time       `json:"lastCheckedAt"`
	MatchedSize     decimal.Decimal `json:"matchedSize"`
	AvgPriceMatched decimal.Decimal `json:"avgPriceMatched"`
	CorrelationID   string          `json:"correlationId,omitempty"`
}

// MatchedPrice falls back to the requested odds when the exchange has not reported an average.
func (o ManagedOrder) MatchedPrice() decimal.Decimal {
	if o.AvgPriceMatched.IsPositive() {
		return o.AvgPriceMatched
	}
	return o.RequestedOdds
}

// Unmatched 返回尚未成交的金额。
func (o ManagedOrder) Unmatched() decimal.Decimal {
	rest := o.RequestedStake.Sub(o.MatchedSize)
	if rest.IsNegative() {
		return decimal.Zero
	}
	return rest
}

func (o ManagedOrder) Request() OrderRequest {
	return OrderRequest{
		MarketID:      o.MarketID,
		SelectionID:   o.SelectionID,
		Side:          o.Side,
		Odds:          o.RequestedOdds,
		Stake:         o.RequestedStake,
		CorrelationID: o.CorrelationID,
	}
}
