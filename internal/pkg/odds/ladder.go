// Package odds 提供交易所赔率价格阶梯。
package odds

import "github.com/shopspring/decimal"

var (
	MinOdds = decimal.RequireFromString("1.01")
	MaxOdds = decimal.NewFromInt(1000)
)

type band struct {
	upper decimal.Decimal
	tick  decimal.Decimal
}

// 每段 [前一段 upper, upper) 使用同一个最小变动价位
var ladder = []band{
	{decimal.NewFromInt(2), decimal.RequireFromString("0.01")},
	{decimal.NewFromInt(3), decimal.RequireFromString("0.02")},
	{decimal.NewFromInt(4), decimal.RequireFromString("0.05")},
	{decimal.NewFromInt(6), decimal.RequireFromString("0.1")},
	{decimal.NewFromInt(10), decimal.RequireFromString("0.2")},
	{decimal.NewFromInt(20), decimal.RequireFromString("0.5")},
	{decimal.NewFromInt(30), decimal.NewFromInt(1)},
	{decimal.NewFromInt(50), decimal.NewFromInt(2)},
}

var topTick = decimal.NewFromInt(5)

// TickSize 返回 odds 所在区间的最小变动价位。
func TickSize(o decimal.Decimal) decimal.Decimal {
	for _, b := range ladder {
		if o.LessThan(b.upper) {
			return b.tick
		}
	}
	return topTick
}

// Quantize 先截断到 [1.01, 1000]，再取最近的合法价位。
func Quantize(o decimal.Decimal) decimal.Decimal {
	if o.LessThan(MinOdds) {
		return MinOdds
	}
	if o.GreaterThan(MaxOdds) {
		return MaxOdds
	}
	tick := TickSize(o)
	q := o.Div(tick).Round(0).Mul(tick)
	if q.LessThan(MinOdds) {
		return MinOdds
	}
	if q.GreaterThan(MaxOdds) {
		return MaxOdds
	}
	return q
}

// Valid reports whether o already sits on the ladder.
func Valid(o decimal.Decimal) bool {
	if o.LessThan(MinOdds) || o.GreaterThan(MaxOdds) {
		return false
	}
	return o.Mod(TickSize(o)).IsZero()
}
