package signal

import (
	"fmt"
	"time"

	"betexec/internal/config"
	"betexec/internal/logger"
	"betexec/internal/pkg/odds"
	"betexec/internal/types"

	"github.com/shopspring/decimal"
)

// Disposition 记录一条信号的最终去向，写入审计日志。
type Disposition string

const (
	DispositionAccepted  Disposition = "accepted"
	DispositionExpired   Disposition = "expired"
	DispositionMalformed Disposition = "malformed"
	DispositionEmpty     Disposition = "empty"
	DispositionRejected  Disposition = "rejected"
)

// Result 是 Normalize 的输出；只有 accepted 时 Requests 非空。
type Result struct {
	Requests    []types.OrderRequest
	Disposition Disposition
	Reason      string
	// Skipped 记录被单独丢弃的腿及原因。
	Skipped []string
}

type NormalizerConfig struct {
	MaxSignalAge time.Duration
	MinOdds      decimal.Decimal
	MaxOdds      decimal.Decimal
	MinStake     decimal.Decimal
}

func NormalizerConfigFrom(cfg config.ExecutorConfig) NormalizerConfig {
	return NormalizerConfig{
		MaxSignalAge: time.Duration(cfg.MaxSignalAgeSeconds) * time.Second,
		MinOdds:      decimal.NewFromFloat(cfg.MinOdds),
		MaxOdds:      decimal.NewFromFloat(cfg.MaxOdds),
		MinStake:     decimal.NewFromFloat(cfg.MinStake),
	}
}

type Normalizer struct {
	cfg   NormalizerConfig
	nowFn func() time.Time
}

func NewNormalizer(cfg NormalizerConfig, now func() time.Time) *Normalizer {
	if cfg.MaxSignalAge <= 0 {
		cfg.MaxSignalAge = 60 * time.Second
	}
	if !cfg.MinOdds.IsPositive() {
		cfg.MinOdds = odds.MinOdds
	}
	if !cfg.MaxOdds.IsPositive() {
		cfg.MaxOdds = odds.MaxOdds
	}
	if now == nil {
		now = time.Now
	}
	return &Normalizer{cfg: cfg, nowFn: now}
}

// Normalize 把信号转换为零个或多个下单指令。
func (n *Normalizer) Normalize(sig Signal) Result {
	switch sig.Kind {
	case KindArbitrage:
		return n.arbitrage(sig.Arbitrage)
	case KindStrategy:
		return n.strategy(sig.Strategy)
	default:
		return Result{Disposition: DispositionMalformed, Reason: "unknown signal kind"}
	}
}

// 套利信号两条腿都照单执行，只做赔率取整；坏腿交给风控拒绝。
func (n *Normalizer) arbitrage(a *ArbitrageSignal) Result {
	if a == nil {
		return Result{Disposition: DispositionMalformed, Reason: "empty arbitrage payload"}
	}
	corr := a.CorrelationID()
	var res Result
	if a.BackSelectionID != "" {
		res.Requests = append(res.Requests, n.leg(a.MarketID, string(a.BackSelectionID), types.SideBack, a.BackOdds, a.StakeBack, corr))
	}
	if a.LaySelectionID != "" {
		res.Requests = append(res.Requests, n.leg(a.MarketID, string(a.LaySelectionID), types.SideLay, a.LayOdds, a.StakeLay, corr))
	}
	return finish(res)
}

// 策略信号：age > validityWindow 直接丢弃（硬截止）。
func (n *Normalizer) strategy(s *StrategySignal) Result {
	if s == nil {
		return Result{Disposition: DispositionMalformed, Reason: "empty strategy payload"}
	}
	window := s.Window()
	if window <= 0 {
		window = n.cfg.MaxSignalAge
	}
	if age := n.nowFn().Sub(s.Timestamp); age > window {
		return expired(s.CorrelationID(), age, window)
	}
	corr := s.CorrelationID()
	var res Result
	for _, leg := range []*SelectionSignal{s.PrimarySelection, s.SecondarySelection} {
		if leg == nil || leg.SelectionID == "" {
			continue
		}
		n.appendLeg(&res, s.MarketID, string(leg.SelectionID), types.Side(leg.BetType), leg.RecommendedOdds, leg.Stake, corr)
	}
	return finish(res)
}

func (n *Normalizer) appendLeg(res *Result, marketID, selectionID string, side types.Side, price, stake decimal.Decimal, corr string) {
	label := fmt.Sprintf("%s %s", side, selectionID)
	if !stake.IsPositive() || stake.LessThan(n.cfg.MinStake) {
		res.Skipped = append(res.Skipped, fmt.Sprintf("%s: stake %s below minimum %s", label, stake.String(), n.cfg.MinStake.String()))
		return
	}
	if q := odds.Quantize(price); q.LessThan(n.cfg.MinOdds) || q.GreaterThan(n.cfg.MaxOdds) {
		res.Skipped = append(res.Skipped, fmt.Sprintf("%s: odds %s outside [%s, %s]", label, q.String(), n.cfg.MinOdds.String(), n.cfg.MaxOdds.String()))
		return
	}
	res.Requests = append(res.Requests, n.leg(marketID, selectionID, side, price, stake, corr))
}

func (n *Normalizer) leg(marketID, selectionID string, side types.Side, price, stake decimal.Decimal, corr string) types.OrderRequest {
	q := odds.Quantize(price)
	if !q.Equal(price) {
		logger.Debugf("signal: odds %s quantized to %s (%s)", price.String(), q.String(), corr)
	}
	return types.OrderRequest{
		MarketID:      marketID,
		SelectionID:   selectionID,
		Side:          side,
		Odds:          q,
		Stake:         stake,
		CorrelationID: corr,
	}
}

func finish(res Result) Result {
	if len(res.Requests) == 0 {
		res.Disposition = DispositionEmpty
		res.Reason = "no executable legs"
		return res
	}
	res.Disposition = DispositionAccepted
	return res
}

func expired(id string, age, window time.Duration) Result {
	return Result{
		Disposition: DispositionExpired,
		Reason:      fmt.Sprintf("signal %s expired (age %ss > %ss)", id, formatSeconds(age), formatSeconds(window)),
	}
}
