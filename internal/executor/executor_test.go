package executor

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"betexec/internal/accounting"
	"betexec/internal/config"
	"betexec/internal/gateway/exchange"
	"betexec/internal/gateway/mockexchange"
	"betexec/internal/ledger"
	"betexec/internal/risk"
	"betexec/internal/types"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu    sync.Mutex
	texts []string
}

func (n *recordingNotifier) SendText(_ context.Context, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.texts = append(n.texts, text)
	return nil
}

func (n *recordingNotifier) Texts() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.texts...)
}

// brokenPlacement 下单总是失败，其余调用走 mock。
type brokenPlacement struct {
	*mockexchange.Exchange
}

func (brokenPlacement) PlaceOrder(context.Context, types.OrderRequest) (exchange.OrderResult, error) {
	return exchange.OrderResult{}, errors.New("503 service unavailable")
}

// stalledPlacement 下单一直挂起直到 ctx 结束，模拟交易所无响应。
type stalledPlacement struct {
	*mockexchange.Exchange
}

func (stalledPlacement) PlaceOrder(ctx context.Context, _ types.OrderRequest) (exchange.OrderResult, error) {
	<-ctx.Done()
	return exchange.OrderResult{}, ctx.Err()
}

type fixture struct {
	exec   *Executor
	ex     *mockexchange.Exchange
	ledger *ledger.Ledger
	mr     *miniredis.Miniredis
	notify *recordingNotifier
}

type fixtureOpts struct {
	fill    string
	paper   bool
	release bool
	broken  bool
	stalled bool
}

func newFixture(t *testing.T, o fixtureOpts) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	l := ledger.New(rdb)
	_, err := l.SetTradingEnabled(context.Background(), true)
	require.NoError(t, err)

	eng := risk.NewEngine(l, risk.Options{
		LimitChecks:             true,
		CircuitBreakerEnabled:   true,
		MaxConsecutiveFailures:  3,
		FailureWindow:           5 * time.Minute,
		ReleaseExposureOnCancel: o.release,
		DefaultLimits:           types.DefaultRiskLimits(),
	})
	if o.fill == "" {
		o.fill = "pending"
	}
	ex := mockexchange.New(o.fill)
	var gw exchange.Gateway = ex
	if o.broken {
		gw = brokenPlacement{ex}
	}
	if o.stalled {
		gw = stalledPlacement{ex}
	}
	n := &recordingNotifier{}
	exec := New(
		config.ExecutorConfig{PaperTrading: o.paper, PlacementTimeoutSeconds: 1},
		config.OrdersConfig{UnmatchedOrderTimeoutSeconds: 30},
		gw, eng, accounting.NewRecorder(l, nil, 0.05), n,
	)
	return &fixture{exec: exec, ex: ex, ledger: l, mr: mr, notify: n}
}

func backReq(stake string) types.OrderRequest {
	return types.OrderRequest{
		MarketID:      "1.100",
		SelectionID:   "42",
		Side:          types.SideBack,
		Odds:          decimal.RequireFromString("2.5"),
		Stake:         decimal.RequireFromString(stake),
		CorrelationID: "surebet-20240510120000",
	}
}

func TestHandleOrderPlacesAndRecordsExposure(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()

	require.NoError(t, f.exec.HandleOrder(ctx, backReq("50")))

	active := f.exec.Orders().Active()
	require.Len(t, active, 1)
	assert.Equal(t, "surebet-20240510120000", active[0].CorrelationID)

	exp, err := f.ledger.SelectionExposure(ctx, "1.100", "42")
	require.NoError(t, err)
	assert.True(t, exp.Equal(decimal.NewFromInt(50)))
}

func TestHandleOrderRejectedByRisk(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()

	err := f.exec.HandleOrder(ctx, backReq("150"))
	require.Error(t, err)
	assert.Equal(t, types.KindValidationRejection, types.KindOf(err))
	assert.Contains(t, err.Error(), "exceeds max per order")
	assert.Equal(t, 0, f.exec.Orders().Len())

	orders, err := f.ex.ListCurrentOrders(ctx, "1.100")
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestPaperTradingSendsNothing(t *testing.T) {
	f := newFixture(t, fixtureOpts{paper: true})
	ctx := context.Background()

	require.NoError(t, f.exec.HandleOrder(ctx, backReq("50")))
	assert.Equal(t, 0, f.exec.Orders().Len())
	orders, err := f.ex.ListCurrentOrders(ctx, "1.100")
	require.NoError(t, err)
	assert.Empty(t, orders)
	exp, err := f.ledger.SelectionExposure(ctx, "1.100", "42")
	require.NoError(t, err)
	assert.True(t, exp.IsZero())
}

func TestPlacementFailuresTripBreaker(t *testing.T) {
	f := newFixture(t, fixtureOpts{broken: true})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := f.exec.HandleOrder(ctx, backReq("10"))
		require.Error(t, err)
		assert.Equal(t, types.KindGatewayFailure, types.KindOf(err))
	}
	tripped, err := f.exec.risk.IsCircuitBreakerTriggered(ctx)
	require.NoError(t, err)
	assert.True(t, tripped)

	err = f.exec.HandleOrder(ctx, backReq("10"))
	require.Error(t, err)
	assert.Equal(t, types.KindValidationRejection, types.KindOf(err))
	assert.Contains(t, err.Error(), risk.ReasonCircuitBreaker)

	f.exec.notifyWG.Wait()
	texts := f.notify.Texts()
	require.Len(t, texts, 1, "alert fires once per latch")
	assert.Contains(t, texts[0], "熔断已触发")

	exp, err := f.ledger.SelectionExposure(ctx, "1.100", "42")
	require.NoError(t, err)
	assert.True(t, exp.IsZero(), "failed placements record no exposure")
}

func TestPlacementTimeoutRecordsFailure(t *testing.T) {
	f := newFixture(t, fixtureOpts{stalled: true})
	ctx := context.Background()

	start := time.Now()
	err := f.exec.HandleOrder(ctx, backReq("10"))
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, types.KindGatewayFailure, types.KindOf(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, f.exec.Orders().Len())

	members, err := f.mr.ZMembers(ledger.KeyFailedOrders)
	require.NoError(t, err)
	require.Len(t, members, 1)
	var rec types.FailureRecord
	require.NoError(t, json.Unmarshal([]byte(members[0]), &rec))
	assert.Equal(t, "surebet-20240510120000:42", rec.OrderID)
	assert.Contains(t, rec.Reason, "deadline exceeded")
}

func TestReconcileMatchedHandsOffOnce(t *testing.T) {
	f := newFixture(t, fixtureOpts{fill: "matched"})
	ctx := context.Background()

	require.NoError(t, f.exec.HandleOrder(ctx, backReq("20")))
	assert.Equal(t, 1, f.exec.ReconcileMatched(ctx))
	assert.Equal(t, 0, f.exec.ReconcileMatched(ctx))

	keys := f.mr.Keys()
	pending := 0
	for _, k := range keys {
		if len(k) > len("trades:pending:") && k[:len("trades:pending:")] == "trades:pending:" {
			pending++
		}
	}
	assert.Equal(t, 1, pending)
}

func TestTimeoutCancelReleasesExposureWhenConfigured(t *testing.T) {
	f := newFixture(t, fixtureOpts{release: true})
	ctx := context.Background()
	now := time.Now()
	f.exec.Orders().SetClock(func() time.Time { return now })

	require.NoError(t, f.exec.HandleOrder(ctx, backReq("50")))
	now = now.Add(31 * time.Second)
	f.exec.Orders().Tick(ctx)

	assert.Equal(t, 0, f.exec.Orders().Len())
	exp, err := f.ledger.SelectionExposure(ctx, "1.100", "42")
	require.NoError(t, err)
	assert.True(t, exp.IsZero(), exp.String())
}

func TestTimeoutCancelKeepsExposureByDefault(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()
	now := time.Now()
	f.exec.Orders().SetClock(func() time.Time { return now })

	require.NoError(t, f.exec.HandleOrder(ctx, backReq("50")))
	now = now.Add(31 * time.Second)
	f.exec.Orders().Tick(ctx)

	assert.Equal(t, 0, f.exec.Orders().Len())
	exp, err := f.ledger.SelectionExposure(ctx, "1.100", "42")
	require.NoError(t, err)
	assert.True(t, exp.Equal(decimal.NewFromInt(50)))
}

func TestStartAndShutdown(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()

	require.NoError(t, f.exec.Start(ctx))
	b, at := f.exec.Balance()
	assert.False(t, at.IsZero())
	assert.True(t, b.Balance.Equal(decimal.NewFromInt(1000)))

	require.NoError(t, f.exec.HandleOrder(ctx, backReq("10")))
	second := backReq("10")
	second.SelectionID = "43"
	require.NoError(t, f.exec.HandleOrder(ctx, second))

	st := f.exec.Status()
	assert.Equal(t, "mock", st.Gateway)
	assert.Equal(t, 2, st.ActiveOrders)

	f.exec.Shutdown(ctx)
	assert.Equal(t, 0, f.exec.Orders().Len())
	texts := f.notify.Texts()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "已撤单 2")
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, f.exec.HandleOrder(ctx, backReq("10")))

	done := make(chan error, 1)
	go func() { done <- f.exec.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, 0, f.exec.Orders().Len())
}
