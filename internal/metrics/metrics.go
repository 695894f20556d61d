// Package metrics 注册执行引擎的 Prometheus 指标，通过 /metrics 暴露。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ordersPlaced = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "betexec_orders_placed_total", Help: "Orders accepted by the exchange",
	}, []string{"side"})
	ordersMatched = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "betexec_orders_matched_total", Help: "Orders observed fully matched",
	})
	ordersCancelled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "betexec_orders_cancelled_total", Help: "Orders cancelled",
	}, []string{"reason"})
	ordersFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "betexec_orders_failed_total", Help: "Placement failures",
	}, []string{"kind"})
	activeOrders = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "betexec_active_orders", Help: "Orders currently tracked by the order manager",
	})
	signalsReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "betexec_signals_received_total", Help: "Inbound signals by kind",
	}, []string{"kind"})
	signalsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "betexec_signals_rejected_total", Help: "Signals or order requests that did not reach the exchange",
	}, []string{"reason"})
	placementLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "betexec_order_placement_seconds",
		Help:    "Latency of exchange placement calls",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	})
	circuitBreaker = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "betexec_circuit_breaker_triggered", Help: "1 when the risk circuit breaker is latched",
	})
	tradingEnabled = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "betexec_trading_enabled", Help: "1 when the global trading flag is on",
	})
	stakeDeployed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "betexec_stake_deployed_total", Help: "Sum of stakes placed",
	})
	balance = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "betexec_account_balance", Help: "Exchange account funds",
	}, []string{"kind"})
	gatewayConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "betexec_gateway_connected", Help: "1 when the exchange session is healthy",
	})
	apiErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "betexec_gateway_errors_total", Help: "Exchange API errors by operation",
	}, []string{"op"})
)

func init() {
	prometheus.MustRegister(
		ordersPlaced, ordersMatched, ordersCancelled, ordersFailed, activeOrders,
		signalsReceived, signalsRejected, placementLatency, circuitBreaker,
		tradingEnabled, stakeDeployed, balance, gatewayConnected, apiErrors,
	)
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func OrderPlaced(side string, stake float64, took time.Duration) {
	ordersPlaced.WithLabelValues(side).Inc()
	stakeDeployed.Add(stake)
	placementLatency.Observe(took.Seconds())
}

func OrderMatched() { ordersMatched.Inc() }

func OrderCancelled(reason string) { ordersCancelled.WithLabelValues(reason).Inc() }

func OrderFailed(kind string) { ordersFailed.WithLabelValues(kind).Inc() }

func SetActiveOrders(n int) { activeOrders.Set(float64(n)) }

func SignalReceived(kind string) { signalsReceived.WithLabelValues(kind).Inc() }

func SignalRejected(reason string) { signalsRejected.WithLabelValues(reason).Inc() }

func SetCircuitBreaker(on bool) { circuitBreaker.Set(boolGauge(on)) }

func SetTradingEnabled(on bool) { tradingEnabled.Set(boolGauge(on)) }

// SetBalance kind: available / exposure。
func SetBalance(kind string, v float64) { balance.WithLabelValues(kind).Set(v) }

func SetGatewayConnected(on bool) { gatewayConnected.Set(boolGauge(on)) }

func GatewayError(op string) { apiErrors.WithLabelValues(op).Inc() }

func boolGauge(on bool) float64 {
	if on {
		return 1
	}
	return 0
}
