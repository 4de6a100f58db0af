package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		PaymentVerifyRequests,
		PaymentVerifyDuration,
		gatewayCalls,
		gatewayDuration,
	)
}

var (
	// Count of verify calls grouped by result and bounded reason.
	// result: ok|fail
	// reason (fail only): order_mismatch|bad_signature|fetch_error|amount_mismatch|not_captured|bad_state|unknown
	PaymentVerifyRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_verify_requests_total",
			Help: "Count of payment verifications by result and reason.",
		},
		[]string{"result", "reason"},
	)

	PaymentVerifyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payment_verify_duration_seconds",
			Help:    "Duration of payment verification in seconds.",
			Buckets: []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"result"},
	)

	// op: create_order|fetch_payment|order_payments; result: ok|error|open
	gatewayCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_calls_total",
			Help: "Payment gateway API calls by operation and result.",
		},
		[]string{"op", "result"},
	)

	gatewayDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_call_duration_seconds",
			Help:    "Payment gateway API latency in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"op"},
	)
)

func ObserveVerify(result, reason string, elapsed time.Duration) {
	PaymentVerifyRequests.WithLabelValues(norm(result), norm(reason)).Inc()
	PaymentVerifyDuration.WithLabelValues(norm(result)).Observe(elapsed.Seconds())
}

func ObserveGatewayCall(op, result string, elapsed time.Duration) {
	gatewayCalls.WithLabelValues(norm(op), norm(result)).Inc()
	gatewayDuration.WithLabelValues(norm(op)).Observe(elapsed.Seconds())
}
