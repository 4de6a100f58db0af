// File: internal/infra/metrics/metrics.go
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(purchaseTransitions, purchasesCreated) }

var (
	// from/to are bounded by model.PaymentStatus.
	purchaseTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "purchase_transitions_total",
			Help: "Purchase status transitions actually performed, by source and target status.",
		},
		[]string{"from", "to"},
	)

	// result: created|reused|reissued|gateway_error
	purchasesCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "purchases_created_total",
			Help: "CreateOrder outcomes.",
		},
		[]string{"result"},
	)
)

func norm(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func IncTransition(from, to string) {
	purchaseTransitions.WithLabelValues(norm(from), norm(to)).Inc()
}

func IncPurchaseCreated(result string) {
	purchasesCreated.WithLabelValues(norm(result)).Inc()
}
