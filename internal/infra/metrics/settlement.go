package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(purchasesSettled, settledRevenue) }

var (
	purchasesSettled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_purchases_settled_total",
			Help: "Purchases reaching a terminal status, by status.",
		},
		[]string{"status"}, // completed|failed|cancelled
	)

	settledRevenue = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_settled_revenue_total",
			Help: "Tax-inclusive value of completed purchases in major currency units.",
		},
		[]string{"currency"},
	)
)

// IncSettled counts one purchase entering a terminal status.
func IncSettled(status string) {
	purchasesSettled.WithLabelValues(norm(status)).Inc()
}

func AddSettledRevenue(currency string, amount float64) {
	settledRevenue.WithLabelValues(norm(currency)).Add(amount)
}
