package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(pgxPoolConns) }

var pgxPoolConns = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "checkout_pgx_pool_connections",
		Help: "pgx pool connections by state.",
	},
	[]string{"state"},
)

// SetPoolConns publishes a pgxpool.Stat snapshot.
func SetPoolConns(max, total, idle, acquired int32) {
	for state, n := range map[string]int32{"max": max, "total": total, "idle": idle, "acquired": acquired} {
		pgxPoolConns.WithLabelValues(state).Set(float64(n))
	}
}
