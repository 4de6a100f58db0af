package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(jobsProcessedTotal, expiredSweptTotal) }

var (
	jobsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_jobs_processed_total",
			Help: "Background jobs processed, labeled by job and status.",
		},
		[]string{"job", "status"}, // job: sweep|reconcile; status: ok|completed|failed|skipped
	)

	expiredSweptTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "purchases_expired_swept_total",
			Help: "Pending purchases cancelled after their payment window closed.",
		},
	)
)

func IncJob(job, status string) {
	jobsProcessedTotal.WithLabelValues(norm(job), norm(status)).Inc()
}

func AddExpiredSwept(n int) {
	expiredSweptTotal.Add(float64(n))
}
