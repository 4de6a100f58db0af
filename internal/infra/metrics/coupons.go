package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(couponValidations, couponRedemptions) }

var (
	couponValidations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coupon_validations_total",
			Help: "Coupon validations by outcome.",
		},
		[]string{"result"}, // valid|not_found|expired|already_used|limit_reached|error
	)

	couponRedemptions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coupon_redemptions_total",
			Help: "Coupon usages recorded on completed purchases.",
		},
		[]string{"type"},
	)
)

func IncCouponValidation(result string) {
	couponValidations.WithLabelValues(norm(result)).Inc()
}

func IncCouponRedemption(discountType string) {
	couponRedemptions.WithLabelValues(norm(discountType)).Inc()
}
