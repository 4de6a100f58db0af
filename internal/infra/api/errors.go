package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"ai-reseller-checkout/internal/domain"
)

type errorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusOf is the single mapping from domain errors to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrAuthRequired):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrEmptyCart),
		errors.Is(err, domain.ErrInvalidArgument),
		errors.Is(err, domain.ErrInvalidOrderData),
		errors.Is(err, domain.ErrCouponInvalid):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrNotPayable),
		errors.Is(err, domain.ErrAlreadyExists),
		errors.Is(err, domain.ErrLockBusy):
		return http.StatusConflict
	case errors.Is(err, domain.ErrOrderExpired):
		return http.StatusGone
	case errors.Is(err, domain.ErrVerificationFailed):
		return http.StatusPaymentRequired
	case errors.Is(err, domain.ErrGatewayUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrGatewayError):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage hides infrastructure detail behind the sentinel text.
func publicMessage(err error) string {
	for _, s := range []error{
		domain.ErrAuthRequired, domain.ErrNotFound, domain.ErrEmptyCart, domain.ErrInvalidOrderData,
		domain.ErrInvalidTransition, domain.ErrNotPayable, domain.ErrAlreadyExists, domain.ErrLockBusy,
		domain.ErrOrderExpired, domain.ErrVerificationFailed, domain.ErrGatewayUnavailable,
		domain.ErrGatewayError, domain.ErrInvalidArgument,
	} {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	var ce *domain.CouponError
	if errors.As(err, &ce) {
		return ce.Message
	}
	return "internal error"
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	body := errorBody{Error: publicMessage(err)}
	if reason := domain.CouponReasonOf(err); reason != "" {
		body.Reason = string(reason)
	}
	writeJSON(w, statusOf(err), body)
}
