package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrOperationFailed    = errors.New("operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrInvalidExecContext = errors.New("invalid execution context")
	ErrLockBusy           = errors.New("resource is locked by another operation")

	// Checkout taxonomy
	ErrAuthRequired       = errors.New("authentication required")
	ErrEmptyCart          = errors.New("cart is empty")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrInvalidOrderData   = errors.New("invalid order data")
	ErrGatewayError       = errors.New("payment gateway rejected the request")
	ErrVerificationFailed = errors.New("payment verification failed")
	ErrInvalidTransition  = errors.New("invalid purchase status transition")
	ErrNotPayable         = errors.New("purchase is not payable")
	ErrOrderExpired       = errors.New("order has expired")

	// ErrCouponInvalid is matched by every CouponError.
	ErrCouponInvalid = errors.New("coupon invalid")
)

// CouponReason is a bounded label describing why a coupon was rejected.
type CouponReason string

const (
	CouponNotFound     CouponReason = "not_found"
	CouponExpired      CouponReason = "expired"
	CouponAlreadyUsed  CouponReason = "already_used"
	CouponLimitReached CouponReason = "limit_reached"
)

// CouponError is a non-fatal rejection of a coupon; checkout continues at full price.
type CouponError struct {
	Reason  CouponReason
	Message string
}

func (e *CouponError) Error() string { return e.Message }

func (e *CouponError) Is(target error) bool { return target == ErrCouponInvalid }

var (
	ErrCouponNotFound     = &CouponError{Reason: CouponNotFound, Message: "invalid or inactive coupon code"}
	ErrCouponExpired      = &CouponError{Reason: CouponExpired, Message: "coupon has expired or is not yet valid"}
	ErrCouponAlreadyUsed  = &CouponError{Reason: CouponAlreadyUsed, Message: "you have already used this coupon"}
	ErrCouponLimitReached = &CouponError{Reason: CouponLimitReached, Message: "coupon usage limit reached"}
)

// CouponReasonOf extracts the rejection reason, or "" when err is not a coupon error.
func CouponReasonOf(err error) CouponReason {
	var ce *CouponError
	if errors.As(err, &ce) {
		return ce.Reason
	}
	return ""
}
