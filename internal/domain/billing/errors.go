package billing

import (
	"errors"
	"fmt"
)

// Errors
var (
	ErrNoPaymentSource      = errors.New("no payment source provided")
	ErrNoActiveSubscription = errors.New("no active subscription")
	ErrSubscriptionExpired  = errors.New("subscription grace period has elapsed")
	ErrInvalidCoupon        = errors.New("invalid coupon")
	ErrGatewayUnavailable   = errors.New("payment gateway unavailable")
	ErrNotFound             = errors.New("not found")
	ErrInvalidCredentials   = errors.New("invalid gateway credentials")
	ErrOrphanSubscription   = errors.New("subscription id set without a gateway customer id")
	ErrInvalidQuantity      = errors.New("quantity must be at least 1")
	ErrNoPlan               = errors.New("no plan selected")
	ErrAlreadySubscribed    = errors.New("subject already has a live subscription")
)

// InvalidCouponError is returned when the gateway rejects a discount code.
type InvalidCouponError struct {
	Code string
	Err  error
}

func (e *InvalidCouponError) Error() string {
	return fmt.Sprintf("invalid coupon %q", e.Code)
}

func (e *InvalidCouponError) Is(target error) bool {
	return target == ErrInvalidCoupon
}

func (e *InvalidCouponError) Unwrap() error {
	return e.Err
}

// GatewayUnavailableError covers transport failures, timeouts and 5xx/429
// responses. It is distinct from business-rule rejections.
type GatewayUnavailableError struct {
	Op      string
	Timeout bool
	Err     error
}

func (e *GatewayUnavailableError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("gateway %s: timed out: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("gateway %s: unavailable: %v", e.Op, e.Err)
}

func (e *GatewayUnavailableError) Is(target error) bool {
	return target == ErrGatewayUnavailable
}

func (e *GatewayUnavailableError) Unwrap() error {
	return e.Err
}

// GatewayError is a gateway rejection that has no more specific kind.
type GatewayError struct {
	Op      string
	Code    string
	Message string
	Err     error
}

func (e *GatewayError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gateway %s: %s (%s)", e.Op, e.Message, e.Code)
	}
	return fmt.Sprintf("gateway %s: %s", e.Op, e.Message)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether err is a gateway timeout.
func IsTimeout(err error) bool {
	var unavailable *GatewayUnavailableError
	return errors.As(err, &unavailable) && unavailable.Timeout
}
