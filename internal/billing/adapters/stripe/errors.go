package stripe

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/stripe/stripe-go/v76"

	billing "github.com/linkflow-go/cashier/internal/domain/billing"
	"github.com/linkflow-go/cashier/pkg/resilience"
)

const (
	errorCodeUpcomingNone     = stripe.ErrorCode("invoice_upcoming_none")
	errorCodeNothingToInvoice = stripe.ErrorCode("invoice_no_customer_line_items")
	errorParamCoupon          = "coupon"
	errorParamPromotionCode   = "promotion_code"
)

// classify turns SDK and transport failures into billing errors. Errors
// that are already classified pass through unchanged.
func classify(op string, err error) error {
	if err == nil || isClassified(err) {
		return err
	}

	if resilience.IsRejection(err) {
		return &billing.GatewayUnavailableError{Op: op, Err: err}
	}

	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		switch {
		case resilience.IsRetryableHTTPStatus(stripeErr.HTTPStatusCode) || stripeErr.HTTPStatusCode >= 500:
			return &billing.GatewayUnavailableError{Op: op, Err: err}
		case stripeErr.Param == errorParamCoupon || stripeErr.Param == errorParamPromotionCode:
			return &billing.InvalidCouponError{Err: err}
		case stripeErr.Code == stripe.ErrorCodeResourceMissing:
			return fmt.Errorf("gateway %s: %s: %w", op, stripeErr.Msg, billing.ErrNotFound)
		default:
			return &billing.GatewayError{
				Op:      op,
				Code:    string(stripeErr.Code),
				Message: stripeErr.Msg,
				Err:     err,
			}
		}
	}

	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &billing.GatewayUnavailableError{Op: op, Timeout: true, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &billing.GatewayUnavailableError{Op: op, Timeout: netErr.Timeout(), Err: err}
	}

	return &billing.GatewayUnavailableError{Op: op, Err: err}
}

func isClassified(err error) bool {
	var (
		unavailable *billing.GatewayUnavailableError
		rejected    *billing.GatewayError
		coupon      *billing.InvalidCouponError
	)
	return errors.As(err, &unavailable) ||
		errors.As(err, &rejected) ||
		errors.As(err, &coupon) ||
		errors.Is(err, billing.ErrNotFound) ||
		errors.Is(err, billing.ErrNoPaymentSource)
}

// countsAsFailure decides what trips the circuit breaker: only outages do.
func countsAsFailure(err error) bool {
	return errors.Is(err, billing.ErrGatewayUnavailable)
}

// cardError returns the SDK error when err is a card rejection.
func cardError(err error) (*stripe.Error, bool) {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.Type == stripe.ErrorTypeCard {
		return stripeErr, true
	}
	return nil, false
}

func hasCode(err error, code stripe.ErrorCode) bool {
	var stripeErr *stripe.Error
	return errors.As(err, &stripeErr) && stripeErr.Code == code
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, billing.ErrGatewayUnavailable):
		return "unavailable"
	default:
		return "rejected"
	}
}

func asInvalidCoupon(err error) (*billing.InvalidCouponError, bool) {
	var coupon *billing.InvalidCouponError
	if errors.As(err, &coupon) {
		return coupon, true
	}
	return nil, false
}
