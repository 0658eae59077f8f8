package ports

import (
	"context"

	billing "github.com/linkflow-go/cashier/internal/domain/billing"
)

// Gateway is the narrow set of payment gateway capabilities the billing core relies on.
type Gateway interface {
	Charge(ctx context.Context, req billing.ChargeRequest) (*billing.ChargeResult, error)
	CreateCustomer(ctx context.Context, paymentToken string, props billing.CustomerProperties) (string, error)
	GenerateClientToken(ctx context.Context, customerID string) (string, error)
	UpdatePaymentMethod(ctx context.Context, customerID, paymentToken string) (*billing.Card, error)

	CreateSubscription(ctx context.Context, req billing.SubscriptionRequest) (*billing.RemoteSubscription, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*billing.RemoteSubscription, error)
	UpdateSubscription(ctx context.Context, subscriptionID string, update billing.SubscriptionUpdate) (*billing.RemoteSubscription, error)
	CancelSubscription(ctx context.Context, subscriptionID string, atPeriodEnd bool) (*billing.RemoteSubscription, error)
	ResumeSubscription(ctx context.Context, subscriptionID string) (*billing.RemoteSubscription, error)
	ApplyCoupon(ctx context.Context, subscriptionID, code string) error

	CreateInvoice(ctx context.Context, customerID string) (*billing.InvoiceResult, error)
	GetInvoice(ctx context.Context, invoiceID string) (*billing.Invoice, error)
	ListInvoices(ctx context.Context, query billing.InvoiceQuery) (*billing.InvoicePage, error)
	UpcomingInvoice(ctx context.Context, customerID, subscriptionID string) (*billing.Invoice, error)
}

// GatewayFactory hands out a gateway bound to a subject's resolved credentials.
type GatewayFactory interface {
	ForSubject(b billing.Billable) (Gateway, error)
}

// WebhookVerifier authenticates a gateway notification and decodes it.
// Unhandled event kinds decode to nil without error.
type WebhookVerifier interface {
	VerifyWebhook(payload []byte, signature string) (*billing.GatewayEvent, error)
}
