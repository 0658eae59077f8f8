// Package mocks holds testify mocks of the billing ports.
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/linkflow-go/cashier/internal/billing/ports"
	billing "github.com/linkflow-go/cashier/internal/domain/billing"
)

var (
	_ ports.Gateway           = (*Gateway)(nil)
	_ ports.GatewayFactory    = (*GatewayFactory)(nil)
	_ ports.PreviewCache      = (*PreviewCache)(nil)
	_ ports.SubjectRepository = (*SubjectRepository)(nil)
	_ ports.WebhookVerifier   = (*WebhookVerifier)(nil)
)

// Gateway is a mock implementation of ports.Gateway
type Gateway struct {
	mock.Mock
}

func (m *Gateway) Charge(ctx context.Context, req billing.ChargeRequest) (*billing.ChargeResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.ChargeResult), args.Error(1)
}

func (m *Gateway) CreateCustomer(ctx context.Context, paymentToken string, props billing.CustomerProperties) (string, error) {
	args := m.Called(ctx, paymentToken, props)
	return args.String(0), args.Error(1)
}

func (m *Gateway) GenerateClientToken(ctx context.Context, customerID string) (string, error) {
	args := m.Called(ctx, customerID)
	return args.String(0), args.Error(1)
}

func (m *Gateway) UpdatePaymentMethod(ctx context.Context, customerID, paymentToken string) (*billing.Card, error) {
	args := m.Called(ctx, customerID, paymentToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Card), args.Error(1)
}

func (m *Gateway) CreateSubscription(ctx context.Context, req billing.SubscriptionRequest) (*billing.RemoteSubscription, error) {
	args := m.Called(ctx, req)
	return remoteSubscription(args)
}

func (m *Gateway) GetSubscription(ctx context.Context, subscriptionID string) (*billing.RemoteSubscription, error) {
	args := m.Called(ctx, subscriptionID)
	return remoteSubscription(args)
}

func (m *Gateway) UpdateSubscription(ctx context.Context, subscriptionID string, update billing.SubscriptionUpdate) (*billing.RemoteSubscription, error) {
	args := m.Called(ctx, subscriptionID, update)
	return remoteSubscription(args)
}

func (m *Gateway) CancelSubscription(ctx context.Context, subscriptionID string, atPeriodEnd bool) (*billing.RemoteSubscription, error) {
	args := m.Called(ctx, subscriptionID, atPeriodEnd)
	return remoteSubscription(args)
}

func (m *Gateway) ResumeSubscription(ctx context.Context, subscriptionID string) (*billing.RemoteSubscription, error) {
	args := m.Called(ctx, subscriptionID)
	return remoteSubscription(args)
}

func (m *Gateway) ApplyCoupon(ctx context.Context, subscriptionID, code string) error {
	args := m.Called(ctx, subscriptionID, code)
	return args.Error(0)
}

func (m *Gateway) CreateInvoice(ctx context.Context, customerID string) (*billing.InvoiceResult, error) {
	args := m.Called(ctx, customerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.InvoiceResult), args.Error(1)
}

func (m *Gateway) GetInvoice(ctx context.Context, invoiceID string) (*billing.Invoice, error) {
	args := m.Called(ctx, invoiceID)
	return invoice(args)
}

func (m *Gateway) ListInvoices(ctx context.Context, query billing.InvoiceQuery) (*billing.InvoicePage, error) {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.InvoicePage), args.Error(1)
}

func (m *Gateway) UpcomingInvoice(ctx context.Context, customerID, subscriptionID string) (*billing.Invoice, error) {
	args := m.Called(ctx, customerID, subscriptionID)
	return invoice(args)
}

// GatewayFactory hands out the same gateway for every subject.
type GatewayFactory struct {
	mock.Mock
}

func (m *GatewayFactory) ForSubject(b billing.Billable) (ports.Gateway, error) {
	args := m.Called(b)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(ports.Gateway), args.Error(1)
}

// WebhookVerifier is a mock implementation of ports.WebhookVerifier
type WebhookVerifier struct {
	mock.Mock
}

func (m *WebhookVerifier) VerifyWebhook(payload []byte, signature string) (*billing.GatewayEvent, error) {
	args := m.Called(payload, signature)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.GatewayEvent), args.Error(1)
}

// PreviewCache is a mock implementation of ports.PreviewCache
type PreviewCache struct {
	mock.Mock
}

func (m *PreviewCache) GetUpcoming(ctx context.Context, customerID string) (*billing.Invoice, bool) {
	args := m.Called(ctx, customerID)
	if args.Get(0) == nil {
		return nil, args.Bool(1)
	}
	return args.Get(0).(*billing.Invoice), args.Bool(1)
}

func (m *PreviewCache) SetUpcoming(ctx context.Context, customerID string, inv *billing.Invoice) error {
	args := m.Called(ctx, customerID, inv)
	return args.Error(0)
}

func (m *PreviewCache) Invalidate(ctx context.Context, customerID string) error {
	args := m.Called(ctx, customerID)
	return args.Error(0)
}

// SubjectRepository is a mock implementation of ports.SubjectRepository
type SubjectRepository struct {
	mock.Mock
}

func (m *SubjectRepository) Create(ctx context.Context, s *billing.Subject) error {
	args := m.Called(ctx, s)
	return args.Error(0)
}

func (m *SubjectRepository) Get(ctx context.Context, id string) (*billing.Subject, error) {
	args := m.Called(ctx, id)
	return subject(args)
}

func (m *SubjectRepository) GetByCustomerID(ctx context.Context, customerID string) (*billing.Subject, error) {
	args := m.Called(ctx, customerID)
	return subject(args)
}

func (m *SubjectRepository) GetBySubscriptionID(ctx context.Context, subscriptionID string) (*billing.Subject, error) {
	args := m.Called(ctx, subscriptionID)
	return subject(args)
}

func (m *SubjectRepository) Save(ctx context.Context, s *billing.Subject) error {
	args := m.Called(ctx, s)
	return args.Error(0)
}

func (m *SubjectRepository) ListGraceElapsed(ctx context.Context, cutoff time.Time, limit int) ([]*billing.Subject, error) {
	args := m.Called(ctx, cutoff, limit)
	return subjects(args)
}

func (m *SubjectRepository) ListActive(ctx context.Context, afterID string, limit int) ([]*billing.Subject, error) {
	args := m.Called(ctx, afterID, limit)
	return subjects(args)
}

func remoteSubscription(args mock.Arguments) (*billing.RemoteSubscription, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.RemoteSubscription), args.Error(1)
}

func invoice(args mock.Arguments) (*billing.Invoice, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Invoice), args.Error(1)
}

func subject(args mock.Arguments) (*billing.Subject, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Subject), args.Error(1)
}

func subjects(args mock.Arguments) ([]*billing.Subject, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*billing.Subject), args.Error(1)
}
