// Package account binds a billable subject to a gateway and exposes the
// billing operations callers use day to day.
package account

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"

	"github.com/linkflow-go/cashier/internal/billing/app/subscription"
	"github.com/linkflow-go/cashier/internal/billing/ports"
	billing "github.com/linkflow-go/cashier/internal/domain/billing"
	"github.com/linkflow-go/cashier/pkg/logger"
)

// Account is not safe for concurrent use on the same subject.
type Account struct {
	billable billing.Billable
	gateway  ports.Gateway
	previews ports.PreviewCache
	logger   logger.Logger
	now      func() time.Time
}

type Option func(*Account)

func WithClock(now func() time.Time) Option {
	return func(a *Account) { a.now = now }
}

func WithLogger(l logger.Logger) Option {
	return func(a *Account) { a.logger = l }
}

func WithPreviewCache(c ports.PreviewCache) Option {
	return func(a *Account) { a.previews = c }
}

func New(b billing.Billable, gateway ports.Gateway, opts ...Option) *Account {
	a := &Account{
		billable: b,
		gateway:  gateway,
		logger:   logger.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ChargeOptions tunes a one-off charge. Zero values fall back to the subject.
type ChargeOptions struct {
	Currency       string
	Source         string
	Customer       string
	Description    string
	IdempotencyKey string
	Metadata       map[string]string
}

func (a *Account) Billable() billing.Billable {
	return a.billable
}

func (a *Account) OnTrial() bool       { return billing.OnTrial(a.billable, a.now()) }
func (a *Account) OnGracePeriod() bool { return billing.OnGracePeriod(a.billable, a.now()) }
func (a *Account) Subscribed() bool    { return billing.Subscribed(a.billable, a.now()) }
func (a *Account) Expired() bool       { return billing.Expired(a.billable, a.now()) }
func (a *Account) Cancelled() bool     { return billing.Cancelled(a.billable) }
func (a *Account) EverSubscribed() bool {
	return billing.EverSubscribed(a.billable)
}

func (a *Account) Status() billing.Status {
	return billing.StatusAt(a.billable, a.now())
}

// OnPlan reports whether the subject is active on the given plan. The plan
// is read from the gateway, not from the cached plan id.
func (a *Account) OnPlan(ctx context.Context, plan string) (bool, error) {
	if !a.billable.IsActive() {
		return false, nil
	}
	current, err := a.Subscription("").PlanID(ctx)
	if err != nil {
		return false, err
	}
	return current == plan, nil
}

// Subscription returns a builder bound to this subject and the given plan.
func (a *Account) Subscription(plan string) *subscription.Builder {
	opts := []subscription.Option{
		subscription.WithClock(a.now),
		subscription.WithLogger(a.logger),
	}
	if a.previews != nil {
		opts = append(opts, subscription.WithPreviewCache(a.previews))
	}
	return subscription.New(a.billable, a.gateway, plan, opts...)
}

func (a *Account) Subscribe(ctx context.Context, plan, paymentToken string, props billing.CustomerProperties) error {
	return a.Subscription(plan).Subscribe(ctx, paymentToken, props)
}

func (a *Account) SwapPlan(ctx context.Context, plan string) error {
	return a.Subscription(a.billable.PlanID()).SwapPlan(ctx, plan)
}

func (a *Account) Cancel(ctx context.Context, immediately bool) error {
	return a.Subscription("").Cancel(ctx, immediately)
}

func (a *Account) Resume(ctx context.Context) error {
	return a.Subscription("").Resume(ctx)
}

func (a *Account) ApplyCoupon(ctx context.Context, code string) error {
	return a.Subscription("").ApplyCoupon(ctx, code)
}

func (a *Account) UpdateCard(ctx context.Context, paymentToken string) error {
	return a.Subscription("").UpdateCard(ctx, paymentToken)
}

func (a *Account) Sync(ctx context.Context) error {
	return a.Subscription("").Sync(ctx)
}

// Charge makes a one-off charge of amount minor units. A declined card is
// reported in the result.
func (a *Account) Charge(ctx context.Context, amount int64, opts ChargeOptions) (*billing.ChargeResult, error) {
	if opts.Source == "" && opts.Customer == "" {
		opts.Customer = a.billable.GatewayCustomerID()
	}
	if opts.Source == "" && opts.Customer == "" {
		return nil, billing.ErrNoPaymentSource
	}
	if opts.Currency == "" {
		opts.Currency = a.billable.Currency()
	}
	if opts.IdempotencyKey == "" {
		opts.IdempotencyKey = uuid.New().String()
	}

	result, err := a.gateway.Charge(ctx, billing.ChargeRequest{
		Amount:         amount,
		Currency:       opts.Currency,
		Source:         opts.Source,
		Customer:       opts.Customer,
		Description:    opts.Description,
		IdempotencyKey: opts.IdempotencyKey,
		Metadata:       opts.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("charge: %w", err)
	}
	if result.Declined() {
		a.logger.Warn("Charge declined",
			"subject", a.billable.BillableID(),
			"amount", billing.FormatAmount(amount),
			"declineCode", result.DeclineCode,
		)
	}
	return result, nil
}

func (a *Account) Invoice(ctx context.Context) (*billing.InvoiceResult, error) {
	return a.Subscription("").Invoice(ctx)
}

func (a *Account) Invoices(ctx context.Context, includePending bool, filter billing.InvoiceFilter) iter.Seq2[*billing.Invoice, error] {
	return a.Subscription("").Invoices(ctx, includePending, filter)
}

func (a *Account) FindInvoice(ctx context.Context, id string) (*billing.Invoice, error) {
	return a.Subscription("").FindInvoice(ctx, id)
}

// FindInvoiceOrFail is FindInvoice with a missing invoice reported as ErrNotFound.
func (a *Account) FindInvoiceOrFail(ctx context.Context, id string) (*billing.Invoice, error) {
	inv, err := a.FindInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, fmt.Errorf("invoice %s: %w", id, billing.ErrNotFound)
	}
	return inv, nil
}

func (a *Account) UpcomingInvoice(ctx context.Context) (*billing.Invoice, error) {
	return a.Subscription("").UpcomingInvoice(ctx)
}

// Deactivate clears the local subscription state without contacting the gateway.
func (a *Account) Deactivate(ctx context.Context) error {
	billing.Deactivate(a.billable)
	return a.billable.Save(ctx)
}

// ClearTrial ends the trial administratively.
func (a *Account) ClearTrial(ctx context.Context) error {
	a.billable.SetTrialEndsAt(nil)
	return a.billable.Save(ctx)
}

// CreateCustomerToken returns a client-side token for collecting payment
// details, seeded with the customer id when the subject has one.
func (a *Account) CreateCustomerToken(ctx context.Context) (string, error) {
	token, err := a.gateway.GenerateClientToken(ctx, a.billable.GatewayCustomerID())
	if err != nil {
		return "", fmt.Errorf("client token: %w", err)
	}
	return token, nil
}
