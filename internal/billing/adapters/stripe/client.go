package stripe

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/linkflow-go/cashier/internal/billing/ports"
	billing "github.com/linkflow-go/cashier/internal/domain/billing"
	"github.com/linkflow-go/cashier/pkg/logger"
	"github.com/linkflow-go/cashier/pkg/metrics"
	"github.com/linkflow-go/cashier/pkg/ratelimit"
	"github.com/linkflow-go/cashier/pkg/resilience"
	"github.com/linkflow-go/cashier/pkg/telemetry"
)

const (
	prorationCreate = "create_prorations"
	prorationNone   = "none"
	cardMethod      = "card"
)

var _ ports.Gateway = (*Client)(nil)

// Options configure the transport and guards shared by gateway clients.
type Options struct {
	HTTPClient *http.Client
	// BaseURL overrides the API endpoint, mainly for tests.
	BaseURL string
	Timeout time.Duration
	Breaker *resilience.CircuitBreaker
	Limiter *ratelimit.TokenBucketLimiter
	Logger  logger.Logger
	Tracer  trace.Tracer
}

// Client is a Stripe gateway bound to one set of credentials. It never
// touches the SDK's global key, so clients for different accounts coexist.
type Client struct {
	api     *client.API
	creds   billing.Credentials
	breaker *resilience.CircuitBreaker
	limiter *ratelimit.TokenBucketLimiter
	logger  logger.Logger
	tracer  trace.Tracer
}

func NewClient(creds billing.Credentials, opts Options) (*Client, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}

	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer("cashier/stripe")
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}

	cfg := &stripe.BackendConfig{
		HTTPClient:        httpClient,
		LeveledLogger:     logger.Leveled{Logger: log},
		MaxNetworkRetries: stripe.Int64(0),
	}
	if opts.BaseURL != "" {
		cfg.URL = stripe.String(opts.BaseURL)
	}

	return &Client{
		api:     client.New(creds.PrivateKey, stripe.NewBackendsWithConfig(cfg)),
		creds:   creds,
		breaker: opts.Breaker,
		limiter: opts.Limiter,
		logger:  log.With("gateway", "stripe", "environment", string(creds.Environment)),
		tracer:  tracer,
	}, nil
}

// call wraps one logical gateway operation with the limiter, the breaker,
// tracing and metrics, and classifies whatever error comes back.
func call[T any](ctx context.Context, c *Client, op string, fn func(context.Context) (T, error)) (T, error) {
	ctx, span := c.tracer.Start(ctx, "stripe."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(telemetry.GatewayOperationAttribute(op)),
	)
	start := time.Now()

	var (
		v   T
		err error
	)
	if c.limiter != nil {
		err = c.limiter.Wait(ctx)
	}
	if err == nil {
		v, err = resilience.Execute(ctx, c.breaker, func(ctx context.Context) (T, error) {
			v, err := fn(ctx)
			return v, classify(op, err)
		})
	}
	err = classify(op, err)

	metrics.RecordGatewayRequest(op, outcome(err), time.Since(start).Seconds())
	telemetry.EndSpan(span, err)
	if err != nil {
		c.logger.Debug("Gateway call failed", "operation", op, "error", err)
	}
	return v, err
}

// scope binds a request to ctx and the connected account, if any.
func (c *Client) scope(ctx context.Context, p *stripe.Params) {
	p.Context = ctx
	if c.creds.MerchantID != "" {
		p.SetStripeAccount(c.creds.MerchantID)
	}
}

func (c *Client) scopeList(ctx context.Context, p *stripe.ListParams) {
	p.Context = ctx
	if c.creds.MerchantID != "" {
		p.SetStripeAccount(c.creds.MerchantID)
	}
}

// Charge makes a one-off payment. A declined card is reported in the result.
func (c *Client) Charge(ctx context.Context, req billing.ChargeRequest) (*billing.ChargeResult, error) {
	if req.Source == "" && req.Customer == "" {
		return nil, billing.ErrNoPaymentSource
	}
	currency := strings.ToLower(req.Currency)
	if currency == "" {
		currency = billing.DefaultCurrency
	}

	return call(ctx, c, "charge", func(ctx context.Context) (*billing.ChargeResult, error) {
		paymentMethod := req.Source
		if paymentMethod == "" {
			pm, err := c.defaultPaymentMethod(ctx, req.Customer)
			if err != nil {
				return nil, err
			}
			paymentMethod = pm
		}

		params := &stripe.PaymentIntentParams{
			Amount:             stripe.Int64(req.Amount),
			Currency:           stripe.String(currency),
			PaymentMethod:      stripe.String(paymentMethod),
			PaymentMethodTypes: []*string{stripe.String(cardMethod)},
			Confirm:            stripe.Bool(true),
		}
		c.scope(ctx, &params.Params)
		if req.Customer != "" {
			params.Customer = stripe.String(req.Customer)
			params.OffSession = stripe.Bool(true)
		}
		if req.Description != "" {
			params.Description = stripe.String(req.Description)
		}
		if req.IdempotencyKey != "" {
			params.SetIdempotencyKey(req.IdempotencyKey)
		}
		for k, v := range req.Metadata {
			params.AddMetadata(k, v)
		}

		pi, err := c.api.PaymentIntents.New(params)
		if err != nil {
			if declined, ok := cardError(err); ok {
				return declinedCharge(req.Amount, currency, declined), nil
			}
			return nil, err
		}

		result := &billing.ChargeResult{
			ID:          pi.ID,
			Paid:        pi.Status == stripe.PaymentIntentStatusSucceeded,
			Amount:      pi.Amount,
			AmountMajor: billing.MajorUnits(pi.Amount),
			Currency:    string(pi.Currency),
		}
		if !result.Paid && pi.LastPaymentError != nil {
			result.DeclineCode = string(pi.LastPaymentError.DeclineCode)
			result.FailureMessage = pi.LastPaymentError.Msg
		}
		return result, nil
	})
}

func declinedCharge(amount int64, currency string, declined *stripe.Error) *billing.ChargeResult {
	result := &billing.ChargeResult{
		Paid:           false,
		Amount:         amount,
		AmountMajor:    billing.MajorUnits(amount),
		Currency:       currency,
		DeclineCode:    string(declined.DeclineCode),
		FailureMessage: declined.Msg,
	}
	if result.DeclineCode == "" {
		result.DeclineCode = string(declined.Code)
	}
	if declined.PaymentIntent != nil {
		result.ID = declined.PaymentIntent.ID
	}
	return result
}

func (c *Client) defaultPaymentMethod(ctx context.Context, customerID string) (string, error) {
	params := &stripe.CustomerParams{}
	c.scope(ctx, &params.Params)
	cust, err := c.api.Customers.Get(customerID, params)
	if err != nil {
		return "", err
	}
	if cust.InvoiceSettings == nil || cust.InvoiceSettings.DefaultPaymentMethod == nil {
		return "", billing.ErrNoPaymentSource
	}
	return cust.InvoiceSettings.DefaultPaymentMethod.ID, nil
}

func (c *Client) CreateCustomer(ctx context.Context, paymentToken string, props billing.CustomerProperties) (string, error) {
	return call(ctx, c, "create_customer", func(ctx context.Context) (string, error) {
		params := &stripe.CustomerParams{}
		c.scope(ctx, &params.Params)
		if props.Email != "" {
			params.Email = stripe.String(props.Email)
		}
		if props.Name != "" {
			params.Name = stripe.String(props.Name)
		}
		if props.Description != "" {
			params.Description = stripe.String(props.Description)
		}
		if paymentToken != "" {
			params.PaymentMethod = stripe.String(paymentToken)
			params.InvoiceSettings = &stripe.CustomerInvoiceSettingsParams{
				DefaultPaymentMethod: stripe.String(paymentToken),
			}
		}
		for k, v := range props.Metadata {
			params.AddMetadata(k, v)
		}

		cust, err := c.api.Customers.New(params)
		if err != nil {
			return "", err
		}
		return cust.ID, nil
	})
}

// GenerateClientToken returns a setup intent secret the browser uses to collect a card.
func (c *Client) GenerateClientToken(ctx context.Context, customerID string) (string, error) {
	return call(ctx, c, "client_token", func(ctx context.Context) (string, error) {
		params := &stripe.SetupIntentParams{
			PaymentMethodTypes: []*string{stripe.String(cardMethod)},
			Usage:              stripe.String(string(stripe.SetupIntentUsageOffSession)),
		}
		c.scope(ctx, &params.Params)
		if customerID != "" {
			params.Customer = stripe.String(customerID)
		}

		si, err := c.api.SetupIntents.New(params)
		if err != nil {
			return "", err
		}
		return si.ClientSecret, nil
	})
}

// UpdatePaymentMethod attaches the token to the customer and makes it the default.
func (c *Client) UpdatePaymentMethod(ctx context.Context, customerID, paymentToken string) (*billing.Card, error) {
	return call(ctx, c, "update_payment_method", func(ctx context.Context) (*billing.Card, error) {
		attach := &stripe.PaymentMethodAttachParams{Customer: stripe.String(customerID)}
		c.scope(ctx, &attach.Params)
		pm, err := c.api.PaymentMethods.Attach(paymentToken, attach)
		if err != nil {
			return nil, err
		}

		update := &stripe.CustomerParams{
			InvoiceSettings: &stripe.CustomerInvoiceSettingsParams{
				DefaultPaymentMethod: stripe.String(pm.ID),
			},
		}
		c.scope(ctx, &update.Params)
		if _, err := c.api.Customers.Update(customerID, update); err != nil {
			return nil, err
		}
		return toCard(pm.Card), nil
	})
}

func (c *Client) CreateSubscription(ctx context.Context, req billing.SubscriptionRequest) (*billing.RemoteSubscription, error) {
	return call(ctx, c, "create_subscription", func(ctx context.Context) (*billing.RemoteSubscription, error) {
		quantity := req.Quantity
		if quantity < 1 {
			quantity = 1
		}
		params := &stripe.SubscriptionParams{
			Customer: stripe.String(req.CustomerID),
			Items: []*stripe.SubscriptionItemsParams{
				{Price: stripe.String(req.PlanID), Quantity: stripe.Int64(quantity)},
			},
		}
		c.scope(ctx, &params.Params)
		params.AddExpand("default_payment_method")
		if req.Coupon != "" {
			params.Coupon = stripe.String(req.Coupon)
		}
		if req.PaymentMethod != "" {
			params.DefaultPaymentMethod = stripe.String(req.PaymentMethod)
		}
		applyTrial(params, req.TrialEnd, req.SkipTrial)

		sub, err := c.api.Subscriptions.New(params)
		if err != nil {
			return nil, err
		}
		return toRemoteSubscription(sub), nil
	})
}

func (c *Client) GetSubscription(ctx context.Context, subscriptionID string) (*billing.RemoteSubscription, error) {
	return call(ctx, c, "get_subscription", func(ctx context.Context) (*billing.RemoteSubscription, error) {
		sub, err := c.getSubscription(ctx, subscriptionID)
		if err != nil {
			return nil, err
		}
		return toRemoteSubscription(sub), nil
	})
}

func (c *Client) getSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{}
	c.scope(ctx, &params.Params)
	params.AddExpand("default_payment_method")
	return c.api.Subscriptions.Get(subscriptionID, params)
}

func (c *Client) UpdateSubscription(ctx context.Context, subscriptionID string, update billing.SubscriptionUpdate) (*billing.RemoteSubscription, error) {
	return call(ctx, c, "update_subscription", func(ctx context.Context) (*billing.RemoteSubscription, error) {
		params := &stripe.SubscriptionParams{}

		if update.PlanID != "" || update.Quantity > 0 {
			current, err := c.getSubscription(ctx, subscriptionID)
			if err != nil {
				return nil, err
			}
			item := firstItem(current)
			if item == nil {
				return nil, fmt.Errorf("subscription %s has no items", subscriptionID)
			}
			itemParams := &stripe.SubscriptionItemsParams{ID: stripe.String(item.ID)}
			if update.PlanID != "" {
				itemParams.Price = stripe.String(update.PlanID)
			}
			if update.Quantity > 0 {
				itemParams.Quantity = stripe.Int64(update.Quantity)
			}
			params.Items = []*stripe.SubscriptionItemsParams{itemParams}
		}

		c.scope(ctx, &params.Params)
		params.AddExpand("default_payment_method")
		if update.Prorate {
			params.ProrationBehavior = stripe.String(prorationCreate)
		} else {
			params.ProrationBehavior = stripe.String(prorationNone)
		}
		if update.Resume {
			params.CancelAtPeriodEnd = stripe.Bool(false)
		}
		applyTrial(params, update.TrialEnd, update.SkipTrial)

		sub, err := c.api.Subscriptions.Update(subscriptionID, params)
		if err != nil {
			return nil, err
		}
		return toRemoteSubscription(sub), nil
	})
}

func applyTrial(params *stripe.SubscriptionParams, trialEnd *time.Time, skip bool) {
	switch {
	case skip:
		params.TrialEndNow = stripe.Bool(true)
	case trialEnd != nil:
		params.TrialEnd = stripe.Int64(trialEnd.Unix())
	}
}

// CancelSubscription ends the subscription now, or flags it to end with the current period.
func (c *Client) CancelSubscription(ctx context.Context, subscriptionID string, atPeriodEnd bool) (*billing.RemoteSubscription, error) {
	return call(ctx, c, "cancel_subscription", func(ctx context.Context) (*billing.RemoteSubscription, error) {
		if atPeriodEnd {
			params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(true)}
			c.scope(ctx, &params.Params)
			sub, err := c.api.Subscriptions.Update(subscriptionID, params)
			if err != nil {
				return nil, err
			}
			return toRemoteSubscription(sub), nil
		}

		params := &stripe.SubscriptionCancelParams{}
		c.scope(ctx, &params.Params)
		sub, err := c.api.Subscriptions.Cancel(subscriptionID, params)
		if err != nil {
			return nil, err
		}
		return toRemoteSubscription(sub), nil
	})
}

func (c *Client) ResumeSubscription(ctx context.Context, subscriptionID string) (*billing.RemoteSubscription, error) {
	return call(ctx, c, "resume_subscription", func(ctx context.Context) (*billing.RemoteSubscription, error) {
		params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(false)}
		c.scope(ctx, &params.Params)
		params.AddExpand("default_payment_method")
		sub, err := c.api.Subscriptions.Update(subscriptionID, params)
		if err != nil {
			return nil, err
		}
		return toRemoteSubscription(sub), nil
	})
}

func (c *Client) ApplyCoupon(ctx context.Context, subscriptionID, code string) error {
	_, err := call(ctx, c, "apply_coupon", func(ctx context.Context) (struct{}, error) {
		params := &stripe.SubscriptionParams{Coupon: stripe.String(code)}
		c.scope(ctx, &params.Params)
		_, err := c.api.Subscriptions.Update(subscriptionID, params)
		return struct{}{}, err
	})
	if coupon, ok := asInvalidCoupon(err); ok {
		coupon.Code = code
	}
	return err
}

// CreateInvoice bills pending items now. A decline, or nothing to bill,
// is reported in the result.
func (c *Client) CreateInvoice(ctx context.Context, customerID string) (*billing.InvoiceResult, error) {
	return call(ctx, c, "create_invoice", func(ctx context.Context) (*billing.InvoiceResult, error) {
		params := &stripe.InvoiceParams{
			Customer:                    stripe.String(customerID),
			PendingInvoiceItemsBehavior: stripe.String("include"),
		}
		c.scope(ctx, &params.Params)
		created, err := c.api.Invoices.New(params)
		if err != nil {
			if hasCode(err, errorCodeNothingToInvoice) {
				return &billing.InvoiceResult{Paid: false, Reason: "nothing to invoice"}, nil
			}
			return nil, err
		}

		pay := &stripe.InvoicePayParams{}
		c.scope(ctx, &pay.Params)
		paid, err := c.api.Invoices.Pay(created.ID, pay)
		if err != nil {
			if declined, ok := cardError(err); ok {
				return &billing.InvoiceResult{Paid: false, Invoice: toInvoice(created), Reason: declined.Msg}, nil
			}
			return nil, err
		}

		inv := toInvoice(paid)
		return &billing.InvoiceResult{Paid: inv.Paid(), Invoice: inv}, nil
	})
}

func (c *Client) GetInvoice(ctx context.Context, invoiceID string) (*billing.Invoice, error) {
	return call(ctx, c, "get_invoice", func(ctx context.Context) (*billing.Invoice, error) {
		params := &stripe.InvoiceParams{}
		c.scope(ctx, &params.Params)
		in, err := c.api.Invoices.Get(invoiceID, params)
		if err != nil {
			return nil, err
		}
		return toInvoice(in), nil
	})
}

// ListInvoices fetches exactly one page; callers drive pagination.
func (c *Client) ListInvoices(ctx context.Context, query billing.InvoiceQuery) (*billing.InvoicePage, error) {
	return call(ctx, c, "list_invoices", func(ctx context.Context) (*billing.InvoicePage, error) {
		params := &stripe.InvoiceListParams{Customer: stripe.String(query.CustomerID)}
		c.scopeList(ctx, &params.ListParams)
		params.Single = true
		if query.Limit > 0 {
			params.Limit = stripe.Int64(query.Limit)
		}
		if query.StartingAfter != "" {
			params.StartingAfter = stripe.String(query.StartingAfter)
		}
		if query.SubscriptionID != "" {
			params.Subscription = stripe.String(query.SubscriptionID)
		}
		if query.Status != "" {
			params.Status = stripe.String(query.Status)
		}
		if !query.CreatedAfter.IsZero() {
			params.CreatedRange = &stripe.RangeQueryParams{GreaterThan: query.CreatedAfter.Unix()}
		}

		page := &billing.InvoicePage{}
		it := c.api.Invoices.List(params)
		for it.Next() {
			page.Invoices = append(page.Invoices, toInvoice(it.Invoice()))
		}
		if err := it.Err(); err != nil {
			return nil, err
		}
		if meta := it.Meta(); meta != nil {
			page.HasMore = meta.HasMore
		}
		return page, nil
	})
}

// UpcomingInvoice previews the next invoice; nil when nothing is scheduled.
func (c *Client) UpcomingInvoice(ctx context.Context, customerID, subscriptionID string) (*billing.Invoice, error) {
	return call(ctx, c, "upcoming_invoice", func(ctx context.Context) (*billing.Invoice, error) {
		params := &stripe.InvoiceUpcomingParams{Customer: stripe.String(customerID)}
		c.scope(ctx, &params.Params)
		if subscriptionID != "" {
			params.Subscription = stripe.String(subscriptionID)
		}
		in, err := c.api.Invoices.Upcoming(params)
		if err != nil {
			if hasCode(err, errorCodeUpcomingNone) {
				return nil, nil
			}
			return nil, err
		}
		inv := toInvoice(in)
		if inv.CustomerID == "" {
			inv.CustomerID = customerID
		}
		return inv, nil
	})
}
