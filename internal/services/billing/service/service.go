package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/linkflow-go/cashier/internal/billing/app/account"
	"github.com/linkflow-go/cashier/internal/billing/ports"
	billing "github.com/linkflow-go/cashier/internal/domain/billing"
	"github.com/linkflow-go/cashier/pkg/events"
	"github.com/linkflow-go/cashier/pkg/logger"
	"github.com/linkflow-go/cashier/pkg/metrics"
)

// ErrInvalidWebhook is returned for notifications that fail verification or decoding.
var ErrInvalidWebhook = errors.New("invalid webhook")

const aggregateSubject = "subject"

type BillingService struct {
	repo     ports.SubjectRepository
	gateways ports.GatewayFactory
	webhooks ports.WebhookVerifier
	previews ports.PreviewCache
	eventBus events.EventBus
	logger   logger.Logger
	now      func() time.Time
}

type Option func(*BillingService)

func WithPreviewCache(c ports.PreviewCache) Option {
	return func(s *BillingService) { s.previews = c }
}

func WithClock(now func() time.Time) Option {
	return func(s *BillingService) { s.now = now }
}

func NewBillingService(
	repo ports.SubjectRepository,
	gateways ports.GatewayFactory,
	webhooks ports.WebhookVerifier,
	eventBus events.EventBus,
	logger logger.Logger,
	opts ...Option,
) *BillingService {
	s := &BillingService{
		repo:     repo,
		gateways: gateways,
		webhooks: webhooks,
		eventBus: eventBus,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StatusView is the subject's billing state as derived at request time.
type StatusView struct {
	SubjectID          string         `json:"subjectId"`
	Status             billing.Status `json:"status"`
	PlanID             string         `json:"planId,omitempty"`
	Subscribed         bool           `json:"subscribed"`
	OnTrial            bool           `json:"onTrial"`
	OnGracePeriod      bool           `json:"onGracePeriod"`
	Cancelled          bool           `json:"cancelled"`
	Expired            bool           `json:"expired"`
	EverSubscribed     bool           `json:"everSubscribed"`
	LastFour           string         `json:"lastFour,omitempty"`
	TrialEndsAt        *time.Time     `json:"trialEndsAt,omitempty"`
	SubscriptionEndsAt *time.Time     `json:"subscriptionEndsAt,omitempty"`
}

type SubscribeRequest struct {
	Plan         string `json:"plan" binding:"required"`
	PaymentToken string `json:"paymentToken"`
	Coupon       string `json:"coupon"`
	Quantity     int64  `json:"quantity"`
	TrialDays    int    `json:"trialDays"`
	SkipTrial    bool   `json:"skipTrial"`
	Email        string `json:"email"`
	Name         string `json:"name"`
}

type SwapRequest struct {
	Plan      string `json:"plan" binding:"required"`
	Prorate   *bool  `json:"prorate"`
	Quantity  int64  `json:"quantity"`
	SkipTrial bool   `json:"skipTrial"`
}

type QuantityRequest struct {
	Quantity int64 `json:"quantity"`
	Delta    int64 `json:"delta"`
	Prorate  *bool `json:"prorate"`
}

type ChargeRequest struct {
	Amount         int64             `json:"amount" binding:"required,gt=0"`
	Currency       string            `json:"currency"`
	Source         string            `json:"source"`
	Description    string            `json:"description"`
	IdempotencyKey string            `json:"idempotencyKey"`
	Metadata       map[string]string `json:"metadata"`
}

func (s *BillingService) Status(ctx context.Context, subjectID string) (*StatusView, error) {
	subject, err := s.repo.Get(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	acct := account.New(subject, nil, account.WithClock(s.now))
	return &StatusView{
		SubjectID:          subject.ID,
		Status:             acct.Status(),
		PlanID:             subject.PlanID(),
		Subscribed:         acct.Subscribed(),
		OnTrial:            acct.OnTrial(),
		OnGracePeriod:      acct.OnGracePeriod(),
		Cancelled:          acct.Cancelled(),
		Expired:            acct.Expired(),
		EverSubscribed:     acct.EverSubscribed(),
		LastFour:           subject.LastFour(),
		TrialEndsAt:        subject.TrialEndsAt(),
		SubscriptionEndsAt: subject.SubscriptionEndsAt(),
	}, nil
}

// Subscribe registers the subject on first use and subscribes it to a plan.
func (s *BillingService) Subscribe(ctx context.Context, subjectID string, req SubscribeRequest) error {
	subject, err := s.repo.Get(ctx, subjectID)
	if errors.Is(err, billing.ErrNotFound) {
		subject = billing.NewSubject(req.Email, req.Name)
		subject.ID = subjectID
		if err := s.repo.Create(ctx, subject); err != nil {
			return err
		}
		s.logger.Info("Registered billable subject", "subject_id", subjectID)
	} else if err != nil {
		return err
	}

	acct, err := s.bind(subject)
	if err != nil {
		return err
	}

	builder := acct.Subscription(req.Plan).WithCoupon(req.Coupon)
	if req.Quantity != 0 {
		builder.Quantity(req.Quantity)
	}
	switch {
	case req.SkipTrial:
		builder.SkipTrial()
	case req.TrialDays > 0:
		builder.TrialFor(time.Duration(req.TrialDays) * 24 * time.Hour)
	}

	err = builder.Subscribe(ctx, req.PaymentToken, billing.CustomerProperties{
		Email: req.Email,
		Name:  req.Name,
	})
	s.record("subscribe", err)
	if err != nil {
		return err
	}

	s.publish(ctx, newEvent(ctx, events.SubscriptionCreated, subject.ID).
		WithPayload("planId", req.Plan).
		WithPayload("subscriptionId", subject.SubscriptionID()).
		Build())
	return nil
}

func (s *BillingService) SwapPlan(ctx context.Context, subjectID string, req SwapRequest) error {
	acct, err := s.account(ctx, subjectID)
	if err != nil {
		return err
	}
	previous := acct.Billable().PlanID()

	builder := acct.Subscription(previous)
	if req.Prorate != nil && !*req.Prorate {
		builder.NoProrate()
	}
	if req.Quantity != 0 {
		builder.Quantity(req.Quantity)
	}
	if req.SkipTrial {
		builder.SkipTrial()
	}

	err = builder.SwapPlan(ctx, req.Plan)
	s.record("swap", err)
	if err != nil {
		return err
	}

	s.publish(ctx, newEvent(ctx, events.SubscriptionSwapped, subjectID).
		WithPayload("from", previous).
		WithPayload("to", req.Plan).
		Build())
	return nil
}

// UpdateQuantity sets the seat count, or shifts it by Delta when Delta is non-zero.
func (s *BillingService) UpdateQuantity(ctx context.Context, subjectID string, req QuantityRequest) error {
	acct, err := s.account(ctx, subjectID)
	if err != nil {
		return err
	}

	builder := acct.Subscription(acct.Billable().PlanID())
	if req.Prorate != nil && !*req.Prorate {
		builder.NoProrate()
	}

	switch {
	case req.Delta > 0:
		err = builder.IncrementQuantity(ctx, req.Delta)
	case req.Delta < 0:
		err = builder.DecrementQuantity(ctx, -req.Delta)
	default:
		err = builder.UpdateQuantity(ctx, req.Quantity)
	}
	s.record("quantity", err)
	if err != nil {
		return err
	}

	event := newEvent(ctx, events.QuantityUpdated, subjectID)
	if req.Delta != 0 {
		event.WithPayload("delta", req.Delta)
	} else {
		event.WithPayload("quantity", req.Quantity)
	}
	s.publish(ctx, event.Build())
	return nil
}

func (s *BillingService) Cancel(ctx context.Context, subjectID string, immediately bool) error {
	acct, err := s.account(ctx, subjectID)
	if err != nil {
		return err
	}

	err = acct.Cancel(ctx, immediately)
	s.record("cancel", err)
	if err != nil {
		return err
	}

	s.publish(ctx, newEvent(ctx, events.SubscriptionCancelled, subjectID).
		WithPayload("immediately", immediately).
		WithPayload("endsAt", acct.Billable().SubscriptionEndsAt()).
		Build())
	return nil
}

func (s *BillingService) Resume(ctx context.Context, subjectID string) error {
	acct, err := s.account(ctx, subjectID)
	if err != nil {
		return err
	}

	err = acct.Resume(ctx)
	s.record("resume", err)
	if err != nil {
		return err
	}

	s.publish(ctx, newEvent(ctx, events.SubscriptionResumed, subjectID).
		WithPayload("planId", acct.Billable().PlanID()).
		Build())
	return nil
}

func (s *BillingService) ApplyCoupon(ctx context.Context, subjectID, code string) error {
	acct, err := s.account(ctx, subjectID)
	if err != nil {
		return err
	}

	err = acct.ApplyCoupon(ctx, code)
	s.record("coupon", err)
	if err != nil {
		return err
	}

	s.publish(ctx, newEvent(ctx, events.CouponApplied, subjectID).
		WithPayload("coupon", code).
		Build())
	return nil
}

func (s *BillingService) UpdateCard(ctx context.Context, subjectID, paymentToken string) error {
	acct, err := s.account(ctx, subjectID)
	if err != nil {
		return err
	}

	err = acct.UpdateCard(ctx, paymentToken)
	s.record("update_card", err)
	if err != nil {
		return err
	}

	s.publish(ctx, newEvent(ctx, events.CardUpdated, subjectID).
		WithPayload("lastFour", acct.Billable().LastFour()).
		Build())
	return nil
}

// ClientToken returns a token the client uses to collect payment details.
func (s *BillingService) ClientToken(ctx context.Context, subjectID string) (string, error) {
	acct, err := s.account(ctx, subjectID)
	if err != nil {
		return "", err
	}
	return acct.CreateCustomerToken(ctx)
}

// Charge makes a one-off charge. A declined card yields a result with Paid unset.
func (s *BillingService) Charge(ctx context.Context, subjectID string, req ChargeRequest) (*billing.ChargeResult, error) {
	acct, err := s.account(ctx, subjectID)
	if err != nil {
		return nil, err
	}

	result, err := acct.Charge(ctx, req.Amount, account.ChargeOptions{
		Currency:       req.Currency,
		Source:         req.Source,
		Description:    req.Description,
		IdempotencyKey: req.IdempotencyKey,
		Metadata:       req.Metadata,
	})
	if err != nil {
		metrics.RecordCharge("error", req.Currency, req.Amount)
		return nil, err
	}

	currency := req.Currency
	if currency == "" {
		currency = acct.Billable().Currency()
	}
	eventType := events.ChargeSucceeded
	if result.Paid {
		metrics.RecordCharge("paid", currency, result.Amount)
	} else {
		metrics.RecordCharge("declined", currency, req.Amount)
		eventType = events.ChargeDeclined
	}

	s.publish(ctx, newEvent(ctx, eventType, subjectID).
		WithPayload("chargeId", result.ID).
		WithPayload("amount", req.Amount).
		WithPayload("currency", currency).
		Build())
	return result, nil
}

func (s *BillingService) Invoice(ctx context.Context, subjectID string) (*billing.InvoiceResult, error) {
	acct, err := s.account(ctx, subjectID)
	if err != nil {
		return nil, err
	}

	result, err := acct.Invoice(ctx)
	s.record("invoice", err)
	if err != nil {
		return nil, err
	}

	if result.Invoice != nil {
		s.publish(ctx, newEvent(ctx, events.InvoiceCreated, subjectID).
			WithPayload("invoiceId", result.Invoice.ID).
			WithPayload("paid", result.Paid).
			Build())
	}
	return result, nil
}

// ListInvoices returns up to max invoices, newest first; max <= 0 lists all.
func (s *BillingService) ListInvoices(ctx context.Context, subjectID string, includePending bool, max int) ([]*billing.Invoice, error) {
	acct, err := s.account(ctx, subjectID)
	if err != nil {
		return nil, err
	}

	invoices := make([]*billing.Invoice, 0)
	for inv, err := range acct.Invoices(ctx, includePending, billing.InvoiceFilter{Max: max}) {
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, nil
}

func (s *BillingService) FindInvoice(ctx context.Context, subjectID, invoiceID string) (*billing.Invoice, error) {
	acct, err := s.account(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	return acct.FindInvoiceOrFail(ctx, invoiceID)
}

// UpcomingInvoice returns nil when nothing is scheduled.
func (s *BillingService) UpcomingInvoice(ctx context.Context, subjectID string) (*billing.Invoice, error) {
	acct, err := s.account(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	return acct.UpcomingInvoice(ctx)
}

// HandleWebhook verifies a gateway notification and applies it to the
// subject it concerns. Notifications for unknown customers are ignored.
func (s *BillingService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	event, err := s.webhooks.VerifyWebhook(payload, signature)
	if err != nil {
		metrics.RecordWebhookEvent("unknown", "rejected")
		return fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
	}
	if event == nil {
		metrics.RecordWebhookEvent("unhandled", "ignored")
		return nil
	}

	err = s.applyEvent(ctx, event)
	status := "processed"
	if err != nil {
		status = "failed"
	}
	metrics.RecordWebhookEvent(event.Type, status)
	return err
}

func (s *BillingService) applyEvent(ctx context.Context, event *billing.GatewayEvent) error {
	subject, err := s.subjectForEvent(ctx, event)
	if errors.Is(err, billing.ErrNotFound) {
		s.logger.Debug("Webhook for unknown subject", "event_id", event.ID, "customer", event.CustomerID)
		return nil
	}
	if err != nil {
		return err
	}

	log := s.logger.With("event_id", event.ID, "type", event.Type, "subject_id", subject.ID)

	switch event.Type {
	case billing.GatewayEventSubscriptionUpdated:
		acct, err := s.bind(subject)
		if err != nil {
			return err
		}
		wasActive := subject.IsActive()
		if err := acct.Sync(ctx); err != nil {
			return err
		}
		if wasActive != subject.IsActive() {
			s.publish(ctx, newEvent(ctx, events.SubscriptionSynced, subject.ID).
				WithPayload("active", subject.IsActive()).
				WithPayload("planId", subject.PlanID()).
				Build())
		}
		log.Info("Subscription synced from webhook")

	case billing.GatewayEventSubscriptionDeleted:
		if event.SubscriptionID != "" && subject.SubscriptionID() != event.SubscriptionID {
			log.Debug("Deleted subscription is not current, ignoring", "subscription", event.SubscriptionID)
			return nil
		}
		acct := account.New(subject, nil, account.WithClock(s.now), account.WithLogger(s.logger))
		if err := acct.Deactivate(ctx); err != nil {
			return err
		}
		s.publish(ctx, newEvent(ctx, events.SubscriptionExpired, subject.ID).
			WithPayload("subscriptionId", event.SubscriptionID).
			Build())
		log.Info("Subscription deleted at gateway")

	case billing.GatewayEventInvoicePaymentFailed:
		acct, err := s.bind(subject)
		if err != nil {
			return err
		}
		if err := acct.Sync(ctx); err != nil {
			return err
		}
		builder := newEvent(ctx, events.InvoicePaymentFailed, subject.ID)
		if event.Invoice != nil {
			builder.WithPayload("invoiceId", event.Invoice.ID).
				WithPayload("amountDue", event.Invoice.AmountDue).
				WithPayload("currency", event.Invoice.Currency)
		}
		s.publish(ctx, builder.Build())
		log.Warn("Invoice payment failed")

	default:
		log.Debug("Ignoring gateway event")
	}
	return nil
}

func (s *BillingService) subjectForEvent(ctx context.Context, event *billing.GatewayEvent) (*billing.Subject, error) {
	subject, err := s.repo.GetByCustomerID(ctx, event.CustomerID)
	if errors.Is(err, billing.ErrNotFound) && event.SubscriptionID != "" {
		return s.repo.GetBySubscriptionID(ctx, event.SubscriptionID)
	}
	return subject, err
}

func (s *BillingService) account(ctx context.Context, subjectID string) (*account.Account, error) {
	subject, err := s.repo.Get(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	return s.bind(subject)
}

func (s *BillingService) bind(subject *billing.Subject) (*account.Account, error) {
	gw, err := s.gateways.ForSubject(subject)
	if err != nil {
		return nil, err
	}
	opts := []account.Option{
		account.WithClock(s.now),
		account.WithLogger(s.logger),
	}
	if s.previews != nil {
		opts = append(opts, account.WithPreviewCache(s.previews))
	}
	return account.New(subject, gw, opts...), nil
}

func (s *BillingService) record(operation string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.RecordSubscriptionOperation(operation, status)
}

func newEvent(ctx context.Context, eventType, subjectID string) *events.EventBuilder {
	b := events.NewEventBuilder(eventType).
		WithAggregateID(subjectID).
		WithAggregateType(aggregateSubject).
		WithUserID(subjectID)
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		b.WithTraceID(sc.TraceID().String())
	}
	return b
}

func (s *BillingService) publish(ctx context.Context, event events.Event) {
	if s.eventBus == nil {
		return
	}
	if err := s.eventBus.Publish(ctx, event); err != nil {
		s.logger.Warn("Failed to publish event", "type", event.Type, "error", err)
	}
}
