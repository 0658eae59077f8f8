package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/linkflow-go/cashier/internal/billing/ports"
	billing "github.com/linkflow-go/cashier/internal/domain/billing"
	"github.com/linkflow-go/cashier/pkg/logger"
)

// Builder runs subscription lifecycle operations for one subject and,
// optionally, one target plan. A Builder is not safe for concurrent use.
type Builder struct {
	billable billing.Billable
	gateway  ports.Gateway
	previews ports.PreviewCache
	logger   logger.Logger
	now      func() time.Time

	plan      string
	coupon    string
	prorate   bool
	quantity  int64
	trialEnd  *time.Time
	skipTrial bool
}

type Option func(*Builder)

func WithClock(now func() time.Time) Option {
	return func(b *Builder) { b.now = now }
}

func WithLogger(l logger.Logger) Option {
	return func(b *Builder) { b.logger = l }
}

func WithPreviewCache(c ports.PreviewCache) Option {
	return func(b *Builder) { b.previews = c }
}

func New(subject billing.Billable, gateway ports.Gateway, plan string, opts ...Option) *Builder {
	b := &Builder{
		billable: subject,
		gateway:  gateway,
		logger:   logger.NewNop(),
		now:      time.Now,
		plan:     plan,
		prorate:  true,
		quantity: 1,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// WithCoupon sets the coupon applied when the subscription is created.
func (b *Builder) WithCoupon(code string) *Builder {
	b.coupon = code
	return b
}

func (b *Builder) Prorate() *Builder {
	b.prorate = true
	return b
}

func (b *Builder) NoProrate() *Builder {
	b.prorate = false
	return b
}

func (b *Builder) Quantity(q int64) *Builder {
	b.quantity = q
	return b
}

// TrialUntil overrides the trial end sent to the gateway.
func (b *Builder) TrialUntil(t time.Time) *Builder {
	b.trialEnd = &t
	b.skipTrial = false
	return b
}

func (b *Builder) TrialFor(d time.Duration) *Builder {
	return b.TrialUntil(b.now().Add(d))
}

// SkipTrial ends any trial immediately for the next operation.
func (b *Builder) SkipTrial() *Builder {
	b.skipTrial = true
	b.trialEnd = nil
	return b
}

// Subscribe makes the subject a gateway customer (reusing an existing customer
// id) and subscribes it to the builder's plan. The customer id is persisted
// before the subscription is attempted so a failed attempt can be retried.
// A subject whose subscription is active or on grace must swap or resume instead.
func (b *Builder) Subscribe(ctx context.Context, paymentToken string, props billing.CustomerProperties) error {
	if b.plan == "" {
		return billing.ErrNoPlan
	}
	if _, err := b.liveSubscription(); err == nil {
		return billing.ErrAlreadySubscribed
	}
	if b.quantity < 1 {
		return billing.ErrInvalidQuantity
	}
	if paymentToken == "" && b.billable.RequiresCardUpFront() {
		return billing.ErrNoPaymentSource
	}

	customerID := b.billable.GatewayCustomerID()
	if customerID == "" {
		id, err := b.gateway.CreateCustomer(ctx, paymentToken, b.customerProperties(props))
		if err != nil {
			return fmt.Errorf("create customer: %w", err)
		}
		customerID = id
		b.billable.SetGatewayCustomerID(id)
		if err := b.billable.Save(ctx); err != nil {
			return fmt.Errorf("save customer id: %w", err)
		}
		b.logger.Info("Created gateway customer", "subject", b.billable.BillableID(), "customer", id)
	} else if paymentToken != "" {
		card, err := b.gateway.UpdatePaymentMethod(ctx, customerID, paymentToken)
		if err != nil {
			return fmt.Errorf("attach payment method: %w", err)
		}
		if card != nil {
			b.billable.SetLastFour(card.LastFour)
		}
	}

	req := billing.SubscriptionRequest{
		CustomerID:    customerID,
		PlanID:        b.plan,
		Quantity:      b.quantity,
		Coupon:        b.coupon,
		PaymentMethod: paymentToken,
		SkipTrial:     b.skipTrial,
		TrialEnd:      b.trialEndForCreate(),
	}
	sub, err := b.gateway.CreateSubscription(ctx, req)
	if err != nil {
		return fmt.Errorf("create subscription: %w", err)
	}

	b.billable.SetSubscriptionID(sub.ID)
	b.billable.SetPlanID(b.plan)
	b.billable.SetActive(true)
	b.billable.SetSubscriptionEndsAt(nil)
	if sub.TrialEnd != nil && !b.skipTrial {
		end := *sub.TrialEnd
		b.billable.SetTrialEndsAt(&end)
	}
	if sub.Card != nil && sub.Card.LastFour != "" {
		b.billable.SetLastFour(sub.Card.LastFour)
	}
	b.invalidatePreview(ctx)

	b.logger.Info("Subscription created",
		"subject", b.billable.BillableID(),
		"subscription", sub.ID,
		"plan", b.plan,
	)
	return b.billable.Save(ctx)
}

// SwapPlan moves the live subscription to another plan, honoring the
// proration, quantity and trial settings of the builder.
func (b *Builder) SwapPlan(ctx context.Context, plan string) error {
	if plan == "" {
		return billing.ErrNoPlan
	}
	id, err := b.liveSubscription()
	if err != nil {
		return err
	}

	update := billing.SubscriptionUpdate{
		PlanID:    plan,
		Quantity:  b.quantity,
		Prorate:   b.prorate,
		TrialEnd:  b.trialEnd,
		SkipTrial: b.skipTrial,
		Resume:    true,
	}
	sub, err := b.gateway.UpdateSubscription(ctx, id, update)
	if err != nil {
		return fmt.Errorf("swap plan: %w", err)
	}

	b.plan = plan
	b.billable.SetPlanID(plan)
	b.billable.SetActive(true)
	b.billable.SetSubscriptionEndsAt(nil)
	if b.skipTrial {
		b.billable.SetTrialEndsAt(nil)
	} else if sub.TrialEnd != nil {
		end := *sub.TrialEnd
		b.billable.SetTrialEndsAt(&end)
	}
	b.invalidatePreview(ctx)

	b.logger.Info("Subscription plan swapped", "subject", b.billable.BillableID(), "plan", plan)
	return b.billable.Save(ctx)
}

// Cancel ends the subscription now, or at the end of the current billing
// period. In the latter case the subject keeps access until then.
func (b *Builder) Cancel(ctx context.Context, immediately bool) error {
	id, err := b.liveSubscription()
	if err != nil {
		return err
	}

	sub, err := b.gateway.CancelSubscription(ctx, id, !immediately)
	if err != nil {
		return fmt.Errorf("cancel subscription: %w", err)
	}

	now := b.now()
	if immediately {
		b.billable.SetActive(false)
		b.billable.SetSubscriptionEndsAt(&now)
	} else {
		end := sub.CurrentPeriodEnd
		if end.Before(now) {
			end = now
		}
		b.billable.SetSubscriptionEndsAt(&end)
	}
	b.invalidatePreview(ctx)

	b.logger.Info("Subscription cancelled",
		"subject", b.billable.BillableID(),
		"immediately", immediately,
		"endsAt", b.billable.SubscriptionEndsAt(),
	)
	return b.billable.Save(ctx)
}

// Resume reactivates a cancelled subscription that is still on its grace period.
func (b *Builder) Resume(ctx context.Context) error {
	id := b.billable.SubscriptionID()
	if id == "" {
		return billing.ErrNoActiveSubscription
	}
	if !billing.OnGracePeriod(b.billable, b.now()) {
		return billing.ErrSubscriptionExpired
	}

	var err error
	if b.plan != "" && b.plan != b.billable.PlanID() {
		_, err = b.gateway.UpdateSubscription(ctx, id, billing.SubscriptionUpdate{
			PlanID:   b.plan,
			Quantity: b.quantity,
			Prorate:  b.prorate,
			Resume:   true,
		})
	} else {
		_, err = b.gateway.ResumeSubscription(ctx, id)
	}
	if err != nil {
		return fmt.Errorf("resume subscription: %w", err)
	}

	if b.plan != "" {
		b.billable.SetPlanID(b.plan)
	}
	b.billable.SetActive(true)
	b.billable.SetSubscriptionEndsAt(nil)
	b.invalidatePreview(ctx)

	b.logger.Info("Subscription resumed", "subject", b.billable.BillableID())
	return b.billable.Save(ctx)
}

// ApplyCoupon attaches a discount code to the live subscription.
func (b *Builder) ApplyCoupon(ctx context.Context, code string) error {
	id, err := b.liveSubscription()
	if err != nil {
		return err
	}
	if code == "" {
		return &billing.InvalidCouponError{Code: code}
	}
	if err := b.gateway.ApplyCoupon(ctx, id, code); err != nil {
		return fmt.Errorf("apply coupon: %w", err)
	}
	b.invalidatePreview(ctx)
	return nil
}

// UpdateCard replaces the customer's default payment method.
func (b *Builder) UpdateCard(ctx context.Context, paymentToken string) error {
	if paymentToken == "" {
		return billing.ErrNoPaymentSource
	}
	customerID := b.billable.GatewayCustomerID()
	if customerID == "" {
		return fmt.Errorf("update card: subject has no gateway customer: %w", billing.ErrNotFound)
	}

	card, err := b.gateway.UpdatePaymentMethod(ctx, customerID, paymentToken)
	if err != nil {
		return fmt.Errorf("update card: %w", err)
	}
	if card != nil {
		b.billable.SetLastFour(card.LastFour)
	}
	return b.billable.Save(ctx)
}

// UpdateQuantity sets the seat count of the live subscription.
func (b *Builder) UpdateQuantity(ctx context.Context, quantity int64) error {
	if quantity < 1 {
		return billing.ErrInvalidQuantity
	}
	id, err := b.liveSubscription()
	if err != nil {
		return err
	}
	if _, err := b.gateway.UpdateSubscription(ctx, id, billing.SubscriptionUpdate{
		Quantity: quantity,
		Prorate:  b.prorate,
	}); err != nil {
		return fmt.Errorf("update quantity: %w", err)
	}
	b.quantity = quantity
	b.invalidatePreview(ctx)
	return nil
}

func (b *Builder) IncrementQuantity(ctx context.Context, by int64) error {
	current, err := b.currentQuantity(ctx)
	if err != nil {
		return err
	}
	return b.UpdateQuantity(ctx, current+by)
}

// DecrementQuantity lowers the quantity, never below one.
func (b *Builder) DecrementQuantity(ctx context.Context, by int64) error {
	current, err := b.currentQuantity(ctx)
	if err != nil {
		return err
	}
	next := current - by
	if next < 1 {
		next = 1
	}
	return b.UpdateQuantity(ctx, next)
}

// PlanID returns the plan of the remote subscription. It always asks the gateway.
func (b *Builder) PlanID(ctx context.Context) (string, error) {
	id := b.billable.SubscriptionID()
	if id == "" {
		return "", billing.ErrNoActiveSubscription
	}
	sub, err := b.gateway.GetSubscription(ctx, id)
	if err != nil {
		return "", fmt.Errorf("get subscription: %w", err)
	}
	return sub.PlanID, nil
}

// Sync reconciles the cached subscription fields with the gateway. A
// subscription the gateway reports as ended deactivates the subject.
func (b *Builder) Sync(ctx context.Context) error {
	id := b.billable.SubscriptionID()
	if id == "" {
		return nil
	}

	sub, err := b.gateway.GetSubscription(ctx, id)
	switch {
	case errors.Is(err, billing.ErrNotFound):
		sub = nil
	case err != nil:
		return fmt.Errorf("sync subscription: %w", err)
	}

	if sub == nil || sub.Status == billing.SubscriptionStatusCancelled || sub.EndedAt != nil {
		billing.Deactivate(b.billable)
		b.logger.Info("Subscription ended at gateway", "subject", b.billable.BillableID(), "subscription", id)
		return b.billable.Save(ctx)
	}

	b.billable.SetActive(sub.IsActive())
	if sub.PlanID != "" {
		b.billable.SetPlanID(sub.PlanID)
	}
	if sub.CancelAtPeriodEnd {
		end := sub.CurrentPeriodEnd
		b.billable.SetSubscriptionEndsAt(&end)
	} else {
		b.billable.SetSubscriptionEndsAt(nil)
	}
	return b.billable.Save(ctx)
}

func (b *Builder) currentQuantity(ctx context.Context) (int64, error) {
	id, err := b.liveSubscription()
	if err != nil {
		return 0, err
	}
	sub, err := b.gateway.GetSubscription(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("get subscription: %w", err)
	}
	if sub.Quantity < 1 {
		return 1, nil
	}
	return sub.Quantity, nil
}

// liveSubscription returns the subscription id when the subscription is
// active or still on its grace period.
func (b *Builder) liveSubscription() (string, error) {
	id := b.billable.SubscriptionID()
	if id == "" {
		return "", billing.ErrNoActiveSubscription
	}
	if !b.billable.IsActive() && !billing.OnGracePeriod(b.billable, b.now()) {
		return "", billing.ErrNoActiveSubscription
	}
	return id, nil
}

// trialEndForCreate picks the trial end for a new subscription: an explicit
// override first, then a trial still running on the subject.
func (b *Builder) trialEndForCreate() *time.Time {
	if b.skipTrial {
		return nil
	}
	if b.trialEnd != nil {
		return b.trialEnd
	}
	if billing.OnTrial(b.billable, b.now()) {
		end := *b.billable.TrialEndsAt()
		return &end
	}
	return nil
}

func (b *Builder) customerProperties(props billing.CustomerProperties) billing.CustomerProperties {
	if props.Email == "" {
		props.Email = b.billable.BillingName()
	}
	if props.Metadata == nil {
		props.Metadata = make(map[string]string)
	}
	if _, ok := props.Metadata["billable_id"]; !ok {
		props.Metadata["billable_id"] = b.billable.BillableID()
	}
	return props
}

func (b *Builder) invalidatePreview(ctx context.Context) {
	if b.previews == nil {
		return
	}
	customerID := b.billable.GatewayCustomerID()
	if customerID == "" {
		return
	}
	if err := b.previews.Invalidate(ctx, customerID); err != nil {
		b.logger.Warn("Failed to invalidate invoice preview", "customer", customerID, "error", err)
	}
}
