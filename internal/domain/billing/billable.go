package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Billable is the capability a payable entity exposes to the billing core:
// its persisted billing fields plus a way to persist them.
// Empty strings stand for absent identifiers.
type Billable interface {
	BillableID() string
	BillingName() string
	Currency() string
	RequiresCardUpFront() bool
	CredentialOverrides() Credentials

	GatewayCustomerID() string
	SetGatewayCustomerID(id string)
	SubscriptionID() string
	SetSubscriptionID(id string)
	PlanID() string
	SetPlanID(id string)
	IsActive() bool
	SetActive(active bool)
	LastFour() string
	SetLastFour(digits string)
	TrialEndsAt() *time.Time
	SetTrialEndsAt(t *time.Time)
	SubscriptionEndsAt() *time.Time
	SetSubscriptionEndsAt(t *time.Time)

	// Save asks the persistence layer to store the current field values.
	Save(ctx context.Context) error
}

// SaveFunc persists a subject. Repositories bind one when they load a subject.
type SaveFunc func(ctx context.Context, s *Subject) error

// Subject is the default Billable, stored by the gorm repository.
type Subject struct {
	ID              string     `json:"id" gorm:"primaryKey"`
	Email           string     `json:"email" gorm:"index"`
	Name            string     `json:"name"`
	CustomerRef     *string    `json:"gatewayCustomerId" gorm:"column:gateway_customer_id;uniqueIndex"`
	SubscriptionRef *string    `json:"subscriptionId" gorm:"column:subscription_id;index"`
	Plan            *string    `json:"planId" gorm:"column:plan_id"`
	Active          bool       `json:"isActive" gorm:"column:is_active;default:false"`
	CardLastFour    *string    `json:"lastFour" gorm:"column:last_four;size:4"`
	TrialEnd        *time.Time `json:"trialEndsAt" gorm:"column:trial_ends_at"`
	SubscriptionEnd *time.Time `json:"subscriptionEndsAt" gorm:"column:subscription_ends_at;index"`
	BillingCurrency string     `json:"currency" gorm:"column:currency;default:'usd'"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`

	Overrides   Credentials `json:"-" gorm:"-"`
	cardUpFront *bool
	save        SaveFunc
}

func (Subject) TableName() string {
	return "billable_subjects"
}

func NewSubject(email, name string) *Subject {
	return &Subject{
		ID:              uuid.New().String(),
		Email:           email,
		Name:            name,
		BillingCurrency: DefaultCurrency,
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}
}

// BindSaver attaches the function Save delegates to.
func (s *Subject) BindSaver(fn SaveFunc) {
	s.save = fn
}

// SetCardUpFront configures the trial eligibility policy. Subjects require a card up front unless told otherwise.
func (s *Subject) SetCardUpFront(required bool) {
	s.cardUpFront = &required
}

func (s *Subject) BillableID() string { return s.ID }

// BillingName is the name shown on invoices.
func (s *Subject) BillingName() string {
	if s.Email != "" {
		return s.Email
	}
	return s.Name
}

func (s *Subject) Currency() string {
	if s.BillingCurrency == "" {
		return DefaultCurrency
	}
	return s.BillingCurrency
}

func (s *Subject) RequiresCardUpFront() bool {
	if s.cardUpFront == nil {
		return true
	}
	return *s.cardUpFront
}

func (s *Subject) CredentialOverrides() Credentials { return s.Overrides }

func (s *Subject) GatewayCustomerID() string      { return deref(s.CustomerRef) }
func (s *Subject) SetGatewayCustomerID(id string) { s.CustomerRef = ref(id) }
func (s *Subject) SubscriptionID() string         { return deref(s.SubscriptionRef) }
func (s *Subject) SetSubscriptionID(id string)    { s.SubscriptionRef = ref(id) }
func (s *Subject) PlanID() string                 { return deref(s.Plan) }
func (s *Subject) SetPlanID(id string)            { s.Plan = ref(id) }
func (s *Subject) IsActive() bool                 { return s.Active }
func (s *Subject) SetActive(active bool)          { s.Active = active }
func (s *Subject) LastFour() string               { return deref(s.CardLastFour) }

func (s *Subject) SetLastFour(digits string) {
	if len(digits) > 4 {
		digits = digits[len(digits)-4:]
	}
	s.CardLastFour = ref(digits)
}

func (s *Subject) TrialEndsAt() *time.Time            { return s.TrialEnd }
func (s *Subject) SetTrialEndsAt(t *time.Time)        { s.TrialEnd = t }
func (s *Subject) SubscriptionEndsAt() *time.Time     { return s.SubscriptionEnd }
func (s *Subject) SetSubscriptionEndsAt(t *time.Time) { s.SubscriptionEnd = t }

// Save persists the subject through the bound saver; unbound subjects live in memory only.
func (s *Subject) Save(ctx context.Context) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if s.save == nil {
		return nil
	}
	return s.save(ctx, s)
}

// Validate checks the field invariants that hold for every stored subject.
func (s *Subject) Validate() error {
	return ValidateBillable(s)
}

// ValidateBillable checks the invariants shared by all Billable implementations.
func ValidateBillable(b Billable) error {
	if b.SubscriptionID() != "" && b.GatewayCustomerID() == "" {
		return ErrOrphanSubscription
	}
	return nil
}

// Deactivate clears the live subscription triple while keeping the customer id.
func Deactivate(b Billable) {
	b.SetActive(false)
	b.SetSubscriptionID("")
	b.SetSubscriptionEndsAt(nil)
}

func ref(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
