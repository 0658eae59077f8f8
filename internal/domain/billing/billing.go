package billing

import (
	"time"
)

// Gateway-reported subscription statuses
const (
	SubscriptionStatusActive     = "active"
	SubscriptionStatusTrialing   = "trialing"
	SubscriptionStatusPastDue    = "past_due"
	SubscriptionStatusCancelled  = "cancelled"
	SubscriptionStatusPaused     = "paused"
	SubscriptionStatusIncomplete = "incomplete"
	SubscriptionStatusUnpaid     = "unpaid"
)

// Invoice statuses
const (
	InvoiceStatusDraft         = "draft"
	InvoiceStatusOpen          = "open"
	InvoiceStatusPaid          = "paid"
	InvoiceStatusVoid          = "void"
	InvoiceStatusUncollectible = "uncollectible"
)

const (
	DefaultCurrency = "usd"
	DefaultLocale   = "en_US"
)

// CustomerProperties are sent to the gateway when a customer record is created.
type CustomerProperties struct {
	Email       string            `json:"email"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Metadata    map[string]string `json:"metadata"`
}

// ChargeRequest is a one-off charge. Amount is in minor units (cents).
type ChargeRequest struct {
	Amount         int64             `json:"amount"`
	Currency       string            `json:"currency"`
	Source         string            `json:"source"`
	Customer       string            `json:"customer"`
	Description    string            `json:"description"`
	IdempotencyKey string            `json:"idempotencyKey"`
	Metadata       map[string]string `json:"metadata"`
}

// ChargeResult is returned for both successful and declined charges.
// A decline is an expected outcome and is reported through Paid=false.
type ChargeResult struct {
	ID             string `json:"id"`
	Paid           bool   `json:"paid"`
	Amount         int64  `json:"amount"`
	AmountMajor    string `json:"amountMajor"`
	Currency       string `json:"currency"`
	DeclineCode    string `json:"declineCode,omitempty"`
	FailureMessage string `json:"failureMessage,omitempty"`
}

// Declined reports whether the gateway refused the payment method.
func (r *ChargeResult) Declined() bool {
	return !r.Paid && (r.DeclineCode != "" || r.FailureMessage != "")
}

// Card is the display-only view of a stored payment method.
type Card struct {
	Brand    string `json:"brand"`
	LastFour string `json:"last4"`
	ExpMonth int64  `json:"expMonth"`
	ExpYear  int64  `json:"expYear"`
}

// RemoteSubscription is the gateway's view of a subscription.
type RemoteSubscription struct {
	ID                string     `json:"id"`
	CustomerID        string     `json:"customerId"`
	PlanID            string     `json:"planId"`
	Status            string     `json:"status"`
	Quantity          int64      `json:"quantity"`
	CurrentPeriodEnd  time.Time  `json:"currentPeriodEnd"`
	TrialEnd          *time.Time `json:"trialEnd"`
	CancelAtPeriodEnd bool       `json:"cancelAtPeriodEnd"`
	EndedAt           *time.Time `json:"endedAt"`
	Card              *Card      `json:"card"`
}

// IsActive mirrors the gateway's notion of a live subscription.
func (s *RemoteSubscription) IsActive() bool {
	switch s.Status {
	case SubscriptionStatusActive, SubscriptionStatusTrialing, SubscriptionStatusPastDue:
		return true
	}
	return false
}

// SubscriptionRequest creates a new subscription for an existing customer.
type SubscriptionRequest struct {
	CustomerID    string
	PlanID        string
	Quantity      int64
	Coupon        string
	PaymentMethod string
	TrialEnd      *time.Time
	SkipTrial     bool
}

// SubscriptionUpdate changes an existing subscription. Zero values are left untouched.
type SubscriptionUpdate struct {
	PlanID    string
	Quantity  int64
	Prorate   bool
	TrialEnd  *time.Time
	SkipTrial bool
	Resume    bool
}

// Invoice represents a billing invoice as reported by the gateway
type Invoice struct {
	ID             string        `json:"id"`
	CustomerID     string        `json:"customerId"`
	SubscriptionID string        `json:"subscriptionId"`
	Number         string        `json:"number"`
	Status         string        `json:"status"`
	Currency       string        `json:"currency"`
	Subtotal       int64         `json:"subtotal"`
	Total          int64         `json:"total"`
	AmountPaid     int64         `json:"amountPaid"`
	AmountDue      int64         `json:"amountDue"`
	Lines          []InvoiceLine `json:"lines"`
	PeriodStart    time.Time     `json:"periodStart"`
	PeriodEnd      time.Time     `json:"periodEnd"`
	CreatedAt      time.Time     `json:"createdAt"`
	HostedURL      string        `json:"hostedUrl"`
	PDFURL         string        `json:"pdfUrl"`
}

type InvoiceLine struct {
	Description string `json:"description"`
	PlanID      string `json:"planId"`
	Quantity    int64  `json:"quantity"`
	Amount      int64  `json:"amount"`
}

func (i *Invoice) Paid() bool {
	return i.Status == InvoiceStatusPaid
}

// BelongsTo reports whether the invoice was issued to the given gateway customer.
func (i *Invoice) BelongsTo(customerID string) bool {
	return customerID != "" && i.CustomerID == customerID
}

// InvoiceResult is the outcome of an out-of-cycle invoice attempt.
type InvoiceResult struct {
	Paid    bool     `json:"paid"`
	Invoice *Invoice `json:"invoice,omitempty"`
	Reason  string   `json:"reason,omitempty"`
}

// InvoiceQuery selects one page of a customer's invoices.
type InvoiceQuery struct {
	CustomerID     string
	SubscriptionID string
	Status         string
	CreatedAfter   time.Time
	Limit          int64
	StartingAfter  string
}

// InvoicePage is a single page of gateway invoices, newest first.
type InvoicePage struct {
	Invoices []*Invoice
	HasMore  bool
}

// InvoiceFilter narrows the invoices returned for a subject.
type InvoiceFilter struct {
	SubscriptionID string
	CreatedAfter   time.Time
	PageSize       int64
	// Max caps the number of invoices yielded; zero means no cap.
	Max int
}

// Gateway notification kinds the service reacts to
const (
	GatewayEventSubscriptionUpdated  = "subscription.updated"
	GatewayEventSubscriptionDeleted  = "subscription.deleted"
	GatewayEventInvoicePaymentFailed = "invoice.payment_failed"
)

// GatewayEvent is a verified gateway notification about one customer.
type GatewayEvent struct {
	ID             string              `json:"id"`
	Type           string              `json:"type"`
	CustomerID     string              `json:"customerId"`
	SubscriptionID string              `json:"subscriptionId"`
	Subscription   *RemoteSubscription `json:"subscription,omitempty"`
	Invoice        *Invoice            `json:"invoice,omitempty"`
}
