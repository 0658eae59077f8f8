package stripe

import (
	"time"

	"github.com/stripe/stripe-go/v76"

	billing "github.com/linkflow-go/cashier/internal/domain/billing"
)

// MapSubscriptionStatus translates the gateway's subscription status.
func MapSubscriptionStatus(status stripe.SubscriptionStatus) string {
	switch status {
	case stripe.SubscriptionStatusActive:
		return billing.SubscriptionStatusActive
	case stripe.SubscriptionStatusTrialing:
		return billing.SubscriptionStatusTrialing
	case stripe.SubscriptionStatusPastDue:
		return billing.SubscriptionStatusPastDue
	case stripe.SubscriptionStatusCanceled:
		return billing.SubscriptionStatusCancelled
	case stripe.SubscriptionStatusPaused:
		return billing.SubscriptionStatusPaused
	case stripe.SubscriptionStatusIncomplete, stripe.SubscriptionStatusIncompleteExpired:
		return billing.SubscriptionStatusIncomplete
	case stripe.SubscriptionStatusUnpaid:
		return billing.SubscriptionStatusUnpaid
	default:
		return string(status)
	}
}

// MapInvoiceStatus translates the gateway's invoice status.
func MapInvoiceStatus(status stripe.InvoiceStatus) string {
	switch status {
	case stripe.InvoiceStatusDraft:
		return billing.InvoiceStatusDraft
	case stripe.InvoiceStatusOpen:
		return billing.InvoiceStatusOpen
	case stripe.InvoiceStatusPaid:
		return billing.InvoiceStatusPaid
	case stripe.InvoiceStatusVoid:
		return billing.InvoiceStatusVoid
	case stripe.InvoiceStatusUncollectible:
		return billing.InvoiceStatusUncollectible
	default:
		return string(status)
	}
}

func toRemoteSubscription(s *stripe.Subscription) *billing.RemoteSubscription {
	if s == nil {
		return nil
	}
	rs := &billing.RemoteSubscription{
		ID:                s.ID,
		Status:            MapSubscriptionStatus(s.Status),
		CurrentPeriodEnd:  unixTime(s.CurrentPeriodEnd),
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
		TrialEnd:          unixTimePtr(s.TrialEnd),
		EndedAt:           unixTimePtr(s.EndedAt),
	}
	if s.Customer != nil {
		rs.CustomerID = s.Customer.ID
	}
	if item := firstItem(s); item != nil {
		rs.Quantity = item.Quantity
		switch {
		case item.Price != nil:
			rs.PlanID = item.Price.ID
		case item.Plan != nil:
			rs.PlanID = item.Plan.ID
		}
	}
	if s.DefaultPaymentMethod != nil {
		rs.Card = toCard(s.DefaultPaymentMethod.Card)
	}
	return rs
}

func firstItem(s *stripe.Subscription) *stripe.SubscriptionItem {
	if s.Items == nil || len(s.Items.Data) == 0 {
		return nil
	}
	return s.Items.Data[0]
}

func toCard(c *stripe.PaymentMethodCard) *billing.Card {
	if c == nil {
		return nil
	}
	return &billing.Card{
		Brand:    string(c.Brand),
		LastFour: c.Last4,
		ExpMonth: c.ExpMonth,
		ExpYear:  c.ExpYear,
	}
}

func toInvoice(in *stripe.Invoice) *billing.Invoice {
	if in == nil {
		return nil
	}
	inv := &billing.Invoice{
		ID:          in.ID,
		Number:      in.Number,
		Status:      MapInvoiceStatus(in.Status),
		Currency:    string(in.Currency),
		Subtotal:    in.Subtotal,
		Total:       in.Total,
		AmountPaid:  in.AmountPaid,
		AmountDue:   in.AmountDue,
		PeriodStart: unixTime(in.PeriodStart),
		PeriodEnd:   unixTime(in.PeriodEnd),
		CreatedAt:   unixTime(in.Created),
		HostedURL:   in.HostedInvoiceURL,
		PDFURL:      in.InvoicePDF,
	}
	if in.Customer != nil {
		inv.CustomerID = in.Customer.ID
	}
	if in.Subscription != nil {
		inv.SubscriptionID = in.Subscription.ID
	}
	if in.Lines != nil {
		for _, line := range in.Lines.Data {
			l := billing.InvoiceLine{
				Description: line.Description,
				Quantity:    line.Quantity,
				Amount:      line.Amount,
			}
			if line.Price != nil {
				l.PlanID = line.Price.ID
			}
			inv.Lines = append(inv.Lines, l)
		}
	}
	return inv
}

func unixTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func unixTimePtr(sec int64) *time.Time {
	if sec == 0 {
		return nil
	}
	t := unixTime(sec)
	return &t
}
