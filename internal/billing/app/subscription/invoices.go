package subscription

import (
	"context"
	"errors"
	"fmt"
	"iter"

	billing "github.com/linkflow-go/cashier/internal/domain/billing"
)

const defaultInvoicePageSize = 24

// Invoice attempts to invoice and collect outstanding charges outside the
// regular billing cycle. A declined card or an empty invoice is reported
// through the result, not as an error.
func (b *Builder) Invoice(ctx context.Context) (*billing.InvoiceResult, error) {
	customerID := b.billable.GatewayCustomerID()
	if customerID == "" {
		return nil, billing.ErrNoPaymentSource
	}
	result, err := b.gateway.CreateInvoice(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("invoice: %w", err)
	}
	b.invalidatePreview(ctx)
	return result, nil
}

// Invoices returns the subject's invoices, newest first. Pages are fetched
// lazily while the caller ranges; each range starts a fresh listing.
// Unless includePending is set only paid invoices are yielded.
func (b *Builder) Invoices(ctx context.Context, includePending bool, filter billing.InvoiceFilter) iter.Seq2[*billing.Invoice, error] {
	return func(yield func(*billing.Invoice, error) bool) {
		customerID := b.billable.GatewayCustomerID()
		if customerID == "" {
			return
		}

		query := billing.InvoiceQuery{
			CustomerID:     customerID,
			SubscriptionID: filter.SubscriptionID,
			CreatedAfter:   filter.CreatedAfter,
			Limit:          filter.PageSize,
		}
		if query.Limit <= 0 {
			query.Limit = defaultInvoicePageSize
		}
		if !includePending {
			query.Status = billing.InvoiceStatusPaid
		}

		yielded := 0
		for {
			page, err := b.gateway.ListInvoices(ctx, query)
			if err != nil {
				yield(nil, fmt.Errorf("list invoices: %w", err))
				return
			}
			for _, inv := range page.Invoices {
				query.StartingAfter = inv.ID
				if !inv.BelongsTo(customerID) {
					continue
				}
				if !includePending && !inv.Paid() {
					continue
				}
				if !yield(inv, nil) {
					return
				}
				yielded++
				if filter.Max > 0 && yielded >= filter.Max {
					return
				}
			}
			if !page.HasMore || len(page.Invoices) == 0 {
				return
			}
		}
	}
}

// InvoiceList drains Invoices into a slice.
func (b *Builder) InvoiceList(ctx context.Context, includePending bool, filter billing.InvoiceFilter) ([]*billing.Invoice, error) {
	var invoices []*billing.Invoice
	for inv, err := range b.Invoices(ctx, includePending, filter) {
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, nil
}

// FindInvoice returns the invoice only if it was issued to this subject.
// Unknown invoices and invoices of other customers both yield nil.
func (b *Builder) FindInvoice(ctx context.Context, id string) (*billing.Invoice, error) {
	customerID := b.billable.GatewayCustomerID()
	if customerID == "" || id == "" {
		return nil, nil
	}

	inv, err := b.gateway.GetInvoice(ctx, id)
	if errors.Is(err, billing.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find invoice: %w", err)
	}
	if inv == nil || !inv.BelongsTo(customerID) {
		b.logger.Debug("Invoice not owned by subject", "subject", b.billable.BillableID(), "invoice", id)
		return nil, nil
	}
	return inv, nil
}

// UpcomingInvoice previews the next scheduled charge, or nil when nothing is scheduled.
func (b *Builder) UpcomingInvoice(ctx context.Context) (*billing.Invoice, error) {
	customerID := b.billable.GatewayCustomerID()
	if customerID == "" {
		return nil, nil
	}

	if b.previews != nil {
		if inv, ok := b.previews.GetUpcoming(ctx, customerID); ok {
			return inv, nil
		}
	}

	inv, err := b.gateway.UpcomingInvoice(ctx, customerID, b.billable.SubscriptionID())
	if errors.Is(err, billing.ErrNotFound) {
		inv, err = nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("upcoming invoice: %w", err)
	}

	if b.previews != nil {
		if err := b.previews.SetUpcoming(ctx, customerID, inv); err != nil {
			b.logger.Warn("Failed to cache invoice preview", "customer", customerID, "error", err)
		}
	}
	return inv, nil
}
