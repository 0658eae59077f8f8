package ports

import (
	"context"

	billing "github.com/linkflow-go/cashier/internal/domain/billing"
)

// PreviewCache keeps short-lived upcoming-invoice previews per gateway customer.
type PreviewCache interface {
	GetUpcoming(ctx context.Context, customerID string) (*billing.Invoice, bool)
	SetUpcoming(ctx context.Context, customerID string, inv *billing.Invoice) error
	Invalidate(ctx context.Context, customerID string) error
}
