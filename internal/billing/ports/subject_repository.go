package ports

import (
	"context"
	"time"

	billing "github.com/linkflow-go/cashier/internal/domain/billing"
)

type SubjectRepository interface {
	Create(ctx context.Context, s *billing.Subject) error
	Get(ctx context.Context, id string) (*billing.Subject, error)
	GetByCustomerID(ctx context.Context, customerID string) (*billing.Subject, error)
	GetBySubscriptionID(ctx context.Context, subscriptionID string) (*billing.Subject, error)
	Save(ctx context.Context, s *billing.Subject) error
	// ListGraceElapsed returns subjects whose subscription end is at or before cutoff
	// and that still carry a subscription id.
	ListGraceElapsed(ctx context.Context, cutoff time.Time, limit int) ([]*billing.Subject, error)
	ListActive(ctx context.Context, afterID string, limit int) ([]*billing.Subject, error)
}
