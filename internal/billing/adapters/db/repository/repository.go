package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/linkflow-go/cashier/internal/billing/ports"
	billing "github.com/linkflow-go/cashier/internal/domain/billing"
	"github.com/linkflow-go/cashier/pkg/database"
	"gorm.io/gorm"
)

var _ ports.SubjectRepository = (*SubjectRepository)(nil)

// SubjectRepository stores billable subjects with gorm.
type SubjectRepository struct {
	db *database.DB
	// cardUpFront is applied to every loaded subject.
	cardUpFront bool
}

func NewSubjectRepository(db *database.DB, cardUpFront bool) *SubjectRepository {
	return &SubjectRepository{db: db, cardUpFront: cardUpFront}
}

// Migrate creates or updates the subjects table.
func (r *SubjectRepository) Migrate() error {
	return r.db.Migrate(&billing.Subject{})
}

func (r *SubjectRepository) Create(ctx context.Context, s *billing.Subject) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(s).Error; err != nil {
		return fmt.Errorf("create subject: %w", err)
	}
	r.bind(s)
	return nil
}

func (r *SubjectRepository) Get(ctx context.Context, id string) (*billing.Subject, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *SubjectRepository) GetByCustomerID(ctx context.Context, customerID string) (*billing.Subject, error) {
	if customerID == "" {
		return nil, billing.ErrNotFound
	}
	return r.first(ctx, "gateway_customer_id = ?", customerID)
}

func (r *SubjectRepository) GetBySubscriptionID(ctx context.Context, subscriptionID string) (*billing.Subject, error) {
	if subscriptionID == "" {
		return nil, billing.ErrNotFound
	}
	return r.first(ctx, "subscription_id = ?", subscriptionID)
}

// Save writes every billing field, including cleared ones.
func (r *SubjectRepository) Save(ctx context.Context, s *billing.Subject) error {
	if err := s.Validate(); err != nil {
		return err
	}
	s.UpdatedAt = time.Now().UTC()
	if err := r.db.WithContext(ctx).Save(s).Error; err != nil {
		return fmt.Errorf("save subject %s: %w", s.ID, err)
	}
	return nil
}

func (r *SubjectRepository) ListGraceElapsed(ctx context.Context, cutoff time.Time, limit int) ([]*billing.Subject, error) {
	var subjects []*billing.Subject
	err := r.db.WithContext(ctx).
		Where("subscription_ends_at IS NOT NULL AND subscription_ends_at <= ?", cutoff).
		Where("subscription_id IS NOT NULL").
		Order("subscription_ends_at ASC").
		Limit(limit).
		Find(&subjects).Error
	if err != nil {
		return nil, fmt.Errorf("list grace elapsed: %w", err)
	}
	r.bindAll(subjects)
	return subjects, nil
}

// ListActive pages through active subjects ordered by id, starting after afterID.
func (r *SubjectRepository) ListActive(ctx context.Context, afterID string, limit int) ([]*billing.Subject, error) {
	var subjects []*billing.Subject
	query := r.db.WithContext(ctx).Where("is_active = ?", true)
	if afterID != "" {
		query = query.Where("id > ?", afterID)
	}
	if err := query.Order("id ASC").Limit(limit).Find(&subjects).Error; err != nil {
		return nil, fmt.Errorf("list active: %w", err)
	}
	r.bindAll(subjects)
	return subjects, nil
}

func (r *SubjectRepository) first(ctx context.Context, query string, arg string) (*billing.Subject, error) {
	var s billing.Subject
	err := r.db.WithContext(ctx).Where(query, arg).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("subject %s: %w", arg, billing.ErrNotFound)
		}
		return nil, fmt.Errorf("get subject: %w", err)
	}
	r.bind(&s)
	return &s, nil
}

func (r *SubjectRepository) bind(s *billing.Subject) {
	s.SetCardUpFront(r.cardUpFront)
	s.BindSaver(r.Save)
}

func (r *SubjectRepository) bindAll(subjects []*billing.Subject) {
	for _, s := range subjects {
		r.bind(s)
	}
}
