// Package reconcile periodically brings stored subjects in line with the gateway.
package reconcile

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/linkflow-go/cashier/internal/billing/app/account"
	"github.com/linkflow-go/cashier/internal/billing/ports"
	billing "github.com/linkflow-go/cashier/internal/domain/billing"
	"github.com/linkflow-go/cashier/pkg/events"
	"github.com/linkflow-go/cashier/pkg/logger"
	"github.com/linkflow-go/cashier/pkg/metrics"
	"github.com/linkflow-go/cashier/pkg/resilience"
)

type Config struct {
	Schedule   string
	BatchSize  int
	SyncActive bool
}

// Result summarizes one sweep.
type Result struct {
	SweepID string `json:"sweepId,omitempty"`
	Expired int    `json:"expired"`
	Synced  int    `json:"synced"`
	Failed  int    `json:"failed"`
}

type Reconciler struct {
	repo     ports.SubjectRepository
	gateways ports.GatewayFactory
	eventBus events.EventBus
	cfg      Config
	retry    resilience.RetryConfig
	logger   logger.Logger
	now      func() time.Time

	cron    *cron.Cron
	running atomic.Bool
}

type Option func(*Reconciler)

func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

func WithRetry(cfg resilience.RetryConfig) Option {
	return func(r *Reconciler) { r.retry = cfg }
}

func New(repo ports.SubjectRepository, gateways ports.GatewayFactory, eventBus events.EventBus, cfg Config, log logger.Logger, opts ...Option) *Reconciler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	retry := resilience.DefaultRetryConfig()
	retry.RetryableErrors = []error{billing.ErrGatewayUnavailable}

	r := &Reconciler{
		repo:     repo,
		gateways: gateways,
		eventBus: eventBus,
		cfg:      cfg,
		retry:    retry,
		logger:   log,
		now:      time.Now,
		cron:     cron.New(cron.WithLocation(time.UTC)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Reconciler) Start(ctx context.Context) error {
	r.logger.Info("Starting reconciler", "schedule", r.cfg.Schedule, "sync_active", r.cfg.SyncActive)

	_, err := r.cron.AddFunc(r.cfg.Schedule, func() {
		if _, err := r.RunOnce(ctx); err != nil {
			r.logger.Error("Reconciler sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid reconciler schedule: %w", err)
	}

	r.cron.Start()
	return nil
}

func (r *Reconciler) Stop() {
	r.logger.Info("Stopping reconciler")
	<-r.cron.Stop().Done()
}

// RunOnce performs a single sweep. Overlapping sweeps are skipped.
func (r *Reconciler) RunOnce(ctx context.Context) (Result, error) {
	var res Result
	if !r.running.CompareAndSwap(false, true) {
		r.logger.Debug("Reconciler sweep already running")
		metrics.RecordReconcilerRun("skipped")
		return res, nil
	}
	defer r.running.Store(false)

	res.SweepID = uuid.NewString()
	ctx = context.WithValue(ctx, sweepKey{}, res.SweepID)

	err := r.expireGrace(ctx, &res)
	if err == nil && r.cfg.SyncActive {
		err = r.syncActive(ctx, &res)
	}

	metrics.RecordReconciledSubjects("expired", res.Expired)
	metrics.RecordReconciledSubjects("synced", res.Synced)
	metrics.RecordReconciledSubjects("failed", res.Failed)
	if err != nil {
		metrics.RecordReconcilerRun("error")
		return res, err
	}
	metrics.RecordReconcilerRun("success")

	r.logger.Info("Reconciler sweep finished", "sweep", res.SweepID, "expired", res.Expired, "synced", res.Synced, "failed", res.Failed)
	return res, nil
}

// expireGrace deactivates subjects whose cancelled subscription has run out.
func (r *Reconciler) expireGrace(ctx context.Context, res *Result) error {
	cutoff := r.now()
	for {
		subjects, err := r.repo.ListGraceElapsed(ctx, cutoff, r.cfg.BatchSize)
		if err != nil {
			return err
		}

		failed := 0
		for _, s := range subjects {
			expired, err := r.expire(ctx, s)
			if err != nil {
				failed++
				r.logger.Warn("Failed to expire subject", "subject_id", s.ID, "error", err)
				continue
			}
			if expired {
				res.Expired++
			}
		}
		res.Failed += failed

		// Failed subjects would come back in the next page; leave them for the next sweep.
		if len(subjects) < r.cfg.BatchSize || failed > 0 {
			return nil
		}
	}
}

// expire reports whether the subject was deactivated. A subject the gateway
// renewed or moved back into grace is kept.
func (r *Reconciler) expire(ctx context.Context, s *billing.Subject) (bool, error) {
	subscriptionID := s.SubscriptionID()

	gw, err := r.gateways.ForSubject(s)
	if err == nil {
		acct := account.New(s, gw, account.WithClock(r.now), account.WithLogger(r.logger))
		if err := resilience.Retry(ctx, r.retry, func() error { return acct.Sync(ctx) }); err != nil {
			return false, err
		}
	} else {
		r.logger.Warn("No gateway for subject, expiring locally", "subject_id", s.ID, "error", err)
	}

	if end := s.SubscriptionEndsAt(); s.SubscriptionID() != "" && end != nil && !r.now().Before(*end) {
		billing.Deactivate(s)
		if err := s.Save(ctx); err != nil {
			return false, err
		}
	}
	if s.SubscriptionID() != "" {
		r.logger.Debug("Subject kept after sync", "subject_id", s.ID, "subscription", subscriptionID)
		return false, nil
	}

	r.publish(ctx, newEvent(ctx, events.SubscriptionExpired, s.ID).
		WithPayload("subscriptionId", subscriptionID).
		Build())
	return true, nil
}

// syncActive refreshes every active subject from the gateway, page by page.
func (r *Reconciler) syncActive(ctx context.Context, res *Result) error {
	afterID := ""
	for {
		subjects, err := r.repo.ListActive(ctx, afterID, r.cfg.BatchSize)
		if err != nil {
			return err
		}
		if len(subjects) == 0 {
			return nil
		}

		for _, s := range subjects {
			if err := r.sync(ctx, s); err != nil {
				res.Failed++
				r.logger.Warn("Failed to sync subject", "subject_id", s.ID, "error", err)
				continue
			}
			res.Synced++
		}

		afterID = subjects[len(subjects)-1].ID
		if len(subjects) < r.cfg.BatchSize {
			return nil
		}
	}
}

func (r *Reconciler) sync(ctx context.Context, s *billing.Subject) error {
	gw, err := r.gateways.ForSubject(s)
	if err != nil {
		return err
	}
	wasActive := s.IsActive()

	acct := account.New(s, gw, account.WithClock(r.now), account.WithLogger(r.logger))
	if err := resilience.Retry(ctx, r.retry, func() error { return acct.Sync(ctx) }); err != nil {
		return err
	}

	if wasActive != s.IsActive() {
		r.publish(ctx, newEvent(ctx, events.SubscriptionSynced, s.ID).
			WithPayload("active", s.IsActive()).
			WithPayload("planId", s.PlanID()).
			Build())
	}
	return nil
}

type sweepKey struct{}

// newEvent tags the event with the sweep that produced it.
func newEvent(ctx context.Context, eventType, subjectID string) *events.EventBuilder {
	b := events.NewEventBuilder(eventType).
		WithAggregateID(subjectID).
		WithAggregateType("subject")
	if id, ok := ctx.Value(sweepKey{}).(string); ok {
		b.WithCorrelationID(id)
	}
	return b
}

func (r *Reconciler) publish(ctx context.Context, event events.Event) {
	if r.eventBus == nil {
		return
	}
	if err := r.eventBus.Publish(ctx, event); err != nil {
		r.logger.Warn("Failed to publish event", "type", event.Type, "error", err)
	}
}
