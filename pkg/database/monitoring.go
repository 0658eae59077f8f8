package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"gorm.io/gorm"

	"github.com/linkflow-go/cashier/pkg/logger"
)

// SlowQueryThreshold defines the threshold for slow queries
const SlowQueryThreshold = 100 * time.Millisecond

const startKey = "monitor:start"

// DBMonitor records query metrics through gorm callbacks and samples the
// connection pool.
type DBMonitor struct {
	db      *gorm.DB
	logger  logger.Logger
	metrics *DBMetrics
}

// DBMetrics contains Prometheus metrics for database monitoring
type DBMetrics struct {
	ConnectionsActive prometheus.Gauge
	ConnectionsIdle   prometheus.Gauge
	QueryDuration     *prometheus.HistogramVec
	SlowQueries       prometheus.Counter
	ErrorsTotal       *prometheus.CounterVec
}

// NewDBMonitor registers its metrics with reg and its callbacks with db.
func NewDBMonitor(db *DB, reg prometheus.Registerer, log logger.Logger) (*DBMonitor, error) {
	factory := promauto.With(reg)
	metrics := &DBMetrics{
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "database_connections_active",
			Help: "Number of active database connections",
		}),
		ConnectionsIdle: factory.NewGauge(prometheus.GaugeOpts{
			Name: "database_connections_idle",
			Help: "Number of idle database connections",
		}),
		QueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "database_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 10),
		}, []string{"operation"}),
		SlowQueries: factory.NewCounter(prometheus.CounterOpts{
			Name: "database_slow_queries_total",
			Help: "Total number of slow queries",
		}),
		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "database_errors_total",
			Help: "Total number of database errors",
		}, []string{"operation"}),
	}

	m := &DBMonitor{db: db.DB, logger: log, metrics: metrics}
	if err := m.registerCallbacks(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *DBMonitor) registerCallbacks() error {
	cb := m.db.Callback()
	errs := []error{
		cb.Query().Before("gorm:query").Register("monitor:before_query", m.before),
		cb.Query().After("gorm:query").Register("monitor:after_query", m.after("query")),
		cb.Create().Before("gorm:create").Register("monitor:before_create", m.before),
		cb.Create().After("gorm:create").Register("monitor:after_create", m.after("create")),
		cb.Update().Before("gorm:update").Register("monitor:before_update", m.before),
		cb.Update().After("gorm:update").Register("monitor:after_update", m.after("update")),
		cb.Delete().Before("gorm:delete").Register("monitor:before_delete", m.before),
		cb.Delete().After("gorm:delete").Register("monitor:after_delete", m.after("delete")),
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("register database monitor: %w", err)
	}
	return nil
}

func (m *DBMonitor) before(db *gorm.DB) {
	db.InstanceSet(startKey, time.Now())
}

func (m *DBMonitor) after(operation string) func(*gorm.DB) {
	return func(db *gorm.DB) {
		m.record(operation, db)
	}
}

func (m *DBMonitor) record(operation string, db *gorm.DB) {
	if db.Error != nil && !errors.Is(db.Error, gorm.ErrRecordNotFound) {
		m.metrics.ErrorsTotal.WithLabelValues(operation).Inc()
		m.logger.Error("Database error", "operation", operation, "error", db.Error)
	}

	start, ok := db.InstanceGet(startKey)
	if !ok {
		return
	}
	duration := time.Since(start.(time.Time))
	m.metrics.QueryDuration.WithLabelValues(operation).Observe(duration.Seconds())

	if duration > SlowQueryThreshold {
		m.metrics.SlowQueries.Inc()
		m.logger.Warn("Slow query detected",
			"operation", operation,
			"sql", db.Statement.SQL.String(),
			"duration", duration,
		)
	}
}

// Start samples pool statistics until ctx is done.
func (m *DBMonitor) Start(ctx context.Context, every time.Duration) {
	sqlDB, err := m.db.DB()
	if err != nil {
		m.logger.Error("Database monitor disabled", "error", err)
		return
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := sqlDB.Stats()
			m.metrics.ConnectionsActive.Set(float64(stats.InUse))
			m.metrics.ConnectionsIdle.Set(float64(stats.Idle))
		}
	}
}
