package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	previewcache "github.com/linkflow-go/cashier/internal/billing/adapters/cache"
	"github.com/linkflow-go/cashier/internal/billing/adapters/db/repository"
	"github.com/linkflow-go/cashier/internal/billing/adapters/stripe"
	"github.com/linkflow-go/cashier/internal/billing/app/reconcile"
	"github.com/linkflow-go/cashier/internal/services/billing/handlers"
	"github.com/linkflow-go/cashier/internal/services/billing/service"
	"github.com/linkflow-go/cashier/pkg/auth/jwt"
	"github.com/linkflow-go/cashier/pkg/cache"
	"github.com/linkflow-go/cashier/pkg/config"
	"github.com/linkflow-go/cashier/pkg/database"
	"github.com/linkflow-go/cashier/pkg/events"
	"github.com/linkflow-go/cashier/pkg/logger"
	"github.com/linkflow-go/cashier/pkg/metrics"
	"github.com/linkflow-go/cashier/pkg/middleware/auth"
	"github.com/linkflow-go/cashier/pkg/ratelimit"
	"github.com/linkflow-go/cashier/pkg/resilience"
	"github.com/linkflow-go/cashier/pkg/telemetry"
)

const serviceName = "billing-service"

type Server struct {
	config     *config.Config
	logger     logger.Logger
	httpServer *http.Server
	db         *database.DB
	monitor    *database.DBMonitor
	redis      *redis.Client
	eventBus   events.EventBus
	telemetry  *telemetry.Telemetry
	reconciler *reconcile.Reconciler

	cancel context.CancelFunc
}

func New(cfg *config.Config, log logger.Logger) (*Server, error) {
	db, err := database.New(cfg.Database.ToDatabaseConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	monitor, err := database.NewDBMonitor(db, prometheus.DefaultRegisterer, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create database monitor: %w", err)
	}

	subjects := repository.NewSubjectRepository(db, cfg.Gateway.CardUpFront)
	if err := subjects.Migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})

	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	var eventBus events.EventBus = events.NewMemoryEventBus()
	if cfg.Kafka.Enabled {
		eventBus, err = events.NewKafkaEventBus(cfg.Kafka.ToKafkaConfig(), log)
		if err != nil {
			return nil, fmt.Errorf("failed to create event bus: %w", err)
		}
	}

	tel, err := telemetry.New(telemetry.Config{
		Enabled:      cfg.Telemetry.Enabled,
		JaegerURL:    cfg.Telemetry.JaegerURL,
		ServiceName:  cfg.Telemetry.ServiceName,
		SamplingRate: cfg.Telemetry.SamplingRate,
		Environment:  cfg.Gateway.Environment,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	defaults, err := cfg.Gateway.ToCredentials()
	if err != nil {
		return nil, fmt.Errorf("invalid gateway configuration: %w", err)
	}

	var breakers *resilience.CircuitBreakerRegistry
	if cfg.Gateway.CircuitBreaker.Enabled {
		breakers = resilience.NewCircuitBreakerRegistry(
			stripe.BreakerConfig(cfg.Gateway.CircuitBreaker.ToResilienceConfig("stripe")),
		)
	}

	provider := stripe.NewProvider(defaults, stripe.Options{
		BaseURL: cfg.Gateway.BaseURL,
		Timeout: cfg.Gateway.Timeout,
		Limiter: ratelimit.NewTokenBucketLimiter(cfg.Gateway.RateLimit.RequestsPerSecond, cfg.Gateway.RateLimit.Burst),
		Logger:  log,
		Tracer:  tel.Tracer(),
	}, breakers)

	opts := []service.Option{}
	if cfg.Cache.Enabled {
		cacheOpts := cache.DefaultOptions()
		cacheOpts.Namespace = cfg.Cache.Prefix
		store := cache.NewRedisCache(redisClient, cacheOpts)
		opts = append(opts, service.WithPreviewCache(previewcache.NewPreviewCache(store, cfg.Cache.PreviewTTL, log)))
	}

	billingService := service.NewBillingService(
		subjects,
		provider,
		stripe.NewWebhookVerifier(cfg.Gateway.WebhookSecret),
		eventBus,
		log,
		opts...,
	)
	billingHandlers := handlers.NewBillingHandlers(billingService, log)

	tokens, err := jwt.NewManager(cfg.Auth.JWT.SecretKey, cfg.Auth.JWT.Issuer, cfg.Auth.JWT.Expiry)
	if err != nil {
		return nil, fmt.Errorf("failed to create token manager: %w", err)
	}

	var limiter ratelimit.RateLimiter
	if cfg.Server.RequestsPerMinute > 0 {
		limiter = ratelimit.NewRedisRateLimiter(redisClient, cfg.Server.RequestsPerMinute, time.Minute)
	}

	var reconciler *reconcile.Reconciler
	if cfg.Reconciler.Enabled {
		reconciler = reconcile.New(subjects, provider, eventBus, reconcile.Config{
			Schedule:   cfg.Reconciler.Schedule,
			BatchSize:  cfg.Reconciler.BatchSize,
			SyncActive: cfg.Reconciler.SyncActive,
		}, log)
	}

	var sweeper handlers.Sweeper
	if reconciler != nil {
		sweeper = reconciler
	}
	router := setupRouter(billingHandlers, auth.NewJWTMiddleware(tokens), limiter, sweeper, tel, log)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	return &Server{
		config:     cfg,
		logger:     log,
		httpServer: httpServer,
		db:         db,
		monitor:    monitor,
		redis:      redisClient,
		eventBus:   eventBus,
		telemetry:  tel,
		reconciler: reconciler,
	}, nil
}

func setupRouter(h *handlers.BillingHandlers, jwtAuth *auth.JWTMiddleware, limiter ratelimit.RateLimiter, sweeper handlers.Sweeper, tel *telemetry.Telemetry, log logger.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(tel.HTTPMiddleware())
	router.Use(loggingMiddleware(log))

	router.GET("/health/live", h.Health)
	router.GET("/health/ready", h.Ready)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/webhooks/stripe", h.HandleStripeWebhook)

	v1 := router.Group("/api/v1/billing")
	v1.Use(jwtAuth.Handle())
	if limiter != nil {
		v1.Use(ratelimit.Middleware(limiter, ratelimit.SubjectKeyFunc))
	}
	{
		v1.GET("/status", h.GetStatus)
		v1.GET("/client-token", h.ClientToken)

		v1.POST("/subscription", h.CreateSubscription)
		v1.PUT("/subscription/plan", h.SwapPlan)
		v1.PUT("/subscription/quantity", h.UpdateQuantity)
		v1.DELETE("/subscription", h.CancelSubscription)
		v1.POST("/subscription/resume", h.ResumeSubscription)
		v1.POST("/subscription/coupon", h.ApplyCoupon)

		v1.PUT("/card", h.UpdateCard)
		v1.POST("/charges", h.Charge)

		v1.POST("/invoices", h.CreateInvoice)
		v1.GET("/invoices", h.ListInvoices)
		v1.GET("/invoices/upcoming", h.UpcomingInvoice)
		v1.GET("/invoices/:id", h.GetInvoice)
	}

	if sweeper != nil {
		admin := router.Group("/api/v1/admin", jwtAuth.Handle(), auth.RequireRoles("admin"))
		admin.POST("/reconcile", handlers.RunReconcile(sweeper, log))
	}

	return router
}

func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	go s.monitor.Start(ctx, 15*time.Second)

	if s.reconciler != nil {
		if err := s.reconciler.Start(ctx); err != nil {
			return fmt.Errorf("failed to start reconciler: %w", err)
		}
	}

	s.logger.Info("Starting HTTP server", "port", s.config.Server.Port)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	if s.reconciler != nil {
		s.reconciler.Stop()
	}
	if s.cancel != nil {
		s.cancel()
	}

	if err := s.eventBus.Close(); err != nil {
		s.logger.Error("Failed to close event bus", "error", err)
	}

	if err := s.telemetry.Close(); err != nil {
		s.logger.Error("Failed to flush traces", "error", err)
	}

	if err := s.redis.Close(); err != nil {
		s.logger.Error("Failed to close Redis", "error", err)
	}

	if err := s.db.Close(); err != nil {
		s.logger.Error("Failed to close database", "error", err)
	}

	return nil
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, Idempotency-Key")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

func loggingMiddleware(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.RecordHTTPRequest(serviceName, c.Request.Method, route, strconv.Itoa(statusCode))
		metrics.RecordHTTPDuration(serviceName, c.Request.Method, route, latency.Seconds())

		if raw != "" {
			path = path + "?" + raw
		}

		log.Info("HTTP Request",
			"method", c.Request.Method,
			"path", path,
			"status", statusCode,
			"latency", latency,
			"ip", c.ClientIP(),
		)
	}
}
