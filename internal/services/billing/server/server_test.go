package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/linkflow-go/cashier/internal/billing/app/reconcile"
	"github.com/linkflow-go/cashier/internal/billing/ports/mocks"
	billing "github.com/linkflow-go/cashier/internal/domain/billing"
	"github.com/linkflow-go/cashier/internal/services/billing/handlers"
	"github.com/linkflow-go/cashier/internal/services/billing/service"
	"github.com/linkflow-go/cashier/pkg/auth/jwt"
	"github.com/linkflow-go/cashier/pkg/events"
	"github.com/linkflow-go/cashier/pkg/logger"
	"github.com/linkflow-go/cashier/pkg/middleware/auth"
	"github.com/linkflow-go/cashier/pkg/ratelimit"
	"github.com/linkflow-go/cashier/pkg/telemetry"
)

func newTestRouter(t *testing.T, limiter ratelimit.RateLimiter, sweeper handlers.Sweeper) (*gin.Engine, *jwt.Manager, *mocks.SubjectRepository, *mocks.WebhookVerifier) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := new(mocks.SubjectRepository)
	webhooks := new(mocks.WebhookVerifier)
	factory := new(mocks.GatewayFactory)
	factory.On("ForSubject", mock.Anything).Return(new(mocks.Gateway), nil).Maybe()

	tokens, err := jwt.NewManager("test-secret", "cashier", time.Hour)
	require.NoError(t, err)

	svc := service.NewBillingService(repo, factory, webhooks, events.NewMemoryEventBus(), logger.NewNop())
	h := handlers.NewBillingHandlers(svc, logger.NewNop())
	router := setupRouter(h, auth.NewJWTMiddleware(tokens), limiter, sweeper, telemetry.NewNop(), logger.NewNop())
	return router, tokens, repo, webhooks
}

type fakeSweeper struct {
	runs int
}

func (f *fakeSweeper) RunOnce(context.Context) (reconcile.Result, error) {
	f.runs++
	return reconcile.Result{SweepID: "sweep-1", Expired: 2}, nil
}

func serve(r http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRouter_HealthIsPublic(t *testing.T) {
	r, _, _, _ := newTestRouter(t, nil, nil)

	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/health/live", "").Code)
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/health/ready", "").Code)
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/metrics", "").Code)
}

func TestRouter_BillingRequiresToken(t *testing.T) {
	r, tokens, repo, _ := newTestRouter(t, nil, nil)

	w := serve(r, http.MethodGet, "/api/v1/billing/status", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	s := billing.NewSubject("u1@example.com", "")
	s.ID = "u1"
	repo.On("Get", mock.Anything, "u1").Return(s, nil)

	token, err := tokens.GenerateToken("u1", "u1@example.com", nil)
	require.NoError(t, err)

	w = serve(r, http.MethodGet, "/api/v1/billing/status", token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"expired"`)
}

func TestRouter_WebhookBypassesAuth(t *testing.T) {
	r, _, _, webhooks := newTestRouter(t, nil, nil)
	webhooks.On("VerifyWebhook", mock.Anything, mock.Anything).Return(nil, nil)

	w := serve(r, http.MethodPost, "/webhooks/stripe", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_RateLimitsPerSubject(t *testing.T) {
	r, tokens, repo, _ := newTestRouter(t, ratelimit.NewTokenBucketLimiter(0.001, 1), nil)
	s := billing.NewSubject("u1@example.com", "")
	s.ID = "u1"
	repo.On("Get", mock.Anything, "u1").Return(s, nil)

	token, err := tokens.GenerateToken("u1", "u1@example.com", nil)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/api/v1/billing/status", token).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(r, http.MethodGet, "/api/v1/billing/status", token).Code)
}

func TestRouter_AdminReconcileRequiresRole(t *testing.T) {
	sweeper := &fakeSweeper{}
	r, tokens, _, _ := newTestRouter(t, nil, sweeper)

	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodPost, "/api/v1/admin/reconcile", "").Code)

	user, err := tokens.GenerateToken("u1", "u1@example.com", []string{"customer"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, serve(r, http.MethodPost, "/api/v1/admin/reconcile", user).Code)
	assert.Zero(t, sweeper.runs)

	admin, err := tokens.GenerateToken("ops", "ops@example.com", []string{"admin"})
	require.NoError(t, err)
	w := serve(r, http.MethodPost, "/api/v1/admin/reconcile", admin)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"expired":2`)
	assert.Equal(t, 1, sweeper.runs)
}

func TestRouter_AdminRoutesAbsentWithoutReconciler(t *testing.T) {
	r, tokens, _, _ := newTestRouter(t, nil, nil)

	admin, err := tokens.GenerateToken("ops", "ops@example.com", []string{"admin"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodPost, "/api/v1/admin/reconcile", admin).Code)
}
