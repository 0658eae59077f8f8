package stripe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	billing "github.com/linkflow-go/cashier/internal/domain/billing"
	"github.com/linkflow-go/cashier/pkg/resilience"
)

var testCreds = billing.Credentials{
	Environment: billing.EnvironmentSandbox,
	PrivateKey:  "sk_test_123",
}

func newTestClient(t *testing.T, mux *http.ServeMux, opts Options) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	opts.BaseURL = srv.URL
	if opts.Timeout == 0 {
		opts.Timeout = 2 * time.Second
	}
	c, err := NewClient(testCreds, opts)
	require.NoError(t, err)
	return c
}

func respond(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

const subscriptionJSON = `{
  "id": "sub_1",
  "object": "subscription",
  "customer": "cus_1",
  "status": "canceled",
  "current_period_end": 1773489600,
  "trial_end": 1773000000,
  "cancel_at_period_end": true,
  "items": {"object": "list", "data": [{"id": "si_1", "quantity": 3, "price": {"id": "gold"}}]},
  "default_payment_method": {"id": "pm_1", "card": {"brand": "visa", "last4": "4242", "exp_month": 12, "exp_year": 2030}}
}`

func TestNewClient_ValidatesCredentials(t *testing.T) {
	_, err := NewClient(billing.Credentials{Environment: billing.EnvironmentProduction, PrivateKey: "sk_test_x"}, Options{})
	assert.ErrorIs(t, err, billing.ErrInvalidCredentials)
}

func TestClient_CreateCustomer(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/customers", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "Bearer sk_test_123", r.Header.Get("Authorization"))
		assert.Equal(t, "acct_9", r.Header.Get("Stripe-Account"))
		assert.Equal(t, "a@example.com", r.PostForm.Get("email"))
		assert.Equal(t, "pm_card_visa", r.PostForm.Get("invoice_settings[default_payment_method]"))
		assert.Equal(t, "sub_local", r.PostForm.Get("metadata[subject_id]"))
		respond(http.StatusOK, `{"id":"cus_new","object":"customer"}`)(w, r)
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()
	creds := testCreds
	creds.MerchantID = "acct_9"
	c, err := NewClient(creds, Options{BaseURL: srv.URL, Timeout: time.Second})
	require.NoError(t, err)

	id, err := c.CreateCustomer(context.Background(), "pm_card_visa", billing.CustomerProperties{
		Email:    "a@example.com",
		Metadata: map[string]string{"subject_id": "sub_local"},
	})
	require.NoError(t, err)
	assert.Equal(t, "cus_new", id)
}

func TestClient_Charge(t *testing.T) {
	t.Run("requires a source or customer", func(t *testing.T) {
		c := newTestClient(t, http.NewServeMux(), Options{})
		_, err := c.Charge(context.Background(), billing.ChargeRequest{Amount: 100})
		assert.ErrorIs(t, err, billing.ErrNoPaymentSource)
	})

	t.Run("success", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("POST /v1/payment_intents", func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "2500", r.PostForm.Get("amount"))
			assert.Equal(t, "usd", r.PostForm.Get("currency"))
			assert.Equal(t, "true", r.PostForm.Get("confirm"))
			assert.Equal(t, "key-1", r.Header.Get("Idempotency-Key"))
			respond(http.StatusOK, `{"id":"pi_1","object":"payment_intent","status":"succeeded","amount":2500,"currency":"usd"}`)(w, r)
		})
		c := newTestClient(t, mux, Options{})

		res, err := c.Charge(context.Background(), billing.ChargeRequest{
			Amount: 2500, Source: "pm_card_visa", IdempotencyKey: "key-1",
		})
		require.NoError(t, err)
		assert.True(t, res.Paid)
		assert.Equal(t, "25.00", res.AmountMajor)
		assert.Equal(t, "pi_1", res.ID)
	})

	t.Run("decline is a result", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("POST /v1/payment_intents", respond(http.StatusPaymentRequired, `{"error":{
			"type":"card_error","code":"card_declined","decline_code":"insufficient_funds",
			"message":"Your card has insufficient funds.",
			"payment_intent":{"id":"pi_2","object":"payment_intent","status":"requires_payment_method"}}}`))
		c := newTestClient(t, mux, Options{})

		res, err := c.Charge(context.Background(), billing.ChargeRequest{Amount: 900, Source: "pm_card_chargeDeclined"})
		require.NoError(t, err)
		assert.False(t, res.Paid)
		assert.True(t, res.Declined())
		assert.Equal(t, "insufficient_funds", res.DeclineCode)
		assert.Equal(t, "pi_2", res.ID)
	})

	t.Run("customer without default card", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("GET /v1/customers/cus_1", respond(http.StatusOK, `{"id":"cus_1","object":"customer","invoice_settings":{}}`))
		c := newTestClient(t, mux, Options{})

		_, err := c.Charge(context.Background(), billing.ChargeRequest{Amount: 900, Customer: "cus_1"})
		assert.ErrorIs(t, err, billing.ErrNoPaymentSource)
	})
}

func TestClient_GetSubscription_MapsFields(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/subscriptions/sub_1", respond(http.StatusOK, subscriptionJSON))
	c := newTestClient(t, mux, Options{})

	sub, err := c.GetSubscription(context.Background(), "sub_1")
	require.NoError(t, err)
	assert.Equal(t, billing.SubscriptionStatusCancelled, sub.Status)
	assert.Equal(t, "cus_1", sub.CustomerID)
	assert.Equal(t, "gold", sub.PlanID)
	assert.Equal(t, int64(3), sub.Quantity)
	assert.True(t, sub.CancelAtPeriodEnd)
	assert.Equal(t, time.Unix(1773489600, 0).UTC(), sub.CurrentPeriodEnd)
	require.NotNil(t, sub.TrialEnd)
	require.NotNil(t, sub.Card)
	assert.Equal(t, "4242", sub.Card.LastFour)
	assert.False(t, sub.IsActive())
}

func TestClient_UpdateSubscription_SwapsFirstItem(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/subscriptions/sub_1", respond(http.StatusOK, subscriptionJSON))
	mux.HandleFunc("POST /v1/subscriptions/sub_1", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "si_1", r.PostForm.Get("items[0][id]"))
		assert.Equal(t, "platinum", r.PostForm.Get("items[0][price]"))
		assert.Equal(t, "none", r.PostForm.Get("proration_behavior"))
		assert.Equal(t, "now", r.PostForm.Get("trial_end"))
		respond(http.StatusOK, subscriptionJSON)(w, r)
	})
	c := newTestClient(t, mux, Options{})

	_, err := c.UpdateSubscription(context.Background(), "sub_1", billing.SubscriptionUpdate{
		PlanID: "platinum", SkipTrial: true,
	})
	require.NoError(t, err)
}

func TestClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{
			name:   "missing resource",
			status: http.StatusNotFound,
			body:   `{"error":{"type":"invalid_request_error","code":"resource_missing","message":"No such subscription"}}`,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, billing.ErrNotFound)
			},
		},
		{
			name:   "server error",
			status: http.StatusInternalServerError,
			body:   `{"error":{"type":"api_error","message":"boom"}}`,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, billing.ErrGatewayUnavailable)
				assert.False(t, billing.IsTimeout(err))
			},
		},
		{
			name:   "rate limited",
			status: http.StatusTooManyRequests,
			body:   `{"error":{"type":"invalid_request_error","code":"rate_limit","message":"slow down"}}`,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, billing.ErrGatewayUnavailable)
			},
		},
		{
			name:   "other rejection",
			status: http.StatusBadRequest,
			body:   `{"error":{"type":"invalid_request_error","code":"parameter_invalid_integer","message":"bad quantity"}}`,
			check: func(t *testing.T, err error) {
				var gwErr *billing.GatewayError
				require.ErrorAs(t, err, &gwErr)
				assert.Equal(t, "parameter_invalid_integer", gwErr.Code)
				assert.NotErrorIs(t, err, billing.ErrGatewayUnavailable)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("GET /v1/subscriptions/sub_x", respond(tt.status, tt.body))
			c := newTestClient(t, mux, Options{})

			_, err := c.GetSubscription(context.Background(), "sub_x")
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestClient_ApplyCoupon_InvalidCoupon(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/subscriptions/sub_1", respond(http.StatusBadRequest,
		`{"error":{"type":"invalid_request_error","code":"resource_missing","param":"coupon","message":"No such coupon: 'NOPE'"}}`))
	c := newTestClient(t, mux, Options{})

	err := c.ApplyCoupon(context.Background(), "sub_1", "NOPE")
	assert.ErrorIs(t, err, billing.ErrInvalidCoupon)

	var coupon *billing.InvalidCouponError
	require.ErrorAs(t, err, &coupon)
	assert.Equal(t, "NOPE", coupon.Code)
}

func TestClient_Timeout(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/subscriptions/sub_slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	})
	c := newTestClient(t, mux, Options{Timeout: 50 * time.Millisecond})

	_, err := c.GetSubscription(context.Background(), "sub_slow")
	assert.ErrorIs(t, err, billing.ErrGatewayUnavailable)
	assert.True(t, billing.IsTimeout(err))
}

func TestClient_ListInvoices_OnePage(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/invoices", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "cus_1", q.Get("customer"))
		assert.Equal(t, "in_2", q.Get("starting_after"))
		assert.Equal(t, "paid", q.Get("status"))
		assert.Equal(t, "2", q.Get("limit"))
		respond(http.StatusOK, `{"object":"list","has_more":true,"url":"/v1/invoices","data":[
			{"id":"in_3","object":"invoice","customer":"cus_1","status":"paid","total":1000,"currency":"usd"},
			{"id":"in_4","object":"invoice","customer":"cus_1","status":"paid","total":2000,"currency":"usd"}]}`)(w, r)
	})
	c := newTestClient(t, mux, Options{})

	page, err := c.ListInvoices(context.Background(), billing.InvoiceQuery{
		CustomerID: "cus_1", Status: billing.InvoiceStatusPaid, Limit: 2, StartingAfter: "in_2",
	})
	require.NoError(t, err)
	assert.True(t, page.HasMore)
	require.Len(t, page.Invoices, 2)
	assert.Equal(t, "in_3", page.Invoices[0].ID)
	assert.True(t, page.Invoices[1].BelongsTo("cus_1"))
}

func TestClient_UpcomingInvoice_NothingScheduled(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/invoices/upcoming", respond(http.StatusNotFound,
		`{"error":{"type":"invalid_request_error","code":"invoice_upcoming_none","message":"No upcoming invoices"}}`))
	c := newTestClient(t, mux, Options{})

	inv, err := c.UpcomingInvoice(context.Background(), "cus_1", "")
	require.NoError(t, err)
	assert.Nil(t, inv)
}

func TestClient_CreateInvoice_DeclineIsResult(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/invoices", respond(http.StatusOK,
		`{"id":"in_9","object":"invoice","customer":"cus_1","status":"open","total":500,"currency":"usd"}`))
	mux.HandleFunc("POST /v1/invoices/in_9/pay", respond(http.StatusPaymentRequired,
		`{"error":{"type":"card_error","code":"card_declined","message":"Your card was declined."}}`))
	c := newTestClient(t, mux, Options{})

	res, err := c.CreateInvoice(context.Background(), "cus_1")
	require.NoError(t, err)
	assert.False(t, res.Paid)
	assert.Equal(t, "Your card was declined.", res.Reason)
	require.NotNil(t, res.Invoice)
	assert.Equal(t, "in_9", res.Invoice.ID)
}

func TestClient_BreakerTripsOnOutagesOnly(t *testing.T) {
	var hits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/subscriptions/missing", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		respond(http.StatusNotFound, `{"error":{"type":"invalid_request_error","code":"resource_missing","message":"gone"}}`)(w, r)
	})
	mux.HandleFunc("GET /v1/subscriptions/down", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		respond(http.StatusServiceUnavailable, `{"error":{"type":"api_error","message":"down"}}`)(w, r)
	})

	cfg := resilience.DefaultCircuitBreakerConfig("stripe-test")
	cfg.MinRequests = 2
	cfg.FailureRatio = 0.4
	cfg.Timeout = time.Minute
	breaker := resilience.NewCircuitBreaker(BreakerConfig(cfg))
	c := newTestClient(t, mux, Options{Breaker: breaker})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := c.GetSubscription(ctx, "missing")
		assert.ErrorIs(t, err, billing.ErrNotFound)
	}
	assert.Equal(t, gobreaker.StateClosed, breaker.State())

	for i := 0; i < 2; i++ {
		_, err := c.GetSubscription(ctx, "down")
		assert.ErrorIs(t, err, billing.ErrGatewayUnavailable)
	}
	assert.Equal(t, gobreaker.StateOpen, breaker.State())

	before := hits.Load()
	_, err := c.GetSubscription(ctx, "down")
	assert.ErrorIs(t, err, billing.ErrGatewayUnavailable)
	assert.True(t, errors.Is(err, resilience.ErrCircuitOpen))
	assert.Equal(t, before, hits.Load())
}

func TestProvider_CachesPerCredentials(t *testing.T) {
	p := NewProvider(testCreds, Options{Timeout: time.Second},
		resilience.NewCircuitBreakerRegistry(BreakerConfig(resilience.DefaultCircuitBreakerConfig("stripe"))))

	plain := billing.NewSubject("a@example.com", "")
	first, err := p.ForSubject(plain)
	require.NoError(t, err)
	second, err := p.ForSubject(billing.NewSubject("b@example.com", ""))
	require.NoError(t, err)
	assert.Same(t, first, second)

	override := billing.NewSubject("c@example.com", "")
	override.Overrides = billing.Credentials{PrivateKey: "sk_test_other"}
	third, err := p.ForSubject(override)
	require.NoError(t, err)
	assert.NotSame(t, first, third)

	broken := billing.NewSubject("d@example.com", "")
	broken.Overrides = billing.Credentials{Environment: billing.EnvironmentProduction}
	_, err = p.ForSubject(broken)
	assert.ErrorIs(t, err, billing.ErrInvalidCredentials)
}
