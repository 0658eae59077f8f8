package account

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/linkflow-go/cashier/internal/billing/ports/mocks"
	billing "github.com/linkflow-go/cashier/internal/domain/billing"
)

var now = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func setupAccount(t *testing.T, mutate func(s *billing.Subject)) (*Account, *billing.Subject, *mocks.Gateway) {
	t.Helper()
	s := billing.NewSubject("jane@example.com", "Jane")
	if mutate != nil {
		mutate(s)
	}
	gw := new(mocks.Gateway)
	return New(s, gw, WithClock(func() time.Time { return now })), s, gw
}

func TestCharge_WithoutPaymentSource(t *testing.T) {
	a, _, gw := setupAccount(t, nil)

	result, err := a.Charge(context.Background(), 2500, ChargeOptions{})
	assert.ErrorIs(t, err, billing.ErrNoPaymentSource)
	assert.Nil(t, result)
	gw.AssertNotCalled(t, "Charge", mock.Anything, mock.Anything)
}

func TestCharge_UsesCustomerAndDefaults(t *testing.T) {
	ctx := context.Background()
	a, _, gw := setupAccount(t, func(s *billing.Subject) {
		s.SetGatewayCustomerID("cus_1")
	})

	gw.On("Charge", ctx, mock.MatchedBy(func(req billing.ChargeRequest) bool {
		return req.Amount == 2500 &&
			req.Customer == "cus_1" &&
			req.Currency == billing.DefaultCurrency &&
			req.IdempotencyKey != ""
	})).Return(&billing.ChargeResult{ID: "pi_1", Paid: true, Amount: 2500, AmountMajor: "25.00"}, nil)

	result, err := a.Charge(ctx, 2500, ChargeOptions{Description: "Setup fee"})
	require.NoError(t, err)
	assert.True(t, result.Paid)
	assert.Equal(t, "25.00", result.AmountMajor)
}

func TestCharge_DeclineIsNotAnError(t *testing.T) {
	ctx := context.Background()
	a, _, gw := setupAccount(t, nil)

	gw.On("Charge", ctx, mock.MatchedBy(func(req billing.ChargeRequest) bool {
		return req.Source == "pm_card_chargeDeclined" && req.Customer == ""
	})).Return(&billing.ChargeResult{Paid: false, DeclineCode: "generic_decline"}, nil)

	result, err := a.Charge(ctx, 2500, ChargeOptions{Source: "pm_card_chargeDeclined"})
	require.NoError(t, err)
	assert.True(t, result.Declined())
}

func TestStatusDelegation(t *testing.T) {
	trialEnd := now.Add(7 * 24 * time.Hour)
	a, s, _ := setupAccount(t, func(s *billing.Subject) {
		s.SetCardUpFront(false)
		s.SetTrialEndsAt(&trialEnd)
	})

	assert.True(t, a.OnTrial())
	assert.True(t, a.Subscribed())
	assert.False(t, a.Expired())
	assert.False(t, a.Cancelled())
	assert.False(t, a.EverSubscribed())
	assert.Equal(t, billing.StatusTrial, a.Status())

	s.SetGatewayCustomerID("cust_1")
	s.SetTrialEndsAt(nil)
	assert.True(t, a.Cancelled())
	assert.Equal(t, billing.StatusCancelled, a.Status())
}

func TestOnPlan(t *testing.T) {
	ctx := context.Background()

	t.Run("inactive skips the gateway", func(t *testing.T) {
		a, _, gw := setupAccount(t, nil)
		ok, err := a.OnPlan(ctx, "pro")
		require.NoError(t, err)
		assert.False(t, ok)
		gw.AssertNotCalled(t, "GetSubscription", mock.Anything, mock.Anything)
	})

	t.Run("compares the remote plan", func(t *testing.T) {
		a, _, gw := setupAccount(t, func(s *billing.Subject) {
			s.SetGatewayCustomerID("cus_1")
			s.SetSubscriptionID("sub_1")
			s.SetPlanID("pro")
			s.SetActive(true)
		})
		gw.On("GetSubscription", ctx, "sub_1").Return(&billing.RemoteSubscription{ID: "sub_1", PlanID: "basic"}, nil)

		ok, err := a.OnPlan(ctx, "pro")
		require.NoError(t, err)
		assert.False(t, ok, "remote plan wins over the cached one")

		ok, err = a.OnPlan(ctx, "basic")
		require.NoError(t, err)
		assert.True(t, ok)
		gw.AssertNumberOfCalls(t, "GetSubscription", 2)
	})
}

func TestSwapPlan_WithoutSubscription(t *testing.T) {
	a, _, _ := setupAccount(t, nil)
	assert.ErrorIs(t, a.SwapPlan(context.Background(), "pro"), billing.ErrNoActiveSubscription)
}

func TestFindInvoiceOrFail(t *testing.T) {
	ctx := context.Background()
	a, _, gw := setupAccount(t, func(s *billing.Subject) {
		s.SetGatewayCustomerID("cus_1")
	})
	gw.On("GetInvoice", ctx, "in_other").Return(&billing.Invoice{ID: "in_other", CustomerID: "cus_2"}, nil)
	gw.On("GetInvoice", ctx, "in_1").Return(&billing.Invoice{ID: "in_1", CustomerID: "cus_1"}, nil)

	_, err := a.FindInvoiceOrFail(ctx, "in_other")
	assert.ErrorIs(t, err, billing.ErrNotFound)

	inv, err := a.FindInvoiceOrFail(ctx, "in_1")
	require.NoError(t, err)
	assert.Equal(t, "in_1", inv.ID)
}

func TestDeactivateAndClearTrial(t *testing.T) {
	ctx := context.Background()
	trialEnd := now.Add(time.Hour)
	ends := now.Add(time.Hour)
	a, s, gw := setupAccount(t, func(s *billing.Subject) {
		s.SetGatewayCustomerID("cus_1")
		s.SetSubscriptionID("sub_1")
		s.SetActive(true)
		s.SetTrialEndsAt(&trialEnd)
		s.SetSubscriptionEndsAt(&ends)
	})

	require.NoError(t, a.Deactivate(ctx))
	assert.False(t, s.IsActive())
	assert.Empty(t, s.SubscriptionID())
	assert.Nil(t, s.SubscriptionEndsAt())
	assert.Equal(t, "cus_1", s.GatewayCustomerID())
	assert.NotNil(t, s.TrialEndsAt())

	require.NoError(t, a.ClearTrial(ctx))
	assert.Nil(t, s.TrialEndsAt())
	assert.False(t, a.OnTrial())
	gw.AssertExpectations(t)
}

func TestCreateCustomerToken(t *testing.T) {
	ctx := context.Background()
	a, _, gw := setupAccount(t, func(s *billing.Subject) {
		s.SetGatewayCustomerID("cus_1")
	})
	gw.On("GenerateClientToken", ctx, "cus_1").Return("seti_secret", nil)

	token, err := a.CreateCustomerToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "seti_secret", token)
}
