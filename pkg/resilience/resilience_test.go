package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errTransport = errors.New("connection reset")
	errDeclined  = errors.New("card declined")
)

func fastBreaker() *CircuitBreaker {
	cfg := DefaultCircuitBreakerConfig("stripe")
	cfg.MinRequests = 2
	cfg.Timeout = time.Minute
	cfg.IsSuccessful = func(err error) bool {
		return err == nil || errors.Is(err, errDeclined)
	}
	return NewCircuitBreaker(cfg)
}

func TestExecute_BusinessErrorsDoNotTrip(t *testing.T) {
	cb := fastBreaker()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := Execute(ctx, cb, func(context.Context) (string, error) { return "", errDeclined })
		assert.ErrorIs(t, err, errDeclined)
	}
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestExecute_TransportErrorsTrip(t *testing.T) {
	cb := fastBreaker()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := Execute(ctx, cb, func(context.Context) (int, error) { return 0, errTransport })
		assert.ErrorIs(t, err, errTransport)
	}
	require.Equal(t, gobreaker.StateOpen, cb.State())

	called := false
	_, err := Execute(ctx, cb, func(context.Context) (int, error) {
		called = true
		return 1, nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.True(t, IsRejection(err))
	assert.False(t, called)
}

func TestExecute_NilBreakerRunsDirectly(t *testing.T) {
	v, err := Execute(context.Background(), nil, func(context.Context) (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestRegistry_ReusesBreakers(t *testing.T) {
	r := NewCircuitBreakerRegistry(DefaultCircuitBreakerConfig("gateway"))
	a := r.Get("acct_1")
	assert.Same(t, a, r.Get("acct_1"))
	assert.NotSame(t, a, r.Get("acct_2"))
	assert.Len(t, r.States(), 2)
}

func TestRetry_OnlyRetryableErrors(t *testing.T) {
	cfg := RetryConfig{
		MaxAttempts:       3,
		InitialDelay:      time.Millisecond,
		MaxDelay:          time.Millisecond,
		BackoffMultiplier: 1,
		RetryableErrors:   []error{errTransport},
	}

	attempts := 0
	err := Retry(context.Background(), cfg, func() error {
		attempts++
		return errDeclined
	})
	assert.ErrorIs(t, err, errDeclined)
	assert.Equal(t, 1, attempts)

	attempts = 0
	err = Retry(context.Background(), cfg, func() error {
		attempts++
		if attempts < 3 {
			return errTransport
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestIsRetryableHTTPStatus(t *testing.T) {
	assert.True(t, IsRetryableHTTPStatus(429))
	assert.True(t, IsRetryableHTTPStatus(503))
	assert.False(t, IsRetryableHTTPStatus(402))
	assert.False(t, IsRetryableHTTPStatus(404))
}
