package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(url string, retries int) *Client {
	return New(Config{
		BaseURL:    url,
		KeyID:      "rzp_test",
		KeySecret:  "s3cret",
		Timeout:    time.Second,
		MaxRetries: retries,
		Backoff:    time.Millisecond,
	}, nil, nil)
}

func TestCreateIntent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/orders", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "rzp_test", user)
		assert.Equal(t, "s3cret", pass)
		assert.Equal(t, "intent-order-1", r.Header.Get("X-Idempotency-Key"))

		var body createOrderReq
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, createOrderReq{Amount: 100000, Currency: "INR", Receipt: "order-1"}, body)

		_, _ = w.Write([]byte(`{"id":"order_GW1","amount":100000,"status":"created"}`))
	}))
	defer srv.Close()

	in, err := newTestClient(srv.URL, 0).CreateIntent(context.Background(), 100000, "INR", "order-1")
	require.NoError(t, err)
	assert.Equal(t, "order_GW1", in.GatewayOrderID)
}

func TestRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		assert.Equal(t, "refund-pay-1", r.Header.Get("X-Idempotency-Key"))
		_, _ = w.Write([]byte(`{"id":"rfnd_1","amount":5000,"status":"processed"}`))
	}))
	defer srv.Close()

	res, err := newTestClient(srv.URL, 2).Refund(context.Background(), "pay_1", 5000, "refund-pay-1")
	require.NoError(t, err)
	assert.Equal(t, "rfnd_1", res.RefundID)
	assert.Equal(t, int64(5000), res.AmountMinor)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRetriesAreBounded(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 2).FetchPayment(context.Background(), "pay_1")
	require.Error(t, err)
	assert.ErrorIs(t, err, orders.ErrGateway)
	assert.True(t, orders.IsRetryable(err))
	assert.Equal(t, int32(3), calls.Load())
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":"BAD_REQUEST_ERROR","description":"The amount must be atleast INR 1.00"}}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 3).Refund(context.Background(), "pay_1", 0, "refund-x")
	require.Error(t, err)
	assert.False(t, orders.IsRetryable(err))
	assert.Contains(t, err.Error(), "BAD_REQUEST_ERROR: The amount must be atleast INR 1.00")
	assert.Equal(t, int32(1), calls.Load())

	var ge *orders.GatewayError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, http.StatusBadRequest, ge.StatusCode)
	assert.Equal(t, "refund", ge.Op)
}

func TestFetchPayment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/payments/pay_1", r.URL.Path)
		assert.Empty(t, r.Header.Get("X-Idempotency-Key"))
		_, _ = w.Write([]byte(`{"id":"pay_1","method":"upi","status":"captured"}`))
	}))
	defer srv.Close()

	d, err := newTestClient(srv.URL, 0).FetchPayment(context.Background(), "pay_1")
	require.NoError(t, err)
	assert.Equal(t, orders.MethodUPI, d.Method)
	assert.Equal(t, "captured", d.Status)
}

func TestPerAttemptTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Timeout: 50 * time.Millisecond}, nil, nil)
	start := time.Now()
	_, err := c.FetchPayment(context.Background(), "pay_1")
	require.Error(t, err)
	assert.True(t, orders.IsRetryable(err))
	assert.Less(t, time.Since(start), time.Second)
}
