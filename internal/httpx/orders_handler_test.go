package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ariefcatur/go-marketplace-orders/internal/memory"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "whsec"

type stubGateway struct {
	intentErr error
}

func (g *stubGateway) CreateIntent(_ context.Context, _ int64, _, receipt string) (orders.Intent, error) {
	if g.intentErr != nil {
		return orders.Intent{}, g.intentErr
	}
	return orders.Intent{GatewayOrderID: "gw_" + receipt}, nil
}

func (g *stubGateway) FetchPayment(_ context.Context, id string) (orders.PaymentDetails, error) {
	return orders.PaymentDetails{ID: id, Method: orders.MethodWallet}, nil
}

func (g *stubGateway) Refund(_ context.Context, _ string, amountMinor int64, _ string) (orders.RefundResult, error) {
	return orders.RefundResult{RefundID: "rfnd_1", AmountMinor: amountMinor, Status: "processed"}, nil
}

type api struct {
	router *chi.Mux
	gw     *stubGateway
	h      *OrdersHandler
}

func newAPI(t *testing.T) *api {
	t.Helper()
	catalog := memory.NewCatalog()
	catalog.Put(orders.Product{ID: "p1", Name: "Kettle", Stock: 10, Price: decimal.NewFromInt(500)})
	gw := &stubGateway{}
	engine := orders.NewEngine(orders.Deps{
		Ledger:    memory.NewLedger(),
		Catalog:   catalog,
		Gateway:   gw,
		Purchases: memory.NewUsers(),
	}, orders.Settings{GatewayKeyID: "key_1", GatewaySecret: secret})

	r := NewRouter(RouterOptions{})
	h := &OrdersHandler{Engine: engine}
	h.Register(r)
	return &api{router: r, gw: gw, h: h}
}

func (a *api) do(t *testing.T, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if user != "" {
		req.Header.Set(headerUserID, user)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func createBody(qty int) map[string]any {
	return map[string]any{
		"vendor":   "vendor-1",
		"products": []map[string]any{{"product": "p1", "quantity": qty}},
		"shippingAddress": map[string]string{
			"street": "1 Main St", "city": "Pune", "state": "MH", "postalCode": "411001", "country": "IN",
		},
	}
}

func (a *api) createOrder(t *testing.T, user string) orders.CreateResult {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/orders", user, createBody(2))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[orders.CreateResult](t, rec)
}

func TestCreateOrderEndpoint(t *testing.T) {
	a := newAPI(t)

	rec := a.do(t, http.MethodPost, "/orders", "", createBody(1))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	res := a.createOrder(t, "u1")
	assert.NotEmpty(t, res.OrderID)
	assert.Equal(t, "gw_"+res.OrderID, res.GatewayOrderID)
	assert.Equal(t, "key_1", res.GatewayKey)
	assert.True(t, decimal.NewFromInt(1000).Equal(res.Amount))

	rec = a.do(t, http.MethodPost, "/orders", "u1", createBody(50))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = a.do(t, http.MethodPost, "/orders", "u1", createBody(0))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewBufferString("{"))
	req.Header.Set(headerUserID, "u1")
	rec = httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVerifyPaymentEndpoint(t *testing.T) {
	a := newAPI(t)
	res := a.createOrder(t, "u1")

	rec := a.do(t, http.MethodPost, "/orders/verify-payment", "u1", map[string]string{
		"orderId": res.OrderID, "gatewayOrderId": res.GatewayOrderID, "gatewayPaymentId": "pay_1",
		"signature": orders.Sign(secret, res.GatewayOrderID, "pay_1"),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	v := decodeBody[struct {
		Order   orders.Order   `json:"order"`
		Payment orders.Payment `json:"payment"`
	}](t, rec)
	assert.Equal(t, orders.StatusProcessing, v.Order.Status)
	assert.Equal(t, orders.PaymentCaptured, v.Payment.Status)
	assert.Equal(t, orders.MethodWallet, v.Payment.Method)
	assert.NotContains(t, rec.Body.String(), "signature\":\"")
}

func TestVerifyPaymentBadSignature(t *testing.T) {
	a := newAPI(t)
	res := a.createOrder(t, "u1")

	rec := a.do(t, http.MethodPost, "/orders/verify-payment", "u1", map[string]string{
		"orderId": res.OrderID, "gatewayOrderId": res.GatewayOrderID, "gatewayPaymentId": "pay_1", "signature": "forged",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody[errorBody](t, rec)
	assert.Equal(t, "Payment verification failed", body.Message)
	assert.NotEmpty(t, body.Detail)

	rec = a.do(t, http.MethodGet, "/orders/"+res.OrderID+"/tracking", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	tr := decodeBody[orders.Tracking](t, rec)
	assert.Equal(t, orders.StatusCancelled, tr.Status)
	assert.Equal(t, orders.PaymentFailed, tr.PaymentStatus)
}

func TestStatusTrackingAndRefundEndpoints(t *testing.T) {
	a := newAPI(t)
	res := a.createOrder(t, "u1")
	a.do(t, http.MethodPost, "/orders/verify-payment", "u1", map[string]string{
		"orderId": res.OrderID, "gatewayOrderId": res.GatewayOrderID, "gatewayPaymentId": "pay_1",
		"signature": orders.Sign(secret, res.GatewayOrderID, "pay_1"),
	})

	rec := a.do(t, http.MethodPut, "/orders/status", "vendor-1", map[string]any{
		"orderId": res.OrderID, "status": "shipped", "trackingNumber": "T1", "latitude": 18.52, "longitude": 73.85,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	o := decodeBody[orders.Order](t, rec)
	assert.Equal(t, "T1", o.TrackingNumber)
	require.Len(t, o.TrackingHistory, 3)
	require.NotNil(t, o.TrackingHistory[2].Location)
	assert.Equal(t, "1 Main St", o.TrackingHistory[2].Location.Address)

	rec = a.do(t, http.MethodPut, "/orders/status", "vendor-1", map[string]any{"orderId": res.OrderID, "status": "pending"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = a.do(t, http.MethodGet, "/orders/"+res.OrderID+"/tracking", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	tr := decodeBody[orders.Tracking](t, rec)
	assert.Equal(t, orders.StatusShipped, tr.Status)
	assert.Len(t, tr.TrackingHistory, 3)

	rec = a.do(t, http.MethodGet, "/orders/nope/tracking", "u1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = a.do(t, http.MethodPost, "/orders/refund", "admin", map[string]any{"orderId": res.OrderID, "amount": "1500"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodPost, "/orders/refund", "admin", map[string]any{"orderId": res.OrderID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decodeBody[struct {
		Refund struct {
			ID     string          `json:"id"`
			Amount decimal.Decimal `json:"amount"`
		} `json:"refund"`
	}](t, rec)
	assert.Equal(t, "rfnd_1", out.Refund.ID)
	assert.True(t, decimal.NewFromInt(1000).Equal(out.Refund.Amount))
}

func TestListOrdersEndpoint(t *testing.T) {
	a := newAPI(t)
	a.createOrder(t, "u1")
	a.createOrder(t, "u1")
	a.createOrder(t, "u2")

	rec := a.do(t, http.MethodGet, "/orders", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[[]orders.OrderView](t, rec)
	assert.Len(t, list, 2)
	for _, o := range list {
		assert.Equal(t, "u1", o.UserID)
		assert.Equal(t, orders.PaymentCreated, o.PaymentStatus)
	}

	rec = a.do(t, http.MethodGet, "/orders?status=shipped", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = a.do(t, http.MethodGet, "/orders?amountMin=2000", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = a.do(t, http.MethodGet, "/orders?createdAtStart=yesterday", "u1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodGet, "/orders", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestParseListFilterDates(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/orders?createdAtStart=2024-03-01&createdAtEnd=2024-03-31&amountMax=99.5", nil)
	f, err := parseListFilter(req, "u1")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), *f.CreatedFrom)
	assert.Equal(t, time.Date(2024, 3, 31, 23, 59, 59, 999999999, time.UTC), *f.CreatedTo)
	assert.Equal(t, "99.5", f.AmountMax.String())

	req = httptest.NewRequest(http.MethodGet, "/orders?createdAtEnd=2024-03-31T12:00:00%2B05:30", nil)
	f, err = parseListFilter(req, "u1")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 31, 6, 30, 0, 0, time.UTC), *f.CreatedTo)
}

func TestGatewayErrorsMapToUpstreamStatus(t *testing.T) {
	a := newAPI(t)
	a.gw.intentErr = &orders.GatewayError{Op: "create_intent", StatusCode: 503, Retryable: true, Err: errors.New("unavailable")}
	a.h.Production = true

	rec := a.do(t, http.MethodPost, "/orders", "u1", createBody(1))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "5", rec.Header().Get("Retry-After"))
	body := decodeBody[errorBody](t, rec)
	assert.Equal(t, "Payment gateway unavailable", body.Message)
	assert.Empty(t, body.Detail, "details stay hidden in production")

	a.gw.intentErr = &orders.GatewayError{Op: "create_intent", StatusCode: 401, Err: errors.New("auth")}
	rec = a.do(t, http.MethodPost, "/orders", "u1", createBody(1))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestRateLimit(t *testing.T) {
	r := NewRouter(RouterOptions{RateRPS: 1, RateBurst: 1})
	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusNoContent, http.StatusTooManyRequests, http.StatusTooManyRequests}, codes)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.RemoteAddr = "10.0.0.9:5555"
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code, "limits are per client address")
}
