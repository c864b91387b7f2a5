package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ariefcatur/go-marketplace-orders/internal/logging"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/ariefcatur/go-marketplace-orders/internal/redisx"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	headerReplayed       = "Idempotent-Replayed"

	// gateway calls inside may retry
	mutationTimeout = 30 * time.Second
	requestTimeout  = 5 * time.Second
)

// IdempotencyStore backs the Idempotency-Key header on order creation.
type IdempotencyStore interface {
	Claim(ctx context.Context, caller, key string) ([]byte, error)
	Complete(ctx context.Context, caller, key string, resp []byte) error
	Release(ctx context.Context, caller, key string) error
}

type OrdersHandler struct {
	Engine      *orders.Engine
	Idempotency IdempotencyStore
	Production  bool
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.createOrder)
		r.Get("/", h.listOrders)
		r.Post("/verify-payment", h.verifyPayment)
		r.Put("/status", h.updateStatus)
		r.Post("/refund", h.refund)
		r.Get("/{orderId}/tracking", h.tracking)
	})
}

type orderProduct struct {
	Product   string `json:"product"`
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type createOrderReq struct {
	Products        []orderProduct         `json:"products"`
	Vendor          string                 `json:"vendor"`
	ShippingAddress orders.ShippingAddress `json:"shippingAddress"`
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req createOrderReq
	if !h.decode(w, r, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), mutationTimeout)
	defer cancel()

	idemKey := strings.TrimSpace(r.Header.Get(headerIdempotencyKey))
	if h.Idempotency == nil {
		idemKey = ""
	}
	if idemKey != "" {
		cached, err := h.Idempotency.Claim(ctx, caller, idemKey)
		switch {
		case errors.Is(err, redisx.ErrIdempotencyInFlight):
			h.writeError(w, r, err)
			return
		case err != nil:
			// redis trouble should not block checkout
			logging.FromContext(ctx).Warn("idempotency_claim_failed", zap.Error(err))
			idemKey = ""
		case cached != nil:
			w.Header().Set(headerReplayed, "true")
			writeJSON(w, http.StatusCreated, json.RawMessage(cached))
			return
		}
	}

	items := make([]orders.ItemQty, 0, len(req.Products))
	for _, p := range req.Products {
		id := p.ProductID
		if id == "" {
			id = p.Product
		}
		items = append(items, orders.ItemQty{ProductID: id, Qty: p.Quantity})
	}
	res, err := h.Engine.Create(ctx, orders.CreateInput{
		UserID:          caller,
		VendorID:        req.Vendor,
		Items:           items,
		ShippingAddress: req.ShippingAddress,
	})
	if err != nil {
		if idemKey != "" {
			if rerr := h.Idempotency.Release(context.WithoutCancel(ctx), caller, idemKey); rerr != nil {
				logging.FromContext(ctx).Warn("idempotency_release_failed", zap.Error(rerr))
			}
		}
		h.writeError(w, r, err)
		return
	}

	if idemKey != "" {
		if b, err := json.Marshal(res); err == nil {
			if err := h.Idempotency.Complete(context.WithoutCancel(ctx), caller, idemKey, b); err != nil {
				logging.FromContext(ctx).Warn("idempotency_store_failed", zap.Error(err))
			}
		}
	}
	writeJSON(w, http.StatusCreated, res)
}

type verifyPaymentReq struct {
	OrderID          string `json:"orderId"`
	GatewayPaymentID string `json:"gatewayPaymentId"`
	GatewayOrderID   string `json:"gatewayOrderId"`
	Signature        string `json:"signature"`
}

func (h *OrdersHandler) verifyPayment(w http.ResponseWriter, r *http.Request) {
	var req verifyPaymentReq
	if !h.decode(w, r, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), mutationTimeout)
	defer cancel()

	res, err := h.Engine.VerifyPayment(ctx, orders.VerifyInput{
		OrderID:          req.OrderID,
		GatewayPaymentID: req.GatewayPaymentID,
		GatewayOrderID:   req.GatewayOrderID,
		Signature:        req.Signature,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type updateStatusReq struct {
	OrderID           string     `json:"orderId"`
	Status            string     `json:"status"`
	TrackingNumber    string     `json:"trackingNumber"`
	Latitude          *float64   `json:"latitude"`
	Longitude         *float64   `json:"longitude"`
	Address           string     `json:"address"`
	Notes             string     `json:"notes"`
	EstimatedDelivery *time.Time `json:"estimatedDelivery"`
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusReq
	if !h.decode(w, r, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	o, err := h.Engine.UpdateStatus(ctx, orders.StatusUpdate{
		OrderID:           req.OrderID,
		Status:            orders.Status(req.Status),
		TrackingNumber:    req.TrackingNumber,
		Latitude:          req.Latitude,
		Longitude:         req.Longitude,
		Address:           req.Address,
		Notes:             req.Notes,
		EstimatedDelivery: req.EstimatedDelivery,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) tracking(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	t, err := h.Engine.Tracking(ctx, chi.URLParam(r, "orderId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	f, err := parseListFilter(r, caller)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	list, err := h.Engine.List(ctx, f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []orders.OrderView{}
	}
	writeJSON(w, http.StatusOK, list)
}

type refundReq struct {
	OrderID string           `json:"orderId"`
	Amount  *decimal.Decimal `json:"amount"`
}

func (h *OrdersHandler) refund(w http.ResponseWriter, r *http.Request) {
	var req refundReq
	if !h.decode(w, r, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), mutationTimeout)
	defer cancel()

	res, err := h.Engine.Refund(ctx, orders.RefundInput{OrderID: req.OrderID, Amount: req.Amount})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"refund": res})
}

// caller is the authenticated user id set by the auth layer in front of us.
func (h *OrdersHandler) caller(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(r.Header.Get(headerUserID))
	if id == "" {
		writeJSON(w, http.StatusUnauthorized, errorBody{Message: "Not authorized"})
		return "", false
	}
	return id, true
}

func (h *OrdersHandler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeError(w, r, fmt.Errorf("%w: invalid json: %v", orders.ErrInvalidInput, err))
		return false
	}
	return true
}

func parseListFilter(r *http.Request, caller string) (orders.ListFilter, error) {
	q := r.URL.Query()
	f := orders.ListFilter{UserID: caller, Status: orders.Status(q.Get("status"))}

	if v := q.Get("createdAtStart"); v != "" {
		t, _, err := parseDate(v)
		if err != nil {
			return f, fmt.Errorf("%w: createdAtStart: %v", orders.ErrInvalidInput, err)
		}
		f.CreatedFrom = &t
	}
	if v := q.Get("createdAtEnd"); v != "" {
		t, dateOnly, err := parseDate(v)
		if err != nil {
			return f, fmt.Errorf("%w: createdAtEnd: %v", orders.ErrInvalidInput, err)
		}
		if dateOnly {
			// a bare date covers the whole day
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		f.CreatedTo = &t
	}
	for _, p := range []struct {
		name string
		dst  **decimal.Decimal
	}{{"amountMin", &f.AmountMin}, {"amountMax", &f.AmountMax}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		d, err := decimal.NewFromString(v)
		if err != nil {
			return f, fmt.Errorf("%w: %s: %v", orders.ErrInvalidInput, p.name, err)
		}
		*p.dst = &d
	}
	return f, nil
}

func parseDate(v string) (time.Time, bool, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), false, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	return t, true, err
}
