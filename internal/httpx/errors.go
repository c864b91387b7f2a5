package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ariefcatur/go-marketplace-orders/internal/logging"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/ariefcatur/go-marketplace-orders/internal/redisx"
	"go.uber.org/zap"
)

type errorBody struct {
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps domain errors onto HTTP codes and client-facing messages.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, orders.ErrInvalidInput):
		return http.StatusBadRequest, "Invalid request"
	case errors.Is(err, orders.ErrVerificationFailed):
		return http.StatusBadRequest, "Payment verification failed"
	case errors.Is(err, orders.ErrNotFound):
		return http.StatusNotFound, "Resource not found"
	case errors.Is(err, orders.ErrInsufficientStock):
		return http.StatusConflict, "Insufficient stock"
	case errors.Is(err, orders.ErrInvalidTransition):
		return http.StatusConflict, "Invalid status transition"
	case errors.Is(err, orders.ErrPaymentState):
		return http.StatusConflict, "Payment state does not allow this operation"
	case errors.Is(err, orders.ErrConcurrentUpdate), errors.Is(err, redisx.ErrLockTimeout):
		return http.StatusConflict, "Order is being updated, please retry"
	case errors.Is(err, redisx.ErrIdempotencyInFlight):
		return http.StatusConflict, "A request with this Idempotency-Key is still in progress"
	case orders.IsRetryable(err):
		return http.StatusServiceUnavailable, "Payment gateway unavailable"
	case errors.Is(err, orders.ErrGateway):
		return http.StatusBadGateway, "Payment gateway error"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

func (h *OrdersHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code, msg := statusFor(err)
	log := logging.FromContext(r.Context())
	if code >= http.StatusInternalServerError {
		log.Error("request_failed", zap.Int("status", code), zap.Error(err))
	} else {
		log.Info("request_rejected", zap.Int("status", code), zap.Error(err))
	}
	if code == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "5")
	}
	body := errorBody{Message: msg}
	if !h.Production {
		body.Detail = err.Error()
	}
	writeJSON(w, code, body)
}
