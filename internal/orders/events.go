package orders

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	EventOrderCreated    = "OrderCreated"
	EventPaymentCaptured = "PaymentCaptured"
	EventPaymentFailed   = "PaymentFailed"
	EventOrderStatus     = "OrderStatusUpdated"
	EventOrderRefunded   = "OrderRefunded"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

// OrderEventPayload is shared by every order event; the subscriber formats
// the user-facing text from the event type and these fields.
type OrderEventPayload struct {
	OrderID  string          `json:"order_id"`
	UserID   string          `json:"user_id"`
	Status   Status          `json:"status"`
	Amount   decimal.Decimal `json:"amount"`
	Location *Location       `json:"location,omitempty"`
	Notes    string          `json:"notes,omitempty"`
}

// Publisher hands events to the notification pipeline. Implementations must
// not block the caller for long; delivery is best-effort.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}

func NewEnvelope(eventType, producer, traceID string, p OrderEventPayload) (Envelope, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		TraceID:       traceID,
		CorrelationID: p.OrderID,
		Payload:       b,
	}, nil
}
