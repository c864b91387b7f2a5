package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-marketplace-orders/internal/kafka"
	"github.com/ariefcatur/go-marketplace-orders/internal/metrics"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"go.uber.org/zap"
)

type SettingsStore interface {
	NotificationSettings(ctx context.Context, userID string) (orders.NotificationSettings, error)
}

type Message struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

type DeliveryUpdate struct {
	OrderID  string           `json:"orderId"`
	Status   orders.Status    `json:"status"`
	Location *orders.Location `json:"location,omitempty"`
}

// Pusher delivers to whatever connections a user currently has. Users with
// no open connection simply miss the message.
type Pusher interface {
	Push(userID string, m Message)
	PushDeliveryUpdate(userID string, u DeliveryUpdate)
}

// Dispatcher turns order events into user notifications.
type Dispatcher struct {
	Settings SettingsStore
	Pusher   Pusher
	Metrics  *metrics.Metrics
	Log      *zap.Logger
}

func (d *Dispatcher) Handle(ctx context.Context, env orders.Envelope) error {
	p, err := kafka.UnwrapPayload[orders.OrderEventPayload](env.Payload)
	if err != nil {
		return err
	}
	general, ok := format(env.EventType, p)
	if !ok {
		return nil
	}

	s, err := d.Settings.NotificationSettings(ctx, p.UserID)
	if errors.Is(err, orders.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("notification settings for %s: %w", p.UserID, err)
	}
	if !s.PushNotifications {
		return nil
	}

	d.Pusher.Push(p.UserID, general)
	d.Metrics.NotificationPushed("general")

	if p.Status != "" && p.OrderID != "" {
		d.Pusher.Push(p.UserID, Message{
			Title:   fmt.Sprintf("Order Update: %s", p.Status),
			Message: deliveryMessage(p.Status),
		})
		d.Pusher.PushDeliveryUpdate(p.UserID, DeliveryUpdate{OrderID: p.OrderID, Status: p.Status, Location: p.Location})
		d.Metrics.NotificationPushed("delivery")
	}
	if d.Log != nil {
		d.Log.Debug("notification_pushed",
			zap.String("event", env.EventType), zap.String("order_id", p.OrderID), zap.String("user_id", p.UserID))
	}
	return nil
}

func format(eventType string, p orders.OrderEventPayload) (Message, bool) {
	amount := p.Amount.StringFixed(2)
	switch eventType {
	case orders.EventOrderCreated:
		return Message{"Order Created", fmt.Sprintf("Your order #%s has been created. Amount: %s", p.OrderID, amount)}, true
	case orders.EventPaymentCaptured:
		return Message{"Payment Successful", fmt.Sprintf("Payment for order #%s was successful. Amount: %s", p.OrderID, amount)}, true
	case orders.EventPaymentFailed:
		return Message{"Payment Failed", fmt.Sprintf("Payment for order #%s could not be verified.", p.OrderID)}, true
	case orders.EventOrderStatus:
		return Message{"Order Update", fmt.Sprintf("Order #%s is now %s.", p.OrderID, p.Status)}, true
	case orders.EventOrderRefunded:
		return Message{"Refund Processed", fmt.Sprintf("Refund of %s processed for order #%s", amount, p.OrderID)}, true
	}
	return Message{}, false
}

func deliveryMessage(s orders.Status) string {
	switch s {
	case orders.StatusShipped:
		return "Your order has been shipped!"
	case orders.StatusOutForDelivery:
		return "Your order is out for delivery."
	case orders.StatusDelivered:
		return "Your order has been delivered."
	default:
		return "Your order status has been updated."
	}
}
