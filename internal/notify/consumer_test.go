package notify

import (
	"context"
	"testing"

	"github.com/ariefcatur/go-marketplace-orders/internal/kafka"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestEventHandlerDispatches(t *testing.T) {
	p := &fakePusher{}
	h := &EventHandler{
		Dispatcher: &Dispatcher{Settings: settingsMap{"u1": pushOn("u1")}, Pusher: p},
		Service:    "notifier-test",
		Log:        zap.NewNop(),
	}
	env := envelope(t, orders.EventOrderStatus, orders.OrderEventPayload{OrderID: "o1", UserID: "u1", Status: orders.StatusDelivered})

	require.NoError(t, h.HandleMessage(context.Background(), kafkago.Message{Topic: orders.TopicOrderStatus, Value: kafka.MustMarshal(env)}))
	assert.Len(t, p.all(), 3)

	// poison messages are committed and skipped
	assert.NoError(t, h.HandleMessage(context.Background(), kafkago.Message{Topic: orders.TopicOrderStatus, Value: []byte("{")}))
	assert.Len(t, p.all(), 3)
}

func TestEventHandlerSurfacesSettingsErrors(t *testing.T) {
	h := &EventHandler{
		Dispatcher: &Dispatcher{Settings: brokenSettings{}, Pusher: &fakePusher{}},
		Log:        zap.NewNop(),
	}
	env := envelope(t, orders.EventOrderCreated, orders.OrderEventPayload{OrderID: "o1", UserID: "u1"})
	assert.Error(t, h.HandleMessage(context.Background(), kafkago.Message{Value: kafka.MustMarshal(env)}))
}
