package orders

const (
	TopicOrderCreated    = "order.created"
	TopicPaymentCaptured = "order.payment.captured"
	TopicPaymentFailed   = "order.payment.failed"
	TopicOrderStatus     = "order.status.updated"
	TopicOrderRefunded   = "order.refunded"
)

// AllTopics is what the notifier subscribes to.
var AllTopics = []string{
	TopicOrderCreated,
	TopicPaymentCaptured,
	TopicPaymentFailed,
	TopicOrderStatus,
	TopicOrderRefunded,
}

var topicByEvent = map[string]string{
	EventOrderCreated:    TopicOrderCreated,
	EventPaymentCaptured: TopicPaymentCaptured,
	EventPaymentFailed:   TopicPaymentFailed,
	EventOrderStatus:     TopicOrderStatus,
	EventOrderRefunded:   TopicOrderRefunded,
}

func TopicFor(eventType string) (string, bool) {
	t, ok := topicByEvent[eventType]
	return t, ok
}

// Partition key = order_id so every event of one order keeps its order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
