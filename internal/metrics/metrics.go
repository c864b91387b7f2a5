package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups every collector the services emit. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	OrdersCreated     prometheus.Counter
	Operations        *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	Verifications     *prometheus.CounterVec
	GatewayRequests   *prometheus.CounterVec
	GatewayDuration   *prometheus.HistogramVec
	HTTPRequests      *prometheus.CounterVec
	HTTPDuration      *prometheus.HistogramVec
	EventsPublished   *prometheus.CounterVec
	Notifications     *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OrdersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orders_created_total",
			Help: "Orders created with a payment intent.",
		}),
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "order_operations_total",
			Help: "Order lifecycle operations by outcome.",
		}, []string{"op", "outcome"}),
		OperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "order_operation_duration_seconds",
			Help:    "Duration of order lifecycle operations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		Verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_verifications_total",
			Help: "Payment signature verifications by outcome.",
		}, []string{"outcome"}),
		GatewayRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Calls to the payment gateway.",
		}, []string{"op", "outcome"}),
		GatewayDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "Latency of payment gateway calls.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests served.",
		}, []string{"route", "method", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "events_published_total",
			Help: "Order events handed to the event pipeline.",
		}, []string{"topic", "outcome"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_pushed_total",
			Help: "Notifications pushed to connected clients.",
		}, []string{"kind"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.OrdersCreated, m.Operations, m.OperationDuration, m.Verifications,
			m.GatewayRequests, m.GatewayDuration, m.HTTPRequests, m.HTTPDuration,
			m.EventsPublished, m.Notifications,
		)
	}
	return m
}

func (m *Metrics) ObserveOperation(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(op, outcome(err)).Inc()
	m.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *Metrics) OrderCreated() {
	if m == nil {
		return
	}
	m.OrdersCreated.Inc()
}

func (m *Metrics) Verification(result string) {
	if m == nil {
		return
	}
	m.Verifications.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveGateway(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.GatewayRequests.WithLabelValues(op, outcome(err)).Inc()
	m.GatewayDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *Metrics) ObserveHTTP(route, method, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, method, status).Inc()
	m.HTTPDuration.WithLabelValues(route, method).Observe(d.Seconds())
}

func (m *Metrics) EventPublished(topic, result string) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(topic, result).Inc()
}

func (m *Metrics) NotificationPushed(kind string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(kind).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
