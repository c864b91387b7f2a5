package notify

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"time"

	"github.com/ariefcatur/go-marketplace-orders/internal/metrics"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"go.uber.org/zap"
)

var (
	ErrQueueFull   = errors.New("notification queue full")
	ErrQueueClosed = errors.New("notification queue closed")
)

// Queue is the in-process event pipeline used when no Kafka brokers are
// configured. It implements orders.Publisher and feeds the Dispatcher from a
// background worker.
type Queue struct {
	ch        chan orders.Envelope
	handler   func(context.Context, orders.Envelope) error
	log       *zap.Logger
	metrics   *metrics.Metrics
	done      chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewQueue(buf int, handler func(context.Context, orders.Envelope) error, log *zap.Logger, m *metrics.Metrics) *Queue {
	if log == nil {
		log = zap.NewNop()
	}
	return &Queue{
		ch:      make(chan orders.Envelope, buf),
		handler: handler,
		log:     log.With(zap.String("component", "notify_queue")),
		metrics: m,
		done:    make(chan struct{}),
	}
}

func (q *Queue) Start(ctx context.Context) {
	go func() {
		defer close(q.done)
		for env := range q.ch {
			q.dispatch(ctx, env)
		}
	}()
}

func (q *Queue) dispatch(ctx context.Context, env orders.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("event_handler_panic",
				zap.String("event", env.EventType), zap.Any("panic", r), zap.String("stack", string(debug.Stack())))
		}
	}()
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := q.handler(hctx, env); err != nil {
		q.log.Warn("event_handler_error", zap.String("event", env.EventType), zap.String("order_id", env.CorrelationID), zap.Error(err))
	}
}

func (q *Queue) Publish(_ context.Context, env orders.Envelope) error {
	topic, _ := orders.TopicFor(env.EventType)
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.metrics.EventPublished(topic, "dropped")
		return ErrQueueClosed
	}
	select {
	case q.ch <- env:
		q.metrics.EventPublished(topic, "ok")
		return nil
	default:
		q.metrics.EventPublished(topic, "dropped")
		return ErrQueueFull
	}
}

// Close stops intake; queued events are still dispatched. Publish calls
// racing with Close get ErrQueueClosed.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}

func (q *Queue) Wait() { <-q.done }
