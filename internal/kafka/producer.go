package kafka

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ariefcatur/go-marketplace-orders/internal/metrics"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

var (
	ErrBufferFull     = errors.New("event buffer full")
	ErrProducerClosed = errors.New("event producer closed")
)

// Producer publishes order events. Publish only enqueues; a single loop
// drains the inbox into the writer so the request path never waits on Kafka.
type Producer struct {
	w       *kafka.Writer
	inbox   chan kafka.Message
	closeCh chan struct{}
	log     *zap.Logger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	closed bool
}

func NewProducer(brokers []string, buf int, log *zap.Logger, m *metrics.Metrics) *Producer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 50 * time.Millisecond,
		},
		inbox:   make(chan kafka.Message, buf),
		closeCh: make(chan struct{}),
		log:     log.With(zap.String("component", "kafka_producer")),
		metrics: m,
	}
}

func (p *Producer) Start(ctx context.Context) {
	go func() {
		defer close(p.closeCh)
		for m := range p.inbox {
			p.write(ctx, m)
		}
		if err := p.w.Close(); err != nil {
			p.log.Warn("kafka_writer_close_failed", zap.Error(err))
		}
	}()
}

func (p *Producer) write(ctx context.Context, m kafka.Message) {
	// keep flushing after ctx is cancelled so shutdown drains the inbox
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := p.w.WriteMessages(wctx, m); err != nil {
		p.metrics.EventPublished(m.Topic, "error")
		p.log.Error("event_write_failed", zap.String("topic", m.Topic), zap.ByteString("key", m.Key), zap.Error(err))
		return
	}
	p.metrics.EventPublished(m.Topic, "ok")
}

// Publish implements orders.Publisher.
func (p *Producer) Publish(_ context.Context, env orders.Envelope) error {
	topic, ok := orders.TopicFor(env.EventType)
	if !ok {
		return errors.New("no topic for event " + env.EventType)
	}
	m := kafka.Message{
		Topic: topic,
		Key:   orders.PartitionKey(env.CorrelationID),
		Value: MustMarshal(env),
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "x-event-type", Value: []byte(env.EventType)},
			{Key: "x-event-version", Value: []byte("1")},
		},
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.metrics.EventPublished(topic, "dropped")
		return ErrProducerClosed
	}
	select {
	case p.inbox <- m:
		return nil
	default:
		p.metrics.EventPublished(topic, "dropped")
		return ErrBufferFull
	}
}

// Close stops accepting events; the loop flushes what is queued and exits.
func (p *Producer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.inbox)
	}
}

// WaitClosed blocks until the queued events were written.
func (p *Producer) WaitClosed() { <-p.closeCh }
