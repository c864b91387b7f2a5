package notify

import (
	"context"

	"github.com/ariefcatur/go-marketplace-orders/internal/kafka"
	"github.com/ariefcatur/go-marketplace-orders/internal/redisx"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventHandler adapts the Dispatcher to the Kafka consumer, skipping events
// that were already delivered.
type EventHandler struct {
	Dispatcher *Dispatcher
	Redis      *redis.Client
	Service    string
	Log        *zap.Logger
}

func (h *EventHandler) HandleMessage(ctx context.Context, m kafkago.Message) error {
	env, err := kafka.UnmarshalEnvelope(m.Value)
	if err != nil {
		// undecodable messages would block the partition forever
		h.Log.Error("event_decode_failed", zap.String("topic", m.Topic), zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}

	if h.Redis != nil {
		first, err := redisx.MarkOnce(ctx, h.Redis, h.Service, env.EventID)
		if err != nil {
			h.Log.Warn("dedup_unavailable", zap.String("event_id", env.EventID), zap.Error(err))
		} else if !first {
			return nil
		}
	}

	if err := h.Dispatcher.Handle(ctx, env); err != nil {
		if h.Redis != nil {
			_ = redisx.Forget(ctx, h.Redis, h.Service, env.EventID)
		}
		return err
	}
	return nil
}
