package notify

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueDeliversInOrder(t *testing.T) {
	var (
		mu  sync.Mutex
		got []string
	)
	q := NewQueue(8, func(_ context.Context, env orders.Envelope) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, env.CorrelationID)
		if env.CorrelationID == "o2" {
			panic("boom")
		}
		return errors.New("ignored")
	}, nil, nil)
	q.Start(context.Background())

	for _, id := range []string{"o1", "o2", "o3"} {
		env, err := orders.NewEnvelope(orders.EventOrderStatus, "test", "", orders.OrderEventPayload{OrderID: id})
		require.NoError(t, err)
		require.NoError(t, q.Publish(context.Background(), env))
	}
	q.Close()
	q.Wait()

	// a failing or panicking handler does not stop the queue
	assert.Equal(t, []string{"o1", "o2", "o3"}, got)
}

func TestQueueFull(t *testing.T) {
	block := make(chan struct{})
	q := NewQueue(1, func(context.Context, orders.Envelope) error {
		<-block
		return nil
	}, nil, nil)

	env, err := orders.NewEnvelope(orders.EventOrderCreated, "test", "", orders.OrderEventPayload{OrderID: "o1"})
	require.NoError(t, err)
	require.NoError(t, q.Publish(context.Background(), env))
	assert.ErrorIs(t, q.Publish(context.Background(), env), ErrQueueFull)

	q.Start(context.Background())
	close(block)
	q.Close()
	q.Wait()
}

func TestQueuePublishAfterClose(t *testing.T) {
	q := NewQueue(4, func(context.Context, orders.Envelope) error { return nil }, nil, nil)
	q.Start(context.Background())
	q.Close()
	q.Close()

	env, err := orders.NewEnvelope(orders.EventOrderStatus, "test", "", orders.OrderEventPayload{OrderID: "o1"})
	require.NoError(t, err)
	assert.NotPanics(t, func() {
		assert.ErrorIs(t, q.Publish(context.Background(), env), ErrQueueClosed)
	})
	q.Wait()
}

func TestQueueCloseRacesPublishers(t *testing.T) {
	q := NewQueue(64, func(context.Context, orders.Envelope) error { return nil }, nil, nil)
	q.Start(context.Background())
	env, err := orders.NewEnvelope(orders.EventOrderStatus, "test", "", orders.OrderEventPayload{OrderID: "o1"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				err := q.Publish(context.Background(), env)
				if err != nil && !errors.Is(err, ErrQueueClosed) && !errors.Is(err, ErrQueueFull) {
					assert.NoError(t, err)
				}
			}
		}()
	}
	q.Close()
	wg.Wait()
	q.Wait()
}
