package memory

import (
	"context"
	"testing"
	"time"

	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, l *Ledger, id, user string, at time.Time, amount int64) {
	t.Helper()
	o := &orders.Order{ID: id, UserID: user, Status: orders.StatusPending, PaymentID: "pay-" + id,
		TotalAmount: decimal.NewFromInt(amount), CreatedAt: at}
	p := &orders.Payment{ID: "pay-" + id, OrderID: id, GatewayOrderID: "gw-" + id, Status: orders.PaymentCreated}
	require.NoError(t, l.CreateOrder(context.Background(), o, p))
}

func TestLedgerDetectsStaleWrites(t *testing.T) {
	l := NewLedger()
	ctx := context.Background()
	seed(t, l, "o1", "u1", time.Now(), 100)

	a, err := l.GetOrder(ctx, "o1")
	require.NoError(t, err)
	b, err := l.GetOrder(ctx, "o1")
	require.NoError(t, err)

	a.Status = orders.StatusCancelled
	require.NoError(t, l.SaveOrderPayment(ctx, a, nil))
	b.Status = orders.StatusProcessing
	assert.ErrorIs(t, l.SaveOrderPayment(ctx, b, nil), orders.ErrConcurrentUpdate)

	got, err := l.GetOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCancelled, got.Status)

	// reads are copies
	got.TrackingHistory = append(got.TrackingHistory, orders.TrackingEntry{Status: orders.StatusShipped})
	again, _ := l.GetOrder(ctx, "o1")
	assert.Empty(t, again.TrackingHistory)

	_, err = l.GetPaymentByGatewayOrderID(ctx, "gw-missing")
	assert.ErrorIs(t, err, orders.ErrNotFound)
}

func TestLedgerListFilters(t *testing.T) {
	l := NewLedger()
	day := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	seed(t, l, "o1", "u1", day.Add(-48*time.Hour), 100)
	seed(t, l, "o2", "u1", day.Add(2*time.Hour), 300)
	seed(t, l, "o3", "u1", day.Add(26*time.Hour), 500)
	seed(t, l, "o4", "u2", day, 300)

	ids := func(f orders.ListFilter) []string {
		out, err := l.ListOrders(context.Background(), f)
		require.NoError(t, err)
		s := make([]string, 0, len(out))
		for _, v := range out {
			s = append(s, v.ID)
		}
		return s
	}

	assert.Equal(t, []string{"o3", "o2", "o1"}, ids(orders.ListFilter{UserID: "u1"}))

	from, to := day, day.Add(24*time.Hour-time.Nanosecond)
	assert.Equal(t, []string{"o2"}, ids(orders.ListFilter{UserID: "u1", CreatedFrom: &from, CreatedTo: &to}))

	lo, hi := decimal.NewFromInt(200), decimal.NewFromInt(500)
	assert.Equal(t, []string{"o3", "o2"}, ids(orders.ListFilter{UserID: "u1", AmountMin: &lo, AmountMax: &hi}))
}

func TestCatalogReleaseRestoresStock(t *testing.T) {
	c := NewCatalog()
	ctx := context.Background()
	c.Put(orders.Product{ID: "p1", Stock: 4, Price: decimal.NewFromInt(10)})

	items, err := c.Reserve(ctx, "o1", []orders.ItemQty{{ProductID: "p1", Qty: 3}})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.True(t, decimal.NewFromInt(10).Equal(items[0].UnitPrice))

	_, err = c.Reserve(ctx, "o2", []orders.ItemQty{{ProductID: "p1", Qty: 2}})
	assert.ErrorIs(t, err, orders.ErrInsufficientStock)

	require.NoError(t, c.Release(ctx, "o1"))
	require.NoError(t, c.Release(ctx, "o1"))
	p, err := c.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 4, p.Stock)
}
