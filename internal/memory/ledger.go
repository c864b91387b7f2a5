package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
)

// Ledger keeps orders and payments in process. Reads return deep copies so
// callers can mutate them freely before SaveOrderPayment.
type Ledger struct {
	mu             sync.RWMutex
	orders         map[string]*orders.Order
	payments       map[string]*orders.Payment
	byGatewayOrder map[string]string
}

func NewLedger() *Ledger {
	return &Ledger{
		orders:         make(map[string]*orders.Order),
		payments:       make(map[string]*orders.Payment),
		byGatewayOrder: make(map[string]string),
	}
}

func (l *Ledger) CreateOrder(_ context.Context, o *orders.Order, p *orders.Payment) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.orders[o.ID]; ok {
		return fmt.Errorf("order %s already exists", o.ID)
	}
	if _, ok := l.byGatewayOrder[p.GatewayOrderID]; ok {
		return fmt.Errorf("gateway order %s already linked", p.GatewayOrderID)
	}
	o.Version, p.Version = 1, 1
	l.orders[o.ID] = cloneOrder(o)
	l.payments[p.ID] = clonePayment(p)
	l.byGatewayOrder[p.GatewayOrderID] = p.ID
	return nil
}

func (l *Ledger) GetOrder(_ context.Context, id string) (*orders.Order, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	o, ok := l.orders[id]
	if !ok {
		return nil, orders.ErrNotFound
	}
	return cloneOrder(o), nil
}

func (l *Ledger) GetPayment(_ context.Context, id string) (*orders.Payment, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.payments[id]
	if !ok {
		return nil, orders.ErrNotFound
	}
	return clonePayment(p), nil
}

func (l *Ledger) GetPaymentByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*orders.Payment, error) {
	l.mu.RLock()
	id, ok := l.byGatewayOrder[gatewayOrderID]
	l.mu.RUnlock()
	if !ok {
		return nil, orders.ErrNotFound
	}
	return l.GetPayment(ctx, id)
}

func (l *Ledger) SaveOrderPayment(_ context.Context, o *orders.Order, p *orders.Payment) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	cur, ok := l.orders[o.ID]
	if !ok {
		return orders.ErrNotFound
	}
	if cur.Version != o.Version {
		return fmt.Errorf("%w: order %s", orders.ErrConcurrentUpdate, o.ID)
	}
	if p != nil {
		curP, ok := l.payments[p.ID]
		if !ok {
			return orders.ErrNotFound
		}
		if curP.Version != p.Version {
			return fmt.Errorf("%w: payment %s", orders.ErrConcurrentUpdate, p.ID)
		}
		p.Version++
		l.payments[p.ID] = clonePayment(p)
	}
	o.Version++
	l.orders[o.ID] = cloneOrder(o)
	return nil
}

func (l *Ledger) ListOrders(_ context.Context, f orders.ListFilter) ([]orders.OrderView, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]orders.OrderView, 0)
	for _, o := range l.orders {
		if !f.Match(o) {
			continue
		}
		v := orders.OrderView{Order: *cloneOrder(o)}
		if p, ok := l.payments[o.PaymentID]; ok {
			v.PaymentStatus = p.Status
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func cloneOrder(o *orders.Order) *orders.Order {
	c := *o
	c.Items = append([]orders.LineItem(nil), o.Items...)
	c.TrackingHistory = make([]orders.TrackingEntry, len(o.TrackingHistory))
	for i, e := range o.TrackingHistory {
		if e.Location != nil {
			loc := *e.Location
			e.Location = &loc
		}
		c.TrackingHistory[i] = e
	}
	if o.ActualDelivery != nil {
		t := *o.ActualDelivery
		c.ActualDelivery = &t
	}
	return &c
}

func clonePayment(p *orders.Payment) *orders.Payment {
	c := *p
	if p.LastAttemptAt != nil {
		t := *p.LastAttemptAt
		c.LastAttemptAt = &t
	}
	return &c
}
