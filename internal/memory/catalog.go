package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/shopspring/decimal"
)

// Catalog holds products and the stock reserved per order. Reserve checks and
// decrements every item under one lock, so a checkout either takes all of its
// stock or none of it.
type Catalog struct {
	mu           sync.Mutex
	products     map[string]*orders.Product
	reservations map[string][]orders.ItemQty
}

func NewCatalog() *Catalog {
	return &Catalog{
		products:     make(map[string]*orders.Product),
		reservations: make(map[string][]orders.ItemQty),
	}
}

func (c *Catalog) Put(p orders.Product) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[p.ID] = &p
}

func (c *Catalog) SetPrice(productID string, price decimal.Decimal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.products[productID]
	if !ok {
		return orders.ErrNotFound
	}
	p.Price = price
	return nil
}

func (c *Catalog) Get(_ context.Context, productID string) (orders.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.products[productID]
	if !ok {
		return orders.Product{}, fmt.Errorf("product %s: %w", productID, orders.ErrNotFound)
	}
	return *p, nil
}

func (c *Catalog) Reserve(_ context.Context, orderID string, items []orders.ItemQty) ([]orders.LineItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	need := make(map[string]int, len(items))
	for _, it := range items {
		p, ok := c.products[it.ProductID]
		if !ok {
			return nil, fmt.Errorf("product %s: %w", it.ProductID, orders.ErrNotFound)
		}
		need[it.ProductID] += it.Qty
		if p.Stock < need[it.ProductID] {
			return nil, fmt.Errorf("%w: product %s has %d, requested %d", orders.ErrInsufficientStock, it.ProductID, p.Stock, need[it.ProductID])
		}
	}

	out := make([]orders.LineItem, 0, len(items))
	for _, it := range items {
		p := c.products[it.ProductID]
		p.Stock -= it.Qty
		out = append(out, orders.LineItem{ProductID: it.ProductID, Quantity: it.Qty, UnitPrice: p.Price})
	}
	c.reservations[orderID] = append(c.reservations[orderID], items...)
	return out, nil
}

func (c *Catalog) Release(_ context.Context, orderID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, it := range c.reservations[orderID] {
		if p, ok := c.products[it.ProductID]; ok {
			p.Stock += it.Qty
		}
	}
	delete(c.reservations, orderID)
	return nil
}
