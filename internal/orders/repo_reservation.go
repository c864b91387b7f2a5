package orders

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ReservationRepo is the Postgres Catalog.
type ReservationRepo struct{ DB *pgxpool.Pool }

// Reserve locks every product row (in id order, so concurrent checkouts cannot
// deadlock), checks stock for the whole order, then decrements and records a
// reservation per product. Nothing is committed unless every item fits.
func (r *ReservationRepo) Reserve(ctx context.Context, orderID string, items []ItemQty) ([]LineItem, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ProductID)
	}
	rows, err := tx.Query(ctx, `SELECT id, stock, price FROM products WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return nil, err
	}
	type stocked struct {
		stock int
		price decimal.Decimal
	}
	byID := make(map[string]stocked, len(ids))
	for rows.Next() {
		var id string
		var s stocked
		if err := rows.Scan(&id, &s.stock, &s.price); err != nil {
			rows.Close()
			return nil, err
		}
		byID[id] = s
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	need := make(map[string]int, len(items))
	for _, it := range items {
		s, ok := byID[it.ProductID]
		if !ok {
			return nil, fmt.Errorf("product %s: %w", it.ProductID, ErrNotFound)
		}
		need[it.ProductID] += it.Qty
		if s.stock < need[it.ProductID] {
			return nil, fmt.Errorf("%w: product %s has %d, requested %d", ErrInsufficientStock, it.ProductID, s.stock, need[it.ProductID])
		}
	}

	out := make([]LineItem, 0, len(items))
	for _, it := range items {
		ct, err := tx.Exec(ctx, `UPDATE products SET stock = stock - $2, updated_at = now() WHERE id=$1 AND stock >= $2`, it.ProductID, it.Qty)
		if err != nil {
			return nil, err
		}
		if ct.RowsAffected() != 1 {
			return nil, fmt.Errorf("%w: product %s", ErrInsufficientStock, it.ProductID)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO reservations(order_id, product_id, qty, status)
			VALUES ($1,$2,$3,'RESERVED')
			ON CONFLICT (order_id, product_id) DO UPDATE SET qty = reservations.qty + EXCLUDED.qty`,
			orderID, it.ProductID, it.Qty,
		); err != nil {
			return nil, err
		}
		out = append(out, LineItem{ProductID: it.ProductID, Quantity: it.Qty, UnitPrice: byID[it.ProductID].price})
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

// Release gives back every RESERVED quantity of the order.
func (r *ReservationRepo) Release(ctx context.Context, orderID string) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `SELECT product_id, qty FROM reservations WHERE order_id=$1 AND status='RESERVED' ORDER BY product_id FOR UPDATE`, orderID)
	if err != nil {
		return err
	}
	var recs []ItemQty
	for rows.Next() {
		var x ItemQty
		if err := rows.Scan(&x.ProductID, &x.Qty); err != nil {
			rows.Close()
			return err
		}
		recs = append(recs, x)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, x := range recs {
		if _, err := tx.Exec(ctx, `UPDATE products SET stock = stock + $2, updated_at = now() WHERE id=$1`, x.ProductID, x.Qty); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(ctx, `UPDATE reservations SET status='RELEASED' WHERE order_id=$1 AND status='RESERVED'`, orderID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
