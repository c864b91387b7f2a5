package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repo is the Postgres Ledger. Order and payment rows carry a version column;
// updates only apply when the version read is still current.
type Repo struct{ DB *pgxpool.Pool }

const orderColumns = `o.id, o.user_id, o.vendor_id, o.total_amount, o.status, o.payment_id,
	COALESCE(o.tracking_number, ''), o.tracking_history, o.shipping_address,
	o.estimated_delivery, o.actual_delivery, o.version, o.created_at, o.updated_at`

const paymentColumns = `id, order_id, amount, currency, gateway_order_id,
	COALESCE(gateway_payment_id, ''), COALESCE(gateway_signature, ''), status, COALESCE(method, ''),
	attempts, last_attempt_at, COALESCE(refund_id, ''), refund_amount, version, created_at, updated_at`

func (r *Repo) CreateOrder(ctx context.Context, o *Order, p *Payment) error {
	history, err := json.Marshal(o.TrackingHistory)
	if err != nil {
		return err
	}
	addr, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return err
	}

	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		INSERT INTO orders(id, user_id, vendor_id, total_amount, status, payment_id, tracking_history,
		                   shipping_address, estimated_delivery, version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,1,$10,$11)`,
		o.ID, o.UserID, o.VendorID, o.TotalAmount, string(o.Status), o.PaymentID, history,
		addr, o.EstimatedDelivery, o.CreatedAt, o.UpdatedAt,
	); err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	for i, it := range o.Items {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_items(order_id, position, product_id, qty, unit_price)
			VALUES ($1,$2,$3,$4,$5)`,
			o.ID, i, it.ProductID, it.Quantity, it.UnitPrice,
		); err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO payments(id, order_id, amount, currency, gateway_order_id, status, attempts, version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,0,1,$7,$8)`,
		p.ID, p.OrderID, p.Amount, p.Currency, p.GatewayOrderID, string(p.Status), p.CreatedAt, p.UpdatedAt,
	); err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	o.Version, p.Version = 1, 1
	return nil
}

func (r *Repo) GetOrder(ctx context.Context, id string) (*Order, error) {
	row := r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders o WHERE o.id=$1`, id)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	items, err := r.loadItems(ctx, []string{o.ID})
	if err != nil {
		return nil, err
	}
	o.Items = items[o.ID]
	return o, nil
}

func (r *Repo) GetPayment(ctx context.Context, id string) (*Payment, error) {
	return r.getPayment(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id=$1`, id)
}

func (r *Repo) GetPaymentByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*Payment, error) {
	return r.getPayment(ctx, `SELECT `+paymentColumns+` FROM payments WHERE gateway_order_id=$1`, gatewayOrderID)
}

func (r *Repo) getPayment(ctx context.Context, q, arg string) (*Payment, error) {
	var p Payment
	var status, method string
	err := r.DB.QueryRow(ctx, q, arg).Scan(
		&p.ID, &p.OrderID, &p.Amount, &p.Currency, &p.GatewayOrderID,
		&p.GatewayPaymentID, &p.GatewaySignature, &status, &method,
		&p.Attempts, &p.LastAttemptAt, &p.RefundID, &p.RefundAmount, &p.Version, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.Status = PaymentStatus(status)
	p.Method = PaymentMethod(method)
	return &p, nil
}

func (r *Repo) SaveOrderPayment(ctx context.Context, o *Order, p *Payment) error {
	history, err := json.Marshal(o.TrackingHistory)
	if err != nil {
		return err
	}

	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `
		UPDATE orders SET status=$2, tracking_number=NULLIF($3,''), tracking_history=$4,
		       estimated_delivery=$5, actual_delivery=$6, updated_at=$7, version=version+1
		WHERE id=$1 AND version=$8`,
		o.ID, string(o.Status), o.TrackingNumber, history, o.EstimatedDelivery, o.ActualDelivery, o.UpdatedAt, o.Version,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("%w: order %s", ErrConcurrentUpdate, o.ID)
	}

	if p != nil {
		ct, err = tx.Exec(ctx, `
			UPDATE payments SET gateway_payment_id=NULLIF($2,''), gateway_signature=NULLIF($3,''), status=$4,
			       method=NULLIF($5,''), attempts=$6, last_attempt_at=$7, refund_id=NULLIF($8,''),
			       refund_amount=$9, updated_at=$10, version=version+1
			WHERE id=$1 AND version=$11`,
			p.ID, p.GatewayPaymentID, p.GatewaySignature, string(p.Status), string(p.Method), p.Attempts,
			p.LastAttemptAt, p.RefundID, p.RefundAmount, p.UpdatedAt, p.Version,
		)
		if err != nil {
			return fmt.Errorf("update payment: %w", err)
		}
		if ct.RowsAffected() != 1 {
			return fmt.Errorf("%w: payment %s", ErrConcurrentUpdate, p.ID)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	o.Version++
	if p != nil {
		p.Version++
	}
	return nil
}

func (r *Repo) ListOrders(ctx context.Context, f ListFilter) ([]OrderView, error) {
	where := []string{"o.user_id = $1"}
	args := []any{f.UserID}
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Status != "" {
		add("o.status = $%d", string(f.Status))
	}
	if f.CreatedFrom != nil {
		add("o.created_at >= $%d", *f.CreatedFrom)
	}
	if f.CreatedTo != nil {
		add("o.created_at <= $%d", *f.CreatedTo)
	}
	if f.AmountMin != nil {
		add("o.total_amount >= $%d", *f.AmountMin)
	}
	if f.AmountMax != nil {
		add("o.total_amount <= $%d", *f.AmountMax)
	}

	rows, err := r.DB.Query(ctx, `
		SELECT `+orderColumns+`, COALESCE(p.status, '')
		FROM orders o LEFT JOIN payments p ON p.id = o.payment_id
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY o.created_at DESC, o.id DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]OrderView, 0)
	ids := make([]string, 0)
	for rows.Next() {
		var ps string
		o, err := scanOrder(rows, &ps)
		if err != nil {
			return nil, err
		}
		out = append(out, OrderView{Order: *o, PaymentStatus: PaymentStatus(ps)})
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return out, nil
	}

	items, err := r.loadItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Items = items[out[i].ID]
	}
	return out, nil
}

func (r *Repo) loadItems(ctx context.Context, orderIDs []string) (map[string][]LineItem, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT order_id, product_id, qty, unit_price FROM order_items
		WHERE order_id = ANY($1) ORDER BY order_id, position`, orderIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]LineItem, len(orderIDs))
	for rows.Next() {
		var orderID string
		var it LineItem
		if err := rows.Scan(&orderID, &it.ProductID, &it.Quantity, &it.UnitPrice); err != nil {
			return nil, err
		}
		out[orderID] = append(out[orderID], it)
	}
	return out, rows.Err()
}

func scanOrder(row pgx.Row, extra ...any) (*Order, error) {
	var o Order
	var status string
	var history, addr []byte
	var actual *time.Time
	dest := []any{
		&o.ID, &o.UserID, &o.VendorID, &o.TotalAmount, &status, &o.PaymentID,
		&o.TrackingNumber, &history, &addr,
		&o.EstimatedDelivery, &actual, &o.Version, &o.CreatedAt, &o.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	o.Status = Status(status)
	o.ActualDelivery = actual
	if err := json.Unmarshal(history, &o.TrackingHistory); err != nil {
		return nil, fmt.Errorf("decode tracking history: %w", err)
	}
	if err := json.Unmarshal(addr, &o.ShippingAddress); err != nil {
		return nil, fmt.Errorf("decode shipping address: %w", err)
	}
	return &o, nil
}
