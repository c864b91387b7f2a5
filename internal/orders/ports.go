package orders

import (
	"context"

	"github.com/shopspring/decimal"
)

// Ledger stores orders and payments. SaveOrderPayment must reject writes whose
// Version no longer matches the stored row with ErrConcurrentUpdate.
type Ledger interface {
	CreateOrder(ctx context.Context, o *Order, p *Payment) error
	GetOrder(ctx context.Context, id string) (*Order, error)
	GetPayment(ctx context.Context, id string) (*Payment, error)
	GetPaymentByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*Payment, error)
	SaveOrderPayment(ctx context.Context, o *Order, p *Payment) error
	ListOrders(ctx context.Context, f ListFilter) ([]OrderView, error)
}

type ItemQty struct {
	ProductID string `json:"productId"`
	Qty       int    `json:"quantity"`
}

// Catalog reserves stock for all items of an order or none of them.
// Reserve returns the items with the unit price read at reservation time.
type Catalog interface {
	Reserve(ctx context.Context, orderID string, items []ItemQty) ([]LineItem, error)
	Release(ctx context.Context, orderID string) error
}

type Purchases interface {
	AppendPurchase(ctx context.Context, userID, orderID string) error
}

type Intent struct {
	GatewayOrderID string
	ClientHandle   string
}

type PaymentDetails struct {
	ID     string
	Method PaymentMethod
	Status string
}

type RefundResult struct {
	RefundID    string
	AmountMinor int64
	Status      string
}

// Gateway is the third-party payment processor.
type Gateway interface {
	CreateIntent(ctx context.Context, amountMinor int64, currency, receipt string) (Intent, error)
	FetchPayment(ctx context.Context, gatewayPaymentID string) (PaymentDetails, error)
	Refund(ctx context.Context, gatewayPaymentID string, amountMinor int64, idempotencyKey string) (RefundResult, error)
}

// Locker serialises mutations of one order.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

var hundred = decimal.NewFromInt(100)

// MinorUnits converts a major-unit amount to the gateway's minor unit.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}
