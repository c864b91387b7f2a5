package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID        string
	Name      string
	Stock     int
	Price     decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}

type ShippingAddress struct {
	Street     string `json:"street"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address,omitempty"`
}

type TrackingEntry struct {
	Status    Status    `json:"status"`
	Location  *Location `json:"location,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Notes     string    `json:"notes,omitempty"`
}

// LineItem keeps the unit price read from the catalog when stock was reserved.
type LineItem struct {
	ProductID string          `json:"productId"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

type Order struct {
	ID                string          `json:"id"`
	UserID            string          `json:"userId"`
	VendorID          string          `json:"vendorId"`
	Items             []LineItem      `json:"products"`
	TotalAmount       decimal.Decimal `json:"totalAmount"`
	Status            Status          `json:"status"`
	PaymentID         string          `json:"paymentId,omitempty"`
	TrackingNumber    string          `json:"trackingNumber,omitempty"`
	TrackingHistory   []TrackingEntry `json:"trackingHistory"`
	ShippingAddress   ShippingAddress `json:"shippingAddress"`
	EstimatedDelivery time.Time       `json:"estimatedDelivery"`
	ActualDelivery    *time.Time      `json:"actualDelivery,omitempty"`
	Version           int             `json:"-"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

func (o *Order) appendTracking(e TrackingEntry) {
	o.TrackingHistory = append(o.TrackingHistory, e)
}

type Payment struct {
	ID               string          `json:"id"`
	OrderID          string          `json:"orderId"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	GatewayOrderID   string          `json:"gatewayOrderId"`
	GatewayPaymentID string          `json:"gatewayPaymentId,omitempty"`
	GatewaySignature string          `json:"-"`
	Status           PaymentStatus   `json:"status"`
	Method           PaymentMethod   `json:"paymentMethod,omitempty"`
	Attempts         int             `json:"attempts"`
	LastAttemptAt    *time.Time      `json:"lastAttemptAt,omitempty"`
	RefundID         string          `json:"refundId,omitempty"`
	RefundAmount     decimal.Decimal `json:"refundAmount"`
	Version          int             `json:"-"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// Tracking is the read-only projection served by the tracking endpoint.
type Tracking struct {
	OrderID           string          `json:"orderId"`
	Status            Status          `json:"status"`
	TrackingNumber    string          `json:"trackingNumber,omitempty"`
	TrackingHistory   []TrackingEntry `json:"trackingHistory"`
	PaymentStatus     PaymentStatus   `json:"paymentStatus,omitempty"`
	EstimatedDelivery time.Time       `json:"estimatedDelivery"`
	ActualDelivery    *time.Time      `json:"actualDelivery,omitempty"`
	ShippingAddress   ShippingAddress `json:"shippingAddress"`
}

// OrderView is an order joined with its payment status, as returned by listings.
type OrderView struct {
	Order
	PaymentStatus PaymentStatus `json:"paymentStatus,omitempty"`
}

type ListFilter struct {
	UserID      string
	Status      Status
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	AmountMin   *decimal.Decimal
	AmountMax   *decimal.Decimal
}

// Match is used by stores that filter in process.
func (f ListFilter) Match(o *Order) bool {
	if f.UserID != "" && o.UserID != f.UserID {
		return false
	}
	if f.Status != "" && o.Status != f.Status {
		return false
	}
	if f.CreatedFrom != nil && o.CreatedAt.Before(*f.CreatedFrom) {
		return false
	}
	if f.CreatedTo != nil && o.CreatedAt.After(*f.CreatedTo) {
		return false
	}
	if f.AmountMin != nil && o.TotalAmount.LessThan(*f.AmountMin) {
		return false
	}
	if f.AmountMax != nil && o.TotalAmount.GreaterThan(*f.AmountMax) {
		return false
	}
	return true
}

type NotificationSettings struct {
	UserID                string
	EmailNotifications    bool
	SMSNotifications      bool
	PushNotifications     bool
	OrderNotifications    bool
	PasswordNotifications bool
}

// DefaultNotificationSettings mirrors the defaults applied when a user first saves settings.
func DefaultNotificationSettings(userID string) NotificationSettings {
	return NotificationSettings{
		UserID:                userID,
		EmailNotifications:    true,
		OrderNotifications:    true,
		PasswordNotifications: true,
	}
}
